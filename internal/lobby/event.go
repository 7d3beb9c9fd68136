package lobby

import (
	"net/netip"
	"slices"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/google/uuid"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventReconnected
	EventDenied
	EventDisconnected
	EventInterrupted
	EventChat
	EventGameCreated
	EventGameDeleted
	EventGameEntered
	EventGameExited
	EventWorldShared
	EventNotice
	EventRejected
)

var eventNames = [...]string{
	"connected",
	"reconnected",
	"denied",
	"disconnected",
	"interrupted",
	"chat",
	"game_created",
	"game_deleted",
	"game_entered",
	"game_exited",
	"world_shared",
	"notice",
	"rejected",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is one committed lobby change, fanned out to every subscriber.
type Event struct {
	Kind     EventKind
	Origin   netip.Addr
	Token    uuid.UUID
	ClientID uint16
	GameID   uint16
	// Reason explains EventDenied.
	Reason string
	// Update is forwarded to clients; nil for events only connection
	// handlers act on.
	Update message.Update
	// Recipients limits delivery to these client ids; nil means everyone.
	Recipients []uint16
	// SkipOrigin withholds the update from the client that caused it.
	SkipOrigin bool
}

// DeliverTo reports whether a connection owning id should forward Update.
func (e Event) DeliverTo(id uint16) bool {
	if e.Update == nil {
		return false
	}
	if e.SkipOrigin && e.ClientID == id {
		return false
	}
	if e.Recipients == nil {
		return true
	}
	return slices.Contains(e.Recipients, id)
}

// Snapshot is a read-only copy of the lobby published after each change.
type Snapshot struct {
	Lobby   message.Lobby
	TakenAt time.Time
}

// Without returns the lobby minus the client with id.
func (s Snapshot) Without(id uint16) message.Lobby {
	out := message.Lobby{Games: s.Lobby.Games}
	for _, c := range s.Lobby.Clients {
		if c.ID != id {
			out.Clients = append(out.Clients, c)
		}
	}
	return out
}
