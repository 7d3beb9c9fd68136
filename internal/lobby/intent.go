package lobby

import (
	"net/netip"

	"github.com/google/uuid"
)

// Intent is a request to mutate lobby state. Intents are applied one at a
// time by the Manager goroutine in arrival order.
type Intent interface {
	kind() string
}

// Connected is a handshake. The verdict event is broadcast like any other
// and, when Reply is set, also sent there once the snapshot includes it.
// Reply must have room for one value. Token correlates the broadcast copy
// with the connection that asked.
type Connected struct {
	Addr  netip.Addr
	Name  string
	Token uuid.UUID
	Reply chan<- Event
}

// Disconnected removes a client for good. Expired marks a grace-window
// timeout, which is ignored if the client came back in the meantime.
type Disconnected struct {
	Addr    netip.Addr
	Expired bool
}

// ConnectionInterrupt marks a client idle and starts its grace window.
type ConnectionInterrupt struct {
	Addr netip.Addr
}

type Chat struct {
	Addr     netip.Addr
	Content  string
	GameOnly bool
}

type GameCreation struct {
	Addr       netip.Addr
	Name       string
	MaxPlayers uint8
	Password   *string
}

type GameDeletion struct {
	Addr netip.Addr
}

type GameEntry struct {
	Addr     netip.Addr
	GameID   uint16
	Password *string
}

type GameExit struct {
	Addr netip.Addr
}

type GameWorld struct {
	Addr  netip.Addr
	Scene string
}

// CommandOp selects an operator action.
type CommandOp int

const (
	KickClient CommandOp = iota
	CloseGame
	PostNotice
)

// Command is an operator action. Reply, when set, receives the outcome and
// must have room for one value.
type Command struct {
	Op       CommandOp
	ClientID uint16
	GameID   uint16
	Text     string
	Reply    chan<- error
}

type subscribe struct {
	reply chan *Subscription
}

type unsubscribe struct {
	id uint64
}

func (Connected) kind() string           { return "connected" }
func (Disconnected) kind() string        { return "disconnected" }
func (ConnectionInterrupt) kind() string { return "interrupt" }
func (Chat) kind() string                { return "chat" }
func (GameCreation) kind() string        { return "game_creation" }
func (GameDeletion) kind() string        { return "game_deletion" }
func (GameEntry) kind() string           { return "game_entry" }
func (GameExit) kind() string            { return "game_exit" }
func (GameWorld) kind() string           { return "game_world" }
func (Command) kind() string             { return "command" }
func (subscribe) kind() string           { return "subscribe" }
func (unsubscribe) kind() string         { return "unsubscribe" }
