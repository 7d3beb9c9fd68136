package lobby

import (
	"errors"
	"net/netip"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/Faervan/yggdrasil-sub000/internal/slotmap"
)

var (
	ErrHostHasGame   = errors.New("lobby: client already hosts a game")
	ErrAlreadyInGame = errors.New("lobby: client already in a game")
	ErrGameNotFound  = errors.New("lobby: game not found")
	ErrWrongPassword = errors.New("lobby: wrong game password")
	ErrGameFull      = errors.New("lobby: game is full")
	ErrNotInGame     = errors.New("lobby: client not in a game")
	ErrNotHost       = errors.New("lobby: client does not host a game")
)

// AddResult reports how ClientRegistry.Add resolved a handshake.
type AddResult int

const (
	Added AddResult = iota
	Reconnected
	AlreadyConnected
)

type clientRecord struct {
	name      string
	addr      netip.Addr
	inGame    bool
	active    bool
	idleSince time.Time
}

// ClientRegistry tracks known clients by id and by peer address. Inactive
// records stay until the grace window closes.
type ClientRegistry struct {
	slots  *slotmap.Map[clientRecord]
	byAddr map[netip.Addr]uint16
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		slots:  slotmap.New[clientRecord](),
		byAddr: make(map[netip.Addr]uint16),
	}
}

// Add registers a handshake from addr. An idle record for addr is resumed
// with its id; an active one rejects the attempt.
func (r *ClientRegistry) Add(name string, addr netip.Addr) (uint16, AddResult, error) {
	if id, ok := r.byAddr[addr]; ok {
		rec := r.slots.Ptr(id)
		if rec.active {
			return id, AlreadyConnected, nil
		}
		rec.active = true
		rec.idleSince = time.Time{}
		rec.name = name
		return id, Reconnected, nil
	}
	id, err := r.slots.Insert(clientRecord{name: name, addr: addr, active: true})
	if err != nil {
		return 0, Added, err
	}
	r.byAddr[addr] = id
	return id, Added, nil
}

// Remove frees the id held by addr.
func (r *ClientRegistry) Remove(addr netip.Addr) (uint16, bool) {
	id, ok := r.byAddr[addr]
	if !ok {
		return 0, false
	}
	delete(r.byAddr, addr)
	r.slots.Remove(id)
	return id, true
}

// Inactivate marks the active client at addr idle as of now.
func (r *ClientRegistry) Inactivate(addr netip.Addr, now time.Time) (uint16, bool) {
	id, ok := r.byAddr[addr]
	if !ok {
		return 0, false
	}
	rec := r.slots.Ptr(id)
	if !rec.active {
		return 0, false
	}
	rec.active = false
	rec.idleSince = now
	return id, true
}

func (r *ClientRegistry) Lookup(addr netip.Addr) (uint16, bool) {
	id, ok := r.byAddr[addr]
	return id, ok
}

// ActiveID resolves addr only when its session is live.
func (r *ClientRegistry) ActiveID(addr netip.Addr) (uint16, bool) {
	id, ok := r.byAddr[addr]
	if !ok {
		return 0, false
	}
	rec, _ := r.slots.Get(id)
	return id, rec.active
}

func (r *ClientRegistry) IsActive(id uint16) bool {
	rec, ok := r.slots.Get(id)
	return ok && rec.active
}

func (r *ClientRegistry) Addr(id uint16) (netip.Addr, bool) {
	rec, ok := r.slots.Get(id)
	return rec.addr, ok
}

func (r *ClientRegistry) SetInGame(id uint16, v bool) {
	if rec := r.slots.Ptr(id); rec != nil {
		rec.inGame = v
	}
}

func (r *ClientRegistry) Client(id uint16, now time.Time) (message.Client, bool) {
	rec, ok := r.slots.Get(id)
	if !ok {
		return message.Client{}, false
	}
	return project(id, rec, now), true
}

// Clients projects every known record with its computed status.
func (r *ClientRegistry) Clients(now time.Time) []message.Client {
	out := make([]message.Client, 0, r.slots.Len())
	r.slots.Each(func(id uint16, rec *clientRecord) {
		out = append(out, project(id, *rec, now))
	})
	return out
}

// Counts returns active and idle totals.
func (r *ClientRegistry) Counts() (active, idle int) {
	r.slots.Each(func(_ uint16, rec *clientRecord) {
		if rec.active {
			active++
		} else {
			idle++
		}
	})
	return active, idle
}

func project(id uint16, rec clientRecord, now time.Time) message.Client {
	status := message.Active()
	if !rec.active {
		status = message.IdleFor(now.Sub(rec.idleSince))
	}
	return message.Client{ID: id, Name: rec.name, InGame: rec.inGame, Status: status}
}

type gameRecord struct {
	hostID     uint16
	password   *string
	name       string
	maxPlayers uint8
	members    []uint16
}

// GameRegistry tracks hosted games. The host is always the first member.
type GameRegistry struct {
	slots    *slotmap.Map[gameRecord]
	byHost   map[uint16]uint16
	byMember map[uint16]uint16
}

func NewGameRegistry() *GameRegistry {
	return &GameRegistry{
		slots:    slotmap.New[gameRecord](),
		byHost:   make(map[uint16]uint16),
		byMember: make(map[uint16]uint16),
	}
}

func (r *GameRegistry) Add(hostID uint16, name string, maxPlayers uint8, password *string) (uint16, error) {
	if _, ok := r.byHost[hostID]; ok {
		return 0, ErrHostHasGame
	}
	if _, ok := r.byMember[hostID]; ok {
		return 0, ErrAlreadyInGame
	}
	var pw *string
	if password != nil {
		v := *password
		pw = &v
	}
	id, err := r.slots.Insert(gameRecord{
		hostID:     hostID,
		password:   pw,
		name:       name,
		maxPlayers: maxPlayers,
		members:    []uint16{hostID},
	})
	if err != nil {
		return 0, err
	}
	r.byHost[hostID] = id
	r.byMember[hostID] = id
	return id, nil
}

// Remove deletes the game hosted by hostID.
func (r *GameRegistry) Remove(hostID uint16) (message.Game, bool) {
	id, ok := r.byHost[hostID]
	if !ok {
		return message.Game{}, false
	}
	return r.RemoveByID(id)
}

func (r *GameRegistry) RemoveByID(gameID uint16) (message.Game, bool) {
	rec, ok := r.slots.Remove(gameID)
	if !ok {
		return message.Game{}, false
	}
	delete(r.byHost, rec.hostID)
	for _, m := range rec.members {
		delete(r.byMember, m)
	}
	return view(gameID, rec), true
}

func (r *GameRegistry) Enter(gameID, clientID uint16, password *string) error {
	if _, ok := r.byMember[clientID]; ok {
		return ErrAlreadyInGame
	}
	rec := r.slots.Ptr(gameID)
	if rec == nil {
		return ErrGameNotFound
	}
	if rec.password != nil && (password == nil || *password != *rec.password) {
		return ErrWrongPassword
	}
	if rec.maxPlayers > 0 && len(rec.members) >= int(rec.maxPlayers) {
		return ErrGameFull
	}
	rec.members = append(rec.members, clientID)
	r.byMember[clientID] = gameID
	return nil
}

// Exit removes a non-host member. Hosts leave by deleting their game.
func (r *GameRegistry) Exit(clientID uint16) (uint16, error) {
	gameID, ok := r.byMember[clientID]
	if !ok {
		return 0, ErrNotInGame
	}
	rec := r.slots.Ptr(gameID)
	if rec.hostID == clientID {
		return gameID, ErrHostHasGame
	}
	for i, m := range rec.members {
		if m == clientID {
			rec.members = append(rec.members[:i], rec.members[i+1:]...)
			break
		}
	}
	delete(r.byMember, clientID)
	return gameID, nil
}

func (r *GameRegistry) GameOf(clientID uint16) (uint16, bool) {
	id, ok := r.byMember[clientID]
	return id, ok
}

func (r *GameRegistry) HostedBy(clientID uint16) (uint16, bool) {
	id, ok := r.byHost[clientID]
	return id, ok
}

func (r *GameRegistry) Game(gameID uint16) (message.Game, bool) {
	rec, ok := r.slots.Get(gameID)
	if !ok {
		return message.Game{}, false
	}
	return view(gameID, rec), true
}

func (r *GameRegistry) Members(gameID uint16) []uint16 {
	rec, ok := r.slots.Get(gameID)
	if !ok {
		return nil
	}
	return append([]uint16(nil), rec.members...)
}

func (r *GameRegistry) Games() []message.Game {
	out := make([]message.Game, 0, r.slots.Len())
	r.slots.Each(func(id uint16, rec *gameRecord) {
		out = append(out, view(id, *rec))
	})
	return out
}

func (r *GameRegistry) Len() int {
	return r.slots.Len()
}

func view(id uint16, rec gameRecord) message.Game {
	return message.Game{
		ID:          id,
		HostID:      rec.hostID,
		HasPassword: rec.password != nil,
		Name:        rec.name,
		MaxPlayers:  rec.maxPlayers,
		Members:     append([]uint16(nil), rec.members...),
	}
}
