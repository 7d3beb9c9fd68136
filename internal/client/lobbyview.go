package client

import (
	"slices"
	"sync"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
)

// lobbyView is the client's copy of the lobby, seeded by Accept and kept
// current from updates.
type lobbyView struct {
	mu    sync.RWMutex
	lobby message.Lobby
}

func (v *lobbyView) snapshot() message.Lobby {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := message.Lobby{
		Clients: slices.Clone(v.lobby.Clients),
		Games:   make([]message.Game, len(v.lobby.Games)),
	}
	for i, g := range v.lobby.Games {
		g.Members = slices.Clone(g.Members)
		out.Games[i] = g
	}
	return out
}

// hostedBy returns the id of the game hosted by clientID.
func (v *lobbyView) hostedBy(clientID uint16) (uint16, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, g := range v.lobby.Games {
		if g.HostID == clientID {
			return g.ID, true
		}
	}
	return 0, false
}

func (v *lobbyView) apply(u message.Update) {
	v.mu.Lock()
	defer v.mu.Unlock()
	l := &v.lobby
	switch u := u.(type) {
	case message.ClientConnected:
		l.Clients = slices.DeleteFunc(l.Clients, func(c message.Client) bool { return c.ID == u.Client.ID })
		l.Clients = append(l.Clients, u.Client)
	case message.ClientDisconnected:
		l.Clients = slices.DeleteFunc(l.Clients, func(c message.Client) bool { return c.ID == u.ClientID })
	case message.ClientInterrupted:
		v.setStatus(u.ClientID, message.IdleFor(0))
	case message.ClientReconnected:
		v.setStatus(u.ClientID, message.Active())
	case message.GameCreated:
		l.Games = slices.DeleteFunc(l.Games, func(g message.Game) bool { return g.ID == u.Game.ID })
		l.Games = append(l.Games, u.Game)
		for _, id := range u.Game.Members {
			v.setInGame(id, true)
		}
	case message.GameDeleted:
		i := slices.IndexFunc(l.Games, func(g message.Game) bool { return g.ID == u.GameID })
		if i < 0 {
			return
		}
		for _, id := range l.Games[i].Members {
			v.setInGame(id, false)
		}
		l.Games = slices.Delete(l.Games, i, i+1)
	case message.GameEntered:
		if g := v.game(u.GameID); g != nil && !slices.Contains(g.Members, u.ClientID) {
			g.Members = append(g.Members, u.ClientID)
		}
		v.setInGame(u.ClientID, true)
	case message.GameExited:
		if g := v.game(u.GameID); g != nil {
			g.Members = slices.DeleteFunc(g.Members, func(id uint16) bool { return id == u.ClientID })
		}
		v.setInGame(u.ClientID, false)
	}
}

func (v *lobbyView) game(id uint16) *message.Game {
	for i := range v.lobby.Games {
		if v.lobby.Games[i].ID == id {
			return &v.lobby.Games[i]
		}
	}
	return nil
}

func (v *lobbyView) setStatus(id uint16, status message.ClientStatus) {
	for i := range v.lobby.Clients {
		if v.lobby.Clients[i].ID == id {
			v.lobby.Clients[i].Status = status
		}
	}
}

func (v *lobbyView) setInGame(id uint16, inGame bool) {
	for i := range v.lobby.Clients {
		if v.lobby.Clients[i].ID == id {
			v.lobby.Clients[i].InGame = inGame
		}
	}
}
