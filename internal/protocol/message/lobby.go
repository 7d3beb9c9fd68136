package message

import (
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/wire"
)

// ClientStatus is Active, or Idle since Seconds when the connection dropped
// and the grace window is still open.
type ClientStatus struct {
	Idle    bool   `json:"idle"`
	Seconds uint64 `json:"idle_seconds,omitempty"`
}

func Active() ClientStatus {
	return ClientStatus{}
}

func IdleFor(d time.Duration) ClientStatus {
	if d < 0 {
		d = 0
	}
	return ClientStatus{Idle: true, Seconds: uint64(d / time.Second)}
}

func (s ClientStatus) EncodeTo(w *wire.Writer) {
	if !s.Idle {
		w.U8(0)
		return
	}
	w.U8(1)
	w.U64(s.Seconds)
}

func decodeClientStatus(r *wire.Reader) ClientStatus {
	if r.Variant(2) == 0 {
		return ClientStatus{}
	}
	return ClientStatus{Idle: true, Seconds: r.U64()}
}

type Client struct {
	ID     uint16       `json:"id"`
	Name   string       `json:"name"`
	InGame bool         `json:"in_game"`
	Status ClientStatus `json:"status"`
}

func (c Client) EncodeTo(w *wire.Writer) {
	w.U16(c.ID)
	w.String(c.Name, wire.Len8)
	w.Bool(c.InGame)
	c.Status.EncodeTo(w)
}

func DecodeClient(r *wire.Reader) Client {
	return Client{
		ID:     r.U16(),
		Name:   r.String(wire.Len8),
		InGame: r.Bool(),
		Status: decodeClientStatus(r),
	}
}

// Game is the lobby view of a match. The password itself never leaves the server.
type Game struct {
	ID          uint16   `json:"id"`
	HostID      uint16   `json:"host_id"`
	HasPassword bool     `json:"has_password"`
	Name        string   `json:"name"`
	MaxPlayers  uint8    `json:"max_players"`
	Members     []uint16 `json:"members"`
}

func (g Game) EncodeTo(w *wire.Writer) {
	w.U16(g.ID)
	w.U16(g.HostID)
	w.Bool(g.HasPassword)
	w.String(g.Name, wire.Len8)
	w.U8(g.MaxPlayers)
	wire.List(w, g.Members, wire.Len8, putU16)
}

func DecodeGame(r *wire.Reader) Game {
	return Game{
		ID:          r.U16(),
		HostID:      r.U16(),
		HasPassword: r.Bool(),
		Name:        r.String(wire.Len8),
		MaxPlayers:  r.U8(),
		Members:     wire.ReadList(r, wire.Len8, getU16),
	}
}

// Lobby is the snapshot handed to a client when its handshake is accepted.
type Lobby struct {
	Clients []Client `json:"clients"`
	Games   []Game   `json:"games"`
}

func (l Lobby) EncodeTo(w *wire.Writer) {
	wire.List(w, l.Clients, wire.Len16, func(w *wire.Writer, c Client) { c.EncodeTo(w) })
	wire.List(w, l.Games, wire.Len16, func(w *wire.Writer, g Game) { g.EncodeTo(w) })
}

func DecodeLobby(r *wire.Reader) Lobby {
	return Lobby{
		Clients: wire.ReadList(r, wire.Len16, DecodeClient),
		Games:   wire.ReadList(r, wire.Len16, DecodeGame),
	}
}

func putU16(w *wire.Writer, v uint16) {
	w.U16(v)
}

func getU16(r *wire.Reader) uint16 {
	return r.U16()
}

func putText8(w *wire.Writer, s string) {
	w.String(s, wire.Len8)
}

func getText8(r *wire.Reader) string {
	return r.String(wire.Len8)
}
