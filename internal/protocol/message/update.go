package message

import (
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/wire"
)

// Update is a TCP message written by the server to a connected client.
type Update interface {
	wire.Encoder
	update()
}

const (
	tagClientConnected uint8 = iota
	tagClientDisconnected
	tagClientInterrupted
	tagClientReconnected
	tagChatPosted
	tagGameCreated
	tagGameDeleted
	tagGameEntered
	tagGameExited
	tagWorldShared
	tagNotice
	tagRejected
	updateVariants
)

type ClientConnected struct {
	Client Client
}

type ClientDisconnected struct {
	ClientID uint16
}

type ClientInterrupted struct {
	ClientID uint16
}

type ClientReconnected struct {
	ClientID uint16
}

type ChatPosted struct {
	Sender   uint16
	Content  string
	GameOnly bool
}

type GameCreated struct {
	Game Game
}

type GameDeleted struct {
	GameID uint16
}

type GameEntered struct {
	ClientID uint16
	GameID   uint16
}

type GameExited struct {
	ClientID uint16
	GameID   uint16
}

type WorldShared struct {
	HostID uint16
	Scene  string
}

// Notice is free text pushed by an operator.
type Notice struct {
	Text string
}

// Rejected is sent only to the client whose request was refused.
type Rejected struct {
	Reason string
}

func (ClientConnected) update()    {}
func (ClientDisconnected) update() {}
func (ClientInterrupted) update()  {}
func (ClientReconnected) update()  {}
func (ChatPosted) update()         {}
func (GameCreated) update()        {}
func (GameDeleted) update()        {}
func (GameEntered) update()        {}
func (GameExited) update()         {}
func (WorldShared) update()        {}
func (Notice) update()             {}
func (Rejected) update()           {}

func (m ClientConnected) EncodeTo(w *wire.Writer) {
	w.U8(tagClientConnected)
	m.Client.EncodeTo(w)
}

func (m ClientDisconnected) EncodeTo(w *wire.Writer) {
	w.U8(tagClientDisconnected)
	w.U16(m.ClientID)
}

func (m ClientInterrupted) EncodeTo(w *wire.Writer) {
	w.U8(tagClientInterrupted)
	w.U16(m.ClientID)
}

func (m ClientReconnected) EncodeTo(w *wire.Writer) {
	w.U8(tagClientReconnected)
	w.U16(m.ClientID)
}

func (m ChatPosted) EncodeTo(w *wire.Writer) {
	w.U8(tagChatPosted)
	w.U16(m.Sender)
	w.String(m.Content, wire.Len16)
	w.Bool(m.GameOnly)
}

func (m GameCreated) EncodeTo(w *wire.Writer) {
	w.U8(tagGameCreated)
	m.Game.EncodeTo(w)
}

func (m GameDeleted) EncodeTo(w *wire.Writer) {
	w.U8(tagGameDeleted)
	w.U16(m.GameID)
}

func (m GameEntered) EncodeTo(w *wire.Writer) {
	w.U8(tagGameEntered)
	w.U16(m.ClientID)
	w.U16(m.GameID)
}

func (m GameExited) EncodeTo(w *wire.Writer) {
	w.U8(tagGameExited)
	w.U16(m.ClientID)
	w.U16(m.GameID)
}

func (m WorldShared) EncodeTo(w *wire.Writer) {
	w.U8(tagWorldShared)
	w.U16(m.HostID)
	w.String(m.Scene, wire.Len16)
}

func (m Notice) EncodeTo(w *wire.Writer) {
	w.U8(tagNotice)
	w.String(m.Text, wire.Len16)
}

func (m Rejected) EncodeTo(w *wire.Writer) {
	w.U8(tagRejected)
	w.String(m.Reason, wire.Len8)
}

func DecodeUpdate(r *wire.Reader) Update {
	switch r.Variant(updateVariants) {
	case tagClientConnected:
		return ClientConnected{Client: DecodeClient(r)}
	case tagClientDisconnected:
		return ClientDisconnected{ClientID: r.U16()}
	case tagClientInterrupted:
		return ClientInterrupted{ClientID: r.U16()}
	case tagClientReconnected:
		return ClientReconnected{ClientID: r.U16()}
	case tagChatPosted:
		return ChatPosted{Sender: r.U16(), Content: r.String(wire.Len16), GameOnly: r.Bool()}
	case tagGameCreated:
		return GameCreated{Game: DecodeGame(r)}
	case tagGameDeleted:
		return GameDeleted{GameID: r.U16()}
	case tagGameEntered:
		return GameEntered{ClientID: r.U16(), GameID: r.U16()}
	case tagGameExited:
		return GameExited{ClientID: r.U16(), GameID: r.U16()}
	case tagWorldShared:
		return WorldShared{HostID: r.U16(), Scene: r.String(wire.Len16)}
	case tagNotice:
		return Notice{Text: r.String(wire.Len16)}
	case tagRejected:
		return Rejected{Reason: r.String(wire.Len8)}
	default:
		return nil
	}
}
