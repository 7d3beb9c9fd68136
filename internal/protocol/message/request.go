package message

import (
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/wire"
)

// Request is a TCP message written by a client after the handshake.
type Request interface {
	wire.Encoder
	request()
}

const (
	tagCreateGame uint8 = iota
	tagDeleteGame
	tagEnterGame
	tagExitGame
	tagShareWorld
	tagSendChat
	tagHeartbeat
	tagDisconnect
	requestVariants
)

type CreateGame struct {
	Name       string
	MaxPlayers uint8
	Password   *string
}

type DeleteGame struct{}

type EnterGame struct {
	GameID   uint16
	Password *string
}

type ExitGame struct{}

// ShareWorld carries a host's world snapshot as opaque text.
type ShareWorld struct {
	Scene string
}

type SendChat struct {
	Content  string
	GameOnly bool
}

type Heartbeat struct{}

type Disconnect struct{}

func (CreateGame) request() {}
func (DeleteGame) request() {}
func (EnterGame) request()  {}
func (ExitGame) request()   {}
func (ShareWorld) request() {}
func (SendChat) request()   {}
func (Heartbeat) request()  {}
func (Disconnect) request() {}

func (m CreateGame) EncodeTo(w *wire.Writer) {
	w.U8(tagCreateGame)
	w.String(m.Name, wire.Len8)
	w.U8(m.MaxPlayers)
	wire.Optional(w, m.Password, putText8)
}

func (DeleteGame) EncodeTo(w *wire.Writer) {
	w.U8(tagDeleteGame)
}

func (m EnterGame) EncodeTo(w *wire.Writer) {
	w.U8(tagEnterGame)
	w.U16(m.GameID)
	wire.Optional(w, m.Password, putText8)
}

func (ExitGame) EncodeTo(w *wire.Writer) {
	w.U8(tagExitGame)
}

func (m ShareWorld) EncodeTo(w *wire.Writer) {
	w.U8(tagShareWorld)
	w.String(m.Scene, wire.Len16)
}

func (m SendChat) EncodeTo(w *wire.Writer) {
	w.U8(tagSendChat)
	w.String(m.Content, wire.Len16)
	w.Bool(m.GameOnly)
}

func (Heartbeat) EncodeTo(w *wire.Writer) {
	w.U8(tagHeartbeat)
}

func (Disconnect) EncodeTo(w *wire.Writer) {
	w.U8(tagDisconnect)
}

func DecodeRequest(r *wire.Reader) Request {
	switch r.Variant(requestVariants) {
	case tagCreateGame:
		return CreateGame{
			Name:       r.String(wire.Len8),
			MaxPlayers: r.U8(),
			Password:   wire.ReadOptional(r, getText8),
		}
	case tagDeleteGame:
		return DeleteGame{}
	case tagEnterGame:
		return EnterGame{
			GameID:   r.U16(),
			Password: wire.ReadOptional(r, getText8),
		}
	case tagExitGame:
		return ExitGame{}
	case tagShareWorld:
		return ShareWorld{Scene: r.String(wire.Len16)}
	case tagSendChat:
		return SendChat{Content: r.String(wire.Len16), GameOnly: r.Bool()}
	case tagHeartbeat:
		return Heartbeat{}
	case tagDisconnect:
		return Disconnect{}
	default:
		return nil
	}
}

// RequestName labels a request for logs and metrics.
func RequestName(m Request) string {
	switch m.(type) {
	case CreateGame:
		return "create_game"
	case DeleteGame:
		return "delete_game"
	case EnterGame:
		return "enter_game"
	case ExitGame:
		return "exit_game"
	case ShareWorld:
		return "share_world"
	case SendChat:
		return "send_chat"
	case Heartbeat:
		return "heartbeat"
	case Disconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}
