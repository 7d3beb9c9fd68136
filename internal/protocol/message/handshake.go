package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/wire"
)

// MaxNameLen bounds display names so they fit a one-byte length prefix.
const MaxNameLen = 32

var ErrInvalidHandshake = errors.New("message: invalid handshake")

// HandshakeRequest is the first frame a client writes.
type HandshakeRequest struct {
	Name string
}

func (h HandshakeRequest) Validate() error {
	name := strings.TrimSpace(h.Name)
	if name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidHandshake)
	}
	if len(h.Name) > MaxNameLen {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidHandshake, MaxNameLen)
	}
	return nil
}

func (h HandshakeRequest) EncodeTo(w *wire.Writer) {
	w.String(h.Name, wire.Len8)
}

func DecodeHandshakeRequest(r *wire.Reader) HandshakeRequest {
	return HandshakeRequest{Name: r.String(wire.Len8)}
}

// HandshakeResponse is Accept or Deny.
type HandshakeResponse interface {
	wire.Encoder
	handshakeResponse()
}

type Accept struct {
	ClientID uint16
	Lobby    Lobby
}

type Deny struct {
	Reason string
}

func (Accept) handshakeResponse() {}
func (Deny) handshakeResponse()   {}

func (a Accept) EncodeTo(w *wire.Writer) {
	w.U8(0)
	w.U16(a.ClientID)
	a.Lobby.EncodeTo(w)
}

func (d Deny) EncodeTo(w *wire.Writer) {
	w.U8(1)
	w.String(d.Reason, wire.Len8)
}

func DecodeHandshakeResponse(r *wire.Reader) HandshakeResponse {
	switch r.Variant(2) {
	case 0:
		return Accept{ClientID: r.U16(), Lobby: DecodeLobby(r)}
	default:
		return Deny{Reason: r.String(wire.Len8)}
	}
}
