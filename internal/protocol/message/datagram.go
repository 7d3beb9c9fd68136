package message

import (
	"errors"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/wire"
)

var ErrNilAction = errors.New("message: nil action")

const (
	// DatagramHeaderLen is the reserved prefix on every datagram. It is
	// written as zeros and ignored on receipt.
	DatagramHeaderLen = 4

	// ServerSender marks datagrams that originate at the server itself.
	ServerSender uint16 = 0xFFFF

	// MaxDatagramLen sizes receive buffers on both ends.
	MaxDatagramLen = 1200
)

// Action is a low-rate gameplay update carried over UDP.
type Action interface {
	wire.Encoder
	action()
}

const (
	tagMove uint8 = iota
	tagRotate
	tagJump
	tagAttack
	actionVariants
)

type Move struct {
	X, Y, Z float32
}

type Rotate struct {
	Yaw, Pitch float32
}

type Jump struct{}

type Attack struct {
	Target uint16
}

func (Move) action()   {}
func (Rotate) action() {}
func (Jump) action()   {}
func (Attack) action() {}

func (m Move) EncodeTo(w *wire.Writer) {
	w.U8(tagMove)
	w.F32(m.X)
	w.F32(m.Y)
	w.F32(m.Z)
}

func (m Rotate) EncodeTo(w *wire.Writer) {
	w.U8(tagRotate)
	w.F32(m.Yaw)
	w.F32(m.Pitch)
}

func (Jump) EncodeTo(w *wire.Writer) {
	w.U8(tagJump)
}

func (m Attack) EncodeTo(w *wire.Writer) {
	w.U8(tagAttack)
	w.U16(m.Target)
}

func encodeAction(w *wire.Writer, a Action) {
	if a == nil {
		w.Fail(ErrNilAction)
		return
	}
	a.EncodeTo(w)
}

func DecodeAction(r *wire.Reader) Action {
	switch r.Variant(actionVariants) {
	case tagMove:
		return Move{X: r.F32(), Y: r.F32(), Z: r.F32()}
	case tagRotate:
		return Rotate{Yaw: r.F32(), Pitch: r.F32()}
	case tagJump:
		return Jump{}
	case tagAttack:
		return Attack{Target: r.U16()}
	default:
		return nil
	}
}

// ClientBody is the inner message of a client->server datagram.
type ClientBody interface {
	wire.Encoder
	clientBody()
}

// KeepAlive lets the server learn the client's public UDP endpoint.
type KeepAlive struct{}

type Data struct {
	Action Action
}

func (KeepAlive) clientBody() {}
func (Data) clientBody()      {}

func (KeepAlive) EncodeTo(w *wire.Writer) {
	w.U8(0)
}

func (m Data) EncodeTo(w *wire.Writer) {
	w.U8(1)
	encodeAction(w, m.Action)
}

func DecodeClientBody(r *wire.Reader) ClientBody {
	switch r.Variant(2) {
	case 0:
		return KeepAlive{}
	case 1:
		return Data{Action: DecodeAction(r)}
	default:
		return nil
	}
}

// ServerBody is the inner message of a server->client datagram.
type ServerBody interface {
	wire.Encoder
	serverBody()
}

// Relayed is an action from another member of the same game.
type Relayed struct {
	Action Action
}

// Response acknowledges the client datagram with sequence ID.
type Response struct {
	ID uint16
}

func (Relayed) serverBody()  {}
func (Response) serverBody() {}

func (m Relayed) EncodeTo(w *wire.Writer) {
	w.U8(0)
	encodeAction(w, m.Action)
}

func (m Response) EncodeTo(w *wire.Writer) {
	w.U8(1)
	w.U16(m.ID)
}

func DecodeServerBody(r *wire.Reader) ServerBody {
	switch r.Variant(2) {
	case 0:
		return Relayed{Action: DecodeAction(r)}
	case 1:
		return Response{ID: r.U16()}
	default:
		return nil
	}
}

// ClientDatagram is the parsed form of a client->server datagram.
type ClientDatagram struct {
	Seq    uint16
	Resend uint8
	Body   ClientBody
}

// ServerDatagram is the parsed form of a server->client datagram.
type ServerDatagram struct {
	Sender uint16
	Body   ServerBody
}

// AppendClientDatagram frames an already encoded body behind the reserved
// header, sequence id, and resend counter.
func AppendClientDatagram(dst []byte, seq uint16, resend uint8, body []byte) []byte {
	dst = append(dst, 0, 0, 0, 0)
	dst = append(dst, byte(seq>>8), byte(seq))
	dst = append(dst, resend)
	return append(dst, body...)
}

func ParseClientDatagram(b []byte) (ClientDatagram, error) {
	if len(b) < DatagramHeaderLen {
		return ClientDatagram{}, wire.ErrTruncated
	}
	return wire.Unmarshal(b[DatagramHeaderLen:], func(r *wire.Reader) ClientDatagram {
		return ClientDatagram{
			Seq:    r.U16(),
			Resend: r.U8(),
			Body:   DecodeClientBody(r),
		}
	})
}

func MarshalServerDatagram(sender uint16, body ServerBody) ([]byte, error) {
	w := wire.NewWriter(32)
	w.Raw([]byte{0, 0, 0, 0})
	w.U16(sender)
	body.EncodeTo(w)
	return w.Bytes()
}

func ParseServerDatagram(b []byte) (ServerDatagram, error) {
	if len(b) < DatagramHeaderLen {
		return ServerDatagram{}, wire.ErrTruncated
	}
	return wire.Unmarshal(b[DatagramHeaderLen:], func(r *wire.Reader) ServerDatagram {
		return ServerDatagram{
			Sender: r.U16(),
			Body:   DecodeServerBody(r),
		}
	})
}
