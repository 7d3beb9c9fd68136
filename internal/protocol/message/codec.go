package message

import (
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/wire"
)

// Encode marshals any message with a wire layout.
func Encode(v wire.Encoder) ([]byte, error) {
	return wire.Marshal(v)
}

func ParseHandshakeRequest(b []byte) (HandshakeRequest, error) {
	return wire.Unmarshal(b, DecodeHandshakeRequest)
}

func ParseHandshakeResponse(b []byte) (HandshakeResponse, error) {
	return wire.Unmarshal(b, DecodeHandshakeResponse)
}

func ParseRequest(b []byte) (Request, error) {
	return wire.Unmarshal(b, DecodeRequest)
}

func ParseUpdate(b []byte) (Update, error) {
	return wire.Unmarshal(b, DecodeUpdate)
}

func ParseClientBody(b []byte) (ClientBody, error) {
	return wire.Unmarshal(b, DecodeClientBody)
}
