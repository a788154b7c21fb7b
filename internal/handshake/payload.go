package handshake

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"

	"emberlink/internal/domain"
	"emberlink/internal/wire"
)

// hello is the initiator's opening frame.
type hello struct {
	PublicKey string `json:"public_key"`
	Challenge string `json:"challenge"`
}

// helloReply is the responder's frame: its key and challenge plus a signature
// over the initiator's challenge.
type helloReply struct {
	PublicKey string `json:"public_key"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

// closing is the initiator's final frame.
type closing struct {
	Signature string `json:"signature"`
}

func sendJSON(conn net.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return wire.SendFrame(conn, b)
}

func recvJSON(conn net.Conn, v any) error {
	b, err := wire.RecvFrame(conn)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedHandshake, err)
	}
	return nil
}

// fromHex decodes a named hex field, mapping failures to a protocol error.
func fromHex(field, s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrMalformedHandshake, field)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s encoding", domain.ErrMalformedHandshake, field)
	}
	return b, nil
}
