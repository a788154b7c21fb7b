package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"emberlink/internal/domain"
)

// MaxFrameSize caps a single frame to bound memory against a malicious peer.
// The protocol itself imposes no limit; 32 MiB comfortably covers the largest
// legitimate payload (a file chunk plus AEAD overhead).
const MaxFrameSize = 32 << 20

const headerLen = 4

// SendFrame writes a length-prefixed frame to conn. Partial writes are
// completed internally by net.Conn semantics; callers must not assume the
// header and payload land in one segment.
func SendFrame(conn net.Conn, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", domain.ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerLen:], payload)
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// RecvFrame reads one length-prefixed frame from conn. A zero-length frame is
// valid and returns an empty payload. A stream that ends during either phase
// yields domain.ErrConnClosed; read-deadline expiry is passed through so
// polling loops can distinguish it.
func RecvFrame(conn net.Conn) ([]byte, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, closedOr(err, "read frame header")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", domain.ErrFrameTooLarge, n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, closedOr(err, "read frame payload")
	}
	return payload, nil
}

// closedOr maps end-of-stream conditions to ErrConnClosed and wraps the rest.
func closedOr(err error, op string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.ErrConnClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}
