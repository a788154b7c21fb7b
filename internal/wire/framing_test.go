package wire_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberlink/internal/domain"
	"emberlink/internal/wire"
)

// pipe returns both ends of an in-memory connection, closed on test exit.
func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 1_000_000),
	}

	a, b := pipe(t)
	for _, want := range payloads {
		errCh := make(chan error, 1)
		go func(p []byte) { errCh <- wire.SendFrame(a, p) }(want)

		got, err := wire.RecvFrame(b)
		require.NoError(t, err)
		require.NoError(t, <-errCh)
		assert.Equal(t, len(want), len(got))
		assert.True(t, bytes.Equal(want, got))
	}
}

func TestZeroLengthFrameIsValid(t *testing.T) {
	a, b := pipe(t)
	go func() { _ = wire.SendFrame(a, nil) }()

	got, err := wire.RecvFrame(b)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRecvFrameClosedBeforeHeader(t *testing.T) {
	a, b := pipe(t)
	require.NoError(t, a.Close())

	_, err := wire.RecvFrame(b)
	assert.ErrorIs(t, err, domain.ErrConnClosed)
}

func TestRecvFrameClosedMidPayload(t *testing.T) {
	a, b := pipe(t)

	go func() {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], 10)
		_, _ = a.Write(hdr[:])
		_, _ = a.Write([]byte("abc"))
		_ = a.Close()
	}()

	_, err := wire.RecvFrame(b)
	assert.ErrorIs(t, err, domain.ErrConnClosed)
}

func TestRecvFrameRejectsOversizeHeader(t *testing.T) {
	a, b := pipe(t)

	go func() {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], wire.MaxFrameSize+1)
		_, _ = a.Write(hdr[:])
	}()

	_, err := wire.RecvFrame(b)
	assert.ErrorIs(t, err, domain.ErrFrameTooLarge)
}

func TestSendFrameRejectsOversizePayload(t *testing.T) {
	a, _ := pipe(t)

	err := wire.SendFrame(a, make([]byte, wire.MaxFrameSize+1))
	assert.ErrorIs(t, err, domain.ErrFrameTooLarge)
}
