package peer

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"emberlink/internal/crypto"
	"emberlink/internal/domain"
	"emberlink/internal/wire"
)

// session bundles everything scoped to one authenticated peer connection:
// the socket, the crypto context, renewal counters, ping correlation and any
// in-flight file transfer. It is destroyed whole on teardown.
type session struct {
	conn     net.Conn
	crypto   *crypto.Session
	peerFP   domain.Fingerprint
	peerName string

	// writeMu serializes frame writes; the caller's send path, the receive
	// loop's pong replies and the file streamer all share the socket.
	writeMu sync.Mutex

	// Renewal tracking, reset when the session is established.
	msgCount  atomic.Int64
	startedAt time.Time

	// Ping correlation, keyed by ping id. Pong delivery happens on the
	// receive goroutine while the waiter blocks on its channel.
	pingMu sync.Mutex
	pings  map[string]chan time.Time

	// File transfer state: at most one in either direction.
	ftMu     sync.Mutex
	outgoing *outgoingTransfer
	incoming *incomingTransfer

	// stop tells session goroutines to exit; done is closed after cleanup.
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	tidyOnce  sync.Once
	wg        sync.WaitGroup
}

func newSession(conn net.Conn, sc *crypto.Session, fp domain.Fingerprint, name string) *session {
	return &session{
		conn:      conn,
		crypto:    sc,
		peerFP:    fp,
		peerName:  name,
		startedAt: time.Now(),
		pings:     make(map[string]chan time.Time),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// writeFrame sends one frame under the write lock.
func (s *session) writeFrame(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.SendFrame(s.conn, b)
}

func (s *session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// signalStop wakes every session goroutine; closing the socket unblocks reads.
func (s *session) signalStop() {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
}

// cleanup releases session resources exactly once: zeroes the key material,
// aborts any in-flight transfer (deleting a partial download) and releases
// ping waiters. Runs after the session goroutines have exited.
func (s *session) cleanup(m *Manager) {
	s.tidyOnce.Do(func() {
		m.abortTransfers(s)
		s.crypto.Close()
		close(s.done)
	})
}
