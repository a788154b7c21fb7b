package peer_test

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberlink/internal/crypto"
	"emberlink/internal/domain"
	"emberlink/internal/hosts"
	"emberlink/internal/peer"
)

// eventLog records every event a manager emits so tests can wait on and count
// them after the fact.
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) add(ev domain.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(pred func(domain.Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if pred(ev) {
			n++
		}
	}
	return n
}

func (l *eventLog) waitFor(t *testing.T, timeout time.Duration, desc string, pred func(domain.Event) bool) domain.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	seen := 0
	for time.Now().Before(deadline) {
		l.mu.Lock()
		for ; seen < len(l.events); seen++ {
			if pred(l.events[seen]) {
				ev := l.events[seen]
				l.mu.Unlock()
				return ev
			}
		}
		l.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event: %s", desc)
	return domain.Event{}
}

func waitUntil(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", desc)
}

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testPeer struct {
	mgr       *peer.Manager
	id        *crypto.Identity
	trust     *hosts.Store
	log       *eventLog
	downloads string
}

func newTestPeer(t *testing.T, cfg peer.Config) *testPeer {
	t.Helper()
	dir := t.TempDir()
	id, err := crypto.LoadOrGenerateIdentity(filepath.Join(dir, "identity.pem"))
	require.NoError(t, err)
	trust, err := hosts.Open(dir, quietLog())
	require.NoError(t, err)

	p := &testPeer{
		id:        id,
		trust:     trust,
		log:       &eventLog{},
		downloads: filepath.Join(dir, "received"),
	}
	cfg.Log = quietLog()
	cfg.HandshakeTimeout = 5 * time.Second
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = p.downloads
	}
	p.mgr = peer.New(id, trust, p.log.add, cfg)
	t.Cleanup(p.mgr.Close)
	return p
}

// trustAddrSeq hands out distinct placeholder addresses; under the fingerprint
// policy only store membership matters.
var trustAddrSeq atomic.Int32

func link(t *testing.T, a, b *testPeer) {
	t.Helper()
	addr := func() string {
		return fmt.Sprintf("10.9.0.%d:34567", trustAddrSeq.Add(1))
	}
	require.NoError(t, a.trust.Add(addr(), domain.Fingerprint(b.id.Fingerprint())))
	require.NoError(t, b.trust.Add(addr(), domain.Fingerprint(a.id.Fingerprint())))
}

// serve starts b's listener on an ephemeral port and returns the port number.
func serve(t *testing.T, p *testPeer) int {
	t.Helper()
	require.NoError(t, p.mgr.StartServer())
	_, portStr, err := net.SplitHostPort(p.mgr.ListenAddr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func connectPair(t *testing.T, dialer, listener *testPeer) int {
	t.Helper()
	link(t, dialer, listener)
	port := serve(t, listener)
	require.NoError(t, dialer.mgr.Connect("127.0.0.1", port, 3*time.Second))
	waitUntil(t, 3*time.Second, "listener sees the session", listener.mgr.Connected)
	return port
}

func chatWith(text string) func(domain.Event) bool {
	return func(ev domain.Event) bool { return ev.Kind == domain.EventChat && ev.Text == text }
}

func TestConnectAndExchangeMessages(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})
	connectPair(t, alice, bob)

	assert.Equal(t, bob.id.Fingerprint(), string(alice.mgr.PeerFingerprint()))
	assert.Equal(t, alice.id.Fingerprint(), string(bob.mgr.PeerFingerprint()))
	assert.Equal(t, peer.StateConnected, alice.mgr.State())

	require.NoError(t, alice.mgr.Send("hello bob"))
	ev := bob.log.waitFor(t, 3*time.Second, "chat from alice", chatWith("hello bob"))
	assert.NotEmpty(t, ev.From)

	require.NoError(t, bob.mgr.Send("höllø àlice 🜁"))
	alice.log.waitFor(t, 3*time.Second, "chat from bob", chatWith("höllø àlice 🜁"))
}

func TestSendWithoutConnection(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	assert.ErrorIs(t, alice.mgr.Send("into the void"), domain.ErrNotConnected)
	_, err := alice.mgr.Ping(time.Second)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSingleSessionInvariant(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})
	carol := newTestPeer(t, peer.Config{})
	port := connectPair(t, alice, bob)

	// A second dialer is turned away while bob is busy.
	link(t, carol, bob)
	assert.Error(t, carol.mgr.Connect("127.0.0.1", port, 3*time.Second))
	assert.False(t, carol.mgr.Connected())

	// A second dial from the connected side is refused locally.
	assert.ErrorIs(t, alice.mgr.Connect("127.0.0.1", port, 3*time.Second), domain.ErrAlreadyConnected)

	// The original session is undisturbed.
	require.NoError(t, alice.mgr.Send("still here"))
	bob.log.waitFor(t, 3*time.Second, "chat after rejected intruder", chatWith("still here"))
}

func TestDisconnectReturnsToListening(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})
	port := connectPair(t, alice, bob)

	alice.mgr.Disconnect()
	bob.log.waitFor(t, 3*time.Second, "peer disconnect notice", func(ev domain.Event) bool {
		return ev.Kind == domain.EventInfo && ev.Text == "Peer disconnected"
	})
	waitUntil(t, 3*time.Second, "both sides drop the session", func() bool {
		return !alice.mgr.Connected() && !bob.mgr.Connected()
	})
	waitUntil(t, 3*time.Second, "listener resumes", func() bool {
		return bob.mgr.State() == peer.StateListening
	})

	// The listener accepts the next connection.
	require.NoError(t, alice.mgr.Connect("127.0.0.1", port, 3*time.Second))
	require.NoError(t, alice.mgr.Send("round two"))
	bob.log.waitFor(t, 3*time.Second, "chat after reconnect", chatWith("round two"))
}

func TestUnknownPeerRejectedUntilTrusted(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})

	// Alice trusts bob, but bob has never heard of alice.
	require.NoError(t, alice.trust.Add("10.9.1.1:34567", domain.Fingerprint(bob.id.Fingerprint())))
	port := serve(t, bob)

	assert.Error(t, alice.mgr.Connect("127.0.0.1", port, 3*time.Second))
	ev := bob.log.waitFor(t, 3*time.Second, "trust rejection with remediation", func(ev domain.Event) bool {
		return ev.Kind == domain.EventSecurity && strings.Contains(ev.Text, "hosts add")
	})
	assert.Contains(t, ev.Text, alice.id.Fingerprint())
	assert.False(t, bob.mgr.Connected())

	// After the operator trusts the fingerprint, the same identity gets in.
	require.NoError(t, bob.trust.Add("10.9.1.2:34567", domain.Fingerprint(alice.id.Fingerprint())))
	waitUntil(t, 3*time.Second, "listener settles", func() bool {
		return bob.mgr.State() == peer.StateListening
	})
	require.NoError(t, alice.mgr.Connect("127.0.0.1", port, 3*time.Second))
	waitUntil(t, 3*time.Second, "listener sees the session", bob.mgr.Connected)
}

func TestPingRoundTrip(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})
	connectPair(t, alice, bob)

	rtt, err := alice.mgr.Ping(3 * time.Second)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Less(t, rtt, 3*time.Second)
}

func renewalStart(ev domain.Event) bool {
	return ev.Kind == domain.EventRenewal && strings.HasPrefix(ev.Text, "Renewing session:")
}

func TestRenewalAfterMessageLimit(t *testing.T) {
	alice := newTestPeer(t, peer.Config{
		RenewAfterMessages: 5,
		RenewalCheckEvery:  50 * time.Millisecond,
	})
	bob := newTestPeer(t, peer.Config{})
	connectPair(t, alice, bob)

	for i := 0; i < 5; i++ {
		require.NoError(t, alice.mgr.Send(fmt.Sprintf("message %d", i)))
	}

	alice.log.waitFor(t, 10*time.Second, "renewal trigger", renewalStart)
	alice.log.waitFor(t, 10*time.Second, "renewal completes", func(ev domain.Event) bool {
		return ev.Kind == domain.EventRenewal && ev.Text == "Connection successfully re-established"
	})
	waitUntil(t, 3*time.Second, "listener re-adopts", bob.mgr.Connected)

	// Exactly one renewal for one threshold crossing.
	assert.Equal(t, 1, alice.log.count(renewalStart))

	// The fresh session carries traffic and has reset counters, so no second
	// renewal follows.
	require.NoError(t, alice.mgr.Send("after renewal"))
	bob.log.waitFor(t, 3*time.Second, "chat on renewed session", chatWith("after renewal"))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, alice.log.count(renewalStart))
}

func TestCloseIsTerminal(t *testing.T) {
	alice := newTestPeer(t, peer.Config{})
	bob := newTestPeer(t, peer.Config{})
	connectPair(t, alice, bob)

	alice.mgr.Close()
	assert.Equal(t, peer.StateClosed, alice.mgr.State())
	assert.False(t, alice.mgr.Connected())
	assert.ErrorIs(t, alice.mgr.StartServer(), domain.ErrManagerClosed)
	assert.ErrorIs(t, alice.mgr.Connect("127.0.0.1", 1, time.Second), domain.ErrManagerClosed)

	waitUntil(t, 3*time.Second, "peer notices the teardown", func() bool {
		return !bob.mgr.Connected()
	})
}
