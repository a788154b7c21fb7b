package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"emberlink/internal/crypto"
	"emberlink/internal/domain"
	"emberlink/internal/handshake"
)

const acceptPollInterval = time.Second

// redialTarget remembers the last dialed peer for renewal.
type redialTarget struct {
	address string
	port    int
	onion   bool
}

// Manager is the connection lifecycle state machine. It owns the listening
// socket, the single active peer session and their goroutines.
type Manager struct {
	cfg      Config
	identity *crypto.Identity
	trust    domain.TrustStore
	emit     domain.EventFunc
	log      *logrus.Logger

	mu            sync.Mutex
	state         State
	listener      *net.TCPListener
	serverRunning bool
	closed        bool
	sess          *session
	redial        *redialTarget
	isServer      bool

	renewing atomic.Bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New builds a Manager around an identity and a trust store. events may be
// nil when no UI is attached.
func New(identity *crypto.Identity, trust domain.TrustStore, events domain.EventFunc, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	if events == nil {
		events = func(domain.Event) {}
	}
	return &Manager{
		cfg:      cfg,
		identity: identity,
		trust:    trust,
		emit:     events,
		log:      cfg.Log,
		state:    StateIdle,
		stop:     make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a peer session is live.
func (m *Manager) Connected() bool { return m.current() != nil }

// PeerName returns the display name of the connected peer, or "".
func (m *Manager) PeerName() string {
	if s := m.current(); s != nil {
		return s.peerName
	}
	return ""
}

// PeerFingerprint returns the fingerprint of the connected peer, or "".
func (m *Manager) PeerFingerprint() domain.Fingerprint {
	if s := m.current(); s != nil {
		return s.peerFP
	}
	return ""
}

// StartServer binds the configured port and spawns the accept loop. Calling
// it while already listening is a no-op.
func (m *Manager) StartServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrManagerClosed
	}
	if m.serverRunning {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", m.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("start server on port %d: %w", m.cfg.ListenPort, err)
	}
	m.listener = ln.(*net.TCPListener)
	m.serverRunning = true
	if m.sess == nil {
		m.setStateLocked(StateListening)
	}
	m.wg.Add(1)
	go m.acceptLoop(m.listener)
	m.emitInfo(fmt.Sprintf("Listening for connections on port %d", m.cfg.ListenPort))
	return nil
}

// ListenAddr returns the bound listener address, or "" when not listening.
func (m *Manager) ListenAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

func (m *Manager) acceptLoop(ln *net.TCPListener) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		default:
		}
		_ = ln.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !m.stopped() {
				m.log.WithError(err).Error("accept failed")
			}
			return
		}
		m.handleInbound(conn)
	}
}

// handleInbound authenticates one inbound connection. It runs on the accept
// goroutine, so inbound handshakes are naturally serialized.
func (m *Manager) handleInbound(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		m.log.WithField("remote", remote).Info("rejected inbound connection: already connected")
		_ = conn.Close()
		return
	}
	m.setStateLocked(StateHandshaking)
	m.mu.Unlock()

	m.emitInfo("Incoming connection from " + remote)
	res, err := handshake.Respond(conn, remote, m.handshakeConfig())
	if err != nil {
		_ = conn.Close()
		m.reportHandshakeFailure(remote, err)
		m.settleState()
		return
	}
	if err := m.adoptSession(conn, res, true); err != nil {
		m.log.WithError(err).Warn("dropped authenticated inbound connection")
	}
}

// Connect dials a peer directly and runs the handshake as initiator.
func (m *Manager) Connect(address string, port int, timeout time.Duration) error {
	if net.ParseIP(address) == nil {
		return fmt.Errorf("invalid peer address %q", address)
	}
	if err := m.beginDial(address, port, false); err != nil {
		return err
	}

	hostport := net.JoinHostPort(address, strconv.Itoa(port))
	m.emitInfo("Attempting to connect to " + hostport + " ...")
	m.noteAddressScope(address)

	conn, err := net.DialTimeout("tcp", hostport, timeout)
	if err != nil {
		m.settleState()
		return fmt.Errorf("connect %s: %w", hostport, err)
	}
	return m.finishDial(conn, hostport)
}

// ConnectOnion dials a peer through the SOCKS5 proxy. expectedFP is
// informational: the trust decision uses the fingerprint actually received.
func (m *Manager) ConnectOnion(onion string, expectedFP domain.Fingerprint, port int, timeout time.Duration) error {
	if !strings.HasSuffix(onion, ".onion") {
		return fmt.Errorf("not an onion address: %q", onion)
	}
	if err := m.beginDial(onion, port, true); err != nil {
		return err
	}

	hostport := net.JoinHostPort(onion, strconv.Itoa(port))
	m.emitInfo(fmt.Sprintf("Attempting to connect to %s via %s ...", hostport, m.cfg.SocksAddr))

	dialer, err := proxy.SOCKS5("tcp", m.cfg.SocksAddr, nil, proxy.Direct)
	if err != nil {
		m.settleState()
		return fmt.Errorf("socks5 dialer: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var conn net.Conn
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", hostport)
	} else {
		conn, err = dialer.Dial("tcp", hostport)
	}
	if err != nil {
		m.settleState()
		return fmt.Errorf("connect %s via proxy: %w", hostport, err)
	}

	if err := m.finishDial(conn, hostport); err != nil {
		return err
	}
	if expectedFP != "" && expectedFP != m.PeerFingerprint() {
		m.log.WithFields(logrus.Fields{
			"expected": expectedFP,
			"received": m.PeerFingerprint(),
		}).Warn("peer fingerprint differs from the one supplied on the command line")
	}
	return nil
}

// beginDial reserves the dial slot and records the redial target.
func (m *Manager) beginDial(address string, port int, onion bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrManagerClosed
	}
	if m.sess != nil {
		return domain.ErrAlreadyConnected
	}
	m.isServer = false
	m.redial = &redialTarget{address: address, port: port, onion: onion}
	m.setStateLocked(StateHandshaking)
	return nil
}

func (m *Manager) finishDial(conn net.Conn, hostport string) error {
	res, err := handshake.Initiate(conn, hostport, m.handshakeConfig())
	if err != nil {
		_ = conn.Close()
		m.settleState()
		m.reportHandshakeFailure(hostport, err)
		return err
	}
	return m.adoptSession(conn, res, false)
}

// adoptSession installs an authenticated connection as the active session and
// spawns its goroutines. The single-session invariant is re-checked under the
// lock; a loser is closed without disturbing the winner.
func (m *Manager) adoptSession(conn net.Conn, res *handshake.Result, asServer bool) error {
	name := res.PeerFingerprint.Short()
	if nick, ok := m.trust.Nickname(res.PeerFingerprint); ok {
		name = nick
	}
	s := newSession(conn, res.Session, res.PeerFingerprint, name)

	m.mu.Lock()
	if m.closed || m.sess != nil {
		m.mu.Unlock()
		res.Session.Close()
		_ = conn.Close()
		return domain.ErrAlreadyConnected
	}
	m.sess = s
	m.isServer = asServer
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	s.wg.Add(2)
	go m.receiveLoop(s)
	go m.renewalMonitor(s)
	go func() {
		s.wg.Wait()
		s.cleanup(m)
	}()

	m.log.WithFields(logrus.Fields{
		"peer":        name,
		"fingerprint": s.peerFP,
		"server":      asServer,
	}).Info("peer session established")
	m.emitInfo(fmt.Sprintf("Connected to peer: %s (%s)", name, s.peerFP))
	return nil
}

// StopPeerSession tears down only the active peer connection and joins its
// goroutines. The listener, if running, keeps accepting the next peer.
func (m *Manager) StopPeerSession() {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.detach(s)
	s.signalStop()
	s.wg.Wait()
	s.cleanup(m)
}

// Disconnect tells the peer we are going away, then stops the session.
func (m *Manager) Disconnect() {
	if s := m.current(); s != nil {
		_ = m.sendEncrypted(s, disconnectToken, false)
	}
	m.StopPeerSession()
}

// Close stops the peer session and the listener. Terminal.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.serverRunning = false
	ln := m.listener
	m.listener = nil
	m.setStateLocked(StateClosed)
	m.mu.Unlock()

	close(m.stop)
	if ln != nil {
		_ = ln.Close()
	}
	m.StopPeerSession()
	m.wg.Wait()
}

// detach removes s from the manager if it is still the active session and
// settles the lifecycle state.
func (m *Manager) detach(s *session) {
	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
		m.settleStateLocked()
	}
	m.mu.Unlock()
}

func (m *Manager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Manager) handshakeConfig() handshake.Config {
	return handshake.Config{
		Identity: m.identity,
		Trust:    m.trust,
		Policy:   m.cfg.Policy,
		Timeout:  m.cfg.HandshakeTimeout,
		Log:      m.log,
	}
}

// reportHandshakeFailure tells the operator why a connection was refused.
// Every rejection states the fingerprint and address involved.
func (m *Manager) reportHandshakeFailure(addr string, err error) {
	var te *domain.TrustError
	switch {
	case errors.As(err, &te):
		m.emitSecurity(fmt.Sprintf("Connection refused: %v. Trust it with: %s", te, te.RemediationCommand()))
	case errors.Is(err, domain.ErrAuthFailed):
		m.emitSecurity("Connection refused: invalid peer signature from " + addr)
	case errors.Is(err, domain.ErrHandshakeTimeout):
		m.emitInfo("Handshake with " + addr + " timed out (peer may be behind NAT or a firewall)")
	default:
		m.log.WithError(err).WithField("peer", addr).Warn("handshake failed")
		m.emitInfo(fmt.Sprintf("Handshake with %s failed: %v", addr, err))
	}
}

// settleState returns the lifecycle to Listening or Idle when no session is
// active.
func (m *Manager) settleState() {
	m.mu.Lock()
	m.settleStateLocked()
	m.mu.Unlock()
}

func (m *Manager) settleStateLocked() {
	// A renewal in flight owns the state until it finishes or redials.
	if m.closed || m.sess != nil || m.state == StateRenewing {
		return
	}
	if m.serverRunning {
		m.setStateLocked(StateListening)
	} else {
		m.setStateLocked(StateIdle)
	}
}

func (m *Manager) setStateLocked(st State) {
	if m.state == st {
		return
	}
	m.log.WithFields(logrus.Fields{"from": m.state.String(), "to": st.String()}).Debug("state transition")
	m.state = st
}

// noteAddressScope logs whether a dial target is private or public.
func (m *Manager) noteAddressScope(address string) {
	ip := net.ParseIP(address)
	if ip == nil {
		return
	}
	scope := "public"
	if ip.IsPrivate() || ip.IsLoopback() {
		scope = "private"
	}
	m.log.WithFields(logrus.Fields{"address": address, "scope": scope}).Info("dialing peer")
}

func (m *Manager) emitInfo(text string) {
	m.emit(domain.Event{Kind: domain.EventInfo, Text: text, Time: time.Now()})
}

func (m *Manager) emitSecurity(text string) {
	m.emit(domain.Event{Kind: domain.EventSecurity, Text: text, Time: time.Now()})
}
