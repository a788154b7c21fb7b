package peer

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"emberlink/internal/domain"
	"emberlink/internal/wire"
)

// Control-message vocabulary. Everything else after decryption is chat text.
const (
	pingPrefix      = "__PING__"
	pongPrefix      = "__PONG__"
	disconnectToken = "__DISCONNECT__"
)

const receivePollInterval = time.Second

// Send encrypts and frames a chat message to the connected peer. The message
// counts toward the renewal threshold. A send failure reports the error and
// triggers the reconnection path instead of crashing the session's owner.
func (m *Manager) Send(text string) error {
	s := m.current()
	if s == nil {
		if m.renewing.Load() {
			m.emitInfo("Message not sent: renewal in progress")
		}
		return domain.ErrNotConnected
	}
	if err := m.sendEncrypted(s, text, true); err != nil {
		m.log.WithError(err).Warn("send failed")
		m.triggerRenewal(s, "send failure")
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// sendEncrypted seals text into an AEAD frame; counted selects whether it
// advances the renewal counter.
func (m *Manager) sendEncrypted(s *session, text string, counted bool) error {
	ct, err := s.crypto.Encrypt(text)
	if err != nil {
		return err
	}
	if err := s.writeFrame(ct); err != nil {
		return err
	}
	if counted {
		s.msgCount.Add(1)
	}
	return nil
}

// receiveLoop is the per-session read goroutine. It polls with a short
// deadline so shutdown is observed promptly, decrypts each frame, and
// classifies it as control traffic, file data, or a chat message.
func (m *Manager) receiveLoop(s *session) {
	defer s.wg.Done()
	defer func() {
		m.detach(s)
		s.signalStop()
	}()

	for {
		if s.stopping() {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(receivePollInterval))
		frame, err := wire.RecvFrame(s.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !s.stopping() {
				if errors.Is(err, domain.ErrConnClosed) {
					m.emitInfo("Connection closed by peer")
				} else {
					m.log.WithError(err).Warn("receive failed")
				}
			}
			return
		}

		if handled, fatal := m.consumeChunk(s, frame); handled {
			if fatal {
				return
			}
			continue
		}

		text, err := s.crypto.Decrypt(frame)
		if err != nil {
			// An unauthenticated frame is a hard failure of the channel's
			// trust, not an empty message. Close the session.
			m.log.WithError(err).Error("message failed authentication; closing session")
			m.emitSecurity("Received a message that failed authentication; closing session")
			return
		}
		if !m.dispatch(s, text) {
			return
		}
	}
}

// dispatch routes one decrypted text payload. It returns false when the
// session should end (peer-initiated disconnect).
func (m *Manager) dispatch(s *session, text string) bool {
	switch {
	case strings.HasPrefix(text, pingPrefix):
		m.handlePing(s, text[len(pingPrefix):])
	case strings.HasPrefix(text, pongPrefix):
		m.handlePong(s, text[len(pongPrefix):])
	case m.handleFileControl(s, text):
	case strings.TrimSpace(text) == disconnectToken:
		m.emitInfo("Peer disconnected")
		return false
	default:
		s.msgCount.Add(1)
		m.emit(domain.Event{
			Kind: domain.EventChat,
			Text: text,
			From: s.peerName,
			Time: time.Now(),
		})
	}
	return true
}

func (m *Manager) handlePing(s *session, id string) {
	if err := m.sendEncrypted(s, pongPrefix+id, m.cfg.CountPings); err != nil {
		m.log.WithError(err).Warn("pong reply failed")
	}
}

func (m *Manager) handlePong(s *session, id string) {
	s.pingMu.Lock()
	ch, ok := s.pings[id]
	s.pingMu.Unlock()
	if !ok {
		return // stale or unknown pong
	}
	select {
	case ch <- time.Now():
	default:
	}
}
