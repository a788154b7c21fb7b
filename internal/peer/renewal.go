package peer

import (
	"fmt"
	"time"

	"emberlink/internal/domain"
)

// renewalMonitor watches one session's counters and triggers a proactive
// teardown-and-redial when a threshold is crossed. It exits after triggering;
// the replacement session gets a fresh monitor with reset trackers.
func (m *Manager) renewalMonitor(s *session) {
	defer s.wg.Done()
	ticker := time.NewTicker(m.cfg.RenewalCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if reason := m.renewalDue(s); reason != "" {
				m.triggerRenewal(s, reason)
				return
			}
		}
	}
}

func (m *Manager) renewalDue(s *session) string {
	if n := s.msgCount.Load(); n >= int64(m.cfg.RenewAfterMessages) {
		return fmt.Sprintf("message limit (%d) reached", m.cfg.RenewAfterMessages)
	}
	if age := time.Since(s.startedAt); age >= m.cfg.RenewAfterInterval {
		return fmt.Sprintf("session age limit (%s) reached", m.cfg.RenewAfterInterval)
	}
	return ""
}

// triggerRenewal starts one renewal attempt. Concurrent triggers (monitor
// tick racing a send failure, or concurrent senders) coalesce on the flag.
func (m *Manager) triggerRenewal(s *session, reason string) {
	if m.current() != s {
		// A late failure from a session that was already replaced.
		return
	}
	if !m.renewing.CompareAndSwap(false, true) {
		m.log.Debug("renewal already in progress; skipping redundant trigger")
		return
	}
	m.emit(domain.Event{Kind: domain.EventRenewal, Text: "Renewing session: " + reason, Time: time.Now()})
	go m.renew(s)
}

// renew tears the session down and, if this side was the dialer, redials the
// same target. The listener side simply waits for the peer to come back.
func (m *Manager) renew(s *session) {
	defer m.renewing.Store(false)

	m.mu.Lock()
	target := m.redial
	wasServer := m.isServer
	if !m.closed {
		m.setStateLocked(StateRenewing)
	}
	m.mu.Unlock()

	m.detach(s)
	s.signalStop()
	s.wg.Wait()
	s.cleanup(m)

	if m.stopped() {
		return
	}
	if wasServer || target == nil {
		m.emit(domain.Event{Kind: domain.EventRenewal, Text: "Waiting for peer to reconnect", Time: time.Now()})
		m.leaveRenewingState()
		return
	}

	// Give the peer a moment to notice the teardown before redialing.
	time.Sleep(renewalRedialDelay)
	m.leaveRenewingState()
	var err error
	if target.onion {
		err = m.ConnectOnion(target.address, "", target.port, renewalDialTimeout)
	} else {
		err = m.Connect(target.address, target.port, renewalDialTimeout)
	}
	if err != nil {
		m.emit(domain.Event{Kind: domain.EventRenewal, Text: fmt.Sprintf("Failed to re-establish connection: %v", err), Time: time.Now()})
		return
	}
	m.emit(domain.Event{Kind: domain.EventRenewal, Text: "Connection successfully re-established", Time: time.Now()})
}

// leaveRenewingState hands the lifecycle back to the usual settling rules.
func (m *Manager) leaveRenewingState() {
	m.mu.Lock()
	if m.state == StateRenewing && !m.closed {
		m.state = StateIdle
		m.settleStateLocked()
	}
	m.mu.Unlock()
}

const (
	renewalRedialDelay = time.Second
	renewalDialTimeout = 10 * time.Second
)
