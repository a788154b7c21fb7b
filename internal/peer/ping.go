package peer

import (
	"strconv"
	"time"

	"emberlink/internal/domain"
)

// Ping sends a latency probe and blocks until the matching pong arrives or
// the timeout elapses. The returned duration is the round-trip time. Pings
// count toward the renewal threshold only when configured to.
func (m *Manager) Ping(timeout time.Duration) (time.Duration, error) {
	s := m.current()
	if s == nil {
		return 0, domain.ErrNotConnected
	}

	id := strconv.FormatInt(time.Now().UnixMicro(), 10)
	ch := make(chan time.Time, 1)
	s.pingMu.Lock()
	s.pings[id] = ch
	s.pingMu.Unlock()
	defer func() {
		s.pingMu.Lock()
		delete(s.pings, id)
		s.pingMu.Unlock()
	}()

	start := time.Now()
	if err := m.sendEncrypted(s, pingPrefix+id, m.cfg.CountPings); err != nil {
		return 0, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case at := <-ch:
		return at.Sub(start), nil
	case <-timer.C:
		return 0, domain.ErrPingTimeout
	case <-s.done:
		return 0, domain.ErrNotConnected
	}
}
