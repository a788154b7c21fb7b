package peer

import (
	"time"

	"github.com/sirupsen/logrus"

	"emberlink/internal/domain"
)

// Renewal and transfer defaults, matching the protocol's usual deployment.
const (
	DefaultRenewAfterMessages = 10000
	DefaultRenewAfterInterval = 60 * time.Minute
	DefaultRenewalCheckEvery  = 5 * time.Second
	DefaultChunkSize          = 8192
	DefaultSocksAddr          = "127.0.0.1:9050"
)

// Config tunes a Manager. The zero value plus a listen port is usable.
type Config struct {
	// ListenPort is the TCP port StartServer binds.
	ListenPort int
	// SocksAddr is the local SOCKS5 endpoint used for onion dialing.
	SocksAddr string
	// Policy selects the TOFU variant applied during handshakes.
	Policy domain.TrustPolicy
	// HandshakeTimeout bounds the whole handshake exchange.
	HandshakeTimeout time.Duration

	// RenewAfterMessages and RenewAfterInterval are the session renewal
	// thresholds; RenewalCheckEvery is the monitor poll period.
	RenewAfterMessages int
	RenewAfterInterval time.Duration
	RenewalCheckEvery  time.Duration
	// CountPings makes ping/pong traffic count toward the renewal threshold.
	CountPings bool

	// ChunkSize is the file-transfer chunk size in bytes.
	ChunkSize int
	// DownloadDir is where accepted files are written.
	DownloadDir string

	Log *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.SocksAddr == "" {
		c.SocksAddr = DefaultSocksAddr
	}
	if c.RenewAfterMessages <= 0 {
		c.RenewAfterMessages = DefaultRenewAfterMessages
	}
	if c.RenewAfterInterval <= 0 {
		c.RenewAfterInterval = DefaultRenewAfterInterval
	}
	if c.RenewalCheckEvery <= 0 {
		c.RenewalCheckEvery = DefaultRenewalCheckEvery
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "received"
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return c
}
