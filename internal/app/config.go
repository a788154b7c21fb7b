package app

import (
	"time"

	"github.com/sirupsen/logrus"

	"emberlink/internal/domain"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home        string // config directory, e.g. $HOME/.emberlink
	ListenPort  int
	SocksAddr   string // local SOCKS5 endpoint for onion dialing
	Policy      domain.TrustPolicy
	DownloadDir string // where accepted files land; defaults to <Home>/received

	RenewAfterMessages int
	RenewAfterInterval time.Duration
	CountPings         bool

	Log *logrus.Logger // optional; defaults to logrus.StandardLogger()
}
