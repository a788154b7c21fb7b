package app

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"emberlink/internal/crypto"
	"emberlink/internal/domain"
	"emberlink/internal/hosts"
	"emberlink/internal/peer"
)

// identityFile is the keyfile name inside the home directory.
const identityFile = "identity.pem"

// Wire bundles the identity, trust store and manager factory for the CLI.
type Wire struct {
	Identity *crypto.Identity
	Hosts    *hosts.Store
	Log      *logrus.Logger

	cfg Config
}

// NewWire constructs the dependency graph from cfg. The identity is created
// on first run; the trust store file is created empty when missing.
func NewWire(cfg Config) (*Wire, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	id, err := crypto.LoadOrGenerateIdentity(filepath.Join(cfg.Home, identityFile))
	if err != nil {
		return nil, err
	}
	store, err := hosts.Open(cfg.Home, log)
	if err != nil {
		return nil, err
	}

	return &Wire{Identity: id, Hosts: store, Log: log, cfg: cfg}, nil
}

// NewManager builds a connection manager delivering to the given event sink.
func (w *Wire) NewManager(events domain.EventFunc) *peer.Manager {
	download := w.cfg.DownloadDir
	if download == "" {
		download = filepath.Join(w.cfg.Home, "received")
	}
	return peer.New(w.Identity, w.Hosts, events, peer.Config{
		ListenPort:         w.cfg.ListenPort,
		SocksAddr:          w.cfg.SocksAddr,
		Policy:             w.cfg.Policy,
		RenewAfterMessages: w.cfg.RenewAfterMessages,
		RenewAfterInterval: w.cfg.RenewAfterInterval,
		CountPings:         w.cfg.CountPings,
		DownloadDir:        download,
		Log:                w.Log,
	})
}
