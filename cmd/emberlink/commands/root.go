package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"emberlink/internal/app"
	"emberlink/internal/domain"
)

var (
	home       string
	listenPort int
	socksAddr  string
	policyName string
	verbose    bool

	wire *app.Wire
	cfg  app.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:   "emberlink",
		Short: "Peer-to-peer encrypted chat over TCP or Tor",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".emberlink")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			policy, ok := domain.ParseTrustPolicy(policyName)
			if !ok {
				return fmt.Errorf("unknown trust policy %q (want fingerprint or strict)", policyName)
			}

			log := logrus.New()
			log.SetLevel(logrus.WarnLevel)
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			cfg = app.Config{
				Home:       home,
				ListenPort: listenPort,
				SocksAddr:  socksAddr,
				Policy:     policy,
				Log:        log,
			}
			w, err := app.NewWire(cfg)
			if err != nil {
				return err
			}
			wire = w
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config directory (default $HOME/.emberlink)")
	root.PersistentFlags().IntVarP(&listenPort, "port", "l", 34567, "TCP port to listen on")
	root.PersistentFlags().StringVar(&socksAddr, "socks", "127.0.0.1:9050", "local SOCKS5 proxy for .onion peers")
	root.PersistentFlags().StringVar(&policyName, "policy", "fingerprint", "TOFU policy: fingerprint or strict")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		hostsCmd(),
		chatCmd(),
	)
	return root.Execute()
}
