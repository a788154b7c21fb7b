package commands

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"emberlink/internal/domain"
	"emberlink/internal/peer"
)

const dialTimeout = 10 * time.Second

func chatCmd() *cobra.Command {
	var (
		connectTo string
		onionTo   string
		expectFP  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Listen for a peer, optionally dial one, and chat",
		Long: `Starts the listener and reads lines from stdin. Plain lines are sent as
chat messages; lines starting with / are commands:

  /connect <ip> <port>   dial a peer directly
  /onion <addr> [port]   dial a peer through the SOCKS5 proxy
  /ping                  measure round-trip latency
  /sendfile <path>       offer a file to the peer
  /accept                accept the pending file offer
  /decline               decline the pending file offer
  /quit                  disconnect and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := wire.NewManager(printEvent)
			defer mgr.Close()

			if err := mgr.StartServer(); err != nil {
				return err
			}
			if connectTo != "" {
				host, portStr, ok := strings.Cut(connectTo, ":")
				if !ok {
					return fmt.Errorf("--connect wants ip:port, got %q", connectTo)
				}
				port, err := strconv.Atoi(portStr)
				if err != nil {
					return fmt.Errorf("--connect port: %w", err)
				}
				if err := mgr.Connect(host, port, dialTimeout); err != nil {
					return err
				}
			}
			if onionTo != "" {
				if err := mgr.ConnectOnion(onionTo, domain.Fingerprint(expectFP), listenPort, dialTimeout); err != nil {
					return err
				}
			}

			return readLoop(mgr)
		},
	}
	cmd.Flags().StringVar(&connectTo, "connect", "", "peer to dial on startup, ip:port")
	cmd.Flags().StringVar(&onionTo, "onion", "", "onion peer to dial on startup")
	cmd.Flags().StringVar(&expectFP, "fingerprint", "", "expected fingerprint of the onion peer (informational)")
	return cmd
}

func readLoop(mgr *peer.Manager) error {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := mgr.Send(line); err != nil {
				fmt.Println("! " + err.Error())
			}
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			mgr.Disconnect()
			return nil
		case "/connect":
			if len(fields) != 3 {
				fmt.Println("usage: /connect <ip> <port>")
				continue
			}
			port, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Println("! bad port: " + fields[2])
				continue
			}
			if err := mgr.Connect(fields[1], port, dialTimeout); err != nil {
				fmt.Println("! " + err.Error())
			}
		case "/onion":
			if len(fields) < 2 {
				fmt.Println("usage: /onion <addr> [port]")
				continue
			}
			port := listenPort
			if len(fields) > 2 {
				var err error
				if port, err = strconv.Atoi(fields[2]); err != nil {
					fmt.Println("! bad port: " + fields[2])
					continue
				}
			}
			if err := mgr.ConnectOnion(fields[1], "", port, dialTimeout); err != nil {
				fmt.Println("! " + err.Error())
			}
		case "/ping":
			rtt, err := mgr.Ping(5 * time.Second)
			if err != nil {
				fmt.Println("! " + err.Error())
				continue
			}
			fmt.Printf("Latency: %.2fms\n", float64(rtt.Microseconds())/1000)
		case "/sendfile":
			if len(fields) != 2 {
				fmt.Println("usage: /sendfile <path>")
				continue
			}
			if err := mgr.SendFile(fields[1], nil); err != nil {
				fmt.Println("! " + err.Error())
			}
		case "/accept":
			if err := mgr.AcceptFile(nil); err != nil {
				fmt.Println("! " + err.Error())
			}
		case "/decline":
			if err := mgr.DeclineFile(); err != nil {
				fmt.Println("! " + err.Error())
			}
		default:
			fmt.Println("! unknown command: " + fields[0])
		}
	}
	mgr.Disconnect()
	return sc.Err()
}

// printEvent renders core events. All terminal output for the session happens
// here; the connection core never writes to the terminal itself.
func printEvent(ev domain.Event) {
	switch ev.Kind {
	case domain.EventChat:
		fmt.Printf("[%s | %s] %s\n", ev.From, ev.Time.Format("15:04:05"), ev.Text)
	default:
		fmt.Println("* " + ev.Text)
	}
}
