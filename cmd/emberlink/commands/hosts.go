package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"emberlink/internal/domain"
)

func hostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Manage the known-hosts trust store",
	}
	cmd.AddCommand(hostsAddCmd(), hostsListCmd(), hostsRemoveCmd(), hostsNickCmd())
	return cmd
}

func hostsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <address> <fingerprint>",
		Short: "Trust a peer fingerprint for an address",
		Long:  "Address is ip:port, name.onion, or name.onion:port. The fingerprint is the 64-character hex digest the peer shares out of band.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Hosts.Add(args[0], domain.Fingerprint(args[1])); err != nil {
				return err
			}
			fmt.Printf("Host %s with fingerprint %s added.\n", args[0], args[1])
			return nil
		},
	}
}

func hostsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trusted hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := wire.Hosts.List()
			if len(entries) == 0 {
				fmt.Println("No registered hosts found.")
				return nil
			}
			for _, e := range entries {
				nick := e.Nickname
				if nick == "" {
					nick = "-"
				}
				fmt.Printf("%-40s %s  nickname=%s\n", e.Address, e.Fingerprint, nick)
			}
			return nil
		},
	}
}

func hostsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <address>",
		Short: "Remove a trusted host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.Hosts.Remove(args[0])
		},
	}
}

func hostsNickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nick <fingerprint> <nickname>",
		Short: "Attach a display name to a fingerprint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.Hosts.SetNickname(domain.Fingerprint(args[0]), args[1])
		},
	}
}
