package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the local identity keypair",
		Long:  "Generates the P-384 identity on first run. Running it again is harmless: the existing key is kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Identity ready.\nFingerprint: %s\n", wire.Identity.Fingerprint())
			fmt.Println("Share this fingerprint out of band; peers must add it before you can connect.")
			return nil
		},
	}
}
