package main

import (
	"os"

	"emberlink/cmd/emberlink/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
