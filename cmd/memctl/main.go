// memctl is the command line client for the memd daemon.
package main

import (
	"os"

	"github.com/me/mem/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
