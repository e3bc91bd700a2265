// Package cli implements the memctl command line client for the measurement
// daemon's Guide API.
package cli

import (
	"log/slog"
	"os"

	"github.com/me/mem/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default Guide URL, checking MEM_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("MEM_SERVER"); s != "" {
		return s
	}
	return "http://localhost:9025"
}

// NewRootCmd creates the root cobra command for the memctl CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memctl",
		Short: "memctl — control the measurement scheduling daemon",
		Long:  "memctl queues, inspects, and removes measurements on a running memd daemon, and controls its fetch counter.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Guide server URL (or MEM_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newAddCmd(),
		newQueueCmd(),
		newLenCmd(),
		newRemoveCmd(),
		newFetchCmd(),
		newCurrentCmd(),
		newHistoryCmd(),
		newWatchCmd(),
	)

	return root
}
