// mem-measure is the per-run measurement worker. memd spawns one instance
// per launch as `mem-measure <controller-url> --run-id <handle>`; it fetches
// its measurement over the Controller API, drives the instrument plugin, and
// reports the outcome before exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/me/mem/internal/controller"
	"github.com/me/mem/internal/controller/plugin"
	"github.com/me/mem/internal/logging"
)

func main() {
	// The endpoint comes first on the command line, before the flags, so
	// split it off by hand.
	args := os.Args[1:]
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fmt.Fprintln(os.Stderr, "usage: mem-measure <controller-url> --run-id <handle> [flags]")
		os.Exit(2)
	}
	endpoint := args[0]

	fs := flag.NewFlagSet("mem-measure", flag.ExitOnError)
	runID := fs.String("run-id", "", "Run handle issued by the daemon (required)")
	pluginName := fs.String("plugin", "simulator", "Instrument plugin (sleeper, simulator)")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "text", "Log format (text, json)")
	debug := fs.Bool("debug", false, "Shorthand for --log-level=debug")
	fs.Parse(args[1:])

	if *debug {
		*logLevel = "debug"
	}
	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logFormat)

	if *runID == "" {
		fmt.Fprintln(os.Stderr, "--run-id is required")
		os.Exit(2)
	}

	pl, err := plugin.Lookup(*pluginName, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugin: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker starting", "endpoint", endpoint, "handle", *runID, "plugin", *pluginName)

	client := controller.NewClient(endpoint, logger)
	ctrl := controller.New(client, pl, *runID, logger)
	if err := ctrl.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info("worker finished")
}
