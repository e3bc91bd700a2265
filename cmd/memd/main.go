// memd is the measurement scheduling daemon. It owns the measurement queue,
// the fetch counter, and the worker lifecycle, and serves two HTTP surfaces:
// the Guide API for users and the Controller API for spawned workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/me/mem/internal/config"
	"github.com/me/mem/internal/gate"
	"github.com/me/mem/internal/history"
	"github.com/me/mem/internal/listener"
	"github.com/me/mem/internal/logging"
	"github.com/me/mem/internal/metrics"
	"github.com/me/mem/internal/queue"
	"github.com/me/mem/internal/scheduler"
	"github.com/me/mem/internal/server"
	"github.com/me/mem/internal/supervisor"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.GuideAddr, "guide-addr", cfg.GuideAddr, "Guide (user API) listen address")
	flag.StringVar(&cfg.ControllerAddr, "controller-addr", cfg.ControllerAddr, "Controller (worker API) listen address")
	flag.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Scheduler tick interval")
	flag.IntVar(&cfg.FetchCounter, "fetch-counter", cfg.FetchCounter, "Initial fetch counter (-1 for endless)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Run-history database path (default ~/.mem/mem.db)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.BoolVar(&cfg.DisableLaunch, "disable-launch", cfg.DisableLaunch, "Do not spawn worker processes (debugging)")
	flag.StringVar(&cfg.WorkerBin, "worker-bin", cfg.WorkerBin, "Worker binary spawned per measurement")
	flag.StringVar(&cfg.ControllerEndpoint, "controller-endpoint", cfg.ControllerEndpoint, "Controller URL handed to workers (derived from --controller-addr when empty)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Instrument configuration is the optional positional argument. Without
	// it, worker config requests are answered with an error.
	var instruments config.InstrumentConfig
	if path := flag.Arg(0); path != "" {
		var err error
		instruments, err = config.LoadInstrumentConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "instrument config: %v\n", err)
			os.Exit(1)
		}
		logger.Info("instrument config loaded", "path", path, "instruments", len(instruments))
	} else {
		logger.Warn("no instrument config given; worker config requests will fail")
	}

	// Resolve database path.
	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".mem")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "mem.db")
	}

	// Open run-history store and run migrations.
	st, err := history.NewSQLiteStore(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", dbPath)

	hub := listener.NewHub(logger, st)

	// Workers dial the Controller API; derive an endpoint they can reach
	// when none was given.
	endpoint := cfg.ControllerEndpoint
	if endpoint == "" {
		if strings.HasPrefix(cfg.ControllerAddr, ":") {
			endpoint = "http://localhost" + cfg.ControllerAddr
		} else {
			endpoint = "http://" + cfg.ControllerAddr
		}
	}

	var launcher supervisor.Launcher
	if cfg.DisableLaunch {
		logger.Warn("worker launching is disabled; runs must be driven by hand")
		launcher = &supervisor.NopLauncher{Logger: logger}
	} else {
		launcher = &supervisor.ProcessLauncher{
			Bin:      cfg.WorkerBin,
			Endpoint: endpoint,
			Logger:   logger,
		}
	}
	sup := supervisor.New(launcher, logger)

	loop := scheduler.NewLoop(
		queue.New(),
		gate.New(cfg.FetchCounter),
		sup,
		instruments,
		hub,
		metrics.Default(),
		scheduler.Config{TickInterval: cfg.TickInterval},
		logger,
	)

	guideSrv := server.NewGuide(loop, hub, logger, server.WithHistory(st))
	ctrlSrv := server.NewController(loop, logger)

	guideHTTP := &http.Server{Addr: cfg.GuideAddr, Handler: guideSrv.Handler()}
	ctrlHTTP := &http.Server{Addr: cfg.ControllerAddr, Handler: ctrlSrv.Handler()}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := loop.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("guide server starting", "addr", cfg.GuideAddr)
		if err := guideHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("guide server failed", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		logger.Info("controller server starting", "addr", cfg.ControllerAddr, "endpoint", endpoint)
		if err := ctrlHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("controller server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := guideHTTP.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "guide shutdown error: %v\n", err)
	}
	if err := ctrlHTTP.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "controller shutdown error: %v\n", err)
	}
	logger.Info("daemon stopped")
}
