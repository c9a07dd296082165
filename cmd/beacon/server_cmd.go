package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/beacon/internal/audit"
	"github.com/fentz26/beacon/internal/config"
	"github.com/fentz26/beacon/internal/console"
	"github.com/fentz26/beacon/internal/controlplane"
	"github.com/fentz26/beacon/internal/metrics"
	"github.com/fentz26/beacon/internal/sessionlog"
	"github.com/fentz26/beacon/internal/store"
	"github.com/fentz26/beacon/internal/tasks"
	"github.com/fentz26/beacon/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const shutdownGrace = 30 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the command server and operator console",
	Long: `Starts the HTTP server agents poll for work, together with an operator
console for queueing commands. The console is a TUI on a terminal and a
line menu otherwise (or with --plain).`,
	RunE: runServer,
}

func init() {
	def := config.Default()

	f := serverCmd.Flags()
	f.String("listen", def.Server.Listen, "Listen address for agent polls")
	f.String("session-log", def.Server.SessionLog, "JSON session log of completed tasks")
	f.String("db", def.Server.DB, "SQLite history and audit database (empty disables it)")
	f.String("metrics-listen", def.Server.MetricsListen, "Serve Prometheus metrics on this address")
	f.Bool("plain", def.Server.Plain, "Use the line console even on a terminal")
	f.String("tui-log-file", def.Server.TUILogFile, "Log file used while the TUI owns the terminal")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	stringFlag(fs, "listen", &cfg.Server.Listen)
	stringFlag(fs, "session-log", &cfg.Server.SessionLog)
	stringFlag(fs, "db", &cfg.Server.DB)
	stringFlag(fs, "metrics-listen", &cfg.Server.MetricsListen)
	boolFlag(fs, "plain", &cfg.Server.Plain)
	stringFlag(fs, "tui-log-file", &cfg.Server.TUILogFile)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	useTUI := !cfg.Server.Plain &&
		term.IsTerminal(int(os.Stdin.Fd())) &&
		term.IsTerminal(int(os.Stdout.Fd()))
	if useTUI && cfg.Log.File == "" {
		cfg.Log.File = cfg.Server.TUILogFile
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	// Initialize sinks
	sessionLog, err := sessionlog.Open(cfg.Server.SessionLog, sessionlog.WithLogger(logger))
	if err != nil {
		return err
	}
	sinks := tasks.MultiSink{sessionLog}

	var pdr *audit.PDRWriter
	if cfg.Server.DB != "" {
		s, err := store.New(cfg.Server.DB)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Warn("database close error", "error", err)
			}
		}()
		sinks = append(sinks, s)
		pdr = audit.NewPDRWriter(s)
	}

	// Create service and server
	m := metrics.MustNew(nil)
	manager := tasks.NewManager(tasks.WithSink(sinks), tasks.WithLogger(logger))
	service := controlplane.NewService(manager, pdr, m, logger)
	server := controlplane.NewServer(service, m, logger)

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Listen, err)
	}
	logger.Info("server listening",
		"addr", ln.Addr().String(),
		"session_log", sessionLog.Path(),
		"db", cfg.Server.DB,
		"tui", useTUI)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(ln)
	})

	var metricsSrv *http.Server
	if cfg.Server.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Server.MetricsListen)
			err := metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}

	consoleDone := make(chan struct{})
	g.Go(func() error {
		defer close(consoleDone)
		var err error
		if useTUI {
			err = tui.New(service).Run(gctx)
		} else {
			err = console.New(service, os.Stdin, os.Stdout, logger).Run(gctx)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Shut the listeners down once the console exits, the agent acknowledges
	// a kill, a signal arrives or another goroutine fails.
	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("initiating graceful shutdown")
		case <-consoleDone:
			logger.Info("console exited, initiating graceful shutdown")
		case <-service.Shutdown().Done():
			logger.Info("kill acknowledged, initiating graceful shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown error", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	snap := service.Snapshot()
	logger.Info("shutdown complete",
		"completed", snap.Completed,
		"pending", snap.Pending,
		"in_flight", snap.Dispatched)
	return err
}
