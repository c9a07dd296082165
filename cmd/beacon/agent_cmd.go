package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fentz26/beacon/internal/agent"
	"github.com/fentz26/beacon/internal/config"
	"github.com/fentz26/beacon/internal/connectors/localexec"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the polling agent",
	Long: `Polls the server for one command at a time, runs it locally and reports
the output. Exits after acknowledging a kill.`,
	RunE: runAgent,
}

func init() {
	def := config.Default()

	f := agentCmd.Flags()
	f.String("server-address", def.Agent.ServerAddress, "Server host")
	f.Int("server-port", def.Agent.ServerPort, "Server port")
	f.String("proxy-address", def.Agent.ProxyAddress, "HTTP CONNECT proxy host (empty connects directly)")
	f.Int("proxy-port", def.Agent.ProxyPort, "HTTP CONNECT proxy port")
	f.Duration("interval", def.Agent.Interval.Std(), "Wait before each poll")
	f.Duration("exec-timeout", def.Agent.ExecTimeout.Std(), "Timeout for one command")
	f.StringSlice("allow", nil, "Only run these programs (default: any)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	stringFlag(fs, "server-address", &cfg.Agent.ServerAddress)
	intFlag(fs, "server-port", &cfg.Agent.ServerPort)
	stringFlag(fs, "proxy-address", &cfg.Agent.ProxyAddress)
	intFlag(fs, "proxy-port", &cfg.Agent.ProxyPort)
	durationFlag(fs, "interval", &cfg.Agent.Interval)
	durationFlag(fs, "exec-timeout", &cfg.Agent.ExecTimeout)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	opts := []localexec.Option{localexec.WithTimeout(cfg.Agent.ExecTimeout.Std())}
	if workDir, err := os.Getwd(); err == nil {
		opts = append(opts, localexec.WithWorkDir(workDir))
	}
	allow, _ := fs.GetStringSlice("allow")
	if len(allow) > 0 {
		opts = append(opts, localexec.WithAllowlist(allow...))
	}

	b, err := agent.New(agent.Config{
		ServerURL: cfg.Agent.ServerURL(),
		ProxyAddr: cfg.Agent.ProxyURL(),
		Interval:  cfg.Agent.Interval.Std(),
		Executor:  localexec.New(opts...),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
