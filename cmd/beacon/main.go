package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fentz26/beacon/internal/config"
	"github.com/fentz26/beacon/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - queue shell commands for a polling agent",
	Long: `Beacon runs an operator server that queues shell commands and an agent
that polls it over HTTP, runs each command locally and reports the output.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var configPath string

func init() {
	def := config.Default()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (.yaml, .yml or .toml; default ~/.beacon/config.yaml)")
	pf.String("log-level", def.Log.Level, "Log level (debug, info, warn, error)")
	pf.String("log-format", def.Log.Format, "Log format (text, json)")
	pf.String("log-file", "", "Write logs to this file instead of stderr")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and applies the global flags. Commands
// apply their own flags and then call Validate.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromHome()
	}
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	stringFlag(fs, "log-level", &cfg.Log.Level)
	stringFlag(fs, "log-format", &cfg.Log.Format)
	stringFlag(fs, "log-file", &cfg.Log.File)
	return cfg, nil
}

// newLogger builds the process logger. The returned close func releases the
// log file, if one was opened.
func newLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}

	if cfg.File != "" {
		f, err := logging.OpenFile(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closeFn = func() { f.Close() }
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: out,
	})
	return logger, closeFn, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
