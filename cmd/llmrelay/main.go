package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bluefunda/llm-relay/config"
	"github.com/bluefunda/llm-relay/internal/relay"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "llmrelay",
	Short:         "Call configured LLM providers through one relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LLMRELAY_LOG_LEVEL"), "log level (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseLevel maps a level name to zerolog, defaulting to info
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// openRelay loads the config and builds the relay; callers must Close it
func openRelay(cmd *cobra.Command) (*relay.Relay, *config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	r, err := relay.Build(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("build relay: %w", err)
	}
	return r, cfg, nil
}
