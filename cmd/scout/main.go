// Command scout runs briefing digests and opportunity discovery.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/steveyegge/scout/internal/ai"
	"github.com/steveyegge/scout/internal/config"
	"github.com/steveyegge/scout/internal/logging"
	"github.com/steveyegge/scout/internal/runner"
	"github.com/steveyegge/scout/internal/storage"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "scout",
	Short:         "Tech briefings and product opportunity discovery",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		if logFormat != "" {
			loaded.Logging.Format = logFormat
		}
		l, err := logging.New(logging.Options{
			Level:  loaded.Logging.Level,
			Format: loaded.Logging.Format,
			File:   loaded.Logging.File,
		})
		if err != nil {
			return err
		}
		slog.SetDefault(l)
		cfg, logger = loaded, l
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")
}

// openGateway opens the configured store behind the retrying gateway
func openGateway(ctx context.Context) (*storage.Gateway, error) {
	store, err := storage.NewStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return storage.NewGateway(store, cfg.Retry.Policy(), logger), nil
}

// newRunner wires a runner against the production generation client
func newRunner(gw *storage.Gateway) (*runner.Runner, error) {
	client, err := ai.NewClient(ai.Config{
		APIKey:             cfg.AI.APIKey,
		Model:              cfg.AI.Model,
		MaxTokens:          cfg.AI.MaxTokens,
		MaxConcurrentCalls: cfg.AI.MaxConcurrentCalls,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}
	return runner.New(runner.Deps{
		Config:    cfg,
		Generator: client,
		Store:     gw,
		Logger:    logger,
	})
}

func main() {
	// The first interrupt drains the run; in-flight calls finish and
	// completed output is still persisted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
