// Package root contains the root command for the application
package root

import (
	"fjacquet/smspipe/internal/classifier"
	"fjacquet/smspipe/internal/config"
	"fjacquet/smspipe/internal/pipeline"
	"fjacquet/smspipe/internal/registry"
	"fjacquet/smspipe/internal/store"
	"fjacquet/smspipe/internal/syncer"
	"fjacquet/smspipe/internal/wallet"
	"fjacquet/smspipe/internal/webhook"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Log is the shared logger instance for commands
	Log = logrus.New()

	// Cmd is the root command
	Cmd = &cobra.Command{
		Use:   "smspipe",
		Short: "Capture mobile-money SMS notifications and sync them to a remote ledger.",
		Long: `smspipe classifies inbound mobile-money SMS notifications, stores them
durably as transaction records, pushes pending records to a remote backend
with bounded retries, and relays signed webhooks to third-party endpoints.`,
		Run: func(cmd *cobra.Command, args []string) {
			Log.Info("Welcome to smspipe!")
			Log.Info("Use --help to see available commands")
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize and configure logging
			config.LoadEnv()
			Log = config.ConfigureLogging()

			// Set the configured logger for all pipeline packages
			registry.SetLogger(Log)
			classifier.SetLogger(Log)
			store.SetLogger(Log)
			syncer.SetLogger(Log)
			webhook.SetLogger(Log)
			pipeline.SetLogger(Log)
		},
	}
)

// Init initializes the root command and all flags
func Init() {
	// No persistent flags yet; configuration is file/env driven.
}

// App bundles the long-lived handles a command needs.
type App struct {
	Cfg   *config.Config
	Store *store.Store
	Pipe  *pipeline.Pipeline
}

// Bootstrap loads configuration, opens the store and assembles the
// pipeline. Every subcommand that touches records starts here.
func Bootstrap() (*App, error) {
	cfg, err := config.InitializeConfig()
	if err != nil {
		return nil, err
	}
	Log = config.ConfigureLoggingFromConfig(cfg)

	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	pipe, err := pipeline.Build(cfg, st, wallet.Noop{})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &App{Cfg: cfg, Store: st, Pipe: pipe}, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		Log.WithError(err).Warn("Failed to close store")
	}
}
