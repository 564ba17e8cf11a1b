// Command masrouf records expenses written in everyday Arabic, from a chat
// bot, an HTTP API or the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/masrouf/internal/plugins"
	"github.com/ArionMiles/masrouf/pkg/config"
	"github.com/ArionMiles/masrouf/pkg/ledger"
	"github.com/ArionMiles/masrouf/pkg/logging"
)

var version = "dev"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	opts     config.Options
	cfg      config.Config
	logger   *slog.Logger
	registry *plugins.Registry
	logOut   io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{registry: plugins.Default(), logOut: os.Stderr}

	root := &cobra.Command{
		Use:   "masrouf",
		Short: "Arabic natural-language expense logger",
		Long: `masrouf turns short Arabic messages such as "صرفت 150 طعام" into
categorized expense records, tracks them against a monthly budget and
mirrors them to CSV, JSON Lines or Google Sheets.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logCfg := logging.DefaultConfig()
			logCfg.Output = a.logOut
			a.logger = logging.Setup(logCfg)

			cfg, err := config.Load(a.opts)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.opts.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&a.opts.ConfigFile, "config", "", "optional JSON config file with the same keys as the environment")

	root.AddCommand(
		a.runCmd(),
		a.addCmd(),
		a.parseCmd(),
		a.recentCmd(),
		a.statsCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.categoriesCmd(),
		a.setupCmd(),
		a.statusCmd(),
	)

	return root
}

// openLedger opens the configured store and loads the ledger from it. The
// returned func closes the store.
func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	storeCfg, err := a.cfg.StorePluginConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("building store config: %w", err)
	}
	store, err := a.registry.OpenStore(ctx, a.cfg.StorePlugin, storeCfg,
		a.logger.With("component", "store", "plugin", a.cfg.StorePlugin))
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			a.logger.Error("failed to close store", "error", err)
		}
	}

	l := ledger.New(store, ledger.Config{Settings: a.cfg.Settings()}, a.logger.With("component", "ledger"))
	if err := l.Load(ctx); err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("loading ledger: %w", err)
	}
	return l, closeStore, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
