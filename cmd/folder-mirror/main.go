package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/folder-mirror/internal/config"
	"github.com/alexjbarnes/folder-mirror/internal/confirm"
	"github.com/alexjbarnes/folder-mirror/internal/logging"
	"github.com/alexjbarnes/folder-mirror/internal/state"
	"github.com/alexjbarnes/folder-mirror/internal/supervisor"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "folder-mirror",
		Short: "Mirror local folders to remote storage whenever they change",
		Long: `folder-mirror watches each folder listed in the mapping file and mirrors
it to its remote target after every burst of changes. Syncs that would
delete a large share of the remote are held for confirmation.

Configuration is read from the environment (and a .env file if present).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMirror(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Watch and mirror every configured folder (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMirror(cmd.Context())
			},
		},
		newCheckCmd(),
		newCacheCmd(),
	)

	return root
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, logging.NewLogger(cfg.Environment), nil
}

func openState(cfg *config.Config) (*state.State, error) {
	if cfg.StatePath != "" {
		return state.LoadAt(cfg.StatePath)
	}

	return state.Load()
}

func runMirror(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	logger.Info("folder-mirror starting",
		slog.String("version", Version),
		slog.String("mapping_file", cfg.MappingFile),
		slog.Float64("delete_threshold", cfg.DeleteThreshold),
		slog.String("confirm_policy", cfg.ConfirmPolicy),
	)

	mappings, err := config.LoadMappings(cfg.MappingFile, logger)
	if err != nil {
		return err
	}

	appState, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	answer, err := confirm.FromPolicy(cfg.ConfirmPolicy, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}

	factory := supervisor.NewFactory(supervisor.Deps{
		Config:    cfg,
		Inventory: appState.Inventory(),
		Confirm:   answer,
		Logger:    logger,
	})

	err = supervisor.New(factory, logger, cfg.ShutdownTimeout).Run(ctx, mappings)
	if err != nil {
		return err
	}

	logger.Info("folder-mirror stopped")

	return nil
}
