package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/folder-mirror/internal/config"
	"github.com/alexjbarnes/folder-mirror/internal/confirm"
	"github.com/alexjbarnes/folder-mirror/internal/guard"
	"github.com/alexjbarnes/folder-mirror/internal/logging"
	"github.com/alexjbarnes/folder-mirror/internal/mirror"
	"github.com/alexjbarnes/folder-mirror/internal/state"
	"github.com/alexjbarnes/folder-mirror/internal/watcher"
	"github.com/alexjbarnes/folder-mirror/internal/worker"
)

// Deps are the process-wide collaborators shared by every worker.
type Deps struct {
	Config    *config.Config
	Inventory *state.Inventory
	Confirm   confirm.Func
	Logger    *slog.Logger
}

// NewFactory returns a Factory that builds the production pipeline for a
// mapping: folder log, remote target, guard, detector and worker.
func NewFactory(deps Deps) Factory {
	cfg := deps.Config

	return func(ctx context.Context, m config.FolderMapping) (Runner, func(), error) {
		fl, err := logging.OpenFolderLog(cfg.LogDir, m.LocalPath, cfg.LogMaxBytes())
		if err != nil {
			return nil, nil, fmt.Errorf("opening folder log: %w", err)
		}

		logger := logging.WithFolderLog(deps.Logger, fl).With(
			slog.String("folder", m.LocalPath),
			slog.String("remote", m.RemoteTarget),
		)

		target, err := mirror.Open(ctx, m.RemoteTarget, mirror.Options{
			Retries:    cfg.SyncRetries,
			Timeout:    cfg.SyncTimeout,
			RclonePath: cfg.RclonePath,
			S3:         cfg.S3Options(),
			Logger:     logger,
		})
		if err != nil {
			fl.Close()
			return nil, nil, fmt.Errorf("opening remote %s: %w", m.RemoteTarget, err)
		}

		w := worker.New(worker.Options{
			Folder:          m.LocalPath,
			Target:          m.RemoteTarget,
			Detector:        watcher.New(m.LocalPath, logger, cfg.LogDir),
			Guard:           guard.New(target, deps.Inventory, cfg.DeleteThreshold, logger),
			Syncer:          target,
			Inventory:       deps.Inventory,
			Confirm:         deps.Confirm,
			Log:             fl,
			Logger:          logger,
			Debounce:        cfg.Debounce,
			WatchRetryDelay: cfg.WatchRetryDelay,
		})

		logger.Info("monitoring folder", slog.String("log", fl.Path()))

		return w, func() { fl.Close() }, nil
	}
}
