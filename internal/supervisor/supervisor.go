// Package supervisor starts one folder worker per mapping and waits for
// them on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/folder-mirror/internal/config"
	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds the wait for workers after cancellation.
const DefaultShutdownTimeout = 10 * time.Minute

// Runner is a started folder worker.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds the worker for one mapping. The returned cleanup runs
// after the worker exits and may be nil.
type Factory func(ctx context.Context, m config.FolderMapping) (Runner, func(), error)

// Supervisor owns the mapping list and the worker lifecycle.
type Supervisor struct {
	factory         Factory
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New creates a Supervisor. A non-positive shutdownTimeout uses
// DefaultShutdownTimeout.
func New(factory Factory, logger *slog.Logger, shutdownTimeout time.Duration) *Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	return &Supervisor{
		factory:         factory,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run starts a worker per mapping and blocks until ctx is cancelled and
// every worker has stopped, or the shutdown timeout expires. A mapping
// whose worker cannot be built is skipped; worker errors are logged and
// never stop the others. Run fails only when no worker could start.
func (s *Supervisor) Run(ctx context.Context, mappings []config.FolderMapping) error {
	var g errgroup.Group

	started := 0

	for _, m := range mappings {
		runner, cleanup, err := s.factory(ctx, m)
		if err != nil {
			s.logger.Error("skipping mapping",
				slog.String("folder", m.LocalPath),
				slog.String("remote", m.RemoteTarget),
				slog.String("error", err.Error()),
			)

			continue
		}

		started++

		g.Go(func() error {
			if cleanup != nil {
				defer cleanup()
			}

			if err := runner.Run(ctx); err != nil {
				s.logger.Error("worker exited with error",
					slog.String("folder", m.LocalPath),
					slog.String("remote", m.RemoteTarget),
					slog.String("error", err.Error()),
				)
			}

			return nil
		})
	}

	if started == 0 {
		return fmt.Errorf("%w: no usable folder mappings", apperrors.ErrConfig)
	}

	s.logger.Info("workers started", slog.Int("count", started))

	done := make(chan struct{})

	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all workers stopped")
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down, waiting for in-flight syncs",
		slog.Duration("timeout", s.shutdownTimeout),
	)

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("all workers stopped")
	case <-timer.C:
		s.logger.Warn("shutdown timeout reached with workers still running",
			slog.Duration("timeout", s.shutdownTimeout),
		)
	}

	return nil
}
