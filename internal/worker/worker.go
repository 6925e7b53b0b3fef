// Package worker runs the per-folder loop: wait for changes, ask the
// deletion guard, mirror, and refresh the inventory cache.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/folder-mirror/internal/confirm"
	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
	"github.com/alexjbarnes/folder-mirror/internal/guard"
	"github.com/alexjbarnes/folder-mirror/internal/mirror"
	"github.com/alexjbarnes/folder-mirror/internal/watcher"
)

//go:generate mockgen -source=worker.go -destination=mock_worker_test.go -package=worker

const (
	// DefaultDebounce is the flat quiet period after the first change
	// before a sync is considered.
	DefaultDebounce = 5 * time.Second

	// DefaultWatchRetryDelay is the pause before re-installing a failed
	// watch.
	DefaultWatchRetryDelay = 10 * time.Second
)

// State is the worker's position in its loop.
type State int32

const (
	Starting State = iota
	Checking
	Syncing
	Idle
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Checking:
		return "checking"
	case Syncing:
		return "syncing"
	case Idle:
		return "idle"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Detector produces change triggers. watcher.Detector satisfies it.
type Detector interface {
	Run(ctx context.Context) error
	Next(ctx context.Context) (watcher.ChangeEvent, error)
	Drain() int
}

// Evaluator is the deletion guard. guard.Guard satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, folder, target string) guard.Decision
}

// Syncer mirrors the folder. mirror.Target satisfies it.
type Syncer interface {
	Mirror(ctx context.Context, dir string) mirror.Outcome
	Count(ctx context.Context) (int64, error)
}

// Inventory is the part of the inventory cache the worker writes after a
// sync.
type Inventory interface {
	Set(target string, count int64) error
	Invalidate(target string) error
}

// LogTrimmer caps the folder log after each sync.
type LogTrimmer interface {
	Trim() (bool, error)
}

// Options holds a worker's collaborators and timings. Debounce and
// WatchRetryDelay fall back to their defaults when zero. Logger is
// expected to carry the folder and remote attributes.
type Options struct {
	Folder string
	Target string

	Detector  Detector
	Guard     Evaluator
	Syncer    Syncer
	Inventory Inventory
	Confirm   confirm.Func
	Log       LogTrimmer
	Logger    *slog.Logger

	Debounce        time.Duration
	WatchRetryDelay time.Duration
}

// Worker owns one folder to remote mapping and its cache entry.
type Worker struct {
	folder string
	target string

	detector  Detector
	guard     Evaluator
	syncer    Syncer
	inventory Inventory
	confirm   confirm.Func
	log       LogTrimmer
	logger    *slog.Logger

	debounce   time.Duration
	retryDelay time.Duration

	state atomic.Int32
	syncs atomic.Int64
}

// New creates a Worker in the Starting state.
func New(opts Options) *Worker {
	w := &Worker{
		folder:     opts.Folder,
		target:     opts.Target,
		detector:   opts.Detector,
		guard:      opts.Guard,
		syncer:     opts.Syncer,
		inventory:  opts.Inventory,
		confirm:    opts.Confirm,
		log:        opts.Log,
		logger:     opts.Logger,
		debounce:   opts.Debounce,
		retryDelay: opts.WatchRetryDelay,
	}

	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}

	if w.retryDelay <= 0 {
		w.retryDelay = DefaultWatchRetryDelay
	}

	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}

	if w.confirm == nil {
		w.confirm = confirm.Deny
	}

	return w
}

// State returns the current state. Safe to call from any goroutine.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Syncs returns how many mirror calls have been made.
func (w *Worker) Syncs() int64 {
	return w.syncs.Load()
}

func (w *Worker) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	if prev != s {
		w.logger.Debug("worker state", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run performs one unconditional pass and then mirrors on every
// debounced change until ctx is cancelled. Cancellation is only honored
// while idle; a guard check or sync already under way completes first.
// Run returns nil once Stopped by cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(Starting)
	w.logger.Info("worker started")

	watchCtx, stopWatch := context.WithCancel(ctx)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		w.watch(watchCtx)
	}()

	defer func() {
		stopWatch()
		wg.Wait()
		w.setState(Stopped)
		w.logger.Info("worker stopped")
	}()

	w.cycle(ctx, "startup")

	for {
		w.setState(Idle)

		if ctx.Err() != nil {
			return nil
		}

		ev, err := w.detector.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("waiting for changes in %s: %w", w.folder, err)
		}

		w.logger.Info("change detected, waiting for quiet period",
			slog.String("kind", ev.Kind.String()),
			slog.String("path", ev.Path),
			slog.Int("events", ev.Count),
			slog.Duration("delay", w.debounce),
		)

		timer := time.NewTimer(w.debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		// The sync below covers anything that arrived during the wait.
		if n := w.detector.Drain(); n > 0 {
			w.logger.Debug("changes during quiet period", slog.Int("events", n))
		}

		w.cycle(ctx, "change")
	}
}

// watch keeps the detector running, re-installing it after failures.
func (w *Worker) watch(ctx context.Context) {
	for {
		err := w.detector.Run(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			err = fmt.Errorf("%w: watcher exited", apperrors.ErrWatch)
		}

		w.logger.Warn("watch failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", w.retryDelay),
		)

		timer := time.NewTimer(w.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle is one Checking (and possibly Syncing) pass. It runs on a
// context detached from cancellation so the pass finishes; only the
// confirmation prompt sees ctx, so shutdown abandons an open question.
func (w *Worker) cycle(ctx context.Context, trigger string) {
	w.setState(Checking)
	defer w.trimLog()

	work := context.WithoutCancel(ctx)

	d := w.guard.Evaluate(work, w.folder, w.target)
	w.logDecision(trigger, d)

	if d.Verdict == guard.AwaitConfirmation {
		d = guard.Resolve(ctx, d, w.folder, w.target, guard.ConfirmFunc(w.confirm))
		w.logDecision(trigger, d)
	}

	if d.Verdict != guard.Proceed {
		return
	}

	w.setState(Syncing)
	w.syncs.Add(1)

	out := w.syncer.Mirror(work, w.folder)

	if out.Success {
		w.refreshInventory(work, out)
		w.logger.LogAttrs(work, slog.LevelInfo, "sync succeeded", out.LogAttrs()...)
	} else {
		w.logger.LogAttrs(work, slog.LevelError, "sync failed", out.LogAttrs()...)
	}
}

func (w *Worker) refreshInventory(ctx context.Context, out mirror.Outcome) {
	count := out.RemoteCount

	if count < 0 {
		n, err := w.syncer.Count(ctx)
		if err != nil {
			// A stale count would mislead the next guard check.
			w.logger.Warn("recount after sync failed, dropping cached count",
				slog.String("error", err.Error()),
			)

			if err := w.inventory.Invalidate(w.target); err != nil {
				w.logger.Warn("invalidating cached count", slog.String("error", err.Error()))
			}

			return
		}

		count = n
	}

	if err := w.inventory.Set(w.target, count); err != nil {
		w.logger.Warn("caching remote count",
			slog.String("error", err.Error()),
		)

		return
	}

	w.logger.Debug("cached remote count", slog.Int64("count", count))
}

func (w *Worker) logDecision(trigger string, d guard.Decision) {
	attrs := []slog.Attr{
		slog.String("trigger", trigger),
		slog.String("verdict", d.Verdict.String()),
		slog.String("reason", d.Reason),
		slog.Int("deleted", d.Deleted),
		slog.Int64("total", d.Total),
	}

	if d.Plan != nil {
		attrs = append(attrs, slog.String("plan", d.Plan.String()))
	}

	if d.Err != nil {
		attrs = append(attrs, slog.String("error", d.Err.Error()))
	}

	level := slog.LevelInfo

	switch {
	case d.Verdict == guard.AwaitConfirmation:
		level = slog.LevelWarn
	case errors.Is(d.Err, apperrors.ErrGuardUnresolvable):
		level = slog.LevelWarn
	case errors.Is(d.Err, apperrors.ErrUserDenied):
		level = slog.LevelWarn
	}

	w.logger.LogAttrs(context.Background(), level, "deletion guard decision", attrs...)
}

func (w *Worker) trimLog() {
	if w.log == nil {
		return
	}

	trimmed, err := w.log.Trim()
	if err != nil {
		w.logger.Warn("trimming folder log", slog.String("error", err.Error()))
		return
	}

	if trimmed {
		w.logger.Debug("folder log trimmed")
	}
}
