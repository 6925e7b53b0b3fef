// Package guard decides whether a pending mirror looks like an accidental
// mass delete. It compares the number of remote objects a sync would
// delete against the remote's total object count.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
	"github.com/alexjbarnes/folder-mirror/internal/mirror"
)

//go:generate mockgen -source=guard.go -destination=mock_guard_test.go -package=guard

// DefaultThreshold is the deletion fraction above which a sync needs
// confirmation.
const DefaultThreshold = 0.2

// Verdict is the kind of decision the guard reached.
type Verdict int

const (
	// Proceed means the sync may run.
	Proceed Verdict = iota

	// Blocked means the sync must not run for this trigger.
	Blocked

	// AwaitConfirmation means a human (or policy) must approve the sync.
	AwaitConfirmation
)

func (v Verdict) String() string {
	switch v {
	case Proceed:
		return "proceed"
	case Blocked:
		return "blocked"
	case AwaitConfirmation:
		return "await_confirmation"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is computed fresh for every trigger and never persisted.
type Decision struct {
	Verdict Verdict
	Reason  string
	Err     error

	Deleted int
	Total   int64
	Plan    *mirror.Plan
}

// Fraction returns Deleted/Total, or 0 when Total is zero.
func (d Decision) Fraction() float64 {
	if d.Total <= 0 {
		return 0
	}

	return float64(d.Deleted) / float64(d.Total)
}

// Baseline is the tri-state knowledge of the remote object count. A zero
// count is only meaningful when it was verified.
type Baseline int

const (
	BaselineAbsent Baseline = iota
	BaselineVerifiedZero
	BaselineNonZero
)

func (b Baseline) String() string {
	switch b {
	case BaselineVerifiedZero:
		return "verified_zero"
	case BaselineNonZero:
		return "nonzero"
	default:
		return "absent"
	}
}

// Planner produces a dry-run plan and a live object count for a remote.
// mirror.Target satisfies it.
type Planner interface {
	Plan(ctx context.Context, dir string) (*mirror.Plan, error)
	Count(ctx context.Context) (int64, error)
}

// Cache is the persisted remote inventory. state.Inventory satisfies it.
type Cache interface {
	Get(target string) (int64, bool)
	Set(target string, count int64) error
	Invalidate(target string) error
}

// ConfirmFunc asks whether a sync flagged by the guard may run. It
// returns true only for an affirmative answer.
type ConfirmFunc func(ctx context.Context, folder, target, reason string) bool

// Guard evaluates pending syncs for one folder and remote pair.
type Guard struct {
	planner   Planner
	cache     Cache
	threshold float64
	logger    *slog.Logger
}

// New creates a Guard. A threshold outside [0, 1] falls back to
// DefaultThreshold. Zero asks before any deletion.
func New(planner Planner, cache Cache, threshold float64, logger *slog.Logger) *Guard {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	return &Guard{
		planner:   planner,
		cache:     cache,
		threshold: threshold,
		logger:    logger,
	}
}

// Threshold returns the configured deletion fraction limit.
func (g *Guard) Threshold() float64 {
	return g.threshold
}

// Evaluate runs a dry-run comparison of folder against target and
// decides whether the resulting deletions are safe.
func (g *Guard) Evaluate(ctx context.Context, folder, target string) Decision {
	plan, err := g.planner.Plan(ctx, folder)
	if err != nil {
		return Decision{
			Verdict: Blocked,
			Reason:  "dry-run comparison failed",
			Err:     fmt.Errorf("%w: dry-run: %w", apperrors.ErrGuardUnresolvable, err),
		}
	}

	deleted := len(plan.Deletes)

	total, baseline, err := g.baseline(ctx, target, deleted)
	if err != nil {
		return Decision{
			Verdict: Blocked,
			Reason:  "cannot establish safe baseline",
			Err:     err,
			Deleted: deleted,
			Plan:    plan,
		}
	}

	d := Decision{Deleted: deleted, Total: total, Plan: plan}

	switch {
	case baseline == BaselineVerifiedZero && deleted > 0:
		// The remote reports nothing to lose yet the diff wants to
		// delete. One of the two is wrong; do not guess which.
		d.Verdict = Blocked
		d.Reason = "cannot establish safe baseline"
		d.Err = fmt.Errorf("%w: remote count is zero but %d deletions are pending", apperrors.ErrGuardUnresolvable, deleted)

	case baseline == BaselineVerifiedZero:
		d.Verdict = Proceed
		d.Reason = "remote is empty"

	case plan.LocalCount == 0 && deleted > 0:
		d.Verdict = AwaitConfirmation
		d.Reason = fmt.Sprintf("would delete all %d remote files", deleted)

	case d.Fraction() > g.threshold:
		d.Verdict = AwaitConfirmation
		d.Reason = fmt.Sprintf("would delete %d/%d files, fraction=%.2f", deleted, total, d.Fraction())

	default:
		d.Verdict = Proceed
		d.Reason = fmt.Sprintf("deleting %d/%d files is within threshold %.2f", deleted, total, g.threshold)
	}

	return d
}

// baseline returns the remote total from the cache, falling back to a
// live count that then populates the cache. A cached zero contradicted
// by pending deletions is dropped and recounted, and a live zero in the
// same situation is never cached.
func (g *Guard) baseline(ctx context.Context, target string, deleted int) (int64, Baseline, error) {
	if n, ok := g.cache.Get(target); ok {
		if n > 0 || deleted == 0 {
			return n, classify(n), nil
		}

		g.logger.Info("cached remote count is zero but deletions are pending, recounting",
			slog.Int("deleted", deleted))

		if err := g.cache.Invalidate(target); err != nil {
			g.logger.Warn("failed to invalidate cached remote count", slog.String("error", err.Error()))
		}
	} else {
		g.logger.Info("inventory cache miss, counting remote objects")
	}

	n, err := g.planner.Count(ctx)
	if err != nil {
		return 0, BaselineAbsent, fmt.Errorf("%w: live count: %w", apperrors.ErrGuardUnresolvable, err)
	}

	if n < 0 {
		return 0, BaselineAbsent, fmt.Errorf("%w: live count returned %d", apperrors.ErrGuardUnresolvable, n)
	}

	if n == 0 && deleted > 0 {
		return n, BaselineVerifiedZero, nil
	}

	if err := g.cache.Set(target, n); err != nil {
		g.logger.Warn("failed to cache remote count", slog.String("error", err.Error()))
	}

	return n, classify(n), nil
}

func classify(n int64) Baseline {
	if n == 0 {
		return BaselineVerifiedZero
	}

	return BaselineNonZero
}

// Resolve turns AwaitConfirmation into Proceed or Blocked by asking
// confirm. Other verdicts pass through unchanged. A nil confirm denies.
func Resolve(ctx context.Context, d Decision, folder, target string, confirm ConfirmFunc) Decision {
	if d.Verdict != AwaitConfirmation {
		return d
	}

	if confirm != nil && confirm(ctx, folder, target, d.Reason) {
		d.Verdict = Proceed
		d.Reason = "confirmed: " + d.Reason

		return d
	}

	d.Verdict = Blocked
	d.Err = fmt.Errorf("%w: %s", apperrors.ErrUserDenied, d.Reason)
	d.Reason = "denied: " + d.Reason

	return d
}

// IsUnresolvable reports whether d was blocked for lack of a baseline.
func IsUnresolvable(d Decision) bool {
	return errors.Is(d.Err, apperrors.ErrGuardUnresolvable)
}
