package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
	"github.com/alexjbarnes/folder-mirror/internal/remote"
	"github.com/cenkalti/backoff/v4"
)

const (
	// retryInitialInterval and retryMaxInterval shape the exponential
	// backoff between attempts of a single store operation.
	retryInitialInterval = 1 * time.Second
	retryMaxInterval     = 30 * time.Second
)

// ObjectTarget mirrors onto a remote.Store by listing it, diffing against
// a local scan, and issuing one Put or Delete per differing key.
type ObjectTarget struct {
	store   remote.Store
	retries int
	timeout time.Duration
	logger  *slog.Logger

	newBackOff func() backoff.BackOff
	now        func() time.Time
}

func NewObjectTarget(store remote.Store, opts Options) *ObjectTarget {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ObjectTarget{
		store:   store,
		retries: opts.Retries,
		timeout: timeout,
		logger:  logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = retryInitialInterval
			b.MaxInterval = retryMaxInterval
			b.MaxElapsedTime = 0

			return b
		},
		now: time.Now,
	}
}

func (t *ObjectTarget) String() string {
	return t.store.String()
}

func (t *ObjectTarget) Plan(ctx context.Context, dir string) (*Plan, error) {
	plan, _, _, err := t.plan(ctx, dir)
	return plan, err
}

func (t *ObjectTarget) plan(ctx context.Context, dir string) (*Plan, map[string]LocalFile, int, error) {
	local, err := Scan(ctx, dir)
	if err != nil {
		return nil, nil, 0, err
	}

	objects, err := t.list(ctx)
	if err != nil {
		return nil, nil, 0, err
	}

	plan, err := diff(ctx, local, objects)
	if err != nil {
		return nil, nil, 0, err
	}

	return plan, local, len(objects), nil
}

func (t *ObjectTarget) Count(ctx context.Context) (int64, error) {
	objects, err := t.list(ctx)
	if err != nil {
		return 0, err
	}

	return int64(len(objects)), nil
}

func (t *ObjectTarget) list(ctx context.Context) ([]remote.Object, error) {
	var objects []remote.Object

	err := t.retry(ctx, "list", func(ctx context.Context) error {
		var err error
		objects, err = t.store.List(ctx)

		return err
	})

	return objects, err
}

// Mirror applies the plan. Individual operation failures do not stop the
// remaining operations; the outcome fails if any operation exhausted its
// retries.
func (t *ObjectTarget) Mirror(ctx context.Context, dir string) Outcome {
	out := Outcome{Time: t.now(), RemoteCount: -1}

	plan, local, listed, err := t.plan(ctx, dir)
	if err != nil {
		out.Err = fmt.Errorf("%w: %w", apperrors.ErrSyncFailure, err)
		return out
	}

	if plan.Empty() {
		out.Success = true
		out.RemoteCount = int64(listed)

		return out
	}

	var errs []error

	upload := func(key string, counter *int) {
		src := local[key].Path
		err := t.retry(ctx, "put "+key, func(ctx context.Context) error {
			return t.store.Put(ctx, key, src)
		})

		switch {
		case err == nil:
			*counter++
		case errors.Is(err, fs.ErrNotExist):
			// Removed locally after the scan; the next trigger deletes it.
			t.logger.Debug("source vanished before upload", slog.String("key", key))
		default:
			errs = append(errs, err)
		}
	}

	for _, key := range plan.Creates {
		upload(key, &out.Stats.Created)
	}

	for _, key := range plan.Updates {
		upload(key, &out.Stats.Updated)
	}

	for _, key := range plan.Deletes {
		err := t.retry(ctx, "delete "+key, func(ctx context.Context) error {
			return t.store.Delete(ctx, key)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}

		out.Stats.Deleted++
	}

	if len(errs) > 0 {
		out.Err = fmt.Errorf("%w: %w", apperrors.ErrSyncFailure, errors.Join(errs...))
		return out
	}

	out.Success = true
	out.RemoteCount = int64(listed + out.Stats.Created - out.Stats.Deleted)

	return out
}

// retry runs op until it succeeds, the retry budget is spent, or ctx is
// done. Each attempt gets its own timeout. A missing local source is
// permanent.
func (t *ObjectTarget) retry(ctx context.Context, what string, op func(ctx context.Context) error) error {
	attempt := 0

	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), uint64(max(t.retries, 0))), ctx)

	return backoff.Retry(func() error {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}

		if errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}

		t.logger.Warn("remote operation failed",
			slog.String("op", what),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		return err
	}, b)
}
