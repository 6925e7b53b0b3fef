// Package mirror performs one-way reconciliation of a local folder onto a
// remote target: after a successful Mirror the remote holds exactly the
// folder's files. The local side is never modified.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/alexjbarnes/folder-mirror/internal/remote"
)

// Target is a remote location a folder is mirrored to.
type Target interface {
	// Plan performs a dry-run comparison without modifying anything.
	Plan(ctx context.Context, dir string) (*Plan, error)

	// Mirror reconciles the remote to match dir. Transfer errors are
	// retried internally; the outcome reports what finally happened.
	Mirror(ctx context.Context, dir string) Outcome

	// Count queries the live number of objects on the remote.
	Count(ctx context.Context) (int64, error)

	String() string
}

// Stats counts the remote-side operations a mirror performed.
type Stats struct {
	Created int
	Updated int
	Deleted int
}

// Ops returns the total number of operations.
func (s Stats) Ops() int {
	return s.Created + s.Updated + s.Deleted
}

// Outcome is the result of one Mirror call.
type Outcome struct {
	Success bool
	Time    time.Time
	Err     error
	Stats   Stats

	// RemoteCount is the object count after a successful mirror, or -1
	// when the target cannot derive it without another query.
	RemoteCount int64
}

// LogAttrs renders the outcome as log attributes.
func (o Outcome) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.Bool("success", o.Success),
		slog.Int("created", o.Stats.Created),
		slog.Int("updated", o.Stats.Updated),
		slog.Int("deleted", o.Stats.Deleted),
	}

	if o.Err != nil {
		attrs = append(attrs, slog.String("error", o.Err.Error()))
	}

	return attrs
}

// Options configures targets created by Open.
type Options struct {
	// Retries bounds how often a failed transfer operation is retried.
	Retries int

	// Timeout bounds each remote operation attempt (and is passed to
	// rclone as its connection timeout).
	Timeout time.Duration

	RclonePath string
	S3         remote.S3Options

	Logger *slog.Logger
}

// Open returns the Target for a remote target string.
func Open(ctx context.Context, target string, opts Options) (Target, error) {
	loc, err := remote.ParseTarget(target)
	if err != nil {
		return nil, err
	}

	var store remote.Store

	switch loc.Kind {
	case remote.KindLocal:
		store, err = remote.NewLocalStore(loc.Prefix)
		if err != nil {
			return nil, err
		}

	case remote.KindGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating gcs client: %w", err)
		}

		store = remote.NewGCSStore(client, loc.Bucket, loc.Prefix)

	case remote.KindS3:
		client, err := remote.NewS3Client(opts.S3)
		if err != nil {
			return nil, err
		}

		store = remote.NewS3Store(client, loc.Bucket, loc.Prefix)

	default:
		return NewRcloneTarget(target, opts), nil
	}

	return NewObjectTarget(store, opts), nil
}
