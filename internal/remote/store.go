// Package remote provides object stores that can be mirrored into. Keys
// are slash-separated paths relative to the store root.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
)

// Object describes one stored object. MD5 is lowercase hex and empty
// when the store cannot report a content hash for the object.
type Object struct {
	Key     string
	Size    int64
	MD5     string
	ModTime time.Time
}

// Store is a flat object namespace rooted at a target location.
type Store interface {
	// List returns every object under the store root.
	List(ctx context.Context) ([]Object, error)

	// Put uploads the local file at src under key, replacing any
	// existing object.
	Put(ctx context.Context, key, src string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	String() string
}

// Kind identifies which backend a target string selects.
type Kind int

const (
	// KindRclone targets are passed to the rclone CLI as-is.
	KindRclone Kind = iota
	KindLocal
	KindGCS
	KindS3
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindGCS:
		return "gcs"
	case KindS3:
		return "s3"
	default:
		return "rclone"
	}
}

// Location is a parsed remote target.
type Location struct {
	Kind   Kind
	Bucket string
	// Prefix is the key prefix inside the bucket, without leading or
	// trailing slashes. For KindLocal it is the absolute directory.
	Prefix string
	Raw    string
}

// ParseTarget classifies a remote target string:
//
//	/abs/path, file:///abs/path  local directory
//	gs://bucket/prefix           Google Cloud Storage
//	s3://bucket/prefix           S3-compatible storage
//	anything else                rclone remote (e.g. dropbox:/backup)
func ParseTarget(target string) (Location, error) {
	loc := Location{Raw: target}

	switch {
	case target == "":
		return loc, fmt.Errorf("%w: empty target", apperrors.ErrUnknownTarget)

	case strings.HasPrefix(target, "file://"):
		u, err := url.Parse(target)
		if err != nil || u.Path == "" {
			return loc, fmt.Errorf("%w: %s", apperrors.ErrUnknownTarget, target)
		}

		loc.Kind = KindLocal
		loc.Prefix = filepath.Clean(filepath.FromSlash(u.Path))

	case filepath.IsAbs(target):
		loc.Kind = KindLocal
		loc.Prefix = filepath.Clean(target)

	case strings.HasPrefix(target, "gs://"), strings.HasPrefix(target, "s3://"):
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			return loc, fmt.Errorf("%w: %s", apperrors.ErrUnknownTarget, target)
		}

		loc.Kind = KindGCS
		if u.Scheme == "s3" {
			loc.Kind = KindS3
		}

		loc.Bucket = u.Host
		loc.Prefix = strings.Trim(u.Path, "/")

	default:
		loc.Kind = KindRclone
	}

	return loc, nil
}

// objectName joins a prefix and key into a bucket object name.
func objectName(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}

// keyFromName strips prefix from a bucket object name. The second result
// is false for names outside the prefix and for directory placeholders.
func keyFromName(prefix, name string) (string, bool) {
	if prefix != "" {
		rest, ok := strings.CutPrefix(name, prefix+"/")
		if !ok {
			return "", false
		}

		name = rest
	}

	if name == "" || strings.HasSuffix(name, "/") {
		return "", false
	}

	return name, true
}
