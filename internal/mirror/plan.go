package mirror

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alexjbarnes/folder-mirror/internal/remote"
)

// Plan is the result of a dry-run comparison: what a real mirror would
// do to the remote side. Paths are store keys.
type Plan struct {
	Creates []string
	Updates []string
	Deletes []string

	// LocalCount is the number of regular files in the local folder.
	LocalCount int
}

// Empty reports whether the mirror would be a no-op.
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

func (p *Plan) String() string {
	return fmt.Sprintf("create=%d update=%d delete=%d local=%d",
		len(p.Creates), len(p.Updates), len(p.Deletes), p.LocalCount)
}

// diff compares the local scan with the remote listing. An object whose
// size differs is updated. With equal sizes, the MD5 decides when the
// store reports one; otherwise a local file newer than the stored copy
// (at one-second resolution) is updated.
func diff(ctx context.Context, local map[string]LocalFile, objects []remote.Object) (*Plan, error) {
	plan := &Plan{LocalCount: len(local)}
	seen := make(map[string]struct{}, len(objects))

	for _, obj := range objects {
		key := normalizeKey(obj.Key)
		seen[key] = struct{}{}

		lf, ok := local[key]
		if !ok {
			plan.Deletes = append(plan.Deletes, obj.Key)
			continue
		}

		changed, err := differs(ctx, lf, obj)
		if err != nil {
			return nil, err
		}

		if changed {
			plan.Updates = append(plan.Updates, key)
		}
	}

	for key := range local {
		if _, ok := seen[key]; !ok {
			plan.Creates = append(plan.Creates, key)
		}
	}

	sort.Strings(plan.Creates)
	sort.Strings(plan.Updates)
	sort.Strings(plan.Deletes)

	return plan, nil
}

func differs(ctx context.Context, lf LocalFile, obj remote.Object) (bool, error) {
	if lf.Size != obj.Size {
		return true, nil
	}

	if obj.MD5 != "" {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		sum, err := fileMD5(lf.Path)
		if err != nil {
			return false, fmt.Errorf("hashing %s: %w", lf.Key, err)
		}

		return sum != obj.MD5, nil
	}

	return lf.ModTime.Truncate(time.Second).After(obj.ModTime.Truncate(time.Second)), nil
}
