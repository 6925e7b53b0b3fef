// Package watcher turns filesystem notifications under a mirrored folder
// into coalesced change triggers.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
	"github.com/fsnotify/fsnotify"
)

// Kind classifies a filesystem change.
type Kind int

const (
	Modify Kind = iota
	Create
	Delete
	Move
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Delete:
		return "delete"
	case Move:
		return "move"
	default:
		return "modify"
	}
}

// ChangeEvent is the most recent change seen under Folder. Count is the
// number of raw events merged into it since the previous Next.
type ChangeEvent struct {
	Folder string
	Path   string
	Kind   Kind
	Time   time.Time
	Count  int
}

// Detector watches one folder recursively. Run feeds it; Next consumes.
// Pending changes are kept in a single slot so a burst of any size
// yields at most one outstanding trigger.
type Detector struct {
	folder string
	logger *slog.Logger
	ignore []string
	now    func() time.Time

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending *ChangeEvent
	ready   chan struct{}
}

// New creates a Detector for folder. Paths under any of ignore (for
// example a log directory inside the folder) never trigger.
func New(folder string, logger *slog.Logger, ignore ...string) *Detector {
	cleaned := make([]string, 0, len(ignore))
	for _, p := range ignore {
		if p != "" {
			cleaned = append(cleaned, filepath.Clean(p))
		}
	}

	return &Detector{
		folder: filepath.Clean(folder),
		logger: logger,
		ignore: cleaned,
		now:    time.Now,
		ready:  make(chan struct{}, 1),
	}
}

// Folder returns the watched directory.
func (d *Detector) Folder() string {
	return d.folder
}

// Run installs the watch and records events until ctx is cancelled. Any
// failure to install or keep the watch is returned wrapped in ErrWatch;
// the caller may call Run again to re-install it.
func (d *Detector) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: creating watcher: %w", apperrors.ErrWatch, err)
	}

	d.watcher = watcher
	defer watcher.Close()

	if err := d.addRecursive(d.folder); err != nil {
		return fmt.Errorf("%w: watching %s: %w", apperrors.ErrWatch, d.folder, err)
	}

	d.logger.Info("file watcher started", slog.String("dir", d.folder))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: fsnotify events channel closed unexpectedly", apperrors.ErrWatch)
			}

			d.handle(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: fsnotify errors channel closed unexpectedly", apperrors.ErrWatch)
			}

			if err == fsnotify.ErrEventOverflow {
				// Events were lost; a sync picks up whatever changed.
				d.record(ChangeEvent{Folder: d.folder, Path: d.folder, Kind: Modify})
			}

			d.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (d *Detector) handle(event fsnotify.Event) {
	if d.shouldIgnore(event.Name) {
		return
	}

	kind, ok := classify(event)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		// Use Lstat so a symlink to a directory outside the folder is
		// never followed.
		info, err := os.Lstat(event.Name)
		if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			if err := d.addRecursive(event.Name); err != nil {
				d.logger.Warn("watching new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		// Harmless if the path was not a watched directory.
		_ = d.watcher.Remove(event.Name)
	}

	d.logger.Debug("change detected",
		slog.String("path", event.Name),
		slog.String("kind", kind.String()),
	)

	d.record(ChangeEvent{Folder: d.folder, Path: event.Name, Kind: kind})
}

func classify(event fsnotify.Event) (Kind, bool) {
	switch {
	case event.Has(fsnotify.Rename):
		return Move, true
	case event.Has(fsnotify.Remove):
		return Delete, true
	case event.Has(fsnotify.Create):
		return Create, true
	case event.Has(fsnotify.Write):
		return Modify, true
	default:
		// Chmod alone changes nothing the mirror copies.
		return 0, false
	}
}

// record merges ev into the pending slot and wakes a waiting Next.
func (d *Detector) record(ev ChangeEvent) {
	ev.Time = d.now()

	d.mu.Lock()
	if d.pending != nil {
		ev.Count = d.pending.Count + 1
	} else {
		ev.Count = 1
	}
	d.pending = &ev
	d.mu.Unlock()

	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// Next blocks until at least one change is pending, then returns it and
// clears the slot. Changes recorded while the caller was busy make the
// following Next return immediately.
func (d *Detector) Next(ctx context.Context) (ChangeEvent, error) {
	for {
		if ev, ok := d.take(); ok {
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return ChangeEvent{}, ctx.Err()
		case <-d.ready:
		}
	}
}

// Drain clears any pending change and reports how many raw events it
// held.
func (d *Detector) Drain() int {
	ev, ok := d.take()
	if !ok {
		return 0
	}

	return ev.Count
}

func (d *Detector) take() (ChangeEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return ChangeEvent{}, false
	}

	ev := *d.pending
	d.pending = nil

	return ev, true
}

func (d *Detector) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() {
			return nil
		}

		if path != d.folder && d.shouldIgnore(path) {
			return filepath.SkipDir
		}

		if entry.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		return d.watcher.Add(path)
	})
}

func (d *Detector) shouldIgnore(path string) bool {
	for _, p := range d.ignore {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}

	base := filepath.Base(path)

	// Editor swap and backup files.
	return strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}
