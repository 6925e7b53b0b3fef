package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.folder-mirror/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	countKey  = []byte("count")
	updateKey = []byte("updated")
)

const inventoryPrefix = "inventory:"

func inventoryBucket(target string) []byte {
	return []byte(inventoryPrefix + target)
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.folder-mirror/state.db, creating it
// if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Inventory returns the remote inventory cache backed by this database.
func (s *State) Inventory() *Inventory {
	return &Inventory{db: s.db, now: time.Now}
}

// DefaultPath returns ~/.folder-mirror/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".folder-mirror", "state.db"), nil
}

// Entry is the persisted inventory record for one remote target. Valid
// is false when the stored count does not parse as a non-negative
// integer; Raw then holds what was found on disk.
type Entry struct {
	Target      string
	Count       int64
	Valid       bool
	Raw         string
	LastUpdated time.Time
}

// Inventory caches an estimated object count per remote target. Each
// target is read and written by exactly one folder worker.
type Inventory struct {
	db  *bolt.DB
	now func() time.Time
}

// Get returns the cached object count for target. The second result is
// false when nothing is cached or the stored value is not a non-negative
// integer; callers must then recount.
func (inv *Inventory) Get(target string) (int64, bool) {
	e, err := inv.Entry(target)
	if err != nil || e == nil || !e.Valid {
		return 0, false
	}

	return e.Count, true
}

// Set stores count for target and stamps the update time.
func (inv *Inventory) Set(target string, count int64) error {
	if count < 0 {
		return fmt.Errorf("negative object count %d for %s", count, target)
	}

	return inv.put(target, []byte(strconv.FormatInt(count, 10)))
}

func (inv *Inventory) put(target string, raw []byte) error {
	return inv.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(inventoryBucket(target))
		if err != nil {
			return err
		}

		if err := b.Put(countKey, raw); err != nil {
			return err
		}

		return b.Put(updateKey, []byte(inv.now().UTC().Format(time.RFC3339Nano)))
	})
}

// Invalidate drops the cached count for target. The next Get reports
// absent.
func (inv *Inventory) Invalidate(target string) error {
	return inv.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(inventoryBucket(target))
		if err == bolt.ErrBucketNotFound {
			return nil
		}

		return err
	})
}

// Entry returns the stored record for target, or nil if none exists.
func (inv *Inventory) Entry(target string) (*Entry, error) {
	var e *Entry

	err := inv.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(inventoryBucket(target))
		if b == nil {
			return nil
		}

		e = readEntry(target, b)

		return nil
	})

	return e, err
}

// All returns every stored record, sorted by target.
func (inv *Inventory) All() ([]Entry, error) {
	var entries []Entry

	err := inv.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			target, ok := strings.CutPrefix(string(name), inventoryPrefix)
			if !ok {
				return nil
			}

			entries = append(entries, *readEntry(target, b))

			return nil
		})
	})

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Target < entries[j].Target
	})

	return entries, err
}

func readEntry(target string, b *bolt.Bucket) *Entry {
	e := &Entry{Target: target}

	if v := b.Get(countKey); v != nil {
		e.Raw = string(v)
		if n, err := strconv.ParseInt(e.Raw, 10, 64); err == nil && n >= 0 {
			e.Count = n
			e.Valid = true
		}
	}

	if v := b.Get(updateKey); v != nil {
		if ts, err := time.Parse(time.RFC3339Nano, string(v)); err == nil {
			e.LastUpdated = ts
		}
	}

	return e
}
