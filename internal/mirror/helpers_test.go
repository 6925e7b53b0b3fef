package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alexjbarnes/folder-mirror/internal/remote"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// seedFiles writes n small files named file-000.txt, file-001.txt, ...
func seedFiles(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		writeFile(t, dir, fmt.Sprintf("file-%03d.txt", i), fmt.Sprintf("content %d", i))
	}
}

// recordingStore wraps a Store and counts mutating calls. failPuts and
// failDeletes make the next N calls of that kind fail.
type recordingStore struct {
	remote.Store

	mu          sync.Mutex
	lists       int
	puts        []string
	deletes     []string
	failPuts    int
	failDeletes int
	failLists   int
}

func (r *recordingStore) List(ctx context.Context) ([]remote.Object, error) {
	r.mu.Lock()
	r.lists++
	if r.failLists > 0 {
		r.failLists--
		r.mu.Unlock()
		return nil, fmt.Errorf("list: connection reset")
	}
	r.mu.Unlock()

	return r.Store.List(ctx)
}

func (r *recordingStore) Put(ctx context.Context, key, src string) error {
	r.mu.Lock()
	if r.failPuts > 0 {
		r.failPuts--
		r.mu.Unlock()
		return fmt.Errorf("put %s: 503 service unavailable", key)
	}
	r.puts = append(r.puts, key)
	r.mu.Unlock()

	return r.Store.Put(ctx, key, src)
}

func (r *recordingStore) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	if r.failDeletes > 0 {
		r.failDeletes--
		r.mu.Unlock()
		return fmt.Errorf("delete %s: timeout", key)
	}
	r.deletes = append(r.deletes, key)
	r.mu.Unlock()

	return r.Store.Delete(ctx, key)
}

func (r *recordingStore) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = 0
	r.puts = nil
	r.deletes = nil
}

// newLocalTarget returns an ObjectTarget over a LocalStore in a temp dir,
// with backoff disabled so retries run instantly.
func newLocalTarget(t *testing.T, retries int) (*ObjectTarget, *recordingStore) {
	t.Helper()

	store, err := remote.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	rec := &recordingStore{Store: store}
	target := NewObjectTarget(rec, Options{Retries: retries, Logger: testLogger})
	target.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	return target, rec
}
