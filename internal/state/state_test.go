package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// putRaw writes an arbitrary count value, bypassing Set validation, to
// simulate a corrupted cache.
func putRaw(t *testing.T, inv *Inventory, target, raw string) {
	t.Helper()
	require.NoError(t, inv.put(target, []byte(raw)))
}

const testTarget = "dropbox:/backup/docs"

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Inventory().Set(testTarget, 100))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	n, ok := s2.Inventory().Get(testTarget)
	assert.True(t, ok)
	assert.Equal(t, int64(100), n)
}

// --- Get / Set ---

func TestGet_AbsentByDefault(t *testing.T) {
	inv := testDB(t).Inventory()
	n, ok := inv.Get(testTarget)
	assert.False(t, ok)
	assert.Equal(t, int64(0), n)
}

func TestSetGet_RoundTrip(t *testing.T) {
	inv := testDB(t).Inventory()

	for _, n := range []int64{0, 1, 40, 100, 1 << 40} {
		require.NoError(t, inv.Set(testTarget, n))
		got, ok := inv.Get(testTarget)
		assert.True(t, ok, "count %d should be cached", n)
		assert.Equal(t, n, got)
	}
}

func TestSet_RejectsNegative(t *testing.T) {
	inv := testDB(t).Inventory()
	err := inv.Set(testTarget, -1)
	require.Error(t, err)

	_, ok := inv.Get(testTarget)
	assert.False(t, ok)
}

func TestGet_CorruptValueIsAbsent(t *testing.T) {
	inv := testDB(t).Inventory()

	for _, raw := range []string{"corrupt", "abc", "", "-5", "12.5", " 7"} {
		putRaw(t, inv, testTarget, raw)
		_, ok := inv.Get(testTarget)
		assert.False(t, ok, "raw value %q should be treated as absent", raw)
	}
}

func TestSet_OverwritesCorruptValue(t *testing.T) {
	inv := testDB(t).Inventory()
	putRaw(t, inv, testTarget, "abc")

	require.NoError(t, inv.Set(testTarget, 42))

	n, ok := inv.Get(testTarget)
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
}

func TestGet_IsolatedBetweenTargets(t *testing.T) {
	inv := testDB(t).Inventory()
	require.NoError(t, inv.Set("gs://a/x", 10))
	require.NoError(t, inv.Set("gs://b/y", 20))

	a, _ := inv.Get("gs://a/x")
	b, _ := inv.Get("gs://b/y")
	assert.Equal(t, int64(10), a)
	assert.Equal(t, int64(20), b)
}

// --- Invalidate ---

func TestInvalidate_RemovesEntry(t *testing.T) {
	inv := testDB(t).Inventory()
	require.NoError(t, inv.Set(testTarget, 5))
	require.NoError(t, inv.Invalidate(testTarget))

	_, ok := inv.Get(testTarget)
	assert.False(t, ok)

	e, err := inv.Entry(testTarget)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestInvalidate_MissingIsNoop(t *testing.T) {
	inv := testDB(t).Inventory()
	require.NoError(t, inv.Invalidate("never-cached"))
}

// --- Entry / All ---

func TestEntry_RecordsUpdateTime(t *testing.T) {
	inv := testDB(t).Inventory()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inv.now = func() time.Time { return fixed }

	require.NoError(t, inv.Set(testTarget, 9))

	e, err := inv.Entry(testTarget)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, testTarget, e.Target)
	assert.True(t, e.Valid)
	assert.Equal(t, "9", e.Raw)
	assert.True(t, fixed.Equal(e.LastUpdated))
}

func TestEntry_CorruptReportsRaw(t *testing.T) {
	inv := testDB(t).Inventory()
	putRaw(t, inv, testTarget, "abc")

	e, err := inv.Entry(testTarget)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.False(t, e.Valid)
	assert.Equal(t, "abc", e.Raw)
}

func TestAll_SortedAndSkipsOtherBuckets(t *testing.T) {
	s := testDB(t)
	inv := s.Inventory()
	require.NoError(t, inv.Set("s3://z/bucket", 3))
	require.NoError(t, inv.Set("gs://a/bucket", 1))
	putRaw(t, inv, "remote:broken", "nope")

	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("unrelated"))
		if err != nil {
			return err
		}
		return b.Put([]byte("count"), []byte("9"))
	}))

	entries, err := inv.All()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "gs://a/bucket", entries[0].Target)
	assert.Equal(t, "remote:broken", entries[1].Target)
	assert.False(t, entries[1].Valid)
	assert.Equal(t, "s3://z/bucket", entries[2].Target)
	assert.Equal(t, int64(3), entries[2].Count)
}

func TestLoadAt_StartsWithoutBuckets(t *testing.T) {
	s := testDB(t)

	var names []string
	require.NoError(t, s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	}))
	assert.Empty(t, names)
}
