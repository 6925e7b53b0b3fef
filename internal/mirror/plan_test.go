package mirror

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alexjbarnes/folder-mirror/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_EmptyAndString(t *testing.T) {
	p := &Plan{LocalCount: 3}
	assert.True(t, p.Empty())
	assert.Equal(t, "create=0 update=0 delete=0 local=3", p.String())

	p.Deletes = []string{"x"}
	assert.False(t, p.Empty())
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	same := writeFile(t, dir, "same.txt", "same")
	grown := writeFile(t, dir, "grown.txt", "longer now")
	touched := writeFile(t, dir, "touched.txt", "abc")
	hashed := writeFile(t, dir, "hashed.txt", "abc")
	writeFile(t, dir, "new.txt", "new")

	require.NoError(t, os.Chtimes(same, base, base))
	require.NoError(t, os.Chtimes(grown, base, base))
	require.NoError(t, os.Chtimes(touched, base.Add(time.Hour), base.Add(time.Hour)))
	require.NoError(t, os.Chtimes(hashed, base, base))

	local, err := Scan(context.Background(), dir)
	require.NoError(t, err)

	objects := []remote.Object{
		{Key: "same.txt", Size: 4, ModTime: base},
		{Key: "grown.txt", Size: 3, ModTime: base},
		{Key: "touched.txt", Size: 3, ModTime: base},
		// md5("abd"): same size, different content.
		{Key: "hashed.txt", Size: 3, MD5: "4911e516e5aa21d327512e0c8b197616", ModTime: base.Add(time.Hour)},
		{Key: "stale.txt", Size: 1, ModTime: base},
	}

	plan, err := diff(context.Background(), local, objects)
	require.NoError(t, err)

	assert.Equal(t, []string{"new.txt"}, plan.Creates)
	assert.Equal(t, []string{"grown.txt", "hashed.txt", "touched.txt"}, plan.Updates)
	assert.Equal(t, []string{"stale.txt"}, plan.Deletes)
	assert.Equal(t, 5, plan.LocalCount)
}

func TestDiff_MatchingMD5IsUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "abc")

	local, err := Scan(context.Background(), dir)
	require.NoError(t, err)

	// md5("abc"); a newer remote mtime must not matter when hashes agree.
	objects := []remote.Object{{Key: "a.txt", Size: 3, MD5: "900150983cd24fb0d6963f7d28e17f72"}}

	plan, err := diff(context.Background(), local, objects)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestDiff_EmptyLocal(t *testing.T) {
	plan, err := diff(context.Background(), map[string]LocalFile{}, []remote.Object{
		{Key: "a"}, {Key: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, plan.LocalCount)
	assert.Equal(t, []string{"a", "b"}, plan.Deletes)
}
