package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSnapshot(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".brdgs"), []byte(content), 0644))
}

func TestRead_GroupsInFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "PersonA", ""+
		"k3 3.3.3.3 3 NEW\n"+
		"k1 1.1.1.1 1 RUNNING\n"+
		"k2 2.2.2.2 2 NEW\n"+
		"k4 4.4.4.4 4 OLD\n"+
		"garbage\n")

	g, err := ReadBucket(dir, "PersonA")
	require.NoError(t, err)

	require.Len(t, g.New, 2)
	assert.Equal(t, "k3", g.New[0].IdentityKey)
	assert.Equal(t, "k2", g.New[1].IdentityKey)
	require.Len(t, g.Running, 1)
	assert.Equal(t, "1.1.1.1:1", g.Running[0].Endpoint())
	require.Len(t, g.Old, 1)
	assert.Equal(t, 4, g.Len())
	assert.False(t, g.Empty())
}

func TestRead_MissingFile(t *testing.T) {
	g, err := ReadBucket(t.TempDir(), "Nobody")
	require.NoError(t, err)
	assert.NotNil(t, g.New)
	assert.NotNil(t, g.Running)
	assert.NotNil(t, g.Old)
	assert.Equal(t, 0, g.Len())
	assert.True(t, g.Empty())
}

func TestGroups_EmptyIgnoresOld(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "PersonB", "k1 1.1.1.1 1 OLD\n")

	g, err := ReadBucket(dir, "PersonB")
	require.NoError(t, err)
	assert.True(t, g.Empty())
	assert.Len(t, g.Old, 1)
}

func TestLister(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "PersonA", "k1 1.1.1.1 1 NEW\nk2 2.2.2.2 2 OLD\n")

	l := &Lister{Dir: dir, Buckets: []BucketRef{{Name: "PersonA", Capacity: 10}, {Name: "PersonB", Capacity: 5}}}
	counts, err := l.ListBucketCounts()
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 1, counts[0].New)
	assert.Equal(t, 1, counts[0].Old)
	assert.Equal(t, 10, counts[0].Capacity)
	assert.Equal(t, 0, counts[1].New+counts[1].Running+counts[1].Old)
}
