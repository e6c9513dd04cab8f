package filelock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForTarget_StableName(t *testing.T) {
	dir := t.TempDir()

	a, err := ForTarget(dir, "/models/yolo26n.pt")
	require.NoError(t, err)
	b, err := ForTarget(dir, "/models/yolo26n.pt")
	require.NoError(t, err)
	c, err := ForTarget(dir, "/models/other.pt")
	require.NoError(t, err)

	assert.Equal(t, a.Path(), b.Path())
	assert.NotEqual(t, a.Path(), c.Path())
	assert.Equal(t, dir, filepath.Dir(a.Path()))
}

func TestFileLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	first := NewFileLock(path)
	second := NewFileLock(path)

	require.NoError(t, first.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, second.Lock(ctx), "second lock must not be acquired while the first is held")

	require.NoError(t, first.Unlock())

	require.NoError(t, second.Lock(context.Background()))
	require.NoError(t, second.Unlock())
}

func TestFileLock_LockHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	holder := NewFileLock(path)
	require.NoError(t, holder.Lock(context.Background()))
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := NewFileLock(path).Lock(ctx)
	assert.Error(t, err)
}
