//go:build unix

package batch

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLocker_DetectsExclusiveLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "held.docx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	locker := NewFileLocker()

	locked, err := locker.IsLocked(path)
	require.NoError(t, err)
	assert.False(t, locked)

	holder, err := os.Open(path)
	require.NoError(t, err)

	defer holder.Close()

	require.NoError(t, syscall.Flock(int(holder.Fd()), syscall.LOCK_EX|syscall.LOCK_NB))

	locked, err = locker.IsLocked(path)
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, syscall.Flock(int(holder.Fd()), syscall.LOCK_UN))

	locked, err = locker.IsLocked(path)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestFileLocker_MissingFileNotLocked(t *testing.T) {
	t.Parallel()

	locked, err := NewFileLocker().IsLocked(filepath.Join(t.TempDir(), "missing"))

	require.NoError(t, err)
	assert.False(t, locked)
}
