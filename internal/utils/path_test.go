package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	_, err := ResolvePath("")
	assert.Error(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	resolved, err := ResolvePath("~/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), resolved)

	resolved, err = ResolvePath("/a/b/../c")
	require.NoError(t, err)
	assert.Equal(t, "/a/c", resolved)
}

func TestEnsureDirAndExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "x", "y")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, FileExists(dir))

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, EnsureParent(file))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
}
