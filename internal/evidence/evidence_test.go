package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreDelete(t *testing.T) {
	root := t.TempDir()
	s := &LocalStore{Root: root}

	path := filepath.Join(root, "deposits", "b-1.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))

	require.NoError(t, s.Delete("deposits/b-1.jpg"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Idempotent: a reference that is already gone is success.
	assert.NoError(t, s.Delete("deposits/b-1.jpg"))
}

func TestLocalStoreRejectsEscapingRefs(t *testing.T) {
	s := &LocalStore{Root: t.TempDir()}
	assert.Error(t, s.Delete("../outside.txt"))
	assert.Error(t, s.Delete("/etc/passwd"))
}

func TestNopStore(t *testing.T) {
	assert.NoError(t, NopStore{}.Delete("anything"))
}
