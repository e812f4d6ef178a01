package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string) *atomic.Int32 {
	t.Helper()

	var calls atomic.Int32
	w, err := New(path, func() { calls.Add(1) })
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	return &calls
}

func TestWriteTriggersChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0644))
	calls := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0644))

	require.Eventually(t, func() bool { return calls.Load() >= 1 },
		5*time.Second, 10*time.Millisecond)
}

func TestReplaceByRenameTriggersChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0644))
	calls := startWatcher(t, path)

	tmp := filepath.Join(dir, ".config.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("a: 2\n"), 0644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return calls.Load() >= 1 },
		5*time.Second, 10*time.Millisecond)
}

func TestOtherFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0644))
	calls := startWatcher(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0644))
	time.Sleep(200 * time.Millisecond)

	assert.Zero(t, calls.Load())
}

func TestNewFailsForMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "config.yaml"), func() {})
	assert.Error(t, err)
}
