//go:build unix

package pipeline

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOIsInternalError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, syscall.Mkfifo(filepath.Join(f.root, "pipe"), 0644))

	start := time.Now()
	r := f.roundTrip(t, "GET /pipe HTTP/1.1\r\n\r\n")

	assert.Equal(t, 500, r.status)
	assert.Contains(t, r.body, "500 Internal Server Error")
	assert.Less(t, time.Since(start), f.cfg.Server.ReadTimeout, "a FIFO without writer must not block the handler")
}

func TestDeviceIsInternalError(t *testing.T) {
	if _, err := os.Stat("/dev/zero"); err != nil {
		t.Skip("/dev/zero not available")
	}
	f := newFixture(t)
	f.cfg.Server.AllowOutsideRoot = true
	require.NoError(t, os.Symlink("/dev/zero", filepath.Join(f.root, "zero")))

	r := f.roundTrip(t, "GET /zero HTTP/1.1\r\n\r\n")

	assert.Equal(t, 500, r.status)
}

func TestReadFileRefusesFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipe")
	require.NoError(t, syscall.Mkfifo(path, 0644))

	done := make(chan error, 1)
	go func() {
		_, _, err := readFile(path)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errNotRegular)
	case <-time.After(2 * time.Second):
		t.Fatal("readFile blocked on a FIFO")
	}
}
