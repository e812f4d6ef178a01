package reload

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/zest/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	mu    sync.Mutex
	cfg   *config.Config
	err   error
	calls int

	// block, when set, holds Load until closed
	block chan struct{}
}

func (l *stubLoader) Load() (*config.Config, error) {
	if l.block != nil {
		<-l.block
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.cfg, l.err
}

func (l *stubLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type stubRestarter struct {
	stops atomic.Int32
}

func (r *stubRestarter) StopGeneration() { r.stops.Add(1) }

type stubCache struct {
	listing, file int
	maxSize       int64
	purged        bool
}

func (c *stubCache) Resize(l, f int, max int64) {
	c.listing, c.file, c.maxSize = l, f, max
}

func (c *stubCache) Purge() { c.purged = true }

type stubMetrics struct {
	ok, failed int
}

func (m *stubMetrics) RecordRequest(int, time.Duration) {}
func (m *stubMetrics) SetActiveConnections(int32)       {}
func (m *stubMetrics) RecordConnectionAccepted()        {}
func (m *stubMetrics) RecordConnectionDenied()          {}
func (m *stubMetrics) RecordConnectionRejected()        {}
func (m *stubMetrics) SetGeneration(uint64)             {}
func (m *stubMetrics) RecordReload(success bool) {
	if success {
		m.ok++
	} else {
		m.failed++
	}
}

func snapshot(root string) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Server.Root = root
	return cfg
}

func noChdir(string) error { return nil }

func TestReloadPublishesNewSnapshot(t *testing.T) {
	current := snapshot("/srv/a")
	next := snapshot("/srv/a")
	next.Server.Cache.IndexCapacity = 4
	next.Server.Cache.FileCapacity = 8
	next.Server.Cache.FileMaxSize = 1024

	holder := config.NewHolder(current)
	cache := &stubCache{}
	restarter := &stubRestarter{}
	m := &stubMetrics{}
	var chdirTo string

	c := New(Options{
		Loader:    &stubLoader{cfg: next},
		Holder:    holder,
		Cache:     cache,
		Restarter: restarter,
		Chdir:     func(dir string) error { chdirTo = dir; return nil },
		Metrics:   m,
	})

	require.NoError(t, c.Reload())

	assert.Same(t, next, holder.Load())
	assert.Equal(t, "/srv/a", chdirTo)
	assert.Equal(t, 4, cache.listing)
	assert.Equal(t, 8, cache.file)
	assert.EqualValues(t, 1024, cache.maxSize)
	assert.False(t, cache.purged, "same root keeps cached entries")
	assert.EqualValues(t, 1, restarter.stops.Load())
	assert.Equal(t, 1, m.ok)
	assert.Equal(t, Idle, c.State())
}

func TestFailedReloadKeepsCurrentSnapshot(t *testing.T) {
	current := snapshot("/srv/a")
	copyOfCurrent := *current

	holder := config.NewHolder(current)
	restarter := &stubRestarter{}
	m := &stubMetrics{}
	loadErr := errors.New("bad yaml")

	c := New(Options{
		Loader:    &stubLoader{err: loadErr},
		Holder:    holder,
		Restarter: restarter,
		Chdir:     noChdir,
		Metrics:   m,
	})

	err := c.Reload()

	assert.ErrorIs(t, err, loadErr)
	assert.Same(t, current, holder.Load())
	assert.Equal(t, copyOfCurrent, *holder.Load())
	assert.Zero(t, restarter.stops.Load(), "listener is not restarted")
	assert.Equal(t, 1, m.failed)
}

func TestRootChangePurgesCache(t *testing.T) {
	cache := &stubCache{}
	c := New(Options{
		Loader: &stubLoader{cfg: snapshot("/srv/b")},
		Holder: config.NewHolder(snapshot("/srv/a")),
		Cache:  cache,
		Chdir:  noChdir,
	})

	require.NoError(t, c.Reload())
	assert.True(t, cache.purged)
}

func TestHooksSeeBothSnapshots(t *testing.T) {
	current := snapshot("/srv/a")
	next := snapshot("/srv/b")

	var gotPrev, gotNext *config.Config
	c := New(Options{
		Loader: &stubLoader{cfg: next},
		Holder: config.NewHolder(current),
		Chdir:  noChdir,
		Hooks: []Hook{
			func(prev, nxt *config.Config) error {
				gotPrev, gotNext = prev, nxt
				return errors.New("ignored")
			},
		},
	})

	require.NoError(t, c.Reload(), "hook errors do not fail the reload")
	assert.Same(t, current, gotPrev)
	assert.Same(t, next, gotNext)
}

func TestChdirFailureDoesNotAbortReload(t *testing.T) {
	next := snapshot("/srv/b")
	holder := config.NewHolder(snapshot("/srv/a"))
	c := New(Options{
		Loader: &stubLoader{cfg: next},
		Holder: holder,
		Chdir:  func(string) error { return os.ErrNotExist },
	})

	require.NoError(t, c.Reload())
	assert.Same(t, next, holder.Load())
}

func TestTriggerDeduplicatesQueuedReloads(t *testing.T) {
	loader := &stubLoader{cfg: snapshot("/srv/a")}
	c := New(Options{
		Loader: loader,
		Holder: config.NewHolder(snapshot("/srv/a")),
		Chdir:  noChdir,
	})

	// Run is not started: the first reload stays queued
	require.NoError(t, c.Trigger(EventReload))
	assert.ErrorIs(t, c.Trigger(EventReload), ErrReloadInProgress)
	assert.ErrorIs(t, c.Trigger(EventReload), ErrReloadInProgress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return loader.Calls() == 1 },
		5*time.Second, 10*time.Millisecond)

	// Once processed, a new request is accepted again
	require.Eventually(t, func() bool { return c.Trigger(EventReload) == nil },
		5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return loader.Calls() == 2 },
		5*time.Second, 10*time.Millisecond)
}

func TestTriggerDuringReloadIsRejected(t *testing.T) {
	loader := &stubLoader{cfg: snapshot("/srv/a"), block: make(chan struct{})}
	c := New(Options{
		Loader: loader,
		Holder: config.NewHolder(snapshot("/srv/a")),
		Chdir:  noChdir,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Trigger(EventReload))
	require.Eventually(t, func() bool { return c.State() == Reloading },
		5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, c.Trigger(EventReload), ErrReloadInProgress)

	close(loader.block)
	require.Eventually(t, func() bool { return c.State() == Idle },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, loader.Calls())
}

func TestTerminateStopsRun(t *testing.T) {
	c := New(Options{
		Loader: &stubLoader{cfg: snapshot("/srv/a")},
		Holder: config.NewHolder(snapshot("/srv/a")),
		Chdir:  noChdir,
	})

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	require.NoError(t, c.Trigger(EventTerminate))

	select {
	case <-c.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("terminate was not processed")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestTerminateAfterRunReturnedDoesNotBlock(t *testing.T) {
	c := New(Options{
		Loader: &stubLoader{cfg: snapshot("/srv/a")},
		Holder: config.NewHolder(snapshot("/srv/a")),
		Chdir:  noChdir,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	require.NoError(t, c.Trigger(EventTerminate))
	require.NoError(t, c.Trigger(EventTerminate), "a second terminate is folded into the first")
	assert.Len(t, c.events, 1, "only one terminate is queued")

	select {
	case <-c.Terminated():
		t.Fatal("terminate processed without Run")
	default:
	}
}

func TestApplyRestoresPreviousSnapshot(t *testing.T) {
	good := snapshot("/srv/a")
	good.Server.Cache.IndexCapacity = 16
	good.Server.Cache.FileCapacity = 16
	good.Server.Cache.FileMaxSize = 512
	broken := snapshot("/srv/b")
	broken.Server.Cache.IndexCapacity = 64
	broken.Server.Cache.FileCapacity = 64
	broken.Server.Cache.FileMaxSize = 4096

	cache := &stubCache{}
	var chdirTo []string
	var hookSaw []*config.Config
	c := New(Options{
		Loader: &stubLoader{cfg: broken},
		Holder: config.NewHolder(good),
		Cache:  cache,
		Chdir:  func(dir string) error { chdirTo = append(chdirTo, dir); return nil },
		Hooks: []Hook{
			func(_, next *config.Config) error {
				hookSaw = append(hookSaw, next)
				return nil
			},
		},
	})

	require.NoError(t, c.Reload())
	assert.Equal(t, 64, cache.listing)

	cache.purged = false
	c.Apply(broken, good)

	assert.Equal(t, 16, cache.listing)
	assert.Equal(t, 16, cache.file)
	assert.EqualValues(t, 512, cache.maxSize)
	assert.True(t, cache.purged, "entries cached under the other root are dropped")
	assert.Equal(t, []string{"/srv/b", "/srv/a"}, chdirTo)
	require.Len(t, hookSaw, 2)
	assert.Same(t, good, hookSaw[1])
}

func TestForwardSignals(t *testing.T) {
	loader := &stubLoader{cfg: snapshot("/srv/a")}
	c := New(Options{
		Loader: loader,
		Holder: config.NewHolder(snapshot("/srv/a")),
		Chdir:  noChdir,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	sigs := make(chan os.Signal, 2)
	go ForwardSignals(ctx, c, sigs)

	sigs <- syscall.SIGHUP
	require.Eventually(t, func() bool { return loader.Calls() == 1 },
		5*time.Second, 10*time.Millisecond)

	sigs <- syscall.SIGTERM
	select {
	case <-c.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("SIGTERM did not terminate")
	}
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "reload", EventReload.String())
	assert.Equal(t, "terminate", EventTerminate.String())
	assert.Equal(t, "unknown", Event(42).String())
}
