// Package reload applies configuration changes to a running server.
//
// Every event, whether it comes from a signal, a file watcher or a test, is
// pushed onto one channel and consumed by a single goroutine, so two reloads
// never run at the same time and a terminate request is always processed
// after the reload before it.
package reload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/marmos91/zest/internal/logger"
	"github.com/marmos91/zest/pkg/config"
	"github.com/marmos91/zest/pkg/metrics"
)

// Event is a request to the coordinator.
type Event int

const (
	EventReload Event = iota
	EventTerminate
)

func (e Event) String() string {
	switch e {
	case EventReload:
		return "reload"
	case EventTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// State is the coordinator state.
type State int32

const (
	Idle State = iota
	Reloading
)

// ErrReloadInProgress is returned by Trigger when a reload is already
// running or queued; the request is folded into that reload.
var ErrReloadInProgress = errors.New("reload already in progress")

// ErrEventQueueFull is returned by Trigger when an event cannot be queued.
var ErrEventQueueFull = errors.New("event queue is full")

// Loader produces a fresh configuration snapshot.
type Loader interface {
	Load() (*config.Config, error)
}

// Restarter retires the current listener generation so the next one starts
// with the new snapshot.
type Restarter interface {
	StopGeneration()
}

// Resizer applies new cache capacities.
type Resizer interface {
	Resize(listingCapacity, fileCapacity int, maxFileSize int64)
	Purge()
}

// Hook runs after a new snapshot has been published. An error is logged and
// does not undo the reload.
type Hook func(previous, next *config.Config) error

// Options are the collaborators of a Coordinator.
type Options struct {
	Loader    Loader
	Holder    *config.Holder
	Cache     Resizer
	Restarter Restarter

	// Hooks run in order on every successful reload
	Hooks []Hook

	// Chdir changes the working directory to the new root. Defaults to os.Chdir.
	Chdir func(dir string) error

	// Metrics is optional
	Metrics metrics.ServerMetrics
}

// Coordinator serializes reload and terminate events.
type Coordinator struct {
	opts Options

	events chan Event
	state  atomic.Int32

	// reloadQueued is set while an EventReload sits in the channel
	reloadQueued atomic.Bool

	// terminateQueued is set once an EventTerminate has been accepted
	terminateQueued atomic.Bool

	// terminate is closed once EventTerminate has been processed
	terminate chan struct{}
}

// New creates a Coordinator. Run must be started for events to be processed.
func New(opts Options) *Coordinator {
	if opts.Chdir == nil {
		opts.Chdir = os.Chdir
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopServerMetrics()
	}

	return &Coordinator{
		opts: opts,
		// Room for one queued reload and one terminate
		events:    make(chan Event, 2),
		terminate: make(chan struct{}),
	}
}

// Trigger submits an event without blocking.
//
// A reload requested while another is running or already queued is dropped
// and ErrReloadInProgress is returned. Only the first terminate is queued;
// later ones are no-ops.
func (c *Coordinator) Trigger(e Event) error {
	switch e {
	case EventReload:
		if State(c.state.Load()) == Reloading {
			return ErrReloadInProgress
		}
		if !c.reloadQueued.CompareAndSwap(false, true) {
			return ErrReloadInProgress
		}
		select {
		case c.events <- e:
		default:
			c.reloadQueued.Store(false)
			return ErrReloadInProgress
		}
		return nil

	case EventTerminate:
		if !c.terminateQueued.CompareAndSwap(false, true) {
			return nil
		}
		// The channel keeps a slot free for it: at most one reload is queued
		select {
		case c.events <- e:
		default:
			c.terminateQueued.Store(false)
			return ErrEventQueueFull
		}
		return nil

	default:
		return fmt.Errorf("unknown event %d", int(e))
	}
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Terminated is closed once a terminate event has been processed.
func (c *Coordinator) Terminated() <-chan struct{} {
	return c.terminate
}

// Run processes events until a terminate event is handled or ctx is
// cancelled. It must be called from exactly one goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.events:
			switch e {
			case EventReload:
				c.reloadQueued.Store(false)
				c.Reload()
			case EventTerminate:
				logger.Info("Terminate requested")
				close(c.terminate)
				return
			}
		}
	}
}

// Reload loads a new snapshot and applies it. On failure the current
// snapshot stays published, untouched, and the error is returned.
//
// Reload is called by Run; calling it directly is only safe when Run is not
// running.
func (c *Coordinator) Reload() error {
	c.state.Store(int32(Reloading))
	defer c.state.Store(int32(Idle))

	logger.Info("Reloading configuration")

	next, err := c.opts.Loader.Load()
	if err != nil {
		c.opts.Metrics.RecordReload(false)
		logger.Error("Configuration reload failed, keeping current configuration: %v", err)
		return err
	}

	previous := c.opts.Holder.Load()
	c.opts.Holder.Store(next)
	c.Apply(previous, next)

	if c.opts.Restarter != nil {
		c.opts.Restarter.StopGeneration()
	}

	c.opts.Metrics.RecordReload(true)
	logger.Info("Configuration reloaded")
	return nil
}

// Apply brings the process state that lives outside the Holder in line with
// next: working directory, hooks and cache capacities. previous is the
// snapshot that was applied before.
//
// Reload calls it after publishing a snapshot; the server calls it again
// with the arguments swapped when that snapshot cannot bind and the previous
// one is restored.
func (c *Coordinator) Apply(previous, next *config.Config) {
	if err := c.opts.Chdir(next.Server.Root); err != nil {
		logger.Error("Failed to change directory to %s: %v", next.Server.Root, err)
	}

	for _, hook := range c.opts.Hooks {
		if err := hook(previous, next); err != nil {
			logger.Error("Reload hook failed: %v", err)
		}
	}

	if c.opts.Cache != nil {
		cacheCfg := next.Server.Cache
		c.opts.Cache.Resize(cacheCfg.IndexCapacity, cacheCfg.FileCapacity, cacheCfg.FileMaxSize)

		// Keys are root-relative: the same key names a different file now
		if previous != nil && previous.Server.Root != next.Server.Root {
			logger.Info("Document root changed to %s, purging caches", next.Server.Root)
			c.opts.Cache.Purge()
		}
	}
}
