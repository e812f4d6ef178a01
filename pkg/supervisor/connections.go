package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/zest/internal/logger"
)

// forceCloseGrace bounds the wait for handlers to return once their
// connections have been force-closed.
const forceCloseGrace = 2 * time.Second

// Connections tracks in-flight connections across listener generations.
//
// A retired generation stops accepting but its connections keep running
// and are still counted here, so the process can drain everything on exit.
//
// Handlers receive Context(); it is cancelled only by a drain that timed
// out, which makes every handler close its socket.
type Connections struct {
	wg     sync.WaitGroup
	count  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnections returns an empty tracker.
func NewConnections() *Connections {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connections{ctx: ctx, cancel: cancel}
}

// Context is passed to every connection handler.
func (c *Connections) Context() context.Context {
	return c.ctx
}

func (c *Connections) add() int32 {
	c.wg.Add(1)
	return c.count.Add(1)
}

func (c *Connections) done() int32 {
	n := c.count.Add(-1)
	c.wg.Done()
	return n
}

// Active returns the number of connections being handled.
func (c *Connections) Active() int32 {
	return c.count.Load()
}

// Drain waits for every tracked connection to finish. After timeout the
// remaining connections are force-closed and an error is returned.
//
// Drain must only be called once no generation is accepting anymore.
func (c *Connections) Drain(timeout time.Duration) error {
	logger.Info("Waiting for %d active connection(s) (timeout: %v)", c.Active(), timeout)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All connections closed")
		return nil
	case <-time.After(timeout):
	}

	remaining := c.Active()
	logger.Warn("Shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
		remaining, timeout)
	c.cancel()

	select {
	case <-done:
	case <-time.After(forceCloseGrace):
		logger.Warn("%d connection(s) did not exit after force-close", c.Active())
	}
	return fmt.Errorf("shutdown timeout: %d connection(s) force-closed", remaining)
}
