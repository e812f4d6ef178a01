package reload

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/marmos91/zest/internal/logger"
)

// Signals are the signals ForwardSignals understands, for signal.Notify.
var Signals = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM}

// ForwardSignals translates signals into coordinator events until ctx is
// cancelled: SIGHUP reloads, SIGINT and SIGTERM terminate.
func ForwardSignals(ctx context.Context, c *Coordinator, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("Received %v", sig)
				if err := c.Trigger(EventReload); errors.Is(err, ErrReloadInProgress) {
					logger.Info("Reload already in progress, ignoring %v", sig)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("Received %v, shutting down", sig)
				_ = c.Trigger(EventTerminate)
			}
		}
	}
}
