// Package supervisor runs one listener generation: it binds the socket of a
// configuration snapshot, filters and admits connections, and hands each
// admitted connection to the request pipeline on its own goroutine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/zest/internal/logger"
	"github.com/marmos91/zest/pkg/access"
	"github.com/marmos91/zest/pkg/admission"
	"github.com/marmos91/zest/pkg/config"
	"github.com/marmos91/zest/pkg/metrics"
)

// Handler serves one connection and reports the status and request line
// for access logging. It owns conn and must close it.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn) (status int, requestLine string)
}

// Options are the collaborators of a generation.
type Options struct {
	// Generation numbers the listener; it only appears in logs and metrics
	Generation uint64

	Filter    *access.Filter
	Admission *admission.Controller
	Handler   Handler

	// Connections is shared by all generations of a process. Nil creates a
	// private tracker.
	Connections *Connections

	// Metrics is optional; nil disables collection
	Metrics metrics.ServerMetrics
}

// Supervisor owns the listener of a single generation.
//
// Lifecycle:
//  1. Serve binds bind.addr:bind.listen and closes Ready
//  2. Accepted connections are filtered, then handled on their own goroutine
//  3. Cancelling the Serve context closes the listener; Serve returns nil
//
// Connections already handed off are not interrupted when the generation
// ends. They finish against the Connections tracker.
type Supervisor struct {
	cfg  *config.Config
	opts Options

	listener net.Listener

	// ready is closed once the listener is bound
	ready chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New creates a Supervisor for cfg. Serve starts it.
func New(cfg *config.Config, opts Options) *Supervisor {
	if opts.Connections == nil {
		opts.Connections = NewConnections()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopServerMetrics()
	}

	return &Supervisor{
		cfg:      cfg,
		opts:     opts,
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}
}

// Serve binds the listener and accepts connections until ctx is cancelled.
//
// Returns:
//   - nil after ctx cancellation
//   - the bind error if the socket cannot be bound
func (s *Supervisor) Serve(ctx context.Context) error {
	addr := s.cfg.Bind.Address()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener
	close(s.ready)

	logger.Info("Listening on %s (generation %d, root %s)",
		listener.Addr(), s.opts.Generation, s.cfg.Server.Root)
	s.opts.Metrics.SetGeneration(s.opts.Generation)

	go func() {
		select {
		case <-ctx.Done():
			logger.Debug("Generation %d stop requested", s.opts.Generation)
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				logger.Debug("Generation %d stopped accepting", s.opts.Generation)
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			// Common causes: file descriptor exhaustion, aborted handshakes
			logger.Debug("Error accepting connection: %v", err)
			time.Sleep(5 * time.Millisecond)
			continue
		}

		s.opts.Metrics.RecordConnectionAccepted()

		if !s.opts.Filter.Allowed(remoteIP(conn)) {
			s.opts.Metrics.RecordConnectionDenied()
			logger.Debug("Connection from %s denied by access list", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		active := s.opts.Connections.add()
		s.opts.Metrics.SetActiveConnections(active)

		go s.handle(conn)
	}
}

// handle runs admission and the handler for one filtered connection.
func (s *Supervisor) handle(conn net.Conn) {
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()

	defer func() {
		active := s.opts.Connections.done()
		s.opts.Metrics.SetActiveConnections(active)
		logger.Debug("Connection %s from %s closed (active: %d)", id, remote, active)
	}()

	permit, ok := s.opts.Admission.TryAdmit()
	if !ok {
		s.opts.Metrics.RecordConnectionRejected()
		logger.Warn("Rejecting %s: request limit reached (%d in flight)",
			remote, s.opts.Admission.InFlight())
		_ = conn.Close()
		return
	}
	defer permit.Release()

	logger.Debug("Connection %s accepted from %s (generation %d)", id, remote, s.opts.Generation)

	start := time.Now()
	status, requestLine := s.opts.Handler.Handle(s.opts.Connections.Context(), conn)
	s.opts.Metrics.RecordRequest(status, time.Since(start))

	logger.Access(status, requestLine, remote)
}

// initiateShutdown stops accepting. Safe to call multiple times.
func (s *Supervisor) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener: %v", err)
			}
		}
	})
}

// Ready is closed once the listener is bound.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Only valid after Ready is closed.
func (s *Supervisor) Addr() net.Addr {
	return s.listener.Addr()
}

// Generation returns the generation number of this listener.
func (s *Supervisor) Generation() uint64 {
	return s.opts.Generation
}

func remoteIP(conn net.Conn) netip.Addr {
	switch addr := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return addr.AddrPort().Addr()
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.Addr{}
		}
		return ap.Addr()
	}
}
