package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/marmos91/zest/internal/logger"
	"github.com/marmos91/zest/pkg/access"
	"github.com/marmos91/zest/pkg/admission"
	"github.com/marmos91/zest/pkg/config"
	"github.com/marmos91/zest/pkg/metrics"
	"github.com/marmos91/zest/pkg/supervisor"
)

// ZestServer runs listener generations back to back for the lifetime of the
// process.
//
// Architecture:
// Each generation is a supervisor.Supervisor built from the snapshot
// published in the Holder at the time it starts. A reload publishes a new
// snapshot and calls StopGeneration; the current listener closes and the
// next generation binds with the new values. Connections accepted by a
// retired generation keep running and are tracked by the shared
// supervisor.Connections until they finish.
//
// Lifecycle:
//  1. Creation: New() with the snapshot holder and the request handler
//  2. Startup: Serve() binds the first generation
//  3. Reload: StopGeneration() retires the current generation
//  4. Shutdown: context cancellation stops accepting and drains connections
//
// Bind failures:
// If the first generation cannot bind, Serve returns the error. If a later
// generation cannot bind, the last snapshot that did bind is published again,
// Options.OnRestore is called and the server retries with it; if that fails
// too Serve returns the error.
//
// Example usage:
//
//	srv := server.New(server.Options{Holder: holder, Handler: pipe})
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
type ZestServer struct {
	opts Options

	// generation counts started generations; the first one is 1
	generation atomic.Uint64

	// mu protects the fields of the running generation
	mu         sync.Mutex
	genCancel  context.CancelFunc
	genConfig  *config.Config
	current    *supervisor.Supervisor
	listenedOn chan struct{}

	serveOnce sync.Once
}

// Options are the collaborators of a ZestServer.
type Options struct {
	// Holder publishes the snapshot each generation is built from (required)
	Holder *config.Holder

	// Handler serves admitted connections (required)
	Handler supervisor.Handler

	// Connections is shared by all generations. Nil creates one.
	Connections *supervisor.Connections

	// Metrics is optional; nil disables collection
	Metrics metrics.ServerMetrics

	// OnRestore runs after a snapshot that failed to bind has been replaced
	// by the last one that did. It re-applies the state a reload changes
	// outside the Holder, such as cache capacities and log sinks.
	OnRestore func(failed, restored *config.Config)
}

// New creates a ZestServer.
//
// Panics if Holder or Handler is nil (indicates programmer error).
func New(opts Options) *ZestServer {
	if opts.Holder == nil {
		panic("config holder cannot be nil")
	}
	if opts.Handler == nil {
		panic("handler cannot be nil")
	}
	if opts.Connections == nil {
		opts.Connections = supervisor.NewConnections()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopServerMetrics()
	}

	return &ZestServer{
		opts:       opts,
		listenedOn: make(chan struct{}),
	}
}

// ErrAlreadyServing is returned by a second call to Serve.
var ErrAlreadyServing = errors.New("server is already serving")

// Serve runs generations until ctx is cancelled, then drains in-flight
// connections for at most server.shutdown_timeout of the last snapshot.
//
// Returns:
//   - nil after ctx cancellation, even if the drain timed out
//   - the bind error if no generation could bind
func (s *ZestServer) Serve(ctx context.Context) error {
	err := ErrAlreadyServing
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

func (s *ZestServer) serve(ctx context.Context) error {
	var lastGood *config.Config

	for {
		cfg := s.opts.Holder.Load()

		err := s.runGeneration(ctx, cfg)
		if err == nil {
			lastGood = cfg
			if ctx.Err() != nil {
				s.drain(cfg)
				return nil
			}
			continue
		}

		if lastGood == nil || lastGood == cfg {
			logger.Error("Unable to start listener: %v", err)
			s.drain(cfg)
			return err
		}

		// A reload published after the failed snapshot wins over the restore
		if !s.opts.Holder.CompareAndSwap(cfg, lastGood) {
			logger.Warn("New configuration cannot be applied: %v - trying the newer one", err)
			continue
		}
		logger.Error("New configuration cannot be applied: %v - restoring previous configuration", err)
		if s.opts.OnRestore != nil {
			s.opts.OnRestore(cfg, lastGood)
		}
	}
}

// runGeneration binds one generation and blocks until it is stopped.
func (s *ZestServer) runGeneration(ctx context.Context, cfg *config.Config) error {
	filter, err := access.New(cfg.Allowlist, cfg.Blocklist)
	if err != nil {
		return fmt.Errorf("invalid access list: %w", err)
	}
	admit := admission.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sup := supervisor.New(cfg, supervisor.Options{
		Generation:  s.generation.Add(1),
		Filter:      filter,
		Admission:   admit,
		Handler:     s.opts.Handler,
		Connections: s.opts.Connections,
		Metrics:     s.opts.Metrics,
	})

	s.mu.Lock()
	s.genCancel = cancel
	s.genConfig = cfg
	s.current = sup
	s.mu.Unlock()

	go func() {
		select {
		case <-sup.Ready():
			s.mu.Lock()
			select {
			case <-s.listenedOn:
			default:
				close(s.listenedOn)
			}
			s.mu.Unlock()
		case <-genCtx.Done():
		}
	}()

	err = sup.Serve(genCtx)

	s.mu.Lock()
	s.genCancel = nil
	s.mu.Unlock()

	return err
}

// StopGeneration retires the running generation if it was built from a
// snapshot other than the one currently published. Serve then starts the
// next generation.
func (s *ZestServer) StopGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.genCancel == nil {
		return
	}
	if s.genConfig == s.opts.Holder.Load() {
		logger.Debug("Generation %d already runs the current configuration", s.current.Generation())
		return
	}

	logger.Info("Restarting listener with new configuration")
	s.genCancel()
}

// Addr returns the address of the running generation, or nil before the
// first generation is bound.
func (s *ZestServer) Addr() net.Addr {
	select {
	case <-s.listenedOn:
	default:
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.current.Ready():
		return s.current.Addr()
	default:
		return nil
	}
}

// Listening is closed once the first generation is bound.
func (s *ZestServer) Listening() <-chan struct{} {
	return s.listenedOn
}

// Generation returns the number of generations started so far.
func (s *ZestServer) Generation() uint64 {
	return s.generation.Load()
}

// ActiveConnections returns the number of connections being handled across
// all generations.
func (s *ZestServer) ActiveConnections() int32 {
	return s.opts.Connections.Active()
}

func (s *ZestServer) drain(cfg *config.Config) {
	if err := s.opts.Connections.Drain(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("%v", err)
	}
	logger.Info("Server stopped")
}
