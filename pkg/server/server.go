// Package server runs a dittodrop instance: the transport adapters, the
// eviction coordinator, the optional reconciliation sweep and the optional
// metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/adapter"
)

// Evictor is the eviction coordinator's lifecycle.
type Evictor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Sweeper is the reconciliation sweep's lifecycle.
type Sweeper interface {
	Start()
	Stop(ctx context.Context) error
}

// MetricsServer is the metrics endpoint's lifecycle. Start blocks until ctx
// is cancelled.
type MetricsServer interface {
	Start(ctx context.Context) error
}

// Options configures optional background components.
type Options struct {
	// Sweeper runs the reconciliation sweep. Nil disables it.
	Sweeper Sweeper

	// Metrics serves the metrics endpoint. Nil disables it.
	Metrics MetricsServer

	// ShutdownTimeout bounds each shutdown step (default: 30s).
	ShutdownTimeout time.Duration
}

// DropServer wires the content service to its adapters and runs the
// background components the service depends on.
//
// Startup order: eviction coordinator, sweep, metrics, adapters.
// Shutdown runs in reverse: adapters (in reverse registration order) stop
// taking requests before the sweep and the coordinator are stopped.
//
// Thread safety:
// AddAdapter must not be called after Serve. Serve may be called only once.
type DropServer struct {
	service adapter.Service
	health  adapter.HealthChecker
	evictor Evictor
	options Options

	adapters []adapter.Adapter

	mu     sync.RWMutex
	served bool
}

// New creates a server. It panics if any required component is nil.
//
// Parameters:
//   - service: Content service shared by every adapter
//   - health: Probe for the metadata backend
//   - evictor: Eviction coordinator; without it nothing is ever evicted
//   - options: Optional components
func New(service adapter.Service, health adapter.HealthChecker, evictor Evictor, options Options) *DropServer {
	if service == nil {
		panic("content service cannot be nil")
	}
	if health == nil {
		panic("health checker cannot be nil")
	}
	if evictor == nil {
		panic("eviction coordinator cannot be nil")
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 30 * time.Second
	}

	return &DropServer{
		service:  service,
		health:   health,
		evictor:  evictor,
		options:  options,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers an adapter and injects the content service into it.
//
// Returns an error if an adapter for the same protocol or port is already
// registered.
func (s *DropServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetService(s.service, s.health)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Adapters returns a copy of the registered adapters.
func (s *DropServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Serve starts every component and blocks until ctx is cancelled or an
// adapter fails, then shuts everything down.
//
// Returns:
//   - ctx.Err() after a shutdown triggered by ctx
//   - the adapter's error if one failed
//   - an error if no adapter is registered, Serve was already called, or
//     the eviction coordinator cannot start
func (s *DropServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("server already started: Serve() may be called only once")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	return s.serve(ctx, adapters)
}

func (s *DropServer) serve(ctx context.Context, adapters []adapter.Adapter) error {
	logger.Info("Starting dittodrop with %d adapter(s)", len(adapters))

	if err := s.evictor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start eviction: %w", err)
	}
	defer s.stopEvictor()

	if s.options.Sweeper != nil {
		s.options.Sweeper.Start()
		defer s.stopSweeper()
	}

	// Background components outlive ctx only until every adapter is down.
	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBg()

	var bg sync.WaitGroup
	if s.options.Metrics != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := s.options.Metrics.Start(bgCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}
	defer bg.Wait()

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(ctx)
			switch {
			case err == nil:
				logger.Info("%s adapter stopped", protocol)
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped gracefully", protocol)
			default:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			}
		}()
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()
	cancelBg()

	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters stops adapters in reverse registration order.
func (s *DropServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		logger.Debug("Stopping %s adapter (port %d)", a.Protocol(), a.Port())

		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

func (s *DropServer) stopSweeper() {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()
	if err := s.options.Sweeper.Stop(ctx); err != nil {
		logger.Warn("Error stopping reconciliation sweep: %v", err)
	}
}

func (s *DropServer) stopEvictor() {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()
	if err := s.evictor.Stop(ctx); err != nil {
		logger.Warn("Error stopping eviction: %v", err)
	}
	logger.Info("dittodrop stopped")
}
