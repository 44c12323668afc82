// Package http exposes the content service over HTTP.
//
// Routes:
//   - POST   /upload             multipart upload (fields: file, id, tags)
//   - GET    /download/:id       stream a file (query: erase=true|false)
//   - GET    /metadata/:id       file record as JSON
//   - POST   /files/:id/expire   force the file's eviction
//   - DELETE /files/:id          remove a file immediately
//   - GET    /health             metadata backend check
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/internal/ratelimiter"
	"github.com/marmos91/dittodrop/pkg/adapter"
	"github.com/marmos91/dittodrop/pkg/metrics"
)

// HTTPAdapter serves the content service over HTTP using gin.
//
// Thread safety:
// Stop may be called concurrently with Serve. SetService must be called
// before Serve.
type HTTPAdapter struct {
	config  HTTPConfig
	metrics metrics.HTTPMetrics
	limiter *ratelimiter.Limiter

	svc    adapter.Service
	health adapter.HealthChecker

	engine *gin.Engine

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopped  bool

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	// Enabled controls whether the adapter is started (default: true)
	Enabled bool `mapstructure:"enabled"`

	// Port to listen on (default: 8080)
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// ReadTimeout bounds reading a whole request, upload included (default: 5m)
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing a whole response, download included (default: 5m)
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout bounds keep-alive connections (default: 2m)
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout bounds the wait for in-flight requests on shutdown (default: 30s)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxUploadBytes caps the request body of an upload. Zero means unlimited.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"min=0"`

	// RateLimit throttles requests per client IP. Disabled when zero.
	RateLimit ratelimiter.Config `mapstructure:"rate_limit"`
}

func (c *HTTPConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *HTTPConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("invalid MaxUploadBytes %d: must be >= 0", c.MaxUploadBytes)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid RateLimit.RequestsPerSecond %v: must be >= 0", c.RateLimit.RequestsPerSecond)
	}
	return nil
}

// New creates an HTTP adapter. It panics on an invalid configuration.
//
// Parameters:
//   - config: Server configuration; zero values take defaults
//   - m: Metrics sink (nil disables metrics)
func New(config HTTPConfig, m metrics.HTTPMetrics) *HTTPAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid HTTP config: %v", err))
	}
	if m == nil {
		m = metrics.NewNoopHTTPMetrics()
	}

	a := &HTTPAdapter{
		config:   config,
		metrics:  m,
		limiter:  ratelimiter.New(config.RateLimit),
		shutdown: make(chan struct{}),
	}
	a.engine = a.routes()
	return a
}

// SetService injects the content service and health check.
func (a *HTTPAdapter) SetService(svc adapter.Service, health adapter.HealthChecker) {
	a.svc = svc
	a.health = health
	logger.Debug("HTTP service configured")
}

// Handler returns the adapter's request handler.
func (a *HTTPAdapter) Handler() http.Handler {
	return a.engine
}

// Serve listens on the configured port and blocks until ctx is cancelled
// or the listener fails.
func (a *HTTPAdapter) Serve(ctx context.Context) error {
	if a.svc == nil || a.health == nil {
		return errors.New("HTTP adapter has no service: SetService was not called")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener on port %d: %w", a.config.Port, err)
	}

	server := &http.Server{
		Handler:      a.engine,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	a.server = server
	a.listener = listener
	a.mu.Unlock()

	logger.Info("HTTP server listening on %s", listener.Addr())
	logger.Debug("HTTP config: read_timeout=%v write_timeout=%v idle_timeout=%v max_upload_bytes=%d rate_limit=%v",
		a.config.ReadTimeout, a.config.WriteTimeout, a.config.IdleTimeout,
		a.config.MaxUploadBytes, a.config.RateLimit.RequestsPerSecond)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("HTTP shutdown signal received: %v", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		if err := a.Stop(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()

	case <-a.shutdown:
		<-errCh
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// until ctx expires.
func (a *HTTPAdapter) Stop(ctx context.Context) error {
	var stopErr error
	a.shutdownOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		server := a.server
		a.mu.Unlock()

		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				stopErr = fmt.Errorf("HTTP shutdown error: %w", err)
				logger.Warn("HTTP shutdown did not complete: %v", err)
			} else {
				logger.Info("HTTP server stopped gracefully")
			}
		}
		close(a.shutdown)
	})
	return stopErr
}

// Addr returns the listener address, or nil before Serve.
func (a *HTTPAdapter) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Port returns the configured TCP port.
func (a *HTTPAdapter) Port() int {
	return a.config.Port
}

// Protocol returns "HTTP".
func (a *HTTPAdapter) Protocol() string {
	return "HTTP"
}
