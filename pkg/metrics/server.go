package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/internal/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds the wait for in-flight scrapes.
const shutdownTimeout = 5 * time.Second

// ServerConfig configures the metrics endpoint.
type ServerConfig struct {
	// Port to listen on (default: 9090)
	Port int
}

// Server exposes the global registry at GET /metrics.
//
// It shares the HTTP adapter's conventions: every response carries an
// X-Request-ID, and errors are JSON bodies of the form
// {"ok":false,"error":"..."}. While the registry is not initialized /metrics
// answers 503.
type Server struct {
	port   int
	engine *gin.Engine
	server *http.Server
}

type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// NewServer creates a stopped metrics server. Call Start to serve.
func NewServer(config ServerConfig) *Server {
	if config.Port <= 0 {
		config.Port = 9090
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestid.Middleware())
	engine.GET("/metrics", scrape)
	engine.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "Not found"})
	})

	return &Server{
		port:   config.Port,
		engine: engine,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}
}

// scrape resolves the registry per request, so a registry initialized after
// NewServer is still served.
func scrape(c *gin.Context) {
	reg := GetRegistry()
	if reg == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: "metrics collection is disabled"})
		return
	}
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}).ServeHTTP(c.Writer, c.Request)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}

// Start serves until ctx is cancelled, then shuts down gracefully.
//
// Returns:
//   - nil after a shutdown triggered by ctx
//   - the listener error if the port cannot be bound
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint listening on :%d/metrics", s.port)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	logger.Debug("Metrics endpoint stopped")
	return nil
}
