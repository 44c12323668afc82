// Package adapter defines the contract between the content service and the
// transports that expose it.
package adapter

import (
	"context"
	"io"

	"github.com/marmos91/dittodrop/pkg/content"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
)

// Service is the subset of content.Service a transport exposes.
//
// content.Service implements it.
type Service interface {
	Write(ctx context.Context, id string, body io.Reader, filename string, tags []string) error
	Read(ctx context.Context, id string, opts ...content.ReadOption) (io.ReadCloser, *metadata.FileRecord, error)
	GetMetadata(ctx context.Context, id string) (*metadata.FileRecord, error)
	Expire(ctx context.Context, id string) error
	Purge(ctx context.Context, id string) error
}

// HealthChecker reports whether the backing stores are reachable.
//
// metadata.Index implements it.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// Adapter represents a transport server managed by the dittodrop server.
//
// Lifecycle:
//  1. Creation: Adapter is created with transport-specific configuration
//  2. Service injection: SetService() provides the shared content service
//  3. Startup: Serve() starts the server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetService() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the server and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for active requests to complete (with timeout)
	//   - Return context.Canceled or nil
	//
	// If Serve returns before context cancellation, the server treats it as
	// a fatal error and stops all other adapters.
	Serve(ctx context.Context) error

	// SetService injects the content service and the health check.
	//
	// Called exactly once before Serve(), no synchronization needed.
	SetService(svc Service, health HealthChecker)

	// Stop initiates graceful shutdown of the server.
	//
	// Implementations must be idempotent, safe to call concurrently with
	// Serve(), and respect the context timeout.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on.
	//
	// Returns 0 if the adapter uses dynamic port allocation.
	Port() int
}
