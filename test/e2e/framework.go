package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/config"
	"github.com/marmos91/dittodrop/pkg/content"
	"github.com/marmos91/dittodrop/pkg/eviction"
	"github.com/marmos91/dittodrop/pkg/server"
	"github.com/marmos91/dittodrop/pkg/store/blob"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
)

// TestContext provides a complete testing environment with:
// - Running dittodrop server
// - HTTP client pointed at it
// - Cleanup mechanisms
type TestContext struct {
	T             *testing.T
	Config        *TestConfig
	Server        *server.DropServer
	MetadataStore metadata.Store
	BlobStore     blob.Store
	BaseURL       string
	Client        *http.Client

	cfg      *config.Config
	port     int
	cancel   context.CancelFunc
	done     chan struct{}
	serveErr error
	tempDirs []string

	cleanupOnce sync.Once
}

// Option adjusts the configuration before the server starts.
type Option func(*config.Config)

// WithExpiration sets how long uploaded files live.
func WithExpiration(d time.Duration) Option {
	return func(cfg *config.Config) { cfg.Content.Expiration = d }
}

// WithEraseOnRead sets the default erase behavior of downloads.
func WithEraseOnRead(erase bool) Option {
	return func(cfg *config.Config) { cfg.Content.EraseOnRead = erase }
}

// NewTestContext starts a server for the given store combination.
func NewTestContext(t *testing.T, tcfg *TestConfig, opts ...Option) *TestContext {
	t.Helper()

	tc := &TestContext{
		T:      t,
		Config: tcfg,
		Client: &http.Client{Timeout: 30 * time.Second},
	}

	// Register cleanup immediately so it's available if anything fails
	t.Cleanup(tc.Cleanup)

	logger.SetLevel("ERROR")
	gin.SetMode(gin.TestMode)

	tc.port = findFreePort(t)

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = "ERROR"
	cfg.Adapters.HTTP.Port = tc.port
	cfg.Content.Expiration = time.Minute
	cfg.Server.ShutdownTimeout = 5 * time.Second
	if err := tcfg.apply(cfg, tc.CreateTempDir, fmt.Sprintf("%d", tc.port)); err != nil {
		t.Fatalf("Failed to configure stores: %v", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Invalid test configuration: %v", err)
	}

	tc.cfg = cfg
	tc.start()
	return tc
}

// Restart stops the server, closes its stores and starts it again on the
// same configuration. Persistent stores keep their contents.
func (tc *TestContext) Restart() {
	tc.T.Helper()

	tc.stopServer()
	tc.start()
}

func (tc *TestContext) stopServer() {
	if tc.cancel != nil {
		tc.cancel()
		if tc.Server != nil {
			select {
			case <-tc.done:
			case <-time.After(10 * time.Second):
				tc.T.Logf("Server stop timeout")
			}
		}
	}
	tc.Server = nil

	if tc.BlobStore != nil {
		_ = tc.BlobStore.Close()
		tc.BlobStore = nil
	}
	if tc.MetadataStore != nil {
		_ = tc.MetadataStore.Close()
		tc.MetadataStore = nil
	}
}

func (tc *TestContext) start() {
	tc.T.Helper()

	cfg := tc.cfg
	tc.done = make(chan struct{})
	tc.serveErr = nil

	ctx, cancel := context.WithCancel(context.Background())
	tc.cancel = cancel

	var err error
	tc.MetadataStore, err = config.CreateMetadataStore(ctx, &cfg.Metadata)
	if err != nil {
		tc.T.Fatalf("Failed to create metadata store: %v", err)
	}
	tc.BlobStore, err = config.CreateBlobStore(ctx, &cfg.Blob)
	if err != nil {
		tc.T.Fatalf("Failed to create blob store: %v", err)
	}

	m := config.InitializeMetrics(cfg)
	svc := content.New(tc.MetadataStore, tc.BlobStore, cfg.Content, m.Content)
	coordinator := eviction.New(tc.MetadataStore, tc.BlobStore, cfg.Eviction, m.Eviction)

	srv := server.New(svc, tc.MetadataStore, coordinator, server.Options{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	adapters, err := config.CreateAdapters(cfg, m.HTTP)
	if err != nil {
		tc.T.Fatalf("Failed to create adapters: %v", err)
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			tc.T.Fatalf("Failed to add adapter: %v", err)
		}
	}

	tc.Server = srv
	done := tc.done
	go func() {
		defer close(done)
		tc.serveErr = srv.Serve(ctx)

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelDrain()
		_ = svc.Drain(drainCtx)
	}()

	tc.BaseURL = fmt.Sprintf("http://localhost:%d", tc.port)
	if err := tc.waitForServer(10 * time.Second); err != nil {
		tc.T.Fatalf("Server failed to start: %v", err)
	}
	tc.T.Logf("Server started on port %d (%s)", tc.port, tc.Config)
}

// Cleanup stops the server and removes temporary directories
func (tc *TestContext) Cleanup() {
	tc.cleanupOnce.Do(func() {
		if tc.BlobStore != nil && tc.Config.BlobStore == BlobS3 {
			ctx := context.Background()
			paths, _ := tc.BlobStore.List(ctx)
			for _, p := range paths {
				_ = tc.BlobStore.Delete(ctx, p)
			}
		}
		tc.stopServer()

		for _, dir := range tc.tempDirs {
			if err := os.RemoveAll(dir); err != nil {
				tc.T.Logf("Warning: failed to remove temp directory %s: %v", dir, err)
			}
		}
	})
}

// CreateTempDir creates a temporary directory removed on cleanup
func (tc *TestContext) CreateTempDir(prefix string) string {
	tc.T.Helper()
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		tc.T.Fatalf("Failed to create temp directory: %v", err)
	}
	tc.tempDirs = append(tc.tempDirs, dir)
	return dir
}

// Upload posts data as a multipart upload. It returns the status code.
func (tc *TestContext) Upload(id, filename string, data []byte, tags ...string) int {
	tc.T.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if id != "" {
		_ = w.WriteField("id", id)
	}
	if len(tags) > 0 {
		_ = w.WriteField("tags", strings.Join(tags, ","))
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		tc.T.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		tc.T.Fatalf("Failed to write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		tc.T.Fatalf("Failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+"/upload", &body)
	if err != nil {
		tc.T.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	status, _, _ := tc.do(req)
	return status
}

// Download fetches a file. erase is sent verbatim when non-empty.
func (tc *TestContext) Download(id, erase string) (int, []byte, http.Header) {
	tc.T.Helper()

	url := tc.BaseURL + "/download/" + id
	if erase != "" {
		url += "?erase=" + erase
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		tc.T.Fatalf("Failed to build request: %v", err)
	}
	return tc.do(req)
}

// Metadata fetches a file record. The record is nil unless the status is 200.
func (tc *TestContext) Metadata(id string) (int, *metadata.FileRecord) {
	tc.T.Helper()

	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+"/metadata/"+id, nil)
	if err != nil {
		tc.T.Fatalf("Failed to build request: %v", err)
	}
	status, body, _ := tc.do(req)
	if status != http.StatusOK {
		return status, nil
	}

	var rec metadata.FileRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		tc.T.Fatalf("Failed to decode metadata: %v", err)
	}
	return status, &rec
}

// Expire asks the server to expire a file now.
func (tc *TestContext) Expire(id string) int {
	tc.T.Helper()

	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+"/files/"+id+"/expire", nil)
	if err != nil {
		tc.T.Fatalf("Failed to build request: %v", err)
	}
	status, _, _ := tc.do(req)
	return status
}

// Purge removes a file synchronously.
func (tc *TestContext) Purge(id string) int {
	tc.T.Helper()

	req, err := http.NewRequest(http.MethodDelete, tc.BaseURL+"/files/"+id, nil)
	if err != nil {
		tc.T.Fatalf("Failed to build request: %v", err)
	}
	status, _, _ := tc.do(req)
	return status
}

// BlobCount returns how many blobs the blob store holds.
func (tc *TestContext) BlobCount() int {
	tc.T.Helper()

	paths, err := tc.BlobStore.List(context.Background())
	if err != nil {
		tc.T.Fatalf("Failed to list blobs: %v", err)
	}
	return len(paths)
}

func (tc *TestContext) do(req *http.Request) (int, []byte, http.Header) {
	tc.T.Helper()

	resp, err := tc.Client.Do(req)
	if err != nil {
		tc.T.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tc.T.Fatalf("Failed to read response body: %v", err)
	}
	return resp.StatusCode, body, resp.Header
}

// waitForServer polls the health endpoint until it answers 200
func (tc *TestContext) waitForServer(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-tc.done:
			return fmt.Errorf("server exited during startup: %w", tc.serveErr)
		default:
		}

		resp, err := tc.Client.Get(tc.BaseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for server to start")
}

// findFreePort finds an available port
func findFreePort(t testing.TB) int {
	t.Helper()
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}
