package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittodrop/pkg/eviction"
	"github.com/marmos91/dittodrop/pkg/store/blob"
	blobfs "github.com/marmos91/dittodrop/pkg/store/blob/fs"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/marmos91/dittodrop/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// ============================================================================
// Test doubles
// ============================================================================

// countingBlobs records how often the blob store is touched and can fail
// Put on demand.
type countingBlobs struct {
	*blobfs.FSBlobStore
	calls   atomic.Int32
	failPut error
}

func (b *countingBlobs) Put(ctx context.Context, path string, r io.Reader) (int64, error) {
	b.calls.Add(1)
	if b.failPut != nil {
		// Consume part of the body as a real failing upload would.
		_, _ = io.CopyN(io.Discard, r, 4)
		return 0, b.failPut
	}
	return b.FSBlobStore.Put(ctx, path, r)
}

func (b *countingBlobs) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	b.calls.Add(1)
	return b.FSBlobStore.Open(ctx, path)
}

func (b *countingBlobs) Delete(ctx context.Context, path string) error {
	b.calls.Add(1)
	return b.FSBlobStore.Delete(ctx, path)
}

// faultyIndex fails selected metadata operations.
type faultyIndex struct {
	*memory.MemoryMetadataStore
	failUpdate error
	failArm    error
	failExpire error
}

func (f *faultyIndex) UpdateRecord(ctx context.Context, rec *metadata.FileRecord) error {
	if f.failUpdate != nil {
		return f.failUpdate
	}
	return f.MemoryMetadataStore.UpdateRecord(ctx, rec)
}

func (f *faultyIndex) ArmLiveness(ctx context.Context, id string, ttl time.Duration) error {
	if f.failArm != nil {
		return f.failArm
	}
	return f.MemoryMetadataStore.ArmLiveness(ctx, id, ttl)
}

func (f *faultyIndex) ExpireLiveness(ctx context.Context, id string) error {
	if f.failExpire != nil {
		return f.failExpire
	}
	return f.MemoryMetadataStore.ExpireLiveness(ctx, id)
}

type harness struct {
	svc   *Service
	store *faultyIndex
	blobs *countingBlobs
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	fsBlobs, err := blobfs.NewMemoryBlobStore(context.Background())
	require.NoError(t, err)
	blobs := &countingBlobs{FSBlobStore: fsBlobs}

	mem := memory.NewMemoryMetadataStoreWithDefaults()
	t.Cleanup(func() { _ = mem.Close() })
	store := &faultyIndex{MemoryMetadataStore: mem}

	return &harness{
		svc:   New(store, blobs, cfg, nil),
		store: store,
		blobs: blobs,
	}
}

// withEviction starts a coordinator so forced and natural expiry take effect.
func (h *harness) withEviction(t *testing.T) *harness {
	t.Helper()
	c := eviction.New(h.store.MemoryMetadataStore, h.blobs, eviction.Config{}, nil)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return h
}

func (h *harness) write(t *testing.T, id, data, filename string, tags ...string) {
	t.Helper()
	require.NoError(t, h.svc.Write(context.Background(), id, strings.NewReader(data), filename, tags))
}

func (h *harness) readAll(t *testing.T, id string, opts ...ReadOption) (string, *metadata.FileRecord) {
	t.Helper()
	rc, rec, err := h.svc.Read(context.Background(), id, opts...)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return string(data), rec
}

func (h *harness) blobExists(t *testing.T, path string) bool {
	t.Helper()
	rc, err := h.blobs.FSBlobStore.Open(context.Background(), path)
	if errors.Is(err, blob.ErrBlobNotFound) {
		return false
	}
	require.NoError(t, err)
	_ = rc.Close()
	return true
}

// drain waits for erase triggers scheduled by finished reads.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.svc.Drain(ctx))
}

func (h *harness) live(t *testing.T, id string) bool {
	t.Helper()
	ok, err := h.store.LivenessExists(context.Background(), id)
	require.NoError(t, err)
	return ok
}

// ============================================================================
// Write / Read
// ============================================================================

func TestService_WriteReadRoundTrip(t *testing.T) {
	h := newHarness(t, Config{})

	h.write(t, "a", "hello world", "f.txt", "x")

	data, rec := h.readAll(t, "a", WithErase(false))
	assert.Equal(t, "hello world", data)
	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, "f.txt", rec.Filename)
	assert.Equal(t, []string{"x"}, rec.Tags)
	assert.True(t, rec.Complete)

	// Without erase the file stays readable.
	data, _ = h.readAll(t, "a", WithErase(false))
	assert.Equal(t, "hello world", data)
}

func TestService_WriteArmsLiveness(t *testing.T) {
	h := newHarness(t, Config{Expiration: 10 * time.Minute})

	before := time.Now()
	h.write(t, "a", "data", "f.txt")

	deadline, ok := h.store.LivenessDeadline("a")
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(10*time.Minute), deadline, time.Second)
}

func TestService_WriteNormalizesTags(t *testing.T) {
	h := newHarness(t, Config{})

	h.write(t, "a", "data", "f.txt")

	rec, err := h.svc.GetMetadata(context.Background(), "a")
	require.NoError(t, err)
	assert.NotNil(t, rec.Tags)
	assert.Empty(t, rec.Tags)
}

func TestService_WriteValidation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name     string
		id       string
		body     io.Reader
		filename string
	}{
		{"empty id", "", strings.NewReader("x"), "f.txt"},
		{"reserved suffix", "a" + metadata.LivenessSuffix, strings.NewReader("x"), "f.txt"},
		{"missing body", "a", nil, "f.txt"},
		{"empty filename", "a", strings.NewReader("x"), ""},
		{"dot-dot filename", "a", strings.NewReader("x"), ".."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.svc.Write(ctx, tt.id, tt.body, tt.filename, nil)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	assert.Zero(t, h.blobs.calls.Load())
}

func TestService_ReadDefaultsToConfig(t *testing.T) {
	h := newHarness(t, Config{EraseOnRead: false})
	h.write(t, "a", "data", "f.txt")

	h.readAll(t, "a")
	h.drain(t)
	assert.True(t, h.live(t, "a"))

	h = newHarness(t, Config{EraseOnRead: true})
	h.write(t, "a", "data", "f.txt")

	h.readAll(t, "a")
	h.drain(t)
	assert.False(t, h.live(t, "a"))
}

func TestService_ReadIncompleteIsNotFound(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.store.PutRecord(ctx, &metadata.FileRecord{ID: "a", Path: "/blobs/f.txt", Filename: "f.txt"}))

	_, _, err := h.svc.Read(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := h.svc.GetMetadata(ctx, "a")
	require.NoError(t, err)
	assert.False(t, rec.Complete)
}

func TestService_ReadMissingBlobIsInconsistent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.write(t, "a", "data", "f.txt")
	rec, err := h.svc.GetMetadata(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, h.blobs.FSBlobStore.Delete(ctx, rec.Path))

	_, _, err = h.svc.Read(ctx, "a")
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// Erase on read
// ============================================================================

func TestService_EraseOnRead(t *testing.T) {
	h := newHarness(t, Config{}).withEviction(t)
	ctx := context.Background()

	h.write(t, "a", "hello", "f.txt")
	rec, err := h.svc.GetMetadata(ctx, "a")
	require.NoError(t, err)

	data, _ := h.readAll(t, "a", WithErase(true))
	assert.Equal(t, "hello", data)

	require.Eventually(t, func() bool {
		_, _, err := h.svc.Read(ctx, "a")
		return errors.Is(err, ErrNotFound)
	}, waitFor, tick)
	assert.False(t, h.blobExists(t, rec.Path))
}

func TestService_EraseOnCloseWithoutDraining(t *testing.T) {
	h := newHarness(t, Config{}).withEviction(t)
	ctx := context.Background()

	h.write(t, "a", strings.Repeat("x", 4096), "f.txt")

	rc, _, err := h.svc.Read(ctx, "a", WithErase(true))
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = rc.Read(buf)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())

	require.Eventually(t, func() bool {
		_, err := h.svc.GetMetadata(ctx, "a")
		return errors.Is(err, ErrNotFound)
	}, waitFor, tick)
}

func TestService_EraseTriggerFiresOnce(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.write(t, "a", "data", "f.txt")
	sub, err := h.store.Subscribe(ctx)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	rc, _, err := h.svc.Read(ctx, "a", WithErase(true))
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	select {
	case ev := <-sub.Events():
		assert.Equal(t, metadata.Event{Kind: metadata.EventExpired, Key: metadata.LivenessKey("a")}, ev)
	case <-time.After(waitFor):
		t.Fatal("no expiry event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestService_CancelledReadDoesNotErase(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a", strings.Repeat("x", 4096), "f.txt")

	ctx, cancel := context.WithCancel(context.Background())
	rc, _, err := h.svc.Read(ctx, "a", WithErase(true))
	require.NoError(t, err)

	cancel()
	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, rc.Close())

	h.drain(t)
	assert.True(t, h.live(t, "a"))
}

func TestService_EraseTriggerFailureIsNotPropagated(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a", "data", "f.txt")
	h.store.failExpire = errors.New("connection reset")

	data, _ := h.readAll(t, "a", WithErase(true))
	assert.Equal(t, "data", data)
	h.drain(t)
	assert.True(t, h.live(t, "a"))
}

func TestService_PeekDoesNotFinishStream(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a", "tiny", "f.bin")

	ctx, cancel := context.WithCancel(context.Background())
	rc, _, err := h.svc.Read(ctx, "a", WithErase(true))
	require.NoError(t, err)

	p, ok := rc.(Peeker)
	require.True(t, ok)
	head, _ := p.Peek(3072)
	assert.Equal(t, "tiny", string(head))

	h.drain(t)
	assert.True(t, h.live(t, "a"), "peeking the whole file must not erase it")

	// The consumer goes away before reading the body.
	cancel()
	require.NoError(t, rc.Close())
	h.drain(t)
	assert.True(t, h.live(t, "a"))
}

func TestService_PeekedBytesAreStillDelivered(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a", "tiny", "f.bin")

	rc, _, err := h.svc.Read(context.Background(), "a", WithErase(true))
	require.NoError(t, err)
	_, _ = rc.(Peeker).Peek(3072)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(data))

	h.drain(t)
	assert.False(t, h.live(t, "a"))
	require.NoError(t, rc.Close())
}

// blockingIndex holds ExpireLiveness until release is closed.
type blockingIndex struct {
	*faultyIndex
	release chan struct{}
}

func (b *blockingIndex) ExpireLiveness(ctx context.Context, id string) error {
	<-b.release
	return b.faultyIndex.ExpireLiveness(ctx, id)
}

func TestService_EraseTriggerDoesNotBlockConsumer(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a", "data", "f.txt")

	slow := &blockingIndex{faultyIndex: h.store, release: make(chan struct{})}
	svc := New(slow, h.blobs, Config{}, nil)

	rc, _, err := svc.Read(context.Background(), "a", WithErase(true))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.ReadAll(rc)
		_ = rc.Close()
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("read blocked on the erase trigger")
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Drain(short), context.DeadlineExceeded)

	close(slow.release)
	long, cancelLong := context.WithTimeout(context.Background(), waitFor)
	defer cancelLong()
	require.NoError(t, svc.Drain(long))
	assert.False(t, h.live(t, "a"))
}

// ============================================================================
// Rollback
// ============================================================================

func TestService_RollbackOnBlobFailure(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.blobs.failPut = errors.New("disk full")

	err := h.svc.Write(ctx, "a", strings.NewReader("payload"), "f.txt", nil)
	assert.ErrorIs(t, err, ErrStoreFault)
	assert.ErrorContains(t, err, "disk full")

	_, err = h.svc.GetMetadata(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, h.live(t, "a"))
}

func TestService_RollbackOnCompletionFailure(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.store.failUpdate = metadata.ErrRecordNotFound

	err := h.svc.Write(ctx, "a", strings.NewReader("payload"), "f.txt", nil)
	assert.ErrorIs(t, err, ErrStoreFault)

	path, err := h.blobs.PathFor("f.txt")
	require.NoError(t, err)
	assert.False(t, h.blobExists(t, path))

	_, err = h.svc.GetMetadata(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, h.live(t, "a"))
}

func TestService_FailedOverwriteRemovesPreviousBlob(t *testing.T) {
	tests := []struct {
		name string
		fail func(h *harness)
	}{
		{"blob failure", func(h *harness) { h.blobs.failPut = errors.New("disk full") }},
		{"completion failure", func(h *harness) { h.store.failUpdate = errors.New("connection reset") }},
		{"arm failure", func(h *harness) { h.store.failArm = errors.New("timeout") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			ctx := context.Background()

			h.write(t, "a", "v1", "one.txt")
			first, err := h.svc.GetMetadata(ctx, "a")
			require.NoError(t, err)

			tt.fail(h)
			err = h.svc.Write(ctx, "a", strings.NewReader("v2"), "two.txt", nil)
			assert.ErrorIs(t, err, ErrStoreFault)

			_, err = h.svc.GetMetadata(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.False(t, h.live(t, "a"))
			assert.False(t, h.blobExists(t, first.Path), "previous blob has no record left to evict it")
		})
	}
}

func TestService_ArmFailureKeepsExistingBlob(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.write(t, "other", "keep me", "shared.txt")
	h.store.failArm = errors.New("timeout")

	err := h.svc.Write(ctx, "a", strings.NewReader("payload"), "shared.txt", nil)
	assert.ErrorIs(t, err, ErrStoreFault)

	_, err = h.svc.GetMetadata(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	h.store.failArm = nil
	data, _ := h.readAll(t, "other", WithErase(false))
	assert.Equal(t, "keep me", data)
}

func TestService_CancelledWriteIsRolledBack(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	body := io.MultiReader(
		strings.NewReader("first part "),
		readerFunc(func([]byte) (int, error) {
			cancel()
			return 0, context.Canceled
		}),
	)

	err := h.svc.Write(ctx, "a", body, "f.txt", nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = h.svc.GetMetadata(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, h.live(t, "a"))
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// ============================================================================
// Overwrite
// ============================================================================

func TestService_OverwriteWithDifferentPath(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.write(t, "a", "v1", "one.txt")
	first, err := h.svc.GetMetadata(ctx, "a")
	require.NoError(t, err)

	h.write(t, "a", "v2", "two.txt")

	data, rec := h.readAll(t, "a", WithErase(false))
	assert.Equal(t, "v2", data)
	assert.Equal(t, "two.txt", rec.Filename)
	assert.False(t, h.blobExists(t, first.Path))
}

func TestService_OverwriteWithSamePath(t *testing.T) {
	h := newHarness(t, Config{})

	h.write(t, "a", "v1", "same.txt")
	h.write(t, "a", "v2", "same.txt")

	data, _ := h.readAll(t, "a", WithErase(false))
	assert.Equal(t, "v2", data)
}

// ============================================================================
// Not found, Expire, Purge
// ============================================================================

func TestService_NotFoundDoesNotTouchBlobs(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, _, err := h.svc.Read(ctx, "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)

	err = h.svc.Purge(ctx, "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.GetMetadata(ctx, "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)

	err = h.svc.Expire(ctx, "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Zero(t, h.blobs.calls.Load())
}

func TestService_ReservedIDIsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.write(t, "a", "data", "f.txt")
	reserved := metadata.LivenessKey("a")
	calls := h.blobs.calls.Load()

	_, _, err := h.svc.Read(ctx, reserved)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrStoreFault)

	_, err = h.svc.GetMetadata(ctx, reserved)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.ErrorIs(t, h.svc.Purge(ctx, reserved), ErrInvalidArgument)
	assert.ErrorIs(t, h.svc.Expire(ctx, reserved), ErrInvalidArgument)

	assert.Equal(t, calls, h.blobs.calls.Load())
	assert.True(t, h.live(t, "a"))
}

func TestService_Purge(t *testing.T) {
	h := newHarness(t, Config{}).withEviction(t)
	ctx := context.Background()

	h.write(t, "a", "data", "f.txt")
	rec, err := h.svc.GetMetadata(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, h.svc.Purge(ctx, "a"))

	assert.False(t, h.blobExists(t, rec.Path))
	assert.False(t, h.live(t, "a"))
	_, err = h.svc.GetMetadata(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, h.svc.Purge(ctx, "a"), ErrNotFound)
}

func TestService_PurgeToleratesMissingBlob(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.write(t, "a", "data", "f.txt")
	rec, err := h.svc.GetMetadata(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, h.blobs.FSBlobStore.Delete(ctx, rec.Path))

	require.NoError(t, h.svc.Purge(ctx, "a"))
}

func TestService_Expire(t *testing.T) {
	h := newHarness(t, Config{}).withEviction(t)
	ctx := context.Background()

	h.write(t, "a", "data", "f.txt")
	require.NoError(t, h.svc.Expire(ctx, "a"))

	require.Eventually(t, func() bool {
		_, err := h.svc.GetMetadata(ctx, "a")
		return errors.Is(err, ErrNotFound)
	}, waitFor, tick)
}

func TestService_NaturalExpiry(t *testing.T) {
	h := newHarness(t, Config{Expiration: 50 * time.Millisecond}).withEviction(t)
	ctx := context.Background()

	require.NoError(t, h.svc.Write(ctx, "a", bytes.NewReader([]byte("data")), "f.txt", nil))

	require.Eventually(t, func() bool {
		_, err := h.svc.GetMetadata(ctx, "a")
		return errors.Is(err, ErrNotFound)
	}, waitFor, tick)
}

func TestConfig_Defaults(t *testing.T) {
	svc := New(nil, nil, Config{}, nil)

	assert.Equal(t, time.Hour, svc.Config().Expiration)
	assert.Equal(t, 10*time.Second, svc.Config().CleanupTimeout)
	assert.False(t, svc.Config().EraseOnRead)
}
