package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/marmos91/dittodrop/pkg/store/metadata/memory"
	metadatatesting "github.com/marmos91/dittodrop/pkg/store/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMetadataStore(t *testing.T) {
	suite := &metadatatesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return memory.NewMemoryMetadataStoreWithDefaults()
		},
	}
	suite.Run(t)
}

func TestMemoryMetadataStore_LivenessDeadline(t *testing.T) {
	store := memory.NewMemoryMetadataStoreWithDefaults()
	defer func() { _ = store.Close() }()

	_, ok := store.LivenessDeadline("a")
	assert.False(t, ok)

	before := time.Now()
	require.NoError(t, store.ArmLiveness(context.Background(), "a", time.Minute))

	deadline, ok := store.LivenessDeadline("a")
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Minute), deadline, time.Second)
}

func TestMemoryMetadataStore_Closed(t *testing.T) {
	store := memory.NewMemoryMetadataStoreWithDefaults()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err := store.GetRecord(ctx, "a")
	assert.ErrorIs(t, err, metadata.ErrClosed)
	assert.ErrorIs(t, store.ArmLiveness(ctx, "a", time.Second), metadata.ErrClosed)
	assert.ErrorIs(t, store.Healthcheck(ctx), metadata.ErrClosed)

	_, err = store.Subscribe(ctx)
	assert.ErrorIs(t, err, metadata.ErrClosed)
}

func TestMemoryMetadataStore_CloseStopsTimers(t *testing.T) {
	store := memory.NewMemoryMetadataStoreWithDefaults()
	sub, err := store.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, store.ArmLiveness(context.Background(), "a", 50*time.Millisecond))
	require.NoError(t, store.Close())

	for range sub.Events() {
		t.Fatal("no events expected after close")
	}
	assert.ErrorIs(t, sub.Err(), metadata.ErrClosed)
}
