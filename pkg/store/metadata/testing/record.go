package testing

import (
	"testing"

	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRecordTests executes FileRecord tests.
func (suite *StoreTestSuite) RunRecordTests(t *testing.T) {
	t.Run("GetRecord_NotFound", suite.testGetRecordNotFound)
	t.Run("PutRecord_RoundTrip", suite.testPutRecordRoundTrip)
	t.Run("PutRecord_Overwrite", suite.testPutRecordOverwrite)
	t.Run("PutRecord_InvalidID", suite.testPutRecordInvalidID)
	t.Run("UpdateRecord_Success", suite.testUpdateRecordSuccess)
	t.Run("UpdateRecord_Missing", suite.testUpdateRecordMissing)
	t.Run("DeleteRecord_Idempotent", suite.testDeleteRecordIdempotent)
	t.Run("ListRecordIDs", suite.testListRecordIDs)
}

func (suite *StoreTestSuite) testGetRecordNotFound(t *testing.T) {
	store := suite.newStore(t)

	_, err := store.GetRecord(testContext(), "missing")
	assert.ErrorIs(t, err, metadata.ErrRecordNotFound)
}

func (suite *StoreTestSuite) testPutRecordRoundTrip(t *testing.T) {
	store := suite.newStore(t)
	rec := newRecord("round-trip")

	require.NoError(t, store.PutRecord(testContext(), rec))

	got, err := store.GetRecord(testContext(), "round-trip")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.False(t, got.Complete)
}

func (suite *StoreTestSuite) testPutRecordOverwrite(t *testing.T) {
	store := suite.newStore(t)

	require.NoError(t, store.PutRecord(testContext(), newRecord("overwrite")))

	second := newRecord("overwrite")
	second.Filename = "second.bin"
	second.Tags = []string{"z"}
	second.Complete = true
	require.NoError(t, store.PutRecord(testContext(), second))

	got, err := store.GetRecord(testContext(), "overwrite")
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func (suite *StoreTestSuite) testPutRecordInvalidID(t *testing.T) {
	store := suite.newStore(t)

	for _, id := range []string{"", "sneaky" + metadata.LivenessSuffix} {
		err := store.PutRecord(testContext(), newRecord(id))
		assert.ErrorIs(t, err, metadata.ErrInvalidID, "id %q", id)
	}
}

func (suite *StoreTestSuite) testUpdateRecordSuccess(t *testing.T) {
	store := suite.newStore(t)
	rec := newRecord("update")
	require.NoError(t, store.PutRecord(testContext(), rec))

	rec.Complete = true
	require.NoError(t, store.UpdateRecord(testContext(), rec))

	got, err := store.GetRecord(testContext(), "update")
	require.NoError(t, err)
	assert.True(t, got.Complete)
}

func (suite *StoreTestSuite) testUpdateRecordMissing(t *testing.T) {
	store := suite.newStore(t)
	rec := newRecord("evicted")
	rec.Complete = true

	err := store.UpdateRecord(testContext(), rec)
	assert.ErrorIs(t, err, metadata.ErrRecordNotFound)

	_, err = store.GetRecord(testContext(), "evicted")
	assert.ErrorIs(t, err, metadata.ErrRecordNotFound, "update must not create a record")
}

func (suite *StoreTestSuite) testDeleteRecordIdempotent(t *testing.T) {
	store := suite.newStore(t)
	require.NoError(t, store.PutRecord(testContext(), newRecord("delete")))

	require.NoError(t, store.DeleteRecord(testContext(), "delete"))
	require.NoError(t, store.DeleteRecord(testContext(), "delete"))

	_, err := store.GetRecord(testContext(), "delete")
	assert.ErrorIs(t, err, metadata.ErrRecordNotFound)
}

func (suite *StoreTestSuite) testListRecordIDs(t *testing.T) {
	store := suite.newStore(t)
	ctx := testContext()

	require.NoError(t, store.PutRecord(ctx, newRecord("a")))
	require.NoError(t, store.PutRecord(ctx, newRecord("b")))
	require.NoError(t, store.ArmLiveness(ctx, "a", suite.longTTL()))
	require.NoError(t, store.ArmLiveness(ctx, "orphan", suite.longTTL()))

	ids, err := store.ListRecordIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
