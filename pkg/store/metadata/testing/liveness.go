package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunLivenessTests executes liveness key tests.
func (suite *StoreTestSuite) RunLivenessTests(t *testing.T) {
	t.Run("ArmLiveness_Exists", suite.testArmLivenessExists)
	t.Run("ArmLiveness_InvalidTTL", suite.testArmLivenessInvalidTTL)
	t.Run("ArmLiveness_InvalidID", suite.testArmLivenessInvalidID)
	t.Run("DeleteLiveness_Idempotent", suite.testDeleteLivenessIdempotent)
	t.Run("ExpireLiveness_RemovesKey", suite.testExpireLivenessRemovesKey)
	t.Run("ExpireLiveness_Missing", suite.testExpireLivenessMissing)
	t.Run("LivenessIndependentOfRecord", suite.testLivenessIndependentOfRecord)
}

func (suite *StoreTestSuite) longTTL() time.Duration {
	return time.Hour
}

func (suite *StoreTestSuite) testArmLivenessExists(t *testing.T) {
	store := suite.newStore(t)

	exists, err := store.LivenessExists(testContext(), "arm")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.ArmLiveness(testContext(), "arm", suite.longTTL()))

	exists, err = store.LivenessExists(testContext(), "arm")
	require.NoError(t, err)
	assert.True(t, exists)
}

func (suite *StoreTestSuite) testArmLivenessInvalidTTL(t *testing.T) {
	store := suite.newStore(t)

	assert.Error(t, store.ArmLiveness(testContext(), "ttl", 0))
	assert.Error(t, store.ArmLiveness(testContext(), "ttl", -time.Second))
}

func (suite *StoreTestSuite) testArmLivenessInvalidID(t *testing.T) {
	store := suite.newStore(t)

	err := store.ArmLiveness(testContext(), "x"+metadata.LivenessSuffix, suite.longTTL())
	assert.ErrorIs(t, err, metadata.ErrInvalidID)
}

func (suite *StoreTestSuite) testDeleteLivenessIdempotent(t *testing.T) {
	store := suite.newStore(t)
	require.NoError(t, store.ArmLiveness(testContext(), "del", suite.longTTL()))

	require.NoError(t, store.DeleteLiveness(testContext(), "del"))
	require.NoError(t, store.DeleteLiveness(testContext(), "del"))

	exists, err := store.LivenessExists(testContext(), "del")
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *StoreTestSuite) testExpireLivenessRemovesKey(t *testing.T) {
	store := suite.newStore(t)
	require.NoError(t, store.ArmLiveness(testContext(), "expire", suite.longTTL()))

	require.NoError(t, store.ExpireLiveness(testContext(), "expire"))

	exists, err := store.LivenessExists(testContext(), "expire")
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *StoreTestSuite) testExpireLivenessMissing(t *testing.T) {
	store := suite.newStore(t)

	assert.NoError(t, store.ExpireLiveness(testContext(), "never-armed"))
}

func (suite *StoreTestSuite) testLivenessIndependentOfRecord(t *testing.T) {
	store := suite.newStore(t)
	ctx := testContext()

	require.NoError(t, store.PutRecord(ctx, newRecord("pair")))
	require.NoError(t, store.ArmLiveness(ctx, "pair", suite.longTTL()))

	require.NoError(t, store.DeleteLiveness(ctx, "pair"))
	_, err := store.GetRecord(ctx, "pair")
	require.NoError(t, err, "removing the liveness key must keep the record")

	require.NoError(t, store.ArmLiveness(ctx, "pair", suite.longTTL()))
	require.NoError(t, store.DeleteRecord(ctx, "pair"))
	exists, err := store.LivenessExists(ctx, "pair")
	require.NoError(t, err)
	assert.True(t, exists, "removing the record must keep the liveness key")
}
