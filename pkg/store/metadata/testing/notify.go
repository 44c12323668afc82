package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunNotificationTests executes Notifier tests.
func (suite *StoreTestSuite) RunNotificationTests(t *testing.T) {
	t.Run("NaturalExpiry", suite.testNaturalExpiry)
	t.Run("ForcedExpiry", suite.testForcedExpiry)
	t.Run("ExplicitDelete", suite.testExplicitDelete)
	t.Run("RearmPostponesExpiry", suite.testRearmPostponesExpiry)
	t.Run("SubscriptionClose", suite.testSubscriptionClose)
	t.Run("SubscriptionContextCancel", suite.testSubscriptionContextCancel)
}

func (suite *StoreTestSuite) testNaturalExpiry(t *testing.T) {
	store := suite.newStore(t)
	sub := mustSubscribe(t, store)

	require.NoError(t, store.ArmLiveness(testContext(), "natural", time.Second))

	ev := waitForKey(t, sub, metadata.LivenessKey("natural"), time.Second+suite.eventTimeout())
	assert.Equal(t, metadata.EventExpired, ev.Kind)

	exists, err := store.LivenessExists(testContext(), "natural")
	require.NoError(t, err)
	assert.False(t, exists)
}

// Forced expiry may be reported as either kind: Redis reports a key whose
// expiry is set in the past as deleted.
func (suite *StoreTestSuite) testForcedExpiry(t *testing.T) {
	store := suite.newStore(t)
	sub := mustSubscribe(t, store)

	require.NoError(t, store.ArmLiveness(testContext(), "forced", suite.longTTL()))
	require.NoError(t, store.ExpireLiveness(testContext(), "forced"))

	ev := waitForKey(t, sub, metadata.LivenessKey("forced"), suite.eventTimeout())
	assert.Contains(t, []metadata.EventKind{metadata.EventExpired, metadata.EventDeleted}, ev.Kind)
}

func (suite *StoreTestSuite) testExplicitDelete(t *testing.T) {
	store := suite.newStore(t)
	sub := mustSubscribe(t, store)

	require.NoError(t, store.ArmLiveness(testContext(), "deleted", suite.longTTL()))
	require.NoError(t, store.DeleteLiveness(testContext(), "deleted"))

	ev := waitForKey(t, sub, metadata.LivenessKey("deleted"), suite.eventTimeout())
	assert.Equal(t, metadata.EventDeleted, ev.Kind)
}

func (suite *StoreTestSuite) testRearmPostponesExpiry(t *testing.T) {
	store := suite.newStore(t)
	sub := mustSubscribe(t, store)

	require.NoError(t, store.ArmLiveness(testContext(), "rearm", time.Second))
	require.NoError(t, store.ArmLiveness(testContext(), "rearm", suite.longTTL()))

	assertNoKey(t, sub, metadata.LivenessKey("rearm"), 2*time.Second)

	exists, err := store.LivenessExists(testContext(), "rearm")
	require.NoError(t, err)
	assert.True(t, exists)
}

func (suite *StoreTestSuite) testSubscriptionClose(t *testing.T) {
	store := suite.newStore(t)
	sub, err := store.Subscribe(testContext())
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	drainUntilClosed(t, sub, suite.eventTimeout())
	assert.NoError(t, sub.Err())
}

func (suite *StoreTestSuite) testSubscriptionContextCancel(t *testing.T) {
	store := suite.newStore(t)
	ctx, cancel := context.WithCancel(testContext())

	sub, err := store.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	drainUntilClosed(t, sub, suite.eventTimeout())
	assert.NoError(t, sub.Err())
}

func drainUntilClosed(t *testing.T, sub metadata.Subscription, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription did not end")
		}
	}
}
