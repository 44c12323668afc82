package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for metadata.Store implementations.
//
// Usage:
//
//	func TestMyMetadataStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) metadata.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. The suite closes
	// it when the test ends.
	NewStore func(t *testing.T) metadata.Store

	// EventTimeout bounds how long to wait for a notification
	// (default: 5s).
	EventTimeout time.Duration
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("RecordOperations", suite.RunRecordTests)
	t.Run("LivenessOperations", suite.RunLivenessTests)
	t.Run("Notifications", suite.RunNotificationTests)
}

func testContext() context.Context {
	return context.Background()
}

func (suite *StoreTestSuite) newStore(t *testing.T) metadata.Store {
	t.Helper()
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func (suite *StoreTestSuite) eventTimeout() time.Duration {
	if suite.EventTimeout > 0 {
		return suite.EventTimeout
	}
	return 5 * time.Second
}

func mustSubscribe(t *testing.T, store metadata.Store) metadata.Subscription {
	t.Helper()
	sub, err := store.Subscribe(testContext())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

// waitForKey returns the first event for key, skipping unrelated events.
func waitForKey(t *testing.T, sub metadata.Subscription, key string, timeout time.Duration) metadata.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscription ended: %v", sub.Err())
			if ev.Key == key {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event for %s within %s", key, timeout)
		}
	}
}

// assertNoKey fails if an event for key arrives within wait.
func assertNoKey(t *testing.T, sub metadata.Subscription, key string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			require.NotEqual(t, key, ev.Key, "unexpected %s event", ev.Kind)
		case <-deadline:
			return
		}
	}
}

func newRecord(id string) *metadata.FileRecord {
	return &metadata.FileRecord{
		ID:       id,
		Path:     "/files/" + id + ".txt",
		Filename: id + ".txt",
		Tags:     []string{"alpha", "beta"},
	}
}
