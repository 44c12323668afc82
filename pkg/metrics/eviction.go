package metrics

// Eviction outcomes reported to EvictionMetrics.
const (
	EvictionOutcomeEvicted = "evicted"
	EvictionOutcomeSkipped = "skipped"
	EvictionOutcomeFailed  = "failed"
)

// EvictionMetrics provides observability for the eviction coordinator.
type EvictionMetrics interface {
	// RecordEvent records a notification received from the metadata store.
	//
	// Parameters:
	//   - kind: Event kind ("expired" or "deleted")
	RecordEvent(kind string)

	// RecordEviction records the outcome of one cleanup.
	//
	// Parameters:
	//   - outcome: One of the EvictionOutcome constants
	RecordEviction(outcome string)

	// SetInFlight updates the number of cleanups currently running.
	SetInFlight(count int64)

	// RecordResubscribe records a notification channel failure followed by a
	// resubscribe attempt.
	RecordResubscribe()

	// RecordOrphansCollected records blobs or records removed by a
	// reconciliation pass.
	//
	// Parameters:
	//   - kind: "blob" or "record"
	//   - count: Number of items removed
	RecordOrphansCollected(kind string, count int)
}

// NewNoopEvictionMetrics returns an EvictionMetrics that records nothing.
func NewNoopEvictionMetrics() EvictionMetrics {
	return noopEvictionMetrics{}
}

type noopEvictionMetrics struct{}

func (noopEvictionMetrics) RecordEvent(string)                 {}
func (noopEvictionMetrics) RecordEviction(string)              {}
func (noopEvictionMetrics) SetInFlight(int64)                  {}
func (noopEvictionMetrics) RecordResubscribe()                 {}
func (noopEvictionMetrics) RecordOrphansCollected(string, int) {}
