package metrics

import "time"

// ContentMetrics provides observability for the content service.
//
// Example usage:
//
//	svc := content.New(index, blobs, cfg, prometheus.NewContentMetrics())
//
//	// Without metrics (no-op)
//	svc := content.New(index, blobs, cfg, nil)
type ContentMetrics interface {
	// RecordOperation records a completed service operation.
	//
	// Parameters:
	//   - operation: Operation name ("write", "read", "expire", "metadata", "purge")
	//   - duration: Time taken to complete the operation
	//   - err: Error if the operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved through the service.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytes(direction string, bytes int64)

	// RecordRollback records a write that was rolled back after a failure.
	RecordRollback()
}

// NewNoopContentMetrics returns a ContentMetrics that records nothing.
func NewNoopContentMetrics() ContentMetrics {
	return noopContentMetrics{}
}

type noopContentMetrics struct{}

func (noopContentMetrics) RecordOperation(string, time.Duration, error) {}
func (noopContentMetrics) RecordBytes(string, int64)                    {}
func (noopContentMetrics) RecordRollback()                              {}
