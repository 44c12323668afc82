package content

import "errors"

// ============================================================================
// Service Errors
// ============================================================================

// Every error returned by Service wraps exactly one of these sentinels.
// Transport adapters check them with errors.Is and map them to their own
// status codes:
//
//	rc, rec, err := svc.Read(ctx, id)
//	if errors.Is(err, content.ErrNotFound) {
//	    return http.StatusNotFound
//	}
//
// Underlying store errors stay in the chain, so errors.Is(err,
// context.Canceled) also works.

var (
	// ErrInvalidArgument indicates a request the service cannot act on: an
	// empty or reserved id, a missing payload, or an unusable filename.
	//
	// Protocol Mapping:
	//   - HTTP: 400 Bad Request
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates there is no downloadable file for the id.
	//
	// Read also returns it for a record whose upload has not completed.
	//
	// Protocol Mapping:
	//   - HTTP: 404 Not Found
	ErrNotFound = errors.New("file not found")

	// ErrInconsistent indicates a complete record whose blob is missing.
	// It is never folded into ErrNotFound: it means an earlier cleanup or an
	// external actor broke the record/blob pairing.
	//
	// Protocol Mapping:
	//   - HTTP: 500 Internal Server Error
	ErrInconsistent = errors.New("record has no blob")

	// ErrStoreFault indicates a metadata or blob store operation failed.
	//
	// Protocol Mapping:
	//   - HTTP: 500 Internal Server Error
	ErrStoreFault = errors.New("store failure")
)
