// Package metadata defines the metadata index for stored files.
//
// The index holds two kinds of entries per file identifier:
//
//   - A FileRecord, keyed by the identifier verbatim, describing where the
//     blob lives and whether it has been fully written.
//   - A liveness key, keyed by the identifier plus LivenessSuffix, holding a
//     sentinel value with a time-to-live. It carries no data. Its expiry or
//     deletion is the only signal that a file must be evicted.
//
// Backends publish Expired and Deleted events through the Notifier
// interface. Some backends also report record keys; subscribers act only on
// keys accepted by IDFromLivenessKey.
package metadata

import (
	"fmt"
	"strings"
)

// LivenessSuffix is appended to a file identifier to form its liveness key.
const LivenessSuffix = ":exp"

// LivenessValue is the sentinel stored under a liveness key.
const LivenessValue = "1"

// FileRecord describes one stored file.
//
// The JSON layout is the wire format stored in key-value backends. The
// completion flag is serialized as "stored".
type FileRecord struct {
	// ID is the caller-supplied identifier.
	ID string `json:"id"`

	// Path is the blob location, as returned by blob.Store.PathFor.
	Path string `json:"path"`

	// Filename is the original client-supplied name.
	Filename string `json:"filename"`

	// Tags are opaque caller-supplied labels, kept in order.
	Tags []string `json:"tags"`

	// Complete is true only once the blob has been fully persisted.
	// Readers must treat an incomplete record as not downloadable.
	Complete bool `json:"stored"`
}

// Clone returns a deep copy of the record.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return &c
}

// LivenessKey returns the liveness key name for id.
func LivenessKey(id string) string {
	return id + LivenessSuffix
}

// IDFromLivenessKey maps a liveness key back to its file identifier.
//
// Returns false if key is not a liveness key.
func IDFromLivenessKey(key string) (string, bool) {
	id, ok := strings.CutSuffix(key, LivenessSuffix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ValidateID checks that id can be stored.
//
// An id must be non-empty and must not itself end with LivenessSuffix,
// otherwise its record key would be indistinguishable from another id's
// liveness key.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id: %w", ErrInvalidID)
	}
	if strings.HasSuffix(id, LivenessSuffix) {
		return fmt.Errorf("id %q ends with reserved suffix %q: %w", id, LivenessSuffix, ErrInvalidID)
	}
	return nil
}
