package badger

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Database Key Namespace Design
// ==============================
//
// Data Type        Prefix   Key Format     Value Type
// ====================================================================
// File Records     "r:"     r:<id>         FileRecord (JSON)
// Liveness Keys    "x:"     x:<id>         deadline (int64 unix nanos, big-endian)
//
// Liveness keys are stored without a native Badger TTL. Badger drops
// expired entries silently, so the sweeper owns expiry and publishes an
// event for every key it removes.
const (
	prefixRecord   = "r:"
	prefixLiveness = "x:"
)

func keyRecord(id string) []byte {
	return []byte(prefixRecord + id)
}

func keyLiveness(id string) []byte {
	return []byte(prefixLiveness + id)
}

func encodeDeadline(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeDeadline(val []byte) (time.Time, error) {
	if len(val) != 8 {
		return time.Time{}, fmt.Errorf("invalid liveness deadline length %d", len(val))
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(val))), nil
}
