package metadata

import "context"

// EventKind distinguishes why a liveness key disappeared.
type EventKind int

const (
	// EventExpired means the key's time-to-live elapsed.
	EventExpired EventKind = iota

	// EventDeleted means the key was removed explicitly.
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventExpired:
		return "expired"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event reports that a key vanished from the index.
//
// Key is the raw key name. Subscribers use IDFromLivenessKey to recover the
// file identifier and ignore anything else.
type Event struct {
	Kind EventKind
	Key  string
}

// Notifier publishes key expiry and deletion events.
//
// Delivery is at-least-once while a subscription is healthy. Events are
// unordered across keys. Events that occur while no subscription is active
// are lost.
type Notifier interface {
	// Subscribe starts receiving events.
	//
	// The returned subscription delivers events until it is closed, ctx is
	// cancelled, or the underlying channel fails. In the last case Events()
	// is closed and Err() reports the cause.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a live event feed.
type Subscription interface {
	// Events returns the event channel. It is closed when the subscription ends.
	Events() <-chan Event

	// Err returns the reason the subscription ended, or nil if it was closed
	// normally or is still running.
	Err() error

	// Close ends the subscription. Safe to call multiple times.
	Close() error
}
