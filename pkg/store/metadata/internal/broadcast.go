package internal

import (
	"context"
	"sync"

	"github.com/marmos91/dittodrop/pkg/store/metadata"
)

// subscriptionBuffer bounds how far a slow subscriber may lag before
// Publish starts blocking.
const subscriptionBuffer = 1024

// Broadcaster fans events out to in-process subscribers.
//
// It backs the Notifier implementation of stores that have no native
// pub/sub channel. Publish blocks while a subscriber's buffer is full, so
// events are never dropped for a live subscriber.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscription]struct{})}
}

// Subscribe registers a new subscriber. The subscription ends when ctx is
// cancelled, Close is called on it, or the broadcaster is closed.
func (b *Broadcaster) Subscribe(ctx context.Context) (metadata.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &subscription{
		b:    b,
		in:   make(chan metadata.Event, subscriptionBuffer),
		out:  make(chan metadata.Event),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, metadata.ErrClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

// Publish delivers ev to every current subscriber.
func (b *Broadcaster) Publish(ev metadata.Event) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.in <- ev:
		case <-s.done:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends all subscriptions with metadata.ErrClosed and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.stop(metadata.ErrClosed)
	}
}

func (b *Broadcaster) remove(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

type subscription struct {
	b    *Broadcaster
	in   chan metadata.Event
	out  chan metadata.Event
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.stop(nil)
			return
		case ev := <-s.in:
			select {
			case s.out <- ev:
			case <-s.done:
				return
			case <-ctx.Done():
				s.stop(nil)
				return
			}
		}
	}
}

func (s *subscription) stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		s.b.remove(s)
	})
}

func (s *subscription) Events() <-chan metadata.Event {
	return s.out
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.stop(nil)
	return nil
}
