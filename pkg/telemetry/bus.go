package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Subscription receives samples from a Bus.
type Subscription struct {
	C <-chan Sample

	ch      chan Sample
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Dropped returns how many value samples were discarded because the
// subscriber's buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Bus fans samples out to all subscribers. It is safe for concurrent use.
//
// Value samples (health, combo, accuracy, hit) are dropped for a subscriber
// whose buffer is full, since only the latest value matters. Control samples
// (play state, beatmap loaded) wait for buffer space so that lifecycle
// transitions are never lost.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	seq  atomic.Uint64
	now  func() time.Time
}

// NewBus creates a Bus ready for use.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Subscribe creates a subscription with the given buffer size. The caller
// reads from sub.C and must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) *Subscription {
	ch := make(chan Sample, bufSize)
	sub := &Subscription{C: ch, ch: ch, done: make(chan struct{})}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	// Release any Publish parked on this subscriber before taking the lock.
	sub.once.Do(func() { close(sub.done) })

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish stamps s with a sequence number (and the current time when unset)
// and delivers it to every subscriber.
func (b *Bus) Publish(s Sample) {
	s.Seq = b.seq.Add(1)
	if s.Time.IsZero() {
		s.Time = b.now()
	}

	control := s.Kind == PlayState || s.Kind == BeatmapLoaded

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if control {
			select {
			case sub.ch <- s:
			case <-sub.done:
			}
			continue
		}

		select {
		case sub.ch <- s:
		default:
			sub.dropped.Add(1)
		}
	}
}
