package metadata

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// Broadcaster fans records out to live subscribers of a run. Subscribers that fall
// behind lose records rather than slow the executor down. A run's subscriptions are
// closed after its final record.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan TransitionRecord
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[int]chan TransitionRecord)}
}

// Subscribe returns a channel of the run's future records and a function that
// ends the subscription. The channel is closed by either.
func (b *Broadcaster) Subscribe(runID string) (<-chan TransitionRecord, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan TransitionRecord, subscriberBuffer)
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]chan TransitionRecord)
	}
	b.subs[runID][id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[runID][id]; ok {
			delete(b.subs[runID], id)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
			close(c)
		}
	}
}

// Subscribers returns the number of live subscriptions for a run.
func (b *Broadcaster) Subscribers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

// Record implements Sink.
func (b *Broadcaster) Record(_ context.Context, rec TransitionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[rec.RunID]
	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
		}
	}
	if rec.Final() {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, rec.RunID)
	}
	return nil
}
