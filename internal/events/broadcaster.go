// Package events fans item lifecycle events out to the owners' SSE streams.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/femtoserve/femtoserve/internal/metrics"
)

const (
	EventCreate = "create"
	EventDelete = "delete"
)

// subscriptionBuffer is how many undelivered events a subscription holds
// before new ones are dropped.
const subscriptionBuffer = 64

// Event describes a change to an item. Owner routes the event and is never
// serialized.
type Event struct {
	Type      string `json:"type"`
	ItemID    string `json:"item_id"`
	Short     string `json:"short,omitempty"`
	Filetype  string `json:"filetype,omitempty"`
	Owner     string `json:"-"`
	Timestamp int64  `json:"timestamp"`
}

// Subscription receives the events of one owner.
type Subscription struct {
	owner   string
	ch      chan Event
	dropped atomic.Int64
	b       *Broadcaster
	once    sync.Once
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Owner is the owner id the subscription was opened for.
func (s *Subscription) Owner() string { return s.owner }

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.b.remove(s) })
}

// Broadcaster routes events to the subscriptions of the event's owner.
type Broadcaster struct {
	mu     sync.RWMutex
	owners map[string]map[*Subscription]struct{}
	total  int
	now    func() time.Time
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		owners: make(map[string]map[*Subscription]struct{}),
		now:    time.Now,
	}
}

// Subscribe opens a subscription for owner's events. The caller must Close it.
func (b *Broadcaster) Subscribe(owner string) *Subscription {
	sub := &Subscription{owner: owner, ch: make(chan Event, subscriptionBuffer), b: b}

	b.mu.Lock()
	set, ok := b.owners[owner]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.owners[owner] = set
	}
	set[sub] = struct{}{}
	b.total++
	n := b.total
	b.mu.Unlock()

	metrics.SetSSEConnectionsActive(int64(n))
	return sub
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	if set, ok := b.owners[sub.owner]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			b.total--
			close(sub.ch)
		}
		if len(set) == 0 {
			delete(b.owners, sub.owner)
		}
	}
	n := b.total
	b.mu.Unlock()

	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish delivers event to every subscription of event.Owner and returns
// how many received it. Full subscriptions drop the event instead of
// blocking the publisher.
func (b *Broadcaster) Publish(event Event) int {
	if event.Timestamp == 0 {
		event.Timestamp = b.now().Unix()
	}
	metrics.RecordSSEEvent(event.Type)

	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for sub := range b.owners[event.Owner] {
		select {
		case sub.ch <- event:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Count returns the number of open subscriptions.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// WriteSSE frames e as a server-sent event named after its type.
func WriteSSE(w io.Writer, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
