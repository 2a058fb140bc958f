// Package events fans out storage events to subscribers (SSE clients,
// CLI watchers). Subscribers pick the part of the tree and the operations
// they care about with a Filter.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fruitsalade/pathstore/internal/metrics"
)

const (
	EventStore        = "store"
	EventRemove       = "remove"
	EventCreateFolder = "mkdir"
	EventRemoveFolder = "rmdir"
	EventRetrieve     = "retrieve"
	EventClean        = "clean"
)

// bufferSize is the number of events a subscriber may lag behind before
// new events are dropped for it.
const bufferSize = 64

// Event describes a completed storage operation.
type Event struct {
	Type      string `json:"type"`
	Path      string `json:"path,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Replaced  int    `json:"replaced,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Filter selects events for a subscription. The zero Filter matches
// everything.
type Filter struct {
	// Prefix limits events to a folder and everything below it. Matching is
	// per path segment: "docs" matches "docs" and "docs/a.txt" but not
	// "docsx". Events without a path (clean) only match an empty prefix.
	Prefix string
	// Types limits events to the listed operation types.
	Types []string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	prefix := strings.Trim(f.Prefix, "/")
	if prefix == "" {
		return true
	}
	path := strings.Trim(e.Path, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Subscription is a filtered event stream. Events arrive on C until the
// subscription is closed.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	filter  Filter
	dropped atomic.Int64
	b       *Broadcaster
}

// Dropped returns how many matching events were lost because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() { s.b.Unsubscribe(s) }

// Broadcaster manages subscribers and publishes events.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscription for events matching f.
// The caller must Close it when done.
func (b *Broadcaster) Subscribe(f Filter) *Subscription {
	ch := make(chan Event, bufferSize)
	sub := &Subscription{C: ch, ch: ch, filter: f, b: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish delivers event to every subscription whose filter matches it.
// Publishing never blocks; a full subscription misses the event.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.filter.Match(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			metrics.RecordSSEDropped()
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
