// Package feed is the in-process fan-out from the ingest path to live
// subscribers (the websocket endpoint). It routes newly stored auctions
// to channels by item tag and is safe for concurrent use.
package feed

import (
	"sync"
	"time"

	"skyvault/internal/models"
)

// AllTags subscribes to every auction regardless of tag.
const AllTags = ""

// Event is one auction as it was stored.
type Event struct {
	Kind     string         `json:"kind"` // "sold" or "listed"
	StoredAt time.Time      `json:"stored_at"`
	Auction  models.Auction `json:"auction"`
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
	closed      bool
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe registers a channel for one tag (or AllTags). The caller owns
// the channel and its buffer; a full channel drops events rather than
// blocking the ingest path.
func (b *Bus) Subscribe(tag string, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[tag] = append(b.subscribers[tag], ch)
}

// Unsubscribe removes a previously registered channel. The channel is not
// closed; that is the caller's responsibility.
func (b *Bus) Unsubscribe(tag string, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[tag]
	for i, c := range subs {
		if c == ch {
			b.subscribers[tag] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[tag]) == 0 {
		delete(b.subscribers, tag)
	}
}

// Publish fans one stored auction out to its tag's subscribers and to the
// all-tags subscribers. Slow subscribers lose events, never ingest time.
func (b *Bus) Publish(a models.Auction) {
	evt := Event{Kind: "listed", StoredAt: time.Now().UTC(), Auction: a}
	if a.Sold {
		evt.Kind = "sold"
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[a.Tag] {
		select {
		case ch <- evt:
		default:
		}
	}
	if a.Tag != AllTags {
		for _, ch := range b.subscribers[AllTags] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// PublishBatch publishes every auction of a stored batch.
func (b *Bus) PublishBatch(batch []models.Auction) {
	for _, a := range batch {
		b.Publish(a)
	}
}

// Close marks the bus as closed. After Close, Publish is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
