// Package events fans session views out to interested readers.
package events

import (
	"sync"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

// ViewBroadcaster fans out views to all subscribers via buffered channels.
// A slow subscriber misses intermediate views, never the flow of the publisher.
type ViewBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.View]struct{}
	buffer int
	last   *domain.View
}

// NewViewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewViewBroadcaster(buffer int) *ViewBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &ViewBroadcaster{
		subs:   make(map[chan domain.View]struct{}),
		buffer: buffer,
	}
}

// Publish sends the view to all subscribers, dropping if a reader is slow.
func (b *ViewBroadcaster) Publish(v domain.View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = &v
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives views until Unsubscribe is called.
// The most recent view, if any, is delivered first.
func (b *ViewBroadcaster) Subscribe() chan domain.View {
	ch := make(chan domain.View, b.buffer)
	b.mu.Lock()
	if b.last != nil {
		ch <- *b.last
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *ViewBroadcaster) Unsubscribe(ch chan domain.View) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (b *ViewBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
