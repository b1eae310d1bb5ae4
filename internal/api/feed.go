package api

import (
	"sync"

	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
)

// Feed fans accepted stream formats out to subscribers
type Feed struct {
	mu        sync.RWMutex
	listeners []chan negotiate.StreamFormat
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{}
}

// Subscribe adds a listener for accepted formats
func (f *Feed) Subscribe() chan negotiate.StreamFormat {
	ch := make(chan negotiate.StreamFormat, 10)
	f.mu.Lock()
	f.listeners = append(f.listeners, ch)
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (f *Feed) Unsubscribe(ch chan negotiate.StreamFormat) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, listener := range f.listeners {
		if listener == ch {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Subscribers returns the number of listeners
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// Publish notifies all listeners. Slow listeners miss formats rather than
// block the publisher.
func (f *Feed) Publish(sf negotiate.StreamFormat) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, listener := range f.listeners {
		select {
		case listener <- sf:
		default:
			// Skip if channel is full
		}
	}
}
