package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"skyhub/internal/app/model"
)

// BatchingLimiter aggregates string-keyed requests (object ids, log entry
// keys) into a de-duplicated bundle. The run loop lets a bundle accumulate
// for the delay window, then builds a single notification through the
// factory and dispatches it.
type BatchingLimiter struct {
	delay   time.Duration
	factory func(items []string) *model.Message

	mu      sync.Mutex
	pending map[string]struct{}
	notify  chan struct{}
}

// NewBatchingLimiter creates a batching limiter with the given dispatch
// delay and notification factory
func NewBatchingLimiter(delay time.Duration, factory func(items []string) *model.Message) *BatchingLimiter {
	return &BatchingLimiter{
		delay:   delay,
		factory: factory,
		pending: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// AddRequest adds an item to the pending bundle. Duplicate items within one
// delay window collapse into a single dispatch.
func (l *BatchingLimiter) AddRequest(request interface{}) {
	var items []string

	switch typed := request.(type) {
	case string:
		items = []string{typed}
	case []string:
		items = typed
	default:
		return
	}

	l.mu.Lock()

	for _, item := range items {
		l.pending[item] = struct{}{}
	}

	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run drains bundles until the context is cancelled. The delay window opens
// on the first request of a bundle; everything arriving before it closes
// rides in the same dispatch.
func (l *BatchingLimiter) Run(ctx context.Context, dispatch Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.notify:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.delay):
		}

		items := l.drain()
		if len(items) == 0 {
			continue
		}

		if msg := l.factory(items); msg != nil {
			dispatch(msg)
		}
	}
}

func (l *BatchingLimiter) drain() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]string, 0, len(l.pending))
	for item := range l.pending {
		items = append(items, item)
	}

	l.pending = make(map[string]struct{})

	sort.Strings(items)

	return items
}
