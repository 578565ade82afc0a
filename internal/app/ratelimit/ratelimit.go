package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
)

// Dispatcher hands a coalesced notification to the message hub
type Dispatcher func(msg *model.Message)

// Limiter coalesces a stream of per-object requests into a bounded stream of
// aggregated messages. AddRequest never blocks; the limiter's own run task
// drains the pending requests.
type Limiter interface {
	AddRequest(request interface{})
	Run(ctx context.Context, dispatch Dispatcher)
}

// Registry maps message type tags to rate limiters. Limiters may not be
// added once the registry is running.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
	running  bool
}

// NewRegistry creates an empty rate limiter registry
func NewRegistry() *Registry {
	return &Registry{
		limiters: make(map[string]Limiter),
	}
}

// Register adds a limiter under a message type tag
func (r *Registry) Register(tag string, limiter Limiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.ErrLimiterRunning
	}

	if _, exists := r.limiters[tag]; exists {
		return fmt.Errorf("%w: %s", errors.ErrIDConflict, tag)
	}

	r.limiters[tag] = limiter

	return nil
}

// Request forwards one request to the limiter registered under the tag
func (r *Registry) Request(tag string, request interface{}) error {
	r.mu.Lock()
	limiter, exists := r.limiters[tag]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchLimiter, tag)
	}

	limiter.AddRequest(request)

	return nil
}

// Run starts every registered limiter and blocks until the context is
// cancelled
func (r *Registry) Run(ctx context.Context, dispatch Dispatcher) {
	r.mu.Lock()
	r.running = true

	limiters := make([]Limiter, 0, len(r.limiters))
	for _, limiter := range r.limiters {
		limiters = append(limiters, limiter)
	}

	r.mu.Unlock()

	var wg sync.WaitGroup

	for _, limiter := range limiters {
		wg.Add(1)

		go func(l Limiter) {
			defer wg.Done()

			l.Run(ctx, dispatch)
		}(limiter)
	}

	wg.Wait()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}
