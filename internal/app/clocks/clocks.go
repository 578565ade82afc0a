package clocks

import (
	"fmt"
	"time"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/app/registry"
)

// Clock is a named time source exposed to clients through CLK-* messages
type Clock interface {
	ID() string
	Running() bool
	Ticks() int64
	TicksPerSecond() int
	Epoch() (time.Time, bool)
}

// Info returns the wire representation of a clock used in CLK-INF bodies
func Info(c Clock) model.Body {
	body := model.Body{
		"id":             c.ID(),
		"running":        c.Running(),
		"ticks":          c.Ticks(),
		"ticksPerSecond": c.TicksPerSecond(),
		"retrievedAt":    time.Now().UnixMilli(),
	}

	if epoch, ok := c.Epoch(); ok {
		body["epoch"] = epoch.UnixMilli()
	}

	return body
}

// Registry tracks the clocks of the server. Changes reported through
// NotifyChanged are published on the Changed signal for CLK-INF notifications
type Registry struct {
	entries *registry.Registry[Clock]

	Changed registry.Signal[Clock]
}

// NewRegistry creates an empty clock registry
func NewRegistry() *Registry {
	return &Registry{
		entries: registry.New[Clock](),
	}
}

// Add registers a clock
func (r *Registry) Add(clock Clock) error {
	return r.entries.Add(clock.ID(), clock)
}

// Remove deregisters a clock
func (r *Registry) Remove(id string) bool {
	_, ok := r.entries.Remove(id)
	return ok
}

// Find returns a clock by id
func (r *Registry) Find(id string) (Clock, bool) {
	return r.entries.Find(id)
}

// FindOrError returns a clock by id or a structured error
func (r *Registry) FindOrError(id string) (Clock, error) {
	clock, ok := r.entries.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoSuchClock, id)
	}

	return clock, nil
}

// IDs returns all clock ids in sorted order
func (r *Registry) IDs() []string {
	return r.entries.IDs()
}

// Clocks returns all clocks ordered by id
func (r *Registry) Clocks() []Clock {
	return r.entries.Values()
}

// NotifyChanged publishes a clock change; drivers call this when a clock is
// started, stopped or adjusted
func (r *Registry) NotifyChanged(clock Clock) {
	r.Changed.Emit(clock)
}

// SystemClock is the wall-clock time source registered by default
type SystemClock struct{}

// NewSystemClock creates the system clock
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) ID() string          { return "system" }
func (c *SystemClock) Running() bool       { return true }
func (c *SystemClock) TicksPerSecond() int { return 1000 }

// Ticks returns milliseconds since the Unix epoch
func (c *SystemClock) Ticks() int64 {
	return time.Now().UnixMilli()
}

// Epoch returns the Unix epoch
func (c *SystemClock) Epoch() (time.Time, bool) {
	return time.Unix(0, 0).UTC(), true
}
