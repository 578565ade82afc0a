package conns

import (
	"fmt"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/app/registry"
)

// Registry tracks the physical and logical links the server keeps alive.
// Entries are created on extension registration and removed on
// deregistration; every entry state change is re-emitted on
// ConnectionStateChanged.
type Registry struct {
	entries *registry.Registry[*Entry]

	Added                  registry.Signal[*Entry]
	Removed                registry.Signal[*Entry]
	ConnectionStateChanged registry.Signal[StateChange]
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		entries: registry.New[*Entry](),
	}
}

// Add registers a connection under an id. The returned entry forwards its
// state changes through the registry.
func (r *Registry) Add(id, purpose, description string, conn model.Connection) (*Entry, error) {
	entry := NewEntry(id, purpose, description, conn)

	if err := r.entries.Add(id, entry); err != nil {
		return nil, err
	}

	entry.StateChanged.Connect(func(change StateChange) {
		r.ConnectionStateChanged.Emit(change)
	})

	r.Added.Emit(entry)

	return entry, nil
}

// Remove deregisters a connection
func (r *Registry) Remove(id string) (*Entry, bool) {
	entry, ok := r.entries.Remove(id)
	if !ok {
		return nil, false
	}

	r.Removed.Emit(entry)

	return entry, true
}

// Find returns an entry by id
func (r *Registry) Find(id string) (*Entry, bool) {
	return r.entries.Find(id)
}

// FindOrError returns an entry by id or a structured error
func (r *Registry) FindOrError(id string) (*Entry, error) {
	entry, ok := r.entries.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoSuchConn, id)
	}

	return entry, nil
}

// IDs returns all connection ids in sorted order
func (r *Registry) IDs() []string {
	return r.entries.IDs()
}

// Entries returns all entries ordered by id
func (r *Registry) Entries() []*Entry {
	return r.entries.Values()
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	return r.entries.Len()
}
