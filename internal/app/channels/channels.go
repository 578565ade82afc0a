package channels

import (
	"fmt"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/app/registry"
)

// Registry is the catalog of transport kinds the server can speak.
// Descriptors are immutable once added; the message hub listens on the
// change signals to recompute its broadcast fan-out.
type Registry struct {
	entries *registry.Registry[model.ChannelTypeDescriptor]
}

// NewRegistry creates an empty channel-type registry
func NewRegistry() *Registry {
	return &Registry{
		entries: registry.New[model.ChannelTypeDescriptor](),
	}
}

// Add registers a channel type. The descriptor must carry a factory.
func (r *Registry) Add(descriptor model.ChannelTypeDescriptor) error {
	if descriptor.ID == "" || descriptor.Factory == nil {
		return fmt.Errorf("%w: descriptor needs an id and a factory", errors.ErrInvalidMessage)
	}

	return r.entries.Add(descriptor.ID, descriptor)
}

// Remove deregisters a channel type
func (r *Registry) Remove(id string) bool {
	_, ok := r.entries.Remove(id)
	return ok
}

// Find returns the descriptor of a channel type
func (r *Registry) Find(id string) (model.ChannelTypeDescriptor, bool) {
	return r.entries.Find(id)
}

// IDs returns the registered channel type ids in sorted order
func (r *Registry) IDs() []string {
	return r.entries.IDs()
}

// Descriptors returns all descriptors ordered by id
func (r *Registry) Descriptors() []model.ChannelTypeDescriptor {
	return r.entries.Values()
}

// CreateChannel constructs a new communication channel of the given type
func (r *Registry) CreateChannel(id string) (model.CommunicationChannel, error) {
	descriptor, ok := r.entries.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoSuchChannel, id)
	}

	return descriptor.Factory(), nil
}

// OnChanged connects a handler invoked on every add or remove and returns a
// disposer
func (r *Registry) OnChanged(fn func()) func() {
	removeAdded := r.entries.Added.Connect(func(registry.Entry[model.ChannelTypeDescriptor]) { fn() })
	removeRemoved := r.entries.Removed.Connect(func(registry.Entry[model.ChannelTypeDescriptor]) { fn() })

	return func() {
		removeAdded()
		removeRemoved()
	}
}
