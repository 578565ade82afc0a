package clients

import (
	"fmt"
	"sort"
	"sync"

	"skyhub/internal/app/channels"
	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/app/registry"
)

// Registry tracks connected clients, indexed both by id and by the channel
// type they arrived on
type Registry struct {
	channelTypes *channels.Registry
	entries      *registry.Registry[*model.Client]

	mu     sync.RWMutex
	byType map[string]map[string]struct{}

	// Added and Removed fire after the index is updated
	Added   registry.Signal[*model.Client]
	Removed registry.Signal[*model.Client]
}

// NewRegistry creates an empty client registry backed by the given
// channel-type registry
func NewRegistry(channelTypes *channels.Registry) *Registry {
	return &Registry{
		channelTypes: channelTypes,
		entries:      registry.New[*model.Client](),
		byType:       make(map[string]map[string]struct{}),
	}
}

// Add constructs a channel of the given type, binds it to a new client and
// stores the client
func (r *Registry) Add(id, channelTypeID string) (*model.Client, error) {
	channel, err := r.channelTypes.CreateChannel(channelTypeID)
	if err != nil {
		return nil, err
	}

	client := model.NewClient(id, channelTypeID, channel)

	return client, r.AddClient(client)
}

// AddClient stores an externally constructed client
func (r *Registry) AddClient(client *model.Client) error {
	if err := r.entries.Add(client.ID(), client); err != nil {
		return err
	}

	r.mu.Lock()

	ids, ok := r.byType[client.ChannelType()]
	if !ok {
		ids = make(map[string]struct{})
		r.byType[client.ChannelType()] = ids
	}

	ids[client.ID()] = struct{}{}
	r.mu.Unlock()

	r.Added.Emit(client)

	return nil
}

// Remove deletes a client by id
func (r *Registry) Remove(id string) (*model.Client, bool) {
	client, ok := r.entries.Remove(id)
	if !ok {
		return nil, false
	}

	r.mu.Lock()

	if ids, ok := r.byType[client.ChannelType()]; ok {
		delete(ids, id)

		if len(ids) == 0 {
			delete(r.byType, client.ChannelType())
		}
	}

	r.mu.Unlock()

	r.Removed.Emit(client)

	return client, true
}

// Find returns a client by id
func (r *Registry) Find(id string) (*model.Client, bool) {
	return r.entries.Find(id)
}

// FindOrError returns a client by id or a structured error
func (r *Registry) FindOrError(id string) (*model.Client, error) {
	client, ok := r.entries.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoSuchClient, id)
	}

	return client, nil
}

// Len returns the number of connected clients
func (r *Registry) Len() int {
	return r.entries.Len()
}

// IDs returns all client ids in sorted order
func (r *Registry) IDs() []string {
	return r.entries.IDs()
}

// Clients returns all clients ordered by id
func (r *Registry) Clients() []*model.Client {
	return r.entries.Values()
}

// ClientIDsForChannelType returns the ids of clients connected on the given
// channel type, in sorted order
func (r *Registry) ClientIDsForChannelType(channelTypeID string) []string {
	r.mu.RLock()

	ids := make([]string, 0, len(r.byType[channelTypeID]))
	for id := range r.byType[channelTypeID] {
		ids = append(ids, id)
	}

	r.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// HasClientsForChannelType reports whether at least one client is connected
// on the given channel type
func (r *Registry) HasClientsForChannelType(channelTypeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byType[channelTypeID]) > 0
}
