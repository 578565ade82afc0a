package objects

import (
	"fmt"
	"sort"
	"sync"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/app/registry"
	"skyhub/internal/config"
)

// Registry tracks UAVs, beacons and docks discovered by drivers. A size
// limit bounds memory use; exceeding it refuses the add without firing the
// added signal.
type Registry struct {
	entries   *registry.Registry[model.Object]
	sizeLimit int

	mu     sync.RWMutex
	byType map[string]map[string]struct{}

	Added   registry.Signal[model.Object]
	Removed registry.Signal[model.Object]
}

// NewRegistry creates an object registry with the configured size limit
func NewRegistry(cfg *config.Config) *Registry {
	return NewRegistryWithLimit(cfg.Objects.SizeLimit)
}

// NewRegistryWithLimit creates an object registry with an explicit limit
func NewRegistryWithLimit(sizeLimit int) *Registry {
	return &Registry{
		entries:   registry.New[model.Object](),
		sizeLimit: sizeLimit,
		byType:    make(map[string]map[string]struct{}),
	}
}

// Add stores an object. Fails with ErrRegistryFull at the size limit and
// ErrIDConflict when the id is taken by another instance.
func (r *Registry) Add(object model.Object) error {
	r.mu.Lock()

	if r.sizeLimit > 0 && r.entries.Len() >= r.sizeLimit {
		r.mu.Unlock()

		return fmt.Errorf("%w: limit is %d", errors.ErrRegistryFull, r.sizeLimit)
	}

	if err := r.entries.Add(object.ID(), object); err != nil {
		r.mu.Unlock()

		return err
	}

	ids, ok := r.byType[object.TypeTag()]
	if !ok {
		ids = make(map[string]struct{})
		r.byType[object.TypeTag()] = ids
	}

	ids[object.ID()] = struct{}{}
	r.mu.Unlock()

	r.Added.Emit(object)

	return nil
}

// Remove deletes an object by id
func (r *Registry) Remove(id string) (model.Object, bool) {
	r.mu.Lock()

	object, ok := r.entries.Remove(id)
	if !ok {
		r.mu.Unlock()

		return nil, false
	}

	if ids, ok := r.byType[object.TypeTag()]; ok {
		delete(ids, id)

		if len(ids) == 0 {
			delete(r.byType, object.TypeTag())
		}
	}

	r.mu.Unlock()

	r.Removed.Emit(object)

	return object, true
}

// Find returns an object by id
func (r *Registry) Find(id string) (model.Object, bool) {
	return r.entries.Find(id)
}

// FindUAV returns a UAV by id; non-UAV objects do not match
func (r *Registry) FindUAV(id string) (model.UAV, bool) {
	object, ok := r.entries.Find(id)
	if !ok {
		return nil, false
	}

	uav, ok := object.(model.UAV)

	return uav, ok
}

// Len returns the number of tracked objects
func (r *Registry) Len() int {
	return r.entries.Len()
}

// IDs returns all object ids in sorted order
func (r *Registry) IDs() []string {
	return r.entries.IDs()
}

// IDsByType returns the ids of objects carrying the given type tag, sorted
func (r *Registry) IDsByType(tag string) []string {
	return r.IDsByTypes([]string{tag})
}

// IDsByTypes returns the ids of objects carrying any of the given type tags,
// sorted
func (r *Registry) IDsByTypes(tags []string) []string {
	r.mu.RLock()

	ids := make([]string, 0)

	for _, tag := range tags {
		for id := range r.byType[tag] {
			ids = append(ids, id)
		}
	}

	r.mu.RUnlock()

	sort.Strings(ids)

	return ids
}
