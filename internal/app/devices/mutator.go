package devices

import (
	"fmt"
	"reflect"
	"sort"

	"skyhub/internal/app/errors"
)

// Mutator is a transactional update scope over channel values. Updates that
// do not change the stored value are ignored; the commit dispatches one
// batched notification per affected subscriber.
type Mutator struct {
	tree    *Tree
	changed map[*Node]struct{}
}

// Mutate runs fn inside a mutator scope and commits the collected changes.
// The whole scope holds the tree lock; fn must not call back into the tree.
func (t *Tree) Mutate(fn func(m *Mutator) error) error {
	t.mu.Lock()

	m := &Mutator{
		tree:    t,
		changed: make(map[*Node]struct{}),
	}

	err := fn(m)

	var notifications []Notification
	if err == nil {
		notifications = m.commit()
	}

	t.mu.Unlock()

	if err != nil {
		return err
	}

	for _, n := range notifications {
		t.Updated.Emit(n)
	}

	return nil
}

// Update sets the value of the channel node at the given path
func (m *Mutator) Update(path string, value interface{}) error {
	node, ok := m.tree.resolve(path)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchPath, path)
	}

	return m.UpdateNode(node, value)
}

// UpdateNode sets the value of a channel node. Only nodes whose value
// actually changed are collected for the commit.
func (m *Mutator) UpdateNode(node *Node, value interface{}) error {
	if node.kind != KindChannel {
		return fmt.Errorf("%w: %s is not a channel", errors.ErrNoSuchPath, node.Path())
	}

	if reflect.DeepEqual(node.value, value) {
		return nil
	}

	node.value = value
	m.changed[node] = struct{}{}

	return nil
}

// commit walks the ancestor chains of every changed channel, snapshots the
// subscribed ancestors and batches the paths per subscriber; callers hold
// the tree lock
func (m *Mutator) commit() []Notification {
	if len(m.changed) == 0 {
		return nil
	}

	affected := make(map[*Node]struct{})

	for node := range m.changed {
		for _, ancestor := range node.ancestors() {
			affected[ancestor] = struct{}{}
		}
	}

	snapshots := make(map[string]interface{})
	perClient := make(map[string]map[string]interface{})

	for node := range affected {
		counts := m.tree.subscriptions[node]
		if len(counts) == 0 {
			continue
		}

		path := node.Path()

		snapshot, ok := snapshots[path]
		if !ok {
			snapshot = node.Snapshot()
			snapshots[path] = snapshot
		}

		for clientID := range counts {
			values, ok := perClient[clientID]
			if !ok {
				values = make(map[string]interface{})
				perClient[clientID] = values
			}

			values[path] = snapshot
		}
	}

	clientIDs := make([]string, 0, len(perClient))
	for clientID := range perClient {
		clientIDs = append(clientIDs, clientID)
	}

	sort.Strings(clientIDs)

	notifications := make([]Notification, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		notifications = append(notifications, Notification{
			ClientID: clientID,
			Values:   perClient[clientID],
		})
	}

	return notifications
}
