package devices

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"skyhub/internal/app/errors"
)

// Subscribe increments the reference count of (client, path). A client may
// subscribe to the same node any number of times and must unsubscribe as
// many times.
func (t *Tree) Subscribe(clientID, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.resolve(path)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchPath, path)
	}

	counts, ok := t.subscriptions[node]
	if !ok {
		counts = make(map[string]int)
		t.subscriptions[node] = counts
	}

	counts[clientID]++

	return nil
}

// Unsubscribe decrements the reference count of (client, path), removing the
// client at zero. With force the client is removed regardless of count.
func (t *Tree) Unsubscribe(clientID, path string, force bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.resolve(path)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchPath, path)
	}

	counts, ok := t.subscriptions[node]
	if !ok || counts[clientID] == 0 {
		return fmt.Errorf("%w: %s", errors.ErrNotSubscribed, path)
	}

	if force {
		delete(counts, clientID)
	} else {
		counts[clientID]--

		if counts[clientID] == 0 {
			delete(counts, clientID)
		}
	}

	if len(counts) == 0 {
		delete(t.subscriptions, node)
	}

	return nil
}

// CountSubscriptions returns the reference count of (client, path)
func (t *Tree) CountSubscriptions(clientID, path string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.resolve(path)
	if !ok {
		return 0
	}

	return t.subscriptions[node][clientID]
}

// ListSubscriptions returns the multiplicity map of the client's subscribed
// paths that lie in the subtree of any filter. Filters are path prefixes and
// may contain glob patterns; an empty filter list matches everything.
func (t *Tree) ListSubscriptions(clientID string, filters []string) (map[string]int, error) {
	matcher, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]int)

	for node, counts := range t.subscriptions {
		count := counts[clientID]
		if count == 0 {
			continue
		}

		if matcher(node.Path()) {
			result[node.Path()] = count
		}
	}

	return result, nil
}

// UnsubscribeSubtree collects the client's subscribed paths under the
// filters and decrements each once. It returns the affected paths.
func (t *Tree) UnsubscribeSubtree(clientID string, filters []string) ([]string, error) {
	subscribed, err := t.ListSubscriptions(clientID, filters)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(subscribed))

	for path := range subscribed {
		if err := t.Unsubscribe(clientID, path, false); err == nil {
			paths = append(paths, path)
		}
	}

	return paths, nil
}

// RemoveClient force-clears every subscription the client holds, in one
// traversal. Called when the client disconnects.
func (t *Tree) RemoveClient(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for node, counts := range t.subscriptions {
		delete(counts, clientID)

		if len(counts) == 0 {
			delete(t.subscriptions, node)
		}
	}
}

// compileFilters builds a path predicate from prefix or glob filters
func compileFilters(filters []string) (func(string) bool, error) {
	if len(filters) == 0 {
		return func(string) bool { return true }, nil
	}

	prefixes := make([]string, 0, len(filters))
	globs := make([]glob.Glob, 0)

	for _, filter := range filters {
		if strings.ContainsAny(filter, "*?[") {
			g, err := glob.Compile(filter, '/')
			if err != nil {
				return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPathFilter, filter)
			}

			globs = append(globs, g)

			continue
		}

		prefixes = append(prefixes, strings.TrimSuffix(filter, "/"))
	}

	return func(path string) bool {
		for _, prefix := range prefixes {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
		}

		for _, g := range globs {
			for p := path; p != ""; {
				if g.Match(p) {
					return true
				}

				i := strings.LastIndex(p, "/")
				if i <= 0 {
					break
				}

				p = p[:i]
			}
		}

		return false
	}, nil
}
