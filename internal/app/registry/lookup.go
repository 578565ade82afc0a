package registry

import (
	"fmt"

	"skyhub/internal/app/model"
)

// FindByID returns the value stored under an id after checking it against an
// optional predicate. On a miss the structured "no such ..." reason is
// recorded into the response, when one is given.
func FindByID[T any](r *Registry[T], id string, predicate func(T) bool, resp *model.Response, what string) (T, bool) {
	value, ok := r.Find(id)
	if ok && predicate != nil && !predicate(value) {
		ok = false
	}

	if !ok {
		if resp != nil {
			resp.AddError(id, fmt.Sprintf("no such %s", what))
		}

		var zero T

		return zero, false
	}

	return value, true
}
