// Package optimistic applies expected mutation results to the query cache
// before the backend answers, and rolls them back when it fails.
package optimistic

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

const tempPrefix = "temp-"

// TempID returns a placeholder id for a row the server has not created yet.
func TempID() string {
	return tempPrefix + uuid.NewString()
}

func IsTemp(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

// Mutation describes one optimistic write.
type Mutation[V any] struct {
	// Keys are canceled, snapshotted and, unless Invalidate is set,
	// invalidated once the mutation settles.
	Keys []querycache.Key
	// Apply edits the cache with the expected result.
	Apply func(c *querycache.Cache)
	// Do performs the remote call.
	Do func(ctx context.Context) (V, error)
	// OnSuccess may reconcile the cache with the server's answer, e.g.
	// swap a temp row for the created one.
	OnSuccess  func(c *querycache.Cache, v V)
	Invalidate []querycache.Key
}

// Run cancels in-flight fetches of m.Keys, snapshots them, applies the
// optimistic edit and calls Do. On error the snapshot is restored. Either
// way the affected keys are invalidated so the next read refetches.
func Run[V any](ctx context.Context, c *querycache.Cache, m Mutation[V]) (V, error) {
	c.Cancel(m.Keys...)
	snap := c.Snapshot(m.Keys...)
	if m.Apply != nil {
		m.Apply(c)
	}

	v, err := m.Do(ctx)
	if err != nil {
		c.Restore(snap)
	} else if m.OnSuccess != nil {
		m.OnSuccess(c, v)
	}

	inv := m.Invalidate
	if len(inv) == 0 {
		inv = m.Keys
	}
	c.Invalidate(inv...)
	return v, err
}

// AddToList returns a new list with item at the front or back.
func AddToList[T any](list []T, item T, prepend bool) []T {
	out := make([]T, 0, len(list)+1)
	if prepend {
		out = append(out, item)
		return append(out, list...)
	}
	out = append(out, list...)
	return append(out, item)
}

// UpdateInList returns a copy of list with fn applied to the element whose
// id matches. Other elements keep their positions.
func UpdateInList[T any](list []T, id string, idOf func(T) string, fn func(T) T) []T {
	out := make([]T, len(list))
	for i, v := range list {
		if idOf(v) == id {
			v = fn(v)
		}
		out[i] = v
	}
	return out
}

// RemoveFromList returns a copy of list without the element whose id
// matches, preserving the order of the rest.
func RemoveFromList[T any](list []T, id string, idOf func(T) string) []T {
	out := make([]T, 0, len(list))
	for _, v := range list {
		if idOf(v) != id {
			out = append(out, v)
		}
	}
	return out
}

// ReplaceInList swaps the element with id for item in place.
func ReplaceInList[T any](list []T, id string, idOf func(T) string, item T) []T {
	return UpdateInList(list, id, idOf, func(T) T { return item })
}

// UpdateCachedList rewrites the []T cached under key. It reports false
// when nothing of that type is cached there.
func UpdateCachedList[T any](c *querycache.Cache, key querycache.Key, fn func([]T) []T) bool {
	old, ok := c.Get(key)
	if !ok {
		return false
	}
	if _, ok := old.([]T); !ok {
		return false
	}
	return c.Update(key, func(v any) any {
		list, ok := v.([]T)
		if !ok {
			return v
		}
		return fn(list)
	})
}

// UpdateCachedLists applies fn to every []T cached under prefix.
func UpdateCachedLists[T any](c *querycache.Cache, prefix querycache.Key, fn func([]T) []T) int {
	n := 0
	for _, k := range c.Keys(prefix) {
		if UpdateCachedList(c, k, fn) {
			n++
		}
	}
	return n
}
