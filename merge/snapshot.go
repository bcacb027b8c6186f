package merge

import (
	"context"
	"fmt"
)

// Snapshot copies the current members of a live collection into an independent
// slice, so that mutating the collection does not disturb iteration.
func Snapshot[T any](live []T) []T {
	if len(live) == 0 {
		return nil
	}
	out := make([]T, len(live))
	copy(out, live)
	return out
}

// ResolveRelationship resolves name on entity and loads it if it is not loaded yet.
// A name that is not a relationship yields (nil, false, nil). Any other fault is
// wrapped with %w and not otherwise altered, so errors.Is and errors.As match the
// backend's error.
func ResolveRelationship(ctx context.Context, sess Session, entity Entity, name string) (Collection, bool, error) {
	coll, ok, err := sess.ResolveCollection(ctx, entity, name)
	if err != nil {
		return nil, false, fmt.Errorf("resolve %s on %s: %w", name, entity.EntityRef(), err)
	}
	if !ok || coll == nil {
		return nil, false, nil
	}

	if !coll.IsLoaded() {
		if err := coll.Load(ctx); err != nil {
			return nil, false, fmt.Errorf("load %s on %s: %w", name, entity.EntityRef(), err)
		}
	}
	return coll, true, nil
}
