package merge

import (
	"context"

	"github.com/jacentio/graft/relation"
)

// Entity is an addressable record in the store.
type Entity interface {
	// EntityType returns the entity type name (e.g., "studio").
	EntityType() string

	// EntityRef returns the type-qualified reference (e.g., "studio#uuid").
	EntityRef() string
}

// Collection is a loaded or loadable set of dependents of one owner.
type Collection interface {
	// Relationship describes the association, including the dependents' back-reference.
	Relationship() relation.Relationship

	// IsLoaded reports whether Members reflects the store.
	IsLoaded() bool

	// Load materialises the members from the store. It is idempotent.
	Load(ctx context.Context) error

	// Members returns the live member list. Re-parenting or deleting a member
	// may change it; iterate a Snapshot when mutating.
	Members() []Entity
}

// Session is a unit of work against a store. Sessions are not safe for
// concurrent use; the engine never opens, closes or pools them.
type Session interface {
	// ResolveCollection returns the collection called name on owner.
	// ok is false, with a nil error, when name is not a relationship of owner.
	ResolveCollection(ctx context.Context, owner Entity, name string) (c Collection, ok bool, err error)

	// SetBackReference stages re-pointing dependent's back-reference (rel.BackRef) at owner.
	SetBackReference(ctx context.Context, dependent Entity, rel relation.Relationship, owner Entity) error

	// MarkDeleted stages removal of e. Marking an entity twice is not an error.
	MarkDeleted(ctx context.Context, e Entity) error

	// Commit persists all staged changes atomically, per the store's guarantees.
	Commit(ctx context.Context) error
}
