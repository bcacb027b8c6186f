package memstore

import (
	"context"
	"fmt"

	"github.com/jacentio/graft/merge"
	"github.com/jacentio/graft/relation"
)

// Collection is a session-local view of one owner's dependents.
type Collection struct {
	session *Session
	owner   string
	rel     relation.Relationship
	loaded  bool
	members []merge.Entity
}

// Relationship implements merge.Collection.
func (c *Collection) Relationship() relation.Relationship { return c.rel }

// IsLoaded implements merge.Collection.
func (c *Collection) IsLoaded() bool { return c.loaded }

// Members implements merge.Collection.
func (c *Collection) Members() []merge.Entity { return c.members }

// Load implements merge.Collection. Committed members are overlaid with the
// session's staged changes: dependents staged away or deleted are dropped and
// dependents staged onto this owner follow in staging order.
func (c *Collection) Load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.session
	var members []merge.Entity
	for _, m := range s.store.members(c.owner, c.rel) {
		ref := m.EntityRef()
		if _, gone := s.deleted[ref]; gone {
			continue
		}
		if rp, ok := s.staged(ref, c.rel.BackRef); ok && rp.owner != c.owner {
			continue
		}
		members = append(members, m)
	}
	final := s.final()
	for i := len(final) - 1; i >= 0; i-- {
		rp := final[i]
		if rp.owner != c.owner || rp.backRef != c.rel.BackRef || rp.entity.EntityType() != c.rel.DependentType {
			continue
		}
		if _, gone := s.deleted[rp.dependent]; gone {
			continue
		}
		if owner, ok := s.store.OwnerOf(rp.dependent, rp.backRef); ok && owner == c.owner {
			continue
		}
		members = append(members, rp.entity)
	}
	c.members = members
	c.loaded = true
	return nil
}

func (c *Collection) remove(ref string) {
	for i, m := range c.members {
		if m.EntityRef() == ref {
			c.members = append(c.members[:i], c.members[i+1:]...)
			return
		}
	}
}

type reparent struct {
	entity    merge.Entity
	dependent string
	backRef   string
	owner     string
}

// Session is a unit of work. Changes are staged until Commit.
type Session struct {
	id          string
	store       *Store
	collections map[string]*Collection
	reparents   []reparent
	deleted     map[string]merge.Entity
	order       []string
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Pending returns the number of staged changes.
func (s *Session) Pending() int { return len(s.reparents) + len(s.order) }

// ResolveCollection implements merge.Session.
func (s *Session) ResolveCollection(ctx context.Context, owner merge.Entity, name string) (merge.Collection, bool, error) {
	rel, ok := s.store.registry.Lookup(owner.EntityType(), name)
	if !ok {
		return nil, false, nil
	}
	key := owner.EntityRef() + "/" + name
	if c, ok := s.collections[key]; ok {
		return c, true, nil
	}
	c := &Collection{session: s, owner: owner.EntityRef(), rel: rel}
	s.collections[key] = c
	return c, true, nil
}

// SetBackReference implements merge.Session. The dependent leaves every loaded
// collection of its previous owner under rel and joins owner's, if loaded.
func (s *Session) SetBackReference(ctx context.Context, dependent merge.Entity, rel relation.Relationship, owner merge.Entity) error {
	ref := dependent.EntityRef()
	if !s.store.Exists(ref) {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, ref)
	}
	if _, gone := s.deleted[ref]; gone {
		return fmt.Errorf("%w: %s is marked deleted", ErrUnknownEntity, ref)
	}

	s.reparents = append(s.reparents, reparent{entity: dependent, dependent: ref, backRef: rel.BackRef, owner: owner.EntityRef()})

	for _, c := range s.collections {
		if !c.loaded || c.rel.BackRef != rel.BackRef || c.rel.DependentType != dependent.EntityType() {
			continue
		}
		if c.owner == owner.EntityRef() {
			c.members = append(c.members, dependent)
		} else {
			c.remove(ref)
		}
	}
	return nil
}

// MarkDeleted implements merge.Session.
func (s *Session) MarkDeleted(ctx context.Context, e merge.Entity) error {
	ref := e.EntityRef()
	if _, done := s.deleted[ref]; done {
		return nil
	}
	if !s.store.Exists(ref) {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, ref)
	}
	s.deleted[ref] = e
	s.order = append(s.order, ref)
	for _, c := range s.collections {
		if c.loaded {
			c.remove(ref)
		}
	}
	return nil
}

// Commit implements merge.Session. Either every staged change is applied or none is.
func (s *Session) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	final := s.final()
	for _, rp := range final {
		if _, deleted := s.deleted[rp.dependent]; deleted {
			continue
		}
		if _, ok := st.records[rp.dependent]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEntity, rp.dependent)
		}
		_, ownerExists := st.records[rp.owner]
		_, ownerDeleted := s.deleted[rp.owner]
		if !ownerExists || ownerDeleted {
			return fmt.Errorf("%w: %s.%s -> %s", ErrDanglingReference, rp.dependent, rp.backRef, rp.owner)
		}
	}

	for _, rp := range final {
		if _, deleted := s.deleted[rp.dependent]; deleted {
			continue
		}
		st.records[rp.dependent].refs[rp.backRef] = rp.owner
	}
	for _, ref := range s.order {
		delete(st.records, ref)
	}

	s.reset()
	return nil
}

// staged returns the latest re-parent staged for ref's back-reference.
func (s *Session) staged(ref, backRef string) (reparent, bool) {
	for i := len(s.reparents) - 1; i >= 0; i-- {
		if rp := s.reparents[i]; rp.dependent == ref && rp.backRef == backRef {
			return rp, true
		}
	}
	return reparent{}, false
}

// final collapses chained re-parents to the last one per back-reference,
// latest first.
func (s *Session) final() []reparent {
	seen := make(map[string]bool)
	var out []reparent
	for i := len(s.reparents) - 1; i >= 0; i-- {
		rp := s.reparents[i]
		key := rp.dependent + "." + rp.backRef
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rp)
	}
	return out
}

// Discard drops every staged change and unloads all collections.
func (s *Session) Discard() {
	s.reset()
}

func (s *Session) reset() {
	s.reparents = nil
	s.order = nil
	s.deleted = make(map[string]merge.Entity)
	s.collections = make(map[string]*Collection)
}
