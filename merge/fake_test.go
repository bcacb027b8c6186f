package merge_test

import (
	"context"

	"github.com/jacentio/graft/merge"
	"github.com/jacentio/graft/relation"
)

// --- Test Entity Types ---

type node struct {
	kind string
	id   string
}

func (n *node) EntityType() string { return n.kind }
func (n *node) EntityRef() string  { return n.kind + "#" + n.id }

// --- Fake Session ---

type fakeCollection struct {
	rel     relation.Relationship
	owner   string
	loaded  bool
	members []merge.Entity
	stored  []merge.Entity
	loads   int
	loadErr error
}

func (c *fakeCollection) Relationship() relation.Relationship { return c.rel }
func (c *fakeCollection) IsLoaded() bool                      { return c.loaded }
func (c *fakeCollection) Members() []merge.Entity             { return c.members }

func (c *fakeCollection) Load(ctx context.Context) error {
	c.loads++
	if c.loadErr != nil {
		return c.loadErr
	}
	if !c.loaded {
		c.members = append([]merge.Entity(nil), c.stored...)
		c.loaded = true
	}
	return nil
}

type reparent struct {
	dependent string
	backRef   string
	owner     string
}

// fakeSession keeps collections keyed by owner ref and relationship name.
// With fixup enabled, re-parenting removes the dependent from the live
// collection it was loaded into, which is what an ORM does.
type fakeSession struct {
	collections map[string]*fakeCollection
	fixup       bool

	reparented []reparent
	deleted    []string
	commits    int

	resolveErr error
	setErr     error
	deleteErr  error
	commitErr  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{collections: make(map[string]*fakeCollection), fixup: true}
}

func (s *fakeSession) add(owner merge.Entity, rel relation.Relationship, members ...merge.Entity) *fakeCollection {
	c := &fakeCollection{rel: rel, owner: owner.EntityRef(), stored: members}
	s.collections[owner.EntityRef()+"/"+rel.Name] = c
	return c
}

func (s *fakeSession) ResolveCollection(ctx context.Context, owner merge.Entity, name string) (merge.Collection, bool, error) {
	if s.resolveErr != nil {
		return nil, false, s.resolveErr
	}
	c, ok := s.collections[owner.EntityRef()+"/"+name]
	if !ok {
		return nil, false, nil
	}
	return c, true, nil
}

func (s *fakeSession) SetBackReference(ctx context.Context, dependent merge.Entity, rel relation.Relationship, owner merge.Entity) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.reparented = append(s.reparented, reparent{dependent: dependent.EntityRef(), backRef: rel.BackRef, owner: owner.EntityRef()})
	if s.fixup {
		for _, c := range s.collections {
			if c.rel.Name != rel.Name || c.owner == owner.EntityRef() {
				continue
			}
			c.members = without(c.members, dependent)
		}
	}
	return nil
}

func (s *fakeSession) MarkDeleted(ctx context.Context, e merge.Entity) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, e.EntityRef())
	return nil
}

func (s *fakeSession) Commit(ctx context.Context) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commits++
	return nil
}

func without(members []merge.Entity, e merge.Entity) []merge.Entity {
	for i, m := range members {
		if m.EntityRef() == e.EntityRef() {
			return append(members[:i], members[i+1:]...)
		}
	}
	return members
}

func reparentCounts(rs []reparent) map[string]int {
	counts := make(map[string]int)
	for _, r := range rs {
		counts[r.dependent]++
	}
	return counts
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
