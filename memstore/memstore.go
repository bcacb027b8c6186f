// Package memstore is an in-memory store that implements merge.Session.
//
// It behaves like an ORM-backed store: collections are loaded on demand from
// committed state overlaid with the session's staged changes, re-parenting
// immediately moves a dependent between loaded collections, and nothing reaches
// committed state until Commit, which applies a session's changes all at once
// or not at all. Several operations may therefore share one session.
package memstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/graft/merge"
	"github.com/jacentio/graft/relation"
)

var (
	// ErrUnknownEntity is returned when an entity was never inserted or is deleted.
	ErrUnknownEntity = errors.New("memstore: unknown entity")

	// ErrDanglingReference is returned by Commit when a staged back-reference
	// points at an owner that is missing or deleted.
	ErrDanglingReference = errors.New("memstore: back-reference to missing owner")

	// ErrAlreadyExists is returned when inserting a reference twice.
	ErrAlreadyExists = errors.New("memstore: entity already exists")
)

type record struct {
	entity merge.Entity
	seq    int
	refs   map[string]string // back-reference -> owner ref
}

// Store holds committed entities and their back-references.
// It is safe for concurrent sessions; a single Session is not.
type Store struct {
	mu       sync.RWMutex
	registry *relation.Registry
	records  map[string]*record
	seq      int
}

// New creates an empty Store. Relationships resolve through reg.
func New(reg *relation.Registry) *Store {
	if reg == nil {
		reg = relation.NewRegistry()
	}
	return &Store{
		registry: reg,
		records:  make(map[string]*record),
	}
}

// Insert records e with its back-references (back-reference name -> owner ref).
func (s *Store) Insert(e merge.Entity, refs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := e.EntityRef()
	if _, exists := s.records[ref]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, ref)
	}
	copied := make(map[string]string, len(refs))
	for k, v := range refs {
		copied[k] = v
	}
	s.seq++
	s.records[ref] = &record{entity: e, seq: s.seq, refs: copied}
	return nil
}

// Exists reports whether ref is committed and not deleted.
func (s *Store) Exists(ref string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[ref]
	return ok
}

// OwnerOf returns the committed owner ref held in ref's back-reference.
func (s *Store) OwnerOf(ref, backRef string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ref]
	if !ok {
		return "", false
	}
	owner, ok := rec.refs[backRef]
	return owner, ok
}

// Len returns the number of committed entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Session opens a unit of work against the store.
func (s *Store) Session() *Session {
	return &Session{
		id:          uuid.NewString(),
		store:       s,
		collections: make(map[string]*Collection),
		deleted:     make(map[string]merge.Entity),
	}
}

// members returns committed dependents of owner under rel, in insertion order.
func (s *Store) members(owner string, rel relation.Relationship) []merge.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*record
	for _, rec := range s.records {
		if rec.entity.EntityType() == rel.DependentType && rec.refs[rel.BackRef] == owner {
			found = append(found, rec)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	out := make([]merge.Entity, len(found))
	for i, rec := range found {
		out[i] = rec.entity
	}
	return out
}
