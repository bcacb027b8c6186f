package relation

import (
	"fmt"
	"strings"
)

// Relationship defines a collection-valued association from an owner type to its dependents.
type Relationship struct {
	// OwnerType is the owning entity type (e.g., "organization").
	OwnerType string `yaml:"owner"`

	// Name is the relationship name as seen from the owner (e.g., "Studios").
	Name string `yaml:"name"`

	// DependentType is the dependent entity type (e.g., "studio").
	DependentType string `yaml:"dependent"`

	// BackRef is the dependent's navigation property that points at its owner
	// (e.g., "organization_id"). Defaults to OwnerType when registered empty.
	BackRef string `yaml:"back_ref,omitempty"`

	// Table is an optional storage hint naming where dependents live (e.g., "studios").
	Table string `yaml:"table,omitempty"`
}

// String returns the relationship as "owner.Name -> dependent.back_ref".
func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", r.OwnerType, r.Name, r.DependentType, r.BackRef)
}

// Registry holds all known relationships, indexed by owner type.
type Registry struct {
	relationships []Relationship
	byOwner       map[string][]Relationship
	byName        map[string]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byOwner:       make(map[string][]Relationship),
		byName:        make(map[string]Relationship),
	}
}

// Register validates and adds a relationship to the registry.
// An empty BackRef is filled with the owner type so the naming convention is
// recorded explicitly instead of being assumed at merge time.
func (r *Registry) Register(rel Relationship) error {
	rel.OwnerType = strings.TrimSpace(rel.OwnerType)
	rel.Name = strings.TrimSpace(rel.Name)
	rel.DependentType = strings.TrimSpace(rel.DependentType)
	rel.BackRef = strings.TrimSpace(rel.BackRef)

	switch {
	case rel.OwnerType == "":
		return fmt.Errorf("%w: owner type is required", ErrInvalidRelationship)
	case rel.Name == "":
		return fmt.Errorf("%w: %s: name is required", ErrInvalidRelationship, rel.OwnerType)
	case rel.DependentType == "":
		return fmt.Errorf("%w: %s.%s: dependent type is required", ErrInvalidRelationship, rel.OwnerType, rel.Name)
	}
	if rel.BackRef == "" {
		rel.BackRef = rel.OwnerType
	}

	key := nameKey(rel.OwnerType, rel.Name)
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateRelationship, rel.OwnerType, rel.Name)
	}

	r.relationships = append(r.relationships, rel)
	r.byOwner[rel.OwnerType] = append(r.byOwner[rel.OwnerType], rel)
	r.byName[key] = rel
	return nil
}

// MustRegister is like Register but panics on error.
// Intended for init() wiring of static relationships.
func (r *Registry) MustRegister(rels ...Relationship) *Registry {
	for _, rel := range rels {
		if err := r.Register(rel); err != nil {
			panic(err)
		}
	}
	return r
}

// Of returns all relationships owned by the given type, in registration order.
func (r *Registry) Of(ownerType string) []Relationship {
	return r.byOwner[ownerType]
}

// Lookup returns the relationship registered under name for the owner type.
func (r *Registry) Lookup(ownerType, name string) (Relationship, bool) {
	rel, ok := r.byName[nameKey(ownerType, name)]
	return rel, ok
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasDependents returns true if the owner type has any registered relationships.
func (r *Registry) HasDependents(ownerType string) bool {
	return len(r.byOwner[ownerType]) > 0
}

// Discover returns the relationship names registered for the entity's type.
// Entities that do not expose EntityType() have no registered relationships.
func (r *Registry) Discover(entity any) []string {
	typed, ok := entity.(interface{ EntityType() string })
	if !ok {
		return nil
	}
	rels := r.byOwner[typed.EntityType()]
	if len(rels) == 0 {
		return nil
	}
	names := make([]string, len(rels))
	for i, rel := range rels {
		names[i] = rel.Name
	}
	return names
}

func nameKey(ownerType, name string) string {
	return ownerType + "\x00" + name
}
