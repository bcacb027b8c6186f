package relation

import (
	"reflect"
	"strings"
	"sync"
)

// Discoverer produces the candidate relationship names of an entity instance.
// Implementations are pure: no store access, no side effects.
type Discoverer interface {
	Discover(entity any) []string
}

// Func adapts a plain function to a Discoverer.
type Func func(entity any) []string

// Discover calls f(entity).
func (f Func) Discover(entity any) []string { return f(entity) }

// Describer is implemented by entities that list their own relationships.
type Describer interface {
	Relationships() []string
}

// DescriberDiscoverer returns the names reported by entities implementing Describer.
type DescriberDiscoverer struct{}

// Discover returns entity.Relationships() when entity is a Describer.
func (DescriberDiscoverer) Discover(entity any) []string {
	if d, ok := entity.(Describer); ok {
		return d.Relationships()
	}
	return nil
}

// Chain returns a Discoverer that consults each discoverer in turn and
// returns the first non-empty result.
func Chain(discoverers ...Discoverer) Discoverer {
	return Func(func(entity any) []string {
		for _, d := range discoverers {
			if d == nil {
				continue
			}
			if names := d.Discover(entity); len(names) > 0 {
				return names
			}
		}
		return nil
	})
}

// TagName is the struct tag consulted by StructDiscoverer.
// `graft:"-"` excludes a field, `graft:"Name"` reports it under another name.
const TagName = "graft"

// StructDiscoverer finds relationships structurally: every exported field whose
// type is a slice, array or map, excluding text-like sequences ([]byte, []rune).
// Embedded structs are flattened. Results are cached per type.
type StructDiscoverer struct{}

var fieldCache sync.Map // reflect.Type -> []string

var (
	byteType = reflect.TypeOf(byte(0))
	runeType = reflect.TypeOf(rune(0))
)

// Discover returns the names of entity's collection-typed exported fields in declaration order.
func (StructDiscoverer) Discover(entity any) []string {
	if entity == nil {
		return nil
	}
	t := reflect.TypeOf(entity)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	if cached, ok := fieldCache.Load(t); ok {
		return cloneNames(cached.([]string))
	}
	names := collectionFields(t, nil, map[reflect.Type]bool{})
	fieldCache.Store(t, names)
	return cloneNames(names)
}

func collectionFields(t reflect.Type, names []string, seen map[reflect.Type]bool) []string {
	if seen[t] {
		return names
	}
	seen[t] = true

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get(TagName)
		if tag == "-" {
			continue
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		if f.Anonymous && ft.Kind() == reflect.Struct {
			names = collectionFields(ft, names, seen)
			continue
		}
		if !f.IsExported() || !isCollection(ft) {
			continue
		}

		name := f.Name
		if tag = strings.TrimSpace(tag); tag != "" {
			name = tag
		}
		names = append(names, name)
	}
	return names
}

// isCollection reports whether t is a non-text sequence or collection type.
func isCollection(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		elem := t.Elem()
		return elem != byteType && elem != runeType
	case reflect.Map:
		return true
	default:
		return false
	}
}

func cloneNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}
