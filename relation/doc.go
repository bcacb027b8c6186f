// Package relation describes the collection-valued relationships between
// entity types and discovers them on live entity instances.
//
// A relationship is a named association from an owner type to zero or more
// dependents. Each dependent carries a single back-reference to its owner:
//
//	author ──Books──▶ book.author
//
// Two discovery strategies are provided and can be combined with [Chain]:
//
//   - [Registry] is an explicit, validated per-type catalogue. It is the only
//     source that knows each relationship's dependent type and back-reference.
//   - [StructDiscoverer] inspects an instance's exported fields and returns the
//     names of every non-text slice, array or map. Its results are candidates:
//     a plain in-memory list field passes the structural test without being a
//     store-tracked relationship, and callers must tolerate that.
//
// Registries can be loaded from YAML:
//
//	relationships:
//	  - owner: author
//	    name: Books
//	    dependent: book
//	    back_ref: author_id
//	    table: books
package relation
