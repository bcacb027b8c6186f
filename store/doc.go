// Package store provides a DynamoDB data access layer with hierarchical entity
// support and a merge.Session backend.
//
// Every child entity carries a parent_ref and has a record in the relationship
// table, partitioned by parent. Unique fields are claimed in a separate table
// within the parent's scope. Deletion is a soft delete: a TTL is set on the
// entity, and the stream handler propagates it to children.
//
// # Entity Interfaces
//
// All entities must implement the [Entity] interface:
//
//	type Entity interface {
//	    TableName() string
//	    GetKey() PK
//	    EntityRef() string
//	    EntityType() string
//	}
//
// Child entities should also implement [ParentChecker], and entities with
// unique constraints implement [UniqueFielder].
//
// # Sessions
//
// [Store.Begin] opens a [Session]. Collections are read from the relationship
// table; re-parenting and deletes are staged and written by Commit in one
// TransactWriteItems call, so the DynamoDB item limit bounds a unit of work:
//
//	sess := s.Begin()
//	report, err := engine.Merge(ctx, sess, source, destination, merge.MergeOptions{})
//
// Relationship records do not name the relationship, so a collection holds
// every child of the owner whose type is the relationship's dependent type.
//
// # Errors
//
//   - [ErrNotFound] - entity doesn't exist or is deleted
//   - [ErrParentNotFound] - parent validation failed
//   - [ErrAlreadyExists] - entity with ID already exists
//   - [ErrConcurrentModification] - entity changed between load and commit
//   - [ErrDuplicateValue] - unique constraint violated
//   - [ErrUnitTooLarge] - too many staged writes for one transaction
package store
