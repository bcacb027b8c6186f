package store

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// Entity is the base interface for all storable types.
type Entity interface {
	// TableName returns the DynamoDB table name for this entity type.
	TableName() string

	// GetKey returns the primary key for this entity.
	GetKey() PK

	// EntityRef returns the type-qualified reference (e.g., "customer#uuid").
	EntityRef() string

	// EntityType returns the entity type name (e.g., "customer").
	EntityType() string
}

// ParentChecker is implemented by entities that have a parent.
type ParentChecker interface {
	// ParentCheck returns the condition check for parent validation.
	// Returns nil for root entities or when parent validation should be skipped.
	ParentCheck() *ConditionCheck

	// ParentRef returns the parent's entity reference (e.g., "account#uuid").
	// Returns empty string for root entities.
	ParentRef() string
}

// ConditionCheck defines a parent existence check for transactions.
type ConditionCheck struct {
	TableName string
	Key       PK

	// ConditionExpr is an optional custom condition expression.
	// If empty, ParentExistsCondition() is used (checks existence and not deleted).
	ConditionExpr string
}

// UniqueFielder is implemented by entities with unique field constraints.
type UniqueFielder interface {
	// UniqueFields returns field name to value mappings for fields
	// that must be unique within the parent scope.
	UniqueFields() map[string]string
}

// Item represents a retrieved DynamoDB item with common fields.
type Item struct {
	// Raw is the raw DynamoDB item.
	Raw map[string]types.AttributeValue

	// Version is the optimistic lock version.
	Version int64

	// CreatedAt is the ISO 8601 creation timestamp.
	CreatedAt string

	// UpdatedAt is the ISO 8601 last update timestamp.
	UpdatedAt string

	// EntityRef is the type-qualified entity reference.
	EntityRef string

	// ParentRef is the parent's entity reference (empty for root entities).
	ParentRef string
}

// ChildRef represents a reference to a child entity in the relationship table.
type ChildRef struct {
	// Ref is the child's entity reference.
	Ref string

	// ParentRef is the owner the relationship record points at.
	ParentRef string

	// TableName is the DynamoDB table containing the child.
	TableName string

	// Key is the primary key to locate the child.
	Key PK

	// ShardPK is the relationship table partition key (for TTL updates).
	ShardPK string

	// UniqueFields are the child's unique field values within its parent scope.
	UniqueFields map[string]string

	// TTL is the relationship record's TTL, zero when the record is active.
	TTL int64
}

// Record is a dependent loaded through the relationship table.
// It carries enough to re-parent or delete the child without reading it.
type Record struct {
	Ref     string
	Parent  string
	Table   string
	Key     PK
	ShardPK string
	Uniques map[string]string
}

func newRecord(c ChildRef) *Record {
	return &Record{
		Ref:     c.Ref,
		Parent:  c.ParentRef,
		Table:   c.TableName,
		Key:     c.Key,
		ShardPK: c.ShardPK,
		Uniques: c.UniqueFields,
	}
}

// TableName returns the table the child lives in.
func (r *Record) TableName() string { return r.Table }

// GetKey returns the child's primary key.
func (r *Record) GetKey() PK { return r.Key }

// EntityRef returns the child's "type#id" reference.
func (r *Record) EntityRef() string { return r.Ref }

// EntityType returns the type prefix of the child's reference.
func (r *Record) EntityType() string { return RefType(r.Ref) }

// ParentRef returns the owner the record was loaded under.
func (r *Record) ParentRef() string { return r.Parent }

// ParentCheck returns nil; a loaded record's parent was validated at creation.
func (r *Record) ParentCheck() *ConditionCheck { return nil }

// UniqueFields returns the unique values recorded for the child.
func (r *Record) UniqueFields() map[string]string { return r.Uniques }

// RefType returns the type portion of an entity reference ("customer#42" → "customer").
func RefType(ref string) string {
	typ, _, _ := strings.Cut(ref, "#")
	return typ
}

// RefID returns the id portion of an entity reference ("customer#42" → "42").
func RefID(ref string) string {
	if _, id, ok := strings.Cut(ref, "#"); ok {
		return id
	}
	return ref
}
