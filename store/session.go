package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/graft/internal/shard"
	"github.com/jacentio/graft/merge"
	"github.com/jacentio/graft/relation"
)

type stageKind int

const (
	stageParentCheck stageKind = iota
	stageEntity
	stageRelationship
	stageUnique
)

// staged records what a transaction item guards, for cancellation mapping.
type staged struct {
	kind stageKind
	ref  string
}

// Collection is the set of children whose relationship records point at the owner.
type Collection struct {
	sess     *Session
	ownerRef string
	rel      relation.Relationship
	loaded   bool
	members  []merge.Entity
}

// Relationship implements merge.Collection.
func (c *Collection) Relationship() relation.Relationship { return c.rel }

// IsLoaded implements merge.Collection.
func (c *Collection) IsLoaded() bool { return c.loaded }

// Members implements merge.Collection.
func (c *Collection) Members() []merge.Entity { return c.members }

// Load implements merge.Collection. Children staged for deletion or moved
// elsewhere in this session are left out; children moved here are included.
func (c *Collection) Load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	if c.sess.closed {
		return ErrSessionClosed
	}

	children, err := c.sess.store.QueryAllChildren(ctx, c.ownerRef)
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", c.ownerRef, c.rel.Name, err)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Ref < children[j].Ref })

	now := time.Now().Unix()
	var members []merge.Entity
	for _, child := range children {
		if RefType(child.Ref) != c.rel.DependentType || expired(child.TTL, now) {
			continue
		}
		if c.sess.deleted[child.Ref] {
			continue
		}
		if m, ok := c.sess.moved[child.Ref]; ok && m.parent != c.ownerRef {
			continue
		}
		members = append(members, newRecord(child))
	}
	for _, ref := range c.sess.moveOrder {
		m := c.sess.moved[ref]
		if m.parent == c.ownerRef && m.entity.EntityType() == c.rel.DependentType {
			members = append(members, m.entity)
		}
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

type move struct {
	parent string
	entity merge.Entity
}

// Session stages re-parenting and TTL deletes for a single TransactWriteItems
// call. It is not safe for concurrent use.
type Session struct {
	id     string
	store  *Store
	items  []types.TransactWriteItem
	staged []staged

	checked     map[string]bool
	deleted     map[string]bool
	moved       map[string]move
	moveOrder   []string
	collections map[string]*Collection
	closed      bool
}

func newSession(s *Store) *Session {
	return &Session{
		id:          uuid.NewString(),
		store:       s,
		checked:     make(map[string]bool),
		deleted:     make(map[string]bool),
		moved:       make(map[string]move),
		collections: make(map[string]*Collection),
	}
}

// ID is the session's identifier, also used as the transaction's client request token.
func (s *Session) ID() string { return s.id }

// Pending returns the number of staged transaction items.
func (s *Session) Pending() int { return len(s.items) }

func (s *Session) stage(kind stageKind, ref string, item types.TransactWriteItem) {
	s.items = append(s.items, item)
	s.staged = append(s.staged, staged{kind: kind, ref: ref})
}

// ResolveCollection implements merge.Session.
func (s *Session) ResolveCollection(ctx context.Context, owner merge.Entity, name string) (merge.Collection, bool, error) {
	if s.closed {
		return nil, false, ErrSessionClosed
	}
	rel, ok := s.store.registry.Lookup(owner.EntityType(), name)
	if !ok {
		return nil, false, nil
	}
	key := owner.EntityRef() + "/" + name
	if c, ok := s.collections[key]; ok {
		return c, true, nil
	}
	c := &Collection{sess: s, ownerRef: owner.EntityRef(), rel: rel}
	s.collections[key] = c
	return c, true, nil
}

// SetBackReference implements merge.Session. It stages a condition check on
// owner, the child's update, the relationship record move and the re-keying
// of the child's unique constraints into owner's scope.
func (s *Session) SetBackReference(ctx context.Context, dependent merge.Entity, rel relation.Relationship, owner merge.Entity) error {
	if s.closed {
		return ErrSessionClosed
	}
	child, ok := dependent.(Entity)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEntity, dependent.EntityRef())
	}
	parent, ok := owner.(Entity)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEntity, owner.EntityRef())
	}

	ref := child.EntityRef()
	newParent := parent.EntityRef()
	oldParent := parentRefOf(child)
	if s.deleted[ref] || s.moved[ref].parent != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyStaged, ref)
	}
	if s.deleted[newParent] {
		return fmt.Errorf("%w: %s is staged for deletion", ErrParentNotFound, newParent)
	}
	if oldParent == newParent {
		return nil
	}

	now := time.Now()
	if !s.checked[newParent] {
		s.stage(stageParentCheck, newParent, types.TransactWriteItem{
			ConditionCheck: parentConditionCheck(&ConditionCheck{
				TableName: parent.TableName(),
				Key:       parent.GetKey(),
			}, now.Unix()),
		})
		s.checked[newParent] = true
	}

	var uniques map[string]string
	if uf, ok := child.(UniqueFielder); ok {
		uniques = uf.UniqueFields()
	}

	update, err := s.childUpdate(child, rel, oldParent, newParent, uniques, now)
	if err != nil {
		return err
	}
	s.stage(stageEntity, ref, types.TransactWriteItem{Update: update})

	if oldParent != "" {
		s.stage(stageRelationship, ref, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:           aws.String(s.store.config.RelationshipTable),
				Key:                 s.store.relationshipKey(oldParent, ref),
				ConditionExpression: aws.String("attribute_exists(child_ref)"),
			},
		})
	}
	put, err := s.store.relationshipPut(newParent, child, uniques)
	if err != nil {
		return err
	}
	s.stage(stageRelationship, ref, types.TransactWriteItem{Put: put})

	for _, field := range sortedFields(uniques) {
		if oldParent != "" {
			s.stage(stageUnique, ref, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(s.store.config.UniqueTable),
					Key:       uniqueKey(uniqueConstraintPK(oldParent, child, field, uniques[field])),
				},
			})
		}
		s.stage(stageUnique, ref, types.TransactWriteItem{
			Put: s.store.uniqueConstraintPut(newParent, child, field, uniques[field]),
		})
	}

	s.moved[ref] = move{parent: newParent, entity: s.reparented(child, newParent)}
	s.moveOrder = append(s.moveOrder, ref)
	for _, c := range s.collections {
		if !c.loaded || c.rel.DependentType != child.EntityType() {
			continue
		}
		c.remove(ref)
		if c.ownerRef == newParent {
			c.members = append(c.members, s.moved[ref].entity)
		}
	}
	return nil
}

// childUpdate points the child at its new parent. The condition fails if the
// child moved or was deleted since it was loaded.
func (s *Session) childUpdate(child Entity, rel relation.Relationship, oldParent, newParent string, uniques map[string]string, now time.Time) (*types.Update, error) {
	names := map[string]string{
		"#parent_ref": "parent_ref",
		"#updated_at": "updated_at",
		"#version":    "version",
		"#ttl":        "ttl",
	}
	values := map[string]types.AttributeValue{
		":parent":     &types.AttributeValueMemberS{Value: newParent},
		":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		":one":        &types.AttributeValueMemberN{Value: "1"},
	}
	set := "SET #parent_ref = :parent, #updated_at = :updated_at, #version = #version + :one"

	if rel.BackRef != "" && rel.BackRef != "parent_ref" {
		names["#back_ref"] = rel.BackRef
		values[":owner_id"] = &types.AttributeValueMemberS{Value: RefID(newParent)}
		set += ", #back_ref = :owner_id"
	}

	if len(uniques) > 0 {
		pks := s.store.uniquePKs(newParent, child.EntityType(), uniques)
		pksAttr, err := attributevalue.MarshalList(pks)
		if err != nil {
			return nil, fmt.Errorf("marshal unique pks: %w", err)
		}
		names["#unique_pks"] = "_unique_pks"
		values[":unique_pks"] = &types.AttributeValueMemberL{Value: pksAttr}
		set += ", #unique_pks = :unique_pks"
	}

	cond := "attribute_not_exists(#parent_ref) AND attribute_exists(entity_ref) AND attribute_not_exists(#ttl)"
	if oldParent != "" {
		cond = "#parent_ref = :old_parent AND attribute_not_exists(#ttl)"
		values[":old_parent"] = &types.AttributeValueMemberS{Value: oldParent}
	}

	return &types.Update{
		TableName:                 aws.String(child.TableName()),
		Key:                       child.GetKey(),
		UpdateExpression:          aws.String(set),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

// reparented returns the view of child that collections hold after the move.
func (s *Session) reparented(child Entity, newParent string) merge.Entity {
	r := &Record{
		Ref:     child.EntityRef(),
		Parent:  newParent,
		Table:   child.TableName(),
		Key:     child.GetKey(),
		ShardPK: s.store.relationshipPK(newParent, child.EntityRef()),
	}
	if uf, ok := child.(UniqueFielder); ok {
		r.Uniques = uf.UniqueFields()
	}
	return r
}

// MarkDeleted implements merge.Session by staging a TTL on the entity and on
// its relationship record. The stream handler cascades the TTL further.
// Marking an entity twice is a no-op.
func (s *Session) MarkDeleted(ctx context.Context, e merge.Entity) error {
	if s.closed {
		return ErrSessionClosed
	}
	ref := e.EntityRef()
	if s.deleted[ref] {
		return nil
	}
	entity, ok := e.(Entity)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEntity, ref)
	}
	if s.moved[ref].parent != "" || s.checked[ref] {
		return fmt.Errorf("%w: %s", ErrAlreadyStaged, ref)
	}

	ttl := numberValue(time.Now().Unix())
	s.stage(stageEntity, ref, types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(entity.TableName()),
			Key:                 entity.GetKey(),
			UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
			ConditionExpression: aws.String("attribute_exists(entity_ref) AND attribute_not_exists(#ttl)"),
			ExpressionAttributeNames: map[string]string{
				"#ttl":     "ttl",
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ttl": ttl,
				":one": &types.AttributeValueMemberN{Value: "1"},
			},
		},
	})

	if parentRef := parentRefOf(entity); parentRef != "" {
		s.stage(stageRelationship, ref, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(s.store.config.RelationshipTable),
				Key:                 s.store.relationshipKey(parentRef, ref),
				UpdateExpression:    aws.String("SET #ttl = :ttl"),
				ConditionExpression: aws.String("attribute_exists(child_ref)"),
				ExpressionAttributeNames: map[string]string{
					"#ttl": "ttl",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":ttl": ttl,
				},
			},
		})
	}

	s.deleted[ref] = true
	for _, c := range s.collections {
		if c.loaded {
			c.remove(ref)
		}
	}
	return nil
}

// Commit implements merge.Session. The staged items run as one transaction;
// the session is closed whether or not it succeeds.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true

	if len(s.items) == 0 {
		return nil
	}
	if limit := s.store.config.TransactItemLimit; len(s.items) > limit {
		return fmt.Errorf("%w: %d items, limit %d", ErrUnitTooLarge, len(s.items), limit)
	}

	_, err := s.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      s.items,
		ClientRequestToken: aws.String(s.id),
	})
	return mapCommitError(err, s.staged)
}

// Discard drops all staged writes and closes the session.
func (s *Session) Discard() {
	s.closed = true
	s.items = nil
	s.staged = nil
}

// mapCommitError maps transaction cancellation reasons to package errors.
// staged[i] describes the i-th transaction item.
func mapCommitError(err error, staged []staged) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || i >= len(staged) {
				continue
			}
			item := staged[i]
			switch *reason.Code {
			case "ConditionalCheckFailed":
				switch item.kind {
				case stageParentCheck:
					return fmt.Errorf("%w: %s", ErrParentNotFound, item.ref)
				case stageUnique:
					return fmt.Errorf("%w: %s", ErrDuplicateValue, item.ref)
				default:
					return fmt.Errorf("%w: %s", ErrConcurrentModification, item.ref)
				}
			case "TransactionConflict":
				return fmt.Errorf("%w: %s", ErrConcurrentModification, item.ref)
			}
		}
	}

	return fmt.Errorf("transact write: %w", err)
}

func parentRefOf(e Entity) string {
	if pc, ok := e.(ParentChecker); ok {
		return pc.ParentRef()
	}
	return ""
}

func uniqueConstraintPK(parentRef string, e Entity, field, value string) string {
	return shard.UniqueConstraintPK(parentRef, e.EntityType(), field, value)
}
