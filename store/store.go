package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/graft/internal/shard"
	"github.com/jacentio/graft/relation"
)

// Store provides DynamoDB operations with hierarchical entity support.
type Store struct {
	client   API
	config   Config
	registry *relation.Registry
}

// New creates a new Store instance. Sessions resolve relationships through
// registry; a nil registry resolves none.
func New(client API, config Config, registry *relation.Registry) *Store {
	config.validate()
	if registry == nil {
		registry = relation.NewRegistry()
	}
	return &Store{
		client:   client,
		config:   config,
		registry: registry,
	}
}

// Registry returns the relationship registry.
func (s *Store) Registry() *relation.Registry {
	return s.registry
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// relationshipPK computes the sharded partition key for a relationship record.
func (s *Store) relationshipPK(parentRef, childRef string) string {
	return shard.RelationshipPK(parentRef, childRef, s.config.NumShards)
}

// Create creates a new entity with parent validation and unique constraints.
func (s *Store) Create(ctx context.Context, entity Entity, item map[string]types.AttributeValue) error {
	items := []types.TransactWriteItem{}
	now := time.Now()
	nowISO := now.UTC().Format(time.RFC3339)

	// Track item indices for error mapping
	parentCheckIndex := -1
	entityPutIndex := -1

	var parentRef string
	if checker, ok := entity.(ParentChecker); ok {
		parentRef = checker.ParentRef()
		if check := checker.ParentCheck(); check != nil {
			parentCheckIndex = len(items)
			items = append(items, types.TransactWriteItem{
				ConditionCheck: parentConditionCheck(check, now.Unix()),
			})
		}
	}

	item["entity_ref"] = &types.AttributeValueMemberS{Value: entity.EntityRef()}
	item["version"] = &types.AttributeValueMemberN{Value: "1"}
	item["created_at"] = &types.AttributeValueMemberS{Value: nowISO}
	item["updated_at"] = &types.AttributeValueMemberS{Value: nowISO}
	if parentRef != "" {
		item["parent_ref"] = &types.AttributeValueMemberS{Value: parentRef}
	}

	// Unique constraints are scoped to the parent, so root entities have none.
	var uniques map[string]string
	if uf, ok := entity.(UniqueFielder); ok && parentRef != "" {
		uniques = uf.UniqueFields()
	}
	uniquePKs := s.uniquePKs(parentRef, entity.EntityType(), uniques)
	for _, field := range sortedFields(uniques) {
		items = append(items, types.TransactWriteItem{
			Put: s.uniqueConstraintPut(parentRef, entity, field, uniques[field]),
		})
	}
	if len(uniquePKs) > 0 {
		uniquePKsAttr, err := attributevalue.MarshalList(uniquePKs)
		if err != nil {
			return fmt.Errorf("marshal unique pks: %w", err)
		}
		item["_unique_pks"] = &types.AttributeValueMemberL{Value: uniquePKsAttr}
	}

	entityPutIndex = len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(entity.TableName()),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	})

	if parentRef != "" {
		put, err := s.relationshipPut(parentRef, entity, uniques)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})

	return s.mapCreateTransactionError(err, parentCheckIndex, entityPutIndex)
}

// Get retrieves an entity by key, returning ErrNotFound if deleted or missing.
func (s *Store) Get(ctx context.Context, table string, key PK) (*Item, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || IsDeleted(result.Item) {
		return nil, ErrNotFound
	}
	return s.unmarshalItem(result.Item), nil
}

// QueryAllChildren returns all children of an entity (including deleted ones).
// Sessions filter the result; the stream handler propagates TTL to all of it.
func (s *Store) QueryAllChildren(ctx context.Context, parentRef string) ([]ChildRef, error) {
	shardPKs := shard.PartitionKeys(parentRef, s.config.NumShards)

	// Fast path for single shard (default)
	if len(shardPKs) == 1 {
		return s.queryShard(ctx, shardPKs[0])
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var allChildren []ChildRef
	var wg sync.WaitGroup
	errs := make(chan error, len(shardPKs))

	for _, shardPK := range shardPKs {
		wg.Add(1)
		go func(shardPK string) {
			defer wg.Done()

			children, err := s.queryShard(ctx, shardPK)
			if err != nil {
				errs <- fmt.Errorf("shard %s: %w", shardPK, err)
				return
			}

			mu.Lock()
			allChildren = append(allChildren, children...)
			mu.Unlock()
		}(shardPK)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return allChildren, nil
}

func (s *Store) queryShard(ctx context.Context, shardPK string) ([]ChildRef, error) {
	var children []ChildRef

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.RelationshipTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shardPK},
		},
		ConsistentRead: aws.Bool(true),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			children = append(children, s.unmarshalChildRef(item, shardPK))
		}
	}

	return children, nil
}

// SetTTLByKey sets TTL on an entity by table and key.
// Used by cascade delete to propagate TTL to children.
func (s *Store) SetTTLByKey(ctx context.Context, table string, key PK, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 key,
		UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     "ttl",
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": numberValue(ttl),
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	return ignoreConditionFailure(err)
}

// SetRelationshipTTL sets TTL on a relationship record.
func (s *Store) SetRelationshipTTL(ctx context.Context, childRef, parentRef string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.RelationshipTable),
		Key:                 s.relationshipKey(parentRef, childRef),
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": numberValue(ttl),
		},
	})
	return ignoreConditionFailure(err)
}

// SetUniqueConstraintTTL sets TTL on a unique constraint record.
func (s *Store) SetUniqueConstraintTTL(ctx context.Context, pk string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.UniqueTable),
		Key:                 uniqueKey(pk),
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": numberValue(ttl),
		},
	})
	return ignoreConditionFailure(err)
}

// Begin opens a session that stages writes for one TransactWriteItems call.
func (s *Store) Begin() *Session {
	return newSession(s)
}

// ignoreConditionFailure treats an already-set TTL as success.
func ignoreConditionFailure(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

func parentConditionCheck(check *ConditionCheck, now int64) *types.ConditionCheck {
	condExpr := check.ConditionExpr
	if condExpr == "" {
		condExpr = ParentExistsCondition()
	}
	return &types.ConditionCheck{
		TableName:           aws.String(check.TableName),
		Key:                 check.Key,
		ConditionExpression: aws.String(condExpr),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": numberValue(now),
		},
	}
}

func (s *Store) relationshipKey(parentRef, childRef string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":        &types.AttributeValueMemberS{Value: s.relationshipPK(parentRef, childRef)},
		"child_ref": &types.AttributeValueMemberS{Value: childRef},
	}
}

func (s *Store) relationshipPut(parentRef string, entity Entity, uniques map[string]string) (*types.Put, error) {
	childRef := entity.EntityRef()
	keyAttr, err := attributevalue.MarshalMap(entity.GetKey())
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	item := s.relationshipKey(parentRef, childRef)
	item["parent_ref"] = &types.AttributeValueMemberS{Value: parentRef}
	item["child_table"] = &types.AttributeValueMemberS{Value: entity.TableName()}
	item["child_key"] = &types.AttributeValueMemberM{Value: keyAttr}
	if len(uniques) > 0 {
		uniquesAttr, err := attributevalue.MarshalMap(uniques)
		if err != nil {
			return nil, fmt.Errorf("marshal unique fields: %w", err)
		}
		item["unique_fields"] = &types.AttributeValueMemberM{Value: uniquesAttr}
	}

	return &types.Put{
		TableName: aws.String(s.config.RelationshipTable),
		Item:      item,
	}, nil
}

func uniqueKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: "CONSTRAINT"},
	}
}

// uniqueConstraintPut claims field=value within parentRef; it fails if another entity holds it.
func (s *Store) uniqueConstraintPut(parentRef string, entity Entity, field, value string) *types.Put {
	item := uniqueKey(shard.UniqueConstraintPK(parentRef, entity.EntityType(), field, value))
	item["parent_ref"] = &types.AttributeValueMemberS{Value: parentRef}
	item["entity_type"] = &types.AttributeValueMemberS{Value: entity.EntityType()}
	item["field_name"] = &types.AttributeValueMemberS{Value: field}
	item["field_value"] = &types.AttributeValueMemberS{Value: value}
	item["entity_ref"] = &types.AttributeValueMemberS{Value: entity.EntityRef()}

	return &types.Put{
		TableName:           aws.String(s.config.UniqueTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	}
}

func (s *Store) uniquePKs(parentRef, entityType string, uniques map[string]string) []string {
	var pks []string
	for _, field := range sortedFields(uniques) {
		pks = append(pks, shard.UniqueConstraintPK(parentRef, entityType, field, uniques[field]))
	}
	return pks
}

func sortedFields(uniques map[string]string) []string {
	fields := make([]string, 0, len(uniques))
	for field := range uniques {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// mapCreateTransactionError maps DynamoDB transaction errors for Create operations.
// parentCheckIndex is the index of the parent check item (-1 if none).
// entityPutIndex is the index of the entity put item.
func (s *Store) mapCreateTransactionError(err error, parentCheckIndex, entityPutIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				if i == parentCheckIndex {
					return ErrParentNotFound
				}
				if i == entityPutIndex {
					return ErrAlreadyExists
				}
				// Must be a unique constraint
				return ErrDuplicateValue
			}
		}
	}

	return err
}

// unmarshalItem converts a DynamoDB item to an Item struct.
func (s *Store) unmarshalItem(raw map[string]types.AttributeValue) *Item {
	item := &Item{Raw: raw}

	if v, ok := raw["version"].(*types.AttributeValueMemberN); ok {
		item.Version, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw["created_at"].(*types.AttributeValueMemberS); ok {
		item.CreatedAt = v.Value
	}
	if v, ok := raw["updated_at"].(*types.AttributeValueMemberS); ok {
		item.UpdatedAt = v.Value
	}
	if v, ok := raw["entity_ref"].(*types.AttributeValueMemberS); ok {
		item.EntityRef = v.Value
	}
	if v, ok := raw["parent_ref"].(*types.AttributeValueMemberS); ok {
		item.ParentRef = v.Value
	}

	return item
}

// unmarshalChildRef converts a relationship item to a ChildRef.
func (s *Store) unmarshalChildRef(item map[string]types.AttributeValue, shardPK string) ChildRef {
	ref := ChildRef{ShardPK: shardPK}

	if v, ok := item["child_ref"].(*types.AttributeValueMemberS); ok {
		ref.Ref = v.Value
	}
	if v, ok := item["parent_ref"].(*types.AttributeValueMemberS); ok {
		ref.ParentRef = v.Value
	}
	if v, ok := item["child_table"].(*types.AttributeValueMemberS); ok {
		ref.TableName = v.Value
	}
	if v, ok := item["child_key"].(*types.AttributeValueMemberM); ok {
		ref.Key = v.Value
	}
	if v, ok := item["unique_fields"].(*types.AttributeValueMemberM); ok {
		var uniques map[string]string
		if err := attributevalue.UnmarshalMap(v.Value, &uniques); err == nil {
			ref.UniqueFields = uniques
		}
	}
	if v, ok := item["ttl"].(*types.AttributeValueMemberN); ok {
		ref.TTL, _ = strconv.ParseInt(v.Value, 10, 64)
	}

	return ref
}
