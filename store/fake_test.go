package store_test

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/graft/internal/shard"
	"github.com/jacentio/graft/store"
)

// fakeAPI is an in-memory stand-in for the DynamoDB client. It serves GetItem
// and Query from seeded data and records every write.
type fakeAPI struct {
	mu sync.Mutex

	items    map[string]map[string]types.AttributeValue   // table/id -> item
	children map[string][]map[string]types.AttributeValue // relationship pk -> records

	updates []*dynamodb.UpdateItemInput
	txs     []*dynamodb.TransactWriteItemsInput
	queries []string

	txErr    error
	queryErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		items:    make(map[string]map[string]types.AttributeValue),
		children: make(map[string][]map[string]types.AttributeValue),
	}
}

func (f *fakeAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[*params.TableName+"/"+idOf(params.Key)]}, nil
}

func (f *fakeAPI) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := params.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	f.queries = append(f.queries, pk)
	return &dynamodb.QueryOutput{Items: f.children[pk]}, nil
}

func (f *fakeAPI) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, params)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeAPI) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, params)
	if f.txErr != nil {
		return nil, f.txErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) putItem(table, id string, item map[string]types.AttributeValue) {
	f.items[table+"/"+id] = item
}

// addChild seeds a relationship record the way Store.Create writes it.
func (f *fakeAPI) addChild(numShards int, parentRef, childRef, table string, uniques map[string]string, ttl int64) {
	pk := shard.RelationshipPK(parentRef, childRef, numShards)
	item := map[string]types.AttributeValue{
		"pk":          &types.AttributeValueMemberS{Value: pk},
		"child_ref":   &types.AttributeValueMemberS{Value: childRef},
		"parent_ref":  &types.AttributeValueMemberS{Value: parentRef},
		"child_table": &types.AttributeValueMemberS{Value: table},
		"child_key": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: store.RefID(childRef)},
		}},
	}
	if len(uniques) > 0 {
		av, _ := attributevalue.MarshalMap(uniques)
		item["unique_fields"] = &types.AttributeValueMemberM{Value: av}
	}
	if ttl != 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)}
	}
	f.children[pk] = append(f.children[pk], item)
}

func (f *fakeAPI) lastTx() []types.TransactWriteItem {
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1].TransactItems
}

func idOf(key map[string]types.AttributeValue) string {
	if v, ok := key["id"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
