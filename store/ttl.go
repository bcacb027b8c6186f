package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsDeleted checks if an item has an expired TTL (is marked for deletion).
func IsDeleted(item map[string]types.AttributeValue) bool {
	ttlAttr, exists := item["ttl"]
	if !exists {
		return false // No TTL = active
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return expired(ttl, time.Now().Unix())
}

// expired reports whether a TTL value marks a record deleted at now.
// Zero means no TTL.
func expired(ttl, now int64) bool {
	return ttl != 0 && ttl <= now
}

// TTLFilterExpr returns the filter expression to exclude deleted items.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// ParentExistsCondition returns the condition expression for parent validation.
// Ensures parent exists AND is not deleted (no TTL or TTL in future).
func ParentExistsCondition() string {
	return "attribute_exists(id) AND (attribute_not_exists(#ttl) OR #ttl > :now)"
}

func numberValue(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
