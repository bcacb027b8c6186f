// Package shard provides shard key generation for distributed DynamoDB tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// RelationshipPK computes the sharded partition key for a relationship record.
// With numShards=1, all records go to shard "00".
// With numShards>1, records are distributed across shards based on childRef hash.
func RelationshipPK(parentRef, childRef string, numShards int) string {
	if numShards <= 1 {
		return partitionKey(parentRef, 0)
	}
	h := fnv.New32a()
	h.Write([]byte(childRef))
	return partitionKey(parentRef, h.Sum32()%uint32(numShards))
}

// PartitionKeys returns every relationship partition key of parentRef, in shard order.
// Reading all children of a parent means querying each of them.
func PartitionKeys(parentRef string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	keys := make([]string, numShards)
	for i := range keys {
		keys[i] = partitionKey(parentRef, uint32(i))
	}
	return keys
}

func partitionKey(parentRef string, shard uint32) string {
	return fmt.Sprintf("%s#%02x", parentRef, shard)
}

// UniqueConstraintPK computes a hash-distributed partition key for a unique constraint.
// Constraints are scoped by parentRef, so re-parenting an entity moves its constraints.
func UniqueConstraintPK(parentRef, entityType, field, value string) string {
	data := fmt.Sprintf("%s#%s#%s#%s", parentRef, entityType, field, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16]) // 128-bit hash as hex
}
