// Package stream provides DynamoDB Streams handlers for cascade operations.
//
// A session's MarkDeleted only sets a TTL on the entity and its relationship
// record. The cascade handler runs beneath that: when a stream record shows a
// TTL newly set, it copies the TTL to every child, which in turn produces
// stream records for the next level.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/graft/relation"
	"github.com/jacentio/graft/store"
)

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	store    *store.Store
	registry *relation.Registry
	logger   *slog.Logger
}

// NewHandler creates a new stream handler. With a non-nil registry, entity
// types that own no relationships skip the child query.
func NewHandler(s *store.Store, registry *relation.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    s,
		registry: registry,
		logger:   logger,
	}
}

// HandleCascadeDelete processes DynamoDB stream events to propagate TTL to children.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	// Only process MODIFY events where TTL was added
	if record.EventName != "MODIFY" {
		return nil
	}

	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(record.Change.NewImage, "ttl")
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	entityRef := getStringAttr(record.Change.NewImage, "entity_ref")
	if entityRef == "" {
		return nil
	}
	parentRef := getStringAttr(record.Change.NewImage, "parent_ref")
	uniquePKs := getStringListAttr(record.Change.NewImage, "_unique_pks")

	logger := h.logger.With("entityRef", entityRef)
	logger.Info("processing cascade delete",
		"parentRef", parentRef,
		"ttl", newTTL,
	)

	children, err := h.children(ctx, entityRef)
	if err != nil {
		return err
	}

	// Set same TTL on all children (triggers their cascade via stream)
	for _, child := range children {
		if err := h.store.SetTTLByKey(ctx, child.TableName, child.Key, newTTL); err != nil {
			logger.Warn("failed to set TTL on child",
				"child", child.Ref,
				"error", err,
			)
		}
	}

	// The entity's own relationship record is keyed by parent_ref from the image.
	if parentRef != "" {
		if err := h.store.SetRelationshipTTL(ctx, entityRef, parentRef, newTTL); err != nil {
			logger.Warn("failed to set relationship TTL",
				"parent", parentRef,
				"error", err,
			)
		}
	}

	for _, constraintPK := range uniquePKs {
		if err := h.store.SetUniqueConstraintTTL(ctx, constraintPK, newTTL); err != nil {
			logger.Warn("failed to set unique constraint TTL",
				"pk", constraintPK,
				"error", err,
			)
		}
	}

	logger.Info("cascade delete completed",
		"childrenProcessed", len(children),
		"uniqueConstraints", len(uniquePKs),
	)
	return nil
}

// children returns the relationship records under entityRef, including
// already-deleted ones so the cascade stays idempotent.
func (h *Handler) children(ctx context.Context, entityRef string) ([]store.ChildRef, error) {
	if h.registry != nil && !h.registry.HasDependents(store.RefType(entityRef)) {
		h.logger.Debug("type owns no relationships, skipping children", "entityRef", entityRef)
		return nil, nil
	}
	children, err := h.store.QueryAllChildren(ctx, entityRef)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	return children, nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeNumber {
		n, _ := strconv.ParseInt(v.Number(), 10, 64)
		return n
	}
	return 0
}

// getStringListAttr extracts a string list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeList {
		return nil
	}
	var result []string
	for _, item := range v.List() {
		if item.DataType() == events.DataTypeString {
			result = append(result, item.String())
		}
	}
	return result
}
