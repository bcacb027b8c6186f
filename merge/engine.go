package merge

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/jacentio/graft/relation"
)

// MergeOptions configures Merge.
type MergeOptions struct {
	// Relationships lists the relationship names to merge, in order.
	// nil means every relationship the discoverer reports on the source.
	// A non-nil empty slice merges nothing.
	Relationships []string

	// PreserveSource keeps the source entity and its unmerged dependents.
	PreserveSource bool

	// SkipCommit leaves the unit of work uncommitted for the caller to commit.
	SkipCommit bool
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	// Commit commits the unit of work after staging the deletions.
	Commit bool
}

// Engine consolidates and deletes entities through a Session.
type Engine struct {
	discoverer relation.Discoverer
	logger     *slog.Logger
}

// New creates an Engine. A nil discoverer falls back to relation.StructDiscoverer,
// a nil logger to slog.Default().
func New(discoverer relation.Discoverer, logger *slog.Logger) *Engine {
	if discoverer == nil {
		discoverer = relation.StructDiscoverer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		discoverer: discoverer,
		logger:     logger,
	}
}

// Merge re-parents the dependents of source onto destination and, unless
// opts.PreserveSource is set, deletes source along with its unmerged dependents.
func (e *Engine) Merge(ctx context.Context, sess Session, source, destination Entity, opts MergeOptions) (*Report, error) {
	if sess == nil {
		return nil, ErrNilSession
	}
	if err := validatePair(source, destination); err != nil {
		return nil, err
	}

	report := newReport(OperationMerge, source, destination)
	logger := e.logger.With("op", report.Operation, "id", report.ID, "source", report.Source, "destination", report.Destination)

	names := opts.Relationships
	if names == nil {
		names = e.discoverer.Discover(source)
	}

	// Dependents moved here must survive the source's cascade even if the
	// session does not drop them from the source's loaded collections.
	moved := make(map[string]bool)

	for _, name := range names {
		coll, ok, err := ResolveRelationship(ctx, sess, source, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			report.Skipped = append(report.Skipped, name)
			logger.Debug("relationship not resolvable, skipping", "relationship", name)
			continue
		}

		rel := coll.Relationship()
		for _, dependent := range Snapshot(coll.Members()) {
			if err := sess.SetBackReference(ctx, dependent, rel, destination); err != nil {
				return nil, fmt.Errorf("reparent %s via %s: %w", dependent.EntityRef(), rel.BackRef, err)
			}
			moved[dependent.EntityRef()] = true
			report.Reparented[name]++
		}
	}

	if !opts.PreserveSource {
		if err := e.cascade(ctx, sess, source, moved, report, logger); err != nil {
			return nil, err
		}
	}

	if !opts.SkipCommit {
		if err := sess.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit merge of %s into %s: %w", report.Source, report.Destination, err)
		}
		report.Committed = true
	}

	logger.Info("merge completed",
		"reparented", report.Total(),
		"deleted", report.Deleted,
		"skipped", len(report.Skipped),
		"committed", report.Committed,
	)
	return report, nil
}

// Delete marks entity and every direct dependent, across all resolvable
// relationships, for deletion. Dependents of dependents are not visited.
func (e *Engine) Delete(ctx context.Context, sess Session, entity Entity, opts DeleteOptions) (*Report, error) {
	if sess == nil {
		return nil, ErrNilSession
	}
	if isNil(entity) {
		return nil, ErrNilEntity
	}

	report := newReport(OperationDelete, entity, nil)
	logger := e.logger.With("op", report.Operation, "id", report.ID, "entity", report.Source)

	if err := e.cascade(ctx, sess, entity, nil, report, logger); err != nil {
		return nil, err
	}

	if opts.Commit {
		if err := sess.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit delete of %s: %w", report.Source, err)
		}
		report.Committed = true
	}

	logger.Info("delete completed",
		"deleted", report.Deleted,
		"skipped", len(report.Skipped),
		"committed", report.Committed,
	)
	return report, nil
}

// cascade marks the direct dependents of entity, except those in spare, and then entity itself.
func (e *Engine) cascade(ctx context.Context, sess Session, entity Entity, spare map[string]bool, report *Report, logger *slog.Logger) error {
	for _, name := range e.discoverer.Discover(entity) {
		coll, ok, err := ResolveRelationship(ctx, sess, entity, name)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug("relationship not resolvable, skipping delete", "relationship", name)
			if report.Operation == OperationDelete {
				report.Skipped = append(report.Skipped, name)
			}
			continue
		}

		for _, dependent := range Snapshot(coll.Members()) {
			if spare[dependent.EntityRef()] {
				continue
			}
			if err := sess.MarkDeleted(ctx, dependent); err != nil {
				return fmt.Errorf("delete %s: %w", dependent.EntityRef(), err)
			}
			report.Deleted++
		}
	}

	if err := sess.MarkDeleted(ctx, entity); err != nil {
		return fmt.Errorf("delete %s: %w", entity.EntityRef(), err)
	}
	report.Deleted++
	return nil
}

func validatePair(source, destination Entity) error {
	if isNil(source) || isNil(destination) {
		return fmt.Errorf("%w: source and destination are required", ErrInvalidMerge)
	}
	if source.EntityType() != destination.EntityType() {
		return fmt.Errorf("%w: cannot merge %s into %s", ErrInvalidMerge, source.EntityType(), destination.EntityType())
	}
	if source.EntityRef() == destination.EntityRef() {
		return fmt.Errorf("%w: %s cannot be merged into itself", ErrInvalidMerge, source.EntityRef())
	}
	return nil
}

// isNil also catches a nil pointer held in a non-nil Entity.
func isNil(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}
