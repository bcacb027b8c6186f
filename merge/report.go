package merge

import "github.com/google/uuid"

// Operation names recorded in a Report.
const (
	OperationMerge  = "merge"
	OperationDelete = "delete"
)

// Report summarises one Merge or Delete call.
type Report struct {
	// ID correlates log lines of one operation.
	ID string

	// Operation is OperationMerge or OperationDelete.
	Operation string

	// Source is the merged-away (or deleted) entity reference.
	Source string

	// Destination is the surviving entity reference (merge only).
	Destination string

	// Reparented counts dependents moved to the destination, per relationship name.
	Reparented map[string]int

	// Skipped lists relationship names that did not resolve.
	Skipped []string

	// Deleted counts entities marked for deletion, the source included.
	Deleted int

	// Committed is true once the session committed the unit of work.
	Committed bool
}

func newReport(operation string, source, destination Entity) *Report {
	r := &Report{
		ID:         uuid.NewString(),
		Operation:  operation,
		Source:     source.EntityRef(),
		Reparented: make(map[string]int),
	}
	if destination != nil {
		r.Destination = destination.EntityRef()
	}
	return r
}

// Total returns the number of dependents re-parented across all relationships.
func (r *Report) Total() int {
	n := 0
	for _, c := range r.Reparented {
		n += c
	}
	return n
}
