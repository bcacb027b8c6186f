// Package merge consolidates two instances of the same entity type.
//
// [Engine.Merge] re-parents every dependent of a source entity onto a
// destination entity, then (unless asked to preserve it) deletes the source
// together with whatever dependents were not re-parented. [Engine.Delete]
// removes an entity and its direct dependents.
//
// The engine owns no storage. It drives a caller-supplied [Session], which
// resolves relationships, stages ownership changes and deletions in a unit of
// work, and commits that unit of work. Backends live in sibling packages:
// memstore (in memory), sqlstore (SQLite) and store (DynamoDB).
//
// # Relationship scope
//
// When no explicit relationship list is given, the engine asks its
// [relation.Discoverer] for candidate names. Candidates the session cannot
// resolve are skipped; this is the expected outcome for structural false
// positives and for misspelled caller-supplied names, and is not an error.
//
// # Mutation while iterating
//
// Re-pointing a dependent at a new owner removes it from the source's live
// collection. Every mutation pass therefore iterates a [Snapshot] of the
// collection, never the collection itself.
//
// # Commit
//
// Merge commits its unit of work unless [MergeOptions].SkipCommit is set.
// Delete commits only when [DeleteOptions].Commit is set. Store faults are
// returned wrapped and unmodified; rollback is the caller's decision.
//
// # Depth
//
// Deletion cascades one level. Dependents of dependents are left to the
// caller or to the store's own cascade (see the stream package).
package merge
