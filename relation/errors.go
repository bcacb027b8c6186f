package relation

import "errors"

var (
	// ErrInvalidRelationship is returned when a relationship is missing its owner type,
	// name or dependent type.
	ErrInvalidRelationship = errors.New("relation: invalid relationship")

	// ErrDuplicateRelationship is returned when an owner type registers the same name twice.
	ErrDuplicateRelationship = errors.New("relation: duplicate relationship")

	// ErrEmptyConfig is returned when a registry definition payload is empty.
	ErrEmptyConfig = errors.New("relation: registry definition is empty")
)
