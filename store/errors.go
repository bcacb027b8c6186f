package store

import "errors"

var (
	// ErrParentNotFound is returned when the parent entity doesn't exist or is deleted.
	ErrParentNotFound = errors.New("graft: parent entity not found")

	// ErrNotFound is returned when an entity doesn't exist or is deleted (has TTL <= now).
	ErrNotFound = errors.New("graft: entity not found")

	// ErrAlreadyExists is returned when attempting to create an entity with an existing ID.
	ErrAlreadyExists = errors.New("graft: entity already exists")

	// ErrConcurrentModification is returned when an entity changed between load and commit.
	ErrConcurrentModification = errors.New("graft: entity was modified concurrently")

	// ErrDuplicateValue is returned when a unique constraint is violated.
	ErrDuplicateValue = errors.New("graft: duplicate value for unique field")

	// ErrUnitTooLarge is returned when a session stages more writes than one transaction can carry.
	ErrUnitTooLarge = errors.New("graft: unit of work exceeds transaction item limit")

	// ErrAlreadyStaged is returned when an entity already has a write staged in the session.
	ErrAlreadyStaged = errors.New("graft: entity already has a staged write")

	// ErrUnsupportedEntity is returned when an entity does not implement Entity.
	ErrUnsupportedEntity = errors.New("graft: entity has no table or key")

	// ErrSessionClosed is returned when a committed or discarded session is used.
	ErrSessionClosed = errors.New("graft: session is closed")
)
