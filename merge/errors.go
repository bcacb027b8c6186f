package merge

import "errors"

var (
	// ErrInvalidMerge is returned when source and destination are nil, of different
	// types, or the same entity.
	ErrInvalidMerge = errors.New("graft: invalid merge")

	// ErrNilSession is returned when an operation is invoked without a session.
	ErrNilSession = errors.New("graft: session is nil")

	// ErrNilEntity is returned when Delete is invoked without an entity.
	ErrNilEntity = errors.New("graft: entity is nil")
)
