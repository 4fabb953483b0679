package types

import "errors"

// Connection lifecycle errors.
var (
	ErrNotConnected     = errors.New("store is not connected")
	ErrAlreadyConnected = errors.New("store is already connected")
	ErrPoolExhausted    = errors.New("connection pool exhausted")
)

// Schema and lookup errors.
var (
	ErrTableNotFound  = errors.New("table not found")
	ErrColumnNotFound = errors.New("column not found")
	ErrRowNotFound    = errors.New("row not found")
)

// Mutation errors.
var (
	ErrRowDeleted          = errors.New("row handle is deleted")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrHook                = errors.New("before-insert hook failed")
	ErrNoTransaction       = errors.New("no ambient transaction")
	ErrInvalidAggregate    = errors.New("aggregate function not allowed")
	ErrNoConflictColumns   = errors.New("upsert needs at least one conflict column")
)

// Config validation errors.
var (
	ErrHostEmpty     = errors.New("host must not be empty")
	ErrDatabaseEmpty = errors.New("database must not be empty")
	ErrPoolBounds    = errors.New("pool bounds must satisfy 0 < min <= max")
)
