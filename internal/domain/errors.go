// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is in a state that forbids the operation
// (e.g. deleting an instance that still has ledger history).
var ErrConflict = errors.New("conflict")

// ErrDuplicate indicates an entity with the same natural key already exists.
var ErrDuplicate = errors.New("duplicate")

// ErrValidation indicates a malformed draft or patch. It is always returned
// before any store call is made.
var ErrValidation = errors.New("validation failed")

// ErrConnection indicates a backing store could not be reached after the
// retry budget was exhausted.
var ErrConnection = errors.New("connection failure")

// ErrTransient indicates a per-call store failure the caller may retry,
// such as a pool acquisition timeout.
var ErrTransient = errors.New("transient store error")

// ErrTimeout indicates a statement exceeded its timeout. The store aborts the
// statement, so no partial side effects remain.
var ErrTimeout = errors.New("statement timeout")
