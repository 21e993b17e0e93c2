// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
// Callers may retry the operation against fresh state.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrNotConfigured indicates a required external dependency (credentials,
// destination ids, grounding setup) is missing.
var ErrNotConfigured = errors.New("not configured")

// ErrValidation indicates invalid caller input.
var ErrValidation = errors.New("validation failed")
