// Package apperrors provides the standardized, typed error taxonomy used
// across the core subsystems (spec.md §7).
package apperrors

import (
	"fmt"
	"net/http"
)

// Type identifies one of the closed set of domain error kinds.
type Type string

const (
	// Validation errors (spec.md §4.5, §7)
	TypeMismatch              Type = "type_mismatch"
	MissingRequiredProperty   Type = "missing_required_property"
	UndefinedProperty         Type = "undefined_property"
	ValueTypeInconsistency    Type = "value_type_inconsistency"
	ClassNotFound             Type = "class_not_found"
	RelationshipError         Type = "relationship_error"
	UndefinedRelationship     Type = "undefined_relationship"
	DerivedCycle              Type = "derived_cycle"
	QuantifierViolation       Type = "quantifier_violation"
	DomainConflict            Type = "domain_conflict"

	// Versioning errors
	WorkingCommitExists  Type = "working_commit_exists"
	WorkingCommitMissing Type = "working_commit_missing"
	CommitNotFound       Type = "commit_not_found"
	BranchNotFound       Type = "branch_not_found"
	BranchNotEmpty       Type = "branch_not_empty"
	NoChanges            Type = "no_changes"
	TagAlreadyExists     Type = "tag_already_exists"
	TagNotFound          Type = "tag_not_found"
	DatabaseNotFound     Type = "database_not_found"

	// Merge/rebase errors
	MergeConflict      Type = "merge_conflict"
	ValidationConflict Type = "validation_conflict"
	NoCommonAncestor   Type = "no_common_ancestor"

	// Resolution errors
	CrossBranchReference Type = "cross_branch_reference"
	MissingCandidate     Type = "missing_candidate"
	EmptySelection       Type = "empty_selection"
	SelectionTooLarge    Type = "selection_too_large"

	// Transport errors
	BadRequest   Type = "bad_request"
	Unauthorized Type = "unauthorized"
	NotFound     Type = "not_found"
	Conflict     Type = "conflict"
	Internal     Type = "internal"
)

// statusCodes maps each error Type to its default HTTP status (spec.md §6, §7).
var statusCodes = map[Type]int{
	TypeMismatch:            http.StatusBadRequest,
	MissingRequiredProperty: http.StatusBadRequest,
	UndefinedProperty:       http.StatusBadRequest,
	ValueTypeInconsistency:  http.StatusBadRequest,
	ClassNotFound:           http.StatusNotFound,
	RelationshipError:       http.StatusBadRequest,
	UndefinedRelationship:   http.StatusBadRequest,
	DerivedCycle:            http.StatusBadRequest,
	QuantifierViolation:     http.StatusBadRequest,
	DomainConflict:          http.StatusBadRequest,

	WorkingCommitExists:  http.StatusConflict,
	WorkingCommitMissing: http.StatusNotFound,
	CommitNotFound:       http.StatusNotFound,
	BranchNotFound:       http.StatusNotFound,
	BranchNotEmpty:       http.StatusConflict,
	NoChanges:            http.StatusBadRequest,
	TagAlreadyExists:     http.StatusConflict,
	TagNotFound:          http.StatusNotFound,
	DatabaseNotFound:     http.StatusNotFound,

	MergeConflict:      http.StatusConflict,
	ValidationConflict:  http.StatusConflict,
	NoCommonAncestor:    http.StatusConflict,

	CrossBranchReference: http.StatusBadRequest,
	MissingCandidate:     http.StatusBadRequest,
	EmptySelection:       http.StatusBadRequest,
	SelectionTooLarge:    http.StatusBadRequest,

	BadRequest:   http.StatusBadRequest,
	Unauthorized: http.StatusUnauthorized,
	NotFound:     http.StatusNotFound,
	Conflict:     http.StatusConflict,
	Internal:     http.StatusInternalServerError,
}

// DomainError is the single tagged error type used across the core.
type DomainError struct {
	ErrType Type
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrType, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrType, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is compares by error Type, so errors.Is(err, apperrors.New(TypeMismatch, ""))
// matches regardless of message/details.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.ErrType == t.ErrType
}

// StatusCode returns the HTTP status this error maps to (spec.md §6).
func (e *DomainError) StatusCode() int {
	if code, ok := statusCodes[e.ErrType]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// WithDetail attaches a key/value to the error's Details map.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause attaches the underlying cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// New creates a DomainError of the given type.
func New(errType Type, message string) *DomainError {
	return &DomainError{ErrType: errType, Message: message}
}

// Newf creates a DomainError with a formatted message.
func Newf(errType Type, format string, args ...any) *DomainError {
	return &DomainError{ErrType: errType, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a DomainError that wraps an existing error.
func Wrap(errType Type, cause error, message string) *DomainError {
	return &DomainError{ErrType: errType, Message: message, Cause: cause}
}

// TypeOf extracts the Type of err if it (or something it wraps) is a
// *DomainError, and ok=false otherwise.
func TypeOf(err error) (Type, bool) {
	var de *DomainError
	if ok := asDomainError(err, &de); ok {
		return de.ErrType, true
	}
	return "", false
}

func asDomainError(err error, target **DomainError) bool {
	for err != nil {
		if de, ok := err.(*DomainError); ok {
			*target = de
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
