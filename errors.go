package strata

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested instance does not exist.
	ErrNotFound = errors.New("strata: instance not found")

	// ErrNotSingular is returned when a query that expects exactly one result
	// returns zero or multiple results.
	ErrNotSingular = errors.New("strata: result not singular")

	// ErrStaleData is returned when an UPDATE or DELETE matched a different
	// number of rows than expected, or a version id did not match.
	ErrStaleData = errors.New("strata: stale data")

	// ErrAmbiguousJoin is returned when a join has no ON clause and one can
	// not be derived from foreign keys.
	ErrAmbiguousJoin = errors.New("strata: ambiguous join")
)

// NotFoundError represents an error when an instance is not found.
type NotFoundError struct {
	label string
	id    any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("strata: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("strata: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the identity that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the identity that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular result
// but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("strata: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("strata: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Label returns the entity label.
func (e *NotSingularError) Label() string {
	return e.label
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError for the given entity.
func NewNotSingularError(label string) *NotSingularError {
	return &NotSingularError{label: label, count: -1}
}

// NewNotSingularErrorWithCount returns a new NotSingularError with the result count.
func NewNotSingularErrorWithCount(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// NotLoadedError is returned by passive attribute access when the
// attribute holds no value and loading it was suppressed.
type NotLoadedError struct {
	attr string
}

// Error returns the error string.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("strata: attribute %q is not loaded", e.attr)
}

// NewNotLoadedError returns a new NotLoadedError for the given attribute.
func NewNotLoadedError(attr string) *NotLoadedError {
	return &NotLoadedError{attr: attr}
}

// IsNotLoaded returns true if the error is a NotLoadedError.
func IsNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var e *NotLoadedError
	return errors.As(err, &e)
}

// CompileError is returned when an expression can not be rendered for a
// dialect: an underivable join, a construct the dialect does not support,
// or an empty INSERT on a dialect without DEFAULT VALUES.
type CompileError struct {
	Dialect string
	Msg     string
	Err     error
}

// Error returns the error string.
func (e *CompileError) Error() string {
	if e.Dialect != "" {
		return fmt.Sprintf("strata: compile (%s): %s", e.Dialect, e.Msg)
	}
	return fmt.Sprintf("strata: compile: %s", e.Msg)
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// NewCompileError returns a new CompileError.
func NewCompileError(dialect, format string, args ...any) *CompileError {
	return &CompileError{Dialect: dialect, Msg: fmt.Sprintf(format, args...)}
}

// IsCompileError returns true if the error is a CompileError.
func IsCompileError(err error) bool {
	if err == nil {
		return false
	}
	var e *CompileError
	return errors.As(err, &e)
}

// MappingError reports an invalid mapper or relationship configuration.
type MappingError struct {
	Entity string
	Msg    string
}

// Error returns the error string.
func (e *MappingError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("strata: mapping %s: %s", e.Entity, e.Msg)
	}
	return fmt.Sprintf("strata: mapping: %s", e.Msg)
}

// NewMappingError returns a new MappingError.
func NewMappingError(entity, format string, args ...any) *MappingError {
	return &MappingError{Entity: entity, Msg: fmt.Sprintf(format, args...)}
}

// IsMappingError returns true if the error is a MappingError.
func IsMappingError(err error) bool {
	if err == nil {
		return false
	}
	var e *MappingError
	return errors.As(err, &e)
}

// FlushError is returned when the unit of work can not determine how to
// persist the pending changes, e.g. an unsaved orphan or an identity conflict.
type FlushError struct {
	Msg string
	Err error
}

// Error returns the error string.
func (e *FlushError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("strata: flush: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("strata: flush: %s", e.Msg)
}

// Unwrap returns the underlying error.
func (e *FlushError) Unwrap() error {
	return e.Err
}

// NewFlushError returns a new FlushError.
func NewFlushError(format string, args ...any) *FlushError {
	return &FlushError{Msg: fmt.Sprintf(format, args...)}
}

// IsFlushError returns true if the error is a FlushError.
func IsFlushError(err error) bool {
	if err == nil {
		return false
	}
	var e *FlushError
	return errors.As(err, &e)
}

// ConcurrencyError is returned when an UPDATE or DELETE affected a different
// number of rows than the flush expected.
type ConcurrencyError struct {
	Table    string
	Op       string
	Expected int64
	Matched  int64
}

// Error returns the error string.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("strata: %s on table %q expected to affect %d row(s); %d were matched",
		e.Op, e.Table, e.Expected, e.Matched)
}

// Is reports whether the target error matches ErrStaleData.
func (e *ConcurrencyError) Is(err error) bool {
	return err == ErrStaleData
}

// IsConcurrencyError returns true if the error is a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConcurrencyError
	return errors.As(err, &e) || errors.Is(err, ErrStaleData)
}

// InvalidRequestError reports a call that is not valid in the current
// state, such as saving a persistent instance or attaching an instance
// that already belongs to another session.
type InvalidRequestError struct {
	Msg string
}

// Error returns the error string.
func (e *InvalidRequestError) Error() string {
	return "strata: invalid request: " + e.Msg
}

// NewInvalidRequestError returns a new InvalidRequestError.
func NewInvalidRequestError(format string, args ...any) *InvalidRequestError {
	return &InvalidRequestError{Msg: fmt.Sprintf(format, args...)}
}

// IsInvalidRequest returns true if the error is an InvalidRequestError.
func IsInvalidRequest(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidRequestError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("strata: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("strata: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "strata: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("strata: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Entity string
	Op     string // e.g. "all", "one", "count"
	Err    error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("strata: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("strata: querying %s: %v", e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}
