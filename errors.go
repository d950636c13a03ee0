package strata

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("strata: entity not found")
	// ErrMissingID is returned by operations on entities that were never saved.
	ErrMissingID = errors.New("strata: entity has no id")
	// ErrUnsupported is matched by every CompileError.
	ErrUnsupported = errors.New("strata: unsupported for this driver")
)

func isErr[E error](err error) bool {
	var e E
	return err != nil && errors.As(err, &e)
}

// NotFoundError is returned when no row matches a lookup.
type NotFoundError struct {
	Table string
	ID    any // nil unless the lookup was by id
}

// NewNotFoundError returns a NotFoundError for a lookup on table.
func NewNotFoundError(table string) *NotFoundError {
	return &NotFoundError{Table: table}
}

// NewNotFoundErrorWithID returns a NotFoundError for the lookup of id.
func NewNotFoundErrorWithID(table string, id any) *NotFoundError {
	return &NotFoundError{Table: table, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("strata: %s not found", e.Table)
	}
	return fmt.Sprintf("strata: %s not found (id=%v)", e.Table, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is or wraps a NotFoundError or ErrNotFound.
func IsNotFound(err error) bool {
	return isErr[*NotFoundError](err) || errors.Is(err, ErrNotFound)
}

// ConfigError is raised while deriving schemas from entity declarations or
// ordering them for creation. It is fatal: the declarations must be fixed.
type ConfigError struct {
	Entity string // may be empty
	Err    error
}

// NewConfigError wraps err as a ConfigError of entity.
func NewConfigError(entity string, err error) *ConfigError {
	return &ConfigError{Entity: entity, Err: err}
}

// Configf is NewConfigError with a formatted message.
func Configf(entity, format string, args ...any) *ConfigError {
	return NewConfigError(entity, fmt.Errorf(format, args...))
}

func (e *ConfigError) Error() string {
	if e.Entity == "" {
		return "strata: configuration: " + e.Err.Error()
	}
	return "strata: configuration of " + e.Entity + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool { return isErr[*ConfigError](err) }

// CompileError reports an expression or clause that has no rendering for
// the target dialect.
type CompileError struct {
	Dialect string
	Expr    string
	Reason  string // optional
}

// NewCompileError returns a CompileError for expr under dialect.
func NewCompileError(dialect, expr string) *CompileError {
	return &CompileError{Dialect: dialect, Expr: expr}
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("strata: %s is unsupported for driver %q", e.Expr, e.Dialect)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrUnsupported) hold.
func (e *CompileError) Is(target error) bool { return target == ErrUnsupported }

// IsCompileError reports whether err is or wraps a CompileError.
func IsCompileError(err error) bool { return isErr[*CompileError](err) }

// BindError is returned when a value cannot be bound as a parameter or
// literal, or when a scanned column cannot be assigned to its field.
type BindError struct {
	Column string // may be empty
	Value  any
	Err    error
}

// NewBindError returns a BindError of value for column.
func NewBindError(column string, value any, err error) *BindError {
	return &BindError{Column: column, Value: value, Err: err}
}

func (e *BindError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("strata: cannot bind %T: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("strata: cannot bind %T to column %q: %v", e.Value, e.Column, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// IsBindError reports whether err is or wraps a BindError.
func IsBindError(err error) bool { return isErr[*BindError](err) }

// QueryError wraps a driver error with the entity table and the handler
// operation ("find", "save", "delete", ...) that issued the statement.
type QueryError struct {
	Entity string
	Op     string
	Err    error
}

// NewQueryError returns a QueryError of op on entity.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

func (e *QueryError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("strata: %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("strata: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsQueryError reports whether err is or wraps a QueryError.
func IsQueryError(err error) bool { return isErr[*QueryError](err) }

// RollbackError is joined to the error of a failed transaction when the
// rollback fails too.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string { return "strata: rollback failed: " + e.Err.Error() }

func (e *RollbackError) Unwrap() error { return e.Err }

// AggregateError holds the errors collected by a builder.
type AggregateError struct {
	Errors []error
}

// NewAggregateError drops the nil errors of errs. It returns nil when none
// remain and the error itself when one remains.
func NewAggregateError(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &AggregateError{Errors: kept}
}

func (e *AggregateError) Error() string {
	var sb strings.Builder
	sb.WriteString("strata: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

func (e *AggregateError) Unwrap() []error { return e.Errors }
