// Package sqlerr classifies the constraint violations reported by the
// supported database drivers.
package sqlerr

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Kind is the class of a constraint violation.
type Kind uint8

// Constraint violation kinds.
const (
	Unknown Kind = iota
	Unique
	ForeignKey
	Check
	NotNull
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Unique:
		return "unique"
	case ForeignKey:
		return "foreign key"
	case Check:
		return "check"
	case NotNull:
		return "not null"
	default:
		return "unknown"
	}
}

// ConstraintError wraps a driver error caused by a constraint violation.
type ConstraintError struct {
	Kind Kind
	Err  error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return "sqlerr: " + e.Kind.String() + " constraint violation: " + e.Err.Error()
}

// Unwrap returns the driver error.
func (e *ConstraintError) Unwrap() error { return e.Err }

// Wrap returns err wrapped in a ConstraintError when it is a constraint
// violation, and err unchanged otherwise.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return err
	}
	if k := Classify(err); k != Unknown {
		return &ConstraintError{Kind: k, Err: err}
	}
	return err
}

// PostgreSQL SQLSTATE codes of class 23.
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers.
const (
	mysqlBadNull          = 1048
	mysqlDuplicateEntry   = 1062
	mysqlNoDefault        = 1364
	mysqlForeignKeyParent = 1451
	mysqlForeignKeyChild  = 1452
	mysqlCheckViolation   = 3819
)

// Classify returns the kind of constraint err violated, or Unknown.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgKind(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgKind(string(pqErr.Code))
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return Unique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return ForeignKey
		case mysqlCheckViolation:
			return Check
		case mysqlBadNull, mysqlNoDefault:
			return NotNull
		}
		return Unknown
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return Unique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ForeignKey
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return Check
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return NotNull
		}
	}
	// Primary result codes and proxied drivers only keep the message.
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return Unique
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"):
		return ForeignKey
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed"):
		return Check
	case containsAny(msg, "violates not-null constraint", "NOT NULL constraint failed"):
		return NotNull
	}
	return Unknown
}

func pgKind(code string) Kind {
	switch code {
	case pgUniqueViolation:
		return Unique
	case pgForeignKeyViolation:
		return ForeignKey
	case pgCheckViolation:
		return Check
	case pgNotNullViolation:
		return NotNull
	}
	return Unknown
}

// IsConstraintError reports whether err resulted from any constraint violation.
func IsConstraintError(err error) bool { return Classify(err) != Unknown }

// IsUniqueConstraintError reports whether err resulted from a uniqueness
// violation, e.g. a duplicate value in a unique index.
func IsUniqueConstraintError(err error) bool { return Classify(err) == Unique }

// IsForeignKeyConstraintError reports whether err resulted from a foreign
// key violation, e.g. a missing parent row.
func IsForeignKeyConstraintError(err error) bool { return Classify(err) == ForeignKey }

// IsCheckConstraintError reports whether err resulted from a check
// constraint violation.
func IsCheckConstraintError(err error) bool { return Classify(err) == Check }

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
