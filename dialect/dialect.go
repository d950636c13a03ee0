package dialect

import (
	"context"
	"database/sql/driver"
	"slices"
)

// Dialect names.
const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Supported lists the dialects every renderer handles.
var Supported = []string{MySQL, Postgres, SQLite}

// Valid reports whether name is one of the supported dialects.
func Valid(name string) bool {
	return slices.Contains(Supported, name)
}

// ExecQuerier runs statements against a database or a transaction.
//
// Both methods take the statement arguments as a []any. Exec stores its
// result in v when v is a *sql.Result of package dialect/sql and ignores
// it when v is nil. Query always requires v to be a *Rows of the same
// package, which the caller must close.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is a connection pool bound to one dialect.
type Driver interface {
	ExecQuerier
	// Tx begins a transaction. ctx is used until it is committed or
	// rolled back.
	Tx(ctx context.Context) (Tx, error)
	Close() error
	// Dialect returns one of MySQL, Postgres or SQLite.
	Dialect() string
}

// Tx is a transaction of a Driver.
type Tx interface {
	ExecQuerier
	driver.Tx
}
