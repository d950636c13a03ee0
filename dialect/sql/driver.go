package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

type (
	// Result is the outcome of Exec.
	Result = sql.Result
	// TxOptions configures BeginTx.
	TxOptions = sql.TxOptions
)

// ExecQuerier is the subset of *sql.DB and *sql.Tx used by Conn.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn adapts an ExecQuerier to dialect.ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec runs a statement. v is nil or a *Result.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, err := argsOf(args)
	if err != nil {
		return err
	}
	var res *Result
	switch v := v.(type) {
	case nil:
	case *Result:
		res = v
	default:
		return fmt.Errorf("dialect/sql: exec: result must be *sql.Result, got %T", v)
	}
	r, err := c.ExecContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: %w", err)
	}
	if res != nil {
		*res = r
	}
	return nil
}

// Query runs a query and stores its rows in v, which must be a *Rows.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	rows, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: query: rows must be *sql.Rows, got %T", v)
	}
	argv, err := argsOf(args)
	if err != nil {
		return err
	}
	r, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	rows.ColumnScanner = r
	return nil
}

func argsOf(args any) ([]any, error) {
	switch args := args.(type) {
	case nil:
		return nil, nil
	case []any:
		return args, nil
	default:
		return nil, fmt.Errorf("dialect/sql: args must be []any, got %T", args)
	}
}

// Driver is a dialect.Driver over a *sql.DB.
type Driver struct {
	Conn
	db *sql.DB
}

var _ dialect.Driver = (*Driver)(nil)

// Open opens a database with database/sql. The dialect is derived from
// driverName by DialectOf, so "pgx" yields a Postgres driver.
func Open(driverName, dsn string) (*Driver, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return OpenDB(DialectOf(driverName), db), nil
}

// OpenDB returns a Driver of the given dialect over db.
func OpenDB(name string, db *sql.DB) *Driver {
	return &Driver{Conn: Conn{ExecQuerier: db, dialect: name}, db: db}
}

// DialectOf maps a database/sql driver name to its dialect. Unknown names
// are returned lowercased.
func DialectOf(driverName string) string {
	name := strings.ToLower(driverName)
	if name == "pgx" {
		return dialect.Postgres
	}
	for _, d := range dialect.Supported {
		if strings.HasPrefix(name, d) {
			return d
		}
	}
	return name
}

// DB returns the underlying pool.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect returns the dialect name of the driver.
func (d *Driver) Dialect() string { return d.dialect }

// Close closes the pool.
func (d *Driver) Close() error { return d.db.Close() }

// Tx begins a transaction with the default options.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx begins a transaction with opts.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Conn: Conn{ExecQuerier: tx, dialect: d.dialect}, tx: tx}, nil
}

// Tx is a transaction of a Driver.
type Tx struct {
	Conn
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// WithTx runs fn inside a transaction of drv. The transaction is committed
// when fn succeeds and rolled back otherwise.
func WithTx(ctx context.Context, drv dialect.Driver, fn func(tx dialect.Tx) error) error {
	tx, err := drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: begin: %w", err)
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, &strata.RollbackError{Err: rerr})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dialect/sql: commit: %w", err)
	}
	return nil
}

// Rows holds the result of Query. The ColumnScanner is set by Query.
type Rows struct{ ColumnScanner }

// ColumnScanner is the subset of *sql.Rows used to read query results.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}
