package sql

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/strata/dialect"
)

type setPair struct {
	column string
	value  any
}

// InsertBuilder is a builder for the INSERT statement.
type InsertBuilder struct {
	conn
	table     string
	columns   []string
	values    [][]any
	defaults  bool
	conflict  *UpdateStrategy
	returning []string
}

// Insert creates a builder for the INSERT INTO statement.
//
//	Insert("users").
//		Columns("name", "age").
//		Values("a8m", 10).
//		Values("foo", 20)
func Insert(table string) *InsertBuilder { return &InsertBuilder{table: table} }

// Columns sets the columns of the insert statement.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values appends a row of values. Rows are inserted in one statement.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Set is a shorthand for single-row inserts: it appends the column and
// its value to the first row.
func (i *InsertBuilder) Set(column string, v any) *InsertBuilder {
	i.columns = append(i.columns, column)
	if len(i.values) == 0 {
		i.values = append(i.values, []any{v})
	} else {
		i.values[0] = append(i.values[0], v)
	}
	return i
}

// Default inserts a row made of column defaults.
func (i *InsertBuilder) Default() *InsertBuilder {
	i.defaults = true
	return i
}

// OnConflict sets the strategy applied to rows that collide with an
// existing unique key.
func (i *InsertBuilder) OnConflict(s *UpdateStrategy) *InsertBuilder {
	i.conflict = s
	return i
}

// Returning adds a RETURNING clause. MySQL has none; use
// Result.LastInsertId there.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Table returns the target table.
func (i *InsertBuilder) Table() string { return i.table }

// Render implements Expr.
func (i *InsertBuilder) Render(b *Builder) {
	b.WriteString("INSERT INTO ").Ident(i.table)
	switch {
	case i.defaults && len(i.values) == 0:
		if b.Dialect() == dialect.MySQL {
			b.WriteString(" VALUES ()")
		} else {
			b.WriteString(" DEFAULT VALUES")
		}
	case len(i.values) == 0:
		b.AddError(fmt.Errorf("dialect/sql: insert into %q: no values", i.table))
		return
	default:
		b.WriteByte(' ').Nested(func(b *Builder) { b.IdentComma(i.columns...) })
		b.WriteString(" VALUES ")
		for j, row := range i.values {
			if len(row) != len(i.columns) {
				b.AddError(fmt.Errorf("dialect/sql: insert into %q: row %d has %d values for %d columns", i.table, j, len(row), len(i.columns)))
				return
			}
			if j > 0 {
				b.Comma()
			}
			b.Nested(func(b *Builder) { b.Args(row...) })
		}
	}
	if i.conflict != nil {
		i.conflict.render(b, i.columns)
	}
	if len(i.returning) > 0 {
		if b.Dialect() == dialect.MySQL {
			b.Unsupported("RETURNING")
			return
		}
		b.WriteString(" RETURNING ").IdentComma(i.returning...)
	}
}

// Build renders the statement, appending its arguments to args.
func (i *InsertBuilder) Build(args *[]any) (string, error) { return build(i.dialect, i, args) }

// Query returns the statement text and its arguments.
func (i *InsertBuilder) Query() (string, []any, error) { return query(i.dialect, i) }

// ExecContext runs the statement on the bound driver.
func (i *InsertBuilder) ExecContext(ctx context.Context) (Result, error) { return i.exec(ctx, i) }

// QueryContext runs the statement on the bound driver and returns the
// rows of its RETURNING clause.
func (i *InsertBuilder) QueryContext(ctx context.Context) (*Rows, error) { return i.query(ctx, i) }

// UpdateStrategy describes how an insert resolves a unique key conflict.
// MySQL renders it as ON DUPLICATE KEY UPDATE; Postgres and SQLite as
// ON CONFLICT (target) DO UPDATE SET or DO NOTHING.
type UpdateStrategy struct {
	target    []string
	sets      []setPair
	newValues bool
	nothing   bool
}

// OnConflict returns a strategy whose conflict target is the given
// columns. The target is ignored by MySQL, which resolves any unique key.
func OnConflict(target ...string) *UpdateStrategy {
	return &UpdateStrategy{target: target}
}

// Update sets column to v on conflict. v may be an expression such as
// Excluded or Add.
func (u *UpdateStrategy) Update(column string, v any) *UpdateStrategy {
	u.sets = append(u.sets, setPair{column: column, value: v})
	return u
}

// UpdateNewValues overwrites every inserted column outside the conflict
// target with its proposed value.
func (u *UpdateStrategy) UpdateNewValues() *UpdateStrategy {
	u.newValues = true
	return u
}

// DoNothing keeps the existing row.
func (u *UpdateStrategy) DoNothing() *UpdateStrategy {
	u.nothing = true
	return u
}

func (u *UpdateStrategy) pairs(columns []string) []setPair {
	sets := slices.Clone(u.sets)
	if u.newValues {
		for _, c := range columns {
			if slices.Contains(u.target, c) || slices.ContainsFunc(sets, func(p setPair) bool { return p.column == c }) {
				continue
			}
			sets = append(sets, setPair{column: c, value: Excluded(c)})
		}
	}
	return sets
}

func (u *UpdateStrategy) render(b *Builder, columns []string) {
	sets := u.pairs(columns)
	switch b.Dialect() {
	case dialect.MySQL:
		if u.nothing || len(sets) == 0 {
			// A self-assignment keeps the row and swallows the duplicate.
			c := firstOf(u.target, columns)
			if c == "" {
				b.AddError(errors.New("dialect/sql: upsert needs at least one column"))
				return
			}
			sets = []setPair{{column: c, value: C(c)}}
		}
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
		renderSets(b, sets)
	case dialect.Postgres, dialect.SQLite:
		b.WriteString(" ON CONFLICT")
		if len(u.target) > 0 {
			b.WriteByte(' ').Nested(func(b *Builder) { b.IdentComma(u.target...) })
		}
		if u.nothing || len(sets) == 0 {
			b.WriteString(" DO NOTHING")
			return
		}
		if len(u.target) == 0 {
			b.AddError(errors.New("dialect/sql: ON CONFLICT DO UPDATE requires a conflict target"))
			return
		}
		b.WriteString(" DO UPDATE SET ")
		renderSets(b, sets)
	default:
		b.Unsupported("upsert")
	}
}

func firstOf(lists ...[]string) string {
	for _, l := range lists {
		if len(l) > 0 {
			return l[0]
		}
	}
	return ""
}

func renderSets(b *Builder, sets []setPair) {
	for i, p := range sets {
		if i > 0 {
			b.Comma()
		}
		b.Ident(p.column).WriteString(" = ").Arg(p.value)
	}
}

// UpdateBuilder is a builder for the UPDATE statement.
type UpdateBuilder struct {
	conn
	table string
	sets  []setPair
	where *Predicate
}

// Update creates a builder for the UPDATE statement.
//
//	Update("users").Set("name", "foo").Where(EQ("id", 1))
func Update(table string) *UpdateBuilder { return &UpdateBuilder{table: table} }

// Set sets a column to a value. Assignments keep their call order.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.sets = append(u.sets, setPair{column: column, value: v})
	return u
}

// SetNull sets a column to NULL.
func (u *UpdateBuilder) SetNull(column string) *UpdateBuilder {
	return u.Set(column, Raw("NULL"))
}

// Add increments a numeric column by v.
func (u *UpdateBuilder) Add(column string, v any) *UpdateBuilder {
	return u.Set(column, Add(column, v))
}

// Where appends a predicate to the WHERE clause.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if p != nil {
		u.where = And(u.where, p)
	}
	return u
}

// Empty reports whether the builder has no assignments.
func (u *UpdateBuilder) Empty() bool { return len(u.sets) == 0 }

// Render implements Expr.
func (u *UpdateBuilder) Render(b *Builder) {
	if len(u.sets) == 0 {
		b.AddError(fmt.Errorf("dialect/sql: update %q: no columns to set", u.table))
		return
	}
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	renderSets(b, u.sets)
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.Render(b)
	}
}

// Build renders the statement, appending its arguments to args.
func (u *UpdateBuilder) Build(args *[]any) (string, error) { return build(u.dialect, u, args) }

// Query returns the statement text and its arguments.
func (u *UpdateBuilder) Query() (string, []any, error) { return query(u.dialect, u) }

// ExecContext runs the statement on the bound driver.
func (u *UpdateBuilder) ExecContext(ctx context.Context) (Result, error) { return u.exec(ctx, u) }

// DeleteBuilder is a builder for the DELETE statement.
type DeleteBuilder struct {
	conn
	table string
	where *Predicate
}

// Delete creates a builder for the DELETE statement.
//
//	Delete("users").Where(NotNull("parent_id"))
func Delete(table string) *DeleteBuilder { return &DeleteBuilder{table: table} }

// Where appends a predicate to the WHERE clause.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if p != nil {
		d.where = And(d.where, p)
	}
	return d
}

// Render implements Expr.
func (d *DeleteBuilder) Render(b *Builder) {
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.Render(b)
	}
}

// Build renders the statement, appending its arguments to args.
func (d *DeleteBuilder) Build(args *[]any) (string, error) { return build(d.dialect, d, args) }

// Query returns the statement text and its arguments.
func (d *DeleteBuilder) Query() (string, []any, error) { return query(d.dialect, d) }

// ExecContext runs the statement on the bound driver.
func (d *DeleteBuilder) ExecContext(ctx context.Context) (Result, error) { return d.exec(ctx, d) }
