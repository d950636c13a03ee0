package entity

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/schema"
	"github.com/syssam/strata/dialect/sql/sqlerr"
)

// RelationKind is the kind of a relation descriptor.
type RelationKind uint8

// Relation kinds.
const (
	RefRelation RelationKind = iota + 1
	ManyToManyRelation
)

// String implements fmt.Stringer.
func (k RelationKind) String() string {
	switch k {
	case RefRelation:
		return "ref"
	case ManyToManyRelation:
		return "many-to-many"
	default:
		return fmt.Sprintf("RelationKind(%d)", k)
	}
}

// Relation describes a relation property of an entity.
type Relation struct {
	Property string
	Kind     RelationKind
	// Table is the referenced entity table.
	Table string
	// Column is the foreign key column for references, and the join table
	// for many-to-many relations.
	Column   string
	OnDelete sql.Strategy
	Optional bool
}

// column is a persisted property: its column definition and the accessors
// moving values between the entity and the driver.
type column[T any] struct {
	sql.Column
	prop   string
	value  func(*T) (any, error)
	assign func(*T, any) error
}

type refSpec[T any] struct {
	Relation
	join func(*Registry) (*joinSpec[T], error)
}

// joinSpec is a reference resolved against the registry, ready to be
// joined by a query.
type joinSpec[T any] struct {
	table   string
	columns []string
	assign  func(*T, []any) error
}

type m2mSpec[T any] struct {
	Relation
	table    *schema.Table
	selfCol  string
	otherCol string
	ids      func(*T) ([]int64, error)
	set      func(*T, []int64)
	fill     func(*loadContext, []*T, map[int64][]int64) error
}

// loadContext carries what relation loaders need from the running query.
type loadContext struct {
	ctx context.Context
	reg *Registry
	eq  dialect.ExecQuerier
}

// derivation collects the output of the properties of one schema.
type derivation[T any] struct {
	schema  *Schema[T]
	table   *schema.Table
	columns []*column[T]
	refs    []*refSpec[T]
	m2m     []*m2mSpec[T]
	// owner of each column, and column of each property.
	owners   map[string]string
	propCols map[string]string
}

func (d *derivation[T]) addColumn(c *column[T], unique bool) error {
	if owner, ok := d.owners[c.Name]; ok {
		if owner == "id" {
			return fmt.Errorf("property %q: column %q is reserved for the primary key", c.prop, c.Name)
		}
		return fmt.Errorf("properties %q and %q are both stored in column %q", owner, c.prop, c.Name)
	}
	d.owners[c.Name] = c.prop
	d.propCols[c.prop] = c.Name
	d.columns = append(d.columns, c)
	d.table.AddColumn(c.Column)
	if unique {
		d.table.AddUnique(c.Name)
	}
	return nil
}

// Handler persists the entities of one schema. Handlers are created and
// cached by a Registry, and are safe for concurrent use.
type Handler[T any] struct {
	reg     *Registry
	eq      dialect.ExecQuerier
	schema  *Schema[T]
	table   *schema.Table
	columns []*column[T]
	refs    []*refSpec[T]
	m2m     []*m2mSpec[T]
}

func derive[T any](reg *Registry, s *Schema[T]) (*Handler[T], error) {
	if s.table == "" {
		return nil, strata.Configf("", "entity schema without a table name")
	}
	d := &derivation[T]{
		schema:   s,
		table:    schema.NewTable(s.table).AddColumn(sql.SerialColumn("id")).SetPrimaryKey("id"),
		owners:   map[string]string{"id": "id"},
		propCols: make(map[string]string),
	}
	seen := make(map[string]bool, len(s.props))
	for _, p := range s.props {
		name := p.Name()
		switch {
		case name == "id":
			return nil, strata.Configf(s.table, "property %q is reserved for the primary key", name)
		case seen[name]:
			return nil, strata.Configf(s.table, "duplicate property %q", name)
		}
		seen[name] = true
		if err := p.derive(d); err != nil {
			return nil, strata.NewConfigError(s.table, err)
		}
	}
	for _, props := range s.uniques {
		cols := make([]string, len(props))
		for i, p := range props {
			c, ok := d.propCols[p]
			if !ok {
				return nil, strata.Configf(s.table, "unique constraint on unknown property %q", p)
			}
			cols[i] = c
		}
		d.table.AddUnique(cols...)
	}
	if res := schema.ValidateTable(d.table); res.HasErrors() {
		return nil, strata.NewConfigError(s.table, errors.New(res.String()))
	}
	return &Handler[T]{
		reg:     reg,
		eq:      reg.drv,
		schema:  s,
		table:   d.table,
		columns: d.columns,
		refs:    d.refs,
		m2m:     d.m2m,
	}, nil
}

// Table returns a copy of the derived table of the entity.
func (h *Handler[T]) Table() *schema.Table { return h.table.Copy() }

// Columns returns the column names of the entity, id first.
func (h *Handler[T]) Columns() []string { return h.columnNames(h.columns) }

// Relations returns the relation descriptors of the entity.
func (h *Handler[T]) Relations() []Relation {
	rs := make([]Relation, 0, len(h.refs)+len(h.m2m))
	for _, r := range h.refs {
		rs = append(rs, r.Relation)
	}
	for _, m := range h.m2m {
		rs = append(rs, m.Relation)
	}
	return rs
}

// JoinTables returns copies of the join tables of the many-to-many
// relations.
func (h *Handler[T]) JoinTables() []*schema.Table {
	ts := make([]*schema.Table, len(h.m2m))
	for i, m := range h.m2m {
		ts[i] = m.table.Copy()
	}
	return ts
}

// TableName implements schema.Persistable.
func (h *Handler[T]) TableName() string { return h.table.Name }

// DependsOn implements schema.Persistable. It returns the referenced
// tables, excluding the entity table itself.
func (h *Handler[T]) DependsOn() []string { return h.table.DependsOn() }

// CreateQueries implements schema.Persistable.
func (h *Handler[T]) CreateQueries(d string, ifNotExists bool) []sql.Querier {
	return h.table.CreateQueries(d, ifNotExists)
}

// With returns a copy of the handler executing on eq, usually a
// transaction.
//
//	err := sql.WithTx(ctx, drv, func(tx dialect.Tx) error {
//		return users.With(tx).Save(ctx, u)
//	})
func (h *Handler[T]) With(eq dialect.ExecQuerier) *Handler[T] {
	c := *h
	c.eq = eq
	return &c
}

func (h *Handler[T]) builder() *sql.DialectBuilder {
	return sql.Dialect(h.reg.dialect).With(h.eq)
}

func (h *Handler[T]) columnNames(cols []*column[T]) []string {
	names := make([]string, 0, len(cols)+1)
	names = append(names, "id")
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names
}

// assign sets the id and the given columns of e from a row scanned in the
// order of columnNames(cols).
func (h *Handler[T]) assign(e *T, cols []*column[T], vals []any) error {
	id, err := asInt64(vals[0])
	if err != nil {
		return strata.NewBindError("id", vals[0], err)
	}
	h.schema.base(e).ID = &id
	for i, c := range cols {
		if err := c.assign(e, vals[i+1]); err != nil {
			return strata.NewBindError(c.Name, vals[i+1], err)
		}
	}
	return nil
}

// values returns the driver values of the given columns of e.
func (h *Handler[T]) values(e *T, cols []*column[T]) ([]any, error) {
	vals := make([]any, len(cols))
	for i, c := range cols {
		v, err := c.value(e)
		if err != nil {
			return nil, strata.NewBindError(c.Name, v, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func (h *Handler[T]) queryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return strata.NewQueryError(h.table.Name, op, sqlerr.Wrap(err))
}

// scanEach scans every row of rows into n values and passes them to fn.
func scanEach(rows *sql.Rows, n int, fn func([]any) error) error {
	defer rows.Close()
	for rows.Next() {
		vals := make([]any, n)
		dest := make([]any, n)
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return errors.Wrap(err, "scan")
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return rows.Err()
}
