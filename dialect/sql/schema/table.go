package schema

import (
	"slices"

	"github.com/syssam/strata/dialect/sql"
)

// Table describes a database table: an entity table or the join table of
// a many-to-many relationship.
type Table struct {
	Name        string           `yaml:"name"`
	Columns     []sql.Column     `yaml:"columns"`
	PrimaryKey  []string         `yaml:"primary_key,omitempty"`
	Uniques     []sql.Unique     `yaml:"uniques,omitempty"`
	ForeignKeys []sql.ForeignKey `yaml:"foreign_keys,omitempty"`
}

// NewTable returns a new table with the given name.
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// AddColumn appends columns to the table.
func (t *Table) AddColumn(columns ...sql.Column) *Table {
	t.Columns = append(t.Columns, columns...)
	return t
}

// SetPrimaryKey sets the primary key columns.
func (t *Table) SetPrimaryKey(columns ...string) *Table {
	t.PrimaryKey = columns
	return t
}

// AddUnique adds a unique constraint over the columns.
func (t *Table) AddUnique(columns ...string) *Table {
	t.Uniques = append(t.Uniques, sql.Unique{Columns: columns})
	return t
}

// AddForeignKey adds a foreign key from column to refTable.refColumn.
func (t *Table) AddForeignKey(column, refTable, refColumn string, onDelete sql.Strategy) *Table {
	t.ForeignKeys = append(t.ForeignKeys, sql.ForeignKey{
		Column:    column,
		RefTable:  refTable,
		RefColumn: refColumn,
		OnDelete:  onDelete,
	})
	return t
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (sql.Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return sql.Column{}, false
}

// HasColumn reports whether the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Constraints returns the table constraints in creation order: the primary
// key, then unique constraints, then foreign keys.
func (t *Table) Constraints() []sql.Constraint {
	cs := make([]sql.Constraint, 0, 1+len(t.Uniques)+len(t.ForeignKeys))
	if len(t.PrimaryKey) > 0 {
		cs = append(cs, sql.PrimaryKey{Columns: t.PrimaryKey})
	}
	for _, u := range t.Uniques {
		cs = append(cs, u)
	}
	for _, fk := range t.ForeignKeys {
		cs = append(cs, fk)
	}
	return cs
}

// TableName implements Persistable.
func (t *Table) TableName() string { return t.Name }

// DependsOn returns the tables referenced by foreign keys, in declaration
// order. Self references are not dependencies.
func (t *Table) DependsOn() []string {
	var deps []string
	for _, fk := range t.ForeignKeys {
		if fk.RefTable != t.Name && !slices.Contains(deps, fk.RefTable) {
			deps = append(deps, fk.RefTable)
		}
	}
	return deps
}

// CreateQueries returns the statements creating the table for the dialect,
// prerequisites such as Postgres enum types first.
func (t *Table) CreateQueries(d string, ifNotExists bool) []sql.Querier {
	b := sql.Dialect(d).CreateTable(t.Name).
		Columns(t.Columns...).
		Constraints(t.Constraints()...)
	if ifNotExists {
		b.IfNotExists()
	}
	var qs []sql.Querier
	for _, p := range b.Prerequisites() {
		qs = append(qs, p)
	}
	return append(qs, b)
}

// Copy returns a deep copy of the table.
func (t *Table) Copy() *Table {
	c := &Table{
		Name:        t.Name,
		Columns:     slices.Clone(t.Columns),
		PrimaryKey:  slices.Clone(t.PrimaryKey),
		Uniques:     slices.Clone(t.Uniques),
		ForeignKeys: slices.Clone(t.ForeignKeys),
	}
	for i := range c.Columns {
		c.Columns[i].Enums = slices.Clone(c.Columns[i].Enums)
	}
	for i := range c.Uniques {
		c.Uniques[i].Columns = slices.Clone(c.Uniques[i].Columns)
	}
	return c
}
