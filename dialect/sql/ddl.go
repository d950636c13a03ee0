package sql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/strata/dialect"
)

// ColumnType is the kind of a table column.
type ColumnType uint8

// Column kinds.
const (
	TypeSerial ColumnType = iota + 1
	TypeString
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDouble
	TypeBool
	TypeDateTime
	TypeJSON
	TypeEnum
)

var columnTypeNames = [...]string{
	TypeSerial:   "serial",
	TypeString:   "string",
	TypeInt:      "int",
	TypeBigInt:   "bigint",
	TypeFloat:    "float",
	TypeDouble:   "double",
	TypeBool:     "bool",
	TypeDateTime: "datetime",
	TypeJSON:     "json",
	TypeEnum:     "enum",
}

// String returns the kind name.
func (t ColumnType) String() string {
	if int(t) < len(columnTypeNames) && columnTypeNames[t] != "" {
		return columnTypeNames[t]
	}
	return "ColumnType(" + strconv.Itoa(int(t)) + ")"
}

// ParseColumnType returns the kind for the given name.
func ParseColumnType(name string) (ColumnType, error) {
	for i, n := range columnTypeNames {
		if n != "" && n == strings.ToLower(name) {
			return ColumnType(i), nil
		}
	}
	return 0, fmt.Errorf("dialect/sql: unknown column type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t ColumnType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ColumnType) UnmarshalText(text []byte) error {
	v, err := ParseColumnType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Column describes a table column. Columns are values: the modifier
// methods return modified copies.
type Column struct {
	Name     string     `yaml:"name"`
	Type     ColumnType `yaml:"type"`
	Size     int        `yaml:"size,omitempty"`
	Nullable bool       `yaml:"nullable,omitempty"`
	Default  any        `yaml:"default,omitempty"`
	Enums    []string   `yaml:"enums,omitempty"`
	Unsigned bool       `yaml:"unsigned,omitempty"`
	// EnumType names the Postgres type of an enum column. Empty means
	// <table>_<column>_type.
	EnumType string `yaml:"enum_type,omitempty"`
}

// SerialColumn returns an auto-incrementing integer column.
func SerialColumn(name string) Column { return Column{Name: name, Type: TypeSerial} }

// StringColumn returns a VARCHAR(size) column, or TEXT when size is 0.
func StringColumn(name string, size int) Column {
	return Column{Name: name, Type: TypeString, Size: size}
}

// IntColumn returns an INTEGER column.
func IntColumn(name string) Column { return Column{Name: name, Type: TypeInt} }

// BigIntColumn returns a BIGINT column.
func BigIntColumn(name string) Column { return Column{Name: name, Type: TypeBigInt} }

// FloatColumn returns a single precision column.
func FloatColumn(name string) Column { return Column{Name: name, Type: TypeFloat} }

// DoubleColumn returns a double precision column.
func DoubleColumn(name string) Column { return Column{Name: name, Type: TypeDouble} }

// BoolColumn returns a BOOLEAN column.
func BoolColumn(name string) Column { return Column{Name: name, Type: TypeBool} }

// DateTimeColumn returns a timestamp column.
func DateTimeColumn(name string) Column { return Column{Name: name, Type: TypeDateTime} }

// JSONColumn returns a column holding JSON documents.
func JSONColumn(name string) Column { return Column{Name: name, Type: TypeJSON} }

// EnumColumn returns a column restricted to the given values.
func EnumColumn(name string, values ...string) Column {
	return Column{Name: name, Type: TypeEnum, Enums: append([]string(nil), values...)}
}

// Null returns a nullable copy of the column.
func (c Column) Null() Column {
	c.Nullable = true
	return c
}

// WithDefault returns a copy of the column with a default value, a literal
// or an expression such as Now().
func (c Column) WithDefault(v any) Column {
	c.Default = v
	return c
}

// Unsign returns an unsigned copy of a numeric column (MySQL only).
func (c Column) Unsign() Column {
	c.Unsigned = true
	return c
}

// WithEnums returns a copy of the column with the given enum values.
func (c Column) WithEnums(values ...string) Column {
	c.Enums = append([]string(nil), values...)
	return c
}

// WithEnumType returns a copy of the column backed by the named Postgres
// type. Enum columns sharing a type must list the same values.
func (c Column) WithEnumType(name string) Column {
	c.EnumType = name
	return c
}

// EnumTypeName returns the Postgres type backing the enum column when it
// belongs to table. Without a table, the column name alone is used.
func (c Column) EnumTypeName(table string) string {
	switch {
	case c.EnumType != "":
		return c.EnumType
	case table == "":
		return c.Name + "_type"
	default:
		return table + "_" + c.Name + "_type"
	}
}

// ofTable pins the enum type of c to table.
func (c Column) ofTable(table string) Column {
	if c.Type == TypeEnum && c.EnumType == "" {
		c.EnumType = c.EnumTypeName(table)
	}
	return c
}

// SQLType renders the column type for the dialect.
func (c Column) SQLType(b *Builder) {
	d := b.Dialect()
	switch c.Type {
	case TypeSerial:
		switch d {
		case dialect.MySQL:
			b.WriteString("INTEGER AUTO_INCREMENT")
		case dialect.Postgres:
			b.WriteString("SERIAL")
		case dialect.SQLite:
			b.WriteString("INTEGER")
		default:
			b.Unsupported("SERIAL column")
		}
	case TypeString:
		if c.Size > 0 {
			b.WriteString("VARCHAR(").WriteString(strconv.Itoa(c.Size)).WriteByte(')')
		} else {
			b.WriteString("TEXT")
		}
	case TypeInt:
		b.WriteString("INTEGER")
		c.unsigned(b)
	case TypeBigInt:
		b.WriteString("BIGINT")
		c.unsigned(b)
	case TypeFloat:
		if d == dialect.MySQL {
			b.WriteString("FLOAT")
		} else {
			b.WriteString("REAL")
		}
	case TypeDouble:
		switch d {
		case dialect.MySQL:
			b.WriteString("DOUBLE")
		case dialect.Postgres:
			b.WriteString("DOUBLE PRECISION")
		default:
			b.WriteString("REAL")
		}
	case TypeBool:
		b.WriteString("BOOLEAN")
	case TypeDateTime:
		if d == dialect.Postgres {
			b.WriteString("TIMESTAMP")
		} else {
			b.WriteString("DATETIME")
		}
	case TypeJSON:
		switch d {
		case dialect.MySQL:
			b.WriteString("LONGTEXT")
		case dialect.Postgres:
			b.WriteString("JSON")
		default:
			b.WriteString("TEXT")
		}
	case TypeEnum:
		if len(c.Enums) == 0 {
			b.AddError(fmt.Errorf("dialect/sql: enum column %q has no values", c.Name))
			return
		}
		switch d {
		case dialect.MySQL:
			b.WriteString("ENUM(")
			c.enumValues(b)
			b.WriteByte(')')
		case dialect.Postgres:
			b.Ident(c.EnumTypeName(""))
		case dialect.SQLite:
			b.WriteString("TEXT")
		default:
			b.Unsupported("ENUM column")
		}
	default:
		b.AddError(fmt.Errorf("dialect/sql: column %q has unknown type %d", c.Name, c.Type))
	}
}

func (c Column) unsigned(b *Builder) {
	if c.Unsigned && b.Dialect() == dialect.MySQL {
		b.WriteString(" UNSIGNED")
	}
}

func (c Column) enumValues(b *Builder) {
	for i, v := range c.Enums {
		if i > 0 {
			b.Comma()
		}
		b.Literal(v)
	}
}

// Render writes the column definition: name, type, nullability and default.
// Nullable columns without a default get DEFAULT NULL. MySQL stores JSON in
// LONGTEXT, which cannot have a non-null default.
func (c Column) Render(b *Builder) {
	b.Ident(c.Name).WriteByte(' ')
	c.SQLType(b)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	def := c.Default
	if c.Type == TypeJSON && b.Dialect() == dialect.MySQL {
		def = nil
	}
	switch {
	case c.Type == TypeSerial:
	case def != nil:
		b.WriteString(" DEFAULT ").Literal(def)
	case c.Nullable:
		b.WriteString(" DEFAULT NULL")
	}
	if c.Type == TypeEnum && b.Dialect() == dialect.SQLite && len(c.Enums) > 0 {
		b.WriteString(" CHECK (").Ident(c.Name).WriteString(" IN (")
		c.enumValues(b)
		b.WriteString("))")
	}
}

// Strategy is the ON DELETE action of a foreign key.
type Strategy uint8

// On-delete strategies. NoAction leaves the database default in place.
const (
	NoAction Strategy = iota
	Cascade
	SetNull
	SetDefault
	Restrict
)

var strategyNames = [...]string{
	NoAction:   "NO ACTION",
	Cascade:    "CASCADE",
	SetNull:    "SET NULL",
	SetDefault: "SET DEFAULT",
	Restrict:   "RESTRICT",
}

// String returns the SQL form of the strategy.
func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return "Strategy(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	for i, n := range strategyNames {
		if strings.EqualFold(n, string(text)) {
			*s = Strategy(i)
			return nil
		}
	}
	return fmt.Errorf("dialect/sql: unknown on-delete strategy %q", text)
}

// Constraint is a table constraint.
type Constraint interface {
	Expr
	// ConstraintName returns the deterministic name of the constraint on table.
	ConstraintName(table string) string
	// ConstraintColumns returns the local columns of the constraint.
	ConstraintColumns() []string
}

// PrimaryKey is a PRIMARY KEY constraint.
type PrimaryKey struct {
	Columns []string `yaml:"columns"`
}

// ConstraintName implements Constraint.
func (PrimaryKey) ConstraintName(table string) string { return "pk_" + table }

// ConstraintColumns implements Constraint.
func (pk PrimaryKey) ConstraintColumns() []string { return pk.Columns }

// Render implements Expr.
func (pk PrimaryKey) Render(b *Builder) {
	b.WriteString("PRIMARY KEY ").Nested(func(b *Builder) { b.IdentComma(pk.Columns...) })
}

// Unique is a UNIQUE constraint.
type Unique struct {
	Columns []string `yaml:"columns"`
}

// ConstraintName implements Constraint.
func (u Unique) ConstraintName(table string) string {
	return "uq_" + table + "_" + strings.Join(u.Columns, "_")
}

// ConstraintColumns implements Constraint.
func (u Unique) ConstraintColumns() []string { return u.Columns }

// Render implements Expr.
func (u Unique) Render(b *Builder) {
	b.WriteString("UNIQUE ").Nested(func(b *Builder) { b.IdentComma(u.Columns...) })
}

// ForeignKey is a FOREIGN KEY constraint referencing a single column.
type ForeignKey struct {
	Column    string   `yaml:"column"`
	RefTable  string   `yaml:"ref_table"`
	RefColumn string   `yaml:"ref_column"`
	OnDelete  Strategy `yaml:"on_delete"`
}

// ConstraintName implements Constraint.
func (fk ForeignKey) ConstraintName(table string) string {
	return "fk_" + table + "_" + fk.RefTable + "_" + fk.Column
}

// ConstraintColumns implements Constraint.
func (fk ForeignKey) ConstraintColumns() []string { return []string{fk.Column} }

// Render implements Expr.
func (fk ForeignKey) Render(b *Builder) {
	b.WriteString("FOREIGN KEY ").Nested(func(b *Builder) { b.Ident(fk.Column) })
	b.WriteString(" REFERENCES ").Ident(fk.RefTable).WriteByte(' ')
	b.Nested(func(b *Builder) { b.Ident(fk.RefColumn) })
	if fk.OnDelete != NoAction {
		b.WriteString(" ON DELETE ").WriteString(fk.OnDelete.String())
	}
}

// TableBuilder is a builder for the CREATE TABLE statement.
type TableBuilder struct {
	conn
	name        string
	ifNotExists bool
	columns     []Column
	constraints []Constraint
}

// CreateTable returns a builder for the CREATE TABLE statement.
//
//	CreateTable("users").
//		Columns(
//			SerialColumn("id"),
//			StringColumn("name", 32),
//		).
//		PrimaryKey("id")
func CreateTable(name string) *TableBuilder { return &TableBuilder{name: name} }

// IfNotExists makes the statement a no-op when the table exists.
func (t *TableBuilder) IfNotExists() *TableBuilder {
	t.ifNotExists = true
	return t
}

// Columns appends column definitions.
func (t *TableBuilder) Columns(columns ...Column) *TableBuilder {
	for _, c := range columns {
		t.columns = append(t.columns, c.ofTable(t.name))
	}
	return t
}

// Constraints appends table constraints.
func (t *TableBuilder) Constraints(cs ...Constraint) *TableBuilder {
	t.constraints = append(t.constraints, cs...)
	return t
}

// PrimaryKey sets the primary key columns.
func (t *TableBuilder) PrimaryKey(columns ...string) *TableBuilder {
	return t.Constraints(PrimaryKey{Columns: columns})
}

// Unique adds a unique constraint.
func (t *TableBuilder) Unique(columns ...string) *TableBuilder {
	return t.Constraints(Unique{Columns: columns})
}

// ForeignKey adds a foreign key from column to refTable.refColumn.
func (t *TableBuilder) ForeignKey(column, refTable, refColumn string, onDelete Strategy) *TableBuilder {
	return t.Constraints(ForeignKey{Column: column, RefTable: refTable, RefColumn: refColumn, OnDelete: onDelete})
}

// Name returns the table name.
func (t *TableBuilder) Name() string { return t.name }

// Prerequisites returns the statements that must run before the table is
// created. Postgres enum columns need their type first.
func (t *TableBuilder) Prerequisites() []*EnumTypeBuilder {
	if t.dialect != dialect.Postgres {
		return nil
	}
	var pre []*EnumTypeBuilder
	for _, c := range t.columns {
		if c.Type == TypeEnum {
			e := CreateEnumType(c.EnumTypeName(t.name), c.Enums...)
			e.conn = t.conn
			pre = append(pre, e)
		}
	}
	return pre
}

// Render implements Expr.
func (t *TableBuilder) Render(b *Builder) {
	if len(t.columns) == 0 {
		b.AddError(fmt.Errorf("dialect/sql: create table %q: no columns", t.name))
		return
	}
	b.WriteString("CREATE TABLE ")
	if t.ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.Ident(t.name).WriteString(" (")
	for i, c := range t.columns {
		if i > 0 {
			b.Comma()
		}
		c.Render(b)
	}
	for _, c := range t.constraints {
		b.Comma().WriteString("CONSTRAINT ").Ident(c.ConstraintName(t.name)).WriteByte(' ')
		c.Render(b)
	}
	b.WriteByte(')')
}

// Build renders the statement, appending its arguments to args.
func (t *TableBuilder) Build(args *[]any) (string, error) { return build(t.dialect, t, args) }

// Query returns the statement text and its arguments.
func (t *TableBuilder) Query() (string, []any, error) { return query(t.dialect, t) }

// ExecContext runs the prerequisites and the statement on the bound driver.
func (t *TableBuilder) ExecContext(ctx context.Context) (Result, error) {
	for _, p := range t.Prerequisites() {
		if _, err := p.ExecContext(ctx); err != nil {
			return nil, err
		}
	}
	return t.exec(ctx, t)
}

// EnumTypeBuilder creates a Postgres enum type, ignoring an existing one.
type EnumTypeBuilder struct {
	conn
	name   string
	values []string
}

// CreateEnumType returns a builder for a Postgres CREATE TYPE ... AS ENUM.
func CreateEnumType(name string, values ...string) *EnumTypeBuilder {
	return &EnumTypeBuilder{name: name, values: values}
}

// Render implements Expr.
func (e *EnumTypeBuilder) Render(b *Builder) {
	if b.Dialect() != dialect.Postgres {
		b.Unsupported("CREATE TYPE")
		return
	}
	b.WriteString("DO $$ BEGIN CREATE TYPE ").Ident(e.name).WriteString(" AS ENUM (")
	for i, v := range e.values {
		if i > 0 {
			b.Comma()
		}
		b.Literal(v)
	}
	b.WriteString("); EXCEPTION WHEN duplicate_object THEN null; END $$;")
}

// Build renders the statement, appending its arguments to args.
func (e *EnumTypeBuilder) Build(args *[]any) (string, error) { return build(e.dialect, e, args) }

// Query returns the statement text and its arguments.
func (e *EnumTypeBuilder) Query() (string, []any, error) { return query(e.dialect, e) }

// ExecContext runs the statement on the bound driver.
func (e *EnumTypeBuilder) ExecContext(ctx context.Context) (Result, error) { return e.exec(ctx, e) }

// DropBuilder is a builder for the DROP TABLE statement.
type DropBuilder struct {
	conn
	name     string
	ifExists bool
}

// DropTable returns a builder for DROP TABLE.
func DropTable(name string) *DropBuilder { return &DropBuilder{name: name} }

// IfExists makes the statement a no-op when the table is missing.
func (d *DropBuilder) IfExists() *DropBuilder {
	d.ifExists = true
	return d
}

// Render implements Expr.
func (d *DropBuilder) Render(b *Builder) {
	b.WriteString("DROP TABLE ")
	if d.ifExists {
		b.WriteString("IF EXISTS ")
	}
	b.Ident(d.name)
}

// Build renders the statement, appending its arguments to args.
func (d *DropBuilder) Build(args *[]any) (string, error) { return build(d.dialect, d, args) }

// Query returns the statement text and its arguments.
func (d *DropBuilder) Query() (string, []any, error) { return query(d.dialect, d) }

// ExecContext runs the statement on the bound driver.
func (d *DropBuilder) ExecContext(ctx context.Context) (Result, error) { return d.exec(ctx, d) }

// TruncateBuilder is a builder for emptying a table.
type TruncateBuilder struct {
	conn
	name string
}

// Truncate returns a builder emptying the given table. SQLite has no
// TRUNCATE and renders an unconditional DELETE.
func Truncate(name string) *TruncateBuilder { return &TruncateBuilder{name: name} }

// Render implements Expr.
func (t *TruncateBuilder) Render(b *Builder) {
	if b.Dialect() == dialect.SQLite {
		b.WriteString("DELETE FROM ").Ident(t.name)
		return
	}
	b.WriteString("TRUNCATE TABLE ").Ident(t.name)
}

// Build renders the statement, appending its arguments to args.
func (t *TruncateBuilder) Build(args *[]any) (string, error) { return build(t.dialect, t, args) }

// Query returns the statement text and its arguments.
func (t *TruncateBuilder) Query() (string, []any, error) { return query(t.dialect, t) }

// ExecContext runs the statement on the bound driver.
func (t *TruncateBuilder) ExecContext(ctx context.Context) (Result, error) { return t.exec(ctx, t) }

type txOp uint8

const (
	txBegin txOp = iota
	txCommit
	txRollback
)

// TxStatement is a transaction control statement. Prefer Driver.Tx for
// transactions spanning several statements; these exist for scripts and
// migration files.
type TxStatement struct {
	conn
	op txOp
}

// Begin returns a START TRANSACTION statement.
func Begin() *TxStatement { return &TxStatement{op: txBegin} }

// Commit returns a COMMIT statement.
func Commit() *TxStatement { return &TxStatement{op: txCommit} }

// Rollback returns a ROLLBACK statement.
func Rollback() *TxStatement { return &TxStatement{op: txRollback} }

// Render implements Expr.
func (t *TxStatement) Render(b *Builder) {
	switch t.op {
	case txBegin:
		if b.Dialect() == dialect.SQLite {
			b.WriteString("BEGIN TRANSACTION")
		} else {
			b.WriteString("START TRANSACTION")
		}
	case txCommit:
		b.WriteString("COMMIT")
	case txRollback:
		b.WriteString("ROLLBACK")
	}
}

// Build renders the statement, appending its arguments to args.
func (t *TxStatement) Build(args *[]any) (string, error) { return build(t.dialect, t, args) }

// Query returns the statement text and its arguments.
func (t *TxStatement) Query() (string, []any, error) { return query(t.dialect, t) }

// ExecContext runs the statement on the bound driver.
func (t *TxStatement) ExecContext(ctx context.Context) (Result, error) { return t.exec(ctx, t) }
