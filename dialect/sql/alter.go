package sql

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/strata/dialect"
)

type alterKind uint8

const (
	alterAddColumn alterKind = iota
	alterModifyColumn
	alterDropColumn
	alterAddConstraint
	alterDropConstraint
	alterAddEnumValue
	alterResetAutoIncrement
)

type alterOp struct {
	kind       alterKind
	column     Column
	constraint Constraint
	value      string
}

// AlterTableBuilder is a builder for the ALTER TABLE statement. Several
// column and constraint changes render as one comma separated statement.
type AlterTableBuilder struct {
	conn
	name string
	ops  []alterOp
}

// AlterTable returns a builder for the ALTER TABLE statement.
//
//	AlterTable("users").
//		AddColumn(StringColumn("email", 255).Null()).
//		AddConstraint(Unique{Columns: []string{"email"}})
func AlterTable(name string) *AlterTableBuilder { return &AlterTableBuilder{name: name} }

// AddColumn adds a column.
func (a *AlterTableBuilder) AddColumn(c Column) *AlterTableBuilder {
	return a.op(alterOp{kind: alterAddColumn, column: c})
}

// ModifyColumn changes the definition of an existing column.
func (a *AlterTableBuilder) ModifyColumn(c Column) *AlterTableBuilder {
	return a.op(alterOp{kind: alterModifyColumn, column: c})
}

// DropColumn drops a column.
func (a *AlterTableBuilder) DropColumn(name string) *AlterTableBuilder {
	return a.op(alterOp{kind: alterDropColumn, column: Column{Name: name}})
}

// AddConstraint adds a named constraint.
func (a *AlterTableBuilder) AddConstraint(c Constraint) *AlterTableBuilder {
	return a.op(alterOp{kind: alterAddConstraint, constraint: c})
}

// DropConstraint drops a constraint by its derived name.
func (a *AlterTableBuilder) DropConstraint(c Constraint) *AlterTableBuilder {
	return a.op(alterOp{kind: alterDropConstraint, constraint: c})
}

// AddEnumValue extends the value set of an enum column. Postgres alters
// the backing type; MySQL redefines the column.
func (a *AlterTableBuilder) AddEnumValue(c Column, value string) *AlterTableBuilder {
	return a.op(alterOp{kind: alterAddEnumValue, column: c, value: value})
}

// ResetAutoIncrement restarts the id sequence of the table at 1.
func (a *AlterTableBuilder) ResetAutoIncrement() *AlterTableBuilder {
	return a.op(alterOp{kind: alterResetAutoIncrement})
}

func (a *AlterTableBuilder) op(op alterOp) *AlterTableBuilder {
	op.column = op.column.ofTable(a.name)
	a.ops = append(a.ops, op)
	return a
}

// Prerequisites returns the enum types that added Postgres enum columns need.
func (a *AlterTableBuilder) Prerequisites() []*EnumTypeBuilder {
	if a.dialect != dialect.Postgres {
		return nil
	}
	var pre []*EnumTypeBuilder
	for _, op := range a.ops {
		if op.kind == alterAddColumn && op.column.Type == TypeEnum {
			e := CreateEnumType(op.column.EnumTypeName(a.name), op.column.Enums...)
			e.conn = a.conn
			pre = append(pre, e)
		}
	}
	return pre
}

// standalone reports whether op renders as its own statement.
func standalone(d string, op alterOp) bool {
	switch op.kind {
	case alterResetAutoIncrement:
		return true
	case alterAddEnumValue:
		return d == dialect.Postgres
	}
	return false
}

// Render implements Expr.
func (a *AlterTableBuilder) Render(b *Builder) {
	switch {
	case len(a.ops) == 0:
		b.AddError(fmt.Errorf("dialect/sql: alter table %q: no changes", a.name))
		return
	case len(a.ops) > 1 && b.Dialect() == dialect.SQLite:
		b.Unsupported("multiple ALTER TABLE changes")
		return
	case len(a.ops) > 1 && slices.ContainsFunc(a.ops, func(op alterOp) bool { return standalone(b.Dialect(), op) }):
		b.AddError(fmt.Errorf("dialect/sql: alter table %q: sequence and enum type changes must be issued alone", a.name))
		return
	}
	if op := a.ops[0]; standalone(b.Dialect(), op) {
		a.renderStandalone(b, op)
		return
	}
	b.WriteString("ALTER TABLE ").Ident(a.name).WriteByte(' ')
	for i, op := range a.ops {
		if i > 0 {
			b.Comma()
		}
		a.renderOp(b, op)
	}
}

func (a *AlterTableBuilder) renderStandalone(b *Builder, op alterOp) {
	switch {
	case op.kind == alterAddEnumValue:
		b.WriteString("ALTER TYPE ").Ident(op.column.EnumTypeName(a.name)).WriteString(" ADD VALUE ").Literal(op.value)
	case b.Dialect() == dialect.MySQL:
		b.WriteString("ALTER TABLE ").Ident(a.name).WriteString(" AUTO_INCREMENT = 1")
	case b.Dialect() == dialect.Postgres:
		b.WriteString("ALTER SEQUENCE ").Ident(a.name+"_id_seq").WriteString(" RESTART WITH 1")
	default:
		b.Unsupported("RESET AUTO_INCREMENT")
	}
}

func (a *AlterTableBuilder) renderOp(b *Builder, op alterOp) {
	d := b.Dialect()
	switch op.kind {
	case alterAddColumn:
		b.WriteString("ADD COLUMN ")
		op.column.Render(b)
	case alterDropColumn:
		b.WriteString("DROP COLUMN ").Ident(op.column.Name)
	case alterModifyColumn:
		a.renderModify(b, op.column)
	case alterAddEnumValue:
		// MySQL and SQLite; Postgres is standalone.
		if d != dialect.MySQL {
			b.Unsupported("enum value addition")
			return
		}
		c := op.column
		if !slices.Contains(c.Enums, op.value) {
			c = c.WithEnums(append(slices.Clone(c.Enums), op.value)...)
		}
		a.renderModify(b, c)
	case alterAddConstraint:
		if d == dialect.SQLite {
			b.Unsupported("ADD CONSTRAINT")
			return
		}
		b.WriteString("ADD CONSTRAINT ").Ident(op.constraint.ConstraintName(a.name)).WriteByte(' ')
		op.constraint.Render(b)
	case alterDropConstraint:
		a.renderDropConstraint(b, op.constraint)
	}
}

func (a *AlterTableBuilder) renderModify(b *Builder, c Column) {
	switch b.Dialect() {
	case dialect.MySQL:
		b.WriteString("MODIFY COLUMN ")
		c.Render(b)
	case dialect.Postgres:
		b.WriteString("ALTER COLUMN ").Ident(c.Name).WriteString(" TYPE ")
		c.SQLType(b)
		b.WriteString(", ALTER COLUMN ").Ident(c.Name)
		if c.Nullable {
			b.WriteString(" DROP NOT NULL")
		} else {
			b.WriteString(" SET NOT NULL")
		}
		b.WriteString(", ALTER COLUMN ").Ident(c.Name)
		if c.Default != nil {
			b.WriteString(" SET DEFAULT ").Literal(c.Default)
		} else {
			b.WriteString(" DROP DEFAULT")
		}
	default:
		b.Unsupported("MODIFY COLUMN")
	}
}

func (a *AlterTableBuilder) renderDropConstraint(b *Builder, c Constraint) {
	name := c.ConstraintName(a.name)
	switch b.Dialect() {
	case dialect.MySQL:
		switch c.(type) {
		case PrimaryKey:
			b.WriteString("DROP PRIMARY KEY")
		case ForeignKey:
			b.WriteString("DROP FOREIGN KEY ").Ident(name)
		default:
			b.WriteString("DROP INDEX ").Ident(name)
		}
	case dialect.Postgres:
		b.WriteString("DROP CONSTRAINT ").Ident(name)
	default:
		b.Unsupported("DROP CONSTRAINT")
	}
}

// Build renders the statement, appending its arguments to args.
func (a *AlterTableBuilder) Build(args *[]any) (string, error) { return build(a.dialect, a, args) }

// Query returns the statement text and its arguments.
func (a *AlterTableBuilder) Query() (string, []any, error) { return query(a.dialect, a) }

// ExecContext runs the prerequisites and the statement on the bound driver.
func (a *AlterTableBuilder) ExecContext(ctx context.Context) (Result, error) {
	for _, p := range a.Prerequisites() {
		if _, err := p.ExecContext(ctx); err != nil {
			return nil, err
		}
	}
	return a.exec(ctx, a)
}
