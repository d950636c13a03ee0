package sql

import (
	"context"
	"fmt"

	"github.com/syssam/strata/dialect"
)

// ProcedureBuilder is a builder for stored procedures. Postgres renders a
// plpgsql function; MySQL a procedure with IN and OUT parameters.
type ProcedureBuilder struct {
	conn
	name       string
	params     []Column
	returns    *Column
	trigger    bool
	statements []Expr
}

// CreateProcedure returns a builder for a stored procedure.
//
//	CreateProcedure("touch_user").
//		Param(IntColumn("uid")).
//		Body(Update("users").Set("updated_at", Now()).Where(ColumnsEQ("id", "uid")))
func CreateProcedure(name string) *ProcedureBuilder { return &ProcedureBuilder{name: name} }

// Name returns the procedure name.
func (p *ProcedureBuilder) Name() string { return p.name }

// Param appends input parameters.
func (p *ProcedureBuilder) Param(params ...Column) *ProcedureBuilder {
	p.params = append(p.params, params...)
	return p
}

// Returns declares the returned value. MySQL renders it as an OUT parameter.
func (p *ProcedureBuilder) Returns(c Column) *ProcedureBuilder {
	p.returns = &c
	p.trigger = false
	return p
}

// ReturnsTrigger marks the procedure as a trigger function.
func (p *ProcedureBuilder) ReturnsTrigger() *ProcedureBuilder {
	p.trigger = true
	p.returns = nil
	return p
}

// Body sets the statements of the procedure. Their values are inlined as
// literals since procedure bodies take no bound parameters.
func (p *ProcedureBuilder) Body(statements ...Expr) *ProcedureBuilder {
	p.statements = statements
	return p
}

// Render implements Expr.
func (p *ProcedureBuilder) Render(b *Builder) {
	switch b.Dialect() {
	case dialect.MySQL:
		b.WriteString("CREATE PROCEDURE ").Ident(p.name).WriteByte('(')
		for i, c := range p.params {
			if i > 0 {
				b.Comma()
			}
			b.WriteString("IN ").Ident(c.Name).WriteByte(' ')
			c.SQLType(b)
		}
		if p.returns != nil {
			if len(p.params) > 0 {
				b.Comma()
			}
			b.WriteString("OUT ").Ident(p.returns.Name).WriteByte(' ')
			p.returns.SQLType(b)
		}
		b.WriteString(") BEGIN ")
		p.renderBody(b)
		b.WriteString("END")
	case dialect.Postgres:
		b.WriteString("CREATE OR REPLACE FUNCTION ").Ident(p.name).WriteByte('(')
		if !p.trigger {
			for i, c := range p.params {
				if i > 0 {
					b.Comma()
				}
				b.Ident(c.Name).WriteByte(' ')
				c.SQLType(b)
			}
		}
		b.WriteByte(')')
		switch {
		case p.trigger:
			b.WriteString(" RETURNS TRIGGER")
		case p.returns != nil:
			b.WriteString(" RETURNS ")
			p.returns.SQLType(b)
		default:
			b.WriteString(" RETURNS VOID")
		}
		b.WriteString(" AS $$ BEGIN ")
		p.renderBody(b)
		if p.trigger {
			b.WriteString("RETURN NEW; ")
		}
		b.WriteString("END; $$ LANGUAGE plpgsql")
	default:
		b.Unsupported("CREATE PROCEDURE")
	}
}

func (p *ProcedureBuilder) renderBody(b *Builder) {
	b.Inline(func(b *Builder) {
		for _, s := range p.statements {
			s.Render(b)
			b.WriteString("; ")
		}
	})
}

// Build renders the statement, appending its arguments to args.
func (p *ProcedureBuilder) Build(args *[]any) (string, error) { return build(p.dialect, p, args) }

// Query returns the statement text and its arguments.
func (p *ProcedureBuilder) Query() (string, []any, error) { return query(p.dialect, p) }

// ExecContext runs the statement on the bound driver.
func (p *ProcedureBuilder) ExecContext(ctx context.Context) (Result, error) { return p.exec(ctx, p) }

// TriggerTable is a trigger argument standing for the name of the table
// that fired the trigger.
type TriggerTable struct{}

// Render implements Expr.
func (TriggerTable) Render(b *Builder) { b.Unsupported("TriggerTable outside of a trigger") }

// TriggerColumn is a trigger argument standing for a column of the row that
// fired the trigger: NEW.col, or OLD.col for DELETE triggers.
type TriggerColumn string

// Render implements Expr.
func (TriggerColumn) Render(b *Builder) { b.Unsupported("TriggerColumn outside of a trigger") }

// TriggerBuilder is a builder for the CREATE TRIGGER statement.
type TriggerBuilder struct {
	conn
	name        string
	time        string
	event       string
	table       string
	ifNotExists bool
	procedure   *ProcedureBuilder
	args        []any
}

// CreateTrigger returns a builder for a row-level trigger firing AFTER the
// event by default.
//
//	CreateTrigger("user_login").After().Update("users").Exec(proc, TriggerTable{}, TriggerColumn("id"))
func CreateTrigger(name string) *TriggerBuilder {
	return &TriggerBuilder{name: name, time: "AFTER"}
}

// Before fires the trigger before the event.
func (t *TriggerBuilder) Before() *TriggerBuilder {
	t.time = "BEFORE"
	return t
}

// After fires the trigger after the event.
func (t *TriggerBuilder) After() *TriggerBuilder {
	t.time = "AFTER"
	return t
}

// Insert fires the trigger on inserts into table.
func (t *TriggerBuilder) Insert(table string) *TriggerBuilder { return t.on("INSERT", table) }

// Update fires the trigger on updates of table.
func (t *TriggerBuilder) Update(table string) *TriggerBuilder { return t.on("UPDATE", table) }

// Delete fires the trigger on deletes from table.
func (t *TriggerBuilder) Delete(table string) *TriggerBuilder { return t.on("DELETE", table) }

func (t *TriggerBuilder) on(event, table string) *TriggerBuilder {
	t.event, t.table = event, table
	return t
}

// IfNotExists skips existing triggers on MySQL and replaces them on Postgres.
func (t *TriggerBuilder) IfNotExists() *TriggerBuilder {
	t.ifNotExists = true
	return t
}

// Exec sets the procedure called by the trigger. The arguments are passed
// by MySQL; Postgres trigger functions read NEW and OLD instead.
func (t *TriggerBuilder) Exec(p *ProcedureBuilder, args ...any) *TriggerBuilder {
	t.procedure, t.args = p, args
	return t
}

// Render implements Expr.
func (t *TriggerBuilder) Render(b *Builder) {
	if t.event == "" || t.procedure == nil {
		b.AddError(fmt.Errorf("dialect/sql: trigger %q needs an event and a procedure", t.name))
		return
	}
	switch b.Dialect() {
	case dialect.MySQL:
		b.WriteString("CREATE TRIGGER ")
		if t.ifNotExists {
			b.WriteString("IF NOT EXISTS ")
		}
		t.renderHead(b)
		b.WriteString("CALL ").Ident(t.procedure.name).WriteByte('(')
		for i, a := range t.args {
			if i > 0 {
				b.Comma()
			}
			t.renderArg(b, a)
		}
		b.WriteByte(')')
	case dialect.Postgres:
		b.WriteString("CREATE ")
		if t.ifNotExists {
			b.WriteString("OR REPLACE ")
		}
		b.WriteString("TRIGGER ")
		t.renderHead(b)
		b.WriteString("EXECUTE PROCEDURE ").Ident(t.procedure.name).WriteString("()")
	default:
		b.Unsupported("CREATE TRIGGER")
	}
}

func (t *TriggerBuilder) renderHead(b *Builder) {
	b.Ident(t.name).WriteByte(' ').WriteString(t.time).WriteByte(' ').WriteString(t.event)
	b.WriteString(" ON ").Ident(t.table).WriteString(" FOR EACH ROW ")
}

func (t *TriggerBuilder) renderArg(b *Builder, a any) {
	switch a := a.(type) {
	case TriggerTable:
		b.Literal(t.table)
	case TriggerColumn:
		row := "NEW."
		if t.event == "DELETE" {
			row = "OLD."
		}
		b.Ident(row + string(a))
	default:
		b.Literal(a)
	}
}

// Build renders the statement, appending its arguments to args.
func (t *TriggerBuilder) Build(args *[]any) (string, error) { return build(t.dialect, t, args) }

// Query returns the statement text and its arguments.
func (t *TriggerBuilder) Query() (string, []any, error) { return query(t.dialect, t) }

// ExecContext runs the statement on the bound driver.
func (t *TriggerBuilder) ExecContext(ctx context.Context) (Result, error) { return t.exec(ctx, t) }
