package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

// ErrNoDriver is returned by the execution methods of builders that were
// created with Dialect instead of New.
var ErrNoDriver = errors.New("dialect/sql: builder is not bound to a driver")

// Expr is a node of the expression tree. Render writes its SQL form into
// the given Builder, binding values through Arg and identifiers through Ident.
type Expr interface {
	Render(b *Builder)
}

// ExprFunc adapts an ordinary function to the Expr interface.
type ExprFunc func(*Builder)

// Render calls f(b).
func (f ExprFunc) Render(b *Builder) { f(b) }

// Querier wraps the Query method implemented by every statement builder.
type Querier interface {
	// Query returns the statement text and its bound arguments.
	Query() (string, []any, error)
}

// Builder is the rendering context shared by all nodes of one statement.
// It accumulates the SQL text, appends bound values to the argument sink
// and collects the errors raised while rendering.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    *[]any
	errs    []error
	inline  bool
}

// NewBuilder returns a Builder rendering for the given dialect. Bound values
// are appended to args; Postgres placeholders continue its numbering.
func NewBuilder(dialect string, args *[]any) *Builder {
	if args == nil {
		args = new([]any)
	}
	return &Builder{dialect: dialect, args: args}
}

// Dialect returns the target dialect.
func (b *Builder) Dialect() string { return b.dialect }

// String returns the accumulated SQL text.
func (b *Builder) String() string { return b.sb.String() }

// Len returns the length of the accumulated SQL text.
func (b *Builder) Len() int { return b.sb.Len() }

// Err returns the errors collected while rendering, joined.
func (b *Builder) Err() error { return strata.NewAggregateError(b.errs...) }

// AddError records an error on the builder.
func (b *Builder) AddError(err error) *Builder {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Unsupported records a compile error for an expression that has no form
// in the target dialect.
func (b *Builder) Unsupported(expr string) *Builder {
	return b.AddError(strata.NewCompileError(b.dialect, expr))
}

// WriteString appends s to the builder.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteByte appends c to the builder.
func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Pad adds a space if the builder is not empty and does not already end
// with one.
func (b *Builder) Pad() *Builder {
	if s := b.sb.String(); s != "" && s[len(s)-1] != ' ' && s[len(s)-1] != '(' {
		b.sb.WriteByte(' ')
	}
	return b
}

// Comma writes a comma and a space.
func (b *Builder) Comma() *Builder { return b.WriteString(", ") }

// Nested wraps the output of fn in parentheses.
func (b *Builder) Nested(fn func(*Builder)) *Builder {
	b.sb.WriteByte('(')
	fn(b)
	b.sb.WriteByte(')')
	return b
}

// Join renders the given expressions back to back.
func (b *Builder) Join(exprs ...Expr) *Builder {
	for _, e := range exprs {
		if e != nil {
			e.Render(b)
		}
	}
	return b
}

// JoinComma renders the given expressions separated by commas.
func (b *Builder) JoinComma(exprs ...Expr) *Builder {
	for i, e := range exprs {
		if i > 0 {
			b.Comma()
		}
		e.Render(b)
	}
	return b
}

// Ident writes a quoted identifier.
func (b *Builder) Ident(name string) *Builder {
	b.sb.WriteString(b.Quote(name))
	return b
}

// IdentComma writes the quoted identifiers separated by commas.
func (b *Builder) IdentComma(names ...string) *Builder {
	for i, n := range names {
		if i > 0 {
			b.Comma()
		}
		b.Ident(n)
	}
	return b
}

// Quote quotes an identifier for the target dialect. Qualified names
// ("t.c") are quoted per part, "expr AS alias" per side, and "*",
// already quoted names and function calls are left untouched.
func (b *Builder) Quote(ident string) string {
	switch {
	case ident == "*", ident == "":
		return ident
	case isQuoted(ident), strings.ContainsAny(ident, "()"):
		return ident
	}
	if l, r, ok := splitAlias(ident); ok {
		return b.Quote(l) + " AS " + b.Quote(r)
	}
	if strings.Contains(ident, ".") {
		parts := strings.Split(ident, ".")
		for i := range parts {
			parts[i] = b.Quote(parts[i])
		}
		return strings.Join(parts, ".")
	}
	q := b.quoteChar()
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// Table writes a table reference. "schema.table" is quoted per part and
// "table alias" renders as an aliased table.
func (b *Builder) Table(name string) *Builder {
	if n, alias, ok := strings.Cut(strings.TrimSpace(name), " "); ok && !strings.ContainsAny(name, "()") {
		if l, r, ok := splitAlias(name); ok {
			n, alias = l, r
		}
		return b.Ident(n).WriteString(" AS ").Ident(strings.TrimSpace(alias))
	}
	return b.Ident(name)
}

func (b *Builder) quoteChar() string {
	if b.dialect == dialect.MySQL {
		return "`"
	}
	return `"`
}

// Arg binds v as a positional parameter and writes its placeholder.
// Expressions render themselves and subqueries are wrapped in parentheses.
func (b *Builder) Arg(v any) *Builder {
	switch v := v.(type) {
	case *Selector:
		return b.Nested(v.Render)
	case Expr:
		v.Render(b)
		return b
	}
	if b.inline {
		return b.Literal(v)
	}
	*b.args = append(*b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteByte('$')
		b.sb.WriteString(strconv.Itoa(len(*b.args)))
	} else {
		b.sb.WriteByte('?')
	}
	return b
}

// Inline renders fn with every bound value written as a literal. It is used
// for statements embedded in procedure bodies, which take no parameters.
func (b *Builder) Inline(fn func(*Builder)) *Builder {
	prev := b.inline
	b.inline = true
	fn(b)
	b.inline = prev
	return b
}

// Args binds the values separated by commas.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.Comma()
		}
		b.Arg(v)
	}
	return b
}

// Bind renders v either as a bound parameter or, when literal is set, as an
// inline SQL literal.
func (b *Builder) Bind(v any, literal bool) *Builder {
	if literal {
		return b.Literal(v)
	}
	return b.Arg(v)
}

// Literal writes v as an inline SQL literal, escaping strings for the
// target dialect. Values without a literal form raise a BindError.
func (b *Builder) Literal(v any) *Builder {
	switch v := v.(type) {
	case nil:
		b.sb.WriteString("NULL")
	case *Selector:
		b.Nested(v.Render)
	case Expr:
		v.Render(b)
	case bool:
		if v {
			b.sb.WriteString("TRUE")
		} else {
			b.sb.WriteString("FALSE")
		}
	case int:
		b.sb.WriteString(strconv.Itoa(v))
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		fmt.Fprint(&b.sb, v)
	case float32:
		b.sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	case float64:
		b.sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		b.sb.WriteString(b.QuoteString(v))
	case []byte:
		b.sb.WriteString(b.QuoteString(string(v)))
	case time.Time:
		b.sb.WriteString(b.QuoteString(v.Format(time.DateTime)))
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return b.AddError(strata.NewBindError("", v, err))
		}
		if _, ok := dv.(driver.Valuer); ok {
			return b.AddError(strata.NewBindError("", v, errors.New("recursive driver.Valuer")))
		}
		return b.Literal(dv)
	case fmt.Stringer:
		b.sb.WriteString(b.QuoteString(v.String()))
	default:
		if isNilValue(v) {
			b.sb.WriteString("NULL")
			return b
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			return b.Literal(rv.Elem().Interface())
		}
		b.AddError(strata.NewBindError("", v, errors.New("value has no literal form")))
	}
	return b
}

// QuoteString returns s as a quoted string literal for the target dialect.
func (b *Builder) QuoteString(s string) string {
	if b.dialect == dialect.MySQL {
		r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `"`, `\"`, "\x00", `\0`)
		return "'" + r.Replace(s) + "'"
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '`' && last == '`') || (first == '"' && last == '"')
}

// splitAlias splits "expr AS alias" (case-insensitive) into its two sides.
func splitAlias(s string) (string, string, bool) {
	i := strings.LastIndex(strings.ToLower(s), " as ")
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+4:]), true
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// build renders e for the dialect, appending bound values to args. On
// failure args is restored and no partial statement is returned.
func build(dialect string, e Expr, args *[]any) (string, error) {
	if args == nil {
		args = new([]any)
	}
	n := len(*args)
	b := NewBuilder(dialect, args)
	e.Render(b)
	if err := b.Err(); err != nil {
		*args = (*args)[:n]
		return "", err
	}
	return b.String(), nil
}

func query(dialect string, e Expr) (string, []any, error) {
	args := []any{}
	s, err := build(dialect, e, &args)
	if err != nil {
		return "", nil, err
	}
	return s, args, nil
}

// conn binds a statement builder to its dialect and optional driver.
type conn struct {
	dialect string
	drv     dialect.ExecQuerier
}

// Dialect returns the dialect the statement renders for.
func (c conn) Dialect() string { return c.dialect }

func (c conn) exec(ctx context.Context, e Expr) (Result, error) {
	if c.drv == nil {
		return nil, ErrNoDriver
	}
	q, args, err := query(c.dialect, e)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := c.drv.Exec(ctx, q, args, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c conn) query(ctx context.Context, e Expr) (*Rows, error) {
	if c.drv == nil {
		return nil, ErrNoDriver
	}
	q, args, err := query(c.dialect, e)
	if err != nil {
		return nil, err
	}
	rows := &Rows{}
	if err := c.drv.Query(ctx, q, args, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// DialectBuilder creates statement builders for one dialect, optionally
// bound to a driver so that they can be executed.
type DialectBuilder struct {
	conn
}

// Dialect creates a new DialectBuilder for the given dialect name.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{conn{dialect: name}}
}

// New returns a DialectBuilder bound to the driver. Builders it creates
// render for the driver dialect and execute on it.
func New(drv dialect.Driver) *DialectBuilder {
	return &DialectBuilder{conn{dialect: drv.Dialect(), drv: drv}}
}

// With returns a copy of the DialectBuilder executing on eq, usually a
// transaction started from the original driver.
func (d *DialectBuilder) With(eq dialect.ExecQuerier) *DialectBuilder {
	return &DialectBuilder{conn{dialect: d.dialect, drv: eq}}
}

// Driver returns the bound executor, or nil.
func (d *DialectBuilder) Driver() dialect.ExecQuerier { return d.drv }

// Select creates a Selector for the configured dialect.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	s := Select(columns...)
	s.conn = d.conn
	return s
}

// SelectExpr creates a Selector selecting the given expressions.
func (d *DialectBuilder) SelectExpr(exprs ...Expr) *Selector {
	s := SelectExpr(exprs...)
	s.conn = d.conn
	return s
}

// Insert creates an InsertBuilder for the configured dialect.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	i := Insert(table)
	i.conn = d.conn
	return i
}

// Update creates an UpdateBuilder for the configured dialect.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	u := Update(table)
	u.conn = d.conn
	return u
}

// Delete creates a DeleteBuilder for the configured dialect.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	del := Delete(table)
	del.conn = d.conn
	return del
}

// CreateTable creates a TableBuilder for the configured dialect.
func (d *DialectBuilder) CreateTable(name string) *TableBuilder {
	t := CreateTable(name)
	t.conn = d.conn
	return t
}

// AlterTable creates an AlterTableBuilder for the configured dialect.
func (d *DialectBuilder) AlterTable(name string) *AlterTableBuilder {
	a := AlterTable(name)
	a.conn = d.conn
	return a
}

// CreateEnumType creates an EnumTypeBuilder for the configured dialect.
func (d *DialectBuilder) CreateEnumType(name string, values ...string) *EnumTypeBuilder {
	e := CreateEnumType(name, values...)
	e.conn = d.conn
	return e
}

// DropTable creates a DropBuilder for the configured dialect.
func (d *DialectBuilder) DropTable(name string) *DropBuilder {
	dr := DropTable(name)
	dr.conn = d.conn
	return dr
}

// Truncate creates a TruncateBuilder for the configured dialect.
func (d *DialectBuilder) Truncate(name string) *TruncateBuilder {
	t := Truncate(name)
	t.conn = d.conn
	return t
}

// Begin creates a START TRANSACTION statement.
func (d *DialectBuilder) Begin() *TxStatement {
	return &TxStatement{conn: d.conn, op: txBegin}
}

// Commit creates a COMMIT statement.
func (d *DialectBuilder) Commit() *TxStatement {
	return &TxStatement{conn: d.conn, op: txCommit}
}

// Rollback creates a ROLLBACK statement.
func (d *DialectBuilder) Rollback() *TxStatement {
	return &TxStatement{conn: d.conn, op: txRollback}
}

// CreateTrigger creates a TriggerBuilder for the configured dialect.
func (d *DialectBuilder) CreateTrigger(name string) *TriggerBuilder {
	t := CreateTrigger(name)
	t.conn = d.conn
	return t
}

// CreateProcedure creates a ProcedureBuilder for the configured dialect.
func (d *DialectBuilder) CreateProcedure(name string) *ProcedureBuilder {
	p := CreateProcedure(name)
	p.conn = d.conn
	return p
}

// Exec renders and executes an arbitrary statement on the bound driver.
func (d *DialectBuilder) Exec(ctx context.Context, e Expr) (Result, error) {
	return d.exec(ctx, e)
}

// QueryContext renders and runs an arbitrary row-returning statement on
// the bound driver.
func (d *DialectBuilder) QueryContext(ctx context.Context, e Expr) (*Rows, error) {
	return d.query(ctx, e)
}

// Build renders an arbitrary expression for the configured dialect.
func (d *DialectBuilder) Build(e Expr, args *[]any) (string, error) {
	return build(d.dialect, e, args)
}
