package sql

import (
	"context"
	"strconv"
	"strings"

	"github.com/syssam/strata/dialect"
)

// TableView is a table-like source of a FROM or JOIN clause: a table or an
// aliased subquery.
type TableView interface {
	Expr
	view()
}

// SelectTable is a table reference with an optional alias.
type SelectTable struct {
	name string
	as   string
}

// Table returns a new table reference. "name alias" is accepted as a
// shorthand for Table(name).As(alias).
func Table(name string) *SelectTable {
	name = strings.TrimSpace(name)
	if l, r, ok := splitAlias(name); ok {
		return &SelectTable{name: l, as: r}
	}
	if n, alias, ok := strings.Cut(name, " "); ok {
		return &SelectTable{name: n, as: strings.TrimSpace(alias)}
	}
	return &SelectTable{name: name}
}

// As sets the alias of the table.
func (t *SelectTable) As(alias string) *SelectTable {
	t.as = alias
	return t
}

// Name returns the table name.
func (t *SelectTable) Name() string { return t.name }

// Alias returns the table alias, if any.
func (t *SelectTable) Alias() string { return t.as }

// C returns a qualified column name of the table.
func (t *SelectTable) C(column string) string {
	if t.as != "" {
		return t.as + "." + column
	}
	return t.name + "." + column
}

// Columns returns qualified names of the given columns.
func (t *SelectTable) Columns(columns ...string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = t.C(c)
	}
	return out
}

// Render implements Expr.
func (t *SelectTable) Render(b *Builder) {
	b.Ident(t.name)
	if t.as != "" {
		b.WriteString(" AS ").Ident(t.as)
	}
}

func (*SelectTable) view() {}

// JoinKind is the kind of a join clause.
type JoinKind string

// Join kinds.
const (
	InnerJoin JoinKind = "JOIN"
	LeftJoin  JoinKind = "LEFT JOIN"
)

type join struct {
	kind  JoinKind
	table TableView
	on    *Predicate
}

// Selector is a builder for the SELECT statement.
type Selector struct {
	conn
	as        string
	distinct  bool
	selection []Expr
	from      []TableView
	joins     []join
	where     *Predicate
	group     []string
	having    *Predicate
	order     []Expr
	limit     *int
	offset    *int
	forUpdate bool
}

// Select returns a new Selector for the given columns. With no columns
// the statement selects "*".
//
//	t := sql.Table("users")
//	sql.Select(t.C("id"), t.C("name")).From(t).Where(sql.EQ(t.C("name"), "a8m"))
func Select(columns ...string) *Selector {
	return (&Selector{}).Select(columns...)
}

// SelectExpr returns a new Selector for the given expressions.
func SelectExpr(exprs ...Expr) *Selector {
	return (&Selector{}).SelectExpr(exprs...)
}

// Select replaces the selected columns.
func (s *Selector) Select(columns ...string) *Selector {
	s.selection = nil
	return s.AppendSelect(columns...)
}

// SelectExpr replaces the selection with the given expressions.
func (s *Selector) SelectExpr(exprs ...Expr) *Selector {
	s.selection = nil
	return s.AppendSelectExpr(exprs...)
}

// AppendSelect appends columns to the selection.
func (s *Selector) AppendSelect(columns ...string) *Selector {
	for _, c := range columns {
		s.selection = append(s.selection, C(c))
	}
	return s
}

// AppendSelectAs appends a column selected under an alias.
func (s *Selector) AppendSelectAs(column, alias string) *Selector {
	s.selection = append(s.selection, As(C(column), alias))
	return s
}

// AppendSelectExpr appends expressions to the selection.
func (s *Selector) AppendSelectExpr(exprs ...Expr) *Selector {
	s.selection = append(s.selection, exprs...)
	return s
}

// SelectedColumns reports how many expressions are selected.
func (s *Selector) SelectedColumns() int { return len(s.selection) }

// Distinct adds the DISTINCT keyword.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// From sets the source of the selection.
func (s *Selector) From(t TableView) *Selector {
	s.from = []TableView{t}
	return s
}

// AppendFrom adds another source to the FROM clause.
func (s *Selector) AppendFrom(t TableView) *Selector {
	s.from = append(s.from, t)
	return s
}

// Table returns the first FROM table, if it is a plain table.
func (s *Selector) Table() *SelectTable {
	if len(s.from) == 0 {
		return nil
	}
	t, _ := s.from[0].(*SelectTable)
	return t
}

// Join appends an INNER JOIN clause. Complete it with On or OnP.
func (s *Selector) Join(t TableView) *Selector {
	return s.join(InnerJoin, t)
}

// LeftJoin appends a LEFT JOIN clause.
func (s *Selector) LeftJoin(t TableView) *Selector {
	return s.join(LeftJoin, t)
}

// JoinKind appends a join clause of the given kind.
func (s *Selector) JoinKind(kind JoinKind, t TableView) *Selector {
	return s.join(kind, t)
}

func (s *Selector) join(kind JoinKind, t TableView) *Selector {
	s.joins = append(s.joins, join{kind: kind, table: t})
	return s
}

// On sets the equality condition of the last join.
func (s *Selector) On(c1, c2 string) *Selector {
	return s.OnP(ColumnsEQ(c1, c2))
}

// OnP sets the predicate of the last join, combining with AND when called
// again.
func (s *Selector) OnP(p *Predicate) *Selector {
	if len(s.joins) == 0 {
		return s
	}
	j := &s.joins[len(s.joins)-1]
	j.on = And(j.on, p)
	return s
}

// Where appends a predicate to the WHERE clause. Multiple calls are joined
// with AND.
func (s *Selector) Where(p *Predicate) *Selector {
	if p == nil {
		return s
	}
	s.where = And(s.where, p)
	return s
}

// P returns the current WHERE predicate.
func (s *Selector) P() *Predicate { return s.where }

// GroupBy sets the GROUP BY columns.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.group = append(s.group, columns...)
	return s
}

// Having appends a predicate to the HAVING clause.
func (s *Selector) Having(p *Predicate) *Selector {
	s.having = And(s.having, p)
	return s
}

// OrderBy appends columns to the ORDER BY clause in ascending order.
func (s *Selector) OrderBy(columns ...string) *Selector {
	for _, c := range columns {
		s.order = append(s.order, C(c))
	}
	return s
}

// OrderExpr appends ordering expressions such as Desc("created_at").
func (s *Selector) OrderExpr(exprs ...Expr) *Selector {
	s.order = append(s.order, exprs...)
	return s
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// ForUpdate locks the selected rows.
func (s *Selector) ForUpdate() *Selector {
	s.forUpdate = true
	return s
}

// As gives the selector an alias, used when it is a FROM or JOIN source.
func (s *Selector) As(alias string) *Selector {
	s.as = alias
	return s
}

// C returns a column of the aliased subquery.
func (s *Selector) C(column string) string {
	if s.as != "" {
		return s.as + "." + column
	}
	return column
}

func (*Selector) view() {}

// Clone returns a shallow copy of the selector with its own clause slices.
func (s *Selector) Clone() *Selector {
	c := *s
	c.selection = append([]Expr(nil), s.selection...)
	c.from = append([]TableView(nil), s.from...)
	c.joins = append([]join(nil), s.joins...)
	c.group = append([]string(nil), s.group...)
	c.order = append([]Expr(nil), s.order...)
	return &c
}

// CountSelector returns a copy of the selector selecting COUNT(*) without
// ordering or paging.
func (s *Selector) CountSelector() *Selector {
	c := s.Clone()
	c.selection = []Expr{Count()}
	c.order, c.limit, c.offset = nil, nil, nil
	return c
}

// Render implements Expr.
func (s *Selector) Render(b *Builder) {
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.selection) == 0 {
		b.WriteByte('*')
	} else {
		b.JoinComma(s.selection...)
	}
	if len(s.from) > 0 {
		b.WriteString(" FROM ")
		for i, t := range s.from {
			if i > 0 {
				b.Comma()
			}
			renderView(b, t)
		}
	}
	for _, j := range s.joins {
		b.WriteByte(' ').WriteString(string(j.kind)).WriteByte(' ')
		renderView(b, j.table)
		if j.on != nil {
			b.WriteString(" ON ")
			j.on.Render(b)
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.Render(b)
	}
	if len(s.group) > 0 {
		b.WriteString(" GROUP BY ").IdentComma(s.group...)
	}
	if s.having != nil {
		b.WriteString(" HAVING ")
		s.having.Render(b)
	}
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY ").JoinComma(s.order...)
	}
	s.renderPaging(b)
	if s.forUpdate {
		if b.Dialect() == dialect.SQLite {
			b.Unsupported("FOR UPDATE")
		} else {
			b.WriteString(" FOR UPDATE")
		}
	}
}

func (s *Selector) renderPaging(b *Builder) {
	switch {
	case s.limit != nil:
		b.WriteString(" LIMIT ").WriteString(strconv.Itoa(*s.limit))
	case s.offset != nil && b.Dialect() == dialect.MySQL:
		// MySQL has no OFFSET without LIMIT.
		b.WriteString(" LIMIT 18446744073709551615")
	case s.offset != nil && b.Dialect() == dialect.SQLite:
		b.WriteString(" LIMIT -1")
	}
	if s.offset != nil {
		b.WriteString(" OFFSET ").WriteString(strconv.Itoa(*s.offset))
	}
}

func renderView(b *Builder, t TableView) {
	if s, ok := t.(*Selector); ok {
		b.Nested(s.Render)
		if s.as != "" {
			b.WriteString(" AS ").Ident(s.as)
		}
		return
	}
	t.Render(b)
}

// Build renders the statement, appending its arguments to args.
func (s *Selector) Build(args *[]any) (string, error) { return build(s.dialect, s, args) }

// Query returns the statement text and its arguments.
func (s *Selector) Query() (string, []any, error) { return query(s.dialect, s) }

// QueryContext runs the statement on the bound driver.
func (s *Selector) QueryContext(ctx context.Context) (*Rows, error) { return s.conn.query(ctx, s) }
