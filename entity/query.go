package entity

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
)

// Query is a builder of entity queries.
//
//	users, err := Users.Query().
//		Where(sql.HasPrefix("name", "a")).
//		Desc("id").
//		Limit(10).
//		WithRelations().
//		All(ctx)
type Query[T any] struct {
	h         *Handler[T]
	preds     []*sql.Predicate
	order     []orderTerm
	limit     *int
	offset    *int
	only      []string
	relations bool
}

type orderTerm struct {
	column string
	desc   bool
}

// Query returns a new query over the entities of the handler.
func (h *Handler[T]) Query() *Query[T] {
	return &Query[T]{h: h}
}

// Where adds predicates on the entity columns, joined with AND.
func (q *Query[T]) Where(preds ...*sql.Predicate) *Query[T] {
	for _, p := range preds {
		if p != nil {
			q.preds = append(q.preds, p)
		}
	}
	return q
}

// OrderBy orders the results by the given columns, ascending. Results are
// ordered by id when no order is given. Columns must belong to the entity
// table; All and First fail otherwise.
func (q *Query[T]) OrderBy(columns ...string) *Query[T] {
	for _, c := range columns {
		q.order = append(q.order, orderTerm{column: c})
	}
	return q
}

// Desc orders the results by the given columns, descending.
func (q *Query[T]) Desc(columns ...string) *Query[T] {
	for _, c := range columns {
		q.order = append(q.order, orderTerm{column: c, desc: true})
	}
	return q
}

// Limit limits the number of returned entities.
func (q *Query[T]) Limit(n int) *Query[T] {
	q.limit = &n
	return q
}

// Offset skips the first n entities.
func (q *Query[T]) Offset(n int) *Query[T] {
	q.offset = &n
	return q
}

// Only restricts the loaded properties to the named ones. Other
// properties keep their zero value.
func (q *Query[T]) Only(props ...string) *Query[T] {
	q.only = append(q.only, props...)
	return q
}

// WithRelations loads referenced entities with joins, and the entities of
// many-to-many relations with a second query, instead of stubs carrying
// only their id. Relations of the loaded entities are not followed.
func (q *Query[T]) WithRelations() *Query[T] {
	q.relations = true
	return q
}

// First returns the first entity of the query, or a *strata.NotFoundError.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	c := *q
	c.Limit(1)
	es, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, strata.NewNotFoundError(q.h.table.Name)
	}
	return es[0], nil
}

// Count returns the number of matching entities. Limit and offset are
// ignored.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	rows, err := q.base([]string{"id"}).CountSelector().QueryContext(ctx)
	if err != nil {
		return 0, q.h.queryError("count", err)
	}
	n, err := sql.ScanInt64(rows)
	if err != nil {
		return 0, q.h.queryError("count", err)
	}
	return int(n), nil
}

// Exist reports whether the query matches any entity.
func (q *Query[T]) Exist(ctx context.Context) (bool, error) {
	rows, err := q.base([]string{"id"}).Limit(1).QueryContext(ctx)
	if err != nil {
		return false, q.h.queryError("exist", err)
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, q.h.queryError("exist", err)
	}
	return found, nil
}

// All returns the matching entities.
func (q *Query[T]) All(ctx context.Context) ([]*T, error) {
	cols, err := q.columns()
	if err != nil {
		return nil, err
	}
	if err := q.checkOrder(); err != nil {
		return nil, err
	}
	s := q.base(q.h.columnNames(cols))
	q.paging(s)
	var joins []*joinSpec[T]
	if q.relations {
		if s, joins, err = q.join(s, cols); err != nil {
			return nil, err
		}
	} else {
		q.orderBy(s, "")
	}
	rows, err := s.QueryContext(ctx)
	if err != nil {
		return nil, q.h.queryError("query", err)
	}
	n := len(cols) + 1
	width := n
	for _, j := range joins {
		width += len(j.columns)
	}
	var es []*T
	err = scanEach(rows, width, func(vals []any) error {
		e := new(T)
		if err := q.h.assign(e, cols, vals[:n]); err != nil {
			return err
		}
		off := n
		for _, j := range joins {
			if err := j.assign(e, vals[off:off+len(j.columns)]); err != nil {
				return err
			}
			off += len(j.columns)
		}
		es = append(es, e)
		return nil
	})
	if err != nil {
		return nil, q.h.queryError("query", err)
	}
	if len(es) == 0 {
		return es, nil
	}
	for _, m := range q.h.m2m {
		if q.includes(m.Property) {
			if err := q.loadLinks(ctx, m, es); err != nil {
				return nil, err
			}
		}
	}
	if err := q.h.afterLoad(ctx, es); err != nil {
		return nil, err
	}
	return es, nil
}

func (q *Query[T]) base(columns []string) *sql.Selector {
	s := q.h.builder().Select(columns...).From(sql.Table(q.h.table.Name))
	for _, p := range q.preds {
		s.Where(p)
	}
	return s
}

func (q *Query[T]) paging(s *sql.Selector) {
	if q.limit != nil {
		s.Limit(*q.limit)
	}
	if q.offset != nil {
		s.Offset(*q.offset)
	}
}

func (q *Query[T]) orderBy(s *sql.Selector, alias string) {
	order := q.order
	if len(order) == 0 {
		order = []orderTerm{{column: "id"}}
	}
	for _, o := range order {
		c := o.column
		if alias != "" {
			c = alias + "." + c
		}
		if o.desc {
			s.OrderExpr(sql.Desc(c))
		} else {
			s.OrderExpr(sql.Asc(c))
		}
	}
}

// join wraps the filtered and paged selection of the entity in a subquery
// aliased t0, and joins the referenced tables on it as t1..tn. Columns of
// a referenced table are selected as <property>_<column>.
func (q *Query[T]) join(s *sql.Selector, cols []*column[T]) (*sql.Selector, []*joinSpec[T], error) {
	q.orderBy(s, "")
	t0 := s.As("t0")
	outer := q.h.builder().Select().From(t0)
	for _, c := range q.h.columnNames(cols) {
		outer.AppendSelect(t0.C(c))
	}
	var joins []*joinSpec[T]
	for _, r := range q.h.refs {
		if !slices.ContainsFunc(cols, func(c *column[T]) bool { return c.Name == r.Column }) {
			continue
		}
		j, err := r.join(q.h.reg)
		if err != nil {
			return nil, nil, err
		}
		t := sql.Table(j.table).As(fmt.Sprintf("t%d", len(joins)+1))
		if r.Optional {
			outer.LeftJoin(t)
		} else {
			outer.Join(t)
		}
		outer.On(t0.C(r.Column), t.C("id"))
		prefix := columnName(r.Property) + "_"
		for _, c := range j.columns {
			outer.AppendSelectAs(t.C(c), prefix+c)
		}
		joins = append(joins, j)
	}
	q.orderBy(outer, "t0")
	return outer, joins, nil
}

func (q *Query[T]) columns() ([]*column[T], error) {
	if q.only == nil {
		return q.h.columns, nil
	}
	for _, p := range q.only {
		known := slices.ContainsFunc(q.h.columns, func(c *column[T]) bool { return c.prop == p }) ||
			slices.ContainsFunc(q.h.m2m, func(m *m2mSpec[T]) bool { return m.Property == p })
		if !known {
			return nil, fmt.Errorf("entity: %s has no property %q", q.h.table.Name, p)
		}
	}
	var cols []*column[T]
	for _, c := range q.h.columns {
		if q.includes(c.prop) {
			cols = append(cols, c)
		}
	}
	return cols, nil
}

func (q *Query[T]) checkOrder() error {
	for _, o := range q.order {
		known := o.column == "id" ||
			slices.ContainsFunc(q.h.columns, func(c *column[T]) bool { return c.Name == o.column })
		if !known {
			return fmt.Errorf("entity: %s has no column %q to order by", q.h.table.Name, o.column)
		}
	}
	return nil
}

func (q *Query[T]) includes(prop string) bool {
	return q.only == nil || slices.Contains(q.only, prop)
}

// loadLinks reads the join table rows of the entities and sets the
// many-to-many property of each.
func (q *Query[T]) loadLinks(ctx context.Context, m *m2mSpec[T], es []*T) error {
	ids := make([]any, len(es))
	for i, e := range es {
		ids[i] = *q.h.schema.base(e).ID
	}
	rows, err := q.h.builder().
		Select(m.selfCol, m.otherCol).
		From(sql.Table(m.table.Name)).
		Where(sql.In(m.selfCol, ids...)).
		OrderBy(m.otherCol).
		QueryContext(ctx)
	if err != nil {
		return q.h.queryError("query", err)
	}
	links := make(map[int64][]int64, len(es))
	err = scanEach(rows, 2, func(vals []any) error {
		self, err := asInt64(vals[0])
		if err != nil {
			return strata.NewBindError(m.selfCol, vals[0], err)
		}
		other, err := asInt64(vals[1])
		if err != nil {
			return strata.NewBindError(m.otherCol, vals[1], err)
		}
		links[self] = append(links[self], other)
		return nil
	})
	if err != nil {
		return q.h.queryError("query", err)
	}
	if q.relations {
		return m.fill(&loadContext{ctx: ctx, reg: q.h.reg, eq: q.h.eq}, es, links)
	}
	for _, e := range es {
		m.set(e, links[*q.h.schema.base(e).ID])
	}
	return nil
}
