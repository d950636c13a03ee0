package entity

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

// Find returns the entity with the given id. Relations are loaded as
// stubs carrying only their id. It returns a *strata.NotFoundError when no
// row matches.
func (h *Handler[T]) Find(ctx context.Context, id int64) (*T, error) {
	es, err := h.Query().Where(sql.EQ("id", id)).Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, strata.NewNotFoundErrorWithID(h.table.Name, id)
	}
	return es[0], nil
}

// FindAll returns the entities matching all predicates, ordered by id.
func (h *Handler[T]) FindAll(ctx context.Context, preds ...*sql.Predicate) ([]*T, error) {
	return h.Query().Where(preds...).All(ctx)
}

// Count returns the number of entities matching all predicates.
func (h *Handler[T]) Count(ctx context.Context, preds ...*sql.Predicate) (int, error) {
	return h.Query().Where(preds...).Count(ctx)
}

// Exists reports whether an entity with the given id exists.
func (h *Handler[T]) Exists(ctx context.Context, id int64) (bool, error) {
	return h.Query().Where(sql.EQ("id", id)).Exist(ctx)
}

// Save inserts e when it has no id, and assigns the generated one.
// Otherwise it updates the row with the id of e. Many-to-many relations
// are then synchronized with the join tables, in the same transaction
// when the handler is not already bound to one. The id of e is left
// unchanged when Save fails.
func (h *Handler[T]) Save(ctx context.Context, e *T) error {
	if err := h.beforeSave(ctx, e); err != nil {
		return err
	}
	b := h.schema.base(e)
	prev := b.ID
	var err error
	if b.ID == nil {
		err = h.mutate(ctx, e, h.m2m, func(h *Handler[T]) error { return h.insert(ctx, e, false) })
	} else {
		err = h.mutate(ctx, e, h.m2m, func(h *Handler[T]) error { return h.update(ctx, e, h.columns) })
	}
	if err != nil {
		b.ID = prev
		return err
	}
	return h.afterSave(ctx, e)
}

// Insert inserts e. Unlike Save, an id already set on e is inserted
// as is instead of updating the existing row. On Postgres the id sequence
// of the table is then moved past that id, so later inserts without an id
// do not collide with it.
func (h *Handler[T]) Insert(ctx context.Context, e *T) error {
	if err := h.beforeSave(ctx, e); err != nil {
		return err
	}
	b := h.schema.base(e)
	prev := b.ID
	err := h.mutate(ctx, e, h.m2m, func(h *Handler[T]) error { return h.insert(ctx, e, b.ID != nil) })
	if err != nil {
		b.ID = prev
		return err
	}
	return h.afterSave(ctx, e)
}

// SaveOnly updates the columns of the named properties of e and leaves
// the rest of its row unchanged. Named many-to-many properties are
// synchronized with their join tables. Changes made by BeforeSave to
// other properties are not stored. It returns strata.ErrMissingID when e
// was never saved.
func (h *Handler[T]) SaveOnly(ctx context.Context, e *T, props ...string) error {
	if h.schema.base(e).ID == nil {
		return errors.Wrapf(strata.ErrMissingID, "save %s", h.table.Name)
	}
	for _, p := range props {
		known := slices.ContainsFunc(h.columns, func(c *column[T]) bool { return c.prop == p }) ||
			slices.ContainsFunc(h.m2m, func(m *m2mSpec[T]) bool { return m.Property == p })
		if !known {
			return fmt.Errorf("entity: %s has no property %q", h.table.Name, p)
		}
	}
	var cols []*column[T]
	for _, c := range h.columns {
		if slices.Contains(props, c.prop) {
			cols = append(cols, c)
		}
	}
	var links []*m2mSpec[T]
	for _, m := range h.m2m {
		if slices.Contains(props, m.Property) {
			links = append(links, m)
		}
	}
	if err := h.beforeSave(ctx, e); err != nil {
		return err
	}
	if err := h.mutate(ctx, e, links, func(h *Handler[T]) error { return h.update(ctx, e, cols) }); err != nil {
		return err
	}
	return h.afterSave(ctx, e)
}

// Delete deletes the row of e and clears its id. Rows of the join tables
// are removed by their cascading foreign keys. It returns
// strata.ErrMissingID when e was never saved, and a *strata.NotFoundError
// when no row was deleted.
func (h *Handler[T]) Delete(ctx context.Context, e *T) error {
	b := h.schema.base(e)
	if b.ID == nil {
		return errors.Wrapf(strata.ErrMissingID, "delete %s", h.table.Name)
	}
	res, err := h.builder().Delete(h.table.Name).Where(sql.EQ("id", *b.ID)).ExecContext(ctx)
	if err != nil {
		return h.queryError("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return strata.NewNotFoundErrorWithID(h.table.Name, *b.ID)
	}
	err = h.afterDelete(ctx, e)
	b.ID = nil
	return err
}

// mutate runs fn and synchronizes the given many-to-many relations of e.
func (h *Handler[T]) mutate(ctx context.Context, e *T, links []*m2mSpec[T], fn func(*Handler[T]) error) error {
	run := func(h *Handler[T]) error {
		if err := fn(h); err != nil {
			return err
		}
		for _, m := range links {
			if err := h.syncLinks(ctx, m, e); err != nil {
				return err
			}
		}
		return nil
	}
	drv, ok := h.eq.(dialect.Driver)
	if len(links) == 0 || !ok {
		return run(h)
	}
	return sql.WithTx(ctx, drv, func(tx dialect.Tx) error {
		return run(h.With(tx))
	})
}

func (h *Handler[T]) insert(ctx context.Context, e *T, withID bool) error {
	vals, err := h.values(e, h.columns)
	if err != nil {
		return err
	}
	b := h.schema.base(e)
	ins := h.builder().Insert(h.table.Name)
	if withID {
		ins.Set("id", *b.ID)
	}
	for i, c := range h.columns {
		ins.Set(c.Name, vals[i])
	}
	if len(h.columns) == 0 && !withID {
		ins.Default()
	}
	switch {
	case withID:
		if _, err := ins.ExecContext(ctx); err != nil {
			return h.queryError("insert", err)
		}
		if h.reg.dialect == dialect.Postgres {
			return h.advanceSequence(ctx, *b.ID)
		}
		return nil
	case h.reg.dialect == dialect.MySQL:
		res, err := ins.ExecContext(ctx)
		if err != nil {
			return h.queryError("insert", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return h.queryError("insert", errors.Wrap(err, "last insert id"))
		}
		b.ID = &id
	default:
		rows, err := ins.Returning("id").QueryContext(ctx)
		if err != nil {
			return h.queryError("insert", err)
		}
		id, err := sql.ScanInt64(rows)
		if err != nil {
			return h.queryError("insert", errors.Wrap(err, "returning id"))
		}
		b.ID = &id
	}
	return nil
}

// advanceSequence sets the Postgres id sequence to at least id. Sequences
// never move backwards, so ids handed out meanwhile stay unique.
func (h *Handler[T]) advanceSequence(ctx context.Context, id int64) error {
	_, err := h.builder().Exec(ctx, sql.ExprFunc(func(b *sql.Builder) {
		seq := func(b *sql.Builder) {
			b.WriteString("pg_get_serial_sequence(").Literal(b.Quote(h.table.Name)).WriteString(", 'id')")
		}
		b.WriteString("SELECT setval(")
		seq(b)
		b.WriteString(", GREATEST(nextval(")
		seq(b)
		b.WriteString(") - 1, ").Arg(id).WriteString("))")
	}))
	if err != nil {
		return h.queryError("insert", errors.Wrap(err, "advance id sequence"))
	}
	return nil
}

// update sets the given columns of the row of e.
func (h *Handler[T]) update(ctx context.Context, e *T, cols []*column[T]) error {
	if len(cols) == 0 {
		return nil
	}
	vals, err := h.values(e, cols)
	if err != nil {
		return err
	}
	id := *h.schema.base(e).ID
	upd := h.builder().Update(h.table.Name).Where(sql.EQ("id", id))
	for i, c := range cols {
		upd.Set(c.Name, vals[i])
	}
	res, err := upd.ExecContext(ctx)
	if err != nil {
		return h.queryError("update", err)
	}
	// MySQL counts changed rows, not matched ones.
	if h.reg.dialect == dialect.MySQL {
		return nil
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return strata.NewNotFoundErrorWithID(h.table.Name, id)
	}
	return nil
}

// syncLinks makes the join table rows of e match the entities held by the
// many-to-many property: rows of entities no longer held are deleted, and
// rows of the held ones inserted unless present.
func (h *Handler[T]) syncLinks(ctx context.Context, m *m2mSpec[T], e *T) error {
	ids, err := m.ids(e)
	if err != nil {
		return strata.NewBindError(m.otherCol, nil, err)
	}
	self := *h.schema.base(e).ID
	b := h.builder()
	del := b.Delete(m.table.Name).Where(sql.EQ(m.selfCol, self))
	if len(ids) > 0 {
		del.Where(sql.NotIn(m.otherCol, sql.Values(ids)...))
	}
	if _, err := del.ExecContext(ctx); err != nil {
		return h.queryError("unlink", errors.Wrapf(err, "%s", m.table.Name))
	}
	if len(ids) == 0 {
		return nil
	}
	ins := b.Insert(m.table.Name).
		Columns(m.selfCol, m.otherCol).
		OnConflict(sql.OnConflict(m.selfCol, m.otherCol).DoNothing())
	for _, id := range ids {
		ins.Values(self, id)
	}
	if _, err := ins.ExecContext(ctx); err != nil {
		return h.queryError("link", errors.Wrapf(err, "%s", m.table.Name))
	}
	return nil
}
