package entity

import (
	"context"

	"github.com/pkg/errors"
)

// Entities hook into the handler operations by implementing the
// interfaces below on their pointer type. A hook error aborts the
// operation and is returned wrapped.

// BeforeSaver is called before the entity is inserted or updated, outside
// of the transaction of the operation.
type BeforeSaver interface {
	BeforeSave(ctx context.Context) error
}

// AfterSaver is called once the entity is stored. The row stays stored
// when AfterSave fails.
type AfterSaver interface {
	AfterSave(ctx context.Context) error
}

// AfterLoader is called for every entity returned by a query, after its
// relations are loaded.
type AfterLoader interface {
	AfterLoad(ctx context.Context) error
}

// AfterDeleter is called once the row of the entity is deleted, before
// its id is cleared.
type AfterDeleter interface {
	AfterDelete(ctx context.Context) error
}

func (h *Handler[T]) beforeSave(ctx context.Context, e *T) error {
	if hk, ok := any(e).(BeforeSaver); ok {
		if err := hk.BeforeSave(ctx); err != nil {
			return errors.Wrapf(err, "%s: before save", h.table.Name)
		}
	}
	return nil
}

func (h *Handler[T]) afterSave(ctx context.Context, e *T) error {
	if hk, ok := any(e).(AfterSaver); ok {
		if err := hk.AfterSave(ctx); err != nil {
			return errors.Wrapf(err, "%s: after save", h.table.Name)
		}
	}
	return nil
}

func (h *Handler[T]) afterLoad(ctx context.Context, es []*T) error {
	for _, e := range es {
		if hk, ok := any(e).(AfterLoader); ok {
			if err := hk.AfterLoad(ctx); err != nil {
				return errors.Wrapf(err, "%s: after load", h.table.Name)
			}
		}
	}
	return nil
}

func (h *Handler[T]) afterDelete(ctx context.Context, e *T) error {
	if hk, ok := any(e).(AfterDeleter); ok {
		if err := hk.AfterDelete(ctx); err != nil {
			return errors.Wrapf(err, "%s: after delete", h.table.Name)
		}
	}
	return nil
}
