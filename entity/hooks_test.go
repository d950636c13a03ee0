package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

type note struct {
	Base
	Body    string
	Slug    string
	calls   []string
	fail    string
	deleted int64
}

func (n *note) BeforeSave(context.Context) error {
	if n.Slug == "" {
		n.Slug = "untitled"
	}
	return n.record("before save")
}

func (n *note) AfterSave(context.Context) error { return n.record("after save") }

func (n *note) AfterLoad(context.Context) error {
	if n.Body == "corrupt" {
		return errors.New("corrupt body")
	}
	return n.record("after load")
}

func (n *note) AfterDelete(context.Context) error {
	n.deleted = n.GetID()
	return n.record("after delete")
}

func (n *note) record(name string) error {
	n.calls = append(n.calls, name)
	if n.fail == name {
		return errors.New(name + " failed")
	}
	return nil
}

var testNotes = Define[note]("Note",
	Field("body", func(n *note) *string { return &n.Body }),
	Field("slug", func(n *note) *string { return &n.Slug }),
)

func TestHooks_Save(t *testing.T) {
	ctx := context.Background()
	reg, mock := newRegistry(t, dialect.SQLite)
	notes := MustHandle(reg, testNotes)

	mock.ExpectQuery(`INSERT INTO "Note" ("body", "slug") VALUES (?, ?) RETURNING "id"`).
		WithArgs("hi", "untitled").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	n := &note{Body: "hi"}
	require.NoError(t, notes.Save(ctx, n))
	require.Equal(t, int64(3), n.GetID())
	require.Equal(t, []string{"before save", "after save"}, n.calls)

	// A failing BeforeSave stops the insert.
	n = &note{Body: "hi", fail: "before save"}
	err := notes.Save(ctx, n)
	require.ErrorContains(t, err, "Note: before save: before save failed")
	require.Nil(t, n.ID)
	require.Equal(t, []string{"before save"}, n.calls)

	// The row stays updated when AfterSave fails.
	mock.ExpectExec(`UPDATE "Note" SET "body" = ?, "slug" = ? WHERE "id" = ?`).
		WithArgs("bye", "s", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n = &note{Base: Base{ID: ptr[int64](3)}, Body: "bye", Slug: "s", fail: "after save"}
	err = notes.Save(ctx, n)
	require.ErrorContains(t, err, "Note: after save: after save failed")
	require.Equal(t, int64(3), n.GetID())

	mock.ExpectExec(`INSERT INTO "Note" ("id", "body", "slug") VALUES (?, ?, ?)`).
		WithArgs(9, "x", "untitled").
		WillReturnResult(sqlmock.NewResult(9, 1))
	n = &note{Base: Base{ID: ptr[int64](9)}, Body: "x"}
	require.NoError(t, notes.Insert(ctx, n))
	require.Equal(t, []string{"before save", "after save"}, n.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHooks_Load(t *testing.T) {
	ctx := context.Background()
	reg, mock := newRegistry(t, dialect.SQLite)
	notes := MustHandle(reg, testNotes)

	mock.ExpectQuery(`SELECT "id", "body", "slug" FROM "Note" ORDER BY "id" ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body", "slug"}).
			AddRow(1, "a", "a").
			AddRow(2, "b", "b"))
	ns, err := notes.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, ns, 2)
	for _, n := range ns {
		require.Equal(t, []string{"after load"}, n.calls)
	}

	mock.ExpectQuery(`SELECT "id", "body", "slug" FROM "Note" WHERE "id" = ? ORDER BY "id" ASC LIMIT 1`).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body", "slug"}).AddRow(4, "corrupt", "c"))
	_, err = notes.Find(ctx, 4)
	require.ErrorContains(t, err, "Note: after load: corrupt body")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHooks_Delete(t *testing.T) {
	ctx := context.Background()
	reg, mock := newRegistry(t, dialect.SQLite)
	notes := MustHandle(reg, testNotes)

	mock.ExpectExec(`DELETE FROM "Note" WHERE "id" = ?`).
		WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n := &note{Base: Base{ID: ptr[int64](5)}}
	require.NoError(t, notes.Delete(ctx, n))
	require.Equal(t, int64(5), n.deleted)
	require.Nil(t, n.ID)

	// AfterDelete does not run when no row was deleted.
	mock.ExpectExec(`DELETE FROM "Note" WHERE "id" = ?`).
		WithArgs(6).
		WillReturnResult(sqlmock.NewResult(0, 0))
	n = &note{Base: Base{ID: ptr[int64](6)}}
	require.True(t, strata.IsNotFound(notes.Delete(ctx, n)))
	require.Empty(t, n.calls)

	mock.ExpectExec(`DELETE FROM "Note" WHERE "id" = ?`).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n = &note{Base: Base{ID: ptr[int64](7)}, fail: "after delete"}
	require.ErrorContains(t, notes.Delete(ctx, n), "Note: after delete: after delete failed")
	require.Nil(t, n.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
