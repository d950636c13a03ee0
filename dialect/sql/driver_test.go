package sql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

func newMock(t *testing.T, d string) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return OpenDB(d, db), mock
}

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
	}{
		{"Postgres", dialect.Postgres},
		{"MySQL", dialect.MySQL},
		{"SQLite", dialect.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, _ := newMock(t, tt.dialect)
			assert.NotNil(t, drv)
			assert.Equal(t, tt.dialect, drv.Dialect())
		})
	}
}

func TestDialectOf(t *testing.T) {
	tests := map[string]string{
		"pgx":      dialect.Postgres,
		"postgres": dialect.Postgres,
		"sqlite":   dialect.SQLite,
		"sqlite3":  dialect.SQLite,
		"mysql":    dialect.MySQL,
		"MySQL":    dialect.MySQL,
		"oracle":   "oracle",
	}
	for name, want := range tests {
		assert.Equal(t, want, DialectOf(name), name)
	}
}

func TestDriverQuery(t *testing.T) {
	drv, mock := newMock(t, dialect.Postgres)

	t.Run("simple_query", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
				AddRow(1, "Alice").
				AddRow(2, "Bob"))
		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT id, name FROM users", []any{}, rows)
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_with_args", func(t *testing.T) {
		mock.ExpectQuery("SELECT name FROM users WHERE id = $1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))
		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT name FROM users WHERE id = $1", []any{1}, rows)
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))
		err := drv.Query(context.Background(), "SELECT", []any{}, &Rows{})
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_types", func(t *testing.T) {
		err := drv.Query(context.Background(), "SELECT 1", []any{}, new(int))
		require.Error(t, err)
		err = drv.Query(context.Background(), "SELECT 1", 1, &Rows{})
		require.Error(t, err)
	})
}

func TestDriverExec(t *testing.T) {
	drv, mock := newMock(t, dialect.Postgres)

	t.Run("exec_with_args", func(t *testing.T) {
		mock.ExpectExec("UPDATE users SET name = $1 WHERE id = $2").
			WithArgs("Alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		var res Result
		err := drv.Exec(context.Background(), "UPDATE users SET name = $1 WHERE id = $2", []any{"Alice", 1}, &res)
		require.NoError(t, err)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec_error", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("constraint violation"))
		err := drv.Exec(context.Background(), "DELETE FROM users", []any{}, nil)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriverTransaction(t *testing.T) {
	drv, mock := newMock(t, dialect.Postgres)

	t.Run("successful_commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users DEFAULT VALUES").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), "INSERT INTO users DEFAULT VALUES", []any{}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users DEFAULT VALUES").WillReturnError(errors.New("error"))
		mock.ExpectRollback()
		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), "INSERT INTO users DEFAULT VALUES", []any{}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLite)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "users"`).WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()
		err := WithTx(ctx, drv, func(tx dialect.Tx) error {
			_, err := New(drv).With(tx).Delete("users").ExecContext(ctx)
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLite)
		mock.ExpectBegin()
		mock.ExpectRollback()
		boom := errors.New("boom")
		err := WithTx(ctx, drv, func(dialect.Tx) error { return boom })
		require.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback_failure", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLite)
		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(errors.New("connection lost"))
		boom := errors.New("boom")
		err := WithTx(ctx, drv, func(dialect.Tx) error { return boom })
		require.ErrorIs(t, err, boom)
		var rerr *strata.RollbackError
		require.ErrorAs(t, err, &rerr)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBuilderExecution(t *testing.T) {
	ctx := context.Background()
	drv, mock := newMock(t, dialect.MySQL)
	b := New(drv)

	mock.ExpectExec("UPDATE `users` SET `name` = ? WHERE `id` = ?").
		WithArgs("a8m", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := b.Update("users").Set("name", "a8m").Where(EQ("id", 1)).ExecContext(ctx)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	mock.ExpectQuery("SELECT COUNT(*) FROM `users`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	rows, err := b.SelectExpr(Count()).From(Table("users")).QueryContext(ctx)
	require.NoError(t, err)
	count, err := ScanInt64(rows)
	require.NoError(t, err)
	assert.EqualValues(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = Dialect(dialect.MySQL).Delete("users").ExecContext(ctx)
	require.ErrorIs(t, err, ErrNoDriver)

	_, err = b.Insert("users").Columns("name").Values("a").Returning("id").QueryContext(ctx)
	require.True(t, strata.IsCompileError(err))
}

func TestScanMaps(t *testing.T) {
	drv, mock := newMock(t, dialect.Postgres)
	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "Alice").
			AddRow(2, nil))
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT id, name FROM users", []any{}, rows))
	got, err := ScanMaps(rows)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0]["id"])
	assert.Equal(t, "Alice", got[0]["name"])
	assert.Nil(t, got[1]["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanInt64Empty(t *testing.T) {
	drv, mock := newMock(t, dialect.Postgres)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT 1", []any{}, rows))
	_, err := ScanInt64(rows)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDriver(t *testing.T) {
	ctx := context.Background()
	drv, mock := newMock(t, dialect.Postgres)
	core, logs := observer.New(zapcore.WarnLevel)
	stats := NewStatsDriver(drv, WithSlowThreshold(-1), WithSlowQueryLog(zap.New(core)))

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("locked"))
	mock.ExpectExec("INSERT INTO users (name) VALUES ($1)").WithArgs("a8m").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rows := &Rows{}
	require.NoError(t, stats.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.Error(t, stats.Exec(ctx, "DELETE FROM users", []any{}, nil))
	require.Error(t, stats.Exec(ctx, "INSERT INTO users (name) VALUES ($1)", []any{"a8m"}, nil))
	tx, err := stats.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "DELETE FROM users", []any{}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	s := stats.QueryStats().Stats()
	assert.EqualValues(t, 1, s.TotalQueries)
	assert.EqualValues(t, 3, s.TotalExecs)
	assert.EqualValues(t, 2, s.Errors)
	assert.EqualValues(t, 1, s.Violations)
	assert.EqualValues(t, 4, s.SlowQueries)
	assert.Equal(t, map[StatementKind]int64{
		SelectStatement: 1,
		InsertStatement: 1,
		DeleteStatement: 2,
	}, s.ByKind)
	assert.Equal(t, 4, logs.FilterMessage("slow query detected").Len())
	assert.Contains(t, s.String(), "queries=1 execs=3")
	assert.Contains(t, s.String(), "violations=1")
	assert.True(t, strings.HasSuffix(s.String(), " select=1 insert=1 delete=2"))

	stats.SetSlowThreshold(time.Hour)
	assert.Equal(t, time.Hour, stats.SlowThreshold())
	stats.QueryStats().Reset()
	assert.Zero(t, stats.QueryStats().Stats().TotalQueries)
	assert.Zero(t, StatsSnapshot{}.AvgQueryDuration())
	assert.Empty(t, stats.QueryStats().Stats().ByKind)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		query string
		want  StatementKind
	}{
		{"SELECT * FROM users", SelectStatement},
		{"WITH t AS (SELECT 1) SELECT * FROM t", SelectStatement},
		{"(SELECT 1) UNION (SELECT 2)", SelectStatement},
		{"insert into users (name) values (?)", InsertStatement},
		{"UPDATE users SET name = ?", UpdateStatement},
		{"DELETE FROM users", DeleteStatement},
		{"CREATE TABLE IF NOT EXISTS users (id INTEGER)", SchemaStatement},
		{"DO $$ BEGIN CREATE TYPE role AS ENUM ('a'); END $$", SchemaStatement},
		{"  DROP TABLE users", SchemaStatement},
		{"PRAGMA foreign_keys = ON", OtherStatement},
		{"", OtherStatement},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.query), tt.query)
	}
	assert.Equal(t, "schema", SchemaStatement.String())
	assert.Equal(t, "StatementKind(9)", StatementKind(9).String())
}

func TestDebugDriver(t *testing.T) {
	ctx := context.Background()
	drv, mock := newMock(t, dialect.SQLite)
	core, logs := observer.New(zapcore.DebugLevel)
	debug := NewDebugDriver(drv, zap.New(core))

	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, debug.Exec(ctx, "DELETE FROM users", []any{}, nil))
	tx, err := debug.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "exec", entries[0].Message)
	assert.Equal(t, "DELETE FROM users", entries[0].ContextMap()["sql"])
	assert.Equal(t, "delete", entries[0].ContextMap()["kind"])
	assert.Equal(t, "begin transaction", entries[1].Message)
	assert.Equal(t, "rollback transaction", entries[2].Message)
	assert.EqualValues(t, 1, entries[2].ContextMap()["tx"])
}

func BenchmarkDriver(b *testing.B) {
	db, mock, err := sqlmock.New()
	if err != nil {
		b.Fatal(err)
	}
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	b.Run("Query_Simple", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
			rows := &Rows{}
			_ = drv.Query(context.Background(), "SELECT 1", []any{}, rows)
			rows.Close()
		}
	})

	b.Run("Exec_Simple", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
			_ = drv.Exec(context.Background(), "INSERT INTO t VALUES (1)", []any{}, nil)
		}
	})
}
