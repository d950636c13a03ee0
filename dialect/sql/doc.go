// Package sql compiles expression trees into dialect-specific SQL text and
// executes the resulting statements.
//
// Every statement is a tree of Expr nodes rendered into a Builder. The
// Builder quotes identifiers, binds values as positional parameters ("?" on
// MySQL and SQLite, "$n" on Postgres) and collects the errors raised by
// nodes that have no form in the target dialect.
//
// # Builders
//
//   - Selector: SELECT with joins, grouping, ordering, paging and locking
//   - InsertBuilder: multi-row INSERT with upsert strategies and RETURNING
//   - UpdateBuilder and DeleteBuilder
//   - TableBuilder, AlterTableBuilder, DropBuilder and TruncateBuilder
//   - TriggerBuilder and ProcedureBuilder
//   - TxStatement: BEGIN, COMMIT and ROLLBACK
//
// # Dialects
//
//	b := sql.Dialect(dialect.Postgres)
//	q, args, err := b.Select("id", "name").
//	    From(sql.Table("users")).
//	    Where(sql.EQ("name", "a8m")).
//	    Query()
//	// SELECT "id", "name" FROM "users" WHERE "name" = $1 [a8m]
//
// A builder created with New is bound to a driver and can run its
// statements directly:
//
//	drv, err := sql.Open("sqlite", "file:app.db?_pragma=foreign_keys(1)")
//	rows, err := sql.New(drv).Select().From(sql.Table("users")).QueryContext(ctx)
//
// # Predicates
//
//	sql.EQ("name", "john")            // "name" = ?
//	sql.EQ("deleted_at", nil)         // "deleted_at" IS NULL
//	sql.In("id", 1, 2, 3)             // "id" IN (?, ?, ?)
//	sql.In("id")                      // 1 = 0
//	sql.HasPrefix("email", "admin")   // "email" LIKE ?
//	sql.Or(sql.GT("age", 18), sql.IsNull("age"))
//
// # Upserts
//
//	sql.Insert("users").
//	    Columns("email", "name").
//	    Values("a@b.c", "a").
//	    OnConflict(sql.OnConflict("email").UpdateNewValues())
//
// MySQL renders ON DUPLICATE KEY UPDATE, Postgres and SQLite render
// ON CONFLICT ("email") DO UPDATE SET "name" = EXCLUDED."name".
package sql
