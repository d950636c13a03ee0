// Package dialect defines the database backends strata compiles for and
// the driver contract statements are executed through.
//
// The supported dialects are identified by their names:
//
//	dialect.MySQL    = "mysql"
//	dialect.Postgres = "postgres"
//	dialect.SQLite   = "sqlite"
//
// A Driver executes statements and opens transactions. Exec scans its
// result into a *sql.Result and Query into a *sql.Rows of the dialect/sql
// package:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//		return err
//	}
//	defer drv.Close()
//	var res sql.Result
//	err = drv.Exec(ctx, `DELETE FROM "User" WHERE "id" = $1`, []any{1}, &res)
//
// Builders, the schema migrator and entity handlers accept any Driver, so
// wrappers such as the stats and debug drivers of dialect/sql compose
// freely.
package dialect
