package sql

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

func userTable(d string) *TableBuilder {
	return Dialect(d).CreateTable("User").IfNotExists().
		Columns(
			SerialColumn("id"),
			StringColumn("name", 32),
			IntColumn("group_id").Null(),
		).
		PrimaryKey("id").
		ForeignKey("group_id", "Group", "id", SetNull)
}

func TestDDL(t *testing.T) {
	tests := []struct {
		input     Querier
		wantQuery string
	}{
		{
			input:     userTable(dialect.MySQL),
			wantQuery: "CREATE TABLE IF NOT EXISTS `User` (`id` INTEGER AUTO_INCREMENT NOT NULL, `name` VARCHAR(32) NOT NULL, `group_id` INTEGER DEFAULT NULL, CONSTRAINT `pk_User` PRIMARY KEY (`id`), CONSTRAINT `fk_User_Group_group_id` FOREIGN KEY (`group_id`) REFERENCES `Group` (`id`) ON DELETE SET NULL)",
		},
		{
			input:     userTable(dialect.Postgres),
			wantQuery: `CREATE TABLE IF NOT EXISTS "User" ("id" SERIAL NOT NULL, "name" VARCHAR(32) NOT NULL, "group_id" INTEGER DEFAULT NULL, CONSTRAINT "pk_User" PRIMARY KEY ("id"), CONSTRAINT "fk_User_Group_group_id" FOREIGN KEY ("group_id") REFERENCES "Group" ("id") ON DELETE SET NULL)`,
		},
		{
			input:     userTable(dialect.SQLite),
			wantQuery: `CREATE TABLE IF NOT EXISTS "User" ("id" INTEGER NOT NULL, "name" VARCHAR(32) NOT NULL, "group_id" INTEGER DEFAULT NULL, CONSTRAINT "pk_User" PRIMARY KEY ("id"), CONSTRAINT "fk_User_Group_group_id" FOREIGN KEY ("group_id") REFERENCES "Group" ("id") ON DELETE SET NULL)`,
		},
		{
			input: Dialect(dialect.Postgres).CreateTable("events").
				Columns(
					BigIntColumn("id"),
					BoolColumn("active").WithDefault(true),
					DateTimeColumn("created_at").WithDefault(Now()),
					DoubleColumn("score").WithDefault(0.5),
					JSONColumn("payload").Null(),
					EnumColumn("kind", "click", "view"),
				).
				PrimaryKey("id").
				Unique("kind", "created_at"),
			wantQuery: `CREATE TABLE "events" ("id" BIGINT NOT NULL, "active" BOOLEAN NOT NULL DEFAULT TRUE, "created_at" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, "score" DOUBLE PRECISION NOT NULL DEFAULT 0.5, "payload" JSON DEFAULT NULL, "kind" "events_kind_type" NOT NULL, CONSTRAINT "pk_events" PRIMARY KEY ("id"), CONSTRAINT "uq_events_kind_created_at" UNIQUE ("kind", "created_at"))`,
		},
		{
			input: Dialect(dialect.MySQL).CreateTable("events").
				Columns(
					BigIntColumn("id").Unsign(),
					JSONColumn("payload").WithDefault("{}"),
					EnumColumn("kind", "click", "view").WithDefault("view"),
					FloatColumn("ratio"),
				),
			wantQuery: "CREATE TABLE `events` (`id` BIGINT UNSIGNED NOT NULL, `payload` LONGTEXT NOT NULL, `kind` ENUM('click', 'view') NOT NULL DEFAULT 'view', `ratio` FLOAT NOT NULL)",
		},
		{
			input: Dialect(dialect.SQLite).CreateTable("events").
				Columns(EnumColumn("kind", "click", "view"), StringColumn("body", 0).Null()),
			wantQuery: `CREATE TABLE "events" ("kind" TEXT NOT NULL CHECK ("kind" IN ('click', 'view')), "body" TEXT DEFAULT NULL)`,
		},
		{
			input:     Dialect(dialect.Postgres).CreateEnumType("kind_type", "click", "view"),
			wantQuery: `DO $$ BEGIN CREATE TYPE "kind_type" AS ENUM ('click', 'view'); EXCEPTION WHEN duplicate_object THEN null; END $$;`,
		},
		{
			input:     Dialect(dialect.MySQL).AlterTable("users").AddColumn(StringColumn("email", 255).Null()).AddConstraint(Unique{Columns: []string{"email"}}),
			wantQuery: "ALTER TABLE `users` ADD COLUMN `email` VARCHAR(255) DEFAULT NULL, ADD CONSTRAINT `uq_users_email` UNIQUE (`email`)",
		},
		{
			input:     Dialect(dialect.Postgres).AlterTable("users").ModifyColumn(IntColumn("age").Null()),
			wantQuery: `ALTER TABLE "users" ALTER COLUMN "age" TYPE INTEGER, ALTER COLUMN "age" DROP NOT NULL, ALTER COLUMN "age" DROP DEFAULT`,
		},
		{
			input:     Dialect(dialect.Postgres).AlterTable("users").ModifyColumn(IntColumn("age").WithDefault(0)),
			wantQuery: `ALTER TABLE "users" ALTER COLUMN "age" TYPE INTEGER, ALTER COLUMN "age" SET NOT NULL, ALTER COLUMN "age" SET DEFAULT 0`,
		},
		{
			input:     Dialect(dialect.MySQL).AlterTable("users").ModifyColumn(IntColumn("age").Null()).DropColumn("nickname"),
			wantQuery: "ALTER TABLE `users` MODIFY COLUMN `age` INTEGER DEFAULT NULL, DROP COLUMN `nickname`",
		},
		{
			input:     Dialect(dialect.SQLite).AlterTable("users").DropColumn("age"),
			wantQuery: `ALTER TABLE "users" DROP COLUMN "age"`,
		},
		{
			input:     Dialect(dialect.MySQL).AlterTable("users").DropConstraint(PrimaryKey{Columns: []string{"id"}}),
			wantQuery: "ALTER TABLE `users` DROP PRIMARY KEY",
		},
		{
			input:     Dialect(dialect.MySQL).AlterTable("users").DropConstraint(ForeignKey{Column: "group_id", RefTable: "groups", RefColumn: "id"}),
			wantQuery: "ALTER TABLE `users` DROP FOREIGN KEY `fk_users_groups_group_id`",
		},
		{
			input:     Dialect(dialect.MySQL).AlterTable("users").DropConstraint(Unique{Columns: []string{"email"}}),
			wantQuery: "ALTER TABLE `users` DROP INDEX `uq_users_email`",
		},
		{
			input:     Dialect(dialect.Postgres).AlterTable("users").DropConstraint(PrimaryKey{Columns: []string{"id"}}),
			wantQuery: `ALTER TABLE "users" DROP CONSTRAINT "pk_users"`,
		},
		{
			input:     Dialect(dialect.Postgres).AlterTable("users").AddConstraint(ForeignKey{Column: "group_id", RefTable: "groups", RefColumn: "id", OnDelete: Cascade}),
			wantQuery: `ALTER TABLE "users" ADD CONSTRAINT "fk_users_groups_group_id" FOREIGN KEY ("group_id") REFERENCES "groups" ("id") ON DELETE CASCADE`,
		},
		{
			input:     Dialect(dialect.Postgres).AlterTable("users").AddEnumValue(EnumColumn("role", "admin", "user"), "owner"),
			wantQuery: `ALTER TYPE "users_role_type" ADD VALUE 'owner'`,
		},
		{
			input:     Dialect(dialect.MySQL).AlterTable("users").AddEnumValue(EnumColumn("role", "admin", "user"), "owner"),
			wantQuery: "ALTER TABLE `users` MODIFY COLUMN `role` ENUM('admin', 'user', 'owner') NOT NULL",
		},
		{
			input:     Dialect(dialect.MySQL).AlterTable("users").ResetAutoIncrement(),
			wantQuery: "ALTER TABLE `users` AUTO_INCREMENT = 1",
		},
		{
			input:     Dialect(dialect.Postgres).AlterTable("users").ResetAutoIncrement(),
			wantQuery: `ALTER SEQUENCE "users_id_seq" RESTART WITH 1`,
		},
		{
			input:     Dialect(dialect.Postgres).DropTable("users").IfExists(),
			wantQuery: `DROP TABLE IF EXISTS "users"`,
		},
		{
			input:     Dialect(dialect.MySQL).DropTable("users"),
			wantQuery: "DROP TABLE `users`",
		},
		{
			input:     Dialect(dialect.MySQL).Truncate("users"),
			wantQuery: "TRUNCATE TABLE `users`",
		},
		{
			input:     Dialect(dialect.SQLite).Truncate("users"),
			wantQuery: `DELETE FROM "users"`,
		},
		{input: Dialect(dialect.MySQL).Begin(), wantQuery: "START TRANSACTION"},
		{input: Dialect(dialect.Postgres).Begin(), wantQuery: "START TRANSACTION"},
		{input: Dialect(dialect.SQLite).Begin(), wantQuery: "BEGIN TRANSACTION"},
		{input: Dialect(dialect.SQLite).Commit(), wantQuery: "COMMIT"},
		{input: Dialect(dialect.MySQL).Rollback(), wantQuery: "ROLLBACK"},
	}
	for i, tt := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			query, args, err := tt.input.Query()
			require.NoError(t, err)
			require.Equal(t, tt.wantQuery, query)
			require.Empty(t, args)
		})
	}
}

func TestAlterErrors(t *testing.T) {
	_, _, err := Dialect(dialect.SQLite).AlterTable("users").AddColumn(IntColumn("a")).AddColumn(IntColumn("b")).Query()
	require.ErrorIs(t, err, strata.ErrUnsupported)

	_, _, err = Dialect(dialect.SQLite).AlterTable("users").AddConstraint(Unique{Columns: []string{"a"}}).Query()
	require.ErrorIs(t, err, strata.ErrUnsupported)

	_, _, err = Dialect(dialect.Postgres).AlterTable("users").ResetAutoIncrement().AddColumn(IntColumn("a")).Query()
	require.Error(t, err)

	_, _, err = Dialect(dialect.SQLite).AlterTable("users").ResetAutoIncrement().Query()
	require.ErrorIs(t, err, strata.ErrUnsupported)

	_, _, err = Dialect(dialect.MySQL).CreateTable("t").Columns(EnumColumn("kind")).Query()
	require.Error(t, err)
}

func TestPrerequisites(t *testing.T) {
	tbl := Dialect(dialect.Postgres).CreateTable("users").
		Columns(SerialColumn("id"), EnumColumn("role", "admin", "user"))
	pre := tbl.Prerequisites()
	require.Len(t, pre, 1)
	query, _, err := pre[0].Query()
	require.NoError(t, err)
	require.Equal(t, `DO $$ BEGIN CREATE TYPE "users_role_type" AS ENUM ('admin', 'user'); EXCEPTION WHEN duplicate_object THEN null; END $$;`, query)

	require.Empty(t, Dialect(dialect.MySQL).CreateTable("users").Columns(EnumColumn("role", "a")).Prerequisites())

	alter := Dialect(dialect.Postgres).AlterTable("users").AddColumn(EnumColumn("status", "on", "off"))
	require.Len(t, alter.Prerequisites(), 1)
	query, _, err = alter.Query()
	require.NoError(t, err)
	require.Equal(t, `ALTER TABLE "users" ADD COLUMN "status" "users_status_type" NOT NULL`, query)

	shared := Dialect(dialect.Postgres).CreateTable("orders").
		Columns(EnumColumn("status", "paid", "shipped").WithEnumType("status_type"))
	query, _, err = shared.Prerequisites()[0].Query()
	require.NoError(t, err)
	require.Equal(t, `DO $$ BEGIN CREATE TYPE "status_type" AS ENUM ('paid', 'shipped'); EXCEPTION WHEN duplicate_object THEN null; END $$;`, query)
	query, _, err = shared.Query()
	require.NoError(t, err)
	require.Equal(t, `CREATE TABLE "orders" ("status" "status_type" NOT NULL)`, query)
}

func TestRoutines(t *testing.T) {
	mysql := Dialect(dialect.MySQL)
	proc := mysql.CreateProcedure("touch").
		Param(StringColumn("tbl", 64), IntColumn("uid")).
		Body(Update("users").Set("logins", Add("logins", 1)).Where(ColumnsEQ("id", "uid")))
	query, args, err := proc.Query()
	require.NoError(t, err)
	require.Equal(t, "CREATE PROCEDURE `touch`(IN `tbl` VARCHAR(64), IN `uid` INTEGER) BEGIN UPDATE `users` SET `logins` = `logins` + 1 WHERE `id` = `uid`; END", query)
	require.Empty(t, args)

	query, args, err = mysql.CreateTrigger("users_login").After().Update("users").
		Exec(proc, TriggerTable{}, TriggerColumn("id")).
		Query()
	require.NoError(t, err)
	require.Equal(t, "CREATE TRIGGER `users_login` AFTER UPDATE ON `users` FOR EACH ROW CALL `touch`('users', `NEW`.`id`)", query)
	require.Empty(t, args)

	query, _, err = mysql.CreateTrigger("users_gone").IfNotExists().Delete("users").
		Exec(proc, TriggerTable{}, TriggerColumn("id")).
		Query()
	require.NoError(t, err)
	require.Equal(t, "CREATE TRIGGER IF NOT EXISTS `users_gone` AFTER DELETE ON `users` FOR EACH ROW CALL `touch`('users', `OLD`.`id`)", query)

	query, _, err = mysql.CreateProcedure("total").Param(IntColumn("uid")).Returns(BigIntColumn("n")).
		Body(Select().From(Table("users")).Where(EQ("status", "active"))).
		Query()
	require.NoError(t, err)
	require.Equal(t, "CREATE PROCEDURE `total`(IN `uid` INTEGER, OUT `n` BIGINT) BEGIN SELECT * FROM `users` WHERE `status` = 'active'; END", query)

	pg := Dialect(dialect.Postgres)
	fn := pg.CreateProcedure("touch").ReturnsTrigger().
		Body(Update("users").Set("updated_at", Now()).Where(EQ("id", 1)))
	query, args, err = fn.Query()
	require.NoError(t, err)
	require.Equal(t, `CREATE OR REPLACE FUNCTION "touch"() RETURNS TRIGGER AS $$ BEGIN UPDATE "users" SET "updated_at" = CURRENT_TIMESTAMP WHERE "id" = 1; RETURN NEW; END; $$ LANGUAGE plpgsql`, query)
	require.Empty(t, args)

	query, _, err = pg.CreateTrigger("users_touch").Before().Update("users").IfNotExists().Exec(fn).Query()
	require.NoError(t, err)
	require.Equal(t, `CREATE OR REPLACE TRIGGER "users_touch" BEFORE UPDATE ON "users" FOR EACH ROW EXECUTE PROCEDURE "touch"()`, query)

	query, _, err = pg.CreateProcedure("purge").Param(IntColumn("days")).
		Body(Delete("sessions").Where(LT("created_at", DateSub(Now(), "days", Day)))).
		Query()
	require.NoError(t, err)
	require.Equal(t, `CREATE OR REPLACE FUNCTION "purge"("days" INTEGER) RETURNS VOID AS $$ BEGIN DELETE FROM "sessions" WHERE "created_at" < (CURRENT_TIMESTAMP - "days" * INTERVAL '1 DAY'); END; $$ LANGUAGE plpgsql`, query)
}

func TestColumnText(t *testing.T) {
	c := Column{Name: "role", Type: TypeEnum, Enums: []string{"a", "b"}, Default: "a"}
	out, err := yaml.Marshal(c)
	require.NoError(t, err)
	var got Column
	require.NoError(t, yaml.Unmarshal(out, &got))
	assert.Equal(t, c, got)

	var s Strategy
	require.NoError(t, s.UnmarshalText([]byte("set null")))
	assert.Equal(t, SetNull, s)
	require.Error(t, s.UnmarshalText([]byte("explode")))

	_, err = ParseColumnType("decimal")
	require.Error(t, err)
	typ, err := ParseColumnType("JSON")
	require.NoError(t, err)
	assert.Equal(t, TypeJSON, typ)
	assert.Equal(t, "ColumnType(99)", ColumnType(99).String())
}
