package config

import (
	stdsql "database/sql"
	"strings"

	"ariga.io/atlas/sql/migrate"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/schema"
)

// Open opens the configured database. The returned driver records query
// statistics when SlowThreshold is set and logs statements on log when
// Debug is set. A nil log discards the output.
//
// Open does not connect; the first statement does.
func (c *Config) Open(log *zap.Logger) (dialect.Driver, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := c.openDB()
	if err != nil {
		return nil, err
	}
	var drv dialect.Driver = sql.OpenDB(c.Dialect, db)
	if c.SlowThreshold > 0 {
		drv = sql.NewStatsDriver(drv,
			sql.WithSlowThreshold(c.SlowThreshold),
			sql.WithSlowQueryLog(log),
		)
	}
	if c.Debug {
		drv = sql.NewDebugDriver(drv, log.Named("sql"))
	}
	return drv, nil
}

func (c *Config) openDB() (*stdsql.DB, error) {
	switch c.Driver {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(c.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "config: mysql dsn")
		}
		// Time columns scan into time.Time.
		cfg.ParseTime = true
		conn, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "config: mysql connector")
		}
		return stdsql.OpenDB(conn), nil
	case DriverPostgres:
		dsn := c.DSN
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			opts, err := pq.ParseURL(dsn)
			if err != nil {
				return nil, errors.Wrap(err, "config: postgres dsn")
			}
			dsn = opts
		}
		conn, err := pq.NewConnector(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "config: postgres connector")
		}
		return stdsql.OpenDB(conn), nil
	case DriverPgx:
		cfg, err := pgx.ParseConfig(c.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "config: pgx dsn")
		}
		return stdlib.OpenDB(*cfg), nil
	case DriverSQLite:
		db, err := stdsql.Open(DriverSQLite, c.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "config: sqlite")
		}
		// An in-memory database lives as long as its connection.
		if strings.Contains(c.DSN, "mode=memory") {
			db.SetMaxOpenConns(1)
		}
		return db, nil
	default:
		return nil, errors.Errorf("config: unknown driver %q", c.Driver)
	}
}

// MigrateOptions returns the migrator options of the settings: the
// migration directory when one is configured, and the logger.
func (c *Config) MigrateOptions(log *zap.Logger) ([]schema.MigrateOption, error) {
	var opts []schema.MigrateOption
	if log != nil {
		opts = append(opts, schema.WithLogger(log))
	}
	if c.MigrationDir != "" {
		dir, err := migrate.NewLocalDir(c.MigrationDir)
		if err != nil {
			return nil, errors.Wrapf(err, "config: migration dir %s", c.MigrationDir)
		}
		opts = append(opts, schema.WithDir(dir))
	}
	return opts, nil
}
