package schema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ariga.io/atlas/sql/migrate"
	"go.uber.org/zap"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

// Migrate creates tables on a database, or writes their creation
// statements into a versioned migration directory.
type Migrate struct {
	drv         dialect.Driver
	ifNotExists bool
	dir         migrate.Dir
	fmt         migrate.Formatter
	log         *zap.Logger
}

// MigrateOption allows configuring Migrate using functional arguments.
type MigrateOption func(*Migrate)

// WithIfNotExists sets whether CREATE statements skip existing tables.
// Enabled by default.
func WithIfNotExists(b bool) MigrateOption {
	return func(m *Migrate) {
		m.ifNotExists = b
	}
}

// WithDir sets the migration directory Diff writes into.
func WithDir(dir migrate.Dir) MigrateOption {
	return func(m *Migrate) {
		m.dir = dir
	}
}

// WithFormatter sets the formatter of migration files. Defaults to
// migrate.DefaultFormatter.
func WithFormatter(f migrate.Formatter) MigrateOption {
	return func(m *Migrate) {
		m.fmt = f
	}
}

// WithLogger sets the logger of executed statements.
func WithLogger(l *zap.Logger) MigrateOption {
	return func(m *Migrate) {
		m.log = l
	}
}

// NewMigrate returns a new Migrate for the driver.
func NewMigrate(drv dialect.Driver, opts ...MigrateOption) (*Migrate, error) {
	m := &Migrate{drv: drv, ifNotExists: true}
	for _, opt := range opts {
		opt(m)
	}
	if !dialect.Valid(drv.Dialect()) {
		return nil, fmt.Errorf("sql/schema: unsupported dialect %q", drv.Dialect())
	}
	if m.fmt != nil && m.dir == nil {
		return nil, errors.New("sql/schema: WithFormatter requires WithDir")
	}
	if m.dir != nil && m.fmt == nil {
		m.fmt = migrate.DefaultFormatter
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m, nil
}

// Create validates the tables and creates them in dependency order inside
// a single transaction.
func (m *Migrate) Create(ctx context.Context, tables ...*Table) error {
	plan, err := m.plan(tables)
	if err != nil {
		return err
	}
	return sql.WithTx(ctx, m.drv, func(tx dialect.Tx) error {
		for _, q := range plan {
			cmd, args, err := q.Query()
			if err != nil {
				return err
			}
			m.log.Debug("migrate", zap.String("sql", cmd))
			if err := tx.Exec(ctx, cmd, args, nil); err != nil {
				return fmt.Errorf("sql/schema: %s: %w", cmd, err)
			}
		}
		m.log.Info("tables created", zap.Int("tables", len(tables)), zap.Int("statements", len(plan)))
		return nil
	})
}

// Diff writes the creation statements of the tables into the migration
// directory as a new version named "changes".
func (m *Migrate) Diff(ctx context.Context, tables ...*Table) error {
	return m.NamedDiff(ctx, "changes", tables...)
}

// NamedDiff writes the creation statements of the tables into the
// migration directory as a new version with the given name, and updates
// the directory checksum.
func (m *Migrate) NamedDiff(_ context.Context, name string, tables ...*Table) error {
	if m.dir == nil {
		return errors.New("sql/schema: no migration directory configured")
	}
	if err := migrate.Validate(m.dir); err != nil {
		return fmt.Errorf("sql/schema: validating migration directory: %w", err)
	}
	qs, err := m.plan(tables)
	if err != nil {
		return err
	}
	if len(qs) == 0 {
		return nil
	}
	plan := &migrate.Plan{
		Version:       time.Now().UTC().Format("20060102150405"),
		Name:          name,
		Transactional: true,
	}
	for _, q := range qs {
		cmd, args, err := q.Query()
		if err != nil {
			return err
		}
		if len(args) > 0 {
			return fmt.Errorf("sql/schema: statement %q has bound arguments", cmd)
		}
		plan.Changes = append(plan.Changes, &migrate.Change{Cmd: cmd, Comment: comment(q)})
	}
	files, err := m.fmt.Format(plan)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := m.dir.WriteFile(f.Name(), f.Bytes()); err != nil {
			return err
		}
		m.log.Info("migration file written", zap.String("file", f.Name()))
	}
	sum, err := m.dir.Checksum()
	if err != nil {
		return err
	}
	return migrate.WriteSumFile(m.dir, sum)
}

func (m *Migrate) plan(tables []*Table) ([]sql.Querier, error) {
	res := ValidateSchema(tables)
	for _, w := range res.Warnings {
		m.log.Warn("schema warning", zap.Error(w))
	}
	if res.HasErrors() {
		return nil, strata.NewConfigError("", errors.New(res.String()))
	}
	ps := make([]Persistable, len(tables))
	for i, t := range tables {
		ps[i] = t
	}
	return Plan(m.drv.Dialect(), m.ifNotExists, ps...)
}

func comment(q sql.Querier) string {
	switch q := q.(type) {
	case *sql.TableBuilder:
		return fmt.Sprintf("create %q table", q.Name())
	case *sql.EnumTypeBuilder:
		return "create enum type"
	default:
		return ""
	}
}
