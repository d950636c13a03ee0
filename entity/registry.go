package entity

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/schema"
)

// Registry derives and caches the handlers of entity schemas for one
// driver. It is safe for concurrent use.
type Registry struct {
	drv     dialect.Driver
	dialect string
	log     *zap.Logger

	mu       sync.RWMutex
	group    singleflight.Group
	handlers map[string]registered
}

type registered struct {
	schema  any
	handler any
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger of the registry and of the migrations it
// runs.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// NewRegistry returns a registry of handlers executing on drv.
func NewRegistry(drv dialect.Driver, opts ...Option) *Registry {
	r := &Registry{
		drv:      drv,
		dialect:  drv.Dialect(),
		handlers: make(map[string]registered),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// Driver returns the driver of the registry.
func (r *Registry) Driver() dialect.Driver { return r.drv }

// Handle returns the handler of s, deriving it on first use. Concurrent
// first uses derive the schema once. A schema claiming the table of
// another schema is a *strata.ConfigError.
func Handle[T any](r *Registry, s *Schema[T]) (*Handler[T], error) {
	if s == nil {
		return nil, strata.Configf("", "nil schema")
	}
	r.mu.RLock()
	e, ok := r.handlers[s.table]
	r.mu.RUnlock()
	if !ok {
		v, err, _ := r.group.Do(s.table, func() (any, error) {
			r.mu.RLock()
			e, ok := r.handlers[s.table]
			r.mu.RUnlock()
			if ok {
				return e, nil
			}
			h, err := derive(r, s)
			if err != nil {
				return nil, err
			}
			e = registered{schema: s, handler: h}
			r.mu.Lock()
			r.handlers[s.table] = e
			r.mu.Unlock()
			r.log.Debug("entity registered",
				zap.String("table", s.table),
				zap.Strings("columns", h.Columns()),
				zap.Int("relations", len(h.refs)+len(h.m2m)),
			)
			return e, nil
		})
		if err != nil {
			return nil, err
		}
		e = v.(registered)
	}
	if e.schema != any(s) {
		return nil, strata.Configf(s.table, "table %q is declared by more than one schema", s.table)
	}
	return e.handler.(*Handler[T]), nil
}

// MustHandle is like Handle but panics on error. It simplifies the
// initialization of package-level handlers.
func MustHandle[T any](r *Registry, s *Schema[T]) *Handler[T] {
	h, err := Handle(r, s)
	if err != nil {
		panic(err)
	}
	return h
}

// Declaration is implemented by every *Schema.
type Declaration interface {
	TableName() string
	persistable(*Registry) (persisted, error)
}

// persisted is the schema-level view of a handler.
type persisted interface {
	schema.Persistable
	Table() *schema.Table
	JoinTables() []*schema.Table
}

func (s *Schema[T]) persistable(r *Registry) (persisted, error) {
	h, err := Handle(r, s)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Register derives the handlers of the declarations.
func (r *Registry) Register(decls ...Declaration) error {
	_, err := r.collect(decls)
	return err
}

func (r *Registry) collect(decls []Declaration) ([]persisted, error) {
	ts := make([]persisted, 0, len(decls))
	for _, d := range decls {
		t, err := d.persistable(r)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return ts, nil
}

// Tables returns the tables of the declarations followed by their join
// tables. Join tables shared by both sides of a relation are returned once.
func (r *Registry) Tables(decls ...Declaration) ([]*schema.Table, error) {
	ts, err := r.collect(decls)
	if err != nil {
		return nil, err
	}
	tables := make([]*schema.Table, 0, len(ts))
	for _, t := range ts {
		tables = append(tables, t.Table())
	}
	seen := make(map[string]bool)
	for _, t := range ts {
		for _, jt := range t.JoinTables() {
			if !seen[jt.Name] {
				seen[jt.Name] = true
				tables = append(tables, jt)
			}
		}
	}
	return tables, nil
}

// CreateQueries returns the statements creating the tables of the
// declarations and their join tables for dialect d, in dependency order.
// A cyclic or missing dependency is a *strata.ConfigError wrapping a
// *schema.DependencyError. Tables failing ValidateSchema are reported as
// a *strata.ConfigError too.
func (r *Registry) CreateQueries(d string, decls ...Declaration) ([]sql.Querier, error) {
	tables, err := r.Tables(decls...)
	if err != nil {
		return nil, err
	}
	if res := schema.ValidateSchema(tables); res.HasErrors() {
		return nil, strata.NewConfigError("", errors.New(res.String()))
	}
	ps := make([]schema.Persistable, len(tables))
	for i, t := range tables {
		ps[i] = t
	}
	return schema.Plan(d, true, ps...)
}

// Migrate creates the tables of the declarations and their join tables
// on the registry driver, skipping existing ones.
func (r *Registry) Migrate(ctx context.Context, decls ...Declaration) error {
	tables, err := r.Tables(decls...)
	if err != nil {
		return err
	}
	m, err := r.Migrator()
	if err != nil {
		return err
	}
	return m.Create(ctx, tables...)
}

// Migrator returns a schema migrator on the registry driver, logging to
// the registry logger.
func (r *Registry) Migrator(opts ...schema.MigrateOption) (*schema.Migrate, error) {
	return schema.NewMigrate(r.drv, append([]schema.MigrateOption{schema.WithLogger(r.log)}, opts...)...)
}

// Snapshot writes a YAML snapshot of the tables of the declarations.
func (r *Registry) Snapshot(w io.Writer, decls ...Declaration) error {
	tables, err := r.Tables(decls...)
	if err != nil {
		return err
	}
	return schema.WriteSnapshot(w, r.dialect, tables...)
}

// CheckSnapshot compares a previous snapshot with the current tables of
// the declarations. Changes losing data are reported as a
// *strata.ConfigError unless allowed by opts; other findings are logged
// as warnings.
func (r *Registry) CheckSnapshot(prev *schema.Snapshot, decls []Declaration, opts ...schema.ValidateOption) error {
	tables, err := r.Tables(decls...)
	if err != nil {
		return err
	}
	res := schema.ValidateDiff(prev.Tables, tables, opts...)
	for _, w := range res.Warnings {
		r.log.Warn("schema change", zap.Error(w), zap.Bool("breaking", w.Breaking))
	}
	if res.HasErrors() {
		return strata.NewConfigError("", errors.New(res.String()))
	}
	return nil
}
