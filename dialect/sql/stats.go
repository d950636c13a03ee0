package sql

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql/sqlerr"
)

// StatementKind classifies statements by their leading keyword.
type StatementKind uint8

// Statement kinds.
const (
	OtherStatement StatementKind = iota
	SelectStatement
	InsertStatement
	UpdateStatement
	DeleteStatement
	SchemaStatement
	statementKinds
)

var statementKindNames = [statementKinds]string{
	OtherStatement:  "other",
	SelectStatement: "select",
	InsertStatement: "insert",
	UpdateStatement: "update",
	DeleteStatement: "delete",
	SchemaStatement: "schema",
}

// String returns the kind name.
func (k StatementKind) String() string {
	if k < statementKinds {
		return statementKindNames[k]
	}
	return fmt.Sprintf("StatementKind(%d)", uint8(k))
}

// KindOf returns the kind of a statement built by this package.
func KindOf(query string) StatementKind {
	word, _, _ := strings.Cut(strings.TrimLeft(query, " \t\r\n("), " ")
	switch strings.ToUpper(word) {
	case "SELECT", "WITH":
		return SelectStatement
	case "INSERT", "REPLACE":
		return InsertStatement
	case "UPDATE":
		return UpdateStatement
	case "DELETE":
		return DeleteStatement
	// Postgres enum types are created in DO blocks.
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "DO":
		return SchemaStatement
	default:
		return OtherStatement
	}
}

// QueryStats counts the statements run through a StatsDriver. It is safe
// for concurrent use.
type QueryStats struct {
	queries    atomic.Int64
	execs      atomic.Int64
	nanos      atomic.Int64
	slow       atomic.Int64
	errors     atomic.Int64
	violations atomic.Int64
	kinds      [statementKinds]atomic.Int64
}

func (s *QueryStats) observe(kind StatementKind, isQuery bool, d time.Duration, err error, slow bool) {
	if isQuery {
		s.queries.Add(1)
	} else {
		s.execs.Add(1)
	}
	s.kinds[kind].Add(1)
	s.nanos.Add(int64(d))
	if slow {
		s.slow.Add(1)
	}
	if err != nil {
		s.errors.Add(1)
		if sqlerr.IsConstraintError(err) {
			s.violations.Add(1)
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *QueryStats) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		TotalQueries:  s.queries.Load(),
		TotalExecs:    s.execs.Load(),
		TotalDuration: time.Duration(s.nanos.Load()),
		SlowQueries:   s.slow.Load(),
		Errors:        s.errors.Load(),
		Violations:    s.violations.Load(),
		ByKind:        make(map[StatementKind]int64),
	}
	for k := range s.kinds {
		if n := s.kinds[k].Load(); n > 0 {
			snap.ByKind[StatementKind(k)] = n
		}
	}
	return snap
}

// Reset sets every counter to zero.
func (s *QueryStats) Reset() {
	for _, c := range []*atomic.Int64{&s.queries, &s.execs, &s.nanos, &s.slow, &s.errors, &s.violations} {
		c.Store(0)
	}
	for k := range s.kinds {
		s.kinds[k].Store(0)
	}
}

// StatsSnapshot is a point-in-time copy of QueryStats.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
	// Violations counts the errors caused by constraint violations.
	Violations int64
	ByKind     map[StatementKind]int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a one-line summary of the snapshot.
func (s StatsSnapshot) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d violations=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors, s.Violations)
	for k := StatementKind(0); k < statementKinds; k++ {
		if n := s.ByKind[k]; n > 0 {
			fmt.Fprintf(&sb, " %s=%d", k, n)
		}
	}
	return sb.String()
}

// SlowQueryHook is called with every statement slower than the threshold
// of a StatsDriver.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver wraps a Driver and counts its statements, including those
// run in its transactions.
type StatsDriver struct {
	dialect.Driver
	stats     *QueryStats
	threshold atomic.Int64
	hook      SlowQueryHook
}

var _ dialect.Driver = (*StatsDriver)(nil)

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which statements count as
// slow. Defaults to 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold.Store(int64(d))
	}
}

// WithSlowQueryHook sets the hook called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.hook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level on the given logger.
func WithSlowQueryLog(log *zap.Logger) StatsOption {
	return WithSlowQueryHook(func(_ context.Context, query string, args []any, duration time.Duration) {
		log.Warn("slow query detected",
			zap.Duration("duration", duration),
			zap.Stringer("kind", KindOf(query)),
			zap.String("query", query),
			zap.Any("args", args),
		)
	})
}

// NewStatsDriver wraps drv with statement statistics.
//
//	stats := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(logger),
//	)
//	fmt.Println(stats.QueryStats().Stats())
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, stats: &QueryStats{}}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the counters of the driver.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the current slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	return time.Duration(d.threshold.Load())
}

// SetSlowThreshold updates the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.threshold.Store(int64(threshold))
}

// Query runs a query and counts it.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.measure(ctx, query, args, true, func() error {
		return d.Driver.Query(ctx, query, args, v)
	})
}

// Exec runs a statement and counts it.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.measure(ctx, query, args, false, func() error {
		return d.Driver.Exec(ctx, query, args, v)
	})
}

func (d *StatsDriver) measure(ctx context.Context, query string, args any, isQuery bool, run func() error) error {
	start := time.Now()
	err := run()
	elapsed := time.Since(start)
	slow := elapsed > d.SlowThreshold()
	d.stats.observe(KindOf(query), isQuery, elapsed, err, slow)
	if slow && d.hook != nil {
		argv, _ := args.([]any)
		d.hook(ctx, query, argv, elapsed)
	}
	return err
}

// Tx starts a transaction whose statements are counted by d.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, driver: d}, nil
}

// StatsTx is a transaction of a StatsDriver.
type StatsTx struct {
	dialect.Tx
	driver *StatsDriver
}

var _ dialect.Tx = (*StatsTx)(nil)

// Query runs a query in the transaction and counts it.
func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.driver.measure(ctx, query, args, true, func() error {
		return tx.Tx.Query(ctx, query, args, v)
	})
}

// Exec runs a statement in the transaction and counts it.
func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.driver.measure(ctx, query, args, false, func() error {
		return tx.Tx.Exec(ctx, query, args, v)
	})
}

// DebugDriver logs every statement at debug level under the "sql" field.
// Transactions are numbered, and statements run in one carry its number
// in the "tx" field.
type DebugDriver struct {
	dialect.Driver
	log *zap.Logger
	txs atomic.Uint64
}

var _ dialect.Driver = (*DebugDriver)(nil)

// NewDebugDriver wraps drv. A nil log discards everything.
//
//	drv, _ := sql.Open("postgres", dsn)
//	debug := sql.NewDebugDriver(drv, logger.Named("sql"))
func NewDebugDriver(drv dialect.Driver, log *zap.Logger) *DebugDriver {
	if log == nil {
		log = zap.NewNop()
	}
	return &DebugDriver{Driver: drv, log: log}
}

func logStatement(log *zap.Logger, msg, query string, args any) {
	if ce := log.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(zap.String("sql", query), zap.Stringer("kind", KindOf(query)), zap.Any("args", args))
	}
}

// Query logs and runs a query.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	logStatement(d.log, "query", query, args)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec logs and runs a statement.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	logStatement(d.log, "exec", query, args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx begins a numbered transaction.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	log := d.log.With(zap.Uint64("tx", d.txs.Add(1)))
	log.Debug("begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		log.Debug("begin transaction failed", zap.Error(err))
		return nil, err
	}
	return &DebugTx{Tx: tx, log: log}, nil
}

// DebugTx is a transaction of a DebugDriver.
type DebugTx struct {
	dialect.Tx
	log *zap.Logger
}

var _ dialect.Tx = (*DebugTx)(nil)

// Query logs and runs a query in the transaction.
func (tx *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	logStatement(tx.log, "tx query", query, args)
	return tx.Tx.Query(ctx, query, args, v)
}

// Exec logs and runs a statement in the transaction.
func (tx *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	logStatement(tx.log, "tx exec", query, args)
	return tx.Tx.Exec(ctx, query, args, v)
}

// Commit logs and commits the transaction.
func (tx *DebugTx) Commit() error {
	tx.log.Debug("commit transaction")
	return tx.Tx.Commit()
}

// Rollback logs and aborts the transaction.
func (tx *DebugTx) Rollback() error {
	tx.log.Debug("rollback transaction")
	return tx.Tx.Rollback()
}
