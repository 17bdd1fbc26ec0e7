package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/strata/dialect"
)

type traceOp uint8

const (
	traceQuery traceOp = iota
	traceExec
	traceBegin
	traceCommit
	traceRollback
	tracePrepare
	traceCommitPrepared
	traceRollbackPrepared
)

// trace describes one completed driver call.
type trace struct {
	op    traceOp
	inTx  bool
	query string // statement text, or the xid of a prepared transaction
	args  any
	took  time.Duration
	err   error
}

type tracer interface {
	observe(context.Context, *trace)
}

// traced runs the statements of a Driver through a tracer. Its
// transactions report to the same tracer.
type traced struct {
	*Driver
	tr tracer
}

func (d traced) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.tr.observe(ctx, &trace{op: traceQuery, query: query, args: args, took: time.Since(start), err: err})
	return err
}

func (d traced) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.tr.observe(ctx, &trace{op: traceExec, query: query, args: args, took: time.Since(start), err: err})
	return err
}

func (d traced) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	d.tr.observe(ctx, &trace{op: traceBegin, err: err})
	if err != nil {
		return nil, err
	}
	return &tracedTx{Tx: tx, tr: d.tr}, nil
}

type tracedTx struct {
	dialect.Tx
	tr tracer
}

func (tx *tracedTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.tr.observe(ctx, &trace{op: traceQuery, inTx: true, query: query, args: args, took: time.Since(start), err: err})
	return err
}

func (tx *tracedTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.tr.observe(ctx, &trace{op: traceExec, inTx: true, query: query, args: args, took: time.Since(start), err: err})
	return err
}

func (tx *tracedTx) Commit() error {
	err := tx.Tx.Commit()
	tx.tr.observe(context.Background(), &trace{op: traceCommit, inTx: true, err: err})
	return err
}

func (tx *tracedTx) Rollback() error {
	err := tx.Tx.Rollback()
	tx.tr.observe(context.Background(), &trace{op: traceRollback, inTx: true, err: err})
	return err
}

func (tx *tracedTx) PrepareTwoPhase(ctx context.Context, xid string) error {
	tp, err := twoPhase(tx.Tx)
	if err == nil {
		err = tp.PrepareTwoPhase(ctx, xid)
	}
	tx.tr.observe(ctx, &trace{op: tracePrepare, inTx: true, query: xid, err: err})
	return err
}

func (tx *tracedTx) CommitTwoPhase(ctx context.Context) error {
	tp, err := twoPhase(tx.Tx)
	if err == nil {
		err = tp.CommitTwoPhase(ctx)
	}
	tx.tr.observe(ctx, &trace{op: traceCommitPrepared, inTx: true, err: err})
	return err
}

func (tx *tracedTx) RollbackTwoPhase(ctx context.Context) error {
	tp, err := twoPhase(tx.Tx)
	if err == nil {
		err = tp.RollbackTwoPhase(ctx)
	}
	tx.tr.observe(ctx, &trace{op: traceRollbackPrepared, inTx: true, err: err})
	return err
}

func twoPhase(tx dialect.Tx) (dialect.TwoPhaseTx, error) {
	tp, ok := tx.(dialect.TwoPhaseTx)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: %T does not support two-phase commit", tx)
	}
	return tp, nil
}

var (
	_ dialect.Driver     = traced{}
	_ dialect.TwoPhaseTx = (*tracedTx)(nil)
)

// QueryStats counts the statements run through a StatsDriver. It is safe
// for concurrent use.
type QueryStats struct {
	queries, execs, slow, errors atomic.Int64
	nanos                        atomic.Int64
}

// StatsSnapshot is a copy of the counters of a QueryStats.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// Stats returns the current counters.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.queries.Load(),
		TotalExecs:    s.execs.Load(),
		TotalDuration: time.Duration(s.nanos.Load()),
		SlowQueries:   s.slow.Load(),
		Errors:        s.errors.Load(),
	}
}

// Reset zeroes the counters.
func (s *QueryStats) Reset() {
	for _, c := range []*atomic.Int64{&s.queries, &s.execs, &s.slow, &s.errors, &s.nanos} {
		c.Store(0)
	}
}

// AvgDuration is the mean duration of a statement.
func (s StatsSnapshot) AvgDuration() time.Duration {
	if n := s.TotalQueries + s.TotalExecs; n > 0 {
		return s.TotalDuration / time.Duration(n)
	}
	return 0
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgDuration(), s.SlowQueries, s.Errors)
}

// SlowQueryHook receives statements slower than the threshold of a
// StatsDriver.
type SlowQueryHook func(ctx context.Context, query string, args []any, took time.Duration)

// StatsDriver is a Driver collecting QueryStats.
type StatsDriver struct {
	traced
	stats     QueryStats
	threshold atomic.Int64
	hook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement counts as
// slow. It defaults to 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold.Store(int64(d)) }
}

// WithSlowQueryHook sets the function called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) { s.hook = hook }
}

// WithSlowQueryLog logs slow statements at warning level.
func WithSlowQueryLog() StatsOption {
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, took time.Duration) {
		slog.WarnContext(ctx, "slow statement", "took", took, "sql", query, "args", args)
	})
}

// NewStatsDriver wraps drv:
//
//	drv := sql.NewStatsDriver(base, sql.WithSlowThreshold(200*time.Millisecond), sql.WithSlowQueryLog())
//	e := orm.NewEngine(drv)
//	defer func() { slog.Info("closing", "stats", e.Stats().Stats()) }()
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{}
	s.traced = traced{Driver: drv, tr: s}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the counters of the driver.
func (s *StatsDriver) QueryStats() *QueryStats { return &s.stats }

// SlowThreshold returns the slow statement threshold.
func (s *StatsDriver) SlowThreshold() time.Duration { return time.Duration(s.threshold.Load()) }

// SetSlowThreshold changes the slow statement threshold.
func (s *StatsDriver) SetSlowThreshold(d time.Duration) { s.threshold.Store(int64(d)) }

func (s *StatsDriver) observe(ctx context.Context, t *trace) {
	switch t.op {
	case traceQuery:
		s.stats.queries.Add(1)
	case traceExec:
		s.stats.execs.Add(1)
	default:
		return
	}
	s.stats.nanos.Add(int64(t.took))
	if t.err != nil {
		s.stats.errors.Add(1)
	}
	if t.took > s.SlowThreshold() {
		s.stats.slow.Add(1)
		if s.hook != nil {
			args, _ := t.args.([]any)
			s.hook(ctx, t.query, args, t.took)
		}
	}
}

// OpenWithStats opens a StatsDriver.
func OpenWithStats(name, source string, opts ...StatsOption) (*StatsDriver, error) {
	drv, err := Open(name, source)
	if err != nil {
		return nil, err
	}
	return NewStatsDriver(drv, opts...), nil
}

// DebugDriver is a Driver logging every statement and transaction event.
// Statements are logged as "query: ..." or "exec: ...", prefixed with
// "tx " inside a transaction.
type DebugDriver struct {
	traced
	log func(context.Context, ...any)
}

// DebugOption configures a DebugDriver.
type DebugOption func(*DebugDriver)

// DebugWithLog sets the log function. It defaults to slog.Info.
func DebugWithLog(log func(context.Context, ...any)) DebugOption {
	return func(d *DebugDriver) { d.log = log }
}

// NewDebugDriver wraps drv.
func NewDebugDriver(drv *Driver, opts ...DebugOption) *DebugDriver {
	d := &DebugDriver{
		log: func(ctx context.Context, v ...any) { slog.InfoContext(ctx, fmt.Sprint(v...)) },
	}
	d.traced = traced{Driver: drv, tr: d}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var traceVerbs = [...]string{
	traceQuery:            "query",
	traceExec:             "exec",
	traceBegin:            "begin transaction",
	traceCommit:           "commit transaction",
	traceRollback:         "rollback transaction",
	tracePrepare:          "prepare transaction",
	traceCommitPrepared:   "commit prepared transaction",
	traceRollbackPrepared: "rollback prepared transaction",
}

func (d *DebugDriver) observe(ctx context.Context, t *trace) {
	var msg string
	switch t.op {
	case traceQuery, traceExec:
		msg = fmt.Sprintf("%s: %s args: %v", traceVerbs[t.op], t.query, t.args)
		if t.inTx {
			msg = "tx " + msg
		}
	case tracePrepare:
		msg = fmt.Sprintf("%s %q", traceVerbs[t.op], t.query)
	default:
		msg = traceVerbs[t.op]
	}
	d.log(ctx, msg)
}
