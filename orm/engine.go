package orm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/compiler"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/schema"
)

// Engine pairs a driver with the dialect statements are compiled for.
// It is safe for concurrent use and creates sessions.
type Engine struct {
	driver   dialect.Driver
	dialect  compiler.Dialect
	stats    *sql.QueryStats
	defaults []SessionOption
	logger   *slog.Logger
}

// EngineOption configures an engine.
type EngineOption func(*Engine)

// WithDialect overrides the dialect derived from the driver.
func WithDialect(d compiler.Dialect) EngineOption {
	return func(e *Engine) { e.dialect = d }
}

// WithSessionDefaults sets options applied to every session of the
// engine before the options given to NewSession.
func WithSessionDefaults(opts ...SessionOption) EngineOption {
	return func(e *Engine) { e.defaults = append(e.defaults, opts...) }
}

// WithEngineLogger sets the logger inherited by the sessions.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an engine executing through drv. The capabilities of
// drv, when it reports them, override those of the dialect.
func NewEngine(drv dialect.Driver, opts ...EngineOption) *Engine {
	e := &Engine{driver: drv, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.dialect == nil {
		e.dialect = compiler.For(drv.Dialect())
		if c, ok := drv.(interface{ Capabilities() dialect.Capabilities }); ok {
			e.dialect = compiler.WithCapabilities(e.dialect, c.Capabilities())
		}
	}
	if s, ok := drv.(interface{ QueryStats() *sql.QueryStats }); ok {
		e.stats = s.QueryStats()
	}
	return e
}

// Open connects to the database described by cfg.
func Open(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	drv, err := sql.Open(cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("orm: open %s: %w", cfg.Dialect, err)
	}
	if cfg.MaxOpenConns > 0 {
		drv.DB().SetMaxOpenConns(cfg.MaxOpenConns)
	}
	var wrapped dialect.Driver
	if cfg.Echo {
		wrapped = sql.NewDebugDriver(drv, sql.DebugWithLog(func(ctx context.Context, v ...any) {
			slog.DebugContext(ctx, fmt.Sprint(v...))
		}))
	} else {
		opts := []sql.StatsOption{sql.WithSlowQueryLog()}
		if cfg.SlowQueryThreshold > 0 {
			opts = append(opts, sql.WithSlowThreshold(time.Duration(cfg.SlowQueryThreshold)))
		}
		wrapped = sql.NewStatsDriver(drv, opts...)
	}
	var eopts []EngineOption
	if cfg.Dialect == dialect.MSSQL {
		eopts = append(eopts, WithDialect(compiler.MSSQL(cfg.MSSQL.WindowFunctions)))
	}
	eopts = append(eopts, WithSessionDefaults(cfg.sessionOptions()...))
	return NewEngine(wrapped, eopts...), nil
}

// Driver returns the driver of the engine.
func (e *Engine) Driver() dialect.Driver { return e.driver }

// Dialect returns the dialect statements are compiled for.
func (e *Engine) Dialect() compiler.Dialect { return e.dialect }

// Capabilities returns the feature flags of the dialect.
func (e *Engine) Capabilities() dialect.Capabilities { return e.dialect.Capabilities() }

// Stats returns the query statistics of the engine, or nil when its driver
// does not collect them.
func (e *Engine) Stats() *sql.QueryStats { return e.stats }

// Close closes the driver.
func (e *Engine) Close() error { return e.driver.Close() }

// NewSession returns a session persisting the mappers of reg through e.
func (e *Engine) NewSession(reg *Registry, opts ...SessionOption) *Session {
	all := append(append([]SessionOption{WithLogger(e.logger)}, e.defaults...), opts...)
	return NewSession(reg, e, all...)
}

// CreateAll creates the tables of md in dependency order.
func (e *Engine) CreateAll(ctx context.Context, md *expr.MetaData) error {
	return schema.CreateAll(ctx, e.driver, md, e.dialect)
}

// DropAll drops the tables of md in reverse dependency order.
func (e *Engine) DropAll(ctx context.Context, md *expr.MetaData) error {
	return schema.DropAll(ctx, e.driver, md, e.dialect)
}

// compile renders stmt for the engine dialect.
func (e *Engine) compile(stmt expr.Element, opts ...compiler.Option) (*compiler.Compiled, error) {
	return compiler.Compile(stmt, e.dialect, opts...)
}
