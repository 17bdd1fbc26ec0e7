package dialect

import (
	"context"
	"database/sql/driver"
)

// Dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
	MSSQL    = "mssql"
)

// ExecQuerier wraps the 2 database operations.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in SQL, INSERT or UPDATE.
	// It scans the result into the pointer v. For SQL drivers, it is dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v. For SQL drivers, it is *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for sessions.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The provided context is used until the transaction is committed or rolled back.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in transaction.
type Tx interface {
	ExecQuerier
	driver.Tx
}

// TwoPhaseTx is implemented by transactions of databases that support
// two-phase commit. PrepareTwoPhase ends the first phase under the given
// transaction id; CommitTwoPhase and RollbackTwoPhase finish it.
type TwoPhaseTx interface {
	Tx
	PrepareTwoPhase(ctx context.Context, xid string) error
	CommitTwoPhase(ctx context.Context) error
	RollbackTwoPhase(ctx context.Context) error
}

// Paramstyle describes how bind parameters are rendered.
type Paramstyle int

// Supported paramstyles.
const (
	// Qmark renders every parameter as "?".
	Qmark Paramstyle = iota
	// Dollar renders numbered parameters, "$1", "$2".
	Dollar
	// AtP renders numbered parameters with an "@p" prefix, "@p1", "@p2".
	AtP
)

// Capabilities are the feature flags of a dialect. They are resolved once
// when a driver is opened and consulted by the compiler and the flush.
type Capabilities struct {
	// SaneRowcount reports whether UPDATE and DELETE return the number of
	// matched rows, so that concurrency checks can be performed.
	SaneRowcount bool
	// MaxIdentifierLength is the longest identifier the database accepts.
	MaxIdentifierLength int
	Paramstyle          Paramstyle
	// DefaultValues reports support for "INSERT INTO t DEFAULT VALUES".
	DefaultValues bool
	// EmptyInsert reports support for "INSERT INTO t () VALUES ()".
	EmptyInsert bool
	// InsertReturning reports whether generated values are fetched with a
	// RETURNING (or OUTPUT) clause instead of LastInsertId.
	InsertReturning bool
	Savepoints      bool
	TwoPhase        bool
	// WindowFunctions reports support for ROW_NUMBER() OVER (...).
	WindowFunctions bool
	// MultiValuesInsert reports support for "VALUES (...), (...)".
	MultiValuesInsert bool
}

// CapabilitiesOf returns the default capabilities of the named dialect.
func CapabilitiesOf(name string) Capabilities {
	switch name {
	case Postgres:
		return Capabilities{
			SaneRowcount:        true,
			MaxIdentifierLength: 63,
			Paramstyle:          Dollar,
			DefaultValues:       true,
			InsertReturning:     true,
			Savepoints:          true,
			TwoPhase:            true,
			WindowFunctions:     true,
			MultiValuesInsert:   true,
		}
	case MySQL:
		return Capabilities{
			SaneRowcount:        true,
			MaxIdentifierLength: 64,
			Paramstyle:          Qmark,
			DefaultValues:       false,
			EmptyInsert:         true,
			Savepoints:          true,
			WindowFunctions:     true,
			MultiValuesInsert:   true,
		}
	case MSSQL:
		return Capabilities{
			SaneRowcount:        true,
			MaxIdentifierLength: 128,
			Paramstyle:          AtP,
			DefaultValues:       true,
			InsertReturning:     true,
			Savepoints:          true,
			WindowFunctions:     true,
		}
	default:
		return Capabilities{
			SaneRowcount:        true,
			MaxIdentifierLength: 255,
			Paramstyle:          Qmark,
			DefaultValues:       true,
			Savepoints:          true,
			WindowFunctions:     true,
			MultiValuesInsert:   true,
		}
	}
}
