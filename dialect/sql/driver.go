package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/syssam/strata/dialect"
)

// validXIDRe validates two-phase transaction identifiers.
var validXIDRe = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,200}$`)

// Driver is a dialect.Driver implementation for SQL based databases.
type Driver struct {
	Conn
	dialect string
	caps    dialect.Capabilities
}

// NewDriver creates a new Driver with the given Conn and dialect.
func NewDriver(name string, c Conn) *Driver {
	d := &Driver{dialect: name, Conn: c}
	d.caps = dialect.CapabilitiesOf(d.Dialect())
	return d
}

// Open wraps the database/sql.Open method and returns a Driver for the
// named dialect. MySQL sources are normalised by OpenMySQL.
func Open(name, source string) (*Driver, error) {
	if name == dialect.MySQL {
		return OpenMySQL(source)
	}
	db, err := sql.Open(driverName(name), source)
	if err != nil {
		return nil, err
	}
	return NewDriver(name, Conn{db, name}), nil
}

// OpenMySQL opens a MySQL database with a DSN that reports matched rows
// (not changed rows) for UPDATE statements and parses DATETIME columns,
// which the flush requires for its concurrency checks.
func OpenMySQL(dsn string) (*Driver, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: mysql connector: %w", err)
	}
	return OpenDB(dialect.MySQL, sql.OpenDB(connector)), nil
}

// OpenDB wraps the given database/sql.DB method with a Driver.
func OpenDB(name string, db *sql.DB) *Driver {
	return NewDriver(name, Conn{db, name})
}

// driverName maps a dialect name to the registered database/sql driver.
func driverName(name string) string {
	switch name {
	case dialect.MSSQL:
		return "sqlserver"
	default:
		return name
	}
}

// DB returns the underlying *sql.DB instance.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Dialect implements the dialect.Dialect method.
func (d Driver) Dialect() string {
	// If the underlying driver is wrapped with a telemetry driver.
	for _, name := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres, dialect.MSSQL} {
		if strings.HasPrefix(d.dialect, name) {
			return name
		}
	}
	return d.dialect
}

// Capabilities returns the feature flags resolved when the driver was opened.
func (d Driver) Capabilities() dialect.Capabilities {
	return d.caps
}

// SetCapabilities overrides the resolved feature flags, e.g. for a server
// version without window functions.
func (d *Driver) SetCapabilities(caps dialect.Capabilities) {
	d.caps = caps
}

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, wrapError("begin", "BEGIN", nil, err)
	}
	return &Tx{
		Conn:    Conn{tx, d.dialect},
		Tx:      tx,
		db:      d.DB(),
		dialect: d.Dialect(),
	}, nil
}

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx implements dialect.Tx interface.
type Tx struct {
	Conn
	driver.Tx
	db      *sql.DB
	dialect string
	xid     string
}

// PrepareTwoPhase ends the first phase of a two-phase commit. After it
// returns, the transaction is no longer bound to its connection and can
// only be finished by CommitTwoPhase or RollbackTwoPhase.
func (tx *Tx) PrepareTwoPhase(ctx context.Context, xid string) error {
	if tx.dialect != dialect.Postgres {
		return fmt.Errorf("dialect/sql: two-phase commit is not supported by %s", tx.dialect)
	}
	if !validXIDRe.MatchString(xid) {
		return fmt.Errorf("dialect/sql: invalid transaction id %q", xid)
	}
	if err := tx.Exec(ctx, fmt.Sprintf("PREPARE TRANSACTION '%s'", xid), []any{}, nil); err != nil {
		return err
	}
	tx.xid = xid
	return nil
}

// CommitTwoPhase commits a prepared transaction.
func (tx *Tx) CommitTwoPhase(ctx context.Context) error {
	return tx.finishTwoPhase(ctx, "COMMIT PREPARED")
}

// RollbackTwoPhase rolls back a prepared transaction. If the transaction
// was never prepared, it is rolled back normally.
func (tx *Tx) RollbackTwoPhase(ctx context.Context) error {
	if tx.xid == "" {
		return tx.Tx.Rollback()
	}
	return tx.finishTwoPhase(ctx, "ROLLBACK PREPARED")
}

func (tx *Tx) finishTwoPhase(ctx context.Context, verb string) error {
	if tx.xid == "" {
		return errors.New("dialect/sql: transaction was not prepared")
	}
	stmt := fmt.Sprintf("%s '%s'", verb, tx.xid)
	if _, err := tx.db.ExecContext(ctx, stmt); err != nil {
		return wrapError("exec", stmt, nil, err)
	}
	// The prepared transaction was detached from the connection;
	// releasing the connection must not fail the operation.
	_ = tx.Tx.Rollback()
	return nil
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier given ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec implements the dialect.Exec method.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	switch v := v.(type) {
	case nil:
		if _, err := c.ExecContext(ctx, query, argv...); err != nil {
			return wrapError("exec", query, argv, err)
		}
	case *sql.Result:
		res, err := c.ExecContext(ctx, query, argv...)
		if err != nil {
			return wrapError("exec", query, argv, err)
		}
		*v = res
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	return nil
}

// Query implements the dialect.Query method.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return wrapError("query", query, argv, err)
	}
	*vr = Rows{rows}
	return nil
}

var (
	_ dialect.Driver     = (*Driver)(nil)
	_ dialect.TwoPhaseTx = (*Tx)(nil)
)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// ScanValues reads all remaining rows into slices of driver values,
// one per selected column, and closes the rows.
func ScanValues(rows ColumnScanner) (columns []string, values [][]any, err error) {
	defer func() { err = errors.Join(err, rows.Close()) }()
	if columns, err = rows.Columns(); err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		row := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		values = append(values, row)
	}
	return columns, values, rows.Err()
}
