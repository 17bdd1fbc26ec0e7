package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/strata"
)

// StatementError wraps an error returned by the database for one statement.
type StatementError struct {
	Op   string // "exec", "query" or "begin"
	SQL  string
	Args []any
	Err  error
}

// Error returns the error string.
func (e *StatementError) Error() string {
	return fmt.Sprintf("dialect/sql: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StatementError) Unwrap() error {
	return e.Err
}

// Disconnect reports whether the statement failed because the connection
// was lost, in which case retrying on a new connection is safe.
func (e *StatementError) Disconnect() bool {
	return IsDisconnect(e.Err)
}

// wrapError classifies err and wraps it with the failed statement.
// Constraint violations are additionally wrapped as strata.ConstraintError.
func wrapError(op, query string, args []any, err error) error {
	if err == nil {
		return nil
	}
	if kind := constraintKind(err); kind != "" {
		err = strata.NewConstraintError(kind, err)
	}
	return &StatementError{Op: op, SQL: query, Args: args, Err: err}
}

// IsStatementError returns true if the error is a StatementError.
func IsStatementError(err error) bool {
	var e *StatementError
	return errors.As(err, &e)
}

// MySQL client error numbers for lost connections.
const (
	mysqlServerGone      = 2006
	mysqlServerLost      = 2013
	mysqlCommandsOutSync = 2014
	mysqlServerShutdown  = 1053
)

// IsDisconnect reports whether err means the database connection is no
// longer usable, as opposed to a statement level failure.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return true
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		// Class 08 is "connection exception", 57P01-57P03 admin shutdown.
		return pe.Code.Class() == "08" || strings.HasPrefix(string(pe.Code), "57P0")
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlServerGone, mysqlServerLost, mysqlCommandsOutSync, mysqlServerShutdown:
			return true
		}
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return containsAny(err.Error(),
		"connection reset by peer",
		"broken pipe",
		"bad connection",
		"sql: database is closed",
	)
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return strata.IsConstraintError(err) || constraintKind(err) != ""
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
	mysqlBadNull                = 1048
)

// constraintKind returns "unique", "foreign key", "check" or "not null"
// when err is a constraint violation, and "" otherwise.
func constraintKind(err error) string {
	if err == nil {
		return ""
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch string(pe.Code) {
		case pgUniqueViolation:
			return "unique"
		case pgForeignKeyViolation:
			return "foreign key"
		case pgCheckViolation:
			return "check"
		case pgNotNullViolation:
			return "not null"
		}
		return ""
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return "unique"
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return "foreign key"
		case mysqlCheckConstraintViolate:
			return "check"
		case mysqlBadNull:
			return "not null"
		}
		return ""
	}
	// Fallback to string matching for drivers without typed errors.
	msg := err.Error()
	switch {
	case containsAny(msg, "UNIQUE constraint failed", "violates unique constraint", "Error 1062"):
		return "unique"
	case containsAny(msg, "FOREIGN KEY constraint failed", "violates foreign key constraint", "Error 1451", "Error 1452"):
		return "foreign key"
	case containsAny(msg, "CHECK constraint failed", "violates check constraint", "Error 3819"):
		return "check"
	case containsAny(msg, "NOT NULL constraint failed", "violates not-null constraint"):
		return "not null"
	}
	return ""
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
