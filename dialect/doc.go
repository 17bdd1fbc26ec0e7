// Package dialect defines the boundary between the session engine and a
// database driver.
//
// A Driver executes statements and starts transactions:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// Every dialect is identified by a constant name:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//	dialect.MSSQL    = "mssql"
//
// Capabilities describes what a dialect supports (sane row counts,
// RETURNING, savepoints, two-phase commit, window functions). The
// capabilities are resolved once per engine and never probed per call.
//
// The dialect/sql sub-package implements Driver on top of database/sql.
package dialect
