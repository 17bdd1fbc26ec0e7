// Package sql implements dialect.Driver on top of database/sql.
//
// Open returns a Driver for a dialect name and a data source:
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db?_pragma=foreign_keys(1)")
//
// MySQL sources go through OpenMySQL, which forces the DSN options the
// flush depends on (matched row counts and parsed DATETIME values).
//
// Every failed statement is returned as a *StatementError. IsDisconnect
// separates lost connections from statement level failures, and constraint
// violations are additionally reported as strata.ConstraintError:
//
//	if err := drv.Exec(ctx, query, args, nil); err != nil {
//	    if sql.IsDisconnect(err) {
//	        // reconnect and retry the whole unit of work
//	    }
//	}
//
// StatsDriver and DebugDriver wrap a Driver with query statistics and
// statement logging.
package sql
