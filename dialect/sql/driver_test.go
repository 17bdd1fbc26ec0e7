package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		style   dialect.Paramstyle
	}{
		{"Postgres", dialect.Postgres, dialect.Dollar},
		{"MySQL", dialect.MySQL, dialect.Qmark},
		{"SQLite", dialect.SQLite, dialect.Qmark},
		{"MSSQL", dialect.MSSQL, dialect.AtP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.dialect, db)
			assert.Equal(t, tt.dialect, drv.Dialect())
			assert.Equal(t, tt.style, drv.Capabilities().Paramstyle)
		})
	}
}

func TestSetCapabilities(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.MSSQL, db)
	require.True(t, drv.Capabilities().WindowFunctions)
	caps := drv.Capabilities()
	caps.WindowFunctions = false
	drv.SetCapabilities(caps)
	assert.False(t, drv.Capabilities().WindowFunctions)
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("scan_values", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
				AddRow(1, "Alice").
				AddRow(2, nil))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT id, name FROM users", []any{}, rows)
		require.NoError(t, err)
		columns, values, err := ScanValues(rows)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, columns)
		require.Len(t, values, 2)
		assert.EqualValues(t, 1, values[0][0])
		assert.Equal(t, "Alice", values[0][1])
		assert.Nil(t, values[1][1])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_with_args", func(t *testing.T) {
		mock.ExpectQuery("SELECT name FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT name FROM users WHERE id = $1", []any{1}, rows)
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT 1", []any{}, rows)
		require.Error(t, err)
		var se *StatementError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "query", se.Op)
		assert.Equal(t, "SELECT 1", se.SQL)
		assert.False(t, se.Disconnect())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_target", func(t *testing.T) {
		err := drv.Query(context.Background(), "SELECT 1", []any{}, new(int))
		require.EqualError(t, err, "dialect/sql: invalid type *int. expect *sql.Rows")
	})
}

func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)

	t.Run("result", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WillReturnResult(sqlmock.NewResult(7, 1))

		var res Result
		err := drv.Exec(context.Background(), "INSERT INTO users (name) VALUES (?)", []any{"a"}, &res)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		assert.EqualValues(t, 7, id)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("constraint_error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WillReturnError(errors.New("UNIQUE constraint failed: users.name"))

		err := drv.Exec(context.Background(), "INSERT INTO users (name) VALUES (?)", []any{"a"}, nil)
		require.Error(t, err)
		assert.True(t, IsStatementError(err))
		assert.True(t, strata.IsConstraintError(err))
		assert.True(t, IsConstraintError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_args", func(t *testing.T) {
		err := drv.Exec(context.Background(), "DELETE FROM users", "x", nil)
		require.EqualError(t, err, "dialect/sql: invalid type string. expect []any for args")
	})
}

func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("successful_commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		err = tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("error"))
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		err = tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil)
		require.Error(t, err)
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin_error", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(mysql.ErrInvalidConn)
		_, err := drv.Tx(context.Background())
		require.Error(t, err)
		assert.True(t, IsDisconnect(err))
	})
}

func TestTwoPhase(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()
		drv := OpenDB(dialect.Postgres, db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO t DEFAULT VALUES").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("PREPARE TRANSACTION 'xid-1'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("COMMIT PREPARED 'xid-1'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := drv.Tx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Exec(ctx, "INSERT INTO t DEFAULT VALUES", []any{}, nil))
		tp := tx.(dialect.TwoPhaseTx)
		require.NoError(t, tp.PrepareTwoPhase(ctx, "xid-1"))
		require.NoError(t, tp.CommitTwoPhase(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback_unprepared", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		drv := OpenDB(dialect.Postgres, db)

		mock.ExpectBegin()
		mock.ExpectRollback()
		tx, err := drv.Tx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.(dialect.TwoPhaseTx).RollbackTwoPhase(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unsupported", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		drv := OpenDB(dialect.SQLite, db)

		mock.ExpectBegin()
		tx, err := drv.Tx(ctx)
		require.NoError(t, err)
		err = tx.(dialect.TwoPhaseTx).PrepareTwoPhase(ctx, "x")
		require.EqualError(t, err, "dialect/sql: two-phase commit is not supported by sqlite")
	})

	t.Run("invalid_xid", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		drv := OpenDB(dialect.Postgres, db)

		mock.ExpectBegin()
		tx, err := drv.Tx(ctx)
		require.NoError(t, err)
		err = tx.(dialect.TwoPhaseTx).PrepareTwoPhase(ctx, "x'; DROP TABLE t; --")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid transaction id")
	})
}

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad_conn", driver.ErrBadConn, true},
		{"wrapped_bad_conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"mysql_invalid_conn", mysql.ErrInvalidConn, true},
		{"mysql_gone_away", &mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"}, true},
		{"mysql_duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, false},
		{"pq_connection_failure", &pq.Error{Code: "08006"}, true},
		{"pq_admin_shutdown", &pq.Error{Code: "57P01"}, true},
		{"pq_unique", &pq.Error{Code: "23505"}, false},
		{"canceled", context.Canceled, false},
		{"reset_by_peer", errors.New("read tcp: connection reset by peer"), true},
		{"syntax", errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDisconnect(tt.err))
		})
	}
}

func TestConstraintKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"pq_unique", &pq.Error{Code: "23505"}, "unique"},
		{"pq_fk", &pq.Error{Code: "23503"}, "foreign key"},
		{"pq_check", &pq.Error{Code: "23514"}, "check"},
		{"pq_not_null", &pq.Error{Code: "23502"}, "not null"},
		{"pq_other", &pq.Error{Code: "42601"}, ""},
		{"mysql_duplicate", &mysql.MySQLError{Number: 1062}, "unique"},
		{"mysql_fk_parent", &mysql.MySQLError{Number: 1451}, "foreign key"},
		{"mysql_fk_child", &mysql.MySQLError{Number: 1452}, "foreign key"},
		{"mysql_check", &mysql.MySQLError{Number: 3819}, "check"},
		{"sqlite_unique", errors.New("UNIQUE constraint failed: users.name"), "unique"},
		{"sqlite_fk", errors.New("FOREIGN KEY constraint failed"), "foreign key"},
		{"sqlite_not_null", errors.New("NOT NULL constraint failed: users.name"), "not null"},
		{"other", errors.New("no such table"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, constraintKind(tt.err))
		})
	}
}

func BenchmarkDriver(b *testing.B) {
	db, mock, err := sqlmock.New()
	if err != nil {
		b.Fatal(err)
	}
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	b.Run("Query_Simple", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
			rows := &Rows{}
			_ = drv.Query(context.Background(), "SELECT 1", []any{}, rows)
			rows.Close()
		}
	})

	b.Run("Exec_Simple", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
			_ = drv.Exec(context.Background(), "INSERT INTO t VALUES (1)", []any{}, nil)
		}
	})
}
