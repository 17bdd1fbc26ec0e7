package sql

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
)

func TestStatsDriver(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := NewStatsDriver(OpenDB(dialect.Postgres, db),
		WithSlowThreshold(-1),
		WithSlowQueryHook(func(_ context.Context, query string, args []any, _ time.Duration) {
			slow = append(slow, fmt.Sprint(query, args))
		}),
	)
	assert.Equal(t, dialect.Postgres, drv.Dialect())
	assert.Equal(t, dialect.Dollar, drv.Capabilities().Paramstyle)

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "UPDATE users SET name = $1", []any{"ed"}, nil))
	require.Error(t, tx.Exec(ctx, "DELETE FROM users", []any{}, nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	s := drv.QueryStats().Stats()
	assert.EqualValues(t, 1, s.TotalQueries)
	assert.EqualValues(t, 2, s.TotalExecs)
	assert.EqualValues(t, 1, s.Errors)
	assert.EqualValues(t, 3, s.SlowQueries)
	assert.Equal(t, []string{"SELECT 1[]", "UPDATE users SET name = $1[ed]", "DELETE FROM users[]"}, slow)
	assert.Contains(t, s.String(), "queries=1 execs=2")

	drv.SetSlowThreshold(time.Hour)
	assert.Equal(t, time.Hour, drv.SlowThreshold())
	drv.QueryStats().Reset()
	assert.Equal(t, StatsSnapshot{}, drv.QueryStats().Stats())
	assert.Zero(t, StatsSnapshot{}.AvgDuration())
}

func TestDebugDriver(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	var logged []string
	drv := NewDebugDriver(OpenDB(dialect.Postgres, db), DebugWithLog(func(_ context.Context, v ...any) {
		logged = append(logged, fmt.Sprint(v...))
	}))

	mock.ExpectExec("CREATE TABLE t (id INTEGER)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO t (id) VALUES ($1)").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("PREPARE TRANSACTION 'xid-7'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COMMIT PREPARED 'xid-7'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NoError(t, drv.Exec(ctx, "CREATE TABLE t (id INTEGER)", []any{}, nil))
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO t (id) VALUES ($1)", []any{1}, nil))
	tp, ok := tx.(dialect.TwoPhaseTx)
	require.True(t, ok)
	require.NoError(t, tp.PrepareTwoPhase(ctx, "xid-7"))
	require.NoError(t, tp.CommitTwoPhase(ctx))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{
		"exec: CREATE TABLE t (id INTEGER) args: []",
		"begin transaction",
		"tx exec: INSERT INTO t (id) VALUES ($1) args: [1]",
		`prepare transaction "xid-7"`,
		"commit prepared transaction",
	}, logged)
}
