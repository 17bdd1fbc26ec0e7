package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
)

func catalog() (*expr.MetaData, *expr.Table, *expr.Table) {
	md := expr.NewMetaData()
	users := md.Table("users",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("name", types.String(40)),
	)
	addresses := md.Table("addresses",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("user_id", types.Integer()).References("users.id", expr.OnDelete(expr.Cascade)),
		expr.Col("email", types.String(100)).NotNull(),
	)
	return md, users, addresses
}

func compile(t *testing.T, stmt expr.Element, d Dialect, opts ...Option) *Compiled {
	t.Helper()
	c, err := Compile(stmt, d, opts...)
	require.NoError(t, err)
	return c
}

func TestSelect(t *testing.T) {
	_, users, addresses := catalog()
	id, name := users.C("id"), users.C("name")
	tests := []struct {
		name string
		stmt expr.Element
		want string
	}{
		{
			name: "where",
			stmt: expr.Select(id, name).Where(id.EQ(5)),
			want: "SELECT users.id, users.name FROM users WHERE users.id = ?",
		},
		{
			name: "labels",
			stmt: users.Select().WithLabels(),
			want: "SELECT users.id AS users_id, users.name AS users_name FROM users",
		},
		{
			name: "join",
			stmt: expr.Select(name, addresses.C("email")).From(users.Join(addresses)),
			want: "SELECT users.name, addresses.email FROM users JOIN addresses ON users.id = addresses.user_id",
		},
		{
			name: "outer_join",
			stmt: expr.Select(name).From(users.OuterJoin(addresses)),
			want: "SELECT users.name FROM users LEFT OUTER JOIN addresses ON users.id = addresses.user_id",
		},
		{
			name: "cartesian",
			stmt: expr.Select(name, addresses.C("email")),
			want: "SELECT users.name, addresses.email FROM users, addresses",
		},
		{
			name: "alias",
			stmt: func() expr.Element {
				u := users.Alias("u")
				return expr.Select(u.C("name")).Where(u.C("id").GT(1))
			}(),
			want: "SELECT u.name FROM users AS u WHERE u.id > ?",
		},
		{
			name: "anonymous_alias",
			stmt: func() expr.Element {
				u := users.Alias("")
				return expr.Select(u.C("id"))
			}(),
			want: "SELECT users_1.id FROM users AS users_1",
		},
		{
			name: "subquery",
			stmt: func() expr.Element {
				sub := expr.Select(id).Where(name.Like("j%")).Alias("")
				return expr.Select(sub.C("id"))
			}(),
			want: "SELECT anon_1.id FROM (SELECT users.id FROM users WHERE users.name LIKE ?) AS anon_1",
		},
		{
			name: "aggregate",
			stmt: expr.Select(addresses.C("user_id"), expr.Count(nil).Label("n")).
				GroupBy(addresses.C("user_id")).
				Having(expr.GT(expr.Count(nil), 1)).
				OrderBy(expr.Desc(addresses.C("user_id"))),
			want: "SELECT addresses.user_id, count(*) AS n FROM addresses GROUP BY addresses.user_id HAVING count(*) > ? ORDER BY addresses.user_id DESC",
		},
		{
			name: "distinct",
			stmt: expr.Select(name).Distinct(),
			want: "SELECT DISTINCT users.name FROM users",
		},
		{
			name: "for_update",
			stmt: expr.Select(name).ForUpdate(),
			want: "SELECT users.name FROM users",
		},
		{
			name: "in_subquery",
			stmt: expr.Select(name).Where(id.In(expr.Select(addresses.C("user_id")))),
			want: "SELECT users.name FROM users WHERE users.id IN (SELECT addresses.user_id FROM addresses)",
		},
		{
			name: "text",
			stmt: expr.Select(expr.LiteralColumn("1", types.Integer())),
			want: "SELECT 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.stmt, SQLite()).SQL)
		})
	}
}

func TestCorrelation(t *testing.T) {
	_, users, addresses := catalog()

	t.Run("scalar", func(t *testing.T) {
		n := expr.Select(expr.Count(addresses.C("id"))).
			Where(addresses.C("user_id").EQ(users.C("id"))).
			Scalar().Label("n")
		c := compile(t, expr.Select(users.C("name"), n), SQLite())
		assert.Equal(t, "SELECT users.name, (SELECT count(addresses.id) FROM addresses WHERE addresses.user_id = users.id) AS n FROM users", c.SQL)
	})

	t.Run("exists", func(t *testing.T) {
		sub := expr.Select(addresses.C("id")).Where(addresses.C("user_id").EQ(users.C("id")))
		c := compile(t, expr.Select(users.C("name")).Where(sub.Exists()), SQLite())
		assert.Equal(t, "SELECT users.name FROM users WHERE EXISTS (SELECT addresses.id FROM addresses WHERE addresses.user_id = users.id)", c.SQL)
	})

	t.Run("everything_correlated", func(t *testing.T) {
		sub := expr.Select(users.C("id")).Where(users.C("id").EQ(addresses.C("user_id")))
		outer := expr.Select(users.C("id"), addresses.C("id")).Where(sub.Exists())
		_, err := Compile(outer, SQLite())
		require.Error(t, err)
		assert.True(t, strata.IsCompileError(err))
		assert.Contains(t, err.Error(), "auto-correlation")

		c := compile(t, expr.Select(users.C("id"), addresses.C("id")).Where(sub.Correlate().Exists()), SQLite())
		assert.Equal(t, "SELECT users.id, addresses.id FROM users, addresses WHERE EXISTS (SELECT users.id FROM users, addresses WHERE users.id = addresses.user_id)", c.SQL)
	})

	t.Run("explicit", func(t *testing.T) {
		sub := expr.Select(addresses.C("id")).
			Where(addresses.C("user_id").EQ(users.C("id"))).
			Correlate(users)
		c := compile(t, sub, SQLite())
		assert.Equal(t, "SELECT addresses.id FROM addresses WHERE addresses.user_id = users.id", c.SQL)
	})
}

func TestGrouping(t *testing.T) {
	_, users, _ := catalog()
	id, name := users.C("id"), users.C("name")
	tests := []struct {
		name string
		e    expr.Element
		want string
	}{
		{"and_or", expr.And(id.EQ(1), expr.Or(name.EQ("a"), name.EQ("b"))), "users.id = ? AND (users.name = ? OR users.name = ?)"},
		{"or_and", expr.Or(id.EQ(1), expr.And(name.EQ("a"), id.GT(2))), "users.id = ? OR users.name = ? AND users.id > ?"},
		{"mul_add", expr.Mul(expr.Add(id, 1), 2), "(users.id + ?) * ?"},
		{"add_add", expr.Add(expr.Add(id, 1), 2), "users.id + ? + ?"},
		{"add_mul", expr.Add(id, expr.Mul(id, 2)), "users.id + users.id * ?"},
		{"sub_sub", expr.Sub(id, expr.Sub(id, 1)), "users.id - (users.id - ?)"},
		{"not_and", expr.Not(expr.And(id.EQ(1), name.EQ("a"))), "NOT (users.id = ? AND users.name = ?)"},
		{"not_eq", expr.Not(id.EQ(1)), "users.id != ?"},
		{"is_null", name.EQ(nil), "users.name IS NULL"},
		{"is_not_null", name.NE(nil), "users.name IS NOT NULL"},
		{"between", expr.Between(id, 1, 10), "users.id BETWEEN ? AND ?"},
		{"in", id.In(1, 2, 3), "users.id IN (?, ?, ?)"},
		{"empty_in", id.In(), "users.id != users.id"},
		{"empty_not_in", expr.NotIn(id), "users.id = users.id"},
		{"concat", expr.Concat(name, "x"), "users.name || ?"},
		{"now", expr.Now(), "CURRENT_TIMESTAMP"},
		{"cast", expr.Cast(id, types.String(10)), "CAST(users.id AS VARCHAR(10))"},
		{
			"case",
			expr.Case([]expr.When{{Cond: id.EQ(1), Result: expr.Bind("one", "one", types.String(3))}}, "other"),
			"CASE WHEN users.id = ? THEN ? ELSE ? END",
		},
		{"bool", expr.True, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.e, SQLite()).SQL)
		})
	}
	assert.Equal(t, "true", compile(t, expr.True, Postgres()).SQL)
}

func TestLimitOffset(t *testing.T) {
	_, users, _ := catalog()
	sel := expr.Select(users.C("id")).OrderBy(users.C("id"))
	tests := []struct {
		name    string
		d       Dialect
		limit   int
		offset  int
		want    string
		wantErr string
	}{
		{"sqlite", SQLite(), 10, 20, "SELECT users.id FROM users ORDER BY users.id LIMIT 10 OFFSET 20", ""},
		{"sqlite_offset", SQLite(), -1, 20, "SELECT users.id FROM users ORDER BY users.id LIMIT -1 OFFSET 20", ""},
		{"postgres", Postgres(), 10, 20, "SELECT users.id FROM users ORDER BY users.id LIMIT 10 OFFSET 20", ""},
		{"postgres_offset", Postgres(), -1, 20, "SELECT users.id FROM users ORDER BY users.id OFFSET 20", ""},
		{"mysql", MySQL(), 10, 20, "SELECT users.id FROM users ORDER BY users.id LIMIT 20, 10", ""},
		{"mysql_offset", MySQL(), -1, 20, "SELECT users.id FROM users ORDER BY users.id LIMIT 20, 18446744073709551615", ""},
		{"mysql_limit", MySQL(), 10, -1, "SELECT users.id FROM users ORDER BY users.id LIMIT 10", ""},
		{"mssql_top", MSSQL(true), 10, -1, "SELECT TOP 10 users.id FROM users ORDER BY users.id", ""},
		{"mssql_no_window", MSSQL(false), 10, 20, "", "requires window functions"},
		{
			"mssql_row_number", MSSQL(true), 10, 20,
			"SELECT anon_1.id FROM (SELECT users.id, ROW_NUMBER() OVER (ORDER BY users.id) AS mssql_rn FROM users) AS anon_1 WHERE mssql_rn > 20 AND mssql_rn <= 30 ORDER BY mssql_rn",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(sel.Limit(tt.limit).Offset(tt.offset), tt.d)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, strata.IsCompileError(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.SQL)
		})
	}
}

func TestMSSQLOffsetOrdering(t *testing.T) {
	md, users, _ := catalog()

	c := compile(t, users.Select().Offset(5), MSSQL(true))
	assert.Equal(t, "SELECT anon_1.id, anon_1.name FROM (SELECT users.id, users.name, ROW_NUMBER() OVER (ORDER BY users.id) AS mssql_rn FROM users) AS anon_1 WHERE mssql_rn > 5 ORDER BY mssql_rn", c.SQL)
	i, ok := c.Index(users.C("name"))
	require.True(t, ok)
	assert.Equal(t, 1, i)

	logs := md.Table("logs", expr.Col("msg", types.Text()))
	_, err := Compile(logs.Select().Offset(5), MSSQL(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDER BY is required")
}

func TestBindParams(t *testing.T) {
	_, users, _ := catalog()
	id := users.C("id")

	t.Run("unique_names", func(t *testing.T) {
		c := compile(t, expr.Select(id).Where(id.GT(1), id.LT(10)), Postgres())
		assert.Equal(t, "SELECT users.id FROM users WHERE users.id > $1 AND users.id < $2", c.SQL)
		assert.Equal(t, []string{"id", "id_1"}, c.BindNames())
		assert.Equal(t, map[string]any{"id": 1, "id_1": 10}, c.Params())
		args, err := c.Args()
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), int64(10)}, args)
		args, err = c.Args(map[string]any{"id_1": 20})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), int64(20)}, args)
	})

	t.Run("required", func(t *testing.T) {
		p := expr.Param("uid", types.Integer())
		c := compile(t, expr.Select(id).Where(expr.EQ(id, p), expr.NE(id, p)), MSSQL(true))
		assert.Equal(t, "SELECT users.id FROM users WHERE users.id = @p1 AND users.id != @p2", c.SQL)
		assert.Equal(t, []string{"uid", "uid"}, c.BindNames())
		_, err := c.Args()
		require.Error(t, err)
		assert.True(t, strata.IsInvalidRequest(err))
		args, err := c.Args(map[string]any{"uid": 7})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(7), int64(7)}, args)
	})

	t.Run("text", func(t *testing.T) {
		c := compile(t, expr.Text(`SELECT '10\:30', x::text FROM t WHERE a = :a OR b = :a`, map[string]any{"a": 1}), SQLite())
		assert.Equal(t, "SELECT '10:30', x::text FROM t WHERE a = ? OR b = ?", c.SQL)
		args, err := c.Args()
		require.NoError(t, err)
		assert.Equal(t, []any{1, 1}, args)
	})
}

func TestInsert(t *testing.T) {
	md, users, _ := catalog()

	t.Run("values", func(t *testing.T) {
		c := compile(t, users.Insert().Set("name", "jack"), SQLite())
		assert.Equal(t, "INSERT INTO users (name) VALUES (?)", c.SQL)
		assert.False(t, c.IdentityInsert)
	})

	t.Run("column_keys", func(t *testing.T) {
		c := compile(t, users.Insert(), Postgres(), WithColumnKeys("id", "name"))
		assert.Equal(t, "INSERT INTO users (id, name) VALUES ($1, $2)", c.SQL)
		args, err := c.Args(map[string]any{"id": 3, "name": "ed"})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(3), "ed"}, args)
		_, err = c.Args(map[string]any{"id": 3})
		assert.True(t, strata.IsInvalidRequest(err))
	})

	t.Run("returning", func(t *testing.T) {
		stmt := users.Insert().Set("name", "jack").Returning(users.C("id"))
		c := compile(t, stmt, Postgres())
		assert.Equal(t, "INSERT INTO users (name) VALUES ($1) RETURNING users.id", c.SQL)
		i, ok := c.Index(users.C("id"))
		require.True(t, ok)
		assert.Zero(t, i)

		c = compile(t, stmt, MSSQL(true))
		assert.Equal(t, "INSERT INTO users (name) OUTPUT inserted.id VALUES (@p1)", c.SQL)

		_, err := Compile(stmt, SQLite())
		require.Error(t, err)
		assert.True(t, strata.IsCompileError(err))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "INSERT INTO users DEFAULT VALUES", compile(t, users.Insert(), SQLite()).SQL)
		assert.Equal(t, "INSERT INTO users () VALUES ()", compile(t, users.Insert(), MySQL()).SQL)
		assert.Equal(t, "INSERT INTO users OUTPUT inserted.id DEFAULT VALUES", compile(t, users.Insert().Returning(users.C("id")), MSSQL(true)).SQL)

		caps := dialect.CapabilitiesOf(dialect.SQLite)
		caps.DefaultValues = false
		_, err := Compile(users.Insert(), WithCapabilities(SQLite(), caps))
		require.Error(t, err)
		assert.True(t, strata.IsCompileError(err))
	})

	t.Run("prefetch", func(t *testing.T) {
		docs := md.Table("docs",
			expr.Col("id", types.Integer()).PrimaryKey(),
			expr.Col("status", types.String(10)).Default("draft"),
			expr.Col("title", types.String(50)),
		)
		c := compile(t, docs.Insert().Set("title", "a"), SQLite())
		assert.Equal(t, "INSERT INTO docs (status, title) VALUES (?, ?)", c.SQL)
		require.Len(t, c.Prefetch, 1)
		assert.Same(t, docs.C("status"), c.Prefetch[0])
		row := map[string]any{}
		args, err := c.Args(row)
		require.NoError(t, err)
		assert.Equal(t, []any{"draft", "a"}, args)
		assert.Equal(t, "draft", row["status"])
	})

	t.Run("identity_insert", func(t *testing.T) {
		stmt := users.Insert().Set("id", 5).Set("name", "x")
		assert.True(t, compile(t, stmt, MSSQL(true)).IdentityInsert)
		assert.False(t, compile(t, stmt, Postgres()).IdentityInsert)
		assert.Equal(t, "SET IDENTITY_INSERT users ON", MSSQL(true).IdentityInsertSQL("users", true))
	})

	t.Run("rows", func(t *testing.T) {
		c := compile(t, users.Insert(), SQLite(), WithColumnKeys("name"), WithRows(2))
		assert.Equal(t, "INSERT INTO users (name) VALUES (?), (?)", c.SQL)
		args, err := c.Args(map[string]any{"name": "a"}, map[string]any{"name": "b"})
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, args)
		_, err = c.Args(map[string]any{"name": "a"})
		assert.True(t, strata.IsInvalidRequest(err))

		_, err = Compile(users.Insert(), MSSQL(true), WithColumnKeys("name"), WithRows(2))
		assert.True(t, strata.IsCompileError(err))
	})

	t.Run("multi_values", func(t *testing.T) {
		c := compile(t, users.Insert().MultiValues(map[string]any{"name": "a"}, map[string]any{"name": "b"}), SQLite())
		assert.Equal(t, "INSERT INTO users (name) VALUES (?), (?)", c.SQL)
		assert.Equal(t, []string{"name", "name_1"}, c.BindNames())
	})

	t.Run("from_select", func(t *testing.T) {
		archive := md.Table("archive", expr.Col("name", types.String(40)))
		c := compile(t, archive.Insert().FromSelect(archive.Columns(), expr.Select(users.C("name"))), SQLite())
		assert.Equal(t, "INSERT INTO archive (name) SELECT users.name FROM users", c.SQL)
	})
}

func TestUpdateDelete(t *testing.T) {
	md, users, _ := catalog()
	id := users.C("id")

	c := compile(t, users.Update().Set("name", "ed").Where(id.EQ(5)), Postgres())
	assert.Equal(t, "UPDATE users SET name=$1 WHERE users.id = $2", c.SQL)
	assert.Equal(t, []string{"name", "id"}, c.BindNames())

	c = compile(t, users.Update().Where(id.EQ(expr.Param("id", types.Integer()))), SQLite(), WithColumnKeys("name"))
	assert.Equal(t, "UPDATE users SET name=? WHERE users.id = ?", c.SQL)

	_, err := Compile(users.Update().Where(id.EQ(5)), SQLite())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sets no columns")

	stamped := md.Table("stamped",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("body", types.Text()),
		expr.Col("version", types.Integer()).OnUpdate(func() any { return 2 }),
	)
	c = compile(t, stamped.Update().Set("body", "b"), SQLite())
	assert.Equal(t, "UPDATE stamped SET body=?, version=?", c.SQL)
	args, err := c.Args()
	require.NoError(t, err)
	assert.Equal(t, []any{"b", int64(2)}, args)

	touched := md.Table("touched",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("body", types.Text()),
		expr.Col("rev", types.Integer()).Default(1).OnUpdate(func() any { return 9 }),
	)
	params := map[string]any{"body": "b"}
	args, err = compile(t, touched.Update().Set("body", expr.Param("body", types.Text())), SQLite()).Args(params)
	require.NoError(t, err)
	assert.Equal(t, []any{"b", int64(9)}, args)
	assert.Equal(t, 9, params["rev"])
	args, err = compile(t, touched.Insert(), SQLite(), WithColumnKeys("id", "body")).Args(map[string]any{"id": 1, "body": "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "b", int64(1)}, args)

	c = compile(t, users.Delete().Where(id.EQ(5)), MSSQL(true))
	assert.Equal(t, "DELETE FROM users WHERE users.id = @p1", c.SQL)
	assert.Equal(t, "DELETE FROM users", compile(t, users.Delete(), SQLite()).SQL)
}

func TestQuoting(t *testing.T) {
	md := expr.NewMetaData()
	order := md.Table("order",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("Total", types.Integer()),
	)
	sel := expr.Select(order.C("Total")).Where(order.C("id").EQ(1))
	assert.Equal(t, `SELECT "order"."Total" FROM "order" WHERE "order".id = ?`, compile(t, sel, SQLite()).SQL)
	assert.Equal(t, "SELECT `order`.`Total` FROM `order` WHERE `order`.id = ?", compile(t, sel, MySQL()).SQL)
	assert.Equal(t, `SELECT [order].[Total] FROM [order] WHERE [order].id = @p1`, compile(t, sel, MSSQL(true)).SQL)

	p := NewPreparer(`"`, `"`)
	assert.Equal(t, `"a""b"`, p.QuoteAlways(`a"b`))
	assert.Equal(t, "'it''s'", p.Literal("it's"))
	assert.False(t, p.RequiresQuotes("user_id"))
	assert.True(t, p.RequiresQuotes("select"))
	assert.True(t, p.RequiresQuotes("1abc"))
}

func TestLabelTruncation(t *testing.T) {
	md := expr.NewMetaData()
	long := md.Table("a_rather_long_table_name_for_labels",
		expr.Col("an_equally_long_column_name_to_overflow", types.Integer()).PrimaryKey(),
	)
	c := compile(t, long.Select().WithLabels(), Postgres())
	assert.Equal(t, "SELECT a_rather_long_table_name_for_labels.an_equally_long_column_name_to_overflow AS a_rather_long_table_name_for_labels_an_equally_long_column_na_1 FROM a_rather_long_table_name_for_labels", c.SQL)
	assert.Equal(t, "a_rather_long_table_name_for_labels_an_equally_long_column_name_to_overflow", c.ResultColumns[0].Name)
}

func TestResultColumns(t *testing.T) {
	_, users, addresses := catalog()
	u := users.Alias("u")
	c := compile(t, expr.Select(u.C("name"), addresses.C("email"), expr.Count(nil)).From(u.Join(addresses, u.C("id").EQ(addresses.C("user_id")))), SQLite())
	assert.Equal(t, "SELECT u.name, addresses.email, count(*) FROM users AS u JOIN addresses ON u.id = addresses.user_id", c.SQL)
	require.Len(t, c.ResultColumns, 3)
	assert.Equal(t, "name", c.ResultColumns[0].Name)
	assert.Empty(t, c.ResultColumns[2].Name)

	i, ok := c.Index(users.C("name"))
	require.True(t, ok)
	assert.Zero(t, i)
	_, ok = c.Index(users.C("id"))
	assert.False(t, ok)
}

func TestSavepointSQL(t *testing.T) {
	for _, d := range []Dialect{SQLite(), Postgres(), MySQL()} {
		assert.Equal(t, "SAVEPOINT sa_1", d.SavepointSQL("sa_1"), d.Name())
		assert.Equal(t, "ROLLBACK TO SAVEPOINT sa_1", d.RollbackToSavepointSQL("sa_1"), d.Name())
		assert.Equal(t, "RELEASE SAVEPOINT sa_1", d.ReleaseSavepointSQL("sa_1"), d.Name())
	}
	d := MSSQL(true)
	assert.Equal(t, "SAVE TRANSACTION sa_1", d.SavepointSQL("sa_1"))
	assert.Equal(t, "ROLLBACK TRANSACTION sa_1", d.RollbackToSavepointSQL("sa_1"))
	assert.Empty(t, d.ReleaseSavepointSQL("sa_1"))
}

func TestUnsupportedElement(t *testing.T) {
	_, err := Compile(nil, SQLite())
	require.Error(t, err)
	var ce *strata.CompileError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, dialect.SQLite, ce.Dialect)
}
