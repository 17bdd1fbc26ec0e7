package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
)

func TestCreateTable(t *testing.T) {
	_, users, addresses := catalog()
	tests := []struct {
		d    Dialect
		want string
	}{
		{SQLite(), "CREATE TABLE users (\n\tid INTEGER NOT NULL,\n\tname VARCHAR(40),\n\tPRIMARY KEY (id)\n)"},
		{Postgres(), "CREATE TABLE users (\n\tid SERIAL NOT NULL,\n\tname VARCHAR(40),\n\tPRIMARY KEY (id)\n)"},
		{MySQL(), "CREATE TABLE users (\n\tid INTEGER NOT NULL AUTO_INCREMENT,\n\tname VARCHAR(40),\n\tPRIMARY KEY (id)\n)"},
		{MSSQL(true), "CREATE TABLE users (\n\tid INTEGER NOT NULL IDENTITY(1,1),\n\tname NVARCHAR(40),\n\tPRIMARY KEY (id)\n)"},
	}
	for _, tt := range tests {
		t.Run(tt.d.Name(), func(t *testing.T) {
			stmt, err := CreateTable(users, tt.d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmt)
		})
	}

	stmt, err := CreateTable(addresses, SQLite())
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE addresses (\n\tid INTEGER NOT NULL,\n\tuser_id INTEGER,\n\temail VARCHAR(100) NOT NULL,\n\tPRIMARY KEY (id),\n\tFOREIGN KEY(user_id) REFERENCES users (id) ON DELETE CASCADE\n)", stmt)
	assert.Equal(t, "DROP TABLE addresses", DropTable(addresses, SQLite()))
}

func TestCreateTableConstraints(t *testing.T) {
	md := expr.NewMetaData()
	md.Table("users", expr.Col("id", types.Integer()).PrimaryKey())
	accounts := md.Table("accounts",
		expr.Col("id", types.BigInteger()).PrimaryKey(),
		expr.Col("code", types.String(8)).Unique(),
		expr.Col("owner_id", types.Integer()).References("users.id", expr.ConstraintName("fk_owner"), expr.OnUpdate(expr.Cascade)),
		expr.Col("kind", types.Enum("a", "bb")).NotNull(),
		expr.Col("created", types.DateTime(true)).ServerDefault("CURRENT_TIMESTAMP").Index(),
	).Unique("owner_id", "kind")

	stmt, err := CreateTable(accounts, Postgres())
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE accounts (\n"+
		"\tid BIGSERIAL NOT NULL,\n"+
		"\tcode VARCHAR(8),\n"+
		"\towner_id INTEGER,\n"+
		"\tkind VARCHAR(2) NOT NULL,\n"+
		"\tcreated TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,\n"+
		"\tPRIMARY KEY (id),\n"+
		"\tUNIQUE (code),\n"+
		"\tUNIQUE (owner_id, kind),\n"+
		"\tCONSTRAINT fk_owner FOREIGN KEY(owner_id) REFERENCES users (id) ON UPDATE CASCADE\n"+
		")", stmt)

	stmt, err = CreateTable(accounts, MySQL())
	require.NoError(t, err)
	assert.Contains(t, stmt, "\tkind ENUM('a','bb') NOT NULL,\n")

	assert.Equal(t, []string{"CREATE INDEX ix_accounts_created ON accounts (created)"}, CreateIndexes(accounts, Postgres()))
}

func TestAddForeignKeys(t *testing.T) {
	md := expr.NewMetaData()
	md.Table("a",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("b_id", types.Integer()).References("b.id", expr.UseAlter(), expr.ConstraintName("fk_a_b")),
	)
	md.Table("b",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("a_id", types.Integer()).References("a.id"),
	)
	a, _ := md.Lookup("a")

	stmt, err := CreateTable(a, Postgres())
	require.NoError(t, err)
	assert.NotContains(t, stmt, "FOREIGN KEY")
	stmts, err := AddForeignKeys(a, Postgres())
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE a ADD CONSTRAINT fk_a_b FOREIGN KEY(b_id) REFERENCES b (id)"}, stmts)

	stmt, err = CreateTable(a, SQLite())
	require.NoError(t, err)
	assert.Contains(t, stmt, "CONSTRAINT fk_a_b FOREIGN KEY(b_id) REFERENCES b (id)")
	stmts, err = AddForeignKeys(a, SQLite())
	require.NoError(t, err)
	assert.Empty(t, stmts)

	c := md.Table("c",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("a_id", types.Integer()).References("a.id", expr.UseAlter()),
	)
	_, err = AddForeignKeys(c, Postgres())
	assert.True(t, strata.IsCompileError(err))
}

func TestCreateTableErrors(t *testing.T) {
	md := expr.NewMetaData()
	bad := md.Table("bad", expr.Col("x", types.Null()))
	_, err := CreateTable(bad, SQLite())
	require.Error(t, err)
	assert.True(t, strata.IsCompileError(err))

	dangling := md.Table("dangling",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("ref", types.Integer()).References("missing.id"),
	)
	_, err = CreateTable(dangling, SQLite())
	require.Error(t, err)
	assert.True(t, strata.IsInvalidRequest(err))
}
