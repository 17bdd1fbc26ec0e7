package cli

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/strata/dialect/sql/schema"
)

// execute runs the strata command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"ddl", "validate", "diff", "fmt", "create", "drop"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	_, err := execute(t, "--format", "xml", "validate", "testdata/catalog.yaml")
	assert.ErrorContains(t, err, `invalid format "xml"`)
}

func TestDDL(t *testing.T) {
	g := golden(t)
	for name, args := range map[string][]string{
		"ddl_sqlite":   {"ddl", "testdata/catalog.yaml"},
		"ddl_postgres": {"ddl", "-d", "postgres", "testdata/catalog.yaml"},
		"ddl_drop":     {"ddl", "--drop", "testdata/catalog.yaml"},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := execute(t, args...)
			require.NoError(t, err)
			g.Assert(t, name, []byte(out))
		})
	}

	_, err := execute(t, "ddl", "-d", "oracle", "testdata/catalog.yaml")
	assert.Equal(t, ExitCommandError, ExitCode(err))
	_, err = execute(t, "ddl", "testdata/missing.yaml")
	assert.Equal(t, ExitCommandError, ExitCode(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", "testdata/catalog.yaml")
	require.NoError(t, err)
	assert.Equal(t, "No issues found\n", out)

	out, err = execute(t, "validate", "testdata/invalid.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
	golden(t).Assert(t, "validate_invalid", []byte(out))

	out, err = execute(t, "--format", "json", "validate", "testdata/invalid.yaml")
	require.Error(t, err)
	var r report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 2)
	assert.Equal(t, issue{Table: "logs", Message: "table has no primary key and cannot be mapped"}, r.Errors[0])
	assert.Equal(t, []issue{{Table: "logs", Column: "level", Message: "column has no type"}}, r.Warnings)
}

func TestDiff(t *testing.T) {
	out, err := execute(t, "diff", "testdata/catalog.yaml", "testdata/catalog_v2.yaml")
	assert.Equal(t, ExitFailure, ExitCode(err))
	golden(t).Assert(t, "diff", []byte(out))

	out, err = execute(t, "diff", "--allow-drop-table", "testdata/catalog.yaml", "testdata/catalog_v2.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "addresses: table will be dropped [BREAKING]")
}

func TestFmt(t *testing.T) {
	out, err := execute(t, "fmt", "testdata/catalog.yaml")
	require.NoError(t, err)
	md, err := schema.Load(bytes.NewReader([]byte(out)))
	require.NoError(t, err)
	orig, err := schema.LoadFile("testdata/catalog.yaml")
	require.NoError(t, err)
	assert.Equal(t, schema.Dump(orig), schema.Dump(md), "formatting keeps the catalog")
}

func TestCreateDrop(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "app.db")
	config := filepath.Join(dir, "strata.yaml")
	require.NoError(t, os.WriteFile(config, []byte("dialect: sqlite\ndsn: "+dsn+"\n"), 0o600))

	out, err := execute(t, "create", "-c", config, "testdata/catalog.yaml")
	require.NoError(t, err)
	assert.Equal(t, "create: 2 table(s)\n", out)

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'table'").Scan(&n))
	assert.Equal(t, 2, n)

	_, err = execute(t, "create", "-c", config, "testdata/catalog.yaml")
	assert.Equal(t, ExitCommandError, ExitCode(err), "tables exist already")

	_, err = execute(t, "drop", "-c", config, "testdata/catalog.yaml")
	require.NoError(t, err)
	require.NoError(t, db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'table'").Scan(&n))
	assert.Equal(t, 0, n)

	_, err = execute(t, "create", "-c", filepath.Join(dir, "missing.yaml"), "testdata/catalog.yaml")
	assert.Equal(t, ExitCommandError, ExitCode(err))
}
