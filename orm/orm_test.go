package orm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
)

type (
	User    struct{ Base }
	Address struct{ Base }
	Node    struct{ Base }
	Item    struct{ Base }
	Keyword struct{ Base }
)

type catalog struct {
	md           *expr.MetaData
	users        *expr.Table
	addresses    *expr.Table
	nodes        *expr.Table
	items        *expr.Table
	keywords     *expr.Table
	itemKeywords *expr.Table
}

func newCatalog() *catalog {
	md := expr.NewMetaData()
	return &catalog{
		md: md,
		users: md.Table("users",
			expr.Col("id", types.Integer()).PrimaryKey(),
			expr.Col("name", types.String(40)).NotNull(),
			expr.Col("version", types.Integer()),
		),
		addresses: md.Table("addresses",
			expr.Col("id", types.Integer()).PrimaryKey(),
			expr.Col("user_id", types.Integer()).References("users.id"),
			expr.Col("email", types.String(100)),
		),
		nodes: md.Table("nodes",
			expr.Col("id", types.Integer()).PrimaryKey(),
			expr.Col("parent_id", types.Integer()).References("nodes.id"),
			expr.Col("data", types.String(30)),
		),
		items: md.Table("items",
			expr.Col("id", types.Integer()).PrimaryKey(),
			expr.Col("name", types.String(30)),
		),
		keywords: md.Table("keywords",
			expr.Col("id", types.Integer()).PrimaryKey(),
			expr.Col("name", types.String(30)),
		),
		itemKeywords: md.Table("item_keywords",
			expr.Col("item_id", types.Integer()).References("items.id"),
			expr.Col("keyword_id", types.Integer()).References("keywords.id"),
		),
	}
}

// registryOptions adds mapper options built from the catalog.
type registryOptions struct {
	user    func(*catalog) []MapperOption
	address func(*catalog) []MapperOption
}

func (c *catalog) options(fn func(*catalog) []MapperOption) []MapperOption {
	if fn == nil {
		return nil
	}
	return fn(c)
}

// newRegistry maps the catalog: users own addresses, nodes form a tree
// and items have keywords.
func newRegistry(t *testing.T, c *catalog, ro registryOptions) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustMap(&User{}, c.users, append([]MapperOption{
		Relationship("addresses", "Address",
			Backref("user"),
			CascadeOn("all, delete-orphan"),
			OrderBy(c.addresses.C("id")),
		),
	}, c.options(ro.user)...)...)
	reg.MustMap(&Address{}, c.addresses, c.options(ro.address)...)
	reg.MustMap(&Node{}, c.nodes,
		Relationship("children", "Node", Backref("parent"), CascadeOn("all"), OrderBy(c.nodes.C("id"))),
	)
	reg.MustMap(&Item{}, c.items,
		Relationship("keywords", "Keyword", Secondary(c.itemKeywords), OrderBy(c.keywords.C("id"))),
	)
	reg.MustMap(&Keyword{}, c.keywords)
	require.NoError(t, reg.Compile())
	return reg
}

// recorder keeps the statements executed through a debug driver.
type recorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *recorder) log(_ context.Context, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = append(r.stmts, fmt.Sprint(v...))
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = nil
}

// execs returns the executed statements with their arguments, without
// the "tx exec: " prefix.
func (r *recorder) execs() []string { return r.cut("tx exec: ") }

// queries returns the SELECT statements run in transactions.
func (r *recorder) queries() []string { return r.cut("tx query: ") }

func (r *recorder) cut(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.stmts {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			out = append(out, rest)
		}
	}
	return out
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, s := range r.execs() {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

type testEnv struct {
	*catalog
	reg    *Registry
	engine *Engine
	rec    *recorder
}

// newEnv returns the mapped catalog over a fresh in-memory database.
func newEnv(t *testing.T, ro registryOptions) *testEnv {
	t.Helper()
	c := newCatalog()
	e, rec := openEngine(t, c.md)
	return &testEnv{catalog: c, reg: newRegistry(t, c, ro), engine: e, rec: rec}
}

// openEngine creates the tables of md in a fresh in-memory database and
// records the statements executed through the returned engine.
func openEngine(t *testing.T, md *expr.MetaData) (*Engine, *recorder) {
	t.Helper()
	drv, err := sql.Open(dialect.SQLite, ":memory:")
	require.NoError(t, err)
	drv.DB().SetMaxOpenConns(1)
	ctx := context.Background()
	require.NoError(t, drv.Exec(ctx, "PRAGMA foreign_keys = ON", []any{}, nil))
	rec := &recorder{}
	e := NewEngine(sql.NewDebugDriver(drv, sql.DebugWithLog(rec.log)))
	require.NoError(t, e.CreateAll(ctx, md))
	t.Cleanup(func() { e.Close() })
	rec.reset()
	return e, rec
}

func (env *testEnv) session(opts ...SessionOption) *Session {
	return env.engine.NewSession(env.reg, opts...)
}

// rows runs a query outside of any session.
func (env *testEnv) rows(t *testing.T, query string, args ...any) [][]any {
	t.Helper()
	var rows sql.Rows
	require.NoError(t, env.engine.Driver().Query(context.Background(), query, args, &rows))
	_, values, err := sql.ScanValues(rows)
	require.NoError(t, err)
	return values
}

func newUser(t *testing.T, reg *Registry, name string, emails ...string) *User {
	t.Helper()
	ctx := context.Background()
	u := New[*User](reg)
	require.NoError(t, Set(ctx, u, "name", name))
	for _, email := range emails {
		a := New[*Address](reg)
		require.NoError(t, Set(ctx, a, "email", email))
		require.NoError(t, Append(ctx, u, "addresses", a))
	}
	return u
}

func attr(t *testing.T, obj any, key string) any {
	t.Helper()
	v, err := Get(context.Background(), obj, key)
	require.NoError(t, err)
	return v
}
