package orm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
	"github.com/syssam/strata/privacy"
)

// seed stores jack with two addresses, ed with one and fred with none.
func seed(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	s := env.session()
	require.NoError(t, s.AddAll(ctx,
		newUser(t, env.reg, "jack", "jack@example.com", "jack@work.com"),
		newUser(t, env.reg, "ed", "ed@example.com"),
		newUser(t, env.reg, "fred"),
	))
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close(ctx))
	env.rec.reset()
}

func names(t *testing.T, users []*User) []string {
	t.Helper()
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = attr(t, u, "name").(string)
	}
	return out
}

func TestQueryStatement(t *testing.T) {
	env := newEnv(t, registryOptions{})
	s := env.session()
	users, addresses := env.users, env.addresses

	base := s.Query("User")
	q := base.Where(users.C("name").Like("j%")).OrderBy(users.C("id").Desc()).Limit(2).Offset(1)
	got, err := q.SQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT users.id, users.name, users.version FROM users WHERE users.name LIKE ? ORDER BY users.id DESC LIMIT 2 OFFSET 1", got)

	got, err = base.SQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT users.id, users.name, users.version FROM users", got, "builders leave the receiver unchanged")

	got, err = base.Join("addresses").FilterBy(map[string]any{"email": "ed@example.com"}).SQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT users.id, users.name, users.version FROM users JOIN addresses ON users.id = addresses.user_id WHERE addresses.email = ?", got)

	got, err = s.Query("Address").FilterBy(map[string]any{"user": nil}).SQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT addresses.id, addresses.user_id, addresses.email FROM addresses WHERE addresses.user_id IS NULL", got)

	got, err = base.Join("addresses").ResetJoinPoint().FilterBy(map[string]any{"name": "ed"}).Where(expr.EQ(addresses.C("email"), "x")).SQL()
	require.NoError(t, err)
	assert.Contains(t, got, "WHERE users.name = ? AND addresses.email = ?")

	for name, q := range map[string]*Query{
		"UnknownMapper":    s.Query("Nope"),
		"UnknownAttribute": base.FilterBy(map[string]any{"nope": 1}),
		"CollectionFilter": base.FilterBy(map[string]any{"addresses": nil}),
		"SelfJoin":         s.Query("Node").Join("children"),
		"UnknownJoin":      base.Join("nope"),
		"BadSlice":         base.Slice(2, 1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := q.SQL()
			require.Error(t, err)
			assert.True(t, strata.IsInvalidRequest(err), err)
			_, err = q.All(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestQueryResults(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registryOptions{})
	seed(t, env)
	s := env.session()
	users, addresses := env.users, env.addresses

	all, err := All[*User](ctx, s.Query("User").OrderBy(users.C("name")))
	require.NoError(t, err)
	assert.Equal(t, []string{"ed", "fred", "jack"}, names(t, all))

	withAddr, err := All[*User](ctx, s.Query("User").Join("addresses").OrderBy(users.C("id")))
	require.NoError(t, err)
	assert.Equal(t, []string{"jack", "ed"}, names(t, withAddr), "joined rows yield each instance once")

	without, err := All[*User](ctx, s.Query("User").OuterJoin("addresses").Where(expr.IsNull(addresses.C("id"))))
	require.NoError(t, err)
	assert.Equal(t, []string{"fred"}, names(t, without))

	many, err := All[*User](ctx, s.Query("User").Join("addresses").
		GroupBy(users.C("id"), users.C("name"), users.C("version")).
		Having(expr.GT(expr.Count(nil), 1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"jack"}, names(t, many))

	page, err := All[*User](ctx, s.Query("User").OrderBy(users.C("id")).Slice(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"ed"}, names(t, page))

	edAddrs, err := All[*Address](ctx, s.Query("Address").Join("User").Where(users.C("name").EQ("ed")))
	require.NoError(t, err)
	require.Len(t, edAddrs, 1)
	assert.Equal(t, "ed@example.com", attr(t, edAddrs[0], "email"))

	jack, err := One[*User](ctx, s.Query("User").Where(users.C("name").EQ(expr.Param("name", types.String(40)))).
		Params(map[string]any{"name": "jack"}))
	require.NoError(t, err)
	n, err := s.Query("Address").FilterBy(map[string]any{"user": jack}).Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.Query("User").Where(users.C("name").Like("%e%")).Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ok, err := s.Query("User").FilterBy(map[string]any{"name": "wendy"}).Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Query("User").FilterBy(map[string]any{"name": "wendy"}).First(ctx)
	assert.True(t, strata.IsNotFound(err))
	_, err = s.Query("User").One(ctx)
	assert.True(t, strata.IsNotSingular(err))

	first, err := First[*User](ctx, s.Query("User").OrderBy(users.C("id")))
	require.NoError(t, err)
	assert.Same(t, jack, first)
	require.NoError(t, s.Rollback(ctx))
}

func TestQueryAutoflush(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registryOptions{})
	s := env.session()
	require.NoError(t, s.Add(ctx, newUser(t, env.reg, "wendy")))

	q := s.Query("User").FilterBy(map[string]any{"name": "wendy"})
	_, err := q.NoAutoflush().One(ctx)
	assert.True(t, strata.IsNotFound(err))
	assert.Len(t, s.New(), 1)

	err = s.NoAutoflush(func() error {
		_, err := q.One(ctx)
		return err
	})
	assert.True(t, strata.IsNotFound(err))

	u, err := q.One(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.New())
	_, ok := Identity(u)
	assert.True(t, ok)
	require.NoError(t, s.Rollback(ctx))

	manual := env.session(WithAutoflush(false))
	require.NoError(t, manual.Add(ctx, newUser(t, env.reg, "jill")))
	_, err = manual.Query("User").FilterBy(map[string]any{"name": "jill"}).One(ctx)
	assert.True(t, strata.IsNotFound(err))
	require.NoError(t, manual.Rollback(ctx))
}

func TestQueryPopulateExisting(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registryOptions{})
	seed(t, env)
	s := env.session()
	q := s.Query("User").FilterBy(map[string]any{"id": int64(1)}).NoAutoflush()

	u, err := One[*User](ctx, q)
	require.NoError(t, err)
	require.NoError(t, Set(ctx, u, "name", "changed"))

	again, err := One[*User](ctx, q)
	require.NoError(t, err)
	assert.Same(t, u, again)
	assert.Equal(t, "changed", attr(t, u, "name"), "loaded rows keep pending changes")

	again, err = One[*User](ctx, q.PopulateExisting())
	require.NoError(t, err)
	assert.Same(t, u, again)
	assert.Equal(t, "jack", attr(t, u, "name"))
	assert.False(t, s.IsModified(u))

	got, err := s.Query("User").PopulateExisting().Get(ctx, int64(1))
	require.NoError(t, err)
	assert.Same(t, u, got)
	require.NoError(t, s.Rollback(ctx))
}

func TestLazyLoading(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registryOptions{})
	seed(t, env)
	s := env.session()

	jack, err := GetByID[*User](ctx, s, "User", int64(1))
	require.NoError(t, err)
	env.rec.reset()
	addrs, err := Items[*Address](ctx, jack, "addresses")
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "jack@example.com", attr(t, addrs[0], "email"))
	assert.Equal(t, "jack@work.com", attr(t, addrs[1], "email"))
	require.Len(t, env.rec.queries(), 1)
	assert.True(t, strings.HasPrefix(env.rec.queries()[0],
		"SELECT addresses.id, addresses.user_id, addresses.email FROM addresses WHERE addresses.user_id = ? ORDER BY addresses.id"))

	env.rec.reset()
	assert.Same(t, jack, attr(t, addrs[0], "user"))
	assert.Empty(t, env.rec.queries(), "many-to-one is served by the identity map")

	fred, err := GetByID[*User](ctx, s, "User", int64(3))
	require.NoError(t, err)
	empty, err := Items[*Address](ctx, fred, "addresses")
	require.NoError(t, err)
	assert.Empty(t, empty)

	s.ExpungeAll()
	a, err := GetByID[*Address](ctx, s, "Address", int64(3))
	require.NoError(t, err)
	env.rec.reset()
	owner, err := GetAs[*User](ctx, a, "user")
	require.NoError(t, err)
	assert.Equal(t, "ed", attr(t, owner, "name"))
	assert.Len(t, env.rec.queries(), 1)
	require.NoError(t, s.Close(ctx))

	_, err = Items[*Address](ctx, owner, "addresses")
	assert.True(t, strata.IsInvalidRequest(err), "detached instances do not load")
}

func TestDeferredColumns(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registryOptions{
		address: func(*catalog) []MapperOption { return []MapperOption{Deferred("email")} },
	})
	seed(t, env)
	s := env.session()

	got, err := s.Query("Address").SQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT addresses.id, addresses.user_id FROM addresses", got)

	a, err := GetByID[*Address](ctx, s, "Address", int64(1))
	require.NoError(t, err)
	assert.False(t, a.InstanceState().Loaded("email"))
	env.rec.reset()
	assert.Equal(t, "jack@example.com", attr(t, a, "email"))
	assert.Equal(t, []string{"SELECT addresses.email FROM addresses WHERE addresses.id = ? args: [1]"}, env.rec.queries())
	require.NoError(t, s.Rollback(ctx))
}

func TestQueryPolicy(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registryOptions{
		user: func(c *catalog) []MapperOption {
			return []MapperOption{WithPolicy(privacy.Policy{
				Query: privacy.QueryPolicy{
					privacy.FilterFunc(func(ctx context.Context, f privacy.Filter) error {
						if privacy.ViewerFromContext(ctx) == nil {
							return privacy.Skip
						}
						f.WhereP(expr.NE(c.users.C("name"), "fred"))
						return privacy.Skip
					}),
				},
				Mutation: privacy.MutationPolicy{privacy.DenyMutationOperationRule(strata.OpDelete)},
			})}
		},
	})
	seed(t, env)
	s := env.session()

	n, err := s.Query("User").Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	viewer := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "1"})
	visible, err := All[*User](viewer, s.Query("User").OrderBy(env.users.C("id")))
	require.NoError(t, err)
	assert.Equal(t, []string{"jack", "ed"}, names(t, visible))

	require.NoError(t, s.Delete(ctx, visible[1]))
	err = s.Flush(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, privacy.Deny))
	deleted := s.Deleted()
	require.Len(t, deleted, 2, "the delete cascades to the address")
	assert.Contains(t, deleted, any(visible[1]))
	addr, ok := deleted[0].(*Address)
	if !ok {
		addr, ok = deleted[1].(*Address)
	}
	require.True(t, ok)
	assert.Equal(t, "ed@example.com", addr.InstanceState().Dict["email"])
	require.NoError(t, s.Rollback(ctx))
}

func TestQueryOwnerFilter(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, registryOptions{
		address: func(c *catalog) []MapperOption {
			return []MapperOption{WithPolicy(privacy.Policy{
				Query: privacy.QueryPolicy{privacy.OwnerFilter(c.addresses.C("user_id"))},
			})}
		},
	})
	seed(t, env)
	s := env.session()

	_, err := s.Query("Address").All(ctx)
	assert.ErrorIs(t, err, privacy.Deny)

	jack := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "1"})
	got, err := All[*Address](jack, s.Query("Address").OrderBy(env.addresses.C("id")))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "jack@example.com", attr(t, got[0], "email"))
	assert.Equal(t, "jack@work.com", attr(t, got[1], "email"))
	require.NoError(t, s.Rollback(ctx))
}
