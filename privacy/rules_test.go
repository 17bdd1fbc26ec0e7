package privacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
	"github.com/syssam/strata/privacy"
)

func viewerCtx(v *privacy.SimpleViewer) context.Context {
	return privacy.WithViewer(context.Background(), v)
}

func TestViewerContext(t *testing.T) {
	assert.Nil(t, privacy.ViewerFromContext(context.Background()))

	v := &privacy.SimpleViewer{UserID: "7", Roles: []string{"admin"}, TenantID: "acme"}
	got := privacy.ViewerFromContext(viewerCtx(v))
	require.NotNil(t, got)
	assert.Equal(t, "7", got.GetID())
	assert.Equal(t, []string{"admin"}, got.GetRoles())
	assert.Equal(t, "acme", got.GetTenantID())
}

func TestViewerRules(t *testing.T) {
	admin := viewerCtx(&privacy.SimpleViewer{UserID: "1", Roles: []string{"admin"}})
	user := viewerCtx(&privacy.SimpleViewer{UserID: "2", Roles: []string{"user"}})
	anon := context.Background()

	tests := []struct {
		name string
		rule privacy.QueryMutationRule
		ctx  context.Context
		want error
	}{
		{"DenyIfNoViewer/anonymous", privacy.DenyIfNoViewer(), anon, privacy.Deny},
		{"DenyIfNoViewer/viewer", privacy.DenyIfNoViewer(), user, privacy.Skip},
		{"HasRole/match", privacy.HasRole("admin"), admin, privacy.Allow},
		{"HasRole/miss", privacy.HasRole("admin"), user, privacy.Skip},
		{"HasRole/anonymous", privacy.HasRole("admin"), anon, privacy.Skip},
		{"HasAnyRole/second", privacy.HasAnyRole("moderator", "user"), user, privacy.Allow},
		{"HasAnyRole/none", privacy.HasAnyRole(), admin, privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.rule.EvalQuery(tt.ctx, &mockQuery{}), tt.want)
			assert.ErrorIs(t, tt.rule.EvalMutation(tt.ctx, &mockMutation{}), tt.want)
		})
	}
}

func TestIsOwner(t *testing.T) {
	rule := privacy.IsOwner("user_id")
	ctx := viewerCtx(&privacy.SimpleViewer{UserID: "42"})

	tests := []struct {
		name string
		ctx  context.Context
		m    *mockMutation
		want error
	}{
		{"string", ctx, &mockMutation{field: "user_id", value: "42"}, privacy.Allow},
		{"int64", ctx, &mockMutation{field: "user_id", value: int64(42)}, privacy.Allow},
		{"other", ctx, &mockMutation{field: "user_id", value: 7}, privacy.Skip},
		{"no field", ctx, &mockMutation{field: "owner_id", value: "42"}, privacy.Skip},
		{"anonymous", context.Background(), &mockMutation{field: "user_id", value: "42"}, privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, rule.EvalMutation(tt.ctx, tt.m), tt.want)
		})
	}
}

func TestTenantRule(t *testing.T) {
	rule := privacy.TenantRule("tenant_id")
	acme := viewerCtx(&privacy.SimpleViewer{UserID: "1", TenantID: "acme"})

	assert.ErrorIs(t, rule.EvalMutation(acme, &mockMutation{entity: "Account", field: "tenant_id", value: "acme"}), privacy.Allow)
	err := rule.EvalMutation(acme, &mockMutation{entity: "Account", field: "tenant_id", value: "globex"})
	assert.ErrorIs(t, err, privacy.Deny)
	assert.ErrorContains(t, err, "tenant mismatch on Account")
	assert.ErrorIs(t, rule.EvalMutation(acme, &mockMutation{field: "name", value: "x"}), privacy.Skip)

	noTenant := viewerCtx(&privacy.SimpleViewer{UserID: "1"})
	assert.ErrorIs(t, rule.EvalMutation(noTenant, &mockMutation{field: "tenant_id", value: "acme"}), privacy.Skip)
}

func TestQueryFilters(t *testing.T) {
	md := expr.NewMetaData()
	accounts := md.Table("accounts",
		expr.Col("id", types.Integer()).PrimaryKey(),
		expr.Col("owner_id", types.Integer()),
		expr.Col("tenant_id", types.String(20)),
	)

	bound := func(t *testing.T, q *mockQuery) (*expr.Column, any) {
		t.Helper()
		require.Len(t, q.where, 1)
		b, ok := q.where[0].(*expr.Binary)
		require.True(t, ok)
		assert.Equal(t, expr.OpEQ, b.Op)
		p, ok := b.Right.(*expr.BindParam)
		require.True(t, ok)
		col, _ := b.Left.(*expr.Column)
		return col, p.Value
	}

	t.Run("Owner", func(t *testing.T) {
		rule := privacy.OwnerFilter(accounts.C("owner_id"))
		q := &mockQuery{}
		require.ErrorIs(t, rule.EvalQuery(viewerCtx(&privacy.SimpleViewer{UserID: "9"}), q), privacy.Skip)
		col, v := bound(t, q)
		assert.Same(t, accounts.C("owner_id"), col)
		assert.Equal(t, "9", v)

		q = &mockQuery{}
		assert.ErrorIs(t, rule.EvalQuery(context.Background(), q), privacy.Deny)
		assert.Empty(t, q.where)
	})

	t.Run("Tenant", func(t *testing.T) {
		rule := privacy.TenantFilter(accounts.C("tenant_id"))
		q := &mockQuery{}
		require.ErrorIs(t, rule.EvalQuery(viewerCtx(&privacy.SimpleViewer{UserID: "1", TenantID: "acme"}), q), privacy.Skip)
		_, v := bound(t, q)
		assert.Equal(t, "acme", v)

		err := rule.EvalQuery(viewerCtx(&privacy.SimpleViewer{UserID: "1"}), &mockQuery{})
		assert.ErrorIs(t, err, privacy.Deny)
		assert.ErrorContains(t, err, "tenant required for tenant_id")
		assert.ErrorIs(t, rule.EvalQuery(context.Background(), &mockQuery{}), privacy.Deny)
	})

	t.Run("Unfilterable", func(t *testing.T) {
		err := privacy.OwnerFilter(accounts.C("owner_id")).EvalQuery(viewerCtx(&privacy.SimpleViewer{UserID: "1"}), plainQuery{})
		assert.ErrorIs(t, err, privacy.Deny)
	})
}

type plainQuery struct{}

func (plainQuery) Entity() string { return "Account" }

func TestPolicyChain(t *testing.T) {
	policy := privacy.MutationPolicy{
		privacy.DenyIfNoViewer(),
		privacy.HasRole("admin"),
		privacy.TenantRule("tenant_id"),
		privacy.IsOwner("user_id"),
		privacy.DenyMutationOperationRule(strata.OpDelete),
		privacy.AlwaysAllowRule(),
	}
	member := viewerCtx(&privacy.SimpleViewer{UserID: "5", TenantID: "acme"})

	tests := []struct {
		name string
		ctx  context.Context
		m    *mockMutation
		want error
	}{
		{"anonymous", context.Background(), &mockMutation{op: strata.OpInsert}, privacy.Deny},
		{"admin delete", viewerCtx(&privacy.SimpleViewer{UserID: "1", Roles: []string{"admin"}}), &mockMutation{op: strata.OpDelete}, privacy.Allow},
		{"own tenant", member, &mockMutation{op: strata.OpDelete, field: "tenant_id", value: "acme"}, privacy.Allow},
		{"foreign tenant", member, &mockMutation{op: strata.OpUpdate, field: "tenant_id", value: "globex"}, privacy.Deny},
		{"owner", member, &mockMutation{op: strata.OpDelete, field: "user_id", value: int64(5)}, privacy.Allow},
		{"stranger delete", member, &mockMutation{op: strata.OpDelete, field: "user_id", value: int64(6)}, privacy.Deny},
		{"stranger update", member, &mockMutation{op: strata.OpUpdate}, privacy.Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, policy.EvalMutation(tt.ctx, tt.m), tt.want)
		})
	}
}

func BenchmarkRules(b *testing.B) {
	ctx := viewerCtx(&privacy.SimpleViewer{UserID: "42", Roles: []string{"user"}, TenantID: "acme"})
	m := &mockMutation{op: strata.OpUpdate, field: "user_id", value: int64(42)}
	policy := privacy.MutationPolicy{
		privacy.DenyIfNoViewer(),
		privacy.HasRole("admin"),
		privacy.IsOwner("user_id"),
		privacy.AlwaysDenyRule(),
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = policy.EvalMutation(ctx, m)
	}
}
