package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
)

// Viewer is the principal a session acts for.
type Viewer interface {
	GetID() string
	GetRoles() []string
	// GetTenantID is empty when tenancy does not apply.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a copy of ctx carrying v.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, v)
}

// ViewerFromContext returns the viewer of ctx, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a Viewer backed by plain fields.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

func (v *SimpleViewer) GetID() string       { return v.UserID }
func (v *SimpleViewer) GetRoles() []string  { return v.Roles }
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer denies when ctx carries no viewer and skips otherwise.
// It usually heads a policy:
//
//	privacy.MutationPolicy{
//		privacy.DenyIfNoViewer(),
//		privacy.HasRole("admin"),
//		privacy.AlwaysDenyRule(),
//	}
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("privacy: viewer required")
		}
		return Skip
	})
}

// HasRole allows viewers holding role.
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole allows viewers holding at least one of roles.
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		v := ViewerFromContext(ctx)
		if v == nil {
			return Skip
		}
		if slices.ContainsFunc(roles, func(r string) bool { return slices.Contains(v.GetRoles(), r) }) {
			return Allow
		}
		return Skip
	})
}

// IsOwner allows the flush of an instance whose column attribute field
// holds the viewer id. Values are compared in their fmt.Sprint form, so
// integer keys match their decimal id.
func IsOwner(field string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m strata.Mutation) error {
		v := ViewerFromContext(ctx)
		if v == nil {
			return Skip
		}
		if value, ok := m.Field(field); ok && fmt.Sprint(value) == v.GetID() {
			return Allow
		}
		return Skip
	})
}

// TenantRule denies the flush of an instance whose field differs from the
// viewer tenant. Viewers without a tenant are skipped.
func TenantRule(field string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m strata.Mutation) error {
		v := ViewerFromContext(ctx)
		if v == nil || v.GetTenantID() == "" {
			return Skip
		}
		value, ok := m.Field(field)
		if !ok {
			return Skip
		}
		if fmt.Sprint(value) != v.GetTenantID() {
			return Denyf("privacy: tenant mismatch on %s", m.Entity())
		}
		return Allow
	})
}

// OwnerFilter restricts queries to the rows whose col equals the viewer
// id. Queries without a viewer are denied.
func OwnerFilter(col *expr.Column) QueryRule {
	return FilterFunc(func(ctx context.Context, f Filter) error {
		v := ViewerFromContext(ctx)
		if v == nil {
			return Denyf("privacy: viewer required for %s", col.Name)
		}
		f.WhereP(expr.EQ(col, v.GetID()))
		return Skip
	})
}

// TenantFilter restricts queries to the rows of the viewer tenant.
func TenantFilter(col *expr.Column) QueryRule {
	return FilterFunc(func(ctx context.Context, f Filter) error {
		v := ViewerFromContext(ctx)
		switch {
		case v == nil:
			return Denyf("privacy: viewer required for %s", col.Name)
		case v.GetTenantID() == "":
			return Denyf("privacy: tenant required for %s", col.Name)
		}
		f.WhereP(expr.EQ(col, v.GetTenantID()))
		return Skip
	})
}
