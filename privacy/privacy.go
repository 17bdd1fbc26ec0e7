package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
)

// Decisions returned by rules. Check them with errors.Is.
var (
	// Allow ends the evaluation of a policy and lets the operation proceed.
	Allow = errors.New("privacy: allow rule")
	// Deny ends the evaluation of a policy and rejects the operation.
	Deny = errors.New("privacy: deny rule")
	// Skip passes the decision to the next rule.
	Skip = errors.New("privacy: skip rule")
)

// Allowf returns a formatted decision wrapping Allow.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted decision wrapping Deny.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted decision wrapping Skip.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// AlwaysAllowRule allows every query and flush.
func AlwaysAllowRule() QueryMutationRule { return fixedDecision{Allow} }

// AlwaysDenyRule denies every query and flush.
func AlwaysDenyRule() QueryMutationRule { return fixedDecision{Deny} }

// ContextQueryMutationRule builds a rule from a function of the context
// alone. A nil result is treated as Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

type (
	// QueryRule decides whether a query may run, and may narrow it.
	QueryRule interface {
		EvalQuery(context.Context, strata.Query) error
	}

	// QueryPolicy evaluates query rules in order.
	QueryPolicy []QueryRule

	// MutationRule decides whether the flush of one instance may proceed.
	MutationRule interface {
		EvalMutation(context.Context, strata.Mutation) error
	}

	// MutationPolicy evaluates mutation rules in order.
	MutationPolicy []MutationRule

	// QueryMutationRule is both a query and a mutation rule.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// MutationRuleFunc adapts a function to MutationRule.
type MutationRuleFunc func(context.Context, strata.Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m strata.Mutation) error {
	return f(ctx, m)
}

// QueryRuleFunc adapts a function to QueryRule.
type QueryRuleFunc func(context.Context, strata.Query) error

// EvalQuery returns f(ctx, q).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, q strata.Query) error {
	return f(ctx, q)
}

// OnMutationOperation applies rule to the given flush operations only.
func OnMutationOperation(rule MutationRule, op strata.Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m strata.Mutation) error {
		if m.Op().Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// DenyMutationOperationRule denies the given flush operations.
func DenyMutationOperationRule(op strata.Op) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m strata.Mutation) error {
		return Denyf("privacy: operation %s on %s is not allowed", m.Op(), m.Entity())
	})
	return OnMutationOperation(rule, op)
}

// AllowMutationOperationRule allows the given flush operations.
func AllowMutationOperationRule(op strata.Op) MutationRule {
	rule := MutationRuleFunc(func(context.Context, strata.Mutation) error {
		return Allow
	})
	return OnMutationOperation(rule, op)
}

// Policy groups a query and a mutation policy. It implements
// strata.Policy and is attached to mappers.
type Policy struct {
	Query    QueryPolicy
	Mutation MutationPolicy
}

// EvalQuery evaluates the query policy.
func (p Policy) EvalQuery(ctx context.Context, q strata.Query) error {
	return p.Query.EvalQuery(ctx, q)
}

// EvalMutation evaluates the mutation policy.
func (p Policy) EvalMutation(ctx context.Context, m strata.Mutation) error {
	return p.Mutation.EvalMutation(ctx, m)
}

// Policies combines policies, for example those of a mapper and of its
// inherited mappers. The first Allow ends the evaluation.
type Policies []strata.Policy

// NewPolicies returns the non-nil policies as one.
func NewPolicies(policies ...strata.Policy) strata.Policy {
	ps := make(Policies, 0, len(policies))
	for _, p := range policies {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ps
}

// EvalQuery evaluates the query policies.
func (policies Policies) EvalQuery(ctx context.Context, q strata.Query) error {
	return policies.eval(ctx, func(p strata.Policy) error {
		return p.EvalQuery(ctx, q)
	})
}

// EvalMutation evaluates the mutation policies.
func (policies Policies) EvalMutation(ctx context.Context, m strata.Mutation) error {
	return policies.eval(ctx, func(p strata.Policy) error {
		return p.EvalMutation(ctx, m)
	})
}

func (policies Policies) eval(ctx context.Context, eval func(strata.Policy) error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, p := range policies {
		switch decision := eval(p); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// EvalQuery evaluates q against the rules.
func (policies QueryPolicy) EvalQuery(ctx context.Context, q strata.Query) error {
	for _, rule := range policies {
		switch decision := rule.EvalQuery(ctx, q); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates m against the rules.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m strata.Mutation) error {
	for _, rule := range policies {
		switch decision := rule.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext attaches a decision to the context. Policies evaluated
// under it return the decision without running their rules.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext returns the decision attached to ctx. An Allow
// decision is returned as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, strata.Query) error       { return f.decision }
func (f fixedDecision) EvalMutation(context.Context, strata.Mutation) error { return f.decision }

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ strata.Query) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalMutation(ctx context.Context, _ strata.Mutation) error {
	return c.eval(ctx)
}

// Filter narrows the rows a query returns.
type Filter interface {
	// WhereP adds criteria to the WHERE clause of the query.
	WhereP(...expr.Element)
}

// Filterable is implemented by queries that accept filters.
type Filterable interface {
	Filter() Filter
}

// FilterFunc is a query rule that adds criteria to the query:
//
//	privacy.FilterFunc(func(ctx context.Context, f privacy.Filter) error {
//		f.WhereP(expr.EQ(accounts.C("tenant_id"), tenant))
//		return privacy.Skip
//	})
type FilterFunc func(context.Context, Filter) error

// EvalQuery calls f with the filter of q.
func (f FilterFunc) EvalQuery(ctx context.Context, q strata.Query) error {
	fr, ok := q.(Filterable)
	if !ok {
		return Denyf("privacy: query type %T does not support filtering", q)
	}
	return f(ctx, fr.Filter())
}

var _ QueryRule = FilterFunc(nil)
