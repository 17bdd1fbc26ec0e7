// Package privacy provides rules deciding whether queries and flushes of
// mapped entities may proceed.
//
// A Policy is attached to a mapper with orm.WithPolicy. Query rules run
// before a query of the entity executes and may narrow it through
// FilterFunc or the OwnerFilter and TenantFilter rules. Mutation rules
// run for every instance a flush is about to insert, update or delete; a
// denial aborts the flush and rolls it back.
//
//	policy := privacy.Policy{
//		Query: privacy.QueryPolicy{
//			privacy.TenantFilter(accounts.C("tenant_id")),
//		},
//		Mutation: privacy.MutationPolicy{
//			privacy.DenyIfNoViewer(),
//			privacy.HasRole("admin"),
//			privacy.TenantRule("tenant_id"),
//			privacy.AlwaysDenyRule(),
//		},
//	}
//
// Rules return Allow, Deny or Skip. Evaluation stops at the first
// decision other than Skip; a policy whose rules all skip allows the
// operation. DecisionContext short-circuits every policy evaluated under
// the returned context.
package privacy
