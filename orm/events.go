package orm

import (
	"context"

	"github.com/syssam/strata/orm/attributes"
)

// sessionEvents connects attribute changes to the owning session: changed
// persistent instances are held by the identity map, and objects attached
// through a save-update relationship join the session of their parent.
type sessionEvents struct {
	prop *RelationshipProperty
}

func (e *sessionEvents) Set(ctx context.Context, s *attributes.InstanceState, value, _ any, _ attributes.Impl) error {
	return e.changed(ctx, s, value)
}

func (e *sessionEvents) Append(ctx context.Context, s *attributes.InstanceState, value any, _ attributes.Impl) error {
	return e.changed(ctx, s, value)
}

func (e *sessionEvents) Remove(ctx context.Context, s *attributes.InstanceState, _ any, _ attributes.Impl) error {
	return e.changed(ctx, s, nil)
}

func (e *sessionEvents) changed(ctx context.Context, s *attributes.InstanceState, value any) error {
	sess, ok := s.Session.(*Session)
	if !ok {
		return nil
	}
	if s.Key != nil {
		sess.identity.hold(s)
	}
	if e.prop == nil || !e.prop.Cascade.SaveUpdate || value == nil {
		return nil
	}
	cs, ok := attributes.StateOf(value)
	if !ok || sess.contains(cs) {
		return nil
	}
	return sess.saveOrUpdate(ctx, cs)
}
