package attributes

import "context"

// Backref keeps the attribute key of related objects in step with owner:
// setting, appending or removing on owner performs the inverse operation
// on the other side. Re-entry into the attribute that started the chain
// is stopped by the initiator check of each attribute.
func Backref(owner Impl, key string) Extension {
	return &backref{owner: owner, key: key}
}

type backref struct {
	owner Impl
	key   string
}

func (b *backref) reverse(obj any) (*InstanceState, Impl, bool) {
	s, ok := StateOf(obj)
	if !ok {
		return nil, nil, false
	}
	a, ok := s.Manager.Attr(b.key)
	return s, a, ok
}

func (b *backref) Set(ctx context.Context, s *InstanceState, child, old any, initiator Impl) error {
	if old == child {
		return nil
	}
	if old != nil && !isSentinel(old) {
		// The old side is told by the owner itself, so that a move between
		// two parents through the same collection still leaves the first.
		if os, a, ok := b.reverse(old); ok {
			if err := a.Remove(ctx, os, s.Obj(), b.owner, PassiveNoFetch); err != nil {
				return err
			}
		}
	}
	if child != nil {
		if cs, a, ok := b.reverse(child); ok {
			return a.Append(ctx, cs, s.Obj(), initiator, PassiveNoFetch)
		}
	}
	return nil
}

func (b *backref) Append(ctx context.Context, s *InstanceState, child any, initiator Impl) error {
	if cs, a, ok := b.reverse(child); ok {
		return a.Append(ctx, cs, s.Obj(), initiator, PassiveNoFetch)
	}
	return nil
}

func (b *backref) Remove(ctx context.Context, s *InstanceState, child any, initiator Impl) error {
	if cs, a, ok := b.reverse(child); ok {
		return a.Remove(ctx, cs, s.Obj(), initiator, PassiveNoFetch)
	}
	return nil
}
