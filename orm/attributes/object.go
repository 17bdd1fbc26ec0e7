package attributes

import "context"

// ObjectImpl is a scalar reference to another instrumented object, the
// many-to-one or one-to-one side of a relationship. Values are compared
// by identity.
type ObjectImpl struct {
	base
}

// NewObject registers an object attribute on m.
func NewObject(m *ClassManager, key string, opts ...Option) *ObjectImpl {
	a := &ObjectImpl{base: newBase(m, key, opts)}
	m.Register(a)
	return a
}

// Uselist is false for object references.
func (a *ObjectImpl) Uselist() bool { return false }

// Get returns the referenced object, lazily loading it for persistent
// instances.
func (a *ObjectImpl) Get(ctx context.Context, s *InstanceState, passive Passive) (any, error) {
	if v, ok := s.Dict[a.key]; ok {
		return v, nil
	}
	v, loaded, err := a.load(ctx, s, passive)
	if err != nil || v == NoResult {
		return v, err
	}
	if loaded {
		if _, ok := s.Dict[a.key]; !ok {
			s.SetCommitted(a.key, v)
		}
		return s.Dict[a.key], nil
	}
	return nil, nil
}

// Set references v. The previous value is read without loading it.
func (a *ObjectImpl) Set(ctx context.Context, s *InstanceState, v any, initiator Impl) error {
	if initiator == Impl(a) {
		return nil
	}
	old, err := a.Get(ctx, s, PassiveNoFetch)
	if err != nil {
		return err
	}
	if old == NoResult {
		old = NoValue
	}
	if _, ok := s.Dict[a.key]; ok && old == v {
		return nil
	}
	if _, ok := s.Committed[a.key]; !ok {
		s.Committed[a.key] = old
	}
	s.Dict[a.key] = v
	s.Modified = true
	if a.trackParent {
		if os, ok := StateOf(old); ok {
			os.SetHasParent(a, false)
		}
		if ns, ok := StateOf(v); ok {
			ns.SetHasParent(a, true)
		}
	}
	return a.fireSet(ctx, s, v, old, initiator, a)
}

// Delete clears the reference.
func (a *ObjectImpl) Delete(ctx context.Context, s *InstanceState, initiator Impl) error {
	old, err := a.Get(ctx, s, PassiveNoFetch)
	if err != nil {
		return err
	}
	if old == NoResult {
		old = NoValue
	}
	if _, ok := s.Committed[a.key]; !ok {
		s.Committed[a.key] = old
	}
	delete(s.Dict, a.key)
	s.Modified = true
	if isSentinel(old) || old == nil {
		return nil
	}
	return a.fireRemove(ctx, s, old, initiator, a)
}

// Append references v.
func (a *ObjectImpl) Append(ctx context.Context, s *InstanceState, v any, initiator Impl, _ Passive) error {
	return a.Set(ctx, s, v, initiator)
}

// Remove clears the reference when it points to v or is not loaded.
func (a *ObjectImpl) Remove(ctx context.Context, s *InstanceState, v any, initiator Impl, _ Passive) error {
	if initiator == Impl(a) {
		return nil
	}
	cur, err := a.Get(ctx, s, PassiveNoFetch)
	if err != nil {
		return err
	}
	if cur != NoResult && cur != v {
		return nil
	}
	return a.Set(ctx, s, nil, initiator)
}

// History reports the previous and current referenced objects. A
// reference cleared to nil is reported as an added nil.
func (a *ObjectImpl) History(ctx context.Context, s *InstanceState, passive Passive) (History, error) {
	cur, ok := s.Dict[a.key]
	if !ok {
		if _, changed := s.Committed[a.key]; changed || passive == PassiveNoFetch {
			cur = NoValue
		} else {
			v, err := a.Get(ctx, s, passive)
			if err != nil {
				return History{}, err
			}
			if v == nil || v == NoResult {
				return History{}, nil
			}
			return History{Unchanged: []any{v}}, nil
		}
	}
	h := scalarHistory(cur, s.Committed, a.key, func(x, y any) bool { return x == y })
	if len(h.Unchanged) == 1 && h.Unchanged[0] == nil {
		h.Unchanged = nil
	}
	return h, nil
}
