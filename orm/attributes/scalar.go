package attributes

import (
	"context"

	"github.com/syssam/strata/dialect/sql/types"
)

// ScalarImpl is a column attribute holding an immutable value.
type ScalarImpl struct {
	base
	typ types.Type
}

// NewScalar registers a scalar attribute of type t on m.
func NewScalar(m *ClassManager, key string, t types.Type, opts ...Option) *ScalarImpl {
	a := &ScalarImpl{base: newBase(m, key, opts), typ: t}
	m.Register(a)
	return a
}

// Type returns the value type.
func (a *ScalarImpl) Type() types.Type { return a.typ }

// Uselist is false for scalars.
func (a *ScalarImpl) Uselist() bool { return false }

// Get returns the current value, loading expired or deferred values.
func (a *ScalarImpl) Get(ctx context.Context, s *InstanceState, passive Passive) (any, error) {
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
	return v, nil
}

// Set assigns v, recording the previous value on the first change.
func (a *ScalarImpl) Set(ctx context.Context, s *InstanceState, v any, initiator Impl) error {
	if initiator == Impl(a) {
		return nil
	}
	old, ok := s.Dict[a.key]
	if !ok {
		old = NoValue
	}
	if _, ok := s.Committed[a.key]; !ok {
		s.Committed[a.key] = old
	}
	s.Dict[a.key] = v
	delete(s.expired, a.key)
	s.Modified = true
	return a.fireSet(ctx, s, v, old, initiator, a)
}

// Delete removes the value.
func (a *ScalarImpl) Delete(ctx context.Context, s *InstanceState, initiator Impl) error {
	old, ok := s.Dict[a.key]
	if !ok {
		return noAttribute(s.Manager.Name, a.key)
	}
	if _, ok := s.Committed[a.key]; !ok {
		s.Committed[a.key] = old
	}
	delete(s.Dict, a.key)
	s.Modified = true
	return a.fireRemove(ctx, s, old, initiator, a)
}

// Append sets the value.
func (a *ScalarImpl) Append(ctx context.Context, s *InstanceState, v any, initiator Impl, _ Passive) error {
	return a.Set(ctx, s, v, initiator)
}

// Remove sets the value to nil.
func (a *ScalarImpl) Remove(ctx context.Context, s *InstanceState, _ any, initiator Impl, _ Passive) error {
	return a.Set(ctx, s, nil, initiator)
}

// History compares the current value with the committed one.
func (a *ScalarImpl) History(ctx context.Context, s *InstanceState, passive Passive) (History, error) {
	cur, ok := s.Dict[a.key]
	if !ok {
		cur = NoValue
	}
	return scalarHistory(cur, s.Committed, a.key, a.typ.Compare), nil
}

func (a *ScalarImpl) commit(s *InstanceState, v any) { s.Dict[a.key] = v }

func scalarHistory(cur any, committed map[string]any, key string, eq func(a, b any) bool) History {
	orig, hasOrig := committed[key]
	switch {
	case cur == NoValue:
		if hasOrig && orig != nil && !isSentinel(orig) {
			return History{Deleted: []any{orig}}
		}
		return History{}
	case orig == NoValue:
		return History{Added: []any{cur}}
	case !hasOrig || eq(cur, orig):
		return History{Unchanged: []any{cur}}
	case orig == nil:
		return History{Added: []any{cur}}
	default:
		return History{Added: []any{cur}, Deleted: []any{orig}}
	}
}

// MutableScalarImpl is a column attribute whose value may change in place.
// The committed state always holds a copy of the loaded value, and changes
// are found by comparing the two.
type MutableScalarImpl struct {
	ScalarImpl
}

// NewMutableScalar registers a mutable scalar attribute of type t on m.
func NewMutableScalar(m *ClassManager, key string, t types.Type, opts ...Option) *MutableScalarImpl {
	a := &MutableScalarImpl{ScalarImpl{base: newBase(m, key, opts), typ: t}}
	m.Register(a)
	return a
}

// Set assigns v.
func (a *MutableScalarImpl) Set(ctx context.Context, s *InstanceState, v any, initiator Impl) error {
	if initiator == Impl(a) {
		return nil
	}
	old, ok := s.Dict[a.key]
	if !ok {
		old = NoValue
	}
	if _, ok := s.Committed[a.key]; !ok {
		if isSentinel(old) {
			s.Committed[a.key] = old
		} else {
			s.Committed[a.key] = a.typ.Copy(old)
		}
	}
	s.Dict[a.key] = v
	delete(s.expired, a.key)
	s.Modified = true
	return a.fireSet(ctx, s, v, old, initiator, a)
}

// Get returns the current value.
func (a *MutableScalarImpl) Get(ctx context.Context, s *InstanceState, passive Passive) (any, error) {
	return a.ScalarImpl.Get(ctx, s, passive)
}

// Append sets the value.
func (a *MutableScalarImpl) Append(ctx context.Context, s *InstanceState, v any, initiator Impl, _ Passive) error {
	return a.Set(ctx, s, v, initiator)
}

// Remove sets the value to nil.
func (a *MutableScalarImpl) Remove(ctx context.Context, s *InstanceState, _ any, initiator Impl, _ Passive) error {
	return a.Set(ctx, s, nil, initiator)
}

func (a *MutableScalarImpl) commit(s *InstanceState, v any) {
	s.Dict[a.key] = v
	s.Committed[a.key] = a.typ.Copy(v)
}

func (a *MutableScalarImpl) changed(s *InstanceState) bool {
	cur, ok := s.Dict[a.key]
	if !ok {
		return false
	}
	orig, ok := s.Committed[a.key]
	return ok && !isSentinel(orig) && !a.typ.Compare(cur, orig)
}
