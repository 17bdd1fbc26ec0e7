package orm

import (
	"context"
	"fmt"

	"github.com/syssam/strata"
	"github.com/syssam/strata/orm/attributes"
)

// Base is embedded by mapped entity types. Attribute values live in the
// instance state it carries and are read and written with Get and Set:
//
//	type User struct{ orm.Base }
//
//	u := orm.New[*User](reg)
//	err := orm.Set(ctx, u, "name", "jack")
type Base struct {
	state *attributes.InstanceState
}

// InstanceState returns the change-tracking state of the entity.
func (b *Base) InstanceState() *attributes.InstanceState { return b.state }

func (b *Base) setState(s *attributes.InstanceState) { b.state = s }

// Entity is implemented by pointers to types embedding Base.
type Entity interface {
	attributes.Instrumented
	setState(*attributes.InstanceState)
}

// Record is an entity without a Go type of its own. Several mappers may
// share it; the mapper is chosen by name with Registry.NewRecord.
type Record struct {
	Base
}

// Entity returns the name of the mapper of the record.
func (r *Record) Entity() string {
	if r.state == nil {
		return ""
	}
	return r.state.Manager.Name
}

func stateOf(obj any) (*attributes.InstanceState, error) {
	if obj == nil {
		return nil, strata.NewInvalidRequestError("nil object")
	}
	s, ok := attributes.StateOf(obj)
	if !ok {
		return nil, strata.NewInvalidRequestError("%T is not an instrumented entity; create it with New or add it to a session", obj)
	}
	return s, nil
}

func implOf(obj any, key string) (*attributes.InstanceState, attributes.Impl, error) {
	s, err := stateOf(obj)
	if err != nil {
		return nil, nil, err
	}
	a, ok := s.Manager.Attr(key)
	if !ok {
		return nil, nil, strata.NewInvalidRequestError("%s has no attribute %q", s.Manager.Name, key)
	}
	return s, a, nil
}

// Get returns the value of the attribute key of obj, loading it when it is
// unloaded or expired. Collections are returned as *attributes.Collection.
func Get(ctx context.Context, obj any, key string) (any, error) {
	s, a, err := implOf(obj, key)
	if err != nil {
		return nil, err
	}
	return a.Get(ctx, s, attributes.Active)
}

// GetAs returns the attribute key of obj as a T. A nil value yields the
// zero T.
func GetAs[T any](ctx context.Context, obj any, key string) (T, error) {
	var zero T
	v, err := Get(ctx, obj, key)
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("orm: attribute %q holds %T, not %T", key, v, zero)
	}
	return t, nil
}

// Set assigns the attribute key of obj. Relationship attributes take the
// related object, or a []any of them for collections.
func Set(ctx context.Context, obj any, key string, v any) error {
	s, a, err := implOf(obj, key)
	if err != nil {
		return err
	}
	return a.Set(ctx, s, v, nil)
}

// Unset removes the value of the attribute key. It is written as NULL by
// the next flush.
func Unset(ctx context.Context, obj any, key string) error {
	s, a, err := implOf(obj, key)
	if err != nil {
		return err
	}
	return a.Delete(ctx, s, nil)
}

// Append adds v to the collection key of obj.
func Append(ctx context.Context, obj any, key string, v any) error {
	s, a, err := implOf(obj, key)
	if err != nil {
		return err
	}
	return a.Append(ctx, s, v, nil, attributes.Active)
}

// Remove removes v from the collection key of obj.
func Remove(ctx context.Context, obj any, key string, v any) error {
	s, a, err := implOf(obj, key)
	if err != nil {
		return err
	}
	return a.Remove(ctx, s, v, nil, attributes.Active)
}

// Items returns the members of the collection key of obj.
func Items[T any](ctx context.Context, obj any, key string) ([]T, error) {
	v, err := Get(ctx, obj, key)
	if err != nil {
		return nil, err
	}
	c, ok := v.(*attributes.Collection)
	if !ok {
		return nil, fmt.Errorf("orm: attribute %q is not a collection", key)
	}
	items := c.Items()
	out := make([]T, 0, len(items))
	for _, it := range items {
		t, ok := it.(T)
		if !ok {
			return nil, fmt.Errorf("orm: collection %q holds %T", key, it)
		}
		out = append(out, t)
	}
	return out, nil
}

// History returns the changes of the attribute key of obj since it was
// last flushed or loaded. It never emits SQL.
func History(ctx context.Context, obj any, key string) (attributes.History, error) {
	s, a, err := implOf(obj, key)
	if err != nil {
		return attributes.History{}, err
	}
	return a.History(ctx, s, attributes.PassiveNoFetch)
}

// Identity returns the identity key of a persistent or detached object.
func Identity(obj any) (attributes.IdentityKey, bool) {
	s, err := stateOf(obj)
	if err != nil || s.Key == nil {
		return attributes.IdentityKey{}, false
	}
	return *s.Key, true
}
