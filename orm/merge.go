package orm

import (
	"context"
	"slices"

	"github.com/syssam/strata"
	"github.com/syssam/strata/orm/attributes"
)

// MergeOption configures Session.Merge.
type MergeOption func(*merger)

// DontLoad makes Merge trust the given instances instead of loading
// their rows: instances absent from the identity map are attached as
// persistent with the merged values as their committed state. Instances
// with unflushed changes are rejected.
func DontLoad() MergeOption {
	return func(mg *merger) { mg.dontLoad = true }
}

type merger struct {
	s        *Session
	dontLoad bool
	// merged maps source states to their counterpart in the session.
	merged map[*attributes.InstanceState]*attributes.InstanceState
}

// Merge copies the state of obj onto the instance of the session with the
// same identity, loading it when absent, and returns that instance. An
// instance with no identity, or whose row does not exist, is copied into
// a new pending instance. obj itself is not attached. Relationships
// cascading merge are merged recursively.
func (s *Session) Merge(ctx context.Context, obj any, opts ...MergeOption) (any, error) {
	if err := s.registry.ready(); err != nil {
		return nil, err
	}
	mg := &merger{s: s, merged: make(map[*attributes.InstanceState]*attributes.InstanceState)}
	for _, opt := range opts {
		opt(mg)
	}
	st, err := mg.merge(ctx, obj)
	if err != nil {
		return nil, err
	}
	return st.Obj(), nil
}

func (mg *merger) merge(ctx context.Context, obj any) (*attributes.InstanceState, error) {
	s := mg.s
	st, err := s.registry.instrument(obj)
	if err != nil {
		return nil, err
	}
	if ms, ok := mg.merged[st]; ok {
		return ms, nil
	}
	if s.contains(st) {
		return st, nil
	}
	m, err := s.mapper(st)
	if err != nil {
		return nil, err
	}
	ident := st.Ident
	if st.Key == nil {
		ident, _ = m.identityOf(st)
	}
	var (
		merged  *attributes.InstanceState
		trusted bool
	)
	if ident != nil && !slices.Contains(ident, nil) {
		key := m.identityKey(ident)
		switch ex, ok := s.identity.get(key); {
		case ok:
			merged = ex
		case mg.dontLoad:
			if st.Key != nil && st.IsModified() {
				return nil, strata.NewInvalidRequestError("merge with DontLoad does not support %s, which has unflushed changes", describe(st))
			}
			merged = m.newInstance().InstanceState()
			merged.Key, merged.Ident = &key, slices.Clone(ident)
			merged.Session = s
			merged.Touch()
			s.identity.add(merged)
			trusted = true
		default:
			obj, err := s.Query(m).Get(ctx, ident...)
			switch {
			case err == nil:
				merged, _ = attributes.StateOf(obj)
			case !strata.IsNotFound(err):
				return nil, err
			}
		}
	}
	pending := merged == nil
	if pending {
		merged = m.newInstance().InstanceState()
	}
	mg.merged[st] = merged
	for _, p := range m.propOrder {
		v, ok := st.Dict[p.Key()]
		if !ok {
			continue
		}
		switch p := p.(type) {
		case *ColumnProperty:
			if trusted {
				merged.SetCommitted(p.key, v)
				continue
			}
			if err := p.impl.Set(ctx, merged, v, nil); err != nil {
				return nil, err
			}
		case *RelationshipProperty:
			if !p.Cascade.Merge {
				continue
			}
			nv, err := mg.related(ctx, p, v)
			if err != nil {
				return nil, err
			}
			if trusted {
				merged.SetCommitted(p.key, nv)
				continue
			}
			if err := p.impl.Set(ctx, merged, nv, nil); err != nil {
				return nil, err
			}
		}
	}
	if pending {
		if err := s.Add(ctx, merged.Obj()); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// related merges the value of a relationship attribute.
func (mg *merger) related(ctx context.Context, p *RelationshipProperty, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if c, ok := v.(*attributes.Collection); ok {
		items := c.Items()
		out := make([]any, 0, len(items))
		for _, it := range items {
			ms, err := mg.merge(ctx, it)
			if err != nil {
				return nil, err
			}
			out = append(out, ms.Obj())
		}
		return out, nil
	}
	if p.Uselist {
		return nil, strata.NewInvalidRequestError("%s holds %T, not a collection", p, v)
	}
	ms, err := mg.merge(ctx, v)
	if err != nil {
		return nil, err
	}
	return ms.Obj(), nil
}
