package attributes

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/strata"
)

// Collection is the ordered container behind a collection attribute.
// Members are compared by identity and held at most once.
type Collection struct {
	items []any
}

// Items returns a copy of the members.
func (c *Collection) Items() []any { return slices.Clone(c.items) }

// Len returns the number of members.
func (c *Collection) Len() int { return len(c.items) }

// Contains reports whether v is a member.
func (c *Collection) Contains(v any) bool { return c.index(v) >= 0 }

func (c *Collection) index(v any) int {
	for i, it := range c.items {
		if it == v {
			return i
		}
	}
	return -1
}

// pendingCollection records changes made to a collection that was not
// loaded; they are applied once it is.
type pendingCollection struct {
	added, removed []any
}

func (p *pendingCollection) clone() *pendingCollection {
	return &pendingCollection{added: slices.Clone(p.added), removed: slices.Clone(p.removed)}
}

func (p *pendingCollection) append(v any) {
	if i := slices.IndexFunc(p.removed, func(x any) bool { return x == v }); i >= 0 {
		p.removed = slices.Delete(p.removed, i, i+1)
		return
	}
	p.added = append(p.added, v)
}

func (p *pendingCollection) remove(v any) {
	if i := slices.IndexFunc(p.added, func(x any) bool { return x == v }); i >= 0 {
		p.added = slices.Delete(p.added, i, i+1)
		return
	}
	p.removed = append(p.removed, v)
}

// CollectionImpl is a one-to-many or many-to-many collection attribute.
type CollectionImpl struct {
	base
}

// NewCollection registers a collection attribute on m.
func NewCollection(m *ClassManager, key string, opts ...Option) *CollectionImpl {
	a := &CollectionImpl{base: newBase(m, key, opts)}
	m.Register(a)
	return a
}

// Uselist is true for collections.
func (a *CollectionImpl) Uselist() bool { return true }

// Get returns the *Collection, loading it for persistent instances.
// Transient and pending instances start with an empty collection.
func (a *CollectionImpl) Get(ctx context.Context, s *InstanceState, passive Passive) (any, error) {
	if v, ok := s.Dict[a.key]; ok {
		return v, nil
	}
	v, loaded, err := a.load(ctx, s, passive)
	if err != nil || v == NoResult {
		return v, err
	}
	if loaded {
		items, ok := v.([]any)
		if !ok && v != nil {
			return nil, fmt.Errorf("attributes: loader of %s.%s returned %T", s.Manager.Name, a.key, v)
		}
		s.SetCommitted(a.key, items)
		return s.Dict[a.key], nil
	}
	c := a.adopt(s, nil)
	s.Dict[a.key] = c
	return c, nil
}

// Collection returns the loaded collection of s.
func (a *CollectionImpl) Collection(ctx context.Context, s *InstanceState) (*Collection, error) {
	v, err := a.Get(ctx, s, Active)
	if err != nil {
		return nil, err
	}
	return v.(*Collection), nil
}

func (a *CollectionImpl) adopt(s *InstanceState, items []any) *Collection {
	c := &Collection{items: slices.Clone(items)}
	if p := s.pending[a.key]; p != nil {
		s.Committed[a.key] = slices.Clone(items)
		for _, v := range p.added {
			if !c.Contains(v) {
				c.items = append(c.items, v)
			}
		}
		for _, v := range p.removed {
			if i := c.index(v); i >= 0 {
				c.items = slices.Delete(c.items, i, i+1)
			}
		}
		delete(s.pending, a.key)
	}
	return c
}

func (a *CollectionImpl) record(s *InstanceState, c *Collection) {
	if _, ok := s.Committed[a.key]; !ok {
		s.Committed[a.key] = slices.Clone(c.items)
	}
	s.Modified = true
}

func (a *CollectionImpl) pendingFor(s *InstanceState) *pendingCollection {
	if s.pending == nil {
		s.pending = make(map[string]*pendingCollection)
	}
	p := s.pending[a.key]
	if p == nil {
		p = &pendingCollection{}
		s.pending[a.key] = p
	}
	return p
}

// Append adds v. When the collection is not loaded and passive is
// PassiveNoFetch the change is queued.
func (a *CollectionImpl) Append(ctx context.Context, s *InstanceState, v any, initiator Impl, passive Passive) error {
	if initiator == Impl(a) {
		return nil
	}
	cv, err := a.Get(ctx, s, passive)
	if err != nil {
		return err
	}
	if cv == NoResult {
		a.pendingFor(s).append(v)
		s.Modified = true
		return a.fireAppend(ctx, s, v, initiator, a)
	}
	c := cv.(*Collection)
	if c.Contains(v) {
		return nil
	}
	a.record(s, c)
	c.items = append(c.items, v)
	return a.fireAppend(ctx, s, v, initiator, a)
}

// Remove removes v. Removing a non-member is an error unless the call
// comes from another attribute's event.
func (a *CollectionImpl) Remove(ctx context.Context, s *InstanceState, v any, initiator Impl, passive Passive) error {
	if initiator == Impl(a) {
		return nil
	}
	cv, err := a.Get(ctx, s, passive)
	if err != nil {
		return err
	}
	if cv == NoResult {
		a.pendingFor(s).remove(v)
		s.Modified = true
		return a.fireRemove(ctx, s, v, initiator, a)
	}
	c := cv.(*Collection)
	i := c.index(v)
	if i < 0 {
		if initiator == nil {
			return strata.NewInvalidRequestError("%s.%s: object is not in the collection", s.Manager.Name, a.key)
		}
		return nil
	}
	a.record(s, c)
	c.items = slices.Delete(c.items, i, i+1)
	return a.fireRemove(ctx, s, v, initiator, a)
}

// Set replaces the members with v, a []any or *Collection. Members that
// stay are not touched; events fire for the difference.
func (a *CollectionImpl) Set(ctx context.Context, s *InstanceState, v any, initiator Impl) error {
	if initiator == Impl(a) {
		return nil
	}
	var items []any
	switch v := v.(type) {
	case nil:
	case []any:
		items = v
	case *Collection:
		items = v.Items()
	default:
		return strata.NewInvalidRequestError("%s.%s: cannot assign %T to a collection", s.Manager.Name, a.key, v)
	}
	cv, err := a.Get(ctx, s, Active)
	if err != nil {
		return err
	}
	c := cv.(*Collection)
	next := &Collection{}
	for _, it := range items {
		if !next.Contains(it) {
			next.items = append(next.items, it)
		}
	}
	var removed, added []any
	for _, it := range c.items {
		if !next.Contains(it) {
			removed = append(removed, it)
		}
	}
	for _, it := range next.items {
		if !c.Contains(it) {
			added = append(added, it)
		}
	}
	if len(removed) == 0 && len(added) == 0 && slices.Equal(c.items, next.items) {
		return nil
	}
	a.record(s, c)
	c.items = next.items
	for _, it := range removed {
		if err := a.fireRemove(ctx, s, it, initiator, a); err != nil {
			return err
		}
	}
	for _, it := range added {
		if err := a.fireAppend(ctx, s, it, initiator, a); err != nil {
			return err
		}
	}
	return nil
}

// Delete empties the collection.
func (a *CollectionImpl) Delete(ctx context.Context, s *InstanceState, initiator Impl) error {
	return a.Set(ctx, s, nil, initiator)
}

// History returns the members added and removed since the last commit.
// For an unloaded collection only queued changes are reported unless
// passive is Active.
func (a *CollectionImpl) History(ctx context.Context, s *InstanceState, passive Passive) (History, error) {
	cv, ok := s.Dict[a.key]
	if !ok {
		if p := s.pending[a.key]; p != nil && passive == PassiveNoFetch {
			return History{Added: slices.Clone(p.added), Deleted: slices.Clone(p.removed)}, nil
		}
		v, err := a.Get(ctx, s, passive)
		if err != nil || v == NoResult {
			return History{}, err
		}
		cv = v
	}
	c := cv.(*Collection)
	orig, ok := s.Committed[a.key].([]any)
	if !ok {
		return History{Unchanged: c.Items()}, nil
	}
	var h History
	was := &Collection{items: orig}
	for _, it := range c.items {
		if was.Contains(it) {
			h.Unchanged = append(h.Unchanged, it)
		} else {
			h.Added = append(h.Added, it)
		}
	}
	for _, it := range orig {
		if !c.Contains(it) {
			h.Deleted = append(h.Deleted, it)
		}
	}
	return h, nil
}
