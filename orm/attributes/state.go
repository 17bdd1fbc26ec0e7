package attributes

import (
	"context"
	"maps"
	"slices"
	"sync/atomic"
)

// IdentityKey identifies a persistent row: the entity name of the base
// mapper and the encoded primary key.
type IdentityKey struct {
	Entity string
	Ident  string
}

func (k IdentityKey) String() string { return k.Entity + "(" + k.Ident + ")" }

// Instrumented is implemented by objects that carry an instance state.
type Instrumented interface {
	InstanceState() *InstanceState
}

// StateOf returns the instance state of obj, if it is instrumented.
func StateOf(obj any) (*InstanceState, bool) {
	i, ok := obj.(Instrumented)
	if !ok || i == nil {
		return nil, false
	}
	s := i.InstanceState()
	return s, s != nil
}

var insertOrder atomic.Int64

// InstanceState is the change-tracking shadow of one instrumented object.
//
// Dict holds the loaded attribute values. Committed holds, for changed
// attributes only, the value last known to be persisted, or a copy of it
// for mutable types. An attribute missing from Dict is unloaded: it is
// either lazy, expired or was never set.
type InstanceState struct {
	Manager   *ClassManager
	Dict      map[string]any
	Committed map[string]any

	// Key is nil until the object is persistent.
	Key *IdentityKey
	// Ident holds the primary key values Key was built from.
	Ident []any
	// Modified is set by any attribute change since the last commit.
	Modified bool
	// Deleted is set once a flush deleted the row of the object.
	Deleted bool
	// Session is the owning session, nil when transient or detached.
	Session any
	// Order records the order in which objects became pending.
	Order int64

	obj     any
	expired map[string]bool
	parents map[Impl]bool
	pending map[string]*pendingCollection
}

// NewState returns the state of obj, managed by m.
func NewState(obj any, m *ClassManager) *InstanceState {
	return &InstanceState{
		Manager:   m,
		Dict:      make(map[string]any),
		Committed: make(map[string]any),
		obj:       obj,
	}
}

// Obj returns the instrumented object.
func (s *InstanceState) Obj() any { return s.obj }

// HasIdentity reports whether the object is persistent or detached.
func (s *InstanceState) HasIdentity() bool { return s.Key != nil }

// Touch assigns the next pending order to the state.
func (s *InstanceState) Touch() { s.Order = insertOrder.Add(1) }

func (s *InstanceState) impl(key string) (Impl, error) {
	a, ok := s.Manager.Attr(key)
	if !ok {
		return nil, noAttribute(s.Manager.Name, key)
	}
	return a, nil
}

// Get returns the value of the attribute key, loading it if needed.
func (s *InstanceState) Get(ctx context.Context, key string) (any, error) {
	a, err := s.impl(key)
	if err != nil {
		return nil, err
	}
	return a.Get(ctx, s, Active)
}

// Set assigns the attribute key.
func (s *InstanceState) Set(ctx context.Context, key string, v any) error {
	a, err := s.impl(key)
	if err != nil {
		return err
	}
	return a.Set(ctx, s, v, nil)
}

// History returns the changes of the attribute key.
func (s *InstanceState) History(ctx context.Context, key string, passive Passive) (History, error) {
	a, err := s.impl(key)
	if err != nil {
		return History{}, err
	}
	return a.History(ctx, s, passive)
}

// SetCommitted stores a loaded value: the attribute becomes clean and
// unexpired.
func (s *InstanceState) SetCommitted(key string, v any) {
	delete(s.expired, key)
	delete(s.Committed, key)
	if a, ok := s.Manager.Attr(key); ok {
		if c, ok := a.(committer); ok {
			c.commit(s, v)
			return
		}
		if ca, ok := a.(*CollectionImpl); ok {
			items, _ := v.([]any)
			s.Dict[key] = ca.adopt(s, items)
			return
		}
	}
	s.Dict[key] = v
}

// Commit marks the given attributes as persisted.
func (s *InstanceState) Commit(keys ...string) {
	for _, k := range keys {
		delete(s.Committed, k)
		delete(s.expired, k)
		delete(s.pending, k)
		if a, ok := s.Manager.Attr(k); ok {
			if c, ok := a.(committer); ok {
				if v, ok := s.Dict[k]; ok {
					c.commit(s, v)
				}
			}
		}
	}
}

// CommitAll marks every attribute as persisted.
func (s *InstanceState) CommitAll() {
	s.Committed = make(map[string]any)
	s.pending = nil
	s.Modified = false
	for _, a := range s.Manager.Attrs() {
		if c, ok := a.(committer); ok {
			if v, ok := s.Dict[a.Key()]; ok {
				c.commit(s, v)
			}
		}
	}
}

// Expire unloads the given attributes. Column attributes are reloaded
// on next access; relationships are lazily loaded again.
func (s *InstanceState) Expire(keys ...string) {
	if s.expired == nil {
		s.expired = make(map[string]bool)
	}
	for _, k := range keys {
		delete(s.Dict, k)
		delete(s.Committed, k)
		delete(s.pending, k)
		if a, ok := s.Manager.Attr(k); ok && a.Relationship() == nil {
			s.expired[k] = true
		}
	}
}

// ExpireAll unloads every attribute and discards pending changes.
func (s *InstanceState) ExpireAll() {
	s.Dict = make(map[string]any)
	s.Committed = make(map[string]any)
	s.pending = nil
	s.Modified = false
	s.expired = make(map[string]bool)
	for _, a := range s.Manager.Attrs() {
		if a.Relationship() == nil {
			s.expired[a.Key()] = true
		}
	}
}

// IsExpired reports whether the attribute key is expired.
func (s *InstanceState) IsExpired(key string) bool { return s.expired[key] }

// AllExpired reports whether every column attribute is expired.
func (s *InstanceState) AllExpired() bool {
	n := 0
	for _, a := range s.Manager.Attrs() {
		if a.Relationship() != nil {
			continue
		}
		if !s.expired[a.Key()] {
			return false
		}
		n++
	}
	return n > 0
}

// ExpiredKeys returns the expired attributes in declaration order.
func (s *InstanceState) ExpiredKeys() []string {
	var keys []string
	for _, a := range s.Manager.Attrs() {
		if s.expired[a.Key()] {
			keys = append(keys, a.Key())
		}
	}
	return keys
}

// Unloaded returns the attributes that hold no value.
func (s *InstanceState) Unloaded() []string {
	var keys []string
	for _, a := range s.Manager.Attrs() {
		if _, ok := s.Dict[a.Key()]; !ok {
			keys = append(keys, a.Key())
		}
	}
	return keys
}

// Loaded reports whether the attribute key holds a value.
func (s *InstanceState) Loaded(key string) bool {
	_, ok := s.Dict[key]
	return ok
}

// Reset removes the value of key without recording history.
func (s *InstanceState) Reset(key string) {
	delete(s.Dict, key)
	delete(s.Committed, key)
	delete(s.pending, key)
}

// IsModified reports whether any attribute changed since the last commit,
// including in-place changes of mutable values.
func (s *InstanceState) IsModified() bool {
	if s.Modified {
		return true
	}
	for _, a := range s.Manager.Attrs() {
		if m, ok := a.(*MutableScalarImpl); ok && m.changed(s) {
			return true
		}
	}
	return false
}

// HasParent reports whether the object is attached to a parent through
// the parent-tracking attribute a. When this was never recorded the
// answer is optimistic.
func (s *InstanceState) HasParent(a Impl, optimistic bool) bool {
	v, ok := s.parents[a]
	if !ok {
		return optimistic
	}
	return v
}

// SetHasParent records whether the object is attached through a.
func (s *InstanceState) SetHasParent(a Impl, v bool) {
	if s.parents == nil {
		s.parents = make(map[Impl]bool)
	}
	s.parents[a] = v
}

// Snapshot captures the tracked state so that it can be restored after a
// failed flush.
type Snapshot struct {
	state     *InstanceState
	dict      map[string]any
	items     map[string][]any
	committed map[string]any
	key       *IdentityKey
	ident     []any
	modified  bool
	deleted   bool
	expired   map[string]bool
	parents   map[Impl]bool
	pending   map[string]*pendingCollection
}

// Snapshot returns a copy of the tracked state of s.
func (s *InstanceState) Snapshot() *Snapshot {
	snap := &Snapshot{
		state:     s,
		dict:      maps.Clone(s.Dict),
		committed: maps.Clone(s.Committed),
		key:       s.Key,
		ident:     slices.Clone(s.Ident),
		modified:  s.Modified,
		deleted:   s.Deleted,
		expired:   maps.Clone(s.expired),
		parents:   maps.Clone(s.parents),
	}
	for k, v := range s.Dict {
		if c, ok := v.(*Collection); ok {
			if snap.items == nil {
				snap.items = make(map[string][]any)
			}
			snap.items[k] = slices.Clone(c.items)
		}
	}
	if s.pending != nil {
		snap.pending = make(map[string]*pendingCollection, len(s.pending))
		for k, p := range s.pending {
			snap.pending[k] = p.clone()
		}
	}
	return snap
}

// Restore resets the state to the snapshot.
func (snap *Snapshot) Restore() {
	s := snap.state
	s.Dict = snap.dict
	s.Committed = snap.committed
	s.Key = snap.key
	s.Ident = snap.ident
	s.Modified = snap.modified
	s.Deleted = snap.deleted
	s.expired = snap.expired
	s.parents = snap.parents
	s.pending = snap.pending
	for k, items := range snap.items {
		if c, ok := s.Dict[k].(*Collection); ok {
			c.items = items
		}
	}
}
