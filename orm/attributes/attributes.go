package attributes

import (
	"context"
	"fmt"

	"github.com/syssam/strata"
)

type sentinel string

func (s sentinel) String() string { return string(s) }

var (
	// NoValue marks an attribute whose previous value is not known.
	NoValue any = sentinel("NO_VALUE")
	// NoResult is returned by a passive read of an unloaded attribute.
	NoResult any = sentinel("PASSIVE_NO_RESULT")
)

// Passive controls whether a read may emit SQL.
type Passive int

const (
	// Active loads unloaded attributes.
	Active Passive = iota
	// PassiveNoFetch never loads; an unloaded attribute yields NoResult.
	PassiveNoFetch
)

// Loader loads the value of an unloaded attribute of a persistent
// instance. Collection loaders return a []any.
type Loader func(ctx context.Context, s *InstanceState) (any, error)

// History is the change set of one attribute since the last commit.
type History struct {
	Added     []any
	Unchanged []any
	Deleted   []any
}

// HasChanges reports whether anything was added or deleted.
func (h History) HasChanges() bool { return len(h.Added) > 0 || len(h.Deleted) > 0 }

// NonDeleted returns the added and unchanged values.
func (h History) NonDeleted() []any {
	return append(append([]any{}, h.Unchanged...), h.Added...)
}

// Sum returns all values of the history.
func (h History) Sum() []any {
	return append(h.NonDeleted(), h.Deleted...)
}

// Extension receives attribute events after the change was applied.
// The initiator is the attribute that started the chain of events.
type Extension interface {
	Set(ctx context.Context, s *InstanceState, value, old any, initiator Impl) error
	Append(ctx context.Context, s *InstanceState, value any, initiator Impl) error
	Remove(ctx context.Context, s *InstanceState, value any, initiator Impl) error
}

// Impl implements the behavior of one instrumented attribute.
type Impl interface {
	Key() string
	Get(ctx context.Context, s *InstanceState, passive Passive) (any, error)
	Set(ctx context.Context, s *InstanceState, v any, initiator Impl) error
	Delete(ctx context.Context, s *InstanceState, initiator Impl) error
	Append(ctx context.Context, s *InstanceState, v any, initiator Impl, passive Passive) error
	Remove(ctx context.Context, s *InstanceState, v any, initiator Impl, passive Passive) error
	History(ctx context.Context, s *InstanceState, passive Passive) (History, error)
	AddExtension(Extension)
	// Relationship returns the relationship property the attribute was
	// created for, or nil for column attributes.
	Relationship() any
	Uselist() bool
}

type committer interface {
	commit(s *InstanceState, v any)
}

// ClassManager holds the instrumented attributes of one entity.
type ClassManager struct {
	Name string
	// ExpiredLoader loads the expired attributes of a persistent instance.
	ExpiredLoader func(ctx context.Context, s *InstanceState) error

	attrs map[string]Impl
	order []Impl
}

// NewClassManager returns an empty manager for the named entity.
func NewClassManager(name string) *ClassManager {
	return &ClassManager{Name: name, attrs: make(map[string]Impl)}
}

// Register adds a to the manager, replacing an attribute with the same key.
func (m *ClassManager) Register(a Impl) {
	if _, ok := m.attrs[a.Key()]; ok {
		for i, o := range m.order {
			if o.Key() == a.Key() {
				m.order[i] = a
			}
		}
	} else {
		m.order = append(m.order, a)
	}
	m.attrs[a.Key()] = a
}

// Attr returns the attribute key.
func (m *ClassManager) Attr(key string) (Impl, bool) {
	a, ok := m.attrs[key]
	return a, ok
}

// Attrs returns the attributes in registration order.
func (m *ClassManager) Attrs() []Impl { return m.order }

func noAttribute(entity, key string) error {
	return strata.NewInvalidRequestError("%s has no attribute %q", entity, key)
}

// base carries what all attribute implementations share.
type base struct {
	key         string
	manager     *ClassManager
	loader      Loader
	rel         any
	trackParent bool
	exts        []Extension
}

// Option configures an attribute implementation.
type Option func(*base)

// WithLoader sets the loader for unloaded values of persistent instances.
func WithLoader(l Loader) Option { return func(b *base) { b.loader = l } }

// WithRelationship attaches the relationship property to the attribute.
func WithRelationship(rel any) Option { return func(b *base) { b.rel = rel } }

// TrackParent makes the attribute record parent membership on its values.
func TrackParent() Option { return func(b *base) { b.trackParent = true } }

func newBase(m *ClassManager, key string, opts []Option) base {
	b := base{key: key, manager: m}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) Key() string       { return b.key }
func (b *base) Relationship() any { return b.rel }

// AddExtension registers an event listener.
func (b *base) AddExtension(e Extension) { b.exts = append(b.exts, e) }

// Loader returns the attribute loader.
func (b *base) Loader() Loader { return b.loader }

// SetLoader replaces the attribute loader.
func (b *base) SetLoader(l Loader) { b.loader = l }

// load returns the value of an absent attribute, or NoResult when loading
// is needed but not allowed. The second result reports whether a loader
// produced the value.
func (b *base) load(ctx context.Context, s *InstanceState, passive Passive) (any, bool, error) {
	if !s.HasIdentity() {
		return nil, false, nil
	}
	if s.expired[b.key] && s.Manager.ExpiredLoader != nil {
		if passive == PassiveNoFetch {
			return NoResult, false, nil
		}
		if err := s.Manager.ExpiredLoader(ctx, s); err != nil {
			return nil, false, err
		}
		if v, ok := s.Dict[b.key]; ok {
			return v, true, nil
		}
	}
	if b.loader == nil {
		return nil, false, nil
	}
	if passive == PassiveNoFetch {
		return NoResult, false, nil
	}
	if s.Session == nil {
		return nil, false, strata.NewInvalidRequestError(
			"instance %s is not bound to a session; lazy load of attribute %q cannot proceed", s.Manager.Name, b.key)
	}
	v, err := b.loader(ctx, s)
	if err != nil {
		return nil, false, fmt.Errorf("load %s.%s: %w", s.Manager.Name, b.key, err)
	}
	return v, true, nil
}

func (b *base) fireSet(ctx context.Context, s *InstanceState, v, old any, initiator, self Impl) error {
	if initiator == nil {
		initiator = self
	}
	for _, e := range b.exts {
		if err := e.Set(ctx, s, v, old, initiator); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) fireAppend(ctx context.Context, s *InstanceState, v any, initiator, self Impl) error {
	if initiator == nil {
		initiator = self
	}
	for _, e := range b.exts {
		if err := e.Append(ctx, s, v, initiator); err != nil {
			return err
		}
	}
	// After the extensions: a backref may detach v from its previous
	// parent through the same attribute.
	if b.trackParent && v != nil {
		if cs, ok := StateOf(v); ok {
			cs.SetHasParent(self, true)
		}
	}
	return nil
}

func (b *base) fireRemove(ctx context.Context, s *InstanceState, v any, initiator, self Impl) error {
	if initiator == nil {
		initiator = self
	}
	if b.trackParent && v != nil {
		if cs, ok := StateOf(v); ok {
			cs.SetHasParent(self, false)
		}
	}
	for _, e := range b.exts {
		if err := e.Remove(ctx, s, v, initiator); err != nil {
			return err
		}
	}
	return nil
}

func isSentinel(v any) bool { return v == NoValue || v == NoResult }
