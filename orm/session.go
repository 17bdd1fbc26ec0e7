package orm

import (
	"context"
	"log/slog"

	"github.com/syssam/strata"
	"github.com/syssam/strata/orm/attributes"
)

// Session tracks the instances of a unit of work and persists them
// through the engines the mappers are bound to. A session is not safe for
// concurrent use.
type Session struct {
	registry *Registry
	engine   *Engine
	binds    map[string]*Engine
	logger   *slog.Logger

	autoflush      bool
	expireOnCommit bool
	weak           bool
	twoPhase       bool
	hooks          []SessionHooks

	identity identityMap
	pending  map[*attributes.InstanceState]struct{}
	deleted  map[*attributes.InstanceState]struct{}
	tx       *SessionTransaction

	flushing    bool
	noAutoflush int
	savepoints  int
}

// SessionOption configures a session.
type SessionOption func(*Session)

// WithAutoflush sets whether queries flush pending changes first.
// It defaults to true.
func WithAutoflush(v bool) SessionOption {
	return func(s *Session) { s.autoflush = v }
}

// WithExpireOnCommit sets whether all instances are expired when the
// outermost transaction commits. It defaults to true.
func WithExpireOnCommit(v bool) SessionOption {
	return func(s *Session) { s.expireOnCommit = v }
}

// WithWeakIdentityMap lets the session drop unmodified instances no longer
// referenced by the application.
func WithWeakIdentityMap() SessionOption {
	return func(s *Session) { s.weak = true }
}

// WithTwoPhase commits the transactions of all engines with two-phase
// commit.
func WithTwoPhase() SessionOption {
	return func(s *Session) { s.twoPhase = true }
}

// WithLogger sets the logger of the session.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithSessionHooks adds flush and transaction hooks.
func WithSessionHooks(h SessionHooks) SessionOption {
	return func(s *Session) { s.hooks = append(s.hooks, h) }
}

// WithBind persists the named mapper and its subclasses through e.
func WithBind(mapper string, e *Engine) SessionOption {
	return func(s *Session) { s.binds[mapper] = e }
}

// NewSession returns a session for the mappers of reg. Statements are
// executed through e unless a mapper is bound to another engine.
func NewSession(reg *Registry, e *Engine, opts ...SessionOption) *Session {
	s := &Session{
		registry:       reg,
		engine:         e,
		binds:          make(map[string]*Engine),
		logger:         slog.Default(),
		autoflush:      true,
		expireOnCommit: true,
		pending:        make(map[*attributes.InstanceState]struct{}),
		deleted:        make(map[*attributes.InstanceState]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.weak {
		s.identity = newWeakMap()
	} else {
		s.identity = newStrongMap()
	}
	return s
}

// Registry returns the registry of the session.
func (s *Session) Registry() *Registry { return s.registry }

// Bind binds the named mapper to e.
func (s *Session) Bind(mapper string, e *Engine) { s.binds[mapper] = e }

// engineFor returns the engine persisting m.
func (s *Session) engineFor(m *Mapper) (*Engine, error) {
	for x := m; x != nil; x = x.parent {
		if e, ok := s.binds[x.Name]; ok {
			return e, nil
		}
	}
	if s.engine == nil {
		return nil, strata.NewInvalidRequestError("no engine is bound to mapper %s or to the session", m.Name)
	}
	return s.engine, nil
}

func (s *Session) mapper(st *attributes.InstanceState) (*Mapper, error) {
	m := s.registry.mapperOf(st)
	if m == nil {
		return nil, strata.NewInvalidRequestError("%s is not mapped by the registry of the session", st.Manager.Name)
	}
	return m, nil
}

func (s *Session) contains(st *attributes.InstanceState) bool {
	if st.Session != s {
		return false
	}
	if _, ok := s.pending[st]; ok {
		return true
	}
	if _, ok := s.deleted[st]; ok {
		return true
	}
	if st.Key != nil {
		cur, ok := s.identity.get(*st.Key)
		return ok && cur == st
	}
	return false
}

// Contains reports whether obj is pending, persistent or marked for
// deletion in the session.
func (s *Session) Contains(obj any) bool {
	st, ok := attributes.StateOf(obj)
	return ok && s.contains(st)
}

// Add places obj in the session: a transient instance becomes pending and
// is inserted by the next flush; a detached instance becomes persistent
// again. Related objects are added along relationships cascading
// save-update.
func (s *Session) Add(ctx context.Context, obj any) error {
	if err := s.registry.ready(); err != nil {
		return err
	}
	st, err := s.registry.instrument(obj)
	if err != nil {
		return err
	}
	return s.saveOrUpdate(ctx, st)
}

// AddAll adds each object.
func (s *Session) AddAll(ctx context.Context, objs ...any) error {
	for _, obj := range objs {
		if err := s.Add(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) saveOrUpdate(ctx context.Context, st *attributes.InstanceState) error {
	if err := s.attach(st); err != nil {
		return err
	}
	return cascadeIterator(ctx, s.registry, st, "save-update", attributes.PassiveNoFetch,
		func(_ any, cs *attributes.InstanceState, _ *RelationshipProperty) error {
			return s.attach(cs)
		})
}

// attach adds st without cascading.
func (s *Session) attach(st *attributes.InstanceState) error {
	if st.Session != nil && st.Session != s {
		if other, ok := st.Session.(*Session); !ok || other.contains(st) {
			return strata.NewInvalidRequestError("object %s is already attached to another session", describe(st))
		}
	}
	if st.Deleted {
		return strata.NewInvalidRequestError("object %s was deleted; it cannot be added again", describe(st))
	}
	if st.Key == nil {
		if _, ok := s.pending[st]; !ok {
			st.Touch()
			s.pending[st] = struct{}{}
		}
		st.Session = s
		return nil
	}
	if cur, ok := s.identity.get(*st.Key); ok {
		if cur != st {
			return strata.NewInvalidRequestError("cannot attach object %s; another instance with key %s is already present in this session", describe(st), st.Key)
		}
	} else {
		s.identity.add(st)
	}
	delete(s.deleted, st)
	st.Session = s
	return nil
}

// Delete marks the persistent instance obj for deletion at the next
// flush, along with the objects reachable through relationships
// cascading delete.
func (s *Session) Delete(ctx context.Context, obj any) error {
	st, err := stateOf(obj)
	if err != nil {
		return err
	}
	if st.Key == nil {
		return strata.NewInvalidRequestError("object %s is not persisted", describe(st))
	}
	if err := s.markDeleted(st); err != nil {
		return err
	}
	return cascadeIterator(ctx, s.registry, st, "delete", attributes.Active,
		func(_ any, cs *attributes.InstanceState, _ *RelationshipProperty) error {
			if cs.Key == nil {
				s.expungeState(cs)
				return nil
			}
			return s.markDeleted(cs)
		})
}

func (s *Session) markDeleted(st *attributes.InstanceState) error {
	if _, ok := s.deleted[st]; ok {
		return nil
	}
	if err := s.attach(st); err != nil {
		return err
	}
	s.deleted[st] = struct{}{}
	s.identity.hold(st)
	return nil
}

// Expunge removes obj from the session, along with the objects reachable
// through relationships cascading expunge. Pending changes are kept on
// the detached instances.
func (s *Session) Expunge(ctx context.Context, obj any) error {
	st, err := stateOf(obj)
	if err != nil {
		return err
	}
	if !s.contains(st) {
		return strata.NewInvalidRequestError("object %s is not present in this session", describe(st))
	}
	s.expungeState(st)
	return cascadeIterator(ctx, s.registry, st, "expunge", attributes.PassiveNoFetch,
		func(_ any, cs *attributes.InstanceState, _ *RelationshipProperty) error {
			if s.contains(cs) {
				s.expungeState(cs)
			}
			return nil
		})
}

func (s *Session) expungeState(st *attributes.InstanceState) {
	delete(s.pending, st)
	delete(s.deleted, st)
	s.identity.remove(st)
	if st.Session == s {
		st.Session = nil
	}
}

// ExpungeAll removes every instance from the session.
func (s *Session) ExpungeAll() {
	for _, st := range s.allStates() {
		if st.Session == s {
			st.Session = nil
		}
	}
	if s.weak {
		s.identity = newWeakMap()
	} else {
		s.identity = newStrongMap()
	}
	s.pending = make(map[*attributes.InstanceState]struct{})
	s.deleted = make(map[*attributes.InstanceState]struct{})
}

// allStates returns the pending, persistent and deleted states.
func (s *Session) allStates() []*attributes.InstanceState {
	out := s.identity.states()
	for st := range s.pending {
		out = append(out, st)
	}
	for st := range s.deleted {
		if st.Key == nil {
			continue
		}
		if cur, ok := s.identity.get(*st.Key); !ok || cur != st {
			out = append(out, st)
		}
	}
	return sortStates(out)
}

// Expire marks the given attributes of obj, or all of them, as unloaded.
// They are loaded again on next access.
func (s *Session) Expire(obj any, keys ...string) error {
	st, err := stateOf(obj)
	if err != nil {
		return err
	}
	if st.Key == nil || !s.contains(st) {
		return strata.NewInvalidRequestError("object %s is not persistent within this session", describe(st))
	}
	expireState(st, keys)
	return nil
}

func expireState(st *attributes.InstanceState, keys []string) {
	if len(keys) == 0 {
		st.ExpireAll()
		return
	}
	for _, k := range keys {
		if a, ok := st.Manager.Attr(k); ok && a.Relationship() != nil {
			st.Reset(k)
			continue
		}
		st.Expire(k)
	}
}

// ExpireAll expires every persistent instance.
func (s *Session) ExpireAll() {
	for _, st := range s.identity.states() {
		st.ExpireAll()
	}
}

// Refresh expires the given attributes of obj, or all of them, and loads
// them immediately. Related objects are refreshed along relationships
// cascading refresh-expire.
func (s *Session) Refresh(ctx context.Context, obj any, keys ...string) error {
	st, err := stateOf(obj)
	if err != nil {
		return err
	}
	if st.Key == nil || !s.contains(st) {
		return strata.NewInvalidRequestError("object %s is not persistent within this session", describe(st))
	}
	if err := s.refreshState(ctx, st, keys); err != nil {
		return err
	}
	return cascadeIterator(ctx, s.registry, st, "refresh-expire", attributes.PassiveNoFetch,
		func(_ any, cs *attributes.InstanceState, _ *RelationshipProperty) error {
			if cs.Key == nil || !s.contains(cs) {
				return nil
			}
			return s.refreshState(ctx, cs, nil)
		})
}

func (s *Session) refreshState(ctx context.Context, st *attributes.InstanceState, keys []string) error {
	m, err := s.mapper(st)
	if err != nil {
		return err
	}
	expireState(st, keys)
	if len(st.ExpiredKeys()) == 0 {
		return nil
	}
	return m.loadExpired(ctx, st)
}

// IsModified reports whether obj has attribute changes not yet flushed.
func (s *Session) IsModified(obj any) bool {
	st, ok := attributes.StateOf(obj)
	return ok && st.IsModified()
}

// New returns the pending instances.
func (s *Session) New() []any {
	var out []any
	for _, st := range s.pendingStates() {
		out = append(out, st.Obj())
	}
	return out
}

// Dirty returns the persistent instances with unflushed changes.
func (s *Session) Dirty() []any {
	var out []any
	for _, st := range s.dirtyStates() {
		out = append(out, st.Obj())
	}
	return out
}

// Deleted returns the instances marked for deletion.
func (s *Session) Deleted() []any {
	var out []any
	for _, st := range s.deletedStates() {
		out = append(out, st.Obj())
	}
	return out
}

func (s *Session) pendingStates() []*attributes.InstanceState {
	out := make([]*attributes.InstanceState, 0, len(s.pending))
	for st := range s.pending {
		out = append(out, st)
	}
	return sortStates(out)
}

func (s *Session) deletedStates() []*attributes.InstanceState {
	out := make([]*attributes.InstanceState, 0, len(s.deleted))
	for st := range s.deleted {
		out = append(out, st)
	}
	return sortStates(out)
}

func (s *Session) dirtyStates() []*attributes.InstanceState {
	var out []*attributes.InstanceState
	for _, st := range s.identity.states() {
		if _, del := s.deleted[st]; !del && st.IsModified() {
			out = append(out, st)
		}
	}
	return out
}

// Prune releases unmodified instances of a weak identity map and returns
// the number of entries removed. It does nothing for a strong map.
func (s *Session) Prune() int { return s.identity.prune() }

// Len returns the number of persistent instances.
func (s *Session) Len() int { return s.identity.len() }

// Get returns the instance of entity with the given primary key, from the
// identity map when present.
func (s *Session) Get(ctx context.Context, entity any, ident ...any) (any, error) {
	return s.Query(entity).Get(ctx, ident...)
}

// NoAutoflush runs fn with autoflush disabled.
func (s *Session) NoAutoflush(fn func() error) error {
	s.noAutoflush++
	defer func() { s.noAutoflush-- }()
	return fn()
}

// Close rolls back the transaction in progress and expunges every
// instance.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if s.tx != nil {
		err = s.tx.root().close(ctx)
		s.tx = nil
	}
	s.ExpungeAll()
	return err
}

// identityState returns the persistent state with key.
func (s *Session) identityState(key attributes.IdentityKey) (*attributes.InstanceState, bool) {
	return s.identity.get(key)
}

func describe(st *attributes.InstanceState) string {
	if st.Key != nil {
		return st.Key.String()
	}
	return st.Manager.Name + "(pending)"
}
