package orm

import (
	"context"
	"errors"
	"slices"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/compiler"
	"github.com/syssam/strata/graph"
	"github.com/syssam/strata/orm/attributes"
)

// Flush writes the pending changes of the session to the database: new
// instances are inserted, modified ones updated and deleted ones deleted,
// in an order satisfying the dependencies between their rows. When a
// statement fails the instances are restored to their state before the
// flush and the database transaction is rolled back.
func (s *Session) Flush(ctx context.Context) error {
	if s.flushing {
		return strata.NewInvalidRequestError("session is already flushing")
	}
	if err := s.registry.ready(); err != nil {
		return err
	}
	s.flushing = true
	defer func() { s.flushing = false }()
	for _, h := range s.hooks {
		if h.BeforeFlush != nil {
			if err := h.BeforeFlush(ctx, s); err != nil {
				return err
			}
		}
	}
	if len(s.pending) == 0 && len(s.deleted) == 0 && len(s.dirtyStates()) == 0 {
		return nil
	}
	t := s.autobegin()
	if t.state != txActive {
		return strata.NewInvalidRequestError("this session's transaction is inactive; call Rollback")
	}
	u := newUnitOfWork(ctx, s)
	if err := u.run(ctx); err != nil {
		return s.flushFailed(ctx, t, u, err)
	}
	u.finish(t.level())
	for _, h := range s.hooks {
		if h.AfterFlush != nil {
			if err := h.AfterFlush(ctx, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// autoflush flushes before a query unless disabled.
func (s *Session) autoflushIfEnabled(ctx context.Context) error {
	if !s.autoflush || s.noAutoflush > 0 || s.flushing {
		return nil
	}
	return s.Flush(ctx)
}

func (s *Session) flushFailed(ctx context.Context, t *SessionTransaction, u *unitOfWork, err error) error {
	u.restore()
	lvl := t.level()
	var rbErr error
	switch {
	case lvl.nested:
		rbErr = s.rollbackSavepoint(ctx, lvl)
	case lvl == t && lvl.autobegun && !lvl.flushed:
		rbErr = s.rollbackConns(ctx, lvl)
		lvl.state = txClosed
		s.tx = nil
	default:
		rbErr = s.rollbackConns(ctx, lvl)
	}
	if s.tx != nil {
		for x := t; x != nil; x = x.parent {
			x.state = txInactive
			if x == lvl {
				break
			}
		}
	}
	s.logger.DebugContext(ctx, "orm: flush failed", "error", err)
	if rbErr != nil {
		return errors.Join(err, rbErr)
	}
	return err
}

type saveKind int

const (
	kindSave saveKind = iota + 1
	kindDelete
)

// unitOfWork is the plan and the bookkeeping of one flush.
type unitOfWork struct {
	s    *Session
	ctx  context.Context
	kind map[*attributes.InstanceState]saveKind
	// list keeps registered states in registration order.
	list []*attributes.InstanceState
	// insert marks pending states; rowSwitch maps a pending state to the
	// deleted persistent state whose row it takes over.
	insert    map[*attributes.InstanceState]bool
	rowSwitch map[*attributes.InstanceState]*attributes.InstanceState
	syncs     map[*attributes.InstanceState][]rowSync

	snaps      map[*attributes.InstanceState]*attributes.Snapshot
	inIdentity map[*attributes.InstanceState]bool
	pending    map[*attributes.InstanceState]struct{}
	deleted    map[*attributes.InstanceState]struct{}

	saved, removed []*attributes.InstanceState
	// serverDefaults lists attributes generated by the database, expired
	// once the flush completes.
	serverDefaults map[*attributes.InstanceState][]string
	stmts          map[stmtKey]*compiler.Compiled
	postDone       map[postKey]bool
}

// rowSync records that the foreign key of a row is set from, or cleared
// of, the referenced values of a parent through a one-to-many
// relationship.
type rowSync struct {
	parent *attributes.InstanceState
	prop   *RelationshipProperty
	clear  bool
}

func newUnitOfWork(ctx context.Context, s *Session) *unitOfWork {
	u := &unitOfWork{
		s:              s,
		ctx:            ctx,
		kind:           make(map[*attributes.InstanceState]saveKind),
		insert:         make(map[*attributes.InstanceState]bool),
		rowSwitch:      make(map[*attributes.InstanceState]*attributes.InstanceState),
		syncs:          make(map[*attributes.InstanceState][]rowSync),
		snaps:          make(map[*attributes.InstanceState]*attributes.Snapshot),
		inIdentity:     make(map[*attributes.InstanceState]bool),
		pending:        make(map[*attributes.InstanceState]struct{}, len(s.pending)),
		deleted:        make(map[*attributes.InstanceState]struct{}, len(s.deleted)),
		serverDefaults: make(map[*attributes.InstanceState][]string),
		stmts:          make(map[stmtKey]*compiler.Compiled),
		postDone:       make(map[postKey]bool),
	}
	for st := range s.pending {
		u.pending[st] = struct{}{}
	}
	for st := range s.deleted {
		u.deleted[st] = struct{}{}
	}
	return u
}

// snapshot records st before the flush changes it.
func (u *unitOfWork) snapshot(st *attributes.InstanceState) {
	if _, ok := u.snaps[st]; ok {
		return
	}
	u.snaps[st] = st.Snapshot()
	if st.Key != nil {
		cur, ok := u.s.identity.get(*st.Key)
		u.inIdentity[st] = ok && cur == st
	}
}

// register plans st for kind, replacing a save by a delete.
func (u *unitOfWork) register(st *attributes.InstanceState, k saveKind) error {
	cur, ok := u.kind[st]
	if ok && (cur == k || cur == kindDelete) {
		return nil
	}
	if !u.s.contains(st) {
		return strata.NewFlushError("object %s is not in the session; add it, or cascade save-update to it", describe(st))
	}
	u.snapshot(st)
	if !ok {
		u.list = append(u.list, st)
	}
	u.kind[st] = k
	return nil
}

func (u *unitOfWork) isSave(st *attributes.InstanceState) bool   { return u.kind[st] == kindSave }
func (u *unitOfWork) isDelete(st *attributes.InstanceState) bool { return u.kind[st] == kindDelete }

func (u *unitOfWork) run(ctx context.Context) error {
	s := u.s
	for _, st := range s.pendingStates() {
		if err := u.register(st, kindSave); err != nil {
			return err
		}
		u.insert[st] = true
	}
	for _, st := range s.dirtyStates() {
		if err := u.register(st, kindSave); err != nil {
			return err
		}
	}
	for _, st := range s.deletedStates() {
		if err := u.register(st, kindDelete); err != nil {
			return err
		}
	}
	if err := u.orphans(ctx); err != nil {
		return err
	}
	if err := u.preprocess(ctx); err != nil {
		return err
	}
	if err := u.rowSwitches(); err != nil {
		return err
	}
	saves, deletes, err := u.plan(ctx)
	if err != nil {
		return err
	}
	for _, group := range saves {
		if err := u.save(ctx, group); err != nil {
			return err
		}
	}
	if err := u.associations(ctx); err != nil {
		return err
	}
	if err := u.postUpdates(ctx); err != nil {
		return err
	}
	for i := len(deletes) - 1; i >= 0; i-- {
		if err := u.delete(ctx, deletes[i]); err != nil {
			return err
		}
	}
	return nil
}

// orphans fails for pending orphans and deletes persistent ones.
func (u *unitOfWork) orphans(ctx context.Context) error {
	for _, st := range slices.Clone(u.list) {
		if !u.isSave(st) {
			continue
		}
		m, err := u.s.mapper(st)
		if err != nil {
			return err
		}
		prop := m.orphanOf(st)
		if prop == nil {
			continue
		}
		if st.Key == nil {
			return strata.NewFlushError("instance %s is an unsaved, pending instance and is an orphan (is not attached to any parent %s instance via that class's %q attribute)",
				describe(st), prop.parent.Name, prop.key)
		}
		u.s.logger.DebugContext(ctx, "orm: deleting orphan", "instance", describe(st), "relationship", prop.String())
		u.kind[st] = kindDelete
	}
	return nil
}

// orphanOf returns a delete-orphan relationship st is not attached
// through, or nil.
func (m *Mapper) orphanOf(st *attributes.InstanceState) *RelationshipProperty {
	for _, om := range m.registry.order {
		for _, prop := range om.relationships() {
			if prop.parent != om || !prop.Cascade.DeleteOrphan || !m.isa(prop.target) {
				continue
			}
			if !st.HasParent(prop.impl, st.Key != nil) {
				return prop
			}
		}
	}
	return nil
}

// rowSwitches turns the insert of a pending instance whose identity
// belongs to an instance being deleted into an update of that row.
func (u *unitOfWork) rowSwitches() error {
	for _, st := range slices.Clone(u.list) {
		if !u.insert[st] || !u.isSave(st) {
			continue
		}
		m, err := u.s.mapper(st)
		if err != nil {
			return err
		}
		ident, ok := m.identityOf(st)
		if !ok {
			continue
		}
		key := m.identityKey(ident)
		cur, ok := u.s.identity.get(key)
		if !ok || cur == st {
			continue
		}
		if !u.isDelete(cur) {
			return strata.NewFlushError("new instance %s with identity key %s conflicts with persistent instance %s", describe(st), key, describe(cur))
		}
		u.s.logger.DebugContext(u.ctx, "orm: row switch", "key", key.String())
		u.rowSwitch[st] = cur
		delete(u.kind, cur)
		delete(u.insert, st)
	}
	return nil
}

// plan orders the states to save and to delete. Mappers are sorted by the
// dependencies of their relationships and foreign keys; the rows of
// mappers depending on themselves or on each other are sorted one by one.
func (u *unitOfWork) plan(ctx context.Context) (saves, deletes [][]*attributes.InstanceState, err error) {
	byBase := make(map[*Mapper][]*attributes.InstanceState)
	g := graph.New[*Mapper]()
	for _, st := range sortStates(slices.Clone(u.list)) {
		if _, ok := u.kind[st]; !ok {
			continue
		}
		m, err := u.s.mapper(st)
		if err != nil {
			return nil, nil, err
		}
		b := m.Base()
		g.AddNode(b)
		byBase[b] = append(byBase[b], st)
	}
	selfRef := u.dependencies(g)
	for _, comp := range g.Components() {
		var save, del []*attributes.InstanceState
		for _, b := range comp {
			for _, st := range byBase[b] {
				if u.isDelete(st) {
					del = append(del, st)
				} else {
					save = append(save, st)
				}
			}
		}
		if len(comp) > 1 || selfRef[comp[0]] {
			if save, err = u.sortRows(ctx, save, false); err != nil {
				return nil, nil, err
			}
			if del, err = u.sortRows(ctx, del, true); err != nil {
				return nil, nil, err
			}
		} else {
			sortStates(save)
			sortStates(del)
		}
		if len(save) > 0 {
			saves = append(saves, save)
		}
		if len(del) > 0 {
			deletes = append(deletes, del)
		}
	}
	return saves, deletes, nil
}

// dependencies adds to g an edge from each mapper to the mappers whose
// rows reference its rows, and reports the mappers referencing
// themselves.
func (u *unitOfWork) dependencies(g *graph.Graph[*Mapper]) map[*Mapper]bool {
	selfRef := make(map[*Mapper]bool)
	inGraph := make(map[*Mapper]bool)
	for _, b := range g.Nodes() {
		inGraph[b] = true
	}
	postCols := make(map[any]bool)
	reg := u.s.registry
	for _, m := range reg.order {
		for _, prop := range m.relationships() {
			if prop.parent != m || prop.ViewOnly || prop.Direction == ManyToMany {
				continue
			}
			if prop.PostUpdate {
				for _, pair := range prop.pairs {
					postCols[pair.dest] = true
				}
				continue
			}
			pb, tb := prop.parent.Base(), prop.target.Base()
			if pb == tb {
				selfRef[pb] = true
				continue
			}
			if !inGraph[pb] || !inGraph[tb] {
				continue
			}
			if prop.Direction == OneToMany {
				g.AddEdge(pb, tb)
			} else {
				g.AddEdge(tb, pb)
			}
		}
	}
	byTable := make(map[any]*Mapper)
	for b := range inGraph {
		for _, t := range b.tables {
			byTable[t] = b
		}
	}
	for b := range inGraph {
		for _, t := range b.tables {
			for _, fk := range t.ForeignKeys() {
				if fk.UseAlter || postCols[fk.Parent] {
					continue
				}
				target, err := fk.Column()
				if err != nil {
					continue
				}
				if ref, ok := byTable[target.Table()]; ok && ref != b {
					g.AddEdge(ref, b)
				}
			}
		}
	}
	return selfRef
}

// sortRows orders states so that referenced rows are saved before the
// rows referencing them, or deleted after them when del is set.
func (u *unitOfWork) sortRows(ctx context.Context, states []*attributes.InstanceState, del bool) ([]*attributes.InstanceState, error) {
	if len(states) < 2 {
		return states, nil
	}
	sortStates(states)
	member := make(map[*attributes.InstanceState]bool, len(states))
	g := graph.New[*attributes.InstanceState]()
	for _, st := range states {
		member[st] = true
		g.AddNode(st)
	}
	for _, st := range states {
		m, err := u.s.mapper(st)
		if err != nil {
			return nil, err
		}
		for _, prop := range m.relationships() {
			if prop.ViewOnly || prop.PostUpdate || prop.Direction == ManyToMany {
				continue
			}
			h, err := prop.impl.History(ctx, st, attributes.PassiveNoFetch)
			if err != nil {
				return nil, err
			}
			related := h.NonDeleted()
			if del {
				related = h.Sum()
			}
			for _, obj := range related {
				rs, ok := attributes.StateOf(obj)
				if !ok || !member[rs] || rs == st {
					continue
				}
				if prop.Direction == OneToMany {
					g.AddEdge(st, rs)
				} else {
					g.AddEdge(rs, st)
				}
			}
		}
	}
	sorted, err := g.Sort()
	if err != nil {
		return nil, &strata.FlushError{Msg: "circular dependency between rows; mark one of the relationships PostUpdate", Err: err}
	}
	if del {
		slices.Reverse(sorted)
	}
	return sorted, nil
}

// finish records the outcome of a successful flush in the session and in
// the transaction level lvl.
func (u *unitOfWork) finish(lvl *SessionTransaction) {
	s := u.s
	for _, st := range u.removed {
		st.Deleted = true
		s.identity.remove(st)
		delete(s.deleted, st)
		lvl.removed[st] = struct{}{}
	}
	for _, st := range u.saved {
		if old, ok := u.rowSwitch[st]; ok {
			old.Deleted = true
			s.identity.remove(old)
			delete(s.deleted, old)
			lvl.removed[old] = struct{}{}
		}
		if _, ok := s.pending[st]; ok {
			delete(s.pending, st)
			lvl.inserted[st] = struct{}{}
		}
		s.identity.add(st)
		st.CommitAll()
		if keys := u.serverDefaults[st]; len(keys) > 0 {
			st.Expire(keys...)
		}
		s.identity.release(st)
	}
	lvl.flushed = true
}

// restore undoes the in-memory effects of a failed flush.
func (u *unitOfWork) restore() {
	s := u.s
	for st := range u.snaps {
		s.identity.remove(st)
	}
	for st, snap := range u.snaps {
		snap.Restore()
		if u.inIdentity[st] && st.Key != nil {
			s.identity.add(st)
		}
	}
	s.pending = u.pending
	s.deleted = u.deleted
}
