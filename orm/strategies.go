package orm

import (
	"context"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/orm/attributes"
)

// LoadStrategy selects how a relationship is loaded when first read.
type LoadStrategy int

const (
	// LazySelect loads the related objects with a SELECT on first access.
	LazySelect LoadStrategy = iota
	// NoLoad never loads the relationship; it holds only what was set.
	NoLoad
)

func (l LoadStrategy) String() string {
	if l == NoLoad {
		return "noload"
	}
	return "select"
}

// lazyLoader loads the related objects of st. Many-to-one references to a
// primary key are served by the identity map when possible.
func (p *RelationshipProperty) lazyLoader(ctx context.Context, st *attributes.InstanceState) (any, error) {
	s, ok := st.Session.(*Session)
	if !ok || s == nil {
		return nil, strata.NewInvalidRequestError("instance %s is not bound to a session; lazy load of %s cannot proceed", describe(st), p)
	}
	m, err := s.mapper(st)
	if err != nil {
		return nil, err
	}
	local, remote := p.loadPairs()
	values := make([]any, len(local))
	for i, col := range local {
		cp := m.colProps[col]
		if cp == nil {
			return nil, strata.NewInvalidRequestError("%s: column %s is not mapped by %s", p, col, m.Name)
		}
		v, err := cp.impl.Get(ctx, st, attributes.Active)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return p.empty(), nil
		}
		values[i] = v
	}
	if p.Direction == ManyToOne {
		if obj, ok := p.fromIdentity(s, remote, values); ok {
			return obj, nil
		}
	}
	q := s.Query(p.target)
	q.noAutoflush = true
	if p.Direction == ManyToMany {
		q.joins = append(q.joins, join{target: p.Secondary, on: p.secondaryJoin})
	}
	for i, col := range remote {
		q.where = append(q.where, expr.EQ(col, values[i]))
	}
	q.orderBy = append(q.orderBy, p.OrderBy...)
	objs, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	if p.Uselist {
		if objs == nil {
			objs = []any{}
		}
		return objs, nil
	}
	if len(objs) == 0 {
		return nil, nil
	}
	return objs[0], nil
}

func (p *RelationshipProperty) empty() any {
	if p.Uselist {
		return []any{}
	}
	return nil
}

// fromIdentity returns the target instance identified by values when the
// remote columns are the primary key of the target.
func (p *RelationshipProperty) fromIdentity(s *Session, remote []*expr.Column, values []any) (any, bool) {
	t := p.target
	if len(remote) != len(t.pk) {
		return nil, false
	}
	ident := make([]any, len(t.pk))
	for i, pk := range t.pk {
		found := false
		for j, col := range remote {
			if col == pk || t.colProps[col] == t.colProps[pk] {
				ident[i], found = values[j], true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	st, ok := s.identity.get(t.identityKey(ident))
	if !ok {
		return nil, false
	}
	if sm := s.registry.mapperOf(st); sm == nil || !sm.isa(t) {
		return nil, false
	}
	return st.Obj(), true
}

// loadColumn returns the column of cp selected when loading m.
func (m *Mapper) loadColumn(cp *ColumnProperty) *expr.Column {
	for _, col := range cp.Columns {
		if containsTable(m.tables, col.Table()) {
			return col
		}
	}
	return cp.Columns[0]
}

// loadExpired reloads the expired column attributes of st with one
// SELECT by primary key.
func (m *Mapper) loadExpired(ctx context.Context, st *attributes.InstanceState) error {
	s, ok := st.Session.(*Session)
	if !ok || s == nil {
		return strata.NewInvalidRequestError("instance %s is not bound to a session; attribute refresh cannot proceed", describe(st))
	}
	if st.Key == nil {
		return strata.NewInvalidRequestError("instance %s has no identity to refresh", describe(st))
	}
	var props []*ColumnProperty
	for _, key := range st.ExpiredKeys() {
		if cp, ok := m.props[key].(*ColumnProperty); ok {
			props = append(props, cp)
		}
	}
	if len(props) == 0 {
		return nil
	}
	return s.loadColumns(ctx, m, st, props)
}

// deferredLoader returns the loader of a deferred column attribute.
func (m *Mapper) deferredLoader(cp *ColumnProperty) attributes.Loader {
	return func(ctx context.Context, st *attributes.InstanceState) (any, error) {
		s, ok := st.Session.(*Session)
		if !ok || s == nil {
			return nil, strata.NewInvalidRequestError("instance %s is not bound to a session; deferred attribute %q cannot be loaded", describe(st), cp.key)
		}
		sm, err := s.mapper(st)
		if err != nil {
			return nil, err
		}
		if err := s.loadColumns(ctx, sm, st, []*ColumnProperty{cp}); err != nil {
			return nil, err
		}
		return st.Dict[cp.key], nil
	}
}

// loadColumns selects props of the row of st and stores the values that
// are still unloaded.
func (s *Session) loadColumns(ctx context.Context, m *Mapper, st *attributes.InstanceState, props []*ColumnProperty) error {
	cols := make([]expr.Element, len(props))
	for i, cp := range props {
		cols[i] = m.loadColumn(cp)
	}
	where := make([]expr.Element, len(m.pk))
	for i, col := range m.pk {
		if i >= len(st.Ident) {
			return strata.NewInvalidRequestError("instance %s has an incomplete identity", describe(st))
		}
		where[i] = expr.EQ(col, st.Ident[i])
	}
	sel := expr.Select(cols...).From(m.selectable()).Where(where...)
	e, err := s.engineFor(m)
	if err != nil {
		return err
	}
	c, err := e.compile(sel)
	if err != nil {
		return err
	}
	rows, err := s.fetch(ctx, e, m, c, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return strata.NewNotFoundErrorWithID(m.Name, st.Key.Ident)
	}
	row := rows[0]
	for _, cp := range props {
		if st.Loaded(cp.key) {
			continue
		}
		idx, ok := c.Index(m.loadColumn(cp))
		if !ok {
			continue
		}
		v, err := cp.Type().Result(row[idx])
		if err != nil {
			return err
		}
		st.SetCommitted(cp.key, v)
	}
	return nil
}
