package orm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/orm/attributes"
)

// preprocess follows the relationships of the planned states until no
// state is added: children of a saved parent are saved, children removed
// from a delete-orphan collection or of a deleted parent are deleted or
// have their foreign key cleared.
func (u *unitOfWork) preprocess(ctx context.Context) error {
	done := make(map[*attributes.InstanceState]saveKind)
	for {
		progressed := false
		for _, st := range slices.Clone(u.list) {
			k := u.kind[st]
			if k == 0 || done[st] == k {
				continue
			}
			done[st] = k
			progressed = true
			if err := u.process(ctx, st, k == kindDelete); err != nil {
				return err
			}
		}
		if !progressed {
			return nil
		}
	}
}

func (u *unitOfWork) process(ctx context.Context, st *attributes.InstanceState, del bool) error {
	m, err := u.s.mapper(st)
	if err != nil {
		return err
	}
	for _, prop := range m.relationships() {
		if prop.ViewOnly {
			continue
		}
		switch prop.Direction {
		case OneToMany:
			err = u.processOneToMany(ctx, st, prop, del)
		case ManyToOne:
			err = u.processManyToOne(ctx, st, prop, del)
		case ManyToMany:
			err = u.processManyToMany(ctx, st, prop, del)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) processOneToMany(ctx context.Context, st *attributes.InstanceState, prop *RelationshipProperty, del bool) error {
	if del {
		passive := attributes.Active
		if prop.PassiveDeletes {
			passive = attributes.PassiveNoFetch
		}
		h, err := prop.impl.History(ctx, st, passive)
		if err != nil {
			return err
		}
		for _, c := range h.Sum() {
			cs, ok := attributes.StateOf(c)
			if !ok || u.isDelete(cs) {
				continue
			}
			if prop.Cascade.Delete {
				if cs.Key != nil {
					if err := u.register(cs, kindDelete); err != nil {
						return err
					}
				}
				continue
			}
			if prop.PostUpdate || !u.s.contains(cs) {
				continue
			}
			if err := u.register(cs, kindSave); err != nil {
				return err
			}
			u.addSync(cs, rowSync{parent: st, prop: prop, clear: true})
		}
		return nil
	}
	h, err := prop.impl.History(ctx, st, attributes.PassiveNoFetch)
	if err != nil {
		return err
	}
	for _, c := range h.Added {
		cs, ok := attributes.StateOf(c)
		if !ok || u.isDelete(cs) {
			continue
		}
		if err := u.register(cs, kindSave); err != nil {
			return err
		}
		if !prop.PostUpdate {
			u.addSync(cs, rowSync{parent: st, prop: prop})
		}
	}
	for _, c := range h.Deleted {
		cs, ok := attributes.StateOf(c)
		if !ok || u.isDelete(cs) || cs.Key == nil {
			continue
		}
		if prop.Cascade.DeleteOrphan && !cs.HasParent(prop.impl, false) {
			if err := u.register(cs, kindDelete); err != nil {
				return err
			}
			continue
		}
		if prop.PostUpdate || !u.s.contains(cs) {
			continue
		}
		if err := u.register(cs, kindSave); err != nil {
			return err
		}
		u.addSync(cs, rowSync{parent: st, prop: prop, clear: true})
	}
	return nil
}

func (u *unitOfWork) processManyToOne(ctx context.Context, st *attributes.InstanceState, prop *RelationshipProperty, del bool) error {
	if del {
		return nil
	}
	h, err := prop.impl.History(ctx, st, attributes.PassiveNoFetch)
	if err != nil {
		return err
	}
	for _, p := range h.Added {
		ps, ok := attributes.StateOf(p)
		if !ok || u.isDelete(ps) {
			continue
		}
		if err := u.register(ps, kindSave); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) processManyToMany(ctx context.Context, st *attributes.InstanceState, prop *RelationshipProperty, del bool) error {
	if del {
		return nil
	}
	h, err := prop.impl.History(ctx, st, attributes.PassiveNoFetch)
	if err != nil {
		return err
	}
	for _, c := range h.Added {
		cs, ok := attributes.StateOf(c)
		if !ok || u.isDelete(cs) {
			continue
		}
		if err := u.register(cs, kindSave); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) addSync(st *attributes.InstanceState, sy rowSync) {
	if slices.Contains(u.syncs[st], sy) {
		return
	}
	u.syncs[st] = append(u.syncs[st], sy)
}

// applySyncs copies referenced values into the foreign keys of st before
// it is saved. Clears go first so that a child moved between parents
// ends up referencing the new one.
func (u *unitOfWork) applySyncs(ctx context.Context, m *Mapper, st *attributes.InstanceState) error {
	for _, sy := range u.syncs[st] {
		if sy.clear {
			if err := u.clearPairs(ctx, m, st, sy.prop.pairs); err != nil {
				return err
			}
		}
	}
	for _, sy := range u.syncs[st] {
		if !sy.clear {
			if err := u.copyPairs(ctx, sy.parent, m, st, sy.prop.pairs); err != nil {
				return err
			}
		}
	}
	for _, prop := range m.relationships() {
		if prop.Direction != ManyToOne || prop.ViewOnly || prop.PostUpdate {
			continue
		}
		h, err := prop.impl.History(ctx, st, attributes.PassiveNoFetch)
		if err != nil {
			return err
		}
		if len(h.Added) == 0 {
			continue
		}
		if ps, ok := attributes.StateOf(h.Added[0]); ok {
			err = u.copyPairs(ctx, ps, m, st, prop.pairs)
		} else {
			err = u.clearPairs(ctx, m, st, prop.pairs)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// copyPairs sets the foreign key columns of st, mapped by m, to the
// referenced values of parent.
func (u *unitOfWork) copyPairs(ctx context.Context, parent *attributes.InstanceState, m *Mapper, st *attributes.InstanceState, pairs []syncPair) error {
	pm, err := u.s.mapper(parent)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		src, dst := pm.colProps[pair.source], m.colProps[pair.dest]
		if src == nil || dst == nil {
			continue
		}
		v, err := src.impl.Get(ctx, parent, attributes.Active)
		if err != nil {
			return err
		}
		if err := u.setColumn(ctx, st, dst, v); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) clearPairs(ctx context.Context, m *Mapper, st *attributes.InstanceState, pairs []syncPair) error {
	for _, pair := range pairs {
		dst := m.colProps[pair.dest]
		if dst == nil {
			continue
		}
		if pair.dest.IsPrimaryKey() {
			return strata.NewFlushError("dependency rule tried to blank out primary key column %s on instance %s", pair.dest, describe(st))
		}
		if err := u.setColumn(ctx, st, dst, nil); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) setColumn(ctx context.Context, st *attributes.InstanceState, cp *ColumnProperty, v any) error {
	if cur, ok := st.Dict[cp.key]; ok && cp.Type().Compare(cur, v) {
		return nil
	}
	u.snapshot(st)
	return cp.impl.Set(ctx, st, v, nil)
}

// assocRow is a row of a many-to-many association table.
type assocRow struct {
	table  *expr.Table
	values map[string]any
	keys   []string
	m      *Mapper
}

func (r assocRow) String() string {
	parts := make([]string, len(r.keys))
	for i, k := range r.keys {
		parts[i] = fmt.Sprintf("%s=%v", k, r.values[k])
	}
	return r.table.Name + "(" + strings.Join(parts, ",") + ")"
}

// associations inserts and deletes the association rows of the
// many-to-many relationships of the planned states. A pair changed from
// both sides of a backref yields one row.
func (u *unitOfWork) associations(ctx context.Context) error {
	var inserts, deletes []assocRow
	seen := make(map[string]bool)
	add := func(list *[]assocRow, sign string, r assocRow) {
		if key := sign + r.String(); !seen[key] {
			seen[key] = true
			*list = append(*list, r)
		}
	}
	for _, st := range u.list {
		k := u.kind[st]
		if k == 0 {
			continue
		}
		m, err := u.s.mapper(st)
		if err != nil {
			return err
		}
		for _, prop := range m.relationships() {
			if prop.Direction != ManyToMany || prop.ViewOnly {
				continue
			}
			var added, removed []any
			if k == kindDelete {
				passive := attributes.Active
				if prop.PassiveDeletes {
					passive = attributes.PassiveNoFetch
				}
				h, err := prop.impl.History(ctx, st, passive)
				if err != nil {
					return err
				}
				removed = append(h.Unchanged, h.Deleted...)
			} else {
				h, err := prop.impl.History(ctx, st, attributes.PassiveNoFetch)
				if err != nil {
					return err
				}
				added, removed = h.Added, h.Deleted
			}
			for _, c := range added {
				cs, ok := attributes.StateOf(c)
				if !ok || u.isDelete(cs) {
					continue
				}
				r, err := u.assocRow(ctx, m, st, cs, prop)
				if err != nil {
					return err
				}
				add(&inserts, "+", r)
			}
			for _, c := range removed {
				cs, ok := attributes.StateOf(c)
				if !ok || cs.Key == nil {
					continue
				}
				r, err := u.assocRow(ctx, m, st, cs, prop)
				if err != nil {
					return err
				}
				add(&deletes, "-", r)
			}
		}
	}
	for _, r := range deletes {
		if err := u.deleteAssoc(ctx, r); err != nil {
			return err
		}
	}
	return u.insertAssoc(ctx, inserts)
}

func (u *unitOfWork) assocRow(ctx context.Context, m *Mapper, st, cs *attributes.InstanceState, prop *RelationshipProperty) (assocRow, error) {
	tm, err := u.s.mapper(cs)
	if err != nil {
		return assocRow{}, err
	}
	r := assocRow{table: prop.Secondary, values: make(map[string]any), m: m}
	fill := func(pm *Mapper, ps *attributes.InstanceState, pairs []syncPair) error {
		for _, pair := range pairs {
			cp := pm.colProps[pair.source]
			if cp == nil {
				return strata.NewFlushError("column %s of %s is not mapped", pair.source, pm.Name)
			}
			v, err := cp.impl.Get(ctx, ps, attributes.Active)
			if err != nil {
				return err
			}
			r.values[pair.dest.Key] = v
			r.keys = append(r.keys, pair.dest.Key)
		}
		return nil
	}
	if err := fill(m, st, prop.pairs); err != nil {
		return assocRow{}, err
	}
	if err := fill(tm, cs, prop.targetPairs); err != nil {
		return assocRow{}, err
	}
	slices.Sort(r.keys)
	return r, nil
}

func (u *unitOfWork) deleteAssoc(ctx context.Context, r assocRow) error {
	tx, e, err := u.conn(ctx, r.m)
	if err != nil {
		return err
	}
	key := stmtKey{e: e, table: r.table, op: strata.OpDelete, shape: strings.Join(r.keys, ",")}
	c, err := u.compile(e, key, func() expr.Element {
		where := make([]expr.Element, len(r.keys))
		for i, k := range r.keys {
			col := r.table.C(k)
			where[i] = expr.EQ(col, expr.Param(k, col.Type()))
		}
		return expr.Delete(r.table).Where(where...)
	})
	if err != nil {
		return err
	}
	res, err := u.exec(ctx, tx, r.m, c, r.values)
	if err != nil {
		return err
	}
	return checkRowcount(e, res, r.table, "DELETE", 1)
}

// insertAssoc inserts the rows, one statement per table when the
// dialect renders several VALUES groups.
func (u *unitOfWork) insertAssoc(ctx context.Context, rows []assocRow) error {
	for i := 0; i < len(rows); {
		j := i + 1
		for j < len(rows) && rows[j].table == rows[i].table && rows[j].m == rows[i].m {
			j++
		}
		group := rows[i:j]
		i = j
		tx, e, err := u.conn(ctx, group[0].m)
		if err != nil {
			return err
		}
		n := len(group)
		if !e.Capabilities().MultiValuesInsert {
			n = 1
		}
		for len(group) > 0 {
			batch := group[:min(n, len(group))]
			group = group[len(batch):]
			t := batch[0].table
			key := stmtKey{e: e, table: t, op: strata.OpInsert, shape: strings.Join(batch[0].keys, ","), rows: len(batch)}
			c, err := u.compile(e, key, func() expr.Element { return expr.Insert(t) },
				compilerKeys(batch[0].keys, len(batch))...)
			if err != nil {
				return err
			}
			params := make([]map[string]any, len(batch))
			for k, r := range batch {
				params[k] = r.values
			}
			if _, err := u.exec(ctx, tx, batch[0].m, c, params...); err != nil {
				return err
			}
		}
	}
	return nil
}

// postKey identifies one post-update statement of a flush.
type postKey struct {
	st    *attributes.InstanceState
	table *expr.Table
	keys  string
}

// postUpdates sets the foreign keys of relationships marked PostUpdate
// once both rows exist, and clears them for rows about to be deleted.
func (u *unitOfWork) postUpdates(ctx context.Context) error {
	for _, st := range u.list {
		k := u.kind[st]
		if k == 0 {
			continue
		}
		m, err := u.s.mapper(st)
		if err != nil {
			return err
		}
		for _, prop := range m.relationships() {
			if !prop.PostUpdate || prop.ViewOnly {
				continue
			}
			var err error
			switch prop.Direction {
			case ManyToOne:
				err = u.postUpdateManyToOne(ctx, m, st, prop, k == kindDelete)
			case OneToMany:
				err = u.postUpdateOneToMany(ctx, st, prop, k == kindDelete)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *unitOfWork) postUpdateManyToOne(ctx context.Context, m *Mapper, st *attributes.InstanceState, prop *RelationshipProperty, del bool) error {
	if del {
		for _, pair := range prop.pairs {
			if cp := m.colProps[pair.dest]; cp != nil && st.Dict[cp.key] != nil {
				return u.postUpdate(ctx, m, st, prop.pairs, nil)
			}
		}
		return nil
	}
	h, err := prop.impl.History(ctx, st, attributes.PassiveNoFetch)
	if err != nil || len(h.Added) == 0 {
		return err
	}
	ps, _ := attributes.StateOf(h.Added[0])
	return u.postUpdate(ctx, m, st, prop.pairs, ps)
}

func (u *unitOfWork) postUpdateOneToMany(ctx context.Context, st *attributes.InstanceState, prop *RelationshipProperty, del bool) error {
	passive := attributes.PassiveNoFetch
	if del && !prop.PassiveDeletes {
		passive = attributes.Active
	}
	h, err := prop.impl.History(ctx, st, passive)
	if err != nil {
		return err
	}
	update := func(c any, parent *attributes.InstanceState) error {
		cs, ok := attributes.StateOf(c)
		if !ok || cs.Key == nil {
			return nil
		}
		if parent != nil && u.isDelete(cs) {
			return nil
		}
		cm, err := u.s.mapper(cs)
		if err != nil {
			return err
		}
		return u.postUpdate(ctx, cm, cs, prop.pairs, parent)
	}
	if del {
		for _, c := range h.Sum() {
			if err := update(c, nil); err != nil {
				return err
			}
		}
		return nil
	}
	for _, c := range h.Added {
		if err := update(c, st); err != nil {
			return err
		}
	}
	for _, c := range h.Deleted {
		cs, ok := attributes.StateOf(c)
		if ok && u.isDelete(cs) {
			continue
		}
		if err := update(c, nil); err != nil {
			return err
		}
	}
	return nil
}

// postUpdate issues an UPDATE of the foreign key columns of st from
// parent, or to NULL when parent is nil.
func (u *unitOfWork) postUpdate(ctx context.Context, m *Mapper, st *attributes.InstanceState, pairs []syncPair, parent *attributes.InstanceState) error {
	var pm *Mapper
	if parent != nil {
		var err error
		if pm, err = u.s.mapper(parent); err != nil {
			return err
		}
	}
	byTable := make(map[*expr.Table]map[string]any)
	var tables []*expr.Table
	for _, pair := range pairs {
		dst := m.colProps[pair.dest]
		if dst == nil {
			continue
		}
		var v any
		if parent != nil {
			if src := pm.colProps[pair.source]; src != nil {
				var err error
				if v, err = src.impl.Get(ctx, parent, attributes.Active); err != nil {
					return err
				}
			}
		}
		if !u.isDelete(st) {
			if err := u.setColumn(ctx, st, dst, v); err != nil {
				return err
			}
		}
		t := pair.dest.Table()
		if byTable[t] == nil {
			byTable[t] = make(map[string]any)
			tables = append(tables, t)
		}
		byTable[t][pair.dest.Key] = v
	}
	tx, e, err := u.conn(ctx, m)
	if err != nil {
		return err
	}
	for _, t := range tables {
		params := byTable[t]
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		pk := postKey{st: st, table: t, keys: strings.Join(keys, ",")}
		if u.postDone[pk] {
			continue
		}
		u.postDone[pk] = true
		where := u.pkCriteria(m, st, t, params)
		key := stmtKey{e: e, table: t, op: strata.OpUpdate, shape: "post:" + pk.keys}
		c, err := u.compile(e, key, func() expr.Element { return expr.Update(t).Where(where...) },
			compilerKeys(keys, 0)...)
		if err != nil {
			return err
		}
		u.s.logger.DebugContext(ctx, "orm: post update", "instance", describe(st), "table", t.Name)
		res, err := u.exec(ctx, tx, m, c, params)
		if err != nil {
			return err
		}
		if err := checkRowcount(e, res, t, "UPDATE", 1); err != nil {
			return err
		}
	}
	return nil
}
