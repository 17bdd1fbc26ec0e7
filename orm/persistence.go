package orm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/compiler"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
	"github.com/syssam/strata/orm/attributes"
)

// stmtKey identifies a compiled statement reused within a flush.
type stmtKey struct {
	e     *Engine
	table *expr.Table
	op    strata.Op
	shape string
	rows  int
	ret   bool
}

func (u *unitOfWork) compile(e *Engine, key stmtKey, build func() expr.Element, opts ...compiler.Option) (*compiler.Compiled, error) {
	if c, ok := u.stmts[key]; ok {
		return c, nil
	}
	c, err := e.compile(build(), opts...)
	if err != nil {
		return nil, err
	}
	u.stmts[key] = c
	return c, nil
}

func compilerKeys(keys []string, rows int) []compiler.Option {
	opts := []compiler.Option{compiler.WithColumnKeys(keys...)}
	if rows > 1 {
		opts = append(opts, compiler.WithRows(rows))
	}
	return opts
}

// conn returns the database transaction persisting m.
func (u *unitOfWork) conn(ctx context.Context, m *Mapper) (dialect.Tx, *Engine, error) {
	e, err := u.s.engineFor(m)
	if err != nil {
		return nil, nil, err
	}
	tx, err := u.s.tx.connection(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	return tx, e, nil
}

func (u *unitOfWork) exec(ctx context.Context, tx dialect.ExecQuerier, m *Mapper, c *compiler.Compiled, params ...map[string]any) (sql.Result, error) {
	args, err := c.Args(params...)
	if err != nil {
		return nil, err
	}
	u.s.logger.DebugContext(ctx, "orm: flush", "entity", m.Name, "sql", c.SQL)
	var res sql.Result
	if err := tx.Exec(ctx, c.SQL, args, &res); err != nil {
		return nil, statementError(m, err)
	}
	return res, nil
}

func statementError(m *Mapper, err error) error {
	if sql.IsConstraintError(err) {
		return strata.NewConstraintError(fmt.Sprintf("orm: %s: %v", m.Name, err), err)
	}
	return fmt.Errorf("orm: %s: %w", m.Name, err)
}

func checkRowcount(e *Engine, res sql.Result, t *expr.Table, op string, expected int64) error {
	if !e.Capabilities().SaneRowcount || res == nil {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n != expected {
		return &strata.ConcurrencyError{Table: t.Name, Op: op, Expected: expected, Matched: n}
	}
	return nil
}

// mutation describes the change of one instance to privacy policies.
type mutation struct {
	op     strata.Op
	m      *Mapper
	st     *attributes.InstanceState
	fields []string
}

func (mu *mutation) Op() strata.Op    { return mu.op }
func (mu *mutation) Entity() string   { return mu.m.Name }
func (mu *mutation) Object() any      { return mu.st.Obj() }
func (mu *mutation) Fields() []string { return mu.fields }

func (mu *mutation) Field(name string) (any, bool) {
	v, ok := mu.st.Dict[name]
	return v, ok
}

func (u *unitOfWork) authorize(ctx context.Context, m *Mapper, st *attributes.InstanceState, op strata.Op, fields []string) error {
	if m.policy == nil {
		return nil
	}
	return m.policy.EvalMutation(ctx, &mutation{op: op, m: m, st: st, fields: fields})
}

// pkValue returns the persisted value of the primary key column col of
// st, which is the value identifying the row even when it was changed.
func (m *Mapper) pkValue(st *attributes.InstanceState, col *expr.Column) any {
	cp := m.colProps[col]
	for i, pk := range m.pk {
		if m.colProps[pk] == cp && i < len(st.Ident) {
			return st.Ident[i]
		}
	}
	if cp == nil {
		return nil
	}
	return st.Dict[cp.key]
}

// pkCriteria returns the criterion matching the row of st in t and
// stores its parameters into params.
func (u *unitOfWork) pkCriteria(m *Mapper, st *attributes.InstanceState, t *expr.Table, params map[string]any) []expr.Element {
	var where []expr.Element
	for _, col := range t.PrimaryKey() {
		name := "pk_" + col.Key
		params[name] = m.pkValue(st, col)
		where = append(where, expr.EQ(col, expr.Param(name, col.Type())))
	}
	return where
}

// save persists a group of states in order. Consecutive inserts of one
// mapper may share statements.
func (u *unitOfWork) save(ctx context.Context, states []*attributes.InstanceState) error {
	for i := 0; i < len(states); {
		m, err := u.s.mapper(states[i])
		if err != nil {
			return err
		}
		j := i + 1
		for j < len(states) && u.insert[states[j]] == u.insert[states[i]] && u.s.registry.mapperOf(states[j]) == m {
			j++
		}
		run := states[i:j]
		i = j
		if u.insert[run[0]] {
			err = u.insertRun(ctx, m, run)
		} else {
			for _, st := range run {
				if err = u.update(ctx, m, st); err != nil {
					break
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) prepareInsert(ctx context.Context, m *Mapper, st *attributes.InstanceState) error {
	if err := u.applySyncs(ctx, m, st); err != nil {
		return err
	}
	if v := m.cfg.polyIdentity; v != nil && m.polyOn != nil {
		cp := m.colProps[m.polyOn]
		if cur, ok := st.Dict[cp.key]; !ok || cur == nil {
			st.Dict[cp.key] = v
		}
	}
	if m.version != nil {
		cp := m.colProps[m.version]
		if cur, ok := st.Dict[cp.key]; !ok || cur == nil {
			st.Dict[cp.key] = int64(1)
		}
	}
	var fields []string
	for _, cp := range m.columnProperties() {
		if st.Loaded(cp.key) {
			fields = append(fields, cp.key)
		}
	}
	if err := u.authorize(ctx, m, st, strata.OpInsert, fields); err != nil {
		return err
	}
	return m.runHooks(ctx, beforeInsert, st.Obj())
}

// batchable reports whether st can be inserted in a multi row statement:
// no primary key value is left for the database to generate.
func (u *unitOfWork) batchable(e *Engine, m *Mapper, st *attributes.InstanceState) bool {
	if !m.cfg.batch || !e.Capabilities().MultiValuesInsert {
		return false
	}
	_, ok := m.identityOf(st)
	return ok
}

func (u *unitOfWork) insertRun(ctx context.Context, m *Mapper, states []*attributes.InstanceState) error {
	tx, e, err := u.conn(ctx, m)
	if err != nil {
		return err
	}
	var batch []*attributes.InstanceState
	for _, st := range states {
		if err := u.prepareInsert(ctx, m, st); err != nil {
			return err
		}
		if len(states) > 1 && u.batchable(e, m, st) {
			batch = append(batch, st)
			continue
		}
		if err := u.insertBatch(ctx, tx, e, m, batch); err != nil {
			return err
		}
		batch = nil
		for _, t := range m.tables {
			if err := u.insertRow(ctx, tx, e, m, st, t); err != nil {
				return err
			}
		}
		if err := u.inserted(ctx, m, st); err != nil {
			return err
		}
	}
	return u.insertBatch(ctx, tx, e, m, batch)
}

// inserted gives st its identity once all its rows exist.
func (u *unitOfWork) inserted(ctx context.Context, m *Mapper, st *attributes.InstanceState) error {
	ident, ok := m.identityOf(st)
	if !ok {
		return strata.NewFlushError("instance %s has a NULL identity key after insert; check that the primary key is generated by the database or assigned", describe(st))
	}
	key := m.identityKey(ident)
	st.Key, st.Ident = &key, ident
	u.saved = append(u.saved, st)
	return m.runHooks(ctx, afterInsert, st.Obj())
}

// insertParams returns the values of the columns of t inserted for st,
// and the primary key columns the database generates.
func (u *unitOfWork) insertParams(m *Mapper, st *attributes.InstanceState, t *expr.Table) (map[string]any, []string, []*expr.Column) {
	params := make(map[string]any)
	var (
		keys      []string
		generated []*expr.Column
	)
	for _, col := range t.Columns() {
		cp := m.colProps[col]
		if cp == nil {
			continue
		}
		v, ok := st.Dict[cp.key]
		if !ok || v == nil {
			switch {
			case col.IsPrimaryKey() && col.IsAutoincrement():
				generated = append(generated, col)
				continue
			case col.DefaultValue() != nil:
				continue
			case col.ServerDefaultSQL() != "":
				if !slices.Contains(u.serverDefaults[st], cp.key) {
					u.serverDefaults[st] = append(u.serverDefaults[st], cp.key)
				}
				continue
			}
		}
		params[col.Key] = v
		keys = append(keys, col.Key)
	}
	return params, keys, generated
}

// identityInsert runs fn between the statements allowing explicit values
// for the identity column of t. An error turning it off does not hide the
// error of fn.
func identityInsert(ctx context.Context, tx dialect.ExecQuerier, e *Engine, t *expr.Table, fn func() error) error {
	name := e.dialect.Preparer().Quote(t.Name)
	if err := tx.Exec(ctx, e.dialect.IdentityInsertSQL(name, true), []any{}, nil); err != nil {
		return err
	}
	err := fn()
	if offErr := tx.Exec(ctx, e.dialect.IdentityInsertSQL(name, false), []any{}, nil); offErr != nil && err == nil {
		err = offErr
	}
	return err
}

func (u *unitOfWork) insertRow(ctx context.Context, tx dialect.Tx, e *Engine, m *Mapper, st *attributes.InstanceState, t *expr.Table) error {
	params, keys, generated := u.insertParams(m, st, t)
	returning := len(generated) > 0 && e.Capabilities().InsertReturning
	key := stmtKey{e: e, table: t, op: strata.OpInsert, shape: strings.Join(keys, ","), rows: 1, ret: returning}
	c, err := u.compile(e, key, func() expr.Element {
		s := expr.Insert(t)
		if returning {
			s = s.Returning(generated...)
		}
		return s
	}, compilerKeys(keys, 1)...)
	if err != nil {
		return err
	}
	run := func() error {
		if returning {
			return u.insertReturning(ctx, tx, m, st, c, params)
		}
		res, err := u.exec(ctx, tx, m, c, params)
		if err != nil {
			return err
		}
		switch len(generated) {
		case 0:
			return nil
		case 1:
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("orm: %s: last insert id: %w", m.Name, err)
			}
			u.setResult(m, st, generated[0], id)
			return nil
		default:
			return strata.NewFlushError("%d generated primary key columns of table %q cannot be fetched without RETURNING", len(generated), t.Name)
		}
	}
	if c.IdentityInsert {
		err = identityInsert(ctx, tx, e, t, run)
	} else {
		err = run()
	}
	if err != nil {
		return err
	}
	u.prefetched(m, st, c, params)
	return nil
}

func (u *unitOfWork) insertReturning(ctx context.Context, tx dialect.Tx, m *Mapper, st *attributes.InstanceState, c *compiler.Compiled, params map[string]any) error {
	args, err := c.Args(params)
	if err != nil {
		return err
	}
	u.s.logger.DebugContext(ctx, "orm: flush", "entity", m.Name, "sql", c.SQL)
	var rows sql.Rows
	if err := tx.Query(ctx, c.SQL, args, &rows); err != nil {
		return statementError(m, err)
	}
	_, values, err := sql.ScanValues(rows)
	if err != nil {
		return statementError(m, err)
	}
	if len(values) != 1 {
		return strata.NewFlushError("INSERT of %s returned %d rows", m.Name, len(values))
	}
	for i, col := range c.Returning {
		u.setResult(m, st, col, values[0][i])
	}
	return nil
}

func (u *unitOfWork) setResult(m *Mapper, st *attributes.InstanceState, col *expr.Column, raw any) {
	cp := m.colProps[col]
	if cp == nil {
		return
	}
	v, err := col.Type().Result(raw)
	if err != nil {
		v = raw
	}
	st.Dict[cp.key] = v
}

// prefetched stores the client side defaults evaluated by Args.
func (u *unitOfWork) prefetched(m *Mapper, st *attributes.InstanceState, c *compiler.Compiled, params map[string]any) {
	for _, col := range c.Prefetch {
		if cp := m.colProps[col]; cp != nil {
			st.Dict[cp.key] = params[col.Key]
		}
	}
}

// insertBatch inserts states whose primary keys are known, grouping
// consecutive rows of the same columns into one statement.
func (u *unitOfWork) insertBatch(ctx context.Context, tx dialect.Tx, e *Engine, m *Mapper, states []*attributes.InstanceState) error {
	if len(states) == 0 {
		return nil
	}
	type row struct {
		st     *attributes.InstanceState
		params map[string]any
		shape  string
		keys   []string
	}
	for _, t := range m.tables {
		rows := make([]row, len(states))
		for i, st := range states {
			params, keys, _ := u.insertParams(m, st, t)
			rows[i] = row{st: st, params: params, keys: keys, shape: strings.Join(keys, ",")}
		}
		for i := 0; i < len(rows); {
			j := i + 1
			for j < len(rows) && rows[j].shape == rows[i].shape {
				j++
			}
			group := rows[i:j]
			i = j
			key := stmtKey{e: e, table: t, op: strata.OpInsert, shape: group[0].shape, rows: len(group)}
			c, err := u.compile(e, key, func() expr.Element { return expr.Insert(t) }, compilerKeys(group[0].keys, len(group))...)
			if err != nil {
				return err
			}
			params := make([]map[string]any, len(group))
			for k, r := range group {
				params[k] = r.params
			}
			run := func() error {
				_, err := u.exec(ctx, tx, m, c, params...)
				return err
			}
			if c.IdentityInsert {
				err = identityInsert(ctx, tx, e, t, run)
			} else {
				err = run()
			}
			if err != nil {
				return err
			}
			for k, r := range group {
				u.prefetched(m, r.st, c, params[k])
			}
		}
	}
	for _, st := range states {
		if err := u.inserted(ctx, m, st); err != nil {
			return err
		}
	}
	return nil
}

// colChange is a column value written by an UPDATE.
type colChange struct {
	col   *expr.Column
	value any
}

// changes returns the changed column values of st per table, and the
// changed attributes. A row switch writes every value set on the new
// instance except the primary key.
func (u *unitOfWork) changes(ctx context.Context, m *Mapper, st *attributes.InstanceState, rowSwitch bool) (map[*expr.Table][]colChange, []string, error) {
	out := make(map[*expr.Table][]colChange)
	var fields []string
	for _, t := range m.tables {
		for _, col := range t.Columns() {
			cp := m.colProps[col]
			if cp == nil || col == m.version || (rowSwitch && col.IsPrimaryKey()) {
				continue
			}
			h, err := cp.impl.History(ctx, st, attributes.PassiveNoFetch)
			if err != nil {
				return nil, nil, err
			}
			if !h.HasChanges() {
				continue
			}
			var v any
			if len(h.Added) > 0 {
				v = h.Added[0]
			}
			out[t] = append(out[t], colChange{col: col, value: v})
			if !slices.Contains(fields, cp.key) {
				fields = append(fields, cp.key)
			}
		}
	}
	return out, fields, nil
}

// versionOf returns the version of the row of st as read from the
// database.
func (u *unitOfWork) versionOf(ctx context.Context, m *Mapper, st *attributes.InstanceState) (any, error) {
	cp := m.colProps[m.version]
	h, err := cp.impl.History(ctx, st, attributes.PassiveNoFetch)
	if err != nil {
		return nil, err
	}
	if len(h.Deleted) > 0 {
		return h.Deleted[0], nil
	}
	return cp.impl.Get(ctx, st, attributes.Active)
}

func (u *unitOfWork) update(ctx context.Context, m *Mapper, st *attributes.InstanceState) error {
	if err := u.applySyncs(ctx, m, st); err != nil {
		return err
	}
	old := u.rowSwitch[st]
	changed, fields, err := u.changes(ctx, m, st, old != nil)
	if err != nil {
		return err
	}
	if len(changed) == 0 && old == nil {
		u.saved = append(u.saved, st)
		return nil
	}
	if err := u.authorize(ctx, m, st, strata.OpUpdate, fields); err != nil {
		return err
	}
	if err := m.runHooks(ctx, beforeUpdate, st.Obj()); err != nil {
		return err
	}
	if changed, _, err = u.changes(ctx, m, st, old != nil); err != nil {
		return err
	}
	// the row is identified by the state it replaces
	ident := st
	if old != nil {
		ident = old
	}
	var version any
	if m.version != nil {
		if version, err = u.versionOf(ctx, m, ident); err != nil {
			return err
		}
	}
	tx, e, err := u.conn(ctx, m)
	if err != nil {
		return err
	}
	for _, t := range m.tables {
		params := make(map[string]any)
		var keys []string
		for _, ch := range changed[t] {
			params[ch.col.Key] = ch.value
			keys = append(keys, ch.col.Key)
		}
		versioned := m.version != nil && m.version.Table() == t
		if len(keys) == 0 && !versioned {
			continue
		}
		where := u.pkCriteria(m, ident, t, params)
		var next int64
		if versioned {
			n, _ := types.ToInt64(version)
			next = n + 1
			params[m.version.Key] = next
			keys = append(keys, m.version.Key)
			params["old_"+m.version.Key] = version
			where = append(where, expr.EQ(m.version, expr.Param("old_"+m.version.Key, m.version.Type())))
		}
		key := stmtKey{e: e, table: t, op: strata.OpUpdate, shape: strings.Join(keys, ",")}
		c, err := u.compile(e, key, func() expr.Element { return expr.Update(t).Where(where...) }, compilerKeys(keys, 0)...)
		if err != nil {
			return err
		}
		res, err := u.exec(ctx, tx, m, c, params)
		if err != nil {
			return err
		}
		if err := checkRowcount(e, res, t, "UPDATE", 1); err != nil {
			return err
		}
		u.prefetched(m, st, c, params)
		if versioned {
			st.Dict[m.colProps[m.version].key] = next
		}
	}
	switch {
	case old != nil:
		st.Key, st.Ident = old.Key, old.Ident
	default:
		if newIdent, ok := m.identityOf(st); ok {
			if key := m.identityKey(newIdent); st.Key == nil || key != *st.Key {
				u.s.identity.remove(st)
				st.Key, st.Ident = &key, newIdent
			}
		}
	}
	u.saved = append(u.saved, st)
	return m.runHooks(ctx, afterUpdate, st.Obj())
}

// delete deletes the rows of states, subclass tables first.
func (u *unitOfWork) delete(ctx context.Context, states []*attributes.InstanceState) error {
	for _, st := range states {
		m, err := u.s.mapper(st)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, m, st, strata.OpDelete, nil); err != nil {
			return err
		}
		if err := m.runHooks(ctx, beforeDelete, st.Obj()); err != nil {
			return err
		}
		var version any
		if m.version != nil {
			if version, err = u.versionOf(ctx, m, st); err != nil {
				return err
			}
		}
		tx, e, err := u.conn(ctx, m)
		if err != nil {
			return err
		}
		for i := len(m.tables) - 1; i >= 0; i-- {
			t := m.tables[i]
			params := make(map[string]any)
			where := u.pkCriteria(m, st, t, params)
			versioned := m.version != nil && m.version.Table() == t
			if versioned {
				params["old_"+m.version.Key] = version
				where = append(where, expr.EQ(m.version, expr.Param("old_"+m.version.Key, m.version.Type())))
			}
			key := stmtKey{e: e, table: t, op: strata.OpDelete}
			if versioned {
				key.shape = "version"
			}
			c, err := u.compile(e, key, func() expr.Element { return expr.Delete(t).Where(where...) })
			if err != nil {
				return err
			}
			res, err := u.exec(ctx, tx, m, c, params)
			if err != nil {
				return err
			}
			if err := checkRowcount(e, res, t, "DELETE", 1); err != nil {
				return err
			}
		}
		u.removed = append(u.removed, st)
		if err := m.runHooks(ctx, afterDelete, st.Obj()); err != nil {
			return err
		}
	}
	return nil
}
