package orm

import (
	"context"
	"reflect"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/dialect/sql/compiler"
	"github.com/syssam/strata/orm/attributes"
)

// fetch runs the SELECT c within the session transaction and returns its
// raw rows.
func (s *Session) fetch(ctx context.Context, e *Engine, m *Mapper, c *compiler.Compiled, params map[string]any) ([][]any, error) {
	args, err := c.Args(params)
	if err != nil {
		return nil, err
	}
	tx, err := s.autobegin().connection(ctx, e)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "orm: query", "entity", m.Name, "sql", c.SQL)
	var rows sql.Rows
	if err := tx.Query(ctx, c.SQL, args, &rows); err != nil {
		return nil, strata.NewQueryError(m.Name, "select", err)
	}
	_, values, err := sql.ScanValues(rows)
	if err != nil {
		return nil, strata.NewQueryError(m.Name, "scan", err)
	}
	return values, nil
}

// instances turns rows selected for m into instances, reusing those
// already in the identity map.
func (s *Session) instances(ctx context.Context, m *Mapper, c *compiler.Compiled, rows [][]any, populate bool) ([]any, error) {
	objs := make([]any, 0, len(rows))
	seen := make(map[*attributes.InstanceState]bool, len(rows))
	for _, row := range rows {
		st, err := s.loadRow(m, c, row, populate)
		if err != nil {
			return nil, err
		}
		if st == nil || seen[st] {
			continue
		}
		seen[st] = true
		objs = append(objs, st.Obj())
	}
	return objs, nil
}

// rowMapper returns the mapper of the instance a row describes, read
// from the polymorphic discriminator when it was selected.
func (m *Mapper) rowMapper(c *compiler.Compiled, row []any) (*Mapper, error) {
	base := m.Base()
	if base.polyOn == nil || base.polyMap == nil {
		return m, nil
	}
	idx, ok := c.Index(base.polyOn)
	if !ok {
		return m, nil
	}
	v, err := base.polyOn.Type().Result(row[idx])
	if err != nil {
		return nil, err
	}
	if v == nil {
		return m, nil
	}
	sub, ok := base.polyMap[polyKey(v)]
	if !ok {
		return nil, strata.NewMappingError(base.Name, "no mapper has polymorphic identity %v", v)
	}
	return sub, nil
}

func (m *Mapper) newInstance() Entity {
	var e Entity
	if m.typ == recordType {
		e = &Record{}
	} else {
		e = reflect.New(m.typ.Elem()).Interface().(Entity)
	}
	m.instrument(e)
	return e
}

// loadRow returns the state of the instance described by row. It returns
// nil for rows with a NULL primary key, as produced by outer joins.
func (s *Session) loadRow(m *Mapper, c *compiler.Compiled, row []any, populate bool) (*attributes.InstanceState, error) {
	ident := make([]any, len(m.pk))
	for i, col := range m.pk {
		idx, ok := c.Index(col)
		if !ok {
			return nil, strata.NewInvalidRequestError("primary key column %s of %s was not selected", col, m.Name)
		}
		v, err := col.Type().Result(row[idx])
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		ident[i] = v
	}
	key := m.identityKey(ident)
	if st, ok := s.identity.get(key); ok {
		sm := s.registry.mapperOf(st)
		if sm == nil {
			sm = m
		}
		if err := populateState(sm, st, c, row, populate); err != nil {
			return nil, err
		}
		return st, nil
	}
	sub, err := m.rowMapper(c, row)
	if err != nil {
		return nil, err
	}
	st := sub.newInstance().InstanceState()
	if err := populateState(sub, st, c, row, true); err != nil {
		return nil, err
	}
	var unloaded []string
	for _, cp := range sub.columnProperties() {
		if !cp.Deferred && !st.Loaded(cp.key) {
			unloaded = append(unloaded, cp.key)
		}
	}
	if len(unloaded) > 0 {
		st.Expire(unloaded...)
	}
	st.Key, st.Ident = &key, ident
	st.Session = s
	st.Touch()
	s.identity.add(st)
	return st, nil
}

// populateState stores the column values of row into st. Unless all is
// set, only expired or never loaded attributes are written.
func populateState(m *Mapper, st *attributes.InstanceState, c *compiler.Compiled, row []any, all bool) error {
	for _, cp := range m.columnProperties() {
		if cp.Deferred {
			continue
		}
		idx, ok := c.Index(m.loadColumn(cp))
		if !ok {
			continue
		}
		if !all {
			_, changed := st.Committed[cp.key]
			if !st.IsExpired(cp.key) && (st.Loaded(cp.key) || changed) {
				continue
			}
		}
		v, err := cp.Type().Result(row[idx])
		if err != nil {
			return err
		}
		st.SetCommitted(cp.key, v)
	}
	if all && st.Key != nil {
		for _, p := range m.relationships() {
			st.Reset(p.key)
		}
		st.Modified = false
	}
	return nil
}
