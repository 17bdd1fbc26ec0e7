package expr

import "sort"

// InsertStmt is an INSERT statement.
type InsertStmt struct {
	table     *Table
	values    map[string]Element
	multi     []map[string]Element
	sel       *SelectStmt
	selCols   []*Column
	returning []*Column
}

// Insert returns an INSERT into t.
func Insert(t *Table) *InsertStmt { return &InsertStmt{table: t} }

func (s *InsertStmt) copy() *InsertStmt {
	c := *s
	c.values = copyValues(s.values)
	c.multi = append([]map[string]Element(nil), s.multi...)
	c.returning = append([]*Column(nil), s.returning...)
	return &c
}

// Set sets the value of the column with the given key.
func (s *InsertStmt) Set(key string, v any) *InsertStmt {
	c := s.copy()
	c.values = setValue(c.values, c.table, key, v)
	return c
}

// Values sets several column values by key.
func (s *InsertStmt) Values(values map[string]any) *InsertStmt {
	c := s.copy()
	for _, k := range sortedKeys(values) {
		c.values = setValue(c.values, c.table, k, values[k])
	}
	return c
}

// MultiValues inserts several rows with one statement.
func (s *InsertStmt) MultiValues(rows ...map[string]any) *InsertStmt {
	c := s.copy()
	for _, r := range rows {
		var m map[string]Element
		for _, k := range sortedKeys(r) {
			m = setValue(m, c.table, k, r[k])
		}
		c.multi = append(c.multi, m)
	}
	return c
}

// FromSelect makes the statement INSERT INTO t (cols) SELECT ...
func (s *InsertStmt) FromSelect(cols []*Column, sel *SelectStmt) *InsertStmt {
	c := s.copy()
	c.selCols = cols
	c.sel = sel
	return c
}

// Returning requests the given columns back from the inserted row.
func (s *InsertStmt) Returning(cols ...*Column) *InsertStmt {
	c := s.copy()
	c.returning = append(c.returning, cols...)
	return c
}

// Table returns the target table.
func (s *InsertStmt) Table() *Table { return s.table }

// ValueOf returns the value given for a column key.
func (s *InsertStmt) ValueOf(key string) (Element, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Rows returns the rows of a multi row insert.
func (s *InsertStmt) Rows() []map[string]Element { return s.multi }

// SelectSource returns the columns and statement of INSERT ... SELECT.
func (s *InsertStmt) SelectSource() ([]*Column, *SelectStmt) { return s.selCols, s.sel }

// ReturningColumns returns the requested RETURNING columns.
func (s *InsertStmt) ReturningColumns() []*Column { return s.returning }

func (s *InsertStmt) children() []Element {
	out := []Element{s.table}
	for _, k := range sortedKeys(s.values) {
		out = append(out, s.values[k])
	}
	if s.sel != nil {
		out = append(out, s.sel)
	}
	return out
}

func (s *InsertStmt) rebuild(f func(Element) Element) Element {
	values, changed := rebuildValues(s.values, f)
	sel, ok := mapOne(s.sel, f)
	if !changed && !ok {
		return s
	}
	c := s.copy()
	c.values = values
	if sel, ok := sel.(*SelectStmt); ok {
		c.sel = sel
	}
	return c
}

// UpdateStmt is an UPDATE statement.
type UpdateStmt struct {
	table     *Table
	values    map[string]Element
	where     Element
	returning []*Column
}

// Update returns an UPDATE of t.
func Update(t *Table) *UpdateStmt { return &UpdateStmt{table: t} }

func (s *UpdateStmt) copy() *UpdateStmt {
	c := *s
	c.values = copyValues(s.values)
	c.returning = append([]*Column(nil), s.returning...)
	return &c
}

// Set sets the value of the column with the given key.
func (s *UpdateStmt) Set(key string, v any) *UpdateStmt {
	c := s.copy()
	c.values = setValue(c.values, c.table, key, v)
	return c
}

// Values sets several column values by key.
func (s *UpdateStmt) Values(values map[string]any) *UpdateStmt {
	c := s.copy()
	for _, k := range sortedKeys(values) {
		c.values = setValue(c.values, c.table, k, values[k])
	}
	return c
}

// Where adds criteria joined by AND.
func (s *UpdateStmt) Where(conds ...Element) *UpdateStmt {
	c := s.copy()
	c.where = And(append([]Element{c.where}, conds...)...)
	return c
}

// Returning requests the given columns back from the updated rows.
func (s *UpdateStmt) Returning(cols ...*Column) *UpdateStmt {
	c := s.copy()
	c.returning = append(c.returning, cols...)
	return c
}

// Table returns the target table.
func (s *UpdateStmt) Table() *Table { return s.table }

// ValueOf returns the value given for a column key.
func (s *UpdateStmt) ValueOf(key string) (Element, bool) {
	v, ok := s.values[key]
	return v, ok
}

// WhereClause returns the criteria, or nil.
func (s *UpdateStmt) WhereClause() Element { return s.where }

// ReturningColumns returns the requested RETURNING columns.
func (s *UpdateStmt) ReturningColumns() []*Column { return s.returning }

func (s *UpdateStmt) children() []Element {
	out := []Element{s.table}
	for _, k := range sortedKeys(s.values) {
		out = append(out, s.values[k])
	}
	if s.where != nil {
		out = append(out, s.where)
	}
	return out
}

func (s *UpdateStmt) rebuild(f func(Element) Element) Element {
	values, changed := rebuildValues(s.values, f)
	where, ok := mapOne(s.where, f)
	if !changed && !ok {
		return s
	}
	c := s.copy()
	c.values, c.where = values, where
	return c
}

// DeleteStmt is a DELETE statement.
type DeleteStmt struct {
	table *Table
	where Element
}

// Delete returns a DELETE from t.
func Delete(t *Table) *DeleteStmt { return &DeleteStmt{table: t} }

// Where adds criteria joined by AND.
func (s *DeleteStmt) Where(conds ...Element) *DeleteStmt {
	return &DeleteStmt{table: s.table, where: And(append([]Element{s.where}, conds...)...)}
}

// Table returns the target table.
func (s *DeleteStmt) Table() *Table { return s.table }

// WhereClause returns the criteria, or nil.
func (s *DeleteStmt) WhereClause() Element { return s.where }

func (s *DeleteStmt) children() []Element {
	out := []Element{s.table}
	if s.where != nil {
		out = append(out, s.where)
	}
	return out
}

func (s *DeleteStmt) rebuild(f func(Element) Element) Element {
	where, ok := mapOne(s.where, f)
	if !ok {
		return s
	}
	return &DeleteStmt{table: s.table, where: where}
}

func copyValues(m map[string]Element) map[string]Element {
	if m == nil {
		return nil
	}
	c := make(map[string]Element, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func setValue(m map[string]Element, t *Table, key string, v any) map[string]Element {
	if m == nil {
		m = make(map[string]Element)
	}
	var against Element
	if c := t.C(key); c != nil {
		against = c
	}
	if _, ok := v.(bool); ok && against == nil {
		m[key] = coerce(v, nil)
		return m
	}
	if against == nil {
		m[key] = &BindParam{Key: key, Value: v, Unique: true}
		if e, ok := v.(Element); ok {
			m[key] = e
		}
		return m
	}
	if v == nil {
		m[key] = &BindParam{Key: key, typ: typeOf(against), Unique: true}
		return m
	}
	m[key] = coerce(v, against)
	return m
}

func rebuildValues(m map[string]Element, f func(Element) Element) (map[string]Element, bool) {
	changed := false
	out := make(map[string]Element, len(m))
	for k, v := range m {
		r := f(v)
		changed = changed || r != v
		out[k] = r
	}
	return out, changed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
