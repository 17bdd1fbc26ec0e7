package expr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/types"
)

// CascadeAction defines the referential action of a foreign key.
type CascadeAction string

// Referential actions for OnDelete and OnUpdate.
const (
	NoAction   CascadeAction = "NO ACTION"
	Restrict   CascadeAction = "RESTRICT"
	Cascade    CascadeAction = "CASCADE"
	SetNull    CascadeAction = "SET NULL"
	SetDefault CascadeAction = "SET DEFAULT"
)

// MetaData is a registry of tables. Foreign keys declared by name are
// resolved against the tables of their MetaData.
type MetaData struct {
	mu     sync.RWMutex
	tables map[string]*Table
	order  []string
}

// NewMetaData returns an empty catalog.
func NewMetaData() *MetaData {
	return &MetaData{tables: make(map[string]*Table)}
}

// Table creates a table with the given columns and registers it.
// It panics if a table with the same name was already registered.
func (m *MetaData) Table(name string, cols ...*Column) *Table {
	t := NewTable(name, cols...)
	if err := m.Add(t); err != nil {
		panic(err)
	}
	return t
}

// Add registers t in the catalog.
func (m *MetaData) Add(t *Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[t.Name]; ok {
		return strata.NewInvalidRequestError("table %q is already defined in this catalog", t.Name)
	}
	t.md = m
	m.tables[t.Name] = t
	m.order = append(m.order, t.Name)
	return nil
}

// Lookup returns the table with the given name.
func (m *MetaData) Lookup(name string) (*Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	return t, ok
}

// Tables returns the registered tables in registration order.
func (m *MetaData) Tables() []*Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Table, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.tables[n])
	}
	return out
}

// SortedTables returns the tables ordered so that referenced tables come
// before the tables referencing them. Foreign keys marked UseAlter and
// self references do not participate.
func (m *MetaData) SortedTables() ([]*Table, error) {
	tables := m.Tables()
	index := make(map[*Table]int, len(tables))
	for i, t := range tables {
		index[t] = i
	}
	deps := make(map[*Table][]*Table)
	for _, t := range tables {
		for _, fk := range t.ForeignKeys() {
			if fk.UseAlter {
				continue
			}
			target, err := fk.Column()
			if err != nil {
				return nil, err
			}
			if target.table != t && target.table != nil {
				deps[t] = append(deps[t], target.table)
			}
		}
	}
	var (
		out     []*Table
		state   = make(map[*Table]int)
		visit   func(*Table) error
		visited = 1
		done    = 2
	)
	visit = func(t *Table) error {
		switch state[t] {
		case done:
			return nil
		case visited:
			return strata.NewInvalidRequestError("circular foreign key dependency involving table %q; mark one foreign key UseAlter", t.Name)
		}
		state[t] = visited
		parents := deps[t]
		sort.SliceStable(parents, func(i, j int) bool { return index[parents[i]] < index[parents[j]] })
		for _, p := range parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[t] = done
		out = append(out, t)
		return nil
	}
	for _, t := range tables {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Table is a database table.
type Table struct {
	Name    string
	Comment string
	cols    []*Column
	byKey   map[string]*Column
	uniques [][]*Column
	md      *MetaData
}

// NewTable creates a table that is not part of any catalog. Foreign keys
// of such a table can only reference columns directly.
func NewTable(name string, cols ...*Column) *Table {
	t := &Table{Name: name, byKey: make(map[string]*Column, len(cols))}
	for _, c := range cols {
		if c.table != nil {
			panic(fmt.Sprintf("expr: column %q already belongs to table %q", c.Name, c.table.Name))
		}
		c.table = t
		c.from = t
		t.cols = append(t.cols, c)
		t.byKey[c.Key] = c
		for _, fk := range c.fks {
			fk.Parent = c
		}
	}
	return t
}

// Unique adds a composite unique constraint.
func (t *Table) Unique(keys ...string) *Table {
	cols := make([]*Column, 0, len(keys))
	for _, k := range keys {
		c := t.C(k)
		if c == nil {
			panic(fmt.Sprintf("expr: table %q has no column %q", t.Name, k))
		}
		cols = append(cols, c)
	}
	t.uniques = append(t.uniques, cols)
	return t
}

// UniqueConstraints returns the composite unique constraints.
func (t *Table) UniqueConstraints() [][]*Column { return t.uniques }

// MetaData returns the catalog of the table, if any.
func (t *Table) MetaData() *MetaData { return t.md }

// Columns returns the table columns in declaration order.
func (t *Table) Columns() []*Column { return t.cols }

// C returns the column with the given key.
func (t *Table) C(key string) *Column { return t.byKey[key] }

// PrimaryKey returns the primary key columns.
func (t *Table) PrimaryKey() []*Column {
	var pk []*Column
	for _, c := range t.cols {
		if c.primaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// ForeignKeys returns all foreign keys of the table.
func (t *Table) ForeignKeys() []*ForeignKey {
	var fks []*ForeignKey
	for _, c := range t.cols {
		fks = append(fks, c.fks...)
	}
	return fks
}

// CorrespondingColumn implements FromClause.
func (t *Table) CorrespondingColumn(col *Column) *Column {
	for _, c := range Lineage(col) {
		if c.table == t {
			return c
		}
	}
	return nil
}

// HiddenFroms implements FromClause.
func (t *Table) HiddenFroms() []FromClause { return nil }

// Alias returns an aliased copy of the table. An empty name makes the
// compiler generate one.
func (t *Table) Alias(name string) *AliasClause { return Alias(t, name) }

// Select returns a SELECT of all table columns.
func (t *Table) Select() *SelectStmt {
	cols := make([]Element, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c
	}
	return Select(cols...)
}

// Insert returns an INSERT into the table.
func (t *Table) Insert() *InsertStmt { return Insert(t) }

// Update returns an UPDATE of the table.
func (t *Table) Update() *UpdateStmt { return Update(t) }

// Delete returns a DELETE from the table.
func (t *Table) Delete() *DeleteStmt { return Delete(t) }

// Join returns an inner join with right.
func (t *Table) Join(right FromClause, on ...Element) *JoinClause { return Join(t, right, on...) }

// OuterJoin returns a left outer join with right.
func (t *Table) OuterJoin(right FromClause, on ...Element) *JoinClause {
	return OuterJoin(t, right, on...)
}

func (t *Table) String() string { return t.Name }

func (t *Table) name() string { return t.Name }

func (*Table) children() []Element { return nil }

func (t *Table) rebuild(func(Element) Element) Element { return t }

func (*Table) fromClause() {}

// Default produces a column value at execution time when none is given.
// Exactly one of Value and Func is set.
type Default struct {
	Value any
	Func  func() any
}

// Eval returns the default value.
func (d *Default) Eval() any {
	if d.Func != nil {
		return d.Func()
	}
	return d.Value
}

// Column is a table column, or a proxy of another column exported by an
// alias or a subquery.
type Column struct {
	Name string
	Key  string

	typ           types.Type
	table         *Table
	from          FromClause
	proxy         Element
	primaryKey    bool
	nullable      bool
	nullableSet   bool
	unique        bool
	index         bool
	autoincrement *bool
	def           *Default
	onUpdate      *Default
	serverDefault string
	fks           []*ForeignKey
	literal       bool
}

// Col declares a column. Options are set with the chained methods below
// before the column is added to a table.
func Col(name string, t types.Type) *Column {
	return &Column{Name: name, Key: name, typ: t, nullable: true}
}

// LiteralColumn returns a column rendered as raw SQL text.
func LiteralColumn(text string, t types.Type) *Column {
	return &Column{Name: text, Key: text, typ: t, literal: true, nullable: true}
}

// WithKey sets the attribute key of the column.
func (c *Column) WithKey(key string) *Column { c.Key = key; return c }

// PrimaryKey marks the column as part of the primary key.
func (c *Column) PrimaryKey() *Column {
	c.primaryKey = true
	if !c.nullableSet {
		c.nullable = false
	}
	return c
}

// NotNull marks the column as non nullable.
func (c *Column) NotNull() *Column { c.nullable, c.nullableSet = false, true; return c }

// Unique marks the column as unique.
func (c *Column) Unique() *Column { c.unique = true; return c }

// Index requests an index on the column.
func (c *Column) Index() *Column { c.index = true; return c }

// Autoincrement overrides the autoincrement detection of the column.
func (c *Column) Autoincrement(v bool) *Column { c.autoincrement = &v; return c }

// Default sets a client side default. v may be a func() any.
func (c *Column) Default(v any) *Column { c.def = newDefault(v); return c }

// OnUpdate sets a client side value applied on every UPDATE that does not
// set the column. v may be a func() any.
func (c *Column) OnUpdate(v any) *Column { c.onUpdate = newDefault(v); return c }

// ServerDefault sets a DEFAULT clause rendered in DDL.
func (c *Column) ServerDefault(sql string) *Column { c.serverDefault = sql; return c }

// References adds a foreign key to target, given as "table.column".
func (c *Column) References(target string, opts ...ForeignKeyOption) *Column {
	fk := &ForeignKey{Parent: c, target: target}
	for _, opt := range opts {
		opt(fk)
	}
	c.fks = append(c.fks, fk)
	return c
}

// ReferencesColumn adds a foreign key to the given column.
func (c *Column) ReferencesColumn(target *Column, opts ...ForeignKeyOption) *Column {
	fk := &ForeignKey{Parent: c, column: target}
	for _, opt := range opts {
		opt(fk)
	}
	c.fks = append(c.fks, fk)
	return c
}

func newDefault(v any) *Default {
	if f, ok := v.(func() any); ok {
		return &Default{Func: f}
	}
	return &Default{Value: v}
}

// Type implements ColumnElement.
func (c *Column) Type() types.Type { return c.typ }

// Table returns the owning table, or nil for proxies and free columns.
func (c *Column) Table() *Table { return c.table }

// From returns the selectable exporting the column.
func (c *Column) From() FromClause { return c.from }

// Proxy returns the element the column was derived from, if any.
func (c *Column) Proxy() Element { return c.proxy }

// IsPrimaryKey reports whether the column is part of the primary key.
func (c *Column) IsPrimaryKey() bool { return c.primaryKey }

// IsNullable reports whether the column accepts NULL.
func (c *Column) IsNullable() bool { return c.nullable }

// IsUnique reports whether the column carries a unique constraint.
func (c *Column) IsUnique() bool { return c.unique }

// HasIndex reports whether an index was requested.
func (c *Column) HasIndex() bool { return c.index }

// IsLiteral reports whether the column is raw SQL text.
func (c *Column) IsLiteral() bool { return c.literal }

// DefaultValue returns the client side default.
func (c *Column) DefaultValue() *Default { return c.def }

// OnUpdateValue returns the client side update default.
func (c *Column) OnUpdateValue() *Default { return c.onUpdate }

// ServerDefaultSQL returns the DDL default clause.
func (c *Column) ServerDefaultSQL() string { return c.serverDefault }

// ForeignKeys returns the foreign keys declared on the column.
func (c *Column) ForeignKeys() []*ForeignKey { return c.fks }

// IsAutoincrement reports whether the database generates the column value.
// By default this holds for the single integer primary key column of a
// table without a client default or a foreign key.
func (c *Column) IsAutoincrement() bool {
	base := c
	if l := Lineage(c); len(l) > 0 {
		base = l[len(l)-1]
	}
	if base.autoincrement != nil {
		return *base.autoincrement
	}
	if !base.primaryKey || !base.typ.IsInteger() || base.def != nil || len(base.fks) > 0 || base.table == nil {
		return false
	}
	return len(base.table.PrimaryKey()) == 1
}

// ReferencesCol reports whether any foreign key of c targets col.
func (c *Column) ReferencesCol(col *Column) bool {
	for _, fk := range c.fks {
		if t, err := fk.Column(); err == nil && SharesLineage(t, col) {
			return true
		}
	}
	return false
}

// Label returns the column labeled with name.
func (c *Column) Label(name string) *Label { return &Label{Name: name, Elem: c} }

func (c *Column) String() string {
	if c.from != nil {
		if n, ok := c.from.(interface{ name() string }); ok && n.name() != "" {
			return n.name() + "." + c.Name
		}
	}
	return c.Name
}

func (*Column) children() []Element { return nil }

func (c *Column) rebuild(func(Element) Element) Element { return c }

// ForeignKeyOption configures a ForeignKey.
type ForeignKeyOption func(*ForeignKey)

// OnDelete sets the ON DELETE action.
func OnDelete(a CascadeAction) ForeignKeyOption { return func(fk *ForeignKey) { fk.OnDelete = a } }

// OnUpdate sets the ON UPDATE action.
func OnUpdate(a CascadeAction) ForeignKeyOption { return func(fk *ForeignKey) { fk.OnUpdate = a } }

// ConstraintName names the foreign key constraint.
func ConstraintName(name string) ForeignKeyOption { return func(fk *ForeignKey) { fk.Name = name } }

// UseAlter emits the constraint with ALTER TABLE after all tables exist.
func UseAlter() ForeignKeyOption { return func(fk *ForeignKey) { fk.UseAlter = true } }

// ForeignKey links a referencing column to a referenced column. The
// referenced column is resolved on first use.
type ForeignKey struct {
	Parent   *Column
	Name     string
	OnDelete CascadeAction
	OnUpdate CascadeAction
	UseAlter bool

	mu     sync.Mutex
	target string
	column *Column
}

// Target returns the "table.column" specification of the referenced column.
func (fk *ForeignKey) Target() string {
	if fk.target != "" {
		return fk.target
	}
	if fk.column != nil && fk.column.table != nil {
		return fk.column.table.Name + "." + fk.column.Name
	}
	return ""
}

// Column resolves and returns the referenced column.
func (fk *ForeignKey) Column() (*Column, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if fk.column != nil {
		return fk.column, nil
	}
	tname, cname, ok := strings.Cut(fk.target, ".")
	if !ok {
		return nil, strata.NewInvalidRequestError("foreign key %q must be given as table.column", fk.target)
	}
	if fk.Parent == nil || fk.Parent.table == nil || fk.Parent.table.md == nil {
		return nil, strata.NewInvalidRequestError("foreign key %q on a column outside a catalog cannot be resolved", fk.target)
	}
	t, ok := fk.Parent.table.md.Lookup(tname)
	if !ok {
		return nil, strata.NewInvalidRequestError("foreign key %q references unknown table %q", fk.target, tname)
	}
	c := t.C(cname)
	if c == nil {
		for _, tc := range t.cols {
			if tc.Name == cname {
				c = tc
				break
			}
		}
	}
	if c == nil {
		return nil, strata.NewInvalidRequestError("foreign key %q references unknown column %q of table %q", fk.target, cname, tname)
	}
	fk.column = c
	return c, nil
}

// Referent returns the column of from that the foreign key points to, or
// nil when from does not export the referenced column.
func (fk *ForeignKey) Referent(from FromClause) *Column {
	c, err := fk.Column()
	if err != nil {
		return nil
	}
	return from.CorrespondingColumn(c)
}

// References reports whether the foreign key points into from.
func (fk *ForeignKey) References(from FromClause) bool {
	return fk.Referent(from) != nil
}
