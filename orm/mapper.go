package orm

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
	"github.com/syssam/strata/orm/attributes"
	"github.com/syssam/strata/privacy"
)

type inheritance int

const (
	inheritNone inheritance = iota
	inheritSingle
	inheritJoined
	inheritConcrete
)

// Mapper maps an entity onto one or more tables.
type Mapper struct {
	// Name is the entity name, unique in the registry.
	Name string
	// LocalTable is the table declared for the mapper. Single table
	// subclasses share the table of their parent.
	LocalTable *expr.Table

	registry *Registry
	typ      reflect.Type
	cfg      mapperConfig
	manager  *attributes.ClassManager

	parent  *Mapper
	subs    []*Mapper
	inherit inheritance
	// tables lists the tables of the mapper, base table first.
	tables []*expr.Table
	// inheritPairs copy the primary key of a parent table into the
	// foreign key of a joined subclass table.
	inheritPairs []syncPair
	pk           []*expr.Column
	polyOn       *expr.Column
	polyMap      map[any]*Mapper
	version      *expr.Column
	hooks        []MapperHooks
	policy       strata.Policy

	props     map[string]Property
	propOrder []Property
	colProps  map[*expr.Column]*ColumnProperty

	resolving, columnsDone, configured bool
}

func (m *Mapper) String() string { return "Mapper(" + m.Name + ")" }

// Parent returns the inherited mapper, or nil.
func (m *Mapper) Parent() *Mapper { return m.parent }

// Base returns the root of the inheritance hierarchy of the mapper. A
// concrete mapper is its own base.
func (m *Mapper) Base() *Mapper {
	b := m
	for b.parent != nil && b.inherit != inheritConcrete {
		b = b.parent
	}
	return b
}

// Isa reports whether m is other or inherits from it.
func (m *Mapper) Isa(other *Mapper) bool {
	for x := m; x != nil; x = x.parent {
		if x == other {
			return true
		}
	}
	return false
}

func (m *Mapper) isa(other *Mapper) bool { return m.Isa(other) }

// Tables returns the tables the mapper persists to, base table first.
func (m *Mapper) Tables() []*expr.Table { return m.tables }

// PrimaryKey returns the identity columns of the mapper.
func (m *Mapper) PrimaryKey() []*expr.Column { return m.pk }

// Property returns the property with the given key.
func (m *Mapper) Property(key string) (Property, bool) {
	p, ok := m.props[key]
	return p, ok
}

// Properties returns the properties in declaration order.
func (m *Mapper) Properties() []Property { return m.propOrder }

// ColumnPropertyOf returns the property mapping col.
func (m *Mapper) ColumnPropertyOf(col *expr.Column) (*ColumnProperty, bool) {
	p, ok := m.colProps[col]
	return p, ok
}

func (m *Mapper) relationships() []*RelationshipProperty {
	var rels []*RelationshipProperty
	for _, p := range m.propOrder {
		if r, ok := p.(*RelationshipProperty); ok {
			rels = append(rels, r)
		}
	}
	return rels
}

func (m *Mapper) columnProperties() []*ColumnProperty {
	var cols []*ColumnProperty
	for _, p := range m.propOrder {
		if c, ok := p.(*ColumnProperty); ok {
			cols = append(cols, c)
		}
	}
	return cols
}

func (m *Mapper) instrument(e Entity) *attributes.InstanceState {
	s := attributes.NewState(e, m.manager)
	e.setState(s)
	return s
}

func (m *Mapper) mappingError(format string, args ...any) error {
	return strata.NewMappingError(m.Name, format, args...)
}

func (m *Mapper) configureInheritance() error {
	if m.tables != nil {
		return nil
	}
	if m.resolving {
		return m.mappingError("circular inheritance")
	}
	m.resolving = true
	defer func() { m.resolving = false }()
	m.hooks = m.cfg.hooks
	m.version = m.cfg.version
	m.polyOn = m.cfg.polyOn
	policies := m.cfg.policies
	if m.cfg.inherits == "" {
		if m.cfg.concrete {
			return m.mappingError("Concrete requires Inherits")
		}
		m.tables = []*expr.Table{m.LocalTable}
	} else {
		p, ok := m.registry.mappers[m.cfg.inherits]
		if !ok {
			return m.mappingError("inherited mapper %q is not declared", m.cfg.inherits)
		}
		if err := p.configureInheritance(); err != nil {
			return err
		}
		m.parent = p
		p.subs = append(p.subs, m)
		switch {
		case m.cfg.concrete:
			if m.LocalTable == nil {
				return m.mappingError("concrete inheritance requires a table")
			}
			m.inherit = inheritConcrete
			m.tables = []*expr.Table{m.LocalTable}
		case m.LocalTable == nil || m.LocalTable == p.LocalTable:
			m.inherit = inheritSingle
			m.LocalTable = p.LocalTable
			m.tables = p.tables
		default:
			m.inherit = inheritJoined
			for _, fk := range m.LocalTable.ForeignKeys() {
				target, err := fk.Column()
				if err != nil {
					return m.mappingError("%v", err)
				}
				if containsTable(p.tables, target.Table()) {
					m.inheritPairs = append(m.inheritPairs, syncPair{source: target, dest: fk.Parent})
				}
			}
			if len(m.inheritPairs) == 0 {
				return m.mappingError("no foreign key links table %q to the tables of %s", m.LocalTable.Name, p.Name)
			}
			m.tables = append(append([]*expr.Table(nil), p.tables...), m.LocalTable)
		}
		if m.inherit != inheritConcrete {
			m.hooks = append(append([]MapperHooks(nil), p.hooks...), m.hooks...)
			if m.polyOn == nil {
				m.polyOn = p.polyOn
			}
			if m.version == nil {
				m.version = p.version
			}
			if p.policy != nil {
				policies = append([]strata.Policy{p.policy}, policies...)
			}
		}
	}
	if len(policies) > 0 {
		m.policy = privacy.NewPolicies(policies...)
	}
	if b := m.Base(); b == m {
		m.pk = m.cfg.primaryKey
		if len(m.pk) == 0 {
			m.pk = m.LocalTable.PrimaryKey()
		}
		if len(m.pk) == 0 {
			return m.mappingError("could not assemble any primary key columns for table %q", m.LocalTable.Name)
		}
		m.polyMap = make(map[any]*Mapper)
	} else {
		m.pk = b.pk
	}
	if v := m.cfg.polyIdentity; v != nil {
		if m.polyOn == nil {
			return m.mappingError("PolymorphicIdentity requires a PolymorphicOn column in the hierarchy")
		}
		b := m.Base()
		key := polyKey(v)
		if other, ok := b.polyMap[key]; ok && other != m {
			return m.mappingError("polymorphic identity %v is already used by %s", v, other.Name)
		}
		b.polyMap[key] = m
	}
	if m.version != nil && !m.version.Type().IsInteger() {
		return m.mappingError("version column %q must be an integer column", m.version.Name)
	}
	return nil
}

func polyKey(v any) any {
	if i, ok := types.ToInt64(v); ok {
		return i
	}
	return v
}

func containsTable(ts []*expr.Table, t *expr.Table) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func (m *Mapper) configureColumns() error {
	if m.columnsDone {
		return nil
	}
	m.columnsDone = true
	m.colProps = make(map[*expr.Column]*ColumnProperty)
	m.manager.ExpiredLoader = m.loadExpired
	var own []*expr.Table
	switch m.inherit {
	case inheritNone, inheritConcrete:
		own = m.tables
	case inheritJoined:
		own = []*expr.Table{m.LocalTable}
	}
	if p := m.parent; p != nil && m.inherit != inheritConcrete {
		if err := p.configureColumns(); err != nil {
			return err
		}
		for _, prop := range p.propOrder {
			m.inheritProperty(prop)
		}
		for col, prop := range p.colProps {
			m.colProps[col] = prop
		}
	}
	explicit := make(map[*expr.Column]bool)
	for _, cc := range m.cfg.columns {
		if len(cc.cols) == 0 {
			return m.mappingError("column property %q maps no columns", cc.key)
		}
		for _, col := range cc.cols {
			if !containsTable(m.tables, col.Table()) {
				return m.mappingError("column %s of property %q is not in the mapped tables", col, cc.key)
			}
			explicit[col] = true
		}
		if existing, ok := m.props[cc.key]; ok {
			cp, isCol := existing.(*ColumnProperty)
			if !isCol {
				return m.mappingError("column property %q conflicts with relationship %q", cc.key, cc.key)
			}
			for _, col := range cc.cols {
				m.colProps[col] = cp
			}
			continue
		}
		m.addColumnProperty(cc.key, cc.cols)
	}
	pairDest := make(map[*expr.Column]*expr.Column)
	for _, pair := range m.inheritPairs {
		pairDest[pair.dest] = pair.source
	}
	for _, t := range own {
		for _, col := range t.Columns() {
			if explicit[col] || m.cfg.exclude[col.Key] {
				continue
			}
			if src, ok := pairDest[col]; ok {
				if cp := m.colProps[src]; cp != nil {
					m.colProps[col] = cp
					continue
				}
			}
			if existing, ok := m.props[col.Key]; ok {
				cp, isCol := existing.(*ColumnProperty)
				if !isCol {
					return m.mappingError("column %q conflicts with property %q", col.Name, col.Key)
				}
				// Same key in parent and subclass table: both columns
				// carry the attribute value.
				m.colProps[col] = cp
				continue
			}
			m.addColumnProperty(col.Key, []*expr.Column{col})
		}
	}
	for _, col := range m.pk {
		if m.colProps[col] == nil {
			return m.mappingError("primary key column %s is not mapped", col)
		}
	}
	if m.polyOn != nil && m.colProps[m.polyOn] == nil {
		return m.mappingError("polymorphic column %s is not mapped", m.polyOn)
	}
	if m.version != nil && m.colProps[m.version] == nil {
		return m.mappingError("version column %s is not mapped", m.version)
	}
	for key := range m.cfg.deferred {
		cp, ok := m.props[key].(*ColumnProperty)
		if !ok {
			return m.mappingError("deferred attribute %q is not a column property", key)
		}
		if cp.parent == m {
			cp.Deferred = true
			cp.impl.(interface{ SetLoader(attributes.Loader) }).SetLoader(m.deferredLoader(cp))
		}
	}
	return nil
}

func (m *Mapper) addColumnProperty(key string, cols []*expr.Column) *ColumnProperty {
	cp := &ColumnProperty{key: key, Columns: cols, parent: m}
	t := cols[0].Type()
	if t.Mutable() {
		cp.impl = attributes.NewMutableScalar(m.manager, key, t)
	} else {
		cp.impl = attributes.NewScalar(m.manager, key, t)
	}
	cp.impl.AddExtension(&sessionEvents{})
	m.props[key] = cp
	m.propOrder = append(m.propOrder, cp)
	for _, col := range cols {
		m.colProps[col] = cp
	}
	return cp
}

func (m *Mapper) inheritProperty(p Property) {
	m.props[p.Key()] = p
	m.propOrder = append(m.propOrder, p)
	m.manager.Register(p.Impl())
}

// addProperty adds p to m and the mappers inheriting from it.
func (m *Mapper) addProperty(p Property) error {
	if _, ok := m.props[p.Key()]; ok {
		return m.mappingError("property %q is already defined", p.Key())
	}
	m.props[p.Key()] = p
	m.propOrder = append(m.propOrder, p)
	if m != p.Parent() {
		m.manager.Register(p.Impl())
	}
	for _, sub := range m.subs {
		if sub.inherit == inheritConcrete {
			continue
		}
		if err := sub.addProperty(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) configureRelationships() error {
	for _, rc := range m.cfg.rels {
		p, err := newRelationship(m, rc)
		if err != nil {
			return err
		}
		if err := m.addProperty(p); err != nil {
			return err
		}
		if rc.backref != nil {
			r, err := p.backref(rc.backref)
			if err != nil {
				return err
			}
			if err := r.parent.addProperty(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// selectable returns the FROM clause loading the mapper: its table, or
// the join of its tables for joined inheritance.
func (m *Mapper) selectable() expr.FromClause {
	if len(m.tables) == 1 {
		return m.tables[0]
	}
	var chain []*Mapper
	for x := m; x != nil && x.inherit == inheritJoined; x = x.parent {
		chain = append([]*Mapper{x}, chain...)
	}
	var from expr.FromClause = m.tables[0]
	for _, x := range chain {
		on := make([]expr.Element, len(x.inheritPairs))
		for i, pair := range x.inheritPairs {
			on[i] = expr.EQ(pair.source, pair.dest)
		}
		from = expr.Join(from, x.LocalTable, expr.And(on...))
	}
	return from
}

// polymorphicCriterion restricts a query of a single table subclass to
// rows of the subclass and its descendants.
func (m *Mapper) polymorphicCriterion() expr.Element {
	if m.inherit != inheritSingle || m.polyOn == nil {
		return nil
	}
	ids := m.polymorphicIdentities()
	if len(ids) == 0 {
		return nil
	}
	return expr.In(m.polyOn, ids...)
}

func (m *Mapper) polymorphicIdentities() []any {
	var ids []any
	var walk func(*Mapper)
	walk = func(x *Mapper) {
		if x.cfg.polyIdentity != nil {
			ids = append(ids, x.cfg.polyIdentity)
		}
		for _, s := range x.subs {
			if s.inherit != inheritConcrete {
				walk(s)
			}
		}
	}
	walk(m)
	return ids
}

// identityKey builds the identity key from primary key values.
func (m *Mapper) identityKey(ident []any) attributes.IdentityKey {
	parts := make([]string, len(ident))
	for i, v := range ident {
		if n, ok := types.ToInt64(v); ok {
			v = n
		}
		parts[i] = fmt.Sprint(v)
	}
	return attributes.IdentityKey{Entity: m.Base().Name, Ident: strings.Join(parts, ",")}
}

// identityOf returns the primary key values held by s. ok is false when a
// value is missing or nil.
func (m *Mapper) identityOf(s *attributes.InstanceState) ([]any, bool) {
	ident := make([]any, len(m.pk))
	for i, col := range m.pk {
		v, ok := s.Dict[m.colProps[col].key]
		if !ok || v == nil {
			return ident, false
		}
		ident[i] = v
	}
	return ident, true
}

