package orm

import (
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
	"github.com/syssam/strata/orm/attributes"
)

// Property is a mapped attribute of an entity.
type Property interface {
	Key() string
	// Parent returns the mapper declaring the property.
	Parent() *Mapper
	// Impl returns the attribute implementation instrumenting it.
	Impl() attributes.Impl
}

// ColumnProperty maps an attribute to one or more columns.
type ColumnProperty struct {
	Columns  []*expr.Column
	Deferred bool

	key    string
	parent *Mapper
	impl   attributes.Impl
}

func (p *ColumnProperty) Key() string           { return p.key }
func (p *ColumnProperty) Parent() *Mapper       { return p.parent }
func (p *ColumnProperty) Impl() attributes.Impl { return p.impl }

// Column returns the first mapped column.
func (p *ColumnProperty) Column() *expr.Column { return p.Columns[0] }

// Type returns the type of the first mapped column.
func (p *ColumnProperty) Type() types.Type { return p.Columns[0].Type() }

// Direction is the cardinality of a relationship, seen from its parent.
type Direction int

// Relationship directions.
const (
	OneToMany Direction = iota + 1
	ManyToOne
	ManyToMany
)

func (d Direction) String() string {
	switch d {
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	}
	return "unknown"
}

// syncPair copies the value of source, a referenced column, into dest, a
// foreign key column.
type syncPair struct {
	source, dest *expr.Column
}

// RelationshipProperty maps an attribute to related objects of the target
// mapper.
type RelationshipProperty struct {
	Direction      Direction
	Cascade        Cascade
	Secondary      *expr.Table
	PostUpdate     bool
	PassiveDeletes bool
	ViewOnly       bool
	Uselist        bool
	Lazy           LoadStrategy
	OrderBy        []expr.Element

	key    string
	parent *Mapper
	target *Mapper
	// pairs holds, for one-to-many and many-to-one, the referenced and the
	// foreign key columns. For many-to-many it links the parent to the
	// association table and targetPairs links the target to it.
	pairs         []syncPair
	targetPairs   []syncPair
	primaryJoin   expr.Element
	secondaryJoin expr.Element
	reverse       *RelationshipProperty
	impl          attributes.Impl
}

func (p *RelationshipProperty) Key() string           { return p.key }
func (p *RelationshipProperty) Parent() *Mapper       { return p.parent }
func (p *RelationshipProperty) Impl() attributes.Impl { return p.impl }

// Target returns the mapper of the related objects.
func (p *RelationshipProperty) Target() *Mapper { return p.target }

// Reverse returns the backref of the relationship, or nil.
func (p *RelationshipProperty) Reverse() *RelationshipProperty { return p.reverse }

// PrimaryJoin returns the join condition between the parent and the
// target, or the association table for many-to-many.
func (p *RelationshipProperty) PrimaryJoin() expr.Element { return p.primaryJoin }

// SecondaryJoin returns the join condition between the association table
// and the target.
func (p *RelationshipProperty) SecondaryJoin() expr.Element { return p.secondaryJoin }

func (p *RelationshipProperty) String() string { return p.parent.Name + "." + p.key }

func newRelationship(m *Mapper, rc *relationshipConfig) (*RelationshipProperty, error) {
	target, ok := m.registry.mappers[rc.target]
	if !ok {
		return nil, m.mappingError("relationship %q: no mapper named %q", rc.key, rc.target)
	}
	p := &RelationshipProperty{
		key:       rc.key,
		parent:    m,
		target:    target,
		Secondary: rc.secondary,
	}
	if err := p.apply(rc); err != nil {
		return nil, err
	}
	if err := p.resolveJoin(rc); err != nil {
		return nil, err
	}
	p.defaults(rc)
	if p.PostUpdate && p.Direction == ManyToMany {
		return nil, m.mappingError("relationship %q: PostUpdate does not apply to many-to-many", rc.key)
	}
	p.instrument()
	return p, nil
}

func (p *RelationshipProperty) apply(rc *relationshipConfig) error {
	p.Cascade = DefaultCascade
	if rc.cascadeSet {
		c, err := ParseCascade(rc.cascade)
		if err != nil {
			return p.parent.mappingError("relationship %q: %v", rc.key, err)
		}
		p.Cascade = c
	}
	p.PostUpdate = rc.postUpdate
	p.PassiveDeletes = rc.passiveDelete
	p.ViewOnly = rc.viewOnly
	p.Lazy = rc.lazy
	p.OrderBy = rc.orderBy
	return nil
}

func (p *RelationshipProperty) defaults(rc *relationshipConfig) {
	p.Uselist = p.Direction != ManyToOne
	if rc.uselist != nil {
		p.Uselist = *rc.uselist
	}
}

func (p *RelationshipProperty) instrument() {
	opts := []attributes.Option{attributes.WithRelationship(p), attributes.TrackParent()}
	if p.Lazy != NoLoad {
		opts = append(opts, attributes.WithLoader(p.lazyLoader))
	}
	if p.Uselist {
		p.impl = attributes.NewCollection(p.parent.manager, p.key, opts...)
	} else {
		p.impl = attributes.NewObject(p.parent.manager, p.key, opts...)
	}
	p.impl.AddExtension(&sessionEvents{prop: p})
}

// inheritanceDests returns the foreign key columns of joined inheritance,
// which never take part in relationships.
func (r *Registry) inheritanceDests() map[*expr.Column]bool {
	dests := make(map[*expr.Column]bool)
	for _, m := range r.order {
		for _, pair := range m.inheritPairs {
			dests[pair.dest] = true
		}
	}
	return dests
}

// equalities returns the column pairs compared with = in a join condition.
func equalities(on expr.Element) [][2]*expr.Column {
	var out [][2]*expr.Column
	expr.Walk(on, func(e expr.Element) bool {
		b, ok := e.(*expr.Binary)
		if !ok || b.Op != expr.OpEQ {
			return true
		}
		l, lok := b.Left.(*expr.Column)
		r, rok := b.Right.(*expr.Column)
		if lok && rok {
			out = append(out, [2]*expr.Column{l, r})
		}
		return false
	})
	return out
}

func containsColumn(cols []*expr.Column, c *expr.Column) bool {
	for _, x := range cols {
		if x == c {
			return true
		}
	}
	return false
}

// pairsFromJoin orients the equalities of an explicit join condition. The
// foreign key side is taken from fks, then from declared foreign keys.
func pairsFromJoin(on expr.Element, fks []*expr.Column, isDest func(*expr.Column) bool) []syncPair {
	var pairs []syncPair
	for _, eq := range equalities(on) {
		a, b := eq[0], eq[1]
		switch {
		case containsColumn(fks, a):
			pairs = append(pairs, syncPair{source: b, dest: a})
		case containsColumn(fks, b):
			pairs = append(pairs, syncPair{source: a, dest: b})
		case len(fks) > 0:
		case isDest != nil && isDest(a):
			pairs = append(pairs, syncPair{source: b, dest: a})
		case isDest != nil && isDest(b):
			pairs = append(pairs, syncPair{source: a, dest: b})
		case a.ReferencesCol(b):
			pairs = append(pairs, syncPair{source: b, dest: a})
		case b.ReferencesCol(a):
			pairs = append(pairs, syncPair{source: a, dest: b})
		}
	}
	return pairs
}

func joinOf(pairs []syncPair) expr.Element {
	on := make([]expr.Element, len(pairs))
	for i, pair := range pairs {
		on[i] = expr.EQ(pair.source, pair.dest)
	}
	return expr.And(on...)
}

// fkPairs returns the foreign keys of the tables in from that reference a
// column of the tables in to.
func fkPairs(from, to []*expr.Table, skip map[*expr.Column]bool, only []*expr.Column) ([]syncPair, error) {
	var pairs []syncPair
	for _, t := range from {
		for _, fk := range t.ForeignKeys() {
			if skip[fk.Parent] || (len(only) > 0 && !containsColumn(only, fk.Parent)) {
				continue
			}
			target, err := fk.Column()
			if err != nil {
				return nil, err
			}
			if containsTable(to, target.Table()) {
				pairs = append(pairs, syncPair{source: target, dest: fk.Parent})
			}
		}
	}
	return pairs, nil
}

func (p *RelationshipProperty) resolveJoin(rc *relationshipConfig) error {
	m, target := p.parent, p.target
	fail := func(format string, args ...any) error {
		return m.mappingError("relationship %q: "+format, append([]any{rc.key}, args...)...)
	}
	if p.Secondary != nil {
		p.Direction = ManyToMany
		sec := []*expr.Table{p.Secondary}
		inSecondary := func(c *expr.Column) bool { return c.Table() == p.Secondary }
		var err error
		if rc.primaryJoin != nil {
			p.pairs = pairsFromJoin(rc.primaryJoin, nil, inSecondary)
		} else if p.pairs, err = fkPairs(sec, m.tables, nil, rc.foreignKeys); err != nil {
			return fail("%v", err)
		}
		if rc.secondaryJoin != nil {
			p.targetPairs = pairsFromJoin(rc.secondaryJoin, nil, inSecondary)
		} else if p.targetPairs, err = fkPairs(sec, target.tables, nil, rc.foreignKeys); err != nil {
			return fail("%v", err)
		}
		if len(p.pairs) == 0 || len(p.targetPairs) == 0 {
			return fail("could not determine the join condition through table %q; no foreign keys link it to both sides", p.Secondary.Name)
		}
		if m.Base() == target.Base() && (rc.primaryJoin == nil || rc.secondaryJoin == nil) {
			return fail("self-referential many-to-many needs PrimaryJoin and SecondaryJoin")
		}
		p.primaryJoin = joinOf(p.pairs)
		p.secondaryJoin = joinOf(p.targetPairs)
		return nil
	}
	selfRef := false
	for _, t := range target.tables {
		selfRef = selfRef || containsTable(m.tables, t)
	}
	if rc.primaryJoin != nil {
		p.pairs = pairsFromJoin(rc.primaryJoin, rc.foreignKeys, nil)
		p.primaryJoin = rc.primaryJoin
	} else {
		skip := m.registry.inheritanceDests()
		toParent, err := fkPairs(target.tables, m.tables, skip, rc.foreignKeys)
		if err != nil {
			return fail("%v", err)
		}
		toTarget, err := fkPairs(m.tables, target.tables, skip, rc.foreignKeys)
		if err != nil {
			return fail("%v", err)
		}
		switch {
		case selfRef:
			p.pairs = toParent
		case len(toParent) > 0 && len(toTarget) > 0:
			return fail("%s and %s are linked by foreign keys in both directions; specify ForeignKeys or PrimaryJoin", m.Name, target.Name)
		default:
			p.pairs = append(toParent, toTarget...)
		}
		p.primaryJoin = joinOf(p.pairs)
	}
	if len(p.pairs) == 0 {
		return fail("could not determine the join condition between %s and %s; no foreign key links their tables", m.Name, target.Name)
	}
	seen := make(map[*expr.Column]bool)
	for _, pair := range p.pairs {
		if seen[pair.source] {
			return fail("more than one foreign key path joins %s and %s; specify ForeignKeys or PrimaryJoin", m.Name, target.Name)
		}
		seen[pair.source] = true
	}
	var destInParent, destInTarget bool
	for _, pair := range p.pairs {
		destInParent = destInParent || containsTable(m.tables, pair.dest.Table())
		destInTarget = destInTarget || containsTable(target.tables, pair.dest.Table())
	}
	switch {
	case selfRef:
		p.Direction = OneToMany
		for _, pair := range p.pairs {
			if containsColumn(rc.remoteSide, pair.source) {
				p.Direction = ManyToOne
			}
		}
	case destInTarget:
		p.Direction = OneToMany
	case destInParent:
		p.Direction = ManyToOne
	default:
		return fail("the foreign key columns are in neither %s nor %s", m.Name, target.Name)
	}
	return nil
}

// backref creates the reverse of p on the target mapper and links the
// two in memory.
func (p *RelationshipProperty) backref(bc *backrefConfig) (*RelationshipProperty, error) {
	rc := &relationshipConfig{key: bc.key, target: p.parent.Name}
	for _, opt := range bc.opts {
		opt(rc)
	}
	r := &RelationshipProperty{
		key:       bc.key,
		parent:    p.target,
		target:    p.parent,
		Secondary: p.Secondary,
		pairs:     p.pairs,
		reverse:   p,
	}
	if err := r.apply(rc); err != nil {
		return nil, err
	}
	switch p.Direction {
	case OneToMany:
		r.Direction = ManyToOne
		r.primaryJoin = p.primaryJoin
	case ManyToOne:
		r.Direction = OneToMany
		r.primaryJoin = p.primaryJoin
	case ManyToMany:
		r.Direction = ManyToMany
		r.pairs, r.targetPairs = p.targetPairs, p.pairs
		r.primaryJoin, r.secondaryJoin = p.secondaryJoin, p.primaryJoin
	}
	r.defaults(rc)
	if r.PostUpdate && r.Direction == ManyToMany {
		return nil, r.parent.mappingError("relationship %q: PostUpdate does not apply to many-to-many", r.key)
	}
	if _, exists := r.parent.props[r.key]; exists {
		return nil, r.parent.mappingError("backref %q of %s conflicts with an existing property", r.key, p)
	}
	p.reverse = r
	r.instrument()
	p.impl.AddExtension(attributes.Backref(p.impl, r.key))
	r.impl.AddExtension(attributes.Backref(r.impl, p.key))
	return r, nil
}

// loadPairs returns the columns of the parent state read by the lazy
// loader, and the target columns they are compared with.
func (p *RelationshipProperty) loadPairs() (local, remote []*expr.Column) {
	for _, pair := range p.pairs {
		switch p.Direction {
		case ManyToOne:
			local = append(local, pair.dest)
			remote = append(remote, pair.source)
		default:
			local = append(local, pair.source)
			remote = append(remote, pair.dest)
		}
	}
	return local, remote
}
