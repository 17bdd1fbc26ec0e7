package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
	"github.com/syssam/strata/privacy"
)

// Query selects instances of a mapper. Builder methods return a new
// query and leave the receiver unchanged:
//
//	q := sess.Query("User").Where(users.C("name").Like("j%")).OrderBy(users.C("id"))
//	objs, err := q.All(ctx)
//
// Errors of the builder methods are reported by the terminal methods.
type Query struct {
	session          *Session
	mapper           *Mapper
	where            []expr.Element
	joins            []join
	joinPoint        *Mapper
	orderBy          []expr.Element
	groupBy          []expr.Element
	having           []expr.Element
	limit            int
	offset           int
	distinct         bool
	forUpdate        bool
	populateExisting bool
	noAutoflush      bool
	params           map[string]any
	err              error
}

type join struct {
	target expr.FromClause
	on     expr.Element
	outer  bool
}

// Query returns a query of entity, given as a mapper name, a *Mapper or
// an instance of the mapped type.
func (s *Session) Query(entity any) *Query {
	q := &Query{session: s, limit: -1}
	if err := s.registry.ready(); err != nil {
		q.err = err
		return q
	}
	switch e := entity.(type) {
	case *Mapper:
		q.mapper = e
	case string:
		q.mapper, q.err = s.registry.Mapper(e)
	default:
		q.mapper, q.err = s.registry.MapperFor(e)
	}
	q.joinPoint = q.mapper
	return q
}

func (q *Query) clone() *Query {
	c := *q
	c.where = slices.Clone(q.where)
	c.joins = slices.Clone(q.joins)
	c.orderBy = slices.Clone(q.orderBy)
	c.groupBy = slices.Clone(q.groupBy)
	c.having = slices.Clone(q.having)
	c.params = maps.Clone(q.params)
	return &c
}

// Mapper returns the mapper of the selected instances.
func (q *Query) Mapper() *Mapper { return q.mapper }

// Entity returns the name of the queried mapper.
func (q *Query) Entity() string {
	if q.mapper == nil {
		return ""
	}
	return q.mapper.Name
}

// Filter returns the query filter handed to privacy rules.
func (q *Query) Filter() privacy.Filter { return q }

// WhereP adds criteria to the query in place. It is called by privacy
// filters during evaluation.
func (q *Query) WhereP(ps ...expr.Element) { q.where = append(q.where, ps...) }

// Where adds criteria joined with AND.
func (q *Query) Where(criteria ...expr.Element) *Query {
	c := q.clone()
	c.where = append(c.where, criteria...)
	return c
}

// FilterBy adds equality criteria on the attributes of the last joined
// mapper. Many-to-one attributes compare the foreign key with the
// primary key of the given object.
func (q *Query) FilterBy(values map[string]any) *Query {
	c := q.clone()
	if c.err != nil {
		return c
	}
	for _, key := range slices.Sorted(maps.Keys(values)) {
		crit, err := c.joinPoint.criterion(key, values[key])
		if err != nil {
			c.err = err
			return c
		}
		c.where = append(c.where, crit)
	}
	return c
}

func (m *Mapper) criterion(key string, v any) (expr.Element, error) {
	switch p := m.props[key].(type) {
	case *ColumnProperty:
		if v == nil {
			return expr.IsNull(m.loadColumn(p)), nil
		}
		return expr.EQ(m.loadColumn(p), v), nil
	case *RelationshipProperty:
		if p.Direction != ManyToOne {
			return nil, strata.NewInvalidRequestError("%s: only many-to-one relationships compare with an object", p)
		}
		var crit []expr.Element
		if v == nil {
			for _, pair := range p.pairs {
				crit = append(crit, expr.IsNull(pair.dest))
			}
			return expr.And(crit...), nil
		}
		st, err := stateOf(v)
		if err != nil {
			return nil, err
		}
		for _, pair := range p.pairs {
			cp := p.target.colProps[pair.source]
			if cp == nil {
				return nil, strata.NewInvalidRequestError("%s: column %s is not mapped", p, pair.source)
			}
			val, ok := st.Dict[cp.key]
			if !ok && st.Key != nil {
				val = p.target.pkValue(st, pair.source)
			}
			crit = append(crit, expr.EQ(pair.dest, val))
		}
		return expr.And(crit...), nil
	}
	return nil, strata.NewInvalidRequestError("%s has no attribute %q", m.Name, key)
}

// Join joins the target of the relationship key of the last joined
// mapper, or the mapper named key. Joining a mapper with no explicit
// condition follows the foreign keys between the two.
func (q *Query) Join(key string, on ...expr.Element) *Query { return q.join(key, false, on) }

// OuterJoin is like Join with a LEFT OUTER JOIN.
func (q *Query) OuterJoin(key string, on ...expr.Element) *Query { return q.join(key, true, on) }

func (q *Query) join(key string, outer bool, on []expr.Element) *Query {
	c := q.clone()
	if c.err != nil {
		return c
	}
	from := c.joinPoint
	p, isRel := from.props[key].(*RelationshipProperty)
	if isRel && len(on) == 0 {
		if p.target.Base() == from.Base() {
			c.err = strata.NewInvalidRequestError("%s: self-referential joins are not supported; join the table explicitly with an alias", p)
			return c
		}
		if p.Direction == ManyToMany {
			c.joins = append(c.joins, join{target: p.Secondary, on: p.primaryJoin, outer: outer})
			c.joins = append(c.joins, join{target: p.target.selectable(), on: p.secondaryJoin, outer: outer})
		} else {
			c.joins = append(c.joins, join{target: p.target.selectable(), on: p.primaryJoin, outer: outer})
		}
		c.joinPoint = p.target
		return c
	}
	var target *Mapper
	if isRel {
		target = p.target
	} else if m, err := c.session.registry.Mapper(key); err == nil {
		target = m
	} else {
		c.err = strata.NewInvalidRequestError("%s has no relationship %q and no mapper is named %q", from.Name, key, key)
		return c
	}
	var err error
	cond := expr.And(on...)
	if cond == nil {
		if cond, err = expr.JoinCondition(from.selectable(), target.selectable()); err != nil {
			c.err = strata.NewInvalidRequestError("join %s to %s: %v", from.Name, target.Name, err)
			return c
		}
	}
	c.joins = append(c.joins, join{target: target.selectable(), on: cond, outer: outer})
	c.joinPoint = target
	return c
}

// ResetJoinPoint makes FilterBy and Join refer to the queried mapper again.
func (q *Query) ResetJoinPoint() *Query {
	c := q.clone()
	c.joinPoint = c.mapper
	return c
}

// OrderBy appends ORDER BY terms.
func (q *Query) OrderBy(terms ...expr.Element) *Query {
	c := q.clone()
	c.orderBy = append(c.orderBy, terms...)
	return c
}

// GroupBy appends GROUP BY terms.
func (q *Query) GroupBy(terms ...expr.Element) *Query {
	c := q.clone()
	c.groupBy = append(c.groupBy, terms...)
	return c
}

// Having adds HAVING criteria.
func (q *Query) Having(criteria ...expr.Element) *Query {
	c := q.clone()
	c.having = append(c.having, criteria...)
	return c
}

// Limit sets the maximum number of rows.
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	c.limit = n
	return c
}

// Offset sets the number of rows skipped.
func (q *Query) Offset(n int) *Query {
	c := q.clone()
	c.offset = n
	return c
}

// Slice selects the rows in [start, stop).
func (q *Query) Slice(start, stop int) *Query {
	c := q.clone()
	if start < 0 || stop < start {
		c.err = strata.NewInvalidRequestError("invalid slice [%d:%d]", start, stop)
		return c
	}
	c.offset, c.limit = start, stop-start
	return c
}

// Distinct selects distinct rows.
func (q *Query) Distinct() *Query {
	c := q.clone()
	c.distinct = true
	return c
}

// ForUpdate locks the selected rows.
func (q *Query) ForUpdate() *Query {
	c := q.clone()
	c.forUpdate = true
	return c
}

// PopulateExisting overwrites the attributes of instances already in the
// identity map with the loaded values, discarding their changes.
func (q *Query) PopulateExisting() *Query {
	c := q.clone()
	c.populateExisting = true
	return c
}

// NoAutoflush disables the flush run before the query executes.
func (q *Query) NoAutoflush() *Query {
	c := q.clone()
	c.noAutoflush = true
	return c
}

// Params sets the values of bind parameters created with expr.Param.
func (q *Query) Params(params map[string]any) *Query {
	c := q.clone()
	if c.params == nil {
		c.params = make(map[string]any, len(params))
	}
	maps.Copy(c.params, params)
	return c
}

// selected returns the column properties loaded by a query of m, with
// the column each is read from.
func (m *Mapper) selected() []*ColumnProperty {
	var props []*ColumnProperty
	for _, cp := range m.columnProperties() {
		if !cp.Deferred {
			props = append(props, cp)
		}
	}
	return props
}

// Statement returns the SELECT the query executes.
func (q *Query) Statement() (*expr.SelectStmt, error) {
	if q.err != nil {
		return nil, q.err
	}
	m := q.mapper
	props := m.selected()
	cols := make([]expr.Element, len(props))
	for i, cp := range props {
		cols[i] = m.loadColumn(cp)
	}
	var from expr.FromClause = m.selectable()
	for _, j := range q.joins {
		if j.outer {
			from = expr.OuterJoin(from, j.target, j.on)
		} else {
			from = expr.Join(from, j.target, j.on)
		}
	}
	sel := expr.Select(cols...).From(from)
	if w := expr.And(append(slices.Clone(q.where), m.polymorphicCriterion())...); w != nil {
		sel = sel.Where(w)
	}
	if len(q.groupBy) > 0 {
		sel = sel.GroupBy(q.groupBy...)
	}
	if len(q.having) > 0 {
		sel = sel.Having(q.having...)
	}
	if len(q.orderBy) > 0 {
		sel = sel.OrderBy(q.orderBy...)
	}
	if q.limit >= 0 {
		sel = sel.Limit(q.limit)
	}
	if q.offset > 0 {
		sel = sel.Offset(q.offset)
	}
	if q.distinct {
		sel = sel.Distinct()
	}
	if q.forUpdate {
		sel = sel.ForUpdate()
	}
	return sel, nil
}

// SQL returns the SQL text of the query for the dialect of its engine.
func (q *Query) SQL() (string, error) {
	sel, err := q.Statement()
	if err != nil {
		return "", err
	}
	e, err := q.session.engineFor(q.mapper)
	if err != nil {
		return "", err
	}
	c, err := e.compile(sel)
	if err != nil {
		return "", err
	}
	return c.SQL, nil
}

// prepare flushes the session and evaluates the query policy of the
// mapper. Privacy filters add their criteria to q.
func (q *Query) prepare(ctx context.Context) error {
	if q.err != nil {
		return q.err
	}
	if !q.noAutoflush {
		if err := q.session.autoflushIfEnabled(ctx); err != nil {
			return err
		}
	}
	if q.mapper.policy != nil {
		return q.mapper.policy.EvalQuery(ctx, q)
	}
	return nil
}

// All returns the instances selected by the query, in row order and
// without duplicates.
func (q *Query) All(ctx context.Context) ([]any, error) {
	q = q.clone()
	if err := q.prepare(ctx); err != nil {
		return nil, err
	}
	sel, err := q.Statement()
	if err != nil {
		return nil, err
	}
	s := q.session
	e, err := s.engineFor(q.mapper)
	if err != nil {
		return nil, err
	}
	c, err := e.compile(sel)
	if err != nil {
		return nil, err
	}
	rows, err := s.fetch(ctx, e, q.mapper, c, q.params)
	if err != nil {
		return nil, err
	}
	return s.instances(ctx, q.mapper, c, rows, q.populateExisting)
}

// First returns the first selected instance. It fails with a not found
// error when no row matches.
func (q *Query) First(ctx context.Context) (any, error) {
	objs, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, strata.NewNotFoundError(q.mapper.Name)
	}
	return objs[0], nil
}

// One returns the only selected instance. It fails when no row or more
// than one instance matches.
func (q *Query) One(ctx context.Context) (any, error) {
	lim := q
	if q.limit < 0 || q.limit > 2 {
		lim = q.Limit(2)
	}
	objs, err := lim.All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(objs) {
	case 0:
		return nil, strata.NewNotFoundError(q.mapper.Name)
	case 1:
		return objs[0], nil
	}
	return nil, strata.NewNotSingularError(q.mapper.Name)
}

// Get returns the instance with the given primary key, from the identity
// map when present.
func (q *Query) Get(ctx context.Context, ident ...any) (any, error) {
	if q.err != nil {
		return nil, q.err
	}
	m := q.mapper
	if len(ident) != len(m.pk) {
		return nil, strata.NewInvalidRequestError("%s has a primary key of %d columns, got %d values", m.Name, len(m.pk), len(ident))
	}
	key := m.identityKey(ident)
	if !q.populateExisting {
		// An expired instance is confirmed against the database.
		if st, ok := q.session.identity.get(key); ok && !st.AllExpired() {
			if sm := q.session.registry.mapperOf(st); sm != nil && sm.isa(m) {
				return st.Obj(), nil
			}
			return nil, strata.NewNotFoundErrorWithID(m.Name, key.Ident)
		}
	}
	crit := make([]expr.Element, len(m.pk))
	for i, col := range m.pk {
		crit[i] = expr.EQ(col, ident[i])
	}
	objs, err := q.Where(crit...).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, strata.NewNotFoundErrorWithID(m.Name, key.Ident)
	}
	return objs[0], nil
}

// Count returns the number of rows the query selects.
func (q *Query) Count(ctx context.Context) (int64, error) {
	q = q.clone()
	if err := q.prepare(ctx); err != nil {
		return 0, err
	}
	inner, err := q.Statement()
	if err != nil {
		return 0, err
	}
	sel := expr.Select(expr.Count(nil)).From(inner.Alias("anon_1"))
	s := q.session
	e, err := s.engineFor(q.mapper)
	if err != nil {
		return 0, err
	}
	c, err := e.compile(sel)
	if err != nil {
		return 0, err
	}
	rows, err := s.fetch(ctx, e, q.mapper, c, q.params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	n, ok := types.ToInt64(rows[0][0])
	if !ok {
		return 0, fmt.Errorf("orm: count of %s returned %T", q.mapper.Name, rows[0][0])
	}
	return n, nil
}

// Exists reports whether the query selects any row.
func (q *Query) Exists(ctx context.Context) (bool, error) {
	n, err := q.Limit(1).Count(ctx)
	return n > 0, err
}

// All returns the instances selected by q as T values.
func All[T any](ctx context.Context, q *Query) ([]T, error) {
	objs, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(objs))
	for _, obj := range objs {
		t, ok := obj.(T)
		if !ok {
			return nil, fmt.Errorf("orm: query of %s returned %T", q.Entity(), obj)
		}
		out = append(out, t)
	}
	return out, nil
}

// One returns the only instance selected by q as a T.
func One[T any](ctx context.Context, q *Query) (T, error) {
	obj, err := q.One(ctx)
	return as[T](q, obj, err)
}

// First returns the first instance selected by q as a T.
func First[T any](ctx context.Context, q *Query) (T, error) {
	obj, err := q.First(ctx)
	return as[T](q, obj, err)
}

// GetByID returns the instance of entity with the given primary key as a T.
func GetByID[T any](ctx context.Context, s *Session, entity any, ident ...any) (T, error) {
	q := s.Query(entity)
	obj, err := q.Get(ctx, ident...)
	return as[T](q, obj, err)
}

func as[T any](q *Query, obj any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("orm: query of %s returned %T", q.Entity(), obj)
	}
	return t, nil
}
