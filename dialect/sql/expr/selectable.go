package expr

import (
	"fmt"

	"github.com/syssam/strata"
)

// SelectStmt is a SELECT statement. Its builder methods return modified
// copies and leave the receiver untouched.
type SelectStmt struct {
	columns     []Element
	froms       []FromClause
	where       Element
	groupBy     []Element
	having      Element
	orderBy     []Element
	limit       int
	offset      int
	distinct    bool
	forUpdate   bool
	useLabels   bool
	noCorrelate bool
	correlate   []FromClause
}

// Select returns a SELECT of the given columns.
func Select(cols ...Element) *SelectStmt {
	return &SelectStmt{columns: cols, limit: -1, offset: -1}
}

func (s *SelectStmt) copy() *SelectStmt {
	c := *s
	c.columns = append([]Element(nil), s.columns...)
	c.froms = append([]FromClause(nil), s.froms...)
	c.groupBy = append([]Element(nil), s.groupBy...)
	c.orderBy = append([]Element(nil), s.orderBy...)
	c.correlate = append([]FromClause(nil), s.correlate...)
	return &c
}

// Column appends columns to the result list.
func (s *SelectStmt) Column(cols ...Element) *SelectStmt {
	c := s.copy()
	c.columns = append(c.columns, cols...)
	return c
}

// WithColumns replaces the result list.
func (s *SelectStmt) WithColumns(cols ...Element) *SelectStmt {
	c := s.copy()
	c.columns = append([]Element(nil), cols...)
	return c
}

// From adds explicit FROM clauses.
func (s *SelectStmt) From(froms ...FromClause) *SelectStmt {
	c := s.copy()
	c.froms = append(c.froms, froms...)
	return c
}

// Where adds criteria, joined with any existing ones by AND.
func (s *SelectStmt) Where(conds ...Element) *SelectStmt {
	c := s.copy()
	c.where = And(append([]Element{c.where}, conds...)...)
	return c
}

// GroupBy appends GROUP BY clauses.
func (s *SelectStmt) GroupBy(cols ...Element) *SelectStmt {
	c := s.copy()
	c.groupBy = append(c.groupBy, cols...)
	return c
}

// Having adds HAVING criteria.
func (s *SelectStmt) Having(conds ...Element) *SelectStmt {
	c := s.copy()
	c.having = And(append([]Element{c.having}, conds...)...)
	return c
}

// OrderBy appends ORDER BY clauses. Calling it without arguments removes
// the ordering.
func (s *SelectStmt) OrderBy(cols ...Element) *SelectStmt {
	c := s.copy()
	if len(cols) == 0 {
		c.orderBy = nil
		return c
	}
	c.orderBy = append(c.orderBy, cols...)
	return c
}

// Limit sets the row limit. A negative value removes it.
func (s *SelectStmt) Limit(n int) *SelectStmt {
	c := s.copy()
	c.limit = n
	return c
}

// Offset sets the row offset. A negative value removes it.
func (s *SelectStmt) Offset(n int) *SelectStmt {
	c := s.copy()
	c.offset = n
	return c
}

// Distinct makes the statement SELECT DISTINCT.
func (s *SelectStmt) Distinct() *SelectStmt {
	c := s.copy()
	c.distinct = true
	return c
}

// ForUpdate adds FOR UPDATE.
func (s *SelectStmt) ForUpdate() *SelectStmt {
	c := s.copy()
	c.forUpdate = true
	return c
}

// WithLabels labels every table column as table_column in the result.
func (s *SelectStmt) WithLabels() *SelectStmt {
	c := s.copy()
	c.useLabels = true
	return c
}

// Correlate sets the FROM clauses an enclosing statement may supply.
// Called without arguments, it disables correlation entirely.
func (s *SelectStmt) Correlate(froms ...FromClause) *SelectStmt {
	c := s.copy()
	if len(froms) == 0 {
		c.noCorrelate = true
		c.correlate = nil
		return c
	}
	c.noCorrelate = false
	c.correlate = append(c.correlate, froms...)
	return c
}

// Alias wraps the statement as a named subquery. An empty name makes the
// compiler generate one.
func (s *SelectStmt) Alias(name string) *AliasClause { return Alias(s, name) }

// Scalar returns the statement as a scalar subquery.
func (s *SelectStmt) Scalar() *ScalarSelect { return &ScalarSelect{Select: s} }

// Exists returns EXISTS (s).
func (s *SelectStmt) Exists() *Unary { return Exists(s) }

// Columns returns the result column list.
func (s *SelectStmt) Columns() []Element { return s.columns }

// Froms returns the explicit FROM clauses.
func (s *SelectStmt) Froms() []FromClause { return s.froms }

// WhereClause returns the criteria, or nil.
func (s *SelectStmt) WhereClause() Element { return s.where }

// GroupByClauses returns the GROUP BY list.
func (s *SelectStmt) GroupByClauses() []Element { return s.groupBy }

// HavingClause returns the HAVING criteria, or nil.
func (s *SelectStmt) HavingClause() Element { return s.having }

// OrderByClauses returns the ORDER BY list.
func (s *SelectStmt) OrderByClauses() []Element { return s.orderBy }

// LimitValue returns the limit and whether one is set.
func (s *SelectStmt) LimitValue() (int, bool) { return s.limit, s.limit >= 0 }

// OffsetValue returns the offset and whether one is set.
func (s *SelectStmt) OffsetValue() (int, bool) { return s.offset, s.offset > 0 }

// IsDistinct reports whether the statement is SELECT DISTINCT.
func (s *SelectStmt) IsDistinct() bool { return s.distinct }

// IsForUpdate reports whether FOR UPDATE is requested.
func (s *SelectStmt) IsForUpdate() bool { return s.forUpdate }

// UseLabels reports whether table columns are labeled.
func (s *SelectStmt) UseLabels() bool { return s.useLabels }

// Correlation returns whether automatic correlation is enabled and the
// explicitly correlated clauses.
func (s *SelectStmt) Correlation() (auto bool, froms []FromClause) {
	return !s.noCorrelate && len(s.correlate) == 0, s.correlate
}

// ColumnName returns the name a result column has in the result set.
func (s *SelectStmt) ColumnName(e Element) (string, bool) {
	switch x := e.(type) {
	case *Label:
		return x.Name, true
	case *Column:
		if x.literal {
			return x.Name, x.Name != "*"
		}
		if s.useLabels {
			if n, ok := x.from.(interface{ name() string }); ok && n.name() != "" {
				return n.name() + "_" + x.Name, true
			}
		}
		return x.Name, true
	}
	return "", false
}

func (s *SelectStmt) children() []Element {
	out := append([]Element(nil), s.columns...)
	for _, f := range s.froms {
		out = append(out, f)
	}
	if s.where != nil {
		out = append(out, s.where)
	}
	out = append(out, s.groupBy...)
	if s.having != nil {
		out = append(out, s.having)
	}
	return append(out, s.orderBy...)
}

func (s *SelectStmt) rebuild(f func(Element) Element) Element {
	cols, c1 := mapElems(s.columns, f)
	froms, c2 := mapFroms(s.froms, f)
	where, c3 := mapOne(s.where, f)
	group, c4 := mapElems(s.groupBy, f)
	having, c5 := mapOne(s.having, f)
	order, c6 := mapElems(s.orderBy, f)
	if !c1 && !c2 && !c3 && !c4 && !c5 && !c6 {
		return s
	}
	c := s.copy()
	c.columns, c.froms, c.where, c.groupBy, c.having, c.orderBy = cols, froms, where, group, having, order
	return c
}

// AliasClause is a named table or subquery in a FROM list.
type AliasClause struct {
	Name string
	of   Element
	cols []*Column
	keys map[string]*Column
}

// Alias names a table or SELECT statement. An empty name makes the
// compiler generate an anonymous one.
func Alias(of Element, name string) *AliasClause {
	a := &AliasClause{Name: name, of: of, keys: make(map[string]*Column)}
	switch x := of.(type) {
	case *Table:
		for _, c := range x.cols {
			a.addProxy(c.Name, c.Key, c)
		}
	case *AliasClause:
		for _, c := range x.cols {
			a.addProxy(c.Name, c.Key, c)
		}
	case *SelectStmt:
		for _, e := range x.columns {
			n, ok := x.ColumnName(e)
			if !ok {
				continue
			}
			key := n
			if c, ok := e.(*Column); ok && !x.useLabels {
				key = c.Key
			}
			a.addProxy(n, key, e)
		}
	default:
		panic(fmt.Sprintf("expr: cannot alias %T", of))
	}
	return a
}

func (a *AliasClause) addProxy(name, key string, of Element) {
	c := &Column{Name: name, Key: key, typ: typeOf(of), from: a, proxy: of, nullable: true}
	if base, ok := of.(*Column); ok {
		c.primaryKey = base.primaryKey
		c.nullable = base.nullable
		c.fks = base.fks
	}
	a.cols = append(a.cols, c)
	if _, ok := a.keys[key]; !ok {
		a.keys[key] = c
	}
}

// Original returns the aliased table or statement.
func (a *AliasClause) Original() Element { return a.of }

// Columns implements FromClause.
func (a *AliasClause) Columns() []*Column { return a.cols }

// C implements FromClause.
func (a *AliasClause) C(key string) *Column { return a.keys[key] }

// CorrespondingColumn implements FromClause.
func (a *AliasClause) CorrespondingColumn(col *Column) *Column {
	if col.from == a {
		return col
	}
	for _, c := range a.cols {
		for _, l := range Lineage(c) {
			if l == col {
				return c
			}
		}
	}
	return nil
}

// HiddenFroms implements FromClause.
func (a *AliasClause) HiddenFroms() []FromClause { return nil }

// Select returns a SELECT of all alias columns.
func (a *AliasClause) Select() *SelectStmt {
	cols := make([]Element, len(a.cols))
	for i, c := range a.cols {
		cols[i] = c
	}
	return Select(cols...)
}

// Join returns an inner join with right.
func (a *AliasClause) Join(right FromClause, on ...Element) *JoinClause { return Join(a, right, on...) }

// OuterJoin returns a left outer join with right.
func (a *AliasClause) OuterJoin(right FromClause, on ...Element) *JoinClause {
	return OuterJoin(a, right, on...)
}

func (a *AliasClause) name() string { return a.Name }

func (*AliasClause) children() []Element { return nil }

func (a *AliasClause) rebuild(func(Element) Element) Element { return a }

func (*AliasClause) fromClause() {}

// JoinClause is a join of two FROM clauses.
type JoinClause struct {
	Left  FromClause
	Right FromClause
	// On is the explicit join condition; nil derives it from foreign keys.
	On    Element
	Outer bool
}

// Join returns left JOIN right. Without on, the condition is derived from
// the foreign keys between the two sides.
func Join(left, right FromClause, on ...Element) *JoinClause {
	return &JoinClause{Left: left, Right: right, On: And(on...)}
}

// OuterJoin returns left LEFT OUTER JOIN right.
func OuterJoin(left, right FromClause, on ...Element) *JoinClause {
	return &JoinClause{Left: left, Right: right, On: And(on...), Outer: true}
}

// Join chains another inner join onto j.
func (j *JoinClause) Join(right FromClause, on ...Element) *JoinClause { return Join(j, right, on...) }

// OuterJoin chains another outer join onto j.
func (j *JoinClause) OuterJoin(right FromClause, on ...Element) *JoinClause {
	return OuterJoin(j, right, on...)
}

// Condition returns the explicit or derived join condition.
func (j *JoinClause) Condition() (Element, error) {
	if j.On != nil {
		return j.On, nil
	}
	return JoinCondition(j.Left, j.Right)
}

// Columns implements FromClause.
func (j *JoinClause) Columns() []*Column {
	return append(append([]*Column(nil), j.Left.Columns()...), j.Right.Columns()...)
}

// C implements FromClause.
func (j *JoinClause) C(key string) *Column {
	if c := j.Left.C(key); c != nil {
		return c
	}
	return j.Right.C(key)
}

// CorrespondingColumn implements FromClause.
func (j *JoinClause) CorrespondingColumn(col *Column) *Column {
	if c := j.Left.CorrespondingColumn(col); c != nil {
		return c
	}
	return j.Right.CorrespondingColumn(col)
}

// HiddenFroms implements FromClause. A join replaces both of its sides,
// recursively.
func (j *JoinClause) HiddenFroms() []FromClause {
	out := []FromClause{j.Left, j.Right}
	out = append(out, j.Left.HiddenFroms()...)
	return append(out, j.Right.HiddenFroms()...)
}

func (j *JoinClause) children() []Element {
	out := []Element{j.Left, j.Right}
	if j.On != nil {
		out = append(out, j.On)
	}
	return out
}

func (j *JoinClause) rebuild(f func(Element) Element) Element {
	l, c1 := mapOne(j.Left, f)
	r, c2 := mapOne(j.Right, f)
	on, c3 := mapOne(j.On, f)
	if !c1 && !c2 && !c3 {
		return j
	}
	c := *j
	if lf, ok := l.(FromClause); ok {
		c.Left = lf
	}
	if rf, ok := r.(FromClause); ok {
		c.Right = rf
	}
	c.On = on
	return &c
}

func (*JoinClause) fromClause() {}

// JoinCondition derives the ON clause between a and b from foreign keys.
// Keys of b referencing a are preferred; keys of a referencing b are used
// when there are none. Several foreign keys targeting the same column make
// the join ambiguous.
func JoinCondition(a, b FromClause) (Element, error) {
	crit, err := fkCriteria(b, a)
	if err != nil {
		return nil, err
	}
	if len(crit) == 0 {
		if crit, err = fkCriteria(a, b); err != nil {
			return nil, err
		}
	}
	if len(crit) == 0 {
		return nil, strata.NewCompileError("", "can't find any foreign key relationships between %s and %s", describe(a), describe(b))
	}
	return And(crit...), nil
}

// fkCriteria returns child.fk = parent.pk pairs for keys of child that
// point into parent.
func fkCriteria(child, parent FromClause) ([]Element, error) {
	var (
		crit []Element
		seen = make(map[*Column]*Column)
	)
	for _, c := range child.Columns() {
		for _, fk := range c.fks {
			ref := fk.Referent(parent)
			if ref == nil {
				continue
			}
			if prev, ok := seen[ref]; ok && prev != c {
				return nil, &strata.CompileError{
					Msg: fmt.Sprintf("more than one foreign key between %s and %s references %s; specify the join condition", describe(parent), describe(child), ref),
					Err: strata.ErrAmbiguousJoin,
				}
			}
			seen[ref] = c
			crit = append(crit, EQ(ref, c))
		}
	}
	return crit, nil
}

func describe(f FromClause) string {
	switch x := f.(type) {
	case *Table:
		return x.Name
	case *AliasClause:
		if x.Name != "" {
			return x.Name
		}
		return "anonymous alias"
	case *JoinClause:
		return describe(x.Left) + " JOIN " + describe(x.Right)
	}
	return fmt.Sprintf("%T", f)
}
