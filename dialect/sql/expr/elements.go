package expr

import (
	"github.com/syssam/strata/dialect/sql/types"
)

// BindParam is a bound parameter. Its value is either given at build
// time or supplied by key at execution time.
type BindParam struct {
	Key   string
	Value any
	typ   types.Type
	// Unique asks the compiler to give the parameter a name that does not
	// collide with other parameters of the same key.
	Unique bool
	// Required marks a parameter whose value must be supplied at execution.
	Required bool
}

// Bind returns a parameter with a value.
func Bind(key string, value any, t types.Type) *BindParam {
	return &BindParam{Key: key, Value: value, typ: t, Unique: true}
}

// Param returns a parameter whose value is supplied at execution.
func Param(key string, t types.Type) *BindParam {
	return &BindParam{Key: key, typ: t, Required: true}
}

// Type implements ColumnElement.
func (b *BindParam) Type() types.Type { return b.typ }

func (*BindParam) children() []Element { return nil }

func (b *BindParam) rebuild(func(Element) Element) Element { return b }

// Null is the SQL NULL literal.
type Null struct{}

// Type implements ColumnElement.
func (Null) Type() types.Type { return types.Null() }

func (Null) children() []Element { return nil }

func (n Null) rebuild(func(Element) Element) Element { return n }

// Bool is a boolean literal.
type Bool bool

// True and False literals.
const (
	True  Bool = true
	False Bool = false
)

// Type implements ColumnElement.
func (Bool) Type() types.Type { return types.Boolean() }

func (Bool) children() []Element { return nil }

func (b Bool) rebuild(func(Element) Element) Element { return b }

// Binary is an expression with an infix operator.
type Binary struct {
	Left  Element
	Right Element
	Op    Op
	typ   types.Type
}

// Type implements ColumnElement.
func (b *Binary) Type() types.Type { return b.typ }

func (b *Binary) children() []Element { return []Element{b.Left, b.Right} }

func (b *Binary) rebuild(f func(Element) Element) Element {
	l, lc := mapOne(b.Left, f)
	r, rc := mapOne(b.Right, f)
	if !lc && !rc {
		return b
	}
	c := *b
	c.Left, c.Right = l, r
	return &c
}

// Unary is an expression with a prefix operator, or a postfix modifier
// such as ASC and DESC.
type Unary struct {
	Elem     Element
	Op       Op
	Modifier Op
	typ      types.Type
}

// Type implements ColumnElement.
func (u *Unary) Type() types.Type { return u.typ }

func (u *Unary) children() []Element { return []Element{u.Elem} }

func (u *Unary) rebuild(f func(Element) Element) Element {
	e, ok := mapOne(u.Elem, f)
	if !ok {
		return u
	}
	c := *u
	c.Elem = e
	return &c
}

// ClauseList is a list of clauses joined by an operator.
type ClauseList struct {
	Op      Op
	Clauses []Element
}

// Type implements ColumnElement.
func (l *ClauseList) Type() types.Type { return types.Boolean() }

func (l *ClauseList) children() []Element { return l.Clauses }

func (l *ClauseList) rebuild(f func(Element) Element) Element {
	list, ok := mapElems(l.Clauses, f)
	if !ok {
		return l
	}
	return &ClauseList{Op: l.Op, Clauses: list}
}

// Grouping wraps an element in parentheses.
type Grouping struct {
	Elem Element
}

// Type implements ColumnElement.
func (g *Grouping) Type() types.Type { return typeOf(g.Elem) }

func (g *Grouping) children() []Element { return []Element{g.Elem} }

func (g *Grouping) rebuild(f func(Element) Element) Element {
	e, ok := mapOne(g.Elem, f)
	if !ok {
		return g
	}
	return &Grouping{Elem: e}
}

// Label names an element in a column list.
type Label struct {
	Name string
	Elem Element
}

// Type implements ColumnElement.
func (l *Label) Type() types.Type { return typeOf(l.Elem) }

func (l *Label) children() []Element { return []Element{l.Elem} }

func (l *Label) rebuild(f func(Element) Element) Element {
	e, ok := mapOne(l.Elem, f)
	if !ok {
		return l
	}
	return &Label{Name: l.Name, Elem: e}
}

// Function is an SQL function call.
type Function struct {
	Name string
	Args []Element
	typ  types.Type
}

// Func returns a call of the named function. Plain Go values among args
// are bound as parameters.
func Func(name string, t types.Type, args ...any) *Function {
	fn := &Function{Name: name, typ: t}
	for _, a := range args {
		fn.Args = append(fn.Args, coerce(a, nil))
	}
	return fn
}

// Count returns count(e), or count(*) when e is nil.
func Count(e Element) *Function {
	if e == nil {
		e = LiteralColumn("*", types.Null())
	}
	return &Function{Name: "count", Args: []Element{e}, typ: types.Integer()}
}

// Max returns max(e).
func Max(e ColumnElement) *Function {
	return &Function{Name: "max", Args: []Element{e}, typ: e.Type()}
}

// Min returns min(e).
func Min(e ColumnElement) *Function {
	return &Function{Name: "min", Args: []Element{e}, typ: e.Type()}
}

// Sum returns sum(e).
func Sum(e ColumnElement) *Function {
	return &Function{Name: "sum", Args: []Element{e}, typ: e.Type()}
}

// Now returns the current timestamp function.
func Now() *Function { return &Function{Name: "CURRENT_TIMESTAMP", typ: types.DateTime(false)} }

// Type implements ColumnElement.
func (fn *Function) Type() types.Type { return fn.typ }

// Label returns the call labeled with name.
func (fn *Function) Label(name string) *Label { return &Label{Name: name, Elem: fn} }

func (fn *Function) children() []Element { return fn.Args }

func (fn *Function) rebuild(f func(Element) Element) Element {
	args, ok := mapElems(fn.Args, f)
	if !ok {
		return fn
	}
	return &Function{Name: fn.Name, Args: args, typ: fn.typ}
}

// CastExpr is CAST(e AS type).
type CastExpr struct {
	Elem Element
	To   types.Type
}

// Cast converts e to the given type.
func Cast(e any, t types.Type) *CastExpr { return &CastExpr{Elem: coerce(e, nil), To: t} }

// Type implements ColumnElement.
func (c *CastExpr) Type() types.Type { return c.To }

func (c *CastExpr) children() []Element { return []Element{c.Elem} }

func (c *CastExpr) rebuild(f func(Element) Element) Element {
	e, ok := mapOne(c.Elem, f)
	if !ok {
		return c
	}
	return &CastExpr{Elem: e, To: c.To}
}

// When is one branch of a CASE expression.
type When struct {
	Cond   Element
	Result Element
}

// CaseExpr is a searched CASE expression.
type CaseExpr struct {
	Whens []When
	Else  Element
}

// Case builds a CASE expression. A Go value given as els is bound.
func Case(whens []When, els any) *CaseExpr {
	c := &CaseExpr{}
	for _, w := range whens {
		c.Whens = append(c.Whens, When{Cond: w.Cond, Result: coerce(w.Result, nil)})
	}
	if els != nil {
		c.Else = coerce(els, nil)
	}
	return c
}

// Type implements ColumnElement.
func (c *CaseExpr) Type() types.Type {
	if len(c.Whens) > 0 {
		return typeOf(c.Whens[0].Result)
	}
	return types.Null()
}

func (c *CaseExpr) children() []Element {
	var out []Element
	for _, w := range c.Whens {
		out = append(out, w.Cond, w.Result)
	}
	if c.Else != nil {
		out = append(out, c.Else)
	}
	return out
}

func (c *CaseExpr) rebuild(f func(Element) Element) Element {
	changed := false
	whens := make([]When, len(c.Whens))
	for i, w := range c.Whens {
		cond, ok1 := mapOne(w.Cond, f)
		res, ok2 := mapOne(w.Result, f)
		changed = changed || ok1 || ok2
		whens[i] = When{Cond: cond, Result: res}
	}
	els, ok := mapOne(c.Else, f)
	if !changed && !ok {
		return c
	}
	return &CaseExpr{Whens: whens, Else: els}
}

// TextClause is raw SQL text. Names written as :name are bound parameters
// taken from Binds, or supplied at execution.
type TextClause struct {
	SQL   string
	Binds map[string]any
}

// Text returns a raw SQL clause.
func Text(sql string, binds map[string]any) *TextClause {
	return &TextClause{SQL: sql, Binds: binds}
}

// Type implements ColumnElement.
func (*TextClause) Type() types.Type { return types.Null() }

func (*TextClause) children() []Element { return nil }

func (t *TextClause) rebuild(func(Element) Element) Element { return t }

// ScalarSelect is a SELECT used as a column expression.
type ScalarSelect struct {
	Select *SelectStmt
}

// Type implements ColumnElement.
func (s *ScalarSelect) Type() types.Type {
	if cols := s.Select.columns; len(cols) > 0 {
		return typeOf(cols[0])
	}
	return types.Null()
}

// Label returns the subquery labeled with name.
func (s *ScalarSelect) Label(name string) *Label { return &Label{Name: name, Elem: s} }

func (s *ScalarSelect) children() []Element { return []Element{s.Select} }

func (s *ScalarSelect) rebuild(f func(Element) Element) Element {
	e, ok := mapOne(s.Select, f)
	if !ok {
		return s
	}
	if sel, ok := e.(*SelectStmt); ok {
		return &ScalarSelect{Select: sel}
	}
	return s
}

func typeOf(e Element) types.Type {
	if c, ok := e.(ColumnElement); ok {
		return c.Type()
	}
	return types.Null()
}

// keyOf returns the parameter key for a value compared against e.
func keyOf(e Element) string {
	switch x := e.(type) {
	case *Column:
		if !x.literal {
			return x.Key
		}
	case *Label:
		return x.Name
	}
	return "param"
}

// coerce turns a Go value into a bound parameter typed after against.
func coerce(v any, against Element) Element {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Element:
		return x
	case bool:
		if against == nil {
			return Bool(x)
		}
	}
	if against == nil {
		return &BindParam{Key: "param", Value: v, typ: types.Null(), Unique: true}
	}
	return &BindParam{Key: keyOf(against), Value: v, typ: typeOf(against), Unique: true}
}

// OverExpr is a window function call, fn OVER (ORDER BY ...).
type OverExpr struct {
	Func    *Function
	OrderBy []Element
}

// Over applies a window ordered by the given clauses to fn.
func Over(fn *Function, orderBy ...Element) *OverExpr {
	return &OverExpr{Func: fn, OrderBy: orderBy}
}

// RowNumber returns ROW_NUMBER() OVER (ORDER BY orderBy...).
func RowNumber(orderBy ...Element) *OverExpr {
	return Over(&Function{Name: "ROW_NUMBER", typ: types.Integer()}, orderBy...)
}

// Type implements ColumnElement.
func (o *OverExpr) Type() types.Type { return o.Func.typ }

// Label returns the window call labeled with name.
func (o *OverExpr) Label(name string) *Label { return &Label{Name: name, Elem: o} }

func (o *OverExpr) children() []Element { return append([]Element{o.Func}, o.OrderBy...) }

func (o *OverExpr) rebuild(f func(Element) Element) Element {
	fn, c1 := mapOne(o.Func, f)
	order, c2 := mapElems(o.OrderBy, f)
	if !c1 && !c2 {
		return o
	}
	out := &OverExpr{Func: o.Func, OrderBy: order}
	if x, ok := fn.(*Function); ok {
		out.Func = x
	}
	return out
}
