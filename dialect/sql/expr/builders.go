package expr

import "github.com/syssam/strata/dialect/sql/types"

func compare(left Element, op Op, right any) *Binary {
	if right == nil {
		switch op {
		case OpEQ:
			op = OpIs
		case OpNE:
			op = OpIsNot
		}
	}
	return &Binary{Left: left, Right: coerce(right, left), Op: op, typ: types.Boolean()}
}

// EQ returns left = right. Comparing with nil renders IS NULL.
func EQ(left Element, right any) *Binary { return compare(left, OpEQ, right) }

// NE returns left != right. Comparing with nil renders IS NOT NULL.
func NE(left Element, right any) *Binary { return compare(left, OpNE, right) }

// LT returns left < right.
func LT(left Element, right any) *Binary { return compare(left, OpLT, right) }

// LE returns left <= right.
func LE(left Element, right any) *Binary { return compare(left, OpLE, right) }

// GT returns left > right.
func GT(left Element, right any) *Binary { return compare(left, OpGT, right) }

// GE returns left >= right.
func GE(left Element, right any) *Binary { return compare(left, OpGE, right) }

// Like returns left LIKE pattern.
func Like(left Element, pattern any) *Binary { return compare(left, OpLike, pattern) }

// NotLike returns left NOT LIKE pattern.
func NotLike(left Element, pattern any) *Binary { return compare(left, OpNotLike, pattern) }

// IsNull returns e IS NULL.
func IsNull(e Element) *Binary {
	return &Binary{Left: e, Right: Null{}, Op: OpIs, typ: types.Boolean()}
}

// IsNotNull returns e IS NOT NULL.
func IsNotNull(e Element) *Binary {
	return &Binary{Left: e, Right: Null{}, Op: OpIsNot, typ: types.Boolean()}
}

// In returns e IN (values...). values may also be a single *SelectStmt.
// An empty list yields an expression that is always false.
func In(e Element, values ...any) *Binary { return in(e, OpIn, values) }

// NotIn returns e NOT IN (values...).
func NotIn(e Element, values ...any) *Binary { return in(e, OpNotIn, values) }

func in(e Element, op Op, values []any) *Binary {
	if len(values) == 1 {
		if s, ok := values[0].(*SelectStmt); ok {
			return &Binary{Left: e, Right: s, Op: op, typ: types.Boolean()}
		}
	}
	if len(values) == 0 {
		neg := OpNE
		if op == OpNotIn {
			neg = OpEQ
		}
		return &Binary{Left: e, Right: e, Op: neg, typ: types.Boolean()}
	}
	list := &ClauseList{Op: OpComma}
	for _, v := range values {
		list.Clauses = append(list.Clauses, coerce(v, e))
	}
	return &Binary{Left: e, Right: &Grouping{Elem: list}, Op: op, typ: types.Boolean()}
}

// Between returns e BETWEEN low AND high.
func Between(e Element, low, high any) *Binary {
	return &Binary{
		Left:  e,
		Right: &ClauseList{Op: OpAnd, Clauses: []Element{coerce(low, e), coerce(high, e)}},
		Op:    OpBetween,
		typ:   types.Boolean(),
	}
}

func arith(left Element, op Op, right any) *Binary {
	return &Binary{Left: left, Right: coerce(right, left), Op: op, typ: typeOf(left)}
}

// Add returns left + right.
func Add(left Element, right any) *Binary { return arith(left, OpAdd, right) }

// Sub returns left - right.
func Sub(left Element, right any) *Binary { return arith(left, OpSub, right) }

// Mul returns left * right.
func Mul(left Element, right any) *Binary { return arith(left, OpMul, right) }

// Div returns left / right.
func Div(left Element, right any) *Binary { return arith(left, OpDiv, right) }

// Mod returns left % right.
func Mod(left Element, right any) *Binary { return arith(left, OpMod, right) }

// Concat returns left || right.
func Concat(left Element, right any) *Binary { return arith(left, OpConcat, right) }

// And joins the non nil clauses with AND, flattening nested conjunctions.
// It returns nil for no clauses and the clause itself for one.
func And(clauses ...Element) Element { return conjunction(OpAnd, clauses) }

// Or joins the non nil clauses with OR.
func Or(clauses ...Element) Element { return conjunction(OpOr, clauses) }

func conjunction(op Op, clauses []Element) Element {
	var list []Element
	for _, c := range clauses {
		if c == nil || isNil(c) {
			continue
		}
		if l, ok := c.(*ClauseList); ok && l.Op == op {
			list = append(list, l.Clauses...)
			continue
		}
		list = append(list, c)
	}
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return &ClauseList{Op: op, Clauses: list}
}

// Not negates e. Comparisons are negated by switching their operator.
func Not(e Element) Element {
	switch x := e.(type) {
	case *Binary:
		if neg, ok := negations[x.Op]; ok {
			c := *x
			c.Op = neg
			return &c
		}
	case *Unary:
		if x.Op == OpNot {
			return x.Elem
		}
	case Bool:
		return !x
	}
	return &Unary{Elem: e, Op: OpNot, typ: types.Boolean()}
}

// Exists returns EXISTS (s).
func Exists(s *SelectStmt) *Unary {
	return &Unary{Elem: s, Op: OpExists, typ: types.Boolean()}
}

// Distinct returns DISTINCT e for use inside aggregates.
func Distinct(e ColumnElement) *Unary {
	return &Unary{Elem: e, Op: OpDistinct, typ: e.Type()}
}

// Asc returns e ASC for ORDER BY.
func Asc(e Element) *Unary { return &Unary{Elem: e, Modifier: OpAsc, typ: typeOf(e)} }

// Desc returns e DESC for ORDER BY.
func Desc(e Element) *Unary { return &Unary{Elem: e, Modifier: OpDesc, typ: typeOf(e)} }

// As labels e with name.
func As(e Element, name string) *Label {
	for {
		l, ok := e.(*Label)
		if !ok {
			break
		}
		e = l.Elem
	}
	return &Label{Name: name, Elem: e}
}

// EQ returns c = v.
func (c *Column) EQ(v any) *Binary { return EQ(c, v) }

// NE returns c != v.
func (c *Column) NE(v any) *Binary { return NE(c, v) }

// LT returns c < v.
func (c *Column) LT(v any) *Binary { return LT(c, v) }

// LE returns c <= v.
func (c *Column) LE(v any) *Binary { return LE(c, v) }

// GT returns c > v.
func (c *Column) GT(v any) *Binary { return GT(c, v) }

// GE returns c >= v.
func (c *Column) GE(v any) *Binary { return GE(c, v) }

// In returns c IN (values...).
func (c *Column) In(values ...any) *Binary { return In(c, values...) }

// Like returns c LIKE pattern.
func (c *Column) Like(pattern any) *Binary { return Like(c, pattern) }

// IsNull returns c IS NULL.
func (c *Column) IsNull() *Binary { return IsNull(c) }

// Asc returns c ASC.
func (c *Column) Asc() *Unary { return Asc(c) }

// Desc returns c DESC.
func (c *Column) Desc() *Unary { return Desc(c) }
