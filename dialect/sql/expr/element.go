package expr

import "github.com/syssam/strata/dialect/sql/types"

// Element is a node of an SQL expression tree. Elements are immutable
// once built; every transformation returns a new tree.
type Element interface {
	// children returns the direct child elements.
	children() []Element
	// rebuild returns a copy of the element with each child replaced by
	// f(child). It returns the receiver when f leaves every child as is.
	rebuild(f func(Element) Element) Element
}

// ColumnElement is an Element producing a typed value.
type ColumnElement interface {
	Element
	Type() types.Type
}

// FromClause is an Element that can be listed in a FROM clause.
type FromClause interface {
	Element
	// Columns returns the columns exported by the clause.
	Columns() []*Column
	// C returns the exported column with the given key, or nil.
	C(key string) *Column
	// CorrespondingColumn returns the exported column that col derives
	// from or is derived from, or nil.
	CorrespondingColumn(col *Column) *Column
	// HiddenFroms returns the clauses replaced by this one in a FROM list.
	HiddenFroms() []FromClause
	fromClause()
}

// Walk calls fn for e and every descendant in depth-first order. When fn
// returns false the children of that element are skipped.
func Walk(e Element, fn func(Element) bool) {
	if e == nil || isNil(e) {
		return
	}
	if !fn(e) {
		return
	}
	for _, c := range e.children() {
		Walk(c, fn)
	}
}

// Replace returns a copy of e where every element for which fn returns a
// non-nil replacement is substituted. Elements that are not replaced are
// traversed; unchanged subtrees keep their identity.
func Replace(e Element, fn func(Element) Element) Element {
	if e == nil || isNil(e) {
		return e
	}
	if r := fn(e); r != nil {
		return r
	}
	return e.rebuild(func(c Element) Element { return Replace(c, fn) })
}

// Adapt rewrites e so that columns and tables of the selectable that to
// was derived from refer to to instead. It is used to retarget criteria
// from a table to one of its aliases.
func Adapt(e Element, to FromClause) Element {
	return Replace(e, func(x Element) Element {
		switch x := x.(type) {
		case *Column:
			if c := to.CorrespondingColumn(x); c != nil && c != x {
				return c
			}
			return x
		case *Table:
			if a, ok := to.(*AliasClause); ok && a.Original() == Element(x) {
				return a
			}
			return x
		}
		return nil
	})
}

// FromObjects returns the FROM clauses referenced by e without looking
// inside nested selects.
func FromObjects(elems ...Element) []FromClause {
	var froms []FromClause
	seen := make(map[FromClause]bool)
	add := func(f FromClause) {
		if f != nil && !seen[f] {
			seen[f] = true
			froms = append(froms, f)
		}
	}
	for _, e := range elems {
		Walk(e, func(x Element) bool {
			switch x := x.(type) {
			case *Column:
				add(x.from)
				return false
			case *SelectStmt:
				return false
			case FromClause:
				add(x)
				return false
			}
			return true
		})
	}
	return froms
}

// Lineage returns the columns e is derived from, starting with e itself
// when it is a column, and following alias and label proxies.
func Lineage(e Element) []*Column {
	var out []*Column
	for e != nil {
		switch x := e.(type) {
		case *Column:
			out = append(out, x)
			e = x.proxy
		case *Label:
			e = x.Elem
		default:
			return out
		}
	}
	return out
}

// SharesLineage reports whether a and b derive from a common column.
func SharesLineage(a, b *Column) bool {
	if a == b {
		return true
	}
	la := Lineage(a)
	for _, y := range Lineage(b) {
		for _, x := range la {
			if x == y {
				return true
			}
		}
	}
	return false
}

func mapElems(list []Element, f func(Element) Element) ([]Element, bool) {
	var out []Element
	for i, e := range list {
		r := f(e)
		if r != e && out == nil {
			out = make([]Element, len(list))
			copy(out, list[:i])
		}
		if out != nil {
			out[i] = r
		}
	}
	if out == nil {
		return list, false
	}
	return out, true
}

func mapOne(e Element, f func(Element) Element) (Element, bool) {
	if e == nil || isNil(e) {
		return e, false
	}
	r := f(e)
	return r, r != e
}

func mapFroms(list []FromClause, f func(Element) Element) ([]FromClause, bool) {
	var out []FromClause
	for i, e := range list {
		r, ok := f(e).(FromClause)
		if !ok {
			r = e
		}
		if r != e && out == nil {
			out = make([]FromClause, len(list))
			copy(out, list[:i])
		}
		if out != nil {
			out[i] = r
		}
	}
	if out == nil {
		return list, false
	}
	return out, true
}

// isNil reports whether e holds a typed nil pointer.
func isNil(e Element) bool {
	switch x := e.(type) {
	case *Column:
		return x == nil
	case *Table:
		return x == nil
	case *SelectStmt:
		return x == nil
	case *Binary:
		return x == nil
	case *ClauseList:
		return x == nil
	case *BindParam:
		return x == nil
	}
	return false
}
