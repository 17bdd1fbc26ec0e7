package compiler

import (
	"strings"

	"github.com/syssam/strata/dialect/sql/expr"
)

// visitSelect renders s. Result columns are recorded for the outermost
// statement only.
func (c *Compiler) visitSelect(s *expr.SelectStmt, top bool) (string, error) {
	rewritten, err := c.d.RewriteSelect(s)
	if err != nil {
		return "", err
	}
	if rewritten != nil {
		s = rewritten
	}
	froms, err := c.displayFroms(s)
	if err != nil {
		return "", err
	}
	existing := make(map[expr.FromClause]bool)
	for _, f := range froms {
		existing[f] = true
		for _, h := range f.HiddenFroms() {
			existing[h] = true
		}
	}
	c.stack = append(c.stack, frame{froms: existing})
	defer func() { c.stack = c.stack[:len(c.stack)-1] }()

	pre, err := c.d.SelectPrecolumns(s)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(pre)
	cols := s.Columns()
	if len(cols) == 0 {
		return "", c.errorf("SELECT statement has no columns")
	}
	for i, e := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		col, err := c.resultColumn(s, e, top)
		if err != nil {
			return "", err
		}
		sb.WriteString(col)
	}
	if len(froms) > 0 {
		sb.WriteString(" FROM ")
		for i, f := range froms {
			if i > 0 {
				sb.WriteString(", ")
			}
			text, err := c.visitFrom(f)
			if err != nil {
				return "", err
			}
			sb.WriteString(text)
		}
	}
	if w := s.WhereClause(); w != nil {
		text, err := c.process(w, expr.OpNone)
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHERE " + text)
	}
	if g := s.GroupByClauses(); len(g) > 0 {
		text, err := c.list(g)
		if err != nil {
			return "", err
		}
		sb.WriteString(" GROUP BY " + text)
	}
	if h := s.HavingClause(); h != nil {
		text, err := c.process(h, expr.OpNone)
		if err != nil {
			return "", err
		}
		sb.WriteString(" HAVING " + text)
	}
	if o := s.OrderByClauses(); len(o) > 0 {
		text, err := c.list(o)
		if err != nil {
			return "", err
		}
		sb.WriteString(" ORDER BY " + text)
	}
	sb.WriteString(c.d.LimitClause(s))
	if s.IsForUpdate() {
		sb.WriteString(c.d.ForUpdateClause())
	}
	return sb.String(), nil
}

// resultColumn renders one entry of the column list, labeling it when the
// statement asks for labels.
func (c *Compiler) resultColumn(s *expr.SelectStmt, e expr.Element, top bool) (string, error) {
	name, named := s.ColumnName(e)
	var (
		text string
		err  error
	)
	switch x := e.(type) {
	case *expr.Label:
		text, err = c.grouped(x.Elem, expr.OpAs)
		if err == nil {
			text += " AS " + c.labelName(x.Name)
		}
	case *expr.Column:
		text = c.columnSQL(x, false)
		if s.UseLabels() && !x.IsLiteral() && x.From() != nil {
			text += " AS " + c.labelName(name)
		}
	default:
		text, err = c.grouped(e, expr.OpComma)
	}
	if err != nil {
		return "", err
	}
	if top {
		if !named {
			name = ""
		}
		idx := len(c.out.ResultColumns)
		c.out.ResultColumns = append(c.out.ResultColumns, ResultColumn{Name: name, Elem: e})
		for _, l := range expr.Lineage(e) {
			if _, ok := c.out.colIndex[l]; !ok {
				c.out.colIndex[l] = idx
			}
		}
	}
	return text, nil
}

// displayFroms computes the FROM list of s: the clauses of its columns,
// criteria and explicit froms, minus the clauses hidden by joins and the
// clauses correlated to an enclosing statement.
func (c *Compiler) displayFroms(s *expr.SelectStmt) ([]expr.FromClause, error) {
	elems := append([]expr.Element(nil), s.Columns()...)
	if w := s.WhereClause(); w != nil {
		elems = append(elems, w)
	}
	froms := expr.FromObjects(elems...)
	seen := make(map[expr.FromClause]bool, len(froms))
	for _, f := range froms {
		seen[f] = true
	}
	for _, f := range s.Froms() {
		if !seen[f] {
			seen[f] = true
			froms = append(froms, f)
		}
	}
	hidden := make(map[expr.FromClause]bool)
	for _, f := range froms {
		for _, h := range f.HiddenFroms() {
			hidden[h] = true
		}
	}
	froms = filterFroms(froms, hidden)

	auto, explicit := s.Correlation()
	if len(froms) > 1 || len(explicit) > 0 {
		if len(explicit) > 0 {
			drop := make(map[expr.FromClause]bool, len(explicit))
			for _, f := range explicit {
				drop[f] = true
			}
			froms = filterFroms(froms, drop)
		}
		if auto && len(c.stack) > 0 {
			froms = filterFroms(froms, c.stack[len(c.stack)-1].froms)
		}
		if len(froms) == 0 {
			return nil, c.errorf("SELECT returned no FROM clauses due to auto-correlation; use Correlate to control correlation")
		}
	}
	return froms, nil
}

func filterFroms(froms []expr.FromClause, drop map[expr.FromClause]bool) []expr.FromClause {
	out := froms[:0:0]
	for _, f := range froms {
		if !drop[f] {
			out = append(out, f)
		}
	}
	return out
}
