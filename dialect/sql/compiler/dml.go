package compiler

import (
	"strings"

	"github.com/syssam/strata/dialect/sql/expr"
)

// colParam is one column of an INSERT or UPDATE and the element giving
// its value.
type colParam struct {
	col   *expr.Column
	value expr.Element
	// def is the client side default Args evaluates, chosen by statement
	// kind.
	def *expr.Default
}

// colParams selects the columns of t an INSERT or UPDATE renders: those
// with statement values, those named by WithColumnKeys, and those with a
// client side default.
func (c *Compiler) colParams(t *expr.Table, valueOf func(string) (expr.Element, bool), insert bool) []colParam {
	var params []colParam
	for _, col := range t.Columns() {
		if v, ok := valueOf(col.Key); ok {
			params = append(params, colParam{col: col, value: v})
			continue
		}
		if c.opts.keys[col.Key] {
			params = append(params, colParam{col: col, value: expr.Param(col.Key, col.Type())})
			continue
		}
		def := col.DefaultValue()
		if !insert {
			def = col.OnUpdateValue()
		}
		if def != nil {
			params = append(params, colParam{col: col, value: expr.Param(col.Key, col.Type()), def: def})
		}
	}
	return params
}

// value renders the value of one column parameter.
func (c *Compiler) value(p colParam) (string, error) {
	if p.def != nil {
		ph := c.bindParam(p.value.(*expr.BindParam))
		c.out.binds[len(c.out.binds)-1].def = p.def
		return ph, nil
	}
	return c.process(p.value, expr.OpComma)
}

func (c *Compiler) visitInsert(s *expr.InsertStmt) (string, error) {
	t := s.Table()
	table := c.prep.Quote(t.Name)
	c.stack = append(c.stack, frame{froms: map[expr.FromClause]bool{t: true}})
	defer func() { c.stack = c.stack[:len(c.stack)-1] }()

	var output, suffix string
	if ret := s.ReturningColumns(); len(ret) > 0 {
		var err error
		if output, suffix, err = c.d.ReturningClause(c, ret); err != nil {
			return "", err
		}
		c.out.Returning = ret
		for i, col := range ret {
			c.out.ResultColumns = append(c.out.ResultColumns, ResultColumn{Name: col.Name, Elem: col})
			c.out.colIndex[col] = i
		}
	}

	if cols, sel := s.SelectSource(); sel != nil {
		names := make([]string, len(cols))
		for i, col := range cols {
			names[i] = c.prep.Quote(col.Name)
		}
		text, err := c.visitSelect(sel, false)
		if err != nil {
			return "", err
		}
		return "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ")" + output + " " + text + suffix, nil
	}

	if rows := s.Rows(); len(rows) > 0 {
		return c.multiValues(s, table, rows, output, suffix)
	}

	params := c.colParams(t, s.ValueOf, true)
	if len(params) == 0 {
		text, err := c.d.EmptyInsert(table)
		if err != nil {
			return "", err
		}
		if output != "" {
			text = strings.Replace(text, " DEFAULT VALUES", output+" DEFAULT VALUES", 1)
		}
		return text + suffix, nil
	}
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = c.prep.Quote(p.col.Name)
		if p.col.IsAutoincrement() && p.def == nil {
			c.out.IdentityInsert = c.d.IdentityInsertSQL(table, true) != ""
		}
		if p.def != nil {
			c.out.Prefetch = append(c.out.Prefetch, p.col)
		}
	}
	rows := c.opts.rows
	if rows < 1 {
		rows = 1
	}
	if rows > 1 && !c.caps.MultiValuesInsert {
		return "", c.errorf("multi row VALUES is not supported")
	}
	groups := make([]string, rows)
	for r := 0; r < rows; r++ {
		c.row = r
		values := make([]string, len(params))
		for i, p := range params {
			v, err := c.value(p)
			if err != nil {
				return "", err
			}
			values[i] = v
		}
		groups[r] = "(" + strings.Join(values, ", ") + ")"
	}
	c.row = 0
	c.out.rows = rows
	return "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ")" + output + " VALUES " + strings.Join(groups, ", ") + suffix, nil
}

// multiValues renders INSERT ... VALUES (...), (...) from statement rows.
// The columns are those of the first row; later rows missing a column
// insert NULL.
func (c *Compiler) multiValues(s *expr.InsertStmt, table string, rows []map[string]expr.Element, output, suffix string) (string, error) {
	if len(rows) > 1 && !c.caps.MultiValuesInsert {
		return "", c.errorf("multi row VALUES is not supported")
	}
	var cols []*expr.Column
	for _, col := range s.Table().Columns() {
		if _, ok := rows[0][col.Key]; ok {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return "", c.errorf("multi row INSERT has no column values")
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = c.prep.Quote(col.Name)
	}
	groups := make([]string, len(rows))
	for r, row := range rows {
		values := make([]string, len(cols))
		for i, col := range cols {
			v, ok := row[col.Key]
			if !ok {
				values[i] = "NULL"
				continue
			}
			text, err := c.process(v, expr.OpComma)
			if err != nil {
				return "", err
			}
			values[i] = text
		}
		groups[r] = "(" + strings.Join(values, ", ") + ")"
	}
	return "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ")" + output + " VALUES " + strings.Join(groups, ", ") + suffix, nil
}

func (c *Compiler) visitUpdate(s *expr.UpdateStmt) (string, error) {
	t := s.Table()
	table := c.prep.Quote(t.Name)
	c.stack = append(c.stack, frame{froms: map[expr.FromClause]bool{t: true}})
	defer func() { c.stack = c.stack[:len(c.stack)-1] }()

	params := c.colParams(t, s.ValueOf, false)
	if len(params) == 0 {
		return "", c.errorf("UPDATE of table %q sets no columns", t.Name)
	}
	sets := make([]string, len(params))
	for i, p := range params {
		v, err := c.value(p)
		if err != nil {
			return "", err
		}
		sets[i] = c.prep.Quote(p.col.Name) + "=" + v
		if p.def != nil {
			c.out.Prefetch = append(c.out.Prefetch, p.col)
		}
	}
	var output, suffix string
	if ret := s.ReturningColumns(); len(ret) > 0 {
		var err error
		if output, suffix, err = c.d.ReturningClause(c, ret); err != nil {
			return "", err
		}
		c.out.Returning = ret
		for i, col := range ret {
			c.out.ResultColumns = append(c.out.ResultColumns, ResultColumn{Name: col.Name, Elem: col})
			c.out.colIndex[col] = i
		}
	}
	text := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + output
	if w := s.WhereClause(); w != nil {
		where, err := c.process(w, expr.OpNone)
		if err != nil {
			return "", err
		}
		text += " WHERE " + where
	}
	return text + suffix, nil
}

func (c *Compiler) visitDelete(s *expr.DeleteStmt) (string, error) {
	t := s.Table()
	c.stack = append(c.stack, frame{froms: map[expr.FromClause]bool{t: true}})
	defer func() { c.stack = c.stack[:len(c.stack)-1] }()

	text := "DELETE FROM " + c.prep.Quote(t.Name)
	if w := s.WhereClause(); w != nil {
		where, err := c.process(w, expr.OpNone)
		if err != nil {
			return "", err
		}
		text += " WHERE " + where
	}
	return text, nil
}
