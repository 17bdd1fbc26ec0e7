package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql/expr"
)

// Option configures a compilation.
type Option func(*options)

type options struct {
	keys    map[string]bool
	hasKeys bool
	rows    int
}

// WithColumnKeys declares the column keys whose values are supplied at
// execution. INSERT and UPDATE render a parameter for each of them.
func WithColumnKeys(keys ...string) Option {
	return func(o *options) {
		o.hasKeys = true
		if o.keys == nil {
			o.keys = make(map[string]bool)
		}
		for _, k := range keys {
			o.keys[k] = true
		}
	}
}

// WithRows renders an INSERT with n VALUES groups, one per parameter map
// given to Args.
func WithRows(n int) Option {
	return func(o *options) { o.rows = n }
}

// ResultColumn describes one column of a compiled SELECT or RETURNING.
type ResultColumn struct {
	// Name is the column name in the result set, "" when unnamed.
	Name string
	Elem expr.Element
}

// Compiled is a rendered statement. It is immutable and safe to share.
type Compiled struct {
	SQL       string
	Statement expr.Element
	Dialect   Dialect
	// ResultColumns lists the columns a SELECT produces, in order.
	ResultColumns []ResultColumn
	// Prefetch lists columns whose client side defaults are evaluated by
	// Args when no value is given.
	Prefetch []*expr.Column
	// Returning lists the columns fetched back by RETURNING or OUTPUT.
	Returning []*expr.Column
	// IdentityInsert is set when an INSERT gives explicit values for an
	// identity column and the dialect needs a toggle around it.
	IdentityInsert bool

	binds    []bind
	colIndex map[*expr.Column]int
	rows     int
}

type bind struct {
	param *expr.BindParam
	name  string
	row   int
	// def is set for parameters of prefetch columns.
	def *expr.Default
}

// String returns the SQL text.
func (c *Compiled) String() string { return c.SQL }

// BindNames returns the parameter names in positional order.
func (c *Compiled) BindNames() []string {
	names := make([]string, len(c.binds))
	for i, b := range c.binds {
		names[i] = b.name
	}
	return names
}

// Params returns the values bound at build time, by parameter name.
func (c *Compiled) Params() map[string]any {
	params := make(map[string]any)
	for _, b := range c.binds {
		if !b.param.Required {
			params[b.name] = b.param.Value
		}
	}
	return params
}

// Index returns the position of the result column derived from col.
func (c *Compiled) Index(col *expr.Column) (int, bool) {
	if i, ok := c.colIndex[col]; ok {
		return i, true
	}
	for _, l := range expr.Lineage(col) {
		if i, ok := c.colIndex[l]; ok {
			return i, true
		}
	}
	return 0, false
}

// Args returns the positional arguments of the statement. Parameter values
// are looked up by name in params; a statement compiled WithRows takes one
// map per row. Client side defaults of Prefetch columns are evaluated when
// absent and stored into the given maps.
func (c *Compiled) Args(params ...map[string]any) ([]any, error) {
	if len(params) == 0 {
		params = []map[string]any{{}}
	}
	if c.rows > 1 && len(params) != c.rows {
		return nil, strata.NewInvalidRequestError("statement expects %d parameter sets, got %d", c.rows, len(params))
	}
	args := make([]any, len(c.binds))
	for i, b := range c.binds {
		row := params[0]
		if b.row < len(params) {
			row = params[b.row]
		}
		v, ok := row[b.name]
		switch {
		case ok:
		case b.def != nil:
			v = b.def.Eval()
			if row != nil {
				row[b.name] = v
			}
		case !b.param.Required:
			v = b.param.Value
		default:
			return nil, strata.NewInvalidRequestError("a value is required for bind parameter %q", b.name)
		}
		bv, err := b.param.Type().Bind(v)
		if err != nil {
			return nil, fmt.Errorf("bind parameter %q: %w", b.name, err)
		}
		args[i] = bv
	}
	return args, nil
}

// Compiler holds the state of one compilation. Dialect hooks receive it to
// render nested elements.
type Compiler struct {
	d       Dialect
	caps    dialect.Capabilities
	prep    *Preparer
	opts    options
	out     *Compiled
	names   map[string]*expr.BindParam
	pnames  map[*expr.BindParam]string
	anon    map[expr.FromClause]string
	anonSeq map[string]int
	stack   []frame
	row     int
}

type frame struct {
	froms map[expr.FromClause]bool
}

// Compile renders a statement for the given dialect.
func Compile(stmt expr.Element, d Dialect, opts ...Option) (*Compiled, error) {
	c := &Compiler{
		d:       d,
		caps:    d.Capabilities(),
		prep:    d.Preparer(),
		names:   make(map[string]*expr.BindParam),
		pnames:  make(map[*expr.BindParam]string),
		anon:    make(map[expr.FromClause]string),
		anonSeq: make(map[string]int),
		out:     &Compiled{Statement: stmt, Dialect: d, colIndex: make(map[*expr.Column]int)},
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	var (
		text string
		err  error
	)
	switch s := stmt.(type) {
	case *expr.SelectStmt:
		text, err = c.visitSelect(s, true)
	case *expr.InsertStmt:
		text, err = c.visitInsert(s)
	case *expr.UpdateStmt:
		text, err = c.visitUpdate(s)
	case *expr.DeleteStmt:
		text, err = c.visitDelete(s)
	default:
		text, err = c.Process(stmt)
	}
	if err != nil {
		return nil, err
	}
	c.out.SQL = text
	if c.out.rows == 0 {
		c.out.rows = 1
	}
	return c.out, nil
}

// Dialect returns the dialect being compiled for.
func (c *Compiler) Dialect() Dialect { return c.d }

// Process renders an element at top level.
func (c *Compiler) Process(e expr.Element) (string, error) {
	return c.process(e, expr.OpNone)
}

func (c *Compiler) errorf(format string, args ...any) error {
	return strata.NewCompileError(c.d.Name(), format, args...)
}

func (c *Compiler) process(e expr.Element, against expr.Op) (string, error) {
	switch x := e.(type) {
	case nil:
		return "", c.errorf("unexpected nil element")
	case *expr.Column:
		return c.columnSQL(x, false), nil
	case *expr.BindParam:
		return c.bindParam(x), nil
	case expr.Null:
		return "NULL", nil
	case expr.Bool:
		return c.d.BoolLiteral(bool(x)), nil
	case *expr.Binary:
		return c.visitBinary(x)
	case *expr.Unary:
		return c.visitUnary(x)
	case *expr.ClauseList:
		return c.visitClauseList(x)
	case *expr.Grouping:
		s, err := c.process(x.Elem, expr.OpNone)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil
	case *expr.Label:
		return c.grouped(x.Elem, expr.OpAs)
	case *expr.Function:
		return c.visitFunction(x)
	case *expr.OverExpr:
		return c.visitOver(x)
	case *expr.CastExpr:
		s, err := c.process(x.Elem, expr.OpNone)
		if err != nil {
			return "", err
		}
		t, err := c.d.TypeDDL(x.To, false)
		if err != nil {
			return "", err
		}
		return "CAST(" + s + " AS " + t + ")", nil
	case *expr.CaseExpr:
		return c.visitCase(x)
	case *expr.TextClause:
		return c.visitText(x), nil
	case *expr.ScalarSelect:
		s, err := c.visitSelect(x.Select, false)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil
	case *expr.SelectStmt:
		s, err := c.visitSelect(x, false)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil
	case expr.FromClause:
		return c.visitFrom(x)
	}
	return "", c.errorf("unsupported element %T", e)
}

// grouped renders e as an operand of against, adding parentheses when e
// binds weaker.
func (c *Compiler) grouped(e expr.Element, against expr.Op) (string, error) {
	s, err := c.process(e, against)
	if err != nil {
		return "", err
	}
	if needsGroup(e, against) {
		return "(" + s + ")", nil
	}
	return s, nil
}

func needsGroup(e expr.Element, against expr.Op) bool {
	switch x := e.(type) {
	case *expr.Binary:
		return expr.NeedsGrouping(x.Op, against)
	case *expr.ClauseList:
		return len(x.Clauses) > 1 && x.Op != expr.OpComma && expr.NeedsGrouping(x.Op, against)
	case *expr.Unary:
		return x.Op != expr.OpNone && expr.NeedsGrouping(x.Op, against)
	}
	return false
}

func (c *Compiler) visitBinary(b *expr.Binary) (string, error) {
	left, err := c.grouped(b.Left, b.Op)
	if err != nil {
		return "", err
	}
	var right string
	switch r := b.Right.(type) {
	case *expr.ClauseList:
		if b.Op == expr.OpBetween && len(r.Clauses) == 2 {
			lo, err := c.grouped(r.Clauses[0], expr.OpAnd)
			if err != nil {
				return "", err
			}
			hi, err := c.grouped(r.Clauses[1], expr.OpAnd)
			if err != nil {
				return "", err
			}
			right = lo + " AND " + hi
			break
		}
		right, err = c.grouped(r, b.Op)
	default:
		right, err = c.grouped(r, b.Op)
	}
	if err != nil {
		return "", err
	}
	return left + " " + b.Op.String() + " " + right, nil
}

func (c *Compiler) visitUnary(u *expr.Unary) (string, error) {
	if u.Op != expr.OpNone {
		s, err := c.grouped(u.Elem, u.Op)
		if err != nil {
			return "", err
		}
		return u.Op.String() + " " + s, nil
	}
	s, err := c.grouped(u.Elem, expr.OpNone)
	if err != nil {
		return "", err
	}
	if u.Modifier != expr.OpNone {
		s += " " + u.Modifier.String()
	}
	return s, nil
}

func (c *Compiler) visitClauseList(l *expr.ClauseList) (string, error) {
	sep := " " + l.Op.String() + " "
	if l.Op == expr.OpComma {
		sep = ", "
	}
	parts := make([]string, 0, len(l.Clauses))
	for _, e := range l.Clauses {
		s, err := c.grouped(e, l.Op)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep), nil
}

// niladic functions are rendered without parentheses.
var niladic = map[string]bool{
	"CURRENT_DATE":      true,
	"CURRENT_TIME":      true,
	"CURRENT_TIMESTAMP": true,
	"CURRENT_USER":      true,
	"LOCALTIME":         true,
	"LOCALTIMESTAMP":    true,
	"SESSION_USER":      true,
	"USER":              true,
}

func (c *Compiler) visitFunction(fn *expr.Function) (string, error) {
	if len(fn.Args) == 0 && niladic[strings.ToUpper(fn.Name)] {
		return fn.Name, nil
	}
	args := make([]string, len(fn.Args))
	for i, a := range fn.Args {
		s, err := c.grouped(a, expr.OpComma)
		if err != nil {
			return "", err
		}
		args[i] = s
	}
	return fn.Name + "(" + strings.Join(args, ", ") + ")", nil
}

func (c *Compiler) visitOver(o *expr.OverExpr) (string, error) {
	fn, err := c.visitFunction(o.Func)
	if err != nil {
		return "", err
	}
	order, err := c.list(o.OrderBy)
	if err != nil {
		return "", err
	}
	return fn + " OVER (ORDER BY " + order + ")", nil
}

func (c *Compiler) visitCase(x *expr.CaseExpr) (string, error) {
	var sb strings.Builder
	sb.WriteString("CASE")
	for _, w := range x.Whens {
		cond, err := c.process(w.Cond, expr.OpNone)
		if err != nil {
			return "", err
		}
		res, err := c.process(w.Result, expr.OpNone)
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHEN " + cond + " THEN " + res)
	}
	if x.Else != nil {
		els, err := c.process(x.Else, expr.OpNone)
		if err != nil {
			return "", err
		}
		sb.WriteString(" ELSE " + els)
	}
	sb.WriteString(" END")
	return sb.String(), nil
}

// visitText replaces :name markers with parameters. A doubled colon and a
// backslash escaped colon are kept as a literal colon.
func (c *Compiler) visitText(t *expr.TextClause) string {
	var (
		sb     strings.Builder
		params = make(map[string]*expr.BindParam)
		s      = t.SQL
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s) && s[i+1] == ':':
			sb.WriteByte(':')
			i++
		case ch == ':' && i+1 < len(s) && s[i+1] == ':':
			sb.WriteString("::")
			i++
		case ch == ':' && i+1 < len(s) && isNameStart(s[i+1]):
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			p, ok := params[name]
			if !ok {
				p = &expr.BindParam{Key: name, Required: true}
				if v, has := t.Binds[name]; has {
					p = &expr.BindParam{Key: name, Value: v}
				}
				params[name] = p
			}
			sb.WriteString(c.bindParam(p))
			i = j - 1
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isNameChar(b byte) bool { return isNameStart(b) || (b >= '0' && b <= '9') }

// bindParam registers p and returns its placeholder.
func (c *Compiler) bindParam(p *expr.BindParam) string {
	name, ok := c.pnames[p]
	if !ok {
		name = p.Key
		if prev, taken := c.names[name]; taken && (p.Unique || prev.Unique) {
			for i := 1; ; i++ {
				cand := p.Key + "_" + strconv.Itoa(i)
				if _, taken := c.names[cand]; !taken {
					name = cand
					break
				}
			}
		}
		c.names[name] = p
		c.pnames[p] = name
	}
	c.out.binds = append(c.out.binds, bind{param: p, name: name, row: c.row})
	return c.placeholder()
}

func (c *Compiler) placeholder() string {
	switch c.caps.Paramstyle {
	case dialect.Dollar:
		return "$" + strconv.Itoa(len(c.out.binds))
	case dialect.AtP:
		return "@p" + strconv.Itoa(len(c.out.binds))
	}
	return "?"
}

// columnSQL renders a column reference, qualified by its table or alias
// unless plain is set.
func (c *Compiler) columnSQL(col *expr.Column, plain bool) string {
	if col.IsLiteral() {
		return col.Name
	}
	name := c.prep.Quote(col.Name)
	if plain || col.From() == nil {
		return name
	}
	switch f := col.From().(type) {
	case *expr.Table:
		return c.prep.Quote(f.Name) + "." + name
	case *expr.AliasClause:
		return c.prep.Quote(c.aliasName(f)) + "." + name
	}
	return name
}

// aliasName returns the name of a, generating one for anonymous aliases.
func (c *Compiler) aliasName(a *expr.AliasClause) string {
	if a.Name != "" {
		return a.Name
	}
	if n, ok := c.anon[a]; ok {
		return n
	}
	prefix := "anon"
	if t, ok := a.Original().(*expr.Table); ok {
		prefix = t.Name
	}
	c.anonSeq[prefix]++
	n := prefix + "_" + strconv.Itoa(c.anonSeq[prefix])
	c.anon[a] = n
	return n
}

// labelName truncates labels longer than the dialect allows.
func (c *Compiler) labelName(name string) string {
	limit := c.caps.MaxIdentifierLength
	if limit <= 0 || len(name) <= limit {
		return c.prep.Quote(name)
	}
	c.anonSeq["label"]++
	suffix := "_" + strconv.Itoa(c.anonSeq["label"])
	return c.prep.Quote(name[:limit-len(suffix)] + suffix)
}

func (c *Compiler) list(elems []expr.Element) (string, error) {
	parts := make([]string, len(elems))
	for i, e := range elems {
		s, err := c.grouped(e, expr.OpComma)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}

func (c *Compiler) visitFrom(f expr.FromClause) (string, error) {
	switch x := f.(type) {
	case *expr.Table:
		return c.prep.Quote(x.Name), nil
	case *expr.AliasClause:
		name := c.prep.Quote(c.aliasName(x))
		switch of := x.Original().(type) {
		case *expr.Table:
			return c.prep.Quote(of.Name) + " AS " + name, nil
		case *expr.SelectStmt:
			s, err := c.visitSelect(of, false)
			if err != nil {
				return "", err
			}
			return "(" + s + ") AS " + name, nil
		case *expr.AliasClause:
			inner, err := c.visitFrom(of)
			if err != nil {
				return "", err
			}
			return "(SELECT * FROM " + inner + ") AS " + name, nil
		}
		return "", c.errorf("cannot render alias of %T", x.Original())
	case *expr.JoinClause:
		left, err := c.visitFrom(x.Left)
		if err != nil {
			return "", err
		}
		right, err := c.visitFrom(x.Right)
		if err != nil {
			return "", err
		}
		on, err := x.Condition()
		if err != nil {
			return "", err
		}
		cond, err := c.process(on, expr.OpNone)
		if err != nil {
			return "", err
		}
		kw := " JOIN "
		if x.Outer {
			kw = " LEFT OUTER JOIN "
		}
		return left + kw + right + " ON " + cond, nil
	}
	return "", c.errorf("unsupported FROM clause %T", f)
}
