package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
)

type sqlite struct{ base }

// SQLite returns the SQLite dialect.
func SQLite() Dialect {
	return &sqlite{base{
		name: dialect.SQLite,
		caps: dialect.CapabilitiesOf(dialect.SQLite),
		prep: NewPreparer(`"`, `"`, "abort", "autoincrement", "glob", "regexp", "vacuum"),
	}}
}

// LimitClause renders LIMIT -1 when only an offset is given.
func (d *sqlite) LimitClause(s *expr.SelectStmt) string {
	limit, hasLimit := s.LimitValue()
	offset, hasOffset := s.OffsetValue()
	switch {
	case hasLimit && hasOffset:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case hasLimit:
		return fmt.Sprintf(" LIMIT %d", limit)
	case hasOffset:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func (d *sqlite) ForUpdateClause() string { return "" }

type postgres struct{ base }

// Postgres returns the PostgreSQL dialect.
func Postgres() Dialect {
	return &postgres{base{
		name: dialect.Postgres,
		caps: dialect.CapabilitiesOf(dialect.Postgres),
		prep: NewPreparer(`"`, `"`, "analyse", "analyze", "array", "localtime", "localtimestamp", "only", "placing", "returning", "symmetric", "window"),
	}}
}

func (d *postgres) BoolLiteral(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func (d *postgres) TypeDDL(t types.Type, autoincrement bool) (string, error) {
	switch t.Kind {
	case types.KindInteger, types.KindSmallInteger:
		if autoincrement {
			return "SERIAL", nil
		}
	case types.KindBigInteger:
		if autoincrement {
			return "BIGSERIAL", nil
		}
	case types.KindFloat:
		return "DOUBLE PRECISION", nil
	case types.KindDateTime:
		if t.Timezone {
			return "TIMESTAMP WITH TIME ZONE", nil
		}
		return "TIMESTAMP WITHOUT TIME ZONE", nil
	case types.KindBinary, types.KindMsgPack:
		return "BYTEA", nil
	case types.KindUUID:
		return "UUID", nil
	case types.KindJSON:
		return "JSONB", nil
	}
	return d.base.TypeDDL(t, autoincrement)
}

type mysql struct{ base }

// MySQL returns the MySQL dialect.
func MySQL() Dialect {
	return &mysql{base{
		name: dialect.MySQL,
		caps: dialect.CapabilitiesOf(dialect.MySQL),
		prep: NewPreparer("`", "`", "accessible", "change", "database", "databases", "div", "dual", "interval", "keys", "kill", "rank", "range", "read", "rows", "write"),
	}}
}

// maxRows stands in for "no limit" when MySQL is given only an offset.
const maxRows = "18446744073709551615"

// LimitClause renders MySQL's LIMIT offset, count form.
func (d *mysql) LimitClause(s *expr.SelectStmt) string {
	limit, hasLimit := s.LimitValue()
	offset, hasOffset := s.OffsetValue()
	switch {
	case hasOffset && hasLimit:
		return fmt.Sprintf(" LIMIT %d, %d", offset, limit)
	case hasOffset:
		return fmt.Sprintf(" LIMIT %d, %s", offset, maxRows)
	case hasLimit:
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}

func (d *mysql) AutoincrementDDL() string { return " AUTO_INCREMENT" }

func (d *mysql) TypeDDL(t types.Type, autoincrement bool) (string, error) {
	switch t.Kind {
	case types.KindString:
		if t.Length == 0 {
			return "VARCHAR(255)", nil
		}
	case types.KindBoolean:
		return "BOOL", nil
	case types.KindJSON:
		return "JSON", nil
	case types.KindBinary:
		if t.Length > 0 {
			return fmt.Sprintf("VARBINARY(%d)", t.Length), nil
		}
	case types.KindEnum:
		quoted := make([]string, len(t.Enums))
		for i, e := range t.Enums {
			quoted[i] = d.prep.Literal(e)
		}
		return "ENUM(" + strings.Join(quoted, ",") + ")", nil
	}
	return d.base.TypeDDL(t, autoincrement)
}

type mssql struct{ base }

// MSSQL returns the SQL Server dialect. Without window functions, SELECT
// statements with an OFFSET cannot be rendered.
func MSSQL(windowFunctions bool) Dialect {
	caps := dialect.CapabilitiesOf(dialect.MSSQL)
	caps.WindowFunctions = windowFunctions
	return &mssql{base{
		name: dialect.MSSQL,
		caps: caps,
		prep: NewPreparer("[", "]", "backup", "browse", "bulk", "clustered", "file", "identity", "identity_insert", "percent", "plan", "proc", "rule", "top", "tran"),
	}}
}

// rowNumberLabel names the ROW_NUMBER column of an offset wrapper.
const rowNumberLabel = "mssql_rn"

// SelectPrecolumns renders TOP for a limit without offset.
func (d *mssql) SelectPrecolumns(s *expr.SelectStmt) (string, error) {
	pre, _ := d.base.SelectPrecolumns(s)
	limit, hasLimit := s.LimitValue()
	_, hasOffset := s.OffsetValue()
	switch {
	case hasOffset && !d.caps.WindowFunctions:
		return "", strata.NewCompileError(d.name, "LIMIT with an offset requires window functions")
	case hasLimit && !hasOffset:
		pre += "TOP " + strconv.Itoa(limit) + " "
	}
	return pre, nil
}

func (d *mssql) LimitClause(*expr.SelectStmt) string { return "" }

func (d *mssql) ForUpdateClause() string { return "" }

// RewriteSelect turns an offset query into a filter over ROW_NUMBER().
// The ordering comes from ORDER BY, or from the primary key of the
// selected tables when there is none.
func (d *mssql) RewriteSelect(s *expr.SelectStmt) (*expr.SelectStmt, error) {
	offset, hasOffset := s.OffsetValue()
	if !hasOffset || !d.caps.WindowFunctions {
		return nil, nil
	}
	order := s.OrderByClauses()
	if len(order) == 0 {
		order = primaryKeyOrder(s)
	}
	if len(order) == 0 {
		return nil, strata.NewCompileError(d.name, "an ORDER BY is required when using an OFFSET")
	}
	limit, hasLimit := s.LimitValue()
	inner := s.Column(expr.RowNumber(order...).Label(rowNumberLabel)).OrderBy().Limit(-1).Offset(-1).Alias("")
	var cols []expr.Element
	for _, c := range inner.Columns() {
		if c.Name != rowNumberLabel {
			cols = append(cols, c)
		}
	}
	rn := expr.LiteralColumn(rowNumberLabel, types.Integer())
	outer := expr.Select(cols...).
		From(inner).
		Where(expr.GT(rn, expr.LiteralColumn(strconv.Itoa(offset), types.Integer()))).
		OrderBy(rn)
	if hasLimit {
		outer = outer.Where(expr.LE(rn, expr.LiteralColumn(strconv.Itoa(limit+offset), types.Integer())))
	}
	return outer, nil
}

func primaryKeyOrder(s *expr.SelectStmt) []expr.Element {
	var order []expr.Element
	froms := expr.FromObjects(append(append([]expr.Element(nil), s.Columns()...), s.WhereClause())...)
	froms = append(froms, s.Froms()...)
	seen := make(map[*expr.Column]bool)
	for _, f := range froms {
		for _, c := range f.Columns() {
			if c.IsPrimaryKey() && !seen[c] {
				seen[c] = true
				order = append(order, c)
			}
		}
	}
	return order
}

// ReturningClause renders OUTPUT inserted.col.
func (d *mssql) ReturningClause(_ *Compiler, cols []*expr.Column) (string, string, error) {
	list := make([]string, len(cols))
	for i, c := range cols {
		list[i] = "inserted." + d.prep.Quote(c.Name)
	}
	return " OUTPUT " + strings.Join(list, ", "), "", nil
}

func (d *mssql) AutoincrementDDL() string { return " IDENTITY(1,1)" }

func (d *mssql) TypeDDL(t types.Type, autoincrement bool) (string, error) {
	switch t.Kind {
	case types.KindString:
		if t.Length > 0 {
			return fmt.Sprintf("NVARCHAR(%d)", t.Length), nil
		}
		return "NVARCHAR(max)", nil
	case types.KindText, types.KindJSON:
		return "NVARCHAR(max)", nil
	case types.KindBoolean:
		return "BIT", nil
	case types.KindDateTime:
		if t.Timezone {
			return "DATETIMEOFFSET", nil
		}
		return "DATETIME2", nil
	case types.KindBinary, types.KindMsgPack:
		if t.Length > 0 {
			return fmt.Sprintf("VARBINARY(%d)", t.Length), nil
		}
		return "VARBINARY(max)", nil
	case types.KindUUID:
		return "UNIQUEIDENTIFIER", nil
	}
	return d.base.TypeDDL(t, autoincrement)
}

func (d *mssql) SavepointSQL(name string) string {
	return "SAVE TRANSACTION " + d.prep.Quote(name)
}

func (d *mssql) RollbackToSavepointSQL(name string) string {
	return "ROLLBACK TRANSACTION " + d.prep.Quote(name)
}

func (d *mssql) ReleaseSavepointSQL(string) string { return "" }

func (d *mssql) IdentityInsertSQL(table string, on bool) string {
	if on {
		return "SET IDENTITY_INSERT " + table + " ON"
	}
	return "SET IDENTITY_INSERT " + table + " OFF"
}
