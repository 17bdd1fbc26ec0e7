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

// Dialect holds the rendering rules of one database. The hooks are called
// by the Compiler at fixed points of statement rendering.
type Dialect interface {
	Name() string
	Capabilities() dialect.Capabilities
	Preparer() *Preparer
	// TypeDDL renders a column type for CREATE TABLE.
	TypeDDL(t types.Type, autoincrement bool) (string, error)
	// AutoincrementDDL returns the suffix marking a generated column.
	AutoincrementDDL() string
	BoolLiteral(v bool) string
	// SelectPrecolumns returns text inserted between SELECT and the
	// column list.
	SelectPrecolumns(s *expr.SelectStmt) (string, error)
	// LimitClause returns the trailing LIMIT/OFFSET text.
	LimitClause(s *expr.SelectStmt) string
	ForUpdateClause() string
	// RewriteSelect may replace a statement before it is rendered. It
	// returns nil to keep the statement.
	RewriteSelect(s *expr.SelectStmt) (*expr.SelectStmt, error)
	// ReturningClause renders the clause fetching cols from modified rows.
	// output is placed before VALUES or WHERE; suffix is appended.
	ReturningClause(c *Compiler, cols []*expr.Column) (output, suffix string, err error)
	// EmptyInsert renders an INSERT with no column values.
	EmptyInsert(table string) (string, error)
	SavepointSQL(name string) string
	RollbackToSavepointSQL(name string) string
	// ReleaseSavepointSQL returns "" when the database has no release.
	ReleaseSavepointSQL(name string) string
	// IdentityInsertSQL toggles explicit values for identity columns.
	// It returns "" when not needed.
	IdentityInsertSQL(table string, on bool) string
}

// For returns the dialect with the given name. Unknown names get the
// SQLite dialect.
func For(name string) Dialect {
	switch name {
	case dialect.Postgres:
		return Postgres()
	case dialect.MySQL:
		return MySQL()
	case dialect.MSSQL:
		return MSSQL(true)
	default:
		return SQLite()
	}
}

// WithCapabilities returns d with its capabilities replaced.
func WithCapabilities(d Dialect, caps dialect.Capabilities) Dialect {
	return &overridden{Dialect: d, caps: caps}
}

type overridden struct {
	Dialect
	caps dialect.Capabilities
}

func (o *overridden) Capabilities() dialect.Capabilities { return o.caps }

func (o *overridden) EmptyInsert(table string) (string, error) {
	return emptyInsert(o, table)
}

// base implements the rules shared by most databases. Dialects embed it
// and override what differs.
type base struct {
	name string
	caps dialect.Capabilities
	prep *Preparer
}

func (b *base) Name() string { return b.name }
func (b *base) Capabilities() dialect.Capabilities { return b.caps }
func (b *base) Preparer() *Preparer { return b.prep }
func (b *base) AutoincrementDDL() string { return "" }
func (b *base) ForUpdateClause() string { return " FOR UPDATE" }

func (b *base) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (b *base) TypeDDL(t types.Type, _ bool) (string, error) {
	switch t.Kind {
	case types.KindInteger:
		return "INTEGER", nil
	case types.KindBigInteger:
		return "BIGINT", nil
	case types.KindSmallInteger:
		return "SMALLINT", nil
	case types.KindString:
		if t.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", t.Length), nil
		}
		return "VARCHAR", nil
	case types.KindText:
		return "TEXT", nil
	case types.KindBoolean:
		return "BOOLEAN", nil
	case types.KindFloat:
		return "FLOAT", nil
	case types.KindNumeric:
		if t.Precision > 0 {
			return fmt.Sprintf("NUMERIC(%d, %d)", t.Precision, t.Scale), nil
		}
		return "NUMERIC", nil
	case types.KindDate:
		return "DATE", nil
	case types.KindDateTime:
		return "DATETIME", nil
	case types.KindTime:
		return "TIME", nil
	case types.KindBinary, types.KindMsgPack:
		return "BLOB", nil
	case types.KindUUID:
		return "CHAR(36)", nil
	case types.KindJSON:
		return "TEXT", nil
	case types.KindEnum:
		return fmt.Sprintf("VARCHAR(%d)", enumLength(t)), nil
	}
	return "", strata.NewCompileError(b.name, "no DDL for column type %s", t)
}

func (b *base) SelectPrecolumns(s *expr.SelectStmt) (string, error) {
	if s.IsDistinct() {
		return "DISTINCT ", nil
	}
	return "", nil
}

func (b *base) LimitClause(s *expr.SelectStmt) string {
	var sb strings.Builder
	if n, ok := s.LimitValue(); ok {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(n))
	}
	if n, ok := s.OffsetValue(); ok {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(n))
	}
	return sb.String()
}

func (b *base) RewriteSelect(*expr.SelectStmt) (*expr.SelectStmt, error) { return nil, nil }

func (b *base) ReturningClause(c *Compiler, cols []*expr.Column) (string, string, error) {
	if !b.caps.InsertReturning {
		return "", "", strata.NewCompileError(b.name, "RETURNING is not supported")
	}
	list := make([]string, len(cols))
	for i, col := range cols {
		list[i] = c.columnSQL(col, false)
	}
	return "", " RETURNING " + strings.Join(list, ", "), nil
}

func (b *base) EmptyInsert(table string) (string, error) { return emptyInsert(b, table) }

func (b *base) SavepointSQL(name string) string {
	return "SAVEPOINT " + b.prep.Quote(name)
}

func (b *base) RollbackToSavepointSQL(name string) string {
	return "ROLLBACK TO SAVEPOINT " + b.prep.Quote(name)
}

func (b *base) ReleaseSavepointSQL(name string) string {
	return "RELEASE SAVEPOINT " + b.prep.Quote(name)
}

func (b *base) IdentityInsertSQL(string, bool) string { return "" }

func emptyInsert(d Dialect, table string) (string, error) {
	caps := d.Capabilities()
	switch {
	case caps.DefaultValues:
		return "INSERT INTO " + table + " DEFAULT VALUES", nil
	case caps.EmptyInsert:
		return "INSERT INTO " + table + " () VALUES ()", nil
	}
	return "", strata.NewCompileError(d.Name(), "INSERT with no values is not supported")
}

func enumLength(t types.Type) int {
	n := 1
	for _, e := range t.Enums {
		if len(e) > n {
			n = len(e)
		}
	}
	return n
}
