package compiler

import (
	"fmt"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect/sql/expr"
)

// CreateTable renders CREATE TABLE for t. Foreign keys marked UseAlter are
// left to AddForeignKeys, except on SQLite which cannot add them later.
func CreateTable(t *expr.Table, d Dialect) (string, error) {
	prep := d.Preparer()
	var lines []string
	for _, col := range t.Columns() {
		spec, err := columnSpec(col, d)
		if err != nil {
			return "", err
		}
		lines = append(lines, spec)
	}
	if pk := t.PrimaryKey(); len(pk) > 0 {
		lines = append(lines, "PRIMARY KEY ("+quoteColumns(prep, pk)+")")
	}
	for _, col := range t.Columns() {
		if col.IsUnique() {
			lines = append(lines, "UNIQUE ("+prep.Quote(col.Name)+")")
		}
	}
	for _, cols := range t.UniqueConstraints() {
		lines = append(lines, "UNIQUE ("+quoteColumns(prep, cols)+")")
	}
	for _, fk := range t.ForeignKeys() {
		if fk.UseAlter && d.Name() != "sqlite" {
			continue
		}
		spec, err := foreignKeySpec(fk, d)
		if err != nil {
			return "", err
		}
		lines = append(lines, spec)
	}
	return "CREATE TABLE " + prep.Quote(t.Name) + " (\n\t" + strings.Join(lines, ",\n\t") + "\n)", nil
}

// DropTable renders DROP TABLE for t.
func DropTable(t *expr.Table, d Dialect) string {
	return "DROP TABLE " + d.Preparer().Quote(t.Name)
}

// CreateIndexes renders CREATE INDEX for every indexed column of t.
func CreateIndexes(t *expr.Table, d Dialect) []string {
	prep := d.Preparer()
	var stmts []string
	for _, col := range t.Columns() {
		if !col.HasIndex() {
			continue
		}
		name := fmt.Sprintf("ix_%s_%s", t.Name, col.Name)
		stmts = append(stmts, "CREATE INDEX "+prep.Quote(name)+" ON "+prep.Quote(t.Name)+" ("+prep.Quote(col.Name)+")")
	}
	return stmts
}

// AddForeignKeys renders ALTER TABLE statements for the UseAlter foreign
// keys of t.
func AddForeignKeys(t *expr.Table, d Dialect) ([]string, error) {
	if d.Name() == "sqlite" {
		return nil, nil
	}
	prep := d.Preparer()
	var stmts []string
	for _, fk := range t.ForeignKeys() {
		if !fk.UseAlter {
			continue
		}
		if fk.Name == "" {
			return nil, strata.NewCompileError(d.Name(), "foreign key %s.%s emitted with ALTER must be named", t.Name, fk.Parent.Name)
		}
		spec, err := foreignKeySpec(fk, d)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, "ALTER TABLE "+prep.Quote(t.Name)+" ADD "+spec)
	}
	return stmts, nil
}

func columnSpec(col *expr.Column, d Dialect) (string, error) {
	autoinc := col.IsAutoincrement()
	typ, err := d.TypeDDL(col.Type(), autoinc)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", col.Name, err)
	}
	spec := d.Preparer().Quote(col.Name) + " " + typ
	if def := col.ServerDefaultSQL(); def != "" {
		spec += " DEFAULT " + def
	}
	if !col.IsNullable() {
		spec += " NOT NULL"
	}
	if autoinc {
		spec += d.AutoincrementDDL()
	}
	return spec, nil
}

func foreignKeySpec(fk *expr.ForeignKey, d Dialect) (string, error) {
	prep := d.Preparer()
	target, err := fk.Column()
	if err != nil {
		return "", err
	}
	if target.Table() == nil {
		return "", strata.NewCompileError(d.Name(), "foreign key %s references a column without a table", fk.Target())
	}
	var sb strings.Builder
	if fk.Name != "" {
		sb.WriteString("CONSTRAINT " + prep.Quote(fk.Name) + " ")
	}
	sb.WriteString("FOREIGN KEY(" + prep.Quote(fk.Parent.Name) + ") REFERENCES ")
	sb.WriteString(prep.Quote(target.Table().Name) + " (" + prep.Quote(target.Name) + ")")
	if fk.OnDelete != "" {
		sb.WriteString(" ON DELETE " + string(fk.OnDelete))
	}
	if fk.OnUpdate != "" {
		sb.WriteString(" ON UPDATE " + string(fk.OnUpdate))
	}
	return sb.String(), nil
}

func quoteColumns(prep *Preparer, cols []*expr.Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = prep.Quote(c.Name)
	}
	return strings.Join(names, ", ")
}
