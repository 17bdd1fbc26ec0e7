package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql/compiler"
	"github.com/syssam/strata/dialect/sql/expr"
)

// CreateStatements returns the DDL that creates every table of md,
// referenced tables first, followed by indexes and the foreign keys that
// are added with ALTER TABLE.
func CreateStatements(md *expr.MetaData, d compiler.Dialect) ([]string, error) {
	tables, err := md.SortedTables()
	if err != nil {
		return nil, err
	}
	var stmts, alters []string
	for _, t := range tables {
		stmt, err := compiler.CreateTable(t, d)
		if err != nil {
			return nil, fmt.Errorf("schema: table %s: %w", t.Name, err)
		}
		stmts = append(stmts, stmt)
		stmts = append(stmts, compiler.CreateIndexes(t, d)...)
		add, err := compiler.AddForeignKeys(t, d)
		if err != nil {
			return nil, err
		}
		alters = append(alters, add...)
	}
	return append(stmts, alters...), nil
}

// DropStatements returns the DDL that drops every table of md, dependent
// tables first. Foreign keys added with ALTER TABLE are dropped before
// any table.
func DropStatements(md *expr.MetaData, d compiler.Dialect) ([]string, error) {
	tables, err := md.SortedTables()
	if err != nil {
		return nil, err
	}
	var stmts []string
	if d.Name() != dialect.SQLite {
		prep := d.Preparer()
		verb := "CONSTRAINT"
		if d.Name() == dialect.MySQL {
			verb = "FOREIGN KEY"
		}
		for _, t := range tables {
			for _, fk := range t.ForeignKeys() {
				if fk.UseAlter && fk.Name != "" {
					stmts = append(stmts, "ALTER TABLE "+prep.Quote(t.Name)+" DROP "+verb+" "+prep.Quote(fk.Name))
				}
			}
		}
	}
	for i := len(tables) - 1; i >= 0; i-- {
		stmts = append(stmts, compiler.DropTable(tables[i], d))
	}
	return stmts, nil
}

// CreateAll creates the tables of md through drv.
func CreateAll(ctx context.Context, drv dialect.ExecQuerier, md *expr.MetaData, d compiler.Dialect) error {
	stmts, err := CreateStatements(md, d)
	if err != nil {
		return err
	}
	return execAll(ctx, drv, stmts)
}

// DropAll drops the tables of md through drv.
func DropAll(ctx context.Context, drv dialect.ExecQuerier, md *expr.MetaData, d compiler.Dialect) error {
	stmts, err := DropStatements(md, d)
	if err != nil {
		return err
	}
	return execAll(ctx, drv, stmts)
}

func execAll(ctx context.Context, drv dialect.ExecQuerier, stmts []string) error {
	for _, stmt := range stmts {
		slog.DebugContext(ctx, "schema: exec", "sql", stmt)
		if err := drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}
