package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql/compiler"
	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/schema"
)

var dialects = []string{dialect.SQLite, dialect.Postgres, dialect.MySQL, dialect.MSSQL}

func loadCatalog(path string) (*expr.MetaData, error) {
	md, err := schema.LoadFile(path)
	if err != nil {
		return nil, commandError("load catalog", err)
	}
	return md, nil
}

// NewDDLCommand returns the ddl command.
func NewDDLCommand(_ *RootOptions) *cobra.Command {
	var (
		name string
		drop bool
	)
	cmd := &cobra.Command{
		Use:   "ddl <catalog.yaml>",
		Short: "Print the CREATE (or DROP) statements of a catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(dialects, name) {
				return commandError(fmt.Sprintf("unsupported dialect %q", name), nil)
			}
			md, err := loadCatalog(args[0])
			if err != nil {
				return err
			}
			return writeDDL(cmd.OutOrStdout(), md, compiler.For(name), drop)
		},
	}
	cmd.Flags().StringVarP(&name, "dialect", "d", dialect.SQLite, "target dialect ("+strings.Join(dialects, "|")+")")
	cmd.Flags().BoolVar(&drop, "drop", false, "print DROP statements instead")
	return cmd
}

func writeDDL(w io.Writer, md *expr.MetaData, d compiler.Dialect, drop bool) error {
	stmts, err := schema.CreateStatements(md, d)
	if drop {
		stmts, err = schema.DropStatements(md, d)
	}
	if err != nil {
		return commandError("render ddl", err)
	}
	for i, stmt := range stmts {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s;\n", stmt)
	}
	return nil
}

// NewValidateCommand returns the validate command.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog.yaml>",
		Short: "Check that every table of a catalog can be created and mapped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := loadCatalog(args[0])
			if err != nil {
				return err
			}
			return writeResult(opts, cmd.OutOrStdout(), schema.ValidateCatalog(md))
		},
	}
}

// NewDiffCommand returns the diff command.
func NewDiffCommand(opts *RootOptions) *cobra.Command {
	var dropColumn, dropTable, notNull bool
	cmd := &cobra.Command{
		Use:   "diff <current.yaml> <desired.yaml>",
		Short: "Report the breaking changes between two versions of a catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := loadCatalog(args[0])
			if err != nil {
				return err
			}
			desired, err := loadCatalog(args[1])
			if err != nil {
				return err
			}
			var vopts []schema.ValidateOption
			if dropColumn {
				vopts = append(vopts, schema.AllowDropColumn())
			}
			if dropTable {
				vopts = append(vopts, schema.AllowDropTable())
			}
			if notNull {
				vopts = append(vopts, schema.AllowNullToNotNull())
			}
			return writeResult(opts, cmd.OutOrStdout(), schema.ValidateDiff(current.Tables(), desired.Tables(), vopts...))
		},
	}
	cmd.Flags().BoolVar(&dropColumn, "allow-drop-column", false, "report dropped columns as warnings")
	cmd.Flags().BoolVar(&dropTable, "allow-drop-table", false, "report dropped tables as warnings")
	cmd.Flags().BoolVar(&notNull, "allow-null-to-not-null", false, "report new NOT NULL constraints as warnings")
	return cmd
}

// NewFmtCommand returns the fmt command.
func NewFmtCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fmt <catalog.yaml>",
		Short: "Print a catalog in canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := loadCatalog(args[0])
			if err != nil {
				return err
			}
			out, err := schema.Marshal(md)
			if err != nil {
				return commandError("marshal catalog", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
