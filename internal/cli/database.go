package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/orm"
)

// NewCreateCommand returns the create command.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	return databaseCommand(opts, "create", "Create the tables of a catalog in the configured database",
		func(ctx context.Context, e *orm.Engine, md *expr.MetaData) error { return e.CreateAll(ctx, md) })
}

// NewDropCommand returns the drop command.
func NewDropCommand(opts *RootOptions) *cobra.Command {
	return databaseCommand(opts, "drop", "Drop the tables of a catalog from the configured database",
		func(ctx context.Context, e *orm.Engine, md *expr.MetaData) error { return e.DropAll(ctx, md) })
}

func databaseCommand(_ *RootOptions, use, short string, run func(context.Context, *orm.Engine, *expr.MetaData) error) *cobra.Command {
	var config string
	cmd := &cobra.Command{
		Use:   use + " <catalog.yaml>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := loadCatalog(args[0])
			if err != nil {
				return err
			}
			cfg, err := orm.LoadConfig(config)
			if err != nil {
				return commandError("load config", err)
			}
			e, err := orm.Open(cfg)
			if err != nil {
				return commandError("open database", err)
			}
			defer e.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := run(ctx, e, md); err != nil {
				return commandError(use+" tables", err)
			}
			slog.Debug("catalog applied", "command", use, "dialect", cfg.Dialect, "tables", len(md.Tables()))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d table(s)\n", use, len(md.Tables()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&config, "config", "c", "strata.yaml", "database configuration file")
	return cmd
}
