package cli

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/spf13/cobra"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/store/migrations"
)

func (a *App) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				if err := migrations.Up(ctx, db); err != nil {
					return fmt.Errorf("%w: %w", backlog.ErrMigrationFailed, err)
				}
				return a.printVersion(ctx, cmd, db)
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					if err := migrations.Down(ctx, db); err != nil {
						return fmt.Errorf("%w: %w", backlog.ErrMigrationFailed, err)
					}
					return a.printVersion(ctx, cmd, db)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					return a.printVersion(ctx, cmd, db)
				})
			},
		},
	)
	return cmd
}

func (a *App) withDB(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	db, err := sql.Open("pgx", a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return fn(ctx, db)
}

func (a *App) printVersion(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
	v, err := migrations.Version(ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
