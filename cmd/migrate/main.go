// Command migrate применяет и откатывает схему postgres витрины.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "STOREFRONT_POSTGRES_DSN"
)

var errDSNRequired = errors.New(envPostgresDSN + " (or --dsn) is required")

// migrationStore: операции Store, которые нужны CLI.
type migrationStore interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
	Migrations(ctx context.Context) ([]postgres.MigrationInfo, error)
	Close() error
}

var openStore = func(ctx context.Context, dsn string) (migrationStore, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return store, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	dsn     string
	timeout time.Duration
}

// withStore открывает хранилище на время одной команды.
func (o *rootOptions) withStore(cmd *cobra.Command, fn func(context.Context, migrationStore) error) error {
	dsn := strings.TrimSpace(o.dsn)
	if dsn == "" {
		return errDSNRequired
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	store, err := openStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the storefront postgres schema",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv(envPostgresDSN), "PostgreSQL DSN (default from "+envPostgresDSN+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall deadline for the command")

	var upSteps, downSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store migrationStore) error {
				return migrateUp(ctx, store, upSteps, cmd.OutOrStdout())
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "migrations to apply (0 = all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store migrationStore) error {
				return migrateDown(ctx, store, downSteps, cmd.OutOrStdout())
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store migrationStore) error {
				return printStatus(ctx, store, cmd.OutOrStdout(), "migration status")
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List migrations and fail on checksum drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store migrationStore) error {
				return listMigrations(ctx, store, cmd.OutOrStdout())
			})
		},
	}

	root.AddCommand(up, down, status, list)
	return root
}

func migrateUp(ctx context.Context, store migrationStore, steps int, out io.Writer) error {
	if err := store.MigrateUp(ctx, steps); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return printStatus(ctx, store, out, "migrate up ok")
}

func migrateDown(ctx context.Context, store migrationStore, steps int, out io.Writer) error {
	if steps <= 0 {
		return fmt.Errorf("down needs a positive --steps, got %d", steps)
	}
	if err := store.MigrateDown(ctx, steps); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return printStatus(ctx, store, out, "migrate down ok")
}

func printStatus(ctx context.Context, store migrationStore, out io.Writer, prefix string) error {
	current, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d\n", prefix, current, applied)
	return nil
}

// listMigrations печатает таблицу миграций. Изменённые после применения файлы
// помечаются modified, и команда завершается с ErrMigrationDrift.
func listMigrations(ctx context.Context, store migrationStore, out io.Writer) error {
	migrations, err := store.Migrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED AT")
	var drifted int
	for _, m := range migrations {
		state, appliedAt := "pending", "-"
		if m.Applied {
			state = "applied"
			if !m.AppliedAt.IsZero() {
				appliedAt = m.AppliedAt.UTC().Format(time.RFC3339)
			}
		}
		if m.Modified {
			state = "modified"
			drifted++
		}
		_, _ = fmt.Fprintf(tw, "%04d\t%s\t%s\t%s\n", m.Version, m.Name, state, appliedAt)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if drifted > 0 {
		return fmt.Errorf("%w: %d migration(s)", postgres.ErrMigrationDrift, drifted)
	}
	return nil
}
