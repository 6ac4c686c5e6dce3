package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"carestream.org/internal/migrate"
	"carestream.org/internal/obs"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		log.Fatal().Err(err).Msg("migrate failed")
	}
}

func newRootCommand() *cobra.Command {
	var (
		dsn     string
		timeout time.Duration
		level   string
	)

	root := &cobra.Command{
		Use:           "carestream-migrate",
		Short:         "Apply the bundled document-store schema and seeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("CARESTREAM_STORE_DSN"), "PostgreSQL DSN")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	root.PersistentFlags().StringVar(&level, "log-level", "info", "Log level")

	run := func(fn func(ctx context.Context, m *migrate.Manager, out *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return fmt.Errorf("missing DSN: provide via --dsn or CARESTREAM_STORE_DSN")
			}
			log := obs.NewLogger(obs.LogConfig{Level: level, Format: "console"}, "carestream-migrate", "", "")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			migrations, seeds := migrate.Bundled()
			mgr := migrate.NewManager(db, migrations, seeds, migrate.WithLogger(log))
			if err := fn(ctx, mgr, cmd); err != nil {
				return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
			}
			return nil
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: run(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				applied, err := m.Up(ctx)
				printNames(cmd, "applied", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: run(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				name, err := m.Down(ctx)
				if name != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply pending seeds",
			RunE: run(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				applied, err := m.Seed(ctx)
				printNames(cmd, "seeded", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: run(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				history, err := m.Status(ctx)
				for _, name := range history {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return err
			}),
		},
	)
	return root
}

func printNames(cmd *cobra.Command, verb string, names []string) {
	if len(names) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "nothing %s\n", verb)
		return
	}
	for _, n := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, n)
	}
}
