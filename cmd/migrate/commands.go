package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arklim/marketplace-auth/internal/infra/config"
	"github.com/arklim/marketplace-auth/internal/infra/database"
)

type migrator interface {
	Up(steps int) error
	Down(steps int) error
	Force(version int) error
	Version() (uint, bool, error)
	Close() error
}

type migratorFactory func(dsn string) (migrator, error)

func defaultMigratorFactory(dsn string) (migrator, error) {
	return database.NewMigrator(dsn)
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(defaultMigratorFactory)
}

func newRootCommandWith(factory migratorFactory) *cobra.Command {
	var databaseURL string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply the marketplace user store schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL. Defaults to the AUTH_POSTGRES_* settings.")

	open := func() (migrator, error) {
		dsn, err := resolveDatabaseURL(databaseURL)
		if err != nil {
			return nil, err
		}
		return factory(dsn)
	}

	root.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations, optionally limited to steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := parseSteps(args[0])
				if err != nil {
					return err
				}
				steps = n
			}
			return withMigrator(open, func(m migrator) error {
				if err := m.Up(steps); err != nil {
					if errors.Is(err, database.ErrNoChange) {
						cmd.Println("No schema changes to apply.")
						return nil
					}
					return err
				}
				cmd.Println("Migrations applied.")
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args[0])
			if err != nil {
				return err
			}
			return withMigrator(open, func(m migrator) error {
				if err := m.Down(steps); err != nil {
					if errors.Is(err, database.ErrNoChange) {
						cmd.Println("No schema changes to roll back.")
						return nil
					}
					return err
				}
				cmd.Printf("Rolled back %d migration step(s).\n", steps)
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set the schema version (-1 for no version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || version < -1 {
				return fmt.Errorf("invalid force version %q: expected an integer >= -1", args[0])
			}
			return withMigrator(open, func(m migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(open, func(m migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				cmd.Printf("version=%d dirty=%t\n", version, dirty)
				return nil
			})
		},
	})

	return root
}

func withMigrator(open func() (migrator, error), fn func(migrator) error) (err error) {
	m, err := open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close migrator: %w", closeErr)
		}
	}()
	return fn(m)
}

func parseSteps(arg string) (int, error) {
	steps, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid migration steps %q: expected a positive integer", arg)
	}
	return steps, nil
}

func resolveDatabaseURL(flagValue string) (string, error) {
	if dsn := strings.TrimSpace(flagValue); dsn != "" {
		return dsn, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Postgres.DSN(), nil
}
