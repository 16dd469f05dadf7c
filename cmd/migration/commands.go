package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

// schemaMigrator is the part of *migrate.Migrate the commands use.
type schemaMigrator interface {
	Up() error
	Steps(n int) error
	Migrate(version uint) error
	Force(version int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

func newMigrationCommand(open func() (schemaMigrator, error), logger *logging.Logger) *cobra.Command {
	// withMigrator opens the migrator for one subcommand and always closes it.
	withMigrator := func(fn func(cmd *cobra.Command, m schemaMigrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer closeMigrator(m, logger)
			return fn(cmd, m, args)
		}
	}

	root := &cobra.Command{
		Use:           "migration",
		Short:         "Apply or roll back the directory's Postgres schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(_ *cobra.Command, m schemaMigrator, _ []string) error {
			if err := handleMigrationErr(m.Up(), logger); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the last migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrator(func(_ *cobra.Command, m schemaMigrator, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}
			if err := handleMigrationErr(m.Steps(-steps), logger); err != nil {
				return err
			}
			logger.Info("rolled back migrations", "steps", steps)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, _ []string) error {
			version, dirty, err := m.Version()
			switch {
			case errors.Is(err, migrate.ErrNilVersion):
				fmt.Fprintln(cmd.OutOrStdout(), "version: none\ndirty: false")
				return nil
			case err != nil:
				return fmt.Errorf("read version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty: %t\n", version, dirty)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(_ *cobra.Command, m schemaMigrator, args []string) error {
			version, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(version); err != nil {
				return fmt.Errorf("force version %d: %w", version, err)
			}
			logger.Info("forced version", "version", version)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:     "goto <version>",
		Aliases: []string{"migrate"},
		Short:   "Migrate up or down to an exact version",
		Args:    cobra.ExactArgs(1),
		RunE: withMigrator(func(_ *cobra.Command, m schemaMigrator, args []string) error {
			target, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			if err := handleMigrationErr(m.Migrate(target), logger); err != nil {
				return err
			}
			logger.Info("migrated", "version", target)
			return nil
		}),
	})

	return root
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return 0, fmt.Errorf("invalid down steps %q: %w", args[0], err)
	}
	if steps < 1 {
		return 0, errors.New("down steps must be at least 1")
	}
	return steps, nil
}

// parseVersion reads a migration version for Force, which takes an int.
func parseVersion(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	if v < 0 {
		return 0, errors.New("version must not be negative")
	}
	return v, nil
}

func parseTarget(raw string) (uint, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid target version %q: %w", raw, err)
	}
	return uint(v), nil
}

// handleMigrationErr treats "nothing to do" as success.
func handleMigrationErr(err error, logger *logging.Logger) error {
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("schema already up to date")
		return nil
	}
	return err
}

func closeMigrator(m schemaMigrator, logger *logging.Logger) {
	srcErr, dbErr := m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		logger.Warn("close migrator", "error", err)
	}
}
