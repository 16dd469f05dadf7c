package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/miocrobos/habicht-directory/internal/config"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel).Named("migration")

	cmd := newMigrationCommand(func() (schemaMigrator, error) { return openMigrator(cfg, logger) }, logger)
	err = cmd.ExecuteContext(ctx)
	if err != nil {
		logger.Error("migration failed", "error", err)
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// openMigrator points golang-migrate at the Postgres database and the first
// migrations directory that exists.
func openMigrator(cfg config.Config, logger *logging.Logger) (schemaMigrator, error) {
	dbURL := strings.TrimSpace(cfg.DBURL)
	if dbURL == "" {
		return nil, errors.New("DB_URL is required")
	}
	dir, err := findMigrationsDir(os.Getenv("MIGRATIONS_DIR"), os.Getenv("MIGRATIONS_PATH"), "./db/migrations", "/app/db/migrations")
	if err != nil {
		return nil, err
	}

	m, err := migrate.New("file://"+filepath.ToSlash(dir), dbURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	m.Log = migrateLog{logger: logger, verbose: cfg.LogLevel <= logging.LevelDebug}
	logger.Debug("migrations source", "dir", dir)
	return m, nil
}

func findMigrationsDir(candidates ...string) (string, error) {
	var checked []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		checked = append(checked, c)
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			return abs, nil
		}
	}
	return "", fmt.Errorf("migration directory not found (checked %s)", strings.Join(checked, ", "))
}

// migrateLog routes golang-migrate's progress lines into our logger.
type migrateLog struct {
	logger  *logging.Logger
	verbose bool
}

func (l migrateLog) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLog) Verbose() bool { return l.verbose }
