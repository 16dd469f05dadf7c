package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"

	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

func TestParseSteps(t *testing.T) {
	t.Parallel()

	if n, err := parseSteps(nil); err != nil || n != 1 {
		t.Fatalf("expected default of 1, got %d %v", n, err)
	}
	if n, err := parseSteps([]string{" 3 "}); err != nil || n != 3 {
		t.Fatalf("expected 3, got %d %v", n, err)
	}
	for _, bad := range []string{"0", "-1", "x"} {
		if _, err := parseSteps([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseVersionAndTarget(t *testing.T) {
	t.Parallel()

	if v, err := parseVersion("1792300000"); err != nil || v != 1792300000 {
		t.Fatalf("unexpected version: %d %v", v, err)
	}
	if _, err := parseVersion("-2"); err == nil {
		t.Fatalf("expected error for negative version")
	}
	if v, err := parseTarget("1792300100"); err != nil || v != 1792300100 {
		t.Fatalf("unexpected target: %d %v", v, err)
	}
	if _, err := parseTarget("latest"); err == nil {
		t.Fatalf("expected error for non-numeric target")
	}
}

func TestHandleMigrationErr(t *testing.T) {
	t.Parallel()

	logger := logging.NewNop()
	if err := handleMigrationErr(migrate.ErrNoChange, logger); err != nil {
		t.Fatalf("no change must not fail: %v", err)
	}
	boom := errors.New("dirty database")
	if err := handleMigrationErr(boom, logger); !errors.Is(err, boom) {
		t.Fatalf("expected error to pass through, got %v", err)
	}
}

func TestMigrationsArePaired(t *testing.T) {
	t.Parallel()

	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("no migrations found in %s", dir)
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("migration %s has no down file", name)
		}
	}
	for name := range downs {
		if !ups[name] {
			t.Fatalf("migration %s has no up file", name)
		}
	}
}

// The store relies on these constraints to turn duplicate clubs into
// constraint violations instead of silent second rows.
func TestClubsMigrationEnforcesUniqueKeyAndName(t *testing.T) {
	t.Parallel()

	raw, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "1792300000_create_clubs.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := strings.Join(strings.Fields(string(raw)), " ")
	for _, want := range []string{
		"CONSTRAINT clubs_dedup_key_unique UNIQUE (dedup_key)",
		"CONSTRAINT clubs_name_key UNIQUE (name)",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("clubs migration lacks %q", want)
		}
	}
	if strings.Contains(sql, "clubs_name_idx") {
		t.Fatalf("plain name index should be replaced by the unique constraint")
	}
}

type fakeMigrator struct {
	steps   []int
	version uint
	dirty   bool
	verErr  error
	upErr   error
	closed  bool
	forced  int
	targets []uint
}

func (f *fakeMigrator) Up() error                    { return f.upErr }
func (f *fakeMigrator) Steps(n int) error            { f.steps = append(f.steps, n); return nil }
func (f *fakeMigrator) Migrate(v uint) error         { f.targets = append(f.targets, v); return nil }
func (f *fakeMigrator) Force(v int) error            { f.forced = v; return nil }
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, f.verErr }
func (f *fakeMigrator) Close() (error, error)        { f.closed = true; return nil, nil }

func runMigrationCommand(t *testing.T, fake *fakeMigrator, args ...string) (string, error) {
	t.Helper()

	cmd := newMigrationCommand(func() (schemaMigrator, error) { return fake, nil }, logging.NewNop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrationCommand_DownAndGoto(t *testing.T) {
	t.Parallel()

	fake := &fakeMigrator{}
	if _, err := runMigrationCommand(t, fake, "down", "2"); err != nil {
		t.Fatalf("down: %v", err)
	}
	if _, err := runMigrationCommand(t, fake, "migrate", "1792300100"); err != nil {
		t.Fatalf("migrate alias: %v", err)
	}
	if len(fake.steps) != 1 || fake.steps[0] != -2 {
		t.Fatalf("unexpected steps: %v", fake.steps)
	}
	if len(fake.targets) != 1 || fake.targets[0] != 1792300100 {
		t.Fatalf("unexpected targets: %v", fake.targets)
	}
	if !fake.closed {
		t.Fatalf("migrator must be closed")
	}
}

func TestMigrationCommand_Version(t *testing.T) {
	t.Parallel()

	out, err := runMigrationCommand(t, &fakeMigrator{verErr: migrate.ErrNilVersion}, "version")
	if err != nil || !strings.Contains(out, "version: none") {
		t.Fatalf("unexpected output %q err=%v", out, err)
	}
	out, err = runMigrationCommand(t, &fakeMigrator{version: 1792300000, dirty: true}, "version")
	if err != nil || !strings.Contains(out, "version: 1792300000") || !strings.Contains(out, "dirty: true") {
		t.Fatalf("unexpected output %q err=%v", out, err)
	}
}

func TestMigrationCommand_UpNoChangeAndArgs(t *testing.T) {
	t.Parallel()

	if _, err := runMigrationCommand(t, &fakeMigrator{upErr: migrate.ErrNoChange}, "up"); err != nil {
		t.Fatalf("no change must succeed: %v", err)
	}
	if _, err := runMigrationCommand(t, &fakeMigrator{}, "force"); err == nil {
		t.Fatalf("force without version must fail")
	}
}

func TestFindMigrationsDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got, err := findMigrationsDir("", filepath.Join(dir, "missing"), dir)
	if err != nil || got != dir {
		t.Fatalf("expected %s, got %q err=%v", dir, got, err)
	}
	if _, err := findMigrationsDir(filepath.Join(dir, "missing")); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected error naming checked paths, got %v", err)
	}
}
