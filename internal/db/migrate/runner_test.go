package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"calling-agent/internal/db"
)

func TestRun_EmptyURL(t *testing.T) {
	if err := Run("", Up); err == nil {
		t.Fatal("Run with empty url should return error")
	}
}

func TestParseDirection(t *testing.T) {
	for _, ok := range []string{"up", "down"} {
		if _, err := ParseDirection(ok); err != nil {
			t.Errorf("ParseDirection(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "UP", "sideways"} {
		if _, err := ParseDirection(bad); err == nil {
			t.Errorf("ParseDirection(%q) should fail", bad)
		}
	}
}

func TestMigrationFS_HasPairedFiles(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Fatalf("expected paired up/down migrations, got %d up / %d down", ups, downs)
	}
}

func TestInitialSchema_DeclaresCoreTables(t *testing.T) {
	raw, err := fs.ReadFile(db.MigrationFS, "migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	sql := string(raw)
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS contacts",
		"CREATE TABLE IF NOT EXISTS call_sessions",
		"CREATE TABLE IF NOT EXISTS conversation_turns",
		"ON DELETE CASCADE",
		"UNIQUE (call_id, seq)",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}
