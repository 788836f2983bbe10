package database

import (
	"context"
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("expected embedded migrations, got %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}

	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for version := range ups {
		if !downs[version] {
			t.Errorf("migration %s has no down file", version)
		}
	}
}

func TestEmbeddedMigrationsCreateManagedTables(t *testing.T) {
	var all strings.Builder
	entries, _ := fs.ReadDir(migrationsFS, "migrations")
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		data, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		if err != nil {
			t.Fatalf("failed to read %s: %v", e.Name(), err)
		}
		all.Write(data)
	}

	for _, table := range ManagedTables {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("expected a migration creating %s", table)
		}
	}
}

func TestTableCountRejectsUnknownTable(t *testing.T) {
	if _, err := TableCount(context.Background(), nil, "users; DROP TABLE posts"); err == nil {
		t.Error("expected an error for an unmanaged table")
	}
}
