package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected embedded migrations")
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}

	for name := range ups {
		if !downs[name] {
			t.Fatalf("missing down migration for %s", name)
		}
	}
	if len(ups) != len(downs) {
		t.Fatalf("up/down count mismatch: %d vs %d", len(ups), len(downs))
	}
}

func TestEmbeddedMigrationsHaveOneStatement(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}

	for _, entry := range entries {
		raw, err := fs.ReadFile(files, "sql/"+entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		if n := strings.Count(string(raw), ";"); n != 1 {
			t.Fatalf("%s has %d statements", entry.Name(), n)
		}
	}
}

func TestOrdersTableEnforcesUniqueEventKey(t *testing.T) {
	raw, err := fs.ReadFile(files, "sql/000005_create_orders.up.sql")
	if err != nil {
		t.Fatalf("read orders migration: %v", err)
	}
	if !strings.Contains(string(raw), "UNIQUE KEY uq_orders_event_key (event_key)") {
		t.Fatal("orders.event_key must be unique")
	}
}
