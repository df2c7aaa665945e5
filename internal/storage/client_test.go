package storage

import (
	"strings"
	"testing"
)

func TestEmbeddedMigrationsPresentAndOrdered(t *testing.T) {
	c := &Client{}
	migrations, err := c.getMigrations()
	if err != nil {
		t.Fatalf("getMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations found")
	}

	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Version >= migrations[i].Version {
			t.Errorf("migrations out of order: %s before %s",
				migrations[i-1].Version, migrations[i].Version)
		}
	}

	first := migrations[0]
	if !strings.Contains(first.SQL, "schema_migrations") {
		t.Error("initial migration must create schema_migrations")
	}
	if !strings.Contains(first.SQL, "ON CONFLICT DO NOTHING") {
		t.Error("migrations must self-record idempotently")
	}
}

func TestAdditiveColumnsAreKnownTables(t *testing.T) {
	// Every additive column must target a table the initial schema creates;
	// a typo here would only surface at deploy time otherwise.
	c := &Client{}
	migrations, err := c.getMigrations()
	if err != nil {
		t.Fatalf("getMigrations: %v", err)
	}
	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	for _, col := range additiveColumns {
		if !strings.Contains(all.String(), col.table) {
			t.Errorf("additive column %s.%s targets a table no migration creates", col.table, col.column)
		}
	}
}
