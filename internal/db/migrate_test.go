package db

import (
	"strings"
	"testing"
)

func TestLoadMigrationsIsOrderedAndNonEmpty(t *testing.T) {
	migrations, err := LoadMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Version >= migrations[i].Version {
			t.Fatalf("migrations out of order: %d then %d", migrations[i-1].Version, migrations[i].Version)
		}
	}
	if !strings.Contains(migrations[0].SQL, "CREATE TABLE") {
		t.Fatalf("expected first migration to create tables")
	}
}
