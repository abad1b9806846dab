package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrationsParse(t *testing.T) {
	if _, err := iofs.New(files, "sql"); err != nil {
		t.Fatalf("migration source did not parse: %v", err)
	}
}

func TestEveryMigrationHasBothDirections(t *testing.T) {
	ups := map[string]bool{}
	downs := map[string]bool{}

	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		t.Fatalf("read embedded sql: %v", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file in sql/: %s", name)
		}
	}

	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for name := range ups {
		if !downs[name] {
			t.Errorf("migration %s has no down file", name)
		}
	}
	for name := range downs {
		if !ups[name] {
			t.Errorf("migration %s has no up file", name)
		}
	}
}
