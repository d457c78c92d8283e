package shared

import (
	"path/filepath"
	"testing"
)

func TestOpenDatabase(t *testing.T) {
	t.Run("file database with migrations", func(t *testing.T) {
		cfg := DatabaseConfig{Path: filepath.Join(t.TempDir(), "cutline.db"), MaxOpenConns: 2, MaxIdleConns: 1}

		db, err := OpenDatabase(cfg)
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		applied, err := AppliedMigrations(db)
		if err != nil {
			t.Fatalf("failed to list migrations: %v", err)
		}
		migrations, _ := loadMigrations()
		if len(applied) != len(migrations) {
			t.Errorf("expected %d applied migrations, got %d", len(migrations), len(applied))
		}
	})

	t.Run("foreign keys are enforced", func(t *testing.T) {
		db, err := OpenDatabase(DatabaseConfig{Path: MemoryDSN})
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		_, err = db.Exec(`INSERT INTO segments (id, project_id, position, start_time, end_time) VALUES ('s1', 'missing', 0, 0, 1)`)
		if err == nil {
			t.Error("expected foreign key violation for unknown project")
		}
	})
}
