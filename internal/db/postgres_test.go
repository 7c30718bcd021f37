package db_test

import (
	"testing"

	"github.com/notifyhub/restock-monitor/internal/db"
)

func TestMigrationURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/restock":   "pgx5://u:p@localhost:5432/restock",
		"postgresql://u:p@localhost:5432/restock": "pgx5://u:p@localhost:5432/restock",
		"pgx5://u:p@localhost:5432/restock":       "pgx5://u:p@localhost:5432/restock",
		"u:p@localhost:5432/restock":              "pgx5://u:p@localhost:5432/restock",
	}
	for in, want := range tests {
		if got := db.MigrationURL(in); got != want {
			t.Fatalf("MigrationURL(%q): expected %q, got %q", in, want, got)
		}
	}
}
