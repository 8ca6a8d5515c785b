package drivers

import (
	"database/sql"
	"slices"
	"testing"
)

// TestDriversRegistered checks the names -db-type accepts on this platform.
func TestDriversRegistered(t *testing.T) {
	t.Parallel()

	Ready()
	names := sql.Drivers()
	for _, want := range []string{"sqlite", "chai", "genji", "pgx"} {
		if !slices.Contains(names, want) {
			t.Fatalf("driver %q not registered; have %v", want, names)
		}
	}
}
