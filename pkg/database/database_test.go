package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(context.Background(), Config{
		DBType: "sqlite",
		DBPath: filepath.Join(t.TempDir(), "prefs.sqlite"),
		Logf:   t.Logf,
	})
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestPreferencesRoundTrip stores, replaces and deletes a value.
func TestPreferencesRoundTrip(t *testing.T) {
	t.Parallel()

	db := openSQLite(t)
	ctx := context.Background()

	if _, ok, err := db.Get(ctx, "b1/isLoggedIn"); err != nil || ok {
		t.Fatalf("Get on empty store=%v,%v", ok, err)
	}
	if err := db.Set(ctx, "b1/isLoggedIn", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set(ctx, "b1/isLoggedIn", "yes"); err != nil {
		t.Fatalf("Set again: %v", err)
	}
	if v, ok, err := db.Get(ctx, "b1/isLoggedIn"); err != nil || !ok || v != "yes" {
		t.Fatalf("Get=%q,%v,%v want yes", v, ok, err)
	}
	if err := db.Delete(ctx, "b1/isLoggedIn"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := db.Delete(ctx, "b1/isLoggedIn"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if _, ok, _ := db.Get(ctx, "b1/isLoggedIn"); ok {
		t.Fatalf("value survived delete")
	}
}

// TestScopedKeys keeps browser scopes apart.
func TestScopedKeys(t *testing.T) {
	t.Parallel()

	db := openSQLite(t)
	ctx := context.Background()
	a, b := db.Scoped("a"), db.Scoped("b")

	if err := a.Set(ctx, "isLoggedIn", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "isLoggedIn"); ok {
		t.Fatalf("scope b sees scope a")
	}
	if v, ok, _ := db.Get(ctx, "a/isLoggedIn"); !ok || v != "true" {
		t.Fatalf("raw key=%q,%v", v, ok)
	}
}

// TestKeyValidation rejects empty and oversized keys.
func TestKeyValidation(t *testing.T) {
	t.Parallel()

	db := openSQLite(t)
	ctx := context.Background()
	for _, key := range []string{"", "   ", strings.Repeat("k", MaxPreferenceKeyLen+1)} {
		if err := db.Set(ctx, key, "v"); err == nil {
			t.Fatalf("Set(%q) accepted", key)
		}
	}
}

// TestDSN covers driver selection and defaults.
func TestDSN(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cfg        Config
		wantDriver string
		wantDSN    string
	}{
		{Config{DBType: " SQLite ", Port: 8765}, "sqlite", "routedash-8765.sqlite"},
		{Config{DBType: "genji", DBPath: "/tmp/g"}, "genji", "/tmp/g"},
		{Config{DBType: "duckdb", Port: 1}, "duckdb", "routedash-1.duckdb"},
		{Config{DBType: "pgx", DBUser: "u", DBPass: "p", DBHost: "h", DBPort: 5432, DBName: "d"}, "pgx", "postgres://u:p@h:5432/d?sslmode=prefer"},
		{Config{DBType: "pgx", DBConn: "postgres://x"}, "pgx", "postgres://x"},
	}
	for _, tc := range cases {
		driver, dsn, err := DSN(tc.cfg)
		if err != nil || driver != tc.wantDriver || dsn != tc.wantDSN {
			t.Fatalf("DSN(%+v)=%s,%s,%v want %s,%s", tc.cfg, driver, dsn, err, tc.wantDriver, tc.wantDSN)
		}
	}
	if _, _, err := DSN(Config{DBType: "oracle"}); err == nil {
		t.Fatalf("DSN accepted unsupported driver")
	}
}

// TestPlaceholderGenerator numbers PostgreSQL parameters.
func TestPlaceholderGenerator(t *testing.T) {
	t.Parallel()

	pg := newPlaceholderGenerator("pgx")
	if a, b := pg(), pg(); a != "$1" || b != "$2" {
		t.Fatalf("pgx placeholders=%s,%s", a, b)
	}
	if q := newPlaceholderGenerator("sqlite")(); q != "?" {
		t.Fatalf("sqlite placeholder=%s", q)
	}
}

// TestNilDatabase reports ErrNotInitialized.
func TestNilDatabase(t *testing.T) {
	t.Parallel()

	var db *Database
	if _, _, err := db.Get(context.Background(), "k"); err != ErrNotInitialized {
		t.Fatalf("Get err=%v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close err=%v", err)
	}
}
