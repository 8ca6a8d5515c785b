package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxPreferenceKeyLen bounds keys so a hostile cookie cannot bloat the table.
const MaxPreferenceKeyLen = 200

func checkKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty preference key")
	}
	if len(key) > MaxPreferenceKeyLen {
		return errors.New("preference key too long")
	}
	return nil
}

// Get returns the stored value and whether it exists.
func (db *Database) Get(ctx context.Context, key string) (string, bool, error) {
	if db == nil || db.DB == nil {
		return "", false, ErrNotInitialized
	}
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT pref_value FROM preferences WHERE pref_key = %s`, ph())
	var value string
	if err := db.DB.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value. Delete plus
// insert inside one transaction works on every supported engine, which
// disagree on upsert syntax.
func (db *Database) Set(ctx context.Context, key, value string) (err error) {
	if db == nil || db.DB == nil {
		return ErrNotInitialized
	}
	if err := checkKey(key); err != nil {
		return err
	}
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set preference %s: begin: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ph := newPlaceholderGenerator(db.Driver)
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM preferences WHERE pref_key = %s`, ph()), key); err != nil {
		return fmt.Errorf("set preference %s: delete: %w", key, err)
	}
	ph = newPlaceholderGenerator(db.Driver)
	insert := fmt.Sprintf(`INSERT INTO preferences (pref_key, pref_value, updated_at) VALUES (%s, %s, %s)`, ph(), ph(), ph())
	if _, err = tx.ExecContext(ctx, insert, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("set preference %s: insert: %w", key, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("set preference %s: commit: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (db *Database) Delete(ctx context.Context, key string) error {
	if db == nil || db.DB == nil {
		return ErrNotInitialized
	}
	if err := checkKey(key); err != nil {
		return err
	}
	ph := newPlaceholderGenerator(db.Driver)
	if _, err := db.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM preferences WHERE pref_key = %s`, ph()), key); err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}

// Scoped returns a view of the store whose keys are prefixed with scope.
func (db *Database) Scoped(scope string) *Scoped {
	return &Scoped{db: db, prefix: scope + "/"}
}

// Scoped namespaces preference keys, typically per browser session.
type Scoped struct {
	db     *Database
	prefix string
}

func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.db.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.db.Set(ctx, s.prefix+key, value)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.db.Delete(ctx, s.prefix+key)
}
