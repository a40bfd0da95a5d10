package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS global_variables (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// OpenSQLite opens (creating if needed) a snapshot database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state db %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state schema: %w", err)
	}
	return db, nil
}

// Save replaces the snapshot in db with the store's current entries.
func (g *Globals) Save(ctx context.Context, db *sql.DB) error {
	snap := g.Snapshot()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM global_variables`); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	for name, v := range snap {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding global %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO global_variables (name, value) VALUES (?, ?)`, name, string(raw)); err != nil {
			return fmt.Errorf("writing global %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	logrus.Debugf("saved %d global variables", len(snap))
	return nil
}

// Load merges the snapshot in db into the store.
func (g *Globals) Load(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name, value FROM global_variables`)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return fmt.Errorf("scanning snapshot row: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return fmt.Errorf("decoding global %q: %w", name, err)
		}
		vars[name] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	g.Merge(vars)
	logrus.Debugf("loaded %d global variables", len(vars))
	return nil
}
