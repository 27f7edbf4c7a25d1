package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is a single schema step, applied at most once.
type migration struct {
	id   string
	sqls []string
}

// migrations are applied in order; ids are recorded in schema_migrations.
var migrations = []migration{
	{
		id: "001_documents",
		sqls: []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				embedding BLOB NOT NULL,
				dim INTEGER NOT NULL,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_created
				ON documents(created_at_epoch)`,
		},
	},
	{
		id: "002_prefs",
		sqls: []string{
			`CREATE TABLE IF NOT EXISTS prefs (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at_epoch INTEGER NOT NULL
			)`,
		},
	},
}

// runMigrations applies all pending migrations inside transactions.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at_epoch INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied int
		err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE id = ?`, m.id).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.id, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.id, err)
		}
		for _, s := range m.sqls {
			if _, err := tx.Exec(s); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply migration %s: %w", m.id, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (id, applied_at_epoch) VALUES (?, strftime('%s','now')*1000)`,
			m.id,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.id, err)
		}
	}
	return nil
}
