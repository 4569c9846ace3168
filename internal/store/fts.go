package store

import (
	"fmt"
)

// ensureFTS creates the full-text table over symbols plus the three triggers
// that keep it in lockstep with the base table. Everything is idempotent so
// it runs on every open, after migrations.
func (s *Store) ensureFTS() error {
	statements := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
			name, file_path, kind,
			content='symbols', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS symbols_fts_ai AFTER INSERT ON symbols BEGIN
			INSERT INTO symbols_fts(rowid, name, file_path, kind)
			VALUES (new.id, new.name, new.file_path, new.kind);
		END`,
		`CREATE TRIGGER IF NOT EXISTS symbols_fts_ad AFTER DELETE ON symbols BEGIN
			INSERT INTO symbols_fts(symbols_fts, rowid, name, file_path, kind)
			VALUES ('delete', old.id, old.name, old.file_path, old.kind);
		END`,
		`CREATE TRIGGER IF NOT EXISTS symbols_fts_au AFTER UPDATE ON symbols BEGIN
			INSERT INTO symbols_fts(symbols_fts, rowid, name, file_path, kind)
			VALUES ('delete', old.id, old.name, old.file_path, old.kind);
			INSERT INTO symbols_fts(rowid, name, file_path, kind)
			VALUES (new.id, new.name, new.file_path, new.kind);
		END`,
	}

	for _, stmt := range statements {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to set up full-text index: %w", err)
		}
	}
	return nil
}
