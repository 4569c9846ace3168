package store

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/flanksource/commons/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrate applies all pending schema migrations in version order. Versions
// are the numeric prefix of the packaged file names; applied versions are
// recorded in schema_migrations so a database is only ever moved forward.
func (s *Store) migrate() error {
	if err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			executed_at INTEGER NOT NULL
		)`).Error; err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	var current int
	if err := s.db.Raw("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current).Error; err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		pending++
		logger.Debugf("applying migration %d (%s)", m.version, m.name)

		tx := s.db.Begin()
		if tx.Error != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, tx.Error)
		}
		for _, stmt := range splitStatements(m.sql) {
			if err := tx.Exec(stmt).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
		if err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, executed_at) VALUES (?, ?, strftime('%s','now') * 1000)",
			m.version, m.name,
		).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit().Error; err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	if pending > 0 {
		logger.Infof("applied %d schema migrations (now at version %d)", pending, migrations[len(migrations)-1].version)
	}
	return nil
}

type migration struct {
	version int
	name    string
	sql     string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read packaged migrations: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, rest, ok := parseMigrationName(name)
		if !ok {
			return nil, fmt.Errorf("unrecognized migration file name %q", name)
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migrations = append(migrations, migration{version: version, name: rest, sql: string(data)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

func parseMigrationName(name string) (int, string, bool) {
	base := strings.TrimSuffix(name, ".sql")
	idx := strings.Index(base, "_")
	if idx <= 0 {
		return 0, "", false
	}
	version, err := strconv.Atoi(base[:idx])
	if err != nil {
		return 0, "", false
	}
	return version, base[idx+1:], true
}

// splitStatements breaks a migration file into individual statements.
// Trigger bodies are the only construct with embedded semicolons; they are
// delimited by BEGIN ... END; and kept whole.
func splitStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	inTrigger := false

	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')

		upper := strings.ToUpper(trimmed)
		if strings.HasPrefix(upper, "CREATE TRIGGER") {
			inTrigger = true
		}
		if inTrigger {
			if strings.HasSuffix(upper, "END;") {
				statements = append(statements, current.String())
				current.Reset()
				inTrigger = false
			}
			continue
		}
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		statements = append(statements, rest)
	}
	return statements
}
