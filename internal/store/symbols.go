package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/flanksource/code-ledger/models"
)

// SymbolRepo provides the typed operations over the symbols table. The FTS
// rows follow automatically through the triggers on symbols.
type SymbolRepo struct {
	store *Store
}

func NewSymbolRepo(store *Store) *SymbolRepo {
	return &SymbolRepo{store: store}
}

// ReplaceFileSymbols atomically replaces the symbol set of one file:
// delete-then-insert inside a transaction (a savepoint when the caller
// already holds one).
func (r *SymbolRepo) ReplaceFileSymbols(project, path, contentHash string, rows []models.Symbol) error {
	now := time.Now().UnixMilli()
	return r.store.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project = ? AND file_path = ?", project, path).
			Delete(&models.Symbol{}).Error; err != nil {
			return models.NewStoreError("replace symbols", err)
		}
		if len(rows) == 0 {
			return nil
		}
		for i := range rows {
			rows[i].ID = 0
			rows[i].Project = project
			rows[i].FilePath = path
			rows[i].ContentHash = contentHash
			rows[i].IndexedAt = now
		}
		if err := tx.Create(&rows).Error; err != nil {
			return models.NewStoreError("replace symbols", err)
		}
		return nil
	})
}

// GetFileSymbols returns the symbols most recently written for the file.
func (r *SymbolRepo) GetFileSymbols(project, path string) ([]models.Symbol, error) {
	var rows []models.Symbol
	err := r.store.DB().
		Where("project = ? AND file_path = ?", project, path).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, models.NewStoreError("get symbols", err)
	}
	return rows, nil
}

// GetByFingerprint returns all symbols in the project sharing a fingerprint.
func (r *SymbolRepo) GetByFingerprint(project, fingerprint string) ([]models.Symbol, error) {
	var rows []models.Symbol
	err := r.store.DB().
		Where("project = ? AND fingerprint = ?", project, fingerprint).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, models.NewStoreError("get by fingerprint", err)
	}
	return rows, nil
}

// SearchByName runs an FTS query scoped to a project.
func (r *SymbolRepo) SearchByName(project, ftsExpr string, kind *models.SymbolKind, limit int) ([]models.Symbol, error) {
	return r.SearchByQuery(models.SymbolQuery{
		FTSQuery: ftsExpr,
		Kind:     kind,
		Project:  &project,
		Limit:    limit,
	})
}

// SearchByKind lists symbols of one kind in a project.
func (r *SymbolRepo) SearchByKind(project string, kind models.SymbolKind, limit int) ([]models.Symbol, error) {
	return r.SearchByQuery(models.SymbolQuery{
		Kind:    &kind,
		Project: &project,
		Limit:   limit,
	})
}

// SearchByQuery is the general symbol lookup. With an FTS expression it joins
// the full-text table back to symbols; otherwise it filters the base table.
// Ordering is exact-name matches first, then FTS rank when applicable, then
// row id for stability. Limit is required.
func (r *SymbolRepo) SearchByQuery(q models.SymbolQuery) ([]models.Symbol, error) {
	if q.Limit <= 0 {
		return nil, models.NewStoreError("search", fmt.Errorf("limit is required"))
	}

	var conds []string
	var args []any
	appendCond := func(cond string, vals ...any) {
		conds = append(conds, cond)
		args = append(args, vals...)
	}

	if q.Project != nil {
		appendCond("s.project = ?", *q.Project)
	}
	if q.Kind != nil {
		appendCond("s.kind = ?", *q.Kind)
	}
	if q.FilePath != nil {
		appendCond("s.file_path = ?", *q.FilePath)
	}
	if q.IsExported != nil {
		appendCond("s.is_exported = ?", *q.IsExported)
	}

	var sql strings.Builder
	var orderArgs []any

	if q.FTSQuery != "" {
		sql.WriteString("SELECT s.* FROM symbols s JOIN symbols_fts ON symbols_fts.rowid = s.id WHERE symbols_fts MATCH ?")
		args = append([]any{q.FTSQuery}, args...)
		for _, cond := range conds {
			sql.WriteString(" AND ")
			sql.WriteString(cond)
		}
		sql.WriteString(" ORDER BY CASE WHEN s.name = ? THEN 0 ELSE 1 END, bm25(symbols_fts), s.id LIMIT ?")
		orderArgs = []any{q.ExactName, q.Limit}
	} else {
		sql.WriteString("SELECT s.* FROM symbols s")
		if len(conds) > 0 {
			sql.WriteString(" WHERE ")
			sql.WriteString(strings.Join(conds, " AND "))
		}
		sql.WriteString(" ORDER BY CASE WHEN s.name = ? THEN 0 ELSE 1 END, s.id LIMIT ?")
		orderArgs = []any{q.ExactName, q.Limit}
	}

	var rows []models.Symbol
	err := r.store.DB().Raw(sql.String(), append(args, orderArgs...)...).Scan(&rows).Error
	if err != nil {
		return nil, models.NewStoreError("search", err)
	}
	return rows, nil
}

// GetStats counts files and symbols for a project.
func (r *SymbolRepo) GetStats(project string) (*models.IndexStats, error) {
	stats := &models.IndexStats{}
	if err := r.store.DB().Model(&models.FileRecord{}).
		Where("project = ?", project).
		Count(&stats.FileCount).Error; err != nil {
		return nil, models.NewStoreError("stats", err)
	}
	if err := r.store.DB().Model(&models.Symbol{}).
		Where("project = ?", project).
		Count(&stats.SymbolCount).Error; err != nil {
		return nil, models.NewStoreError("stats", err)
	}
	return stats, nil
}

// DeleteFileSymbols removes all symbols for one file.
func (r *SymbolRepo) DeleteFileSymbols(project, path string) error {
	err := r.store.Writer().
		Where("project = ? AND file_path = ?", project, path).
		Delete(&models.Symbol{}).Error
	if err != nil {
		return models.NewStoreError("delete symbols", err)
	}
	return nil
}
