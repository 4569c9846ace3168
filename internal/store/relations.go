package store

import (
	"errors"

	"gorm.io/gorm"

	"github.com/flanksource/code-ledger/models"
)

var errLimitRequired = errors.New("limit is required")

// RelationRepo provides the typed operations over the relations table.
type RelationRepo struct {
	store *Store
}

func NewRelationRepo(store *Store) *RelationRepo {
	return &RelationRepo{store: store}
}

// ReplaceFileRelations atomically replaces the outgoing relations of one
// source file.
func (r *RelationRepo) ReplaceFileRelations(project, srcPath string, rows []models.Relation) error {
	return r.store.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project = ? AND src_file_path = ?", project, srcPath).
			Delete(&models.Relation{}).Error; err != nil {
			return models.NewStoreError("replace relations", err)
		}
		if len(rows) == 0 {
			return nil
		}
		for i := range rows {
			rows[i].ID = 0
			rows[i].Project = project
			rows[i].SrcFilePath = srcPath
		}
		if err := tx.Create(&rows).Error; err != nil {
			return models.NewStoreError("replace relations", err)
		}
		return nil
	})
}

// GetOutgoing returns relations originating at the file, optionally scoped to
// one source symbol.
func (r *RelationRepo) GetOutgoing(project, srcPath string, srcSymbol *string) ([]models.Relation, error) {
	query := r.store.DB().Where("project = ? AND src_file_path = ?", project, srcPath)
	if srcSymbol != nil {
		query = query.Where("src_symbol_name = ?", *srcSymbol)
	}
	var rows []models.Relation
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, models.NewStoreError("get outgoing", err)
	}
	return rows, nil
}

// GetIncoming returns relations targeting the file.
func (r *RelationRepo) GetIncoming(project, dstPath string) ([]models.Relation, error) {
	var rows []models.Relation
	err := r.store.DB().
		Where("project = ? AND dst_file_path = ?", project, dstPath).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, models.NewStoreError("get incoming", err)
	}
	return rows, nil
}

// GetByType returns all relations of one type in a project.
func (r *RelationRepo) GetByType(project string, relType models.RelationType) ([]models.Relation, error) {
	var rows []models.Relation
	err := r.store.DB().
		Where("project = ? AND type = ?", project, relType).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, models.NewStoreError("get by type", err)
	}
	return rows, nil
}

// RetargetRelations points every relation whose destination matches
// (oldFile, oldSymbol) at (newFile, newSymbol). A nil oldSymbol matches
// file-level relations (NULL dst_symbol_name). Returns the number of rows
// updated.
func (r *RelationRepo) RetargetRelations(project, oldFile string, oldSymbol *string, newFile string, newSymbol *string) (int64, error) {
	query := r.store.Writer().Model(&models.Relation{}).
		Where("project = ? AND dst_file_path = ?", project, oldFile)
	if oldSymbol != nil {
		query = query.Where("dst_symbol_name = ?", *oldSymbol)
	} else {
		query = query.Where("dst_symbol_name IS NULL")
	}

	result := query.Updates(map[string]any{
		"dst_file_path":   newFile,
		"dst_symbol_name": newSymbol,
	})
	if result.Error != nil {
		return 0, models.NewStoreError("retarget relations", result.Error)
	}
	return result.RowsAffected, nil
}

// SearchRelations matches any subset of the relation columns. Limit is
// required.
func (r *RelationRepo) SearchRelations(q models.RelationQuery) ([]models.Relation, error) {
	query := r.store.DB().Model(&models.Relation{})
	if q.Project != nil {
		query = query.Where("project = ?", *q.Project)
	}
	if q.Type != nil {
		query = query.Where("type = ?", *q.Type)
	}
	if q.SrcFilePath != nil {
		query = query.Where("src_file_path = ?", *q.SrcFilePath)
	}
	if q.SrcSymbolName != nil {
		query = query.Where("src_symbol_name = ?", *q.SrcSymbolName)
	}
	if q.DstFilePath != nil {
		query = query.Where("dst_file_path = ?", *q.DstFilePath)
	}
	if q.DstSymbolName != nil {
		query = query.Where("dst_symbol_name = ?", *q.DstSymbolName)
	}

	limit := q.Limit
	if limit <= 0 {
		return nil, models.NewStoreError("search relations", errLimitRequired)
	}

	var rows []models.Relation
	if err := query.Order("id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, models.NewStoreError("search relations", err)
	}
	return rows, nil
}

// DeleteFileRelations removes all outgoing relations of one source file.
func (r *RelationRepo) DeleteFileRelations(project, srcPath string) error {
	err := r.store.Writer().
		Where("project = ? AND src_file_path = ?", project, srcPath).
		Delete(&models.Relation{}).Error
	if err != nil {
		return models.NewStoreError("delete relations", err)
	}
	return nil
}
