package store

import (
	"gorm.io/gorm/clause"

	"github.com/flanksource/code-ledger/models"
)

// FileRepo provides the typed operations over the files table.
type FileRepo struct {
	store *Store
}

func NewFileRepo(store *Store) *FileRepo {
	return &FileRepo{store: store}
}

// GetFile returns the record for (project, path), or nil when absent.
func (r *FileRepo) GetFile(project, path string) (*models.FileRecord, error) {
	var records []models.FileRecord
	err := r.store.DB().
		Where("project = ? AND file_path = ?", project, path).
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, models.NewStoreError("get file", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// UpsertFile inserts the record, overwriting mtime, size, hash and updated_at
// on (project, file_path) conflict.
func (r *FileRepo) UpsertFile(record *models.FileRecord) error {
	err := r.store.Writer().Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project"}, {Name: "file_path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"mtime_ms", "size", "content_hash", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return models.NewStoreError("upsert file", err)
	}
	return nil
}

// GetAll returns every file record for the project.
func (r *FileRepo) GetAll(project string) ([]models.FileRecord, error) {
	var records []models.FileRecord
	err := r.store.DB().Where("project = ?", project).Find(&records).Error
	if err != nil {
		return nil, models.NewStoreError("list files", err)
	}
	return records, nil
}

// GetFilesMap returns the project's files keyed by path.
func (r *FileRepo) GetFilesMap(project string) (map[string]models.FileRecord, error) {
	records, err := r.GetAll(project)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]models.FileRecord, len(records))
	for _, record := range records {
		byPath[record.FilePath] = record
	}
	return byPath, nil
}

// DeleteFile removes the record; the foreign keys cascade to symbols and
// outgoing relations.
func (r *FileRepo) DeleteFile(project, path string) error {
	err := r.store.Writer().
		Where("project = ? AND file_path = ?", project, path).
		Delete(&models.FileRecord{}).Error
	if err != nil {
		return models.NewStoreError("delete file", err)
	}
	return nil
}

// DeleteProjectFiles removes every file row for a project, cascading to the
// project's symbols and relations. The full-index rebuild runs this for each
// boundary inside one transaction.
func (r *FileRepo) DeleteProjectFiles(project string) error {
	err := r.store.Writer().
		Where("project = ?", project).
		Delete(&models.FileRecord{}).Error
	if err != nil {
		return models.NewStoreError("delete project files", err)
	}
	return nil
}
