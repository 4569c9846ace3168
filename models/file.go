package models

// FileRecord tracks one indexed source file. Identity is (project, file_path);
// paths are workspace-relative with forward slashes and never start with "..".
type FileRecord struct {
	Project     string `json:"project" gorm:"column:project;primaryKey"`
	FilePath    string `json:"file_path" gorm:"column:file_path;primaryKey"`
	MtimeMs     int64  `json:"mtime_ms" gorm:"column:mtime_ms;not null"`
	Size        int64  `json:"size" gorm:"column:size;not null"`
	ContentHash string `json:"content_hash" gorm:"column:content_hash;not null"`
	UpdatedAt   int64  `json:"updated_at" gorm:"column:updated_at;not null"`
}

// TableName specifies the table name for FileRecord
func (FileRecord) TableName() string {
	return "files"
}

// WatcherOwner is the singleton row (id = 1) identifying the process that
// currently runs the file-system watcher for this database.
type WatcherOwner struct {
	ID          int64 `json:"id" gorm:"column:id;primaryKey"`
	PID         int   `json:"pid" gorm:"column:pid;not null"`
	StartedAt   int64 `json:"started_at" gorm:"column:started_at;not null"`
	HeartbeatAt int64 `json:"heartbeat_at" gorm:"column:heartbeat_at;not null"`
}

// TableName specifies the table name for WatcherOwner
func (WatcherOwner) TableName() string {
	return "watcher_owner"
}
