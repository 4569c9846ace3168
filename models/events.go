package models

// FileEventType is the normalized watcher event kind.
type FileEventType string

const (
	FileEventCreate FileEventType = "create"
	FileEventChange FileEventType = "change"
	FileEventDelete FileEventType = "delete"
)

// FileEvent is a normalized, workspace-relative file-system event as
// delivered by the watcher to the coordinator.
type FileEvent struct {
	Type     FileEventType `json:"type"`
	FilePath string        `json:"file_path"`
}

// IndexResult is the payload produced by one indexing run and fanned out to
// subscribers.
type IndexResult struct {
	IndexedFiles   int      `json:"indexed_files"`
	RemovedFiles   int      `json:"removed_files"`
	TotalSymbols   int      `json:"total_symbols"`
	TotalRelations int      `json:"total_relations"`
	DurationMs     int64    `json:"duration_ms"`
	ChangedFiles   []string `json:"changed_files"`
	DeletedFiles   []string `json:"deleted_files"`
	FailedFiles    []string `json:"failed_files"`
}
