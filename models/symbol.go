package models

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindVariable  SymbolKind = "variable"
	SymbolKindType      SymbolKind = "type"
	SymbolKindInterface SymbolKind = "interface"
	SymbolKindEnum      SymbolKind = "enum"
	SymbolKindProperty  SymbolKind = "property"
)

// Symbol is one persisted symbol row. The set of symbols for a file is always
// the set most recently written by SymbolRepo.ReplaceFileSymbols; deleting the
// owning file cascades here.
type Symbol struct {
	ID          int64      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Project     string     `json:"project" gorm:"column:project;not null;index:idx_symbols_project_file"`
	FilePath    string     `json:"file_path" gorm:"column:file_path;not null;index:idx_symbols_project_file"`
	Kind        SymbolKind `json:"kind" gorm:"column:kind;not null"`
	Name        string     `json:"name" gorm:"column:name;not null"`
	StartLine   int        `json:"start_line" gorm:"column:start_line;not null"`
	StartCol    int        `json:"start_col" gorm:"column:start_col;not null"`
	EndLine     int        `json:"end_line" gorm:"column:end_line;not null"`
	EndCol      int        `json:"end_col" gorm:"column:end_col;not null"`
	IsExported  bool       `json:"is_exported" gorm:"column:is_exported;not null"`
	Signature   *string    `json:"signature,omitempty" gorm:"column:signature"`     // params:N|async:{0|1} for functions/methods, else NULL
	Fingerprint *string    `json:"fingerprint,omitempty" gorm:"column:fingerprint"` // 64-bit hex of name|kind|signature
	DetailJSON  string     `json:"detail_json,omitempty" gorm:"column:detail_json"`
	ContentHash string     `json:"content_hash" gorm:"column:content_hash;not null"`
	IndexedAt   int64      `json:"indexed_at" gorm:"column:indexed_at;not null"`
}

// TableName specifies the table name for Symbol
func (Symbol) TableName() string {
	return "symbols"
}

// Position is a 1-based line/column pair.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Span is the source range a symbol covers.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// SymbolHit is the reshaped search result returned by the search layer.
type SymbolHit struct {
	ID          int64          `json:"id"`
	Project     string         `json:"project"`
	FilePath    string         `json:"file_path"`
	Kind        SymbolKind     `json:"kind"`
	Name        string         `json:"name"`
	Span        Span           `json:"span"`
	IsExported  bool           `json:"is_exported"`
	Signature   *string        `json:"signature,omitempty"`
	Fingerprint *string        `json:"fingerprint,omitempty"`
	Detail      map[string]any `json:"detail"`
}

// SymbolQuery is the repository-level search filter. Limit is required by the
// repository; the search layer fills the default.
type SymbolQuery struct {
	FTSQuery   string      `json:"fts_query,omitempty"`
	ExactName  string      `json:"exact_name,omitempty"`
	Kind       *SymbolKind `json:"kind,omitempty"`
	FilePath   *string     `json:"file_path,omitempty"`
	IsExported *bool       `json:"is_exported,omitempty"`
	Project    *string     `json:"project,omitempty"`
	Limit      int         `json:"limit"`
}

// IndexStats summarizes the persisted index for one project.
type IndexStats struct {
	FileCount   int64 `json:"file_count"`
	SymbolCount int64 `json:"symbol_count"`
}
