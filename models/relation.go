package models

// RelationType classifies a directed edge between file-or-symbol endpoints.
type RelationType string

const (
	RelationTypeImports    RelationType = "imports"
	RelationTypeCalls      RelationType = "calls"
	RelationTypeExtends    RelationType = "extends"
	RelationTypeImplements RelationType = "implements"
)

// Relation is one persisted edge. A NULL symbol name means the endpoint is the
// file itself. Outgoing relations for (project, src_file_path) are always the
// set most recently written by RelationRepo.ReplaceFileRelations.
type Relation struct {
	ID            int64        `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Project       string       `json:"project" gorm:"column:project;not null"`
	Type          RelationType `json:"type" gorm:"column:type;not null"`
	SrcFilePath   string       `json:"src_file_path" gorm:"column:src_file_path;not null"`
	SrcSymbolName *string      `json:"src_symbol_name,omitempty" gorm:"column:src_symbol_name"`
	DstFilePath   string       `json:"dst_file_path" gorm:"column:dst_file_path;not null"`
	DstSymbolName *string      `json:"dst_symbol_name,omitempty" gorm:"column:dst_symbol_name"`
	Meta          string       `json:"meta,omitempty" gorm:"column:meta"`
}

// TableName specifies the table name for Relation
func (Relation) TableName() string {
	return "relations"
}

// RelationQuery matches any subset of the relation columns.
type RelationQuery struct {
	SrcFilePath   *string       `json:"src_file_path,omitempty"`
	SrcSymbolName *string       `json:"src_symbol_name,omitempty"`
	DstFilePath   *string       `json:"dst_file_path,omitempty"`
	DstSymbolName *string       `json:"dst_symbol_name,omitempty"`
	Type          *RelationType `json:"type,omitempty"`
	Project       *string       `json:"project,omitempty"`
	Limit         int           `json:"limit"`
}
