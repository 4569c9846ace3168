package languages

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/flanksource/code-ledger/models"
)

// ParsedFile is the parser output consumed by the extractors. Program is an
// opaque outline; the coordinator never looks inside it.
type ParsedFile struct {
	FilePath   string
	Program    *Outline
	Errors     []string
	Comments   []Comment
	SourceText string
}

// Comment is a source comment captured during parsing.
type Comment struct {
	Text      string
	StartLine int
	EndLine   int
}

// Outline is the language-level view a frontend produces: declarations plus
// import statements.
type Outline struct {
	Decls   []Decl
	Imports []ImportDecl
}

// Decl is one declared symbol in source order.
type Decl struct {
	Kind       models.SymbolKind
	Name       string
	StartLine  int
	StartCol   int
	EndLine    int
	EndCol     int
	IsExported bool
	IsAsync    bool
	ParamCount int
	Detail     map[string]any
}

// ImportDecl is one import statement.
type ImportDecl struct {
	Path  string
	Names []string
	Line  int
}

// ExtractedSymbol is what a symbol extractor hands the coordinator. The
// fingerprint and persistence metadata are filled in by the pipeline.
type ExtractedSymbol struct {
	Kind       models.SymbolKind
	Name       string
	StartLine  int
	StartCol   int
	EndLine    int
	EndCol     int
	IsExported bool
	Signature  *string
	Detail     map[string]any
}

// CodeRelation is what a relation extractor hands the coordinator. Project
// and SrcFilePath are stamped by the pipeline.
type CodeRelation struct {
	Type          models.RelationType
	SrcSymbolName *string
	DstFilePath   string
	DstSymbolName *string
	Meta          string
}

// AliasTable maps import-path alias patterns (e.g. "@app/*") to target path
// prefixes, as loaded from a tsconfig "paths" block.
type AliasTable map[string][]string

// Parser turns source text into a ParsedFile. Implementations must be pure
// and synchronous.
type Parser interface {
	Parse(filePath, sourceText string) (*ParsedFile, error)
}

// SymbolExtractor derives symbols from a parsed file.
type SymbolExtractor interface {
	Extract(pf *ParsedFile) []ExtractedSymbol
}

// RelationExtractor derives relations from a parsed file, resolving import
// specifiers through the alias table when one is loaded.
type RelationExtractor interface {
	Extract(pf *ParsedFile, aliases AliasTable) []CodeRelation
}

// HashString returns the 16-char lowercase hex of a 64-bit hash of s. It is
// used for content hashes and symbol fingerprints.
func HashString(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// Fingerprint computes the stable symbol fingerprint over name, kind and
// signature. A nil signature hashes as the empty string.
func Fingerprint(name string, kind models.SymbolKind, signature *string) string {
	sig := ""
	if signature != nil {
		sig = *signature
	}
	return HashString(name + "|" + string(kind) + "|" + sig)
}
