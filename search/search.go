package search

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/flanksource/code-ledger/internal/store"
	"github.com/flanksource/code-ledger/models"
)

const (
	// DefaultSymbolLimit caps symbol searches when the caller leaves Limit
	// unset.
	DefaultSymbolLimit = 100
	// DefaultRelationLimit caps relation searches.
	DefaultRelationLimit = 500
)

// Service answers symbol and relation queries over the repositories.
type Service struct {
	symbols   *store.SymbolRepo
	relations *store.RelationRepo
}

func NewService(symbols *store.SymbolRepo, relations *store.RelationRepo) *Service {
	return &Service{symbols: symbols, relations: relations}
}

// SymbolsRequest is the user-facing symbol search input. Query is free text;
// it is compiled into a prefix-matching FTS expression.
type SymbolsRequest struct {
	Query      string
	Kind       *models.SymbolKind
	FilePath   *string
	IsExported *bool
	Project    *string
	Limit      int
}

// Symbols runs a symbol search and reshapes the rows for consumers: the span
// is grouped into start/end positions and the detail blob is parsed, with a
// parse failure treated as an empty detail.
func (s *Service) Symbols(req SymbolsRequest) ([]models.SymbolHit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSymbolLimit
	}

	rows, err := s.symbols.SearchByQuery(models.SymbolQuery{
		FTSQuery:   ComposeFTSQuery(req.Query),
		ExactName:  strings.TrimSpace(req.Query),
		Kind:       req.Kind,
		FilePath:   req.FilePath,
		IsExported: req.IsExported,
		Project:    req.Project,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row models.Symbol, _ int) models.SymbolHit {
		return reshape(row)
	}), nil
}

// Relations runs a relation search with the default limit applied.
func (s *Service) Relations(q models.RelationQuery) ([]models.Relation, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultRelationLimit
	}
	return s.relations.SearchRelations(q)
}

var ftsPlainToken = regexp.MustCompile(`^[\w$]+$`)

// ComposeFTSQuery turns free text into an FTS expression: trim, split on
// whitespace, escape metacharacters, append * per token for prefix matching.
// "User Svc" becomes `User* Svc*`.
func ComposeFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	tokens := strings.Fields(query)
	parts := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if ftsPlainToken.MatchString(token) {
			parts = append(parts, token+"*")
			continue
		}
		escaped := strings.ReplaceAll(token, `"`, `""`)
		parts = append(parts, `"`+escaped+`"*`)
	}
	return strings.Join(parts, " ")
}

func reshape(row models.Symbol) models.SymbolHit {
	detail := map[string]any{}
	if row.DetailJSON != "" {
		if err := json.Unmarshal([]byte(row.DetailJSON), &detail); err != nil {
			detail = map[string]any{}
		}
	}

	return models.SymbolHit{
		ID:       row.ID,
		Project:  row.Project,
		FilePath: row.FilePath,
		Kind:     row.Kind,
		Name:     row.Name,
		Span: models.Span{
			Start: models.Position{Line: row.StartLine, Column: row.StartCol},
			End:   models.Position{Line: row.EndLine, Column: row.EndCol},
		},
		IsExported:  row.IsExported,
		Signature:   row.Signature,
		Fingerprint: row.Fingerprint,
		Detail:      detail,
	}
}
