package store

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flanksource/code-ledger/models"
)

func seedFile(t *testing.T, s *Store, project, path string) {
	t.Helper()
	require.NoError(t, NewFileRepo(s).UpsertFile(&models.FileRecord{
		Project: project, FilePath: path, MtimeMs: 1, Size: 1, ContentHash: "h", UpdatedAt: 1,
	}))
}

func sym(name string, kind models.SymbolKind) models.Symbol {
	return models.Symbol{
		Kind: kind, Name: name,
		StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 10,
	}
}

func TestSymbolRepo_ReplaceAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := NewSymbolRepo(s)
	seedFile(t, s, "p", "a.ts")

	first := []models.Symbol{sym("one", models.SymbolKindFunction), sym("two", models.SymbolKindClass)}
	require.NoError(t, repo.ReplaceFileSymbols("p", "a.ts", "h1", first))

	got, err := repo.GetFileSymbols("p", "a.ts")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"},
		lo.Map(got, func(s models.Symbol, _ int) string { return s.Name }))
	for _, g := range got {
		assert.Equal(t, "h1", g.ContentHash)
	}

	// A second replace leaves no residue from the first write.
	second := []models.Symbol{sym("three", models.SymbolKindVariable)}
	require.NoError(t, repo.ReplaceFileSymbols("p", "a.ts", "h2", second))

	got, err = repo.GetFileSymbols("p", "a.ts")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "three", got[0].Name)
	assert.Equal(t, "h2", got[0].ContentHash)
}

func TestSymbolRepo_ReplaceWithEmptySet(t *testing.T) {
	s := newTestStore(t)
	repo := NewSymbolRepo(s)
	seedFile(t, s, "p", "a.ts")

	require.NoError(t, repo.ReplaceFileSymbols("p", "a.ts", "h", []models.Symbol{sym("gone", models.SymbolKindFunction)}))
	require.NoError(t, repo.ReplaceFileSymbols("p", "a.ts", "h", nil))

	got, err := repo.GetFileSymbols("p", "a.ts")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSymbolRepo_DeleteFileCascades(t *testing.T) {
	s := newTestStore(t)
	files := NewFileRepo(s)
	symbols := NewSymbolRepo(s)
	relations := NewRelationRepo(s)
	seedFile(t, s, "p", "a.ts")

	require.NoError(t, symbols.ReplaceFileSymbols("p", "a.ts", "h", []models.Symbol{sym("fn", models.SymbolKindFunction)}))
	require.NoError(t, relations.ReplaceFileRelations("p", "a.ts", []models.Relation{
		{Type: models.RelationTypeImports, DstFilePath: "b.ts"},
	}))

	require.NoError(t, files.DeleteFile("p", "a.ts"))

	gotSymbols, err := symbols.GetFileSymbols("p", "a.ts")
	require.NoError(t, err)
	assert.Empty(t, gotSymbols)

	gotRelations, err := relations.GetOutgoing("p", "a.ts", nil)
	require.NoError(t, err)
	assert.Empty(t, gotRelations)
}

func TestSymbolRepo_GetByFingerprint(t *testing.T) {
	s := newTestStore(t)
	repo := NewSymbolRepo(s)
	seedFile(t, s, "p", "a.ts")
	seedFile(t, s, "p", "b.ts")

	fp := "00000000deadbeef"
	withFp := sym("moved", models.SymbolKindFunction)
	withFp.Fingerprint = &fp
	require.NoError(t, repo.ReplaceFileSymbols("p", "a.ts", "h", []models.Symbol{withFp}))

	matches, err := repo.GetByFingerprint("p", fp)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a.ts", matches[0].FilePath)

	dup := sym("moved", models.SymbolKindFunction)
	dup.Fingerprint = &fp
	require.NoError(t, repo.ReplaceFileSymbols("p", "b.ts", "h", []models.Symbol{dup}))

	matches, err = repo.GetByFingerprint("p", fp)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSymbolRepo_SearchByQuery(t *testing.T) {
	s := newTestStore(t)
	repo := NewSymbolRepo(s)
	seedFile(t, s, "p", "user.ts")
	seedFile(t, s, "p", "service.ts")

	exported := sym("User", models.SymbolKindClass)
	exported.IsExported = true
	require.NoError(t, repo.ReplaceFileSymbols("p", "user.ts", "h", []models.Symbol{
		exported,
		sym("UserService", models.SymbolKindClass),
	}))
	require.NoError(t, repo.ReplaceFileSymbols("p", "service.ts", "h", []models.Symbol{
		sym("loadUser", models.SymbolKindFunction),
	}))

	t.Run("requires a limit", func(t *testing.T) {
		_, err := repo.SearchByQuery(models.SymbolQuery{})
		require.Error(t, err)
	})

	t.Run("fts prefix match with exact name first", func(t *testing.T) {
		project := "p"
		got, err := repo.SearchByQuery(models.SymbolQuery{
			FTSQuery: "User*", ExactName: "User", Project: &project, Limit: 10,
		})
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, "User", got[0].Name, "exact match orders first")
		names := lo.Map(got, func(s models.Symbol, _ int) string { return s.Name })
		assert.Contains(t, names, "UserService")
	})

	t.Run("kind filter on the base table", func(t *testing.T) {
		kind := models.SymbolKindFunction
		got, err := repo.SearchByQuery(models.SymbolQuery{Kind: &kind, Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "loadUser", got[0].Name)
	})

	t.Run("file path filter returns the last written set", func(t *testing.T) {
		path := "user.ts"
		got, err := repo.SearchByQuery(models.SymbolQuery{FilePath: &path, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("exported filter", func(t *testing.T) {
		isExported := true
		got, err := repo.SearchByQuery(models.SymbolQuery{IsExported: &isExported, Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "User", got[0].Name)
	})
}

func TestSymbolRepo_GetStats(t *testing.T) {
	s := newTestStore(t)
	repo := NewSymbolRepo(s)
	seedFile(t, s, "p", "a.ts")
	seedFile(t, s, "p", "b.ts")
	seedFile(t, s, "other", "c.ts")

	require.NoError(t, repo.ReplaceFileSymbols("p", "a.ts", "h", []models.Symbol{
		sym("one", models.SymbolKindFunction), sym("two", models.SymbolKindFunction),
	}))

	stats, err := repo.GetStats("p")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.FileCount)
	assert.EqualValues(t, 2, stats.SymbolCount)

	stats, err = repo.GetStats("other")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.FileCount)
	assert.EqualValues(t, 0, stats.SymbolCount)
}
