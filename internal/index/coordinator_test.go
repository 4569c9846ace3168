package index

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flanksource/code-ledger/internal/store"
	"github.com/flanksource/code-ledger/internal/watch"
	"github.com/flanksource/code-ledger/languages"
	"github.com/flanksource/code-ledger/models"
)

type fixture struct {
	t           *testing.T
	root        string
	store       *store.Store
	files       *store.FileRepo
	symbols     *store.SymbolRepo
	relations   *store.RelationRepo
	coordinator *Coordinator
	results     chan models.IndexResult

	detectCalled atomic.Int32
	aliasLoads   atomic.Int32
	discoveries  atomic.Int32
}

type testParser struct {
	frontend *languages.TypeScriptFrontend
	failOn   map[string]bool
	delay    time.Duration
}

func (p *testParser) Parse(filePath, sourceText string) (*languages.ParsedFile, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.failOn[filePath] {
		return nil, errors.New("simulated parse failure")
	}
	return p.frontend.Parse(filePath, sourceText)
}

func newFixture(t *testing.T, parser *testParser) *fixture {
	t.Helper()
	root := t.TempDir()

	s, err := store.Open(filepath.Join(root, ".code-ledger", store.DatabaseFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		t:         t,
		root:      root,
		store:     s,
		files:     store.NewFileRepo(s),
		symbols:   store.NewSymbolRepo(s),
		relations: store.NewRelationRepo(s),
		results:   make(chan models.IndexResult, 16),
	}

	frontend := languages.NewTypeScriptFrontend()
	if parser == nil {
		parser = &testParser{frontend: frontend}
	}
	parser.frontend = frontend

	coordinator, err := NewCoordinator(Dependencies{
		Store:           s,
		Files:           f.files,
		Symbols:         f.symbols,
		Relations:       f.relations,
		Parser:          parser,
		SymbolExtractor: frontend,
		RelationExtractor: relationFunc(func(pf *languages.ParsedFile, aliases languages.AliasTable) []languages.CodeRelation {
			return frontend.ExtractRelations(pf, aliases)
		}),
		DiscoverProjects: func(string) ([]languages.ProjectBoundary, error) {
			f.discoveries.Add(1)
			return []languages.ProjectBoundary{{Dir: ".", Name: "p"}}, nil
		},
		ResolveProject: languages.ResolveFileProject,
		LoadAliases: func(string) (languages.AliasTable, error) {
			f.aliasLoads.Add(1)
			return languages.AliasTable{}, nil
		},
		Detect: func(opts watch.DetectOptions) (*watch.ChangeSet, error) {
			f.detectCalled.Add(1)
			return watch.DetectChanges(opts)
		},
	}, Options{
		WorkspaceRoot: root,
		Extensions:    []string{".ts"},
		Debounce:      30 * time.Millisecond,
	}, []languages.ProjectBoundary{{Dir: ".", Name: "p"}})
	require.NoError(t, err)

	f.coordinator = coordinator
	coordinator.OnIndexed(func(result models.IndexResult) { f.results <- result })
	t.Cleanup(coordinator.Shutdown)
	return f
}

type relationFunc func(pf *languages.ParsedFile, aliases languages.AliasTable) []languages.CodeRelation

func (fn relationFunc) Extract(pf *languages.ParsedFile, aliases languages.AliasTable) []languages.CodeRelation {
	return fn(pf, aliases)
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(f.t, os.WriteFile(abs, []byte(content), 0644))
}

func (f *fixture) remove(rel string) {
	f.t.Helper()
	require.NoError(f.t, os.Remove(filepath.Join(f.root, filepath.FromSlash(rel))))
}

func (f *fixture) nextResult() models.IndexResult {
	f.t.Helper()
	select {
	case result := <-f.results:
		return result
	case <-time.After(5 * time.Second):
		f.t.Fatal("timed out waiting for an indexing run")
		return models.IndexResult{}
	}
}

func (f *fixture) assertIdle() {
	f.t.Helper()
	f.coordinator.mu.Lock()
	defer f.coordinator.mu.Unlock()
	assert.False(f.t, f.coordinator.indexing, "indexing lock must be released")
	assert.Nil(f.t, f.coordinator.current, "current run must be cleared")
}

func TestCoordinator_FullIndex(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/util.ts", "export function helper(x) { return x }\n")
	f.write("src/user.ts", "import { helper } from './util'\nexport function loadUser(id) { return helper(id) }\n")

	result, err := f.coordinator.FullIndex()
	require.NoError(t, err)
	f.nextResult()

	assert.Equal(t, 2, result.IndexedFiles)
	assert.Empty(t, result.FailedFiles)
	assert.GreaterOrEqual(t, result.TotalSymbols, 2)
	assert.GreaterOrEqual(t, result.TotalRelations, 1)
	f.assertIdle()

	// The file, its symbols and its relations share one content hash.
	record, err := f.files.GetFile("p", "src/user.ts")
	require.NoError(t, err)
	require.NotNil(t, record)
	symbols, err := f.symbols.GetFileSymbols("p", "src/user.ts")
	require.NoError(t, err)
	require.NotEmpty(t, symbols)
	for _, symbol := range symbols {
		assert.Equal(t, record.ContentHash, symbol.ContentHash)
	}
	outgoing, err := f.relations.GetOutgoing("p", "src/user.ts", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, outgoing)
}

func TestCoordinator_FullIndexTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/a.ts", "export function one() { return 1 }\n")
	f.write("src/b.ts", "import { one } from './a'\nexport const two = one\n")

	_, err := f.coordinator.FullIndex()
	require.NoError(t, err)
	f.nextResult()
	first := f.snapshotSymbols()

	_, err = f.coordinator.FullIndex()
	require.NoError(t, err)
	f.nextResult()
	second := f.snapshotSymbols()

	assert.Equal(t, first, second, "an unchanged tree indexes to the same symbol set")
}

// snapshotSymbols captures the symbol rows without their generated ids and
// timestamps, which legitimately differ between rebuilds.
func (f *fixture) snapshotSymbols() map[string][]string {
	f.t.Helper()
	snapshot := map[string][]string{}
	for _, path := range []string{"src/a.ts", "src/b.ts"} {
		symbols, err := f.symbols.GetFileSymbols("p", path)
		require.NoError(f.t, err)
		for _, s := range symbols {
			fp := ""
			if s.Fingerprint != nil {
				fp = *s.Fingerprint
			}
			snapshot[path] = append(snapshot[path], s.Name+"|"+string(s.Kind)+"|"+fp+"|"+s.ContentHash)
		}
	}
	return snapshot
}

func TestCoordinator_IncrementalWithExplicitEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/a.ts", "export const a = 1\n")

	result, err := f.coordinator.IncrementalIndex([]models.FileEvent{
		{Type: models.FileEventCreate, FilePath: "src/a.ts"},
	})
	require.NoError(t, err)
	f.nextResult()

	assert.Equal(t, 1, result.IndexedFiles)
	assert.Equal(t, []string{"src/a.ts"}, result.ChangedFiles)
	assert.EqualValues(t, 0, f.detectCalled.Load(), "explicit events must not consult the change detector")
}

func TestCoordinator_IncrementalWithoutEventsUsesDetector(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/a.ts", "export const a = 1\n")

	result, err := f.coordinator.IncrementalIndex(nil)
	require.NoError(t, err)
	f.nextResult()

	assert.Equal(t, 1, result.IndexedFiles)
	assert.EqualValues(t, 1, f.detectCalled.Load())
}

func TestCoordinator_EmptyEventList(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/a.ts", "export const a = 1\n")

	result, err := f.coordinator.IncrementalIndex([]models.FileEvent{})
	require.NoError(t, err)
	f.nextResult()

	assert.Equal(t, 0, result.IndexedFiles)
	assert.Empty(t, result.ChangedFiles)
	assert.EqualValues(t, 0, f.detectCalled.Load())
}

func TestCoordinator_DeleteEventRemovesFile(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/a.ts", "export const a = 1\n")

	_, err := f.coordinator.FullIndex()
	require.NoError(t, err)
	f.nextResult()

	f.remove("src/a.ts")
	result, err := f.coordinator.IncrementalIndex([]models.FileEvent{
		{Type: models.FileEventDelete, FilePath: "src/a.ts"},
	})
	require.NoError(t, err)
	f.nextResult()

	assert.Equal(t, 1, result.RemovedFiles)
	assert.Equal(t, []string{"src/a.ts"}, result.DeletedFiles)

	record, err := f.files.GetFile("p", "src/a.ts")
	require.NoError(t, err)
	assert.Nil(t, record)
	symbols, err := f.symbols.GetFileSymbols("p", "src/a.ts")
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestCoordinator_DebounceCoalescesEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/a.ts", "export const a = 1\n")
	f.write("src/b.ts", "export const b = 2\n")
	f.write("src/c.ts", "export const c = 3\n")

	f.coordinator.HandleWatcherEvent(models.FileEvent{Type: models.FileEventCreate, FilePath: "src/a.ts"})
	time.Sleep(5 * time.Millisecond)
	f.coordinator.HandleWatcherEvent(models.FileEvent{Type: models.FileEventCreate, FilePath: "src/b.ts"})
	f.coordinator.HandleWatcherEvent(models.FileEvent{Type: models.FileEventChange, FilePath: "src/c.ts"})

	// Intake is non-blocking: nothing runs before the debounce window ends.
	f.coordinator.mu.Lock()
	assert.False(t, f.coordinator.indexing)
	f.coordinator.mu.Unlock()

	result := f.nextResult()
	assert.Equal(t, 3, result.IndexedFiles)
	assert.Equal(t, []string{"src/a.ts", "src/b.ts", "src/c.ts"}, result.ChangedFiles,
		"one batch, arrival order preserved")

	select {
	case extra := <-f.results:
		t.Fatalf("expected exactly one run, got another with %d files", extra.IndexedFiles)
	case <-time.After(150 * time.Millisecond):
	}
	f.assertIdle()
}

func TestCoordinator_ParseFailureIsContained(t *testing.T) {
	f := newFixture(t, &testParser{failOn: map[string]bool{"src/bad.ts": true}})
	f.write("src/good.ts", "export const g = 1\n")
	f.write("src/bad.ts", "export const b = 2\n")
	f.write("src/also.ts", "export const a = 3\n")

	result, err := f.coordinator.IncrementalIndex([]models.FileEvent{
		{Type: models.FileEventCreate, FilePath: "src/good.ts"},
		{Type: models.FileEventCreate, FilePath: "src/bad.ts"},
		{Type: models.FileEventCreate, FilePath: "src/also.ts"},
	})
	require.NoError(t, err)
	f.nextResult()

	assert.Equal(t, 2, result.IndexedFiles)
	assert.Equal(t, []string{"src/bad.ts"}, result.FailedFiles)
	f.assertIdle()

	// The lock invariant holds: a subsequent run succeeds.
	result, err = f.coordinator.IncrementalIndex([]models.FileEvent{
		{Type: models.FileEventChange, FilePath: "src/good.ts"},
	})
	require.NoError(t, err)
	f.nextResult()
	assert.Equal(t, 1, result.IndexedFiles)
}

func TestCoordinator_MoveRetargetingUniqueMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/old.ts", "export function movedFn(a, b) { return a }\n")
	f.write("src/other.ts", "import { movedFn } from './old'\nexport const use = movedFn\n")

	_, err := f.coordinator.FullIndex()
	require.NoError(t, err)
	f.nextResult()

	incoming, err := f.relations.GetIncoming("p", "src/old.ts")
	require.NoError(t, err)
	require.NotEmpty(t, incoming, "fixture needs a relation pointing at the old file")

	// The same definition moves to a new file.
	f.remove("src/old.ts")
	f.write("src/new.ts", "export function movedFn(a, b) { return a }\n")

	_, err = f.coordinator.IncrementalIndex([]models.FileEvent{
		{Type: models.FileEventDelete, FilePath: "src/old.ts"},
		{Type: models.FileEventCreate, FilePath: "src/new.ts"},
	})
	require.NoError(t, err)
	f.nextResult()

	retargeted, err := f.relations.GetIncoming("p", "src/new.ts")
	require.NoError(t, err)
	found := false
	for _, rel := range retargeted {
		if rel.DstSymbolName != nil && *rel.DstSymbolName == "movedFn" {
			found = true
		}
	}
	assert.True(t, found, "the symbol-level relation follows the move")
}

func TestCoordinator_MoveRetargetingAmbiguousIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/old.ts", "export function dupFn(x) { return x }\n")
	f.write("src/other.ts", "import { dupFn } from './old'\nexport const use = dupFn\n")

	_, err := f.coordinator.FullIndex()
	require.NoError(t, err)
	f.nextResult()

	f.remove("src/old.ts")
	f.write("src/new1.ts", "export function dupFn(x) { return x }\n")
	f.write("src/new2.ts", "export function dupFn(x) { return x }\n")

	_, err = f.coordinator.IncrementalIndex([]models.FileEvent{
		{Type: models.FileEventDelete, FilePath: "src/old.ts"},
		{Type: models.FileEventCreate, FilePath: "src/new1.ts"},
		{Type: models.FileEventCreate, FilePath: "src/new2.ts"},
	})
	require.NoError(t, err)
	f.nextResult()

	for _, path := range []string{"src/new1.ts", "src/new2.ts"} {
		incoming, err := f.relations.GetIncoming("p", path)
		require.NoError(t, err)
		for _, rel := range incoming {
			if rel.SrcFilePath == "src/other.ts" && rel.DstSymbolName != nil {
				t.Fatalf("ambiguous fingerprint must not be retargeted, found edge to %s", path)
			}
		}
	}
}

func TestCoordinator_TsconfigEventReloadsAliasesAndRunsFullIndex(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/a.ts", "export const a = 1\n")
	require.Eventually(t, func() bool { return f.aliasLoads.Load() == 1 },
		time.Second, 5*time.Millisecond, "aliases load once at construction")

	f.write("tsconfig.json", `{"compilerOptions":{"paths":{}}}`)
	f.coordinator.HandleWatcherEvent(models.FileEvent{Type: models.FileEventChange, FilePath: "tsconfig.json"})

	result := f.nextResult()
	assert.Equal(t, 1, result.IndexedFiles, "a full rebuild indexes the workspace")
	assert.EqualValues(t, 2, f.aliasLoads.Load(), "the alias table reloads on tsconfig changes")
}

func TestCoordinator_PackageJsonEventRefreshesBoundaries(t *testing.T) {
	f := newFixture(t, nil)
	f.write("package.json", `{"name":"p"}`)

	f.coordinator.HandleWatcherEvent(models.FileEvent{Type: models.FileEventChange, FilePath: "package.json"})
	result := f.nextResult()

	assert.EqualValues(t, 1, f.discoveries.Load(), "a manifest event schedules a boundary refresh")
	assert.Contains(t, result.ChangedFiles, "package.json", "the event itself still rides the buffer")
}

func TestCoordinator_PendingFullRunsAfterCurrent(t *testing.T) {
	f := newFixture(t, &testParser{delay: 100 * time.Millisecond})
	f.write("src/a.ts", "export const a = 1\n")
	f.write("src/b.ts", "export const b = 2\n")

	// Hold the lock with a slow incremental run, then request a full rebuild.
	incremental := f.coordinator.startIndex(false, []models.FileEvent{
		{Type: models.FileEventCreate, FilePath: "src/a.ts"},
	})
	time.Sleep(10 * time.Millisecond)

	queued := f.coordinator.startIndex(true, nil)
	assert.Same(t, incremental, queued, "a locked full request waits on the current run")

	first := f.nextResult()
	assert.Equal(t, 1, first.IndexedFiles, "the in-flight incremental completes first")

	second := f.nextResult()
	assert.Equal(t, 2, second.IndexedFiles, "the queued full rebuild follows")
	f.assertIdle()
}

func TestCoordinator_SubscriberOrderAndUnsubscribe(t *testing.T) {
	f := newFixture(t, nil)
	f.write("src/a.ts", "export const a = 1\n")

	var mu sync.Mutex
	var order []string
	record := func(tag string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, tag)
	}
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string{}, order...)
	}

	unsubA := f.coordinator.OnIndexed(func(models.IndexResult) { record("a") })
	f.coordinator.OnIndexed(func(models.IndexResult) { panic("bad subscriber") })
	f.coordinator.OnIndexed(func(models.IndexResult) { record("b") })

	_, err := f.coordinator.FullIndex()
	require.NoError(t, err)
	f.nextResult()
	require.Eventually(t, func() bool { return len(snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, snapshot(), "registration order, panics swallowed")

	unsubA()
	mu.Lock()
	order = nil
	mu.Unlock()

	_, err = f.coordinator.FullIndex()
	require.NoError(t, err)
	f.nextResult()
	require.Eventually(t, func() bool { return len(snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b"}, snapshot(), "an unsubscribed callback never fires again")
}

func TestCoordinator_ShutdownWaitsForCurrentRun(t *testing.T) {
	f := newFixture(t, &testParser{delay: 50 * time.Millisecond})
	f.write("src/a.ts", "export const a = 1\n")

	run := f.coordinator.startIndex(false, []models.FileEvent{
		{Type: models.FileEventCreate, FilePath: "src/a.ts"},
	})
	f.coordinator.Shutdown()

	select {
	case <-run.done:
	default:
		t.Fatal("shutdown must wait for the in-flight run")
	}

	f.coordinator.HandleWatcherEvent(models.FileEvent{Type: models.FileEventChange, FilePath: "src/a.ts"})
	f.coordinator.mu.Lock()
	assert.Nil(t, f.coordinator.timer, "events after shutdown are ignored")
	f.coordinator.mu.Unlock()
}
