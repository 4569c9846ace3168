package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/flanksource/code-ledger/internal/store"
	"github.com/flanksource/code-ledger/internal/watch"
	"github.com/flanksource/code-ledger/languages"
	"github.com/flanksource/code-ledger/models"
)

// DebounceInterval is how long watcher events are buffered before a batch
// flush starts an incremental run.
const DebounceInterval = 100 * time.Millisecond

const defaultParseCacheSize = 500

const preReadConcurrency = 8

// Dependencies is the collaborator bundle injected into the coordinator.
// Subsystems take only what they use; there are no process-wide registries.
type Dependencies struct {
	Store     *store.Store
	Files     *store.FileRepo
	Symbols   *store.SymbolRepo
	Relations *store.RelationRepo

	Parser            languages.Parser
	SymbolExtractor   languages.SymbolExtractor
	RelationExtractor languages.RelationExtractor

	DiscoverProjects func(root string) ([]languages.ProjectBoundary, error)
	ResolveProject   func(rel string, boundaries []languages.ProjectBoundary) string
	LoadAliases      func(root string) (languages.AliasTable, error)
	Detect           func(opts watch.DetectOptions) (*watch.ChangeSet, error)
}

// Options configure one coordinator.
type Options struct {
	WorkspaceRoot  string
	Extensions     []string
	IgnorePatterns []string
	ParseCacheSize int
	Debounce       time.Duration // 0 means DebounceInterval
}

type subscriber struct {
	id int
	fn func(models.IndexResult)
}

// Coordinator turns file-change events into atomic updates of the persistent
// index. A single boolean lock gates entry to indexing runs; events arriving
// while a run is in flight are buffered and drained by the run's finalizer,
// so they are never lost and never processed twice by the current run.
type Coordinator struct {
	deps Dependencies
	opts Options

	mu          sync.Mutex
	indexing    bool
	pending     []models.FileEvent
	timer       *time.Timer
	current     *run
	pendingFull bool
	subscribers []subscriber
	nextSubID   int
	closed      bool

	boundaries        []languages.ProjectBoundary
	aliases           *aliasFuture
	boundariesRefresh *boundariesFuture

	parseCache *lru.Cache[string, *languages.ParsedFile]
}

// NewCoordinator builds a coordinator over the injected collaborators and
// starts the initial alias load in the background.
func NewCoordinator(deps Dependencies, opts Options, boundaries []languages.ProjectBoundary) (*Coordinator, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DebounceInterval
	}
	if opts.ParseCacheSize <= 0 {
		opts.ParseCacheSize = defaultParseCacheSize
	}
	cache, err := lru.New[string, *languages.ParsedFile](opts.ParseCacheSize)
	if err != nil {
		return nil, models.NewCoordinatorError("init", err)
	}

	c := &Coordinator{
		deps:       deps,
		opts:       opts,
		boundaries: boundaries,
		parseCache: cache,
	}
	c.aliases = newAliasFuture(func() (languages.AliasTable, error) {
		return deps.LoadAliases(opts.WorkspaceRoot)
	})
	return c, nil
}

// FullIndex forces a from-scratch rebuild and blocks until a run completes.
// If a run is already in flight the rebuild is queued behind it and the
// in-flight run's result is returned, matching the single-writer contract.
func (c *Coordinator) FullIndex() (*models.IndexResult, error) {
	return c.startIndex(true, nil).wait()
}

// IncrementalIndex processes the given events, or whatever the change
// detector reports when events is nil.
func (c *Coordinator) IncrementalIndex(events []models.FileEvent) (*models.IndexResult, error) {
	return c.startIndex(false, events).wait()
}

// OnIndexed registers a callback invoked after every completed run, in
// registration order. The returned function unsubscribes.
func (c *Coordinator) OnIndexed(fn func(models.IndexResult)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subscribers = lo.Filter(c.subscribers, func(s subscriber, _ int) bool {
			return s.id != id
		})
	}
}

// HandleWatcherEvent is the non-blocking intake used by the watcher callback.
// It never starts indexing synchronously: it either arms the debounce timer
// or appends to the buffer of an already-armed window.
func (c *Coordinator) HandleWatcherEvent(event models.FileEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if strings.HasSuffix(event.FilePath, "tsconfig.json") {
		logger.Infof("tsconfig change detected, reloading path aliases and scheduling full index")
		c.mu.Lock()
		c.aliases = newAliasFuture(func() (languages.AliasTable, error) {
			return c.deps.LoadAliases(c.opts.WorkspaceRoot)
		})
		c.mu.Unlock()
		c.startIndex(true, nil)
		return
	}

	if strings.HasSuffix(event.FilePath, "package.json") {
		logger.Debugf("manifest change detected, rediscovering project boundaries")
		c.mu.Lock()
		c.boundariesRefresh = newBoundariesFuture(func() ([]languages.ProjectBoundary, error) {
			return c.deps.DiscoverProjects(c.opts.WorkspaceRoot)
		})
		c.mu.Unlock()
		// The event itself still enters the buffer below.
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, event)
	if c.timer == nil {
		c.timer = time.AfterFunc(c.opts.Debounce, c.flushDebounce)
	}
}

// Shutdown cancels the debounce timer and waits for any in-flight run.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	current := c.current
	c.mu.Unlock()

	if current != nil {
		<-current.done
	}
}

func (c *Coordinator) flushDebounce() {
	c.mu.Lock()
	c.timer = nil
	if c.closed || c.indexing {
		// The in-flight run's finalizer drains the buffer.
		c.mu.Unlock()
		return
	}
	events := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(events) > 0 {
		c.startIndex(false, events)
	}
}

// startIndex is the single gate onto the indexing lock. While a run is in
// flight, full requests are remembered and incremental events re-buffered;
// both get the current run back to wait on.
func (c *Coordinator) startIndex(full bool, events []models.FileEvent) *run {
	c.mu.Lock()
	if c.indexing {
		if full {
			c.pendingFull = true
		} else if len(events) > 0 {
			c.pending = append(c.pending, events...)
		}
		current := c.current
		c.mu.Unlock()
		return current
	}

	c.indexing = true
	r := newRun()
	c.current = r
	c.mu.Unlock()

	go c.execute(r, full, events)
	return r
}

func (c *Coordinator) execute(r *run, full bool, events []models.FileEvent) {
	defer c.finish()

	result, err := c.doIndex(events, full)
	r.result = result
	r.err = err
	close(r.done)

	if err != nil {
		logger.Errorf("indexing run failed: %v", err)
		return
	}
	c.notify(*result)
}

// finish is the always-executed finalizer: release the lock, clear the
// current run, then start whatever queued up — a pending full rebuild first,
// otherwise a drain of buffered events.
func (c *Coordinator) finish() {
	c.mu.Lock()
	c.indexing = false
	c.current = nil
	full := c.pendingFull
	c.pendingFull = false

	var events []models.FileEvent
	if !full && len(c.pending) > 0 && !c.closed {
		events = c.pending
		c.pending = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	if full {
		c.startIndex(true, nil)
	} else if len(events) > 0 {
		c.startIndex(false, events)
	}
}

func (c *Coordinator) notify(result models.IndexResult) {
	c.mu.Lock()
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warnf("index subscriber panicked: %v", r)
				}
			}()
			s.fn(result)
		}()
	}
}

// preRead is the in-memory capture of one changed file, collected before the
// full-index transaction so the transaction body stays free of I/O.
type preRead struct {
	Path    string
	Text    string
	Hash    string
	MtimeMs int64
	Size    int64
}

// doIndex executes one run. Events of nil means "ask the change detector".
// When full is set, every file row is dropped and repopulated inside a
// single transaction fed by a concurrent pre-read.
func (c *Coordinator) doIndex(events []models.FileEvent, full bool) (*models.IndexResult, error) {
	started := time.Now()

	// A manifest event may have scheduled a boundary refresh; only the
	// freshest one matters.
	c.mu.Lock()
	refresh := c.boundariesRefresh
	c.boundariesRefresh = nil
	c.mu.Unlock()
	if refresh != nil {
		if boundaries, err := refresh.wait(); err != nil {
			logger.Warnf("project boundary refresh failed, keeping previous boundaries: %v", err)
		} else {
			c.boundaries = boundaries
		}
	}

	changed, unchanged, deleted, err := c.classify(events)
	if err != nil {
		return nil, err
	}
	if full {
		// A rebuild drops every row, so files the detector saw as unchanged
		// must be re-read and re-indexed along with the changed ones.
		changed = append(changed, unchanged...)
	}

	aliases := c.awaitAliases()

	// Snapshot symbols of files about to disappear so relations pointing at
	// them can be retargeted when the same fingerprints resurface elsewhere.
	snapshots := map[string][]models.Symbol{}
	for _, path := range deleted {
		project := c.resolveProject(path)
		symbols, err := c.deps.Symbols.GetFileSymbols(project, path)
		if err != nil {
			logger.Warnf("failed to snapshot symbols of %s: %v", path, err)
			continue
		}
		if len(symbols) > 0 {
			snapshots[path] = symbols
		}
	}

	result := &models.IndexResult{
		ChangedFiles: lo.Map(changed, func(e watch.FileEntry, _ int) string { return e.FilePath }),
		DeletedFiles: deleted,
	}

	if full {
		if err := c.applyFull(changed, aliases, result); err != nil {
			return nil, err
		}
	} else {
		c.applyIncremental(changed, deleted, aliases, result)
	}

	c.retargetMoves(snapshots)

	result.DurationMs = time.Since(started).Milliseconds()
	return result, nil
}

// classify splits the work into changed entries and deleted paths. An
// explicit event list is used as-is — the change detector is not consulted —
// with content hashes left empty to be filled on read.
func (c *Coordinator) classify(events []models.FileEvent) (changed, unchanged []watch.FileEntry, deleted []string, err error) {
	if events != nil {
		seenChanged := map[string]bool{}
		seenDeleted := map[string]bool{}
		for _, event := range events {
			switch event.Type {
			case models.FileEventCreate, models.FileEventChange:
				if !seenChanged[event.FilePath] {
					seenChanged[event.FilePath] = true
					changed = append(changed, watch.FileEntry{FilePath: event.FilePath})
				}
			case models.FileEventDelete:
				if !seenDeleted[event.FilePath] {
					seenDeleted[event.FilePath] = true
					deleted = append(deleted, event.FilePath)
				}
			}
		}
		return changed, nil, deleted, nil
	}

	known := map[string]models.FileRecord{}
	for _, boundary := range c.boundaries {
		files, err := c.deps.Files.GetFilesMap(boundary.Name)
		if err != nil {
			return nil, nil, nil, models.NewCoordinatorError("load file map", err)
		}
		for path, record := range files {
			known[path] = record
		}
	}

	cs, err := c.deps.Detect(watch.DetectOptions{
		WorkspaceRoot:  c.opts.WorkspaceRoot,
		Extensions:     c.opts.Extensions,
		IgnorePatterns: c.opts.IgnorePatterns,
		Known:          known,
	})
	if err != nil {
		return nil, nil, nil, models.NewCoordinatorError("detect changes", err)
	}
	return cs.Changed, cs.Unchanged, cs.Deleted, nil
}

func (c *Coordinator) awaitAliases() languages.AliasTable {
	c.mu.Lock()
	future := c.aliases
	c.mu.Unlock()
	if future == nil {
		return nil
	}
	table, err := future.wait()
	if err != nil {
		logger.Warnf("path alias load failed: %v", err)
		return nil
	}
	return table
}

// applyIncremental deletes removed files and processes changed files one by
// one, outside any transaction. A failure in one file is recorded and never
// stops the batch.
func (c *Coordinator) applyIncremental(changed []watch.FileEntry, deleted []string, aliases languages.AliasTable, result *models.IndexResult) {
	for _, path := range deleted {
		project := c.resolveProject(path)
		if err := c.deps.Relations.DeleteFileRelations(project, path); err != nil {
			logger.Warnf("failed to delete relations of %s: %v", path, err)
		}
		if err := c.deps.Symbols.DeleteFileSymbols(project, path); err != nil {
			logger.Warnf("failed to delete symbols of %s: %v", path, err)
		}
		if err := c.deps.Files.DeleteFile(project, path); err != nil {
			logger.Warnf("failed to delete file record of %s: %v", path, err)
			continue
		}
		result.RemovedFiles++
	}

	for _, entry := range changed {
		pre, err := c.readEntry(entry)
		if err != nil {
			logger.Warnf("failed to read %s: %v", entry.FilePath, err)
			result.FailedFiles = append(result.FailedFiles, entry.FilePath)
			continue
		}
		if err := c.indexOne(pre, aliases, result); err != nil {
			logger.Warnf("failed to index %s: %v", entry.FilePath, err)
			result.FailedFiles = append(result.FailedFiles, entry.FilePath)
		}
	}
}

// applyFull pre-reads every changed file concurrently, then rebuilds the
// whole index in one synchronous transaction: all file rows of every known
// boundary are dropped (cascading to symbols and relations) and repopulated
// from the pre-read snapshots. The split exists because the transaction body
// must not suspend on I/O.
func (c *Coordinator) applyFull(changed []watch.FileEntry, aliases languages.AliasTable, result *models.IndexResult) error {
	reads := make([]*preRead, len(changed))
	var readsMu sync.Mutex

	var group errgroup.Group
	group.SetLimit(preReadConcurrency)
	for i, entry := range changed {
		i, entry := i, entry
		group.Go(func() error {
			pre, err := c.readEntry(entry)
			if err != nil {
				readsMu.Lock()
				result.FailedFiles = append(result.FailedFiles, entry.FilePath)
				readsMu.Unlock()
				logger.Warnf("failed to read %s: %v", entry.FilePath, err)
				return nil
			}
			reads[i] = pre
			return nil
		})
	}
	_ = group.Wait()

	err := c.deps.Store.Transaction(func(tx *gorm.DB) error {
		projects := lo.Uniq(lo.Map(c.boundaries, func(b languages.ProjectBoundary, _ int) string {
			return b.Name
		}))
		for _, project := range projects {
			if err := c.deps.Files.DeleteProjectFiles(project); err != nil {
				return err
			}
		}

		for _, pre := range reads {
			if pre == nil {
				continue
			}
			if err := c.indexOne(pre, aliases, result); err != nil {
				logger.Warnf("failed to index %s: %v", pre.Path, err)
				result.FailedFiles = append(result.FailedFiles, pre.Path)
			}
		}
		return nil
	})
	if err != nil {
		return models.NewCoordinatorError("full rebuild", err)
	}
	return nil
}

// readEntry loads a changed file from disk, filling hash, mtime and size
// when the change detector left them empty.
func (c *Coordinator) readEntry(entry watch.FileEntry) (*preRead, error) {
	abs := filepath.Join(c.opts.WorkspaceRoot, filepath.FromSlash(entry.FilePath))
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	pre := &preRead{
		Path:    entry.FilePath,
		Text:    string(data),
		Hash:    entry.ContentHash,
		MtimeMs: entry.MtimeMs,
		Size:    entry.Size,
	}
	if pre.Hash == "" {
		pre.Hash = languages.HashString(pre.Text)
	}
	if pre.MtimeMs == 0 || pre.Size == 0 {
		if info, err := os.Stat(abs); err == nil {
			pre.MtimeMs = info.ModTime().UnixMilli()
			pre.Size = info.Size()
		}
	}
	return pre, nil
}

// indexOne parses one file, persists its record, and replaces its symbols
// and relations. Inside a full rebuild the writes join the open transaction
// through the store's transaction state; the per-file replace operations
// become savepoints on it.
func (c *Coordinator) indexOne(pre *preRead, aliases languages.AliasTable, result *models.IndexResult) error {
	project := c.resolveProject(pre.Path)

	parsed, err := c.parseCached(pre.Path, pre.Text, pre.Hash)
	if err != nil {
		return models.NewParseError(pre.Path, err)
	}

	record := &models.FileRecord{
		Project:     project,
		FilePath:    pre.Path,
		MtimeMs:     pre.MtimeMs,
		Size:        pre.Size,
		ContentHash: pre.Hash,
		UpdatedAt:   time.Now().UnixMilli(),
	}
	if err := c.deps.Files.UpsertFile(record); err != nil {
		return err
	}

	extracted := c.deps.SymbolExtractor.Extract(parsed)
	symbols := make([]models.Symbol, 0, len(extracted))
	for _, e := range extracted {
		fingerprint := languages.Fingerprint(e.Name, e.Kind, e.Signature)
		symbol := models.Symbol{
			Kind:        e.Kind,
			Name:        e.Name,
			StartLine:   e.StartLine,
			StartCol:    e.StartCol,
			EndLine:     e.EndLine,
			EndCol:      e.EndCol,
			IsExported:  e.IsExported,
			Signature:   e.Signature,
			Fingerprint: &fingerprint,
			DetailJSON:  marshalDetail(e.Detail),
		}
		symbols = append(symbols, symbol)
	}
	if err := c.deps.Symbols.ReplaceFileSymbols(project, pre.Path, pre.Hash, symbols); err != nil {
		return err
	}

	extractedRels := c.deps.RelationExtractor.Extract(parsed, aliases)
	relations := make([]models.Relation, 0, len(extractedRels))
	for _, e := range extractedRels {
		relations = append(relations, models.Relation{
			Type:          e.Type,
			SrcSymbolName: e.SrcSymbolName,
			DstFilePath:   e.DstFilePath,
			DstSymbolName: e.DstSymbolName,
			Meta:          e.Meta,
		})
	}
	if err := c.deps.Relations.ReplaceFileRelations(project, pre.Path, relations); err != nil {
		return err
	}

	result.IndexedFiles++
	result.TotalSymbols += len(symbols)
	result.TotalRelations += len(relations)
	return nil
}

// retargetMoves re-points relations at symbols that disappeared with a
// deleted file and reappeared, by fingerprint, in exactly one new location.
// Ambiguous matches and missing fingerprints are silently skipped.
func (c *Coordinator) retargetMoves(snapshots map[string][]models.Symbol) {
	for oldPath, symbols := range snapshots {
		project := c.resolveProject(oldPath)
		for _, symbol := range symbols {
			if symbol.Fingerprint == nil {
				continue
			}
			matches, err := c.deps.Symbols.GetByFingerprint(project, *symbol.Fingerprint)
			if err != nil {
				logger.Debugf("fingerprint lookup failed for %s: %v", symbol.Name, err)
				continue
			}
			if len(matches) != 1 {
				continue
			}
			target := matches[0]
			name := symbol.Name
			updated, err := c.deps.Relations.RetargetRelations(project, oldPath, &name, target.FilePath, &target.Name)
			if err != nil {
				logger.Warnf("failed to retarget relations of %s: %v", symbol.Name, err)
				continue
			}
			if updated > 0 {
				logger.Debugf("retargeted %d relations: %s moved %s -> %s", updated, symbol.Name, oldPath, target.FilePath)
			}
		}
	}
}

func (c *Coordinator) parseCached(path, text, hash string) (*languages.ParsedFile, error) {
	key := path + "@" + hash
	if cached, ok := c.parseCache.Get(key); ok {
		return cached, nil
	}
	parsed, err := c.deps.Parser.Parse(path, text)
	if err != nil {
		return nil, err
	}
	c.parseCache.Add(key, parsed)
	return parsed, nil
}

func (c *Coordinator) resolveProject(relPath string) string {
	return c.deps.ResolveProject(relPath, c.boundaries)
}

// Boundaries returns the coordinator's current project boundaries.
func (c *Coordinator) Boundaries() []languages.ProjectBoundary {
	return c.boundaries
}

func marshalDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return ""
	}
	return string(data)
}
