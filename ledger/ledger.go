package ledger

import (
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/flanksource/code-ledger/config"
	"github.com/flanksource/code-ledger/internal/index"
	"github.com/flanksource/code-ledger/internal/ownership"
	"github.com/flanksource/code-ledger/internal/store"
	"github.com/flanksource/code-ledger/internal/watch"
	"github.com/flanksource/code-ledger/languages"
	"github.com/flanksource/code-ledger/models"
	"github.com/flanksource/code-ledger/query"
	"github.com/flanksource/code-ledger/search"
)

const (
	// HeartbeatInterval is how often the owner refreshes its liveness row.
	HeartbeatInterval = 30 * time.Second
	// HealthcheckInterval is how often a reader retries acquisition.
	HealthcheckInterval = 60 * time.Second
)

// Options configure Open. WorkspaceRoot is required and must be an absolute
// path to an existing directory; everything else has defaults.
type Options struct {
	WorkspaceRoot  string
	Extensions     []string
	IgnorePatterns []string
	ParseCacheSize int

	// Injected language collaborators; the built-in TypeScript frontend is
	// used when left nil.
	Parser            languages.Parser
	SymbolExtractor   languages.SymbolExtractor
	RelationExtractor languages.RelationExtractor

	// Shortened in tests; zero means the production intervals.
	HeartbeatInterval   time.Duration
	HealthcheckInterval time.Duration
	Debounce            time.Duration

	// DisableSignalHandlers skips process-termination hooks (tests, hosts
	// that manage their own signals).
	DisableSignalHandlers bool
}

type registeredSub struct {
	id    int
	fn    func(models.IndexResult)
	unsub func()
}

// Ledger is the public entry point: it owns the component lifecycle and
// exposes the query surface. Exactly one process per workspace becomes the
// watcher owner; the rest open as readers and may promote themselves later.
type Ledger struct {
	opts       Options
	pid        int
	store      *store.Store
	files      *store.FileRepo
	symbols    *store.SymbolRepo
	relations  *store.RelationRepo
	ownership  *ownership.Manager
	searcher   *search.Service
	boundaries []languages.ProjectBoundary

	mu          sync.Mutex
	role        ownership.Role
	coordinator *index.Coordinator
	watcher     *watch.Watcher
	subs        []registeredSub
	nextSubID   int
	closed      bool

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	sigCh     chan os.Signal
}

// Open validates the workspace, opens the store, and takes a role. Owners
// start the watcher, the heartbeat, and an initial full index before Open
// returns; readers start a healthcheck loop that promotes them if the owner
// dies. Any failure after the store opened closes it again.
func Open(opts Options) (*Ledger, error) {
	if !filepath.IsAbs(opts.WorkspaceRoot) {
		return nil, models.NewLifecycleError("workspace root must be absolute, got %q", opts.WorkspaceRoot)
	}
	info, err := os.Stat(opts.WorkspaceRoot)
	if err != nil || !info.IsDir() {
		return nil, models.NewLifecycleError("workspace root %q does not exist or is not a directory", opts.WorkspaceRoot)
	}

	cfg, err := config.Load(opts.WorkspaceRoot)
	if err != nil {
		return nil, models.NewLifecycleError("failed to load workspace config: %v", err)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = cfg.Extensions
	}
	if len(opts.IgnorePatterns) == 0 {
		opts.IgnorePatterns = cfg.IgnorePatterns
	}
	if opts.ParseCacheSize <= 0 {
		opts.ParseCacheSize = cfg.ParseCacheSize
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = HeartbeatInterval
	}
	if opts.HealthcheckInterval <= 0 {
		opts.HealthcheckInterval = HealthcheckInterval
	}
	if opts.Parser == nil || opts.SymbolExtractor == nil || opts.RelationExtractor == nil {
		frontend := languages.NewTypeScriptFrontend()
		if opts.Parser == nil {
			opts.Parser = frontend
		}
		if opts.SymbolExtractor == nil {
			opts.SymbolExtractor = frontend
		}
		if opts.RelationExtractor == nil {
			opts.RelationExtractor = relationExtractorFunc(frontend.ExtractRelations)
		}
	}

	dbPath := filepath.Join(opts.WorkspaceRoot, config.AppDir, store.DatabaseFile)
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		opts:   opts,
		pid:    os.Getpid(),
		store:  s,
		stopCh: make(chan struct{}),
	}
	l.files = store.NewFileRepo(s)
	l.symbols = store.NewSymbolRepo(s)
	l.relations = store.NewRelationRepo(s)
	l.ownership = ownership.NewManager(s)
	l.searcher = search.NewService(l.symbols, l.relations)

	if err := l.startup(); err != nil {
		// Startup failed after the store opened: tear down whatever came up.
		_ = l.Close()
		return nil, err
	}

	if !opts.DisableSignalHandlers {
		l.installSignalHandlers()
	}
	return l, nil
}

func (l *Ledger) startup() error {
	boundaries, err := languages.DiscoverProjects(l.opts.WorkspaceRoot)
	if err != nil {
		return models.NewLifecycleError("failed to discover projects: %v", err)
	}
	l.boundaries = boundaries

	role, err := l.ownership.Acquire(l.pid)
	if err != nil {
		return err
	}
	l.role = role
	logger.Infof("opened %s as %s (pid %d)", l.opts.WorkspaceRoot, role, l.pid)

	if role == ownership.RoleOwner {
		if err := l.becomeOwner(); err != nil {
			return err
		}
		if _, err := l.coordinator.FullIndex(); err != nil {
			return err
		}
		return nil
	}

	l.wg.Add(1)
	go l.healthcheckLoop()
	return nil
}

// becomeOwner wires the coordinator and watcher, forwards every registered
// subscriber, and starts the heartbeat. Callers run the full index.
func (l *Ledger) becomeOwner() error {
	coordinator, err := index.NewCoordinator(index.Dependencies{
		Store:             l.store,
		Files:             l.files,
		Symbols:           l.symbols,
		Relations:         l.relations,
		Parser:            l.opts.Parser,
		SymbolExtractor:   l.opts.SymbolExtractor,
		RelationExtractor: l.opts.RelationExtractor,
		DiscoverProjects:  languages.DiscoverProjects,
		ResolveProject:    languages.ResolveFileProject,
		LoadAliases:       languages.LoadTSConfigPaths,
		Detect:            watch.DetectChanges,
	}, index.Options{
		WorkspaceRoot:  l.opts.WorkspaceRoot,
		Extensions:     l.opts.Extensions,
		IgnorePatterns: l.opts.IgnorePatterns,
		ParseCacheSize: l.opts.ParseCacheSize,
		Debounce:       l.opts.Debounce,
	}, l.boundaries)
	if err != nil {
		return err
	}

	watcher := watch.NewWatcher(watch.Config{
		WorkspaceRoot:  l.opts.WorkspaceRoot,
		Extensions:     l.opts.Extensions,
		IgnorePatterns: l.opts.IgnorePatterns,
	}, coordinator.HandleWatcherEvent)
	if err := watcher.Start(); err != nil {
		return err
	}

	l.mu.Lock()
	l.coordinator = coordinator
	l.watcher = watcher
	for i := range l.subs {
		sub := &l.subs[i]
		sub.unsub = coordinator.OnIndexed(sub.fn)
	}
	l.mu.Unlock()

	l.wg.Add(1)
	go l.heartbeatLoop()
	return nil
}

func (l *Ledger) heartbeatLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.ownership.Heartbeat(l.pid); err != nil {
				logger.Warnf("heartbeat failed: %v", err)
			}
		}
	}
}

// healthcheckLoop runs in readers. When the owner's row goes stale the
// Acquire succeeds, the loop stops, and this process promotes itself:
// coordinator and watcher come up, previously registered subscribers are
// forwarded, and a full index runs.
func (l *Ledger) healthcheckLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.HealthcheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			role, err := l.ownership.Acquire(l.pid)
			if err != nil {
				logger.Warnf("ownership healthcheck failed: %v", err)
				continue
			}
			if role != ownership.RoleOwner {
				continue
			}

			logger.Infof("previous owner is gone, promoting pid %d to watcher owner", l.pid)
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				return
			}
			l.role = ownership.RoleOwner
			l.mu.Unlock()

			if err := l.becomeOwner(); err != nil {
				logger.Errorf("promotion failed: %v", err)
				return
			}
			if _, err := l.coordinator.FullIndex(); err != nil {
				logger.Errorf("post-promotion full index failed: %v", err)
			}
			return
		}
	}
}

func (l *Ledger) installSignalHandlers() {
	l.sigCh = make(chan os.Signal, 1)
	signal.Notify(l.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-l.sigCh; ok {
			logger.Infof("termination signal received, closing index")
			_ = l.Close()
		}
	}()
}

// Close tears everything down exactly once: coordinator shutdown, watcher
// close, timers, ownership release, store close. Safe to call repeatedly.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		if l.sigCh != nil {
			signal.Stop(l.sigCh)
			close(l.sigCh)
		}

		l.mu.Lock()
		l.closed = true
		coordinator := l.coordinator
		watcher := l.watcher
		l.mu.Unlock()

		if coordinator != nil {
			coordinator.Shutdown()
		}
		if watcher != nil {
			if err := watcher.Close(); err != nil {
				logger.Warnf("watcher close failed: %v", err)
			}
		}

		close(l.stopCh)
		l.wg.Wait()

		if err := l.ownership.Release(l.pid); err != nil {
			logger.Warnf("ownership release failed: %v", err)
		}
		l.closeErr = l.store.Close()
	})
	return l.closeErr
}

func (l *Ledger) ensureOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return models.NewUsageError("ledger is closed")
	}
	return nil
}

// Role returns the role this process currently holds.
func (l *Ledger) Role() ownership.Role {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.role
}

// Projects lists the known project names.
func (l *Ledger) Projects() []string {
	names := lo.Uniq(lo.Map(l.boundaries, func(b languages.ProjectBoundary, _ int) string {
		return b.Name
	}))
	sort.Strings(names)
	return names
}

// Stats returns file and symbol counts, for one project or summed across all
// of them when project is empty.
func (l *Ledger) Stats(project string) (*models.IndexStats, error) {
	if err := l.ensureOpen(); err != nil {
		return nil, err
	}
	if project != "" {
		return l.symbols.GetStats(project)
	}

	total := &models.IndexStats{}
	for _, name := range l.Projects() {
		stats, err := l.symbols.GetStats(name)
		if err != nil {
			return nil, err
		}
		total.FileCount += stats.FileCount
		total.SymbolCount += stats.SymbolCount
	}
	return total, nil
}

// SearchSymbols answers a free-text symbol query.
func (l *Ledger) SearchSymbols(req search.SymbolsRequest) ([]models.SymbolHit, error) {
	if err := l.ensureOpen(); err != nil {
		return nil, err
	}
	return l.searcher.Symbols(req)
}

// SearchRelations answers a relation query.
func (l *Ledger) SearchRelations(q models.RelationQuery) ([]models.Relation, error) {
	if err := l.ensureOpen(); err != nil {
		return nil, err
	}
	return l.searcher.Relations(q)
}

// Dependencies returns the files path imports directly.
func (l *Ledger) Dependencies(path, project string) ([]string, error) {
	graph, err := l.buildGraph(path, project)
	if err != nil {
		return nil, err
	}
	return graph.Dependencies(path), nil
}

// Dependents returns every file that transitively depends on path.
func (l *Ledger) Dependents(path, project string) ([]string, error) {
	graph, err := l.buildGraph(path, project)
	if err != nil {
		return nil, err
	}
	return graph.TransitiveDependents(path), nil
}

// Affected returns the union of transitive dependents for all paths.
func (l *Ledger) Affected(paths []string, project string) ([]string, error) {
	seed := ""
	if len(paths) > 0 {
		seed = paths[0]
	}
	graph, err := l.buildGraph(seed, project)
	if err != nil {
		return nil, err
	}
	return graph.AffectedByChange(paths), nil
}

// HasCycle reports whether the project's import graph contains a cycle.
func (l *Ledger) HasCycle(project string) (bool, error) {
	graph, err := l.buildGraph("", project)
	if err != nil {
		return false, err
	}
	return graph.HasCycle(), nil
}

func (l *Ledger) buildGraph(path, project string) (*query.DependencyGraph, error) {
	if err := l.ensureOpen(); err != nil {
		return nil, err
	}
	if project == "" {
		if path != "" {
			project = languages.ResolveFileProject(path, l.boundaries)
		} else if names := l.Projects(); len(names) > 0 {
			project = names[0]
		}
	}
	graph := query.NewDependencyGraph(l.relations, project)
	if err := graph.Build(); err != nil {
		return nil, err
	}
	return graph, nil
}

// OnIndexed subscribes to indexing results. On a reader the callback is
// retained and forwarded to the coordinator when this process is promoted.
// The returned function unsubscribes.
func (l *Ledger) OnIndexed(fn func(models.IndexResult)) func() {
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	sub := registeredSub{id: id, fn: fn}
	if l.coordinator != nil {
		sub.unsub = l.coordinator.OnIndexed(fn)
	}
	l.subs = append(l.subs, sub)
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i := range l.subs {
			if l.subs[i].id == id {
				if l.subs[i].unsub != nil {
					l.subs[i].unsub()
				}
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// Reindex forces a full rebuild. Owners only.
func (l *Ledger) Reindex() (*models.IndexResult, error) {
	if err := l.ensureOpen(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	coordinator := l.coordinator
	role := l.role
	l.mu.Unlock()

	if role != ownership.RoleOwner || coordinator == nil {
		return nil, models.NewUsageError("reindex requires watcher ownership; this process is a reader")
	}
	return coordinator.FullIndex()
}

// ParseSource exposes the injected parser.
func (l *Ledger) ParseSource(filePath, sourceText string) (*languages.ParsedFile, error) {
	return l.opts.Parser.Parse(filePath, sourceText)
}

// ExtractSymbols exposes the injected symbol extractor.
func (l *Ledger) ExtractSymbols(pf *languages.ParsedFile) []languages.ExtractedSymbol {
	return l.opts.SymbolExtractor.Extract(pf)
}

// ExtractRelations exposes the injected relation extractor with the current
// workspace aliases unresolved (callers pass their own table).
func (l *Ledger) ExtractRelations(pf *languages.ParsedFile, aliases languages.AliasTable) []languages.CodeRelation {
	return l.opts.RelationExtractor.Extract(pf, aliases)
}

// relationExtractorFunc adapts a function to the RelationExtractor interface.
type relationExtractorFunc func(pf *languages.ParsedFile, aliases languages.AliasTable) []languages.CodeRelation

func (f relationExtractorFunc) Extract(pf *languages.ParsedFile, aliases languages.AliasTable) []languages.CodeRelation {
	return f(pf, aliases)
}
