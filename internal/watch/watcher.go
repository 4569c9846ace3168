package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flanksource/commons/logger"
	"github.com/fsnotify/fsnotify"

	"github.com/flanksource/code-ledger/models"
)

// DefaultIgnorePatterns are always excluded from watching and scanning,
// merged with whatever the caller configures.
var DefaultIgnorePatterns = []string{
	"node_modules/**",
	".git/**",
	"dist/**",
	"build/**",
	"coverage/**",
	".code-ledger/**",
}

// ManifestFiles bypass the extension filter: the coordinator reacts to them
// specially (boundary rediscovery, alias reload).
var ManifestFiles = map[string]bool{
	"package.json":  true,
	"tsconfig.json": true,
}

// Config controls what the watcher reports.
type Config struct {
	WorkspaceRoot       string
	Extensions          []string // allowed file extensions, with leading dot
	IgnorePatterns      []string // user globs, merged with DefaultIgnorePatterns
	DeclarationSuffixes []string // e.g. ".d.ts"; matching paths are dropped
}

// Watcher subscribes to OS file-system events under the workspace root,
// normalizes paths to workspace-relative forward-slash form, filters them,
// and hands surviving events to the callback.
type Watcher struct {
	cfg      Config
	ignores  []string
	exts     map[string]bool
	callback func(models.FileEvent)

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	done    chan struct{}
	started bool
}

func NewWatcher(cfg Config, callback func(models.FileEvent)) *Watcher {
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[ext] = true
	}
	if len(cfg.DeclarationSuffixes) == 0 {
		cfg.DeclarationSuffixes = []string{".d.ts"}
	}
	return &Watcher{
		cfg:      cfg,
		ignores:  append(append([]string{}, DefaultIgnorePatterns...), cfg.IgnorePatterns...),
		exts:     exts,
		callback: callback,
	}
}

// Start subscribes recursively under the workspace root. Calling Start on a
// running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return models.NewWatcherError("start", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.started = true

	if err := w.addWatches(w.cfg.WorkspaceRoot); err != nil {
		_ = fsw.Close()
		w.started = false
		return models.NewWatcherError("start", err)
	}

	go w.loop(fsw, w.done)
	logger.Debugf("file watcher started for %s", w.cfg.WorkspaceRoot)
	return nil
}

// Close stops the subscription. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false
	err := w.fsw.Close()
	<-w.done
	if err != nil {
		return models.NewWatcherError("close", err)
	}
	return nil
}

// addWatches walks the tree adding a watch per directory. fsnotify is not
// recursive; symlink cycles are broken with a visited set of real paths.
func (w *Watcher) addWatches(root string) error {
	visited := map[string]bool{}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if path != root && w.ignoredDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			logger.Warnf("failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignoredDir(path string) bool {
	rel, err := filepath.Rel(w.cfg.WorkspaceRoot, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.ignores {
		dirPattern := strings.TrimSuffix(pattern, "/**")
		if ok, _ := doublestar.Match(dirPattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("file watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New directories need their own watch; everything beneath an ignored
	// directory stays invisible.
	if event.Op&fsnotify.Create != 0 {
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			if !w.ignoredDir(event.Name) {
				if err := w.fsw.Add(event.Name); err != nil {
					logger.Warnf("failed to watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	}

	fileEvent, ok := w.Filter(event.Name, event.Op)
	if !ok {
		return
	}
	w.callback(fileEvent)
}

// Filter applies the normalization and filter chain to one raw event and
// returns the normalized event when it survives:
//  1. drop paths outside the workspace,
//  2. drop extensions outside the configured set unless the base name is a
//     project manifest,
//  3. drop declaration-only files,
//  4. map the operation to create/change/delete.
func (w *Watcher) Filter(absPath string, op fsnotify.Op) (models.FileEvent, bool) {
	rel, err := filepath.Rel(w.cfg.WorkspaceRoot, absPath)
	if err != nil {
		return models.FileEvent{}, false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "..") {
		return models.FileEvent{}, false
	}

	base := filepath.Base(rel)
	if !w.exts[filepath.Ext(rel)] && !ManifestFiles[base] {
		return models.FileEvent{}, false
	}
	for _, suffix := range w.cfg.DeclarationSuffixes {
		if strings.HasSuffix(rel, suffix) {
			return models.FileEvent{}, false
		}
	}

	var eventType models.FileEventType
	switch {
	case op&fsnotify.Create != 0:
		eventType = models.FileEventCreate
	case op&fsnotify.Write != 0:
		eventType = models.FileEventChange
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		eventType = models.FileEventDelete
	default:
		return models.FileEvent{}, false
	}

	return models.FileEvent{Type: eventType, FilePath: rel}, true
}
