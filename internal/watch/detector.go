package watch

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flanksource/code-ledger/models"
)

// FileEntry describes one file on disk during change detection. ContentHash
// is the stored hash for unchanged files and empty for changed ones; the
// coordinator fills it when it reads the file.
type FileEntry struct {
	FilePath    string
	MtimeMs     int64
	Size        int64
	ContentHash string
}

// ChangeSet is the disk-vs-store diff.
type ChangeSet struct {
	Changed   []FileEntry
	Unchanged []FileEntry
	Deleted   []string
}

// DetectOptions parameterize one detection pass. Known is the stored file
// map aggregated across every project boundary.
type DetectOptions struct {
	WorkspaceRoot  string
	Extensions     []string
	IgnorePatterns []string
	Known          map[string]models.FileRecord
}

// DetectChanges walks the workspace and diffs what it finds against the
// stored file map. A file counts as changed when it is new or its mtime or
// size differ from the stored record.
func DetectChanges(opts DetectOptions) (*ChangeSet, error) {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		exts[ext] = true
	}
	ignores := append(append([]string{}, DefaultIgnorePatterns...), opts.IgnorePatterns...)

	cs := &ChangeSet{}
	seen := make(map[string]bool, len(opts.Known))

	err := filepath.WalkDir(opts.WorkspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(opts.WorkspaceRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && ignoredPath(rel, ignores) {
				return filepath.SkipDir
			}
			return nil
		}
		if !exts[filepath.Ext(rel)] {
			return nil
		}
		if strings.HasSuffix(rel, ".d.ts") {
			return nil
		}
		if ignoredPath(rel, ignores) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		entry := FileEntry{
			FilePath: rel,
			MtimeMs:  info.ModTime().UnixMilli(),
			Size:     info.Size(),
		}
		seen[rel] = true

		known, ok := opts.Known[rel]
		if ok && known.MtimeMs == entry.MtimeMs && known.Size == entry.Size {
			entry.ContentHash = known.ContentHash
			cs.Unchanged = append(cs.Unchanged, entry)
		} else {
			cs.Changed = append(cs.Changed, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for path := range opts.Known {
		if !seen[path] {
			cs.Deleted = append(cs.Deleted, path)
		}
	}
	return cs, nil
}

func ignoredPath(rel string, patterns []string) bool {
	for _, pattern := range patterns {
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
