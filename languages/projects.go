package languages

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ProjectBoundary is a (dir, name) pair. The nearest ancestor boundary of a
// file determines its project. Dir is workspace-relative with forward
// slashes; "." is the workspace root itself.
type ProjectBoundary struct {
	Dir  string `json:"dir"`
	Name string `json:"name"`
}

var boundarySkipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

// DiscoverProjects walks the workspace for package.json manifests and returns
// one boundary per manifest, deepest directories first. A workspace without
// any manifest gets a single boundary at the root named after the directory.
func DiscoverProjects(workspaceRoot string) ([]ProjectBoundary, error) {
	var boundaries []ProjectBoundary

	err := filepath.WalkDir(workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are not boundaries
		}
		if d.IsDir() {
			if path != workspaceRoot && (boundarySkipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != "package.json" {
			return nil
		}

		rel, err := filepath.Rel(workspaceRoot, filepath.Dir(path))
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		name := manifestName(path)
		if name == "" {
			name = filepath.Base(filepath.Dir(path))
		}
		boundaries = append(boundaries, ProjectBoundary{Dir: rel, Name: name})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(boundaries) == 0 {
		boundaries = []ProjectBoundary{{Dir: ".", Name: filepath.Base(workspaceRoot)}}
	}

	// Deepest first so ResolveFileProject can take the first ancestor match.
	sort.Slice(boundaries, func(i, j int) bool {
		di, dj := segmentCount(boundaries[i].Dir), segmentCount(boundaries[j].Dir)
		if di != dj {
			return di > dj
		}
		return boundaries[i].Dir < boundaries[j].Dir
	})
	return boundaries, nil
}

// ResolveFileProject maps a workspace-relative path to the name of its
// nearest ancestor boundary. With no match it falls back to the last (most
// shallow) boundary.
func ResolveFileProject(relPath string, boundaries []ProjectBoundary) string {
	if len(boundaries) == 0 {
		return ""
	}
	relPath = filepath.ToSlash(relPath)
	for _, b := range boundaries {
		if b.Dir == "." || relPath == b.Dir || strings.HasPrefix(relPath, b.Dir+"/") {
			return b.Name
		}
	}
	return boundaries[len(boundaries)-1].Name
}

// LoadTSConfigPaths reads the compilerOptions.paths block of the workspace
// tsconfig.json. A missing or unparseable file yields an empty table; alias
// resolution then simply never matches.
func LoadTSConfigPaths(workspaceRoot string) (AliasTable, error) {
	data, err := os.ReadFile(filepath.Join(workspaceRoot, "tsconfig.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return AliasTable{}, nil
		}
		return nil, err
	}

	var cfg struct {
		CompilerOptions struct {
			Paths map[string][]string `json:"paths"`
		} `json:"compilerOptions"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return AliasTable{}, nil
	}

	table := AliasTable{}
	for pattern, targets := range cfg.CompilerOptions.Paths {
		table[pattern] = targets
	}
	return table, nil
}

func manifestName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var manifest struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ""
	}
	return manifest.Name
}

func segmentCount(dir string) int {
	if dir == "." {
		return 0
	}
	return strings.Count(dir, "/") + 1
}
