package query

import (
	"sort"

	"github.com/samber/lo"

	"github.com/flanksource/code-ledger/internal/store"
	"github.com/flanksource/code-ledger/models"
)

// DependencyGraph is a derived, in-memory view of a project's imports
// relations: forward edges (src -> dst) and reverse edges (dst -> src).
// Build it, then query; it never writes back to the store.
type DependencyGraph struct {
	project   string
	relations *store.RelationRepo
	forward   map[string]map[string]struct{}
	reverse   map[string]map[string]struct{}
}

func NewDependencyGraph(relations *store.RelationRepo, project string) *DependencyGraph {
	return &DependencyGraph{
		project:   project,
		relations: relations,
		forward:   map[string]map[string]struct{}{},
		reverse:   map[string]map[string]struct{}{},
	}
}

// Build materializes the adjacency maps from all imports relations.
func (g *DependencyGraph) Build() error {
	relations, err := g.relations.GetByType(g.project, models.RelationTypeImports)
	if err != nil {
		return err
	}
	for _, rel := range relations {
		g.addEdge(rel.SrcFilePath, rel.DstFilePath)
	}
	return nil
}

func (g *DependencyGraph) addEdge(src, dst string) {
	if g.forward[src] == nil {
		g.forward[src] = map[string]struct{}{}
	}
	g.forward[src][dst] = struct{}{}
	if g.reverse[dst] == nil {
		g.reverse[dst] = map[string]struct{}{}
	}
	g.reverse[dst][src] = struct{}{}
}

// Dependencies returns the files path imports directly.
func (g *DependencyGraph) Dependencies(path string) []string {
	return sortedKeys(g.forward[path])
}

// Dependents returns the files that import path directly.
func (g *DependencyGraph) Dependents(path string) []string {
	return sortedKeys(g.reverse[path])
}

// TransitiveDependents walks reverse edges breadth-first and returns every
// file that depends on path, directly or not, excluding path itself.
func (g *DependencyGraph) TransitiveDependents(path string) []string {
	visited := map[string]bool{path: true}
	queue := []string{path}
	var dependents []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for dependent := range g.reverse[current] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			dependents = append(dependents, dependent)
			queue = append(queue, dependent)
		}
	}

	sort.Strings(dependents)
	return dependents
}

// HasCycle runs a three-colour depth-first search over forward edges; a back
// edge to a gray node proves a cycle.
func (g *DependencyGraph) HasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colour := map[string]int{}

	var visit func(node string) bool
	visit = func(node string) bool {
		colour[node] = gray
		for next := range g.forward[node] {
			switch colour[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		colour[node] = black
		return false
	}

	for node := range g.forward {
		if colour[node] == white {
			if visit(node) {
				return true
			}
		}
	}
	return false
}

// AffectedByChange returns the deduplicated union of transitive dependents
// for every input path.
func (g *DependencyGraph) AffectedByChange(paths []string) []string {
	var affected []string
	for _, path := range paths {
		affected = append(affected, g.TransitiveDependents(path)...)
	}
	affected = lo.Uniq(affected)
	sort.Strings(affected)
	return affected
}

func sortedKeys(set map[string]struct{}) []string {
	keys := lo.Keys(set)
	sort.Strings(keys)
	return keys
}
