package deploy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/iamdeploy/pkg/config"
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// Graph orders definitions by their depends_on edges. Definitions on the
// same level have no dependency on each other and may be dispatched together.
type Graph struct {
	defs       map[string]*config.Definition
	dependents map[string][]string
	levels     [][]string
}

// BuildGraph validates the dependencies of defs, rejects cycles and computes
// execution levels. Within a level ids keep their load order.
func BuildGraph(defs []config.Definition) (*Graph, error) {
	g := &Graph{
		defs:       make(map[string]*config.Definition, len(defs)),
		dependents: make(map[string][]string, len(defs)),
	}

	order := make(map[string]int, len(defs))
	for i := range defs {
		def := &defs[i]
		if def.ID == "" {
			return nil, engine.NewInvalidArgumentError("definition has empty id", def.Category)
		}
		if _, exists := g.defs[def.ID]; exists {
			return nil, engine.NewInvalidArgumentError("duplicate definition id", def.ID)
		}
		g.defs[def.ID] = def
		order[def.ID] = i
	}

	inDegree := make(map[string]int, len(defs))
	for i := range defs {
		def := &defs[i]
		for _, dep := range def.DependsOn {
			if _, exists := g.defs[dep]; !exists {
				return nil, engine.NewInvalidArgumentError(
					fmt.Sprintf("definition %s depends on unknown definition", def.ID), dep)
			}
			g.dependents[dep] = append(g.dependents[dep], def.ID)
			inDegree[def.ID]++
		}
	}

	// Kahn's algorithm, one level at a time.
	var current []string
	for i := range defs {
		if inDegree[defs[i].ID] == 0 {
			current = append(current, defs[i].ID)
		}
	}

	processed := 0
	for len(current) > 0 {
		g.levels = append(g.levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range g.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return order[next[i]] < order[next[j]] })
		current = next
	}

	if processed != len(defs) {
		return nil, engine.NewInvalidArgumentError("circular dependency", strings.Join(g.cycleMembers(inDegree), ", "))
	}

	return g, nil
}

// cycleMembers lists the ids Kahn's algorithm could not release.
func (g *Graph) cycleMembers(inDegree map[string]int) []string {
	var ids []string
	for id, degree := range inDegree {
		if degree > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Levels returns the definition ids grouped by execution level.
func (g *Graph) Levels() [][]string {
	return g.levels
}

// Len returns the number of definitions in the graph.
func (g *Graph) Len() int {
	return len(g.defs)
}

// Definition returns the definition with id.
func (g *Graph) Definition(id string) *config.Definition {
	return g.defs[id]
}

// Dependencies returns the ids id depends on.
func (g *Graph) Dependencies(id string) []string {
	if def, ok := g.defs[id]; ok {
		return def.DependsOn
	}
	return nil
}

// Dependents returns the ids that depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// ToDOT renders the graph in Graphviz DOT format, one cluster per level.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Definitions {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			def := g.defs[id]
			fmt.Fprintf(&sb, "    %q [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
				id, def.Name, def.Verb, verbColor(def.Verb))
		}

		sb.WriteString("  }\n\n")
	}

	for _, ids := range g.levels {
		for _, id := range ids {
			for _, dep := range g.defs[id].DependsOn {
				fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func verbColor(verb string) string {
	switch engine.Verb(strings.ToLower(verb)) {
	case engine.VerbCreate:
		return "lightgreen"
	case engine.VerbModify:
		return "lightyellow"
	case engine.VerbDelete:
		return "lightcoral"
	default:
		return "lightgray"
	}
}
