package runner

import (
	"sort"

	"github.com/loykin/opshooks/pkg/task"
)

// graph is the depends_on graph of a task list. Edges point from a task to its
// dependents; deps holds the reverse direction.
type graph struct {
	nodes map[string]*node
	edges map[string][]string
	deps  map[string][]string
}

type node struct {
	id       string
	index    int
	inDegree int
	visited  bool
	inStack  bool
}

func newGraph(tasks []Task) (*graph, error) {
	g := &graph{nodes: map[string]*node{}, edges: map[string][]string{}, deps: map[string][]string{}}
	for i, t := range tasks {
		if t.ID == "" {
			return nil, task.Configf("task %d: id is required", i)
		}
		if _, dup := g.nodes[t.ID]; dup {
			return nil, task.Configf("duplicate task id %q", t.ID)
		}
		g.nodes[t.ID] = &node{id: t.ID, index: i}
		g.edges[t.ID] = nil
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, task.Configf("task %s depends on unknown task %q", t.ID, dep)
			}
			g.edges[dep] = append(g.edges[dep], t.ID)
			g.deps[t.ID] = append(g.deps[t.ID], dep)
			g.nodes[t.ID].inDegree++
		}
	}
	if cycle := g.detectCycle(); cycle != nil {
		return nil, task.Configf("circular dependency detected: %v", cycle)
	}
	return g, nil
}

// detectCycle returns the first cycle found by depth-first search, or nil.
func (g *graph) detectCycle() []string {
	for _, n := range g.nodes {
		n.visited = false
		n.inStack = false
	}
	for _, id := range g.declared() {
		if !g.nodes[id].visited {
			if cycle := g.dfs(id, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *graph) dfs(id string, path []string) []string {
	n := g.nodes[id]
	n.visited = true
	n.inStack = true
	path = append(path, id)
	for _, next := range g.edges[id] {
		nn := g.nodes[next]
		if nn.inStack {
			for i, p := range path {
				if p == next {
					return append(append([]string{}, path[i:]...), next)
				}
			}
		}
		if !nn.visited {
			if cycle := g.dfs(next, path); cycle != nil {
				return cycle
			}
		}
	}
	n.inStack = false
	return nil
}

// declared returns the ids in declaration order.
func (g *graph) declared() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	g.byIndex(ids)
	return ids
}

func (g *graph) byIndex(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return g.nodes[ids[i]].index < g.nodes[ids[j]].index })
}

// order returns a topological order. Among ready tasks the one declared first runs first.
func (g *graph) order() []string {
	inDegree := make(map[string]int, len(g.nodes))
	var ready []string
	for id, n := range g.nodes {
		inDegree[id] = n.inDegree
		if n.inDegree == 0 {
			ready = append(ready, id)
		}
	}
	out := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		g.byIndex(ready)
		cur := ready[0]
		ready = ready[1:]
		out = append(out, cur)
		for _, next := range g.edges[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return out
}

// dependents returns every task that transitively depends on id.
func (g *graph) dependents(id string) []string {
	return g.walk(id, g.edges)
}

// dependencies returns every task id transitively depends on.
func (g *graph) dependencies(id string) []string {
	return g.walk(id, g.deps)
}

func (g *graph) walk(id string, adj map[string][]string) []string {
	seen := map[string]bool{}
	var out []string
	var collect func(string)
	collect = func(cur string) {
		for _, next := range adj[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			collect(next)
		}
	}
	collect(id)
	return out
}

