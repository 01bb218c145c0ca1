package rdf

import (
	"sort"

	"github.com/piprate/json-gold/ld"
)

// Closure maps a node's TermString to every node reachable from it.
type Closure map[string][]ld.Node

// Get returns the nodes reachable from n, or nil.
func (c Closure) Get(n ld.Node) []ld.Node {
	return c[TermString(n)]
}

// TransitiveClosure follows predicate edges in g and returns, for each subject
// of such an edge, every node reachable through one or more hops. A node is
// never listed as reachable from itself, so cycles terminate cleanly.
// Reachable sets are ordered by term string.
func TransitiveClosure(g *Graph, predicate string) Closure {
	pred := IRI(predicate)
	edges := make(map[string][]ld.Node)
	for _, t := range g.Find(nil, pred, nil) {
		sk := TermString(t.Subject)
		edges[sk] = append(edges[sk], t.Object)
	}

	closure := make(Closure, len(edges))
	for start := range edges {
		seen := map[string]ld.Node{}
		stack := append([]ld.Node(nil), edges[start]...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			k := TermString(n)
			if k == start {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = n
			stack = append(stack, edges[k]...)
		}
		if len(seen) == 0 {
			continue
		}
		keys := make([]string, 0, len(seen))
		for k := range seen {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		reach := make([]ld.Node, 0, len(keys))
		for _, k := range keys {
			reach = append(reach, seen[k])
		}
		closure[start] = reach
	}
	return closure
}
