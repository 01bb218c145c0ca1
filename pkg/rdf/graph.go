// Package rdf provides the graph abstraction used by every other graphstore
// component: a set of RDF triples with pattern matching, bulk add/remove, media
// type codecs and a transitive-closure helper.
//
// Terms are github.com/piprate/json-gold/ld nodes (IRI, BlankNode, Literal), so
// graphs convert directly to and from ld.RDFDataset values produced by the
// JSON-LD processor and the N-Quads parser.
//
// Example:
//
//	g := rdf.NewGraph()
//	g.Add(rdf.IRI("http://ex.org/alice"), rdf.IRI(rdf.RDFType), rdf.IRI("http://ex.org/Person"))
//	g.Add(rdf.IRI("http://ex.org/alice"), rdf.IRI(rdf.RDFSLabel), rdf.Literal("Alice"))
//
//	for _, t := range g.Find(nil, rdf.IRI(rdf.RDFType), nil) {
//		fmt.Println(rdf.TermString(t.Subject), "is a", rdf.TermString(t.Object))
//	}
//
// Graph values are not safe for concurrent mutation. Callers that share a
// graph across goroutines must synchronize, which is what the storage engines
// do on their side of the API.
package rdf

import (
	"sort"

	"github.com/piprate/json-gold/ld"
)

// Triple is a single (subject, predicate, object) statement.
type Triple struct {
	Subject   ld.Node
	Predicate ld.Node
	Object    ld.Node
}

// NewTriple builds a triple from three nodes.
func NewTriple(s, p, o ld.Node) Triple {
	return Triple{Subject: s, Predicate: p, Object: o}
}

// Key returns the N-Triples line for the triple without the trailing newline.
// Two triples are equal iff their keys are equal.
func (t Triple) Key() string {
	return TermString(t.Subject) + " " + TermString(t.Predicate) + " " + TermString(t.Object) + " ."
}

// Graph is a set of triples. Adding a triple that is already present is a
// no-op, so materializing the same entailment twice never grows the graph.
type Graph struct {
	triples   map[string]Triple
	bySubject map[string]map[string]struct{}
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		triples:   make(map[string]Triple),
		bySubject: make(map[string]map[string]struct{}),
	}
}

// Len returns the number of distinct triples.
func (g *Graph) Len() int {
	return len(g.triples)
}

// IsEmpty reports whether the graph holds no triples.
func (g *Graph) IsEmpty() bool {
	return len(g.triples) == 0
}

// Add inserts a triple and reports whether it was new.
func (g *Graph) Add(s, p, o ld.Node) bool {
	return g.AddTriple(NewTriple(s, p, o))
}

// AddTriple inserts t and reports whether it was new.
func (g *Graph) AddTriple(t Triple) bool {
	key := t.Key()
	if _, ok := g.triples[key]; ok {
		return false
	}
	g.triples[key] = t
	sk := TermString(t.Subject)
	idx, ok := g.bySubject[sk]
	if !ok {
		idx = make(map[string]struct{})
		g.bySubject[sk] = idx
	}
	idx[key] = struct{}{}
	return true
}

// AddAll merges every triple of other into g and returns how many were new.
func (g *Graph) AddAll(other *Graph) int {
	if other == nil || other == g {
		return 0
	}
	added := 0
	for _, t := range other.triples {
		if g.AddTriple(t) {
			added++
		}
	}
	return added
}

// Remove deletes a triple and reports whether it was present.
func (g *Graph) Remove(t Triple) bool {
	key := t.Key()
	if _, ok := g.triples[key]; !ok {
		return false
	}
	delete(g.triples, key)
	sk := TermString(t.Subject)
	if idx, ok := g.bySubject[sk]; ok {
		delete(idx, key)
		if len(idx) == 0 {
			delete(g.bySubject, sk)
		}
	}
	return true
}

// RemoveAll deletes every triple of other from g and returns how many were removed.
func (g *Graph) RemoveAll(other *Graph) int {
	if other == nil {
		return 0
	}
	if other == g {
		n := g.Len()
		g.Clear()
		return n
	}
	removed := 0
	for _, t := range other.triples {
		if g.Remove(t) {
			removed++
		}
	}
	return removed
}

// Clear removes all triples.
func (g *Graph) Clear() {
	g.triples = make(map[string]Triple)
	g.bySubject = make(map[string]map[string]struct{})
}

// Contains reports whether the exact triple is present.
func (g *Graph) Contains(s, p, o ld.Node) bool {
	_, ok := g.triples[NewTriple(s, p, o).Key()]
	return ok
}

// Find returns the triples matching a pattern. A nil term is a wildcard.
// Results are ordered by triple key.
func (g *Graph) Find(s, p, o ld.Node) []Triple {
	var candidates []string
	if s != nil {
		idx := g.bySubject[TermString(s)]
		candidates = make([]string, 0, len(idx))
		for key := range idx {
			candidates = append(candidates, key)
		}
	} else {
		candidates = make([]string, 0, len(g.triples))
		for key := range g.triples {
			candidates = append(candidates, key)
		}
	}
	sort.Strings(candidates)

	pk, matchP := termFilter(p)
	objKey, matchO := termFilter(o)

	var out []Triple
	for _, key := range candidates {
		t := g.triples[key]
		if matchP && TermString(t.Predicate) != pk {
			continue
		}
		if matchO && TermString(t.Object) != objKey {
			continue
		}
		out = append(out, t)
	}
	return out
}

func termFilter(n ld.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	return TermString(n), true
}

// Triples returns every triple ordered by key.
func (g *Graph) Triples() []Triple {
	return g.Find(nil, nil, nil)
}

// Subjects returns the distinct subjects, ordered by term string.
func (g *Graph) Subjects() []ld.Node {
	keys := make([]string, 0, len(g.bySubject))
	for k := range g.bySubject {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ld.Node, 0, len(keys))
	for _, k := range keys {
		for tk := range g.bySubject[k] {
			out = append(out, g.triples[tk].Subject)
			break
		}
	}
	return out
}

// SubjectsWithProperty returns the distinct subjects that have at least one
// triple with predicate p.
func (g *Graph) SubjectsWithProperty(p ld.Node) []ld.Node {
	seen := make(map[string]bool)
	var out []ld.Node
	for _, t := range g.Find(nil, p, nil) {
		k := TermString(t.Subject)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t.Subject)
	}
	return out
}

// Clone returns an independent copy of the graph.
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	c.AddAll(g)
	return c
}

// Quads converts the graph into json-gold quads in the given graph.
func (g *Graph) Quads(graphName string) []*ld.Quad {
	name := graphName
	if name == DefaultGraph {
		name = "@default"
	}
	triples := g.Triples()
	quads := make([]*ld.Quad, 0, len(triples))
	for _, t := range triples {
		quads = append(quads, ld.NewQuad(t.Subject, t.Predicate, t.Object, name))
	}
	return quads
}

// FromQuads builds a graph from quads, ignoring their graph component.
func FromQuads(quads []*ld.Quad) *Graph {
	g := NewGraph()
	for _, q := range quads {
		g.Add(q.Subject, q.Predicate, q.Object)
	}
	return g
}

// FromDataset flattens every graph of a json-gold dataset into one graph.
func FromDataset(ds *ld.RDFDataset) *Graph {
	g := NewGraph()
	if ds == nil {
		return g
	}
	for _, quads := range ds.Graphs {
		for _, q := range quads {
			g.Add(q.Subject, q.Predicate, q.Object)
		}
	}
	return g
}
