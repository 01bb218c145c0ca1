// Package inference materializes RDFS entailments into incoming graphs.
//
// A Closure is built once from an ontology. It precomputes the transitive
// closure of rdfs:subClassOf and rdfs:subPropertyOf, then adds the implied
// rdf:type and property triples to every graph passed to Mutate.
//
// Example:
//
//	ontology := rdf.NewGraph()
//	ontology.Add(rdf.IRI(ex+"Employee"), rdf.IRI(rdf.RDFSSubClassOf), rdf.IRI(ex+"Person"))
//	closure := inference.NewClosure(ontology)
//
//	data := rdf.NewGraph()
//	data.Add(rdf.IRI(ex+"bob"), rdf.IRI(rdf.RDFType), rdf.IRI(ex+"Employee"))
//	closure.Mutate(data)
//	// data now also holds <bob> rdf:type <Person>
//
// ELI12:
//
// If the rule book says "every employee is a person", and you write down "Bob
// is an employee", the closure quietly adds "Bob is a person" to your notes so
// nobody has to work it out again later.
//
// Thread Safety:
//
//	The closure tables are immutable after construction, so a Closure can be
//	shared by any number of goroutines. Mutate modifies only its argument.
package inference

import (
	"fmt"
	"log/slog"

	"github.com/orneryd/graphstore/pkg/config"
	"github.com/orneryd/graphstore/pkg/rdf"
)

// Closure is an RDFS subclass and subproperty Mutator.
type Closure struct {
	subClass    rdf.Closure
	subProperty rdf.Closure
}

// NewClosure computes the closure tables of ontology.
func NewClosure(ontology *rdf.Graph) *Closure {
	return &Closure{
		subClass:    rdf.TransitiveClosure(ontology, rdf.RDFSSubClassOf),
		subProperty: rdf.TransitiveClosure(ontology, rdf.RDFSSubPropertyOf),
	}
}

// Load reads and merges the ontology files at paths and builds a Closure.
// At least one path is required.
func Load(logger *slog.Logger, paths ...string) (*Closure, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: closure requires an ontology", config.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ontology := rdf.NewGraph()
	for _, p := range paths {
		g, err := rdf.ParseFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: loading ontology %s: %w", config.ErrConfiguration, p, err)
		}
		ontology.AddAll(g)
	}
	c := NewClosure(ontology)
	logger.Info("ontology loaded",
		"files", len(paths),
		"triples", ontology.Len(),
		"classes", len(c.subClass),
		"properties", len(c.subProperty))
	return c, nil
}

// Mutate adds the entailed triples of g to g in a single pass. Triples are
// collected into a buffer while g is scanned and merged afterwards, so the
// scan never sees its own output.
//
// Because the tables are already transitive, one pass reaches the fixpoint for
// subclass and subproperty chains, and a second call adds nothing.
func (c *Closure) Mutate(g *rdf.Graph) {
	buffer := rdf.NewGraph()
	typ := rdf.IRI(rdf.RDFType)
	typeKey := rdf.TermString(typ)

	for _, t := range g.Triples() {
		for _, super := range c.subProperty.Get(t.Predicate) {
			buffer.Add(t.Subject, super, t.Object)
		}
		if rdf.TermString(t.Predicate) == typeKey {
			for _, super := range c.subClass.Get(t.Object) {
				buffer.Add(t.Subject, typ, super)
			}
		}
	}
	g.AddAll(buffer)
}

// SuperClasses returns every class that class is a subclass of, directly or
// transitively.
func (c *Closure) SuperClasses(class string) []string {
	return values(c.subClass, class)
}

// SuperProperties returns every property that property specializes.
func (c *Closure) SuperProperties(property string) []string {
	return values(c.subProperty, property)
}

func values(cl rdf.Closure, uri string) []string {
	nodes := cl.Get(rdf.IRI(uri))
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, rdf.LexicalForm(n))
	}
	return out
}
