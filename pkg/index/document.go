package index

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/document"
	bindex "github.com/blevesearch/bleve_index_api"
	"github.com/piprate/json-gold/ld"

	"github.com/orneryd/graphstore/pkg/config"
	"github.com/orneryd/graphstore/pkg/rdf"
)

// Fixed document fields.
const (
	FieldURI   = "uri"
	FieldGraph = "graph"
	FieldLabel = "label"

	// fieldRefs is stored only; it lists the predicates whose values are
	// resources so search results can type them.
	fieldRefs = "_refs"

	// fieldIntPrefix names the stored-only companion of a numeric field. It
	// keeps the exact lexical form, since bleve numbers are float64 and lose
	// precision above 2^53.
	fieldIntPrefix = "_int "
)

// Vocabulary for RDF field configuration files.
const (
	IXNS            = "http://orneryd.github.io/graphstore/index#"
	IXConfig        = IXNS + "Config"
	IXIndexAll      = IXNS + "indexAll"
	IXLabelProp     = IXNS + "labelProp"
	IXLabelOnlyProp = IXNS + "labelOnlyProp"
	IXValueProp     = IXNS + "valueProp"
	IXIgnoreProp    = IXNS + "ignoreProp"
)

type fieldKind int

const (
	kindIgnore fieldKind = iota
	kindLabel
	kindLabelOnly
	kindValue
)

// FieldConfig decides how each predicate of an entity is indexed.
//
//   - LabelProps: analyzed, stored under the predicate URI, and merged into
//     the aggregate "label" field.
//   - LabelOnlyProps: analyzed and merged into "label", not stored.
//   - ValueProps (or every predicate when IndexAll is set, minus IgnoreProps):
//     resource objects become exact fields, integral literals numeric fields,
//     other literals analyzed text fields. All are stored.
//
// Label classification wins over value classification.
type FieldConfig struct {
	IndexAll       bool
	LabelProps     []string
	LabelOnlyProps []string
	ValueProps     []string
	IgnoreProps    []string

	kinds map[string]fieldKind
}

func (c *FieldConfig) prepare() {
	c.kinds = make(map[string]fieldKind)
	for _, p := range c.ValueProps {
		c.kinds[p] = kindValue
	}
	for _, p := range c.IgnoreProps {
		if _, ok := c.kinds[p]; !ok {
			c.kinds[p] = kindIgnore
		}
	}
	for _, p := range c.LabelOnlyProps {
		c.kinds[p] = kindLabelOnly
	}
	for _, p := range c.LabelProps {
		c.kinds[p] = kindLabel
	}
}

func (c *FieldConfig) classify(predicate string) fieldKind {
	if k, ok := c.kinds[predicate]; ok {
		return k
	}
	if c.IndexAll {
		return kindValue
	}
	return kindIgnore
}

// LoadFieldConfig reads a field configuration from an RDF file. The file must
// contain a resource typed ix:Config.
func LoadFieldConfig(path string) (*FieldConfig, error) {
	g, err := rdf.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: index field config %s: %w", config.ErrConfiguration, path, err)
	}
	return FieldConfigFromGraph(g)
}

// FieldConfigFromGraph extracts the field configuration from g.
func FieldConfigFromGraph(g *rdf.Graph) (*FieldConfig, error) {
	roots := g.Find(nil, rdf.IRI(rdf.RDFType), rdf.IRI(IXConfig))
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no %s resource in index configuration", config.ErrConfiguration, IXConfig)
	}
	root := roots[0].Subject

	fc := &FieldConfig{}
	for _, t := range g.Find(root, rdf.IRI(IXIndexAll), nil) {
		if lit, ok := t.Object.(*ld.Literal); ok {
			if b, err := strconv.ParseBool(lit.Value); err == nil {
				fc.IndexAll = b
			}
		}
	}
	fc.IgnoreProps = uriObjects(g, root, IXIgnoreProp)
	fc.LabelOnlyProps = uriObjects(g, root, IXLabelOnlyProp)
	fc.LabelProps = uriObjects(g, root, IXLabelProp)
	fc.ValueProps = uriObjects(g, root, IXValueProp)
	return fc, nil
}

func uriObjects(g *rdf.Graph, subject ld.Node, predicate string) []string {
	var out []string
	for _, t := range g.Find(subject, rdf.IRI(predicate), nil) {
		if iri, ok := t.Object.(*ld.IRI); ok {
			out = append(out, iri.Value)
		}
	}
	sort.Strings(out)
	return out
}

const (
	exactOptions   = bindex.IndexField | bindex.StoreField
	textOptions    = bindex.IndexField | bindex.StoreField | bindex.IncludeTermVectors
	labelOptions   = bindex.IndexField | bindex.IncludeTermVectors
	numericOptions = bindex.IndexField
	storedOptions  = bindex.StoreField
)

// docBuilder turns entities into bleve documents.
type docBuilder struct {
	fields  *FieldConfig
	keyword analysis.Analyzer
	text    analysis.Analyzer
}

func docID(uri, graph string) string {
	return uri + " " + graph
}

// entities returns the typed, non-blank subjects of g.
func entities(g *rdf.Graph) []*ld.IRI {
	var out []*ld.IRI
	for _, s := range g.SubjectsWithProperty(rdf.IRI(rdf.RDFType)) {
		if iri, ok := s.(*ld.IRI); ok {
			out = append(out, iri)
		}
	}
	return out
}

func (b *docBuilder) build(graph string, g *rdf.Graph, entity *ld.IRI) *document.Document {
	doc := document.NewDocument(docID(entity.Value, graph))
	doc.AddField(document.NewTextFieldCustom(FieldURI, nil, []byte(entity.Value), exactOptions, b.keyword))
	doc.AddField(document.NewTextFieldCustom(FieldGraph, nil, []byte(graph), exactOptions, b.keyword))

	refs := map[string]bool{}
	for _, t := range g.Find(entity, nil, nil) {
		pred, ok := t.Predicate.(*ld.IRI)
		if !ok {
			continue
		}
		p := pred.Value
		value := rdf.LexicalForm(t.Object)

		switch b.fields.classify(p) {
		case kindLabel:
			doc.AddField(document.NewTextFieldCustom(p, nil, []byte(value), textOptions, b.text))
			doc.AddField(document.NewTextFieldCustom(FieldLabel, nil, []byte(value), labelOptions, b.text))
		case kindLabelOnly:
			doc.AddField(document.NewTextFieldCustom(p, nil, []byte(value), labelOptions, b.text))
			doc.AddField(document.NewTextFieldCustom(FieldLabel, nil, []byte(value), labelOptions, b.text))
		case kindValue:
			switch obj := t.Object.(type) {
			case *ld.IRI:
				doc.AddField(document.NewTextFieldCustom(p, nil, []byte(obj.Value), exactOptions, b.keyword))
				refs[p] = true
			case *ld.Literal:
				if n, ok := integralValue(obj); ok {
					doc.AddField(document.NewNumericFieldWithIndexingOptions(p, nil, float64(n), numericOptions))
					doc.AddField(document.NewTextFieldCustom(fieldIntPrefix+p, nil, []byte(strconv.FormatInt(n, 10)), storedOptions, nil))
				} else {
					doc.AddField(document.NewTextFieldCustom(p, nil, []byte(obj.Value), textOptions, b.text))
				}
			}
		}
	}

	names := make([]string, 0, len(refs))
	for p := range refs {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, p := range names {
		doc.AddField(document.NewTextFieldCustom(fieldRefs, nil, []byte(p), storedOptions, nil))
	}
	return doc
}

// integralValue returns the value of an XSD integer literal that fits in int64.
func integralValue(lit *ld.Literal) (int64, bool) {
	if !rdf.IsIntegral(lit) {
		return 0, false
	}
	n, err := strconv.ParseInt(lit.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
