package rdf

import (
	"strings"

	"github.com/piprate/json-gold/ld"
)

// Well-known vocabulary.
const (
	RDFNS  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSNS = "http://www.w3.org/2000/01/rdf-schema#"
	XSDNS  = "http://www.w3.org/2001/XMLSchema#"

	RDFType           = RDFNS + "type"
	RDFLangString     = RDFNS + "langString"
	RDFSSubClassOf    = RDFSNS + "subClassOf"
	RDFSSubPropertyOf = RDFSNS + "subPropertyOf"
	RDFSLabel         = RDFSNS + "label"

	XSDString  = XSDNS + "string"
	XSDBoolean = XSDNS + "boolean"
	XSDInteger = XSDNS + "integer"
	XSDLong    = XSDNS + "long"
)

// DefaultGraph names the unnamed graph of a dataset.
const DefaultGraph = ""

// integralTypes are the XSD datatypes whose lexical forms are whole numbers.
var integralTypes = map[string]bool{
	XSDInteger:                   true,
	XSDLong:                      true,
	XSDNS + "int":                true,
	XSDNS + "short":              true,
	XSDNS + "byte":               true,
	XSDNS + "nonNegativeInteger": true,
	XSDNS + "nonPositiveInteger": true,
	XSDNS + "positiveInteger":    true,
	XSDNS + "negativeInteger":    true,
	XSDNS + "unsignedLong":       true,
	XSDNS + "unsignedInt":        true,
	XSDNS + "unsignedShort":      true,
	XSDNS + "unsignedByte":       true,
}

// IRI returns a URI resource node.
func IRI(value string) ld.Node {
	return ld.NewIRI(value)
}

// Blank returns a blank node. The id may be given with or without the "_:" prefix.
func Blank(id string) ld.Node {
	if !strings.HasPrefix(id, "_:") {
		id = "_:" + id
	}
	return ld.NewBlankNode(id)
}

// Literal returns a plain xsd:string literal.
func Literal(value string) ld.Node {
	return ld.NewLiteral(value, XSDString, "")
}

// TypedLiteral returns a literal with an explicit datatype.
func TypedLiteral(value, datatype string) ld.Node {
	return ld.NewLiteral(value, datatype, "")
}

// LangLiteral returns a language-tagged literal.
func LangLiteral(value, lang string) ld.Node {
	return ld.NewLiteral(value, RDFLangString, lang)
}

// IsIntegral reports whether a literal's datatype is one of the XSD integer types.
func IsIntegral(lit *ld.Literal) bool {
	return integralTypes[lit.Datatype]
}

// TermString renders a node in N-Triples syntax. It doubles as the identity
// key for the node: two nodes are the same term iff their TermStrings match.
func TermString(n ld.Node) string {
	switch v := n.(type) {
	case *ld.IRI:
		return "<" + v.Value + ">"
	case *ld.BlankNode:
		if strings.HasPrefix(v.Attribute, "_:") {
			return v.Attribute
		}
		return "_:" + v.Attribute
	case *ld.Literal:
		quoted := `"` + escapeLiteral(v.Value) + `"`
		switch {
		case v.Language != "":
			return quoted + "@" + v.Language
		case v.Datatype == "" || v.Datatype == XSDString:
			return quoted
		default:
			return quoted + "^^<" + v.Datatype + ">"
		}
	case nil:
		return ""
	default:
		return n.GetValue()
	}
}

// LexicalForm returns the string form of a node used for labels and text
// fields: the lexical form of literals, the URI of resources and "[]" for
// blank nodes.
func LexicalForm(n ld.Node) string {
	switch v := n.(type) {
	case *ld.Literal:
		return v.Value
	case *ld.IRI:
		return v.Value
	default:
		return "[]"
	}
}

func escapeLiteral(s string) string {
	if !strings.ContainsAny(s, "\\\"\n\r\t") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
