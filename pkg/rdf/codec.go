package rdf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/piprate/json-gold/ld"
)

// Supported media types.
const (
	MediaTypeNQuads   = "application/n-quads"
	MediaTypeNTriples = "application/n-triples"
	MediaTypeJSONLD   = "application/ld+json"
	MediaTypeText     = "text/plain"
)

// Codec errors
var (
	ErrUnsupportedFormat = errors.New("unsupported RDF format")
	ErrMalformedInput    = errors.New("malformed RDF input")
)

var extensionTypes = map[string]string{
	".nq":     MediaTypeNQuads,
	".nt":     MediaTypeNTriples,
	".jsonld": MediaTypeJSONLD,
	".json":   MediaTypeJSONLD,
}

// NormalizeMediaType lowercases a media type and strips parameters such as
// charset.
func NormalizeMediaType(mediaType string) string {
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// IsSupported reports whether mediaType can be parsed by ParseGraph.
func IsSupported(mediaType string) bool {
	switch NormalizeMediaType(mediaType) {
	case MediaTypeNQuads, MediaTypeNTriples, MediaTypeText, MediaTypeJSONLD:
		return true
	}
	return false
}

// MediaTypeForPath guesses a media type from a file extension.
func MediaTypeForPath(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := extensionTypes[ext]; ok {
		return mt, nil
	}
	return "", fmt.Errorf("%w: no media type for extension %q", ErrUnsupportedFormat, ext)
}

// ParseGraph reads an RDF document and returns its triples as one graph.
// Quads in named graphs are flattened into the result.
//
// Returns ErrUnsupportedFormat for unknown media types and ErrMalformedInput
// when the content cannot be parsed.
func ParseGraph(r io.Reader, mediaType string) (*Graph, error) {
	mt := NormalizeMediaType(mediaType)
	if !IsSupported(mt) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}

	switch mt {
	case MediaTypeJSONLD:
		doc, err := ld.DocumentFromReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		proc := ld.NewJsonLdProcessor()
		out, err := proc.ToRDF(doc, ld.NewJsonLdOptions(""))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		ds, ok := out.(*ld.RDFDataset)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected JSON-LD result %T", ErrMalformedInput, out)
		}
		return FromDataset(ds), nil
	default:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		ds, err := ld.ParseNQuads(string(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		return FromDataset(ds), nil
	}
}

// ParseFile loads an RDF file, choosing the parser from its extension.
func ParseFile(path string) (*Graph, error) {
	mt, err := MediaTypeForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ParseGraph(f, mt)
}

// WriteNQuads serializes g as sorted N-Quads lines. For the default graph the
// output is plain N-Triples.
func WriteNQuads(w io.Writer, graphName string, g *Graph) error {
	bw := bufio.NewWriter(w)
	suffix := " .\n"
	if graphName != DefaultGraph {
		suffix = " " + graphTerm(graphName) + " .\n"
	}
	for _, t := range g.Triples() {
		line := TermString(t.Subject) + " " + TermString(t.Predicate) + " " + TermString(t.Object) + suffix
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FormatNQuads is WriteNQuads into a string.
func FormatNQuads(graphName string, g *Graph) string {
	var b strings.Builder
	_ = WriteNQuads(&b, graphName, g)
	return b.String()
}

func graphTerm(name string) string {
	if strings.HasPrefix(name, "_:") {
		return name
	}
	return "<" + name + ">"
}
