package rdf

import (
	"encoding/binary"
	"fmt"

	"github.com/piprate/json-gold/ld"
)

// Term kinds in the binary triple encoding.
const (
	kindIRI     = byte('I')
	kindBlank   = byte('B')
	kindLiteral = byte('L')
)

// MarshalTriple encodes a triple as three length-prefixed terms. Unlike the
// N-Triples form it needs no parser to read back, so any IRI survives,
// including relative ones such as <foo>.
//
// Layout per term: kind byte, then uvarint length + bytes for the value. A
// literal adds datatype and language the same way.
func MarshalTriple(t Triple) []byte {
	buf := make([]byte, 0, 64)
	buf = appendTerm(buf, t.Subject)
	buf = appendTerm(buf, t.Predicate)
	return appendTerm(buf, t.Object)
}

// UnmarshalTriple decodes a triple written by MarshalTriple.
// Returns ErrMalformedInput for truncated or unknown data.
func UnmarshalTriple(data []byte) (Triple, error) {
	var nodes [3]ld.Node
	for i := range nodes {
		n, rest, err := readTerm(data)
		if err != nil {
			return Triple{}, fmt.Errorf("%w: term %d: %v", ErrMalformedInput, i, err)
		}
		nodes[i] = n
		data = rest
	}
	if len(data) != 0 {
		return Triple{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedInput, len(data))
	}
	return NewTriple(nodes[0], nodes[1], nodes[2]), nil
}

func appendTerm(buf []byte, n ld.Node) []byte {
	switch v := n.(type) {
	case *ld.IRI:
		buf = append(buf, kindIRI)
		return appendString(buf, v.Value)
	case *ld.BlankNode:
		buf = append(buf, kindBlank)
		return appendString(buf, v.Attribute)
	case *ld.Literal:
		buf = append(buf, kindLiteral)
		buf = appendString(buf, v.Value)
		buf = appendString(buf, v.Datatype)
		return appendString(buf, v.Language)
	default:
		// unknown node types are kept by value as IRIs
		buf = append(buf, kindIRI)
		if n == nil {
			return appendString(buf, "")
		}
		return appendString(buf, n.GetValue())
	}
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readTerm(data []byte) (ld.Node, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("missing term")
	}
	kind, data := data[0], data[1:]
	value, data, err := readString(data)
	if err != nil {
		return nil, nil, err
	}
	switch kind {
	case kindIRI:
		return IRI(value), data, nil
	case kindBlank:
		return Blank(value), data, nil
	case kindLiteral:
		datatype, data, err := readString(data)
		if err != nil {
			return nil, nil, err
		}
		lang, data, err := readString(data)
		if err != nil {
			return nil, nil, err
		}
		return ld.NewLiteral(value, datatype, lang), data, nil
	default:
		return nil, nil, fmt.Errorf("unknown term kind %q", kind)
	}
}

func readString(data []byte) (string, []byte, error) {
	n, size := binary.Uvarint(data)
	if size <= 0 {
		return "", nil, fmt.Errorf("bad length prefix")
	}
	data = data[size:]
	if uint64(len(data)) < n {
		return "", nil, fmt.Errorf("length %d exceeds %d remaining bytes", n, len(data))
	}
	return string(data[:n]), data[n:], nil
}
