package index

import (
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2/search"
)

// Resource is a field value that refers to another resource by URI.
type Resource string

// Result is one search hit.
type Result struct {
	Score float64
	URI   string
	Graph string

	fields map[string][]interface{}
}

func newResult(hit *search.DocumentMatch) *Result {
	r := &Result{
		Score:  hit.Score,
		fields: make(map[string][]interface{}),
	}

	refs := map[string]bool{}
	for _, v := range asSlice(hit.Fields[fieldRefs]) {
		if s, ok := v.(string); ok {
			refs[s] = true
		}
	}

	for name, raw := range hit.Fields {
		switch name {
		case fieldRefs:
			continue
		case FieldURI:
			r.URI = firstString(raw)
			continue
		case FieldGraph:
			r.Graph = firstString(raw)
			continue
		}
		if pred, ok := strings.CutPrefix(name, fieldIntPrefix); ok {
			for _, v := range asSlice(raw) {
				s, _ := v.(string)
				if n, err := strconv.ParseInt(s, 10, 64); err == nil {
					r.fields[pred] = append(r.fields[pred], n)
				}
			}
			continue
		}
		for _, v := range asSlice(raw) {
			switch val := v.(type) {
			case string:
				if refs[name] {
					r.fields[name] = append(r.fields[name], Resource(val))
				} else {
					r.fields[name] = append(r.fields[name], val)
				}
			}
		}
	}
	return r
}

// FieldNames returns the stored predicate fields of the hit, sorted.
func (r *Result) FieldNames() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns the stored values of a field. Each value is a string, an
// int64 or a Resource.
func (r *Result) Values(field string) []interface{} {
	return r.fields[field]
}

// Value returns the first stored value of a field, or nil.
func (r *Result) Value(field string) interface{} {
	if v := r.fields[field]; len(v) > 0 {
		return v[0]
	}
	return nil
}

// bleve returns a single stored value bare and repeated values as a slice.
func asSlice(v interface{}) []interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return val
	default:
		return []interface{}{val}
	}
}

func firstString(v interface{}) string {
	for _, x := range asSlice(v) {
		if s, ok := x.(string); ok {
			return s
		}
	}
	return ""
}
