package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphstore/pkg/config"
	"github.com/orneryd/graphstore/pkg/rdf"
)

const ex = "http://ex.org/"

func ontology() *rdf.Graph {
	o := rdf.NewGraph()
	o.Add(rdf.IRI(ex+"Manager"), rdf.IRI(rdf.RDFSSubClassOf), rdf.IRI(ex+"Employee"))
	o.Add(rdf.IRI(ex+"Employee"), rdf.IRI(rdf.RDFSSubClassOf), rdf.IRI(ex+"Person"))
	o.Add(rdf.IRI(ex+"worksFor"), rdf.IRI(rdf.RDFSSubPropertyOf), rdf.IRI(ex+"affiliatedWith"))
	return o
}

func TestClosure(t *testing.T) {
	c := NewClosure(ontology())
	typ := rdf.IRI(rdf.RDFType)

	t.Run("subclass_entailment", func(t *testing.T) {
		data := rdf.NewGraph()
		data.Add(rdf.IRI(ex+"bob"), typ, rdf.IRI(ex+"Employee"))
		c.Mutate(data)

		assert.True(t, data.Contains(rdf.IRI(ex+"bob"), typ, rdf.IRI(ex+"Employee")))
		assert.True(t, data.Contains(rdf.IRI(ex+"bob"), typ, rdf.IRI(ex+"Person")))
		assert.Equal(t, 2, data.Len())
	})

	t.Run("subclass_chain_in_one_pass", func(t *testing.T) {
		data := rdf.NewGraph()
		data.Add(rdf.IRI(ex+"carol"), typ, rdf.IRI(ex+"Manager"))
		c.Mutate(data)

		assert.True(t, data.Contains(rdf.IRI(ex+"carol"), typ, rdf.IRI(ex+"Employee")))
		assert.True(t, data.Contains(rdf.IRI(ex+"carol"), typ, rdf.IRI(ex+"Person")))
	})

	t.Run("subproperty_entailment", func(t *testing.T) {
		data := rdf.NewGraph()
		data.Add(rdf.IRI(ex+"bob"), rdf.IRI(ex+"worksFor"), rdf.IRI(ex+"acme"))
		c.Mutate(data)

		assert.True(t, data.Contains(rdf.IRI(ex+"bob"), rdf.IRI(ex+"affiliatedWith"), rdf.IRI(ex+"acme")))
		assert.Equal(t, 2, data.Len())
	})

	t.Run("unrelated_triples_untouched", func(t *testing.T) {
		data := rdf.NewGraph()
		data.Add(rdf.IRI(ex+"bob"), rdf.IRI(rdf.RDFSLabel), rdf.Literal("Bob"))
		data.Add(rdf.IRI(ex+"bob"), typ, rdf.IRI(ex+"Robot"))
		c.Mutate(data)
		assert.Equal(t, 2, data.Len())
	})

	t.Run("idempotent", func(t *testing.T) {
		data := rdf.NewGraph()
		data.Add(rdf.IRI(ex+"carol"), typ, rdf.IRI(ex+"Manager"))
		data.Add(rdf.IRI(ex+"carol"), rdf.IRI(ex+"worksFor"), rdf.IRI(ex+"acme"))
		c.Mutate(data)
		first := data.Clone()
		c.Mutate(data)

		assert.Equal(t, first.Len(), data.Len())
		assert.Equal(t, first.Triples(), data.Triples())
	})

	t.Run("super_lookups", func(t *testing.T) {
		if diff := cmp.Diff([]string{ex + "Employee", ex + "Person"}, c.SuperClasses(ex+"Manager")); diff != "" {
			t.Errorf("SuperClasses mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, []string{ex + "affiliatedWith"}, c.SuperProperties(ex+"worksFor"))
		assert.Empty(t, c.SuperClasses(ex+"Person"))
	})
}

func TestLoad(t *testing.T) {
	t.Run("requires_a_path", func(t *testing.T) {
		_, err := Load(nil)
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(nil, filepath.Join(t.TempDir(), "missing.nt"))
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})

	t.Run("merges_files", func(t *testing.T) {
		dir := t.TempDir()
		a := filepath.Join(dir, "a.nt")
		b := filepath.Join(dir, "b.nt")
		require.NoError(t, os.WriteFile(a, []byte(rdf.FormatNQuads(rdf.DefaultGraph, ontology())), 0o644))
		extra := rdf.NewGraph()
		extra.Add(rdf.IRI(ex+"Person"), rdf.IRI(rdf.RDFSSubClassOf), rdf.IRI(ex+"Agent"))
		require.NoError(t, os.WriteFile(b, []byte(rdf.FormatNQuads(rdf.DefaultGraph, extra)), 0o644))

		c, err := Load(nil, a, b)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "Agent", ex + "Employee", ex + "Person"}, c.SuperClasses(ex+"Manager"))
	})
}
