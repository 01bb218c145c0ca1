package index

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphstore/pkg/config"
	"github.com/orneryd/graphstore/pkg/rdf"
)

const ex = "http://ex.org/"

func testFields() *FieldConfig {
	return &FieldConfig{
		LabelProps:     []string{rdf.RDFSLabel},
		LabelOnlyProps: []string{ex + "nickname"},
		ValueProps:     []string{ex + "age", ex + "knows", ex + "bio"},
	}
}

func newTestIndex(t *testing.T, window time.Duration) *Index {
	t.Helper()
	x, err := New(Options{Fields: testFields(), CommitWindow: window})
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x
}

func person(uri, label string) *rdf.Graph {
	g := rdf.NewGraph()
	g.Add(rdf.IRI(uri), rdf.IRI(rdf.RDFType), rdf.IRI(ex+"Person"))
	g.Add(rdf.IRI(uri), rdf.IRI(rdf.RDFSLabel), rdf.Literal(label))
	return g
}

func alice() *rdf.Graph {
	g := person(ex+"alice", "Alice Smith")
	g.Add(rdf.IRI(ex+"alice"), rdf.IRI(ex+"age"), rdf.TypedLiteral("42", rdf.XSDInteger))
	g.Add(rdf.IRI(ex+"alice"), rdf.IRI(ex+"knows"), rdf.IRI(ex+"bob"))
	g.Add(rdf.IRI(ex+"alice"), rdf.IRI(ex+"bio"), rdf.Literal("Writes compilers"))
	g.Add(rdf.IRI(ex+"alice"), rdf.IRI(ex+"nickname"), rdf.Literal("Ally"))
	g.Add(rdf.IRI(ex+"alice"), rdf.IRI(ex+"secret"), rdf.Literal("hunter2"))
	return g
}

func uris(results []*Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.URI)
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("requires_field_config", func(t *testing.T) {
		_, err := New(Options{})
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})

	t.Run("rejects_negative_window", func(t *testing.T) {
		_, err := New(Options{Fields: testFields(), CommitWindow: -time.Second})
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})
}

func TestIndexDocuments(t *testing.T) {
	t.Run("label_search_finds_entity", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", alice()))
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"bob", "Bob Jones")))

		results, err := x.SearchString("label:alice", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "alice"}, uris(results))
		assert.Equal(t, ex+"g1", results[0].Graph)
		assert.Greater(t, results[0].Score, 0.0)

		results, err = x.SearchString("jones", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "bob"}, uris(results), "unqualified terms search label")
	})

	t.Run("stored_values_are_typed", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", alice()))

		results, err := x.SearchString("label:smith", 0, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		r := results[0]

		assert.Equal(t, []string{ex + "age", ex + "bio", ex + "knows", rdf.RDFSLabel}, r.FieldNames())
		assert.Equal(t, "Alice Smith", r.Value(rdf.RDFSLabel))
		assert.Equal(t, int64(42), r.Value(ex+"age"))
		assert.Equal(t, Resource(ex+"bob"), r.Value(ex+"knows"))
		assert.Equal(t, "Writes compilers", r.Value(ex+"bio"))
		assert.Nil(t, r.Value(ex+"nickname"), "label-only props are not stored")
		assert.Nil(t, r.Value(ex+"secret"), "unconfigured props are not indexed")
	})

	t.Run("large_integers_keep_full_precision", func(t *testing.T) {
		x := newTestIndex(t, 0)
		g := person(ex+"big", "Big Number")
		g.Add(rdf.IRI(ex+"big"), rdf.IRI(ex+"age"), rdf.TypedLiteral("9007199254740993", rdf.XSDLong))
		g.Add(rdf.IRI(ex+"big"), rdf.IRI(ex+"bio"), rdf.TypedLiteral("9223372036854775808", rdf.XSDInteger))
		require.NoError(t, x.AddGraph(ex+"g1", g))

		results, err := x.SearchString("label:big", 0, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(9007199254740993), results[0].Value(ex+"age"))
		assert.Equal(t, "9223372036854775808", results[0].Value(ex+"bio"), "out of int64 range stays text")

		lo := 9.0e15
		rq := bleve.NewNumericRangeQuery(&lo, nil)
		rq.SetField(ex + "age")
		results, err = x.Search(rq, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "big"}, uris(results))
	})

	t.Run("label_only_props_are_searchable", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", alice()))

		results, err := x.SearchString("label:ally", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "alice"}, uris(results))
	})

	t.Run("numeric_and_resource_queries", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", alice()))
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"bob", "Bob Jones")))

		lo, hi := 40.0, 50.0
		rq := bleve.NewNumericRangeQuery(&lo, &hi)
		rq.SetField(ex + "age")
		results, err := x.Search(rq, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "alice"}, uris(results))

		tq := bleve.NewTermQuery(ex + "bob")
		tq.SetField(ex + "knows")
		results, err = x.Search(tq, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "alice"}, uris(results))
	})

	t.Run("untyped_and_blank_subjects_are_skipped", func(t *testing.T) {
		x := newTestIndex(t, 0)
		g := rdf.NewGraph()
		g.Add(rdf.IRI(ex+"untyped"), rdf.IRI(rdf.RDFSLabel), rdf.Literal("nobody"))
		g.Add(rdf.Blank("b1"), rdf.IRI(rdf.RDFType), rdf.IRI(ex+"Person"))
		g.Add(rdf.Blank("b1"), rdf.IRI(rdf.RDFSLabel), rdf.Literal("anonymous"))
		require.NoError(t, x.AddGraph(ex+"g1", g))

		n, err := x.DocCount()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("same_entity_in_two_graphs", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"alice", "Alice")))
		require.NoError(t, x.AddGraph(ex+"g2", person(ex+"alice", "Alice")))

		n, err := x.DocCount()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)
	})

	t.Run("delete_graph_removes_its_documents", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"alice", "Alice")))
		require.NoError(t, x.AddGraph(ex+"g2", person(ex+"bob", "Bob")))
		require.NoError(t, x.DeleteGraph(ex+"g1"))

		results, err := x.SearchString("alice", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = x.SearchString("bob", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "bob"}, uris(results))
	})

	t.Run("update_replaces_entity_in_every_graph", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"alice", "Alice Old")))
		require.NoError(t, x.AddGraph(ex+"g2", person(ex+"alice", "Alice Old")))
		require.NoError(t, x.UpdateGraph(ex+"g3", person(ex+"alice", "Alice New")))

		results, err := x.SearchString("old", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = x.SearchString("new", 0, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, ex+"g3", results[0].Graph)
	})

	t.Run("offset_and_max", func(t *testing.T) {
		x := newTestIndex(t, 0)
		for _, name := range []string{"a", "b", "c"} {
			require.NoError(t, x.AddGraph(ex+"g1", person(ex+name, "Member "+name)))
		}
		all, err := x.SearchString("member", 0, 10)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		page, err := x.SearchString("member", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Contains(t, uris(all), page[0].URI)

		past, err := x.SearchString("member", 3, 10)
		require.NoError(t, err)
		assert.Empty(t, past)

		none, err := x.SearchString("member", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("invalid_query_string", func(t *testing.T) {
		x := newTestIndex(t, 0)
		_, err := x.SearchString("(alice", 0, 10)
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestCommitScheduling(t *testing.T) {
	t.Run("zero_window_commits_every_write", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"a", "A")))
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"b", "B")))
		assert.Equal(t, int64(2), x.Commits())
		assert.Equal(t, uint64(2), x.Generation())
	})

	t.Run("nested_batches_commit_once", func(t *testing.T) {
		x := newTestIndex(t, 0)
		x.StartBatch()
		x.StartBatch()
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"anna", "Anna")))
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"bert", "Bert")))
		require.NoError(t, x.EndBatch())
		assert.Zero(t, x.Commits())

		results, err := x.SearchString("anna", 0, 10)
		require.NoError(t, err)
		assert.Len(t, results, 1, "uncommitted writes are searchable")

		require.NoError(t, x.EndBatch())
		assert.Equal(t, int64(1), x.Commits())
	})

	t.Run("end_batch_underflow", func(t *testing.T) {
		x := newTestIndex(t, 0)
		assert.ErrorIs(t, x.EndBatch(), ErrBatchUnderflow)
	})

	t.Run("window_coalesces_burst_into_one_commit", func(t *testing.T) {
		x := newTestIndex(t, 50*time.Millisecond)
		for _, name := range []string{"a", "b", "c", "d", "e"} {
			require.NoError(t, x.AddGraph(ex+"g1", person(ex+name, name)))
		}
		assert.Zero(t, x.Commits())

		assert.Eventually(t, func() bool { return x.Commits() == 1 }, 2*time.Second, 10*time.Millisecond)
		time.Sleep(120 * time.Millisecond)
		assert.Equal(t, int64(1), x.Commits())
	})

	t.Run("sustained_writes_commit_once_per_window", func(t *testing.T) {
		x := newTestIndex(t, 100*time.Millisecond)
		start := time.Now()
		writes := 0
		for time.Since(start) < 600*time.Millisecond {
			require.NoError(t, x.AddGraph(ex+"g1", person(fmt.Sprintf("%sp%d", ex, writes), "Person")))
			writes++
			time.Sleep(20 * time.Millisecond)
		}
		during := x.Commits()
		assert.GreaterOrEqual(t, during, int64(2), "%d writes over six windows", writes)
		assert.Less(t, during, int64(writes))
	})

	t.Run("last_write_is_searchable_after_window_commit", func(t *testing.T) {
		x := newTestIndex(t, 50*time.Millisecond)
		for _, label := range []string{"Anna", "Bert", "Cleo"} {
			require.NoError(t, x.UpdateGraph(ex+"g1", person(ex+"p", label)))
		}
		assert.Eventually(t, func() bool { return x.Commits() == 1 }, 2*time.Second, 10*time.Millisecond)

		results, err := x.SearchString("label:cleo", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ex + "p"}, uris(results))
		for _, stale := range []string{"label:anna", "label:bert"} {
			results, err := x.SearchString(stale, 0, 10)
			require.NoError(t, err)
			assert.Empty(t, results, stale)
		}
		n, err := x.DocCount()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("timer_firing_inside_batch_defers_to_end_batch", func(t *testing.T) {
		x := newTestIndex(t, 20*time.Millisecond)
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"a", "A")))
		x.StartBatch()
		time.Sleep(80 * time.Millisecond)
		assert.Zero(t, x.Commits())

		require.NoError(t, x.EndBatch())
		assert.Eventually(t, func() bool { return x.Commits() == 1 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("close_flushes_pending_commit", func(t *testing.T) {
		x, err := New(Options{Fields: testFields(), CommitWindow: time.Hour})
		require.NoError(t, err)
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"a", "A")))
		assert.Zero(t, x.Commits())
		require.NoError(t, x.Close())
		assert.Equal(t, int64(1), x.Commits())

		assert.ErrorIs(t, x.AddGraph(ex+"g1", person(ex+"b", "B")), ErrIndexClosed)
	})

	t.Run("failed_commit_closes_writer_and_recovers", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"alice", "Alice")))

		x.commit = func(bleve.Index, uint64) error { return errors.New("disk full") }
		err := x.AddGraph(ex+"g1", person(ex+"bob", "Bob"))
		assert.ErrorIs(t, err, ErrIndexCommit)
		x.mu.RLock()
		assert.Nil(t, x.writer)
		x.mu.RUnlock()

		x.commit = writeGeneration
		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"carol", "Carol")))
		results, err := x.SearchString("alice bob carol", 0, 10)
		require.NoError(t, err)
		assert.Len(t, results, 3)
		assert.Equal(t, uint64(2), x.Generation())
	})

	t.Run("timer_failure_surfaces_on_next_write", func(t *testing.T) {
		x := newTestIndex(t, 20*time.Millisecond)
		failures := 1
		x.commit = func(w bleve.Index, gen uint64) error {
			if failures > 0 {
				failures--
				return errors.New("disk full")
			}
			return writeGeneration(w, gen)
		}

		require.NoError(t, x.AddGraph(ex+"g1", person(ex+"a", "A")))
		assert.Eventually(t, func() bool {
			x.mu.RLock()
			defer x.mu.RUnlock()
			return x.commitErr != nil
		}, 2*time.Second, 10*time.Millisecond)

		err := x.AddGraph(ex+"g1", person(ex+"b", "B"))
		assert.ErrorIs(t, err, ErrIndexCommit)
		assert.Eventually(t, func() bool { return x.Commits() == 1 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestPersistentIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")

	x, err := New(Options{Location: dir, Fields: testFields()})
	require.NoError(t, err)
	require.NoError(t, x.AddGraph(ex+"g1", alice()))
	require.NoError(t, x.Close())

	x, err = New(Options{Location: dir, Fields: testFields()})
	require.NoError(t, err)
	defer x.Close()

	n, err := x.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, uint64(1), x.Generation())

	results, err := x.SearchString("alice", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{ex + "alice"}, uris(results))
}

func TestFieldConfig(t *testing.T) {
	t.Run("from_graph", func(t *testing.T) {
		src := strings.Join([]string{
			`<http://ex.org/cfg> <` + rdf.RDFType + `> <` + IXConfig + `> .`,
			`<http://ex.org/cfg> <` + IXIndexAll + `> "true"^^<` + rdf.XSDBoolean + `> .`,
			`<http://ex.org/cfg> <` + IXLabelProp + `> <` + rdf.RDFSLabel + `> .`,
			`<http://ex.org/cfg> <` + IXIgnoreProp + `> <http://ex.org/secret> .`,
			`<http://ex.org/cfg> <` + IXValueProp + `> <http://ex.org/age> .`,
		}, "\n") + "\n"
		g, err := rdf.ParseGraph(strings.NewReader(src), rdf.MediaTypeNQuads)
		require.NoError(t, err)

		fc, err := FieldConfigFromGraph(g)
		require.NoError(t, err)
		assert.True(t, fc.IndexAll)
		assert.Equal(t, []string{rdf.RDFSLabel}, fc.LabelProps)
		assert.Equal(t, []string{ex + "secret"}, fc.IgnoreProps)
		assert.Equal(t, []string{ex + "age"}, fc.ValueProps)

		fc.prepare()
		assert.Equal(t, kindLabel, fc.classify(rdf.RDFSLabel))
		assert.Equal(t, kindIgnore, fc.classify(ex+"secret"))
		assert.Equal(t, kindValue, fc.classify(ex+"anything"))
	})

	t.Run("missing_root", func(t *testing.T) {
		_, err := FieldConfigFromGraph(rdf.NewGraph())
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadFieldConfig(filepath.Join(t.TempDir(), "nope.nq"))
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})

	t.Run("index_all_minus_ignored", func(t *testing.T) {
		x, err := New(Options{Fields: &FieldConfig{IndexAll: true, IgnoreProps: []string{ex + "secret"}}})
		require.NoError(t, err)
		defer x.Close()
		require.NoError(t, x.AddGraph(ex+"g1", alice()))

		results, err := x.Search(bleve.NewMatchAllQuery(), 0, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.NotContains(t, results[0].FieldNames(), ex+"secret")
		assert.Contains(t, results[0].FieldNames(), ex+"nickname")
		assert.Equal(t, Resource(ex+"Person"), results[0].Value(rdf.RDFType))
	})
}

func TestQueryCache(t *testing.T) {
	t.Run("repeated_query_strings_reuse_parse", func(t *testing.T) {
		x := newTestIndex(t, 0)
		require.NoError(t, x.AddGraph(ex+"g1", alice()))

		for i := 0; i < 3; i++ {
			results, err := x.SearchString("label:alice", 0, 10)
			require.NoError(t, err)
			assert.Len(t, results, 1)
		}
		stats := x.QueryCacheStats()
		assert.Equal(t, QueryCacheStats{Size: 1, Hits: 2, Misses: 1}, stats)
	})

	t.Run("invalid_queries_are_not_cached", func(t *testing.T) {
		x := newTestIndex(t, 0)
		_, err := x.SearchString("(alice", 0, 10)
		require.ErrorIs(t, err, ErrInvalidQuery)
		assert.Zero(t, x.QueryCacheStats().Size)
	})

	t.Run("evicts_least_recently_used", func(t *testing.T) {
		c := newQueryCache(2)
		for _, s := range []string{"a", "b", "a", "c"} {
			_, err := c.parse(s)
			require.NoError(t, err)
		}
		_, hasA := c.items["a"]
		_, hasB := c.items["b"]
		assert.True(t, hasA)
		assert.False(t, hasB)
		assert.Equal(t, 2, c.stats().Size)
	})
}
