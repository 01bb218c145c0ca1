package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphstore/pkg/rdf"
)

const ex = "http://ex.org/"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "graphstore v"+version)
}

func TestCommandsAgainstInitializedDir(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "init", "--data-dir", dir)
	require.NoError(t, err)
	cfg := filepath.Join(dir, "graphstore.yaml")
	require.FileExists(t, cfg)
	require.FileExists(t, filepath.Join(dir, "index-config.nt"))

	data := filepath.Join(t.TempDir(), "people.nt")
	require.NoError(t, os.WriteFile(data, []byte(
		"<"+ex+"alice> <"+rdf.RDFType+"> <"+ex+"Person> .\n"+
			"<"+ex+"alice> <"+rdf.RDFSLabel+"> \"Alice\" .\n"), 0o644))

	t.Run("add", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "add", ex+"g1", data)
		require.NoError(t, err)
		assert.Contains(t, out, ex+"g1: 2 triples")
	})

	t.Run("graphs", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "graphs")
		require.NoError(t, err)
		assert.Equal(t, ex+"g1\n", out)
	})

	t.Run("search", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "search", "label:alice")
		require.NoError(t, err)
		assert.Contains(t, out, "1 results")
		assert.Contains(t, out, ex+"alice")
		assert.Contains(t, out, rdf.RDFType+" = <"+ex+"Person>")
	})

	t.Run("dump", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "dump", ex+"g1")
		require.NoError(t, err)
		assert.Contains(t, out, "<"+ex+"alice> <"+rdf.RDFSLabel+"> \"Alice\" <"+ex+"g1> .")
	})

	t.Run("unsupported_extension", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "data.ttl")
		require.NoError(t, os.WriteFile(bad, nil, 0o644))
		_, err := run(t, "--config", cfg, "add", ex+"g2", bad)
		assert.ErrorIs(t, err, rdf.ErrUnsupportedFormat)
	})

	t.Run("delete", func(t *testing.T) {
		_, err := run(t, "--config", cfg, "delete", ex+"g1")
		require.NoError(t, err)
		out, err := run(t, "--config", cfg, "graphs")
		require.NoError(t, err)
		assert.Empty(t, out)

		out, err = run(t, "--config", cfg, "search", "alice")
		require.NoError(t, err)
		assert.Contains(t, out, "0 results")
	})
}
