// Package main provides the graphstore CLI entry point.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orneryd/graphstore/pkg/config"
	"github.com/orneryd/graphstore/pkg/graphstore"
	"github.com/orneryd/graphstore/pkg/index"
	"github.com/orneryd/graphstore/pkg/rdf"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graphstore",
		Short: "graphstore - named-graph RDF store with full-text indexing and RDFS inference",
		Long: `graphstore keeps RDF data as named graphs, materializes RDFS subclass and
subproperty entailments on write, and indexes typed entities for search.

Backends:
  • memory  - in-process, non-transactional
  • badger  - persistent, transactional`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to graphstore.yaml (GRAPHSTORE_* variables override it)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graphstore v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a data directory with a default configuration",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	addCmd := &cobra.Command{
		Use:   "add [graph] [file]",
		Short: "Add the contents of an RDF file to a named graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, args, false)
		},
	}
	addCmd.Flags().String("media-type", "", "Media type of the file (default: from extension)")
	rootCmd.AddCommand(addCmd)

	updateCmd := &cobra.Command{
		Use:   "update [graph] [file]",
		Short: "Replace a named graph with the contents of an RDF file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, args, true)
		},
	}
	updateCmd.Flags().String("media-type", "", "Media type of the file (default: from extension)")
	rootCmd.AddCommand(updateCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete [graph]",
		Short: "Delete a named graph and its index documents",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "graphs",
		Short: "List named graphs",
		RunE:  runGraphs,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "dump [graph]",
		Short: "Write a named graph, or the union of all graphs, as N-Quads",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDump,
	})

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the index with a query string",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().Int("offset", 0, "Results to skip")
	searchCmd.Flags().Int("limit", 10, "Maximum results")
	rootCmd.AddCommand(searchCmd)

	return rootCmd
}

func openDB(cmd *cobra.Command) (*graphstore.DB, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFromEnvOrFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	return graphstore.Open(cfg, logger)
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initializing graphstore in %s\n", dataDir)

	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "dataset"),
		filepath.Join(dataDir, "actions"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	fieldsPath := filepath.Join(dataDir, "index-config.nt")
	fields := rdf.NewGraph()
	root := rdf.IRI("urn:graphstore:index-config")
	fields.Add(root, rdf.IRI(rdf.RDFType), rdf.IRI(index.IXConfig))
	fields.Add(root, rdf.IRI(index.IXLabelProp), rdf.IRI(rdf.RDFSLabel))
	fields.Add(root, rdf.IRI(index.IXValueProp), rdf.IRI(rdf.RDFType))
	if err := os.WriteFile(fieldsPath, []byte(rdf.FormatNQuads(rdf.DefaultGraph, fields)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", fieldsPath, err)
	}

	configPath := filepath.Join(dataDir, "graphstore.yaml")
	configContent := fmt.Sprintf(`# graphstore configuration
store:
  backend: badger
  location: %s
  union_default: false
  log_dir: %s

index:
  enabled: true
  location: %s
  config: %s
  commit_window: "0"

inference:
  ontologies: []

logging:
  level: INFO
  format: text
`,
		filepath.Join(dataDir, "dataset"),
		filepath.Join(dataDir, "actions"),
		filepath.Join(dataDir, "index"),
		fieldsPath,
	)
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}

	fmt.Fprintf(out, "Created %s\n", configPath)
	fmt.Fprintf(out, "Run: graphstore --config %s graphs\n", configPath)
	return nil
}

func runLoad(cmd *cobra.Command, args []string, update bool) error {
	name, path := args[0], args[1]
	mediaType, _ := cmd.Flags().GetString("media-type")
	if mediaType == "" {
		mt, err := rdf.MediaTypeForPath(path)
		if err != nil {
			return err
		}
		mediaType = mt
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if update {
		err = db.Store().UpdateGraphStream(name, f, mediaType)
	} else {
		err = db.Store().AddGraphStream(name, f, mediaType)
	}
	if err != nil {
		return err
	}
	g, err := db.Store().Graph(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d triples\n", name, g.Len())
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Store().DeleteGraph(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runGraphs(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	names, err := db.Store().GraphNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		g, err := db.Store().Graph(args[0])
		if err != nil {
			return err
		}
		return rdf.WriteNQuads(cmd.OutOrStdout(), args[0], g)
	}
	union, err := db.Store().UnionModel()
	if err != nil {
		return err
	}
	return rdf.WriteNQuads(cmd.OutOrStdout(), rdf.DefaultGraph, union)
}

func runSearch(cmd *cobra.Command, args []string) error {
	offset, _ := cmd.Flags().GetInt("offset")
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := db.Search(args[0], offset, limit)
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), results)
	return nil
}

func printResults(w io.Writer, results []*index.Result) {
	fmt.Fprintf(w, "%d results\n", len(results))
	for _, r := range results {
		fmt.Fprintf(w, "%.4f  %s  (%s)\n", r.Score, r.URI, r.Graph)
		for _, field := range r.FieldNames() {
			for _, v := range r.Values(field) {
				switch val := v.(type) {
				case index.Resource:
					fmt.Fprintf(w, "    %s = <%s>\n", field, string(val))
				default:
					fmt.Fprintf(w, "    %s = %v\n", field, val)
				}
			}
		}
	}
}
