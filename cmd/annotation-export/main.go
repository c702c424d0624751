// Command annotation-export writes the stored annotations of a document as
// CSV or YAML without starting the MCP server.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/a3tai/mcp-pdf-annotator/internal/config"
	"github.com/a3tai/mcp-pdf-annotator/internal/engine"
	"github.com/a3tai/mcp-pdf-annotator/internal/export"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

const (
	formatCSV  = "csv"
	formatYAML = "yaml"
)

type options struct {
	format   string
	out      string
	pdfDir   string
	dataDir  string
	dbDriver string
	dbDSN    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "annotation-export <document-id|pdf-path>",
		Short: "Export stored PDF annotations as CSV or YAML",
		Long: "annotation-export reads the annotations recorded for a document and writes\n" +
			"them as one CSV row per line item, or as a YAML record dump with geometry.\n" +
			"The document is named by its identity or by the PDF file it was recorded on.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts, args[0])
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.pdfDir, "dir", ".", "PDF directory the server was started with")
	flags.StringVar(&opts.dataDir, "datadir", "", "Directory holding the annotation database (default <dir>/"+config.DefaultDataDirName+")")
	flags.StringVar(&opts.dbDriver, "dbdriver", store.DriverSQLite, "Annotation database driver (sqlite, postgres)")
	flags.StringVar(&opts.dbDSN, "dbdsn", "", "Annotation database DSN (default <datadir>/annotations.db for sqlite)")
	root.Flags().StringVarP(&opts.format, "format", "f", formatCSV, "Output format: csv, yaml")
	root.Flags().StringVarP(&opts.out, "out", "o", "", "Output file (default stdout, '.' for <name>_annotations.<format>)")

	root.AddCommand(newListCmd(opts))
	return root
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the identities of documents with stored annotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			docs, err := st.Documents(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range docs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func runExport(cmd *cobra.Command, opts *options, target string) error {
	format := strings.ToLower(opts.format)
	if format != formatCSV && format != formatYAML {
		return fmt.Errorf("unknown format %q (must be csv or yaml)", opts.format)
	}

	documentID, name, err := resolveDocument(target)
	if err != nil {
		return err
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	exporter := export.NewExporter(st, schema.Default())
	var data []byte
	if format == formatCSV {
		data, err = exporter.ExportCSV(cmd.Context(), documentID)
	} else {
		data, err = exporter.ExportYAML(cmd.Context(), documentID)
	}
	if err != nil {
		return err
	}

	return writeOutput(cmd.OutOrStdout(), opts.out, outputName(name, format), data)
}

// resolveDocument maps a PDF path to its content identity. Anything that is
// not an existing file is taken as an identity.
func resolveDocument(target string) (id, name string, err error) {
	info, statErr := os.Stat(target)
	if statErr != nil || info.IsDir() {
		return target, target, nil
	}
	id, err = engine.Identity(target)
	if err != nil {
		return "", "", fmt.Errorf("cannot identify %s: %w", target, err)
	}
	return id, filepath.Base(target), nil
}

func openStore(opts *options) (*store.GormStore, error) {
	dsn := opts.dbDSN
	if dsn == "" && opts.dbDriver == store.DriverSQLite {
		dsn = filepath.Join(opts.dataDirectory(), config.DefaultDBFile)
		if _, err := os.Stat(dsn); err != nil {
			return nil, fmt.Errorf("no annotation database at %s: %w", dsn, err)
		}
	}
	return store.Open(opts.dbDriver, dsn, schema.Default(), store.Options{})
}

// dataDirectory mirrors the server default of <dir>/.annotations
func (o *options) dataDirectory() string {
	if o.dataDir != "" {
		return o.dataDir
	}
	return filepath.Join(o.pdfDir, config.DefaultDataDirName)
}

func outputName(documentName, format string) string {
	name := export.DefaultFileName(documentName)
	if format == formatYAML {
		name = strings.TrimSuffix(name, ".csv") + ".yaml"
	}
	return name
}

func writeOutput(stdout io.Writer, out, defaultName string, data []byte) error {
	switch out {
	case "":
		_, err := stdout.Write(data)
		return err
	case ".":
		out = defaultName
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return fmt.Errorf("cannot write %s: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes)\n", out, len(data))
	return nil
}
