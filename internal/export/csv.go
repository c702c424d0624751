// Package export turns stored annotations into flat records.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

// FileSuffix is appended to the document name for export files
const FileSuffix = "_annotations.csv"

// Lister is the part of the store the exporter reads from
type Lister interface {
	ListForDocument(ctx context.Context, documentID string) ([]store.Annotation, error)
}

// Exporter exports the current annotations of a document
type Exporter struct {
	store  Lister
	schema *schema.Schema
}

// NewExporter creates an Exporter over the given store and schema
func NewExporter(l Lister, s *schema.Schema) *Exporter {
	return &Exporter{store: l, schema: s}
}

// ExportCSV renders the document's annotations as CSV
func (e *Exporter) ExportCSV(ctx context.Context, documentID string) ([]byte, error) {
	list, err := e.store.ListForDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}
	var buf bytes.Buffer
	if err := CSV(&buf, list, e.schema); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportYAML renders the document's annotations as a YAML record dump
func (e *Exporter) ExportYAML(ctx context.Context, documentID string) ([]byte, error) {
	list, err := e.store.ListForDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}
	var buf bytes.Buffer
	if err := YAML(&buf, documentID, list); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Rows flattens annotations into records, one per line-item index in
// ascending order with metadata repeated on each. When there are no line
// items but some metadata there is a single row; with no annotations at all
// there are none. The first row returned is the header.
func Rows(list []store.Annotation, s *schema.Schema) [][]string {
	fields := s.Fields()
	header := s.Names()

	metadata := make(map[string]string)
	items := make(map[int]map[string]string)
	for _, a := range list {
		if _, ok := s.Lookup(a.FieldName); !ok {
			continue
		}
		if a.LineItem == nil {
			metadata[a.FieldName] = a.Value()
			continue
		}
		row, ok := items[*a.LineItem]
		if !ok {
			row = make(map[string]string)
			items[*a.LineItem] = row
		}
		row[a.FieldName] = a.Value()
	}

	indexes := make([]int, 0, len(items))
	for i := range items {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	record := func(item map[string]string) []string {
		out := make([]string, len(fields))
		for i, f := range fields {
			if f.IsLineItem() {
				out[i] = item[f.Name]
			} else {
				out[i] = metadata[f.Name]
			}
		}
		return out
	}

	rows := [][]string{header}
	switch {
	case len(indexes) > 0:
		for _, i := range indexes {
			rows = append(rows, record(items[i]))
		}
	case len(metadata) > 0:
		rows = append(rows, record(nil))
	}
	return rows
}

// CSV writes the annotations as CSV with a header of schema field names.
// Output is deterministic: fixed columns, sorted rows and \n line endings.
func CSV(w io.Writer, list []store.Annotation, s *schema.Schema) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = false
	if err := cw.WriteAll(Rows(list, s)); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

// DefaultFileName returns the export file name for a document file name or
// path: the base name without extension plus FileSuffix
func DefaultFileName(documentName string) string {
	base := filepath.Base(documentName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "document"
	}
	return base + FileSuffix
}
