package export

import (
	"fmt"
	"io"

	"github.com/goccy/go-yaml"

	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

type yamlRect struct {
	X0 float64 `yaml:"x0"`
	Y0 float64 `yaml:"y0"`
	X1 float64 `yaml:"x1"`
	Y1 float64 `yaml:"y1"`
}

type yamlRecord struct {
	ID         uint64   `yaml:"id"`
	Page       int      `yaml:"page"`
	Rect       yamlRect `yaml:"rect"`
	Field      string   `yaml:"field"`
	LineItem   *int     `yaml:"line_item,omitempty"`
	Mode       string   `yaml:"mode"`
	Raw        string   `yaml:"raw"`
	Normalized string   `yaml:"normalized,omitempty"`
}

type yamlDump struct {
	Document    string       `yaml:"document"`
	Annotations []yamlRecord `yaml:"annotations"`
}

// YAML writes a per-annotation dump with geometry, for auditing a record set
func YAML(w io.Writer, documentID string, list []store.Annotation) error {
	dump := yamlDump{Document: documentID, Annotations: make([]yamlRecord, 0, len(list))}
	for _, a := range list {
		rec := yamlRecord{
			ID:       a.ID,
			Page:     a.Page,
			Rect:     yamlRect{X0: a.Rect.X0, Y0: a.Rect.Y0, X1: a.Rect.X1, Y1: a.Rect.Y1},
			Field:    a.FieldName,
			LineItem: a.LineItem,
			Mode:     a.Mode,
			Raw:      a.RawValue,
		}
		if a.Normalized && a.NormalizedValue != a.RawValue {
			rec.Normalized = a.NormalizedValue
		}
		dump.Annotations = append(dump.Annotations, rec)
	}

	out, err := yaml.Marshal(dump)
	if err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("failed to write yaml: %w", err)
	}
	return nil
}
