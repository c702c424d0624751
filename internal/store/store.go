// Package store persists annotations keyed by document identity.
//
// For every (document, field, line item) there is at most one current
// annotation. Writing the same key again moves the previous value to the
// revision history, so exports always see the latest value while the audit
// trail keeps the earlier ones.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
)

// Annotation is a persisted, field-bound rectangle
type Annotation struct {
	// ID is assigned by the store, strictly increasing, and only used for
	// bookkeeping
	ID              uint64        `json:"id" yaml:"id"`
	DocumentID      string        `json:"document_id" yaml:"document_id"`
	Page            int           `json:"page" yaml:"page"`
	Rect            geometry.Rect `json:"rect" yaml:"rect"`
	FieldName       string        `json:"field" yaml:"field"`
	LineItem        *int          `json:"line_item,omitempty" yaml:"line_item,omitempty"`
	RawValue        string        `json:"raw" yaml:"raw"`
	NormalizedValue string        `json:"normalized" yaml:"normalized"`
	Normalized      bool          `json:"is_normalized" yaml:"is_normalized"`
	Mode            string        `json:"mode" yaml:"mode"`
	CreatedAt       time.Time     `json:"created_at" yaml:"created_at"`
	// SupersededAt is set on history entries only
	SupersededAt *time.Time `json:"superseded_at,omitempty" yaml:"superseded_at,omitempty"`
	// Reason tells why a history entry stopped being current
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Value returns what exports show for the annotation: the normalized value
// when there is one, the raw text otherwise
func (a Annotation) Value() string {
	if a.Normalized && a.NormalizedValue != "" {
		return a.NormalizedValue
	}
	return a.RawValue
}

// IsLineItem reports whether the annotation belongs to a line item
func (a Annotation) IsLineItem() bool {
	return a.LineItem != nil
}

// Store is the persistence contract for annotations
type Store interface {
	// Upsert writes a as the current value of its key and returns it with
	// its assigned ID
	Upsert(ctx context.Context, a Annotation) (Annotation, error)
	// ListForDocument returns the current annotations of a document
	ListForDocument(ctx context.Context, documentID string) ([]Annotation, error)
	// Delete removes the current annotation of a key
	Delete(ctx context.Context, documentID, field string, lineItem *int) error
	// DeleteDocument removes all annotations and history of a document
	DeleteDocument(ctx context.Context, documentID string) error
	// History returns the superseded and deleted values of a document
	History(ctx context.Context, documentID string) ([]Annotation, error)
	// Documents returns the identities of documents with current annotations
	Documents(ctx context.Context) ([]string, error)
	Close() error
}

// SortForSchema orders annotations the way they are listed and exported:
// metadata in schema order, then line items by index and schema order. Fields
// missing from the schema go last by name.
func SortForSchema(list []Annotation, s *schema.Schema) {
	pos := func(name string) int {
		if p := s.Position(name); p >= 0 {
			return p
		}
		return s.Len()
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsLineItem() != b.IsLineItem() {
			return !a.IsLineItem()
		}
		if a.IsLineItem() && *a.LineItem != *b.LineItem {
			return *a.LineItem < *b.LineItem
		}
		if pa, pb := pos(a.FieldName), pos(b.FieldName); pa != pb {
			return pa < pb
		}
		if a.FieldName != b.FieldName {
			return a.FieldName < b.FieldName
		}
		return a.ID < b.ID
	})
}
