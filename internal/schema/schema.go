// Package schema defines the fixed vocabulary of fields an annotation can be
// bound to.
package schema

import "fmt"

// Kind tells whether a field belongs to the document or to a line item
type Kind int

const (
	KindMetadata Kind = iota
	KindLineItem
)

// String returns the kind name
func (k Kind) String() string {
	if k == KindLineItem {
		return "line_item"
	}
	return "metadata"
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// TypeHint tells how a field value is interpreted
type TypeHint int

const (
	TypeText TypeHint = iota
	TypeDate
)

// String returns the type hint name
func (t TypeHint) String() string {
	if t == TypeDate {
		return "date"
	}
	return "text"
}

// MarshalText implements encoding.TextMarshaler
func (t TypeHint) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Field is one entry of the vocabulary
type Field struct {
	Name string   `json:"name"`
	Kind Kind     `json:"kind"`
	Type TypeHint `json:"type"`
}

// IsDate reports whether the field holds a calendar date
func (f Field) IsDate() bool {
	return f.Type == TypeDate
}

// IsLineItem reports whether the field belongs to a line item
func (f Field) IsLineItem() bool {
	return f.Kind == KindLineItem
}

// Schema is an immutable ordered set of fields. The zero value is empty.
type Schema struct {
	fields []Field
	byName map[string]int
}

// New builds a schema. Metadata fields keep their relative order and come
// before line-item fields. Field names must be unique and non-empty.
func New(fields ...Field) (*Schema, error) {
	s := &Schema{byName: make(map[string]int, len(fields))}
	for _, kind := range []Kind{KindMetadata, KindLineItem} {
		for _, f := range fields {
			if f.Kind != kind {
				continue
			}
			if f.Name == "" {
				return nil, fmt.Errorf("field with empty name")
			}
			if _, dup := s.byName[f.Name]; dup {
				return nil, fmt.Errorf("duplicate field %q", f.Name)
			}
			s.byName[f.Name] = len(s.fields)
			s.fields = append(s.fields, f)
		}
	}
	return s, nil
}

// MustNew is like New but panics on error
func MustNew(fields ...Field) *Schema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

var defaultSchema = MustNew(
	Field{Name: "document_name", Kind: KindMetadata},
	Field{Name: "customer_name", Kind: KindMetadata},
	Field{Name: "buyer_name", Kind: KindMetadata},
	Field{Name: "currency", Kind: KindMetadata},
	Field{Name: "rfq_date", Kind: KindMetadata, Type: TypeDate},
	Field{Name: "due_date", Kind: KindMetadata, Type: TypeDate},
	Field{Name: "line_item_number", Kind: KindLineItem},
	Field{Name: "material_number", Kind: KindLineItem},
	Field{Name: "part_number", Kind: KindLineItem},
	Field{Name: "description", Kind: KindLineItem},
	Field{Name: "full_description", Kind: KindLineItem},
	Field{Name: "quantity", Kind: KindLineItem},
	Field{Name: "unit_of_measure", Kind: KindLineItem},
	Field{Name: "requested_delivery_date", Kind: KindLineItem, Type: TypeDate},
	Field{Name: "delivery_point", Kind: KindLineItem},
	Field{Name: "manufacturer_name", Kind: KindLineItem},
)

// Default returns the RFQ vocabulary: six metadata fields and ten line-item fields
func Default() *Schema {
	return defaultSchema
}

// Lookup returns the field with the given name
func (s *Schema) Lookup(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Position returns the column position of a field, -1 if unknown
func (s *Schema) Position(name string) int {
	i, ok := s.byName[name]
	if !ok {
		return -1
	}
	return i
}

// Fields returns all fields, metadata first
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Names returns all field names in column order
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// OfKind returns the fields of one kind in order
func (s *Schema) OfKind(kind Kind) []Field {
	var out []Field
	for _, f := range s.fields {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of fields
func (s *Schema) Len() int {
	return len(s.fields)
}
