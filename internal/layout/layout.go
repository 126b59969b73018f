// Package layout describes fixed-width record schemas: an ordered list of
// named fields of known byte width, with byte offsets derived once when the
// layout is built.
package layout

import (
	"fmt"
	"strings"
)

// Kind is the semantic type of a field.
type Kind string

// KindText is a fixed-width text field. It is the only kind PCCF uses.
const KindText Kind = "text"

// FieldSpec describes one field of a fixed-width record.
type FieldSpec struct {
	Name        string `json:"name" yaml:"name"`
	Width       int    `json:"width" yaml:"width"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Span is the half-open byte range [Start, End) a field occupies in a record.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Width returns the number of bytes in the span.
func (s Span) Width() int {
	return s.End - s.Start
}

// SchemaError reports a layout that cannot describe a valid record.
// It is a configuration defect, detected once when the layout is built.
type SchemaError struct {
	Layout string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("layout %q: %s", e.Layout, e.Reason)
}

// Layout is an immutable, ordered record schema.
type Layout struct {
	name   string
	fields []FieldSpec
	spans  []Span
	header []string
	index  map[string]int
	length int
}

// New validates fields and builds a Layout. The widths must add up to
// expectedLength.
func New(name string, expectedLength int, fields []FieldSpec) (*Layout, error) {
	if len(fields) == 0 {
		return nil, &SchemaError{Layout: name, Reason: "no fields"}
	}

	l := &Layout{
		name:   name,
		fields: make([]FieldSpec, len(fields)),
		spans:  make([]Span, len(fields)),
		header: make([]string, len(fields)),
		index:  make(map[string]int, len(fields)),
	}

	offset := 0
	for i, f := range fields {
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" {
			return nil, &SchemaError{Layout: name, Reason: fmt.Sprintf("field %d has no name", i)}
		}
		if f.Width <= 0 {
			return nil, &SchemaError{Layout: name, Reason: fmt.Sprintf("field %s has non-positive width %d", f.Name, f.Width)}
		}
		if _, dup := l.index[f.Name]; dup {
			return nil, &SchemaError{Layout: name, Reason: fmt.Sprintf("duplicate field name %s", f.Name)}
		}
		if f.Kind == "" {
			f.Kind = KindText
		}
		if f.Kind != KindText {
			return nil, &SchemaError{Layout: name, Reason: fmt.Sprintf("field %s has unsupported kind %q", f.Name, f.Kind)}
		}

		l.fields[i] = f
		l.spans[i] = Span{Start: offset, End: offset + f.Width}
		l.header[i] = f.Name
		l.index[f.Name] = i
		offset += f.Width
	}

	if offset != expectedLength {
		return nil, &SchemaError{
			Layout: name,
			Reason: fmt.Sprintf("field widths add up to %d bytes, record length is %d", offset, expectedLength),
		}
	}
	l.length = offset

	return l, nil
}

// Name returns the layout name.
func (l *Layout) Name() string { return l.name }

// Len returns the number of fields.
func (l *Layout) Len() int { return len(l.fields) }

// RecordLength returns the total width of a record in bytes.
func (l *Layout) RecordLength() int { return l.length }

// Fields returns the field descriptors in record order.
func (l *Layout) Fields() []FieldSpec {
	out := make([]FieldSpec, len(l.fields))
	copy(out, l.fields)
	return out
}

// Header returns the field names in record order.
func (l *Layout) Header() []string {
	out := make([]string, len(l.header))
	copy(out, l.header)
	return out
}

// Field returns the i-th field descriptor.
func (l *Layout) Field(i int) FieldSpec { return l.fields[i] }

// SpanAt returns the byte span of the i-th field.
func (l *Layout) SpanAt(i int) Span { return l.spans[i] }

// Index returns the position of the named field.
func (l *Layout) Index(name string) (int, bool) {
	i, ok := l.index[name]
	return i, ok
}

// Span returns the byte span of the named field.
func (l *Layout) Span(name string) (Span, bool) {
	i, ok := l.index[name]
	if !ok {
		return Span{}, false
	}
	return l.spans[i], true
}
