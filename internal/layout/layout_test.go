package layout

import (
	"errors"
	"strings"
	"testing"
)

func TestPCCF(t *testing.T) {
	l, err := LoadPCCF()
	if err != nil {
		t.Fatalf("LoadPCCF failed: %v", err)
	}

	if l.Len() != 32 {
		t.Fatalf("Expected 32 fields, got %d", l.Len())
	}
	if l.RecordLength() != PCCFRecordLength {
		t.Errorf("Expected record length %d, got %d", PCCFRecordLength, l.RecordLength())
	}

	header := l.Header()
	if header[0] != "PostalCode" || header[1] != "FSA" || header[31] != "POP_CNTR_RA_SIZE_CLASS" {
		t.Errorf("Unexpected header order: %v", header)
	}

	for i, f := range l.Fields() {
		if f.Width < 1 || f.Width > 70 {
			t.Errorf("Field %s width %d out of range", f.Name, f.Width)
		}
		if f.Kind != KindText {
			t.Errorf("Field %s kind %q, want %q", f.Name, f.Kind, KindText)
		}
		if header[i] != f.Name {
			t.Errorf("Header[%d] = %s, field name %s", i, header[i], f.Name)
		}
	}

	if PCCF() != l {
		t.Error("Expected PCCF() to return the cached layout")
	}
}

func TestLayout_Spans(t *testing.T) {
	l := PCCF()

	tests := []struct {
		name  string
		start int
		end   int
	}{
		{"PostalCode", 0, 6},
		{"FSA", 6, 9},
		{"PR", 9, 11},
		{"CSDName", 22, 92},
		{"LAT", 137, 148},
		{"LONG", 148, 161},
		{"Comm_Name", 163, 193},
		{"POP_CNTR_RA_SIZE_CLASS", 216, 217},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, ok := l.Span(tt.name)
			if !ok {
				t.Fatalf("Field %s not found", tt.name)
			}
			if span.Start != tt.start || span.End != tt.end {
				t.Errorf("Expected span [%d,%d), got [%d,%d)", tt.start, tt.end, span.Start, span.End)
			}
		})
	}

	t.Run("spans are contiguous", func(t *testing.T) {
		prev := 0
		for i := 0; i < l.Len(); i++ {
			span := l.SpanAt(i)
			if span.Start != prev {
				t.Fatalf("Field %d starts at %d, previous ended at %d", i, span.Start, prev)
			}
			if span.Width() != l.Field(i).Width {
				t.Errorf("Field %d span width %d != field width %d", i, span.Width(), l.Field(i).Width)
			}
			prev = span.End
		}
		if prev != l.RecordLength() {
			t.Errorf("Last span ends at %d, record length %d", prev, l.RecordLength())
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		if _, ok := l.Span("Nope"); ok {
			t.Error("Expected unknown field lookup to fail")
		}
		if _, ok := l.Index("Nope"); ok {
			t.Error("Expected unknown field index lookup to fail")
		}
	})
}

func TestLayout_ReturnsCopies(t *testing.T) {
	l := PCCF()

	h := l.Header()
	h[0] = "mutated"
	if l.Header()[0] != "PostalCode" {
		t.Error("Header mutation leaked into layout")
	}

	f := l.Fields()
	f[0].Width = 99
	if l.Fields()[0].Width != 6 {
		t.Error("Fields mutation leaked into layout")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		length int
		fields []FieldSpec
		reason string
	}{
		{"no fields", 0, nil, "no fields"},
		{"width mismatch", 10, []FieldSpec{{Name: "A", Width: 4}, {Name: "B", Width: 5}}, "add up to 9"},
		{"zero width", 0, []FieldSpec{{Name: "A", Width: 0}}, "non-positive width"},
		{"negative width", 1, []FieldSpec{{Name: "A", Width: -1}, {Name: "B", Width: 2}}, "non-positive width"},
		{"duplicate", 4, []FieldSpec{{Name: "A", Width: 2}, {Name: "A", Width: 2}}, "duplicate field name"},
		{"empty name", 2, []FieldSpec{{Name: " ", Width: 2}}, "has no name"},
		{"bad kind", 2, []FieldSpec{{Name: "A", Width: 2, Kind: "integer"}}, "unsupported kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("test", tt.length, tt.fields)
			if err == nil {
				t.Fatal("Expected error")
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("Expected *SchemaError, got %T", err)
			}
			if !strings.Contains(se.Reason, tt.reason) {
				t.Errorf("Expected reason containing %q, got %q", tt.reason, se.Reason)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("valid schema", func(t *testing.T) {
		data := []byte(`
name: tiny
record_length: 5
fields:
  - {name: A, width: 2}
  - {name: B, width: 3, kind: text, description: second}
`)
		l, err := Parse(data)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if l.Name() != "tiny" || l.Len() != 2 || l.RecordLength() != 5 {
			t.Errorf("Unexpected layout: name=%s len=%d length=%d", l.Name(), l.Len(), l.RecordLength())
		}
		if l.Field(1).Description != "second" {
			t.Errorf("Expected description to be kept, got %q", l.Field(1).Description)
		}
	})

	t.Run("declared length mismatch", func(t *testing.T) {
		data := []byte("name: tiny\nrecord_length: 6\nfields:\n  - {name: A, width: 5}\n")
		_, err := Parse(data)
		var se *SchemaError
		if !errors.As(err, &se) {
			t.Fatalf("Expected *SchemaError, got %v", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("fields: [unclosed"))
		if err == nil {
			t.Fatal("Expected error for malformed YAML")
		}
	})
}
