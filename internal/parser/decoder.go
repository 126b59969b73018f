package parser

import (
	"fmt"

	"github.com/robertroutledge/pccf-converter/internal/layout"
	"github.com/robertroutledge/pccf-converter/internal/models"
)

// FixedWidthDecoder slices fixed-width lines into fields of a layout.
// It holds no per-record state and is safe for concurrent use.
type FixedWidthDecoder struct {
	layout *layout.Layout
}

// NewFixedWidthDecoder creates a decoder for l.
func NewFixedWidthDecoder(l *layout.Layout) *FixedWidthDecoder {
	return &FixedWidthDecoder{layout: l}
}

// Layout returns the decoder's layout.
func (d *FixedWidthDecoder) Layout() *layout.Layout {
	return d.layout
}

// Decode decodes one line. A trailing "\n" or "\r\n" is ignored, as are
// bytes past the record length.
//
// A line shorter than the record length still yields a full record: fields
// past the end of the line are empty and a field cut by the end of the line
// holds what is there. The error is then a *ShortRecordError and the caller
// decides whether to keep the record. An *EncodingError takes precedence and
// comes with a zero Record.
func (d *FixedWidthDecoder) Decode(raw []byte, line int) (models.Record, error) {
	raw = TrimEOL(raw)

	n := d.layout.Len()
	rec := models.Record{Line: line, Values: make([]string, n)}

	for i := 0; i < n; i++ {
		span := d.layout.SpanAt(i)
		if span.Start >= len(raw) {
			break
		}
		end := span.End
		if end > len(raw) {
			end = len(raw)
		}

		v, bad, ok := decodeCP1252(raw[span.Start:end])
		if !ok {
			return models.Record{}, &EncodingError{
				Line:   line,
				Field:  d.layout.Field(i).Name,
				Offset: span.Start + bad,
				Byte:   raw[span.Start+bad],
			}
		}
		rec.Values[i] = v
	}

	if len(raw) < d.layout.RecordLength() {
		return rec, &ShortRecordError{Line: line, Length: len(raw), Expected: d.layout.RecordLength()}
	}
	return rec, nil
}

// EncodeRecord renders values as one fixed-width line (without terminator),
// padding each value with spaces to its field width.
func EncodeRecord(l *layout.Layout, values []string) ([]byte, error) {
	if len(values) != l.Len() {
		return nil, fmt.Errorf("encode: got %d values, layout %s has %d fields", len(values), l.Name(), l.Len())
	}

	out := make([]byte, 0, l.RecordLength())
	for i, v := range values {
		f := l.Field(i)
		b, ok := encodeCP1252(v)
		if !ok {
			return nil, fmt.Errorf("encode: field %s: value %q is not representable in Windows-1252", f.Name, v)
		}
		if len(b) > f.Width {
			return nil, fmt.Errorf("encode: field %s: value %q is %d bytes, width is %d", f.Name, v, len(b), f.Width)
		}
		out = append(out, b...)
		for pad := len(b); pad < f.Width; pad++ {
			out = append(out, ' ')
		}
	}
	return out, nil
}

// TrimEOL strips one trailing "\n" or "\r\n".
func TrimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
		if n := len(b); n > 0 && b[n-1] == '\r' {
			b = b[:n-1]
		}
	}
	return b
}
