package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/robertroutledge/pccf-converter/internal/layout"
	"github.com/robertroutledge/pccf-converter/internal/models"
)

// TSVParser recognises delimited files produced by the converter for one
// layout: a header row of field names followed by one row per record.
type TSVParser struct {
	layout *layout.Layout
	header []byte
}

// NewTSVParser creates a parser for converted files of l.
func NewTSVParser(l *layout.Layout) *TSVParser {
	return &TSVParser{
		layout: l,
		header: []byte(joinTab(l.Header())),
	}
}

func (p *TSVParser) Name() string {
	return p.layout.Name() + "_tsv"
}

// CanParse accepts files that start with the layout header and whose rows
// carry one tab-separated value per field.
func (p *TSVParser) CanParse(filePath string) (bool, error) {
	fields := p.layout.Len()
	return sniff(filePath, func(line []byte, n int) bool {
		if n == 1 {
			return bytes.Equal(line, p.header)
		}
		return bytes.Count(line, []byte{'\t'}) == fields-1
	})
}

func joinTab(names []string) string {
	var buf bytes.Buffer
	for i, n := range names {
		if i > 0 {
			buf.WriteByte('\t')
		}
		buf.WriteString(n)
	}
	return buf.String()
}

// DelimitedReader reads a delimited file with a header row.
type DelimitedReader struct {
	r      *csv.Reader
	header []string
	index  map[string]int
}

// NewDelimitedReader reads the header row from r. The header must not be
// empty or contain duplicate names.
func NewDelimitedReader(r io.Reader, delimiter rune) (*DelimitedReader, error) {
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("reading header: duplicate column %q", name)
		}
		index[name] = i
	}

	cr.FieldsPerRecord = len(header)
	return &DelimitedReader{r: cr, header: header, index: index}, nil
}

// Header returns the column names.
func (dr *DelimitedReader) Header() []string {
	out := make([]string, len(dr.header))
	copy(out, dr.header)
	return out
}

// Index returns the column position of name.
func (dr *DelimitedReader) Index(name string) (int, bool) {
	i, ok := dr.index[name]
	return i, ok
}

// Read returns the next row. Line is the row's first line in the file.
func (dr *DelimitedReader) Read() (models.Record, error) {
	values, err := dr.r.Read()
	if err != nil {
		return models.Record{}, err
	}
	line, _ := dr.r.FieldPos(0)
	return models.Record{Line: line, Values: values}, nil
}
