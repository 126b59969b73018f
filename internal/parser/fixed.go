package parser

import (
	"bytes"

	"github.com/robertroutledge/pccf-converter/internal/layout"
)

// FixedWidthParser recognises raw fixed-width files of one layout.
type FixedWidthParser struct {
	decoder *FixedWidthDecoder
}

// NewFixedWidthParser creates a parser for l.
func NewFixedWidthParser(l *layout.Layout) *FixedWidthParser {
	return &FixedWidthParser{decoder: NewFixedWidthDecoder(l)}
}

func (p *FixedWidthParser) Name() string {
	return p.decoder.Layout().Name() + "_fixed"
}

// Decoder returns the record decoder for this format.
func (p *FixedWidthParser) Decoder() *FixedWidthDecoder {
	return p.decoder
}

// CanParse accepts files whose lines are full-width records without tabs.
func (p *FixedWidthParser) CanParse(filePath string) (bool, error) {
	width := p.decoder.Layout().RecordLength()
	return sniff(filePath, func(line []byte, _ int) bool {
		if len(line) < width || bytes.IndexByte(line, '\t') >= 0 {
			return false
		}
		_, err := p.decoder.Decode(line, 0)
		return err == nil
	})
}
