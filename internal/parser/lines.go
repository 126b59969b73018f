package parser

import (
	"bufio"
	"errors"
	"io"
)

// LineReader reads newline-terminated lines of any length, keeping track of
// line numbers and bytes consumed.
type LineReader struct {
	r     *bufio.Reader
	buf   []byte
	line  int
	bytes int64
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next line, terminator included. The returned slice is
// only valid until the next call. It returns io.EOF when no data is left.
func (lr *LineReader) Next() ([]byte, error) {
	lr.buf = lr.buf[:0]
	for {
		chunk, err := lr.r.ReadSlice('\n')
		lr.buf = append(lr.buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(lr.buf) == 0 {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, err
		}
		break
	}

	lr.line++
	lr.bytes += int64(len(lr.buf))
	return lr.buf, nil
}

// Line returns the 1-based number of the last line returned by Next.
func (lr *LineReader) Line() int { return lr.line }

// Bytes returns the number of bytes consumed so far.
func (lr *LineReader) Bytes() int64 { return lr.bytes }

// IsBlank reports whether a line holds nothing but whitespace.
func IsBlank(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}
