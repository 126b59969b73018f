package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrShortRecord matches any *ShortRecordError.
	ErrShortRecord = errors.New("short record")
	// ErrEncoding matches any *EncodingError.
	ErrEncoding = errors.New("invalid Windows-1252 byte")
)

// ShortRecordError reports a line with fewer bytes than the layout requires.
type ShortRecordError struct {
	Line     int
	Length   int
	Expected int
}

func (e *ShortRecordError) Error() string {
	return fmt.Sprintf("line %d: short record: %d bytes, want %d", e.Line, e.Length, e.Expected)
}

func (e *ShortRecordError) Unwrap() error { return ErrShortRecord }

// EncodingError reports a byte that has no Windows-1252 mapping.
// Offset is relative to the start of the record.
type EncodingError struct {
	Line   int
	Field  string
	Offset int
	Byte   byte
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("line %d: field %s: %s 0x%02X at offset %d", e.Line, e.Field, ErrEncoding, e.Byte, e.Offset)
}

func (e *EncodingError) Unwrap() error { return ErrEncoding }
