package converter

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// RowWriter receives the header and then one row per kept record.
type RowWriter interface {
	WriteRow(values []string) error
	Flush() error
}

// TSVWriter writes delimited rows. Despite the name the delimiter is
// configurable; fields are quoted only when they contain the delimiter, a
// quote, a line break or leading space.
type TSVWriter struct {
	w *csv.Writer
}

// NewTSVWriter returns a writer using delimiter, or tab when it is zero.
func NewTSVWriter(w io.Writer, delimiter rune) *TSVWriter {
	cw := csv.NewWriter(w)
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	cw.Comma = delimiter
	return &TSVWriter{w: cw}
}

func (t *TSVWriter) WriteRow(values []string) error {
	return t.w.Write(values)
}

func (t *TSVWriter) Flush() error {
	t.w.Flush()
	return t.w.Error()
}

// IOError reports a failed file operation on the named path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// PartialSuffix is appended to an output path while it is being written.
const PartialSuffix = ".partial"

// WriteFileAtomic calls write with a buffered writer on path+".partial" and
// renames the file to path once write and the flush succeed. On any error
// the partial file is removed and path is left untouched.
func WriteFileAtomic(path string, write func(w io.Writer) error) (err error) {
	tmp := path + PartialSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return &IOError{Op: "create", Path: tmp, Err: err}
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 256*1024)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return &IOError{Op: "write", Path: tmp, Err: err}
	}
	if err = f.Close(); err != nil {
		return &IOError{Op: "close", Path: tmp, Err: err}
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
