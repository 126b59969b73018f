// Package subset narrows a converted PCCF file down to the rows whose field
// starts with a prefix, such as every British Columbia postal code.
package subset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/robertroutledge/pccf-converter/internal/converter"
	"github.com/robertroutledge/pccf-converter/internal/parser"
)

// British Columbia FSAs all start with V.
const (
	DefaultField  = "FSA"
	DefaultPrefix = "V"
)

// Options configure a subset run. Zero delimiters and an empty Field take
// the defaults; an empty Prefix keeps every row.
type Options struct {
	Field           string
	Prefix          string
	InputDelimiter  rune
	OutputDelimiter rune
	Logger          *slog.Logger
}

// DefaultOptions reads tab-delimited input and writes comma-delimited rows
// for British Columbia.
func DefaultOptions() Options {
	return Options{
		Field:           DefaultField,
		Prefix:          DefaultPrefix,
		InputDelimiter:  '\t',
		OutputDelimiter: ',',
	}
}

func (o Options) withDefaults() Options {
	if o.Field == "" {
		o.Field = DefaultField
	}
	if o.InputDelimiter == 0 {
		o.InputDelimiter = '\t'
	}
	if o.OutputDelimiter == 0 {
		o.OutputDelimiter = ','
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stats counts the rows read and kept.
type Stats struct {
	Rows     int           `json:"rows" msgpack:"rows"`
	Kept     int           `json:"kept" msgpack:"kept"`
	Duration time.Duration `json:"duration" msgpack:"duration"`
}

// Filter copies the header and the matching rows of in to out.
func Filter(ctx context.Context, in io.Reader, out io.Writer, opts Options) (*Stats, error) {
	start := time.Now()
	opts = opts.withDefaults()
	stats := &Stats{}
	defer func() { stats.Duration = time.Since(start) }()

	dr, err := parser.NewDelimitedReader(in, opts.InputDelimiter)
	if err != nil {
		return stats, err
	}
	idx, ok := dr.Index(opts.Field)
	if !ok {
		return stats, fmt.Errorf("field %q is not in the input header", opts.Field)
	}
	match := converter.Filter{Field: opts.Field, Prefix: opts.Prefix}

	w := converter.NewTSVWriter(out, opts.OutputDelimiter)
	if err := w.WriteRow(dr.Header()); err != nil {
		return stats, fmt.Errorf("writing header: %w", err)
	}

	for {
		if stats.Rows%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		rec, err := dr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++
		if !match.Match(rec.Values[idx]) {
			continue
		}
		if err := w.WriteRow(rec.Values); err != nil {
			return stats, fmt.Errorf("writing line %d: %w", rec.Line, err)
		}
		stats.Kept++
	}

	if err := w.Flush(); err != nil {
		return stats, fmt.Errorf("flushing output: %w", err)
	}
	return stats, nil
}

// FilterFile runs Filter from inPath to outPath through a ".partial" file.
func FilterFile(ctx context.Context, inPath, outPath string, opts Options) (*Stats, error) {
	opts = opts.withDefaults()

	in, err := os.Open(inPath)
	if err != nil {
		return &Stats{}, &converter.IOError{Op: "open", Path: inPath, Err: err}
	}
	defer in.Close()

	stats := &Stats{}
	err = converter.WriteFileAtomic(outPath, func(w io.Writer) error {
		var ferr error
		stats, ferr = Filter(ctx, in, w, opts)
		return ferr
	})
	if err != nil {
		opts.Logger.Error("[subset] filter failed", "input", inPath, "output", outPath, "error", err)
		return stats, err
	}

	opts.Logger.Info("[subset] filter finished",
		"input", inPath,
		"output", outPath,
		"field", opts.Field,
		"prefix", opts.Prefix,
		"rows", humanize.Comma(int64(stats.Rows)),
		"kept", humanize.Comma(int64(stats.Kept)))
	return stats, nil
}
