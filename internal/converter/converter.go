// Package converter streams fixed-width PCCF records into delimited rows.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/robertroutledge/pccf-converter/internal/models"
	"github.com/robertroutledge/pccf-converter/internal/parser"
)

// problemSnippet is how much of a bad line is kept in a problem report.
const problemSnippet = 80

// Stats describes a finished or aborted run.
type Stats struct {
	Lines           int                 `json:"lines" msgpack:"lines"`
	Bytes           int64               `json:"bytes" msgpack:"bytes"`
	Blank           int                 `json:"blank" msgpack:"blank"`
	Records         int                 `json:"records" msgpack:"records"`
	Written         int                 `json:"written" msgpack:"written"`
	Filtered        int                 `json:"filtered" msgpack:"filtered"`
	ShortSkipped    int                 `json:"shortSkipped" msgpack:"shortSkipped"`
	Padded          int                 `json:"padded" msgpack:"padded"`
	InvalidSkipped  int                 `json:"invalidSkipped" msgpack:"invalidSkipped"`
	Long            int                 `json:"long" msgpack:"long"`
	Problems        []models.ParseError `json:"problems,omitempty" msgpack:"problems,omitempty"`
	ProblemsDropped int                 `json:"problemsDropped,omitempty" msgpack:"problemsDropped,omitempty"`
	Duration        time.Duration       `json:"duration" msgpack:"duration"`
}

type result struct {
	rec    models.Record
	err    error
	raw    []byte
	length int
	blank  bool
}

type converter struct {
	opts      Options
	dec       *parser.FixedWidthDecoder
	out       RowWriter
	stats     *Stats
	filterIdx int
	lastTick  int
}

// Convert writes the layout header to out, then one row per kept record of
// in, in input order. Blank lines are skipped. Short lines and undecodable
// bytes are handled according to opts; when a policy aborts, the offending
// *parser.ShortRecordError or *parser.EncodingError is returned as is.
func Convert(ctx context.Context, in io.Reader, out RowWriter, opts Options) (stats *Stats, err error) {
	start := time.Now()
	stats = &Stats{}
	defer func() {
		stats.Duration = time.Since(start)
		recordMetrics(stats, err)
	}()

	opts, err = opts.withDefaults()
	if err != nil {
		return stats, err
	}

	c := &converter{
		opts:      opts,
		dec:       parser.NewFixedWidthDecoder(opts.Layout),
		out:       out,
		stats:     stats,
		filterIdx: -1,
	}
	if opts.Filter != nil {
		c.filterIdx, _ = opts.Layout.Index(opts.Filter.Field)
	}

	if err := out.WriteRow(opts.Layout.Header()); err != nil {
		return stats, fmt.Errorf("writing header: %w", err)
	}

	lr := parser.NewLineReader(in)
	if opts.Workers > 1 {
		err = c.runParallel(ctx, lr)
	} else {
		err = c.runSequential(ctx, lr)
	}
	stats.Bytes = lr.Bytes()
	if err != nil {
		return stats, err
	}
	c.reportProgress(lr, true)

	if err := out.Flush(); err != nil {
		return stats, fmt.Errorf("flushing output: %w", err)
	}
	return stats, nil
}

func (c *converter) runSequential(ctx context.Context, lr *parser.LineReader) error {
	for {
		if lr.Line()%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		raw, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading line %d: %w", lr.Line()+1, err)
		}
		if err := c.handle(c.decode(raw, lr.Line())); err != nil {
			return err
		}
		c.reportProgress(lr, false)
	}
}

type pendingLine struct {
	line       int
	start, end int
}

// runParallel reads BatchSize lines into one buffer, decodes the batch
// across Workers goroutines and then handles the results in line order.
func (c *converter) runParallel(ctx context.Context, lr *parser.LineReader) error {
	var (
		arena   []byte
		pending = make([]pendingLine, 0, c.opts.BatchSize)
		results = make([]result, c.opts.BatchSize)
	)

	for {
		arena = arena[:0]
		pending = pending[:0]
		eof := false
		for len(pending) < c.opts.BatchSize {
			raw, err := lr.Next()
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if err != nil {
				return fmt.Errorf("reading line %d: %w", lr.Line()+1, err)
			}
			start := len(arena)
			arena = append(arena, raw...)
			pending = append(pending, pendingLine{line: lr.Line(), start: start, end: len(arena)})
		}

		if len(pending) > 0 {
			batch := results[:len(pending)]
			if err := c.decodeBatch(ctx, arena, pending, batch); err != nil {
				return err
			}
			for i := range batch {
				if err := c.handle(batch[i]); err != nil {
					return err
				}
				batch[i] = result{}
			}
			c.reportProgress(lr, false)
		}

		if eof {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (c *converter) decodeBatch(ctx context.Context, arena []byte, pending []pendingLine, out []result) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	per := (len(pending) + c.opts.Workers - 1) / c.opts.Workers
	for lo := 0; lo < len(pending); lo += per {
		lo, hi := lo, min(lo+per, len(pending))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				p := pending[i]
				out[i] = c.decode(arena[p.start:p.end], p.line)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *converter) decode(raw []byte, line int) result {
	if parser.IsBlank(raw) {
		return result{blank: true}
	}
	rec, err := c.dec.Decode(raw, line)
	return result{rec: rec, err: err, raw: raw, length: len(parser.TrimEOL(raw))}
}

// handle applies the policies to one decoded line and writes it if kept.
func (c *converter) handle(r result) error {
	s := c.stats
	s.Lines++
	if r.blank {
		s.Blank++
		return nil
	}

	var (
		encErr   *parser.EncodingError
		shortErr *parser.ShortRecordError
	)
	switch {
	case errors.As(r.err, &encErr):
		if c.opts.OnError == ErrorPolicyAbort {
			return r.err
		}
		s.InvalidSkipped++
		c.problem(encErr.Line, encErr.Field, r.raw, r.err.Error())
		return nil

	case errors.As(r.err, &shortErr):
		switch c.opts.ShortLines {
		case ShortLineAbort:
			return r.err
		case ShortLineSkip:
			s.ShortSkipped++
			c.problem(shortErr.Line, "", r.raw, r.err.Error())
			return nil
		}
		s.Padded++
		c.problem(shortErr.Line, "", r.raw, r.err.Error()+", padded")

	case r.err != nil:
		return r.err
	}

	if r.length > c.opts.Layout.RecordLength() {
		s.Long++
	}
	s.Records++

	if c.filterIdx >= 0 && !c.opts.Filter.Match(r.rec.Values[c.filterIdx]) {
		s.Filtered++
		return nil
	}
	if err := c.out.WriteRow(r.rec.Values); err != nil {
		return fmt.Errorf("writing line %d: %w", r.rec.Line, err)
	}
	s.Written++
	return nil
}

func (c *converter) problem(line int, field string, raw []byte, reason string) {
	c.opts.Logger.Debug("[converter] line not converted as is", "line", line, "field", field, "reason", reason)
	if len(c.stats.Problems) >= c.opts.MaxProblems {
		c.stats.ProblemsDropped++
		return
	}
	c.stats.Problems = append(c.stats.Problems, models.ParseError{
		Line:    line,
		Field:   field,
		Content: parser.Printable(raw, problemSnippet),
		Reason:  reason,
	})
}

func (c *converter) reportProgress(lr *parser.LineReader, final bool) {
	if c.opts.OnProgress == nil {
		return
	}
	if !final && lr.Line()-c.lastTick < c.opts.ProgressEvery {
		return
	}
	c.lastTick = lr.Line()
	c.opts.OnProgress(lr.Line(), lr.Bytes(), c.opts.TotalBytes)
}

// readTracker remembers the first non-EOF read error so it can be reported
// against the input path.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}

// ConvertFile converts inPath into outPath. Output goes to a ".partial"
// file first and replaces outPath only when the run succeeds.
func ConvertFile(ctx context.Context, inPath, outPath string, opts Options) (*Stats, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return &Stats{}, &IOError{Op: "open", Path: inPath, Err: err}
	}
	defer in.Close()

	if opts.TotalBytes == 0 {
		if fi, err := in.Stat(); err == nil {
			opts.TotalBytes = fi.Size()
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracker := &readTracker{r: in}
	var stats *Stats
	err = WriteFileAtomic(outPath, func(w io.Writer) error {
		var convErr error
		stats, convErr = Convert(ctx, tracker, NewTSVWriter(w, opts.Delimiter), opts)
		if tracker.err != nil {
			return &IOError{Op: "read", Path: inPath, Err: tracker.err}
		}
		return convErr
	})
	if stats == nil {
		stats = &Stats{}
	}
	if err != nil {
		logger.Error("[converter] conversion failed",
			"input", inPath,
			"output", outPath,
			"line", stats.Lines,
			"error", err)
		return stats, err
	}

	logger.Info("[converter] conversion finished",
		"input", inPath,
		"output", outPath,
		"read", humanize.Bytes(uint64(stats.Bytes)),
		"lines", humanize.Comma(int64(stats.Lines)),
		"written", humanize.Comma(int64(stats.Written)),
		"filtered", stats.Filtered,
		"skipped", stats.ShortSkipped+stats.InvalidSkipped,
		"padded", stats.Padded,
		"elapsed", stats.Duration.Round(time.Millisecond))
	return stats, nil
}
