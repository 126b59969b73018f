package converter

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/robertroutledge/pccf-converter/internal/layout"
	"github.com/robertroutledge/pccf-converter/internal/parser"
)

// ErrorPolicy decides what happens to a line with an undecodable byte.
type ErrorPolicy string

const (
	ErrorPolicyAbort ErrorPolicy = "abort"
	ErrorPolicySkip  ErrorPolicy = "skip"
)

// ParseErrorPolicy parses a policy name. The empty string means abort.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ErrorPolicyAbort, nil
	case ErrorPolicyAbort, ErrorPolicySkip:
		return p, nil
	}
	return "", fmt.Errorf("unknown error policy %q (want abort or skip)", s)
}

// ShortLinePolicy decides what happens to a line shorter than a record.
type ShortLinePolicy string

const (
	ShortLineSkip  ShortLinePolicy = "skip"
	ShortLinePad   ShortLinePolicy = "pad"
	ShortLineAbort ShortLinePolicy = "abort"
)

// ParseShortLinePolicy parses a policy name. The empty string means skip.
func ParseShortLinePolicy(s string) (ShortLinePolicy, error) {
	switch p := ShortLinePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ShortLineSkip, nil
	case ShortLineSkip, ShortLinePad, ShortLineAbort:
		return p, nil
	}
	return "", fmt.Errorf("unknown short line policy %q (want skip, pad or abort)", s)
}

// Filter keeps records whose Field value begins with Prefix. The comparison
// is exact and case-sensitive.
type Filter struct {
	Field  string `json:"field" msgpack:"field"`
	Prefix string `json:"prefix" msgpack:"prefix"`
}

// NewFilter returns nil when field is empty, meaning no filtering.
func NewFilter(field, prefix string) *Filter {
	if field == "" {
		return nil
	}
	return &Filter{Field: field, Prefix: prefix}
}

// Match reports whether value, cut to the length of the prefix, equals it.
func (f *Filter) Match(value string) bool {
	return strings.HasPrefix(value, f.Prefix)
}

const (
	DefaultDelimiter     = '\t'
	DefaultBatchSize     = 4096
	DefaultMaxProblems   = 1000
	DefaultProgressEvery = 10000
)

// Options configure one conversion run.
type Options struct {
	// Layout defaults to the PCCF layout.
	Layout *layout.Layout
	// Filter is nil to keep every record.
	Filter *Filter

	OnError    ErrorPolicy
	ShortLines ShortLinePolicy

	// Workers > 1 decodes batches of BatchSize lines in parallel. Output
	// order always matches input order.
	Workers   int
	BatchSize int

	// Delimiter is used by ConvertFile; defaults to tab.
	Delimiter rune

	// MaxProblems caps Stats.Problems; further problems are only counted.
	MaxProblems int

	TotalBytes    int64
	OnProgress    parser.ProgressCallback
	ProgressEvery int

	Logger *slog.Logger
}

func (o Options) withDefaults() (Options, error) {
	if o.Layout == nil {
		l, err := layout.LoadPCCF()
		if err != nil {
			return o, err
		}
		o.Layout = l
	}

	var err error
	if o.OnError, err = ParseErrorPolicy(string(o.OnError)); err != nil {
		return o, err
	}
	if o.ShortLines, err = ParseShortLinePolicy(string(o.ShortLines)); err != nil {
		return o, err
	}

	if o.Filter != nil {
		if o.Filter.Field == "" {
			return o, fmt.Errorf("filter has no field")
		}
		if _, ok := o.Layout.Index(o.Filter.Field); !ok {
			return o, fmt.Errorf("filter field %q is not in layout %s", o.Filter.Field, o.Layout.Name())
		}
	}

	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Delimiter == 0 {
		o.Delimiter = DefaultDelimiter
	}
	if o.MaxProblems <= 0 {
		o.MaxProblems = DefaultMaxProblems
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

// ParseDelimiter accepts a single character or one of the names "tab",
// "comma", "pipe" and "semicolon". The empty string means tab.
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "", "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	case "pipe":
		return '|', nil
	case "semicolon":
		return ';', nil
	}
	r := []rune(s)
	if len(r) != 1 || r[0] == '"' || r[0] == '\r' || r[0] == '\n' || r[0] == utf8.RuneError {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r[0], nil
}
