package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/robertroutledge/pccf-converter/internal/config"
	"github.com/robertroutledge/pccf-converter/internal/converter"
	"github.com/robertroutledge/pccf-converter/internal/layout"
	"github.com/robertroutledge/pccf-converter/internal/subset"
)

// Version is set during build.
var Version = "dev"

var (
	inputFlag = &cli.StringFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Required: true,
		Usage:    "Path to the input file",
	}
	outputFlag = &cli.StringFlag{
		Name:     "output",
		Aliases:  []string{"o"},
		Required: true,
		Usage:    "Path to the output file",
	}
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "XML config supplying conversion defaults",
		EnvVars: []string{"PCCF_CONFIG"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Value: "warn",
		Usage: "Log level: debug, info, warn, error",
	}
)

func main() {
	app := &cli.App{
		Name:    "pccf",
		Usage:   "Convert Postal Code Conversion Files to delimited text",
		Version: Version,
		Flags:   []cli.Flag{logLevelFlag},
		Before: func(c *cli.Context) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
				return fmt.Errorf("invalid log level %q", c.String("log-level"))
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			_, err := layout.LoadPCCF()
			return err
		},
		Commands: []*cli.Command{
			convertCommand(),
			subsetCommand(),
			layoutCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(1)
	}
}

// loadConfig returns the defaults, overlaid with the XML config when one is
// named.
func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	path := c.String("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config.LoadConfig(path)
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Decode a fixed-width PCCF file into a tab-delimited file",
		Flags: []cli.Flag{
			inputFlag,
			outputFlag,
			&cli.StringFlag{
				Name:  "filter-field",
				Usage: "Keep only records whose field starts with --filter-prefix",
			},
			&cli.StringFlag{
				Name:  "filter-prefix",
				Usage: "Prefix the filter field must start with",
			},
			&cli.StringFlag{
				Name:  "on-error",
				Usage: "Encoding error policy: abort, skip",
			},
			&cli.StringFlag{
				Name:  "short-lines",
				Usage: "Short line policy: skip, pad, abort",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Decode batches in parallel with this many workers",
			},
			&cli.StringFlag{
				Name:  "delimiter",
				Usage: "Output delimiter: tab, comma, pipe, semicolon or a single character",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not print progress and statistics",
			},
			configFlag,
		},
		Action: convertAction,
	}
}

func convertAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	conv := &cfg.Conversion
	if c.IsSet("filter-field") {
		conv.FilterField = c.String("filter-field")
	}
	if c.IsSet("filter-prefix") {
		conv.FilterPrefix = c.String("filter-prefix")
	}
	if c.IsSet("on-error") {
		conv.OnError = c.String("on-error")
	}
	if c.IsSet("short-lines") {
		conv.ShortLines = c.String("short-lines")
	}
	if c.IsSet("workers") {
		conv.Workers = c.Int("workers")
	}
	if c.IsSet("delimiter") {
		conv.Delimiter = c.String("delimiter")
	}
	if conv.FilterPrefix != "" && conv.FilterField == "" {
		return errors.New("--filter-prefix needs --filter-field")
	}

	opts, err := cfg.ConverterOptions()
	if err != nil {
		return err
	}
	quiet := c.Bool("quiet")
	if !quiet {
		opts.ProgressEvery = 100000
		opts.OnProgress = func(lines int, bytes, total int64) {
			if total > 0 {
				fmt.Fprintf(os.Stderr, "\r%s lines, %s / %s", humanize.Comma(int64(lines)), humanize.Bytes(uint64(bytes)), humanize.Bytes(uint64(total)))
			} else {
				fmt.Fprintf(os.Stderr, "\r%s lines", humanize.Comma(int64(lines)))
			}
		}
	}

	stats, err := converter.ConvertFile(c.Context, c.String("input"), c.String("output"), opts)
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}
	if !quiet {
		printConvertStats(stats, c.String("output"))
	}
	return nil
}

func printConvertStats(s *converter.Stats, output string) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(os.Stderr, "%s wrote %s rows to %s in %s\n",
		ok("done"), humanize.Comma(int64(s.Written)), output, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "  lines %s, records %s, filtered out %s, blank %s\n",
		humanize.Comma(int64(s.Lines)), humanize.Comma(int64(s.Records)),
		humanize.Comma(int64(s.Filtered)), humanize.Comma(int64(s.Blank)))
	if n := s.ShortSkipped + s.Padded + s.InvalidSkipped + s.Long; n > 0 {
		fmt.Fprintf(os.Stderr, "  %s short skipped %d, padded %d, invalid skipped %d, long %d\n",
			warn("problems:"), s.ShortSkipped, s.Padded, s.InvalidSkipped, s.Long)
		for _, p := range s.Problems {
			fmt.Fprintf(os.Stderr, "    line %d: %s\n", p.Line, p.Reason)
		}
		if s.ProblemsDropped > 0 {
			fmt.Fprintf(os.Stderr, "    ... and %d more\n", s.ProblemsDropped)
		}
	}
}

func subsetCommand() *cli.Command {
	return &cli.Command{
		Name:  "subset",
		Usage: "Extract the rows of a converted file whose field starts with a prefix",
		Flags: []cli.Flag{
			inputFlag,
			outputFlag,
			&cli.StringFlag{
				Name:  "field",
				Usage: "Field to match (default FSA)",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Prefix to keep (default V, British Columbia)",
			},
			&cli.StringFlag{
				Name:  "delimiter",
				Usage: "Output delimiter (default comma)",
			},
			configFlag,
		},
		Action: subsetAction,
	}
}

func subsetAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	conv := &cfg.Conversion
	if c.IsSet("field") {
		conv.SubsetField = c.String("field")
	}
	if c.IsSet("prefix") {
		conv.SubsetPrefix = c.String("prefix")
	}
	if c.IsSet("delimiter") {
		conv.SubsetDelimiter = c.String("delimiter")
	}

	opts, err := cfg.SubsetOptions()
	if err != nil {
		return err
	}
	stats, err := subset.FilterFile(c.Context, c.String("input"), c.String("output"), opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s kept %s of %s rows in %s\n",
		color.GreenString("done"), humanize.Comma(int64(stats.Kept)), humanize.Comma(int64(stats.Rows)), c.String("output"))
	return nil
}

func layoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "layout",
		Usage: "Print the PCCF record layout",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			l := layout.PCCF()
			if c.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(l.Fields())
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tNAME\tSTART\tEND\tWIDTH\tDESCRIPTION")
			for i := 0; i < l.Len(); i++ {
				f, span := l.Field(i), l.SpanAt(i)
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n", i+1, f.Name, span.Start, span.End, span.Width(), f.Description)
			}
			fmt.Fprintf(tw, "\t%s\t\t%d\t\t%d bytes\n", l.Name(), l.RecordLength(), l.RecordLength())
			return tw.Flush()
		},
	}
}
