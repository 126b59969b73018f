package parser

import (
	"errors"
	"io"
	"os"
)

// ProgressCallback is called periodically during conversion to report progress.
type ProgressCallback func(linesProcessed int, bytesProcessed int64, totalBytes int64)

// Parser recognises one input format.
type Parser interface {
	// Name returns the unique name of the parser.
	Name() string
	// CanParse returns true if this parser can handle the given file.
	CanParse(filePath string) (bool, error)
}

// sniffLines is how many non-blank lines CanParse looks at.
const sniffLines = 10

// sniff applies match to the first non-blank lines of a file and reports
// whether at least 60% of them matched.
func sniff(filePath string, match func(line []byte, n int) bool) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	lr := NewLineReader(file)
	checked := 0
	matched := 0
	for checked < sniffLines {
		line, err := lr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, err
		}
		if IsBlank(line) {
			continue
		}
		checked++
		if match(TrimEOL(line), checked) {
			matched++
		}
	}

	return checked > 0 && float64(matched)/float64(checked) >= 0.6, nil
}
