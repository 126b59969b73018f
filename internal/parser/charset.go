package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// PCCF files are Windows-1252, regardless of the host locale.
var cp1252 = charmap.Windows1252

// undefinedCP1252 reports bytes that Windows-1252 leaves unassigned.
// charmap maps them to C1 controls; we reject them instead.
func undefinedCP1252(b byte) bool {
	switch b {
	case 0x81, 0x8D, 0x8F, 0x90, 0x9D:
		return true
	}
	return false
}

// decodeCP1252 decodes b and strips trailing whitespace. On failure it
// returns the index of the offending byte and ok=false.
func decodeCP1252(b []byte) (s string, bad int, ok bool) {
	ascii := true
	for i := 0; i < len(b); i++ {
		if b[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return trimRight(string(b)), 0, true
	}

	var sb strings.Builder
	sb.Grow(len(b) + len(b)/2)
	for i, c := range b {
		if undefinedCP1252(c) {
			return "", i, false
		}
		sb.WriteRune(cp1252.DecodeByte(c))
	}
	return trimRight(sb.String()), 0, true
}

// encodeCP1252 is the inverse of decodeCP1252 without trimming.
func encodeCP1252(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		c, ok := cp1252.EncodeRune(r)
		if !ok || undefinedCP1252(c) {
			return nil, false
		}
		out = append(out, c)
	}
	return out, true
}

func trimRight(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

// Printable renders up to max bytes of a raw line as text for problem
// reports. Unassigned bytes show as U+FFFD.
func Printable(raw []byte, max int) string {
	raw = TrimEOL(raw)
	if max > 0 && len(raw) > max {
		raw = raw[:max]
	}
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, c := range raw {
		if undefinedCP1252(c) {
			sb.WriteRune(utf8.RuneError)
			continue
		}
		sb.WriteRune(cp1252.DecodeByte(c))
	}
	return sb.String()
}
