// Package models contains domain types for the PCCF converter.
package models

// Record is one decoded fixed-width line. Values are in layout order.
type Record struct {
	Line   int      `json:"line" msgpack:"line"`
	Values []string `json:"values" msgpack:"values"`
}

// ParseError describes a problem with one input line.
type ParseError struct {
	Line    int    `json:"line" msgpack:"line"`
	Field   string `json:"field,omitempty" msgpack:"field,omitempty"`
	Content string `json:"content,omitempty" msgpack:"content,omitempty"`
	Reason  string `json:"reason" msgpack:"reason"`
}

// FieldIndexer maps a field name to its position in a record.
type FieldIndexer interface {
	Index(name string) (int, bool)
}

// Get returns the value of the named field.
func (r Record) Get(l FieldIndexer, name string) (string, bool) {
	i, ok := l.Index(name)
	if !ok || i >= len(r.Values) {
		return "", false
	}
	return r.Values[i], true
}
