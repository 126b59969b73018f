package layout

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// PCCFRecordLength is the width in bytes of one PCCF record, excluding the
// line terminator.
const PCCFRecordLength = 217

//go:embed pccf.yaml
var pccfSchema []byte

// schemaFile is the on-disk form of a layout table.
type schemaFile struct {
	Name         string      `yaml:"name"`
	RecordLength int         `yaml:"record_length"`
	Fields       []FieldSpec `yaml:"fields"`
}

// Parse builds a Layout from a YAML schema table.
func Parse(data []byte) (*Layout, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing layout schema: %w", err)
	}
	return New(sf.Name, sf.RecordLength, sf.Fields)
}

var (
	pccfOnce   sync.Once
	pccfLayout *Layout
	pccfErr    error
)

// LoadPCCF returns the PCCF layout, building it on first use.
func LoadPCCF() (*Layout, error) {
	pccfOnce.Do(func() {
		pccfLayout, pccfErr = Parse(pccfSchema)
		if pccfErr == nil && pccfLayout.RecordLength() != PCCFRecordLength {
			pccfErr = &SchemaError{
				Layout: pccfLayout.Name(),
				Reason: fmt.Sprintf("record length %d, want %d", pccfLayout.RecordLength(), PCCFRecordLength),
			}
		}
	})
	return pccfLayout, pccfErr
}

// PCCF returns the PCCF layout. A broken built-in schema is a programming
// error, so it panics instead of returning an error.
func PCCF() *Layout {
	l, err := LoadPCCF()
	if err != nil {
		panic(err)
	}
	return l
}
