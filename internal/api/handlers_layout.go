// handlers_layout.go - Record layout description
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/robertroutledge/pccf-converter/internal/layout"
)

// LayoutHandlerImpl implements the LayoutHandler interface
type LayoutHandlerImpl struct {
	layout *layout.Layout
}

// NewLayoutHandler creates a layout handler for l
func NewLayoutHandler(l *layout.Layout) LayoutHandler {
	return &LayoutHandlerImpl{layout: l}
}

type layoutField struct {
	layout.FieldSpec
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end" msgpack:"end"`
}

type layoutResponse struct {
	Name         string        `json:"name" msgpack:"name"`
	RecordLength int           `json:"recordLength" msgpack:"recordLength"`
	Fields       []layoutField `json:"fields" msgpack:"fields"`
}

// HandleGetLayout returns the field names, widths and byte offsets
func (h *LayoutHandlerImpl) HandleGetLayout(c echo.Context) error {
	resp := layoutResponse{
		Name:         h.layout.Name(),
		RecordLength: h.layout.RecordLength(),
		Fields:       make([]layoutField, h.layout.Len()),
	}
	for i := range resp.Fields {
		span := h.layout.SpanAt(i)
		resp.Fields[i] = layoutField{FieldSpec: h.layout.Field(i), Start: span.Start, End: span.End}
	}
	return respond(c, http.StatusOK, resp)
}
