package httpapi

import (
	"net/http"

	"github.com/rendis/flowgraph/internal/diagram"
	"github.com/rendis/flowgraph/pkg/schema"
)

// renderDiagram writes doc in the ?format= requested: mermaid (default),
// ascii, dot, svg or png.
func (s *Server) renderDiagram(w http.ResponseWriter, r *http.Request, doc *schema.GraphDocument, overlay *diagram.Overlay) {
	model := diagram.Build(doc, overlay)

	format := r.URL.Query().Get("format")
	switch format {
	case "", "mermaid":
		writeText(w, "text/plain; charset=utf-8", []byte(diagram.RenderMermaid(model)))
		return
	case "ascii":
		writeText(w, "text/plain; charset=utf-8", []byte(diagram.RenderASCII(model)))
		return
	}

	var contentType string
	switch diagram.ImageFormat(format) {
	case diagram.FormatDOT:
		contentType = "text/vnd.graphviz"
	case diagram.FormatSVG:
		contentType = "image/svg+xml"
	case diagram.FormatPNG:
		contentType = "image/png"
	default:
		writeError(w, schema.NewErrorf(schema.ErrCodeDecode, "unsupported diagram format %q", format))
		return
	}
	data, err := diagram.Render(r.Context(), model, diagram.ImageFormat(format))
	if err != nil {
		s.deps.Logger.Error("diagram render failed", "format", format, "error", err)
		writeError(w, err)
		return
	}
	writeText(w, contentType, data)
}

func writeText(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
