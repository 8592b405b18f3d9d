package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const utf8Family = "body"

// PDFExporter renders datasets into a basic tabular PDF.
type PDFExporter struct {
	orientation string
	fontFile    string
}

// NewPDFExporter constructs a landscape PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{orientation: "L"}
}

// WithUTF8Font makes the exporter embed the TTF at path so CJK course, teacher
// and room names render. An empty path keeps the core fonts, which only cover
// cp1252.
func (e *PDFExporter) WithUTF8Font(path string) *PDFExporter {
	e.fontFile = path
	return e
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New(e.orientation, "mm", "A4", "")

	family := "Arial"
	tr := func(s string) string { return s }
	if e.fontFile != "" {
		pdf.AddUTF8Font(utf8Family, "", e.fontFile)
		pdf.AddUTF8Font(utf8Family, "B", e.fontFile)
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("load pdf font %s: %w", e.fontFile, err)
		}
		family = utf8Family
	} else {
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}

	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	usable := pageWidth - left - right

	if title != "" {
		pdf.SetFont(family, "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	pdf.SetFont(family, "B", 10)
	colWidth := usable / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(family, "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, tr(row[header]), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
