package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth   = 190.0
	cellPadding = 2.0
)

// PDFExporter renders datasets into a tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Extension is the file suffix for rendered output.
func (e *PDFExporter) Extension() string { return "pdf" }

// Render creates a PDF document with an optional title and a table body.
// Column widths follow the widest value in each column.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate("pdf"); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 15, 10)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("%d / {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AliasNbPages("")
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(data.Title), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	widths := columnWidths(pdf, data, tr)

	header := func() {
		pdf.SetFont("Arial", "B", 10)
		for i, h := range data.Headers {
			pdf.CellFormat(widths[i], 8, tr(h), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range data.Rows {
		if pdf.GetY()+7 > pageHeight-bottom-15 {
			pdf.AddPage()
			header()
		}
		for i, value := range data.record(row) {
			pdf.CellFormat(widths[i], 7, fit(pdf, tr(value), widths[i]), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(pdf *gofpdf.Fpdf, data Dataset, tr func(string) string) []float64 {
	pdf.SetFont("Arial", "", 9)
	natural := make([]float64, len(data.Headers))
	total := 0.0
	for i, h := range data.Headers {
		w := pdf.GetStringWidth(tr(h))
		for _, row := range data.Rows {
			if vw := pdf.GetStringWidth(tr(row[h])); vw > w {
				w = vw
			}
		}
		natural[i] = w + 2*cellPadding
		total += natural[i]
	}
	widths := make([]float64, len(natural))
	for i, w := range natural {
		widths[i] = pageWidth * w / total
	}
	return widths
}

func fit(pdf *gofpdf.Fpdf, value string, width float64) string {
	limit := width - 2*cellPadding
	if pdf.GetStringWidth(value) <= limit {
		return value
	}
	runes := []rune(value)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > limit {
		runes = runes[:len(runes)-1]
	}
	return strings.TrimSpace(string(runes)) + "..."
}
