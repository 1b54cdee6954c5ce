package reports

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

const (
	fontFamily   = "Helvetica"
	lineHeight   = 6.0
	indentWidth  = 6.0
	labelColumn  = 55.0
	bottomMargin = 15.0
)

// Render writes layout as an A4 PDF. Text is set in the cp1252 core font;
// characters outside that code page are printed as '.'.
func Render(layout Layout, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := renderTo(&buf, layout, compress); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderTo(w io.Writer, layout Layout, compress bool) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(compress)
	pdf.SetTitle(layout.Title, true)
	pdf.SetCreator("NourishPath", false)
	pdf.SetAutoPageBreak(true, bottomMargin)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	left, _, _, _ := pdf.GetMargins()

	pdf.SetFont(fontFamily, "B", 18)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(0, 10, tr(layout.Title), "", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 5, tr("Generated "+formatDate(layout.GeneratedAt)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	if len(layout.Patient) > 0 {
		heading(pdf, tr, "Patient Information")
		table(pdf, tr, layout.Patient)
	}

	for _, section := range layout.Sections {
		if section.PageBreak {
			pdf.AddPage()
		} else {
			pdf.Ln(3)
		}
		heading(pdf, tr, section.Heading)
		if len(section.Table) > 0 {
			table(pdf, tr, section.Table)
		}
		for _, line := range section.Lines {
			pdf.SetX(left + float64(line.Indent)*indentWidth)
			style := ""
			if line.Bold {
				style = "B"
			}
			pdf.SetFont(fontFamily, style, 10)
			text := line.Text
			if line.Bullet {
				text = "• " + text
			}
			pdf.MultiCell(0, lineHeight, tr(text), "", "L", false)
		}
	}

	if layout.Disclaimer != "" {
		pdf.Ln(6)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.SetTextColor(110, 110, 110)
		pdf.MultiCell(0, 4, tr(layout.Disclaimer), "T", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("compose pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func heading(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.SetFont(fontFamily, "B", 13)
	pdf.SetTextColor(25, 95, 70)
	pdf.CellFormat(0, 8, tr(text), "B", 1, "L", false, 0, "")
	pdf.SetTextColor(33, 37, 41)
	pdf.Ln(1)
}

func table(pdf *fpdf.Fpdf, tr func(string) string, rows [][2]string) {
	pdf.SetFillColor(240, 245, 242)
	for _, row := range rows {
		pdf.SetFont(fontFamily, "B", 10)
		pdf.CellFormat(labelColumn, 7, tr(row[0]), "1", 0, "L", true, 0, "")
		pdf.SetFont(fontFamily, "", 10)
		pdf.CellFormat(0, 7, tr(row[1]), "1", 1, "L", false, 0, "")
	}
}
