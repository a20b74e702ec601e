package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-pdf/fpdf"
)

var (
	medicationWidths = []float64{60, 40, 80}
	historyWidths    = []float64{32, 42, 26, 36, 44}
)

// Document is a rendered MAR report
type Document struct {
	Layout *Layout
	data   []byte
}

// Filename returns the conventional report file name for the given day
func Filename(t time.Time) string {
	return "MAR_Report_" + t.Format(dateLayout) + ".pdf"
}

// Generate builds and renders the report
func Generate(in Input) (*Document, error) {
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now().UTC()
	}
	layout := Build(in)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Medication Administration Record", true)
	pdf.SetCreator("go-mar", true)
	pdf.SetCreationDate(in.GeneratedAt)
	pdf.SetMargins(MarginLeft, TopMargin, MarginLeft)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AliasNbPages("{nb}")

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	for _, page := range layout.Pages {
		pdf.AddPage()
		for _, it := range page.Items {
			drawItem(pdf, tr, it)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return &Document{Layout: layout, data: buf.Bytes()}, nil
}

func drawItem(pdf *fpdf.Fpdf, tr func(string) string, it Item) {
	pdf.SetXY(MarginLeft, it.Y)
	switch it.Kind {
	case KindTitle:
		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(0, RowHeight, tr(it.Cells[0]), "", 0, "L", false, 0, "")
	case KindHeading:
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, RowHeight, tr(it.Cells[0]), "", 0, "L", false, 0, "")
	case KindText:
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, RowHeight, tr(it.Cells[0]), "", 0, "L", false, 0, "")
	case KindNote:
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, RowHeight, tr(it.Cells[0]), "", 0, "L", false, 0, "")
	case KindTableHeader:
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		drawCells(pdf, tr, widthsFor(it.Table), it.Cells, true)
	case KindRow:
		pdf.SetFont("Helvetica", "", 9)
		drawCells(pdf, tr, widthsFor(it.Table), it.Cells, false)
	}
}

func drawCells(pdf *fpdf.Fpdf, tr func(string) string, widths []float64, cells []string, fill bool) {
	for i, w := range widths {
		text := ""
		if i < len(cells) {
			text = fit(pdf, tr(cells[i]), w-2)
		}
		pdf.CellFormat(w, RowHeight, text, "1", 0, "L", fill, 0, "")
	}
}

// fit truncates s with an ellipsis so it fits in width
func fit(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func widthsFor(t Table) []float64 {
	if t == TableHistory {
		return historyWidths
	}
	return medicationWidths
}

// Bytes returns the rendered PDF
func (d *Document) Bytes() []byte { return d.data }

// WriteTo writes the PDF to w
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	return bytes.NewReader(d.data).WriteTo(w)
}

// Save writes the PDF to filename
func (d *Document) Save(filename string) error {
	if err := os.WriteFile(filename, d.data, 0o644); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
