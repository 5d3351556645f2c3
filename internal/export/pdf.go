package export

import (
	"io"
	"strconv"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter exports battles to PDF format.
type PDFExporter struct{}

// Export writes the battle as PDF.
func (e *PDFExporter) Export(tr *Transcript, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	tp := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	// Title
	title := tr.Record.ID
	if tr.Subject != nil {
		title = tr.Subject.Title
	}
	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(0, 10, tp(title), "", "C", false)
	pdf.Ln(5)

	// Metadata section
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Battle Information")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	e.addMetadataRow(pdf, "ID:", tr.Record.ID)
	e.addMetadataRow(pdf, "Agree:", tr.Record.Player1)
	e.addMetadataRow(pdf, "Disagree:", tr.Record.Player2)
	e.addMetadataRow(pdf, "Winner:", tr.Record.WinnerID)
	e.addMetadataRow(pdf, "Played:", tr.Record.CreatedAt.Format("January 2, 2006 at 3:04 PM"))
	pdf.Ln(5)

	// Turns
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Debate")
	pdf.Ln(8)

	if len(tr.Log) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.Cell(0, 6, "No turns recorded.")
		pdf.Ln(6)
	} else {
		for _, entry := range tr.Log {
			if pdf.GetY() > 250 {
				pdf.AddPage()
			}

			isAgree := tr.sideOf(entry.UserID) == "agree"
			if isAgree {
				pdf.SetFillColor(200, 230, 255) // Light blue
			} else {
				pdf.SetFillColor(200, 255, 200) // Light green
			}
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(0, 7, tp(entry.UserID), "", 1, "L", true, 0, "")

			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(0, 6, tp(entry.Text), "", "L", false)
			pdf.Ln(3)
		}
	}

	// Verdict
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Verdict")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	e.addMetadataRow(pdf, "Agree score:", strconv.Itoa(tr.Verdict.Agree.Score))
	e.addMetadataRow(pdf, "Disagree score:", strconv.Itoa(tr.Verdict.Disagree.Score))
	e.addMetadataRow(pdf, "Winner:", tr.Verdict.WinnerUserID)

	return pdf.Output(w)
}

func (e *PDFExporter) addMetadataRow(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(35, 6, label)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, value)
	pdf.Ln(6)
}


// FileExtension returns the file extension for PDF.
func (e *PDFExporter) FileExtension() string {
	return "pdf"
}

// ContentType returns the MIME type.
func (e *PDFExporter) ContentType() string {
	return "application/pdf"
}
