// Package scheduler – printable schedule export.
//
// This file renders a generated schedule as a paginated PDF table. The
// layout is fixed: a branded header with the generation timestamp, one table
// row per schedule entry, and a footer carrying the safety disclaimer and
// page number on every page. The export returns bytes; the caller decides
// file name, MIME type, and delivery.
package scheduler

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/tbourn/go-prescription-backend/internal/domain"
)

// disclaimer is printed verbatim in the footer of every page.
const disclaimer = "DISCLAIMER: This schedule is AI-generated based on a prescription image. " +
	"It is NOT a medical prescription or professional advice. Always verify with " +
	"your doctor or pharmacist before taking medication."

// Fixed column widths in millimeters, one per table column.
var columnWidths = [6]float64{50, 30, 20, 20, 20, 30}

// columnHeaders label the table columns.
var columnHeaders = [6]string{"Medicine", "Dosage", "Morn.", "Aft.", "Night", "Duration"}

// ExportPDF renders schedule entries into a printable PDF document and
// returns its bytes. The document always has at least one page, even for an
// empty schedule.
func ExportPDF(entries []domain.ScheduleEntry) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 16)
		pdf.SetTextColor(154, 27, 116)
		pdf.CellFormat(0, 10, "Personalized Medication Schedule", "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "I", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 10, "Generated on: "+time.Now().Format("2006-01-02 15:04"), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-25)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(150, 150, 150)
		pdf.MultiCell(0, 5, disclaimer, "", "C", false)
		pdf.SetY(-10)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	// Keep rows clear of the footer block.
	pdf.SetAutoPageBreak(true, 30)
	pdf.AddPage()

	// Table header
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(240, 240, 240)
	pdf.SetTextColor(0, 0, 0)
	for i := range columnHeaders {
		pdf.CellFormat(columnWidths[i], 10, columnHeaders[i], "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	// Table content
	pdf.SetFont("Helvetica", "", 9)
	for _, e := range entries {
		instructions := e.Instructions
		if instructions == "" {
			instructions = "N/A"
		}
		medText := e.Medicine + "\n(" + instructions + ")"

		// The medicine cell wraps; the remaining single-line cells take the
		// wrapped cell's total height so row borders stay aligned.
		lines := strings.Count(medText, "\n") + 1
		rowHeight, lineHeight := 10.0, 10.0
		if lines > 1 {
			rowHeight = 10 * float64(lines)
			lineHeight = 5
		}

		x, y := pdf.GetXY()
		pdf.MultiCell(columnWidths[0], lineHeight, medText, "1", "L", false)
		pdf.SetXY(x+columnWidths[0], y)

		pdf.CellFormat(columnWidths[1], rowHeight, e.Dosage, "1", 0, "C", false, 0, "")
		pdf.CellFormat(columnWidths[2], rowHeight, yesOrDash(e.Morning), "1", 0, "C", false, 0, "")
		pdf.CellFormat(columnWidths[3], rowHeight, yesOrDash(e.Afternoon), "1", 0, "C", false, 0, "")
		pdf.CellFormat(columnWidths[4], rowHeight, yesOrDash(e.Night), "1", 0, "C", false, 0, "")
		pdf.CellFormat(columnWidths[5], rowHeight, fmt.Sprintf("%d days", e.DurationDays), "1", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("scheduler: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// yesOrDash renders a time-slot flag as a table cell value.
func yesOrDash(b bool) string {
	if b {
		return "Yes"
	}
	return "-"
}
