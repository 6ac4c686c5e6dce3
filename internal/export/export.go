// Package export renders finalized prescriptions as printable documents.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

// Medicine is one printed prescription line.
type Medicine struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	Notes  string `json:"notes"`
}

// Report is everything printed on a prescription report.
type Report struct {
	PatientName string     `json:"patientName"`
	PatientID   string     `json:"patientId"`
	Date        string     `json:"date"`
	Medicines   []Medicine `json:"medicines"`
}

// Renderer turns a report into an opaque document.
type Renderer interface {
	Render(r Report) ([]byte, error)
	ContentType() string
}

// ReportTitle heads every report.
const ReportTitle = "CARESTREAM MEDICAL REPORT"

// PDF renders reports as A4 PDF documents.
type PDF struct {
	Title string
}

// NewPDF returns a renderer using ReportTitle.
func NewPDF() *PDF { return &PDF{Title: ReportTitle} }

func (*PDF) ContentType() string { return "application/pdf" }

// Render lays out the header block and the medicines table.
func (p *PDF) Render(r Report) ([]byte, error) {
	if len(r.Medicines) == 0 {
		return nil, errors.New("export: report has no medicines")
	}
	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetTitle(p.Title, true)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 18)
	doc.SetTextColor(30, 64, 175)
	doc.CellFormat(0, 12, p.Title, "", 1, "C", false, 0, "")
	doc.Ln(4)

	doc.SetTextColor(0, 0, 0)
	doc.SetFont("Helvetica", "", 11)
	for _, line := range []struct{ label, value string }{
		{"Patient Name", r.PatientName},
		{"Report Date", r.Date},
		{"Patient ID", ShortID(r.PatientID)},
	} {
		doc.SetFont("Helvetica", "B", 11)
		doc.CellFormat(35, 7, line.label+":", "", 0, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 11)
		doc.CellFormat(0, 7, tr(line.value), "", 1, "L", false, 0, "")
	}
	doc.Ln(6)

	widths := []float64{60, 40, 90}
	doc.SetFont("Helvetica", "B", 11)
	doc.SetFillColor(30, 64, 175)
	doc.SetTextColor(255, 255, 255)
	for i, h := range []string{"Medicine", "Dosage", "Notes"} {
		doc.CellFormat(widths[i], 8, h, "1", 0, "L", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Helvetica", "", 10)
	doc.SetTextColor(0, 0, 0)
	for _, m := range r.Medicines {
		notes := m.Notes
		if notes == "" {
			notes = "-"
		}
		for i, v := range []string{m.Name, m.Dosage, notes} {
			doc.CellFormat(widths[i], 7, tr(v), "1", 0, "L", false, 0, "")
		}
		doc.Ln(-1)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("export: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// ShortID is the first eight characters of id, as printed on reports.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

var filenameReplacer = strings.NewReplacer("/", "_", "\\", "_", "\"", "", "\r", "", "\n", "")

// Filename is the download name for r: Report_<patient>_<date>.pdf.
func Filename(r Report) string {
	return filenameReplacer.Replace(fmt.Sprintf("Report_%s_%s.pdf", r.PatientName, r.Date))
}
