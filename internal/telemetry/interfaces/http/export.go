package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// BuildHistoryPDF renders a device's reading history as a PDF report.
func BuildHistoryPDF(history telemetry.History) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Vital Signs History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %d", history.DeviceID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", history.From.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", history.To.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Metric", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Count", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Min", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Max", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Avg", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range history.Summary {
		pdf.CellFormat(40, 6, fmt.Sprintf("%s (%s)", s.Metric, s.Unit), "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", s.Count), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.1f", s.Min), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.1f", s.Max), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.1f", s.Avg), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(history.Analysis) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Analysis")
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 10)
		for _, line := range history.Analysis {
			pdf.Cell(0, 6, "- "+line)
			pdf.Ln(5)
		}
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(50, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Metric", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Simulated", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, r := range history.Readings {
		pdf.CellFormat(50, 5, r.TS.UTC().Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 5, string(r.Metric), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 5, fmt.Sprintf("%.1f", r.Value), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 5, yesNo(r.IsSimulated), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryXLSX renders a device's reading history as a workbook with a
// summary sheet and a readings sheet.
func BuildHistoryXLSX(history telemetry.History) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	readingsSheet := "readings"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(readingsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Vital Signs History")
	_ = f.SetCellValue(summarySheet, "A3", "Device")
	_ = f.SetCellValue(summarySheet, "B3", history.DeviceID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", history.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", history.To.Format(time.RFC3339))

	_ = f.SetCellValue(summarySheet, "A7", "Metric")
	_ = f.SetCellValue(summarySheet, "B7", "Unit")
	_ = f.SetCellValue(summarySheet, "C7", "Count")
	_ = f.SetCellValue(summarySheet, "D7", "Min")
	_ = f.SetCellValue(summarySheet, "E7", "Max")
	_ = f.SetCellValue(summarySheet, "F7", "Avg")
	row := 8
	for _, s := range history.Summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(s.Metric))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), s.Unit)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), s.Count)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), s.Min)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("E%d", row), s.Max)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("F%d", row), s.Avg)
		row++
	}
	row++
	for _, line := range history.Analysis {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), line)
		row++
	}

	_ = f.SetCellValue(readingsSheet, "A1", "Time")
	_ = f.SetCellValue(readingsSheet, "B1", "Metric")
	_ = f.SetCellValue(readingsSheet, "C1", "Value")
	_ = f.SetCellValue(readingsSheet, "D1", "Quality")
	_ = f.SetCellValue(readingsSheet, "E1", "Simulated")
	for i, r := range history.Readings {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), r.TS.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", row), string(r.Metric))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("C%d", row), r.Value)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("D%d", row), r.Quality)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("E%d", row), r.IsSimulated)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
