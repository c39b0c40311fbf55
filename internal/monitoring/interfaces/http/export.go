package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	monitoringapp "cosafe/internal/monitoring/application"
	"cosafe/internal/observability/metrics"
)

const exportFilePrefix = "cosafe-data-"

// ExportHandler serves the data export in JSON, XLSX and PDF.
type ExportHandler struct {
	controller *monitoringapp.Controller
}

// NewExportHandler constructs an export handler.
func NewExportHandler(controller *monitoringapp.Controller) (*ExportHandler, error) {
	if controller == nil {
		return nil, errors.New("export handler: nil controller")
	}
	return &ExportHandler{controller: controller}, nil
}

// ServeHTTP handles GET /api/v1/export.{json,xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var format, contentType string
	switch r.URL.Path {
	case "/api/v1/export.json":
		format, contentType = "json", "application/json"
	case "/api/v1/export.xlsx":
		format, contentType = "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "/api/v1/export.pdf":
		format, contentType = "pdf", "application/pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	start := time.Now()
	doc := h.controller.Export()
	var (
		body []byte
		err  error
	)
	switch format {
	case "json":
		body, err = json.MarshalIndent(doc, "", "  ")
	case "xlsx":
		body, err = BuildExportXLSX(doc)
	case "pdf":
		body, err = BuildExportPDF(doc)
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))

	filename := fmt.Sprintf("%s%d.%s", exportFilePrefix, doc.ExportTimestamp.UnixMilli(), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// BuildExportPDF renders a summary report of the export.
func BuildExportPDF(doc monitoringapp.ExportDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "CO-SAFE Data Export")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Exported: %s", doc.ExportTimestamp.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Thresholds (%s): warning %.0f, critical %.0f", doc.Settings.Units, doc.Settings.Thresholds.Warning, doc.Settings.Thresholds.Critical))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Emergency contact: %s", doc.Settings.EmergencyContact))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d", len(doc.History)))
	pdf.Ln(5)
	if len(doc.History) > 0 {
		minV, maxV, sum := doc.History[0].Value, doc.History[0].Value, 0.0
		for _, p := range doc.History {
			if p.Value < minV {
				minV = p.Value
			}
			if p.Value > maxV {
				maxV = p.Value
			}
			sum += p.Value
		}
		pdf.Cell(0, 6, fmt.Sprintf("Min / Avg / Max (ppm): %.1f / %.1f / %.1f", minV, sum/float64(len(doc.History)), maxV))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	// Alerts table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(90, 6, "Title", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Ack", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, alert := range doc.Alerts {
		ack := "no"
		if alert.Acknowledged {
			ack = "yes"
		}
		pdf.CellFormat(45, 6, alert.Timestamp.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, string(alert.Level), "1", 0, "C", false, 0, "")
		pdf.CellFormat(90, 6, alert.Title, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, ack, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildExportXLSX renders history, alerts and settings as worksheets.
func BuildExportXLSX(doc monitoringapp.ExportDocument) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	historySheet := "history"
	alertsSheet := "alerts"
	settingsSheet := "settings"
	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(alertsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(settingsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(historySheet, "A1", "Timestamp")
	_ = f.SetCellValue(historySheet, "B1", "CO (ppm)")
	for i, p := range doc.History {
		row := i + 2
		_ = f.SetCellValue(historySheet, fmt.Sprintf("A%d", row), p.Timestamp.Format(time.RFC3339))
		_ = f.SetCellValue(historySheet, fmt.Sprintf("B%d", row), p.Value)
	}

	_ = f.SetCellValue(alertsSheet, "A1", "ID")
	_ = f.SetCellValue(alertsSheet, "B1", "Timestamp")
	_ = f.SetCellValue(alertsSheet, "C1", "Level")
	_ = f.SetCellValue(alertsSheet, "D1", "Title")
	_ = f.SetCellValue(alertsSheet, "E1", "Message")
	_ = f.SetCellValue(alertsSheet, "F1", "Acknowledged")
	for i, alert := range doc.Alerts {
		row := i + 2
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("A%d", row), alert.ID)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("B%d", row), alert.Timestamp.Format(time.RFC3339))
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("C%d", row), string(alert.Level))
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("D%d", row), alert.Title)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("E%d", row), alert.Message)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("F%d", row), alert.Acknowledged)
	}

	s := doc.Settings
	rows := [][2]any{
		{"Exported", doc.ExportTimestamp.Format(time.RFC3339)},
		{"Units", s.Units},
		{"Warning threshold", s.Thresholds.Warning},
		{"Critical threshold", s.Thresholds.Critical},
		{"Emergency contact", s.EmergencyContact},
		{"Audible alarms", s.AudibleAlarms},
		{"Alarms muted", s.MuteAlarms},
		{"Notifications", s.Notifications},
	}
	for i, kv := range rows {
		row := i + 1
		_ = f.SetCellValue(settingsSheet, fmt.Sprintf("A%d", row), kv[0])
		_ = f.SetCellValue(settingsSheet, fmt.Sprintf("B%d", row), kv[1])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
