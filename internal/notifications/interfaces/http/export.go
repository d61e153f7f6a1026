package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"

	application "tagwatch/internal/notifications/application"
	notifications "tagwatch/internal/notifications/domain"
	"tagwatch/internal/observability/metrics"
)

// BuildHistoryPDF renders a minimal PDF of the notification history.
func BuildHistoryPDF(entries []notifications.Notification) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Notification History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d", len(entries)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(38, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Kind", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Tag", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Subscriber", "1", 0, "C", false, 0, "")
	pdf.CellFormat(90, 6, "Subject", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, entry := range entries {
		pdf.CellFormat(38, 6, entry.CreatedAt.Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(28, 6, string(entry.Kind), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%s (#%d)", entry.TagName, entry.TagID), "1", 0, "L", false, 0, "")
		pdf.CellFormat(28, 6, entry.Status, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, entry.SubscriberID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(90, 6, entry.Subject, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportHandler serves the notification history as a PDF download.
type ExportHandler struct {
	log *application.Log
}

// NewExportHandler constructs an export handler.
func NewExportHandler(log *application.Log) *ExportHandler {
	return &ExportHandler{log: log}
}

// ServeHTTP handles GET /api/v1/notifications/export.pdf.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.log == nil {
		http.Error(w, "history not ready", http.StatusServiceUnavailable)
		return
	}
	started := time.Now()
	payload, err := BuildHistoryPDF(h.log.Recent(0))
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(started))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="notifications.pdf"`)
	_, _ = w.Write(payload)
}
