package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"tagwatch/internal/observability/metrics"
	subapp "tagwatch/internal/subscriptions/application"
	subscriptions "tagwatch/internal/subscriptions/domain"
)

// BuildRegistryXLSX renders the subscriber registry as a workbook.
func BuildRegistryXLSX(subscribers []*subscriptions.Subscriber) ([]byte, error) {
	f := excelize.NewFile()
	subscriberSheet := "subscribers"
	subscriptionSheet := "subscriptions"
	f.SetSheetName("Sheet1", subscriberSheet)
	f.NewSheet(subscriptionSheet)

	_ = f.SetCellValue(subscriberSheet, "A1", "ID")
	_ = f.SetCellValue(subscriberSheet, "B1", "Email")
	_ = f.SetCellValue(subscriberSheet, "C1", "SMS")
	_ = f.SetCellValue(subscriberSheet, "D1", "Report Interval")
	_ = f.SetCellValue(subscriberSheet, "E1", "Subscriptions")

	_ = f.SetCellValue(subscriptionSheet, "A1", "Subscriber")
	_ = f.SetCellValue(subscriptionSheet, "B1", "Tag")
	_ = f.SetCellValue(subscriptionSheet, "C1", "Enabled")
	_ = f.SetCellValue(subscriptionSheet, "D1", "Kinds")
	_ = f.SetCellValue(subscriptionSheet, "E1", "Min Level")
	_ = f.SetCellValue(subscriptionSheet, "F1", "Mail")
	_ = f.SetCellValue(subscriptionSheet, "G1", "SMS")
	_ = f.SetCellValue(subscriptionSheet, "H1", "Last Notified")

	subscriptionRow := 2
	for i, subscriber := range subscribers {
		row := i + 2
		_ = f.SetCellValue(subscriberSheet, fmt.Sprintf("A%d", row), subscriber.ID)
		_ = f.SetCellValue(subscriberSheet, fmt.Sprintf("B%d", row), subscriber.Email)
		_ = f.SetCellValue(subscriberSheet, fmt.Sprintf("C%d", row), subscriber.SMS)
		_ = f.SetCellValue(subscriberSheet, fmt.Sprintf("D%d", row), subscriber.ReportInterval.String())
		_ = f.SetCellValue(subscriberSheet, fmt.Sprintf("E%d", row), len(subscriber.Subscriptions))

		for _, tagID := range subscriber.SubscribedTagIDs() {
			sub := subscriber.Subscriptions[tagID]
			kinds := make([]string, 0, len(sub.Kinds))
			for _, kind := range sub.Kinds {
				kinds = append(kinds, string(kind))
			}
			_ = f.SetCellValue(subscriptionSheet, fmt.Sprintf("A%d", subscriptionRow), subscriber.ID)
			_ = f.SetCellValue(subscriptionSheet, fmt.Sprintf("B%d", subscriptionRow), sub.TagID)
			_ = f.SetCellValue(subscriptionSheet, fmt.Sprintf("C%d", subscriptionRow), sub.Enabled)
			_ = f.SetCellValue(subscriptionSheet, fmt.Sprintf("D%d", subscriptionRow), strings.Join(kinds, ","))
			_ = f.SetCellValue(subscriptionSheet, fmt.Sprintf("E%d", subscriptionRow), sub.MinLevel)
			_ = f.SetCellValue(subscriptionSheet, fmt.Sprintf("F%d", subscriptionRow), sub.Mail)
			_ = f.SetCellValue(subscriptionSheet, fmt.Sprintf("G%d", subscriptionRow), sub.SMS)
			if last := sub.LastNotified(); !last.IsZero() {
				_ = f.SetCellValue(subscriptionSheet, fmt.Sprintf("H%d", subscriptionRow), last.UTC().Format(time.RFC3339))
			}
			subscriptionRow++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RegistryExportHandler serves the subscriber registry as an XLSX download.
type RegistryExportHandler struct {
	registry *subapp.Registry
}

// NewRegistryExportHandler constructs an export handler.
func NewRegistryExportHandler(registry *subapp.Registry) (*RegistryExportHandler, error) {
	if registry == nil {
		return nil, errors.New("registry export handler: nil registry")
	}
	return &RegistryExportHandler{registry: registry}, nil
}

// ServeHTTP handles GET /api/v1/subscriptions/export.xlsx.
func (h *RegistryExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()
	payload, err := BuildRegistryXLSX(h.registry.Subscribers())
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="subscriptions.xlsx"`)
	_, _ = w.Write(payload)
}
