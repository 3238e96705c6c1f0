package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/bill-trends/internal/repository"
)

// CompletedLister is the read side the admin export needs. The result repository implements it.
type CompletedLister interface {
	ListCompleted(ctx context.Context, limit int) ([]repository.ExportRow, error)
}

// Exporter produces XLSX bytes for admin exports.
type Exporter struct {
	results CompletedLister
	logger  *slog.Logger
}

func NewExporter(results CompletedLister, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{results: results, logger: logger}
}

const exportSheet = "Analisi"

var exportHeaders = []string{
	"Session",
	"Zone",
	"Created (UTC)",
	"Position",
	"EUR/kWh delta %",
	"Confidence",
	"Findings",
}

// ExportXLSX returns a workbook with one row per completed analysis, newest first.
// limit <= 0 exports everything.
func (e *Exporter) ExportXLSX(ctx context.Context, limit int) ([]byte, error) {
	start := time.Now()
	rows, err := e.results.ListCompleted(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query completed analyses: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}

	for i, r := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}
		write(1, r.SessionID.String())
		write(2, r.ZoneKey)
		write(3, r.CreatedAt.UTC().Format(time.RFC3339))
		write(4, string(r.Position))
		if r.DeltaPct != nil {
			write(5, *r.DeltaPct)
		} else {
			write(5, "")
		}
		write(6, r.Confidence)
		write(7, r.FindingsCount)
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 38)
	_ = f.SetColWidth(exportSheet, "B", "B", 10)
	_ = f.SetColWidth(exportSheet, "C", "C", 22)
	_ = f.SetColWidth(exportSheet, "D", "G", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
