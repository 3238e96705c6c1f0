package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
	"github.com/joseph-ayodele/bill-trends/internal/repository"
)

func TestResultURL(t *testing.T) {
	assert.Equal(t, "https://x.it/result/abc", ResultURL("https://x.it/", "abc"))
	assert.Equal(t, "https://x.it/result/abc", ResultURL("https://x.it", "abc"))
}

func TestPassport(t *testing.T) {
	res := &entity.AnalysisResult{
		SessionID:   uuid.New(),
		ZoneKey:     "00184",
		Position:    entity.PositionRed,
		Explanation: "Il tuo andamento è fuori trend rispetto alla tua zona.",
		UserTrend:   entity.UserTrend{TotalRecent: 100, TotalOld: 80, EurPerKWhDeltaPct: entity.Float(12.5)},
		ZoneTrend:   entity.ZoneTrend{EurPerKWhDeltaPct: 3, Count: 12},
		Confidence:  88,
		Findings: []entity.Finding{
			{Severity: entity.SeverityHigh, Title: "Costo unitario in forte aumento", RuleID: "unit_cost_jump"},
		},
	}
	out, err := Passport(res, "https://bills.example", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestPassport_UnknownPositionAndNoDelta(t *testing.T) {
	res := &entity.AnalysisResult{SessionID: uuid.New(), ZoneKey: "unknown", Position: "odd"}
	out, err := Passport(res, "", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

type fakeLister struct {
	rows []repository.ExportRow
	err  error
	got  int
}

func (f *fakeLister) ListCompleted(_ context.Context, limit int) ([]repository.ExportRow, error) {
	f.got = limit
	return f.rows, f.err
}

func TestExportXLSX(t *testing.T) {
	id := uuid.New()
	lister := &fakeLister{rows: []repository.ExportRow{
		{SessionID: id, ZoneKey: "00184", CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
			Position: entity.PositionGreen, DeltaPct: entity.Float(4.5), Confidence: 90, FindingsCount: 2},
		{SessionID: uuid.New(), ZoneKey: "20121", Position: entity.PositionYellow, Confidence: 60},
	}}
	e := NewExporter(lister, slog.New(slog.NewTextHandler(io.Discard, nil)))

	out, err := e.ExportXLSX(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 100, lister.got)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeaders, rows[0])
	assert.Equal(t, id.String(), rows[1][0])
	assert.Equal(t, "2026-02-01T10:00:00Z", rows[1][2])
	assert.Equal(t, "green", rows[1][3])
	assert.Equal(t, "4.5", rows[1][4])
	assert.Equal(t, "2", rows[1][6])
	assert.Equal(t, "", rows[2][4], "undefined delta stays blank")
}

func TestExportXLSX_QueryError(t *testing.T) {
	e := NewExporter(&fakeLister{err: errors.New("db down")}, nil)
	_, err := e.ExportXLSX(context.Background(), 0)
	assert.ErrorContains(t, err, "db down")
}
