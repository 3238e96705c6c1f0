package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

// positionColors are the RGB fills of the position badge.
var positionColors = map[entity.Position][3]int{
	entity.PositionGreen:  {46, 160, 67},
	entity.PositionYellow: {219, 171, 9},
	entity.PositionRed:    {207, 34, 46},
}

// ResultURL is the public page of a session result.
func ResultURL(baseURL, sessionID string) string {
	return strings.TrimRight(baseURL, "/") + "/result/" + sessionID
}

// Passport renders the one-page "bill passport" of a committed result.
func Passport(res *entity.AnalysisResult, baseURL string, at time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	// core fonts are cp1252; Italian accents need translating
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Passaporto bolletta", true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, tr(fmt.Sprintf("Passaporto bolletta - zona %s", res.ZoneKey)))
	pdf.Ln(14)

	rgb, ok := positionColors[res.Position]
	if !ok {
		rgb = [3]int{120, 120, 120}
	}
	pdf.SetFillColor(rgb[0], rgb[1], rgb[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(70, 10, tr(res.Position.Label()), "", 0, "C", true, 0, "")
	pdf.Ln(14)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(0, 6, tr(res.Explanation), "", "L", false)
	pdf.Ln(4)

	line := func(label, value string) {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(60, 6, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, tr(value), "", 1, "L", false, 0, "")
	}
	line("Data", at.Format("02/01/2006"))
	line("Variazione €/kWh", pctOrDash(res.UserTrend.EurPerKWhDeltaPct))
	line("Variazione zona", fmt.Sprintf("%+.1f%% (%d bollette)", res.ZoneTrend.EurPerKWhDeltaPct, res.ZoneTrend.Count))
	line("Totale recente", fmt.Sprintf("%.2f EUR", res.UserTrend.TotalRecent))
	line("Totale precedente", fmt.Sprintf("%.2f EUR", res.UserTrend.TotalOld))
	line("Affidabilità", fmt.Sprintf("%d/100", res.Confidence))

	if len(res.Findings) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 7, "Segnalazioni", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, f := range res.Findings {
			pdf.MultiCell(0, 5, tr(fmt.Sprintf("[%s] %s", strings.ToUpper(string(f.Severity)), f.Title)), "", "L", false)
		}
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 5, ResultURL(baseURL, res.SessionID.String()), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("passport pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func pctOrDash(v *float64) string {
	if v == nil {
		return "n.d."
	}
	return fmt.Sprintf("%+.1f%%", *v)
}
