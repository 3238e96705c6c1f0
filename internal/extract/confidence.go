package extract

import "github.com/joseph-ayodele/bill-trends/internal/entity"

// Overall confidence deductions, applied from a start of 100.
const (
	penaltyMissingTotal    = 25
	penaltyMissingQuantity = 25
	penaltyMissingSupplier = 10
	penaltyPartialPeriod   = 10
	penaltyOCR             = 5
	bonusComparison        = 3
)

// OverallConfidence scores extraction reliability on 0..100 from the latest bill, the optional
// older bill and whether OCR produced the latest text.
func OverallConfidence(latest entity.BillFields, older *entity.BillFields, latestOCR bool) int {
	score := 100
	if latest.TotalDue == nil || *latest.TotalDue == 0 {
		score -= penaltyMissingTotal
	}
	if !nonZero(latest.KWh) && !nonZero(latest.Smc) {
		score -= penaltyMissingQuantity
	}
	if latest.Supplier == nil || *latest.Supplier == "" {
		score -= penaltyMissingSupplier
	}
	if !latest.HasPeriod() {
		score -= penaltyPartialPeriod
	}
	if latestOCR {
		score -= penaltyOCR
	}
	if older != nil {
		score += bonusComparison
	}
	return min(100, max(0, score))
}

func nonZero(v *float64) bool {
	return v != nil && *v != 0
}
