package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

const (
	IDMissingFields = "R_MISSING_FIELDS"
	IDTotalSanity   = "R_TOTAL_SANITY"
	IDFixedFeeHigh  = "R_FIXED_FEE_HIGH"
	IDUnitCostJump  = "R_UNIT_COST_JUMP"
	IDUsageSpike    = "R_USAGE_SPIKE"
	IDTaxSanity     = "R_TAX_SANITY"
)

const (
	FixedFeePer30DThreshold = 40.0
	TotalMismatchPct        = 0.02
	UnitCostJumpPct         = 0.25
	UsageSpikePct           = 0.30

	vatMinRatio = 0.04
	vatMaxRatio = 0.30
)

// Default is the rule battery in registration order.
func Default() []Rule {
	return []Rule{
		{ID: IDMissingFields, Eval: MissingFields},
		{ID: IDTotalSanity, Eval: TotalSanity},
		{ID: IDFixedFeeHigh, Eval: FixedFeeHigh},
		{ID: IDUnitCostJump, Eval: UnitCostJump},
		{ID: IDUsageSpike, Eval: UsageSpike},
		{ID: IDTaxSanity, Eval: TaxSanity},
	}
}

// MissingFields flags an absent or zero total and bills with neither kWh nor Smc.
func MissingFields(latest entity.BillFields, _ *entity.BillFields) []entity.Finding {
	var missing []string
	if latest.TotalDue == nil || *latest.TotalDue == 0 {
		missing = append(missing, "totale (€)")
	}
	if latest.KWh == nil && latest.Smc == nil {
		missing = append(missing, "consumi (kWh/Smc)")
	}
	if len(missing) == 0 {
		return nil
	}
	return []entity.Finding{{
		Severity: entity.SeverityMed,
		Title:    "Dati chiave incompleti",
		Description: fmt.Sprintf("Non sono stati individuati in modo affidabile: %s. La diagnosi resta indicativa.",
			strings.Join(missing, ", ")),
		RuleID: IDMissingFields,
	}}
}

// TotalSanity compares the total with the sum of at least three known components.
func TotalSanity(latest entity.BillFields, _ *entity.BillFields) []entity.Finding {
	if latest.TotalDue == nil {
		return nil
	}
	total := *latest.TotalDue

	var sum float64
	present := 0
	for _, part := range []*float64{latest.FixedFees, latest.VariableCost, latest.VAT, latest.Excise} {
		if part != nil {
			sum += *part
			present++
		}
	}
	if present < 3 || total <= 0 {
		return nil
	}
	diff := math.Abs(sum - total)
	if diff/total <= TotalMismatchPct {
		return nil
	}
	return []entity.Finding{{
		Severity: entity.SeverityHigh,
		Title:    "Totale non coerente con le componenti",
		Description: fmt.Sprintf("Somma componenti (%.2f €) diversa dal totale (%.2f €) oltre il %d%%. Possibile voce mancante o errore di calcolo/lettura.",
			sum, total, int(TotalMismatchPct*100)),
		EstimatedImpactEUR: entity.Float(math.Min(diff, total) * 0.25),
		RuleID:             IDTotalSanity,
	}}
}

// FixedFeeHigh normalizes fixed fees to 30 days and flags values above the threshold.
func FixedFeeHigh(latest entity.BillFields, _ *entity.BillFields) []entity.Finding {
	if latest.FixedFees == nil || latest.PeriodDays == nil || *latest.PeriodDays <= 0 {
		return nil
	}
	fixed30 := *latest.FixedFees / float64(*latest.PeriodDays) * 30
	if fixed30 <= FixedFeePer30DThreshold {
		return nil
	}
	sev := entity.SeverityMed
	if fixed30 > FixedFeePer30DThreshold*1.5 {
		sev = entity.SeverityHigh
	}
	return []entity.Finding{{
		Severity: sev,
		Title:    "Quota fissa insolitamente alta",
		Description: fmt.Sprintf("Quota fissa normalizzata ~%.2f €/30gg (soglia %.0f €/30gg). Verifica voci fisse, potenza impegnata, oneri.",
			fixed30, FixedFeePer30DThreshold),
		EstimatedImpactEUR: entity.Float(math.Max(0, fixed30-FixedFeePer30DThreshold) * 0.5),
		RuleID:             IDFixedFeeHigh,
	}}
}

// TaxSanity flags negative excise and VAT ratios outside 4%..30% of the taxable base.
func TaxSanity(latest entity.BillFields, _ *entity.BillFields) []entity.Finding {
	var findings []entity.Finding
	if latest.Excise != nil && *latest.Excise < 0 {
		findings = append(findings, entity.Finding{
			Severity:    entity.SeverityMed,
			Title:       "Accisa negativa (anomalia)",
			Description: "È stata rilevata un'accisa negativa: può indicare un errore di lettura o una compensazione. Da verificare.",
			RuleID:      IDTaxSanity,
		})
	}
	if latest.TotalDue != nil && latest.VAT != nil && *latest.TotalDue > 0 && *latest.VAT >= 0 {
		ratio := *latest.VAT / math.Max(*latest.TotalDue-*latest.VAT, 1)
		if ratio < vatMinRatio || ratio > vatMaxRatio {
			findings = append(findings, entity.Finding{
				Severity:    entity.SeverityMed,
				Title:       "IVA fuori range di buon senso",
				Description: fmt.Sprintf("Stima IVA ~%.1f%% (range atteso 4%%–30%%). Verificare aliquota e imponibile.", ratio*100),
				RuleID:      IDTaxSanity,
			})
		}
	}
	return findings
}

// UnitCostJump compares variable cost per unit between the two bills.
func UnitCostJump(latest entity.BillFields, older *entity.BillFields) []entity.Finding {
	if older == nil {
		return nil
	}
	uNew, ok := unitCost(latest)
	if !ok {
		return nil
	}
	uOld, ok := unitCost(*older)
	if !ok || uOld <= 0 {
		return nil
	}
	jump := (uNew - uOld) / uOld
	if jump <= UnitCostJumpPct {
		return nil
	}
	return []entity.Finding{{
		Severity: entity.SeverityMed,
		Title:    "Costo unitario variabile in aumento",
		Description: fmt.Sprintf("Il costo variabile per unità è aumentato di ~%.0f%% (da %.3f a %.3f). Controlla tariffa, fascia, offerte, indicizzazione.",
			jump*100, uOld, uNew),
		RuleID: IDUnitCostJump,
	}}
}

// UsageSpike compares average daily consumption between the two bills.
func UsageSpike(latest entity.BillFields, older *entity.BillFields) []entity.Finding {
	if older == nil {
		return nil
	}
	uNew, ok := usagePerDay(latest)
	if !ok {
		return nil
	}
	uOld, ok := usagePerDay(*older)
	if !ok || uOld <= 0 {
		return nil
	}
	spike := (uNew - uOld) / uOld
	if spike <= UsageSpikePct {
		return nil
	}
	return []entity.Finding{{
		Severity: entity.SeverityMed,
		Title:    "Consumi in aumento rispetto alla bolletta precedente",
		Description: fmt.Sprintf("Consumo medio giornaliero aumentato di ~%.0f%% (da %.2f a %.2f per giorno). Valuta variazioni di uso, letture stimate/reali, dispersioni.",
			spike*100, uOld, uNew),
		RuleID: IDUsageSpike,
	}}
}

func unitCost(b entity.BillFields) (float64, bool) {
	qty, ok := b.Quantity()
	if b.VariableCost == nil || !ok || qty <= 0 {
		return 0, false
	}
	return *b.VariableCost / qty, true
}

func usagePerDay(b entity.BillFields) (float64, bool) {
	qty, ok := b.Quantity()
	if !ok || b.PeriodDays == nil || *b.PeriodDays <= 0 {
		return 0, false
	}
	return qty / float64(*b.PeriodDays), true
}
