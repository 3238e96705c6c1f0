package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

func fixed(sev entity.Severity, id string) Rule {
	return Rule{ID: id, Eval: func(entity.BillFields, *entity.BillFields) []entity.Finding {
		return []entity.Finding{{Severity: sev, RuleID: id}}
	}}
}

func ids(fs []entity.Finding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.RuleID
	}
	return out
}

func TestEngine_SortsBySeverityStable(t *testing.T) {
	e := NewEngine(
		fixed(entity.SeverityMed, "a"),
		fixed(entity.SeverityHigh, "b"),
		fixed(entity.SeverityLow, "c"),
		fixed(entity.SeverityMed, "d"),
		fixed(entity.Severity("odd"), "e"),
		fixed(entity.SeverityHigh, "f"),
	)
	got := e.Run(entity.BillFields{}, nil)
	assert.Equal(t, []string{"b", "f", "a", "d", "c", "e"}, ids(got))
}

func TestEngine_MedHighLow(t *testing.T) {
	e := NewEngine(fixed(entity.SeverityMed, "m"), fixed(entity.SeverityHigh, "h"), fixed(entity.SeverityLow, "l"))
	got := e.Run(entity.BillFields{}, nil)
	require.Len(t, got, 3)
	assert.Equal(t, entity.SeverityHigh, got[0].Severity)
	assert.Equal(t, entity.SeverityMed, got[1].Severity)
	assert.Equal(t, entity.SeverityLow, got[2].Severity)
}

func TestDefault_RegistrationOrder(t *testing.T) {
	var got []string
	for _, r := range NewEngine().Rules() {
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{
		IDMissingFields, IDTotalSanity, IDFixedFeeHigh, IDUnitCostJump, IDUsageSpike, IDTaxSanity,
	}, got)
}

func TestRun_EmptyInputIsValid(t *testing.T) {
	got := Run(entity.BillFields{}, &entity.BillFields{})
	require.Len(t, got, 1)
	assert.Equal(t, IDMissingFields, got[0].RuleID)
	assert.Contains(t, got[0].Description, "totale (€), consumi (kWh/Smc)")
}

func TestRun_MixedBattery(t *testing.T) {
	latest := entity.BillFields{
		TotalDue:     entity.Float(120),
		KWh:          entity.Float(200),
		PeriodDays:   entity.Int(30),
		FixedFees:    entity.Float(10),
		VariableCost: entity.Float(80),
		VAT:          entity.Float(2),
		Excise:       entity.Float(-1),
	}
	older := entity.BillFields{KWh: entity.Float(200), VariableCost: entity.Float(40), PeriodDays: entity.Int(30)}

	got := Run(latest, &older)
	assert.Equal(t, []string{IDTotalSanity, IDUnitCostJump, IDTaxSanity, IDTaxSanity}, ids(got))
}
