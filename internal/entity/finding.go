package entity

// Severity of a rule finding.
type Severity string

const (
	SeverityHigh Severity = "high"
	SeverityMed  Severity = "med"
	SeverityLow  Severity = "low"
)

// Rank orders severities high=0, med=1, low=2; unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMed:
		return 1
	case SeverityLow:
		return 2
	}
	return 99
}

// Finding is one diagnostic produced by a rule. It is a value object: the generating rule and
// the two input bills fully determine it.
type Finding struct {
	Severity           Severity `json:"severity"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	EstimatedImpactEUR *float64 `json:"estimated_impact_eur"`
	RuleID             string   `json:"rule_id"`
}
