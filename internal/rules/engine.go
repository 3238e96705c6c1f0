package rules

import (
	"sort"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

// EvalFunc inspects the latest bill and, when available, the older one.
// It returns no findings when its inputs are missing or a denominator is not positive.
type EvalFunc func(latest entity.BillFields, older *entity.BillFields) []entity.Finding

// Rule is one registered check.
type Rule struct {
	ID   string
	Eval EvalFunc
}

// Engine evaluates an ordered rule list.
type Engine struct {
	rules []Rule
}

// NewEngine returns an engine over rules in the given order. With no rules it uses Default.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = Default()
	}
	return &Engine{rules: rules}
}

// Rules returns a copy of the registered rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Run evaluates every rule and returns findings sorted high, med, low.
// Findings of equal severity keep registration order.
func (e *Engine) Run(latest entity.BillFields, older *entity.BillFields) []entity.Finding {
	findings := make([]entity.Finding, 0, len(e.rules))
	for _, r := range e.rules {
		findings = append(findings, r.Eval(latest, older)...)
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() < findings[j].Severity.Rank()
	})
	return findings
}

// Run evaluates the default rule set.
func Run(latest entity.BillFields, older *entity.BillFields) []entity.Finding {
	return defaultEngine.Run(latest, older)
}

var defaultEngine = NewEngine()
