package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

const maxFreeTextChars = 256

var (
	rePODStrict = regexp.MustCompile(`^IT[0-9A-Z]{14}$`)
	rePDRStrict = regexp.MustCompile(`^\d{14}$`)
)

// Payload is a raw extraction mapping coerced into typed fields.
type Payload struct {
	Fields     entity.BillFields
	Confidence entity.FieldConfidence
	Notes      string
}

// ValidatePayload coerces a raw mapping (decoded JSON or hand-built map) into a Payload.
// Malformed values degrade to absent fields; only a non-mapping input is an error.
func ValidatePayload(raw any) (Payload, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Payload{}, fmt.Errorf("extraction payload must be a JSON object, got %s", describe(raw))
	}

	var f entity.BillFields
	f.PeriodStart = coerceDate(m["period_start"])
	f.PeriodEnd = coerceDate(m["period_end"])
	f.IssueDate = coerceDate(m["issue_date"])

	f.TotalDue = coerceNumber(m["total_due"])
	f.KWh = coerceNumber(m["kwh"])
	f.Smc = coerceNumber(m["smc"])
	f.EnergyCost = coerceNumber(m["energy_cost"])
	f.TransportCost = coerceNumber(m["transport_cost"])
	f.Taxes = coerceNumber(m["taxes"])

	f.FixedFees = coerceNumber(m["fixed_fees"])
	f.VariableCost = coerceNumber(m["variable_eur"])
	f.VAT = coerceNumber(m["vat_eur"])
	f.Excise = coerceNumber(m["excise_eur"])

	f.Supplier = coerceText(m["supplier"], maxFreeTextChars)
	f.TariffName = coerceText(m["tariff_name"], maxFreeTextChars)
	f.ZoneHint = coerceText(m["cap_or_zone_hint"], maxFreeTextChars)
	f.POD = coerceIdentifier(m["pod"], rePODStrict, true)
	f.PDR = coerceIdentifier(m["pdr"], rePDRStrict, false)

	if f.HasPeriod() && !f.PeriodEnd.Before(f.PeriodStart.Time) {
		f.PeriodDays = entity.Int(f.PeriodStart.DaysUntil(*f.PeriodEnd) + 1)
	}

	p := Payload{Fields: f, Confidence: coerceConfidence(m["confidence"])}
	if notes := coerceText(m["notes"], maxFreeTextChars); notes != nil {
		p.Notes = *notes
	}
	return p, nil
}

// ValidateJSON decodes data and runs ValidatePayload on the result.
func ValidateJSON(data []byte) (Payload, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, fmt.Errorf("extraction payload is not valid JSON: %w", err)
	}
	return ValidatePayload(raw)
}

// Map renders p back into the raw mapping shape accepted by ValidatePayload.
func (p Payload) Map() map[string]any {
	m := map[string]any{}
	f := p.Fields
	putDate := func(k string, d *entity.Date) {
		if d != nil {
			m[k] = d.String()
		}
	}
	putNum := func(k string, v *float64) {
		if v != nil {
			m[k] = *v
		}
	}
	putStr := func(k string, s *string) {
		if s != nil {
			m[k] = *s
		}
	}

	putDate("period_start", f.PeriodStart)
	putDate("period_end", f.PeriodEnd)
	putDate("issue_date", f.IssueDate)
	putNum("total_due", f.TotalDue)
	putNum("kwh", f.KWh)
	putNum("smc", f.Smc)
	putNum("energy_cost", f.EnergyCost)
	putNum("transport_cost", f.TransportCost)
	putNum("taxes", f.Taxes)
	putNum("fixed_fees", f.FixedFees)
	putNum("variable_eur", f.VariableCost)
	putNum("vat_eur", f.VAT)
	putNum("excise_eur", f.Excise)
	putStr("supplier", f.Supplier)
	putStr("tariff_name", f.TariffName)
	putStr("cap_or_zone_hint", f.ZoneHint)
	putStr("pod", f.POD)
	putStr("pdr", f.PDR)
	if f.PeriodDays != nil {
		m["period_days"] = *f.PeriodDays
	}
	if p.Notes != "" {
		m["notes"] = p.Notes
	}

	conf := map[string]any{}
	for _, k := range entity.ConfidenceFields {
		conf[string(k)] = p.Confidence.Get(k)
	}
	m["confidence"] = conf
	return m
}

// SecondPass lints an already-typed record. It never mutates or rejects; it only reports.
func SecondPass(f entity.BillFields) []string {
	var warnings []string
	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"total_due", f.TotalDue},
		{"kwh", f.KWh},
		{"smc", f.Smc},
		{"energy_cost", f.EnergyCost},
		{"transport_cost", f.TransportCost},
		{"taxes", f.Taxes},
	}
	for _, n := range nonNegative {
		if n.v != nil && *n.v < 0 {
			warnings = append(warnings, n.name+" cannot be negative")
		}
	}
	if f.HasPeriod() && f.PeriodStart.After(f.PeriodEnd.Time) {
		warnings = append(warnings, "period_start must be <= period_end")
	}
	return warnings
}

func coerceNumber(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", ".")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func coerceDate(v any) *entity.Date {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if len(s) < 10 {
			return nil
		}
		d, err := entity.ParseDate(s[:10])
		if err != nil {
			return nil
		}
		return &d
	case time.Time:
		d := entity.DateOf(t)
		return &d
	case entity.Date:
		return &t
	}
	return nil
}

func coerceText(v any, limit int) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = truncateRunes(s, limit)
	return &s
}

func coerceIdentifier(v any, re *regexp.Regexp, upper bool) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if upper {
		s = strings.ToUpper(s)
	}
	if !re.MatchString(s) {
		return nil
	}
	return &s
}

func coerceConfidence(v any) entity.FieldConfidence {
	conf := make(entity.FieldConfidence, len(entity.ConfidenceFields))
	for _, k := range entity.ConfidenceFields {
		conf[k] = 0
	}
	m, ok := v.(map[string]any)
	if !ok {
		return conf
	}
	for k, raw := range m {
		field := entity.Field(k)
		if !entity.IsConfidenceField(field) {
			continue
		}
		n := coerceNumber(raw)
		if n == nil {
			continue
		}
		conf[field] = math.Min(1, math.Max(0, *n))
	}
	return conf
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, int, int64, json.Number:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}
