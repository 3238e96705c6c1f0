package entity

import (
	"encoding/json"

	"github.com/joseph-ayodele/bill-trends/constants"
)

// Field names an extracted attribute that carries its own confidence score.
type Field string

const (
	FieldPeriodStart   Field = "period_start"
	FieldPeriodEnd     Field = "period_end"
	FieldIssueDate     Field = "issue_date"
	FieldTotalDue      Field = "total_due"
	FieldKWh           Field = "kwh"
	FieldSmc           Field = "smc"
	FieldEnergyCost    Field = "energy_cost"
	FieldTransportCost Field = "transport_cost"
	FieldTaxes         Field = "taxes"
	FieldSupplier      Field = "supplier"
	FieldTariffName    Field = "tariff_name"
	FieldZoneHint      Field = "cap_or_zone_hint"
)

// ConfidenceFields is the closed set of keys a FieldConfidence may hold.
var ConfidenceFields = []Field{
	FieldPeriodStart, FieldPeriodEnd, FieldIssueDate,
	FieldTotalDue, FieldKWh, FieldSmc,
	FieldEnergyCost, FieldTransportCost, FieldTaxes,
	FieldSupplier, FieldTariffName, FieldZoneHint,
}

// IsConfidenceField reports whether f belongs to ConfidenceFields.
func IsConfidenceField(f Field) bool {
	for _, c := range ConfidenceFields {
		if c == f {
			return true
		}
	}
	return false
}

// FieldConfidence maps each known field to a score in [0,1]. Missing keys read as 0.
type FieldConfidence map[Field]float64

// Get returns the score for f, 0 when absent.
func (c FieldConfidence) Get(f Field) float64 {
	return c[f]
}

// BillFields is the canonical extracted record of one bill. Every attribute is optional.
// Line-item amounts (fixed fees, variable cost, VAT, excise) come from the text parser and
// feed the rule engine; the summary amounts come from either extractor.
type BillFields struct {
	PeriodStart *Date `json:"period_start,omitempty"`
	PeriodEnd   *Date `json:"period_end,omitempty"`
	IssueDate   *Date `json:"issue_date,omitempty"`
	PeriodDays  *int  `json:"period_days,omitempty"`

	TotalDue      *float64 `json:"total_due,omitempty"`
	KWh           *float64 `json:"kwh,omitempty"`
	Smc           *float64 `json:"smc,omitempty"`
	EnergyCost    *float64 `json:"energy_cost,omitempty"`
	TransportCost *float64 `json:"transport_cost,omitempty"`
	Taxes         *float64 `json:"taxes,omitempty"`

	FixedFees    *float64 `json:"fixed_fees,omitempty"`
	VariableCost *float64 `json:"variable_eur,omitempty"`
	VAT          *float64 `json:"vat_eur,omitempty"`
	Excise       *float64 `json:"excise_eur,omitempty"`

	Supplier   *string `json:"supplier,omitempty"`
	TariffName *string `json:"tariff_name,omitempty"`
	POD        *string `json:"pod,omitempty"`
	PDR        *string `json:"pdr,omitempty"`
	ZoneHint   *string `json:"cap_or_zone_hint,omitempty"`
}

// IsEmpty reports whether nothing at all was extracted.
func (b BillFields) IsEmpty() bool {
	return b == BillFields{}
}

// Quantity returns kWh when non-zero, otherwise Smc. ok is false when neither is usable.
func (b BillFields) Quantity() (float64, bool) {
	if b.KWh != nil && *b.KWh != 0 {
		return *b.KWh, true
	}
	if b.Smc != nil {
		return *b.Smc, true
	}
	return 0, false
}

// HasPeriod reports whether both ends of the billing period are known.
func (b BillFields) HasPeriod() bool {
	return b.PeriodStart != nil && b.PeriodEnd != nil
}

// ExtractedBill is the output of the extraction chain for one document.
// It is replaced wholesale on re-analysis, never patched.
type ExtractedBill struct {
	Kind       constants.DocKind `json:"kind"`
	Fields     BillFields        `json:"fields"`
	Confidence FieldConfidence   `json:"confidence"`
	Warnings   []string          `json:"warnings,omitempty"`
	Method     string            `json:"method"` // text-layer | ocr | vision
	Source     string            `json:"source"` // regex | llm
	OCRUsed    bool              `json:"ocr_used"`
	TextLen    int               `json:"text_len"`
	Raw        json.RawMessage   `json:"raw,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }

// DatePtr returns a pointer to d.
func DatePtr(d Date) *Date { return &d }
