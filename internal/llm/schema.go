package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

// Keys the bill schema accepts, in prompt order.
var (
	dateFields   = []string{"period_start", "period_end", "issue_date"}
	numberFields = []string{
		"total_due", "kwh", "smc", "energy_cost", "transport_cost", "taxes",
		"fixed_fees", "variable_eur", "vat_eur", "excise_eur",
	}
	textFields = []string{"supplier", "tariff_name", "cap_or_zone_hint", "notes"}
)

// BuildBillJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We send it to the model as the output contract and also use it locally to validate.
// Every field is optional: a bill with nothing readable is still a valid answer.
func BuildBillJSONSchema() map[string]any {
	props := map[string]any{}
	for _, k := range dateFields {
		props[k] = map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`}
	}
	for _, k := range numberFields {
		// negatives are linted later, not rejected here
		props[k] = map[string]any{"type": "number"}
	}
	for _, k := range textFields {
		props[k] = map[string]any{"type": "string", "minLength": 1, "maxLength": 256}
	}
	props["pod"] = map[string]any{"type": "string", "pattern": `^IT[0-9A-Z]{14}$`}
	props["pdr"] = map[string]any{"type": "string", "pattern": `^\d{14}$`}

	confProps := map[string]any{}
	for _, f := range entity.ConfidenceFields {
		confProps[string(f)] = map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
	}
	props["confidence"] = map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           confProps,
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
