package llm

import (
	"strings"

	"github.com/joseph-ayodele/bill-trends/constants"
)

// BuildSystemPrompt composes the system message: output contract, Italian number and date
// conventions, and which totals belong in which field.
func BuildSystemPrompt(req ExtractRequest) string {
	kind := "the bill"
	switch req.Kind {
	case constants.DocKindRecent:
		kind = "the most recent bill"
	case constants.DocKindOld:
		kind = "an older bill used for comparison"
	}
	parts := []string{
		"You are an Italian utility bill parser (electricity and gas). The document is " + kind + ".",
		"Return ONLY JSON that matches the provided JSON Schema.",
		"Dates must be ISO-8601 (YYYY-MM-DD). Italian bills write dates day-first (dd/mm/yyyy).",
		"Italian amounts use '.' for thousands and ',' for decimals: '1.234,56' is 1234.56. Output numbers, not strings.",
		"'total_due' is the amount to pay (Totale da pagare / Totale bolletta).",
		"'kwh' is electricity consumption in the billing period; 'smc' is gas consumption in standard cubic meters. Ignore rates such as 'kWh/mese'.",
		"'period_start' and 'period_end' are the billing period ('dal ... al ...').",
		"'fixed_fees' is quota fissa, 'variable_eur' is quota energia/consumi, 'vat_eur' is IVA, 'excise_eur' is accise.",
		"'pod' is IT followed by 14 letters or digits; 'pdr' is 14 digits.",
		"'confidence' maps each field you returned to a score between 0 and 1.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the decoded text. When an image is attached we DO NOT include text:
// the vision attempt only runs after text decoding failed.
func BuildUserPrompt(req ExtractRequest, imageAttached bool) string {
	var b strings.Builder
	if imageAttached {
		b.WriteString("An image of the bill is attached. Read the fields from the image.\n")
		return b.String()
	}
	text := strings.TrimSpace(req.Text)
	b.WriteString("Bill text:\n")
	if r := []rune(text); len(r) > constants.MaxLLMTextChars {
		b.WriteString(string(r[:constants.MaxLLMTextChars]))
		b.WriteString("\n...(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}
