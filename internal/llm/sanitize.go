package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/bill-trends/internal/extract"
)

// synonyms maps keys models tend to invent (often in Italian) onto schema keys.
var synonyms = map[string]string{
	"total":          "total_due",
	"totale":         "total_due",
	"totale_fattura": "total_due",
	"importo":        "total_due",
	"consumo_kwh":    "kwh",
	"kWh":            "kwh",
	"consumo_smc":    "smc",
	"Smc":            "smc",
	"fornitore":      "supplier",
	"offerta":        "tariff_name",
	"tariff":         "tariff_name",
	"iva":            "vat_eur",
	"vat":            "vat_eur",
	"accise":         "excise_eur",
	"excise":         "excise_eur",
	"quota_fissa":    "fixed_fees",
	"cap":            "cap_or_zone_hint",
	"data_emissione": "issue_date",
}

// NormalizeAndSanitizeJSON
// - Renames known synonyms (totale -> total_due)
// - Drops null/empty values
// - Coerces Italian money strings ("1.234,56") to numbers
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	for from, to := range synonyms {
		v, ok := m[from]
		if !ok {
			continue
		}
		// don't overwrite existing value if already present
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		dropped = append(dropped, from+"->"+to)
	}

	for _, k := range numberFields {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
		case string:
			if f, ok := moneyString(t); ok {
				m[k] = f
			} else {
				delete(m, k)
				dropped = append(dropped, k+"(text)")
			}
		case nil:
			delete(m, k)
			dropped = append(dropped, k+"(null)")
		default:
			delete(m, k)
			dropped = append(dropped, k+"(type)")
		}
	}

	for _, k := range append(append([]string{}, dateFields...), textFields...) {
		v, ok := m[k]
		if !ok {
			continue
		}
		s, isStr := v.(string)
		s = strings.TrimSpace(s)
		if !isStr || s == "" || strings.EqualFold(s, "null") {
			delete(m, k)
			dropped = append(dropped, k+"(empty)")
			continue
		}
		m[k] = s
	}
	for _, k := range []string{"pod", "pdr"} {
		if v, ok := m[k].(string); ok {
			m[k] = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), " ", ""))
		}
	}

	allowed := map[string]struct{}{"pod": {}, "pdr": {}, "confidence": {}}
	for _, group := range [][]string{dateFields, numberFields, textFields} {
		for _, k := range group {
			allowed[k] = struct{}{}
		}
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func moneyString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return extract.ParseFloatEUR(s)
}
