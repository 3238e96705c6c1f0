package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

var (
	reISODate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	rePOD     = regexp.MustCompile(`^IT[0-9A-Z]{14}$`)
	rePDR     = regexp.MustCompile(`^\d{14}$`)
)

// SanitizeOptionalFields removes or normalizes fields that don't meet our stricter schema,
// so the overall document can still validate. Every bill field is optional, so dropping
// an offender never loses more than that field.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string

	// dates: keep the ISO prefix of timestamps, drop anything else
	for _, k := range dateFields {
		v, ok := m[k]
		if !ok {
			continue
		}
		s, _ := v.(string)
		if d := reISODate.FindString(strings.TrimSpace(s)); d != "" {
			m[k] = d
		} else {
			delete(m, k)
			dropped = append(dropped, k)
		}
	}

	for k, re := range map[string]*regexp.Regexp{"pod": rePOD, "pdr": rePDR} {
		if v, ok := m[k]; ok {
			if s, _ := v.(string); !re.MatchString(s) {
				delete(m, k)
				dropped = append(dropped, k)
			}
		}
	}

	for _, k := range textFields {
		if s, ok := m[k].(string); ok && len([]rune(s)) > 256 {
			m[k] = string([]rune(s)[:256])
		}
	}

	// confidence: clamp numbers to [0,1], drop unknown or non-numeric entries
	if v, ok := m["confidence"]; ok {
		conf, isMap := v.(map[string]any)
		if !isMap {
			delete(m, "confidence")
			dropped = append(dropped, "confidence")
		} else {
			for ck, cv := range conf {
				f, isNum := cv.(float64)
				if !entity.IsConfidenceField(entity.Field(ck)) || !isNum {
					delete(conf, ck)
					dropped = append(dropped, "confidence."+ck)
					continue
				}
				conf[ck] = min(1.0, max(0.0, f))
			}
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}
