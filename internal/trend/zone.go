package trend

import (
	"regexp"
	"sort"
	"strings"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

const (
	// TrimMinSamples is the sample count from which tails are trimmed.
	TrimMinSamples = 10
	// UnknownZone groups sessions without a CAP.
	UnknownZone = "unknown"
)

var reCAP = regexp.MustCompile(`^\d{5}$`)

// AggregateZone reduces the unit-cost deltas of a zone to a trimmed median.
// Nil samples are skipped. From TrimMinSamples samples on, the lowest and highest tenth are
// dropped; the median is the element at index len/2 of what remains.
func AggregateZone(samples []*float64) entity.ZoneTrend {
	deltas := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s != nil {
			deltas = append(deltas, *s)
		}
	}
	n := len(deltas)
	if n == 0 {
		return entity.ZoneTrend{}
	}
	sort.Float64s(deltas)
	trimmed := deltas
	if n >= TrimMinSamples {
		trimmed = deltas[n/10 : 9*n/10]
	}
	return entity.ZoneTrend{EurPerKWhDeltaPct: trimmed[len(trimmed)/2], Count: n}
}

// ZoneKey derives the aggregation key from a CAP: its first five characters, or UnknownZone.
func ZoneKey(code string) string {
	code = strings.TrimSpace(code)
	if r := []rune(code); len(r) > 5 {
		code = string(r[:5])
	}
	if code == "" {
		return UnknownZone
	}
	return code
}

// NormalizeCAP strips spaces and reports whether the result is a five-digit postal code.
func NormalizeCAP(raw string) (string, bool) {
	code := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	return code, reCAP.MatchString(code)
}
