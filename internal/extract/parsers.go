package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

const (
	maxSupplierChars = 80
	labelWindow      = 40
)

var (
	reSpaces = regexp.MustCompile(`\s+`)
	reNumber = regexp.MustCompile(`(-?\d{1,3}(?:[.\s]\d{3})*(?:,\d{1,2})|-?\d+(?:[.,]\d{1,2})?)`)

	reQtyBeforeKWh = regexp.MustCompile(`(?i)(\d{1,6}(?:[.,]\d{1,3})?)\s*kwh`)
	reQtyAfterKWh  = regexp.MustCompile(`(?i)\bkwh`)
	reQtyBeforeSmc = regexp.MustCompile(`(?i)(\d{1,6}(?:[.,]\d{1,3})?)\s*(?:smc|mc|m3|m³)`)
	reQtyAfterSmc  = regexp.MustCompile(`(?i)\b(?:smc|mc|m3|m³)`)
	reQtyValue     = regexp.MustCompile(`^\s*[:\-]?\s*(\d{1,6}(?:[.,]\d{1,3})?)`)

	rePOD    = regexp.MustCompile(`(?i)\bPOD\b[^A-Z0-9]*(IT[0-9A-Z]{14})\b`)
	rePDR    = regexp.MustCompile(`(?i)\bPDR\b[^0-9]*(\d{14})\b`)
	rePeriod = regexp.MustCompile(`(?i)\bdal\s+(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})\s+al\s+(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})\b`)
	reDMY    = regexp.MustCompile(`^(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2,4})$`)

	reSupplierLabel = regexp.MustCompile(`(?i)\bfornitore\b\s*[:\-]?\s*([^\n]{3,80})`)
	supplierNoise   = []string{"BOLLETTA", "FATTURA", "PAGAMENTO", "CLIENTE"}
)

// Label sets used by FieldsFromText, in priority order.
var (
	TotalLabels    = []string{"totale", "importo totale", "totale bolletta", "da pagare"}
	FixedLabels    = []string{"quota fissa", "spesa fissa", "fissi"}
	VariableLabels = []string{"quota variabile", "spesa variabile", "spesa per la materia", "materia energia", "materia gas"}
	VATLabels      = []string{"iva"}
	ExciseLabels   = []string{"accisa", "imposta di consumo"}
)

// labelPatterns holds the compiled pattern of every built-in label.
var labelPatterns = compileLabels(TotalLabels, FixedLabels, VariableLabels, VATLabels, ExciseLabels)

// Day-first dates outside this range are OCR noise, not billing dates.
const (
	minBillYear = 1990
	maxBillYear = 2100
)

// ParseDecimalEUR reads a localized amount such as "1.234,56 €", "85,50" or "1234.56".
// When both separators appear the dot groups thousands and the comma is decimal; a lone comma
// is always decimal.
func ParseDecimalEUR(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	for _, sym := range []string{"€", "EUR", "euro"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")

	num := reNumber.FindString(s)
	if num == "" {
		return decimal.Zero, false
	}
	num = strings.Join(strings.Fields(num), "")
	switch {
	case strings.Contains(num, ",") && strings.Contains(num, "."):
		num = strings.ReplaceAll(num, ".", "")
		num = strings.ReplaceAll(num, ",", ".")
	case strings.Contains(num, ","):
		num = strings.ReplaceAll(num, ",", ".")
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseFloatEUR is ParseDecimalEUR converted to float64.
func ParseFloatEUR(s string) (float64, bool) {
	d, ok := ParseDecimalEUR(s)
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// ParseKWh finds an electricity quantity written as "123,45 kWh" or "kWh: 123,45".
// Rates such as "kWh/mese" are not quantities and are skipped.
func ParseKWh(text string) (float64, bool) {
	return parseQuantity(text, reQtyBeforeKWh, reQtyAfterKWh)
}

// ParseSmc finds a gas quantity in Smc, mc or m3, with the same rate exclusion as ParseKWh.
func ParseSmc(text string) (float64, bool) {
	return parseQuantity(text, reQtyBeforeSmc, reQtyAfterSmc)
}

func parseQuantity(text string, before, after *regexp.Regexp) (float64, bool) {
	for _, m := range before.FindAllStringSubmatchIndex(text, -1) {
		if !unitEndsCleanly(text, m[1]) {
			continue
		}
		return quantityValue(text[m[2]:m[3]])
	}
	for _, m := range after.FindAllStringIndex(text, -1) {
		if !unitEndsCleanly(text, m[1]) {
			continue
		}
		if v := reQtyValue.FindStringSubmatch(text[m[1]:]); v != nil {
			return quantityValue(v[1])
		}
	}
	return 0, false
}

// unitEndsCleanly checks that the unit ending at idx is a whole word not followed by "/".
func unitEndsCleanly(text string, idx int) bool {
	if idx < len(text) {
		r, _ := utf8.DecodeRuneInString(text[idx:])
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	rest := strings.TrimLeftFunc(text[idx:], unicode.IsSpace)
	return !strings.HasPrefix(rest, "/")
}

// quantityValue treats a zero reading as missing.
func quantityValue(s string) (float64, bool) {
	d, ok := ParseDecimalEUR(s)
	if !ok || d.IsZero() {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// ParsePOD returns the electricity delivery point (IT + 14 alphanumerics) after a POD label.
func ParsePOD(text string) (string, bool) {
	m := rePOD.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// ParsePDR returns the 14-digit gas redelivery point after a PDR label.
func ParsePDR(text string) (string, bool) {
	m := rePDR.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Period is the billing window found in free text.
type Period struct {
	Start entity.Date
	End   entity.Date
	Days  *int // inclusive; nil when End precedes Start
}

// ParsePeriod matches "dal 01/01/2025 al 31/01/2025" with day-first dates.
func ParsePeriod(text string) (Period, bool) {
	m := rePeriod.FindStringSubmatch(text)
	if m == nil {
		return Period{}, false
	}
	start, ok := parseDayFirst(m[1])
	if !ok {
		return Period{}, false
	}
	end, ok := parseDayFirst(m[2])
	if !ok {
		return Period{}, false
	}
	p := Period{Start: start, End: end}
	if !end.Before(start.Time) {
		p.Days = entity.Int(start.DaysUntil(end) + 1)
	}
	return p, true
}

func parseDayFirst(s string) (entity.Date, bool) {
	m := reDMY.FindStringSubmatch(s)
	if m == nil {
		return entity.Date{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) <= 2 {
		year += 2000
	}
	if year < minBillYear || year > maxBillYear {
		return entity.Date{}, false
	}
	d := entity.NewDate(year, time.Month(month), day)
	if d.Day() != day || int(d.Month()) != month {
		return entity.Date{}, false
	}
	return d, true
}

// ParseSupplier prefers an explicit "Fornitore:" label, then the first plausible line among the
// first ten non-blank ones, skipping headings such as BOLLETTA or FATTURA.
func ParseSupplier(text string) (string, bool) {
	if m := reSupplierLabel.FindStringSubmatch(text); m != nil {
		return truncateRunes(normSpace(m[1]), maxSupplierChars), true
	}
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	for i, l := range lines {
		if i == 10 {
			break
		}
		if containsAny(strings.ToUpper(l), supplierNoise) {
			continue
		}
		if utf8.RuneCountInString(l) >= 3 {
			return truncateRunes(normSpace(l), maxSupplierChars), true
		}
	}
	return truncateRunes(normSpace(lines[0]), maxSupplierChars), true
}

// AmountByLabel returns the first amount within 40 characters after any of labels,
// trying labels in order.
func AmountByLabel(text string, labels []string) (float64, bool) {
	for _, lab := range labels {
		re := labelRegexp(lab)
		if m := re.FindStringSubmatch(text); m != nil {
			return ParseFloatEUR(m[1])
		}
	}
	return 0, false
}

func labelRegexp(label string) *regexp.Regexp {
	if re, ok := labelPatterns[strings.ToLower(label)]; ok {
		return re
	}
	return compileLabel(label)
}

func compileLabels(sets ...[]string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, set := range sets {
		for _, lab := range set {
			out[strings.ToLower(lab)] = compileLabel(lab)
		}
	}
	return out
}

func compileLabel(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) +
		`[^\n\r]{0,` + strconv.Itoa(labelWindow) + `}?` + reNumber.String() + `\s*€?`)
}

// FieldsFromText runs every text heuristic and never fails; unmatched patterns leave the field nil.
func FieldsFromText(text string) entity.BillFields {
	var f entity.BillFields

	if s, ok := ParseSupplier(text); ok {
		f.Supplier = &s
	}
	if p, ok := ParsePeriod(text); ok {
		f.PeriodStart = entity.DatePtr(p.Start)
		f.PeriodEnd = entity.DatePtr(p.End)
		f.PeriodDays = p.Days
	}
	if pod, ok := ParsePOD(text); ok {
		f.POD = &pod
	}
	if pdr, ok := ParsePDR(text); ok {
		f.PDR = &pdr
	}
	if v, ok := ParseKWh(text); ok {
		f.KWh = entity.Float(v)
	}
	if v, ok := ParseSmc(text); ok {
		f.Smc = entity.Float(v)
	}

	amounts := []struct {
		labels []string
		dst    **float64
	}{
		{TotalLabels, &f.TotalDue},
		{FixedLabels, &f.FixedFees},
		{VariableLabels, &f.VariableCost},
		{VATLabels, &f.VAT},
		{ExciseLabels, &f.Excise},
	}
	for _, a := range amounts {
		if v, ok := AmountByLabel(text, a.labels); ok {
			*a.dst = entity.Float(v)
		}
	}
	return f
}

func normSpace(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
