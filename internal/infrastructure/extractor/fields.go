package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/textnorm"
)

var (
	exclTaxLabel = regexp.MustCompile(`(?:^|[^a-z])(?:ht|h\.t\.?|hors taxes?|sub-?total|sub total|total excl[a-z.]*|amount excl[a-z.]*|net amount)(?:[^a-z]|$)`)
	inclTaxLabel = regexp.MustCompile(`(?:^|[^a-z])(?:ttc|t\.t\.c\.?|toutes taxes comprises|net a payer|total due|amount due|grand total|total incl[a-z.]*)(?:[^a-z]|$)`)
	taxLabel     = regexp.MustCompile(`(?:^|[^a-z])(?:tva|vat|sales tax|taxes?)(?:[^a-z]|$)`)
	totalLabel   = regexp.MustCompile(`^total(?:[^a-z]|$)`)

	amountPattern = regexp.MustCompile(`-?\d{1,3}(?:[ \x{00A0}\x{202F}.,]\d{3})+(?:[.,]\d{1,2})?|-?\d+(?:[.,]\d{1,2})?`)
	ratePattern   = regexp.MustCompile(`(\d{1,2}(?:[.,]\d{1,2})?)\s*%`)

	docNumberPattern = regexp.MustCompile(`(?i)(?:\bn\s?[°º]|\bno\.|\bnum[eé]ro\b|\bnumber\b|#)\s*[:.]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`)
	dmyPattern       = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`)
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	taxIDPattern     = regexp.MustCompile(`(?i)\b(?:ifu|ninea|ncc|rccm|tin|vat id|n° contribuable)\s*[:n°]*\s*([A-Z0-9][A-Z0-9\-/]{3,})`)
	companyMarker    = regexp.MustCompile(`\b(?:sarl|sas|suarl|sasu|ltd|inc|llc|gmbh|ets|etablissements|societe|company|corp)\b`)
)

var currencyMarkers = []struct {
	pattern *regexp.Regexp
	code    string
}{
	{regexp.MustCompile(`\bf\s?cfa\b`), "XOF"},
	{regexp.MustCompile(`\bxof\b`), "XOF"},
	{regexp.MustCompile(`\bxaf\b`), "XAF"},
	{regexp.MustCompile(`\beur\b|€`), "EUR"},
	{regexp.MustCompile(`\busd\b|\$`), "USD"},
}

// ParseFields reads the typed accounting fields out of free text.
func ParseFields(text string) domain.ExtractedFields {
	var fields domain.ExtractedFields
	lines := strings.Split(text, "\n")

	var bareTotal decimal.NullDecimal
	for _, raw := range lines {
		line := textnorm.Fold(raw)
		if line == "" {
			continue
		}
		switch {
		case exclTaxLabel.MatchString(line):
			setOnce(&fields.AmountExclTax, lastAmount(raw))
		case inclTaxLabel.MatchString(line):
			setOnce(&fields.AmountInclTax, lastAmount(raw))
		case taxLabel.MatchString(line):
			setOnce(&fields.TaxAmount, lastAmount(raw))
			if !fields.TaxRate.Valid {
				if m := ratePattern.FindStringSubmatch(raw); m != nil {
					if rate, ok := ParseAmount(m[1]); ok {
						fields.TaxRate = decimal.NewNullDecimal(rate)
					}
				}
			}
		case totalLabel.MatchString(line):
			setOnce(&bareTotal, lastAmount(raw))
		}
	}
	if !fields.AmountInclTax.Valid && bareTotal.Valid {
		fields.AmountInclTax = bareTotal
	}

	for _, m := range docNumberPattern.FindAllStringSubmatch(text, -1) {
		if strings.ContainsAny(m[1], "0123456789") {
			fields.DocumentNumber = m[1]
			break
		}
	}
	fields.DocumentDate = findDate(text)
	fields.Currency = detectCurrency(text)
	fields.Counterparty = findCounterparty(lines, text)
	return fields
}

func setOnce(dst *decimal.NullDecimal, v decimal.NullDecimal) {
	if !dst.Valid && v.Valid {
		*dst = v
	}
}

// lastAmount returns the right-most amount on a line, skipping percentages.
func lastAmount(line string) decimal.NullDecimal {
	matches := amountPattern.FindAllStringIndex(line, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		start, end := matches[i][0], matches[i][1]
		if strings.HasPrefix(strings.TrimLeft(line[end:], " "), "%") {
			continue
		}
		if v, ok := ParseAmount(line[start:end]); ok {
			return decimal.NewNullDecimal(v)
		}
	}
	return decimal.NullDecimal{}
}

// ParseAmount parses amounts written with either comma or dot decimals and
// space, dot or comma thousands separators ("50 000", "1.234,56", "1,234.56").
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, false
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ",")
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, ".")
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

// normalizeSingleSeparator decides whether sep groups thousands or marks decimals.
// Repeated separators or exactly three trailing digits mean thousands.
func normalizeSingleSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	tail := parts[len(parts)-1]
	if len(parts) > 2 || len(tail) == 3 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts[:len(parts)-1], "") + "." + tail
}

func findDate(text string) *time.Time {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2006-01-02", m[0]); err == nil {
			return &t
		}
	}
	for _, m := range dmyPattern.FindAllStringSubmatch(text, -1) {
		layout := "2/1/2006"
		value := m[1] + "/" + m[2] + "/" + m[3]
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func detectCurrency(text string) string {
	lower := strings.ToLower(text)
	for _, c := range currencyMarkers {
		if c.pattern.MatchString(lower) {
			return c.code
		}
	}
	return ""
}

// findCounterparty takes the first company-like line among the first ten.
func findCounterparty(lines []string, text string) *domain.Party {
	for i, raw := range lines {
		if i >= 10 {
			break
		}
		line := strings.TrimSpace(raw)
		if line == "" || !companyMarker.MatchString(textnorm.Fold(line)) {
			continue
		}
		party := &domain.Party{Name: line}
		if i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if next != "" && !amountLine(next) && !companyMarker.MatchString(textnorm.Fold(next)) {
				party.Address = next
			}
		}
		if m := taxIDPattern.FindStringSubmatch(text); m != nil {
			party.TaxID = m[1]
		}
		return party
	}
	return nil
}

func amountLine(line string) bool {
	folded := textnorm.Fold(line)
	return exclTaxLabel.MatchString(folded) || inclTaxLabel.MatchString(folded) || taxLabel.MatchString(folded)
}

// canonicalAmounts rewrites every amount in the form its decimal string
// decodes to, so a result read back from a serialized cache equals the original.
func canonicalAmounts(f *domain.ExtractedFields) {
	f.AmountExclTax = canonicalNull(f.AmountExclTax)
	f.TaxAmount = canonicalNull(f.TaxAmount)
	f.AmountInclTax = canonicalNull(f.AmountInclTax)
	f.TaxRate = canonicalNull(f.TaxRate)
	for i := range f.StatementLines {
		f.StatementLines[i].Debit = canonical(f.StatementLines[i].Debit)
		f.StatementLines[i].Credit = canonical(f.StatementLines[i].Credit)
	}
}

func canonical(d decimal.Decimal) decimal.Decimal {
	v, err := decimal.NewFromString(d.String())
	if err != nil {
		return d
	}
	return v
}

func canonicalNull(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(canonical(d.Decimal))
}
