package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Format string

const (
	FormatPDFNative   Format = "pdf_native"
	FormatPDFScanned  Format = "pdf_scanned"
	FormatImage       Format = "image"
	FormatText        Format = "text"
	FormatSpreadsheet Format = "spreadsheet"
)

type ZoneKind string

const (
	ZoneTitle  ZoneKind = "title"
	ZoneAmount ZoneKind = "amount"
	ZoneDate   ZoneKind = "date"
	ZoneNumber ZoneKind = "number"
	ZoneText   ZoneKind = "text"
	ZoneTable  ZoneKind = "table"
)

type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Zone struct {
	ID         string   `json:"id"`
	Kind       ZoneKind `json:"kind"`
	Box        Box      `json:"box"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
}

type Party struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

type StatementLine struct {
	Date   *time.Time      `json:"date,omitempty"`
	Label  string          `json:"label"`
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
}

// ExtractedFields holds the typed semantic fields read from a document.
type ExtractedFields struct {
	DocumentNumber string              `json:"document_number,omitempty"`
	DocumentDate   *time.Time          `json:"document_date,omitempty"`
	AmountExclTax  decimal.NullDecimal `json:"amount_excl_tax"`
	TaxAmount      decimal.NullDecimal `json:"tax_amount"`
	AmountInclTax  decimal.NullDecimal `json:"amount_incl_tax"`
	TaxRate        decimal.NullDecimal `json:"tax_rate"`
	Currency       string              `json:"currency,omitempty"`
	Counterparty   *Party              `json:"counterparty,omitempty"`
	StatementLines []StatementLine     `json:"statement_lines,omitempty"`
}

type ExtractionResult struct {
	Text       string          `json:"text"`
	Fields     ExtractedFields `json:"fields"`
	Zones      []Zone          `json:"zones"`
	Confidence float64         `json:"confidence"`
	Language   string          `json:"language"`
	Format     Format          `json:"format"`
	Engine     string          `json:"engine"`
	PageCount  int             `json:"page_count"`
}

// Clone returns a deep copy so cached results are never aliased by callers.
func (r ExtractionResult) Clone() ExtractionResult {
	out := r
	out.Zones = append([]Zone(nil), r.Zones...)
	out.Fields.DocumentDate = cloneTime(r.Fields.DocumentDate)
	if r.Fields.Counterparty != nil {
		party := *r.Fields.Counterparty
		out.Fields.Counterparty = &party
	}
	if r.Fields.StatementLines != nil {
		out.Fields.StatementLines = make([]StatementLine, len(r.Fields.StatementLines))
		for i, line := range r.Fields.StatementLines {
			line.Date = cloneTime(line.Date)
			out.Fields.StatementLines[i] = line
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
