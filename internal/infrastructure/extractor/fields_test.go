package extractor

import (
	"testing"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

const invoiceText = `SARL Sahel Fournitures
Avenue Kwame Nkrumah, Ouagadougou
IFU : 00012345X
FACTURE N° FA-2025-0042
Date : 12/03/2025
Fournitures de bureau
Total HT : 50 000 FCFA
TVA (18 %) : 9 000 FCFA
Net à payer TTC : 59 000 FCFA`

func TestParseFieldsFrenchInvoice(t *testing.T) {
	f := ParseFields(invoiceText)

	if f.DocumentNumber != "FA-2025-0042" {
		t.Fatalf("document number = %q", f.DocumentNumber)
	}
	if f.DocumentDate == nil || f.DocumentDate.Format("2006-01-02") != "2025-03-12" {
		t.Fatalf("document date = %v", f.DocumentDate)
	}
	if !f.AmountExclTax.Valid || f.AmountExclTax.Decimal.String() != "50000" {
		t.Fatalf("HT = %+v", f.AmountExclTax)
	}
	if !f.TaxAmount.Valid || f.TaxAmount.Decimal.String() != "9000" {
		t.Fatalf("TVA = %+v", f.TaxAmount)
	}
	if !f.AmountInclTax.Valid || f.AmountInclTax.Decimal.String() != "59000" {
		t.Fatalf("TTC = %+v", f.AmountInclTax)
	}
	if !f.TaxRate.Valid || f.TaxRate.Decimal.String() != "18" {
		t.Fatalf("rate = %+v", f.TaxRate)
	}
	if f.Currency != "XOF" {
		t.Fatalf("currency = %q", f.Currency)
	}
	if f.Counterparty == nil || f.Counterparty.Name != "SARL Sahel Fournitures" || f.Counterparty.TaxID != "00012345X" {
		t.Fatalf("counterparty = %+v", f.Counterparty)
	}
	if f.Counterparty.Address != "Avenue Kwame Nkrumah, Ouagadougou" {
		t.Fatalf("address = %q", f.Counterparty.Address)
	}
}

func TestParseFieldsEnglishReceipt(t *testing.T) {
	f := ParseFields("Receipt #R-1009\n2025-01-07\nSubtotal 1,234.50 EUR\nVAT 20% 246.90\nTotal 1,481.40")
	if f.DocumentNumber != "R-1009" {
		t.Fatalf("document number = %q", f.DocumentNumber)
	}
	if f.AmountExclTax.Decimal.String() != "1234.5" || f.TaxAmount.Decimal.String() != "246.9" {
		t.Fatalf("amounts = %s / %s", f.AmountExclTax.Decimal, f.TaxAmount.Decimal)
	}
	if !f.AmountInclTax.Valid || f.AmountInclTax.Decimal.String() != "1481.4" {
		t.Fatalf("bare total should fill TTC, got %+v", f.AmountInclTax)
	}
	if f.Currency != "EUR" || f.Counterparty != nil {
		t.Fatalf("currency %q counterparty %+v", f.Currency, f.Counterparty)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"50 000":      "50000",
		"50\u00a0000": "50000",
		"1.234,56":    "1234.56",
		"1,234.56":    "1234.56",
		"12,5":        "12.5",
		"1,234":       "1234",
		"1.000.000":   "1000000",
		"-75.25":      "-75.25",
	}
	for in, want := range cases {
		got, ok := ParseAmount(in)
		if !ok || got.String() != want {
			t.Fatalf("ParseAmount(%q) = %s, %v; want %s", in, got, ok, want)
		}
	}
	if _, ok := ParseAmount("n/a"); ok {
		t.Fatalf("expected failure for non-numeric input")
	}
}

func TestQualityConfidence(t *testing.T) {
	doc := domain.Document{}
	if got := QualityConfidence(doc, domain.FormatText); got != 85 {
		t.Fatalf("undeclared quality: %v", got)
	}
	if got := QualityConfidence(doc, domain.FormatPDFNative); got != 95 {
		t.Fatalf("native pdf: %v", got)
	}
	doc.Quality = &domain.ImageQuality{Overall: 80}
	if got := QualityConfidence(doc, domain.FormatImage); got != 94 {
		t.Fatalf("good scan: %v", got)
	}
	doc.Quality = &domain.ImageQuality{Overall: 100}
	if got := QualityConfidence(doc, domain.FormatPDFNative); got != 100 {
		t.Fatalf("clamped high: %v", got)
	}
	doc.Quality = &domain.ImageQuality{Overall: 0}
	if got := QualityConfidence(doc, domain.FormatImage); got != 70 {
		t.Fatalf("poor scan: %v", got)
	}
	if got := blend(70, 40); got != 60 {
		t.Fatalf("blend should clamp to 60, got %v", got)
	}
}
