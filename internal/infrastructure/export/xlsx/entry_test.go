package xlsx

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

func TestWriteEntry(t *testing.T) {
	run := &domain.PipelineRun{
		ID:       "run-1",
		Document: domain.Document{Filename: "facture.pdf"},
		Entry: &domain.GeneratedEntry{
			ID:      "entry-1",
			Label:   "Facture FA-2025-0042 SARL Sahel",
			Journal: "ACH",
			Lines: []domain.EntryLine{
				{Order: 1, Account: "601", Label: "Achats", Debit: decimal.NewFromInt(50000), Origin: domain.OriginSemanticAnalysis},
				{Order: 2, Account: "4451", Label: "TVA", Debit: decimal.NewFromInt(9000), Origin: domain.OriginTaxEngine},
				{Order: 3, Account: "401", Label: "Fournisseur", Credit: decimal.NewFromInt(59000), Origin: domain.OriginExtraction},
			},
			Confidence: 88.5,
		},
	}

	var buf bytes.Buffer
	if err := WriteEntry(&buf, run); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if rows[2][1] != "ACH" {
		t.Fatalf("journal row = %v", rows[2])
	}
	if rows[linesHeader-1][1] != "Account" {
		t.Fatalf("lines header = %v", rows[linesHeader-1])
	}
	if got := rows[linesHeader+1][1]; got != "4451" {
		t.Fatalf("second line account = %q", got)
	}
	total := rows[linesHeader+3]
	if total[2] != "Total" || total[3] != "59000" || total[4] != "59000" {
		t.Fatalf("totals row = %v", total)
	}
}

func TestWriteEntryWithoutEntry(t *testing.T) {
	err := WriteEntry(&bytes.Buffer{}, &domain.PipelineRun{ID: "run-1"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
