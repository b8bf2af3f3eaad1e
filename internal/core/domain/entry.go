package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DetectionOrigin string

const (
	OriginExtraction       DetectionOrigin = "extraction"
	OriginSemanticAnalysis DetectionOrigin = "semantic_analysis"
	OriginTaxEngine        DetectionOrigin = "tax_engine"
	OriginPredefinedRule   DetectionOrigin = "predefined_rule"
	OriginManual           DetectionOrigin = "manual"
)

type EntryLine struct {
	Order         int             `json:"order"`
	Account       string          `json:"account"`
	Label         string          `json:"label"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Confidence    float64         `json:"confidence"`
	Justification string          `json:"justification"`
	Origin        DetectionOrigin `json:"origin"`
}

type AppliedRule struct {
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

type Adjustment struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GeneratedEntry struct {
	ID                  string          `json:"id"`
	Label               string          `json:"label"`
	Journal             string          `json:"journal"`
	Lines               []EntryLine     `json:"lines"`
	SourceDocumentID    string          `json:"source_document_id"`
	Currency            string          `json:"currency"`
	Confidence          float64         `json:"confidence"`
	AppliedRules        []AppliedRule   `json:"applied_rules"`
	AutoValidatable     bool            `json:"auto_validatable"`
	RequiredAdjustments []Adjustment    `json:"required_adjustments,omitempty"`
	Taxes               *OperationTaxes `json:"taxes,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

func (e GeneratedEntry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// CheckBalance verifies sum(debit) == sum(credit) at the given precision.
func (e GeneratedEntry) CheckBalance(precision int32) error {
	debit, credit := e.Totals()
	if !debit.Round(precision).Equal(credit.Round(precision)) {
		return WrapError(ErrAmountImbalance, "check balance",
			fmt.Errorf("entry %s: debit %s != credit %s", e.ID, debit.StringFixed(precision), credit.StringFixed(precision)))
	}
	return nil
}

func (e GeneratedEntry) Clone() GeneratedEntry {
	out := e
	out.Lines = append([]EntryLine(nil), e.Lines...)
	out.AppliedRules = append([]AppliedRule(nil), e.AppliedRules...)
	out.RequiredAdjustments = append([]Adjustment(nil), e.RequiredAdjustments...)
	return out
}
