package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TaxMode string

const (
	TaxModePercentage  TaxMode = "percentage"
	TaxModeFixed       TaxMode = "fixed"
	TaxModeProgressive TaxMode = "progressive"
)

type TaxNature string

const (
	TaxNatureCollected    TaxNature = "collected"
	TaxNatureDeductible   TaxNature = "deductible"
	TaxNaturePayable      TaxNature = "payable"
	TaxNatureWithheld     TaxNature = "withheld"
	TaxNatureContribution TaxNature = "contribution"
)

// Bracket is one slice of a progressive scale. An invalid To marks an open top bracket.
type Bracket struct {
	Order int                 `json:"order"`
	From  decimal.Decimal     `json:"from"`
	To    decimal.NullDecimal `json:"to"`
	Rate  decimal.Decimal     `json:"rate"`
}

type TaxAccounts struct {
	Collection string `json:"collection,omitempty"`
	Deduction  string `json:"deduction,omitempty"`
	Charge     string `json:"charge,omitempty"`
	Liability  string `json:"liability,omitempty"`
}

type TaxConfiguration struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Label       string          `json:"label"`
	Type        string          `json:"type"`
	Nature      TaxNature       `json:"nature"`
	Mode        TaxMode         `json:"mode"`
	Rate        decimal.Decimal `json:"rate"`
	FixedAmount decimal.Decimal `json:"fixed_amount"`
	Brackets    []Bracket       `json:"brackets,omitempty"`
	Accounts    TaxAccounts     `json:"accounts"`
	Threshold   decimal.Decimal `json:"threshold"`
	ValidFrom   *time.Time      `json:"valid_from,omitempty"`
	ValidTo     *time.Time      `json:"valid_to,omitempty"`
	Journals    []string        `json:"journals,omitempty"`
	Active      bool            `json:"active"`
	Automatic   bool            `json:"automatic"`
}

type Posting struct {
	Account string          `json:"account"`
	Side    Side            `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
	Label   string          `json:"label"`
}

type CalculationStep struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Formula     string          `json:"formula"`
	Amount      decimal.Decimal `json:"amount"`
}

type TaxResult struct {
	Code        string            `json:"code"`
	Base        decimal.Decimal   `json:"base"`
	Tax         decimal.Decimal   `json:"tax"`
	RateApplied decimal.Decimal   `json:"rate_applied"`
	Postings    []Posting         `json:"postings"`
	Steps       []CalculationStep `json:"steps"`
	EdgeCase    bool              `json:"edge_case"`
	EdgeReason  string            `json:"edge_reason,omitempty"`
}

// OperationTaxes aggregates every tax applied to one operation.
type OperationTaxes struct {
	AmountExclTax decimal.Decimal `json:"amount_excl_tax"`
	AmountInclTax decimal.Decimal `json:"amount_incl_tax"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	Results       []TaxResult     `json:"results"`
}

// Postings flattens the postings of every result in order.
func (o OperationTaxes) Postings() []Posting {
	var out []Posting
	for _, r := range o.Results {
		out = append(out, r.Postings...)
	}
	return out
}

func (o OperationTaxes) HasEdgeCase() bool {
	for _, r := range o.Results {
		if r.EdgeCase {
			return true
		}
	}
	return false
}
