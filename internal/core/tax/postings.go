package tax

import (
	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

// postingsFor expands a tax amount into ledger postings according to the tax nature.
// Accounts are assumed present; Validate runs first.
func postingsFor(cfg domain.TaxConfiguration, amount decimal.Decimal) []domain.Posting {
	if amount.IsZero() {
		return nil
	}
	label := cfg.Label
	if label == "" {
		label = cfg.Code
	}
	acc := cfg.Accounts

	switch cfg.Nature {
	case domain.TaxNatureCollected:
		return []domain.Posting{{Account: acc.Collection, Side: domain.SideCredit, Amount: amount, Label: label}}
	case domain.TaxNatureDeductible:
		return []domain.Posting{{Account: acc.Deduction, Side: domain.SideDebit, Amount: amount, Label: label}}
	case domain.TaxNaturePayable, domain.TaxNatureContribution:
		return []domain.Posting{
			{Account: acc.Charge, Side: domain.SideDebit, Amount: amount, Label: label + " - charge"},
			{Account: acc.Liability, Side: domain.SideCredit, Amount: amount, Label: label + " - liability"},
		}
	case domain.TaxNatureWithheld:
		return []domain.Posting{{Account: acc.Liability, Side: domain.SideCredit, Amount: amount, Label: label + " - withheld"}}
	default:
		return nil
	}
}
