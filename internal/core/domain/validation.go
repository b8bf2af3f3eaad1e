package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionModified Decision = "modified"
	DecisionRejected Decision = "rejected"
)

// LineModification amends the entry line with the given Order.
// Order 0 appends a new line.
type LineModification struct {
	Order   int                 `json:"order"`
	Account string              `json:"account,omitempty"`
	Label   string              `json:"label,omitempty"`
	Debit   decimal.NullDecimal `json:"debit"`
	Credit  decimal.NullDecimal `json:"credit"`
	Remove  bool                `json:"remove,omitempty"`
}

// AmountChanged reports whether the modification touches a monetary column.
func (m LineModification) AmountChanged() bool {
	return m.Debit.Valid || m.Credit.Valid || m.Remove
}

type ValidationOutcome struct {
	ValidatorID   string             `json:"validator_id"`
	ValidatedAt   time.Time          `json:"validated_at"`
	Decision      Decision           `json:"decision"`
	Modifications []LineModification `json:"modifications,omitempty"`
	QualityScore  float64            `json:"quality_score"`
	TimeSpent     time.Duration      `json:"time_spent"`
	Difficulties  []string           `json:"difficulties,omitempty"`
	Comment       string             `json:"comment,omitempty"`
	System        bool               `json:"system"`
}

func (o ValidationOutcome) Check() error {
	switch o.Decision {
	case DecisionAccepted, DecisionRejected:
		if len(o.Modifications) > 0 {
			return WrapError(ErrInvalidInput, "check outcome", fmt.Errorf("decision %q carries modifications", o.Decision))
		}
	case DecisionModified:
		if len(o.Modifications) == 0 {
			return WrapError(ErrInvalidInput, "check outcome", errors.New("modified decision without modifications"))
		}
	default:
		return WrapError(ErrInvalidInput, "check outcome", fmt.Errorf("unknown decision %q", o.Decision))
	}
	if !o.System && o.ValidatorID == "" {
		return WrapError(ErrInvalidInput, "check outcome", errors.New("validator id is required"))
	}
	if o.QualityScore < 0 || o.QualityScore > 100 {
		return WrapError(ErrInvalidInput, "check outcome", fmt.Errorf("quality score %.1f out of [0,100]", o.QualityScore))
	}
	return nil
}

// AmountsModified reports whether any modification changed an amount.
func (o ValidationOutcome) AmountsModified() bool {
	for _, m := range o.Modifications {
		if m.AmountChanged() {
			return true
		}
	}
	return false
}

// ApplyModifications returns a copy of entry with the outcome's modifications
// applied. The caller checks balance on the result.
func ApplyModifications(entry GeneratedEntry, mods []LineModification) (GeneratedEntry, error) {
	out := entry.Clone()
	for _, m := range mods {
		if m.Order == 0 {
			if m.Account == "" {
				return GeneratedEntry{}, WrapError(ErrInvalidInput, "apply modifications", errors.New("new line requires an account"))
			}
			out.Lines = append(out.Lines, EntryLine{
				Order:         len(out.Lines) + 1,
				Account:       m.Account,
				Label:         m.Label,
				Debit:         nullOrZero(m.Debit),
				Credit:        nullOrZero(m.Credit),
				Confidence:    100,
				Justification: "added by validator",
				Origin:        OriginManual,
			})
			continue
		}

		idx := -1
		for i := range out.Lines {
			if out.Lines[i].Order == m.Order {
				idx = i
				break
			}
		}
		if idx < 0 {
			return GeneratedEntry{}, WrapError(ErrInvalidInput, "apply modifications", fmt.Errorf("line %d not found", m.Order))
		}
		if m.Remove {
			out.Lines = append(out.Lines[:idx], out.Lines[idx+1:]...)
			continue
		}

		line := &out.Lines[idx]
		if m.Account != "" {
			line.Account = m.Account
		}
		if m.Label != "" {
			line.Label = m.Label
		}
		if m.Debit.Valid {
			line.Debit = m.Debit.Decimal
		}
		if m.Credit.Valid {
			line.Credit = m.Credit.Decimal
		}
		line.Origin = OriginManual
		line.Confidence = 100
	}

	for i := range out.Lines {
		if out.Lines[i].Debit.IsNegative() || out.Lines[i].Credit.IsNegative() {
			return GeneratedEntry{}, WrapError(ErrInvalidInput, "apply modifications", fmt.Errorf("line %d has a negative amount", out.Lines[i].Order))
		}
		out.Lines[i].Order = i + 1
	}
	return out, nil
}

func nullOrZero(v decimal.NullDecimal) decimal.Decimal {
	if v.Valid {
		return v.Decimal
	}
	return decimal.Zero
}
