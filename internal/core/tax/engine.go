// Package tax computes taxes and their ledger postings from a tax configuration.
// Every function here is pure and deterministic.
package tax

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

const (
	EdgeBelowThreshold    = "below_threshold"
	EdgeThresholdBoundary = "threshold_boundary"
	EdgeBracketBoundary   = "bracket_boundary"
	EdgeAboveLastBracket  = "above_last_bracket"

	rateScale = 2
)

var hundred = decimal.NewFromInt(100)

// Calculate applies cfg to base. Amounts are rounded once, at the end, to precision places.
func Calculate(base decimal.Decimal, cfg domain.TaxConfiguration, precision int32) (domain.TaxResult, error) {
	if err := Validate(cfg); err != nil {
		return domain.TaxResult{}, err
	}
	if base.IsNegative() {
		return domain.TaxResult{}, domain.WrapError(domain.ErrInvalidInput, "calculate tax "+cfg.Code, fmt.Errorf("negative base %s", base))
	}
	if precision < 0 {
		precision = 0
	}

	result := domain.TaxResult{
		Code:        cfg.Code,
		Base:        base,
		Tax:         decimal.Zero,
		RateApplied: decimal.Zero,
	}

	if cfg.Threshold.IsPositive() {
		if base.LessThan(cfg.Threshold) {
			result.EdgeCase = true
			result.EdgeReason = EdgeBelowThreshold
			result.Steps = append(result.Steps, domain.CalculationStep{
				Name:        "threshold check",
				Description: fmt.Sprintf("base %s below threshold %s", base, cfg.Threshold),
				Formula:     fmt.Sprintf("%s < %s", base, cfg.Threshold),
				Amount:      decimal.Zero,
			})
			return result, nil
		}
		if base.Equal(cfg.Threshold) {
			result.EdgeCase = true
			result.EdgeReason = EdgeThresholdBoundary
		}
	}

	var raw, rate decimal.Decimal
	switch cfg.Mode {
	case domain.TaxModePercentage:
		raw = base.Mul(cfg.Rate).Div(hundred)
		rate = cfg.Rate
		result.Steps = append(result.Steps, domain.CalculationStep{
			Name:        "percentage",
			Description: fmt.Sprintf("rate %s%%", cfg.Rate),
			Formula:     fmt.Sprintf("%s x %s%% = %s", base, cfg.Rate, raw),
			Amount:      raw,
		})
	case domain.TaxModeFixed:
		raw = cfg.FixedAmount
		rate = averageRate(raw, base)
		result.Steps = append(result.Steps, domain.CalculationStep{
			Name:        "fixed amount",
			Description: "fixed amount regardless of base",
			Formula:     fmt.Sprintf("fixed = %s", raw),
			Amount:      raw,
		})
	case domain.TaxModeProgressive:
		var steps []domain.CalculationStep
		var reason string
		raw, steps, reason = progressive(base, cfg.Brackets)
		rate = averageRate(raw, base)
		result.Steps = append(result.Steps, steps...)
		if reason != "" {
			result.EdgeCase = true
			result.EdgeReason = reason
		}
	default:
		return domain.TaxResult{}, domain.WrapError(domain.ErrConfiguration, "calculate tax "+cfg.Code, fmt.Errorf("unsupported mode %q", cfg.Mode))
	}

	result.Tax = raw.Round(precision)
	result.RateApplied = rate.Round(rateScale)
	if !result.Tax.Equal(raw) {
		result.Steps = append(result.Steps, domain.CalculationStep{
			Name:        "rounding",
			Description: fmt.Sprintf("rounded to %d decimal places", precision),
			Formula:     fmt.Sprintf("round(%s) = %s", raw, result.Tax),
			Amount:      result.Tax,
		})
	}
	result.Postings = postingsFor(cfg, result.Tax)
	return result, nil
}

// progressive sums the taxed slice of every bracket. The returned reason is set
// when base sits on a bracket bound or beyond the last closed bracket.
func progressive(base decimal.Decimal, brackets []domain.Bracket) (decimal.Decimal, []domain.CalculationStep, string) {
	total := decimal.Zero
	var steps []domain.CalculationStep
	reason := ""

	ordered := sortedBrackets(brackets)
	for _, b := range ordered {
		slice := decimal.Max(decimal.Zero, base.Sub(b.From))
		if b.To.Valid {
			slice = decimal.Min(slice, b.To.Decimal.Sub(b.From))
		}
		if base.IsPositive() && (base.Equal(b.From) || (b.To.Valid && base.Equal(b.To.Decimal))) {
			reason = EdgeBracketBoundary
		}
		if !slice.IsPositive() {
			continue
		}
		amount := slice.Mul(b.Rate).Div(hundred)
		total = total.Add(amount)
		steps = append(steps, domain.CalculationStep{
			Name:        fmt.Sprintf("bracket %d", b.Order),
			Description: fmt.Sprintf("from %s to %s at %s%%", b.From, upperBound(b), b.Rate),
			Formula:     fmt.Sprintf("%s x %s%% = %s", slice, b.Rate, amount),
			Amount:      amount,
		})
	}

	last := ordered[len(ordered)-1]
	if last.To.Valid && base.GreaterThan(last.To.Decimal) {
		reason = EdgeAboveLastBracket
	}
	return total, steps, reason
}

func sortedBrackets(brackets []domain.Bracket) []domain.Bracket {
	out := append([]domain.Bracket(nil), brackets...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func upperBound(b domain.Bracket) string {
	if !b.To.Valid {
		return "open"
	}
	return b.To.Decimal.String()
}

func averageRate(tax, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return tax.Div(base).Mul(hundred)
}

// Applicable reports whether cfg applies automatically to an operation posted
// in journal on date. A zero date skips the effective range check.
func Applicable(cfg domain.TaxConfiguration, journal string, date time.Time) bool {
	if !cfg.Active || !cfg.Automatic {
		return false
	}
	if len(cfg.Journals) > 0 {
		found := false
		for _, j := range cfg.Journals {
			if strings.EqualFold(j, journal) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if date.IsZero() {
		return true
	}
	if cfg.ValidFrom != nil && date.Before(*cfg.ValidFrom) {
		return false
	}
	if cfg.ValidTo != nil && date.After(*cfg.ValidTo) {
		return false
	}
	return true
}

// CalculateOperation applies every applicable configuration to base.
// Collected and deductible taxes are part of the invoiced amount; the others are not.
func CalculateOperation(
	base decimal.Decimal,
	configs []domain.TaxConfiguration,
	journal string,
	date time.Time,
	precision int32,
) (domain.OperationTaxes, error) {
	out := domain.OperationTaxes{
		AmountExclTax: base,
		AmountInclTax: base,
		TotalTax:      decimal.Zero,
	}
	var errs []error
	for _, cfg := range configs {
		if !Applicable(cfg, journal, date) {
			continue
		}
		res, err := Calculate(base, cfg, precision)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out.Results = append(out.Results, res)
		out.TotalTax = out.TotalTax.Add(res.Tax)
		if cfg.Nature == domain.TaxNatureCollected || cfg.Nature == domain.TaxNatureDeductible {
			out.AmountInclTax = out.AmountInclTax.Add(res.Tax)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return domain.OperationTaxes{}, err
	}
	return out, nil
}
