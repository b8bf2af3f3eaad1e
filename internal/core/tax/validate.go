package tax

import (
	"errors"
	"fmt"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

// Validate checks that cfg carries everything its mode and nature need.
func Validate(cfg domain.TaxConfiguration) error {
	if err := validateMode(cfg); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "validate tax "+cfg.Code, err)
	}
	if err := validateAccounts(cfg); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "validate tax "+cfg.Code, err)
	}
	if cfg.Threshold.IsNegative() {
		return domain.WrapError(domain.ErrConfiguration, "validate tax "+cfg.Code, errors.New("negative applicability threshold"))
	}
	if cfg.ValidFrom != nil && cfg.ValidTo != nil && cfg.ValidTo.Before(*cfg.ValidFrom) {
		return domain.WrapError(domain.ErrConfiguration, "validate tax "+cfg.Code, errors.New("effective range ends before it starts"))
	}
	return nil
}

func validateMode(cfg domain.TaxConfiguration) error {
	switch cfg.Mode {
	case domain.TaxModePercentage:
		if cfg.Rate.IsNegative() {
			return fmt.Errorf("negative rate %s", cfg.Rate)
		}
	case domain.TaxModeFixed:
		if cfg.FixedAmount.IsNegative() {
			return fmt.Errorf("negative fixed amount %s", cfg.FixedAmount)
		}
	case domain.TaxModeProgressive:
		if len(cfg.Brackets) == 0 {
			return errors.New("progressive mode without brackets")
		}
		for _, b := range sortedBrackets(cfg.Brackets) {
			if b.From.IsNegative() || b.Rate.IsNegative() {
				return fmt.Errorf("bracket %d has a negative bound or rate", b.Order)
			}
			if b.To.Valid && b.To.Decimal.LessThanOrEqual(b.From) {
				return fmt.Errorf("bracket %d upper bound %s is not above %s", b.Order, b.To.Decimal, b.From)
			}
		}
	default:
		return fmt.Errorf("unsupported calculation mode %q", cfg.Mode)
	}
	return nil
}

func validateAccounts(cfg domain.TaxConfiguration) error {
	acc := cfg.Accounts
	switch cfg.Nature {
	case domain.TaxNatureCollected:
		if acc.Collection == "" {
			return errors.New("collected tax requires a collection account")
		}
	case domain.TaxNatureDeductible:
		if acc.Deduction == "" {
			return errors.New("deductible tax requires a deduction account")
		}
	case domain.TaxNaturePayable, domain.TaxNatureContribution:
		if acc.Charge == "" || acc.Liability == "" {
			return fmt.Errorf("%s tax requires charge and liability accounts", cfg.Nature)
		}
	case domain.TaxNatureWithheld:
		if acc.Liability == "" {
			return errors.New("withheld tax requires a liability account")
		}
	default:
		return fmt.Errorf("unsupported tax nature %q", cfg.Nature)
	}
	return nil
}
