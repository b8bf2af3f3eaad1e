package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
	"github.com/kirillkom/ledger-autopilot/internal/core/tax"
)

// TaxService answers ad hoc tax calculations against the configured set.
type TaxService struct {
	provider  ports.TaxConfigProvider
	precision int32
}

func NewTaxService(provider ports.TaxConfigProvider, precision int32) *TaxService {
	return &TaxService{provider: provider, precision: precision}
}

func (s *TaxService) CalculateOperation(ctx context.Context, base decimal.Decimal, journal string, date time.Time) (domain.OperationTaxes, error) {
	if journal == "" {
		return domain.OperationTaxes{}, domain.WrapError(domain.ErrInvalidInput, "calculate operation taxes", errors.New("journal is required"))
	}
	configs, err := s.provider.TaxConfigurations(ctx)
	if err != nil {
		return domain.OperationTaxes{}, fmt.Errorf("load tax configurations: %w", err)
	}
	ops, err := tax.CalculateOperation(base, configs, journal, date, s.precision)
	if err != nil {
		return domain.OperationTaxes{}, err
	}
	return ops, nil
}
