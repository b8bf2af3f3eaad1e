package extractor

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/textnorm"
)

type statementColumns struct {
	date, label, debit, credit, amount int
}

var statementDateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"2006-01-02",
	"02.01.2006",
	"02-01-2006",
	"01-02-06",
	"1/2/06",
}

// statementFromRows reads bank statement lines from a header row followed by data rows.
// Rows before the header are ignored; nil means no header was recognised.
func statementFromRows(rows [][]string) []domain.StatementLine {
	header := -1
	var cols statementColumns
	for i, row := range rows {
		if c, ok := detectColumns(row); ok {
			header, cols = i, c
			break
		}
	}
	if header < 0 {
		return nil
	}

	var out []domain.StatementLine
	for _, row := range rows[header+1:] {
		line := domain.StatementLine{
			Date:   parseCellDate(cell(row, cols.date)),
			Label:  strings.TrimSpace(cell(row, cols.label)),
			Debit:  cellAmount(row, cols.debit),
			Credit: cellAmount(row, cols.credit),
		}
		if amount := cellAmount(row, cols.amount); !amount.IsZero() {
			if amount.IsNegative() {
				line.Debit = amount.Abs()
			} else {
				line.Credit = amount
			}
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			continue
		}
		out = append(out, line)
	}
	return out
}

func detectColumns(row []string) (statementColumns, bool) {
	cols := statementColumns{date: -1, label: -1, debit: -1, credit: -1, amount: -1}
	for i, raw := range row {
		name := textnorm.Fold(raw)
		switch {
		case strings.Contains(name, "date"):
			if cols.date < 0 {
				cols.date = i
			}
		case strings.Contains(name, "debit") || strings.Contains(name, "retrait") || strings.Contains(name, "withdrawal"):
			cols.debit = i
		case strings.Contains(name, "credit") || strings.Contains(name, "depot") || strings.Contains(name, "deposit"):
			cols.credit = i
		case strings.Contains(name, "montant") || strings.Contains(name, "amount"):
			cols.amount = i
		case strings.Contains(name, "libelle") || strings.Contains(name, "label") ||
			strings.Contains(name, "description") || strings.Contains(name, "designation") || strings.Contains(name, "operation"):
			if cols.label < 0 {
				cols.label = i
			}
		}
	}
	ok := cols.date >= 0 && (cols.debit >= 0 || cols.credit >= 0 || cols.amount >= 0)
	return cols, ok
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func cellAmount(row []string, idx int) decimal.Decimal {
	v, ok := ParseAmount(cell(row, idx))
	if !ok {
		return decimal.Zero
	}
	return v
}

func parseCellDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range statementDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}
