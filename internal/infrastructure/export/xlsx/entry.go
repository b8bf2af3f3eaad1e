// Package xlsx renders generated entries as spreadsheets for accountants.
package xlsx

import (
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

const (
	sheetName   = "Entry"
	linesHeader = 7
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var lineColumns = []any{"#", "Account", "Label", "Debit", "Credit", "Confidence", "Origin", "Justification"}

// WriteEntry writes the run's entry as a single-sheet workbook: a header block
// followed by the lines and their totals.
func WriteEntry(w io.Writer, run *domain.PipelineRun) error {
	if run == nil || run.Entry == nil {
		return domain.WrapError(domain.ErrInvalidInput, "export entry", errors.New("run has no generated entry"))
	}
	entry := run.Entry

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := [][]any{
		{"Entry", entry.ID},
		{"Label", entry.Label},
		{"Journal", entry.Journal},
		{"Document", run.Document.Filename},
		{"Confidence", entry.Confidence},
		{"Auto-validatable", entry.AutoValidatable},
	}
	for i, row := range header {
		if err := setRow(f, i+1, row); err != nil {
			return err
		}
	}

	if err := setRow(f, linesHeader, lineColumns); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetRowStyle(sheetName, linesHeader, linesHeader, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	row := linesHeader + 1
	for _, line := range entry.Lines {
		if err := setRow(f, row, []any{
			line.Order,
			line.Account,
			line.Label,
			amount(line.Debit),
			amount(line.Credit),
			line.Confidence,
			string(line.Origin),
			line.Justification,
		}); err != nil {
			return err
		}
		row++
	}

	debit, credit := entry.Totals()
	if err := setRow(f, row, []any{nil, nil, "Total", amount(debit), amount(credit)}); err != nil {
		return err
	}
	if err := f.SetRowStyle(sheetName, row, row, bold); err != nil {
		return fmt.Errorf("style totals: %w", err)
	}

	if err := f.SetColWidth(sheetName, "C", "C", 40); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheetName, "H", "H", 60); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

// amount is for display only; the posted entry keeps exact decimals.
func amount(v decimal.Decimal) float64 {
	f, _ := v.Float64()
	return f
}
