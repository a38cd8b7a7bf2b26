// Package report renders payout data as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/tyranno/nanumpay-sub001/internal/calendar"
	"github.com/tyranno/nanumpay-sub001/internal/models"
)

// LedgerSheet is the name of the installment sheet.
const LedgerSheet = "Installments"

var ledgerHeader = []interface{}{
	"plan_id",
	"member_id",
	"member_name",
	"plan_kind",
	"generation",
	"plan_grade",
	"number",
	"scheduled_date",
	"grade_reference_date",
	"resolved_grade",
	"amount",
	"withholding_tax",
	"net_amount",
	"status",
	"skip_reason",
	"degraded",
}

// WriteInstallmentLedger writes one row per installment of plans, followed by
// a totals row over paid installments. Rows priced from live data instead of
// a snapshot are highlighted.
func WriteInstallmentLedger(w io.Writer, month string, plans []models.Plan) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), LedgerSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(LedgerSheet, "A1", &ledgerHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	degradedStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFF2CC"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	var gross, tax, net int64
	row := 2
	for _, p := range plans {
		for _, inst := range p.Installments {
			grade := ""
			if inst.Resolved() {
				grade = inst.ResolvedGrade.String()
			}
			degraded := ""
			if inst.Degraded {
				degraded = "yes"
			}
			excelRow := []interface{}{
				p.ID,
				p.MemberID,
				p.MemberName,
				string(p.Kind),
				p.Generation,
				p.Grade.String(),
				inst.Number,
				calendar.FormatDay(inst.ScheduledDate),
				calendar.FormatDay(inst.GradeReferenceDate),
				grade,
				inst.Amount,
				inst.WithholdingTax,
				inst.NetAmount,
				string(inst.Status),
				inst.SkipReason,
				degraded,
			}

			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(LedgerSheet, cell, &excelRow); err != nil {
				return fmt.Errorf("failed to write row %d: %w", row, err)
			}
			if inst.Degraded {
				end, err := excelize.CoordinatesToCellName(len(ledgerHeader), row)
				if err != nil {
					return err
				}
				if err := f.SetCellStyle(LedgerSheet, cell, end, degradedStyle); err != nil {
					return fmt.Errorf("failed to mark row %d: %w", row, err)
				}
			}

			if inst.Status == models.InstallmentPaid {
				gross += inst.Amount
				tax += inst.WithholdingTax
				net += inst.NetAmount
			}
			row++
		}
	}

	totals := []interface{}{"paid total " + month, "", "", "", "", "", "", "", "", "", gross, tax, net}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(LedgerSheet, cell, &totals); err != nil {
		return fmt.Errorf("failed to write totals: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
