package calculator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InstallmentSplit divides a grade payment into equal weekly installments and
// applies a flat withholding rate.
type InstallmentSplit struct {
	// Count is the number of installments per plan.
	Count int

	// Unit is the currency unit each installment is truncated to.
	Unit int64

	// WithholdingRate is the flat tax rate withheld from each installment (0.033 = 3.3%).
	WithholdingRate float64
}

// NewInstallmentSplit returns the ten-installment split with 3.3% withholding.
func NewInstallmentSplit() InstallmentSplit {
	return InstallmentSplit{Count: 10, Unit: 100, WithholdingRate: 0.033}
}

// Validate checks the split parameters.
func (s InstallmentSplit) Validate() error {
	if s.Count <= 0 {
		return fmt.Errorf("invalid installment count: %d", s.Count)
	}
	if s.Unit <= 0 {
		return fmt.Errorf("invalid payment unit: %d", s.Unit)
	}
	if s.WithholdingRate < 0 || s.WithholdingRate >= 1 {
		return fmt.Errorf("invalid withholding rate: %v", s.WithholdingRate)
	}
	return nil
}

// Amount returns one installment of gradePayment, truncated to Unit.
func (s InstallmentSplit) Amount(gradePayment int64) int64 {
	if gradePayment <= 0 {
		return 0
	}
	per := gradePayment / int64(s.Count)
	return per / s.Unit * s.Unit
}

// Withhold returns the tax withheld from amount (rounded half away from zero)
// and the net amount paid out.
func (s InstallmentSplit) Withhold(amount int64) (tax, net int64) {
	tax = decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(s.WithholdingRate)).Round(0).IntPart()
	return tax, amount - tax
}
