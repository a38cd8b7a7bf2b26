package models

import "time"

// MonthlyRevenue is the recognised revenue of a calendar month.
type MonthlyRevenue struct {
	// Month is the revenue month in YYYY-MM form.
	Month string `json:"month"`

	// Amount is the recognised revenue, in currency units.
	Amount float64 `json:"amount"`

	// Override replaces Amount when set. OverrideReason is required with it.
	Override       *float64 `json:"override,omitempty"`
	OverrideReason string   `json:"overrideReason,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Effective returns the revenue figure to use: the override when present.
func (r MonthlyRevenue) Effective() float64 {
	if r.Override != nil {
		return *r.Override
	}
	return r.Amount
}

// GradePaymentTable is the payment per grade derived from one revenue figure
// and one grade distribution. Amounts are non-decreasing from F1 to F8.
type GradePaymentTable struct {
	// Month is the revenue month the table was derived for (may be empty for
	// ad-hoc tables computed during installment resolution).
	Month string `json:"month,omitempty"`

	Revenue      float64     `json:"revenue"`
	Distribution GradeCounts `json:"distribution"`

	// Amounts is indexed by Grade.Index().
	Amounts [NumGrades]int64 `json:"amounts"`

	ComputedAt time.Time `json:"computedAt"`
}

// Amount returns the payment for g.
func (t *GradePaymentTable) Amount(g Grade) int64 {
	if !g.Valid() {
		return 0
	}
	return t.Amounts[g.Index()]
}
