package models

import "time"

// PlanKind records what created a plan.
type PlanKind string

const (
	PlanInitial    PlanKind = "initial"
	PlanPromotion  PlanKind = "promotion"
	PlanAdditional PlanKind = "additional"
)

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanActive     PlanStatus = "active"
	PlanCompleted  PlanStatus = "completed"
	PlanTerminated PlanStatus = "terminated"
)

// InstallmentStatus is the state of one weekly installment.
//
//	pending -> paid        (disbursement; final)
//	pending -> skipped     (insurance below the grade minimum)
//	skipped -> pending     (insurance restored within the grace window)
//	pending -> terminated  (promotion)
//	skipped -> terminated  (promotion)
type InstallmentStatus string

const (
	InstallmentPending    InstallmentStatus = "pending"
	InstallmentPaid       InstallmentStatus = "paid"
	InstallmentSkipped    InstallmentStatus = "skipped"
	InstallmentTerminated InstallmentStatus = "terminated"
)

const (
	// SkipReasonInsurance marks an installment gated by insufficient insurance.
	SkipReasonInsurance = "insurance_below_minimum"

	// TerminationPromotion is the termination reason for plans ended by promotion.
	TerminationPromotion = "promotion"
)

// Plan is the set of weekly installments owed to a member for one grade.
type Plan struct {
	// ID is the unique identifier (UUID format).
	ID string `json:"id"`

	MemberID   string `json:"memberId"`
	MemberName string `json:"memberName"`

	Kind PlanKind `json:"kind"`

	// Generation is 1 for initial and promotion plans and counts up for each
	// additional plan that follows.
	Generation int `json:"generation"`

	// Grade is the grade the plan pays for.
	Grade Grade `json:"grade"`

	// RevenueMonth (YYYY-MM) is the month of the event that created the plan.
	RevenueMonth string `json:"revenueMonth"`

	Status PlanStatus `json:"status"`

	// StartDate is the scheduled date of installment 1.
	StartDate time.Time `json:"startDate"`

	// ParentPlanID links an additional plan to the plan it follows.
	ParentPlanID string `json:"parentPlanId,omitempty"`

	TerminationReason string     `json:"terminationReason,omitempty"`
	TerminatedAt      *time.Time `json:"terminatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	Installments []Installment `json:"installments"`
}

// Installment is one weekly payment of a plan.
type Installment struct {
	PlanID       string `json:"planId"`
	Number       int    `json:"number"`
	MemberID     string `json:"memberId"`
	RevenueMonth string `json:"revenueMonth"`

	ScheduledDate      time.Time `json:"scheduledDate"`
	GradeReferenceDate time.Time `json:"gradeReferenceDate"`

	// ResolvedGrade is the grade read from the snapshot at GradeReferenceDate.
	ResolvedGrade Grade `json:"resolvedGrade,omitempty"`

	// Amount is the gross installment; WithholdingTax and NetAmount derive from it.
	Amount         int64 `json:"amount"`
	WithholdingTax int64 `json:"withholdingTax"`
	NetAmount      int64 `json:"netAmount"`

	Status     InstallmentStatus `json:"status"`
	SkipReason string            `json:"skipReason,omitempty"`

	// Degraded is set when no snapshot covered GradeReferenceDate and the live
	// grade or distribution was used instead.
	Degraded bool `json:"degraded"`

	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
}

// Resolved reports whether the amount has been computed at least once.
func (i *Installment) Resolved() bool {
	return i.ResolvedAt != nil
}

// WeeklySummary aggregates the installments disbursed on one payment date.
// Skipped and terminated installments are never included.
type WeeklySummary struct {
	PaymentDate time.Time `json:"paymentDate"`

	Count   int   `json:"count"`
	Members int   `json:"members"`
	Gross   int64 `json:"gross"`
	Tax     int64 `json:"tax"`
	Net     int64 `json:"net"`

	// Skipped counts installments gated on this date; they carry no amount.
	Skipped int `json:"skipped"`

	// Unresolved counts installments left pending because the revenue of
	// their month is not known yet.
	Unresolved int `json:"unresolved"`

	ByGrade map[Grade]GradeTotal `json:"byGrade"`
}

// GradeTotal is one grade's share of a weekly summary.
type GradeTotal struct {
	Count int   `json:"count"`
	Gross int64 `json:"gross"`
	Tax   int64 `json:"tax"`
	Net   int64 `json:"net"`
}

// PaymentTotals is a member's lifetime payment totals. Terminated installments
// are excluded; Pending is what is still owed.
type PaymentTotals struct {
	MemberID string `json:"memberId"`
	Paid     int64  `json:"paid"`
	PaidNet  int64  `json:"paidNet"`
	Pending  int64  `json:"pending"`
	Skipped  int    `json:"skipped"`
}
