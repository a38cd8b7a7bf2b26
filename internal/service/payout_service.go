// Package service orchestrates the payout engine: it runs tree intake, revenue
// changes and insurance events through the evaluator, the snapshot store and
// the scheduler in the order each needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tyranno/nanumpay-sub001/internal/calculator"
	"github.com/tyranno/nanumpay-sub001/internal/calendar"
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/scheduler"
	"github.com/tyranno/nanumpay-sub001/internal/snapshot"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
)

// ErrInvalidInput is returned for requests that fail validation before any
// state is touched.
var ErrInvalidInput = errors.New("invalid input")

// PayoutService is the entry point for every state-changing operation.
type PayoutService struct {
	store     storage.Store
	snapshots *snapshot.Service
	scheduler *scheduler.Scheduler

	// intake serialises tree uploads; each one diffs against the live tree.
	intake sync.Mutex
}

// NewPayoutService creates a PayoutService over the given components.
func NewPayoutService(store storage.Store, snapshots *snapshot.Service, sched *scheduler.Scheduler) *PayoutService {
	return &PayoutService{
		store:     store,
		snapshots: snapshots,
		scheduler: sched,
	}
}

// GradeChange records one member's move between grades.
type GradeChange struct {
	MemberID string       `json:"memberId"`
	From     models.Grade `json:"from"`
	To       models.Grade `json:"to"`
}

// TreeResult summarises a tree intake.
type TreeResult struct {
	Date         string                 `json:"date"`
	SnapshotID   string                 `json:"snapshotId"`
	Purpose      models.SnapshotPurpose `json:"purpose"`
	Members      int                    `json:"members"`
	Distribution models.GradeCounts     `json:"distribution"`
	NewMembers   []string               `json:"newMembers"`
	Promotions   []GradeChange          `json:"promotions"`
	Demotions    []GradeChange          `json:"demotions"`
	PlansCreated int                    `json:"plansCreated"`
}

// ApplyTree evaluates members as the tree of date, makes it the live tree,
// captures its snapshot and then creates plans: an initial plan for every new
// member and a promotion plan for every member whose grade rose. Insurance
// amounts that changed are run through the insurance gate, and pending
// installments the new snapshot can answer are re-priced. A structurally
// invalid tree is rejected before anything is written.
func (s *PayoutService) ApplyTree(ctx context.Context, members []models.Member, date time.Time) (*TreeResult, error) {
	date = calendar.Day(date)
	s.intake.Lock()
	defer s.intake.Unlock()

	t, grades, err := calculator.EvaluateMembers(members)
	if err != nil {
		slog.Error("Tree rejected", "date", calendar.FormatDay(date), "error", err)
		return nil, err
	}

	live, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	previous := make(map[string]models.Member, len(live))
	for _, m := range live {
		previous[m.ID] = m
	}

	result := &TreeResult{
		Date:       calendar.FormatDay(date),
		Members:    t.Len(),
		NewMembers: []string{},
		Promotions: []GradeChange{},
		Demotions:  []GradeChange{},
	}
	insurance := make(map[string]int64)
	graded := t.WithGrades(grades)
	for _, m := range graded {
		prev, existed := previous[m.ID]
		switch {
		case !existed:
			result.NewMembers = append(result.NewMembers, m.ID)
		case m.Grade > prev.Grade:
			result.Promotions = append(result.Promotions, GradeChange{MemberID: m.ID, From: prev.Grade, To: m.Grade})
		case m.Grade < prev.Grade:
			result.Demotions = append(result.Demotions, GradeChange{MemberID: m.ID, From: prev.Grade, To: m.Grade})
		}
		if existed && m.InsuranceAmount != prev.InsuranceAmount {
			insurance[m.ID] = m.InsuranceAmount
		}
	}

	switch {
	case len(result.NewMembers) > 0:
		result.Purpose = models.PurposeRegistration
	case len(result.Promotions) > 0 || len(result.Demotions) > 0:
		result.Purpose = models.PurposeGradeChange
	default:
		result.Purpose = models.PurposeDaily
	}

	snap, err := s.snapshots.CaptureTree(ctx, t, grades, date, result.Purpose)
	if err != nil {
		return nil, err
	}
	result.SnapshotID = snap.ID
	result.Distribution = snap.Statistics.Distribution

	if err := s.store.ReplaceMembers(ctx, graded); err != nil {
		return nil, fmt.Errorf("failed to store live tree: %w", err)
	}

	byID := make(map[string]models.Member, len(graded))
	for _, m := range graded {
		byID[m.ID] = m
	}
	for _, id := range result.NewMembers {
		m := byID[id]
		if _, err := s.scheduler.CreatePlan(ctx, m, m.Grade, models.PlanInitial, date); err != nil {
			return nil, fmt.Errorf("failed to create plan for %s: %w", id, err)
		}
		result.PlansCreated++
	}
	for _, p := range result.Promotions {
		if _, err := s.scheduler.Promote(ctx, byID[p.MemberID], p.To, date); err != nil {
			return nil, fmt.Errorf("failed to promote %s: %w", p.MemberID, err)
		}
		result.PlansCreated++
	}
	for _, d := range result.Demotions {
		slog.Info("Grade lowered, plans unchanged", "member_id", d.MemberID, "from", d.From, "to", d.To)
	}
	for id, amount := range insurance {
		if _, err := s.scheduler.ApplyInsurance(ctx, id, amount, date); err != nil {
			return nil, err
		}
	}
	if _, err := s.scheduler.RecomputeFrom(ctx, date); err != nil {
		return nil, fmt.Errorf("failed to reprice after snapshot: %w", err)
	}

	slog.Info("Tree applied",
		"date", result.Date,
		"purpose", result.Purpose,
		"members", result.Members,
		"new", len(result.NewMembers),
		"promoted", len(result.Promotions),
		"plans_created", result.PlansCreated,
	)
	return result, nil
}

// CaptureSnapshot re-captures the live tree for date and re-prices the
// pending installments whose grade it now answers.
func (s *PayoutService) CaptureSnapshot(ctx context.Context, date time.Time, purpose models.SnapshotPurpose) (*models.Snapshot, error) {
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no live members to capture", ErrInvalidInput)
	}
	snap, err := s.snapshots.Capture(ctx, members, date, purpose)
	if err != nil {
		return nil, err
	}
	if _, err := s.scheduler.RecomputeFrom(ctx, date); err != nil {
		return nil, fmt.Errorf("failed to reprice after snapshot: %w", err)
	}
	return snap, nil
}

// Snapshot returns the snapshot stored for date.
func (s *PayoutService) Snapshot(ctx context.Context, date time.Time) (*models.Snapshot, error) {
	return s.snapshots.Get(ctx, date)
}

// MemberGrade returns the grade memberID held at date.
func (s *PayoutService) MemberGrade(ctx context.Context, memberID string, date time.Time) (snapshot.Resolution, error) {
	return s.snapshots.ResolveGrade(ctx, memberID, date)
}

// SetRevenue records the recognised revenue of month and re-prices its
// pending installments. An existing override is kept.
func (s *PayoutService) SetRevenue(ctx context.Context, month string, amount float64) (*scheduler.RecomputeResult, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	if err := calculator.ValidateRevenue(amount); err != nil {
		return nil, err
	}

	rev, err := s.store.GetRevenue(ctx, month)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rev = &models.MonthlyRevenue{Month: month}
	case err != nil:
		return nil, err
	}
	rev.Amount = amount
	rev.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveRevenue(ctx, rev); err != nil {
		return nil, err
	}
	slog.Info("Revenue recorded", "month", month, "amount", amount)
	return s.scheduler.RecomputeMonth(ctx, month)
}

// AdjustRevenue overrides month's revenue with amount. The reason is kept
// for audit and is required.
func (s *PayoutService) AdjustRevenue(ctx context.Context, month string, amount float64, reason string) (*scheduler.RecomputeResult, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", ErrInvalidInput)
	}
	if err := calculator.ValidateRevenue(amount); err != nil {
		return nil, err
	}

	rev, err := s.store.GetRevenue(ctx, month)
	if err != nil {
		return nil, err
	}
	previous := rev.Effective()
	rev.Override = &amount
	rev.OverrideReason = reason
	rev.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveRevenue(ctx, rev); err != nil {
		return nil, err
	}
	slog.Info("Revenue adjusted",
		"month", month,
		"previous", previous,
		"amount", amount,
		"reason", reason,
	)
	return s.scheduler.RecomputeMonth(ctx, month)
}

// CloseMonth computes and stores month's payment table from its effective
// revenue and the grade distribution at month end.
func (s *PayoutService) CloseMonth(ctx context.Context, month string) (*models.GradePaymentTable, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	rev, err := s.store.GetRevenue(ctx, month)
	if err != nil {
		return nil, err
	}
	end, err := calendar.MonthEnd(month)
	if err != nil {
		return nil, err
	}
	dist, err := s.snapshots.ResolveGradeDistribution(ctx, end)
	if err != nil {
		return nil, err
	}

	table, err := s.scheduler.Config().Waterfall.Compute(rev.Effective(), dist.Distribution)
	if err != nil {
		return nil, err
	}
	table.Month = month
	if err := s.store.SavePaymentTable(ctx, &table); err != nil {
		return nil, err
	}
	slog.Info("Revenue month closed",
		"month", month,
		"revenue", table.Revenue,
		"members", dist.Distribution.Total(),
		"degraded", dist.Degraded,
	)
	return &table, nil
}

// PaymentTable returns month's stored payment table.
func (s *PayoutService) PaymentTable(ctx context.Context, month string) (*models.GradePaymentTable, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	return s.store.GetPaymentTable(ctx, month)
}

// ApplyInsurance records a member's new insurance amount as of at.
func (s *PayoutService) ApplyInsurance(ctx context.Context, memberID string, amount int64, at time.Time) (*scheduler.InsuranceResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: insurance amount must not be negative", ErrInvalidInput)
	}
	return s.scheduler.ApplyInsurance(ctx, memberID, amount, at)
}

// RunWeekly disburses the installments due on payDate.
func (s *PayoutService) RunWeekly(ctx context.Context, payDate time.Time) (*models.WeeklySummary, error) {
	return s.scheduler.RunWeekly(ctx, payDate)
}

// MarkPaid records a single disbursement outside the weekly run.
func (s *PayoutService) MarkPaid(ctx context.Context, planID string, number int, at time.Time) (*models.Installment, error) {
	return s.scheduler.MarkPaid(ctx, planID, number, at)
}

// Plans returns every plan of memberID.
func (s *PayoutService) Plans(ctx context.Context, memberID string) ([]models.Plan, error) {
	if _, err := s.store.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	return s.scheduler.Plans(ctx, memberID)
}

// PaymentTotals sums memberID's payments.
func (s *PayoutService) PaymentTotals(ctx context.Context, memberID string) (models.PaymentTotals, error) {
	if _, err := s.store.GetMember(ctx, memberID); err != nil {
		return models.PaymentTotals{MemberID: memberID}, err
	}
	return s.scheduler.PaymentTotals(ctx, memberID)
}

// MonthPlans returns every plan paid from month's revenue.
func (s *PayoutService) MonthPlans(ctx context.Context, month string) ([]models.Plan, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	return s.store.ListPlansByMonth(ctx, month)
}

func validateMonth(month string) error {
	if _, err := calendar.ParseMonth(month); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
