package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tyranno/nanumpay-sub001/internal/calendar"
	"github.com/tyranno/nanumpay-sub001/internal/metrics"
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
)

var allowedTransitions = map[models.InstallmentStatus][]models.InstallmentStatus{
	models.InstallmentPending: {models.InstallmentPaid, models.InstallmentSkipped, models.InstallmentTerminated},
	models.InstallmentSkipped: {models.InstallmentPending, models.InstallmentTerminated},
}

// transition moves inst to status or returns ErrIllegalTransition.
func transition(inst *models.Installment, to models.InstallmentStatus) error {
	from := inst.Status
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			inst.Status = to
			if to != models.InstallmentSkipped {
				inst.SkipReason = ""
			}
			metrics.InstallmentTransitions.WithLabelValues(string(from), string(to)).Inc()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (plan %s, installment %d)", ErrIllegalTransition, from, to, inst.PlanID, inst.Number)
}

// MarkPaid records the disbursement of one installment. The amount is
// resolved first if it never was, then frozen for good.
func (s *Scheduler) MarkPaid(ctx context.Context, planID string, number int, at time.Time) (*models.Installment, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockMember(plan.MemberID)
	defer unlock()

	// Re-read under the member lock.
	plan, err = s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	inst := findInstallment(plan, number)
	if inst == nil {
		return nil, fmt.Errorf("installment not found: %s/%d: %w", planID, number, storage.ErrNotFound)
	}

	if err := s.pay(ctx, plan, inst, at); err != nil {
		return nil, err
	}
	if err := s.completeIfSettled(ctx, plan, at); err != nil {
		return nil, err
	}
	return inst, nil
}

// pay resolves (when needed) and marks one pending installment paid.
func (s *Scheduler) pay(ctx context.Context, plan *models.Plan, inst *models.Installment, at time.Time) error {
	if inst.Status != models.InstallmentPending {
		return fmt.Errorf("%w: %s -> %s (plan %s, installment %d)",
			ErrIllegalTransition, inst.Status, models.InstallmentPaid, plan.ID, inst.Number)
	}
	if !inst.Resolved() {
		if err := s.resolve(ctx, inst); err != nil {
			return err
		}
	}
	if err := transition(inst, models.InstallmentPaid); err != nil {
		return err
	}
	paidAt := at.UTC()
	inst.PaidAt = &paidAt
	if err := s.store.UpdateInstallment(ctx, inst); err != nil {
		return err
	}

	metrics.DisbursedAmount.Add(float64(inst.Amount))
	slog.Info("Installment paid",
		"plan_id", plan.ID,
		"member_id", plan.MemberID,
		"number", inst.Number,
		"grade", inst.ResolvedGrade,
		"amount", inst.Amount,
		"net", inst.NetAmount,
		"degraded", inst.Degraded,
	)
	return nil
}

// InsuranceResult reports what an insurance change did to a member's plans.
type InsuranceResult struct {
	MemberID string `json:"memberId"`
	Amount   int64  `json:"amount"`
	Skipped  int    `json:"skipped"`
	Restored int    `json:"restored"`

	// Expired counts skipped installments left skipped because their grace
	// window had already closed.
	Expired int `json:"expired"`
}

// ApplyInsurance records member's insurance amount as of at and gates their
// active plans. Below the plan grade's minimum, every pending installment
// scheduled on or after at is skipped. At or above it, insurance-skipped
// installments whose grace window is still open return to pending; those
// never priced are priced now, the rest keep their amount. Nothing is stored
// unless every plan could be gated.
func (s *Scheduler) ApplyInsurance(ctx context.Context, memberID string, amount int64, at time.Time) (*InsuranceResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("invalid insurance amount: %d", amount)
	}
	unlock := s.lockMember(memberID)
	defer unlock()

	plans, err := s.store.ListPlansByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	at = calendar.Day(at)
	result := &InsuranceResult{MemberID: memberID, Amount: amount}
	gated := make([]models.Plan, 0, len(plans))
	for i := range plans {
		plan := &plans[i]
		if plan.Status != models.PlanActive {
			continue
		}
		if err := s.gatePlan(ctx, plan, amount, at, result); err != nil {
			return nil, err
		}
		gated = append(gated, *plan)
	}

	if err := s.store.SaveInsuranceChange(ctx, memberID, amount, gated); err != nil {
		return nil, fmt.Errorf("failed to apply insurance change: %w", err)
	}

	slog.Info("Insurance change applied",
		"member_id", memberID,
		"amount", amount,
		"date", calendar.FormatDay(at),
		"skipped", result.Skipped,
		"restored", result.Restored,
		"expired", result.Expired,
	)
	return result, nil
}

// gatePlan applies an insurance amount to one plan in memory.
func (s *Scheduler) gatePlan(ctx context.Context, plan *models.Plan, amount int64, at time.Time, result *InsuranceResult) error {
	sufficient := amount >= s.InsuranceMinimum(plan.Grade)
	for j := range plan.Installments {
		inst := &plan.Installments[j]
		switch {
		case !sufficient && inst.Status == models.InstallmentPending && !inst.ScheduledDate.Before(at):
			if err := transition(inst, models.InstallmentSkipped); err != nil {
				return err
			}
			inst.SkipReason = models.SkipReasonInsurance
			result.Skipped++

		case sufficient && inst.Status == models.InstallmentSkipped && inst.SkipReason == models.SkipReasonInsurance:
			if at.After(inst.ScheduledDate.Add(s.cfg.GraceWindow)) {
				result.Expired++
				continue
			}
			if err := transition(inst, models.InstallmentPending); err != nil {
				return err
			}
			if !inst.Resolved() {
				if err := s.resolve(ctx, inst); err != nil && !errors.Is(err, errRevenueMissing) {
					return err
				}
			}
			result.Restored++
		}
	}
	return nil
}

func findInstallment(plan *models.Plan, number int) *models.Installment {
	for i := range plan.Installments {
		if plan.Installments[i].Number == number {
			return &plan.Installments[i]
		}
	}
	return nil
}
