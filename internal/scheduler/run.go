package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tyranno/nanumpay-sub001/internal/calendar"
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
)

// RunWeekly disburses every installment scheduled on payDate, together with
// pending installments left over from earlier dates (restored after an
// insurance lapse or waiting on revenue). Each pending installment is either
// skipped (insurance below the plan grade's minimum) or priced and paid.
// Reruns for the same date pay nothing twice and return the same summary.
func (s *Scheduler) RunWeekly(ctx context.Context, payDate time.Time) (*models.WeeklySummary, error) {
	payDate = calendar.Day(payDate)
	if !calendar.IsFriday(payDate) {
		slog.Warn("Weekly run on a non-Friday", "date", calendar.FormatDay(payDate))
	}

	plans, err := s.store.ListPlansDue(ctx, payDate)
	if err != nil {
		return nil, err
	}

	summary := &models.WeeklySummary{
		PaymentDate: payDate,
		ByGrade:     make(map[models.Grade]models.GradeTotal),
	}
	members := make(map[string]struct{})

	for _, due := range plans {
		if err := s.runPlan(ctx, due.ID, payDate, summary, members); err != nil {
			return nil, err
		}
	}
	summary.Members = len(members)

	if err := s.settleActive(ctx, payDate); err != nil {
		return nil, err
	}

	slog.Info("Weekly run complete",
		"date", calendar.FormatDay(payDate),
		"paid", summary.Count,
		"members", summary.Members,
		"gross", summary.Gross,
		"net", summary.Net,
		"skipped", summary.Skipped,
		"unresolved", summary.Unresolved,
	)
	return summary, nil
}

// runPlan settles plan's installments due by payDate and tallies the ones
// that belong to this run: those scheduled on payDate and earlier ones paid
// on it. Plans that are no longer active are only tallied.
func (s *Scheduler) runPlan(ctx context.Context, planID string, payDate time.Time, summary *models.WeeklySummary, members map[string]struct{}) error {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	unlock := s.lockMember(plan.MemberID)
	defer unlock()

	plan, err = s.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	active := plan.Status == models.PlanActive
	var member *models.Member
	if active {
		member, err = s.store.GetMember(ctx, plan.MemberID)
		if err != nil {
			return fmt.Errorf("failed to load member for plan %s: %w", plan.ID, err)
		}
	}

	for i := range plan.Installments {
		inst := &plan.Installments[i]
		if inst.ScheduledDate.After(payDate) {
			continue
		}
		overdue := inst.ScheduledDate.Before(payDate)

		if active && inst.Status == models.InstallmentPending {
			if member.InsuranceAmount < s.InsuranceMinimum(plan.Grade) {
				if err := transition(inst, models.InstallmentSkipped); err != nil {
					return err
				}
				inst.SkipReason = models.SkipReasonInsurance
				if err := s.store.UpdateInstallment(ctx, inst); err != nil {
					return err
				}
				slog.Info("Installment skipped for insurance",
					"plan_id", plan.ID,
					"member_id", plan.MemberID,
					"number", inst.Number,
					"insurance", member.InsuranceAmount,
					"required", s.InsuranceMinimum(plan.Grade),
				)
			} else {
				// Re-price at disbursement.
				inst.ResolvedAt = nil
				err := s.pay(ctx, plan, inst, payDate)
				if errors.Is(err, errRevenueMissing) {
					summary.Unresolved++
					slog.Warn("Installment left pending, revenue unknown",
						"plan_id", plan.ID,
						"number", inst.Number,
						"revenue_month", inst.RevenueMonth,
					)
					continue
				}
				if err != nil {
					return err
				}
				if overdue {
					slog.Info("Overdue installment paid",
						"plan_id", plan.ID,
						"number", inst.Number,
						"scheduled_date", calendar.FormatDay(inst.ScheduledDate),
					)
				}
			}
		}

		switch inst.Status {
		case models.InstallmentPaid:
			if overdue && !paidOn(inst, payDate) {
				continue
			}
			addToSummary(summary, inst)
			members[plan.MemberID] = struct{}{}
		case models.InstallmentSkipped:
			if !overdue {
				summary.Skipped++
			}
		}
	}

	if !active {
		return nil
	}
	return s.completeIfSettled(ctx, plan, payDate)
}

func paidOn(inst *models.Installment, d time.Time) bool {
	return inst.PaidAt != nil && calendar.Day(*inst.PaidAt).Equal(d)
}

// settleActive closes active plans whose last open installment ran out of
// its grace window after the final run that selected the plan.
func (s *Scheduler) settleActive(ctx context.Context, at time.Time) error {
	plans, err := s.store.ListActivePlans(ctx)
	if err != nil {
		return err
	}
	for i := range plans {
		if !s.settled(&plans[i], at) {
			continue
		}
		if err := s.settlePlan(ctx, plans[i].ID, plans[i].MemberID, at); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) settlePlan(ctx context.Context, planID, memberID string, at time.Time) error {
	unlock := s.lockMember(memberID)
	defer unlock()

	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	return s.completeIfSettled(ctx, plan, at)
}

func addToSummary(summary *models.WeeklySummary, inst *models.Installment) {
	summary.Count++
	summary.Gross += inst.Amount
	summary.Tax += inst.WithholdingTax
	summary.Net += inst.NetAmount

	gt := summary.ByGrade[inst.ResolvedGrade]
	gt.Count++
	gt.Gross += inst.Amount
	gt.Tax += inst.WithholdingTax
	gt.Net += inst.NetAmount
	summary.ByGrade[inst.ResolvedGrade] = gt
}

// settled reports whether plan has nothing left to pay as of at: no pending
// installment and no skipped one still inside its grace window.
func (s *Scheduler) settled(plan *models.Plan, at time.Time) bool {
	if plan.Status != models.PlanActive || len(plan.Installments) == 0 {
		return false
	}
	at = calendar.Day(at)
	for _, inst := range plan.Installments {
		switch inst.Status {
		case models.InstallmentPending:
			return false
		case models.InstallmentSkipped:
			if !at.After(inst.ScheduledDate.Add(s.cfg.GraceWindow)) {
				return false
			}
		}
	}
	return true
}

// completeIfSettled closes a settled plan and, while the member still holds
// the plan's grade, starts the next generation the Friday after the last
// installment. Callers hold the member lock.
func (s *Scheduler) completeIfSettled(ctx context.Context, plan *models.Plan, at time.Time) error {
	if !s.settled(plan, at) {
		return nil
	}

	plan.Status = models.PlanCompleted
	if err := s.store.SavePlan(ctx, plan); err != nil {
		return fmt.Errorf("failed to complete plan: %w", err)
	}
	slog.Info("Payment plan completed", "plan_id", plan.ID, "member_id", plan.MemberID, "generation", plan.Generation)

	if plan.Generation >= s.cfg.MaxGenerations[plan.Grade] {
		return nil
	}
	member, err := s.store.GetMember(ctx, plan.MemberID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if member.Grade != plan.Grade {
		return nil
	}

	last := plan.Installments[len(plan.Installments)-1].ScheduledDate
	next := s.newPlan(*member, plan.Grade, models.PlanAdditional, plan.RevenueMonth, last.AddDate(0, 0, 7))
	next.Generation = plan.Generation + 1
	next.ParentPlanID = plan.ID
	if err := s.resolvePending(ctx, next); err != nil {
		return err
	}
	if err := s.store.SavePlan(ctx, next); err != nil {
		return fmt.Errorf("failed to create additional plan: %w", err)
	}
	slog.Info("Additional payment plan created",
		"plan_id", next.ID,
		"parent_plan_id", plan.ID,
		"member_id", plan.MemberID,
		"generation", next.Generation,
		"start_date", calendar.FormatDay(next.StartDate),
	)
	return nil
}
