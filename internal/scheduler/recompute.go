package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tyranno/nanumpay-sub001/internal/calendar"
	"github.com/tyranno/nanumpay-sub001/internal/metrics"
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
)

// errRevenueMissing marks an installment whose revenue month has no figure yet.
var errRevenueMissing = errors.New("revenue not recorded")

// resolve prices inst from the grade and distribution at its grade-reference
// date and the effective revenue of its month. A gap in snapshot coverage
// marks the installment degraded instead of failing.
func (s *Scheduler) resolve(ctx context.Context, inst *models.Installment) error {
	rev, err := s.store.GetRevenue(ctx, inst.RevenueMonth)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w for %s", errRevenueMissing, inst.RevenueMonth)
	}
	if err != nil {
		return err
	}

	grade, err := s.resolver.ResolveGrade(ctx, inst.MemberID, inst.GradeReferenceDate)
	if err != nil {
		return err
	}
	dist, err := s.resolver.ResolveGradeDistribution(ctx, inst.GradeReferenceDate)
	if err != nil {
		return err
	}

	table, err := s.cfg.Waterfall.Compute(rev.Effective(), dist.Distribution)
	if err != nil {
		return err
	}

	inst.ResolvedGrade = grade.Grade
	inst.Amount = s.cfg.Split.Amount(table.Amount(grade.Grade))
	inst.WithholdingTax, inst.NetAmount = s.cfg.Split.Withhold(inst.Amount)
	inst.Degraded = grade.Degraded || dist.Degraded
	now := s.now().UTC()
	inst.ResolvedAt = &now

	if inst.Degraded {
		slog.Warn("Installment priced from live data",
			"plan_id", inst.PlanID,
			"number", inst.Number,
			"member_id", inst.MemberID,
			"grade_reference_date", inst.GradeReferenceDate.Format(time.DateOnly),
		)
	}
	return nil
}

// resolvePending prices every pending installment of plan in memory.
// Installments of a month without revenue stay unpriced.
func (s *Scheduler) resolvePending(ctx context.Context, plan *models.Plan) error {
	for i := range plan.Installments {
		inst := &plan.Installments[i]
		if inst.Status != models.InstallmentPending {
			continue
		}
		if err := s.resolve(ctx, inst); err != nil {
			if errors.Is(err, errRevenueMissing) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Recompute re-prices one pending installment and stores it.
func (s *Scheduler) Recompute(ctx context.Context, planID string, number int) (*models.Installment, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockMember(plan.MemberID)
	defer unlock()

	plan, err = s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	inst := findInstallment(plan, number)
	if inst == nil {
		return nil, fmt.Errorf("installment not found: %s/%d: %w", planID, number, storage.ErrNotFound)
	}
	if inst.Status != models.InstallmentPending {
		return nil, fmt.Errorf("%w: only pending installments are recomputed (plan %s, installment %d is %s)",
			ErrIllegalTransition, planID, number, inst.Status)
	}
	if err := s.resolve(ctx, inst); err != nil {
		return nil, err
	}
	if err := s.store.UpdateInstallment(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// RecomputeResult summarises a RecomputeMonth run.
type RecomputeResult struct {
	Month        string `json:"month"`
	Members      int    `json:"members"`
	Installments int64  `json:"installments"`
	Degraded     int64  `json:"degraded"`
}

// RecomputeMonth re-prices every pending installment of a revenue month,
// e.g. after a revenue adjustment or a snapshot correction. Members are
// processed in parallel; each worker only touches its own member's plans.
func (s *Scheduler) RecomputeMonth(ctx context.Context, month string) (*RecomputeResult, error) {
	start := time.Now()
	plans, err := s.store.ListPlansByMonth(ctx, month)
	if err != nil {
		return nil, err
	}

	byMember := make(map[string][]string)
	var order []string
	for _, p := range plans {
		if p.Status != models.PlanActive {
			continue
		}
		if _, seen := byMember[p.MemberID]; !seen {
			order = append(order, p.MemberID)
		}
		byMember[p.MemberID] = append(byMember[p.MemberID], p.ID)
	}

	result := &RecomputeResult{Month: month, Members: len(order)}
	var installments, degraded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, memberID := range order {
		planIDs := byMember[memberID]
		g.Go(func() error {
			n, d, err := s.recomputeMember(gctx, memberID, planIDs)
			installments.Add(n)
			degraded.Add(d)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to recompute %s: %w", month, err)
	}

	result.Installments = installments.Load()
	result.Degraded = degraded.Load()
	metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
	slog.Info("Revenue month recomputed",
		"month", month,
		"members", result.Members,
		"installments", result.Installments,
		"degraded", result.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (s *Scheduler) recomputeMember(ctx context.Context, memberID string, planIDs []string) (n, degraded int64, err error) {
	unlock := s.lockMember(memberID)
	defer unlock()

	for _, planID := range planIDs {
		plan, err := s.store.GetPlan(ctx, planID)
		if err != nil {
			return n, degraded, err
		}
		if plan.Status != models.PlanActive {
			continue
		}
		for i := range plan.Installments {
			inst := &plan.Installments[i]
			if inst.Status != models.InstallmentPending {
				continue
			}
			if err := s.resolve(ctx, inst); err != nil {
				if errors.Is(err, errRevenueMissing) {
					return n, degraded, nil
				}
				return n, degraded, err
			}
			err := s.store.UpdateInstallment(ctx, inst)
			if errors.Is(err, storage.ErrInstallmentFrozen) {
				continue
			}
			if err != nil {
				return n, degraded, err
			}
			n++
			if inst.Degraded {
				degraded++
			}
		}
	}
	return n, degraded, nil
}

// RecomputeFrom re-prices every revenue month holding a pending installment
// whose grade-reference date is on or after date, the installments a
// snapshot captured for date can change.
func (s *Scheduler) RecomputeFrom(ctx context.Context, date time.Time) ([]*RecomputeResult, error) {
	date = calendar.Day(date)
	plans, err := s.store.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}

	months := make(map[string]struct{})
	for _, p := range plans {
		for _, inst := range p.Installments {
			if inst.Status == models.InstallmentPending && !inst.GradeReferenceDate.Before(date) {
				months[inst.RevenueMonth] = struct{}{}
			}
		}
	}

	results := make([]*RecomputeResult, 0, len(months))
	for _, month := range slices.Sorted(maps.Keys(months)) {
		res, err := s.RecomputeMonth(ctx, month)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
