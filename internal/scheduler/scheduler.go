// Package scheduler owns payment plans: creating the ten weekly installments,
// moving them through their states and pricing them against point-in-time grades.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tyranno/nanumpay-sub001/internal/calculator"
	"github.com/tyranno/nanumpay-sub001/internal/calendar"
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/snapshot"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
)

// ErrIllegalTransition is returned for a state change the installment
// lifecycle does not allow.
var ErrIllegalTransition = errors.New("illegal installment transition")

// Store is the persistence the scheduler needs.
type Store interface {
	storage.PlanStore
	storage.RevenueStore
	storage.MemberStore

	SaveInsuranceChange(ctx context.Context, memberID string, amount int64, plans []models.Plan) error
}

// GradeResolver answers point-in-time grade queries.
type GradeResolver interface {
	ResolveGrade(ctx context.Context, memberID string, date time.Time) (snapshot.Resolution, error)
	ResolveGradeDistribution(ctx context.Context, date time.Time) (snapshot.DistributionResolution, error)
}

// Config holds the payout rules.
type Config struct {
	Split     calculator.InstallmentSplit
	Waterfall calculator.Waterfall

	// InsuranceMinimums is the monthly insurance required per grade. Grades
	// without an entry are exempt.
	InsuranceMinimums map[models.Grade]int64

	// GraceWindow is how long after its scheduled date a skipped installment
	// can still return to pending.
	GraceWindow time.Duration

	// MaxGenerations caps how many consecutive plans a member can receive at
	// one grade without being promoted.
	MaxGenerations map[models.Grade]int

	// Workers bounds the recompute fan-out.
	Workers int
}

// DefaultConfig returns the standard payout rules.
func DefaultConfig() Config {
	return Config{
		Split:     calculator.NewInstallmentSplit(),
		Waterfall: calculator.NewWaterfall(),
		InsuranceMinimums: map[models.Grade]int64{
			models.F4: 70000,
			models.F5: 70000,
			models.F6: 90000,
			models.F7: 90000,
			models.F8: 110000,
		},
		GraceWindow: 30 * 24 * time.Hour,
		MaxGenerations: map[models.Grade]int{
			models.F1: 2, models.F2: 3, models.F3: 3, models.F4: 4,
			models.F5: 4, models.F6: 5, models.F7: 5, models.F8: 5,
		},
		Workers: 4,
	}
}

// Scheduler creates and advances payment plans.
type Scheduler struct {
	store    Store
	resolver GradeResolver
	cfg      Config
	now      func() time.Time

	mu      sync.Mutex
	members map[string]*sync.Mutex
}

// New creates a scheduler.
func New(store Store, resolver GradeResolver, cfg Config) (*Scheduler, error) {
	if err := cfg.Split.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scheduler{
		store:    store,
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
		members:  make(map[string]*sync.Mutex),
	}, nil
}

// lockMember serialises plan changes for one member.
func (s *Scheduler) lockMember(memberID string) func() {
	s.mu.Lock()
	l, ok := s.members[memberID]
	if !ok {
		l = &sync.Mutex{}
		s.members[memberID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Config returns the payout rules in effect.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// InsuranceMinimum returns the insurance required at grade, or 0 if exempt.
func (s *Scheduler) InsuranceMinimum(grade models.Grade) int64 {
	return s.cfg.InsuranceMinimums[grade]
}

// newPlan lays out a plan's installments starting at start.
func (s *Scheduler) newPlan(member models.Member, grade models.Grade, kind models.PlanKind, revenueMonth string, start time.Time) *models.Plan {
	plan := &models.Plan{
		ID:           uuid.New().String(),
		MemberID:     member.ID,
		MemberName:   member.Name,
		Kind:         kind,
		Generation:   1,
		Grade:        grade,
		RevenueMonth: revenueMonth,
		Status:       models.PlanActive,
		StartDate:    start,
		CreatedAt:    s.now().UTC(),
	}
	for n, date := range calendar.Weekly(start, s.cfg.Split.Count) {
		plan.Installments = append(plan.Installments, models.Installment{
			PlanID:             plan.ID,
			Number:             n + 1,
			MemberID:           member.ID,
			RevenueMonth:       revenueMonth,
			ScheduledDate:      date,
			GradeReferenceDate: calendar.GradeReferenceDate(date),
			Status:             models.InstallmentPending,
		})
	}
	return plan
}

// CreatePlan creates the plan earned by member reaching grade on eventDate
// (registration or promotion). Payments start on the first Friday of the
// following month and are priced immediately when the month's revenue is known.
func (s *Scheduler) CreatePlan(ctx context.Context, member models.Member, grade models.Grade, kind models.PlanKind, eventDate time.Time) (*models.Plan, error) {
	if !grade.Valid() {
		return nil, fmt.Errorf("invalid plan grade: %v", grade)
	}
	unlock := s.lockMember(member.ID)
	defer unlock()
	return s.createPlanLocked(ctx, member, grade, kind, eventDate)
}

func (s *Scheduler) createPlanLocked(ctx context.Context, member models.Member, grade models.Grade, kind models.PlanKind, eventDate time.Time) (*models.Plan, error) {
	eventDate = calendar.Day(eventDate)
	plan := s.newPlan(member, grade, kind, calendar.MonthKey(eventDate), calendar.PlanStart(eventDate))

	if err := s.resolvePending(ctx, plan); err != nil {
		return nil, err
	}
	if err := s.store.SavePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	slog.Info("Payment plan created",
		"plan_id", plan.ID,
		"member_id", member.ID,
		"kind", kind,
		"grade", grade,
		"revenue_month", plan.RevenueMonth,
		"start_date", calendar.FormatDay(plan.StartDate),
	)
	return plan, nil
}

// Promote ends every active plan of member and creates a promotion plan at
// newGrade. Paid installments are untouched; pending and skipped ones are
// terminated.
func (s *Scheduler) Promote(ctx context.Context, member models.Member, newGrade models.Grade, at time.Time) (*models.Plan, error) {
	if !newGrade.Valid() {
		return nil, fmt.Errorf("invalid promotion grade: %v", newGrade)
	}
	unlock := s.lockMember(member.ID)
	defer unlock()

	plans, err := s.store.ListPlansByMember(ctx, member.ID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for i := range plans {
		plan := &plans[i]
		if plan.Status != models.PlanActive {
			continue
		}
		terminated := 0
		for j := range plan.Installments {
			inst := &plan.Installments[j]
			if inst.Status != models.InstallmentPending && inst.Status != models.InstallmentSkipped {
				continue
			}
			if err := transition(inst, models.InstallmentTerminated); err != nil {
				return nil, err
			}
			terminated++
		}
		plan.Status = models.PlanTerminated
		plan.TerminationReason = models.TerminationPromotion
		plan.TerminatedAt = &now
		if err := s.store.SavePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("failed to terminate plan: %w", err)
		}
		slog.Info("Payment plan terminated by promotion",
			"plan_id", plan.ID,
			"member_id", member.ID,
			"from_grade", plan.Grade,
			"to_grade", newGrade,
			"terminated_installments", terminated,
		)
	}

	return s.createPlanLocked(ctx, member, newGrade, models.PlanPromotion, at)
}

// Plans returns every plan of a member, oldest first.
func (s *Scheduler) Plans(ctx context.Context, memberID string) ([]models.Plan, error) {
	return s.store.ListPlansByMember(ctx, memberID)
}

// PaymentTotals sums a member's payments. Terminated installments never count.
func (s *Scheduler) PaymentTotals(ctx context.Context, memberID string) (models.PaymentTotals, error) {
	totals := models.PaymentTotals{MemberID: memberID}
	plans, err := s.store.ListPlansByMember(ctx, memberID)
	if err != nil {
		return totals, err
	}
	for _, plan := range plans {
		for _, inst := range plan.Installments {
			switch inst.Status {
			case models.InstallmentPaid:
				totals.Paid += inst.Amount
				totals.PaidNet += inst.NetAmount
			case models.InstallmentPending:
				totals.Pending += inst.Amount
			case models.InstallmentSkipped:
				totals.Skipped++
			}
		}
	}
	return totals, nil
}
