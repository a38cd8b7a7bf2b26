package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
)

type planRow struct {
	ID                string        `db:"id"`
	MemberID          string        `db:"member_id"`
	MemberName        string        `db:"member_name"`
	Kind              string        `db:"kind"`
	Generation        int           `db:"generation"`
	Grade             string        `db:"grade"`
	RevenueMonth      string        `db:"revenue_month"`
	Status            string        `db:"status"`
	StartDate         string        `db:"start_date"`
	ParentPlanID      string        `db:"parent_plan_id"`
	TerminationReason string        `db:"termination_reason"`
	TerminatedAt      sql.NullInt64 `db:"terminated_at"`
	CreatedAt         int64         `db:"created_at"`
}

func toPlanRow(p *models.Plan) planRow {
	return planRow{
		ID:                p.ID,
		MemberID:          p.MemberID,
		MemberName:        p.MemberName,
		Kind:              string(p.Kind),
		Generation:        p.Generation,
		Grade:             gradeColumn(p.Grade),
		RevenueMonth:      p.RevenueMonth,
		Status:            string(p.Status),
		StartDate:         formatDay(p.StartDate),
		ParentPlanID:      p.ParentPlanID,
		TerminationReason: p.TerminationReason,
		TerminatedAt:      nullUnix(p.TerminatedAt),
		CreatedAt:         p.CreatedAt.Unix(),
	}
}

func (r planRow) toModel() (models.Plan, error) {
	grade, err := parseGradeColumn(r.Grade)
	if err != nil {
		return models.Plan{}, fmt.Errorf("plan %s: %w", r.ID, err)
	}
	start, err := parseDay(r.StartDate)
	if err != nil {
		return models.Plan{}, err
	}
	return models.Plan{
		ID:                r.ID,
		MemberID:          r.MemberID,
		MemberName:        r.MemberName,
		Kind:              models.PlanKind(r.Kind),
		Generation:        r.Generation,
		Grade:             grade,
		RevenueMonth:      r.RevenueMonth,
		Status:            models.PlanStatus(r.Status),
		StartDate:         start,
		ParentPlanID:      r.ParentPlanID,
		TerminationReason: r.TerminationReason,
		TerminatedAt:      fromNullUnix(r.TerminatedAt),
		CreatedAt:         unixTime(r.CreatedAt),
	}, nil
}

type installmentRow struct {
	PlanID             string        `db:"plan_id"`
	Number             int           `db:"number"`
	MemberID           string        `db:"member_id"`
	RevenueMonth       string        `db:"revenue_month"`
	ScheduledDate      string        `db:"scheduled_date"`
	GradeReferenceDate string        `db:"grade_reference_date"`
	ResolvedGrade      string        `db:"resolved_grade"`
	Amount             int64         `db:"amount"`
	WithholdingTax     int64         `db:"withholding_tax"`
	NetAmount          int64         `db:"net_amount"`
	Status             string        `db:"status"`
	SkipReason         string        `db:"skip_reason"`
	Degraded           bool          `db:"degraded"`
	ResolvedAt         sql.NullInt64 `db:"resolved_at"`
	PaidAt             sql.NullInt64 `db:"paid_at"`
}

func toInstallmentRow(i *models.Installment) installmentRow {
	return installmentRow{
		PlanID:             i.PlanID,
		Number:             i.Number,
		MemberID:           i.MemberID,
		RevenueMonth:       i.RevenueMonth,
		ScheduledDate:      formatDay(i.ScheduledDate),
		GradeReferenceDate: formatDay(i.GradeReferenceDate),
		ResolvedGrade:      gradeColumn(i.ResolvedGrade),
		Amount:             i.Amount,
		WithholdingTax:     i.WithholdingTax,
		NetAmount:          i.NetAmount,
		Status:             string(i.Status),
		SkipReason:         i.SkipReason,
		Degraded:           i.Degraded,
		ResolvedAt:         nullUnix(i.ResolvedAt),
		PaidAt:             nullUnix(i.PaidAt),
	}
}

func (r installmentRow) toModel() (models.Installment, error) {
	grade, err := parseGradeColumn(r.ResolvedGrade)
	if err != nil {
		return models.Installment{}, fmt.Errorf("installment %s/%d: %w", r.PlanID, r.Number, err)
	}
	scheduled, err := parseDay(r.ScheduledDate)
	if err != nil {
		return models.Installment{}, err
	}
	ref, err := parseDay(r.GradeReferenceDate)
	if err != nil {
		return models.Installment{}, err
	}
	return models.Installment{
		PlanID:             r.PlanID,
		Number:             r.Number,
		MemberID:           r.MemberID,
		RevenueMonth:       r.RevenueMonth,
		ScheduledDate:      scheduled,
		GradeReferenceDate: ref,
		ResolvedGrade:      grade,
		Amount:             r.Amount,
		WithholdingTax:     r.WithholdingTax,
		NetAmount:          r.NetAmount,
		Status:             models.InstallmentStatus(r.Status),
		SkipReason:         r.SkipReason,
		Degraded:           r.Degraded,
		ResolvedAt:         fromNullUnix(r.ResolvedAt),
		PaidAt:             fromNullUnix(r.PaidAt),
	}, nil
}

const upsertPlan = `INSERT INTO plans
	(id, member_id, member_name, kind, generation, grade, revenue_month, status, start_date,
	 parent_plan_id, termination_reason, terminated_at, created_at)
	VALUES (:id, :member_id, :member_name, :kind, :generation, :grade, :revenue_month, :status, :start_date,
	 :parent_plan_id, :termination_reason, :terminated_at, :created_at)
	ON CONFLICT(id) DO UPDATE SET
		member_name = excluded.member_name,
		grade = excluded.grade,
		status = excluded.status,
		termination_reason = excluded.termination_reason,
		terminated_at = excluded.terminated_at`

// Paid rows are excluded by the WHERE clause of the update arm.
const upsertInstallment = `INSERT INTO installments
	(plan_id, number, member_id, revenue_month, scheduled_date, grade_reference_date, resolved_grade,
	 amount, withholding_tax, net_amount, status, skip_reason, degraded, resolved_at, paid_at)
	VALUES (:plan_id, :number, :member_id, :revenue_month, :scheduled_date, :grade_reference_date, :resolved_grade,
	 :amount, :withholding_tax, :net_amount, :status, :skip_reason, :degraded, :resolved_at, :paid_at)
	ON CONFLICT(plan_id, number) DO UPDATE SET
		resolved_grade = excluded.resolved_grade,
		amount = excluded.amount,
		withholding_tax = excluded.withholding_tax,
		net_amount = excluded.net_amount,
		status = excluded.status,
		skip_reason = excluded.skip_reason,
		degraded = excluded.degraded,
		resolved_at = excluded.resolved_at,
		paid_at = excluded.paid_at
	WHERE installments.status != 'paid'`

// SavePlan inserts or updates a plan together with its installments.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *models.Plan) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := savePlan(ctx, tx, plan); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveInsuranceChange records a member's insurance amount and the plans it
// gated in one transaction.
func (s *SQLiteStore) SaveInsuranceChange(ctx context.Context, memberID string, amount int64, plans []models.Plan) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateInsurance(ctx, tx, memberID, amount); err != nil {
		return err
	}
	for i := range plans {
		if err := savePlan(ctx, tx, &plans[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func savePlan(ctx context.Context, tx *sqlx.Tx, plan *models.Plan) error {
	if plan.ID == "" {
		return errors.New("plan id is required")
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	if _, err := tx.NamedExecContext(ctx, upsertPlan, toPlanRow(plan)); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	for i := range plan.Installments {
		inst := &plan.Installments[i]
		inst.PlanID = plan.ID
		if _, err := tx.NamedExecContext(ctx, upsertInstallment, toInstallmentRow(inst)); err != nil {
			return fmt.Errorf("failed to save installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

// GetPlan retrieves a plan and its installments.
func (s *SQLiteStore) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	var row planRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM plans WHERE id = ?", planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan not found: %s: %w", planID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	plans, err := s.attachInstallments(ctx, []planRow{row})
	if err != nil {
		return nil, err
	}
	return &plans[0], nil
}

// UpdateInstallment writes a single installment unless it is already paid.
func (s *SQLiteStore) UpdateInstallment(ctx context.Context, inst *models.Installment) error {
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE installments SET
			resolved_grade = :resolved_grade,
			amount = :amount,
			withholding_tax = :withholding_tax,
			net_amount = :net_amount,
			status = :status,
			skip_reason = :skip_reason,
			degraded = :degraded,
			resolved_at = :resolved_at,
			paid_at = :paid_at
		WHERE plan_id = :plan_id AND number = :number AND status != 'paid'`,
		toInstallmentRow(inst),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.GetContext(ctx, &status,
		"SELECT status FROM installments WHERE plan_id = ? AND number = ?",
		inst.PlanID, inst.Number,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("installment not found: %s/%d: %w", inst.PlanID, inst.Number, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get installment: %w", err)
	}
	return fmt.Errorf("installment %s/%d: %w", inst.PlanID, inst.Number, storage.ErrInstallmentFrozen)
}

// ListPlansByMember returns a member's plans, oldest first.
func (s *SQLiteStore) ListPlansByMember(ctx context.Context, memberID string) ([]models.Plan, error) {
	return s.listPlans(ctx,
		"SELECT * FROM plans WHERE member_id = ? ORDER BY created_at, start_date, generation", memberID)
}

// ListPlansByMonth returns every plan of a revenue month.
func (s *SQLiteStore) ListPlansByMonth(ctx context.Context, month string) ([]models.Plan, error) {
	return s.listPlans(ctx,
		"SELECT * FROM plans WHERE revenue_month = ? ORDER BY member_id, created_at, generation", month)
}

// ListActivePlans returns every active plan.
func (s *SQLiteStore) ListActivePlans(ctx context.Context) ([]models.Plan, error) {
	return s.listPlans(ctx,
		"SELECT * FROM plans WHERE status = ? ORDER BY member_id, created_at", string(models.PlanActive))
}

// ListPlansDue returns the plans a run on date has to look at: those with an
// installment scheduled or paid that day, and active plans still owing an
// earlier installment.
func (s *SQLiteStore) ListPlansDue(ctx context.Context, date time.Time) ([]models.Plan, error) {
	return s.listPlans(ctx,
		`SELECT * FROM plans
		WHERE id IN (SELECT plan_id FROM installments
				WHERE scheduled_date = ? OR (paid_at >= ? AND paid_at < ?))
			OR (status = ? AND id IN (SELECT plan_id FROM installments
				WHERE scheduled_date < ? AND status = ?))
		ORDER BY member_id, created_at`,
		formatDay(date), date.Unix(), date.AddDate(0, 0, 1).Unix(),
		string(models.PlanActive), formatDay(date), string(models.InstallmentPending))
}

func (s *SQLiteStore) listPlans(ctx context.Context, query string, args ...any) ([]models.Plan, error) {
	var rows []planRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return s.attachInstallments(ctx, rows)
}

// attachInstallments loads the installments of every plan in one query.
func (s *SQLiteStore) attachInstallments(ctx context.Context, rows []planRow) ([]models.Plan, error) {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	query, args, err := sqlx.In(
		"SELECT * FROM installments WHERE plan_id IN (?) ORDER BY plan_id, number", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build installment query: %w", err)
	}

	var instRows []installmentRow
	if err := s.db.SelectContext(ctx, &instRows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get installments: %w", err)
	}

	byPlan := make(map[string][]models.Installment, len(rows))
	for _, r := range instRows {
		inst, err := r.toModel()
		if err != nil {
			return nil, err
		}
		byPlan[r.PlanID] = append(byPlan[r.PlanID], inst)
	}

	plans := make([]models.Plan, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		p.Installments = byPlan[p.ID]
		plans = append(plans, p)
	}
	return plans, nil
}
