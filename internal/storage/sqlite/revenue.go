package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
)

type revenueRow struct {
	Month          string          `db:"month"`
	Amount         float64         `db:"amount"`
	OverrideAmount sql.NullFloat64 `db:"override_amount"`
	OverrideReason string          `db:"override_reason"`
	UpdatedAt      int64           `db:"updated_at"`
}

// SaveRevenue inserts or replaces a month's revenue.
func (s *SQLiteStore) SaveRevenue(ctx context.Context, rev *models.MonthlyRevenue) error {
	if rev.UpdatedAt.IsZero() {
		rev.UpdatedAt = time.Now().UTC()
	}
	var override sql.NullFloat64
	if rev.Override != nil {
		override = sql.NullFloat64{Float64: *rev.Override, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monthly_revenue (month, amount, override_amount, override_reason, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(month) DO UPDATE SET
			amount = excluded.amount,
			override_amount = excluded.override_amount,
			override_reason = excluded.override_reason,
			updated_at = excluded.updated_at`,
		rev.Month, rev.Amount, override, rev.OverrideReason, rev.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save revenue: %w", err)
	}
	return nil
}

// GetRevenue retrieves a month's revenue.
func (s *SQLiteStore) GetRevenue(ctx context.Context, month string) (*models.MonthlyRevenue, error) {
	var row revenueRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM monthly_revenue WHERE month = ?", month)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revenue not found: %s: %w", month, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revenue: %w", err)
	}

	rev := &models.MonthlyRevenue{
		Month:          row.Month,
		Amount:         row.Amount,
		OverrideReason: row.OverrideReason,
		UpdatedAt:      unixTime(row.UpdatedAt),
	}
	if row.OverrideAmount.Valid {
		v := row.OverrideAmount.Float64
		rev.Override = &v
	}
	return rev, nil
}

type paymentTableRow struct {
	Month        string  `db:"month"`
	Revenue      float64 `db:"revenue"`
	Distribution string  `db:"distribution"`
	Amounts      string  `db:"amounts"`
	ComputedAt   int64   `db:"computed_at"`
}

// SavePaymentTable inserts or replaces a month's payment table.
func (s *SQLiteStore) SavePaymentTable(ctx context.Context, table *models.GradePaymentTable) error {
	if table.Month == "" {
		return errors.New("payment table month is required")
	}
	if table.ComputedAt.IsZero() {
		table.ComputedAt = time.Now().UTC()
	}
	dist, err := json.Marshal(table.Distribution)
	if err != nil {
		return fmt.Errorf("failed to encode distribution: %w", err)
	}
	amounts, err := json.Marshal(table.Amounts)
	if err != nil {
		return fmt.Errorf("failed to encode amounts: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO payment_tables (month, revenue, distribution, amounts, computed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(month) DO UPDATE SET
			revenue = excluded.revenue,
			distribution = excluded.distribution,
			amounts = excluded.amounts,
			computed_at = excluded.computed_at`,
		table.Month, table.Revenue, string(dist), string(amounts), table.ComputedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment table: %w", err)
	}
	return nil
}

// GetPaymentTable retrieves a month's payment table.
func (s *SQLiteStore) GetPaymentTable(ctx context.Context, month string) (*models.GradePaymentTable, error) {
	var row paymentTableRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM payment_tables WHERE month = ?", month)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment table not found: %s: %w", month, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment table: %w", err)
	}

	table := &models.GradePaymentTable{
		Month:      row.Month,
		Revenue:    row.Revenue,
		ComputedAt: unixTime(row.ComputedAt),
	}
	if err := json.Unmarshal([]byte(row.Distribution), &table.Distribution); err != nil {
		return nil, fmt.Errorf("failed to decode distribution: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Amounts), &table.Amounts); err != nil {
		return nil, fmt.Errorf("failed to decode amounts: %w", err)
	}
	return table, nil
}
