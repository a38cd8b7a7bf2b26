package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
)

type memberRow struct {
	ID              string `db:"id"`
	Name            string `db:"name"`
	ParentID        string `db:"parent_id"`
	LeftChildID     string `db:"left_child_id"`
	RightChildID    string `db:"right_child_id"`
	Grade           string `db:"grade"`
	InsuranceAmount int64  `db:"insurance_amount"`
	Active          bool   `db:"active"`
	RegisteredAt    string `db:"registered_at"`
}

func toMemberRow(m models.Member) memberRow {
	return memberRow{
		ID:              m.ID,
		Name:            m.Name,
		ParentID:        m.ParentID,
		LeftChildID:     m.LeftChildID,
		RightChildID:    m.RightChildID,
		Grade:           gradeColumn(m.Grade),
		InsuranceAmount: m.InsuranceAmount,
		Active:          m.Active,
		RegisteredAt:    formatDay(m.RegisteredAt),
	}
}

func (r memberRow) toModel() (models.Member, error) {
	grade, err := parseGradeColumn(r.Grade)
	if err != nil {
		return models.Member{}, fmt.Errorf("member %s: %w", r.ID, err)
	}
	registered, err := parseDay(r.RegisteredAt)
	if err != nil {
		return models.Member{}, err
	}
	return models.Member{
		ID:              r.ID,
		Name:            r.Name,
		ParentID:        r.ParentID,
		LeftChildID:     r.LeftChildID,
		RightChildID:    r.RightChildID,
		Grade:           grade,
		InsuranceAmount: r.InsuranceAmount,
		Active:          r.Active,
		RegisteredAt:    registered,
	}, nil
}

const insertMember = `INSERT INTO members
	(id, name, parent_id, left_child_id, right_child_id, grade, insurance_amount, active, registered_at)
	VALUES (:id, :name, :parent_id, :left_child_id, :right_child_id, :grade, :insurance_amount, :active, :registered_at)`

// ReplaceMembers swaps the live tree for members.
func (s *SQLiteStore) ReplaceMembers(ctx context.Context, members []models.Member) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM members"); err != nil {
		return fmt.Errorf("failed to clear members: %w", err)
	}

	for _, m := range members {
		if _, err := tx.NamedExecContext(ctx, insertMember, toMemberRow(m)); err != nil {
			return fmt.Errorf("failed to insert member %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetMember retrieves a live member by ID.
func (s *SQLiteStore) GetMember(ctx context.Context, memberID string) (*models.Member, error) {
	var row memberRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM members WHERE id = ?", memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member not found: %s: %w", memberID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMembers returns every live member.
func (s *SQLiteStore) ListMembers(ctx context.Context) ([]models.Member, error) {
	var rows []memberRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM members ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	members := make([]models.Member, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

// UpdateInsurance records the member's current insurance amount.
func (s *SQLiteStore) UpdateInsurance(ctx context.Context, memberID string, amount int64) error {
	return updateInsurance(ctx, s.db, memberID, amount)
}

func updateInsurance(ctx context.Context, db sqlx.ExecerContext, memberID string, amount int64) error {
	res, err := db.ExecContext(ctx,
		"UPDATE members SET insurance_amount = ? WHERE id = ?",
		amount, memberID,
	)
	if err != nil {
		return fmt.Errorf("failed to update insurance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("member not found: %s: %w", memberID, storage.ErrNotFound)
	}
	return nil
}
