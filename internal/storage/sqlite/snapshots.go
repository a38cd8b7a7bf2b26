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

type snapshotRow struct {
	ID            string `db:"id"`
	ReferenceDate string `db:"reference_date"`
	Purpose       string `db:"purpose"`
	TotalMembers  int    `db:"total_members"`
	ActiveMembers int    `db:"active_members"`
	Distribution  string `db:"distribution"`
	MaxDepth      int    `db:"max_depth"`
	CapturedAt    int64  `db:"captured_at"`
}

func (r snapshotRow) toModel() (*models.Snapshot, error) {
	ref, err := parseDay(r.ReferenceDate)
	if err != nil {
		return nil, err
	}
	snap := &models.Snapshot{
		ID:            r.ID,
		ReferenceDate: ref,
		Purpose:       models.SnapshotPurpose(r.Purpose),
		CapturedAt:    unixTime(r.CapturedAt),
		Statistics: models.SnapshotStatistics{
			TotalMembers:  r.TotalMembers,
			ActiveMembers: r.ActiveMembers,
			MaxDepth:      r.MaxDepth,
		},
	}
	if err := json.Unmarshal([]byte(r.Distribution), &snap.Statistics.Distribution); err != nil {
		return nil, fmt.Errorf("failed to decode distribution of snapshot %s: %w", r.ID, err)
	}
	return snap, nil
}

type snapshotNodeRow struct {
	SnapshotID   string `db:"snapshot_id"`
	MemberID     string `db:"member_id"`
	Name         string `db:"name"`
	Grade        string `db:"grade"`
	ParentID     string `db:"parent_id"`
	LeftChildID  string `db:"left_child_id"`
	RightChildID string `db:"right_child_id"`
	Position     string `db:"position"`
	Active       bool   `db:"active"`
	LeftCounts   string `db:"left_counts"`
	RightCounts  string `db:"right_counts"`
}

func (r snapshotNodeRow) toModel() (models.SnapshotNode, error) {
	grade, err := models.ParseGrade(r.Grade)
	if err != nil {
		return models.SnapshotNode{}, fmt.Errorf("snapshot node %s: %w", r.MemberID, err)
	}
	n := models.SnapshotNode{
		MemberID:     r.MemberID,
		Name:         r.Name,
		Grade:        grade,
		ParentID:     r.ParentID,
		LeftChildID:  r.LeftChildID,
		RightChildID: r.RightChildID,
		Position:     models.Position(r.Position),
		Active:       r.Active,
	}
	if err := json.Unmarshal([]byte(r.LeftCounts), &n.LeftCounts); err != nil {
		return n, fmt.Errorf("failed to decode left counts of %s: %w", r.MemberID, err)
	}
	if err := json.Unmarshal([]byte(r.RightCounts), &n.RightCounts); err != nil {
		return n, fmt.Errorf("failed to decode right counts of %s: %w", r.MemberID, err)
	}
	return n, nil
}

const insertSnapshotNode = `INSERT INTO snapshot_nodes
	(snapshot_id, member_id, name, grade, parent_id, left_child_id, right_child_id, position, active, left_counts, right_counts)
	VALUES (:snapshot_id, :member_id, :name, :grade, :parent_id, :left_child_id, :right_child_id, :position, :active, :left_counts, :right_counts)`

// SaveSnapshot writes snap, replacing any snapshot with the same reference date.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	if snap.ID == "" {
		return errors.New("snapshot id is required")
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}

	dist, err := json.Marshal(snap.Statistics.Distribution)
	if err != nil {
		return fmt.Errorf("failed to encode distribution: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ref := formatDay(snap.ReferenceDate)
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM snapshot_nodes WHERE snapshot_id IN (SELECT id FROM snapshots WHERE reference_date = ?)", ref,
	); err != nil {
		return fmt.Errorf("failed to clear previous snapshot nodes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE reference_date = ?", ref); err != nil {
		return fmt.Errorf("failed to clear previous snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, reference_date, purpose, total_members, active_members, distribution, max_depth, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, ref, string(snap.Purpose), snap.Statistics.TotalMembers, snap.Statistics.ActiveMembers,
		string(dist), snap.Statistics.MaxDepth, snap.CapturedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertSnapshotNode)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot node insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range snap.Nodes {
		left, err := json.Marshal(n.LeftCounts)
		if err != nil {
			return fmt.Errorf("failed to encode left counts: %w", err)
		}
		right, err := json.Marshal(n.RightCounts)
		if err != nil {
			return fmt.Errorf("failed to encode right counts: %w", err)
		}
		row := snapshotNodeRow{
			SnapshotID:   snap.ID,
			MemberID:     n.MemberID,
			Name:         n.Name,
			Grade:        n.Grade.String(),
			ParentID:     n.ParentID,
			LeftChildID:  n.LeftChildID,
			RightChildID: n.RightChildID,
			Position:     string(n.Position),
			Active:       n.Active,
			LeftCounts:   string(left),
			RightCounts:  string(right),
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("failed to insert snapshot node %s: %w", n.MemberID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot for exactly date, including its nodes.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, date time.Time) (*models.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM snapshots WHERE reference_date = ?", formatDay(date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot not found: %s: %w", formatDay(date), storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap, err := row.toModel()
	if err != nil {
		return nil, err
	}

	var nodeRows []snapshotNodeRow
	if err := s.db.SelectContext(ctx, &nodeRows,
		"SELECT * FROM snapshot_nodes WHERE snapshot_id = ? ORDER BY rowid", snap.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to get snapshot nodes: %w", err)
	}
	snap.Nodes = make([]models.SnapshotNode, 0, len(nodeRows))
	for _, r := range nodeRows {
		n, err := r.toModel()
		if err != nil {
			return nil, err
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	return snap, nil
}

// LatestSnapshotHeader returns the latest snapshot on or before date, without nodes.
func (s *SQLiteStore) LatestSnapshotHeader(ctx context.Context, date time.Time) (*models.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM snapshots WHERE reference_date <= ? ORDER BY reference_date DESC LIMIT 1",
		formatDay(date),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no snapshot on or before %s: %w", formatDay(date), storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return row.toModel()
}

// GetSnapshotNode retrieves one member's node from a snapshot.
func (s *SQLiteStore) GetSnapshotNode(ctx context.Context, snapshotID, memberID string) (*models.SnapshotNode, error) {
	var row snapshotNodeRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM snapshot_nodes WHERE snapshot_id = ? AND member_id = ?",
		snapshotID, memberID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s not in snapshot %s: %w", memberID, snapshotID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot node: %w", err)
	}
	n, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListSnapshots returns every snapshot header, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]models.Snapshot, error) {
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM snapshots ORDER BY reference_date DESC"); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	snaps := make([]models.Snapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := r.toModel()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}
