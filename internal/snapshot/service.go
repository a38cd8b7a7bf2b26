// Package snapshot captures and resolves point-in-time copies of the member tree.
//
// Installments are priced against the grade a member held one month before
// payment, so every lookup here goes through the latest snapshot on or before
// the requested date. When no snapshot covers the date the live tree is used
// and the result is flagged as degraded rather than failing the payout.
package snapshot

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
	"github.com/tyranno/nanumpay-sub001/internal/metrics"
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
	"github.com/tyranno/nanumpay-sub001/internal/tree"
)

// Resolution is the grade a member held at a date.
type Resolution struct {
	Grade models.Grade `json:"grade"`

	// SnapshotID and SnapshotDate identify the snapshot read; both are zero
	// when Degraded.
	SnapshotID   string    `json:"snapshotId,omitempty"`
	SnapshotDate time.Time `json:"snapshotDate,omitempty"`

	// Degraded is set when the live grade was used because no snapshot on or
	// before the date contained the member.
	Degraded bool `json:"degraded"`
}

// DistributionResolution is the active grade distribution at a date.
type DistributionResolution struct {
	Distribution models.GradeCounts `json:"distribution"`
	SnapshotID   string             `json:"snapshotId,omitempty"`
	SnapshotDate time.Time          `json:"snapshotDate,omitempty"`
	Degraded     bool               `json:"degraded"`
}

// Service captures snapshots and answers point-in-time grade queries.
type Service struct {
	store storage.SnapshotStore
	live  storage.MemberStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a snapshot service. live supplies the fallback grades.
func NewService(store storage.SnapshotStore, live storage.MemberStore) *Service {
	return &Service{
		store: store,
		live:  live,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serialising captures for one reference date.
func (s *Service) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Build freezes an evaluated tree into a snapshot for date. It does not store it.
func Build(t *tree.Tree, grades map[string]models.Grade, date time.Time, purpose models.SnapshotPurpose) *models.Snapshot {
	counts := t.SubtreeCounts(grades)
	_, maxDepth := t.Depths()

	snap := &models.Snapshot{
		ID:            uuid.New().String(),
		ReferenceDate: calendar.Day(date),
		Purpose:       purpose,
		Nodes:         make([]models.SnapshotNode, 0, t.Len()),
		Statistics: models.SnapshotStatistics{
			TotalMembers: t.Len(),
			Distribution: t.Distribution(grades),
			MaxDepth:     maxDepth,
		},
	}
	snap.Statistics.ActiveMembers = snap.Statistics.Distribution.Total()

	for i := 0; i < t.Len(); i++ {
		m := t.At(i)
		left, right := t.ChildCounts(counts, i)
		snap.Nodes = append(snap.Nodes, models.SnapshotNode{
			MemberID:     m.ID,
			Name:         m.Name,
			Grade:        grades[m.ID],
			ParentID:     m.ParentID,
			LeftChildID:  m.LeftChildID,
			RightChildID: m.RightChildID,
			Position:     t.PositionOf(i),
			Active:       m.Active,
			LeftCounts:   left,
			RightCounts:  right,
		})
	}
	return snap
}

// Capture validates and grades members, then stores the snapshot for date.
// An inconsistent tree aborts with a *tree.StructuralIntegrityError and
// nothing is written.
func (s *Service) Capture(ctx context.Context, members []models.Member, date time.Time, purpose models.SnapshotPurpose) (*models.Snapshot, error) {
	t, grades, err := calculator.EvaluateMembers(members)
	if err != nil {
		metrics.SnapshotCaptureFailures.Inc()
		slog.Error("Snapshot capture aborted", "date", calendar.FormatDay(date), "error", err)
		return nil, err
	}
	return s.CaptureTree(ctx, t, grades, date, purpose)
}

// CaptureTree stores the snapshot of an already evaluated tree. Captures for
// the same date are serialised; a second capture replaces the first.
func (s *Service) CaptureTree(ctx context.Context, t *tree.Tree, grades map[string]models.Grade, date time.Time, purpose models.SnapshotPurpose) (*models.Snapshot, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("invalid snapshot purpose: %q", purpose)
	}
	start := time.Now()
	key := calendar.FormatDay(calendar.Day(date))

	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	snap := Build(t, grades, date, purpose)
	snap.CapturedAt = time.Now().UTC()
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		metrics.SnapshotCaptureFailures.Inc()
		return nil, fmt.Errorf("failed to capture snapshot for %s: %w", key, err)
	}

	metrics.SnapshotCaptures.WithLabelValues(string(purpose)).Inc()
	metrics.CaptureDuration.Observe(time.Since(start).Seconds())
	slog.Info("Snapshot captured",
		"date", key,
		"purpose", purpose,
		"members", snap.Statistics.TotalMembers,
		"max_depth", snap.Statistics.MaxDepth,
	)
	return snap, nil
}

// Get returns the snapshot stored for exactly date.
func (s *Service) Get(ctx context.Context, date time.Time) (*models.Snapshot, error) {
	return s.store.GetSnapshot(ctx, calendar.Day(date))
}

// List returns every snapshot header, newest first.
func (s *Service) List(ctx context.Context) ([]models.Snapshot, error) {
	return s.store.ListSnapshots(ctx)
}

// ResolveGrade returns the grade memberID held at date.
func (s *Service) ResolveGrade(ctx context.Context, memberID string, date time.Time) (Resolution, error) {
	date = calendar.Day(date)

	header, err := s.store.LatestSnapshotHeader(ctx, date)
	switch {
	case err == nil:
		node, err := s.store.GetSnapshotNode(ctx, header.ID, memberID)
		if err == nil {
			return Resolution{Grade: node.Grade, SnapshotID: header.ID, SnapshotDate: header.ReferenceDate}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return Resolution{}, fmt.Errorf("failed to resolve grade: %w", err)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return Resolution{}, fmt.Errorf("failed to resolve grade: %w", err)
	}

	member, err := s.live.GetMember(ctx, memberID)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to resolve live grade: %w", err)
	}

	metrics.DegradedResolutions.WithLabelValues("grade").Inc()
	slog.Warn("Snapshot resolution gap, using live grade",
		"member_id", memberID,
		"date", calendar.FormatDay(date),
		"live_grade", member.Grade,
	)
	return Resolution{Grade: member.Grade, Degraded: true}, nil
}

// ResolveGradeDistribution returns the active grade distribution at date.
func (s *Service) ResolveGradeDistribution(ctx context.Context, date time.Time) (DistributionResolution, error) {
	date = calendar.Day(date)

	header, err := s.store.LatestSnapshotHeader(ctx, date)
	if err == nil {
		return DistributionResolution{
			Distribution: header.Statistics.Distribution,
			SnapshotID:   header.ID,
			SnapshotDate: header.ReferenceDate,
		}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return DistributionResolution{}, fmt.Errorf("failed to resolve distribution: %w", err)
	}

	members, err := s.live.ListMembers(ctx)
	if err != nil {
		return DistributionResolution{}, fmt.Errorf("failed to resolve live distribution: %w", err)
	}
	var dist models.GradeCounts
	for _, m := range members {
		if m.Active {
			dist.Add(m.Grade)
		}
	}

	metrics.DegradedResolutions.WithLabelValues("distribution").Inc()
	slog.Warn("Snapshot resolution gap, using live distribution",
		"date", calendar.FormatDay(date),
		"members", dist.Total(),
	)
	return DistributionResolution{Distribution: dist, Degraded: true}, nil
}
