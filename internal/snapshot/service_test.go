package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/storage/sqlite"
	"github.com/tyranno/nanumpay-sub001/internal/tree"
)

func setupService(t *testing.T) (*Service, *sqlite.SQLiteStore) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewService(store, store), store
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func member(id, parent, left, right string) models.Member {
	return models.Member{ID: id, Name: id, ParentID: parent, LeftChildID: left, RightChildID: right, Active: true}
}

func sevenNodeTree() []models.Member {
	return []models.Member{
		member("root", "", "a", "b"),
		member("a", "root", "a1", "a2"),
		member("b", "root", "b1", "b2"),
		member("a1", "a", "", ""),
		member("a2", "a", "", ""),
		member("b1", "b", "", ""),
		member("b2", "b", "", ""),
	}
}

func TestCapture(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	snap, err := svc.Capture(ctx, sevenNodeTree(), day("2025-07-01"), models.PurposeRegistration)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	stats := snap.Statistics
	if stats.TotalMembers != 7 || stats.ActiveMembers != 7 || stats.MaxDepth != 2 {
		t.Errorf("statistics = %+v", stats)
	}
	if stats.Distribution.Get(models.F1) != 4 || stats.Distribution.Get(models.F2) != 2 || stats.Distribution.Get(models.F3) != 1 {
		t.Errorf("distribution = %v", stats.Distribution)
	}

	root, ok := snap.Node("root")
	if !ok {
		t.Fatal("root node missing")
	}
	if root.Grade != models.F3 || root.Position != models.PositionRoot {
		t.Errorf("root node = %+v", root)
	}
	if root.LeftCounts.Total() != 3 || root.LeftCounts.Get(models.F2) != 1 {
		t.Errorf("root left counts = %v", root.LeftCounts)
	}

	stored, err := svc.Get(ctx, day("2025-07-01"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.ID != snap.ID || len(stored.Nodes) != 7 {
		t.Errorf("stored snapshot = %s with %d nodes", stored.ID, len(stored.Nodes))
	}
}

func TestCaptureAbortsOnBrokenTree(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	broken := []models.Member{
		member("root", "", "ghost", ""),
	}
	_, err := svc.Capture(ctx, broken, day("2025-07-01"), models.PurposeDaily)
	if !errors.Is(err, tree.ErrStructuralIntegrity) {
		t.Fatalf("error = %v, want structural integrity error", err)
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("broken capture wrote %d snapshots", len(list))
	}
}

func TestCaptureIsIdempotentPerDate(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Capture(ctx, sevenNodeTree(), day("2025-07-01"), models.PurposeDaily)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Capture failed: %v", err)
		}
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d snapshots for one date, want 1", len(list))
	}
}

func TestSnapshotIsolatedFromLaterTreeChanges(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	members := sevenNodeTree()
	if _, err := svc.Capture(ctx, members, day("2025-07-01"), models.PurposeDaily); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	before, _ := svc.Get(ctx, day("2025-07-01"))

	// The live tree grows and is re-captured on a later date.
	members[3].LeftChildID, members[3].RightChildID = "x", "y"
	members = append(members, member("x", "a1", "", ""), member("y", "a1", "", ""))
	if _, err := svc.Capture(ctx, members, day("2025-07-02"), models.PurposeRegistration); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if err := store.ReplaceMembers(ctx, members); err != nil {
		t.Fatalf("ReplaceMembers failed: %v", err)
	}

	after, _ := svc.Get(ctx, day("2025-07-01"))
	if len(after.Nodes) != len(before.Nodes) || after.ID != before.ID {
		t.Fatalf("old snapshot changed: %d nodes -> %d", len(before.Nodes), len(after.Nodes))
	}
	for i := range before.Nodes {
		if before.Nodes[i] != after.Nodes[i] {
			t.Errorf("node %d changed: %+v -> %+v", i, before.Nodes[i], after.Nodes[i])
		}
	}

	res, err := svc.ResolveGrade(ctx, "a1", day("2025-07-01"))
	if err != nil {
		t.Fatalf("ResolveGrade failed: %v", err)
	}
	if res.Grade != models.F1 {
		t.Errorf("a1 on 07-01 = %v, want F1", res.Grade)
	}
	res, _ = svc.ResolveGrade(ctx, "a1", day("2025-07-05"))
	if res.Grade != models.F2 {
		t.Errorf("a1 on 07-05 = %v, want F2", res.Grade)
	}
}

func TestResolveFallsBackToLiveGrade(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	live := sevenNodeTree()
	for i := range live {
		live[i].Grade = models.F1
	}
	live[0].Grade = models.F3
	if err := store.ReplaceMembers(ctx, live); err != nil {
		t.Fatalf("ReplaceMembers failed: %v", err)
	}

	tests := []struct {
		name         string
		setup        func(t *testing.T)
		memberID     string
		date         string
		wantGrade    models.Grade
		wantDegraded bool
		wantErr      bool
	}{
		{
			name:         "no snapshot at all",
			memberID:     "root",
			date:         "2025-06-01",
			wantGrade:    models.F3,
			wantDegraded: true,
		},
		{
			name: "snapshot covers the date",
			setup: func(t *testing.T) {
				if _, err := svc.Capture(ctx, sevenNodeTree()[3:4], day("2025-06-15"), models.PurposeDaily); err == nil {
					t.Fatal("expected capture of a detached child to fail")
				}
				if _, err := svc.Capture(ctx, sevenNodeTree(), day("2025-06-15"), models.PurposeDaily); err != nil {
					t.Fatalf("Capture failed: %v", err)
				}
			},
			memberID:  "a",
			date:      "2025-06-20",
			wantGrade: models.F2,
		},
		{
			name:         "date before the first snapshot",
			memberID:     "a",
			date:         "2025-06-14",
			wantGrade:    models.F1,
			wantDegraded: true,
		},
		{
			name:     "unknown member",
			memberID: "ghost",
			date:     "2025-06-20",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(t)
			}
			res, err := svc.ResolveGrade(ctx, tt.memberID, day(tt.date))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveGrade error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if res.Grade != tt.wantGrade || res.Degraded != tt.wantDegraded {
				t.Errorf("ResolveGrade = %+v, want grade %v degraded %v", res, tt.wantGrade, tt.wantDegraded)
			}
		})
	}
}

func TestResolveGradeDistribution(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	live := sevenNodeTree()
	for i := range live {
		live[i].Grade = models.F1
	}
	live[6].Active = false
	if err := store.ReplaceMembers(ctx, live); err != nil {
		t.Fatalf("ReplaceMembers failed: %v", err)
	}

	res, err := svc.ResolveGradeDistribution(ctx, day("2025-06-01"))
	if err != nil {
		t.Fatalf("ResolveGradeDistribution failed: %v", err)
	}
	if !res.Degraded || res.Distribution.Get(models.F1) != 6 {
		t.Errorf("fallback = %+v, want degraded with 6 active F1", res)
	}

	if _, err := svc.Capture(ctx, sevenNodeTree(), day("2025-06-01"), models.PurposePaymentReference); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	res, err = svc.ResolveGradeDistribution(ctx, day("2025-06-30"))
	if err != nil {
		t.Fatalf("ResolveGradeDistribution failed: %v", err)
	}
	if res.Degraded || res.Distribution.Get(models.F3) != 1 || res.SnapshotID == "" {
		t.Errorf("snapshot distribution = %+v", res)
	}
}
