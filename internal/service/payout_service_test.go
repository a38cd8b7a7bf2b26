package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/scheduler"
	"github.com/tyranno/nanumpay-sub001/internal/snapshot"
	"github.com/tyranno/nanumpay-sub001/internal/storage"
	"github.com/tyranno/nanumpay-sub001/internal/storage/sqlite"
	"github.com/tyranno/nanumpay-sub001/internal/tree"
)

func setupService(t *testing.T) (*PayoutService, *sqlite.SQLiteStore) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	snaps := snapshot.NewService(store, store)
	sched, err := scheduler.New(store, snaps, scheduler.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return NewPayoutService(store, snaps, sched), store
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func member(id, parent, left, right string) models.Member {
	return models.Member{ID: id, Name: id, ParentID: parent, LeftChildID: left, RightChildID: right, Active: true}
}

// threeMembers is root with two leaf children.
func threeMembers() []models.Member {
	return []models.Member{
		member("root", "", "a", "b"),
		member("a", "root", "", ""),
		member("b", "root", "", ""),
	}
}

func TestApplyTree(t *testing.T) {
	tests := []struct {
		name         string
		members      []models.Member
		wantErr      error
		validateFunc func(t *testing.T, res *TreeResult, store *sqlite.SQLiteStore)
	}{
		{
			name:    "registration creates initial plans",
			members: threeMembers(),
			validateFunc: func(t *testing.T, res *TreeResult, store *sqlite.SQLiteStore) {
				if res.Purpose != models.PurposeRegistration {
					t.Errorf("Purpose = %s, want registration", res.Purpose)
				}
				if len(res.NewMembers) != 3 || res.PlansCreated != 3 {
					t.Errorf("new=%v plans=%d, want 3 and 3", res.NewMembers, res.PlansCreated)
				}
				if res.Distribution.Get(models.F1) != 2 || res.Distribution.Get(models.F2) != 1 {
					t.Errorf("Distribution = %v", res.Distribution)
				}
				root, err := store.GetMember(context.Background(), "root")
				if err != nil {
					t.Fatalf("GetMember failed: %v", err)
				}
				if root.Grade != models.F2 {
					t.Errorf("root grade = %v, want F2", root.Grade)
				}
				plans, _ := store.ListPlansByMember(context.Background(), "root")
				if len(plans) != 1 || plans[0].Grade != models.F2 || plans[0].Kind != models.PlanInitial {
					t.Errorf("root plans = %+v", plans)
				}
			},
		},
		{
			name: "cycle is rejected before anything is written",
			members: []models.Member{
				member("x", "y", "y", ""),
				member("y", "x", "x", ""),
			},
			wantErr: tree.ErrStructuralIntegrity,
			validateFunc: func(t *testing.T, res *TreeResult, store *sqlite.SQLiteStore) {
				ctx := context.Background()
				members, _ := store.ListMembers(ctx)
				snaps, _ := store.ListSnapshots(ctx)
				if len(members) != 0 || len(snaps) != 0 {
					t.Errorf("rejected tree left %d members and %d snapshots", len(members), len(snaps))
				}
			},
		},
		{
			name: "dangling child is rejected",
			members: []models.Member{
				member("root", "", "ghost", ""),
			},
			wantErr: tree.ErrStructuralIntegrity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := setupService(t)
			res, err := svc.ApplyTree(context.Background(), tt.members, date(t, "2025-07-15"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ApplyTree error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("ApplyTree failed: %v", err)
			}
			if tt.validateFunc != nil {
				tt.validateFunc(t, res, store)
			}
		})
	}
}

func TestApplyTreePromotion(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	if _, err := svc.ApplyTree(ctx, threeMembers(), date(t, "2025-07-15")); err != nil {
		t.Fatalf("first ApplyTree failed: %v", err)
	}

	grown := []models.Member{
		member("root", "", "a", "b"),
		member("a", "root", "c", "d"),
		member("b", "root", "", ""),
		member("c", "a", "", ""),
		member("d", "a", "", ""),
	}
	res, err := svc.ApplyTree(ctx, grown, date(t, "2025-08-20"))
	if err != nil {
		t.Fatalf("second ApplyTree failed: %v", err)
	}

	if len(res.Promotions) != 1 || res.Promotions[0].MemberID != "a" || res.Promotions[0].To != models.F2 {
		t.Errorf("Promotions = %+v, want a -> F2", res.Promotions)
	}
	if res.PlansCreated != 3 {
		t.Errorf("PlansCreated = %d, want 3 (c, d and a's promotion)", res.PlansCreated)
	}

	plans, err := store.ListPlansByMember(ctx, "a")
	if err != nil {
		t.Fatalf("ListPlansByMember failed: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("a has %d plans, want 2", len(plans))
	}
	if plans[0].Status != models.PlanTerminated || plans[1].Kind != models.PlanPromotion || plans[1].RevenueMonth != "2025-08" {
		t.Errorf("a's plans = %s/%s, %s/%s", plans[0].Kind, plans[0].Status, plans[1].Kind, plans[1].Status)
	}

	// Unchanged tree, new date: daily snapshot, no plans.
	again, err := svc.ApplyTree(ctx, grown, date(t, "2025-08-21"))
	if err != nil {
		t.Fatalf("third ApplyTree failed: %v", err)
	}
	if again.Purpose != models.PurposeDaily || again.PlansCreated != 0 {
		t.Errorf("unchanged tree = %s with %d plans", again.Purpose, again.PlansCreated)
	}
}

func TestRevenueLifecycle(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	if _, err := svc.ApplyTree(ctx, threeMembers(), date(t, "2025-07-15")); err != nil {
		t.Fatalf("ApplyTree failed: %v", err)
	}

	res, err := svc.SetRevenue(ctx, "2025-07", 10_000_000)
	if err != nil {
		t.Fatalf("SetRevenue failed: %v", err)
	}
	if res.Members != 3 || res.Installments != 30 {
		t.Errorf("recompute = %+v, want 3 members and 30 installments", res)
	}
	// Installments 1-3 reference dates before the 2025-07-15 snapshot.
	if res.Degraded != 9 {
		t.Errorf("Degraded = %d, want 9", res.Degraded)
	}

	plans, _ := store.ListPlansByMember(ctx, "a")
	if got := plans[0].Installments[9].Amount; got != 80000 {
		t.Errorf("F1 installment = %d, want 80000", got)
	}

	table, err := svc.CloseMonth(ctx, "2025-07")
	if err != nil {
		t.Fatalf("CloseMonth failed: %v", err)
	}
	// F1: 2,400,000 / 3; F2: 1,900,000 / 1 + 800,000; F3.. carry.
	want := map[models.Grade]int64{models.F1: 800000, models.F2: 2700000, models.F5: 2700000, models.F8: 2700000}
	for g, amount := range want {
		if table.Amount(g) != amount {
			t.Errorf("table[%s] = %d, want %d", g, table.Amount(g), amount)
		}
	}
	stored, err := svc.PaymentTable(ctx, "2025-07")
	if err != nil {
		t.Fatalf("PaymentTable failed: %v", err)
	}
	if stored.Amounts != table.Amounts {
		t.Errorf("stored table %v differs from computed %v", stored.Amounts, table.Amounts)
	}

	if _, err := svc.AdjustRevenue(ctx, "2025-07", 20_000_000, "late invoice"); err != nil {
		t.Fatalf("AdjustRevenue failed: %v", err)
	}
	plans, _ = store.ListPlansByMember(ctx, "a")
	if got := plans[0].Installments[9].Amount; got != 160000 {
		t.Errorf("adjusted F1 installment = %d, want 160000", got)
	}
	rev, _ := store.GetRevenue(ctx, "2025-07")
	if rev.Amount != 10_000_000 || rev.Effective() != 20_000_000 || rev.OverrideReason != "late invoice" {
		t.Errorf("revenue after adjust = %+v", rev)
	}
}

func TestCaptureSnapshotRepricesCoveredInstallments(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	if _, err := svc.ApplyTree(ctx, threeMembers(), date(t, "2025-07-15")); err != nil {
		t.Fatalf("ApplyTree failed: %v", err)
	}
	if _, err := svc.SetRevenue(ctx, "2025-07", 10_000_000); err != nil {
		t.Fatalf("SetRevenue failed: %v", err)
	}

	// Installments 1-3 reference 2025-06-30, 07-07 and 07-14, all before
	// the first snapshot, so they were priced from the live tree.
	plans, _ := store.ListPlansByMember(ctx, "a")
	for _, inst := range plans[0].Installments[:3] {
		if !inst.Degraded {
			t.Fatalf("installment %d not degraded before the earlier snapshot", inst.Number)
		}
	}

	if _, err := svc.CaptureSnapshot(ctx, date(t, "2025-06-30"), models.PurposePaymentReference); err != nil {
		t.Fatalf("CaptureSnapshot failed: %v", err)
	}

	plans, _ = store.ListPlansByMember(ctx, "a")
	for _, inst := range plans[0].Installments {
		if inst.Degraded {
			t.Errorf("installment %d still degraded after capture", inst.Number)
		}
		if inst.ResolvedGrade != models.F1 || inst.Amount != 80000 {
			t.Errorf("installment %d = %v / %d, want F1 / 80000", inst.Number, inst.ResolvedGrade, inst.Amount)
		}
	}
}

func TestRevenueValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "bad month",
			run: func() error {
				_, err := svc.SetRevenue(ctx, "2025/07", 1000)
				return err
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "adjust without reason",
			run: func() error {
				_, err := svc.AdjustRevenue(ctx, "2025-07", 1000, "")
				return err
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "adjust unknown month",
			run: func() error {
				_, err := svc.AdjustRevenue(ctx, "2025-07", 1000, "correction")
				return err
			},
			wantErr: storage.ErrNotFound,
		},
		{
			name: "close unknown month",
			run: func() error {
				_, err := svc.CloseMonth(ctx, "2025-07")
				return err
			},
			wantErr: storage.ErrNotFound,
		},
		{
			name: "negative insurance",
			run: func() error {
				_, err := svc.ApplyInsurance(ctx, "root", -1, time.Now())
				return err
			},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlansForUnknownMember(t *testing.T) {
	svc, _ := setupService(t)
	if _, err := svc.Plans(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Plans error = %v, want ErrNotFound", err)
	}
}
