// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tyranno/nanumpay-sub001/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInstallmentFrozen is returned when a write targets a paid installment.
	ErrInstallmentFrozen = errors.New("installment already paid")
)

// MemberStore holds the live member directory: the latest evaluated tree.
type MemberStore interface {
	// ReplaceMembers swaps the whole live tree for members in one transaction.
	ReplaceMembers(ctx context.Context, members []models.Member) error

	// GetMember returns ErrNotFound for unknown IDs.
	GetMember(ctx context.Context, memberID string) (*models.Member, error)

	// ListMembers returns every live member ordered by ID.
	ListMembers(ctx context.Context) ([]models.Member, error)

	// UpdateInsurance records a member's current insurance amount.
	UpdateInsurance(ctx context.Context, memberID string, amount int64) error
}

// SnapshotStore persists immutable tree snapshots keyed by reference date.
type SnapshotStore interface {
	// SaveSnapshot writes snap, atomically replacing any snapshot with the
	// same reference date.
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error

	// GetSnapshot returns the snapshot for exactly date, nodes included.
	GetSnapshot(ctx context.Context, date time.Time) (*models.Snapshot, error)

	// LatestSnapshotHeader returns the latest snapshot on or before date
	// without its nodes, or ErrNotFound.
	LatestSnapshotHeader(ctx context.Context, date time.Time) (*models.Snapshot, error)

	// GetSnapshotNode returns one member's node from a snapshot, or ErrNotFound.
	GetSnapshotNode(ctx context.Context, snapshotID, memberID string) (*models.SnapshotNode, error)

	// ListSnapshots returns every snapshot header, newest first.
	ListSnapshots(ctx context.Context) ([]models.Snapshot, error)
}

// RevenueStore persists monthly revenue and the payment tables derived from it.
type RevenueStore interface {
	SaveRevenue(ctx context.Context, rev *models.MonthlyRevenue) error
	GetRevenue(ctx context.Context, month string) (*models.MonthlyRevenue, error)
	SavePaymentTable(ctx context.Context, table *models.GradePaymentTable) error
	GetPaymentTable(ctx context.Context, month string) (*models.GradePaymentTable, error)
}

// PlanStore persists plans and their installments.
type PlanStore interface {
	// SavePlan inserts or updates a plan and all of its installments in one
	// transaction. Paid installments are never overwritten.
	SavePlan(ctx context.Context, plan *models.Plan) error

	// GetPlan returns a plan with its installments ordered by number.
	GetPlan(ctx context.Context, planID string) (*models.Plan, error)

	// UpdateInstallment writes one installment. It returns ErrInstallmentFrozen
	// if the stored row is already paid.
	UpdateInstallment(ctx context.Context, inst *models.Installment) error

	ListPlansByMember(ctx context.Context, memberID string) ([]models.Plan, error)
	ListPlansByMonth(ctx context.Context, month string) ([]models.Plan, error)
	ListActivePlans(ctx context.Context) ([]models.Plan, error)

	// ListPlansDue returns plans with an installment scheduled or paid on
	// date, plus plans holding a pending installment scheduled before it.
	ListPlansDue(ctx context.Context, date time.Time) ([]models.Plan, error)
}

// Store defines the full persistence surface of the engine.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	MemberStore
	SnapshotStore
	RevenueStore
	PlanStore

	// SaveInsuranceChange writes a member's insurance amount together with
	// the plans the change gated, all or nothing.
	SaveInsuranceChange(ctx context.Context, memberID string, amount int64, plans []models.Plan) error

	// Close releases any resources held by the store.
	Close() error
}
