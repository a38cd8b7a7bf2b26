// Package models defines the core domain models for the grade and payout engine.
//
// # Models
//
//   - Member: a node of the binary referral tree with its current (live) grade
//   - Snapshot: a frozen copy of the tree and its grade distribution at a reference date
//   - GradePaymentTable: the per-grade payment derived from one month's revenue
//   - MonthlyRevenue: the recognised revenue of a month, with an optional audited override
//   - Plan and Installment: the ten weekly payments owed to a member for one grade
//
// # Design Principles
//
// 1. **IDs over pointers**: tree links are member ID strings, never pointers, so a
// snapshot can be copied and stored without aliasing the live tree.
// 2. **Day-precision dates**: reference, scheduled and grade-reference dates are UTC
// midnights; only audit timestamps (CapturedAt, PaidAt, ...) carry a time of day.
// 3. **Integer money**: payment amounts are whole currency units (int64) after truncation;
// only revenue, an external input, is a float.
package models
