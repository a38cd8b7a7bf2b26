package models

import "time"

// Member is one node of the binary tree as supplied by the member directory.
type Member struct {
	// ID is the member's unique identifier (login ID in the directory).
	ID string `json:"id" yaml:"id"`

	// Name is the display name.
	Name string `json:"name" yaml:"name"`

	// ParentID is empty for a root.
	ParentID string `json:"parentId,omitempty" yaml:"parentId"`

	// LeftChildID and RightChildID are empty when the slot is free.
	LeftChildID  string `json:"leftChildId,omitempty" yaml:"leftChildId"`
	RightChildID string `json:"rightChildId,omitempty" yaml:"rightChildId"`

	// Grade is the live grade from the latest evaluation.
	// It is zero on tree input and filled in by the evaluator.
	Grade Grade `json:"grade,omitempty" yaml:"-"`

	// InsuranceAmount is the monthly insurance premium on file, in currency units.
	InsuranceAmount int64 `json:"insuranceAmount" yaml:"insuranceAmount"`

	// Active is false for deactivated accounts. Inactive members keep their
	// position in the tree but are not counted in grade distributions.
	Active bool `json:"active" yaml:"active"`

	// RegisteredAt is the registration date.
	RegisteredAt time.Time `json:"registeredAt" yaml:"registeredAt"`
}
