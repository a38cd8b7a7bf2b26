package models

import "time"

// SnapshotPurpose records why a snapshot was captured.
type SnapshotPurpose string

const (
	PurposeRegistration     SnapshotPurpose = "registration"
	PurposeGradeChange      SnapshotPurpose = "grade_change"
	PurposePaymentReference SnapshotPurpose = "payment_reference"
	PurposeDaily            SnapshotPurpose = "daily"
)

// Valid reports whether p is a known purpose.
func (p SnapshotPurpose) Valid() bool {
	switch p {
	case PurposeRegistration, PurposeGradeChange, PurposePaymentReference, PurposeDaily:
		return true
	}
	return false
}

// Position is a member's side relative to its parent.
type Position string

const (
	PositionRoot  Position = "root"
	PositionLeft  Position = "L"
	PositionRight Position = "R"
)

// Snapshot is the tree and grade distribution frozen at a reference date.
// A snapshot is never modified after it is stored; capturing the same date
// again replaces it as a whole.
type Snapshot struct {
	// ID is the unique identifier (UUID format).
	ID string `json:"id"`

	// ReferenceDate is the UTC day this snapshot stands for. Unique per store.
	ReferenceDate time.Time `json:"referenceDate"`

	Purpose SnapshotPurpose `json:"purpose"`

	// Nodes holds every member alive at the reference date.
	Nodes []SnapshotNode `json:"nodes"`

	Statistics SnapshotStatistics `json:"statistics"`

	// CapturedAt is when the snapshot was written.
	CapturedAt time.Time `json:"capturedAt"`
}

// Node returns the node for memberID, if present.
func (s *Snapshot) Node(memberID string) (SnapshotNode, bool) {
	for _, n := range s.Nodes {
		if n.MemberID == memberID {
			return n, true
		}
	}
	return SnapshotNode{}, false
}

// SnapshotNode is one member as seen at the snapshot's reference date.
type SnapshotNode struct {
	MemberID     string   `json:"memberId"`
	Name         string   `json:"name"`
	Grade        Grade    `json:"grade"`
	ParentID     string   `json:"parentId,omitempty"`
	LeftChildID  string   `json:"leftChildId,omitempty"`
	RightChildID string   `json:"rightChildId,omitempty"`
	Position     Position `json:"position"`
	Active       bool     `json:"active"`

	// LeftCounts and RightCounts are the grade counts of the left and right
	// subtrees, each including the child itself.
	LeftCounts  GradeCounts `json:"leftCounts"`
	RightCounts GradeCounts `json:"rightCounts"`
}

// SnapshotStatistics summarises a snapshot.
type SnapshotStatistics struct {
	TotalMembers  int `json:"totalMembers"`
	ActiveMembers int `json:"activeMembers"`

	// Distribution counts active members per grade.
	Distribution GradeCounts `json:"distribution"`

	// MaxDepth is the depth of the deepest node; a lone root has depth 0.
	MaxDepth int `json:"maxDepth"`
}
