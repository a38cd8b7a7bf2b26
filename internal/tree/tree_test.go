package tree

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tyranno/nanumpay-sub001/internal/models"
)

// link builds a member with the given parent and children.
func link(id, parent, left, right string) models.Member {
	return models.Member{ID: id, Name: id, ParentID: parent, LeftChildID: left, RightChildID: right, Active: true}
}

func perfectTree() []models.Member {
	return []models.Member{
		link("root", "", "a", "b"),
		link("a", "root", "a1", "a2"),
		link("b", "root", "b1", "b2"),
		link("a1", "a", "", ""),
		link("a2", "a", "", ""),
		link("b1", "b", "", ""),
		link("b2", "b", "", ""),
	}
}

func TestNewRejectsInvalidStructure(t *testing.T) {
	tests := []struct {
		name       string
		members    []models.Member
		wantMember string
		wantReason string
	}{
		{
			name: "dangling child reference",
			members: []models.Member{
				link("root", "", "ghost", ""),
			},
			wantMember: "root",
			wantReason: "dangling child",
		},
		{
			name: "same child on both sides",
			members: []models.Member{
				link("root", "", "a", "a"),
				link("a", "root", "", ""),
			},
			wantMember: "root",
			wantReason: "both sides",
		},
		{
			name: "child claimed by two parents",
			members: []models.Member{
				link("p1", "", "c", ""),
				link("p2", "", "c", ""),
				link("c", "p1", "", ""),
			},
			wantMember: "c",
			wantReason: "claimed by both",
		},
		{
			name: "parent link disagrees with child link",
			members: []models.Member{
				link("root", "", "a", ""),
				link("other", "", "", ""),
				link("a", "other", "", ""),
			},
			wantMember: "a",
			wantReason: "lists it as a child",
		},
		{
			name: "parent does not list child",
			members: []models.Member{
				link("root", "", "", ""),
				link("a", "root", "", ""),
			},
			wantMember: "a",
			wantReason: "does not list it",
		},
		{
			name: "cycle without a root",
			members: []models.Member{
				link("x", "y", "y", ""),
				link("y", "x", "x", ""),
			},
			wantReason: "cycle",
		},
		{
			name: "cycle beside a valid tree",
			members: []models.Member{
				link("root", "", "", ""),
				link("x", "z", "y", ""),
				link("y", "x", "z", ""),
				link("z", "y", "x", ""),
			},
			wantReason: "cycle",
		},
		{
			name: "duplicate id",
			members: []models.Member{
				link("root", "", "", ""),
				link("root", "", "", ""),
			},
			wantMember: "root",
			wantReason: "duplicate member id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.members)
			if err == nil {
				t.Fatal("expected structural integrity error")
			}
			if !errors.Is(err, ErrStructuralIntegrity) {
				t.Fatalf("error %v does not match ErrStructuralIntegrity", err)
			}
			var sie *StructuralIntegrityError
			if !errors.As(err, &sie) {
				t.Fatalf("error %v is not a *StructuralIntegrityError", err)
			}
			if tt.wantMember != "" && sie.MemberID != tt.wantMember {
				t.Errorf("MemberID = %q, want %q", sie.MemberID, tt.wantMember)
			}
			if !strings.Contains(sie.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", sie.Reason, tt.wantReason)
			}
		})
	}
}

func TestPostOrderVisitsChildrenFirst(t *testing.T) {
	tr, err := New(perfectTree())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	seen := make(map[int]bool)
	for _, i := range tr.PostOrder() {
		for _, c := range []int{tr.Left(i), tr.Right(i)} {
			if c != -1 && !seen[c] {
				t.Errorf("%s visited before child %s", tr.At(i).ID, tr.At(c).ID)
			}
		}
		seen[i] = true
	}
	if len(seen) != tr.Len() {
		t.Errorf("visited %d nodes, want %d", len(seen), tr.Len())
	}
}

func TestForestWithSeveralRoots(t *testing.T) {
	members := append(perfectTree(), link("solo", "", "", ""))
	tr, err := New(members)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := len(tr.Roots()); got != 2 {
		t.Errorf("Roots() = %d, want 2", got)
	}
}

func TestSubtreeCountsAndDepths(t *testing.T) {
	tr, err := New(perfectTree())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	grades := map[string]models.Grade{
		"root": models.F3, "a": models.F2, "b": models.F2,
		"a1": models.F1, "a2": models.F1, "b1": models.F1, "b2": models.F1,
	}
	counts := tr.SubtreeCounts(grades)

	root, _ := tr.Lookup("root")
	left, right := tr.ChildCounts(counts, root)
	if left.Get(models.F1) != 2 || left.Get(models.F2) != 1 || left.Total() != 3 {
		t.Errorf("left counts = %v, want F1:2 F2:1", left)
	}
	if right != left {
		t.Errorf("right counts = %v, want %v", right, left)
	}
	if counts[root].Total() != 7 {
		t.Errorf("root subtree total = %d, want 7", counts[root].Total())
	}

	leaf, _ := tr.Lookup("a1")
	l, r := tr.ChildCounts(counts, leaf)
	if l.Total() != 0 || r.Total() != 0 {
		t.Errorf("leaf child counts = %v / %v, want empty", l, r)
	}

	depths, maxDepth := tr.Depths()
	if maxDepth != 2 {
		t.Errorf("maxDepth = %d, want 2", maxDepth)
	}
	if depths[leaf] != 2 || depths[root] != 0 {
		t.Errorf("depths leaf=%d root=%d, want 2 and 0", depths[leaf], depths[root])
	}

	if pos := tr.PositionOf(leaf); pos != models.PositionLeft {
		t.Errorf("PositionOf(a1) = %q, want L", pos)
	}
}

func TestDistributionSkipsInactive(t *testing.T) {
	members := perfectTree()
	members[3].Active = false // a1
	tr, err := New(members)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	grades := map[string]models.Grade{"root": models.F3, "a": models.F2, "b": models.F2}
	for _, id := range []string{"a1", "a2", "b1", "b2"} {
		grades[id] = models.F1
	}

	dist := tr.Distribution(grades)
	if dist.Get(models.F1) != 3 || dist.Total() != 6 {
		t.Errorf("Distribution() = %v, want F1:3 total 6", dist)
	}
}

func TestDeepChainDoesNotRecurse(t *testing.T) {
	const depth = 20000
	members := make([]models.Member, depth)
	for i := range members {
		id := nodeID(i)
		parent, child := "", ""
		if i > 0 {
			parent = nodeID(i - 1)
		}
		if i < depth-1 {
			child = nodeID(i + 1)
		}
		members[i] = link(id, parent, child, "")
	}

	tr, err := New(members)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, maxDepth := tr.Depths(); maxDepth != depth-1 {
		t.Errorf("maxDepth = %d, want %d", maxDepth, depth-1)
	}
}

func nodeID(i int) string {
	return fmt.Sprintf("n%06d", i)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantErr      bool
		validateFunc func(t *testing.T, members []models.Member)
	}{
		{
			name: "yaml document",
			input: `
members:
  - id: root
    name: Root
    leftChildId: a
    registeredAt: 2025-03-04
    insuranceAmount: 70000
  - id: a
    parentId: root
    active: false
`,
			validateFunc: func(t *testing.T, members []models.Member) {
				if len(members) != 2 {
					t.Fatalf("got %d members, want 2", len(members))
				}
				if !members[0].Active || members[1].Active {
					t.Errorf("active flags = %v/%v, want true/false", members[0].Active, members[1].Active)
				}
				if members[0].InsuranceAmount != 70000 {
					t.Errorf("insurance = %d, want 70000", members[0].InsuranceAmount)
				}
				if members[0].RegisteredAt.Day() != 4 {
					t.Errorf("registeredAt = %v, want day 4", members[0].RegisteredAt)
				}
				if members[1].Name != "a" {
					t.Errorf("name defaulted to %q, want id", members[1].Name)
				}
			},
		},
		{
			name:  "json document",
			input: `{"members":[{"id":"root","rightChildId":"b"},{"id":"b","parentId":"root","registeredAt":"2025-03-04T10:00:00Z"}]}`,
			validateFunc: func(t *testing.T, members []models.Member) {
				if len(members) != 2 || members[0].RightChildID != "b" {
					t.Errorf("unexpected members: %+v", members)
				}
			},
		},
		{
			name:    "unknown field",
			input:   "members:\n  - id: x\n    colour: blue\n",
			wantErr: true,
		},
		{
			name:    "bad date",
			input:   "members:\n  - id: x\n    registeredAt: yesterday\n",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members, err := Decode(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.validateFunc != nil {
				tt.validateFunc(t, members)
			}
		})
	}
}
