// Package tree holds the binary member forest in an arena of indexed nodes.
//
// A Tree is only ever constructed from a structurally valid member list: New
// rejects cycles, dangling child references, children claimed twice and
// parent/child links that disagree, so every consumer can walk it without
// re-checking.
package tree

import (
	"errors"
	"fmt"

	"github.com/tyranno/nanumpay-sub001/internal/models"
)

// ErrStructuralIntegrity is matched by every StructuralIntegrityError.
var ErrStructuralIntegrity = errors.New("structural integrity violation")

// StructuralIntegrityError reports why a member list is not a valid binary forest.
type StructuralIntegrityError struct {
	MemberID string
	Reason   string
}

func (e *StructuralIntegrityError) Error() string {
	return fmt.Sprintf("structural integrity violation at member %q: %s", e.MemberID, e.Reason)
}

func (e *StructuralIntegrityError) Is(target error) bool {
	return target == ErrStructuralIntegrity
}

func violation(memberID, format string, args ...any) error {
	return &StructuralIntegrityError{MemberID: memberID, Reason: fmt.Sprintf(format, args...)}
}

const none = -1

// Tree is an immutable, validated binary forest.
type Tree struct {
	members []models.Member
	index   map[string]int
	parent  []int
	left    []int
	right   []int
	roots   []int
	order   []int // post-order, children before parents
}

// New validates members and builds the arena. The input slice is copied.
func New(members []models.Member) (*Tree, error) {
	n := len(members)
	t := &Tree{
		members: make([]models.Member, n),
		index:   make(map[string]int, n),
		parent:  make([]int, n),
		left:    make([]int, n),
		right:   make([]int, n),
	}
	copy(t.members, members)

	for i, m := range t.members {
		if m.ID == "" {
			return nil, violation("", "member at position %d has no id", i)
		}
		if _, dup := t.index[m.ID]; dup {
			return nil, violation(m.ID, "duplicate member id")
		}
		t.index[m.ID] = i
		t.parent[i], t.left[i], t.right[i] = none, none, none
	}

	for i, m := range t.members {
		if m.LeftChildID != "" && m.LeftChildID == m.RightChildID {
			return nil, violation(m.ID, "child %q assigned to both sides", m.LeftChildID)
		}
		for side, childID := range [2]string{m.LeftChildID, m.RightChildID} {
			if childID == "" {
				continue
			}
			c, ok := t.index[childID]
			if !ok {
				return nil, violation(m.ID, "dangling child reference %q", childID)
			}
			if c == i {
				return nil, violation(m.ID, "member is its own child")
			}
			if t.parent[c] != none {
				return nil, violation(childID, "child claimed by both %q and %q", t.members[t.parent[c]].ID, m.ID)
			}
			if t.members[c].ParentID != m.ID {
				return nil, violation(childID, "parent is %q but %q lists it as a child", t.members[c].ParentID, m.ID)
			}
			t.parent[c] = i
			if side == 0 {
				t.left[i] = c
			} else {
				t.right[i] = c
			}
		}
	}

	for i, m := range t.members {
		if m.ParentID == "" {
			t.roots = append(t.roots, i)
			continue
		}
		if _, ok := t.index[m.ParentID]; !ok {
			return nil, violation(m.ID, "dangling parent reference %q", m.ParentID)
		}
		if t.parent[i] == none {
			return nil, violation(m.ID, "parent %q does not list it as a child", m.ParentID)
		}
	}

	if err := t.buildPostOrder(); err != nil {
		return nil, err
	}
	return t, nil
}

// buildPostOrder walks every root iteratively. With single parents already
// guaranteed, any member the walk cannot reach sits on a cycle.
func (t *Tree) buildPostOrder() error {
	n := len(t.members)
	visited := make([]bool, n)
	t.order = make([]int, 0, n)

	type frame struct {
		node     int
		expanded bool
	}
	stack := make([]frame, 0, 64)

	for _, root := range t.roots {
		stack = append(stack, frame{node: root})
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.expanded {
				t.order = append(t.order, top.node)
				continue
			}
			if visited[top.node] {
				return violation(t.members[top.node].ID, "cycle detected")
			}
			visited[top.node] = true
			stack = append(stack, frame{node: top.node, expanded: true})
			if r := t.right[top.node]; r != none {
				stack = append(stack, frame{node: r})
			}
			if l := t.left[top.node]; l != none {
				stack = append(stack, frame{node: l})
			}
		}
	}

	if len(t.order) != n {
		for i := range visited {
			if !visited[i] {
				return violation(t.members[i].ID, "cycle detected")
			}
		}
	}
	return nil
}

// Len returns the number of members.
func (t *Tree) Len() int { return len(t.members) }

// At returns a copy of the member at arena index i.
func (t *Tree) At(i int) models.Member { return t.members[i] }

// Lookup returns the arena index of memberID.
func (t *Tree) Lookup(memberID string) (int, bool) {
	i, ok := t.index[memberID]
	return i, ok
}

// Left, Right and Parent return arena indices, or -1 when absent.
func (t *Tree) Left(i int) int   { return t.left[i] }
func (t *Tree) Right(i int) int  { return t.right[i] }
func (t *Tree) Parent(i int) int { return t.parent[i] }

// Roots returns the arena indices of every root.
func (t *Tree) Roots() []int {
	return append([]int(nil), t.roots...)
}

// PostOrder returns arena indices with every child before its parent.
func (t *Tree) PostOrder() []int {
	return append([]int(nil), t.order...)
}

// Members returns a copy of every member in arena order.
func (t *Tree) Members() []models.Member {
	return append([]models.Member(nil), t.members...)
}

// WithGrades returns a copy of the members with Grade set from grades.
// Members missing from grades keep their current grade.
func (t *Tree) WithGrades(grades map[string]models.Grade) []models.Member {
	out := t.Members()
	for i := range out {
		if g, ok := grades[out[i].ID]; ok {
			out[i].Grade = g
		}
	}
	return out
}

// PositionOf reports which side of its parent the member at i hangs from.
func (t *Tree) PositionOf(i int) models.Position {
	p := t.parent[i]
	switch {
	case p == none:
		return models.PositionRoot
	case t.left[p] == i:
		return models.PositionLeft
	default:
		return models.PositionRight
	}
}
