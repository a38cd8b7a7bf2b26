package tree

import "github.com/tyranno/nanumpay-sub001/internal/models"

// SubtreeCounts returns, per arena index, the grade counts of the subtree
// rooted there (the node itself included). Grades are looked up by member ID;
// a member missing from grades counts as its current Grade.
func (t *Tree) SubtreeCounts(grades map[string]models.Grade) []models.GradeCounts {
	counts := make([]models.GradeCounts, len(t.members))
	for _, i := range t.order {
		g, ok := grades[t.members[i].ID]
		if !ok {
			g = t.members[i].Grade
		}
		counts[i].Add(g)
		if l := t.left[i]; l != none {
			counts[i].Merge(counts[l])
		}
		if r := t.right[i]; r != none {
			counts[i].Merge(counts[r])
		}
	}
	return counts
}

// ChildCounts returns the subtree counts of the left and right child of i,
// taken from counts as produced by SubtreeCounts. A missing child yields zeros.
func (t *Tree) ChildCounts(counts []models.GradeCounts, i int) (left, right models.GradeCounts) {
	if l := t.left[i]; l != none {
		left = counts[l]
	}
	if r := t.right[i]; r != none {
		right = counts[r]
	}
	return left, right
}

// Depths returns the depth of every node (roots are 0) and the maximum depth.
func (t *Tree) Depths() (depths []int, maxDepth int) {
	depths = make([]int, len(t.members))
	for k := len(t.order) - 1; k >= 0; k-- {
		i := t.order[k]
		if p := t.parent[i]; p != none {
			depths[i] = depths[p] + 1
		}
		if depths[i] > maxDepth {
			maxDepth = depths[i]
		}
	}
	return depths, maxDepth
}

// Distribution counts active members per grade.
func (t *Tree) Distribution(grades map[string]models.Grade) models.GradeCounts {
	var dist models.GradeCounts
	for _, m := range t.members {
		if !m.Active {
			continue
		}
		g, ok := grades[m.ID]
		if !ok {
			g = m.Grade
		}
		dist.Add(g)
	}
	return dist
}
