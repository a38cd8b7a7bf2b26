package calculator

import (
	"github.com/tyranno/nanumpay-sub001/internal/models"
	"github.com/tyranno/nanumpay-sub001/internal/tree"
)

// gradeRule promotes a node with two children to grade when its left and
// right subtree counts of the lower grade satisfy check.
type gradeRule struct {
	grade models.Grade
	lower models.Grade
	check func(left, right int) bool
}

// gradeRules is ordered highest grade first; the first satisfied rule wins.
var gradeRules = []gradeRule{
	{grade: models.F8, lower: models.F7, check: balanced},
	{grade: models.F7, lower: models.F6, check: balanced},
	{grade: models.F6, lower: models.F5, check: balanced},
	{grade: models.F5, lower: models.F4, check: balanced},
	{grade: models.F4, lower: models.F3, check: bothSides},
	{grade: models.F3, lower: models.F2, check: bothSides},
	{grade: models.F2, lower: models.F1, check: bothSides},
}

// bothSides requires at least one member of the lower grade on each side.
func bothSides(left, right int) bool {
	return left >= 1 && right >= 1
}

// balanced requires at least two members of the lower grade on one side and
// at least one on the other. A lopsided split such as 3:0 does not qualify.
func balanced(left, right int) bool {
	return (left >= 2 && right >= 1) || (left >= 1 && right >= 2)
}

// GradeFromChildren returns the grade of a node given the subtree counts of
// its children. A node without two children is always F1.
func GradeFromChildren(left, right models.GradeCounts, hasLeft, hasRight bool) models.Grade {
	if !hasLeft || !hasRight {
		return models.F1
	}
	for _, rule := range gradeRules {
		if rule.check(left.Get(rule.lower), right.Get(rule.lower)) {
			return rule.grade
		}
	}
	return models.F1
}

// EvaluateGrades assigns a grade to every member of t in a single post-order
// pass. The tree is not modified.
func EvaluateGrades(t *tree.Tree) map[string]models.Grade {
	grades := make(map[string]models.Grade, t.Len())
	counts := make([]models.GradeCounts, t.Len())

	for _, i := range t.PostOrder() {
		l, r := t.Left(i), t.Right(i)
		left, right := t.ChildCounts(counts, i)

		g := GradeFromChildren(left, right, l != -1, r != -1)
		grades[t.At(i).ID] = g

		counts[i] = left
		counts[i].Merge(right)
		counts[i].Add(g)
	}
	return grades
}

// EvaluateMembers validates members as a binary forest and grades it.
// A *tree.StructuralIntegrityError is returned before any grading happens.
func EvaluateMembers(members []models.Member) (*tree.Tree, map[string]models.Grade, error) {
	t, err := tree.New(members)
	if err != nil {
		return nil, nil, err
	}
	return t, EvaluateGrades(t), nil
}
