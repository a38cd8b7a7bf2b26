package models

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Grade is a member's rank in the binary tree, F1 (lowest) through F8 (highest).
// The zero value is not a valid grade.
type Grade int

const (
	F1 Grade = iota + 1
	F2
	F3
	F4
	F5
	F6
	F7
	F8
)

// NumGrades is the number of grades in the closed F1..F8 enumeration.
const NumGrades = 8

// Grades lists every grade in ascending order.
var Grades = [NumGrades]Grade{F1, F2, F3, F4, F5, F6, F7, F8}

// Valid reports whether g is one of F1..F8.
func (g Grade) Valid() bool {
	return g >= F1 && g <= F8
}

// Index returns the zero-based position of g (F1 = 0).
func (g Grade) Index() int {
	return int(g) - 1
}

// Next returns the grade above g. ok is false for F8.
func (g Grade) Next() (next Grade, ok bool) {
	if !g.Valid() || g == F8 {
		return 0, false
	}
	return g + 1, true
}

// Prev returns the grade below g. ok is false for F1.
func (g Grade) Prev() (prev Grade, ok bool) {
	if !g.Valid() || g == F1 {
		return 0, false
	}
	return g - 1, true
}

func (g Grade) String() string {
	if !g.Valid() {
		return fmt.Sprintf("Grade(%d)", int(g))
	}
	return fmt.Sprintf("F%d", int(g))
}

// ParseGrade parses a label such as "F4" (case-insensitive).
func ParseGrade(s string) (Grade, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 2 && s[0] == 'F' && s[1] >= '1' && s[1] <= '8' {
		return Grade(s[1] - '0'), nil
	}
	return 0, fmt.Errorf("invalid grade: %q", s)
}

// MarshalText encodes the grade as its label.
func (g Grade) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("invalid grade: %d", int(g))
	}
	return []byte(g.String()), nil
}

// UnmarshalText decodes a grade label.
func (g *Grade) UnmarshalText(text []byte) error {
	parsed, err := ParseGrade(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// GradeCounts is a count of members per grade, indexed by Grade.Index().
type GradeCounts [NumGrades]int

// Get returns the count for g.
func (c GradeCounts) Get(g Grade) int {
	if !g.Valid() {
		return 0
	}
	return c[g.Index()]
}

// Add increments the count for g.
func (c *GradeCounts) Add(g Grade) {
	if g.Valid() {
		c[g.Index()]++
	}
}

// Merge adds every count in other to c.
func (c *GradeCounts) Merge(other GradeCounts) {
	for i := range c {
		c[i] += other[i]
	}
}

// Total returns the number of members across all grades.
func (c GradeCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// MarshalJSON encodes the counts as {"F1": n, ...}.
func (c GradeCounts) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, NumGrades)
	for _, g := range Grades {
		m[g.String()] = c.Get(g)
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes {"F1": n, ...}. Missing grades are zero.
func (c *GradeCounts) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*c = GradeCounts{}
	for label, n := range m {
		g, err := ParseGrade(label)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("negative count for %s: %d", g, n)
		}
		c[g.Index()] = n
	}
	return nil
}
