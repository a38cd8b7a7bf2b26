package models

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestGradeOrdering(t *testing.T) {
	tests := []struct {
		grade    Grade
		wantNext Grade
		nextOK   bool
		wantPrev Grade
		prevOK   bool
	}{
		{grade: F1, wantNext: F2, nextOK: true, prevOK: false},
		{grade: F4, wantNext: F5, nextOK: true, wantPrev: F3, prevOK: true},
		{grade: F8, nextOK: false, wantPrev: F7, prevOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.grade.String(), func(t *testing.T) {
			next, ok := tt.grade.Next()
			if ok != tt.nextOK || next != tt.wantNext {
				t.Errorf("Next() = %v, %v; want %v, %v", next, ok, tt.wantNext, tt.nextOK)
			}
			prev, ok := tt.grade.Prev()
			if ok != tt.prevOK || prev != tt.wantPrev {
				t.Errorf("Prev() = %v, %v; want %v, %v", prev, ok, tt.wantPrev, tt.prevOK)
			}
		})
	}

	for i := 1; i < NumGrades; i++ {
		if Grades[i-1] >= Grades[i] {
			t.Errorf("grades not strictly ascending at %d", i)
		}
	}
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		in      string
		want    Grade
		wantErr bool
	}{
		{in: "F1", want: F1},
		{in: "f8", want: F8},
		{in: " F3 ", want: F3},
		{in: "F0", wantErr: true},
		{in: "F9", wantErr: true},
		{in: "G2", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseGrade(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGrade(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseGrade(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGradeCountsJSON(t *testing.T) {
	var counts GradeCounts
	counts.Add(F1)
	counts.Add(F1)
	counts.Add(F5)

	data, err := json.Marshal(counts)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded GradeCounts
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != counts {
		t.Errorf("decoded = %v, want %v", decoded, counts)
	}
	if decoded.Total() != 3 {
		t.Errorf("Total() = %d, want 3", decoded.Total())
	}

	if err := json.Unmarshal([]byte(`{"F9": 1}`), &decoded); err == nil {
		t.Error("expected error for unknown grade label")
	}
	if err := json.Unmarshal([]byte(`{"F2": -1}`), &decoded); err == nil {
		t.Error("expected error for negative count")
	}
}
