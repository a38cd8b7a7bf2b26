package tree

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tyranno/nanumpay-sub001/internal/models"
)

// document is the wire form of a tree upload. JSON bodies decode through the
// same path since JSON is valid YAML.
type document struct {
	Members []memberDoc `yaml:"members"`
}

type memberDoc struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	ParentID        string `yaml:"parentId"`
	LeftChildID     string `yaml:"leftChildId"`
	RightChildID    string `yaml:"rightChildId"`
	InsuranceAmount int64  `yaml:"insuranceAmount"`
	Active          *bool  `yaml:"active"`
	RegisteredAt    string `yaml:"registeredAt"`
}

// Decode reads a member list in YAML or JSON form:
//
//	members:
//	  - id: root
//	    leftChildId: a
//	    rightChildId: b
//	  - id: a
//	    parentId: root
//
// Members default to active. Unknown fields are rejected.
func Decode(r io.Reader) ([]models.Member, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty tree document")
		}
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}

	members := make([]models.Member, 0, len(doc.Members))
	for _, d := range doc.Members {
		m := models.Member{
			ID:              d.ID,
			Name:            d.Name,
			ParentID:        d.ParentID,
			LeftChildID:     d.LeftChildID,
			RightChildID:    d.RightChildID,
			InsuranceAmount: d.InsuranceAmount,
			Active:          d.Active == nil || *d.Active,
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		if d.RegisteredAt != "" {
			t, err := parseDate(d.RegisteredAt)
			if err != nil {
				return nil, fmt.Errorf("member %q: %w", d.ID, err)
			}
			m.RegisteredAt = t
		}
		members = append(members, m)
	}
	return members, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid registeredAt %q", s)
	}
	return t.UTC(), nil
}
