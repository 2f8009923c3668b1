package model

import (
	"fmt"
	"math"
)

type Criterion struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	MaxScore float64 `json:"max_score"`
}

// Rubric scores submissions (talks, vendors, award entries) against
// weighted criteria.
type Rubric struct {
	ID        string      `json:"id"`
	EventID   string      `json:"event_id"`
	Name      string      `json:"name"`
	Criteria  []Criterion `json:"criteria"`
	CreatedAt Timestamp   `json:"created_at"`
}

func (r Rubric) Key() string { return r.ID }

// Validate checks that criteria are named, have positive maximums and that
// weights add up to 100.
func (r Rubric) Validate() error {
	if len(r.Criteria) == 0 {
		return fmt.Errorf("rubric needs at least one criterion")
	}
	var total float64
	seen := map[string]bool{}
	for _, c := range r.Criteria {
		if c.Name == "" {
			return fmt.Errorf("criterion name is required")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate criterion %q", c.Name)
		}
		seen[c.Name] = true
		if c.Weight <= 0 {
			return fmt.Errorf("criterion %q needs a positive weight", c.Name)
		}
		if c.MaxScore <= 0 {
			return fmt.Errorf("criterion %q needs a positive max score", c.Name)
		}
		total += c.Weight
	}
	if math.Abs(total-100) > 0.001 {
		return fmt.Errorf("criterion weights add up to %g, want 100", total)
	}
	return nil
}

// Score returns the weighted percentage for scores keyed by criterion
// name. Missing criteria score zero; scores are clamped to [0, max].
func (r Rubric) Score(scores map[string]float64) (float64, error) {
	var total, weights float64
	for _, c := range r.Criteria {
		s, ok := scores[c.Name]
		if !ok {
			s = 0
		}
		if s < 0 {
			s = 0
		}
		if s > c.MaxScore {
			s = c.MaxScore
		}
		total += s / c.MaxScore * c.Weight
		weights += c.Weight
	}
	for name := range scores {
		if !r.has(name) {
			return 0, fmt.Errorf("unknown criterion %q", name)
		}
	}
	if weights == 0 {
		return 0, nil
	}
	return math.Round(total/weights*10000) / 100, nil
}

func (r Rubric) has(name string) bool {
	for _, c := range r.Criteria {
		if c.Name == name {
			return true
		}
	}
	return false
}

// RubricScore is one evaluator's submitted score for a subject.
type RubricScore struct {
	ID          string             `json:"id,omitempty"`
	RubricID    string             `json:"rubric_id"`
	SubjectID   string             `json:"subject_id"`
	EvaluatorID string             `json:"evaluator_id"`
	Scores      map[string]float64 `json:"scores"`
	Total       float64            `json:"total"`
	CreatedAt   *Timestamp         `json:"created_at,omitempty"`
}
