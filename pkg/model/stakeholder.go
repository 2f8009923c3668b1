package model

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

func (l Level) Valid() bool {
	return l == LevelLow || l == LevelMedium || l == LevelHigh
}

type Stakeholder struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Organization string    `json:"organization,omitempty"`
	Email        string    `json:"email,omitempty"`
	Influence    Level     `json:"influence"`
	Interest     Level     `json:"interest"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    Timestamp `json:"created_at"`
}

func (s Stakeholder) Key() string { return s.ID }

// Quadrant is a cell of the power/interest grid.
type Quadrant string

const (
	ManageClosely Quadrant = "manage_closely"
	KeepSatisfied Quadrant = "keep_satisfied"
	KeepInformed  Quadrant = "keep_informed"
	Monitor       Quadrant = "monitor"
)

// Quadrant places the stakeholder on the power/interest grid; medium counts
// as high.
func (s Stakeholder) Quadrant() Quadrant {
	power := s.Influence != LevelLow
	interest := s.Interest != LevelLow
	switch {
	case power && interest:
		return ManageClosely
	case power:
		return KeepSatisfied
	case interest:
		return KeepInformed
	default:
		return Monitor
	}
}

type StakeholderPatch struct {
	Name         *string `json:"name,omitempty"`
	Role         *string `json:"role,omitempty"`
	Organization *string `json:"organization,omitempty"`
	Email        *string `json:"email,omitempty"`
	Influence    *Level  `json:"influence,omitempty"`
	Interest     *Level  `json:"interest,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

func (p StakeholderPatch) Apply(s Stakeholder) Stakeholder {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Role != nil {
		s.Role = *p.Role
	}
	if p.Organization != nil {
		s.Organization = *p.Organization
	}
	if p.Email != nil {
		s.Email = *p.Email
	}
	if p.Influence != nil {
		s.Influence = *p.Influence
	}
	if p.Interest != nil {
		s.Interest = *p.Interest
	}
	if p.Notes != nil {
		s.Notes = *p.Notes
	}
	return s
}
