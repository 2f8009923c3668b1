package model

type VolunteerAssignment struct {
	ID          string     `json:"id"`
	ShiftID     string     `json:"shift_id"`
	VolunteerID string     `json:"volunteer_id"`
	CheckedInAt *Timestamp `json:"checked_in_at"`
}

type VolunteerShift struct {
	ID          string                `json:"id"`
	WorkspaceID string                `json:"workspace_id"`
	Name        string                `json:"name"`
	StartsAt    Timestamp             `json:"starts_at"`
	EndsAt      Timestamp             `json:"ends_at"`
	Capacity    int                   `json:"capacity"`
	Assignments []VolunteerAssignment `json:"volunteer_assignments"`
}

func (s VolunteerShift) Key() string { return s.ID }

type ShiftView struct {
	VolunteerShift
	Filled    int  `json:"filled"`
	Open      int  `json:"open"`
	CheckedIn int  `json:"checked_in"`
	Full      bool `json:"full"`
}

func (v ShiftView) Key() string { return v.ID }

func NewShiftView(s VolunteerShift) ShiftView {
	v := ShiftView{VolunteerShift: s, Filled: len(s.Assignments)}
	for _, a := range s.Assignments {
		if a.CheckedInAt.IsSet() {
			v.CheckedIn++
		}
	}
	v.Open = s.Capacity - v.Filled
	if v.Open < 0 {
		v.Open = 0
	}
	v.Full = s.Capacity > 0 && v.Filled >= s.Capacity
	return v
}

// HasVolunteer reports whether volunteerID is already on the shift.
func (s VolunteerShift) HasVolunteer(volunteerID string) bool {
	for _, a := range s.Assignments {
		if a.VolunteerID == volunteerID {
			return true
		}
	}
	return false
}
