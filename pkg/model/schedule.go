package model

// ScheduleSession is an agenda item of an event.
type ScheduleSession struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	WorkspaceID *string   `json:"workspace_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    Timestamp `json:"starts_at"`
	EndsAt      Timestamp `json:"ends_at"`
	Speakers    []string  `json:"speakers,omitempty"`
}

func (s ScheduleSession) Key() string { return s.ID }
