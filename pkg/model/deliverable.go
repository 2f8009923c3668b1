package model

import "time"

type DeliverableStatus string

const (
	DeliverablePending    DeliverableStatus = "pending"
	DeliverableInProgress DeliverableStatus = "in_progress"
	DeliverableSubmitted  DeliverableStatus = "submitted"
	DeliverableApproved   DeliverableStatus = "approved"
	DeliverableRejected   DeliverableStatus = "rejected"
)

func (s DeliverableStatus) Valid() bool {
	switch s {
	case DeliverablePending, DeliverableInProgress, DeliverableSubmitted, DeliverableApproved, DeliverableRejected:
		return true
	}
	return false
}

// Done reports whether the deliverable needs no more work.
func (s DeliverableStatus) Done() bool {
	return s == DeliverableSubmitted || s == DeliverableApproved
}

type Deliverable struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	SponsorID   *string           `json:"sponsor_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      DeliverableStatus `json:"status"`
	DueDate     *Timestamp        `json:"due_date"`
	CreatedAt   Timestamp         `json:"created_at"`
}

func (d Deliverable) Key() string { return d.ID }

type DeliverableView struct {
	Deliverable
	Overdue bool `json:"overdue"`
}

func (v DeliverableView) Key() string { return v.ID }

func NewDeliverableView(d Deliverable, now time.Time) DeliverableView {
	return DeliverableView{
		Deliverable: d,
		Overdue:     d.DueDate.IsSet() && !d.Status.Done() && d.DueDate.Before(now),
	}
}
