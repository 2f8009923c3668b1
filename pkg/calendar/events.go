package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/model"
	gcal "google.golang.org/api/calendar/v3"
)

// PropertyKey is the private extended property carrying the source row id.
const PropertyKey = "eventdesk_id"

const (
	PrefixCompleted  = "✓"
	PrefixInProgress = "‣"
	PrefixOverdue    = "!"
)

// DefaultDuration is the length of a task's calendar block.
const DefaultDuration = 30 * time.Minute

// ErrNoDate is returned for tasks that have nothing to place on a calendar.
var ErrNoDate = errors.New("calendar: task has no due, start or completion date")

// SessionEvent converts an agenda session into a calendar event.
func SessionEvent(s model.ScheduleSession) *gcal.Event {
	var desc strings.Builder
	if s.Description != "" {
		desc.WriteString(s.Description)
		desc.WriteString("\n\n")
	}
	if len(s.Speakers) > 0 {
		fmt.Fprintf(&desc, "Speakers: %s\n", strings.Join(s.Speakers, ", "))
	}
	fmt.Fprintf(&desc, "ID: %s\n", s.ID)

	end := s.EndsAt.Time
	if !end.After(s.StartsAt.Time) {
		end = s.StartsAt.Add(DefaultDuration)
	}
	return &gcal.Event{
		Summary:            s.Title,
		Location:           s.Location,
		Description:        desc.String(),
		Start:              dateTime(s.StartsAt.Time),
		End:                dateTime(end),
		ExtendedProperties: private(s.ID),
	}
}

// TaskEvent converts a task into a calendar block. Completed tasks end at
// their completion, started tasks begin at their start, and anything else
// sits on its due date.
func TaskEvent(t model.Task, now time.Time) (*gcal.Event, error) {
	var start, end time.Time
	switch {
	case t.Status == model.TaskCompleted:
		end = now
		if t.CompletedAt != nil && !t.CompletedAt.IsZero() {
			end = t.CompletedAt.Time
		}
		start = end.Add(-DefaultDuration)
	case t.StartedAt != nil && !t.StartedAt.IsZero():
		start = t.StartedAt.Time
		end = start.Add(DefaultDuration)
	case t.DueDate != nil && !t.DueDate.IsZero():
		start = t.DueDate.Time
		end = start.Add(DefaultDuration)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoDate, t.ID)
	}

	return &gcal.Event{
		Summary:            taskSummary(t, now),
		Description:        taskDescription(t),
		Start:              dateTime(start),
		End:                dateTime(end),
		ExtendedProperties: private(t.ID),
	}, nil
}

func taskSummary(t model.Task, now time.Time) string {
	prefix := ""
	switch {
	case t.Status == model.TaskCompleted:
		prefix = PrefixCompleted
	case t.Status == model.TaskInProgress:
		prefix = PrefixInProgress
	case t.DueDate != nil && !t.DueDate.IsZero() && t.DueDate.Before(now):
		prefix = PrefixOverdue
	}
	if prefix == "" {
		return t.Title
	}
	return prefix + " " + t.Title
}

func taskDescription(t model.Task) string {
	var b strings.Builder
	if len(t.Tags) > 0 {
		for _, tag := range t.Tags {
			fmt.Fprintf(&b, "#%s ", tag)
		}
		b.WriteString("\n\n")
	}
	if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Status: %s\n", t.Status)
	fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	if t.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", t.Category)
	}
	fmt.Fprintf(&b, "ID: %s\n", t.ID)

	var acct []string
	if t.EstimatedCost > 0 {
		acct = append(acct, fmt.Sprintf("• estimated cost: %.2f", t.EstimatedCost))
	}
	started := t.StartedAt != nil && !t.StartedAt.IsZero()
	completed := t.CompletedAt != nil && !t.CompletedAt.IsZero()
	if started && completed {
		spent := t.CompletedAt.Sub(t.StartedAt.Time).Round(time.Minute)
		if spent > 0 {
			acct = append(acct, fmt.Sprintf("• spent: %s", spent))
		}
	}
	if completed && t.DueDate != nil && !t.DueDate.IsZero() {
		diff := t.CompletedAt.Sub(t.DueDate.Time).Round(time.Minute)
		if diff > 0 {
			acct = append(acct, fmt.Sprintf("• finished late by: %s", diff))
		} else if diff < 0 {
			acct = append(acct, fmt.Sprintf("• finished early by: %s", -diff))
		}
	}
	if len(acct) > 0 {
		b.WriteString("\nAccounting:\n")
		b.WriteString(strings.Join(acct, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// EventPatch returns the fields of target that differ from existing, or
// nil when the calendar copy is current.
func EventPatch(existing, target *gcal.Event) (*gcal.Event, error) {
	patch := &gcal.Event{}
	changed := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		changed = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		changed = true
	}
	if existing.Location != target.Location {
		patch.Location = target.Location
		changed = true
	}
	if target.ColorId != "" && existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		changed = true
	}

	same, err := sameTime(existing.Start, target.Start)
	if err != nil {
		return nil, fmt.Errorf("calendar: compare start: %w", err)
	}
	sameEnd, err := sameTime(existing.End, target.End)
	if err != nil {
		return nil, fmt.Errorf("calendar: compare end: %w", err)
	}
	if !same || !sameEnd {
		patch.Start = target.Start
		patch.End = target.End
		changed = true
	}

	if !changed {
		return nil, nil
	}
	return patch, nil
}

func sameTime(a, b *gcal.EventDateTime) (bool, error) {
	if a == nil || b == nil {
		return a == b, nil
	}
	if a.DateTime == "" || b.DateTime == "" {
		return a.DateTime == b.DateTime && a.Date == b.Date, nil
	}
	at, err := time.Parse(time.RFC3339, a.DateTime)
	if err != nil {
		return false, err
	}
	bt, err := time.Parse(time.RFC3339, b.DateTime)
	if err != nil {
		return false, err
	}
	return at.Equal(bt), nil
}

// SourceID reads the linked row id back off an event.
func SourceID(e *gcal.Event) (string, bool) {
	if e == nil || e.ExtendedProperties == nil {
		return "", false
	}
	id, ok := e.ExtendedProperties.Private[PropertyKey]
	return id, ok && id != ""
}

func dateTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.UTC().Format(time.RFC3339)}
}

func private(id string) *gcal.EventExtendedProperties {
	return &gcal.EventExtendedProperties{Private: map[string]string{PropertyKey: id}}
}
