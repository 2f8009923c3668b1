package model

import "time"

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

var taskStatuses = map[TaskStatus]bool{
	TaskTodo: true, TaskInProgress: true, TaskReview: true, TaskCompleted: true, TaskBlocked: true,
}

func (s TaskStatus) Valid() bool { return taskStatuses[s] }

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task mirrors a row of the tasks table.
type Task struct {
	ID            string       `json:"id"`
	WorkspaceID   string       `json:"workspace_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Status        TaskStatus   `json:"status"`
	Priority      TaskPriority `json:"priority"`
	Category      string       `json:"category,omitempty"`
	AssigneeID    *string      `json:"assignee_id"`
	DueDate       *Timestamp   `json:"due_date"`
	StartedAt     *Timestamp   `json:"started_at,omitempty"`
	CompletedAt   *Timestamp   `json:"completed_at,omitempty"`
	EstimatedCost float64      `json:"estimated_cost"`
	Tags          []string     `json:"tags,omitempty"`
	CreatedAt     Timestamp    `json:"created_at"`
	UpdatedAt     Timestamp    `json:"updated_at"`
}

func (t Task) Key() string { return t.ID }

// TaskView is a task shaped for display.
type TaskView struct {
	Task
	Overdue bool `json:"overdue"`
	// DaysLeft is negative once the task is overdue; zero without a due date.
	DaysLeft int `json:"days_left"`
	// Pending is true while the row only exists locally.
	Pending bool `json:"pending,omitempty"`
}

func (v TaskView) Key() string { return v.ID }

func NewTaskView(t Task, now time.Time) TaskView {
	v := TaskView{Task: t}
	if t.DueDate.IsSet() {
		v.Overdue = t.Status != TaskCompleted && t.DueDate.Before(now)
		v.DaysLeft = int(t.DueDate.Sub(now).Hours() / 24)
		if v.Overdue && v.DaysLeft == 0 {
			v.DaysLeft = -1
		}
	}
	return v
}

func NewTaskViews(rows []Task, now time.Time) []TaskView {
	out := make([]TaskView, len(rows))
	for i, t := range rows {
		out[i] = NewTaskView(t, now)
	}
	return out
}

// TaskPatch holds the fields an update may change. Nil fields are left
// alone.
type TaskPatch struct {
	Title         *string       `json:"title,omitempty"`
	Description   *string       `json:"description,omitempty"`
	Status        *TaskStatus   `json:"status,omitempty"`
	Priority      *TaskPriority `json:"priority,omitempty"`
	Category      *string       `json:"category,omitempty"`
	AssigneeID    *string       `json:"assignee_id,omitempty"`
	DueDate       *Timestamp    `json:"due_date,omitempty"`
	EstimatedCost *float64      `json:"estimated_cost,omitempty"`
}

// Apply returns t with the patch applied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.AssigneeID != nil {
		id := *p.AssigneeID
		t.AssigneeID = &id
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.EstimatedCost != nil {
		t.EstimatedCost = *p.EstimatedCost
	}
	return t
}
