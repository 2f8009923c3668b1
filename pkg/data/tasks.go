package data

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

// TaskFilter narrows ListTasks. WorkspaceID is required.
type TaskFilter struct {
	WorkspaceID string
	Statuses    []model.TaskStatus
	AssigneeID  string
	DueBefore   time.Time
}

func (f TaskFilter) key() string {
	st := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		st[i] = string(s)
	}
	sort.Strings(st)
	due := ""
	if !f.DueBefore.IsZero() {
		due = f.DueBefore.UTC().Format(time.RFC3339)
	}
	return strings.Join([]string{strings.Join(st, ","), f.AssigneeID, due}, ";")
}

func (f TaskFilter) query() backend.Query {
	q := backend.From(TableTasks).Eq("workspace_id", f.WorkspaceID)
	if len(f.Statuses) > 0 {
		vals := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		q = q.In("status", vals...)
	}
	if f.AssigneeID != "" {
		q = q.Eq("assignee_id", f.AssigneeID)
	}
	if !f.DueBefore.IsZero() {
		q = q.Lte("due_date", f.DueBefore)
	}
	return q.Order("due_date", false).Order("created_at", true)
}

type newTask struct {
	WorkspaceID   string             `json:"workspace_id"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	Status        model.TaskStatus   `json:"status"`
	Priority      model.TaskPriority `json:"priority"`
	Category      string             `json:"category,omitempty"`
	AssigneeID    *string            `json:"assignee_id,omitempty"`
	DueDate       *model.Timestamp   `json:"due_date,omitempty"`
	EstimatedCost float64            `json:"estimated_cost"`
	Tags          []string           `json:"tags,omitempty"`
}

func (s *Service) taskViews(rows []model.Task) []model.TaskView {
	views := model.NewTaskViews(rows, s.now())
	for i := range views {
		views[i].Pending = optimistic.IsTemp(views[i].ID)
	}
	return views
}

// ListTasks returns a workspace's tasks, soonest due first.
func (s *Service) ListTasks(ctx context.Context, f TaskFilter) ([]model.TaskView, error) {
	if f.WorkspaceID == "" {
		return nil, backend.Invalid("workspace_id", "workspace is required")
	}
	rows, err := list[model.Task](ctx, s, querycache.Key{TableTasks, f.WorkspaceID, f.key()}, f.query())
	if err != nil {
		return nil, err
	}
	return s.taskViews(rows), nil
}

func (s *Service) GetTask(ctx context.Context, id string) (model.TaskView, error) {
	t, err := one[model.Task](ctx, s, idKey(TableTasks, id), backend.From(TableTasks).Eq("id", id))
	if err != nil {
		return model.TaskView{}, err
	}
	return model.NewTaskView(t, s.now()), nil
}

// CreateTask shows the task at the top of its workspace lists right away
// under a temporary id, then swaps in the stored row.
func (s *Service) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	const failure = "Failed to create task"
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return model.Task{}, s.fail(failure, backend.Invalid("title", "title is required"))
	}
	if t.WorkspaceID == "" {
		return model.Task{}, s.fail(failure, backend.Invalid("workspace_id", "workspace is required"))
	}
	if t.Status == "" {
		t.Status = model.TaskTodo
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	if !t.Status.Valid() {
		return model.Task{}, s.fail(failure, backend.Invalid("status", "unknown status %q", t.Status))
	}
	if !t.Priority.Valid() {
		return model.Task{}, s.fail(failure, backend.Invalid("priority", "unknown priority %q", t.Priority))
	}
	if t.EstimatedCost < 0 {
		return model.Task{}, s.fail(failure, backend.Invalid("estimated_cost", "cost cannot be negative"))
	}

	prefix := querycache.Key{TableTasks, t.WorkspaceID}
	tmp := t
	tmp.ID = optimistic.TempID()
	tmp.CreatedAt = model.Timestamp{Time: s.now()}

	return run(ctx, s, "Task created", failure, optimistic.Mutation[model.Task]{
		Keys: []querycache.Key{prefix},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, prefix, func(l []model.Task) []model.Task {
				return optimistic.AddToList(l, tmp, true)
			})
		},
		Do: func(ctx context.Context) (model.Task, error) {
			return insertOne[model.Task](ctx, s.backend, TableTasks, newTask{
				WorkspaceID:   t.WorkspaceID,
				Title:         t.Title,
				Description:   t.Description,
				Status:        t.Status,
				Priority:      t.Priority,
				Category:      t.Category,
				AssigneeID:    t.AssigneeID,
				DueDate:       t.DueDate,
				EstimatedCost: t.EstimatedCost,
				Tags:          t.Tags,
			})
		},
		OnSuccess: func(c *querycache.Cache, created model.Task) {
			optimistic.UpdateCachedLists(c, prefix, func(l []model.Task) []model.Task {
				return optimistic.ReplaceInList(l, tmp.ID, keyOf[model.Task], created)
			})
		},
		Invalidate: []querycache.Key{{TableTasks}},
	})
}

// UpdateTask applies patch to the cached copies first and to the backend
// second.
func (s *Service) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	const failure = "Failed to update task"
	if patch.Status != nil && !patch.Status.Valid() {
		return model.Task{}, s.fail(failure, backend.Invalid("status", "unknown status %q", *patch.Status))
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return model.Task{}, s.fail(failure, backend.Invalid("priority", "unknown priority %q", *patch.Priority))
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return model.Task{}, s.fail(failure, backend.Invalid("title", "title is required"))
	}

	return run(ctx, s, "Task updated", failure, optimistic.Mutation[model.Task]{
		Keys: []querycache.Key{{TableTasks}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableTasks}, func(l []model.Task) []model.Task {
				return optimistic.UpdateInList(l, id, keyOf[model.Task], patch.Apply)
			})
			replaceCached(c, idKey(TableTasks, id), patch.Apply)
		},
		Do: func(ctx context.Context) (model.Task, error) {
			return updateOne[model.Task](ctx, s.backend, TableTasks, id, s.taskPatchBody(patch))
		},
	})
}

// taskPatchBody adds the lifecycle timestamps implied by a status change.
func (s *Service) taskPatchBody(p model.TaskPatch) map[string]any {
	body := map[string]any{}
	if p.Title != nil {
		body["title"] = *p.Title
	}
	if p.Description != nil {
		body["description"] = *p.Description
	}
	if p.Priority != nil {
		body["priority"] = *p.Priority
	}
	if p.Category != nil {
		body["category"] = *p.Category
	}
	if p.AssigneeID != nil {
		body["assignee_id"] = *p.AssigneeID
	}
	if p.DueDate != nil {
		body["due_date"] = *p.DueDate
	}
	if p.EstimatedCost != nil {
		body["estimated_cost"] = *p.EstimatedCost
	}
	if p.Status != nil {
		body["status"] = *p.Status
		switch *p.Status {
		case model.TaskCompleted:
			body["completed_at"] = model.Timestamp{Time: s.now()}
		case model.TaskInProgress:
			body["started_at"] = model.Timestamp{Time: s.now()}
			body["completed_at"] = nil
		default:
			body["completed_at"] = nil
		}
	}
	return body
}

func (s *Service) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) (model.Task, error) {
	return s.UpdateTask(ctx, id, model.TaskPatch{Status: &status})
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	_, err := run(ctx, s, "Task deleted", "Failed to delete task", optimistic.Mutation[struct{}]{
		Keys: []querycache.Key{{TableTasks}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableTasks}, func(l []model.Task) []model.Task {
				return optimistic.RemoveFromList(l, id, keyOf[model.Task])
			})
		},
		Do: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, deleteByID(ctx, s.backend, TableTasks, id)
		},
	})
	if err == nil {
		s.cache.Remove(ctx, idKey(TableTasks, id))
	}
	return err
}
