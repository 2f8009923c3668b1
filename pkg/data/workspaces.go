package data

import (
	"context"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

type newWorkspace struct {
	EventID  string              `json:"event_id"`
	ParentID *string             `json:"parent_id"`
	Name     string              `json:"name"`
	Type     model.WorkspaceType `json:"workspace_type"`
	Status   string              `json:"status"`
	OwnerID  string              `json:"owner_id,omitempty"`
}

func validWorkspaceType(t model.WorkspaceType) bool {
	switch t {
	case model.WorkspaceRoot, model.WorkspaceDepartment, model.WorkspaceCommittee, model.WorkspaceTeam:
		return true
	}
	return false
}

// ListWorkspaces returns the active workspaces of an event by name.
func (s *Service) ListWorkspaces(ctx context.Context, eventID string) ([]model.Workspace, error) {
	q := backend.From(TableWorkspaces).
		Eq("event_id", eventID).
		Neq("status", model.WorkspaceArchived).
		Order("name", false)
	return list[model.Workspace](ctx, s, querycache.Key{TableWorkspaces, eventID}, q)
}

// WorkspaceTree returns the event's workspaces as a forest.
func (s *Service) WorkspaceTree(ctx context.Context, eventID string) ([]*model.WorkspaceNode, error) {
	rows, err := s.ListWorkspaces(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return model.BuildTree(rows), nil
}

func (s *Service) CreateWorkspace(ctx context.Context, w model.Workspace) (model.Workspace, error) {
	const failure = "Failed to create workspace"
	w.Name = strings.TrimSpace(w.Name)
	if w.Name == "" {
		return model.Workspace{}, s.fail(failure, backend.Invalid("name", "name is required"))
	}
	if w.EventID == "" {
		return model.Workspace{}, s.fail(failure, backend.Invalid("event_id", "event is required"))
	}
	if w.Type == "" {
		w.Type = model.WorkspaceTeam
	}
	if !validWorkspaceType(w.Type) {
		return model.Workspace{}, s.fail(failure, backend.Invalid("workspace_type", "unknown workspace type %q", w.Type))
	}
	if w.OwnerID == "" {
		w.OwnerID = s.userID
	}

	key := querycache.Key{TableWorkspaces, w.EventID}
	tmp := w
	tmp.ID = optimistic.TempID()
	tmp.Status = model.WorkspaceActive
	tmp.CreatedAt = model.Timestamp{Time: s.now()}

	return run(ctx, s, "Workspace created", failure, optimistic.Mutation[model.Workspace]{
		Keys: []querycache.Key{key},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedList(c, key, func(l []model.Workspace) []model.Workspace {
				return optimistic.AddToList(l, tmp, false)
			})
		},
		Do: func(ctx context.Context) (model.Workspace, error) {
			return insertOne[model.Workspace](ctx, s.backend, TableWorkspaces, newWorkspace{
				EventID:  w.EventID,
				ParentID: w.ParentID,
				Name:     w.Name,
				Type:     w.Type,
				Status:   model.WorkspaceActive,
				OwnerID:  w.OwnerID,
			})
		},
		OnSuccess: func(c *querycache.Cache, created model.Workspace) {
			optimistic.UpdateCachedList(c, key, func(l []model.Workspace) []model.Workspace {
				return optimistic.ReplaceInList(l, tmp.ID, keyOf[model.Workspace], created)
			})
		},
		Invalidate: []querycache.Key{{TableWorkspaces}},
	})
}

func (s *Service) RenameWorkspace(ctx context.Context, id, name string) (model.Workspace, error) {
	const failure = "Failed to rename workspace"
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Workspace{}, s.fail(failure, backend.Invalid("name", "name is required"))
	}
	return run(ctx, s, "Workspace renamed", failure, optimistic.Mutation[model.Workspace]{
		Keys: []querycache.Key{{TableWorkspaces}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableWorkspaces}, func(l []model.Workspace) []model.Workspace {
				return optimistic.UpdateInList(l, id, keyOf[model.Workspace], func(w model.Workspace) model.Workspace {
					w.Name = name
					return w
				})
			})
		},
		Do: func(ctx context.Context) (model.Workspace, error) {
			return updateOne[model.Workspace](ctx, s.backend, TableWorkspaces, id, map[string]any{"name": name})
		},
	})
}

// ArchiveWorkspace hides a workspace from listings.
func (s *Service) ArchiveWorkspace(ctx context.Context, id string) error {
	_, err := run(ctx, s, "Workspace archived", "Failed to archive workspace", optimistic.Mutation[model.Workspace]{
		Keys: []querycache.Key{{TableWorkspaces}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableWorkspaces}, func(l []model.Workspace) []model.Workspace {
				return optimistic.RemoveFromList(l, id, keyOf[model.Workspace])
			})
		},
		Do: func(ctx context.Context) (model.Workspace, error) {
			return updateOne[model.Workspace](ctx, s.backend, TableWorkspaces, id, map[string]any{"status": model.WorkspaceArchived})
		},
	})
	return err
}

// workspace loads one workspace row.
func (s *Service) workspace(ctx context.Context, id string) (model.Workspace, error) {
	return one[model.Workspace](ctx, s, idKey(TableWorkspaces, id), backend.From(TableWorkspaces).Eq("id", id))
}
