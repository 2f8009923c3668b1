package data

import (
	"context"
	"io"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/orgmode"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

type newChecklist struct {
	WorkspaceID string                `json:"workspace_id"`
	Title       string                `json:"title"`
	Items       []model.ChecklistItem `json:"items"`
}

func (s *Service) ListChecklists(ctx context.Context, workspaceID string) ([]model.ChecklistView, error) {
	q := backend.From(TableChecklists).Eq("workspace_id", workspaceID).Order("created_at", false)
	rows, err := list[model.Checklist](ctx, s, querycache.Key{TableChecklists, workspaceID}, q)
	if err != nil {
		return nil, err
	}
	views := make([]model.ChecklistView, len(rows))
	for i, c := range rows {
		views[i] = model.NewChecklistView(c)
	}
	return views, nil
}

// CreateChecklist stores a checklist; items without ids get one.
func (s *Service) CreateChecklist(ctx context.Context, workspaceID, title string, items []model.ChecklistItem) (model.Checklist, error) {
	const failure = "Failed to create checklist"
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Checklist{}, s.fail(failure, backend.Invalid("title", "title is required"))
	}
	if workspaceID == "" {
		return model.Checklist{}, s.fail(failure, backend.Invalid("workspace_id", "workspace is required"))
	}
	filled := make([]model.ChecklistItem, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		if it.ID == "" {
			it.ID = s.newID()
		}
		filled = append(filled, it)
	}

	key := querycache.Key{TableChecklists, workspaceID}
	tmp := model.Checklist{
		ID:          optimistic.TempID(),
		WorkspaceID: workspaceID,
		Title:       title,
		Items:       filled,
		CreatedAt:   model.Timestamp{Time: s.now()},
	}
	return run(ctx, s, "Checklist created", failure, optimistic.Mutation[model.Checklist]{
		Keys: []querycache.Key{key},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedList(c, key, func(l []model.Checklist) []model.Checklist {
				return optimistic.AddToList(l, tmp, false)
			})
		},
		Do: func(ctx context.Context) (model.Checklist, error) {
			return insertOne[model.Checklist](ctx, s.backend, TableChecklists, newChecklist{
				WorkspaceID: workspaceID,
				Title:       title,
				Items:       filled,
			})
		},
		OnSuccess: func(c *querycache.Cache, created model.Checklist) {
			optimistic.UpdateCachedList(c, key, func(l []model.Checklist) []model.Checklist {
				return optimistic.ReplaceInList(l, tmp.ID, keyOf[model.Checklist], created)
			})
		},
		Invalidate: []querycache.Key{{TableChecklists}},
	})
}

// ImportChecklist creates a checklist from an Org-mode outline. The
// outline title is used unless title is given.
func (s *Service) ImportChecklist(ctx context.Context, workspaceID, title string, r io.Reader) (model.Checklist, error) {
	outline, err := orgmode.Parse(r)
	if err != nil {
		return model.Checklist{}, s.fail("Failed to import checklist", err)
	}
	if strings.TrimSpace(title) == "" {
		title = outline.Title
	}
	if len(outline.Items) == 0 {
		return model.Checklist{}, s.fail("Failed to import checklist", backend.Invalid("items", "outline has no TODO headings or checkboxes"))
	}
	return s.CreateChecklist(ctx, workspaceID, title, outline.Items)
}

// ToggleChecklistItem flips one item. The items column is written whole,
// so the current row is read first.
func (s *Service) ToggleChecklistItem(ctx context.Context, checklistID, itemID string) (model.Checklist, error) {
	const failure = "Failed to update checklist"
	cur, err := one[model.Checklist](ctx, s, idKey(TableChecklists, checklistID), backend.From(TableChecklists).Eq("id", checklistID))
	if err != nil {
		return model.Checklist{}, s.fail(failure, err)
	}
	next, ok := cur.ToggleItem(itemID)
	if !ok {
		return model.Checklist{}, s.fail(failure, backend.Invalid("item_id", "no item %q in checklist", itemID))
	}

	toggle := func(c model.Checklist) model.Checklist {
		t, _ := c.ToggleItem(itemID)
		return t
	}
	return run(ctx, s, "", failure, optimistic.Mutation[model.Checklist]{
		Keys: []querycache.Key{{TableChecklists}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableChecklists}, func(l []model.Checklist) []model.Checklist {
				return optimistic.UpdateInList(l, checklistID, keyOf[model.Checklist], toggle)
			})
			replaceCached(c, idKey(TableChecklists, checklistID), toggle)
		},
		Do: func(ctx context.Context) (model.Checklist, error) {
			return updateOne[model.Checklist](ctx, s.backend, TableChecklists, checklistID, map[string]any{"items": next.Items})
		},
	})
}

func (s *Service) DeleteChecklist(ctx context.Context, id string) error {
	_, err := run(ctx, s, "Checklist deleted", "Failed to delete checklist", optimistic.Mutation[struct{}]{
		Keys: []querycache.Key{{TableChecklists}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableChecklists}, func(l []model.Checklist) []model.Checklist {
				return optimistic.RemoveFromList(l, id, keyOf[model.Checklist])
			})
		},
		Do: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, deleteByID(ctx, s.backend, TableChecklists, id)
		},
	})
	return err
}
