package data

import (
	"context"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

type newDeliverable struct {
	WorkspaceID string                  `json:"workspace_id"`
	SponsorID   *string                 `json:"sponsor_id,omitempty"`
	Title       string                  `json:"title"`
	Description string                  `json:"description,omitempty"`
	Status      model.DeliverableStatus `json:"status"`
	DueDate     *model.Timestamp        `json:"due_date,omitempty"`
}

func (s *Service) ListDeliverables(ctx context.Context, workspaceID string) ([]model.DeliverableView, error) {
	q := backend.From(TableDeliverables).Eq("workspace_id", workspaceID).Order("due_date", false)
	rows, err := list[model.Deliverable](ctx, s, querycache.Key{TableDeliverables, workspaceID}, q)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]model.DeliverableView, len(rows))
	for i, d := range rows {
		views[i] = model.NewDeliverableView(d, now)
	}
	return views, nil
}

func (s *Service) CreateDeliverable(ctx context.Context, d model.Deliverable) (model.Deliverable, error) {
	const failure = "Failed to create deliverable"
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return model.Deliverable{}, s.fail(failure, backend.Invalid("title", "title is required"))
	}
	if d.Status == "" {
		d.Status = model.DeliverablePending
	}
	if !d.Status.Valid() {
		return model.Deliverable{}, s.fail(failure, backend.Invalid("status", "unknown status %q", d.Status))
	}

	key := querycache.Key{TableDeliverables, d.WorkspaceID}
	tmp := d
	tmp.ID = optimistic.TempID()
	tmp.CreatedAt = model.Timestamp{Time: s.now()}
	return run(ctx, s, "Deliverable created", failure, optimistic.Mutation[model.Deliverable]{
		Keys: []querycache.Key{key},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedList(c, key, func(l []model.Deliverable) []model.Deliverable {
				return optimistic.AddToList(l, tmp, false)
			})
		},
		Do: func(ctx context.Context) (model.Deliverable, error) {
			return insertOne[model.Deliverable](ctx, s.backend, TableDeliverables, newDeliverable{
				WorkspaceID: d.WorkspaceID,
				SponsorID:   d.SponsorID,
				Title:       d.Title,
				Description: d.Description,
				Status:      d.Status,
				DueDate:     d.DueDate,
			})
		},
		OnSuccess: func(c *querycache.Cache, created model.Deliverable) {
			optimistic.UpdateCachedList(c, key, func(l []model.Deliverable) []model.Deliverable {
				return optimistic.ReplaceInList(l, tmp.ID, keyOf[model.Deliverable], created)
			})
		},
		Invalidate: []querycache.Key{{TableDeliverables}},
	})
}

func (s *Service) UpdateDeliverableStatus(ctx context.Context, id string, status model.DeliverableStatus) (model.Deliverable, error) {
	const failure = "Failed to update deliverable"
	if !status.Valid() {
		return model.Deliverable{}, s.fail(failure, backend.Invalid("status", "unknown status %q", status))
	}
	return run(ctx, s, "Deliverable updated", failure, optimistic.Mutation[model.Deliverable]{
		Keys: []querycache.Key{{TableDeliverables}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableDeliverables}, func(l []model.Deliverable) []model.Deliverable {
				return optimistic.UpdateInList(l, id, keyOf[model.Deliverable], func(d model.Deliverable) model.Deliverable {
					d.Status = status
					return d
				})
			})
		},
		Do: func(ctx context.Context) (model.Deliverable, error) {
			return updateOne[model.Deliverable](ctx, s.backend, TableDeliverables, id, map[string]any{"status": status})
		},
	})
}

func (s *Service) DeleteDeliverable(ctx context.Context, id string) error {
	_, err := run(ctx, s, "Deliverable deleted", "Failed to delete deliverable", optimistic.Mutation[struct{}]{
		Keys: []querycache.Key{{TableDeliverables}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableDeliverables}, func(l []model.Deliverable) []model.Deliverable {
				return optimistic.RemoveFromList(l, id, keyOf[model.Deliverable])
			})
		},
		Do: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, deleteByID(ctx, s.backend, TableDeliverables, id)
		},
	})
	return err
}
