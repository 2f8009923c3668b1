package data

import (
	"context"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

type newStakeholder struct {
	EventID      string      `json:"event_id"`
	Name         string      `json:"name"`
	Role         string      `json:"role"`
	Organization string      `json:"organization,omitempty"`
	Email        string      `json:"email,omitempty"`
	Influence    model.Level `json:"influence"`
	Interest     model.Level `json:"interest"`
	Notes        string      `json:"notes,omitempty"`
}

func (s *Service) ListStakeholders(ctx context.Context, eventID string) ([]model.Stakeholder, error) {
	q := backend.From(TableStakeholders).Eq("event_id", eventID).Order("name", false)
	return list[model.Stakeholder](ctx, s, querycache.Key{TableStakeholders, eventID}, q)
}

// StakeholderMatrix groups an event's stakeholders by power/interest
// quadrant. Every quadrant is present, possibly empty.
func (s *Service) StakeholderMatrix(ctx context.Context, eventID string) (map[model.Quadrant][]model.Stakeholder, error) {
	rows, err := s.ListStakeholders(ctx, eventID)
	if err != nil {
		return nil, err
	}
	m := map[model.Quadrant][]model.Stakeholder{
		model.ManageClosely: {},
		model.KeepSatisfied: {},
		model.KeepInformed:  {},
		model.Monitor:       {},
	}
	for _, st := range rows {
		q := st.Quadrant()
		m[q] = append(m[q], st)
	}
	return m, nil
}

func validateLevels(influence, interest *model.Level) error {
	if influence != nil && !influence.Valid() {
		return backend.Invalid("influence", "unknown level %q", *influence)
	}
	if interest != nil && !interest.Valid() {
		return backend.Invalid("interest", "unknown level %q", *interest)
	}
	return nil
}

func (s *Service) CreateStakeholder(ctx context.Context, st model.Stakeholder) (model.Stakeholder, error) {
	const failure = "Failed to add stakeholder"
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return model.Stakeholder{}, s.fail(failure, backend.Invalid("name", "name is required"))
	}
	if st.Influence == "" {
		st.Influence = model.LevelMedium
	}
	if st.Interest == "" {
		st.Interest = model.LevelMedium
	}
	if err := validateLevels(&st.Influence, &st.Interest); err != nil {
		return model.Stakeholder{}, s.fail(failure, err)
	}

	key := querycache.Key{TableStakeholders, st.EventID}
	tmp := st
	tmp.ID = optimistic.TempID()
	tmp.CreatedAt = model.Timestamp{Time: s.now()}
	return run(ctx, s, "Stakeholder added", failure, optimistic.Mutation[model.Stakeholder]{
		Keys: []querycache.Key{key},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedList(c, key, func(l []model.Stakeholder) []model.Stakeholder {
				return optimistic.AddToList(l, tmp, false)
			})
		},
		Do: func(ctx context.Context) (model.Stakeholder, error) {
			return insertOne[model.Stakeholder](ctx, s.backend, TableStakeholders, newStakeholder{
				EventID:      st.EventID,
				Name:         st.Name,
				Role:         st.Role,
				Organization: st.Organization,
				Email:        st.Email,
				Influence:    st.Influence,
				Interest:     st.Interest,
				Notes:        st.Notes,
			})
		},
		OnSuccess: func(c *querycache.Cache, created model.Stakeholder) {
			optimistic.UpdateCachedList(c, key, func(l []model.Stakeholder) []model.Stakeholder {
				return optimistic.ReplaceInList(l, tmp.ID, keyOf[model.Stakeholder], created)
			})
		},
		Invalidate: []querycache.Key{{TableStakeholders}},
	})
}

func (s *Service) UpdateStakeholder(ctx context.Context, id string, patch model.StakeholderPatch) (model.Stakeholder, error) {
	const failure = "Failed to update stakeholder"
	if err := validateLevels(patch.Influence, patch.Interest); err != nil {
		return model.Stakeholder{}, s.fail(failure, err)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.Stakeholder{}, s.fail(failure, backend.Invalid("name", "name is required"))
	}
	return run(ctx, s, "Stakeholder updated", failure, optimistic.Mutation[model.Stakeholder]{
		Keys: []querycache.Key{{TableStakeholders}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableStakeholders}, func(l []model.Stakeholder) []model.Stakeholder {
				return optimistic.UpdateInList(l, id, keyOf[model.Stakeholder], patch.Apply)
			})
		},
		Do: func(ctx context.Context) (model.Stakeholder, error) {
			return updateOne[model.Stakeholder](ctx, s.backend, TableStakeholders, id, patch)
		},
	})
}

func (s *Service) DeleteStakeholder(ctx context.Context, id string) error {
	_, err := run(ctx, s, "Stakeholder removed", "Failed to remove stakeholder", optimistic.Mutation[struct{}]{
		Keys: []querycache.Key{{TableStakeholders}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableStakeholders}, func(l []model.Stakeholder) []model.Stakeholder {
				return optimistic.RemoveFromList(l, id, keyOf[model.Stakeholder])
			})
		},
		Do: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, deleteByID(ctx, s.backend, TableStakeholders, id)
		},
	})
	return err
}
