package data

import (
	"context"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
	"go.uber.org/zap"
)

type newAssignment struct {
	ShiftID     string `json:"shift_id"`
	VolunteerID string `json:"volunteer_id"`
}

func (s *Service) shifts(ctx context.Context, workspaceID string) ([]model.VolunteerShift, error) {
	key := querycache.Key{TableShifts, workspaceID}
	rows, err := querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]model.VolunteerShift, error) {
		var shifts []model.VolunteerShift
		q := backend.From(TableShifts).Eq("workspace_id", workspaceID).Order("starts_at", false)
		if err := s.backend.Select(ctx, q, &shifts); err != nil {
			return nil, err
		}
		if len(shifts) == 0 {
			return []model.VolunteerShift{}, nil
		}
		ids := make([]any, len(shifts))
		for i, sh := range shifts {
			ids[i] = sh.ID
		}
		var assignments []model.VolunteerAssignment
		if err := s.backend.Select(ctx, backend.From(TableAssignments).In("shift_id", ids...), &assignments); err != nil {
			return nil, err
		}
		byShift := map[string][]model.VolunteerAssignment{}
		for _, a := range assignments {
			byShift[a.ShiftID] = append(byShift[a.ShiftID], a)
		}
		for i := range shifts {
			shifts[i].Assignments = byShift[shifts[i].ID]
		}
		return shifts, nil
	})
	if err != nil {
		s.log.Warn("query failed", zap.String("key", key.String()), zap.Error(err))
	}
	return rows, err
}

// ListShifts returns a workspace's shifts with their fill state.
func (s *Service) ListShifts(ctx context.Context, workspaceID string) ([]model.ShiftView, error) {
	rows, err := s.shifts(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	views := make([]model.ShiftView, len(rows))
	for i, sh := range rows {
		views[i] = model.NewShiftView(sh)
	}
	return views, nil
}

func (s *Service) shift(ctx context.Context, workspaceID, shiftID string) (model.VolunteerShift, error) {
	rows, err := s.shifts(ctx, workspaceID)
	if err != nil {
		return model.VolunteerShift{}, err
	}
	for _, sh := range rows {
		if sh.ID == shiftID {
			return sh, nil
		}
	}
	return model.VolunteerShift{}, backend.ErrNotFound
}

func (s *Service) updateShift(c *querycache.Cache, workspaceID, shiftID string, fn func(model.VolunteerShift) model.VolunteerShift) {
	optimistic.UpdateCachedList(c, querycache.Key{TableShifts, workspaceID}, func(l []model.VolunteerShift) []model.VolunteerShift {
		return optimistic.UpdateInList(l, shiftID, keyOf[model.VolunteerShift], fn)
	})
}

// AssignVolunteer puts a volunteer on a shift. Full shifts and repeat
// assignments are rejected before anything is sent.
func (s *Service) AssignVolunteer(ctx context.Context, workspaceID, shiftID, volunteerID string) (model.VolunteerAssignment, error) {
	const failure = "Failed to assign volunteer"
	sh, err := s.shift(ctx, workspaceID, shiftID)
	if err != nil {
		return model.VolunteerAssignment{}, s.fail(failure, err)
	}
	if sh.HasVolunteer(volunteerID) {
		return model.VolunteerAssignment{}, s.fail(failure, backend.Invalid("volunteer_id", "volunteer is already on %s", sh.Name))
	}
	if model.NewShiftView(sh).Full {
		return model.VolunteerAssignment{}, s.fail(failure, backend.Invalid("shift_id", "%s is full (%d/%d)", sh.Name, len(sh.Assignments), sh.Capacity))
	}

	tmp := model.VolunteerAssignment{ID: optimistic.TempID(), ShiftID: shiftID, VolunteerID: volunteerID}
	return run(ctx, s, "Volunteer assigned", failure, optimistic.Mutation[model.VolunteerAssignment]{
		Keys: []querycache.Key{{TableShifts, workspaceID}},
		Apply: func(c *querycache.Cache) {
			s.updateShift(c, workspaceID, shiftID, func(v model.VolunteerShift) model.VolunteerShift {
				v.Assignments = optimistic.AddToList(v.Assignments, tmp, false)
				return v
			})
		},
		Do: func(ctx context.Context) (model.VolunteerAssignment, error) {
			return insertOne[model.VolunteerAssignment](ctx, s.backend, TableAssignments, newAssignment{ShiftID: shiftID, VolunteerID: volunteerID})
		},
		Invalidate: []querycache.Key{{TableShifts}},
	})
}

func (s *Service) UnassignVolunteer(ctx context.Context, workspaceID, shiftID, volunteerID string) error {
	_, err := run(ctx, s, "Volunteer removed", "Failed to remove volunteer", optimistic.Mutation[struct{}]{
		Keys: []querycache.Key{{TableShifts, workspaceID}},
		Apply: func(c *querycache.Cache) {
			s.updateShift(c, workspaceID, shiftID, func(v model.VolunteerShift) model.VolunteerShift {
				out := make([]model.VolunteerAssignment, 0, len(v.Assignments))
				for _, a := range v.Assignments {
					if a.VolunteerID != volunteerID {
						out = append(out, a)
					}
				}
				v.Assignments = out
				return v
			})
		},
		Do: func(ctx context.Context) (struct{}, error) {
			q := backend.From(TableAssignments).Eq("shift_id", shiftID).Eq("volunteer_id", volunteerID)
			return struct{}{}, s.backend.Delete(ctx, q)
		},
		Invalidate: []querycache.Key{{TableShifts}},
	})
	return err
}

// CheckInVolunteer stamps the volunteer's arrival on a shift.
func (s *Service) CheckInVolunteer(ctx context.Context, workspaceID, shiftID, volunteerID string) (model.VolunteerAssignment, error) {
	const failure = "Failed to check in volunteer"
	sh, err := s.shift(ctx, workspaceID, shiftID)
	if err != nil {
		return model.VolunteerAssignment{}, s.fail(failure, err)
	}
	if !sh.HasVolunteer(volunteerID) {
		return model.VolunteerAssignment{}, s.fail(failure, backend.Invalid("volunteer_id", "volunteer is not on %s", sh.Name))
	}
	at := model.NewTimestamp(s.now())
	return run(ctx, s, "Volunteer checked in", failure, optimistic.Mutation[model.VolunteerAssignment]{
		Keys: []querycache.Key{{TableShifts, workspaceID}},
		Apply: func(c *querycache.Cache) {
			s.updateShift(c, workspaceID, shiftID, func(v model.VolunteerShift) model.VolunteerShift {
				out := make([]model.VolunteerAssignment, len(v.Assignments))
				for i, a := range v.Assignments {
					if a.VolunteerID == volunteerID {
						a.CheckedInAt = at
					}
					out[i] = a
				}
				v.Assignments = out
				return v
			})
		},
		Do: func(ctx context.Context) (model.VolunteerAssignment, error) {
			var out []model.VolunteerAssignment
			q := backend.From(TableAssignments).Eq("shift_id", shiftID).Eq("volunteer_id", volunteerID)
			if err := s.backend.Update(ctx, q, map[string]any{"checked_in_at": at}, &out); err != nil {
				return model.VolunteerAssignment{}, err
			}
			if len(out) == 0 {
				return model.VolunteerAssignment{}, backend.ErrNotFound
			}
			return out[0], nil
		},
		Invalidate: []querycache.Key{{TableShifts}},
	})
}
