package data

import (
	"context"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

type newSponsor struct {
	EventID         string              `json:"event_id"`
	Name            string              `json:"name"`
	Tier            string              `json:"tier"`
	Status          model.SponsorStatus `json:"status"`
	CommittedAmount float64             `json:"committed_amount"`
	ContactEmail    string              `json:"contact_email,omitempty"`
}

func (s *Service) ListSponsors(ctx context.Context, eventID string) ([]model.SponsorView, error) {
	q := backend.From(TableSponsors).Eq("event_id", eventID).Order("committed_amount", true)
	rows, err := list[model.Sponsor](ctx, s, querycache.Key{TableSponsors, eventID}, q)
	if err != nil {
		return nil, err
	}
	views := make([]model.SponsorView, len(rows))
	for i, sp := range rows {
		views[i] = model.NewSponsorView(sp)
	}
	return views, nil
}

func (s *Service) sponsor(ctx context.Context, id string) (model.Sponsor, error) {
	return one[model.Sponsor](ctx, s, idKey(TableSponsors, id), backend.From(TableSponsors).Eq("id", id))
}

func (s *Service) CreateSponsor(ctx context.Context, sp model.Sponsor) (model.Sponsor, error) {
	const failure = "Failed to add sponsor"
	sp.Name = strings.TrimSpace(sp.Name)
	if sp.Name == "" {
		return model.Sponsor{}, s.fail(failure, backend.Invalid("name", "name is required"))
	}
	if sp.Status == "" {
		sp.Status = model.SponsorProspect
	}
	if !sp.Status.Valid() {
		return model.Sponsor{}, s.fail(failure, backend.Invalid("status", "unknown status %q", sp.Status))
	}
	if sp.CommittedAmount < 0 {
		return model.Sponsor{}, s.fail(failure, backend.Invalid("committed_amount", "amount cannot be negative"))
	}
	key := querycache.Key{TableSponsors, sp.EventID}
	tmp := sp
	tmp.ID = optimistic.TempID()
	return run(ctx, s, "Sponsor added", failure, optimistic.Mutation[model.Sponsor]{
		Keys: []querycache.Key{key},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedList(c, key, func(l []model.Sponsor) []model.Sponsor {
				return optimistic.AddToList(l, tmp, false)
			})
		},
		Do: func(ctx context.Context) (model.Sponsor, error) {
			return insertOne[model.Sponsor](ctx, s.backend, TableSponsors, newSponsor{
				EventID:         sp.EventID,
				Name:            sp.Name,
				Tier:            sp.Tier,
				Status:          sp.Status,
				CommittedAmount: sp.CommittedAmount,
				ContactEmail:    sp.ContactEmail,
			})
		},
		OnSuccess: func(c *querycache.Cache, created model.Sponsor) {
			optimistic.UpdateCachedList(c, key, func(l []model.Sponsor) []model.Sponsor {
				return optimistic.ReplaceInList(l, tmp.ID, keyOf[model.Sponsor], created)
			})
		},
		Invalidate: []querycache.Key{{TableSponsors}},
	})
}

// RecordSponsorPayment adds amount to what the sponsor has paid.
func (s *Service) RecordSponsorPayment(ctx context.Context, sponsorID string, amount float64) (model.Sponsor, error) {
	const failure = "Failed to record payment"
	if amount <= 0 {
		return model.Sponsor{}, s.fail(failure, backend.Invalid("amount", "amount must be positive"))
	}
	cur, err := s.sponsor(ctx, sponsorID)
	if err != nil {
		return model.Sponsor{}, s.fail(failure, err)
	}
	received := cur.ReceivedAmount + amount
	return s.patchSponsor(ctx, sponsorID, "Payment recorded", failure, map[string]any{"received_amount": received}, func(sp model.Sponsor) model.Sponsor {
		sp.ReceivedAmount = received
		return sp
	})
}

func (s *Service) UpdateSponsorStatus(ctx context.Context, sponsorID string, status model.SponsorStatus) (model.Sponsor, error) {
	const failure = "Failed to update sponsor"
	if !status.Valid() {
		return model.Sponsor{}, s.fail(failure, backend.Invalid("status", "unknown status %q", status))
	}
	return s.patchSponsor(ctx, sponsorID, "Sponsor updated", failure, map[string]any{"status": status}, func(sp model.Sponsor) model.Sponsor {
		sp.Status = status
		return sp
	})
}

func (s *Service) patchSponsor(ctx context.Context, id, success, failure string, body map[string]any, fn func(model.Sponsor) model.Sponsor) (model.Sponsor, error) {
	return run(ctx, s, success, failure, optimistic.Mutation[model.Sponsor]{
		Keys: []querycache.Key{{TableSponsors}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableSponsors}, func(l []model.Sponsor) []model.Sponsor {
				return optimistic.UpdateInList(l, id, keyOf[model.Sponsor], fn)
			})
			replaceCached(c, idKey(TableSponsors, id), fn)
		},
		Do: func(ctx context.Context) (model.Sponsor, error) {
			return updateOne[model.Sponsor](ctx, s.backend, TableSponsors, id, body)
		},
	})
}
