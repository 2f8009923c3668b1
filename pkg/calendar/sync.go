// Package calendar exports the event agenda and task deadlines to a Google
// Calendar and keeps the exported copies current.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultConcurrency bounds SyncAll's parallel API calls.
const DefaultConcurrency = 4

// NewService builds a Calendar API client over an authorized HTTP client.
func NewService(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*gcal.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return srv, nil
}

// FindCalendar returns the id of the user's calendar with the given name.
func FindCalendar(ctx context.Context, srv *gcal.Service, name string) (string, error) {
	list, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	for _, item := range list.Items {
		if item.Summary == name {
			return item.Id, nil
		}
	}
	return "", fmt.Errorf("calendar '%s' not found", name)
}

// Links remembers which calendar event mirrors which row; *store.Store
// implements it.
type Links interface {
	EventID(ctx context.Context, sourceID string) (string, error)
	LinkEvent(ctx context.Context, sourceID, eventID string) error
	UnlinkEvent(ctx context.Context, sourceID string) error
}

// Item is one row to mirror on the calendar.
type Item struct {
	SourceID string
	// WorkspaceID picks the event color; empty keeps the calendar default.
	WorkspaceID string
	Event       *gcal.Event
}

func SessionItem(s model.ScheduleSession) Item {
	it := Item{SourceID: s.ID, Event: SessionEvent(s)}
	if s.WorkspaceID != nil {
		it.WorkspaceID = *s.WorkspaceID
	}
	return it
}

func TaskItem(t model.Task, now time.Time) (Item, error) {
	e, err := TaskEvent(t, now)
	if err != nil {
		return Item{}, err
	}
	return Item{SourceID: t.ID, WorkspaceID: t.WorkspaceID, Event: e}, nil
}

type Action string

const (
	Created   Action = "created"
	Updated   Action = "updated"
	Unchanged Action = "unchanged"
)

type Result struct {
	SourceID string
	EventID  string
	Action   Action
}

// Report summarizes a SyncAll run. Failed items do not stop the others.
type Report struct {
	Results []Result
	Failed  map[string]error
}

func (r Report) Count(a Action) int {
	n := 0
	for _, res := range r.Results {
		if res.Action == a {
			n++
		}
	}
	return n
}

// Err joins the per-item failures, or returns nil.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for id, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
	}
	return errors.Join(errs...)
}

type Syncer struct {
	srv         *gcal.Service
	calendarID  string
	links       Links
	colors      *Colors
	log         *zap.Logger
	Concurrency int
}

// NewSyncer mirrors items into calendarID. links and colors may be nil;
// without links every sync searches by extended property.
func NewSyncer(srv *gcal.Service, calendarID string, links Links, colors *Colors, log *zap.Logger) *Syncer {
	return &Syncer{
		srv:         srv,
		calendarID:  calendarID,
		links:       links,
		colors:      colors,
		log:         logging.OrNop(log),
		Concurrency: DefaultConcurrency,
	}
}

// Sync creates the item's event or patches the existing one when it differs.
func (s *Syncer) Sync(ctx context.Context, item Item) (Result, error) {
	res := Result{SourceID: item.SourceID}
	target := item.Event
	if s.colors != nil && item.WorkspaceID != "" {
		color, err := s.colors.ColorID(ctx, item.WorkspaceID)
		if err != nil {
			s.log.Warn("could not assign workspace color", zap.String("workspace_id", item.WorkspaceID), zap.Error(err))
		} else {
			target.ColorId = color
		}
	}

	existing, err := s.lookup(ctx, item.SourceID)
	if err != nil {
		return res, fmt.Errorf("error searching for event: %w", err)
	}

	if existing != nil {
		patch, err := EventPatch(existing, target)
		if err != nil {
			s.log.Warn("could not compare item with its calendar event", zap.String("source_id", item.SourceID), zap.Error(err))
			return res, err
		}
		res.EventID = existing.Id
		res.Action = Unchanged
		if patch != nil {
			updated, err := s.srv.Events.Patch(s.calendarID, existing.Id, patch).Context(ctx).Do()
			if err != nil {
				return res, fmt.Errorf("patch event %s: %w", existing.Id, err)
			}
			res.EventID = updated.Id
			res.Action = Updated
		}
		return res, s.link(ctx, item.SourceID, res.EventID)
	}

	created, err := s.srv.Events.Insert(s.calendarID, target).Context(ctx).Do()
	if err != nil {
		return res, fmt.Errorf("insert event: %w", err)
	}
	res.EventID = created.Id
	res.Action = Created
	return res, s.link(ctx, item.SourceID, created.Id)
}

// Remove deletes the item's event, if any, and forgets the link.
func (s *Syncer) Remove(ctx context.Context, sourceID string) error {
	existing, err := s.lookup(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("error searching for event: %w", err)
	}
	if existing != nil {
		err := s.srv.Events.Delete(s.calendarID, existing.Id).Context(ctx).Do()
		if err != nil && !isGone(err) {
			return fmt.Errorf("delete event %s: %w", existing.Id, err)
		}
	}
	if s.links == nil {
		return nil
	}
	return s.links.UnlinkEvent(ctx, sourceID)
}

// SyncAll syncs items with at most Concurrency calls in flight.
func (s *Syncer) SyncAll(ctx context.Context, items []Item) Report {
	report := Report{Failed: make(map[string]error)}
	var mu sync.Mutex

	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, item := range items {
		eg.Go(func() error {
			res, err := s.Sync(egCtx, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Warn("calendar sync failed", zap.String("source_id", item.SourceID), zap.Error(err))
				report.Failed[item.SourceID] = err
				return nil
			}
			report.Results = append(report.Results, res)
			return nil
		})
	}
	_ = eg.Wait()

	s.log.Info("calendar sync finished",
		zap.Int("created", report.Count(Created)),
		zap.Int("updated", report.Count(Updated)),
		zap.Int("unchanged", report.Count(Unchanged)),
		zap.Int("failed", len(report.Failed)))
	return report
}

// lookup finds the live event mirroring sourceID: first through the link
// index, then by searching the private extended property.
func (s *Syncer) lookup(ctx context.Context, sourceID string) (*gcal.Event, error) {
	if s.links != nil {
		id, err := s.links.EventID(ctx, sourceID)
		if err != nil {
			s.log.Warn("link lookup failed", zap.String("source_id", sourceID), zap.Error(err))
		}
		if id != "" {
			e, err := s.srv.Events.Get(s.calendarID, id).Context(ctx).Do()
			switch {
			case err == nil && e.Status != "cancelled":
				return e, nil
			case err != nil && !isGone(err):
				s.log.Debug("linked event unavailable, searching", zap.String("event_id", id), zap.Error(err))
			}
		}
	}

	events, err := s.srv.Events.List(s.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", PropertyKey, sourceID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	for _, e := range events.Items {
		if e.Status != "cancelled" {
			return e, nil
		}
	}
	return nil, nil
}

func (s *Syncer) link(ctx context.Context, sourceID, eventID string) error {
	if s.links == nil {
		return nil
	}
	return s.links.LinkEvent(ctx, sourceID, eventID)
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}
