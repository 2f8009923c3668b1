package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// fakeCalendar serves the slice of the Calendar v3 REST API the syncer uses.
type fakeCalendar struct {
	mu     sync.Mutex
	seq    int
	events map[string]*gcal.Event
	calls  map[string]int
}

func newFakeCalendar(t *testing.T) (*fakeCalendar, *gcal.Service) {
	t.Helper()
	f := &fakeCalendar{events: map[string]*gcal.Event{}, calls: map[string]int{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, gcal.CalendarList{Items: []*gcal.CalendarListEntry{
			{Id: "personal", Summary: "Personal"},
			{Id: "agenda@group", Summary: "Event Agenda"},
		}})
	})
	mux.HandleFunc("GET /calendars/{cal}/events", f.list)
	mux.HandleFunc("POST /calendars/{cal}/events", f.insert)
	mux.HandleFunc("GET /calendars/{cal}/events/{id}", f.get)
	mux.HandleFunc("PATCH /calendars/{cal}/events/{id}", f.patch)
	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", f.delete)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	srv, err := NewService(context.Background(), ts.Client(), option.WithEndpoint(ts.URL+"/"))
	require.NoError(t, err)
	return f, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
}

func (f *fakeCalendar) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

func (f *fakeCalendar) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get"]++
	e, ok := f.events[r.PathValue("id")]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, e)
}

func (f *fakeCalendar) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++
	key, val, _ := strings.Cut(r.URL.Query().Get("privateExtendedProperty"), "=")
	var items []*gcal.Event
	for _, e := range f.events {
		if e.ExtendedProperties != nil && e.ExtendedProperties.Private[key] == val {
			items = append(items, e)
		}
	}
	writeJSON(w, gcal.Events{Items: items})
}

func (f *fakeCalendar) insert(w http.ResponseWriter, r *http.Request) {
	var e gcal.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["insert"]++
	f.seq++
	e.Id = fmt.Sprintf("evt%d", f.seq)
	e.Status = "confirmed"
	f.events[e.Id] = &e
	writeJSON(w, e)
}

func (f *fakeCalendar) patch(w http.ResponseWriter, r *http.Request) {
	var p gcal.Event
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["patch"]++
	e, ok := f.events[r.PathValue("id")]
	if !ok {
		notFound(w)
		return
	}
	if p.Summary != "" {
		e.Summary = p.Summary
	}
	if p.Description != "" {
		e.Description = p.Description
	}
	if p.ColorId != "" {
		e.ColorId = p.ColorId
	}
	if p.Start != nil {
		e.Start, e.End = p.Start, p.End
	}
	writeJSON(w, e)
}

func (f *fakeCalendar) delete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	id := r.PathValue("id")
	if _, ok := f.events[id]; !ok {
		notFound(w)
		return
	}
	delete(f.events, id)
	w.WriteHeader(http.StatusNoContent)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFindCalendar(t *testing.T) {
	_, srv := newFakeCalendar(t)
	id, err := FindCalendar(context.Background(), srv, "Event Agenda")
	require.NoError(t, err)
	assert.Equal(t, "agenda@group", id)

	_, err = FindCalendar(context.Background(), srv, "Missing")
	assert.ErrorContains(t, err, "not found")
}

func TestSyncCreatesThenPatchesThenSkips(t *testing.T) {
	fc, srv := newFakeCalendar(t)
	st := openStore(t)
	ctx := context.Background()
	s := NewSyncer(srv, "agenda@group", st, NewColors(st), zaptest.NewLogger(t))

	task := model.Task{ID: "t-1", WorkspaceID: "ws-1", Title: "Book venue", Status: model.TaskTodo, DueDate: at(now.Add(time.Hour))}
	item, err := TaskItem(task, now)
	require.NoError(t, err)

	res, err := s.Sync(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, Created, res.Action)
	linked, err := st.EventID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, res.EventID, linked)
	assert.Equal(t, "1", fc.events[res.EventID].ColorId)

	// Unchanged: one Get through the link, no writes.
	item, _ = TaskItem(task, now)
	res, err = s.Sync(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Action)
	assert.Equal(t, 1, fc.count("insert"))
	assert.Equal(t, 0, fc.count("patch"))
	assert.Equal(t, 0, fc.count("list"))

	// The deadline passes.
	item, _ = TaskItem(task, now.Add(2*time.Hour))
	res, err = s.Sync(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, Updated, res.Action)
	assert.Equal(t, "! Book venue", fc.events[res.EventID].Summary)
	assert.Equal(t, 1, fc.count("patch"))
}

func TestSyncFindsEventByPropertyWithoutLink(t *testing.T) {
	fc, srv := newFakeCalendar(t)
	ctx := context.Background()
	session := model.ScheduleSession{
		ID: "s-1", Title: "Keynote",
		StartsAt: model.Timestamp{Time: now}, EndsAt: model.Timestamp{Time: now.Add(time.Hour)},
	}
	fc.events["old"] = SessionEvent(session)
	fc.events["old"].Id = "old"

	st := openStore(t)
	s := NewSyncer(srv, "agenda@group", st, nil, zaptest.NewLogger(t))
	res, err := s.Sync(ctx, SessionItem(session))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Action)
	assert.Equal(t, "old", res.EventID)
	assert.Equal(t, 1, fc.count("list"))
	assert.Equal(t, 0, fc.count("insert"))

	linked, err := st.EventID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "old", linked)
}

func TestSyncRecreatesWhenLinkedEventIsGone(t *testing.T) {
	fc, srv := newFakeCalendar(t)
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.LinkEvent(ctx, "s-1", "deleted-by-hand"))

	s := NewSyncer(srv, "agenda@group", st, nil, zaptest.NewLogger(t))
	session := model.ScheduleSession{ID: "s-1", Title: "Keynote", StartsAt: model.Timestamp{Time: now}}
	res, err := s.Sync(ctx, SessionItem(session))
	require.NoError(t, err)
	assert.Equal(t, Created, res.Action)
	assert.Equal(t, 1, fc.count("get"))

	linked, _ := st.EventID(ctx, "s-1")
	assert.Equal(t, res.EventID, linked)
}

func TestRemove(t *testing.T) {
	fc, srv := newFakeCalendar(t)
	st := openStore(t)
	ctx := context.Background()
	s := NewSyncer(srv, "agenda@group", st, nil, zaptest.NewLogger(t))

	session := model.ScheduleSession{ID: "s-1", Title: "Keynote", StartsAt: model.Timestamp{Time: now}}
	res, err := s.Sync(ctx, SessionItem(session))
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "s-1"))
	assert.NotContains(t, fc.events, res.EventID)
	linked, _ := st.EventID(ctx, "s-1")
	assert.Empty(t, linked)

	// Nothing left to remove.
	require.NoError(t, s.Remove(ctx, "s-1"))
	assert.Equal(t, 1, fc.count("delete"))
}

func TestSyncAll(t *testing.T) {
	fc, srv := newFakeCalendar(t)
	st := openStore(t)
	s := NewSyncer(srv, "agenda@group", st, NewColors(st), zaptest.NewLogger(t))
	s.Concurrency = 2

	var items []Item
	for i := 0; i < 6; i++ {
		task := model.Task{
			ID: fmt.Sprintf("t-%d", i), WorkspaceID: fmt.Sprintf("ws-%d", i%3),
			Title: "task", Status: model.TaskTodo, DueDate: at(now.Add(time.Duration(i) * time.Hour)),
		}
		it, err := TaskItem(task, now)
		require.NoError(t, err)
		items = append(items, it)
	}
	items = append(items, Item{SourceID: "broken", Event: &gcal.Event{
		Summary: "bad", Start: &gcal.EventDateTime{DateTime: "soon"},
	}})
	fc.events["broken-evt"] = &gcal.Event{
		Id: "broken-evt", Summary: "bad",
		Start:              &gcal.EventDateTime{DateTime: "2026-06-01T12:00:00Z"},
		ExtendedProperties: private("broken"),
	}

	report := s.SyncAll(context.Background(), items)
	assert.Equal(t, 6, report.Count(Created))
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed, "broken")
	assert.Error(t, report.Err())

	colors, err := NewColors(st).Assignments(context.Background())
	require.NoError(t, err)
	assert.Len(t, colors, 3)
}
