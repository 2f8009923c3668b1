package data

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/notify"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
	"github.com/harrisonrobin/eventdesk/pkg/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	fb     *fakeBackend
	toasts *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fb := newFakeBackend(testNow)
	svc, rec := newService(t, fb, "user-1")
	return &fixture{fb: fb, svc: svc, toasts: rec}
}

func newService(t *testing.T, fb *fakeBackend, userID string) (*Service, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	now := func() time.Time { return testNow }
	var mu sync.Mutex
	n := 0
	svc := New(fb, Options{
		Cache:    querycache.New(querycache.Options{Now: now}),
		Notifier: rec,
		Logger:   zaptest.NewLogger(t),
		UserID:   userID,
		Now:      now,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("item-%d", n)
		},
	})
	return svc, rec
}

func ts(t time.Time) *model.Timestamp { return model.NewTimestamp(t) }

func serverError() error {
	return &backend.Error{Status: http.StatusInternalServerError, Message: "database is down"}
}

func seedTasks(fb *fakeBackend) {
	fb.seed(TableTasks, []model.Task{
		{ID: "t1", WorkspaceID: "ws-1", Title: "Book venue", Status: model.TaskInProgress, Priority: model.PriorityHigh, DueDate: ts(testNow.Add(-48 * time.Hour))},
		{ID: "t2", WorkspaceID: "ws-1", Title: "Print badges", Status: model.TaskTodo, Priority: model.PriorityMedium, DueDate: ts(testNow.Add(72 * time.Hour))},
		{ID: "t3", WorkspaceID: "ws-1", Title: "Send invites", Status: model.TaskCompleted, Priority: model.PriorityLow, DueDate: ts(testNow.Add(-24 * time.Hour))},
		{ID: "t4", WorkspaceID: "ws-2", Title: "Other team", Status: model.TaskTodo, Priority: model.PriorityLow},
	})
}

func titles(views []model.TaskView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Title
	}
	return out
}

func TestListTasks(t *testing.T) {
	fx := newFixture(t)
	seedTasks(fx.fb)
	ctx := context.Background()

	views, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Book venue", "Send invites", "Print badges"}, titles(views))
	assert.True(t, views[0].Overdue)
	assert.Equal(t, -2, views[0].DaysLeft)
	assert.False(t, views[1].Overdue, "completed tasks are never overdue")
	assert.Equal(t, 3, views[2].DaysLeft)

	_, err = fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fb.callCount("select:tasks"), "second read is served from the cache")

	open, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1", Statuses: []model.TaskStatus{model.TaskTodo, model.TaskInProgress}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Book venue", "Print badges"}, titles(open))

	due, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1", DueBefore: testNow})
	require.NoError(t, err)
	assert.Len(t, due, 2)

	_, err = fx.svc.ListTasks(ctx, TaskFilter{})
	assert.True(t, backend.IsValidation(err))
}

func TestTaskFilterKeyIsOrderIndependent(t *testing.T) {
	a := TaskFilter{WorkspaceID: "ws", Statuses: []model.TaskStatus{model.TaskTodo, model.TaskBlocked}}
	b := TaskFilter{WorkspaceID: "ws", Statuses: []model.TaskStatus{model.TaskBlocked, model.TaskTodo}}
	assert.Equal(t, a.key(), b.key())
	assert.NotEqual(t, a.key(), TaskFilter{WorkspaceID: "ws"}.key())
}

func TestCreateTaskShowsPendingRowThenServerRow(t *testing.T) {
	fx := newFixture(t)
	seedTasks(fx.fb)
	ctx := context.Background()

	_, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)

	var during []model.TaskView
	fx.fb.before = func(call string) {
		if call == "insert:tasks" {
			during, _ = fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
		}
	}

	created, err := fx.svc.CreateTask(ctx, model.Task{WorkspaceID: "ws-1", Title: "  Hire caterer ", EstimatedCost: 1200})
	require.NoError(t, err)
	assert.Equal(t, "Hire caterer", created.Title)
	assert.Equal(t, model.TaskTodo, created.Status)
	assert.Equal(t, model.PriorityMedium, created.Priority)
	assert.False(t, optimistic.IsTemp(created.ID))

	require.Len(t, during, 4)
	assert.Equal(t, "Hire caterer", during[0].Title)
	assert.True(t, during[0].Pending)
	assert.True(t, optimistic.IsTemp(during[0].ID))

	fx.fb.before = nil
	after, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	require.Len(t, after, 4)
	for _, v := range after {
		assert.False(t, v.Pending, v.Title)
	}
	assert.Equal(t, 2, fx.fb.callCount("select:tasks"), "mutation invalidates the list")

	last, ok := fx.toasts.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelSuccess, last.Level)
	assert.Equal(t, "Task created", last.Title)
}

func TestCreateTaskRollsBackOnFailure(t *testing.T) {
	fx := newFixture(t)
	seedTasks(fx.fb)
	ctx := context.Background()

	before, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	fx.fb.failOn("insert:tasks", serverError())

	_, err = fx.svc.CreateTask(ctx, model.Task{WorkspaceID: "ws-1", Title: "Hire caterer"})
	require.Error(t, err)
	assert.True(t, backend.IsRetryable(err))

	cached, ok := fx.svc.Cache().Get(querycache.Key{TableTasks, "ws-1", TaskFilter{WorkspaceID: "ws-1"}.key()})
	require.True(t, ok)
	rows := cached.([]model.Task)
	require.Len(t, rows, len(before))
	for i := range rows {
		assert.Equal(t, before[i].ID, rows[i].ID)
	}

	last, _ := fx.toasts.Last()
	assert.Equal(t, notify.LevelError, last.Level)
	assert.Equal(t, "Failed to create task", last.Title)
	assert.Contains(t, last.Description, "database is down")
}

func TestCreateTaskValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for name, task := range map[string]model.Task{
		"blank title":  {WorkspaceID: "ws-1", Title: "   "},
		"no workspace": {Title: "x"},
		"bad status":   {WorkspaceID: "ws-1", Title: "x", Status: "done"},
		"bad priority": {WorkspaceID: "ws-1", Title: "x", Priority: "p0"},
		"negative":     {WorkspaceID: "ws-1", Title: "x", EstimatedCost: -1},
	} {
		_, err := fx.svc.CreateTask(ctx, task)
		assert.True(t, backend.IsValidation(err), name)
	}
	assert.Zero(t, fx.fb.callCount("insert:tasks"))
	assert.Len(t, fx.toasts.Toasts(), 5)
}

func TestUpdateTaskStatus(t *testing.T) {
	fx := newFixture(t)
	seedTasks(fx.fb)
	ctx := context.Background()

	_, err := fx.svc.GetTask(ctx, "t2")
	require.NoError(t, err)

	got, err := fx.svc.UpdateTaskStatus(ctx, "t2", model.TaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, got.Status)
	require.True(t, got.CompletedAt.IsSet())
	assert.True(t, got.CompletedAt.Equal(testNow))

	view, err := fx.svc.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, view.Status)

	_, err = fx.svc.UpdateTaskStatus(ctx, "t2", "finished")
	assert.True(t, backend.IsValidation(err))

	_, err = fx.svc.UpdateTaskStatus(ctx, "missing", model.TaskTodo)
	assert.True(t, backend.IsNotFound(err))
}

func TestUpdateTaskRollsBackDetailAndLists(t *testing.T) {
	fx := newFixture(t)
	seedTasks(fx.fb)
	ctx := context.Background()

	_, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	_, err = fx.svc.GetTask(ctx, "t2")
	require.NoError(t, err)

	var seen model.TaskView
	fx.fb.before = func(call string) {
		if call == "update:tasks" {
			v, _ := fx.svc.Cache().Get(idKey(TableTasks, "t2"))
			seen = model.NewTaskView(v.(model.Task), testNow)
		}
	}
	fx.fb.failOn("update:tasks", serverError())

	title := "Print lanyards"
	_, err = fx.svc.UpdateTask(ctx, "t2", model.TaskPatch{Title: &title})
	require.Error(t, err)
	assert.Equal(t, "Print lanyards", seen.Title, "cache shows the edit while the call is in flight")

	v, _ := fx.svc.Cache().Get(idKey(TableTasks, "t2"))
	assert.Equal(t, "Print badges", v.(model.Task).Title)
}

func TestDeleteTask(t *testing.T) {
	fx := newFixture(t)
	seedTasks(fx.fb)
	ctx := context.Background()

	require.NoError(t, fx.svc.DeleteTask(ctx, "t1"))
	views, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Send invites", "Print badges"}, titles(views))

	_, err = fx.svc.GetTask(ctx, "t1")
	assert.True(t, backend.IsNotFound(err))
}

func TestCanceledMutationRaisesNoToast(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.svc.CreateTask(ctx, model.Task{WorkspaceID: "ws-1", Title: "x"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, fx.toasts.Toasts())
}

func TestWorkspaces(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	root := "ws-root"
	fx.fb.seed(TableWorkspaces, []model.Workspace{
		{ID: root, EventID: "ev-1", Name: "Summit", Type: model.WorkspaceRoot, Status: model.WorkspaceActive},
		{ID: "ws-logistics", EventID: "ev-1", ParentID: &root, Name: "Logistics", Type: model.WorkspaceDepartment, Status: model.WorkspaceActive},
		{ID: "ws-old", EventID: "ev-1", ParentID: &root, Name: "Archived", Type: model.WorkspaceTeam, Status: model.WorkspaceArchived},
	})

	created, err := fx.svc.CreateWorkspace(ctx, model.Workspace{EventID: "ev-1", ParentID: &root, Name: "Catering", Type: model.WorkspaceCommittee})
	require.NoError(t, err)
	assert.Equal(t, "user-1", created.OwnerID)

	tree, err := fx.svc.WorkspaceTree(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "Summit", tree[0].Name)
	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, "Catering", tree[0].Children[0].Name)

	_, err = fx.svc.RenameWorkspace(ctx, created.ID, "Food & Drink")
	require.NoError(t, err)
	require.NoError(t, fx.svc.ArchiveWorkspace(ctx, "ws-logistics"))

	list, err := fx.svc.ListWorkspaces(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Food & Drink", list[0].Name)

	_, err = fx.svc.CreateWorkspace(ctx, model.Workspace{EventID: "ev-1", Name: "x", Type: "guild"})
	assert.True(t, backend.IsValidation(err))
}

type fakeFeed struct {
	mu       sync.Mutex
	handlers map[string][]realtime.Handler
	unsubbed int
}

func (f *fakeFeed) Subscribe(table string, h realtime.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string][]realtime.Handler{}
	}
	f.handlers[table] = append(f.handlers[table], h)
	return func() {
		f.mu.Lock()
		f.unsubbed++
		f.mu.Unlock()
	}
}

func (f *fakeFeed) emit(c realtime.Change) {
	f.mu.Lock()
	hs := append([]realtime.Handler(nil), f.handlers[c.Table]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(c)
	}
}

func TestWatchInvalidatesChangedTable(t *testing.T) {
	fx := newFixture(t)
	seedTasks(fx.fb)
	ctx, cancel := context.WithCancel(context.Background())

	feed := &fakeFeed{}
	changes := make(chan realtime.Change, 1)
	fx.svc.Watch(ctx, feed, []string{TableTasks, TableBudgetCategories}, func(c realtime.Change) { changes <- c })

	_, err := fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	feed.emit(realtime.Change{Table: TableTasks, Type: "UPDATE"})
	assert.Equal(t, "UPDATE", (<-changes).Type)

	_, err = fx.svc.ListTasks(ctx, TaskFilter{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, fx.fb.callCount("select:tasks"))

	cancel()
	assert.Eventually(t, func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return feed.unsubbed == 2
	}, time.Second, 5*time.Millisecond)
}
