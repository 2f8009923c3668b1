package data

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float(v float64) *float64 { return &v }

func seedApprovalWorld(fb *fakeBackend) {
	fb.seed(TableWorkspaces, []model.Workspace{
		{ID: "ws-1", EventID: "ev", Name: "Logistics", Type: model.WorkspaceDepartment, Status: model.WorkspaceActive},
	})
	fb.seed(TableTasks, []model.Task{
		{ID: "t-vendor", WorkspaceID: "ws-1", Title: "Sign AV vendor", Status: model.TaskTodo, Priority: model.PriorityHigh, Category: "vendor", EstimatedCost: 8000},
		{ID: "t-small", WorkspaceID: "ws-1", Title: "Buy tape", Status: model.TaskTodo, Priority: model.PriorityLow, Category: "supplies", EstimatedCost: 20},
	})
	fb.seed(TablePolicies, []model.ApprovalPolicyRow{
		{
			ID: "pol-spend", Name: "Large spend", Active: true, Priority: 10,
			Conditions: model.PolicyCondition{MinCost: float(1000)},
			Levels: []model.PolicyLevel{
				{Name: "Finance", Roles: []string{"finance"}, Required: 1},
				{Name: "Director", ApproverIDs: []string{"director"}, Required: 1},
			},
		},
		{
			ID: "pol-off", Name: "Disabled", Active: false, Priority: 99,
			Levels: []model.PolicyLevel{{Name: "Anyone", Roles: []string{"member"}}},
		},
	})
	fb.seed(TableUserRoles, []userRole{
		{UserID: "user-1", Role: "member"},
		{UserID: "user-1", Role: "finance"},
		{UserID: "intern", Role: "member"},
	})
}

func TestApprovalChain(t *testing.T) {
	fb := newFakeBackend(testNow)
	seedApprovalWorld(fb)
	ctx := context.Background()
	finance, financeToasts := newService(t, fb, "user-1")

	req, err := finance.RequestApproval(ctx, "t-vendor")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, req.Status)
	require.NotNil(t, req.PolicyID)
	assert.Equal(t, "pol-spend", *req.PolicyID)

	calls := fb.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, FnNotifyApprovers, calls[0].Name)
	var notice approverNotice
	require.NoError(t, json.Unmarshal(calls[0].Body, &notice))
	assert.Equal(t, req.ID, notice.RequestID)
	assert.Equal(t, 0, notice.Level)
	assert.Equal(t, []string{"finance"}, notice.Roles)

	_, err = finance.RequestApproval(ctx, "t-vendor")
	assert.True(t, backend.IsValidation(err), "second pending request for one task")

	intern, _ := newService(t, fb, "intern")
	_, err = intern.DecideApproval(ctx, req.ID, model.DecisionApprove, "")
	assert.True(t, backend.IsValidation(err), "intern holds no finance role")

	st, err := finance.DecideApproval(ctx, req.ID, model.DecisionApprove, "within budget")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, st.Status)
	assert.Equal(t, 1, st.CurrentLevel)
	last, _ := financeToasts.Last()
	assert.Equal(t, "Decision recorded", last.Title)

	_, err = finance.DecideApproval(ctx, req.ID, model.DecisionApprove, "")
	assert.True(t, backend.IsValidation(err), "finance is not eligible at the director level")

	director, directorToasts := newService(t, fb, "director")
	progress, err := director.ApprovalState(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Request.CurrentLevel)
	assert.Equal(t, []string{"director"}, progress.Waiting)
	require.Len(t, progress.Decisions, 1)
	assert.Equal(t, "finance", progress.Decisions[0].ApproverRole)

	st, err = director.DecideApproval(ctx, req.ID, model.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, st.Status)
	last, _ = directorToasts.Last()
	assert.Equal(t, notify.LevelSuccess, last.Level)
	assert.Equal(t, "Request approved", last.Title)

	rows := fb.rows(TableRequests)
	require.Len(t, rows, 1)
	assert.Equal(t, "approved", rows[0]["status"])
	assert.NotNil(t, rows[0]["resolved_at"])
	assert.Len(t, fb.rows(TableDecisions), 2)

	_, err = director.DecideApproval(ctx, req.ID, model.DecisionReject, "")
	assert.True(t, backend.IsValidation(err), "resolved requests take no more votes")
}

func TestApprovalRejection(t *testing.T) {
	fb := newFakeBackend(testNow)
	seedApprovalWorld(fb)
	ctx := context.Background()
	svc, _ := newService(t, fb, "user-1")

	req, err := svc.RequestApproval(ctx, "t-vendor")
	require.NoError(t, err)
	st, err := svc.DecideApproval(ctx, req.ID, model.DecisionReject, "too expensive")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalRejected, st.Status)
	assert.Equal(t, "user-1", st.RejectedBy)

	_, err = svc.DecideApproval(ctx, req.ID, "maybe", "")
	assert.True(t, backend.IsValidation(err))
}

func TestRequestApprovalWithoutPolicyAutoApproves(t *testing.T) {
	fb := newFakeBackend(testNow)
	seedApprovalWorld(fb)
	svc, toasts := newService(t, fb, "user-1")

	req, err := svc.RequestApproval(context.Background(), "t-small")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, req.Status)
	assert.Nil(t, req.PolicyID)
	require.NotNil(t, req.ResolvedAt)
	assert.Empty(t, fb.invocations())

	last, _ := toasts.Last()
	assert.Equal(t, "Task auto-approved", last.Title)

	progress, err := svc.ApprovalState(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Nil(t, progress.Policy)
	assert.Equal(t, model.ApprovalApproved, progress.State.Status)
}

func TestRequestApprovalPolicyWithoutLevelsApproves(t *testing.T) {
	fb := newFakeBackend(testNow)
	seedApprovalWorld(fb)
	fb.seed(TablePolicies, []model.ApprovalPolicyRow{{
		ID: "pol-supplies", Name: "Supplies", Active: true, Priority: 5,
		Conditions: model.PolicyCondition{Categories: []string{"supplies"}},
	}})
	ctx := context.Background()
	svc, toasts := newService(t, fb, "user-1")

	req, err := svc.RequestApproval(ctx, "t-small")
	require.NoError(t, err)
	require.NotNil(t, req.PolicyID)
	assert.Equal(t, "pol-supplies", *req.PolicyID)
	assert.Equal(t, model.ApprovalApproved, req.Status)
	assert.Equal(t, 0, req.CurrentLevel)
	require.NotNil(t, req.ResolvedAt)
	assert.Empty(t, fb.invocations())

	last, _ := toasts.Last()
	assert.Equal(t, "Task auto-approved", last.Title)

	progress, err := svc.ApprovalState(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, progress.Policy)
	assert.Equal(t, model.ApprovalApproved, progress.State.Status)
	assert.Equal(t, req.Status, progress.Request.Status)

	_, err = svc.DecideApproval(ctx, req.ID, model.DecisionApprove, "")
	assert.ErrorContains(t, err, "already approved")
}

func TestNotifyApproversFailureIsNotFatal(t *testing.T) {
	fb := newFakeBackend(testNow)
	seedApprovalWorld(fb)
	fb.failOn("invoke:"+FnNotifyApprovers, serverError())
	svc, toasts := newService(t, fb, "user-1")

	req, err := svc.RequestApproval(context.Background(), "t-vendor")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, req.Status)

	last, _ := toasts.Last()
	assert.Equal(t, notify.LevelWarning, last.Level)
	assert.Equal(t, "Approvers not notified", last.Title)
}
