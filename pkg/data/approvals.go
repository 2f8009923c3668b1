package data

import (
	"context"

	"github.com/harrisonrobin/eventdesk/pkg/approval"
	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/notify"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
	"go.uber.org/zap"
)

type userRole struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type newApprovalRequest struct {
	TaskID       string               `json:"task_id"`
	PolicyID     *string              `json:"policy_id"`
	Status       model.ApprovalStatus `json:"status"`
	CurrentLevel int                  `json:"current_level"`
	RequestedBy  string               `json:"requested_by"`
	ResolvedAt   *model.Timestamp     `json:"resolved_at,omitempty"`
}

// approverNotice is the body of the notify-approvers function.
type approverNotice struct {
	RequestID   string               `json:"request_id"`
	TaskID      string               `json:"task_id"`
	Status      model.ApprovalStatus `json:"status"`
	Level       int                  `json:"level"`
	ApproverIDs []string             `json:"approver_ids"`
	Roles       []string             `json:"roles,omitempty"`
}

// ApprovalProgress is a request with the policy governing it and its
// evaluated state.
type ApprovalProgress struct {
	Request   model.ApprovalRequest
	Policy    *approval.Policy
	Decisions []model.ApprovalDecision
	State     approval.State
	// Waiting lists approver ids named at the current level that have
	// not voted.
	Waiting []string
}

// Roles returns the roles held by a user.
func (s *Service) Roles(ctx context.Context, userID string) ([]string, error) {
	rows, err := list[userRole](ctx, s, querycache.Key{TableUserRoles, userID}, backend.From(TableUserRoles).Eq("user_id", userID))
	if err != nil {
		return nil, err
	}
	roles := make([]string, len(rows))
	for i, r := range rows {
		roles[i] = r.Role
	}
	return roles, nil
}

// ListPolicies returns the active approval policies.
func (s *Service) ListPolicies(ctx context.Context) ([]approval.Policy, error) {
	q := backend.From(TablePolicies).Eq("is_active", true).Order("priority", true)
	rows, err := list[model.ApprovalPolicyRow](ctx, s, querycache.Key{TablePolicies, "active"}, q)
	if err != nil {
		return nil, err
	}
	out := make([]approval.Policy, len(rows))
	for i, r := range rows {
		out[i] = approval.FromRow(r)
	}
	return out, nil
}

func (s *Service) policy(ctx context.Context, id string) (approval.Policy, error) {
	row, err := one[model.ApprovalPolicyRow](ctx, s, idKey(TablePolicies, id), backend.From(TablePolicies).Eq("id", id))
	if err != nil {
		return approval.Policy{}, err
	}
	return approval.FromRow(row), nil
}

// ListApprovalRequests returns requests in the given status, or all when
// status is empty.
func (s *Service) ListApprovalRequests(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequest, error) {
	q := backend.From(TableRequests)
	scope := "all"
	if status != "" {
		q = q.Eq("status", status)
		scope = string(status)
	}
	return list[model.ApprovalRequest](ctx, s, querycache.Key{TableRequests, scope}, q.Order("created_at", true))
}

func (s *Service) approvalRequest(ctx context.Context, id string) (model.ApprovalRequest, error) {
	return one[model.ApprovalRequest](ctx, s, idKey(TableRequests, id), backend.From(TableRequests).Eq("id", id))
}

func (s *Service) decisions(ctx context.Context, requestID string) ([]model.ApprovalDecision, error) {
	q := backend.From(TableDecisions).Eq("request_id", requestID).Order("decided_at", false)
	return list[model.ApprovalDecision](ctx, s, querycache.Key{TableDecisions, requestID}, q)
}

func toDecisions(rows []model.ApprovalDecision) []approval.Decision {
	out := make([]approval.Decision, len(rows))
	for i, r := range rows {
		d := approval.Decision{Level: r.Level, ApproverID: r.ApproverID, Decision: r.Decision}
		if r.ApproverRole != "" {
			d.Roles = []string{r.ApproverRole}
		}
		out[i] = d
	}
	return out
}

// RequestApproval opens an approval request for a task. A task no policy
// applies to is approved on the spot.
func (s *Service) RequestApproval(ctx context.Context, taskID string) (model.ApprovalRequest, error) {
	const failure = "Failed to request approval"
	task, err := one[model.Task](ctx, s, idKey(TableTasks, taskID), backend.From(TableTasks).Eq("id", taskID))
	if err != nil {
		return model.ApprovalRequest{}, s.fail(failure, err)
	}
	ws, err := s.workspace(ctx, task.WorkspaceID)
	if err != nil {
		return model.ApprovalRequest{}, s.fail(failure, err)
	}
	open, err := s.backend.Count(ctx, backend.From(TableRequests).Eq("task_id", taskID).Eq("status", model.ApprovalPending))
	if err != nil {
		return model.ApprovalRequest{}, s.fail(failure, err)
	}
	if open > 0 {
		return model.ApprovalRequest{}, s.fail(failure, backend.Invalid("task_id", "%q already has a pending approval request", task.Title))
	}
	policies, err := s.ListPolicies(ctx)
	if err != nil {
		return model.ApprovalRequest{}, s.fail(failure, err)
	}

	p, matched := approval.Match(policies, approval.SubjectOf(task, ws))
	row := newApprovalRequest{TaskID: taskID, RequestedBy: s.userID}
	success := "Approval requested"
	var initial approval.State
	if matched {
		initial = approval.Evaluate(p, nil)
		row.PolicyID = &p.ID
		row.Status = initial.Status
		row.CurrentLevel = initial.CurrentLevel
		if initial.Status != model.ApprovalPending {
			row.ResolvedAt = model.NewTimestamp(s.now())
			success = "Task auto-approved"
		}
	} else {
		row.Status = model.ApprovalApproved
		row.ResolvedAt = model.NewTimestamp(s.now())
		success = "Task auto-approved"
	}

	req, err := run(ctx, s, success, failure, optimistic.Mutation[model.ApprovalRequest]{
		Keys: []querycache.Key{{TableRequests}},
		Do: func(ctx context.Context) (model.ApprovalRequest, error) {
			return insertOne[model.ApprovalRequest](ctx, s.backend, TableRequests, row)
		},
	})
	if err != nil {
		return req, err
	}
	switch {
	case matched && initial.Status == model.ApprovalPending:
		s.log.Info("approval requested", zap.String("task", taskID), zap.String("policy", p.Name))
		s.notifyApprovers(ctx, req, p, initial)
	case matched:
		s.log.Info("approval policy has no levels, approved", zap.String("task", taskID), zap.String("policy", p.Name))
	default:
		s.log.Info("no approval policy applies, approved", zap.String("task", taskID))
	}
	return req, nil
}

// ApprovalState evaluates where a request stands.
func (s *Service) ApprovalState(ctx context.Context, requestID string) (ApprovalProgress, error) {
	req, err := s.approvalRequest(ctx, requestID)
	if err != nil {
		return ApprovalProgress{}, err
	}
	out := ApprovalProgress{Request: req}
	if req.PolicyID == nil {
		out.State = approval.State{Status: req.Status}
		return out, nil
	}
	p, err := s.policy(ctx, *req.PolicyID)
	if err != nil {
		return ApprovalProgress{}, err
	}
	rows, err := s.decisions(ctx, requestID)
	if err != nil {
		return ApprovalProgress{}, err
	}
	out.Policy = &p
	out.Decisions = rows
	out.State = approval.Evaluate(p, toDecisions(rows))
	out.Waiting = approval.PendingApprovers(p, out.State)
	return out, nil
}

// actingRole picks the role under which a qualifies for level, or their
// first role when they are named by id.
func actingRole(l approval.Level, a approval.Approver) string {
	for _, r := range a.Roles {
		for _, want := range l.Roles {
			if r == want {
				return r
			}
		}
	}
	if len(a.Roles) > 0 {
		return a.Roles[0]
	}
	return ""
}

// DecideApproval records the signed-in user's vote at the request's
// current level and advances the request.
func (s *Service) DecideApproval(ctx context.Context, requestID string, decision model.Decision, comment string) (approval.State, error) {
	const failure = "Failed to record decision"
	if !decision.Valid() {
		return approval.State{}, s.fail(failure, backend.Invalid("decision", "unknown decision %q", decision))
	}
	progress, err := s.ApprovalState(ctx, requestID)
	if err != nil {
		return approval.State{}, s.fail(failure, err)
	}
	if progress.Request.Status != model.ApprovalPending || progress.Policy == nil {
		return approval.State{}, s.fail(failure, backend.Invalid("request_id", "request is already %s", progress.Request.Status))
	}
	roles, err := s.Roles(ctx, s.userID)
	if err != nil {
		return approval.State{}, s.fail(failure, err)
	}
	p := *progress.Policy
	approver := approval.Approver{ID: s.userID, Roles: roles}
	if !approval.CanDecide(p, progress.State, approver) {
		return approval.State{}, s.fail(failure, backend.Invalid("approver", "you cannot decide level %d of this request", progress.State.CurrentLevel+1))
	}

	row := model.ApprovalDecision{
		RequestID:    requestID,
		Level:        progress.State.CurrentLevel,
		ApproverID:   s.userID,
		ApproverRole: actingRole(p.Levels[progress.State.CurrentLevel], approver),
		Decision:     decision,
		Comment:      comment,
	}
	next := approval.Evaluate(p, append(toDecisions(progress.Decisions), approval.Decision{
		Level:      row.Level,
		ApproverID: row.ApproverID,
		Roles:      roles,
		Decision:   decision,
	}))

	success := "Decision recorded"
	switch next.Status {
	case model.ApprovalApproved:
		success = "Request approved"
	case model.ApprovalRejected:
		success = "Request rejected"
	}

	_, err = run(ctx, s, success, failure, optimistic.Mutation[model.ApprovalRequest]{
		Keys: []querycache.Key{{TableRequests}, {TableDecisions, requestID}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedList(c, querycache.Key{TableDecisions, requestID}, func(l []model.ApprovalDecision) []model.ApprovalDecision {
				return optimistic.AddToList(l, row, false)
			})
		},
		Do: func(ctx context.Context) (model.ApprovalRequest, error) {
			if _, err := insertOne[model.ApprovalDecision](ctx, s.backend, TableDecisions, row); err != nil {
				return model.ApprovalRequest{}, err
			}
			if next.Status == progress.State.Status && next.CurrentLevel == progress.State.CurrentLevel {
				return progress.Request, nil
			}
			patch := map[string]any{"status": next.Status, "current_level": next.CurrentLevel}
			if next.Status != model.ApprovalPending {
				patch["resolved_at"] = model.NewTimestamp(s.now())
			}
			return updateOne[model.ApprovalRequest](ctx, s.backend, TableRequests, requestID, patch)
		},
		Invalidate: []querycache.Key{{TableRequests}, {TableDecisions}},
	})
	if err != nil {
		return approval.State{}, err
	}
	s.notifyApprovers(ctx, progress.Request, p, next)
	return next, nil
}

// notifyApprovers tells the backend to message whoever acts next. A
// failure here does not undo the request.
func (s *Service) notifyApprovers(ctx context.Context, req model.ApprovalRequest, p approval.Policy, st approval.State) {
	body := approverNotice{
		RequestID:   req.ID,
		TaskID:      req.TaskID,
		Status:      st.Status,
		Level:       st.CurrentLevel,
		ApproverIDs: approval.PendingApprovers(p, st),
	}
	if st.Status == model.ApprovalPending && st.CurrentLevel < len(p.Levels) {
		body.Roles = p.Levels[st.CurrentLevel].Roles
	}
	if body.ApproverIDs == nil {
		body.ApproverIDs = []string{}
	}
	if err := s.backend.Invoke(ctx, FnNotifyApprovers, body, nil); err != nil {
		s.log.Warn("notify approvers failed", zap.String("request", req.ID), zap.Error(err))
		notify.Warning(s.notifier, "Approvers not notified", backend.Message(err))
	}
}
