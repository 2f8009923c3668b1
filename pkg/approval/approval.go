package approval

import (
	"sort"

	"github.com/harrisonrobin/eventdesk/pkg/model"
)

// Conditions restrict which tasks a policy applies to. Empty lists and nil
// bounds match anything.
type Conditions struct {
	Categories     []string
	Priorities     []string
	MinCost        *float64
	MaxCost        *float64
	WorkspaceTypes []string
}

// Level is one step of an approval chain. An approver is eligible when
// their id is listed or they hold one of the roles.
type Level struct {
	Name        string
	Roles       []string
	ApproverIDs []string
	Required    int
}

type Policy struct {
	ID          string
	Name        string
	WorkspaceID string
	Active      bool
	Priority    int
	Conditions  Conditions
	Levels      []Level
}

// Subject is the part of a task a policy is matched against.
type Subject struct {
	WorkspaceID   string
	WorkspaceType string
	Category      string
	Priority      string
	Cost          float64
}

func SubjectOf(t model.Task, ws model.Workspace) Subject {
	return Subject{
		WorkspaceID:   t.WorkspaceID,
		WorkspaceType: string(ws.Type),
		Category:      t.Category,
		Priority:      string(t.Priority),
		Cost:          t.EstimatedCost,
	}
}

// FromRow converts the stored policy row.
func FromRow(r model.ApprovalPolicyRow) Policy {
	p := Policy{
		ID:       r.ID,
		Name:     r.Name,
		Active:   r.Active,
		Priority: r.Priority,
		Conditions: Conditions{
			Categories:     r.Conditions.Categories,
			Priorities:     r.Conditions.Priorities,
			MinCost:        r.Conditions.MinCost,
			MaxCost:        r.Conditions.MaxCost,
			WorkspaceTypes: r.Conditions.WorkspaceTypes,
		},
	}
	if r.WorkspaceID != nil {
		p.WorkspaceID = *r.WorkspaceID
	}
	for _, l := range r.Levels {
		p.Levels = append(p.Levels, Level{
			Name:        l.Name,
			Roles:       l.Roles,
			ApproverIDs: l.ApproverIDs,
			Required:    l.Required,
		})
	}
	return p
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Matches reports whether every condition holds for s.
func (c Conditions) Matches(s Subject) bool {
	if len(c.Categories) > 0 && !contains(c.Categories, s.Category) {
		return false
	}
	if len(c.Priorities) > 0 && !contains(c.Priorities, s.Priority) {
		return false
	}
	if len(c.WorkspaceTypes) > 0 && !contains(c.WorkspaceTypes, s.WorkspaceType) {
		return false
	}
	if c.MinCost != nil && s.Cost < *c.MinCost {
		return false
	}
	if c.MaxCost != nil && s.Cost > *c.MaxCost {
		return false
	}
	return true
}

// specificity counts the conditions that are set.
func (c Conditions) specificity() int {
	n := 0
	for _, set := range []bool{
		len(c.Categories) > 0,
		len(c.Priorities) > 0,
		len(c.WorkspaceTypes) > 0,
		c.MinCost != nil,
		c.MaxCost != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (p Policy) Applies(s Subject) bool {
	if !p.Active {
		return false
	}
	if p.WorkspaceID != "" && p.WorkspaceID != s.WorkspaceID {
		return false
	}
	return p.Conditions.Matches(s)
}

// Match picks the policy governing s: highest priority first, then the
// more specific policy (workspace-scoped counts as one more condition),
// then the lowest id.
func Match(policies []Policy, s Subject) (Policy, bool) {
	var candidates []Policy
	for _, p := range policies {
		if p.Applies(s) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return Policy{}, false
	}
	rank := func(p Policy) int {
		n := p.Conditions.specificity()
		if p.WorkspaceID != "" {
			n++
		}
		return n
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra > rb
		}
		return a.ID < b.ID
	})
	return candidates[0], true
}

// Approver identifies someone acting on a request.
type Approver struct {
	ID    string
	Roles []string
}

func (l Level) eligible(a Approver) bool {
	if contains(l.ApproverIDs, a.ID) {
		return true
	}
	for _, r := range a.Roles {
		if contains(l.Roles, r) {
			return true
		}
	}
	return false
}

func (l Level) required() int {
	if l.Required < 1 {
		return 1
	}
	return l.Required
}

// Decision is a recorded vote. Roles are the approver's roles when they
// voted.
type Decision struct {
	Level      int
	ApproverID string
	Roles      []string
	Decision   model.Decision
}

// State is where a request stands in its chain.
type State struct {
	Status model.ApprovalStatus
	// CurrentLevel is the 0-based level awaiting votes; len(Levels) once
	// approved.
	CurrentLevel int
	// Approvals counts eligible approvals at the current level.
	Approvals int
	// Needed is how many more approvals the current level requires.
	Needed int
	// RejectedBy is set when Status is rejected.
	RejectedBy string
	// Decided lists approvers who already voted at the current level.
	Decided []string
}

// Evaluate walks the chain in order. Only eligible approvers count, each
// once per level with their latest vote; one rejection rejects the request.
// Votes for levels after the first incomplete one are ignored.
func Evaluate(p Policy, decisions []Decision) State {
	for i, lvl := range p.Levels {
		latest := map[string]model.Decision{}
		var order []string
		for _, d := range decisions {
			if d.Level != i || !lvl.eligible(Approver{ID: d.ApproverID, Roles: d.Roles}) {
				continue
			}
			if _, seen := latest[d.ApproverID]; !seen {
				order = append(order, d.ApproverID)
			}
			latest[d.ApproverID] = d.Decision
		}

		approvals := 0
		for _, id := range order {
			switch latest[id] {
			case model.DecisionReject:
				return State{Status: model.ApprovalRejected, CurrentLevel: i, RejectedBy: id, Decided: order}
			case model.DecisionApprove:
				approvals++
			}
		}
		if approvals < lvl.required() {
			return State{
				Status:       model.ApprovalPending,
				CurrentLevel: i,
				Approvals:    approvals,
				Needed:       lvl.required() - approvals,
				Decided:      order,
			}
		}
	}
	return State{Status: model.ApprovalApproved, CurrentLevel: len(p.Levels)}
}

// CanDecide reports whether a may vote on a request in state s.
func CanDecide(p Policy, s State, a Approver) bool {
	if s.Status != model.ApprovalPending || s.CurrentLevel >= len(p.Levels) {
		return false
	}
	if !p.Levels[s.CurrentLevel].eligible(a) {
		return false
	}
	return !contains(s.Decided, a.ID)
}

// PendingApprovers lists the ids named at the current level that have not
// voted yet. Role-based eligibility is not expanded.
func PendingApprovers(p Policy, s State) []string {
	if s.Status != model.ApprovalPending || s.CurrentLevel >= len(p.Levels) {
		return nil
	}
	var out []string
	for _, id := range p.Levels[s.CurrentLevel].ApproverIDs {
		if !contains(s.Decided, id) {
			out = append(out, id)
		}
	}
	return out
}
