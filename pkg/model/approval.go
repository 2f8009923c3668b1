package model

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type Decision string

const (
	DecisionApprove Decision = "approved"
	DecisionReject  Decision = "rejected"
)

func (d Decision) Valid() bool { return d == DecisionApprove || d == DecisionReject }

// ApprovalRequest tracks one task going through an approval chain.
type ApprovalRequest struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	PolicyID     *string        `json:"policy_id"`
	Status       ApprovalStatus `json:"status"`
	CurrentLevel int            `json:"current_level"`
	RequestedBy  string         `json:"requested_by"`
	CreatedAt    *Timestamp     `json:"created_at,omitempty"`
	ResolvedAt   *Timestamp     `json:"resolved_at,omitempty"`
}

func (r ApprovalRequest) Key() string { return r.ID }

type ApprovalDecision struct {
	ID         string `json:"id,omitempty"`
	RequestID  string `json:"request_id"`
	Level      int    `json:"level"`
	ApproverID string `json:"approver_id"`

	// ApproverRole is the role the approver acted under.
	ApproverRole string     `json:"approver_role,omitempty"`
	Decision     Decision   `json:"decision"`
	Comment      string     `json:"comment,omitempty"`
	DecidedAt    *Timestamp `json:"decided_at,omitempty"`
}

// ApprovalPolicyRow is the stored form of an approval policy; conditions
// and levels are JSON columns.
type ApprovalPolicyRow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	WorkspaceID *string         `json:"workspace_id"`
	Active      bool            `json:"is_active"`
	Priority    int             `json:"priority"`
	Conditions  PolicyCondition `json:"conditions"`
	Levels      []PolicyLevel   `json:"approval_levels"`
}

type PolicyCondition struct {
	Categories     []string `json:"categories,omitempty"`
	Priorities     []string `json:"priorities,omitempty"`
	MinCost        *float64 `json:"min_cost,omitempty"`
	MaxCost        *float64 `json:"max_cost,omitempty"`
	WorkspaceTypes []string `json:"workspace_types,omitempty"`
}

type PolicyLevel struct {
	Name        string   `json:"name"`
	Roles       []string `json:"roles,omitempty"`
	ApproverIDs []string `json:"approver_ids,omitempty"`
	Required    int      `json:"required"`
}
