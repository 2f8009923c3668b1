package model

type BudgetCategory struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspace_id"`
	Name        string  `json:"name"`
	Allocated   float64 `json:"allocated"`
	Spent       float64 `json:"spent"`
}

func (b BudgetCategory) Key() string { return b.ID }

type Expense struct {
	ID          string     `json:"id,omitempty"`
	CategoryID  string     `json:"category_id"`
	WorkspaceID string     `json:"workspace_id"`
	Amount      float64    `json:"amount"`
	Description string     `json:"description"`
	RecordedBy  string     `json:"recorded_by,omitempty"`
	CreatedAt   *Timestamp `json:"created_at,omitempty"`
}

type BudgetView struct {
	BudgetCategory
	Remaining   float64 `json:"remaining"`
	Utilization int     `json:"utilization"`
	OverBudget  bool    `json:"over_budget"`
}

func (v BudgetView) Key() string { return v.ID }

func NewBudgetView(b BudgetCategory) BudgetView {
	v := BudgetView{
		BudgetCategory: b,
		Remaining:      b.Allocated - b.Spent,
		OverBudget:     b.Spent > b.Allocated,
	}
	if b.Allocated > 0 {
		v.Utilization = int(b.Spent/b.Allocated*100 + 0.5)
	} else if b.Spent > 0 {
		v.Utilization = 100
	}
	return v
}

type BudgetSummary struct {
	Categories     []BudgetView `json:"categories"`
	TotalAllocated float64      `json:"total_allocated"`
	TotalSpent     float64      `json:"total_spent"`
	Remaining      float64      `json:"remaining"`
	Utilization    int          `json:"utilization"`
	OverBudget     []string     `json:"over_budget,omitempty"`
}

func Summarize(categories []BudgetCategory) BudgetSummary {
	s := BudgetSummary{Categories: make([]BudgetView, 0, len(categories))}
	for _, c := range categories {
		v := NewBudgetView(c)
		s.Categories = append(s.Categories, v)
		s.TotalAllocated += c.Allocated
		s.TotalSpent += c.Spent
		if v.OverBudget {
			s.OverBudget = append(s.OverBudget, c.Name)
		}
	}
	s.Remaining = s.TotalAllocated - s.TotalSpent
	if s.TotalAllocated > 0 {
		s.Utilization = int(s.TotalSpent/s.TotalAllocated*100 + 0.5)
	}
	return s
}
