package model

type ChecklistItem struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Completed bool       `json:"completed"`
	DueDate   *Timestamp `json:"due_date,omitempty"`
}

// Checklist stores its items in a JSON column.
type Checklist struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Title       string          `json:"title"`
	Items       []ChecklistItem `json:"items"`
	CreatedAt   Timestamp       `json:"created_at"`
}

func (c Checklist) Key() string { return c.ID }

type ChecklistView struct {
	Checklist
	CompletedCount int `json:"completed_count"`
	TotalCount     int `json:"total_count"`
	Percentage     int `json:"percentage"`
}

func (v ChecklistView) Key() string { return v.ID }

func NewChecklistView(c Checklist) ChecklistView {
	v := ChecklistView{Checklist: c, TotalCount: len(c.Items)}
	for _, it := range c.Items {
		if it.Completed {
			v.CompletedCount++
		}
	}
	v.Percentage = percentage(v.CompletedCount, v.TotalCount)
	return v
}

// ToggleItem returns a copy of c with the item's completion flipped, and
// whether the item exists.
func (c Checklist) ToggleItem(itemID string) (Checklist, bool) {
	items := make([]ChecklistItem, len(c.Items))
	copy(items, c.Items)
	found := false
	for i := range items {
		if items[i].ID == itemID {
			items[i].Completed = !items[i].Completed
			found = true
		}
	}
	c.Items = items
	return c, found
}
