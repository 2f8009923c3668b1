package model

import (
	"encoding/json"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestTimestampFormats(t *testing.T) {
	want := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	for _, in := range []string{
		`"2026-05-04T09:30:00Z"`,
		`"2026-05-04T09:30:00+00:00"`,
		`"2026-05-04T09:30:00.000000+00:00"`,
		`"2026-05-04 09:30:00+00"`,
		`"2026-05-04T11:30:00+02:00"`,
	} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", in, err)
		}
		if !ts.Equal(want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", in, ts.Time, want)
		}
	}

	var day Timestamp
	if err := json.Unmarshal([]byte(`"2026-05-04"`), &day); err != nil {
		t.Fatalf("date-only error: %v", err)
	}
	if day.Year() != 2026 || day.Month() != time.May || day.Day() != 4 {
		t.Errorf("date-only = %v", day.Time)
	}
}

func TestTimestampNullAndEmpty(t *testing.T) {
	var task Task
	if err := json.Unmarshal([]byte(`{"id":"t1","due_date":null,"created_at":""}`), &task); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if task.DueDate.IsSet() {
		t.Errorf("DueDate should be unset, got %v", task.DueDate)
	}
	if !task.CreatedAt.IsZero() {
		t.Errorf("CreatedAt should be zero, got %v", task.CreatedAt)
	}

	var bad Timestamp
	if err := json.Unmarshal([]byte(`"next tuesday"`), &bad); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

func TestTimestampMarshal(t *testing.T) {
	b, err := json.Marshal(Timestamp{})
	if err != nil || string(b) != "null" {
		t.Errorf("zero Marshal = %s, %v; want null", b, err)
	}
	b, _ = json.Marshal(Timestamp{Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)})
	if string(b) != `"2026-01-02T03:04:05Z"` {
		t.Errorf("Marshal = %s", b)
	}
}

func TestTaskViewOverdue(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	past := NewTimestamp(now.Add(-2 * time.Hour))
	future := NewTimestamp(now.Add(72 * time.Hour))

	tests := []struct {
		name     string
		task     Task
		overdue  bool
		daysLeft int
	}{
		{"past due", Task{Status: TaskTodo, DueDate: past}, true, -1},
		{"completed late is fine", Task{Status: TaskCompleted, DueDate: past}, false, 0},
		{"future", Task{Status: TaskInProgress, DueDate: future}, false, 3},
		{"no due date", Task{Status: TaskTodo}, false, 0},
	}
	for _, tt := range tests {
		v := NewTaskView(tt.task, now)
		if v.Overdue != tt.overdue {
			t.Errorf("%s: Overdue = %v, want %v", tt.name, v.Overdue, tt.overdue)
		}
		if v.DaysLeft != tt.daysLeft {
			t.Errorf("%s: DaysLeft = %d, want %d", tt.name, v.DaysLeft, tt.daysLeft)
		}
	}
}

func TestTaskPatchApply(t *testing.T) {
	status := TaskReview
	title := "Confirm caterer"
	orig := Task{ID: "t1", Title: "Caterer", Status: TaskTodo, Priority: PriorityHigh}

	got := TaskPatch{Title: &title, Status: &status}.Apply(orig)
	if got.Title != title || got.Status != TaskReview || got.Priority != PriorityHigh {
		t.Errorf("Apply = %+v", got)
	}
	if orig.Title != "Caterer" {
		t.Error("Apply must not modify the original")
	}
}

func TestBuildTree(t *testing.T) {
	rows := []Workspace{
		{ID: "root", Name: "Summit"},
		{ID: "ops", Name: "Operations", ParentID: strPtr("root")},
		{ID: "av", Name: "AV Team", ParentID: strPtr("ops")},
		{ID: "catering", Name: "Catering", ParentID: strPtr("ops")},
		{ID: "orphan", Name: "Orphan", ParentID: strPtr("gone")},
		{ID: "loop-a", Name: "Loop A", ParentID: strPtr("loop-b")},
		{ID: "loop-b", Name: "Loop B", ParentID: strPtr("loop-a")},
	}

	roots := BuildTree(rows)

	var names []string
	for _, r := range roots {
		names = append(names, r.Name)
	}
	want := []string{"Loop A", "Loop B", "Orphan", "Summit"}
	if len(names) != len(want) {
		t.Fatalf("roots = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("roots[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	summit := roots[3]
	if len(summit.Children) != 1 || summit.Children[0].ID != "ops" {
		t.Fatalf("Summit children = %+v", summit.Children)
	}
	ops := summit.Children[0]
	if ops.Children[0].Name != "AV Team" || ops.Children[1].Name != "Catering" {
		t.Errorf("ops children not sorted: %s, %s", ops.Children[0].Name, ops.Children[1].Name)
	}
	if ops.Children[1].Depth != 2 {
		t.Errorf("Catering depth = %d, want 2", ops.Children[1].Depth)
	}

	count := 0
	for _, r := range roots {
		r.Walk(func(*WorkspaceNode) { count++ })
	}
	if count != len(rows) {
		t.Errorf("walked %d nodes, want %d", count, len(rows))
	}
}

func TestChecklistView(t *testing.T) {
	c := Checklist{Items: []ChecklistItem{
		{ID: "1", Completed: true},
		{ID: "2"},
		{ID: "3"},
	}}
	v := NewChecklistView(c)
	if v.CompletedCount != 1 || v.TotalCount != 3 || v.Percentage != 33 {
		t.Errorf("view = %+v", v)
	}

	toggled, ok := c.ToggleItem("2")
	if !ok {
		t.Fatal("ToggleItem should find item 2")
	}
	if NewChecklistView(toggled).Percentage != 67 {
		t.Errorf("Percentage after toggle = %d, want 67", NewChecklistView(toggled).Percentage)
	}
	if c.Items[1].Completed {
		t.Error("ToggleItem must not modify the original items")
	}

	if NewChecklistView(Checklist{}).Percentage != 0 {
		t.Error("empty checklist should be 0%")
	}
}

func TestDeliverableOverdue(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	due := NewTimestamp(now.Add(-time.Hour))

	if !NewDeliverableView(Deliverable{Status: DeliverableInProgress, DueDate: due}, now).Overdue {
		t.Error("in-progress past due should be overdue")
	}
	if NewDeliverableView(Deliverable{Status: DeliverableSubmitted, DueDate: due}, now).Overdue {
		t.Error("submitted deliverable is not overdue")
	}
}

func TestStakeholderQuadrant(t *testing.T) {
	cases := map[Quadrant]Stakeholder{
		ManageClosely: {Influence: LevelHigh, Interest: LevelMedium},
		KeepSatisfied: {Influence: LevelHigh, Interest: LevelLow},
		KeepInformed:  {Influence: LevelLow, Interest: LevelHigh},
		Monitor:       {Influence: LevelLow, Interest: LevelLow},
	}
	for want, s := range cases {
		if got := s.Quadrant(); got != want {
			t.Errorf("Quadrant(%s/%s) = %s, want %s", s.Influence, s.Interest, got, want)
		}
	}
}

func TestRubric(t *testing.T) {
	r := Rubric{Criteria: []Criterion{
		{Name: "Relevance", Weight: 50, MaxScore: 10},
		{Name: "Clarity", Weight: 30, MaxScore: 5},
		{Name: "Novelty", Weight: 20, MaxScore: 5},
	}}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	score, err := r.Score(map[string]float64{"Relevance": 8, "Clarity": 5, "Novelty": 9})
	if err != nil {
		t.Fatalf("Score error: %v", err)
	}
	// 0.8*50 + 1*30 + 1*20 (clamped) = 90
	if score != 90 {
		t.Errorf("Score = %v, want 90", score)
	}

	if _, err := r.Score(map[string]float64{"Charisma": 3}); err == nil {
		t.Error("expected error for unknown criterion")
	}

	bad := Rubric{Criteria: []Criterion{{Name: "A", Weight: 60, MaxScore: 5}, {Name: "B", Weight: 30, MaxScore: 5}}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for weights not adding to 100")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]BudgetCategory{
		{Name: "Venue", Allocated: 1000, Spent: 400},
		{Name: "Catering", Allocated: 500, Spent: 650},
		{Name: "Swag", Allocated: 0, Spent: 0},
	})
	if s.TotalAllocated != 1500 || s.TotalSpent != 1050 || s.Remaining != 450 {
		t.Errorf("totals = %+v", s)
	}
	if s.Utilization != 70 {
		t.Errorf("Utilization = %d, want 70", s.Utilization)
	}
	if len(s.OverBudget) != 1 || s.OverBudget[0] != "Catering" {
		t.Errorf("OverBudget = %v", s.OverBudget)
	}
	if s.Categories[1].Utilization != 130 || s.Categories[1].Remaining != -150 {
		t.Errorf("Catering view = %+v", s.Categories[1])
	}
}

func TestSponsorView(t *testing.T) {
	v := NewSponsorView(Sponsor{CommittedAmount: 4000, ReceivedAmount: 1000})
	if v.Fulfillment != 25 || v.Outstanding != 3000 {
		t.Errorf("view = %+v", v)
	}
	over := NewSponsorView(Sponsor{CommittedAmount: 100, ReceivedAmount: 150})
	if over.Fulfillment != 100 || over.Outstanding != 0 {
		t.Errorf("overpaid view = %+v", over)
	}
}

func TestShiftView(t *testing.T) {
	checked := NewTimestamp(time.Now())
	s := VolunteerShift{Capacity: 2, Assignments: []VolunteerAssignment{
		{VolunteerID: "v1", CheckedInAt: checked},
		{VolunteerID: "v2"},
	}}
	v := NewShiftView(s)
	if !v.Full || v.Open != 0 || v.Filled != 2 || v.CheckedIn != 1 {
		t.Errorf("view = %+v", v)
	}
	if !s.HasVolunteer("v2") || s.HasVolunteer("v3") {
		t.Error("HasVolunteer mismatch")
	}
}
