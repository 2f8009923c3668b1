package data

import (
	"context"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

func (s *Service) budgetCategories(ctx context.Context, workspaceID string) ([]model.BudgetCategory, error) {
	q := backend.From(TableBudgetCategories).Eq("workspace_id", workspaceID).Order("name", false)
	return list[model.BudgetCategory](ctx, s, querycache.Key{TableBudgetCategories, workspaceID}, q)
}

// BudgetSummary totals a workspace's budget categories.
func (s *Service) BudgetSummary(ctx context.Context, workspaceID string) (model.BudgetSummary, error) {
	rows, err := s.budgetCategories(ctx, workspaceID)
	if err != nil {
		return model.BudgetSummary{}, err
	}
	return model.Summarize(rows), nil
}

func (s *Service) ListExpenses(ctx context.Context, workspaceID string) ([]model.Expense, error) {
	q := backend.From(TableExpenses).Eq("workspace_id", workspaceID).Order("created_at", true)
	return list[model.Expense](ctx, s, querycache.Key{TableExpenses, workspaceID}, q)
}

// RecordExpense inserts an expense. The server keeps the category's spent
// column in step; the cached category is bumped right away.
func (s *Service) RecordExpense(ctx context.Context, e model.Expense) (model.Expense, error) {
	const failure = "Failed to record expense"
	e.Description = strings.TrimSpace(e.Description)
	if e.Amount <= 0 {
		return model.Expense{}, s.fail(failure, backend.Invalid("amount", "amount must be positive"))
	}
	if e.CategoryID == "" {
		return model.Expense{}, s.fail(failure, backend.Invalid("category_id", "category is required"))
	}
	e.ID = ""
	e.CreatedAt = nil
	e.RecordedBy = s.userID

	catKey := querycache.Key{TableBudgetCategories, e.WorkspaceID}
	return run(ctx, s, "Expense recorded", failure, optimistic.Mutation[model.Expense]{
		Keys: []querycache.Key{catKey, {TableExpenses, e.WorkspaceID}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedList(c, catKey, func(l []model.BudgetCategory) []model.BudgetCategory {
				return optimistic.UpdateInList(l, e.CategoryID, keyOf[model.BudgetCategory], func(b model.BudgetCategory) model.BudgetCategory {
					b.Spent += e.Amount
					return b
				})
			})
		},
		Do: func(ctx context.Context) (model.Expense, error) {
			return insertOne[model.Expense](ctx, s.backend, TableExpenses, e)
		},
		Invalidate: []querycache.Key{{TableBudgetCategories}, {TableExpenses}},
	})
}

// UpdateAllocation sets the allocated amount of a category.
func (s *Service) UpdateAllocation(ctx context.Context, categoryID string, allocated float64) (model.BudgetCategory, error) {
	const failure = "Failed to update budget"
	if allocated < 0 {
		return model.BudgetCategory{}, s.fail(failure, backend.Invalid("allocated", "allocation cannot be negative"))
	}
	return run(ctx, s, "Budget updated", failure, optimistic.Mutation[model.BudgetCategory]{
		Keys: []querycache.Key{{TableBudgetCategories}},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, querycache.Key{TableBudgetCategories}, func(l []model.BudgetCategory) []model.BudgetCategory {
				return optimistic.UpdateInList(l, categoryID, keyOf[model.BudgetCategory], func(b model.BudgetCategory) model.BudgetCategory {
					b.Allocated = allocated
					return b
				})
			})
		},
		Do: func(ctx context.Context) (model.BudgetCategory, error) {
			return updateOne[model.BudgetCategory](ctx, s.backend, TableBudgetCategories, categoryID, map[string]any{"allocated": allocated})
		},
	})
}
