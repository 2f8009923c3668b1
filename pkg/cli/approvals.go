package cli

import (
	"fmt"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/spf13/cobra"
)

func approvalsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Request and decide task approvals",
	}
	cmd.AddCommand(approvalsListCmd(a), approvalsRequestCmd(a), approvalsDecideCmd(a), approvalsStatusCmd(a))
	return cmd
}

func approvalsListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			reqs, err := svc.ListApprovalRequests(cmd.Context(), model.ApprovalStatus(status))
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "TASK", "STATUS", "LEVEL", "REQUESTED")
			for _, r := range reqs {
				row(tw, r.ID, r.TaskID, r.Status, r.CurrentLevel+1, formatDate(r.CreatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", string(model.ApprovalPending), "pending, approved or rejected; empty for all")
	return cmd
}

func approvalsRequestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "request TASK_ID",
		Short: "Ask for approval of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req, err := svc.RequestApproval(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", req.ID, req.Status)
			return nil
		},
	}
}

func approvalsDecideCmd(a *app) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:       "decide REQUEST_ID approve|reject",
		Short:     "Approve or reject a request at its current level",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"approve", "reject"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var d model.Decision
			switch strings.ToLower(args[1]) {
			case "approve", "approved":
				d = model.DecisionApprove
			case "reject", "rejected":
				d = model.DecisionReject
			default:
				return fmt.Errorf("decision must be approve or reject, got %q", args[1])
			}
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			st, err := svc.DecideApproval(cmd.Context(), args[0], d, comment)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (level %d)\n", st.Status, st.CurrentLevel+1)
			return nil
		},
	}
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "note stored with the decision")
	return cmd
}

func approvalsStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status REQUEST_ID",
		Short: "Show where a request stands in its chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, err := svc.ApprovalState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headStyle.Render("Request"), p.Request.ID)
			fmt.Fprintf(out, "task: %s\n", p.Request.TaskID)
			fmt.Fprintf(out, "status: %s\n", p.State.Status)
			if p.Policy == nil {
				fmt.Fprintln(out, "policy: none (auto-approved)")
				return nil
			}
			fmt.Fprintf(out, "policy: %s\n", p.Policy.Name)
			for i, lvl := range p.Policy.Levels {
				mark := " "
				switch {
				case i < p.State.CurrentLevel:
					mark = "✓"
				case i == p.State.CurrentLevel && p.State.Status == model.ApprovalPending:
					mark = "‣"
				case i == p.State.CurrentLevel && p.State.Status == model.ApprovalRejected:
					mark = "✗"
				}
				fmt.Fprintf(out, "  %s %d. %s\n", mark, i+1, lvl.Name)
			}
			if p.State.Status == model.ApprovalPending {
				fmt.Fprintf(out, "needs %d more approval(s)\n", p.State.Needed)
				if len(p.Waiting) > 0 {
					fmt.Fprintf(out, "waiting on: %s\n", strings.Join(p.Waiting, ", "))
				}
			}
			if p.State.RejectedBy != "" {
				fmt.Fprintf(out, "rejected by: %s\n", p.State.RejectedBy)
			}
			for _, d := range p.Decisions {
				line := fmt.Sprintf("  level %d: %s %s", d.Level+1, d.ApproverID, d.Decision)
				if d.Comment != "" {
					line += " " + dimStyle.Render(d.Comment)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func budgetCmd(a *app) *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show a workspace's budget by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			sum, err := svc.BudgetSummary(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tw := newTable(out, "CATEGORY", "ALLOCATED", "SPENT", "REMAINING", "USED")
			for _, c := range sum.Categories {
				used := fmt.Sprintf("%d%%", c.Utilization)
				if c.OverBudget {
					used = overdueStyle.Render(used)
				}
				row(tw, c.Name, formatMoney(c.Allocated), formatMoney(c.Spent), formatMoney(c.Remaining), used)
			}
			row(tw, headStyle.Render("total"), formatMoney(sum.TotalAllocated), formatMoney(sum.TotalSpent),
				formatMoney(sum.Remaining), fmt.Sprintf("%d%%", sum.Utilization))
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(sum.OverBudget) > 0 {
				fmt.Fprintln(out, overdueStyle.Render("over budget: "+strings.Join(sum.OverBudget, ", ")))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace id")
	_ = cmd.MarkFlagRequired("workspace")
	cmd.AddCommand(budgetRecordCmd(a))
	return cmd
}

func budgetRecordCmd(a *app) *cobra.Command {
	var e model.Expense
	cmd := &cobra.Command{
		Use:   "record AMOUNT",
		Short: "Record an expense against a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fmt.Sscanf(args[0], "%g", &e.Amount); err != nil {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			_, err = svc.RecordExpense(cmd.Context(), e)
			return err
		},
	}
	cmd.Flags().StringVarP(&e.WorkspaceID, "workspace", "w", "", "workspace id")
	cmd.Flags().StringVar(&e.CategoryID, "category", "", "budget category id")
	cmd.Flags().StringVar(&e.Description, "description", "", "what the money went to")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
