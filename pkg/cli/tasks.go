package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/data"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/spf13/cobra"
)

func workspacesCmd(a *app) *cobra.Command {
	var eventID string
	var flat bool
	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "List an event's workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flat {
				ws, err := svc.ListWorkspaces(cmd.Context(), eventID)
				if err != nil {
					return err
				}
				tw := newTable(out, "ID", "NAME", "TYPE")
				for _, w := range ws {
					row(tw, w.ID, w.Name, w.Type)
				}
				return tw.Flush()
			}
			tree, err := svc.WorkspaceTree(cmd.Context(), eventID)
			if err != nil {
				return err
			}
			var walk func(nodes []*model.WorkspaceNode)
			walk = func(nodes []*model.WorkspaceNode) {
				for _, n := range nodes {
					fmt.Fprintf(out, "%s%s %s\n", strings.Repeat("  ", n.Depth), n.Name, dimStyle.Render("["+n.ID+"]"))
					walk(n.Children)
				}
			}
			walk(tree)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	cmd.Flags().BoolVar(&flat, "flat", false, "list without nesting")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func tasksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Work with a workspace's tasks",
	}
	cmd.AddCommand(tasksListCmd(a), tasksCreateCmd(a), tasksStatusCmd(a), tasksDeleteCmd(a))
	return cmd
}

func tasksListCmd(a *app) *cobra.Command {
	var (
		workspace string
		statuses  []string
		mine      bool
		assignee  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, soonest due first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			f := data.TaskFilter{WorkspaceID: workspace, AssigneeID: assignee}
			if mine {
				f.AssigneeID = svc.UserID()
			}
			for _, s := range statuses {
				st := model.TaskStatus(s)
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				f.Statuses = append(f.Statuses, st)
			}

			tasks, err := svc.ListTasks(cmd.Context(), f)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "TITLE", "STATUS", "PRIORITY", "DUE")
			for _, t := range tasks {
				due := formatDate(t.DueDate)
				if t.Overdue {
					due = overdueStyle.Render(due + " (overdue)")
				}
				row(tw, t.ID, t.Title, t.Status, t.Priority, due)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace id")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only these statuses")
	cmd.Flags().BoolVar(&mine, "mine", false, "only tasks assigned to me")
	cmd.Flags().StringVar(&assignee, "assignee", "", "only tasks assigned to this user")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func tasksCreateCmd(a *app) *cobra.Command {
	var (
		t        model.Task
		priority string
		due      string
		assignee string
	)
	cmd := &cobra.Command{
		Use:   "create TITLE",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			t.Title = args[0]
			t.Priority = model.TaskPriority(priority)
			if t.DueDate, err = parseDue(due, time.Now()); err != nil {
				return err
			}
			if assignee != "" {
				t.AssigneeID = &assignee
			}
			created, err := svc.CreateTask(cmd.Context(), t)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&t.WorkspaceID, "workspace", "w", "", "workspace id")
	cmd.Flags().StringVar(&t.Description, "description", "", "details")
	cmd.Flags().StringVar(&t.Category, "category", "", "category, matched by approval policies")
	cmd.Flags().Float64Var(&t.EstimatedCost, "cost", 0, "estimated cost")
	cmd.Flags().StringSliceVar(&t.Tags, "tag", nil, "tags")
	cmd.Flags().StringVar(&priority, "priority", string(model.PriorityMedium), "low, medium, high or urgent")
	cmd.Flags().StringVar(&due, "due", "", "due date: YYYY-MM-DD, RFC 3339, or an offset like 3d")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func tasksStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID STATUS",
		Short: "Move a task to another status",
		Long:  "STATUS is one of todo, in_progress, review, completed, blocked.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := model.TaskStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			_, err = svc.UpdateTaskStatus(cmd.Context(), args[0], status)
			return err
		},
	}
}

func tasksDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete TASK_ID",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete without --yes")
			}
			svc, err := a.service(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return svc.DeleteTask(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
