package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/auth"
	"github.com/harrisonrobin/eventdesk/pkg/calendar"
	"github.com/harrisonrobin/eventdesk/pkg/data"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/overdue"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func calendarCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Mirror the agenda and task deadlines into Google Calendar",
	}
	cmd.AddCommand(calendarAuthCmd(a), calendarSyncCmd(a))
	return cmd
}

func (a *app) googleAuth(cmd *cobra.Command) *auth.GoogleAuth {
	return &auth.GoogleAuth{
		Config: a.cfg.Calendar,
		Dir:    a.cfg.DataDir,
		Log:    a.log.Named("google"),
		Prompt: cmd.ErrOrStderr(),
	}
}

func calendarAuthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Calendar",
		Long:  "Discards any saved Google token and runs the browser authorization again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenFile := filepath.Join(a.cfg.DataDir, auth.GoogleTokenFile)
			if _, err := os.Stat(tokenFile); err == nil {
				a.log.Info("removing existing token file", zap.String("path", tokenFile))
				if err := os.Remove(tokenFile); err != nil {
					return fmt.Errorf("could not delete token file '%s': %w, please delete it manually", tokenFile, err)
				}
			} else if !errors.Is(err, os.ErrNotExist) {
				a.log.Warn("could not check token file", zap.String("path", tokenFile), zap.Error(err))
			}

			if _, err := a.googleAuth(cmd).Client(cmd.Context()); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authentication successful! Token saved to %s\n", tokenFile)
			return nil
		},
	}
}

// syncer connects to the named calendar (the configured one when empty).
func (a *app) syncer(ctx context.Context, cmd *cobra.Command, name string) (*calendar.Syncer, error) {
	if name == "" {
		name = a.cfg.Calendar.Name
	}
	hc, err := a.googleAuth(cmd).Client(ctx)
	if err != nil {
		return nil, err
	}
	srv, err := calendar.NewService(ctx, hc)
	if err != nil {
		return nil, err
	}
	calID, err := calendar.FindCalendar(ctx, srv, name)
	if err != nil {
		return nil, err
	}
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return calendar.NewSyncer(srv, calID, st, calendar.NewColors(st), a.log.Named("calendar")), nil
}

// eventTasks returns the tasks of the given workspaces, or of every
// workspace of the event when none are named.
func eventTasks(ctx context.Context, svc *data.Service, eventID string, workspaces []string) ([]model.Task, error) {
	if len(workspaces) == 0 {
		ws, err := svc.ListWorkspaces(ctx, eventID)
		if err != nil {
			return nil, err
		}
		for _, w := range ws {
			workspaces = append(workspaces, w.ID)
		}
	}
	var tasks []model.Task
	for _, id := range workspaces {
		views, err := svc.ListTasks(ctx, data.TaskFilter{WorkspaceID: id})
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			tasks = append(tasks, v.Task)
		}
	}
	return tasks, nil
}

func calendarSyncCmd(a *app) *cobra.Command {
	var (
		eventID     string
		workspaces  []string
		name        string
		concurrency int
		detach      bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Create or update calendar events for sessions and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return a.detach(cmd, eventID, workspaces, name, concurrency)
			}
			ctx := cmd.Context()
			svc, err := a.service(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			sessions, err := svc.ListSessions(ctx, eventID)
			if err != nil {
				return err
			}
			tasks, err := eventTasks(ctx, svc, eventID, workspaces)
			if err != nil {
				return err
			}
			syncer, err := a.syncer(ctx, cmd, name)
			if err != nil {
				return err
			}
			syncer.Concurrency = concurrency

			now := time.Now()
			items := make([]calendar.Item, 0, len(sessions)+len(tasks))
			for _, s := range sessions {
				items = append(items, calendar.SessionItem(s))
			}
			for _, t := range tasks {
				it, err := calendar.TaskItem(t, now)
				if errors.Is(err, calendar.ErrNoDate) {
					a.log.Debug("skipping undated task", zap.String("task_id", t.ID))
					continue
				}
				if err != nil {
					return err
				}
				items = append(items, it)
			}

			report := syncer.SyncAll(ctx, items)

			st, err := a.openStore()
			if err != nil {
				return err
			}
			tracker := overdue.NewTracker(st, a.notifier(cmd.ErrOrStderr()), a.log.Named("overdue"))
			if err := tracker.Track(ctx, tasks, now); err != nil {
				a.log.Warn("could not record deadlines", zap.Error(err))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d created, %d updated, %d unchanged, %d failed\n",
				report.Count(calendar.Created), report.Count(calendar.Updated),
				report.Count(calendar.Unchanged), len(report.Failed))
			return report.Err()
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	cmd.Flags().StringSliceVarP(&workspaces, "workspace", "w", nil, "only tasks of these workspaces")
	cmd.Flags().StringVar(&name, "calendar", "", "calendar name (overrides config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", calendar.DefaultConcurrency, "parallel calendar requests")
	cmd.Flags().BoolVar(&detach, "detach", false, "run the sync in the background and return immediately")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

// detach re-runs the sync as a background process with output silenced.
func (a *app) detach(cmd *cobra.Command, eventID string, workspaces []string, name string, concurrency int) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not find self: %w", err)
	}
	args := []string{"calendar", "sync", "--event", eventID, "--concurrency", fmt.Sprint(concurrency)}
	for _, w := range workspaces {
		args = append(args, "--workspace", w)
	}
	if name != "" {
		args = append(args, "--calendar", name)
	}
	if a.cfgPath != "" {
		args = append(args, "--config", a.cfgPath)
	}

	bg := exec.Command(self, args...)
	bg.Stdin, bg.Stdout, bg.Stderr = nil, nil, nil
	if err := bg.Start(); err != nil {
		return fmt.Errorf("could not start background process: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "calendar sync running in background (pid %d)\n", bg.Process.Pid)
	return bg.Process.Release()
}

func overdueCmd(a *app) *cobra.Command {
	var (
		eventID    string
		workspaces []string
		patch      bool
		name       string
	)
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "Report tasks whose deadline passed since the last check",
		Long: `Records the deadlines of the given workspaces' tasks, then reports and
forgets every recorded deadline that has passed. With --calendar-patch the
reported tasks' calendar events are updated to show them overdue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			tracker := overdue.NewTracker(st, a.notifier(cmd.ErrOrStderr()), a.log.Named("overdue"))

			now := time.Now()
			var svc *data.Service
			if eventID != "" || len(workspaces) > 0 || patch {
				if svc, err = a.service(ctx, cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			if eventID != "" || len(workspaces) > 0 {
				tasks, err := eventTasks(ctx, svc, eventID, workspaces)
				if err != nil {
					return err
				}
				if err := tracker.Track(ctx, tasks, now); err != nil {
					return err
				}
			}

			due, err := tracker.Sweep(ctx, now)
			if err != nil {
				return err
			}
			if len(due) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing newly overdue")
				return nil
			}
			tw := newTable(cmd.OutOrStdout(), "TASK", "TITLE", "DUE")
			for _, r := range due {
				row(tw, r.TaskID, r.Title, r.Due.Local().Format("Mon Jan 2 15:04"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !patch {
				return nil
			}

			syncer, err := a.syncer(ctx, cmd, name)
			if err != nil {
				return err
			}
			var items []calendar.Item
			for _, r := range due {
				t, err := svc.GetTask(ctx, r.TaskID)
				if err != nil {
					a.log.Warn("sweep: could not load task", zap.String("task_id", r.TaskID), zap.Error(err))
					continue
				}
				it, err := calendar.TaskItem(t.Task, now)
				if err != nil {
					continue
				}
				items = append(items, it)
			}
			return syncer.SyncAll(ctx, items).Err()
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "record deadlines of every workspace of this event first")
	cmd.Flags().StringSliceVarP(&workspaces, "workspace", "w", nil, "record deadlines of these workspaces first")
	cmd.Flags().BoolVar(&patch, "calendar-patch", false, "update calendar events of overdue tasks")
	cmd.Flags().StringVar(&name, "calendar", "", "calendar name (overrides config)")
	return cmd
}
