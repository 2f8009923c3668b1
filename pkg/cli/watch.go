package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/data"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/realtime"
	"github.com/spf13/cobra"
)

var defaultWatchTables = []string{
	data.TableTasks,
	data.TableRequests,
	data.TableNotifications,
	data.TableBudgetCategories,
}

func watchCmd(a *app) *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream row changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			feed, err := a.feed(ctx)
			if err != nil {
				return err
			}
			defer feed.Close()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			svc.Watch(ctx, feed, tables, func(c realtime.Change) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(out, describeChange(c))
			})

			fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render("watching "+fmt.Sprint(tables)+", Ctrl-C to stop"))
			err = feed.Run(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, realtime.ErrClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&tables, "table", defaultWatchTables, "tables to watch")
	return cmd
}

func describeChange(c realtime.Change) string {
	at := time.Now()
	if ts, err := model.ParseTimestamp(c.CommitTimestamp); err == nil && !ts.IsZero() {
		at = ts.Time
	}
	raw := c.Record
	if len(raw) == 0 || string(raw) == "null" {
		raw = c.OldRecord
	}
	var rec map[string]any
	_ = json.Unmarshal(raw, &rec)
	id, _ := rec["id"].(string)
	label, _ := rec["title"].(string)
	if label == "" {
		label, _ = rec["name"].(string)
	}
	line := fmt.Sprintf("%s %-6s %s %s", at.Local().Format("15:04:05"), c.Type, c.Table, id)
	if label != "" {
		line += " " + dimStyle.Render(label)
	}
	return line
}
