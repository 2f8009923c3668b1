package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/notify"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	toastStyles = map[notify.Level]lipgloss.Style{
		notify.LevelSuccess: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50")),
		notify.LevelError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		notify.LevelWarning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFB347")),
		notify.LevelInfo:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
	}
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	overdueStyle = toastStyles[notify.LevelError]
	headStyle    = lipgloss.NewStyle().Bold(true)
	cellStyle    = lipgloss.NewStyle().PaddingRight(1)

	money = message.NewPrinter(language.English)
)

// toastPrinter shows toasts as one styled line each.
type toastPrinter struct {
	w io.Writer
}

func (p toastPrinter) Notify(t notify.Toast) {
	style, ok := toastStyles[t.Level]
	if !ok {
		style = toastStyles[notify.LevelInfo]
	}
	line := style.Render(t.Title)
	if t.Description != "" {
		line += " " + dimStyle.Render(t.Description)
	}
	fmt.Fprintln(p.w, line)
}

func formatMoney(v float64) string {
	return money.Sprintf("%.2f", v)
}

// textTable lays out rows with ANSI-aware column widths, so styled cells
// line up with plain ones.
type textTable struct {
	w io.Writer
	t *table.Table
}

func newTable(w io.Writer, headers ...string) *textTable {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(true).
		Headers(headers...).
		StyleFunc(func(r, c int) lipgloss.Style {
			if r == table.HeaderRow {
				return cellStyle.Inherit(headStyle)
			}
			return cellStyle
		})
	return &textTable{w: w, t: t}
}

func row(tw *textTable, cols ...any) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}
	tw.t.Row(parts...)
}

func (tw *textTable) Flush() error {
	_, err := fmt.Fprintln(tw.w, tw.t.String())
	return err
}

func formatDate(ts *model.Timestamp) string {
	if !ts.IsSet() {
		return "-"
	}
	return ts.Local().Format("Mon Jan 2 15:04")
}

// parseDue accepts a date (2026-06-01), an RFC 3339 time, or a relative
// offset such as 3d or 12h.
func parseDue(s string, now time.Time) (*model.Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return model.NewTimestamp(now.AddDate(0, 0, days)), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return model.NewTimestamp(now.Add(d)), nil
	}
	ts, err := model.ParseTimestamp(s)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q: use YYYY-MM-DD, RFC 3339, or an offset like 3d", s)
	}
	return &ts, nil
}
