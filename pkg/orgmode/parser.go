// Package orgmode reads Org-mode outlines into checklist items.
package orgmode

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/model"
)

// Outline is a parsed Org-mode file.
type Outline struct {
	Title string
	Items []model.ChecklistItem
}

var (
	titleRegex    = regexp.MustCompile(`^#\+(?i:title):\s*(.+)$`)
	headingRegex  = regexp.MustCompile(`^\*+\s+(TODO|DONE)\s*(?:\[#([A-Z])\])?\s*(.*?)(?:\s+(:(\w+(:\w+)*):))?\s*$`)
	plainHeading  = regexp.MustCompile(`^\*+\s+(.+)$`)
	listItemRegex = regexp.MustCompile(`^[-+]\s+\[([ xX-])\]\s+(.+)$`)
	deadlineRegex = regexp.MustCompile(`DEADLINE:\s+<(\d{4}-\d{2}-\d{2})(?:\s+[A-Za-z]{3})?(?:\s+(\d{2}:\d{2}))?[^>]*>`)
)

// ParseFile parses the outline at path.
func ParseFile(path string) (Outline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Outline{}, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse turns TODO/DONE headings and checkbox list items into checklist
// items, in file order. A DEADLINE line sets the due date of the heading
// above it. The #+TITLE, or else the first plain heading, names the outline.
func Parse(r io.Reader) (Outline, error) {
	var out Outline
	var current *model.ChecklistItem
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case titleRegex.MatchString(line):
			out.Title = strings.TrimSpace(titleRegex.FindStringSubmatch(line)[1])
		case headingRegex.MatchString(line):
			m := headingRegex.FindStringSubmatch(line)
			out.Items = append(out.Items, model.ChecklistItem{
				Text:      strings.TrimSpace(m[3]),
				Completed: m[1] == "DONE",
			})
			current = &out.Items[len(out.Items)-1]
		case plainHeading.MatchString(line):
			if out.Title == "" {
				out.Title = strings.TrimSpace(plainHeading.FindStringSubmatch(line)[1])
			}
			current = nil
		case listItemRegex.MatchString(line):
			m := listItemRegex.FindStringSubmatch(line)
			out.Items = append(out.Items, model.ChecklistItem{
				Text:      strings.TrimSpace(m[2]),
				Completed: m[1] == "x" || m[1] == "X",
			})
			current = nil
		case current != nil && deadlineRegex.MatchString(line):
			if due, ok := parseDeadline(deadlineRegex.FindStringSubmatch(line)); ok {
				current.DueDate = model.NewTimestamp(due)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Outline{}, err
	}
	return out, nil
}

func parseDeadline(m []string) (time.Time, bool) {
	if m[2] != "" {
		t, err := time.ParseInLocation("2006-01-02 15:04", m[1]+" "+m[2], time.Local)
		return t, err == nil
	}
	t, err := time.ParseInLocation("2006-01-02", m[1], time.Local)
	return t, err == nil
}
