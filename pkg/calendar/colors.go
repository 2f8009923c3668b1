package calendar

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/store"
)

// PaletteSize is the number of event colors Google Calendar offers (ids 1-11).
const PaletteSize = 11

// ColorStore persists color assignments; *store.Store implements it.
type ColorStore interface {
	ColorAssignments(ctx context.Context) ([]store.ColorAssignment, error)
	SaveColor(ctx context.Context, a store.ColorAssignment) error
	DeleteColor(ctx context.Context, workspaceID string) error
}

// Colors hands each workspace a calendar color. When every color is held,
// the workspace used least recently gives its color up.
type Colors struct {
	mu     sync.Mutex
	store  ColorStore
	now    func() time.Time
	byWS   map[string]store.ColorAssignment
	loaded bool
}

func NewColors(s ColorStore) *Colors {
	return &Colors{store: s, now: time.Now, byWS: make(map[string]store.ColorAssignment)}
}

// ColorID returns the workspace's color, assigning one if it has none. An
// empty workspace id gets the calendar's default color ("").
func (c *Colors) ColorID(ctx context.Context, workspaceID string) (string, error) {
	if workspaceID == "" {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(ctx); err != nil {
		return "", err
	}
	now := c.now()

	if a, ok := c.byWS[workspaceID]; ok {
		a.LastUsed = now
		if err := c.store.SaveColor(ctx, a); err != nil {
			return "", err
		}
		c.byWS[workspaceID] = a
		return a.ColorID, nil
	}

	id, err := c.free(ctx)
	if err != nil {
		return "", err
	}
	a := store.ColorAssignment{WorkspaceID: workspaceID, ColorID: id, LastUsed: now}
	if err := c.store.SaveColor(ctx, a); err != nil {
		return "", err
	}
	c.byWS[workspaceID] = a
	return id, nil
}

// Assignments returns the current workspace to color mapping.
func (c *Colors) Assignments(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(c.byWS))
	for ws, a := range c.byWS {
		out[ws] = a.ColorID
	}
	return out, nil
}

// Release frees a workspace's color, e.g. after it is archived.
func (c *Colors) Release(ctx context.Context, workspaceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.DeleteColor(ctx, workspaceID); err != nil {
		return err
	}
	delete(c.byWS, workspaceID)
	return nil
}

func (c *Colors) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	all, err := c.store.ColorAssignments(ctx)
	if err != nil {
		return fmt.Errorf("calendar: load colors: %w", err)
	}
	for _, a := range all {
		c.byWS[a.WorkspaceID] = a
	}
	c.loaded = true
	return nil
}

// free returns the lowest unused color id, evicting the least recently
// used workspace when the palette is exhausted. Caller holds mu.
func (c *Colors) free(ctx context.Context) (string, error) {
	used := make(map[string]bool, len(c.byWS))
	for _, a := range c.byWS {
		used[a.ColorID] = true
	}
	for i := 1; i <= PaletteSize; i++ {
		id := strconv.Itoa(i)
		if !used[id] {
			return id, nil
		}
	}

	var oldest store.ColorAssignment
	first := true
	for _, a := range c.byWS {
		if first || a.LastUsed.Before(oldest.LastUsed) ||
			(a.LastUsed.Equal(oldest.LastUsed) && a.WorkspaceID < oldest.WorkspaceID) {
			oldest = a
			first = false
		}
	}
	if err := c.store.DeleteColor(ctx, oldest.WorkspaceID); err != nil {
		return "", err
	}
	delete(c.byWS, oldest.WorkspaceID)
	return oldest.ColorID, nil
}
