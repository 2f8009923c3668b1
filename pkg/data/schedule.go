package data

import (
	"context"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
	"github.com/harrisonrobin/eventdesk/pkg/realtime"
	"go.uber.org/zap"
)

// ListSessions returns an event's agenda in start order.
func (s *Service) ListSessions(ctx context.Context, eventID string) ([]model.ScheduleSession, error) {
	q := backend.From(TableSessions).Eq("event_id", eventID).Order("starts_at", false)
	return list[model.ScheduleSession](ctx, s, querycache.Key{TableSessions, eventID}, q)
}

// ChangeFeed delivers row changes; *realtime.Feed implements it.
type ChangeFeed interface {
	Subscribe(table string, h realtime.Handler) func()
}

// Watch invalidates the cached queries of each table whenever the feed
// reports a change to it, until ctx is done. onChange, when set, is called
// after each invalidation.
func (s *Service) Watch(ctx context.Context, feed ChangeFeed, tables []string, onChange func(realtime.Change)) {
	unsubs := make([]func(), 0, len(tables))
	for _, t := range tables {
		unsubs = append(unsubs, feed.Subscribe(t, func(c realtime.Change) {
			n := s.cache.Invalidate(querycache.Key{c.Table})
			s.log.Debug("remote change", zap.String("table", c.Table), zap.String("type", c.Type), zap.Int("invalidated", n))
			if onChange != nil {
				onChange(c)
			}
		}))
	}
	go func() {
		<-ctx.Done()
		for _, u := range unsubs {
			u()
		}
	}()
}
