package data

import (
	"context"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/model"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
)

// notificationLimit caps how many notifications a listing returns.
const notificationLimit = 50

// ListNotifications returns the signed-in user's notifications, newest
// first.
func (s *Service) ListNotifications(ctx context.Context, unreadOnly bool) ([]model.Notification, error) {
	q := backend.From(TableNotifications).Eq("user_id", s.userID)
	scope := "all"
	if unreadOnly {
		q = q.Eq("read", false)
		scope = "unread"
	}
	q = q.Order("created_at", true).Limit(notificationLimit)
	return list[model.Notification](ctx, s, querycache.Key{TableNotifications, s.userID, scope}, q)
}

func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	key := querycache.Key{TableNotifications, s.userID, "count"}
	return querycache.Query(ctx, s.cache, key, func(ctx context.Context) (int, error) {
		return s.backend.Count(ctx, backend.From(TableNotifications).Eq("user_id", s.userID).Eq("read", false))
	})
}

func markRead(n model.Notification) model.Notification {
	n.Read = true
	return n
}

func (s *Service) MarkRead(ctx context.Context, id string) error {
	prefix := querycache.Key{TableNotifications, s.userID}
	_, err := run(ctx, s, "", "Failed to mark notification read", optimistic.Mutation[model.Notification]{
		Keys: []querycache.Key{prefix},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, prefix, func(l []model.Notification) []model.Notification {
				return optimistic.UpdateInList(l, id, keyOf[model.Notification], markRead)
			})
		},
		Do: func(ctx context.Context) (model.Notification, error) {
			return updateOne[model.Notification](ctx, s.backend, TableNotifications, id, map[string]any{"read": true})
		},
	})
	return err
}

func (s *Service) MarkAllRead(ctx context.Context) error {
	prefix := querycache.Key{TableNotifications, s.userID}
	_, err := run(ctx, s, "All notifications marked read", "Failed to mark notifications read", optimistic.Mutation[struct{}]{
		Keys: []querycache.Key{prefix},
		Apply: func(c *querycache.Cache) {
			optimistic.UpdateCachedLists(c, prefix, func(l []model.Notification) []model.Notification {
				out := make([]model.Notification, len(l))
				for i, n := range l {
					out[i] = markRead(n)
				}
				return out
			})
			c.Set(querycache.Key{TableNotifications, s.userID, "count"}, 0)
		},
		Do: func(ctx context.Context) (struct{}, error) {
			q := backend.From(TableNotifications).Eq("user_id", s.userID).Eq("read", false)
			return struct{}{}, s.backend.Update(ctx, q, map[string]any{"read": true}, nil)
		},
	})
	return err
}
