// Package data is the operation layer used by the CLI: every read goes
// through the shared query cache and every write through an optimistic
// mutation that raises a toast when it settles.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"github.com/harrisonrobin/eventdesk/pkg/notify"
	"github.com/harrisonrobin/eventdesk/pkg/optimistic"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
	"go.uber.org/zap"
)

// Remote tables and functions.
const (
	TableWorkspaces       = "workspaces"
	TableTasks            = "tasks"
	TableChecklists       = "checklists"
	TableDeliverables     = "deliverables"
	TableStakeholders     = "stakeholders"
	TableRubrics          = "rubrics"
	TableRubricScores     = "rubric_scores"
	TableBudgetCategories = "budget_categories"
	TableExpenses         = "expenses"
	TableSponsors         = "sponsors"
	TableShifts           = "volunteer_shifts"
	TableAssignments      = "volunteer_assignments"
	TableNotifications    = "notifications"
	TablePolicies         = "approval_policies"
	TableRequests         = "approval_requests"
	TableDecisions        = "approval_decisions"
	TableSessions         = "schedule_sessions"
	TableUserRoles        = "user_roles"

	FnNotifyApprovers = "notify-approvers"
)

// Backend is the remote database; *backend.Client implements it.
type Backend interface {
	Select(ctx context.Context, q backend.Query, dst any) error
	SelectOne(ctx context.Context, q backend.Query, dst any) error
	Count(ctx context.Context, q backend.Query) (int, error)
	Insert(ctx context.Context, table string, rows any, dst any) error
	Update(ctx context.Context, q backend.Query, patch any, dst any) error
	Delete(ctx context.Context, q backend.Query) error
	Invoke(ctx context.Context, name string, body any, dst any) error
}

type Options struct {
	Cache    *querycache.Cache
	Notifier notify.Notifier
	Logger   *zap.Logger
	// UserID is the signed-in user, used for ownership columns.
	UserID string
	Now    func() time.Time
	NewID  func() string
}

type Service struct {
	backend  Backend
	cache    *querycache.Cache
	notifier notify.Notifier
	log      *zap.Logger
	userID   string
	now      func() time.Time
	newID    func() string
}

func New(b Backend, opts Options) *Service {
	s := &Service{
		backend:  b,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		log:      logging.OrNop(opts.Logger),
		userID:   opts.UserID,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if s.cache == nil {
		s.cache = querycache.New(querycache.Options{Logger: opts.Logger, Fallback: backend.IsRetryable})
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Cache exposes the shared query cache.
func (s *Service) Cache() *querycache.Cache { return s.cache }

// UserID returns the user the service acts for.
func (s *Service) UserID() string { return s.userID }

// Invalidate marks every cached query of the tables stale.
func (s *Service) Invalidate(tables ...string) int {
	keys := make([]querycache.Key, len(tables))
	for i, t := range tables {
		keys[i] = querycache.Key{t}
	}
	return s.cache.Invalidate(keys...)
}

func idKey(table, id string) querycache.Key {
	return querycache.Key{table, "id:" + id}
}

// list fetches rows of q through the cache under key.
func list[T any](ctx context.Context, s *Service, key querycache.Key, q backend.Query) ([]T, error) {
	rows, err := querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]T, error) {
		var rows []T
		if err := s.backend.Select(ctx, q, &rows); err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []T{}
		}
		return rows, nil
	})
	if err != nil {
		s.log.Warn("query failed", zap.String("key", key.String()), zap.Error(err))
	}
	return rows, err
}

// one fetches a single row through the cache.
func one[T any](ctx context.Context, s *Service, key querycache.Key, q backend.Query) (T, error) {
	row, err := querycache.Query(ctx, s.cache, key, func(ctx context.Context) (T, error) {
		var row T
		err := s.backend.SelectOne(ctx, q, &row)
		return row, err
	})
	if err != nil && !backend.IsNotFound(err) {
		s.log.Warn("query failed", zap.String("key", key.String()), zap.Error(err))
	}
	return row, err
}

// insertOne creates a row and returns what the server stored.
func insertOne[T any](ctx context.Context, b Backend, table string, row any) (T, error) {
	var out []T
	var zero T
	if err := b.Insert(ctx, table, row, &out); err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, fmt.Errorf("data: insert into %s returned no rows", table)
	}
	return out[0], nil
}

// updateOne patches the row with id and returns it.
func updateOne[T any](ctx context.Context, b Backend, table, id string, patch any) (T, error) {
	var out []T
	var zero T
	if err := b.Update(ctx, backend.From(table).Eq("id", id), patch, &out); err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, backend.ErrNotFound
	}
	return out[0], nil
}

func deleteByID(ctx context.Context, b Backend, table, id string) error {
	return b.Delete(ctx, backend.From(table).Eq("id", id))
}

// run performs m and raises the toast for its outcome.
func run[V any](ctx context.Context, s *Service, success, failure string, m optimistic.Mutation[V]) (V, error) {
	v, err := optimistic.Run(ctx, s.cache, m)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			notify.Failure(s.notifier, failure, err)
		}
		s.log.Warn("mutation failed", zap.String("op", failure), zap.Error(err))
		return v, err
	}
	if success != "" {
		notify.Success(s.notifier, success, "")
	}
	return v, nil
}

// fail reports a request rejected before reaching the backend.
func (s *Service) fail(title string, err error) error {
	notify.Failure(s.notifier, title, err)
	return err
}

// replaceCached swaps the cached single row under key, if one is cached.
func replaceCached[T any](c *querycache.Cache, key querycache.Key, fn func(T) T) {
	c.Update(key, func(old any) any {
		if v, ok := old.(T); ok {
			return fn(v)
		}
		return old
	})
}

func keyOf[T interface{ Key() string }](v T) string { return v.Key() }
