package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/config"
	"github.com/harrisonrobin/eventdesk/pkg/ratelimit"
	"github.com/harrisonrobin/eventdesk/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type row struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	fast := retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	base := []Option{WithRetryPolicy(fast), WithLimiter(ratelimit.New(1000, time.Second))}
	c, err := New(config.BackendConfig{URL: srv.URL, AnonKey: "anon-key", Timeout: time.Second}, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestQueryValues(t *testing.T) {
	q := From("tasks").
		Select("id,title").
		Eq("workspace_id", "ws-1").
		In("status", "todo", "in_progress").
		IsNull("deleted_at").
		Order("due_date", false).
		Order("created_at", true).
		Limit(20)

	v := q.Values()
	assert.Equal(t, "id,title", v.Get("select"))
	assert.Equal(t, "eq.ws-1", v.Get("workspace_id"))
	assert.Equal(t, "in.(todo,in_progress)", v.Get("status"))
	assert.Equal(t, "is.null", v.Get("deleted_at"))
	assert.Equal(t, "due_date.asc,created_at.desc", v.Get("order"))
	assert.Equal(t, "20", v.Get("limit"))
}

func TestQueryBuilderDoesNotAlias(t *testing.T) {
	base := From("tasks").Eq("workspace_id", "a")
	one := base.Eq("status", "todo")
	two := base.Eq("status", "completed")

	assert.Len(t, base.Filters, 1)
	assert.Equal(t, "eq.todo", one.Values().Get("status"))
	assert.Equal(t, "eq.completed", two.Values().Get("status"))
}

func TestInQuotesReservedCharacters(t *testing.T) {
	v := From("stakeholders").In("organization", "Acme, Inc", "Plain").Values()
	assert.Equal(t, `in.("Acme, Inc",Plain)`, v.Get("organization"))
}

func TestSelectSendsHeadersAndDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/tasks", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "eq.ws-1", r.URL.Query().Get("workspace_id"))
		_ = json.NewEncoder(w).Encode([]row{{ID: "t1", Title: "Book venue"}})
	})

	var got []row
	require.NoError(t, c.Select(context.Background(), From("tasks").Eq("workspace_id", "ws-1"), &got))
	assert.Equal(t, []row{{ID: "t1", Title: "Book venue"}}, got)
}

func TestTokenSourceOverridesAnonBearer(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "user-jwt"})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-jwt", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, "[]")
	}, WithTokenSource(ts))

	var got []row
	require.NoError(t, c.Select(context.Background(), From("tasks"), &got))
}

func TestSelectOneNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, "[]")
	})

	var got row
	err := c.SelectOne(context.Background(), From("tasks").Eq("id", "missing"), &got)
	assert.True(t, IsNotFound(err))
}

func TestRetriesServerErrorsOnReads(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"message":"try later"}`)
			return
		}
		_, _ = io.WriteString(w, `[{"id":"t1","title":"ok"}]`)
	})

	var got []row
	require.NoError(t, c.Select(context.Background(), From("tasks"), &got))
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, got, 1)
}

func TestInsertIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.Insert(context.Background(), "tasks", row{Title: "x"}, nil)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestValidationErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key value","details":"Key (name)=(Ops) already exists."}`)
	})

	err := c.Update(context.Background(), From("workspaces").Eq("id", "w1"), map[string]any{"name": "Ops"}, nil)
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "23505", apiErr.Code)
	assert.Equal(t, "duplicate key value", Message(err))
	assert.True(t, IsValidation(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpdateAndDeleteRequireFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL)
	})

	err := c.Update(context.Background(), From("tasks"), map[string]any{"status": "completed"}, nil)
	assert.True(t, IsValidation(err))
	err = c.Delete(context.Background(), From("tasks"))
	assert.True(t, IsValidation(err))
}

func TestCountReadsContentRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		w.Header().Set("Content-Range", "0-9/42")
	})

	n, err := c.Count(context.Background(), From("notifications").Eq("read", false))
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestInvokeFunction(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/functions/v1/notify-approvers", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "req-1", body["request_id"])
		if calls.Load() == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"cold start"}`)
			return
		}
		_, _ = io.WriteString(w, `{"sent":2}`)
	}, WithIdempotentFunctions("notify-approvers"))

	var out struct {
		Sent int `json:"sent"`
	}
	require.NoError(t, c.Invoke(context.Background(), "notify-approvers", map[string]string{"request_id": "req-1"}, &out))
	assert.Equal(t, 2, out.Sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	fast := retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	c, err := New(config.BackendConfig{URL: url, Timeout: time.Second}, WithRetryPolicy(fast))
	require.NoError(t, err)

	err = c.Select(context.Background(), From("tasks"), &[]row{})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "Network error, please check your connection", Message(err))
}

func TestLimiterGatesRequests(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[]")
	}, WithLimiter(ratelimit.New(1, time.Hour)))

	require.NoError(t, c.Select(context.Background(), From("tasks"), &[]row{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Select(ctx, From("tasks"), &[]row{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
