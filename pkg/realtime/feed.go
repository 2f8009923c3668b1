// Package realtime follows row changes of backend tables over the
// project's WebSocket change feed.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harrisonrobin/eventdesk/pkg/config"
	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"github.com/harrisonrobin/eventdesk/pkg/retry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Channel events.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventHeartbeat = "heartbeat"
	EventChanges   = "postgres_changes"

	heartbeatTopic   = "phoenix"
	DefaultHeartbeat = 25 * time.Second
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("realtime: feed closed")

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// Change is one inserted, updated or deleted row.
type Change struct {
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp string          `json:"commit_timestamp,omitempty"`
}

type Handler func(Change)

// Topic is the channel carrying changes of table.
func Topic(table string) string { return "realtime:public:" + table }

type Feed struct {
	url       string
	tokens    oauth2.TokenSource
	dialer    *websocket.Dialer
	policy    retry.Policy
	heartbeat time.Duration
	log       *zap.Logger

	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
	conn     *websocket.Conn

	writeMu sync.Mutex
	ref     atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

type Option func(*Feed)

// WithTokenSource sends the session's access token when joining, so row
// level security applies to the feed.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(f *Feed) { f.tokens = ts }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(f *Feed) { f.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Feed) { f.log = l }
}

func WithHeartbeat(d time.Duration) Option {
	return func(f *Feed) { f.heartbeat = d }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(f *Feed) { f.dialer = d }
}

// New derives the feed endpoint from the backend URL.
func New(cfg config.BackendConfig, opts ...Option) (*Feed, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("realtime: invalid backend url %q", cfg.URL)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", cfg.AnonKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	f := &Feed{
		url:       u.String(),
		dialer:    websocket.DefaultDialer,
		policy:    retry.DefaultPolicy(),
		heartbeat: DefaultHeartbeat,
		handlers:  map[string]map[int]Handler{},
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = logging.OrNop(f.log)
	return f, nil
}

// URL is the WebSocket endpoint, including the api key.
func (f *Feed) URL() string { return f.url }

// Subscribe calls h for every change of table until the returned func is
// called. Subscribing while connected joins the table's channel at once.
func (f *Feed) Subscribe(table string, h Handler) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	first := len(f.handlers[table]) == 0
	if first {
		f.handlers[table] = map[int]Handler{}
	}
	f.handlers[table][id] = h
	conn := f.conn
	f.mu.Unlock()

	if first && conn != nil {
		if err := f.join(conn, table); err != nil {
			f.log.Warn("realtime join failed", zap.String("table", table), zap.Error(err))
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.handlers[table], id)
			last := len(f.handlers[table]) == 0
			if last {
				delete(f.handlers, table)
			}
			conn := f.conn
			f.mu.Unlock()
			if last && conn != nil {
				_ = f.send(conn, message{Topic: Topic(table), Event: EventLeave, Payload: json.RawMessage(`{}`)})
			}
		})
	}
}

// Run connects and dispatches changes until ctx is done or Close is
// called. Dropped connections are redialed on the retry policy's backoff;
// Run gives up after MaxAttempts consecutive failed connections.
func (f *Feed) Run(ctx context.Context) error {
	failures := 0
	for {
		connected, err := f.session(ctx)
		select {
		case <-f.closed:
			return ErrClosed
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			failures = 0
		}
		failures++
		if f.policy.MaxAttempts > 0 && failures > f.policy.MaxAttempts {
			return fmt.Errorf("realtime: giving up after %d attempts: %w", failures-1, err)
		}
		delay := f.policy.Delay(failures, rand.Float64())
		f.log.Warn("realtime connection lost, reconnecting", zap.Error(err), zap.Duration("in", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-f.closed:
			t.Stop()
			return ErrClosed
		case <-t.C:
		}
	}
}

// Close stops Run and drops the connection.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// session runs one connection. connected reports whether the dial
// succeeded.
func (f *Feed) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("realtime: dial: %w", err)
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	tables := make([]string, 0, len(f.handlers))
	for t := range f.handlers {
		tables = append(tables, t)
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.mu.Unlock()
	}()

	for _, t := range tables {
		if err := f.join(conn, t); err != nil {
			return true, err
		}
	}
	f.log.Debug("realtime connected", zap.Strings("tables", tables))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-f.closed:
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := f.send(conn, message{Topic: heartbeatTopic, Event: EventHeartbeat, Payload: json.RawMessage(`{}`)}); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return true, fmt.Errorf("realtime: read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *Feed) dispatch(msg message) {
	switch msg.Event {
	case EventChanges:
		var c Change
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			f.log.Warn("realtime: bad change payload", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		if c.Table == "" {
			c.Table = strings.TrimPrefix(msg.Topic, "realtime:public:")
		}
		f.mu.Lock()
		hs := make([]Handler, 0, len(f.handlers[c.Table]))
		for _, h := range f.handlers[c.Table] {
			hs = append(hs, h)
		}
		f.mu.Unlock()
		for _, h := range hs {
			h(c)
		}
	case EventReply:
		var reply struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status != "" && reply.Status != "ok" {
			f.log.Warn("realtime: channel refused", zap.String("topic", msg.Topic), zap.String("status", reply.Status))
		}
	}
}

func (f *Feed) join(conn *websocket.Conn, table string) error {
	payload := map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{{"event": "*", "schema": "public", "table": table}},
		},
	}
	if f.tokens != nil {
		tok, err := f.tokens.Token()
		if err != nil {
			return fmt.Errorf("realtime: token: %w", err)
		}
		payload["access_token"] = tok.AccessToken
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return f.send(conn, message{Topic: Topic(table), Event: EventJoin, Payload: body})
}

func (f *Feed) send(conn *websocket.Conn, msg message) error {
	msg.Ref = strconv.FormatInt(f.ref.Add(1), 10)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}
