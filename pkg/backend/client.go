package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/config"
	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"github.com/harrisonrobin/eventdesk/pkg/ratelimit"
	"github.com/harrisonrobin/eventdesk/pkg/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/harrisonrobin/eventdesk/pkg/backend"

// Client talks to the hosted backend: table rows under /rest/v1 and
// serverless functions under /functions/v1.
type Client struct {
	base       *url.URL
	anonKey    string
	http       *http.Client
	tokens     oauth2.TokenSource
	transport  http.RoundTripper
	limiter    *ratelimit.Limiter
	policy     retry.Policy
	idempotent map[string]bool
	log        *zap.Logger
	tracer     trace.Tracer
}

type Option func(*Client)

// WithTokenSource authenticates requests with the signed-in session.
// Without it requests carry the anon key as bearer token.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithTransport replaces the underlying round tripper (tests use the
// httptest server's).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithIdempotentFunctions lists serverless functions that are safe to
// retry.
func WithIdempotentFunctions(names ...string) Option {
	return func(c *Client) {
		for _, n := range names {
			c.idempotent[n] = true
		}
	}
}

func New(cfg config.BackendConfig, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("backend: url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse url: %w", err)
	}

	c := &Client{
		base:       base,
		anonKey:    cfg.AnonKey,
		transport:  http.DefaultTransport,
		limiter:    ratelimit.New(60, time.Minute),
		policy:     retry.DefaultPolicy(),
		idempotent: map[string]bool{},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrNop(c.log)
	if c.tokens == nil {
		c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AnonKey, TokenType: "Bearer"})
	}
	if c.policy.ShouldRetry == nil {
		c.policy.ShouldRetry = IsRetryable
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c.http = &http.Client{
		Timeout:   timeout,
		Transport: &oauth2.Transport{Source: c.tokens, Base: c.transport},
	}
	return c, nil
}

// URL returns the project base URL.
func (c *Client) URL() *url.URL {
	u := *c.base
	return &u
}

func (c *Client) AnonKey() string { return c.anonKey }

type request struct {
	method     string
	path       string
	query      url.Values
	body       any
	prefer     string
	idempotent bool
	label      string
}

// Select runs q and decodes the rows (a JSON array) into dst.
func (c *Client) Select(ctx context.Context, q Query, dst any) error {
	return c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/rest/v1/" + q.Table,
		query:      q.Values(),
		idempotent: true,
		label:      q.Table,
	}, dst, nil)
}

// SelectOne decodes the first row matching q into dst.
func (c *Client) SelectOne(ctx context.Context, q Query, dst any) error {
	var rows []json.RawMessage
	if err := c.Select(ctx, q.Limit(1), &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	if err := json.Unmarshal(rows[0], dst); err != nil {
		return fmt.Errorf("backend: decode %s row: %w", q.Table, err)
	}
	return nil
}

// Count returns the number of rows matching q.
func (c *Client) Count(ctx context.Context, q Query) (int, error) {
	var n int
	err := c.do(ctx, request{
		method:     http.MethodHead,
		path:       "/rest/v1/" + q.Table,
		query:      q.Values(),
		prefer:     "count=exact",
		idempotent: true,
		label:      q.Table,
	}, nil, func(resp *http.Response) error {
		v, err := parseContentRange(resp.Header.Get("Content-Range"))
		n = v
		return err
	})
	return n, err
}

// Insert creates rows (a struct, map or slice) and decodes the stored rows
// into dst when it is non-nil.
func (c *Client) Insert(ctx context.Context, table string, rows any, dst any) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/rest/v1/" + table,
		body:   rows,
		prefer: "return=representation",
		label:  table,
	}, dst, nil)
}

// Update patches every row matching q. A query without filters is refused.
func (c *Client) Update(ctx context.Context, q Query, patch any, dst any) error {
	if len(q.Filters) == 0 {
		return Invalid("", "refusing to update every row of %s", q.Table)
	}
	return c.do(ctx, request{
		method:     http.MethodPatch,
		path:       "/rest/v1/" + q.Table,
		query:      q.Values(),
		body:       patch,
		prefer:     "return=representation",
		idempotent: true,
		label:      q.Table,
	}, dst, nil)
}

// Delete removes every row matching q. A query without filters is refused.
func (c *Client) Delete(ctx context.Context, q Query) error {
	if len(q.Filters) == 0 {
		return Invalid("", "refusing to delete every row of %s", q.Table)
	}
	return c.do(ctx, request{
		method:     http.MethodDelete,
		path:       "/rest/v1/" + q.Table,
		query:      q.Values(),
		idempotent: true,
		label:      q.Table,
	}, nil, nil)
}

// Invoke calls a serverless function with a JSON body.
func (c *Client) Invoke(ctx context.Context, name string, body any, dst any) error {
	return c.do(ctx, request{
		method:     http.MethodPost,
		path:       "/functions/v1/" + name,
		body:       body,
		idempotent: c.idempotent[name],
		label:      "fn:" + name,
	}, dst, nil)
}

func (c *Client) do(ctx context.Context, r request, dst any, inspect func(*http.Response) error) error {
	ctx, span := c.tracer.Start(ctx, "backend "+r.method+" "+r.label,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("backend.target", r.label),
		))
	defer span.End()

	var payload []byte
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("backend: encode %s body: %w", r.label, err)
		}
		payload = b
	}

	u := c.base.JoinPath(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	attempts := 0
	call := func(ctx context.Context) error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("apikey", c.anonKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if r.prefer != "" {
			req.Header.Set("Prefer", r.prefer)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) {
				return retry.Permanent(fmt.Errorf("backend: refresh session: %w", re))
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &NetworkError{Op: r.method + " " + r.label, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return decodeError(resp)
		}
		if inspect != nil {
			if err := inspect(resp); err != nil {
				return retry.Permanent(err)
			}
		}
		if dst == nil || resp.StatusCode == http.StatusNoContent || r.method == http.MethodHead {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return retry.Permanent(fmt.Errorf("backend: decode %s response: %w", r.label, err))
		}
		return nil
	}

	start := time.Now()
	var err error
	if r.idempotent {
		err = retry.Do(ctx, c.policy, call)
	} else {
		err = call(ctx)
	}

	fields := []zap.Field{
		zap.String("method", r.method),
		zap.String("target", r.label),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug("backend request failed", append(fields, zap.Error(err))...)
		return err
	}
	c.log.Debug("backend request", fields...)
	return nil
}

// parseContentRange reads the total from "0-24/57" or "*/0".
func parseContentRange(h string) (int, error) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 {
		return 0, fmt.Errorf("backend: missing count in content-range %q", h)
	}
	n, err := strconv.Atoi(h[i+1:])
	if err != nil {
		return 0, fmt.Errorf("backend: bad count in content-range %q: %w", h, err)
	}
	return n, nil
}
