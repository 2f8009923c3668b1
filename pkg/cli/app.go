package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/auth"
	"github.com/harrisonrobin/eventdesk/pkg/backend"
	"github.com/harrisonrobin/eventdesk/pkg/config"
	"github.com/harrisonrobin/eventdesk/pkg/data"
	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"github.com/harrisonrobin/eventdesk/pkg/notify"
	"github.com/harrisonrobin/eventdesk/pkg/querycache"
	"github.com/harrisonrobin/eventdesk/pkg/ratelimit"
	"github.com/harrisonrobin/eventdesk/pkg/realtime"
	"github.com/harrisonrobin/eventdesk/pkg/retry"
	"github.com/harrisonrobin/eventdesk/pkg/store"
	"github.com/harrisonrobin/eventdesk/pkg/telemetry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// offlineRetention bounds how old a persisted query result may get.
const offlineRetention = 7 * 24 * time.Hour

// app holds what commands share: configuration, the logger and the
// lazily opened local store.
type app struct {
	cfgPath string
	verbose bool

	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	shutdown func(context.Context) error
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, err = logging.New(cfg.Logging, a.verbose)
	if err != nil {
		return err
	}

	a.shutdown, err = telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		a.log.Warn("tracing disabled", zap.Error(err))
		a.shutdown = nil
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.shutdown != nil {
		if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("could not flush traces", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("could not close store", zap.Error(err))
		}
		a.store = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) authenticator() *auth.Authenticator {
	return auth.NewAuthenticator(a.cfg.Backend, a.cfg.DataDir, a.log)
}

func (a *app) openStore() (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.Open(a.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

// notifier prints toasts to w and, when verbose, logs them too.
func (a *app) notifier(w io.Writer) notify.Notifier {
	n := notify.Multi{toastPrinter{w: w}}
	if a.verbose {
		n = append(n, notify.LogNotifier{Log: a.log.Named("toast")})
	}
	return n
}

// session returns the signed-in user's token source and id.
func (a *app) session(ctx context.Context) (oauth2.TokenSource, string, error) {
	authn := a.authenticator()
	s, err := authn.Session()
	if errors.Is(err, auth.ErrNoSession) {
		return nil, "", errors.New("not signed in: run `eventdesk login` first")
	}
	if err != nil {
		return nil, "", err
	}
	claims, err := s.Claims()
	if err != nil {
		return nil, "", err
	}
	ts, err := authn.TokenSource(ctx)
	if err != nil {
		return nil, "", err
	}
	return ts, claims.UserID, nil
}

// service wires the data layer for the signed-in user.
func (a *app) service(ctx context.Context, out io.Writer) (*data.Service, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ts, userID, err := a.session(ctx)
	if err != nil {
		return nil, err
	}

	client, err := backend.New(a.cfg.Backend,
		backend.WithTokenSource(ts),
		backend.WithLimiter(ratelimit.New(a.cfg.RateLimit.MaxRequests, a.cfg.RateLimit.Window)),
		backend.WithRetryPolicy(retry.FromConfig(a.cfg.Retry)),
		backend.WithLogger(a.log.Named("backend")),
	)
	if err != nil {
		return nil, err
	}

	opts := querycache.Options{
		TTL:        a.cfg.Cache.TTL,
		MaxEntries: a.cfg.Cache.MaxEntries,
		Fallback:   backend.IsRetryable,
		Logger:     a.log.Named("cache"),
	}
	if a.cfg.Cache.Persist {
		st, err := a.openStore()
		if err != nil {
			a.log.Warn("offline cache disabled", zap.Error(err))
		} else {
			opts.Persister = st
			if n, err := st.PruneCache(ctx, time.Now().Add(-offlineRetention)); err != nil {
				a.log.Warn("could not prune offline cache", zap.Error(err))
			} else if n > 0 {
				a.log.Debug("pruned offline cache", zap.Int64("entries", n))
			}
		}
	}

	return data.New(client, data.Options{
		Cache:    querycache.New(opts),
		Notifier: a.notifier(out),
		Logger:   a.log.Named("data"),
		UserID:   userID,
	}), nil
}

// feed opens the realtime change feed for the signed-in user.
func (a *app) feed(ctx context.Context) (*realtime.Feed, error) {
	ts, _, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	return realtime.New(a.cfg.Backend,
		realtime.WithTokenSource(ts),
		realtime.WithRetryPolicy(retry.FromConfig(a.cfg.Retry)),
		realtime.WithLogger(a.log.Named("realtime")),
	)
}
