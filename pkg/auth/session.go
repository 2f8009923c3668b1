package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/harrisonrobin/eventdesk/pkg/config"
	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrNoSession is returned when nobody is signed in.
var ErrNoSession = errors.New("auth: not signed in")

const (
	SessionFile = "session.json"
	clientID    = "eventdesk"
)

// Authenticator signs users in against the backend's token endpoint and
// keeps the session on disk.
type Authenticator struct {
	base    string
	anonKey string
	path    string
	http    *http.Client
	log     *zap.Logger

	mu sync.Mutex
}

// NewAuthenticator stores the session under dir.
func NewAuthenticator(cfg config.BackendConfig, dir string, log *zap.Logger) *Authenticator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Authenticator{
		base:    strings.TrimRight(cfg.URL, "/"),
		anonKey: cfg.AnonKey,
		path:    filepath.Join(dir, SessionFile),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &apikeyTransport{key: cfg.AnonKey, base: http.DefaultTransport},
		},
		log: logging.OrNop(log),
	}
}

func (a *Authenticator) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  a.base + "/auth/v1/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// oauthContext makes the oauth2 package use our client, which carries the
// apikey header on token requests.
func (a *Authenticator) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.http)
}

// SignIn exchanges email and password for a session and saves it.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, errors.New("auth: email and password are required")
	}
	tok, err := a.oauthConfig().PasswordCredentialsToken(a.oauthContext(ctx), email, password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorDescription != "" {
			return nil, fmt.Errorf("auth: sign in: %s", re.ErrorDescription)
		}
		return nil, fmt.Errorf("auth: sign in: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := saveToken(a.path, tok); err != nil {
		return nil, err
	}
	a.log.Info("signed in", zap.String("email", email))
	return &Session{Token: tok}, nil
}

// Session returns the saved session.
func (a *Authenticator) Session() (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tok, err := tokenFromFile(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok}, nil
}

// TokenSource returns a source that refreshes the saved session when it
// expires and writes refreshed tokens back to disk.
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	s, err := a.Session()
	if err != nil {
		return nil, err
	}
	src := a.oauthConfig().TokenSource(a.oauthContext(ctx), s.Token)
	return &persistingSource{src: src, auth: a, last: s.Token.AccessToken}, nil
}

// SignOut revokes the session on the server when possible and always
// removes the local copy.
func (a *Authenticator) SignOut(ctx context.Context) error {
	s, err := a.Session()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/auth/v1/logout", nil)
	if err == nil {
		s.Token.SetAuthHeader(req)
		resp, err := a.http.Do(req)
		if err != nil {
			a.log.Warn("logout request failed", zap.Error(err))
		} else {
			resp.Body.Close()
			if resp.StatusCode >= 300 {
				a.log.Warn("logout rejected", zap.Int("status", resp.StatusCode))
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("auth: remove session: %w", err)
	}
	return nil
}

type persistingSource struct {
	src  oauth2.TokenSource
	auth *Authenticator

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refresh session: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.auth.mu.Lock()
		err := saveToken(p.auth.path, tok)
		p.auth.mu.Unlock()
		if err != nil {
			p.auth.log.Warn("could not save refreshed session", zap.Error(err))
		} else {
			p.auth.log.Debug("session refreshed")
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}

// Session is a signed-in user's token.
type Session struct {
	Token *oauth2.Token
}

// Claims are the fields of the access token the client cares about.
type Claims struct {
	UserID    string
	Email     string
	Role      string
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Claims decodes the access token. The signature is not checked: only the
// server can, and it does on every request.
func (s *Session) Claims() (Claims, error) {
	if s == nil || s.Token == nil {
		return Claims{}, ErrNoSession
	}
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token.AccessToken, &tc); err != nil {
		return Claims{}, fmt.Errorf("auth: decode access token: %w", err)
	}
	c := Claims{UserID: tc.Subject, Email: tc.Email, Role: tc.Role}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}

type apikeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apikeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.key != "" {
		req = req.Clone(req.Context())
		req.Header.Set("apikey", t.key)
	}
	return t.base.RoundTrip(req)
}

// tokenFromFile reads an oauth2.Token from a JSON file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

// saveToken writes tok readable by the owner only.
func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}
