package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/config"
	"github.com/harrisonrobin/eventdesk/pkg/logging"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// GoogleTokenFile holds the calendar user's OAuth token.
const GoogleTokenFile = "google_token.json"

// GoogleScopes are requested for the calendar export.
var GoogleScopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// GoogleAuth runs Google's installed-app OAuth flow for calendar sync.
type GoogleAuth struct {
	Config config.CalendarConfig
	Dir    string
	Log    *zap.Logger
	// Prompt receives the URL the user must open.
	Prompt io.Writer
}

// OAuthConfig reads the client secrets file and points the redirect at
// the local callback port.
func (g *GoogleAuth) OAuthConfig() (*oauth2.Config, error) {
	log := logging.OrNop(g.Log)
	file := g.Config.CredentialsFile
	if !filepath.IsAbs(file) {
		file = filepath.Join(g.Dir, file)
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", file, err)
	}
	cfg, err := google.ConfigFromJSON(b, GoogleScopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	port := g.Config.AuthPort
	parsed, err := url.Parse(cfg.RedirectURL)
	switch {
	case cfg.RedirectURL == "urn:ietf:wg:oauth:2.0:oob":
		cfg.RedirectURL = fmt.Sprintf("http://localhost:%s/oauth2callback", port)
		log.Info("overriding out-of-band redirect", zap.String("redirect_url", cfg.RedirectURL))
	case err != nil:
		log.Warn("could not parse redirect URL, using it as is", zap.String("redirect_url", cfg.RedirectURL), zap.Error(err))
	case parsed.Hostname() == "localhost" || parsed.Hostname() == "127.0.0.1":
		if parsed.Port() != port {
			if parsed.Port() != "" {
				log.Warn("forcing redirect port to match auth port",
					zap.String("configured", parsed.Port()), zap.String("auth_port", port))
			}
			parsed.Host = net.JoinHostPort(parsed.Hostname(), port)
			cfg.RedirectURL = parsed.String()
		}
	default:
		log.Warn("redirect URL is not a localhost callback", zap.String("redirect_url", cfg.RedirectURL))
	}
	return cfg, nil
}

// Client returns an authorized client, running the browser flow when no
// token is saved. Refreshed tokens are written back.
func (g *GoogleAuth) Client(ctx context.Context) (*http.Client, error) {
	cfg, err := g.OAuthConfig()
	if err != nil {
		return nil, err
	}
	log := logging.OrNop(g.Log)
	tokenFile := filepath.Join(g.Dir, GoogleTokenFile)

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		log.Info("no google token found, starting web authorization", zap.String("path", tokenFile))
		tok, err = g.tokenFromWeb(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, err
		}
	}

	a := &Authenticator{path: tokenFile, log: log}
	src := &persistingSource{src: cfg.TokenSource(ctx, tok), auth: a, last: tok.AccessToken}
	return oauth2.NewClient(ctx, src), nil
}

// tokenFromWeb serves the OAuth redirect on the auth port and exchanges
// the code it receives.
func (g *GoogleAuth) tokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", g.Config.AuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", g.Config.AuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- errors.New("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- fmt.Errorf("HTTP server error: %w", err):
			default:
			}
		}
	}()
	defer server.Shutdown(context.Background())

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	prompt := g.Prompt
	if prompt == nil {
		prompt = os.Stderr
	}
	fmt.Fprintf(prompt, "Open the following URL in your browser to authorize eventdesk:\n%s\n", authURL)

	select {
	case code := <-codeCh:
		xctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(xctx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, errors.New("authorization timed out, please try again")
	}
}
