package prefid

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Talentxmdu/PREFID-SDK/oauth"
)

// refreshThreshold is how close to expiry a token may get before a
// request triggers a silent refresh.
const refreshThreshold = 5 * time.Minute

// Client is the PrefID session manager and API facade. One Client
// owns one session; it restores it at construction, refreshes tokens
// before they expire, and clears everything when recovery fails.
//
// A Client is safe for concurrent use.
type Client struct {
	cfg        ClientConfig
	flow       *oauth.Flow
	store      *oauth.CredentialStore
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.RWMutex
	session *oauth.Session

	refreshGroup singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client and its flow engine.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the HTTP client for all requests, including
// token exchanges.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBackend replaces the durable credential backend. Mostly for
// tests, which pass an oauth.MemoryBackend.
func WithBackend(backend oauth.Backend) Option {
	return func(c *Client) {
		c.store = oauth.NewCredentialStore(backend)
	}
}

// New creates a Client and restores any persisted session. An expired
// stored session is discarded silently; the caller finds out through
// IsAuthenticated.
func New(cfg ClientConfig, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: oauth.DefaultHTTPTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		backend := oauth.NewDurableBackend(cfg.StoragePath, cfg.DisableKeyring)
		c.store = oauth.NewCredentialStore(backend, oauth.WithStoreLogger(c.logger))
	}

	c.flow = oauth.NewFlow(oauth.Config{
		ClientID:    cfg.ClientID,
		BaseURL:     cfg.BaseURL,
		RedirectURI: cfg.RedirectURI,
		Scopes:      cfg.Scopes,
		Debug:       cfg.Debug,
	}, c.store,
		oauth.WithFlowHTTPClient(c.httpClient),
		oauth.WithFlowLogger(c.logger),
	)

	c.session = c.store.StoredSession()

	return c, nil
}

// IsAuthenticated reports whether the client holds an unexpired
// session. It does not hit the network; a revoked-but-unexpired token
// is only discovered on the next request.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil && !c.session.Token.Expired()
}

// User returns the authenticated user, or nil.
func (c *Client) User() *oauth.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	user := c.session.User
	return &user
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *oauth.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	session := *c.session
	return &session
}

// GetAuthURL starts a login attempt and returns the authorization URL
// to open, plus the state token identifying the attempt. Use this when
// the application drives its own redirect handling; pass the eventual
// redirect to HandleCallback.
func (c *Client) GetAuthURL() (authURL, state string, err error) {
	return c.flow.BuildAuthURL()
}

// HandleCallback completes a login attempt started with GetAuthURL.
func (c *Client) HandleCallback(ctx context.Context, callbackURL string) (*oauth.Session, error) {
	session, err := c.flow.HandleCallback(ctx, callbackURL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	return session, nil
}

// Login runs the full interactive flow: start the loopback callback
// server, open the browser, wait for the redirect, exchange the code.
// In a headless environment it fails immediately with an
// *oauth.EnvironmentError; use GetAuthURL and HandleCallback there.
func (c *Client) Login(ctx context.Context) (*oauth.Session, error) {
	if !oauth.CanOpenBrowser() {
		return nil, &oauth.EnvironmentError{Reason: "no display detected, use GetAuthURL and complete the flow manually"}
	}

	ctx, cancel := context.WithTimeout(ctx, oauth.CallbackTimeout)
	defer cancel()

	server, err := oauth.NewCallbackServer(c.cfg.RedirectURI)
	if err != nil {
		return nil, err
	}
	if err := server.Start(ctx); err != nil {
		return nil, err
	}
	defer server.Stop()

	authURL, _, err := c.flow.BuildAuthURL()
	if err != nil {
		return nil, err
	}

	if err := oauth.OpenBrowser(authURL); err != nil {
		c.logger.Warn("could not open browser, open the URL manually", "url", authURL, "error", err)
	}

	callbackURL, err := server.WaitForCallback(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for login callback: %w", err)
	}

	return c.HandleCallback(ctx, callbackURL)
}

// Logout discards the session locally and best-effort revokes it
// server-side. Local state is cleared even when revocation fails.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	c.flow.Logout()

	if session == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth/revoke", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+session.Token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("session revocation failed", "error", err)
		return nil
	}
	resp.Body.Close()
	return nil
}

// accessToken returns a token valid for at least refreshThreshold,
// refreshing first when necessary. Concurrent callers coalesce into a
// single refresh.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil {
		return "", oauth.NewAuthError("not authenticated, call Login first", oauth.ErrNotAuthenticated)
	}

	if !session.Token.ExpiresWithin(refreshThreshold) {
		return session.Token.AccessToken, nil
	}

	result, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		// Another caller may have refreshed while we queued.
		c.mu.RLock()
		current := c.session
		c.mu.RUnlock()
		if current == nil {
			return nil, oauth.NewAuthError("not authenticated, call Login first", oauth.ErrNotAuthenticated)
		}
		if !current.Token.ExpiresWithin(refreshThreshold) {
			return current.Token.AccessToken, nil
		}

		if current.Token.RefreshToken == "" {
			c.clearSession()
			return nil, oauth.NewAuthError("session expired and no refresh token is available, please login again", oauth.ErrRefreshFailed)
		}

		token, err := c.flow.Refresh(ctx, current.Token.RefreshToken)
		if err != nil {
			c.clearSession()
			return nil, err
		}

		c.mu.Lock()
		if c.session != nil {
			c.session.Token = *token
		}
		c.mu.Unlock()

		if err := c.store.UpdateTokens(*token); err != nil {
			c.logger.Debug("failed to persist refreshed tokens", "error", err)
		}

		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

// clearSession drops local session state without a revocation call.
func (c *Client) clearSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.store.Clear()
}
