package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultHTTPTimeout bounds every request the flow engine makes.
const DefaultHTTPTimeout = 30 * time.Second

// Config carries the parameters of one OAuth client registration.
type Config struct {
	// ClientID is the registration issued by the PrefID dashboard.
	ClientID string

	// BaseURL is the API base, without a trailing slash.
	BaseURL string

	// RedirectURI is where the authorization server sends the user
	// back after consent.
	RedirectURI string

	// Scopes are the preference domains requested at login.
	Scopes []string

	// Debug enables request logging.
	Debug bool
}

// Flow drives one login attempt: authorization URL construction,
// callback handling, code exchange, user fetch, and token refresh.
type Flow struct {
	cfg        Config
	store      *CredentialStore
	httpClient *http.Client
	gen        *Generator
	logger     *slog.Logger
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithFlowHTTPClient sets the HTTP client used for token and user
// requests.
func WithFlowHTTPClient(httpClient *http.Client) FlowOption {
	return func(f *Flow) {
		f.httpClient = httpClient
	}
}

// WithFlowLogger sets the flow's logger.
func WithFlowLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) {
		f.logger = logger
	}
}

// WithGenerator replaces the entropy source, making the flow
// deterministic for tests.
func WithGenerator(gen *Generator) FlowOption {
	return func(f *Flow) {
		f.gen = gen
	}
}

// NewFlow creates a flow engine over the given store.
func NewFlow(cfg Config, store *CredentialStore, opts ...FlowOption) *Flow {
	f := &Flow{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		gen:        &Generator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Store returns the credential store the flow persists into.
func (f *Flow) Store() *CredentialStore {
	return f.store
}

// BuildAuthURL constructs the authorization URL for one login attempt
// and returns it together with the state token. The PKCE verifier is
// persisted under the state so the matching callback -- possibly in a
// different process -- can complete the exchange.
func (f *Flow) BuildAuthURL() (authURL, state string, err error) {
	state = f.gen.State()
	pkce := f.gen.GeneratePKCE()

	if err := f.store.StorePKCEVerifier(state, pkce.Verifier); err != nil {
		return "", "", fmt.Errorf("persist PKCE verifier: %w", err)
	}

	u, err := url.Parse(f.cfg.BaseURL + "/oauth/authorize")
	if err != nil {
		return "", "", fmt.Errorf("invalid base URL: %w", err)
	}

	query := u.Query()
	query.Set("client_id", f.cfg.ClientID)
	query.Set("redirect_uri", f.cfg.RedirectURI)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(f.cfg.Scopes, " "))
	query.Set("state", state)
	query.Set("code_challenge", pkce.Challenge)
	query.Set("code_challenge_method", pkce.Method)
	u.RawQuery = query.Encode()

	return u.String(), state, nil
}

// HandleCallback consumes the redirect from the authorization server,
// exchanges the code for tokens, fetches the user, and persists the
// resulting session.
//
// The verifier lookup is a take: a second callback with the same state
// fails before any network I/O, which is the replay/CSRF defense.
func (f *Flow) HandleCallback(ctx context.Context, callbackURL string) (*Session, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, &AuthError{Message: "invalid callback URL", Code: ErrCallbackInvalid, Cause: err}
	}
	query := u.Query()

	if errCode := query.Get("error"); errCode != "" {
		message := query.Get("error_description")
		if message == "" {
			message = errCode
		}
		return nil, NewAuthError(message, ErrCallbackInvalid)
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		return nil, NewAuthError("callback is missing code or state", ErrCallbackInvalid)
	}

	verifier := f.store.TakePKCEVerifier(state)
	if verifier == "" {
		return nil, NewAuthError("unknown or already used state", ErrStateMismatch)
	}

	tokenResp, err := f.tokenRequest(ctx, map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  f.cfg.RedirectURI,
		"client_id":     f.cfg.ClientID,
		"code_verifier": verifier,
	}, ErrExchangeFailed)
	if err != nil {
		return nil, err
	}

	token := tokenResp.token()

	user, err := f.fetchUser(ctx, token.AccessToken)
	if err != nil {
		// Dropping freshly issued tokens here would force the user
		// straight back into a login loop, so degrade to whatever
		// identity the token response carries.
		f.logger.Debug("user profile fetch failed, synthesizing user from token response",
			"error", err)
		user = tokenResp.synthesizeUser()
	}

	session := &Session{User: *user, Token: token}
	if err := f.store.StoreSession(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	return session, nil
}

// Refresh exchanges a refresh token for new tokens. Any failure clears
// the stored session: a client that cannot refresh is logged out, never
// half-authenticated. When the server does not rotate the refresh
// token, the supplied one is carried forward.
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	tokenResp, err := f.tokenRequest(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     f.cfg.ClientID,
	}, ErrRefreshFailed)
	if err != nil {
		f.store.Clear()
		if authErr, ok := err.(*AuthError); ok {
			authErr.Message = authErr.Message + ", please login again"
		}
		return nil, err
	}

	token := tokenResp.token()
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	return &token, nil
}

// Logout removes the persisted session.
func (f *Flow) Logout() {
	f.store.Clear()
}

// tokenResponse is the JSON shape of the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token,omitempty"`
	User         *User  `json:"user,omitempty"`
}

func (r *tokenResponse) token() Token {
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    time.Now().UnixMilli() + r.ExpiresIn*1000,
	}
}

// synthesizeUser builds a minimal user record from the token response:
// the embedded user object when present, otherwise identity claims
// lifted (unverified) from the ID or access token. Claim contents are
// display-only here; authorization always happens server-side.
func (r *tokenResponse) synthesizeUser() *User {
	if r.User != nil {
		user := *r.User
		if user.CreatedAt == "" {
			user.CreatedAt = time.Now().UTC().Format(time.RFC3339)
		}
		return &user
	}

	user := &User{CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	for _, raw := range []string{r.IDToken, r.AccessToken} {
		if raw == "" {
			continue
		}
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			continue
		}
		if sub, ok := claims["sub"].(string); ok && user.ID == "" {
			user.ID = sub
		}
		if email, ok := claims["email"].(string); ok && user.Email == "" {
			user.Email = email
		}
		if name, ok := claims["name"].(string); ok && user.Name == "" {
			user.Name = name
		}
		if user.ID != "" && user.Email != "" {
			break
		}
	}
	return user
}

// oauthErrorResponse is the error shape of the token endpoint.
type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (f *Flow) tokenRequest(ctx context.Context, params map[string]string, failCode AuthErrorCode) (*tokenResponse, error) {
	endpoint := f.cfg.BaseURL + "/oauth/token"

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Message: "failed to create token request", Code: ErrNetworkError, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if f.cfg.Debug {
		f.logger.Debug("token request", "grant_type", params["grant_type"])
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Message: "token request failed", Code: ErrNetworkError, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Message: "failed to read token response", Code: ErrNetworkError, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("token request failed: %s", resp.Status)
		var errResp oauthErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
			if errResp.ErrorDescription != "" {
				message = errResp.ErrorDescription
			}
		}
		return nil, &AuthError{Message: message, Code: failCode, Status: resp.StatusCode}
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(data, &tokenResp); err != nil {
		return nil, &AuthError{Message: "failed to parse token response", Code: failCode, Cause: err}
	}
	if tokenResp.AccessToken == "" {
		return nil, &AuthError{Message: "token response is missing access_token", Code: failCode}
	}

	return &tokenResp, nil
}

func (f *Flow) fetchUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/user/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user fetch failed: %s", resp.Status)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	return &user, nil
}
