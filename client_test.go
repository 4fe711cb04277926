package prefid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Talentxmdu/PREFID-SDK/oauth"
)

// mockAPI fakes the PrefID API: token endpoint plus the preference and
// generation routes.
type mockAPI struct {
	*httptest.Server

	refreshCount  atomic.Int64
	refreshStatus int
	prefsStatus   int
	lastMergeBody map[string]any
	mu            sync.Mutex
}

func newMockAPI(t *testing.T) *mockAPI {
	t.Helper()

	m := &mockAPI{
		refreshStatus: http.StatusOK,
		prefsStatus:   http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		m.refreshCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if m.refreshStatus != http.StatusOK {
			w.WriteHeader(m.refreshStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-refreshed",
			"refresh_token": "refresh-rotated",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/prefid/preferences", func(w http.ResponseWriter, r *http.Request) {
		if m.prefsStatus != http.StatusOK {
			w.WriteHeader(m.prefsStatus)
			json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"food_profile":   map[string]any{"cuisines": []string{"Italian"}},
				"thinking_style": map[string]any{"depth": "detailed"},
			},
		})
	})
	mux.HandleFunc("/prefid/preferences/", func(w http.ResponseWriter, r *http.Request) {
		if m.prefsStatus != http.StatusOK {
			w.WriteHeader(m.prefsStatus)
			json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"cuisines": []string{"Italian"}},
		})
	})
	mux.HandleFunc("/prefid/merge", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		m.mu.Lock()
		m.lastMergeBody = body
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": body["preferences"]})
	})
	mux.HandleFunc("/prefid/generate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content":          "Tonight: cacio e pepe.",
			"preferences_used": []string{"food_profile"},
			"model":            "prefid-1",
		})
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// seedSession writes a session directly into a backend, simulating a
// prior login.
func seedSession(t *testing.T, backend oauth.Backend, expiresIn time.Duration) {
	t.Helper()
	session := oauth.Session{
		User: oauth.User{ID: "user-1", Email: "amira@example.com"},
		Token: oauth.Token{
			AccessToken:  "access-stored",
			RefreshToken: "refresh-stored",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(expiresIn).UnixMilli(),
		},
	}
	data, err := json.Marshal(session)
	require.NoError(t, err)
	require.NoError(t, backend.Set("prefid_session", string(data)))
}

func newTestClient(t *testing.T, baseURL string, backend oauth.Backend) *Client {
	t.Helper()
	client, err := New(ClientConfig{
		ClientID: "test-client",
		BaseURL:  baseURL,
	}, WithBackend(backend))
	require.NoError(t, err)
	return client
}

func TestNew(t *testing.T) {
	t.Run("requires client ID", func(t *testing.T) {
		_, err := New(ClientConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client ID")
	})

	t.Run("applies defaults", func(t *testing.T) {
		client, err := New(ClientConfig{ClientID: "c"}, WithBackend(oauth.NewMemoryBackend()))
		require.NoError(t, err)
		assert.Equal(t, DefaultBaseURL, client.cfg.BaseURL)
		assert.Equal(t, DefaultRedirectURI, client.cfg.RedirectURI)
		assert.Equal(t, DefaultScopes, client.cfg.Scopes)
	})

	t.Run("strips trailing slash from base URL", func(t *testing.T) {
		client, err := New(ClientConfig{
			ClientID: "c",
			BaseURL:  "https://pref-id.example/api/",
		}, WithBackend(oauth.NewMemoryBackend()))
		require.NoError(t, err)
		assert.Equal(t, "https://pref-id.example/api", client.cfg.BaseURL)
	})

	t.Run("restores persisted session", func(t *testing.T) {
		backend := oauth.NewMemoryBackend()
		seedSession(t, backend, time.Hour)

		client := newTestClient(t, "https://pref-id.example/api", backend)
		require.True(t, client.IsAuthenticated())

		user := client.User()
		require.NotNil(t, user)
		assert.Equal(t, "amira@example.com", user.Email)
	})

	t.Run("discards expired persisted session", func(t *testing.T) {
		backend := oauth.NewMemoryBackend()
		seedSession(t, backend, -time.Minute)

		client := newTestClient(t, "https://pref-id.example/api", backend)
		assert.False(t, client.IsAuthenticated())
		assert.Nil(t, client.User())
	})
}

func TestAccessToken_RefreshWindow(t *testing.T) {
	t.Run("no refresh with plenty of lifetime left", func(t *testing.T) {
		srv := newMockAPI(t)
		backend := oauth.NewMemoryBackend()
		seedSession(t, backend, time.Hour)
		client := newTestClient(t, srv.URL, backend)

		token, err := client.accessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-stored", token)
		assert.EqualValues(t, 0, srv.refreshCount.Load())
	})

	t.Run("refreshes inside the five minute window", func(t *testing.T) {
		srv := newMockAPI(t)
		backend := oauth.NewMemoryBackend()
		seedSession(t, backend, 4*time.Minute)
		client := newTestClient(t, srv.URL, backend)

		token, err := client.accessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-refreshed", token)
		assert.EqualValues(t, 1, srv.refreshCount.Load())

		// The refreshed tokens are persisted.
		raw, err := backend.Get("prefid_session")
		require.NoError(t, err)
		var session oauth.Session
		require.NoError(t, json.Unmarshal([]byte(raw), &session))
		assert.Equal(t, "access-refreshed", session.Token.AccessToken)
		assert.Equal(t, "refresh-rotated", session.Token.RefreshToken)

		// And the next call uses them without another refresh.
		token, err = client.accessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-refreshed", token)
		assert.EqualValues(t, 1, srv.refreshCount.Load())
	})

	t.Run("refresh failure logs the client out", func(t *testing.T) {
		srv := newMockAPI(t)
		srv.refreshStatus = http.StatusUnauthorized
		backend := oauth.NewMemoryBackend()
		seedSession(t, backend, 4*time.Minute)
		client := newTestClient(t, srv.URL, backend)

		_, err := client.accessToken(context.Background())
		var authErr *oauth.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, oauth.ErrRefreshFailed, authErr.Code)

		assert.False(t, client.IsAuthenticated())
		raw, err := backend.Get("prefid_session")
		require.NoError(t, err)
		assert.Empty(t, raw, "failed refresh must clear the stored session")
	})

	t.Run("not authenticated", func(t *testing.T) {
		srv := newMockAPI(t)
		client := newTestClient(t, srv.URL, oauth.NewMemoryBackend())

		_, err := client.accessToken(context.Background())
		var authErr *oauth.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, oauth.ErrNotAuthenticated, authErr.Code)
	})
}

func TestAccessToken_ConcurrentRefreshCoalesces(t *testing.T) {
	srv := newMockAPI(t)
	backend := oauth.NewMemoryBackend()
	seedSession(t, backend, 4*time.Minute)
	client := newTestClient(t, srv.URL, backend)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := client.accessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "access-refreshed", token)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, srv.refreshCount.Load(), "concurrent callers must share one refresh")
}

func TestDoRequest_ErrorMapping(t *testing.T) {
	t.Run("401 revokes the session", func(t *testing.T) {
		srv := newMockAPI(t)
		srv.prefsStatus = http.StatusUnauthorized
		backend := oauth.NewMemoryBackend()
		seedSession(t, backend, time.Hour)
		client := newTestClient(t, srv.URL, backend)

		_, err := client.GetPreferences(context.Background(), DomainFoodProfile)
		var authErr *oauth.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, oauth.ErrSessionRevoked, authErr.Code)

		// Next call fails fast without touching the network.
		assert.False(t, client.IsAuthenticated())
		_, err = client.GetPreferences(context.Background(), DomainFoodProfile)
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, oauth.ErrNotAuthenticated, authErr.Code)
	})

	t.Run("403 is an authorization error, session survives", func(t *testing.T) {
		srv := newMockAPI(t)
		srv.prefsStatus = http.StatusForbidden
		backend := oauth.NewMemoryBackend()
		seedSession(t, backend, time.Hour)
		client := newTestClient(t, srv.URL, backend)

		_, err := client.GetPreferences(context.Background(), DomainFoodProfile)
		var authzErr *AuthorizationError
		require.ErrorAs(t, err, &authzErr)
		assert.True(t, client.IsAuthenticated())
	})

	t.Run("other statuses become APIError", func(t *testing.T) {
		srv := newMockAPI(t)
		srv.prefsStatus = http.StatusServiceUnavailable
		backend := oauth.NewMemoryBackend()
		seedSession(t, backend, time.Hour)
		client := newTestClient(t, srv.URL, backend)

		_, err := client.GetPreferences(context.Background(), DomainFoodProfile)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
		assert.Equal(t, "API_ERROR", apiErr.Code)
		assert.Equal(t, "nope", apiErr.Message)
	})
}

func TestGetPreferences(t *testing.T) {
	srv := newMockAPI(t)
	backend := oauth.NewMemoryBackend()
	seedSession(t, backend, time.Hour)
	client := newTestClient(t, srv.URL, backend)

	prefs, err := client.GetPreferences(context.Background(), DomainFoodProfile)
	require.NoError(t, err)
	assert.Equal(t, []any{"Italian"}, prefs["cuisines"])

	t.Run("empty domain rejected locally", func(t *testing.T) {
		_, err := client.GetPreferences(context.Background(), "")
		require.Error(t, err)
	})
}

func TestGetAllPreferences(t *testing.T) {
	srv := newMockAPI(t)
	backend := oauth.NewMemoryBackend()
	seedSession(t, backend, time.Hour)
	client := newTestClient(t, srv.URL, backend)

	all, err := client.GetAllPreferences(context.Background())
	require.NoError(t, err)
	require.Contains(t, all, "food_profile")
	require.Contains(t, all, "thinking_style")
	assert.Equal(t, "detailed", all["thinking_style"]["depth"])
}

func TestUpdatePreferences(t *testing.T) {
	srv := newMockAPI(t)
	backend := oauth.NewMemoryBackend()
	seedSession(t, backend, time.Hour)
	client := newTestClient(t, srv.URL, backend)

	merged, err := client.UpdatePreferences(context.Background(), DomainFoodProfile, Preferences{
		"cuisines": []string{"Italian", "Thai"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"Italian", "Thai"}, merged["cuisines"])

	srv.mu.Lock()
	body := srv.lastMergeBody
	srv.mu.Unlock()
	assert.Equal(t, "food_profile", body["domain"])
	assert.Equal(t, "sdk", body["source"])

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := client.UpdatePreferences(context.Background(), DomainFoodProfile, nil)
		require.Error(t, err)
		_, err = client.UpdatePreferences(context.Background(), "", Preferences{"k": "v"})
		require.Error(t, err)
	})
}

func TestGenerate(t *testing.T) {
	srv := newMockAPI(t)
	backend := oauth.NewMemoryBackend()
	seedSession(t, backend, time.Hour)
	client := newTestClient(t, srv.URL, backend)

	result, err := client.Generate(context.Background(), GenerateRequest{
		Prompt:  "plan dinner",
		Domains: []Domain{DomainFoodProfile},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tonight: cacio e pepe.", result.Content)
	assert.Equal(t, []string{"food_profile"}, result.PreferencesUsed)
	assert.Equal(t, "prefid-1", result.Model)

	t.Run("requires a prompt", func(t *testing.T) {
		_, err := client.Generate(context.Background(), GenerateRequest{})
		require.Error(t, err)
	})
}

func TestLogoutClearsLocalState(t *testing.T) {
	srv := newMockAPI(t)
	backend := oauth.NewMemoryBackend()
	seedSession(t, backend, time.Hour)
	client := newTestClient(t, srv.URL, backend)
	require.True(t, client.IsAuthenticated())

	require.NoError(t, client.Logout(context.Background()))
	assert.False(t, client.IsAuthenticated())

	raw, err := backend.Get("prefid_session")
	require.NoError(t, err)
	assert.Empty(t, raw)

	// Logout when already logged out is fine.
	require.NoError(t, client.Logout(context.Background()))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PREFID_CLIENT_ID", "env-client")
	t.Setenv("PREFID_BASE_URL", "https://pref-id.example/api")
	t.Setenv("PREFID_SCOPES", "food_profile,thinking_style")
	t.Setenv("PREFID_DEBUG", "true")
	t.Setenv("PREFID_NO_KEYRING", "true")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-client", cfg.ClientID)
	assert.Equal(t, "https://pref-id.example/api", cfg.BaseURL)
	assert.Equal(t, []string{"food_profile", "thinking_style"}, cfg.Scopes)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.DisableKeyring)
}
