package oauth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend simulates a durable backend that errors on every
// operation, like a locked keyring.
type failingBackend struct{}

func (failingBackend) Get(string) (string, error) { return "", errors.New("backend unavailable") }
func (failingBackend) Set(string, string) error   { return errors.New("backend unavailable") }
func (failingBackend) Delete(string) error        { return errors.New("backend unavailable") }

func validSession() *Session {
	return &Session{
		User: User{ID: "user-1", Email: "amira@example.com", Name: "Amira"},
		Token: Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		},
	}
}

func TestCredentialStore_SessionRoundTrip(t *testing.T) {
	store := NewCredentialStore(NewMemoryBackend())

	assert.Nil(t, store.StoredSession())

	session := validSession()
	require.NoError(t, store.StoreSession(session))

	got := store.StoredSession()
	require.NotNil(t, got)
	assert.Equal(t, session.User, got.User)
	assert.Equal(t, session.Token, got.Token)

	store.Clear()
	assert.Nil(t, store.StoredSession())
}

func TestCredentialStore_ExpiredSessionEvicted(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewCredentialStore(backend)

	session := validSession()
	session.Token.ExpiresAt = time.Now().Add(-time.Minute).UnixMilli()
	require.NoError(t, store.StoreSession(session))

	assert.Nil(t, store.StoredSession())

	// The eviction is persistent, not just a filtered read.
	raw, err := backend.Get("prefid_session")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestCredentialStore_UnparsableSession(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set("prefid_session", "not json"))

	store := NewCredentialStore(backend)
	assert.Nil(t, store.StoredSession())
}

func TestCredentialStore_ClearIsIdempotent(t *testing.T) {
	store := NewCredentialStore(NewMemoryBackend())
	store.Clear()
	store.Clear()
	assert.Nil(t, store.StoredSession())
}

func TestCredentialStore_UpdateTokens(t *testing.T) {
	t.Run("replaces tokens of stored session", func(t *testing.T) {
		store := NewCredentialStore(NewMemoryBackend())
		require.NoError(t, store.StoreSession(validSession()))

		next := Token{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(2 * time.Hour).UnixMilli(),
		}
		require.NoError(t, store.UpdateTokens(next))

		got := store.StoredSession()
		require.NotNil(t, got)
		assert.Equal(t, next, got.Token)
		assert.Equal(t, "user-1", got.User.ID, "user record must survive a token update")
	})

	t.Run("no-op without a session", func(t *testing.T) {
		store := NewCredentialStore(NewMemoryBackend())
		require.NoError(t, store.UpdateTokens(Token{AccessToken: "orphan"}))
		assert.Nil(t, store.StoredSession())
	})
}

func TestCredentialStore_PKCEVerifier(t *testing.T) {
	t.Run("take is single use", func(t *testing.T) {
		store := NewCredentialStore(NewMemoryBackend())

		require.NoError(t, store.StorePKCEVerifier("state-1", "verifier-1"))
		assert.Equal(t, "verifier-1", store.TakePKCEVerifier("state-1"))
		assert.Empty(t, store.TakePKCEVerifier("state-1"), "second take must fail")
	})

	t.Run("unknown state", func(t *testing.T) {
		store := NewCredentialStore(NewMemoryBackend())
		assert.Empty(t, store.TakePKCEVerifier("never-issued"))
	})

	t.Run("entries are independent per state", func(t *testing.T) {
		store := NewCredentialStore(NewMemoryBackend())
		require.NoError(t, store.StorePKCEVerifier("state-a", "verifier-a"))
		require.NoError(t, store.StorePKCEVerifier("state-b", "verifier-b"))

		assert.Equal(t, "verifier-b", store.TakePKCEVerifier("state-b"))
		assert.Equal(t, "verifier-a", store.TakePKCEVerifier("state-a"))
	})
}

func TestCredentialStore_MemoryFallback(t *testing.T) {
	t.Run("write and read degrade per call", func(t *testing.T) {
		store := NewCredentialStore(failingBackend{})

		session := validSession()
		require.NoError(t, store.StoreSession(session))

		got := store.StoredSession()
		require.NotNil(t, got, "session must survive in the memory fallback")
		assert.Equal(t, session.User.ID, got.User.ID)
	})

	t.Run("verifier take works through fallback", func(t *testing.T) {
		store := NewCredentialStore(failingBackend{})
		require.NoError(t, store.StorePKCEVerifier("state-1", "verifier-1"))
		assert.Equal(t, "verifier-1", store.TakePKCEVerifier("state-1"))
		assert.Empty(t, store.TakePKCEVerifier("state-1"))
	})

	t.Run("durable write clears stale memory copy", func(t *testing.T) {
		// First write degrades to memory, then the durable backend
		// recovers: the durable value must win over the stale copy.
		durable := NewMemoryBackend()
		store := NewCredentialStore(durable)
		_ = store.memory.Set(sessionKey, "stale")

		require.NoError(t, store.StoreSession(validSession()))

		memValue, _ := store.memory.Get(sessionKey)
		assert.Empty(t, memValue)
		require.NotNil(t, store.StoredSession())
	})

	t.Run("fallback is instance scoped", func(t *testing.T) {
		a := NewCredentialStore(failingBackend{})
		b := NewCredentialStore(failingBackend{})

		require.NoError(t, a.StoreSession(validSession()))
		assert.Nil(t, b.StoredSession(), "stores must not share fallback state")
	})
}
