package oauth

import (
	"encoding/json"
	"log/slog"
)

const (
	// sessionKey is the storage key for the single session record.
	sessionKey = "prefid_session"

	// pkceKeyPrefix prefixes the short-lived state -> verifier
	// correlation entries.
	pkceKeyPrefix = "prefid_pkce_"
)

// CredentialStore persists the session record and the PKCE correlation
// entries. It wraps a durable backend with an instance-scoped memory
// fallback: every operation tries the durable backend first and
// degrades to memory for that call only, so a transient backend
// failure never crashes the flow and never poisons later calls.
type CredentialStore struct {
	durable Backend
	memory  *MemoryBackend
	logger  *slog.Logger
}

// CredentialStoreOption configures a CredentialStore.
type CredentialStoreOption func(*CredentialStore)

// WithStoreLogger sets the logger used for degradation warnings.
func WithStoreLogger(logger *slog.Logger) CredentialStoreOption {
	return func(s *CredentialStore) {
		s.logger = logger
	}
}

// NewCredentialStore creates a store over the given durable backend.
func NewCredentialStore(durable Backend, opts ...CredentialStoreOption) *CredentialStore {
	s := &CredentialStore{
		durable: durable,
		memory:  NewMemoryBackend(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CredentialStore) get(key string) string {
	value, err := s.durable.Get(key)
	if err != nil {
		s.logger.Debug("durable credential backend unavailable, reading memory fallback",
			"key", key, "error", err)
		value, _ = s.memory.Get(key)
		return value
	}
	if value == "" {
		// A previous write may have degraded to memory.
		value, _ = s.memory.Get(key)
	}
	return value
}

func (s *CredentialStore) set(key, value string) {
	if err := s.durable.Set(key, value); err != nil {
		s.logger.Debug("durable credential backend unavailable, writing memory fallback",
			"key", key, "error", err)
		_ = s.memory.Set(key, value)
		return
	}
	// Durable write succeeded; drop any stale fallback copy.
	_ = s.memory.Delete(key)
}

func (s *CredentialStore) delete(key string) {
	if err := s.durable.Delete(key); err != nil {
		s.logger.Debug("durable credential backend unavailable during delete",
			"key", key, "error", err)
	}
	_ = s.memory.Delete(key)
}

// StoreSession persists the session, overwriting any prior record.
func (s *CredentialStore) StoreSession(session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.set(sessionKey, string(data))
	return nil
}

// StoredSession returns the persisted session, or nil when the record
// is absent, unreadable, or unparsable. An expired session also
// returns nil and is evicted as a side effect.
func (s *CredentialStore) StoredSession() *Session {
	raw := s.get(sessionKey)
	if raw == "" {
		return nil
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		s.logger.Debug("stored session is unparsable", "error", err)
		return nil
	}

	if session.Token.Expired() {
		s.Clear()
		return nil
	}

	return &session
}

// Clear removes the persisted session. Idempotent.
func (s *CredentialStore) Clear() {
	s.delete(sessionKey)
}

// UpdateTokens replaces the tokens of the stored session and persists
// the result. No-op when no session is stored.
func (s *CredentialStore) UpdateTokens(token Token) error {
	session := s.StoredSession()
	if session == nil {
		return nil
	}
	session.Token = token
	return s.StoreSession(session)
}

// StorePKCEVerifier records the verifier for a pending authorization
// attempt, keyed by its state token.
func (s *CredentialStore) StorePKCEVerifier(state, verifier string) error {
	s.set(pkceKeyPrefix+state, verifier)
	return nil
}

// TakePKCEVerifier returns the verifier stored under state and deletes
// it. The delete happens even when only the memory fallback is
// reachable: an entry is consumable exactly once, which is what makes
// a replayed or forged callback fail.
func (s *CredentialStore) TakePKCEVerifier(state string) string {
	key := pkceKeyPrefix + state
	verifier := s.get(key)
	s.delete(key)
	return verifier
}
