package oauth

import "time"

// Token holds the credentials issued by the PrefID token endpoint.
// Expiry is tracked as an absolute instant in epoch milliseconds so the
// stored form is unambiguous across processes.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Expired reports whether the token's expiry instant has passed.
func (t *Token) Expired() bool {
	return t.ExpiresAt <= time.Now().UnixMilli()
}

// ExpiresWithin reports whether the token expires before now+d.
// Used for pre-emptive refresh decisions.
func (t *Token) ExpiresWithin(d time.Duration) bool {
	return t.ExpiresAt <= time.Now().Add(d).UnixMilli()
}

// User represents the authenticated PrefID user.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Session pairs the authenticated user with their tokens. A client
// holds at most one session; it exists from a successful callback (or
// store restoration) until logout, store corruption, or a failed
// refresh.
type Session struct {
	User  User  `json:"user"`
	Token Token `json:"token"`
}
