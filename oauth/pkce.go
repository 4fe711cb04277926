package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	mathrand "math/rand/v2"
	"sync"
)

const (
	// alphabet is the character set for state tokens and PKCE code
	// verifiers. All 62 alphanumerics are legal verifier characters
	// under RFC 7636 section 4.1.
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// VerifierLength is the length of generated PKCE code verifiers.
	VerifierLength = 64

	// StateLength is the length of generated state tokens.
	StateLength = 32

	// MethodS256 is the SHA-256 PKCE challenge method.
	MethodS256 = "S256"

	// MethodPlain is the downgraded challenge method where the
	// challenge equals the verifier. It is never produced on platforms
	// where SHA-256 is available, which includes every Go target.
	MethodPlain = "plain"
)

// PKCE is a code verifier/challenge pair for one authorization attempt.
type PKCE struct {
	// Verifier is kept client-side and sent only to the token endpoint.
	Verifier string

	// Challenge is the base64url (no padding) SHA-256 of the verifier,
	// sent in the authorization request.
	Challenge string

	// Method is the code_challenge_method to advertise.
	Method string
}

// Generator produces state tokens and PKCE pairs. The zero value uses
// crypto/rand; tests inject a deterministic Rand to make the flow
// reproducible.
type Generator struct {
	// Rand is the entropy source. Nil means crypto/rand.Reader.
	Rand io.Reader

	// Logger receives the warning when the strong source fails.
	Logger *slog.Logger

	warnOnce sync.Once
}

func (g *Generator) source() io.Reader {
	if g.Rand != nil {
		return g.Rand
	}
	return rand.Reader
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// RandomString returns a string of length n drawn uniformly from the
// 62-character alphanumeric alphabet.
//
// Entropy comes from the configured source (crypto/rand by default).
// If that source fails, generation falls back to math/rand -- a real
// security degradation that is logged at warn level. State tokens and
// verifiers produced from the weak source are predictable to an
// attacker who can observe the process; the fallback only exists so a
// broken entropy device degrades login security instead of making
// login impossible.
func (g *Generator) RandomString(n int) string {
	out := make([]byte, 0, n)
	buf := make([]byte, n)

	for len(out) < n {
		if _, err := io.ReadFull(g.source(), buf); err != nil {
			g.warnOnce.Do(func() {
				g.logger().Warn("strong random source unavailable, falling back to weak PRNG",
					"error", err)
			})
			for len(out) < n {
				out = append(out, alphabet[mathrand.IntN(len(alphabet))])
			}
			break
		}
		for _, b := range buf {
			if len(out) == n {
				break
			}
			// Reject bytes >= 248 so the modulo stays uniform over
			// the 62-character alphabet (248 = 62*4).
			if b >= 248 {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
		}
	}

	return string(out)
}

// State returns a fresh state token for CSRF protection.
func (g *Generator) State() string {
	return g.RandomString(StateLength)
}

// GeneratePKCE returns a fresh verifier/challenge pair. The challenge
// is the S256 transform of the verifier: base64url without padding of
// SHA-256 over the verifier's bytes, always 43 characters.
func (g *Generator) GeneratePKCE() PKCE {
	verifier := g.RandomString(VerifierLength)
	sum := sha256.Sum256([]byte(verifier))
	return PKCE{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		Method:    MethodS256,
	}
}
