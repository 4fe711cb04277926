package prefid

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultBaseURL is the hosted PrefID API.
	DefaultBaseURL = "https://pref-id.vercel.app/api"

	// DefaultRedirectURI is where the loopback callback server listens
	// during an interactive login.
	DefaultRedirectURI = "http://localhost:8787/callback"
)

// DefaultScopes is the scope set requested when none is configured.
var DefaultScopes = []string{"general_profile"}

// ClientConfig configures a Client. Only ClientID is required.
type ClientConfig struct {
	// ClientID is the OAuth client registration. Required.
	ClientID string `env:"PREFID_CLIENT_ID"`

	// BaseURL overrides the API base. Trailing slashes are stripped.
	BaseURL string `env:"PREFID_BASE_URL"`

	// RedirectURI overrides the OAuth redirect target.
	RedirectURI string `env:"PREFID_REDIRECT_URI"`

	// Scopes are the preference domains requested at login.
	Scopes []string `env:"PREFID_SCOPES" envSeparator:","`

	// StoragePath overrides the file-backend directory used when the
	// system keyring is unavailable.
	StoragePath string `env:"PREFID_STORAGE_PATH"`

	// DisableKeyring forces file storage even when a keyring exists.
	DisableKeyring bool `env:"PREFID_NO_KEYRING"`

	// Debug enables request logging on the default logger.
	Debug bool `env:"PREFID_DEBUG"`
}

// ConfigFromEnv builds a ClientConfig from PREFID_* environment
// variables.
func ConfigFromEnv() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// withDefaults returns a copy with unset fields filled in and the base
// URL normalized.
func (c ClientConfig) withDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	}
	return c
}

func (c ClientConfig) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required (set ClientConfig.ClientID or PREFID_CLIENT_ID)")
	}
	return nil
}
