// Package oauth implements the PrefID OAuth 2.0 Authorization Code
// flow with PKCE (RFC 7636) and the credential storage it depends on.
//
// Storage Locations:
//   - macOS: Keychain via go-keyring
//   - Linux: libsecret via go-keyring
//   - Windows: Credential Manager via go-keyring
//   - Fallback: ~/.config/prefid/*.json
//
// The package is consumed through the prefid.Client facade; it is
// exported for applications that need to drive the flow directly, for
// example when embedding the callback handling in their own HTTP
// server.
//
// Example:
//
//	store := oauth.NewCredentialStore(oauth.NewDurableBackend("", false))
//	flow := oauth.NewFlow(oauth.Config{ClientID: "my-client"}, store)
//
//	authURL, state, _ := flow.BuildAuthURL()
//	// ... navigate the user to authURL, receive the redirect ...
//	session, err := flow.HandleCallback(ctx, callbackURL)
package oauth
