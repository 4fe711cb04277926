// Package prefid is the Go client for the PrefID preference storage
// service. It handles the OAuth 2.0 authorization-code flow with PKCE,
// keeps the resulting session alive across restarts and token expiry,
// and exposes the preference and generation APIs.
//
// Basic usage:
//
//	client, err := prefid.New(prefid.ClientConfig{ClientID: "my-app"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !client.IsAuthenticated() {
//	    session, err := client.Login(ctx)
//	    ...
//	}
//
//	prefs, err := client.GetPreferences(ctx, prefid.DomainFoodProfile)
//
// Tokens live in the system keyring when one is reachable, otherwise
// in files under ~/.config/prefid. See the oauth subpackage for the
// storage and flow details.
package prefid

// Version is the SDK version, reported in the User-Agent header.
const Version = "0.3.0"
