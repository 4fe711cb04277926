package prefid

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Domain names a preference namespace. The predefined domains match
// the scopes the PrefID consent screen offers; CustomDomain covers
// application-specific ones.
type Domain string

const (
	DomainGeneralProfile       Domain = "general_profile"
	DomainFoodProfile          Domain = "food_profile"
	DomainTravelProfile        Domain = "travel_profile"
	DomainCodingProfile        Domain = "coding_profile"
	DomainEntertainmentProfile Domain = "entertainment_profile"
	DomainShoppingProfile      Domain = "shopping_profile"
	DomainThinkingStyle        Domain = "thinking_style"
)

// CustomDomain builds a Domain outside the predefined set. The server
// decides whether the session's scopes cover it.
func CustomDomain(name string) Domain {
	return Domain(name)
}

// Domains lists the predefined preference domains.
func Domains() []Domain {
	return []Domain{
		DomainGeneralProfile,
		DomainFoodProfile,
		DomainTravelProfile,
		DomainCodingProfile,
		DomainEntertainmentProfile,
		DomainShoppingProfile,
		DomainThinkingStyle,
	}
}

// Preferences is one domain's preference document. Shapes are
// domain-specific and evolve server-side, so values stay untyped.
type Preferences map[string]any

// GetPreferences returns the caller's preferences for one domain. A
// domain the user has never written to comes back as an empty map,
// not an error.
func (c *Client) GetPreferences(ctx context.Context, domain Domain) (Preferences, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	var prefs Preferences
	path := "/prefid/preferences/" + url.PathEscape(string(domain))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &prefs); err != nil {
		return nil, err
	}
	if prefs == nil {
		prefs = Preferences{}
	}
	return prefs, nil
}

// GetAllPreferences returns every domain the session's scopes cover,
// keyed by domain name.
func (c *Client) GetAllPreferences(ctx context.Context) (map[string]Preferences, error) {
	var all map[string]Preferences
	if err := c.doRequest(ctx, http.MethodGet, "/prefid/preferences", nil, &all); err != nil {
		return nil, err
	}
	if all == nil {
		all = map[string]Preferences{}
	}
	return all, nil
}

// mergeRequest is the write shape of the merge endpoint.
type mergeRequest struct {
	Domain      string      `json:"domain"`
	Preferences Preferences `json:"preferences"`
	Source      string      `json:"source"`
}

// UpdatePreferences merges the given keys into one domain's document
// server-side. Keys not mentioned keep their stored values. Returns
// the full document after the merge.
func (c *Client) UpdatePreferences(ctx context.Context, domain Domain, prefs Preferences) (Preferences, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}
	if len(prefs) == 0 {
		return nil, fmt.Errorf("preferences must not be empty")
	}

	body := mergeRequest{
		Domain:      string(domain),
		Preferences: prefs,
		Source:      "sdk",
	}

	var merged Preferences
	if err := c.doRequest(ctx, http.MethodPost, "/prefid/merge", body, &merged); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = Preferences{}
	}
	return merged, nil
}
