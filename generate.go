package prefid

import (
	"context"
	"fmt"
	"net/http"
)

// GenerateRequest asks the service for a completion personalized with
// the caller's stored preferences.
type GenerateRequest struct {
	// Prompt is the user's request. Required.
	Prompt string `json:"prompt"`

	// Domains restricts which preference domains the server may weave
	// into the response. Empty means every domain the session's scopes
	// cover.
	Domains []Domain `json:"domains,omitempty"`

	// Context is optional application-supplied context for the
	// completion.
	Context map[string]any `json:"context,omitempty"`
}

// GenerateResult is the personalized completion.
type GenerateResult struct {
	// Content is the generated text.
	Content string `json:"content"`

	// PreferencesUsed lists the domains that influenced the response.
	PreferencesUsed []string `json:"preferences_used,omitempty"`

	// Model identifies the model that produced the content.
	Model string `json:"model,omitempty"`
}

// Generate produces a preference-aware completion.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	var result GenerateResult
	if err := c.doRequest(ctx, http.MethodPost, "/prefid/generate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
