package prefid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Talentxmdu/PREFID-SDK/oauth"
)

// apiErrorResponse is the error body shape of the PrefID API.
type apiErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// doRequest performs an authenticated API call. path is relative to
// the base URL. A non-nil body is JSON-encoded; a non-nil result has
// the response decoded into it, unwrapping a {"data": ...} envelope
// when the server uses one.
//
// A 401 means the token was revoked or invalidated server-side: the
// session is cleared so the next call fails fast with
// NOT_AUTHENTICATED instead of retrying a dead token.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "prefid-go/"+Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.cfg.Debug {
		c.logger.Debug("api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &oauth.AuthError{Message: "request failed", Code: oauth.ErrNetworkError, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if c.cfg.Debug {
		c.logger.Debug("api response", "method", method, "path", path, "status", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.clearSession()
		return oauth.NewAuthError("session is no longer valid, please login again", oauth.ErrSessionRevoked)
	case resp.StatusCode == http.StatusForbidden:
		return &AuthorizationError{Message: errorMessage(data, "insufficient permissions for "+path)}
	case resp.StatusCode >= 400:
		apiErr := &APIError{Status: resp.StatusCode, Code: "API_ERROR", Message: errorMessage(data, resp.Status)}
		var errResp apiErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Code != "" {
			apiErr.Code = errResp.Code
		}
		return apiErr
	}

	if result == nil {
		return nil
	}
	return decodeEnvelope(data, result)
}

// errorMessage extracts the best human-readable message from an error
// body, falling back to fallback.
func errorMessage(data []byte, fallback string) string {
	var errResp apiErrorResponse
	if json.Unmarshal(data, &errResp) == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	return fallback
}

// decodeEnvelope decodes a response body into result, unwrapping a
// {"data": ...} envelope if present.
func decodeEnvelope(data []byte, result any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 {
		data = envelope.Data
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
