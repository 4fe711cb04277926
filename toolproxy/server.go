// Package toolproxy exposes a PrefID client as an MCP server over
// stdio, so LLM agents can read and update user preferences as tools.
package toolproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	prefid "github.com/Talentxmdu/PREFID-SDK"
)

// ServerName identifies the MCP server to connecting clients.
const ServerName = "prefid"

// PreferenceAPI is the slice of the PrefID client the tools need.
// *prefid.Client satisfies it.
type PreferenceAPI interface {
	GetPreferences(ctx context.Context, domain prefid.Domain) (prefid.Preferences, error)
	GetAllPreferences(ctx context.Context) (map[string]prefid.Preferences, error)
	UpdatePreferences(ctx context.Context, domain prefid.Domain, prefs prefid.Preferences) (prefid.Preferences, error)
	Generate(ctx context.Context, req prefid.GenerateRequest) (*prefid.GenerateResult, error)
}

// Server proxies preference operations as MCP tools.
type Server struct {
	api    PreferenceAPI
	mcp    *server.MCPServer
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an MCP server backed by the given client.
func NewServer(api PreferenceAPI, opts ...ServerOption) *Server {
	s := &Server{
		api:    api,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		ServerName,
		prefid.Version,
		server.WithToolCapabilities(false),
	)
	s.registerTools()

	return s
}

// ServeStdio runs the server over stdin/stdout until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer exposes the underlying server, mainly for in-process
// transports in tests.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("get_user_preferences",
		mcp.WithDescription("Get the user's stored preferences for one domain, e.g. food_profile or thinking_style."),
		mcp.WithString("domain",
			mcp.Required(),
			mcp.Description("Preference domain to read."),
		),
	), s.handleGetPreferences)

	s.mcp.AddTool(mcp.NewTool("get_all_preferences",
		mcp.WithDescription("Get every preference domain the current session can read."),
	), s.handleGetAllPreferences)

	s.mcp.AddTool(mcp.NewTool("update_user_preferences",
		mcp.WithDescription("Merge new preference values into one domain. Unmentioned keys keep their stored values."),
		mcp.WithString("domain",
			mcp.Required(),
			mcp.Description("Preference domain to update."),
		),
		mcp.WithObject("preferences",
			mcp.Required(),
			mcp.Description("Key/value pairs to merge into the domain."),
		),
	), s.handleUpdatePreferences)

	s.mcp.AddTool(mcp.NewTool("list_preference_domains",
		mcp.WithDescription("List the predefined preference domains."),
	), s.handleListDomains)

	s.mcp.AddTool(mcp.NewTool("generate_with_preferences",
		mcp.WithDescription("Generate a response personalized with the user's stored preferences."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("What to generate."),
		),
		mcp.WithString("domains",
			mcp.Description("Comma-separated preference domains to use. Empty means all readable domains."),
		),
	), s.handleGenerate)
}

func (s *Server) handleGetPreferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain, err := request.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	prefs, err := s.api.GetPreferences(ctx, prefid.Domain(domain))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get preferences: %v", err)), nil
	}

	return jsonResult(prefs)
}

func (s *Server) handleGetAllPreferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all, err := s.api.GetAllPreferences(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get preferences: %v", err)), nil
	}

	return jsonResult(all)
}

func (s *Server) handleUpdatePreferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain, err := request.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, ok := request.GetArguments()["preferences"].(map[string]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("preferences must be a non-empty object"), nil
	}

	merged, err := s.api.UpdatePreferences(ctx, prefid.Domain(domain), prefid.Preferences(raw))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update preferences: %v", err)), nil
	}

	s.logger.Debug("preferences updated via tool", "domain", domain, "keys", len(raw))
	return jsonResult(merged)
}

func (s *Server) handleListDomains(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := make([]string, 0, len(prefid.Domains()))
	for _, d := range prefid.Domains() {
		names = append(names, string(d))
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := prefid.GenerateRequest{Prompt: prompt}
	if raw, ok := request.GetArguments()["domains"].(string); ok && raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				req.Domains = append(req.Domains, prefid.Domain(name))
			}
		}
	}

	result, err := s.api.Generate(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("generation failed: %v", err)), nil
	}

	return mcp.NewToolResultText(result.Content), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
