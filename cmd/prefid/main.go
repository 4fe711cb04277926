// prefid is a CLI for the PrefID preference storage service.
//
// Usage:
//
//	prefid login            - Login with OAuth 2.0 + PKCE in the browser
//	prefid logout           - Logout and remove stored credentials
//	prefid whoami           - Show current authenticated user
//	prefid status           - Show authentication and storage status
//	prefid token            - Print the access token (for scripts)
//	prefid prefs get        - Read one preference domain
//	prefid prefs set        - Merge values into one preference domain
//	prefid prefs all        - Read every accessible domain
//	prefid generate         - Generate a preference-aware response
//	prefid tools            - Serve preference tools over MCP stdio
//
// Configuration comes from PREFID_* environment variables; see
// prefid.ConfigFromEnv.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	prefid "github.com/Talentxmdu/PREFID-SDK"
	"github.com/Talentxmdu/PREFID-SDK/oauth"
	"github.com/Talentxmdu/PREFID-SDK/toolproxy"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBright = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "prefid",
	Short: "PrefID CLI - your preferences, portable across AI apps",
	Long: `PrefID CLI

Authenticate with the PrefID preference storage service and read or
update your preference domains from the terminal.

Examples:
  prefid login                              Login in the browser
  prefid whoami                             Show current user
  prefid prefs get food_profile             Read a preference domain
  prefid prefs set food_profile '{"cuisines":["Italian"]}'
  prefid generate "plan a dinner"           Personalized generation
  prefid tools                              Serve MCP tools on stdio`,
	Version:       prefid.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Login with OAuth 2.0 + PKCE in the browser",
	Long: `Login to PrefID.

This will:
1. Start a temporary callback server on localhost
2. Open the authorization page in your browser
3. Exchange the returned code for tokens
4. Securely store your session for future use`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loginCommand(cmd.Context())
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Logout and remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return logoutCommand(cmd.Context())
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show current authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return whoamiCommand()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication and storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the access token",
	Long: `Print the current access token without formatting, suitable for
scripts:

  curl -H "Authorization: Bearer $(prefid token)" ...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tokenCommand(cmd.Context())
	},
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and update preference domains",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <domain>",
	Short: "Read one preference domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prefsGetCommand(cmd.Context(), args[0])
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <domain> <json>",
	Short: "Merge values into one preference domain",
	Long: `Merge a JSON object into one preference domain. Keys not mentioned
keep their stored values.

Example:
  prefid prefs set food_profile '{"cuisines":["Italian"],"spice_level":"medium"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prefsSetCommand(cmd.Context(), args[0], args[1])
	},
}

var prefsAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Read every accessible preference domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return prefsAllCommand(cmd.Context())
	},
}

var generateDomains string

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate a preference-aware response",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return generateCommand(cmd.Context(), strings.Join(args, " "))
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Serve preference tools over MCP stdio",
	Long: `Run an MCP server on stdin/stdout exposing the authenticated user's
preferences as tools (get_user_preferences, update_user_preferences,
generate_with_preferences, ...). Point an MCP-capable agent at this
command to give it access to the user's stored preferences.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return toolsCommand()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output")
	generateCmd.Flags().StringVar(&generateDomains, "domains", "", "Comma-separated preference domains to use")

	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsAllCmd)

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(toolsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// newClient builds a client from PREFID_* environment variables.
func newClient() (*prefid.Client, error) {
	cfg, err := prefid.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Debug = true
	}
	return prefid.New(cfg)
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%sError:%s %s\n", colorRed, colorReset, err.Error())
}

func printSuccess(message string) {
	fmt.Printf("%s[ok]%s %s\n", colorGreen, colorReset, message)
}

func printInfo(message string) {
	fmt.Printf("%s[i]%s %s\n", colorCyan, colorReset, message)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func loginCommand(ctx context.Context) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	if client.IsAuthenticated() {
		user := client.User()
		printSuccess("Already authenticated")
		if user.Email != "" {
			fmt.Printf("  %s%s%s\n", colorGray, user.Email, colorReset)
		}
		return nil
	}

	fmt.Printf("%sStarting PrefID login...%s\n\n", colorBright, colorReset)
	printInfo("Opening your browser to authorize...")

	session, err := client.Login(ctx)
	if err != nil {
		if _, ok := err.(*oauth.EnvironmentError); ok {
			authURL, _, urlErr := client.GetAuthURL()
			if urlErr == nil {
				fmt.Printf("\n%sNo display detected. Open this URL on a machine with a browser:%s\n", colorYellow, colorReset)
				fmt.Printf("\n  %s%s%s\n", colorCyan, authURL, colorReset)
			}
		}
		return fmt.Errorf("login failed: %w", err)
	}

	printSuccess("Login successful!")
	fmt.Printf("\n%sLogged in as:%s\n", colorDim, colorReset)
	if session.User.Name != "" {
		fmt.Printf("  %s%s%s\n", colorBright, session.User.Name, colorReset)
	}
	if session.User.Email != "" {
		fmt.Printf("  %s%s%s\n", colorGray, session.User.Email, colorReset)
	}

	return nil
}

func logoutCommand(ctx context.Context) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	if !client.IsAuthenticated() {
		printInfo("Not logged in")
		return nil
	}

	if err := client.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	printSuccess("Logged out successfully")
	return nil
}

func whoamiCommand() error {
	client, err := newClient()
	if err != nil {
		return err
	}

	user := client.User()
	if user == nil {
		fmt.Printf("%sNot logged in%s\n", colorDim, colorReset)
		fmt.Printf("\nRun %sprefid login%s to authenticate\n", colorCyan, colorReset)
		return nil
	}

	fmt.Printf("%sAuthenticated as:%s\n", colorBright, colorReset)
	if user.Name != "" {
		fmt.Printf("  %sName:%s %s\n", colorGreen, colorReset, user.Name)
	}
	if user.Email != "" {
		fmt.Printf("  %sEmail:%s %s\n", colorGreen, colorReset, user.Email)
	}
	if user.ID != "" {
		fmt.Printf("  %sID:%s %s\n", colorGreen, colorReset, user.ID)
	}

	return nil
}

func statusCommand() error {
	cfg, err := prefid.ConfigFromEnv()
	if err != nil {
		return err
	}

	fmt.Printf("%sPrefID Status%s\n\n", colorBright, colorReset)

	if !cfg.DisableKeyring && oauth.NewKeyringBackend("").Available() {
		fmt.Printf("%sStorage:%s %sSystem Keyring%s\n", colorCyan, colorReset, colorGreen, colorReset)
	} else {
		fb := oauth.NewFileBackend(cfg.StoragePath)
		fmt.Printf("%sStorage:%s %sSecure File%s\n", colorCyan, colorReset, colorGreen, colorReset)
		fmt.Printf("  %sUsing %s with 0600 permissions%s\n", colorDim, fb.Dir(), colorReset)
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	if !client.IsAuthenticated() {
		fmt.Printf("\n%sAuth:%s %sNot authenticated%s\n", colorCyan, colorReset, colorDim, colorReset)
		fmt.Printf("\nRun %sprefid login%s to authenticate\n", colorCyan, colorReset)
		return nil
	}

	fmt.Printf("\n%sAuth:%s %sAuthenticated%s\n", colorCyan, colorReset, colorGreen, colorReset)
	if user := client.User(); user != nil && user.Email != "" {
		fmt.Printf("  %s%s%s\n", colorDim, user.Email, colorReset)
	}

	return nil
}

func tokenCommand(ctx context.Context) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	session := client.Session()
	if session == nil {
		fmt.Printf("%sNo token found%s\n", colorDim, colorReset)
		fmt.Printf("\nRun %sprefid login%s to authenticate\n", colorCyan, colorReset)
		return nil
	}

	// Print without formatting so the output pipes cleanly.
	fmt.Println(session.Token.AccessToken)
	return nil
}

func prefsGetCommand(ctx context.Context, domain string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	prefs, err := client.GetPreferences(ctx, prefid.Domain(domain))
	if err != nil {
		return err
	}
	return printJSON(prefs)
}

func prefsSetCommand(ctx context.Context, domain, rawJSON string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	var prefs prefid.Preferences
	if err := json.Unmarshal([]byte(rawJSON), &prefs); err != nil {
		return fmt.Errorf("preferences must be a JSON object: %w", err)
	}

	merged, err := client.UpdatePreferences(ctx, prefid.Domain(domain), prefs)
	if err != nil {
		return err
	}

	printSuccess("Preferences updated")
	return printJSON(merged)
}

func prefsAllCommand(ctx context.Context) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	all, err := client.GetAllPreferences(ctx)
	if err != nil {
		return err
	}
	return printJSON(all)
}

func generateCommand(ctx context.Context, prompt string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	req := prefid.GenerateRequest{Prompt: prompt}
	for _, name := range strings.Split(generateDomains, ",") {
		if name = strings.TrimSpace(name); name != "" {
			req.Domains = append(req.Domains, prefid.Domain(name))
		}
	}

	result, err := client.Generate(ctx, req)
	if err != nil {
		return err
	}

	fmt.Println(result.Content)
	if len(result.PreferencesUsed) > 0 {
		fmt.Printf("\n%sPersonalized with: %s%s\n", colorDim, strings.Join(result.PreferencesUsed, ", "), colorReset)
	}
	return nil
}

func toolsCommand() error {
	client, err := newClient()
	if err != nil {
		return err
	}

	if !client.IsAuthenticated() {
		return fmt.Errorf("not logged in, run %sprefid login%s first", colorCyan, colorReset)
	}

	return toolproxy.NewServer(client).ServeStdio()
}
