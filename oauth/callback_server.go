package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultCallbackPort is the port the loopback callback server binds
// when none is given.
const DefaultCallbackPort = 8787

// CallbackTimeout bounds how long a login waits for the user to finish
// in the browser.
const CallbackTimeout = 10 * time.Minute

const callbackSuccessHTML = `<!DOCTYPE html>
<html>
<head><title>Login complete</title>
<style>
body { font-family: -apple-system, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #fafafa; }
.card { text-align: center; padding: 2rem 3rem; background: white; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,0.1); }
h1 { font-size: 1.25rem; color: #16a34a; }
p { color: #555; }
</style>
</head>
<body>
<div class="card">
<h1>Login complete</h1>
<p>You can close this window and return to your terminal.</p>
</div>
</body>
</html>`

const callbackErrorHTML = `<!DOCTYPE html>
<html>
<head><title>Login failed</title>
<style>
body { font-family: -apple-system, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #fafafa; }
.card { text-align: center; padding: 2rem 3rem; background: white; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,0.1); }
h1 { font-size: 1.25rem; color: #dc2626; }
p { color: #555; }
</style>
</head>
<body>
<div class="card">
<h1>Login failed</h1>
<p>You can close this window and try again from your terminal.</p>
</div>
</body>
</html>`

// CallbackServer is a temporary loopback HTTP server that receives one
// OAuth redirect and then shuts down.
type CallbackServer struct {
	port      int
	path      string
	server    *http.Server
	listener  net.Listener
	resultCh  chan string
	errorCh   chan error
	once      sync.Once
	serverURL string
}

// NewCallbackServer creates a callback server for the given redirect
// URI. The server binds the URI's port on 127.0.0.1 and serves its
// path.
func NewCallbackServer(redirectURI string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}

	port := DefaultCallbackPort
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
			return nil, fmt.Errorf("invalid redirect URI port %q", p)
		}
	}

	path := u.Path
	if path == "" {
		path = "/callback"
	}

	return &CallbackServer{
		port:     port,
		path:     path,
		resultCh: make(chan string, 1),
		errorCh:  make(chan error, 1),
	}, nil
}

// Start binds the listener and begins serving. The server stops when
// the context is cancelled or after the first callback.
func (s *CallbackServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.serverURL = fmt.Sprintf("http://localhost:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// WaitForCallback blocks until the redirect arrives, the context is
// cancelled, or the server fails. It returns the full callback URL as
// received, ready for Flow.HandleCallback.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (string, error) {
	select {
	case callbackURL := <-s.resultCh:
		return callbackURL, nil
	case err := <-s.errorCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

// processCallback runs exactly once via sync.Once.
func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if r.URL.Query().Get("error") != "" {
		fmt.Fprint(w, callbackErrorHTML)
	} else {
		fmt.Fprint(w, callbackSuccessHTML)
	}

	select {
	case s.resultCh <- s.serverURL + r.URL.String():
	default:
	}

	// Give the response time to flush before tearing down.
	go func() {
		time.Sleep(1 * time.Second)
		s.Stop()
	}()
}

// Stop gracefully shuts down the server. Safe to call more than once.
func (s *CallbackServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// RedirectURI returns the URI the authorization server should redirect
// to, reflecting the actual bound port.
func (s *CallbackServer) RedirectURI() string {
	return s.serverURL + s.path
}

// Port returns the port the server is listening on.
func (s *CallbackServer) Port() int {
	return s.port
}
