package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"datalink-sync/internal/importer"
	"datalink-sync/internal/session"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithOAuth sets the client used to build the Google consent URL.
func WithOAuth(cfg importer.OAuthConfig) ServerOption {
	return func(s *Server) {
		s.oauth = cfg
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP API over a session.
type Server struct {
	sess           *session.Session
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	oauth          importer.OAuthConfig
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the server and starts its WebSocket hub.
func NewServer(sess *session.Session, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		sess:   sess,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Every session event goes to the WebSocket clients.
	s.unsubEvents = sess.Bus().OnAll(func(ev session.Event) {
		s.wsHub.Broadcast(ev)
	})

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for it.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/form", s.handleAPIGetForm)
	s.mux.HandleFunc("PUT /api/form", s.handleAPIPutForm)
	s.mux.HandleFunc("GET /api/form/{section}", s.handleAPIStoredSection)
	s.mux.HandleFunc("DELETE /api/form/{section}", s.handleAPIClearSection)
	s.mux.HandleFunc("POST /api/form/reset", s.handleAPIReset)
	s.mux.HandleFunc("GET /api/request", s.handleAPIRequest)

	s.mux.HandleFunc("GET /api/device", s.handleAPIDevice)
	s.mux.HandleFunc("GET /api/device/ports", s.handleAPIPorts)
	s.mux.HandleFunc("POST /api/device/connect", s.handleAPIConnect)
	s.mux.HandleFunc("POST /api/device/disconnect", s.handleAPIDisconnect)
	s.mux.HandleFunc("POST /api/device/send", s.handleAPISend)

	s.mux.HandleFunc("GET /api/payloads", s.handleAPIPayloads)
	s.mux.HandleFunc("PUT /api/payloads/{kind}", s.handleAPIPutPayload)
	s.mux.HandleFunc("DELETE /api/payloads/{kind}", s.handleAPIDeletePayload)

	s.mux.HandleFunc("GET /api/auth", s.handleAPIAuth)
	s.mux.HandleFunc("POST /api/auth/token", s.handleAPISignIn)
	s.mux.HandleFunc("DELETE /api/auth", s.handleAPISignOut)

	s.mux.HandleFunc("GET /api/import", s.handleAPISources)
	s.mux.HandleFunc("POST /api/import/{source}/fetch", s.handleAPIFetch)
	s.mux.HandleFunc("GET /api/import/{source}", s.handleAPICached)
	s.mux.HandleFunc("POST /api/import/{source}", s.handleAPIImport)

	s.mux.HandleFunc("GET /api/activity", s.handleAPIActivity)
	s.mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket upgrade cannot carry custom headers, so only /api/
	// is key protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
