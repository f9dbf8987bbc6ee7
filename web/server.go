// Package web provides the unified HTTP server hosting the REST API
// and the browser UI.
package web

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taglink/api"
	"taglink/config"
	"taglink/logging"
	"taglink/plcman"
	"taglink/www"
)

// Server hosts the REST API under /api and the browser UI at the root.
type Server struct {
	cfg        *config.Config
	configPath string
	plcs       *plcman.Manager
	server     *http.Server
	router     chi.Router
	running    bool
	mu         sync.RWMutex

	// Cleanup functions for SSE event hubs and listeners.
	apiCleanup func()
	uiCleanup  func()
}

// NewServer creates the unified web server. configPath is where UI user
// management persists config changes.
func NewServer(cfg *config.Config, configPath string, plcs *plcman.Manager) *Server {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		plcs:       plcs,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the chi router with all routes.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	if s.cfg.Web.API.Enabled {
		apiRouter, apiCleanup := api.NewRouter(s.plcs)
		s.apiCleanup = apiCleanup
		r.Mount("/api", apiRouter)
	}

	if s.cfg.Web.UI.Enabled {
		uiRouter, uiCleanup := www.NewRouter(s.cfg, s.configPath, s.plcs)
		s.uiCleanup = uiCleanup
		r.Mount("/", uiRouter)
	}

	s.router = r
}

// debugLogWriter adapts logging.DebugLog to an io.Writer so http.Server
// internals log through the same channel as everything else.
type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (n int, err error) {
	logging.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

var _ io.Writer = debugLogWriter("")

// corsMiddleware adds CORS headers for API access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("www"), "", 0),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop halts the HTTP server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	if s.apiCleanup != nil {
		s.apiCleanup()
		s.apiCleanup = nil
	}
	if s.uiCleanup != nil {
		s.uiCleanup()
		s.uiCleanup = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
}

// Reload rebuilds the routes after a configuration change that affects
// which surfaces are enabled.
func (s *Server) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Detach old SSE hubs and listeners before rebuilding routes.
	if s.apiCleanup != nil {
		s.apiCleanup()
		s.apiCleanup = nil
	}
	if s.uiCleanup != nil {
		s.uiCleanup()
		s.uiCleanup = nil
	}

	s.setupRoutes()
	if s.server != nil {
		s.server.Handler = s.router
	}
}
