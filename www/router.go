// Package www serves the browser UI: login, a live dashboard of PLC
// and tag state over SSE, tag writes, and user management.
package www

import (
	"encoding/json"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"taglink/config"
	"taglink/plcman"
)

// Handlers holds all HTTP handlers for the browser UI.
type Handlers struct {
	cfg        *config.Config
	configPath string
	plcs       *plcman.Manager
	sessions   *sessionStore
	tmpl       *template.Template
	eventHub   *EventHub
}

// newHandlers creates a new handlers instance.
func newHandlers(cfg *config.Config, configPath string, plcs *plcman.Manager) *Handlers {
	h := &Handlers{
		cfg:        cfg,
		configPath: configPath,
		plcs:       plcs,
		sessions:   newSessionStore(cfg.Web.UI.SessionSecret),
		eventHub:   newEventHub(),
	}

	h.tmpl = template.Must(template.New("").Funcs(template.FuncMap{
		"isAdmin": isAdmin,
		"lower":   strings.ToLower,
		"json": func(v interface{}) template.JS {
			b, _ := json.Marshal(v)
			return template.JS(b)
		},
	}).ParseFS(templatesFS, "templates/*.html"))

	return h
}

// NewRouter creates the browser UI router. The returned cleanup detaches
// the PLC manager listeners and stops the event hub.
func NewRouter(cfg *config.Config, configPath string, plcs *plcman.Manager) (chi.Router, func()) {
	h := newHandlers(cfg, configPath, plcs)
	removeListeners := h.setupEventListeners()

	r := chi.NewRouter()

	// Static files (public)
	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Login/logout (public)
	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLoginSubmit)
	r.Post("/logout", h.handleLogout)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Get("/change-password", h.handleChangePasswordPage)
		r.Post("/change-password", h.handleChangePasswordSubmit)

		// Pages
		r.Get("/", h.handleDashboard)

		// SSE endpoint for real-time updates
		r.Get("/events", h.handleSSE)

		// JSON data for the dashboard
		r.Get("/data/plcs", h.handlePLCsData)
		r.Get("/data/tags", h.handleTagsData)
		r.Get("/data/tags/{plc}/*", h.handleTagRead)

		// Actions (admin only)
		r.Group(func(r chi.Router) {
			r.Use(h.adminOnlyMiddleware)

			r.Post("/plcs/{name}/connect", h.handlePLCConnect)
			r.Post("/plcs/{name}/disconnect", h.handlePLCDisconnect)
			r.Post("/data/write", h.handleTagWrite)
		})

		// User management (admin only)
		r.Route("/users", func(r chi.Router) {
			r.Use(h.adminOnlyMiddleware)
			r.Get("/", h.handleUsersPage)
			r.Get("/data", h.handleUsersData)
			r.Post("/", h.handleUserCreate)
			r.Put("/{username}", h.handleUserUpdate)
			r.Delete("/{username}", h.handleUserDelete)
		})
	})

	return r, func() {
		removeListeners()
		h.eventHub.Stop()
	}
}

// isDataRequest reports whether the request came from page script
// rather than browser navigation, so errors return as status codes
// instead of redirects.
func isDataRequest(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "fetch"
}

// authMiddleware checks if the user is authenticated.
func (h *Handlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, _, ok := h.sessions.getUser(r)
		if !ok || username == "" {
			if isDataRequest(r) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		// Verify user still exists in config
		user := h.cfg.FindWebUser(username)
		if user == nil {
			h.sessions.clear(w, r)
			if isDataRequest(r) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		// A user flagged for a password change is held on that page.
		if user.MustChangePassword && r.URL.Path != "/change-password" {
			if isDataRequest(r) {
				http.Error(w, "Password change required", http.StatusForbidden)
				return
			}
			http.Redirect(w, r, "/change-password", http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// adminOnlyMiddleware checks if the user has admin role.
func (h *Handlers) adminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, role, ok := h.sessions.getUser(r)
		if !ok || !isAdmin(role) {
			if isDataRequest(r) {
				http.Error(w, "Forbidden: Admin access required", http.StatusForbidden)
				return
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// renderTemplate renders a template with common data.
func (h *Handlers) renderTemplate(w http.ResponseWriter, name string, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// getUserInfo returns the current user info for templates.
func (h *Handlers) getUserInfo(r *http.Request) map[string]interface{} {
	username, role, _ := h.sessions.getUser(r)
	return map[string]interface{}{
		"Username": username,
		"Role":     role,
		"IsAdmin":  isAdmin(role),
	}
}
