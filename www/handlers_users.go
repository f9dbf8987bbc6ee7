package www

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"taglink/config"
)

// handleUsersPage renders the user management page.
func (h *Handlers) handleUsersPage(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "users"
	data["Users"] = h.getUsersData()
	h.renderTemplate(w, "users.html", data)
}

// handleUsersData returns the user list for the page script.
func (h *Handlers) handleUsersData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.getUsersData())
}

// UserData holds user display data.
type UserData struct {
	Username           string `json:"username"`
	Role               string `json:"role"`
	IsAdmin            bool   `json:"isAdmin"`
	MustChangePassword bool   `json:"mustChangePassword"`
}

func (h *Handlers) getUsersData() []UserData {
	users := h.cfg.Web.UI.Users
	result := make([]UserData, 0, len(users))

	for _, u := range users {
		result = append(result, UserData{
			Username:           u.Username,
			Role:               u.Role,
			IsAdmin:            isAdmin(u.Role),
			MustChangePassword: u.MustChangePassword,
		})
	}

	return result
}

// UserRequest represents a user create/update request.
type UserRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role"`
}

// handleUserCreate creates a new user. The new account is flagged to
// change its password on first login.
func (h *Handlers) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "Password is required", http.StatusBadRequest)
		return
	}
	if req.Role != config.RoleAdmin && req.Role != config.RoleViewer {
		http.Error(w, "Role must be 'admin' or 'viewer'", http.StatusBadRequest)
		return
	}

	if h.cfg.FindWebUser(req.Username) != nil {
		http.Error(w, "User already exists", http.StatusConflict)
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		http.Error(w, "Failed to hash password: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.cfg.Lock()
	h.cfg.AddWebUser(config.WebUser{
		Username:           req.Username,
		PasswordHash:       hash,
		Role:               req.Role,
		MustChangePassword: true,
	})

	if err := h.cfg.UnlockAndSave(h.configPath); err != nil {
		http.Error(w, "Failed to save config: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.getUsersData())
}

// handleUserUpdate updates an existing user. Setting a password resets
// the must-change flag so the user picks their own on next login.
func (h *Handlers) handleUserUpdate(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	username, _ = url.PathUnescape(username)

	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Role != config.RoleAdmin && req.Role != config.RoleViewer {
		http.Error(w, "Role must be 'admin' or 'viewer'", http.StatusBadRequest)
		return
	}

	user := h.cfg.FindWebUser(username)
	if user == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	// Demoting the last admin would lock everyone out of management.
	if isAdmin(user.Role) && !isAdmin(req.Role) && h.adminCount() <= 1 {
		http.Error(w, "Cannot demote the last admin user", http.StatusBadRequest)
		return
	}

	updated := config.WebUser{
		Username:           username,
		PasswordHash:       user.PasswordHash,
		Role:               req.Role,
		MustChangePassword: user.MustChangePassword,
	}

	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			http.Error(w, "Failed to hash password: "+err.Error(), http.StatusInternalServerError)
			return
		}
		updated.PasswordHash = hash
		updated.MustChangePassword = true
	}

	h.cfg.Lock()
	h.cfg.UpdateWebUser(username, updated)

	if err := h.cfg.UnlockAndSave(h.configPath); err != nil {
		http.Error(w, "Failed to save config: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.getUsersData())
}

// handleUserDelete deletes a user.
func (h *Handlers) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	username, _ = url.PathUnescape(username)

	// Don't allow deleting yourself
	currentUser, _, _ := h.sessions.getUser(r)
	if currentUser == username {
		http.Error(w, "Cannot delete your own account", http.StatusBadRequest)
		return
	}

	// Check if this is the last admin
	user := h.cfg.FindWebUser(username)
	if user != nil && isAdmin(user.Role) && h.adminCount() <= 1 {
		http.Error(w, "Cannot delete the last admin user", http.StatusBadRequest)
		return
	}

	h.cfg.Lock()
	if !h.cfg.RemoveWebUser(username) {
		h.cfg.Unlock()
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if err := h.cfg.UnlockAndSave(h.configPath); err != nil {
		http.Error(w, "Failed to save config: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.getUsersData())
}

func (h *Handlers) adminCount() int {
	count := 0
	for _, u := range h.cfg.Web.UI.Users {
		if isAdmin(u.Role) {
			count++
		}
	}
	return count
}
