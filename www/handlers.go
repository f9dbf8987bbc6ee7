package www

import (
	"fmt"
	"net/http"
	"sort"

	"taglink/config"
	"taglink/plcman"
)

// handleLoginPage renders the login page.
func (h *Handlers) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// If already logged in, redirect to home
	if username, _, ok := h.sessions.getUser(r); ok && username != "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	h.renderTemplate(w, "login.html", nil)
}

// handleLoginSubmit handles login form submission.
func (h *Handlers) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	if username == "" || password == "" {
		h.renderTemplate(w, "login.html", map[string]interface{}{
			"Error": "Username and password are required",
		})
		return
	}

	user := h.cfg.FindWebUser(username)
	if user == nil {
		h.renderTemplate(w, "login.html", map[string]interface{}{
			"Error": "Invalid username or password",
		})
		return
	}

	if !checkPassword(password, user.PasswordHash) {
		h.renderTemplate(w, "login.html", map[string]interface{}{
			"Error": "Invalid username or password",
		})
		return
	}

	if err := h.sessions.setUser(w, r, user.Username, user.Role); err != nil {
		h.renderTemplate(w, "login.html", map[string]interface{}{
			"Error": "Session error: " + err.Error(),
		})
		return
	}

	if user.MustChangePassword {
		http.Redirect(w, r, "/change-password", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout handles logout.
func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.clear(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleChangePasswordPage renders the password change form.
func (h *Handlers) handleChangePasswordPage(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "change-password"
	h.renderTemplate(w, "change_password.html", data)
}

// handleChangePasswordSubmit updates the current user's password.
func (h *Handlers) handleChangePasswordSubmit(w http.ResponseWriter, r *http.Request) {
	username, _, _ := h.sessions.getUser(r)
	user := h.cfg.FindWebUser(username)
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	current := r.FormValue("current_password")
	newPass := r.FormValue("new_password")
	confirm := r.FormValue("confirm_password")

	fail := func(msg string) {
		data := h.getUserInfo(r)
		data["Page"] = "change-password"
		data["Error"] = msg
		h.renderTemplate(w, "change_password.html", data)
	}

	if !checkPassword(current, user.PasswordHash) {
		fail("Current password is incorrect")
		return
	}
	if len(newPass) < 8 {
		fail("New password must be at least 8 characters")
		return
	}
	if newPass != confirm {
		fail("Passwords do not match")
		return
	}
	if newPass == current {
		fail("New password must differ from the current one")
		return
	}

	hash, err := hashPassword(newPass)
	if err != nil {
		fail("Failed to hash password: " + err.Error())
		return
	}

	h.cfg.Lock()
	h.cfg.UpdateWebUser(username, config.WebUser{
		Username:     username,
		PasswordHash: hash,
		Role:         user.Role,
	})
	if err := h.cfg.UnlockAndSave(h.configPath); err != nil {
		fail("Failed to save config: " + err.Error())
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleDashboard renders the live dashboard.
func (h *Handlers) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := h.getUserInfo(r)
	data["Page"] = "dashboard"
	data["PLCs"] = h.getPLCsData()
	h.renderTemplate(w, "dashboard.html", data)
}

// PLCData holds PLC display data.
type PLCData struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Slot         int    `json:"slot"`
	Status       string `json:"status"`
	StatusClass  string `json:"statusClass"`
	ProductName  string `json:"productName,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Vendor       string `json:"vendor,omitempty"`
	Mode         string `json:"mode,omitempty"`
	Error        string `json:"error,omitempty"`
	Enabled      bool   `json:"enabled"`
	TagCount     int    `json:"tagCount"`
	PollRate     string `json:"pollRate,omitempty"`
}

func (h *Handlers) getPLCsData() []PLCData {
	plcs := h.plcs.ListPLCs()
	result := make([]PLCData, 0, len(plcs))

	for _, plc := range plcs {
		status := plc.GetStatus()
		statusClass := "status-disconnected"
		switch status {
		case plcman.StatusConnected:
			statusClass = "status-connected"
		case plcman.StatusConnecting:
			statusClass = "status-connecting"
		case plcman.StatusError:
			statusClass = "status-error"
		}

		pd := PLCData{
			Name:        plc.Config.Name,
			Address:     plc.Config.Address,
			Slot:        plc.Config.Slot,
			Status:      status.String(),
			StatusClass: statusClass,
			Mode:        plc.GetConnectionMode(),
			Enabled:     plc.Config.Enabled,
			TagCount:    len(plc.Config.Tags),
		}

		if plc.Config.PollRate > 0 {
			pd.PollRate = plc.Config.PollRate.String()
		}

		if info := plc.GetIdentity(); info != nil {
			pd.ProductName = info.ProductName
			pd.SerialNumber = fmt.Sprintf("%08X", info.Serial)
			pd.Vendor = info.VendorName()
		}
		if err := plc.GetError(); err != nil {
			pd.Error = err.Error()
		}

		result = append(result, pd)
	}

	// Sort by name for stable ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}
