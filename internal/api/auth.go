package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/auth"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
)

// rememberDuration is the session length when "remember me" is ticked
const rememberDuration = 30 * 24 * time.Hour

// AuthHandler serves login, logout and websocket tickets
type AuthHandler struct {
	credentials *auth.Credentials
	sessions    *auth.JWTManager
	tickets     *auth.WSTokenStore
	audit       *events.Store
	limiter     *auth.LoginRateLimiter
}

func NewAuthHandler(credentials *auth.Credentials, sessions *auth.JWTManager, tickets *auth.WSTokenStore, audit *events.Store, limiter *auth.LoginRateLimiter) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		sessions:    sessions,
		tickets:     tickets,
		audit:       audit,
		limiter:     limiter,
	}
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// LoginResponse is returned by POST /api/auth/login
type LoginResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	User    *auth.User `json:"user,omitempty"`
}

func loginFailed(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, LoginResponse{Message: msg})
}

func (h *AuthHandler) sessionLength(remember bool) time.Duration {
	if remember {
		return rememberDuration
	}
	return h.sessions.TokenDuration()
}

// Login handles POST /api/auth/login
// Every attempt counts against the caller's address until one succeeds.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)

	ok, wait := h.limiter.Allow(ip)
	if !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		loginFailed(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}

	var req LoginRequest
	switch err := decodeJSON(w, r, &req); {
	case err != nil:
		loginFailed(w, http.StatusBadRequest, "Invalid request body")
		return
	case req.Username == "" || req.Password == "":
		loginFailed(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.credentials.Authenticate(req.Username, req.Password)
	if err != nil {
		h.audit.Add(events.EventLoginFailed, req.Username, ip, false, "")
		loginFailed(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	h.limiter.Reset(ip)

	ttl := h.sessionLength(req.Remember)
	token, err := h.sessions.GenerateTokenWithDuration(user, ttl)
	if err != nil {
		loginFailed(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	auth.SetAuthCookie(w, r, token, int(ttl.Seconds()))
	h.audit.Add(events.EventLogin, user.Username, ip, true, "")

	writeJSON(w, http.StatusOK, LoginResponse{Success: true, User: user})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearAuthCookie(w)
	h.audit.Add(events.EventLogout, username(r), getClientIP(r), true, "")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// requireUser writes 401 and returns nil when the request has no operator
func requireUser(w http.ResponseWriter, r *http.Request) *auth.User {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
	}
	return user
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if user := requireUser(w, r); user != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
	}
}

// WSToken handles GET /api/auth/ws-token
// The ticket is single use and only valid for opening /api/live.
func (h *AuthHandler) WSToken(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	ticket, err := h.tickets.Generate(user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": ticket})
}
