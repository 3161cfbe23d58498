package auth

import (
	"context"
	"errors"
	"net/http"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
	CookieName     string     = "iothub_token"
)

// errNoSession means the request carried no session cookie
var errNoSession = errors.New("no session cookie")

// anonymous is the operator injected when authentication is disabled
var anonymous = User{Username: "anonymous"}

// Middleware guards the protected API routes with the session cookie
type Middleware struct {
	jwtManager *JWTManager
	disabled   bool
}

// NewMiddleware creates new auth middleware
func NewMiddleware(jwtManager *JWTManager) *Middleware {
	return &Middleware{jwtManager: jwtManager}
}

// NewNoAuthMiddleware lets every request through as an anonymous operator.
// Used with --no-auth on trusted networks.
func NewNoAuthMiddleware() *Middleware {
	return &Middleware{disabled: true}
}

// Disabled reports whether authentication is switched off
func (m *Middleware) Disabled() bool {
	return m.disabled
}

// userFor resolves the operator behind r
func (m *Middleware) userFor(r *http.Request) (*User, error) {
	if m.disabled {
		u := anonymous
		return &u, nil
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, errNoSession
	}
	claims, err := m.jwtManager.ValidateToken(cookie.Value)
	if err != nil {
		return nil, err
	}
	return &User{Username: claims.Username}, nil
}

// RequireAuth rejects requests without a valid session with 401.
// A cookie that fails validation is cleared.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.userFor(r)
		if err != nil {
			if !errors.Is(err, errNoSession) {
				ClearAuthCookie(w)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Unauthorized"}` + "\n"))
			return
		}

		next.ServeHTTP(w, r.WithContext(SetUserContext(r.Context(), user)))
	})
}

// GetUserFromContext returns the operator stored by RequireAuth, or nil
func GetUserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(UserContextKey).(*User)
	return user
}

// SetUserContext adds user to context
func SetUserContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

func sessionCookie(value string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   secure,
	}
}

// SetAuthCookie stores token in an HttpOnly cookie.
// Secure is set when the request arrived over HTTPS, directly or via a proxy.
func SetAuthCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	secure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	http.SetCookie(w, sessionCookie(token, maxAge, secure))
}

// ClearAuthCookie expires the session cookie
func ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, sessionCookie("", -1, false))
}
