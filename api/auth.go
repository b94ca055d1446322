package api

import (
	"context"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"simlink/config"
	"simlink/logging"
)

type ctxKey int

const roleKey ctxKey = iota

// authenticate checks HTTP basic credentials against the configured API
// users. With no users configured every request is treated as admin.
func (h *handlers) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		users := h.apiUsers()
		if len(users) == 0 {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey, config.RoleAdmin)))
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="simlink"`)
			h.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		for _, u := range users {
			if u.Username == username && checkPassword(password, u.PasswordHash) {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey, u.Role)))
				return
			}
		}

		logging.DebugLog("api", "rejected credentials for %q from %s", username, r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Basic realm="simlink"`)
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
	})
}

// apiUsers copies the user list under the config lock.
func (h *handlers) apiUsers() []config.WebUser {
	cfg := h.engine.GetConfig()
	cfg.Lock()
	defer cfg.Unlock()
	return append([]config.WebUser(nil), cfg.Web.API.Users...)
}

// requireAdmin rejects requests whose role is not admin.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(roleFrom(r.Context())) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"admin role required"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func roleFrom(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// checkPassword verifies a password against a bcrypt hash.
func checkPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// isAdmin returns true if the role is admin.
func isAdmin(role string) bool {
	return role == config.RoleAdmin
}
