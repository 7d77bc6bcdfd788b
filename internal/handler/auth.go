package handler

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// requireAdmin is middleware that checks HTTP basic credentials against
// the admin accounts.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			h.unauthorized(w, r)
			return
		}

		admin, err := h.store.GetAdmin(r.Context(), username)
		if err != nil {
			slog.Error("failed to get admin", "error", err)
			h.unauthorized(w, r)
			return
		}
		if admin == nil {
			h.unauthorized(w, r)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
			slog.Warn("admin login failed", "username", username, "remote", r.RemoteAddr)
			h.unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Basic realm="mdquiz admin", charset="UTF-8"`)
	writeMessage(w, r, http.StatusUnauthorized, "unauthorized")
}
