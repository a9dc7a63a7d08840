package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/claritylabs/claritycounsel/internal/auth"
	"github.com/claritylabs/claritycounsel/internal/store"
)

// SessionCookieName is the cookie that carries the session token.
const SessionCookieName = "claritycounsel_session"

// RequireAuth validates the session cookie and populates the user id in the
// request context. Unauthenticated requests get a 401 JSON body; the core
// handlers never see a request without a resolved user.
func RequireAuth(sessionStore *store.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}

			sess, err := sessionStore.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				unauthorized(w)
				return
			}

			ctx := auth.WithUserID(r.Context(), sess.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
