package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"agroscan/internal/dto"
	"agroscan/internal/service/session"
)

// SessionCookie is the cookie the sign-in handler sets.
const SessionCookie = "session"

// AuthMiddleware resolves the session from the "session" cookie or a bearer
// token and stores it in the request context. Unknown or expired tokens get 401.
func AuthMiddleware(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			sess, err := sessions.Get(token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
		})
	}
}

// SessionToken reads the token from a bearer header, the session cookie or
// the "token" query parameter, in that order.
func SessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	// Browsers cannot set headers on websocket handshakes.
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "Unauthorized"})
}
