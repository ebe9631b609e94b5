package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"agroscan/internal/dto"
	"agroscan/internal/logger"
	"agroscan/internal/middleware"
	"agroscan/internal/model"
	"agroscan/internal/service/identity"
	"agroscan/internal/service/session"
)

type authFunc func(ctx context.Context, email, password string) (*model.User, error)

// SignInHandler handles POST /auth/signin.
func SignInHandler(provider identity.Provider, sessions *session.Manager, logger *logger.Logger) http.HandlerFunc {
	return credentialsHandler(provider.SignIn, sessions, logger, "sign in")
}

// SignUpHandler handles POST /auth/signup.
func SignUpHandler(provider identity.Provider, sessions *session.Manager, logger *logger.Logger) http.HandlerFunc {
	return credentialsHandler(provider.SignUp, sessions, logger, "sign up")
}

func credentialsHandler(authenticate authFunc, sessions *session.Manager, logger *logger.Logger, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.CredentialsRequest
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
		} else {
			req.Email = r.FormValue("email")
			req.Password = r.FormValue("password")
		}

		user, err := authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			logger.Warning("Failed to %s %s: %v", action, req.Email, err)
			writeServiceError(w, logger, err)
			return
		}

		sess := sessions.Create(user)
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookie,
			Value:    sess.Token,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		writeJSON(w, http.StatusOK, dto.SessionResponse{
			Token: sess.Token,
			User:  userResponse(sess),
		})
	}
}

// SignOutHandler handles POST /auth/signout. It tears down the session,
// releasing its camera, and clears the cookie.
func SignOutHandler(sessions *session.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := middleware.SessionToken(r); token != "" {
			if err := sessions.Destroy(token); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
				logger.Warning("Error ending session: %v", err)
			}
		}

		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// MeHandler handles GET /api/me.
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, userResponse(sess))
	}
}

func userResponse(sess *session.Session) dto.UserResponse {
	return dto.UserResponse{
		ID:        sess.User.ID,
		Email:     sess.User.Email,
		ExpiresAt: sess.ExpiresAt,
	}
}
