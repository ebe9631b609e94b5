package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"agroscan/internal/dto"
	"agroscan/internal/logger"
	"agroscan/internal/repository"
	"agroscan/internal/service"
	"agroscan/internal/service/camera"
	"agroscan/internal/service/identity"
	"agroscan/internal/service/inference"
	"agroscan/internal/service/session"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message})
}

// writeServiceError maps an error from the service layer to a status and a
// user-facing message.
func writeServiceError(w http.ResponseWriter, logger *logger.Logger, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeError(w, status, message)
}

func classifyError(err error) (int, string) {
	var (
		devErr      *camera.DeviceError
		apiErr      *inference.APIError
		detectErr   *service.DetectionError
		saveErr     *service.SaveError
		providerErr *identity.ProviderError
	)

	switch {
	case errors.As(err, &devErr):
		return deviceStatus(devErr), devErr.Message()
	case errors.Is(err, camera.ErrNotActive), errors.Is(err, service.ErrNoCamera):
		return http.StatusConflict, camera.UserMessage(camera.ErrNotActive)

	case errors.As(err, &detectErr):
		return http.StatusBadGateway, detectErr.Error()
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "Error: " + apiErr.Error()
	case errors.Is(err, inference.ErrEmptyImage):
		return http.StatusBadRequest, "Error: " + err.Error()

	case errors.As(err, &saveErr):
		return http.StatusBadGateway, saveErr.Error()
	case errors.Is(err, service.ErrNothingToSave):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, repository.ErrNotAuthorized):
		return http.StatusUnauthorized, err.Error()

	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrTokenRevoked):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, identity.ErrTooManyAttempts):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, identity.ErrMissingCredentials),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrEmailExists):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &providerErr):
		return http.StatusBadGateway, err.Error()

	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		return http.StatusUnauthorized, "Unauthorized"
	}

	return http.StatusInternalServerError, err.Error()
}

func deviceStatus(err *camera.DeviceError) int {
	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, camera.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, camera.ErrDeviceBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// inferenceError is used where any unclassified failure came from the
// inference round trip, e.g. a network error.
func inferenceError(w http.ResponseWriter, logger *logger.Logger, err error) {
	status, _ := classifyError(err)
	if status == http.StatusInternalServerError {
		logger.Error("Inference request failed: %v", err)
		writeError(w, http.StatusBadGateway, "Error: "+err.Error())
		return
	}
	writeServiceError(w, logger, err)
}

// currentSession returns the session put in the context by the auth middleware.
func currentSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return sess, ok
}
