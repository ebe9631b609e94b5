package handler

import (
	"net/http"

	"agroscan/internal/dto"
	"agroscan/internal/logger"
	"agroscan/internal/service"
)

// CameraStartHandler handles POST /api/camera/start.
func CameraStartHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}
		if err := manager.StartCamera(r.Context(), sess); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Camera.Status())
	}
}

// CameraStopHandler handles POST /api/camera/stop.
func CameraStopHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}
		if err := manager.StopCamera(sess); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Camera.Status())
	}
}

// CameraLiveHandler handles POST /api/camera/live and toggles live detection.
func CameraLiveHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}
		live, err := manager.ToggleLive(r.Context(), sess)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, dto.LiveResponse{Live: live})
	}
}

// CameraCaptureHandler handles POST /api/camera/capture.
func CameraCaptureHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}
		outcome, err := manager.Capture(r.Context(), sess)
		if err != nil {
			inferenceError(w, logger, err)
			return
		}
		if outcome.Detection != nil {
			outcome.PreviewURL = previewURL
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

// CameraStatusHandler handles GET /api/camera.
func CameraStatusHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}
		if sess.Camera == nil {
			writeServiceError(w, logger, service.ErrNoCamera)
			return
		}
		writeJSON(w, http.StatusOK, sess.Camera.Status())
	}
}
