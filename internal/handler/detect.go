package handler

import (
	"io"
	"net/http"
	"time"

	"agroscan/internal/dto"
	"agroscan/internal/logger"
	"agroscan/internal/service"
)

const (
	maxUploadSize = 10 << 20
	previewURL    = "/api/preview"
)

// DetectHandler handles POST /api/detect with the image in multipart field "file".
func DetectHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Missing file field")
			return
		}
		defer file.Close()

		image, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read upload")
			return
		}

		outcome, err := manager.DetectUpload(r.Context(), sess, image, header.Filename)
		if err != nil {
			inferenceError(w, logger, err)
			return
		}
		outcome.PreviewURL = previewURL
		writeJSON(w, http.StatusOK, outcome)
	}
}

// HealthHandler handles GET /health. The service itself is up whenever it
// answers; apiHealthy reflects the inference service.
func HealthHandler(manager *service.Manager, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := dto.HealthStatus{
			Status: "ok",
			Uptime: time.Since(startedAt).Round(time.Second).String(),
		}

		if health, err := manager.HealthCheck(r.Context()); err == nil {
			status.Inference = health
			status.APIHealthy = health.Healthy()
		}

		writeJSON(w, http.StatusOK, status)
	}
}
