package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"agroscan/internal/dto"
	"agroscan/internal/logger"
	"agroscan/internal/service"
)

// SaveDetectionHandler handles POST /api/detections. An empty body saves the
// result currently on screen.
func SaveDetectionHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}

		var req dto.SaveRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
		}

		record, err := manager.Save(r.Context(), sess, req.Detection)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

// HistoryHandler handles GET /api/detections?limit=N.
func HistoryHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "Invalid limit")
				return
			}
			limit = n
		}

		records, err := manager.History(r.Context(), sess, limit)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, dto.NewDetectionEntries(records))
	}
}

// DashboardHandler handles GET /api/dashboard.
func DashboardHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}

		stats, err := manager.Dashboard(r.Context(), sess)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// PreviewHandler handles GET /api/preview and serves the frozen frame.
func PreviewHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}

		preview, ok := manager.Preview(sess)
		if !ok {
			writeError(w, http.StatusNotFound, "No preview")
			return
		}

		w.Header().Set("Content-Type", preview.ContentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Length", strconv.Itoa(len(preview.Data)))
		w.Write(preview.Data)
	}
}

// ResetHandler handles POST /api/reset.
func ResetHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}
		if err := manager.Reset(sess); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
