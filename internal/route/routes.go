package route

import (
	"net/http"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/handler"
	logging "agroscan/internal/logger"
	"agroscan/internal/middleware"
	"agroscan/internal/service"
	"agroscan/internal/service/identity"
	"agroscan/internal/service/session"
	"agroscan/internal/service/websocket"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Manager   *service.Manager
	Sessions  *session.Manager
	Identity  identity.Provider
	Hub       *websocket.HubService
	StartedAt time.Time
}

// SetupRoutes registers the auth, API and log endpoints and wraps the router
// with CORS for the configured browser origins.
func SetupRoutes(deps Deps, cfg *config.Config, logger *logging.Logger) http.Handler {
	r := mux.NewRouter()
	auth := middleware.AuthMiddleware(deps.Sessions)

	r.HandleFunc("/health", handler.HealthHandler(deps.Manager, deps.StartedAt)).Methods(http.MethodGet)

	// Auth endpoints
	r.HandleFunc("/auth/signin", handler.SignInHandler(deps.Identity, deps.Sessions, logger)).Methods(http.MethodPost)
	r.HandleFunc("/auth/signup", handler.SignUpHandler(deps.Identity, deps.Sessions, logger)).Methods(http.MethodPost)
	r.HandleFunc("/auth/signout", handler.SignOutHandler(deps.Sessions, logger)).Methods(http.MethodPost)

	// API endpoints
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth)
	api.HandleFunc("/me", handler.MeHandler()).Methods(http.MethodGet)
	api.HandleFunc("/detect", handler.DetectHandler(deps.Manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/camera", handler.CameraStatusHandler(logger)).Methods(http.MethodGet)
	api.HandleFunc("/camera/start", handler.CameraStartHandler(deps.Manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/camera/stop", handler.CameraStopHandler(deps.Manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/camera/live", handler.CameraLiveHandler(deps.Manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/camera/capture", handler.CameraCaptureHandler(deps.Manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/detections", handler.SaveDetectionHandler(deps.Manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/detections", handler.HistoryHandler(deps.Manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", handler.DashboardHandler(deps.Manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/preview", handler.PreviewHandler(deps.Manager)).Methods(http.MethodGet)
	api.HandleFunc("/reset", handler.ResetHandler(deps.Manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/view", handler.ViewWebsocketHandler(deps.Hub, handler.NewUpgrader(cfg.AllowedOrigins), logger)).Methods(http.MethodGet)

	// Log endpoints
	logs := r.PathPrefix("/logs").Subrouter()
	logs.Use(auth)
	for level, file := range map[string]string{
		"info":    logging.InfoFile,
		"warning": logging.WarningFile,
		"error":   logging.ErrorFile,
	} {
		logs.HandleFunc("/"+level, handler.ShowLogsHandler(logger, file)).Methods(http.MethodGet)
		logs.HandleFunc("/"+level+"/clear", handler.ClearLogsHandler(logger, file)).Methods(http.MethodPost)
	}

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)
}
