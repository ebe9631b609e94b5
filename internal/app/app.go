package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/logger"
	"agroscan/internal/model"
	"agroscan/internal/repository"
	"agroscan/internal/repository/firebase"
	"agroscan/internal/repository/sqlite"
	"agroscan/internal/route"
	"agroscan/internal/service"
	"agroscan/internal/service/camera"
	"agroscan/internal/service/identity"
	"agroscan/internal/service/inference"
	"agroscan/internal/service/session"
	"agroscan/internal/service/storage"
	"agroscan/internal/service/vision"
	"agroscan/internal/service/websocket"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	hubService *websocket.HubService
	previews   *storage.PreviewStore
	sessions   *session.Manager
	manager    *service.Manager
	server     *http.Server
}

func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewLogger(cfg)
	clk := clock.New()

	provider := identity.NewFirebaseClient(cfg)
	records, db, err := newRecordStore(cfg, provider, clk, log)
	if err != nil {
		return nil, err
	}

	detector := inference.NewClient(cfg)
	annotator := vision.NewAnnotator(cfg.CaptureJPEGQuality)
	webcam := camera.NewExclusive(vision.NewWebcam(log))
	hub := websocket.NewHubService(log)
	previews := storage.NewPreviewStore(cfg, log, clk)

	sessions := session.NewManager(cfg, log, clk, func(user *model.User) *camera.Loop {
		return camera.NewLoop(webcam, detector, log, camera.Options{
			Constraints: camera.Constraints{
				Device: cfg.CameraDevice,
				Width:  cfg.CameraWidth,
				Height: cfg.CameraHeight,
			},
			Interval:       cfg.LiveInterval,
			LiveQuality:    cfg.LiveJPEGQuality,
			CaptureQuality: cfg.CaptureJPEGQuality,
			Clock:          clk,
			Listener:       hub.CameraListener(user.ID),
		})
	})

	mng := service.NewManager(detector, records, previews, annotator, cfg, log, clk)

	router := route.SetupRoutes(route.Deps{
		Manager:   mng,
		Sessions:  sessions,
		Identity:  provider,
		Hub:       hub,
		StartedAt: time.Now(),
	}, cfg, log)

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		hubService: hub,
		previews:   previews,
		sessions:   sessions,
		manager:    mng,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newRecordStore(cfg *config.Config, refresher identity.Refresher, clk clock.Clock, log *logger.Logger) (repository.DetectionRepository, *sqlite.DB, error) {
	if cfg.RecordStore == config.RecordStoreSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewDetectionRepository(db), db, nil
	}
	remote := firebase.NewDetectionRepository(cfg.FirebaseDatabaseURL, nil)
	return identity.NewRefreshingRepository(remote, refresher, clk, log), nil, nil
}

// Run starts the background services and the HTTP server and blocks until
// SIGINT/SIGTERM or a service failure. Every session is closed on the way out,
// which releases any open camera.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Start background services
	g.Go(func() error { return a.hubService.Run(ctx) })
	g.Go(func() error { return a.previews.Run(ctx) })
	g.Go(func() error { return a.sessions.Run(ctx) })

	g.Go(func() error {
		a.logger.Info("Listening on http://localhost:%d", a.config.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	go a.logHealth()

	err := g.Wait()
	a.logger.Info("Shutting down")
	return multierr.Combine(err, a.Close())
}

// Close releases sessions, the local database and log files.
func (a *App) Close() error {
	err := a.sessions.Close()
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return multierr.Append(err, a.logger.Close())
}

func (a *App) logHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := a.manager.HealthCheck(ctx)
	switch {
	case err != nil:
		a.logger.Warning("Inference API offline: %v", err)
	case !health.Healthy():
		a.logger.Warning("Inference API reachable but not ready: %s", health.Status)
	default:
		a.logger.Info("Inference API connected (%s, %d classes)", health.Model, health.Classes)
	}
}
