package service

import (
	"context"
	"errors"
	"fmt"

	"agroscan/internal/config"
	"agroscan/internal/dto"
	"agroscan/internal/logger"
	"agroscan/internal/model"
	"agroscan/internal/repository"
	"agroscan/internal/service/camera"
	"agroscan/internal/service/inference"
	"agroscan/internal/service/session"
	"agroscan/internal/service/stats"
	"agroscan/internal/service/storage"

	"github.com/benbjohnson/clock"
)

const (
	noDetectionUpload  = "No diseases detected above confidence thresholds"
	noDetectionCapture = "No diseases detected in captured frame"
)

var (
	ErrDetectionFailed = errors.New("detection failed")
	ErrSaveFailed      = errors.New("failed to save")
	ErrNothingToSave   = errors.New("no detection to save")
	ErrNoCamera        = errors.New("session has no camera")
)

// DetectionError is a reply from the inference service with success=false.
type DetectionError struct {
	Message string
}

func (e *DetectionError) Error() string {
	return "Detection failed: " + e.Message
}

func (e *DetectionError) Is(target error) bool {
	return target == ErrDetectionFailed
}

// SaveError is a record store failure, kept apart from detection errors.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string {
	return "Failed to save: " + e.Err.Error()
}

func (e *SaveError) Is(target error) bool {
	return target == ErrSaveFailed
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// Annotator draws the detection onto a JPEG frame.
type Annotator interface {
	Annotate(frame []byte, d *model.Detection) ([]byte, error)
}

// Manager runs the detection flows for a session: upload, capture, save,
// history and dashboard.
type Manager struct {
	detector  inference.Detector
	records   repository.DetectionRepository
	previews  *storage.PreviewStore
	annotator Annotator
	clock     clock.Clock
	logger    *logger.Logger

	historyLimit    int
	dashboardWindow int
}

func NewManager(detector inference.Detector, records repository.DetectionRepository, previews *storage.PreviewStore, annotator Annotator, config *config.Config, logger *logger.Logger, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		detector:        detector,
		records:         records,
		previews:        previews,
		annotator:       annotator,
		clock:           clk,
		logger:          logger,
		historyLimit:    config.HistoryLimit,
		dashboardWindow: config.DashboardWindow,
	}
}

// HealthCheck asks the inference service whether its model is loaded.
func (m *Manager) HealthCheck(ctx context.Context) (*dto.HealthResponse, error) {
	health, err := m.detector.HealthCheck(ctx)
	if err != nil {
		m.logger.Warning("API health check failed: %v", err)
		return nil, err
	}
	return health, nil
}

// DetectUpload submits an uploaded image. The image becomes the preview right
// away; a positive result replaces it with the annotated version.
func (m *Manager) DetectUpload(ctx context.Context, sess *session.Session, image []byte, filename string) (*dto.DetectionOutcome, error) {
	if len(image) == 0 {
		return nil, inference.ErrEmptyImage
	}

	if sess.Camera != nil {
		sess.Camera.ClearResult()
	}
	m.previews.Put(sess.Token, image, "", nil)

	resp, err := m.detector.Detect(ctx, image, filename)
	if err != nil {
		m.logger.Error("Upload error: %v", err)
		return nil, err
	}

	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, &DetectionError{Message: msg}
	}

	outcome := &dto.DetectionOutcome{
		Detection:       resp.Detection,
		Message:         resp.Message,
		TotalDetections: resp.TotalDetections,
		ImageSize:       resp.ImageSize,
	}
	if resp.Detection == nil {
		outcome.Informational = true
		if outcome.Message == "" {
			outcome.Message = noDetectionUpload
		}
		return outcome, nil
	}

	preview, contentType := m.annotate(image, resp.Detection)
	m.previews.Put(sess.Token, preview, contentType, resp.Detection)

	m.logger.Info("Detected %s (%.1f%%) for %s", resp.Detection.Class, resp.Detection.Confidence*100, sess.User.Email)
	return outcome, nil
}

// annotate draws the detection box on a frame. The plain frame is kept when
// drawing fails; an empty content type lets the preview store sniff it.
func (m *Manager) annotate(frame []byte, d *model.Detection) ([]byte, string) {
	if m.annotator == nil {
		return frame, ""
	}
	annotated, err := m.annotator.Annotate(frame, d)
	if err != nil {
		m.logger.Warning("Error annotating preview: %v", err)
		return frame, ""
	}
	return annotated, "image/jpeg"
}

// StartCamera opens the session camera and clears any previous preview.
func (m *Manager) StartCamera(ctx context.Context, sess *session.Session) error {
	if sess.Camera == nil {
		return ErrNoCamera
	}
	m.previews.Delete(sess.Token)
	return sess.Camera.Start(ctx)
}

// StopCamera releases the session camera.
func (m *Manager) StopCamera(sess *session.Session) error {
	if sess.Camera == nil {
		return ErrNoCamera
	}
	return sess.Camera.Stop()
}

// ToggleLive switches live detection and reports whether it is now on.
func (m *Manager) ToggleLive(ctx context.Context, sess *session.Session) (bool, error) {
	if sess.Camera == nil {
		return false, ErrNoCamera
	}
	return sess.Camera.ToggleLive(ctx)
}

// Capture takes a still from the session camera. A positive result freezes the
// preview and stops the camera.
func (m *Manager) Capture(ctx context.Context, sess *session.Session) (*dto.DetectionOutcome, error) {
	if sess.Camera == nil {
		return nil, ErrNoCamera
	}

	result, err := sess.Camera.CaptureFrame(ctx)
	if err != nil {
		if !errors.Is(err, camera.ErrNotActive) {
			m.logger.Error("Capture error: %v", err)
		}
		return nil, err
	}

	if result.Detection == nil {
		msg := result.Message
		if msg == "" {
			msg = noDetectionCapture
		}
		return &dto.DetectionOutcome{Message: msg, Informational: true}, nil
	}

	preview, contentType := m.annotate(result.Preview, result.Detection)
	m.previews.Put(sess.Token, preview, contentType, result.Detection)
	m.logger.Info("Captured %s (%.1f%%) for %s", result.Detection.Class, result.Detection.Confidence*100, sess.User.Email)
	return &dto.DetectionOutcome{Detection: result.Detection, Message: result.Message}, nil
}

// CurrentDetection is the result on screen: the frozen preview's detection, or
// the camera's latest one.
func (m *Manager) CurrentDetection(sess *session.Session) *model.Detection {
	if p, ok := m.previews.Get(sess.Token); ok && p.Detection != nil {
		return p.Detection
	}
	if sess.Camera != nil {
		return sess.Camera.Status().Detection
	}
	return nil
}

// Save stores a detection record for the user. A nil detection saves the
// current result.
func (m *Manager) Save(ctx context.Context, sess *session.Session, detection *model.Detection) (*model.DetectionRecord, error) {
	if detection == nil {
		detection = m.CurrentDetection(sess)
	}
	if detection == nil {
		return nil, ErrNothingToSave
	}

	record := model.NewDetectionRecord(*detection, m.clock.Now())
	id, err := m.records.Append(ctx, sess.User, record)
	if err != nil {
		m.logger.Error("Save failed for %s: %v", sess.User.Email, err)
		return nil, &SaveError{Err: err}
	}
	record.ID = id

	m.logger.Info("Detection saved: %s", id)
	return &record, nil
}

// History returns the user's most recent records, newest first.
func (m *Manager) History(ctx context.Context, sess *session.Session, limit int) ([]model.DetectionRecord, error) {
	if limit <= 0 {
		limit = m.historyLimit
	}
	records, err := m.records.FetchRecent(ctx, sess.User, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return records, nil
}

// Dashboard aggregates the user's most recent window of records.
func (m *Manager) Dashboard(ctx context.Context, sess *session.Session) (*model.DashboardStats, error) {
	records, err := m.records.FetchRecent(ctx, sess.User, m.dashboardWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard data: %w", err)
	}
	result := stats.Aggregate(records, m.clock.Now())
	return &result, nil
}

// Preview returns the session's frozen preview, if any.
func (m *Manager) Preview(sess *session.Session) (storage.Preview, bool) {
	return m.previews.Get(sess.Token)
}

// Reset clears the preview and result and stops the camera if it is running.
func (m *Manager) Reset(sess *session.Session) error {
	m.previews.Delete(sess.Token)
	if sess.Camera == nil {
		return nil
	}
	sess.Camera.ClearResult()
	return sess.Camera.Stop()
}
