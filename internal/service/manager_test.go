package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/dto"
	"agroscan/internal/logger"
	"agroscan/internal/model"
	"agroscan/internal/repository"
	"agroscan/internal/service/camera"
	"agroscan/internal/service/inference"
	"agroscan/internal/service/session"
	"agroscan/internal/service/storage"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========================================
// Fakes
// ========================================

type fakeDetector struct {
	resp   *dto.DetectResponse
	err    error
	health *dto.HealthResponse
}

func (d *fakeDetector) Detect(ctx context.Context, image []byte, filename string) (*dto.DetectResponse, error) {
	return d.resp, d.err
}

func (d *fakeDetector) HealthCheck(ctx context.Context) (*dto.HealthResponse, error) {
	if d.health == nil {
		return nil, errors.New("unreachable")
	}
	return d.health, nil
}

type memoryRepo struct {
	mu      sync.Mutex
	records map[string][]model.DetectionRecord
	err     error
}

func (r *memoryRepo) Append(ctx context.Context, user *model.User, record model.DetectionRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if r.records == nil {
		r.records = make(map[string][]model.DetectionRecord)
	}
	record.ID = "push-" + string(rune('a'+len(r.records[user.ID])))
	r.records[user.ID] = append(r.records[user.ID], record)
	return record.ID, nil
}

func (r *memoryRepo) FetchRecent(ctx context.Context, user *model.User, limit int) ([]model.DetectionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	copied := append([]model.DetectionRecord(nil), r.records[user.ID]...)
	return repository.NewestFirst(copied, limit), nil
}

type stubDevice struct{ closed bool }

func (d *stubDevice) Frame(int) ([]byte, error) { return []byte{0xFF, 0xD8, 0xFF}, nil }
func (d *stubDevice) Close() error {
	d.closed = true
	return nil
}

type stubOpener struct{ device *stubDevice }

func (o stubOpener) Open(context.Context, camera.Constraints) (camera.Device, error) {
	return o.device, nil
}

type countingOpener struct {
	mu    sync.Mutex
	opens int
}

func (o *countingOpener) Open(context.Context, camera.Constraints) (camera.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	return &stubDevice{}, nil
}

type tagAnnotator struct{}

func (tagAnnotator) Annotate(frame []byte, d *model.Detection) ([]byte, error) {
	return append([]byte("boxed:"), frame...), nil
}

type fixture struct {
	manager  *Manager
	detector *fakeDetector
	repo     *memoryRepo
	previews *storage.PreviewStore
	session  *session.Session
	device   *stubDevice
	clock    *clock.Mock
}

var earlyBlight = &model.Detection{
	Class:          "Early_blight",
	Confidence:     0.88,
	Severity:       model.SeverityMedium,
	Recommendation: "Apply fungicide",
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	log := logger.NewDiscard()
	cfg := &config.Config{HistoryLimit: 20, DashboardWindow: 100, PreviewTTL: time.Hour}

	f := &fixture{
		detector: &fakeDetector{},
		repo:     &memoryRepo{},
		previews: storage.NewPreviewStore(cfg, log, mock),
		device:   &stubDevice{},
		clock:    mock,
	}
	f.manager = NewManager(f.detector, f.repo, f.previews, tagAnnotator{}, cfg, log, mock)
	f.session = &session.Session{
		Token:  "token",
		User:   &model.User{ID: "uid-1", Email: "farmer@example.com"},
		Camera: camera.NewLoop(stubOpener{device: f.device}, f.detector, log, camera.Options{Clock: mock}),
	}
	t.Cleanup(func() { f.session.Close() })
	return f
}

// ========================================
// Upload
// ========================================

func TestManager_DetectUploadPositive(t *testing.T) {
	f := newFixture(t)
	f.detector.resp = &dto.DetectResponse{Success: true, Detection: earlyBlight, TotalDetections: 2}

	outcome, err := f.manager.DetectUpload(context.Background(), f.session, []byte("img"), "leaf.jpg")

	require.NoError(t, err)
	assert.Equal(t, earlyBlight, outcome.Detection)
	assert.False(t, outcome.Informational)
	assert.Equal(t, 2, outcome.TotalDetections)

	preview, ok := f.previews.Get(f.session.Token)
	require.True(t, ok)
	assert.Equal(t, []byte("boxed:img"), preview.Data)
	assert.Equal(t, "image/jpeg", preview.ContentType)
	assert.Equal(t, earlyBlight, f.manager.CurrentDetection(f.session))
}

func TestManager_DetectUploadNoDetectionIsInformational(t *testing.T) {
	f := newFixture(t)
	f.detector.resp = &dto.DetectResponse{Success: true}

	outcome, err := f.manager.DetectUpload(context.Background(), f.session, []byte("img"), "leaf.jpg")

	require.NoError(t, err)
	assert.True(t, outcome.Informational)
	assert.Nil(t, outcome.Detection)
	assert.Equal(t, noDetectionUpload, outcome.Message)

	preview, ok := f.previews.Get(f.session.Token)
	require.True(t, ok, "uploaded image stays as preview")
	assert.Equal(t, []byte("img"), preview.Data)
}

func TestManager_DetectUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.detector.resp = &dto.DetectResponse{Success: false, Message: "bad image"}

	_, err := f.manager.DetectUpload(context.Background(), f.session, []byte("img"), "leaf.jpg")

	assert.ErrorIs(t, err, ErrDetectionFailed)
	assert.EqualError(t, err, "Detection failed: bad image")
}

func TestManager_DetectUploadServiceError(t *testing.T) {
	f := newFixture(t)
	f.detector.err = &inference.APIError{StatusCode: 503, Detail: "Model not loaded"}

	_, err := f.manager.DetectUpload(context.Background(), f.session, []byte("img"), "leaf.jpg")

	var apiErr *inference.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Model not loaded", apiErr.Detail)
	assert.NotErrorIs(t, err, ErrDetectionFailed)
}

func TestManager_DetectUploadEmpty(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.DetectUpload(context.Background(), f.session, nil, "leaf.jpg")
	assert.ErrorIs(t, err, inference.ErrEmptyImage)
}

// ========================================
// Camera
// ========================================

func TestManager_CaptureFreezesPreview(t *testing.T) {
	f := newFixture(t)
	f.detector.resp = &dto.DetectResponse{Success: true, Detection: earlyBlight}
	require.NoError(t, f.manager.StartCamera(context.Background(), f.session))

	outcome, err := f.manager.Capture(context.Background(), f.session)

	require.NoError(t, err)
	assert.Equal(t, earlyBlight, outcome.Detection)
	assert.Equal(t, camera.StateIdle, f.session.Camera.Status().State)
	assert.True(t, f.device.closed)

	preview, ok := f.manager.Preview(f.session)
	require.True(t, ok)
	assert.Equal(t, []byte("boxed:\xFF\xD8\xFF"), preview.Data)
}

func TestManager_CaptureNoDetection(t *testing.T) {
	f := newFixture(t)
	f.detector.resp = &dto.DetectResponse{Success: true}
	require.NoError(t, f.manager.StartCamera(context.Background(), f.session))

	outcome, err := f.manager.Capture(context.Background(), f.session)

	require.NoError(t, err)
	assert.True(t, outcome.Informational)
	assert.Equal(t, noDetectionCapture, outcome.Message)
	assert.Equal(t, camera.StateScanning, f.session.Camera.Status().State)
}

func TestManager_StartCameraClearsPreview(t *testing.T) {
	f := newFixture(t)
	f.previews.Put(f.session.Token, []byte("old"), "image/jpeg", earlyBlight)

	require.NoError(t, f.manager.StartCamera(context.Background(), f.session))

	_, ok := f.manager.Preview(f.session)
	assert.False(t, ok)
}

func TestManager_SessionsShareOneDevice(t *testing.T) {
	f := newFixture(t)
	opener := &countingOpener{}
	device := camera.NewExclusive(opener)
	newSession := func(token string) *session.Session {
		s := &session.Session{
			Token:  token,
			User:   f.session.User,
			Camera: camera.NewLoop(device, f.detector, logger.NewDiscard(), camera.Options{Clock: f.clock}),
		}
		t.Cleanup(func() { s.Close() })
		return s
	}
	first, second := newSession("token-a"), newSession("token-b")
	ctx := context.Background()

	require.NoError(t, f.manager.StartCamera(ctx, first))
	err := f.manager.StartCamera(ctx, second)

	assert.ErrorIs(t, err, camera.ErrDeviceBusy)
	assert.Equal(t, 1, opener.opens)
	assert.Equal(t, camera.StateIdle, second.Camera.Status().State)

	require.NoError(t, f.manager.StopCamera(first))
	require.NoError(t, f.manager.StartCamera(ctx, second))
	assert.Equal(t, 2, opener.opens)
}

func TestManager_PreviewsArePerSession(t *testing.T) {
	f := newFixture(t)
	f.detector.resp = &dto.DetectResponse{Success: true, Detection: earlyBlight}
	other := &session.Session{Token: "other", User: f.session.User}
	ctx := context.Background()

	_, err := f.manager.DetectUpload(ctx, f.session, []byte("img"), "leaf.jpg")
	require.NoError(t, err)

	_, ok := f.manager.Preview(other)
	assert.False(t, ok)
	_, err = f.manager.Save(ctx, other, nil)
	assert.ErrorIs(t, err, ErrNothingToSave)
	assert.Empty(t, f.repo.records["uid-1"])
}

// ========================================
// Save / History / Dashboard
// ========================================

func TestManager_SaveCurrentDetection(t *testing.T) {
	f := newFixture(t)
	f.previews.Put(f.session.Token, []byte("img"), "image/jpeg", earlyBlight)

	record, err := f.manager.Save(context.Background(), f.session, nil)

	require.NoError(t, err)
	assert.Equal(t, "push-a", record.ID)
	assert.Equal(t, "Early_blight", record.Class)
	assert.Equal(t, f.clock.Now().UnixMilli(), record.Timestamp)
	assert.Equal(t, "2024-06-15T12:00:00.000Z", record.Date)
}

func TestManager_SaveNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Save(context.Background(), f.session, nil)
	assert.ErrorIs(t, err, ErrNothingToSave)
}

func TestManager_SaveFailureIsDistinct(t *testing.T) {
	f := newFixture(t)
	f.repo.err = repository.ErrNotAuthorized

	_, err := f.manager.Save(context.Background(), f.session, earlyBlight)

	assert.ErrorIs(t, err, ErrSaveFailed)
	assert.ErrorIs(t, err, repository.ErrNotAuthorized)
	assert.NotErrorIs(t, err, ErrDetectionFailed)
	assert.Equal(t, "Failed to save: record store rejected credentials", err.Error())
}

func TestManager_HistoryAndDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, class := range []string{"Early_blight", "Late_blight", "Early_blight"} {
		d := *earlyBlight
		d.Class = class
		_, err := f.manager.Save(ctx, f.session, &d)
		require.NoError(t, err)
		f.clock.Add(time.Duration(i+1) * time.Hour)
	}

	history, err := f.manager.History(ctx, f.session, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "Early_blight", history[0].Class)
	assert.Equal(t, "Late_blight", history[1].Class)

	limited, err := f.manager.History(ctx, f.session, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	dashboard, err := f.manager.Dashboard(ctx, f.session)
	require.NoError(t, err)
	assert.True(t, dashboard.HasData)
	assert.Equal(t, 3, dashboard.TotalDetections)
	require.NotNil(t, dashboard.MostCommon)
	assert.Equal(t, "Early_blight", dashboard.MostCommon.Name)
	assert.Equal(t, 3, dashboard.RecentDetections)
}

func TestManager_Reset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.StartCamera(context.Background(), f.session))
	f.previews.Put(f.session.Token, []byte("img"), "image/jpeg", earlyBlight)

	require.NoError(t, f.manager.Reset(f.session))

	_, ok := f.manager.Preview(f.session)
	assert.False(t, ok)
	assert.Equal(t, camera.StateIdle, f.session.Camera.Status().State)
	assert.Nil(t, f.manager.CurrentDetection(f.session))
}

func TestManager_HealthCheck(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.HealthCheck(context.Background())
	assert.Error(t, err)

	f.detector.health = &dto.HealthResponse{Status: "healthy", Model: "best.pt", Classes: 10}
	health, err := f.manager.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy())
}
