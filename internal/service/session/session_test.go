package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/logger"
	"agroscan/internal/model"
	"agroscan/internal/service/camera"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDevice struct {
	mu     sync.Mutex
	closed bool
}

func (d *stubDevice) Frame(int) ([]byte, error) { return []byte{0xFF, 0xD8}, nil }

func (d *stubDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type stubOpener struct{ device *stubDevice }

func (o stubOpener) Open(context.Context, camera.Constraints) (camera.Device, error) {
	return o.device, nil
}

func newTestManager(t *testing.T) (*Manager, *clock.Mock, *stubDevice) {
	t.Helper()
	mock := clock.NewMock()
	device := &stubDevice{}
	log := logger.NewDiscard()
	m := NewManager(&config.Config{SessionTTL: time.Hour}, log, mock, func(user *model.User) *camera.Loop {
		return camera.NewLoop(stubOpener{device: device}, nil, log, camera.Options{Clock: mock})
	})
	return m, mock, device
}

var farmer = &model.User{ID: "uid-1", Email: "farmer@example.com"}

func TestManager_CreateAndGet(t *testing.T) {
	m, _, _ := newTestManager(t)

	s := m.Create(farmer)
	require.NotEmpty(t, s.Token)
	require.NotNil(t, s.Camera)

	got, err := m.Get(s.Token)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get("unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_DestroyClosesCamera(t *testing.T) {
	m, _, device := newTestManager(t)
	s := m.Create(farmer)
	require.NoError(t, s.Camera.Start(context.Background()))

	require.NoError(t, m.Destroy(s.Token))

	assert.True(t, device.closed)
	assert.Equal(t, camera.StateIdle, s.Camera.Status().State)
	assert.ErrorIs(t, m.Destroy(s.Token), ErrSessionNotFound)
}

func TestManager_ExpiredSessionIsTornDown(t *testing.T) {
	m, mock, device := newTestManager(t)
	s := m.Create(farmer)
	require.NoError(t, s.Camera.Start(context.Background()))

	mock.Add(time.Hour)

	_, err := m.Get(s.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, device.closed)
	assert.Equal(t, 0, m.Count())
}

func TestManager_Reap(t *testing.T) {
	m, mock, _ := newTestManager(t)
	m.Create(farmer)
	mock.Add(30 * time.Minute)
	fresh := m.Create(farmer)
	mock.Add(31 * time.Minute)

	assert.Equal(t, 1, m.Reap())

	_, err := m.Get(fresh.Token)
	assert.NoError(t, err)
}

func TestManager_CloseAll(t *testing.T) {
	m, _, device := newTestManager(t)
	s := m.Create(farmer)
	require.NoError(t, s.Camera.Start(context.Background()))

	require.NoError(t, m.Close())

	assert.True(t, device.closed)
	assert.Equal(t, 0, m.Count())
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	s := &Session{Token: "t", User: farmer}
	got, ok := FromContext(WithSession(context.Background(), s))
	require.True(t, ok)
	assert.Same(t, s, got)
}
