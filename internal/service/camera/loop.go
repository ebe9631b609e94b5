package camera

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"agroscan/internal/dto"
	"agroscan/internal/logger"
	"agroscan/internal/model"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
)

type State string

const (
	StateIdle          State = "idle"
	StateScanning      State = "scanning"
	StateLiveDetecting State = "live"
)

const (
	DefaultInterval       = 2000 * time.Millisecond
	DefaultLiveQuality    = 80
	DefaultCaptureQuality = 95
)

// Constraints are the ideal capture settings requested from the device.
type Constraints struct {
	Device int
	Width  int
	Height int
}

// Device is an open video source.
type Device interface {
	// Frame grabs the current frame encoded as JPEG at the given quality (1-100).
	Frame(quality int) ([]byte, error)
	Close() error
}

// Opener acquires a device. Errors should wrap one of the device sentinels.
type Opener interface {
	Open(ctx context.Context, c Constraints) (Device, error)
}

// Detector submits a frame to the inference service.
type Detector interface {
	Detect(ctx context.Context, image []byte, filename string) (*dto.DetectResponse, error)
}

// Status is a snapshot of the loop published to listeners.
type Status struct {
	State     State            `json:"state"`
	FPS       int              `json:"fps"`
	Detection *model.Detection `json:"detection"`
}

// CaptureResult is the outcome of a single still capture.
type CaptureResult struct {
	Detection *model.Detection
	Message   string
	// Preview is the frozen frame. Nil without a detection.
	Preview []byte
}

type Options struct {
	Constraints    Constraints
	Interval       time.Duration
	LiveQuality    int
	CaptureQuality int
	Clock          clock.Clock
	Listener       func(Status)
}

// Loop owns one camera device and its live detection schedule.
type Loop struct {
	opener   Opener
	detector Detector
	logger   *logger.Logger
	opts     Options

	mu         sync.Mutex
	device     Device
	state      State
	liveCancel context.CancelFunc
	inFlight   *atomic.Bool // current schedule only
	generation uint64
	fps        int
	detection  *model.Detection
}

// NewLoop creates an idle loop. Zero option values fall back to defaults.
func NewLoop(opener Opener, detector Detector, logger *logger.Logger, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.LiveQuality <= 0 {
		opts.LiveQuality = DefaultLiveQuality
	}
	if opts.CaptureQuality <= 0 {
		opts.CaptureQuality = DefaultCaptureQuality
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Loop{
		opener:   opener,
		detector: detector,
		logger:   logger,
		opts:     opts,
		state:    StateIdle,
	}
}

// Start acquires the device and moves to Scanning. An already open device is
// reused. The lock is not held while the device opens; if a concurrent Start
// wins the race, the extra handle is closed.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	l.detection = nil
	if l.device != nil {
		status := l.statusLocked()
		l.mu.Unlock()
		l.publish(status)
		return nil
	}
	l.mu.Unlock()

	device, err := l.opener.Open(ctx, l.opts.Constraints)
	if err != nil {
		err = classify(err)
		l.logger.Error("Error accessing camera: %v", err)
		return err
	}

	l.mu.Lock()
	if l.device != nil {
		status := l.statusLocked()
		l.mu.Unlock()
		if err := device.Close(); err != nil {
			l.logger.Warning("Error closing extra camera handle: %v", err)
		}
		l.publish(status)
		return nil
	}
	l.device = device
	l.state = StateScanning
	status := l.statusLocked()
	l.mu.Unlock()

	l.logger.Info("Camera %d started", l.opts.Constraints.Device)
	l.publish(status)
	return nil
}

// Stop cancels live detection, releases the device and returns to Idle. Safe to call repeatedly.
func (l *Loop) Stop() error {
	l.mu.Lock()
	device := l.releaseLocked()
	status := l.statusLocked()
	l.mu.Unlock()

	return l.closeDevice(device, status)
}

// releaseLocked detaches the device and resets the loop to Idle. The caller
// closes the returned device after unlocking.
func (l *Loop) releaseLocked() Device {
	l.cancelLiveLocked()
	device := l.device
	l.device = nil
	l.state = StateIdle
	l.fps = 0
	return device
}

func (l *Loop) closeDevice(device Device, status Status) error {
	if device == nil {
		return nil
	}

	l.publish(status)
	if err := device.Close(); err != nil {
		l.logger.Warning("Error closing camera: %v", err)
		return fmt.Errorf("failed to close camera: %w", err)
	}
	l.logger.Info("Camera %d stopped", l.opts.Constraints.Device)
	return nil
}

// Close is the mandatory teardown; it is equivalent to Stop.
func (l *Loop) Close() error {
	return l.Stop()
}

// ToggleLive enters or leaves live detection and reports whether live is now on.
func (l *Loop) ToggleLive(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.device == nil {
		l.mu.Unlock()
		return false, ErrNotActive
	}

	if l.state == StateLiveDetecting {
		l.cancelLiveLocked()
		l.state = StateScanning
		l.fps = 0
		status := l.statusLocked()
		l.mu.Unlock()

		l.logger.Info("Live detection stopped")
		l.publish(status)
		return false, nil
	}

	l.cancelLiveLocked()
	liveCtx, cancel := context.WithCancel(context.Background())
	l.liveCancel = cancel
	l.inFlight = atomic.NewBool(false)
	l.generation++
	gen := l.generation
	l.state = StateLiveDetecting
	status := l.statusLocked()
	inFlight := l.inFlight
	l.mu.Unlock()

	l.logger.Info("Live detection started, interval %v", l.opts.Interval)
	l.publish(status)
	go l.runLive(liveCtx, gen, inFlight)
	return true, nil
}

// CaptureFrame takes a high quality still and submits it. A positive result
// stops the camera it was taken from; no detection leaves it scanning. If the
// camera was stopped or restarted while the frame was in flight, the result
// is still returned but the current device is left alone.
func (l *Loop) CaptureFrame(ctx context.Context) (*CaptureResult, error) {
	l.mu.Lock()
	device := l.device
	if device == nil {
		l.mu.Unlock()
		return nil, ErrNotActive
	}
	frame, err := device.Frame(l.opts.CaptureQuality)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to capture frame: %w", err)
	}

	resp, err := l.detector.Detect(ctx, frame, "camera-capture.jpg")
	if err != nil {
		return nil, err
	}

	if !resp.Success || resp.Detection == nil {
		return &CaptureResult{Message: resp.Message}, nil
	}

	result := &CaptureResult{
		Detection: resp.Detection,
		Message:   resp.Message,
		Preview:   frame,
	}

	l.mu.Lock()
	if l.device != device {
		l.mu.Unlock()
		l.logger.Warning("Camera changed during capture, leaving it running")
		return result, nil
	}
	l.detection = resp.Detection
	released := l.releaseLocked()
	status := l.statusLocked()
	l.mu.Unlock()

	if err := l.closeDevice(released, status); err != nil {
		l.logger.Warning("Error stopping camera after capture: %v", err)
	}
	return result, nil
}

// Status returns the current snapshot.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

// ClearResult drops the displayed detection.
func (l *Loop) ClearResult() {
	l.mu.Lock()
	l.detection = nil
	status := l.statusLocked()
	l.mu.Unlock()
	l.publish(status)
}

// runLive runs one detection immediately and then one per tick. A tick that
// fires while a detection is still in flight is dropped.
func (l *Loop) runLive(ctx context.Context, gen uint64, inFlight *atomic.Bool) {
	var wg sync.WaitGroup
	defer wg.Wait()

	trigger := func() {
		if !inFlight.CompareAndSwap(false, true) {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer inFlight.Store(false)
			l.detectFrame(ctx, gen)
		}()
	}

	ticker := l.opts.Clock.Ticker(l.opts.Interval)
	defer ticker.Stop()

	trigger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger()
		}
	}
}

func (l *Loop) detectFrame(ctx context.Context, gen uint64) {
	l.mu.Lock()
	if gen != l.generation || l.device == nil {
		l.mu.Unlock()
		return
	}
	frame, err := l.device.Frame(l.opts.LiveQuality)
	l.mu.Unlock()
	if err != nil {
		l.logger.Warning("Live detection frame error: %v", err)
		return
	}

	start := l.opts.Clock.Now()
	resp, err := l.detector.Detect(ctx, frame, "frame.jpg")
	elapsed := l.opts.Clock.Since(start)

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		l.logger.Warning("Live detection error: %v", err)
		return
	}

	l.mu.Lock()
	if gen != l.generation || l.state != StateLiveDetecting {
		l.mu.Unlock()
		return
	}
	l.fps = framesPerSecond(elapsed)
	if resp.Success {
		l.detection = resp.Detection
	} else {
		l.detection = nil
	}
	status := l.statusLocked()
	l.mu.Unlock()

	l.publish(status)
}

func (l *Loop) cancelLiveLocked() {
	if l.liveCancel != nil {
		l.liveCancel()
		l.liveCancel = nil
	}
	l.generation++
}

// detecting reports whether the current schedule has a detection in flight.
func (l *Loop) detecting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight != nil && l.inFlight.Load()
}

func (l *Loop) statusLocked() Status {
	return Status{State: l.state, FPS: l.fps, Detection: l.detection}
}

func (l *Loop) publish(status Status) {
	if l.opts.Listener != nil {
		l.opts.Listener(status)
	}
}

// framesPerSecond converts one round trip into a rate, rounded.
func framesPerSecond(elapsed time.Duration) int {
	ms := float64(elapsed) / float64(time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return int(math.Round(1000 / ms))
}
