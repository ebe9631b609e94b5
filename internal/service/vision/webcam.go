package vision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"agroscan/internal/logger"
	"agroscan/internal/service/camera"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Webcam opens local V4L2 devices through OpenCV.
type Webcam struct {
	logger *logger.Logger
	// inspect reports why a device node cannot be used. Replaced in tests.
	inspect func(path string) error
}

// NewWebcam creates an opener for local video devices.
func NewWebcam(logger *logger.Logger) *Webcam {
	return &Webcam{logger: logger, inspect: inspectDeviceNode}
}

// Open acquires the device and requests the ideal resolution. The driver may
// pick the closest mode it supports.
func (w *Webcam) Open(ctx context.Context, c camera.Constraints) (camera.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(c.Device)
	if err != nil || !capture.IsOpened() {
		if capture != nil {
			capture.Close()
		}
		return nil, w.diagnose(c.Device, err)
	}

	if c.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	}
	if c.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}

	w.logger.Info("Opened video device %d at %.0fx%.0f", c.Device,
		capture.Get(gocv.VideoCaptureFrameWidth), capture.Get(gocv.VideoCaptureFrameHeight))

	return &webcamDevice{capture: capture, frame: gocv.NewMat()}, nil
}

func (w *Webcam) diagnose(device int, openErr error) error {
	path := fmt.Sprintf("/dev/video%d", device)
	reason := w.inspect(path)
	if reason == nil {
		reason = camera.ErrAccessFailed
	}
	if openErr == nil {
		openErr = fmt.Errorf("failed to open %s", path)
	}
	return &camera.DeviceError{Reason: reason, Err: openErr}
}

// inspectDeviceNode maps the state of a device node to a camera sentinel. A node
// that opens fine but still fails in OpenCV is most likely held by another process.
func inspectDeviceNode(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	switch {
	case err == nil:
		f.Close()
		return camera.ErrDeviceBusy
	case errors.Is(err, os.ErrNotExist):
		return camera.ErrDeviceNotFound
	case errors.Is(err, os.ErrPermission):
		return camera.ErrPermissionDenied
	case errors.Is(err, syscall.EBUSY):
		return camera.ErrDeviceBusy
	default:
		return camera.ErrAccessFailed
	}
}

type webcamDevice struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	frame   gocv.Mat
}

// Frame reads the next frame and encodes it as JPEG at the given quality.
func (d *webcamDevice) Frame(quality int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ok := d.capture.Read(&d.frame); !ok {
		return nil, fmt.Errorf("failed to read frame")
	}
	if d.frame.Empty() {
		return nil, fmt.Errorf("read frame is empty")
	}

	return encodeJPEG(d.frame, quality)
}

func (d *webcamDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return multierr.Combine(d.frame.Close(), d.capture.Close())
}

func encodeJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
