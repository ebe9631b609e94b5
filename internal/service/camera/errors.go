package camera

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("camera device not found")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrAccessFailed     = errors.New("camera access failed")

	// ErrNotActive is returned by operations that need an open device.
	ErrNotActive = errors.New("camera is not active")
)

// DeviceError is an open failure classified into one of the device sentinels.
type DeviceError struct {
	Reason error
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Reason, e.Err)
	}
	return e.Reason.Error()
}

func (e *DeviceError) Is(target error) bool {
	return target == e.Reason
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Message is the text shown to the user for this failure.
func (e *DeviceError) Message() string {
	return UserMessage(e.Reason)
}

// UserMessage maps a device error to its user-facing text.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera access denied. Please allow camera permissions."
	case errors.Is(err, ErrDeviceNotFound):
		return "No camera found on this device."
	case errors.Is(err, ErrDeviceBusy):
		return "Camera is being used by another application."
	case errors.Is(err, ErrNotActive):
		return "Camera is not active"
	default:
		return "Failed to access camera"
	}
}

func classify(err error) error {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr
	}
	for _, reason := range []error{ErrPermissionDenied, ErrDeviceNotFound, ErrDeviceBusy} {
		if errors.Is(err, reason) {
			return &DeviceError{Reason: reason, Err: err}
		}
	}
	return &DeviceError{Reason: ErrAccessFailed, Err: err}
}
