package camera

import (
	"context"
	"fmt"
	"sync"
)

// Exclusive hands one physical device to one loop at a time. Every session
// gets its own Loop, but they all open through the same Exclusive, so a second
// Start fails with ErrDeviceBusy until the holder stops.
type Exclusive struct {
	opener Opener
	mu     sync.Mutex
	held   bool
}

func NewExclusive(opener Opener) *Exclusive {
	return &Exclusive{opener: opener}
}

// Open reserves the device and opens it. The reservation is released when the
// returned device is closed or the open fails.
func (e *Exclusive) Open(ctx context.Context, c Constraints) (Device, error) {
	e.mu.Lock()
	if e.held {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: camera %d is in use by another session", ErrDeviceBusy, c.Device)
	}
	e.held = true
	e.mu.Unlock()

	device, err := e.opener.Open(ctx, c)
	if err != nil {
		e.release()
		return nil, err
	}
	return &leasedDevice{Device: device, release: e.release}, nil
}

func (e *Exclusive) release() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
}

type leasedDevice struct {
	Device
	once    sync.Once
	release func()
}

// Close closes the device once and gives the reservation back.
func (d *leasedDevice) Close() error {
	var err error
	d.once.Do(func() {
		defer d.release()
		err = d.Device.Close()
	})
	return err
}
