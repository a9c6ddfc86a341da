package capture

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gabizap/pkg/platform/sentinel"
)

var (
	// ErrDeviceUnavailable wraps every failure to open or use the capture device.
	ErrDeviceUnavailable = fmt.Errorf("capture device %w", sentinel.ErrUnavailable)
	// ErrNoFrame means the stream is open but has not delivered its first frame.
	ErrNoFrame = errors.New("no frame available")
	// ErrCycleInProgress is returned by Start and Reset while a cycle is running.
	ErrCycleInProgress = fmt.Errorf("capture cycle in progress: %w", sentinel.ErrInvalidState)
	// ErrNotRearmed is returned by Start after a completed cycle until Reset is called.
	ErrNotRearmed = fmt.Errorf("capture workflow not re-armed: %w", sentinel.ErrInvalidState)
	// ErrClosed is returned once the workflow has been closed.
	ErrClosed = fmt.Errorf("capture workflow closed: %w", sentinel.ErrInvalidState)
)

// Device opens a live media stream.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream yields the current frame. Frame returns ErrNoFrame until the first frame arrives
// and ErrDeviceUnavailable once the device has gone away.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// Submitter sends one encoded capture to the matching engine.
type Submitter interface {
	Submit(ctx context.Context, kind Kind, jpeg []byte) (*Descriptor, error)
}
