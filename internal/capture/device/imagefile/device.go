// Package imagefile is a capture device backed by a still image on disk. It stands in
// for a camera on headless hosts and in scripted enrolment runs.
package imagefile

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"gabizap/internal/capture"
)

type Device struct {
	path string
}

func New(path string) *Device {
	return &Device{path: path}
}

// Open decodes the image. Any failure is capture.ErrDeviceUnavailable.
func (d *Device) Open(ctx context.Context) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", capture.ErrDeviceUnavailable, d.path, err)
	}
	return &stream{frame: img, format: format}, nil
}

type stream struct {
	mu     sync.Mutex
	frame  image.Image
	format string
	closed bool
}

func (s *stream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, capture.ErrDeviceUnavailable
	}
	if s.frame == nil {
		return nil, capture.ErrNoFrame
	}
	return s.frame, nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.frame = nil
	return nil
}
