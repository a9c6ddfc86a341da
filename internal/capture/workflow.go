package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"gabizap/internal/platform/logger"
	"gabizap/internal/platform/metrics"
)

const (
	DefaultThreshold = 100
	DefaultStep      = 5
	DefaultCadence   = 100 * time.Millisecond
)

// Cycle outcomes recorded in metrics.
const (
	outcomeSuccess   = "success"
	outcomeNoFrame   = "no_frame"
	outcomeNoDevice  = "device_unavailable"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

// Workflow drives one capture at a time through Idle, Acquiring, Capturing, Submitting
// and Complete. The state field is the single source of truth; callbacks and Cycle
// handles only report it.
type Workflow struct {
	device    Device
	submitter Submitter

	kind       Kind
	threshold  int
	step       int
	cadence    time.Duration
	width      int
	height     int
	quality    int
	clock      clockwork.Clock
	onComplete func(Result)
	onProgress func(int)
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	state     State
	progress  int
	stream    Stream
	deviceErr error
	closed    bool
	cancel    context.CancelFunc
	raster    *image.RGBA
	wg        sync.WaitGroup
}

// Option configures a Workflow.
type Option func(*Workflow)

func WithKind(k Kind) Option {
	return func(w *Workflow) { w.kind = k }
}

// WithThreshold sets the progress value that ends acquisition.
func WithThreshold(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.threshold = n
		}
	}
}

// WithStep sets how far progress advances per tick.
func WithStep(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.step = n
		}
	}
}

func WithCadence(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.cadence = d
		}
	}
}

// WithResolution sets the size of the raster frames are scaled into.
func WithResolution(width, height int) Option {
	return func(w *Workflow) {
		if width > 0 && height > 0 {
			w.width, w.height = width, height
		}
	}
}

func WithJPEGQuality(q int) Option {
	return func(w *Workflow) {
		if q >= 1 && q <= 100 {
			w.quality = q
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(w *Workflow) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithOnComplete registers a callback invoked once per cycle with its result.
func WithOnComplete(fn func(Result)) Option {
	return func(w *Workflow) { w.onComplete = fn }
}

// WithOnProgress registers a callback invoked after every acquisition tick.
func WithOnProgress(fn func(progress int)) Option {
	return func(w *Workflow) { w.onProgress = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func New(device Device, submitter Submitter, opts ...Option) *Workflow {
	w := &Workflow{
		device:    device,
		submitter: submitter,
		kind:      KindIris,
		threshold: DefaultThreshold,
		step:      DefaultStep,
		cadence:   DefaultCadence,
		width:     DefaultWidth,
		height:    DefaultHeight,
		quality:   DefaultJPEGQuality,
		clock:     clockwork.NewRealClock(),
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.raster = image.NewRGBA(image.Rect(0, 0, w.width, w.height))
	return w
}

// Activate opens the media device. Calling it again with an open stream is a no-op.
// On failure the error is kept for DeviceErr and the workflow stays Idle.
func (w *Workflow) Activate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.stream != nil {
		return nil
	}
	stream, err := w.device.Open(ctx)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		w.deviceErr = err
		w.logger.WarnContext(ctx, "capture device unavailable", "kind", w.kind, "error", err)
		return err
	}
	w.stream = stream
	w.deviceErr = nil
	return nil
}

// Start begins a cycle. It only succeeds from Idle with an open device; any other
// call returns an error and changes nothing.
func (w *Workflow) Start(ctx context.Context) (*Cycle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.closed:
		return nil, ErrClosed
	case w.state.Busy():
		return nil, ErrCycleInProgress
	case w.state == Complete:
		return nil, ErrNotRearmed
	case w.stream == nil:
		if w.deviceErr != nil {
			return nil, w.deviceErr
		}
		return nil, ErrDeviceUnavailable
	}

	cctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.state = Acquiring
	w.progress = 0

	cycle := newCycle(w.kind)
	w.logger.InfoContext(ctx, "capture started", "kind", w.kind, "cycle_id", cycle.ID())

	w.wg.Add(1)
	go w.run(cctx, cancel, cycle, w.stream)
	return cycle, nil
}

// Reset re-arms a completed workflow so Start may run again.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.state.Busy() {
		return ErrCycleInProgress
	}
	w.state = Idle
	w.progress = 0
	return nil
}

// Close cancels any running cycle, waits for it to finish and releases the stream.
func (w *Workflow) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stream == nil {
		return nil
	}
	err := w.stream.Close()
	w.stream = nil
	if err != nil {
		return fmt.Errorf("release capture stream: %w", err)
	}
	return nil
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Progress is the acquisition progress of the current or last cycle.
func (w *Workflow) Progress() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

// DeviceErr is the last Activate failure, nil once a device is open.
func (w *Workflow) DeviceErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deviceErr
}

func (w *Workflow) Kind() Kind {
	return w.kind
}

// run executes one cycle. The workflow leaves the WaitGroup once the state is Complete,
// before any completion callback runs, so callbacks may call Close.
func (w *Workflow) run(ctx context.Context, cancel context.CancelFunc, cycle *Cycle, stream Stream) {
	defer cancel()

	res := Result{CycleID: cycle.ID(), Kind: w.kind}
	desc, err := w.execute(ctx, stream)
	switch {
	case err == nil && desc != nil:
		res.Success = true
		res.Descriptor = desc
	case err == nil:
		res.Err = errors.New("engine returned no descriptor")
	case ctx.Err() != nil:
		res.Err = ctx.Err()
	default:
		res.Err = err
	}
	res.CompletedAt = w.clock.Now()

	w.mu.Lock()
	w.state = Complete
	w.cancel = nil
	w.mu.Unlock()
	w.wg.Done()

	if !cycle.complete(res) {
		return
	}
	w.metrics.ObserveCapture(string(w.kind), outcome(res))
	w.logger.InfoContext(ctx, "capture complete",
		"kind", w.kind,
		"cycle_id", res.CycleID,
		"success", res.Success,
		"error", res.Err,
	)
	if w.onComplete != nil {
		w.onComplete(res)
	}
}

func (w *Workflow) execute(ctx context.Context, stream Stream) (*Descriptor, error) {
	if err := w.acquire(ctx); err != nil {
		return nil, err
	}

	frame, err := stream.Frame()
	if err != nil {
		if !errors.Is(err, ErrNoFrame) && !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrNoFrame, err)
		}
		return nil, err
	}
	data, err := encodeFrame(w.raster, frame, w.quality)
	if err != nil {
		return nil, err
	}

	if err := w.transition(ctx, Submitting); err != nil {
		return nil, err
	}
	start := w.clock.Now()
	desc, err := w.submitter.Submit(ctx, w.kind, data)
	w.metrics.ObserveSubmit(string(w.kind), w.clock.Since(start))
	if err != nil {
		return nil, fmt.Errorf("submit %s capture: %w", w.kind, err)
	}
	return desc, nil
}

// acquire advances progress by step on every tick and moves to Capturing once
// progress reaches the threshold.
func (w *Workflow) acquire(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}

		w.mu.Lock()
		w.progress += w.step
		p := w.progress
		done := p >= w.threshold
		if done {
			w.state = Capturing
		}
		w.mu.Unlock()

		if w.onProgress != nil {
			w.onProgress(p)
		}
		if done {
			return nil
		}
	}
}

func (w *Workflow) transition(ctx context.Context, to State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.state = to
	w.mu.Unlock()
	return nil
}

func outcome(r Result) string {
	switch {
	case r.Success:
		return outcomeSuccess
	case errors.Is(r.Err, context.Canceled):
		return outcomeCancelled
	case errors.Is(r.Err, ErrNoFrame):
		return outcomeNoFrame
	case errors.Is(r.Err, ErrDeviceUnavailable):
		return outcomeNoDevice
	default:
		return outcomeFailed
	}
}
