// Package httpclient is the transport every backend collaborator goes through. It joins
// paths onto the configured base URL, bounds each call with a timeout, trips a circuit
// breaker on transport failures and 5xx responses, opens a client span per call, and
// reports failures as categorized *Error values.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RequestIDHeader carries a fresh UUID on every outbound request.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// Request describes one backend call relative to the base URL.
type Request struct {
	Method      string
	Path        string
	Body        io.Reader
	ContentType string
	BearerToken string
}

// Response is a fully read backend response.
type Response struct {
	Status    int
	Body      []byte
	Header    http.Header
	RequestID string
}

// OK reports whether the response has a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client performs backend calls.
type Client struct {
	name    string
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient       *http.Client
	timeout          time.Duration
	failureThreshold uint32
	openFor          time.Duration
	onStateChange    func(name string, from, to gobreaker.State)
}

// WithHTTPClient replaces the underlying *http.Client (its Timeout is overridden by WithTimeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithTimeout bounds every call made by the client.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithBreaker sets how many consecutive failures open the circuit and how long it
// stays open before a probe is allowed.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) Option {
	return func(o *clientOptions) {
		o.failureThreshold = consecutiveFailures
		o.openFor = openFor
	}
}

// WithBreakerStateHook observes circuit state transitions.
func WithBreakerStateHook(fn func(name string, from, to gobreaker.State)) Option {
	return func(o *clientOptions) { o.onStateChange = fn }
}

// New builds a client for the backend rooted at baseURL.
func New(name, baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q: scheme must be http or https", baseURL)
	}

	o := clientOptions{
		timeout:          defaultTimeout,
		failureThreshold: 5,
		openFor:          30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	hc := &http.Client{}
	if o.httpClient != nil {
		copied := *o.httpClient
		hc = &copied
	}
	hc.Timeout = o.timeout

	threshold := o.failureThreshold
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: o.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about backend health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: o.onStateChange,
	}

	return &Client{
		name:    name,
		base:    base,
		http:    hc,
		breaker: gobreaker.NewCircuitBreaker(settings),
		tracer:  otel.Tracer("gabizap/internal/platform/httpclient"),
	}, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Do sends req, reads the whole body and returns it. Responses with status below 500
// are returned without error so callers can interpret 4xx bodies themselves; transport
// failures, timeouts, 5xx responses and an open circuit come back as *Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	endpoint := req.Method + " " + req.Path
	ctx, span := c.tracer.Start(ctx, c.name+" "+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
		attribute.String("gabizap.request_id", requestID),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, req, requestID)
	})

	var resp *Response
	if r, ok := result.(*Response); ok {
		resp = r
	}
	if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	}
	if err != nil {
		err = c.classify(endpoint, resp, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(GetCategory(err)))
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request, requestID string) (*Response, error) {
	target := c.base.JoinPath(req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, errBuildRequest{err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Status:    httpResp.StatusCode,
		Body:      body,
		Header:    httpResp.Header,
		RequestID: requestID,
	}
	if resp.Status >= 500 {
		return resp, errServerStatus{status: resp.Status}
	}
	return resp, nil
}

type errBuildRequest struct{ err error }

func (e errBuildRequest) Error() string { return "build request: " + e.err.Error() }
func (e errBuildRequest) Unwrap() error { return e.err }

type errServerStatus struct{ status int }

func (e errServerStatus) Error() string { return fmt.Sprintf("server responded %d", e.status) }

func (c *Client) classify(endpoint string, resp *Response, err error) error {
	var (
		build  errBuildRequest
		server errServerStatus
		netErr net.Error
	)
	switch {
	case errors.As(err, &server):
		return StatusError(endpoint, server.status, detail(resp))
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return NewError(CategoryUnavailable, endpoint, "circuit open", err)
	case errors.As(err, &build):
		return NewError(CategoryInternal, endpoint, "invalid request", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CategoryTimeout, endpoint, "deadline exceeded", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewError(CategoryTimeout, endpoint, "request timed out", err)
	default:
		return NewError(CategoryTransport, endpoint, "request failed", err)
	}
}

func detail(resp *Response) string {
	if resp == nil {
		return ""
	}
	return ResponseDetail(resp.Body)
}
