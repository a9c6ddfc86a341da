package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"gabizap/internal/capture"
	"gabizap/internal/platform/httpclient"
)

var (
	// ErrNotDetected means the engine processed the capture but found no biometric in it.
	ErrNotDetected = errors.New("no biometric detected in capture")
	// ErrUnauthenticated is returned without a network call when there is no session token.
	ErrUnauthenticated = errors.New("not authenticated")
)

const (
	formField = "file"
	fileName  = "capture.jpg"
)

// TokenSource yields the bearer token of the current session.
type TokenSource interface {
	Token() (string, bool)
}

// Client uploads captures to the iris and hand engines.
type Client struct {
	http   *httpclient.Client
	tokens TokenSource
}

func New(hc *httpclient.Client, tokens TokenSource) *Client {
	return &Client{http: hc, tokens: tokens}
}

// Submit posts jpeg as a multipart upload to the engine for kind.
func (c *Client) Submit(ctx context.Context, kind capture.Kind, jpeg []byte) (*capture.Descriptor, error) {
	path, err := submitPath(kind)
	if err != nil {
		return nil, err
	}
	token, ok := c.tokens.Token()
	if !ok {
		return nil, ErrUnauthenticated
	}

	body, contentType, err := multipartBody(jpeg)
	if err != nil {
		return nil, httpclient.NewError(httpclient.CategoryInternal, endpoint(path), "encode upload", err)
	}
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		ContentType: contentType,
		BearerToken: token,
	})
	if err != nil {
		return nil, err
	}
	return parseDescriptor(endpoint(path), resp.Status, resp.Body)
}

// Health checks the engine behind kind.
func (c *Client) Health(ctx context.Context, kind capture.Kind) error {
	path := "/" + string(kind) + "/health"
	resp, err := c.http.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return httpclient.StatusError("GET "+path, resp.Status, httpclient.ResponseDetail(resp.Body))
	}
	return nil
}

func submitPath(kind capture.Kind) (string, error) {
	switch kind {
	case capture.KindIris:
		return "/iris/embed", nil
	case capture.KindHand:
		return "/hand/process", nil
	default:
		return "", fmt.Errorf("unsupported capture kind %q", kind)
	}
}

func multipartBody(jpeg []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, fileName))
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

type engineResponse struct {
	Embedding []float64 `json:"embedding"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
}

func parseDescriptor(ep string, status int, body []byte) (*capture.Descriptor, error) {
	if status < 200 || status >= 300 {
		return nil, httpclient.StatusError(ep, status, httpclient.ResponseDetail(body))
	}

	var payload engineResponse
	if err := httpclient.DecodeJSON(ep, body, &payload); err != nil {
		return nil, err
	}
	if payload.Status == "no_hand_detected" || payload.Status == "no_iris_detected" {
		return nil, ErrNotDetected
	}
	if len(payload.Embedding) == 0 {
		return nil, httpclient.NewError(httpclient.CategoryMalformed, ep, "response has no embedding", nil)
	}
	return &capture.Descriptor{Embedding: payload.Embedding, Version: payload.Version}, nil
}

func endpoint(path string) string {
	return http.MethodPost + " " + path
}
