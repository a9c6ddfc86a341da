package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"gabizap/internal/auth/models"
	"gabizap/internal/platform/httpclient"
)

const (
	tokenPath       = "/auth/token"
	currentUserPath = "/auth/users/me"
	healthPath      = "/health"
)

// Client talks to the remote credential endpoint. It verifies nothing itself; every
// decision about the credentials is the backend's.
type Client struct {
	http *httpclient.Client
}

func New(hc *httpclient.Client) *Client {
	return &Client{http: hc}
}

// Authenticate exchanges an email/password pair for a bearer token.
func (c *Client) Authenticate(ctx context.Context, creds models.Credentials) (*models.Token, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, httpclient.NewError(httpclient.CategoryInternal, endpoint(http.MethodPost, tokenPath), "encode credentials", err)
	}

	resp, err := c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		Path:        tokenPath,
		Body:        bytes.NewReader(body),
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return parseTokenResponse(resp.Status, resp.Body)
}

// CurrentUser resolves the user a bearer token belongs to. A rejected error means the
// backend no longer honours the token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodGet,
		Path:        currentUserPath,
		BearerToken: token,
	})
	if err != nil {
		return nil, err
	}
	return parseUserResponse(resp.Status, resp.Body)
}

// Health checks the gateway's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: healthPath})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return httpclient.StatusError(endpoint(http.MethodGet, healthPath), resp.Status, httpclient.ResponseDetail(resp.Body))
	}
	return nil
}

func parseTokenResponse(status int, body []byte) (*models.Token, error) {
	ep := endpoint(http.MethodPost, tokenPath)
	if status < 200 || status >= 300 {
		return nil, httpclient.StatusError(ep, status, httpclient.ResponseDetail(body))
	}

	var token models.Token
	if err := httpclient.DecodeJSON(ep, body, &token); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, httpclient.NewError(httpclient.CategoryMalformed, ep, "response has no access_token", nil)
	}
	if token.TokenType == "" {
		token.TokenType = "bearer"
	}
	return &token, nil
}

func parseUserResponse(status int, body []byte) (*models.User, error) {
	ep := endpoint(http.MethodGet, currentUserPath)
	if status < 200 || status >= 300 {
		return nil, httpclient.StatusError(ep, status, httpclient.ResponseDetail(body))
	}

	var user models.User
	if err := httpclient.DecodeJSON(ep, body, &user); err != nil {
		return nil, err
	}
	if user.Email == "" {
		return nil, httpclient.NewError(httpclient.CategoryMalformed, ep, "response has no email", nil)
	}
	return &user, nil
}

func endpoint(method, path string) string {
	return method + " " + path
}
