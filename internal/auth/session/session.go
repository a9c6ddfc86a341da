package session

//go:generate mockgen -source=session.go -destination=mocks/mocks.go -package=mocks TokenStore,CredentialClient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"gabizap/internal/auth/models"
	jwttoken "gabizap/internal/jwt_token"
	"gabizap/internal/platform/httpclient"
	"gabizap/internal/platform/logger"
	"gabizap/internal/platform/metrics"
	"gabizap/pkg/platform/sentinel"
)

var (
	// ErrMissingCredentials is returned before any network call when email or password is empty.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrEmptyToken is returned when the backend accepted the credentials but issued no token.
	ErrEmptyToken = errors.New("backend issued an empty token")
)

// TokenStore is the single persisted token slot. Load returns sentinel.ErrNotFound
// when nothing is stored; Delete of an empty slot succeeds.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// CredentialClient performs the backend half of login and restore validation.
type CredentialClient interface {
	Authenticate(ctx context.Context, creds models.Credentials) (*models.Token, error)
	CurrentUser(ctx context.Context, token string) (*models.User, error)
}

// RestorePolicy decides what a persisted token is worth at startup.
type RestorePolicy int

const (
	// RestoreVerify discards locally expired JWTs and asks the backend to confirm the rest.
	RestoreVerify RestorePolicy = iota
	// RestoreTrustPresence treats any persisted token as an authenticated session.
	RestoreTrustPresence
)

func (p RestorePolicy) String() string {
	switch p {
	case RestoreVerify:
		return "verify"
	case RestoreTrustPresence:
		return "presence"
	default:
		return fmt.Sprintf("RestorePolicy(%d)", int(p))
	}
}

// ParseRestorePolicy accepts "verify" and "presence".
func ParseRestorePolicy(s string) (RestorePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "verify":
		return RestoreVerify, nil
	case "presence", "trust-presence":
		return RestoreTrustPresence, nil
	default:
		return 0, fmt.Errorf("unknown restore policy %q", s)
	}
}

// Restore outcomes recorded in metrics and logs.
const (
	restoreEmpty    = "empty"
	restoreTrusted  = "trusted"
	restoreVerified = "verified"
	restoreExpired  = "expired"
	restoreRejected = "rejected"
	restoreStale    = "stale"
	restoreError    = "error"
)

// Manager owns the client's session: the persisted token, the authenticated flag and,
// when known, the user the token belongs to. Store and in-memory state are only ever
// changed together under mu.
type Manager struct {
	store   TokenStore
	creds   CredentialClient
	policy  RestorePolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock

	mu            sync.Mutex
	token         string
	user          *models.User
	authenticated bool
	gen           uint64
}

// Option configures a Manager.
type Option func(*Manager)

func WithRestorePolicy(p RestorePolicy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock sets the clock used for the local token expiry check.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func New(store TokenStore, creds CredentialClient, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		creds:  creds,
		policy: RestoreVerify,
		logger: logger.Nop(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Login exchanges the credentials for a token and persists it. On any failure the
// previous session, if any, is left untouched.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		m.metrics.ObserveLogin("invalid")
		return ErrMissingCredentials
	}

	tok, err := m.creds.Authenticate(ctx, models.Credentials{Email: email, Password: password})
	if err != nil {
		m.metrics.ObserveLogin(string(httpclient.GetCategory(err)))
		m.logger.InfoContext(ctx, "login failed", "category", httpclient.GetCategory(err), "error", err)
		return fmt.Errorf("login: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		m.metrics.ObserveLogin("empty_token")
		return ErrEmptyToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Save(ctx, tok.AccessToken); err != nil {
		m.metrics.ObserveLogin("store")
		m.logger.ErrorContext(ctx, "persist token failed", "error", err)
		return fmt.Errorf("persist token: %w", err)
	}
	m.token = tok.AccessToken
	m.user = nil
	m.authenticated = true
	m.gen++

	m.metrics.ObserveLogin("success")
	m.logger.InfoContext(ctx, "login succeeded")
	return nil
}

// LoginOK reports only whether Login succeeded.
func (m *Manager) LoginOK(ctx context.Context, email, password string) bool {
	return m.Login(ctx, email, password) == nil
}

// Logout ends the session. It is a no-op without one. In-memory state is cleared even
// when the store fails to delete; the error is still returned.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked()
	m.metrics.ObserveLogout()
	if err := m.store.Delete(ctx); err != nil {
		m.logger.ErrorContext(ctx, "delete persisted token failed", "error", err)
		return fmt.Errorf("delete token: %w", err)
	}
	m.logger.InfoContext(ctx, "logged out")
	return nil
}

// Restore rebuilds the session from the persisted token according to the restore policy.
// Expired tokens, and tokens the backend refuses with 401, 403 or 404, end the session as
// Logout would. Any other failure is returned and keeps the persisted token for a later
// attempt.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	token, err := m.store.Load(ctx)
	gen := m.gen
	m.mu.Unlock()

	if errors.Is(err, sentinel.ErrNotFound) {
		m.observeRestore(ctx, restoreEmpty)
		return nil
	}
	if err != nil {
		m.observeRestore(ctx, restoreError)
		return fmt.Errorf("load token: %w", err)
	}

	if m.policy == RestoreTrustPresence {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			m.observeRestore(ctx, restoreStale)
			return nil
		}
		m.token = token
		m.authenticated = true
		m.observeRestore(ctx, restoreTrusted)
		return nil
	}

	if m.expired(token) {
		return m.discard(ctx, gen, restoreExpired)
	}

	user, err := m.creds.CurrentUser(ctx, token)
	if tokenRefused(err) {
		return m.discard(ctx, gen, restoreRejected)
	}
	if err != nil {
		m.observeRestore(ctx, restoreError)
		return fmt.Errorf("validate token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		m.observeRestore(ctx, restoreStale)
		return nil
	}
	m.token = token
	m.user = user
	m.authenticated = true
	m.observeRestore(ctx, restoreVerified)
	return nil
}

// IsAuthenticated reports the in-memory flag. It never touches the store or network.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// Token returns the bearer token of an authenticated session.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated {
		return "", false
	}
	return m.token, true
}

// User returns the backend-confirmed user. A session restored on presence or freshly
// logged in has no user until it is validated.
func (m *Manager) User() (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated || m.user == nil {
		return models.User{}, false
	}
	return *m.user, true
}

// Policy returns the restore policy in force.
func (m *Manager) Policy() RestorePolicy {
	return m.policy
}

// discard drops the persisted token unless a login or logout overtook the restore.
func (m *Manager) discard(ctx context.Context, gen uint64, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		m.observeRestore(ctx, restoreStale)
		return nil
	}
	m.clearLocked()
	m.observeRestore(ctx, outcome)
	if err := m.store.Delete(ctx); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// tokenRefused reports whether the backend answered that the token itself is no good.
// Other 4xx answers, such as 429 or 400, keep the token for a later attempt.
func tokenRefused(err error) bool {
	var herr *httpclient.Error
	if !errors.As(err, &herr) || herr.Category != httpclient.CategoryRejected {
		return false
	}
	switch herr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}

func (m *Manager) clearLocked() {
	m.token = ""
	m.user = nil
	m.authenticated = false
	m.gen++
}

// expired reports whether token is a JWT whose exp has passed. Opaque tokens and JWTs
// without exp are left to the backend.
func (m *Manager) expired(token string) bool {
	exp, ok := jwttoken.ExpiresAt(token)
	return ok && !m.clock.Now().Before(exp)
}

func (m *Manager) observeRestore(ctx context.Context, outcome string) {
	m.metrics.ObserveRestore(outcome)
	m.logger.InfoContext(ctx, "session restore", "policy", m.policy.String(), "outcome", outcome)
}
