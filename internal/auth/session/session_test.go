package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"gabizap/internal/auth/models"
	"gabizap/internal/auth/session/mocks"
	"gabizap/internal/platform/httpclient"
	"gabizap/internal/platform/metrics"
	"gabizap/pkg/platform/sentinel"
)

// ManagerSuite covers the Manager's state transitions against mocked store and backend.
// Scenario tests against the fake backend live in session_scenario_test.go.
type ManagerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	mockStore *mocks.MockTokenStore
	mockCreds *mocks.MockCredentialClient
	clock     *clockwork.FakeClock
	metrics   *metrics.Metrics
	manager   *Manager
}

func (s *ManagerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockTokenStore(s.ctrl)
	s.mockCreds = mocks.NewMockCredentialClient(s.ctrl)
	s.clock = clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.manager = s.newManager()
}

func (s *ManagerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) newManager(opts ...Option) *Manager {
	base := []Option{WithClock(s.clock), WithMetrics(s.metrics)}
	return New(s.mockStore, s.mockCreds, append(base, opts...)...)
}

func (s *ManagerSuite) signedToken(exp time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin@example.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString([]byte("test-key"))
	s.Require().NoError(err)
	return signed
}

func (s *ManagerSuite) TestLogin() {
	ctx := context.Background()
	creds := models.Credentials{Email: "admin@example.com", Password: "admin"}

	s.Run("success persists token and sets flag", func() {
		s.mockCreds.EXPECT().Authenticate(gomock.Any(), creds).Return(&models.Token{AccessToken: "tok-1", TokenType: "bearer"}, nil)
		s.mockStore.EXPECT().Save(gomock.Any(), "tok-1").Return(nil)

		s.Require().NoError(s.manager.Login(ctx, creds.Email, creds.Password))

		s.True(s.manager.IsAuthenticated())
		token, ok := s.manager.Token()
		s.True(ok)
		s.Equal("tok-1", token)
		_, hasUser := s.manager.User()
		s.False(hasUser, "login alone does not resolve the user")
	})

	s.Run("rejected credentials leave prior session untouched", func() {
		rejected := httpclient.StatusError("POST /auth/token", http.StatusUnauthorized, "Incorrect email or password")
		s.mockCreds.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(nil, rejected)

		err := s.manager.Login(ctx, "x@x.com", "wrong")
		s.Require().Error(err)
		s.True(httpclient.HasCategory(err, httpclient.CategoryRejected))

		token, ok := s.manager.Token()
		s.True(ok)
		s.Equal("tok-1", token)
	})

	s.Run("store failure is not a login", func() {
		m := s.newManager()
		s.mockCreds.EXPECT().Authenticate(gomock.Any(), creds).Return(&models.Token{AccessToken: "tok-2"}, nil)
		s.mockStore.EXPECT().Save(gomock.Any(), "tok-2").Return(errors.New("disk full"))

		s.Require().Error(m.Login(ctx, creds.Email, creds.Password))
		s.False(m.IsAuthenticated())
	})

	s.Run("empty token is refused", func() {
		m := s.newManager()
		s.mockCreds.EXPECT().Authenticate(gomock.Any(), creds).Return(&models.Token{}, nil)

		s.Require().ErrorIs(m.Login(ctx, creds.Email, creds.Password), ErrEmptyToken)
		s.False(m.IsAuthenticated())
	})

	s.Run("missing fields never reach the backend", func() {
		m := s.newManager()
		s.Require().ErrorIs(m.Login(ctx, "", "admin"), ErrMissingCredentials)
		s.Require().ErrorIs(m.Login(ctx, "admin@example.com", ""), ErrMissingCredentials)
		s.False(m.LoginOK(ctx, "", ""))
	})

	s.Equal(1.0, promtest.ToFloat64(s.metrics.LoginAttempts.WithLabelValues("success")))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.LoginAttempts.WithLabelValues("rejected")))
}

func (s *ManagerSuite) TestLogout() {
	ctx := context.Background()

	s.Run("without a session is a no-op", func() {
		s.mockStore.EXPECT().Delete(gomock.Any()).Return(nil)

		s.Require().NoError(s.manager.Logout(ctx))
		s.False(s.manager.IsAuthenticated())
	})

	s.Run("clears memory even if the store fails", func() {
		s.mockCreds.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(&models.Token{AccessToken: "tok"}, nil)
		s.mockStore.EXPECT().Save(gomock.Any(), "tok").Return(nil)
		s.Require().NoError(s.manager.Login(ctx, "admin@example.com", "admin"))

		s.mockStore.EXPECT().Delete(gomock.Any()).Return(errors.New("read-only fs"))
		s.Require().Error(s.manager.Logout(ctx))

		s.False(s.manager.IsAuthenticated())
		_, ok := s.manager.Token()
		s.False(ok)
	})
}

func (s *ManagerSuite) TestRestoreTrustPresence() {
	ctx := context.Background()

	s.Run("present token is trusted without a round trip", func() {
		m := s.newManager(WithRestorePolicy(RestoreTrustPresence))
		s.mockStore.EXPECT().Load(gomock.Any()).Return("opaque", nil)

		s.Require().NoError(m.Restore(ctx))
		s.True(m.IsAuthenticated())
	})

	s.Run("absent token leaves session empty", func() {
		m := s.newManager(WithRestorePolicy(RestoreTrustPresence))
		s.mockStore.EXPECT().Load(gomock.Any()).Return("", sentinel.ErrNotFound)

		s.Require().NoError(m.Restore(ctx))
		s.False(m.IsAuthenticated())
	})
}

func (s *ManagerSuite) TestRestoreVerify() {
	ctx := context.Background()

	s.Run("confirmed token restores session and user", func() {
		token := s.signedToken(s.clock.Now().Add(time.Hour))
		s.mockStore.EXPECT().Load(gomock.Any()).Return(token, nil)
		s.mockCreds.EXPECT().CurrentUser(gomock.Any(), token).Return(&models.User{ID: 1, Email: "admin@example.com", IsActive: true}, nil)

		s.Require().NoError(s.manager.Restore(ctx))
		s.True(s.manager.IsAuthenticated())
		user, ok := s.manager.User()
		s.True(ok)
		s.Equal("admin@example.com", user.Email)
	})

	s.Run("expired jwt is dropped locally", func() {
		m := s.newManager()
		token := s.signedToken(s.clock.Now().Add(-time.Minute))
		s.mockStore.EXPECT().Load(gomock.Any()).Return(token, nil)
		s.mockStore.EXPECT().Delete(gomock.Any()).Return(nil)

		s.Require().NoError(m.Restore(ctx))
		s.False(m.IsAuthenticated())
	})

	s.Run("rejected token is treated as logout", func() {
		m := s.newManager()
		s.mockStore.EXPECT().Load(gomock.Any()).Return("opaque", nil)
		s.mockCreds.EXPECT().CurrentUser(gomock.Any(), "opaque").
			Return(nil, httpclient.StatusError("GET /auth/users/me", http.StatusUnauthorized, "Could not validate credentials"))
		s.mockStore.EXPECT().Delete(gomock.Any()).Return(nil)

		s.Require().NoError(m.Restore(ctx))
		s.False(m.IsAuthenticated())
	})

	s.Run("outage keeps token but not the session", func() {
		m := s.newManager()
		s.mockStore.EXPECT().Load(gomock.Any()).Return("opaque", nil)
		s.mockCreds.EXPECT().CurrentUser(gomock.Any(), "opaque").
			Return(nil, httpclient.NewError(httpclient.CategoryTransport, "GET /auth/users/me", "connection refused", nil))

		err := m.Restore(ctx)
		s.Require().Error(err)
		s.True(httpclient.IsRetryable(err))
		s.False(m.IsAuthenticated())
	})

	s.Run("store failure is surfaced", func() {
		m := s.newManager()
		s.mockStore.EXPECT().Load(gomock.Any()).Return("", errors.New("permission denied"))

		s.Require().Error(m.Restore(ctx))
		s.False(m.IsAuthenticated())
	})

	s.Equal(1.0, promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreExpired)))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreRejected)))
}

func (s *ManagerSuite) TestRestoreOvertakenByLogout() {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	s.mockStore.EXPECT().Load(gomock.Any()).Return("opaque", nil)
	s.mockCreds.EXPECT().CurrentUser(gomock.Any(), "opaque").DoAndReturn(
		func(context.Context, string) (*models.User, error) {
			close(started)
			<-release
			return &models.User{ID: 1, Email: "admin@example.com"}, nil
		})
	s.mockStore.EXPECT().Delete(gomock.Any()).Return(nil)

	done := make(chan error, 1)
	go func() { done <- s.manager.Restore(ctx) }()

	<-started
	s.Require().NoError(s.manager.Logout(ctx))
	close(release)

	s.Require().NoError(<-done)
	s.False(s.manager.IsAuthenticated(), "logout during validation wins")
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreStale)))
}

// blockValidation makes the next CurrentUser call wait for release before answering.
func (s *ManagerSuite) blockValidation(token string, user *models.User, err error) (started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	s.mockCreds.EXPECT().CurrentUser(gomock.Any(), token).DoAndReturn(
		func(context.Context, string) (*models.User, error) {
			close(started)
			<-release
			return user, err
		})
	return started, release
}

func (s *ManagerSuite) TestRestoreOvertakenByLogin() {
	ctx := context.Background()

	s.mockStore.EXPECT().Load(gomock.Any()).Return("old-token", nil)
	started, release := s.blockValidation("old-token", &models.User{ID: 7, Email: "old@example.com"}, nil)
	s.mockCreds.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(&models.Token{AccessToken: "new-token"}, nil)
	s.mockStore.EXPECT().Save(gomock.Any(), "new-token").Return(nil)

	done := make(chan error, 1)
	go func() { done <- s.manager.Restore(ctx) }()

	<-started
	s.Require().NoError(s.manager.Login(ctx, "admin@example.com", "admin"))
	close(release)

	s.Require().NoError(<-done)
	s.True(s.manager.IsAuthenticated())
	token, ok := s.manager.Token()
	s.True(ok)
	s.Equal("new-token", token)
	_, hasUser := s.manager.User()
	s.False(hasUser, "user resolved for the old token must not attach to the new session")
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreStale)))
	s.Zero(promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreVerified)))
}

func (s *ManagerSuite) TestRejectedRestoreOvertakenByLogin() {
	ctx := context.Background()
	refused := httpclient.StatusError("GET /auth/users/me", http.StatusUnauthorized, "Could not validate credentials")

	s.mockStore.EXPECT().Load(gomock.Any()).Return("old-token", nil)
	started, release := s.blockValidation("old-token", nil, refused)
	s.mockCreds.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(&models.Token{AccessToken: "new-token"}, nil)
	s.mockStore.EXPECT().Save(gomock.Any(), "new-token").Return(nil)
	// No Delete: the refused token is already gone and the new one must survive.

	done := make(chan error, 1)
	go func() { done <- s.manager.Restore(ctx) }()

	<-started
	s.Require().NoError(s.manager.Login(ctx, "admin@example.com", "admin"))
	close(release)

	s.Require().NoError(<-done)
	s.True(s.manager.IsAuthenticated())
	token, ok := s.manager.Token()
	s.True(ok)
	s.Equal("new-token", token)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreStale)))
	s.Zero(promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreRejected)))
}

func (s *ManagerSuite) TestRestoreClientErrorStatuses() {
	ctx := context.Background()

	for _, tc := range []struct {
		status int
		logout bool
	}{
		{status: http.StatusUnauthorized, logout: true},
		{status: http.StatusForbidden, logout: true},
		{status: http.StatusNotFound, logout: true},
		{status: http.StatusBadRequest},
		{status: http.StatusRequestTimeout},
		{status: http.StatusTooManyRequests},
	} {
		s.Run(http.StatusText(tc.status), func() {
			m := s.newManager()
			s.mockStore.EXPECT().Load(gomock.Any()).Return("opaque", nil)
			s.mockCreds.EXPECT().CurrentUser(gomock.Any(), "opaque").
				Return(nil, httpclient.StatusError("GET /auth/users/me", tc.status, http.StatusText(tc.status)))
			if tc.logout {
				s.mockStore.EXPECT().Delete(gomock.Any()).Return(nil)
			}

			err := m.Restore(ctx)
			if tc.logout {
				s.Require().NoError(err)
			} else {
				s.Require().Error(err)
				s.True(httpclient.HasCategory(err, httpclient.CategoryRejected))
			}
			s.False(m.IsAuthenticated())
		})
	}

	s.Equal(3.0, promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreRejected)))
	s.Equal(3.0, promtest.ToFloat64(s.metrics.Restores.WithLabelValues(restoreError)))
}

func TestParseRestorePolicy(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want RestorePolicy
		err  bool
	}{
		{in: "", want: RestoreVerify},
		{in: "verify", want: RestoreVerify},
		{in: " Presence ", want: RestoreTrustPresence},
		{in: "trust-presence", want: RestoreTrustPresence},
		{in: "always", err: true},
	} {
		got, err := ParseRestorePolicy(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("ParseRestorePolicy(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseRestorePolicy(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}
