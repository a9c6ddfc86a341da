// Package fakebackend serves the credential and capture-ingest contracts in-process so
// client packages can be tested against real HTTP round trips.
package fakebackend

import (
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	jwttoken "gabizap/internal/jwt_token"
)

type account struct {
	id       int64
	email    string
	fullName string
	hash     []byte
}

// Backend is a running fake gateway.
type Backend struct {
	server *httptest.Server
	tokens *jwttoken.JWTService

	mu           sync.Mutex
	accounts     map[string]account
	nextID       int64
	tokenTTL     time.Duration
	handDetected bool
	failures     map[string]int
	revoked      map[string]bool

	tokenRequests atomic.Int32
	meRequests    atomic.Int32
	submissions   atomic.Int32
}

// Option configures a Backend.
type Option func(*Backend)

// WithAccount registers an email/password pair the backend accepts.
func WithAccount(email, password string) Option {
	return func(b *Backend) { b.addAccount(email, password) }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Backend) { b.tokenTTL = ttl }
}

// WithoutHandDetection makes /hand/process answer no_hand_detected.
func WithoutHandDetection() Option {
	return func(b *Backend) { b.handDetected = false }
}

// New starts a backend that is shut down when the test ends.
func New(t testing.TB, opts ...Option) *Backend {
	t.Helper()
	b := &Backend{
		accounts:     make(map[string]account),
		tokenTTL:     time.Hour,
		handDetected: true,
		failures:     make(map[string]int),
		revoked:      make(map[string]bool),
		tokens:       jwttoken.NewJWTService("fakebackend-signing-key", "gabizap-fake"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.server = httptest.NewServer(b.Router())
	t.Cleanup(b.server.Close)
	return b
}

// URL is the base URL clients should be pointed at.
func (b *Backend) URL() string { return b.server.URL }

// Close stops the server early, e.g. to simulate an unreachable backend.
func (b *Backend) Close() { b.server.Close() }

// FailWith makes every request to path answer status until cleared with status 0.
func (b *Backend) FailWith(path string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, path)
		return
	}
	b.failures[path] = status
}

// Revoke makes the backend reject token from now on.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[token] = true
}

// IssueToken signs a token for email that expires after ttl (negative for already expired).
func (b *Backend) IssueToken(email string, ttl time.Duration) string {
	token, err := b.tokens.GenerateAccessToken(email, ttl)
	if err != nil {
		panic(err)
	}
	return token
}

func (b *Backend) TokenRequests() int { return int(b.tokenRequests.Load()) }
func (b *Backend) MeRequests() int    { return int(b.meRequests.Load()) }
func (b *Backend) Submissions() int   { return int(b.submissions.Load()) }

// Router exposes the handler so it can be exercised without a listener.
func (b *Backend) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(b.injectFailures)

	r.Get("/health", healthHandler("api-gateway"))
	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", b.handleToken)
		r.With(counting(&b.meRequests), b.requireBearer).Get("/users/me", b.handleMe)
	})
	r.Route("/iris", func(r chi.Router) {
		r.Get("/health", healthHandler("iris-engine"))
		r.With(b.requireBearer).Post("/embed", b.handleCapture(false))
	})
	r.Route("/hand", func(r chi.Router) {
		r.Get("/health", healthHandler("hand-engine"))
		r.With(b.requireBearer).Post("/process", b.handleCapture(true))
	})
	return r
}

func (b *Backend) addAccount(email, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	b.nextID++
	b.accounts[strings.ToLower(email)] = account{
		id:       b.nextID,
		email:    email,
		fullName: strings.Split(email, "@")[0],
		hash:     hash,
	}
}

func (b *Backend) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status, ok := b.failures[r.URL.Path]
		b.mu.Unlock()
		if ok {
			writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleToken(w http.ResponseWriter, r *http.Request) {
	b.tokenRequests.Add(1)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "email and password are required"})
		return
	}

	b.mu.Lock()
	acct, ok := b.accounts[strings.ToLower(req.Email)]
	ttl := b.tokenTTL
	b.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": b.IssueToken(acct.email, ttl),
		"token_type":   "bearer",
	})
}

// counting records every request that reaches the route, authorized or not.
func counting(n *atomic.Int32) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n.Add(1)
			next.ServeHTTP(w, r)
		})
	}
}

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		email, err := b.verify(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}
		r.Header.Set("X-Fake-Subject", email)
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) verify(raw string) (string, error) {
	b.mu.Lock()
	revoked := b.revoked[raw]
	b.mu.Unlock()
	if revoked {
		return "", errors.New("revoked")
	}

	claims, err := b.tokens.ValidateToken(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	email := r.Header.Get("X-Fake-Subject")
	b.mu.Lock()
	acct, ok := b.accounts[strings.ToLower(email)]
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        acct.id,
		"email":     acct.email,
		"full_name": acct.fullName,
		"is_active": true,
	})
}

func (b *Backend) handleCapture(hand bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.submissions.Add(1)

		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "file is required"})
			return
		}
		defer file.Close()
		if _, err := jpeg.DecodeConfig(file); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Processing failed"})
			return
		}

		b.mu.Lock()
		detected := b.handDetected
		b.mu.Unlock()
		if hand && !detected {
			writeJSON(w, http.StatusOK, map[string]string{"status": "no_hand_detected"})
			return
		}

		embedding := []float64{0.12, 0.34, 0.56, 0.78}
		writeJSON(w, http.StatusOK, map[string]any{"embedding": embedding, "version": "v1"})
	}
}

func healthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": service})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
