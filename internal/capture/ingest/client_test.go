package ingest

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gabizap/internal/capture"
	"gabizap/internal/platform/httpclient"
	"gabizap/pkg/testutil/fakebackend"
)

type staticToken string

func (s staticToken) Token() (string, bool) { return string(s), s != "" }

func sampleJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	return buf.Bytes()
}

func newClient(t *testing.T, backend *fakebackend.Backend, token string) *Client {
	t.Helper()
	hc, err := httpclient.New("ingest", backend.URL(), httpclient.WithTimeout(2*time.Second))
	require.NoError(t, err)
	return New(hc, staticToken(token))
}

func TestSubmit(t *testing.T) {
	backend := fakebackend.New(t, fakebackend.WithAccount("admin@example.com", "admin"))
	token := backend.IssueToken("admin@example.com", time.Hour)
	ctx := context.Background()

	for _, kind := range []capture.Kind{capture.KindIris, capture.KindHand} {
		t.Run(string(kind)+" capture returns descriptor", func(t *testing.T) {
			desc, err := newClient(t, backend, token).Submit(ctx, kind, sampleJPEG(t))
			require.NoError(t, err)
			assert.Equal(t, []float64{0.12, 0.34, 0.56, 0.78}, desc.Embedding)
			assert.Equal(t, "v1", desc.Version)
		})
	}

	t.Run("missing session never calls the engine", func(t *testing.T) {
		before := backend.Submissions()
		_, err := newClient(t, backend, "").Submit(ctx, capture.KindIris, sampleJPEG(t))
		require.ErrorIs(t, err, ErrUnauthenticated)
		assert.Equal(t, before, backend.Submissions())
	})

	t.Run("revoked token is rejected", func(t *testing.T) {
		revoked := backend.IssueToken("admin@example.com", time.Hour)
		backend.Revoke(revoked)
		_, err := newClient(t, backend, revoked).Submit(ctx, capture.KindIris, sampleJPEG(t))
		require.Error(t, err)
		assert.Equal(t, httpclient.CategoryRejected, httpclient.GetCategory(err))
	})

	t.Run("engine failure is unavailable", func(t *testing.T) {
		backend.FailWith("/iris/embed", http.StatusInternalServerError)
		t.Cleanup(func() { backend.FailWith("/iris/embed", 0) })

		_, err := newClient(t, backend, token).Submit(ctx, capture.KindIris, sampleJPEG(t))
		require.Error(t, err)
		assert.Equal(t, httpclient.CategoryUnavailable, httpclient.GetCategory(err))
		assert.True(t, httpclient.IsRetryable(err))
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := newClient(t, backend, token).Submit(ctx, capture.Kind("face"), sampleJPEG(t))
		assert.Error(t, err)
	})
}

func TestSubmitNoHandDetected(t *testing.T) {
	backend := fakebackend.New(t, fakebackend.WithAccount("admin@example.com", "admin"), fakebackend.WithoutHandDetection())
	token := backend.IssueToken("admin@example.com", time.Hour)

	_, err := newClient(t, backend, token).Submit(context.Background(), capture.KindHand, sampleJPEG(t))
	assert.ErrorIs(t, err, ErrNotDetected)
}

func TestHealth(t *testing.T) {
	backend := fakebackend.New(t)
	client := newClient(t, backend, "")

	require.NoError(t, client.Health(context.Background(), capture.KindIris))
	require.NoError(t, client.Health(context.Background(), capture.KindHand))

	backend.FailWith("/hand/health", http.StatusServiceUnavailable)
	err := client.Health(context.Background(), capture.KindHand)
	assert.Equal(t, httpclient.CategoryUnavailable, httpclient.GetCategory(err))
}

func TestParseDescriptor(t *testing.T) {
	ep := "POST /iris/embed"

	_, err := parseDescriptor(ep, http.StatusOK, []byte(`{"embedding":[],"version":"v1"}`))
	assert.Equal(t, httpclient.CategoryMalformed, httpclient.GetCategory(err))

	_, err = parseDescriptor(ep, http.StatusOK, []byte(`not json`))
	assert.Equal(t, httpclient.CategoryMalformed, httpclient.GetCategory(err))

	_, err = parseDescriptor(ep, http.StatusUnprocessableEntity, []byte(`{"detail":"file is required"}`))
	require.Error(t, err)
	assert.Equal(t, httpclient.CategoryRejected, httpclient.GetCategory(err))
	assert.Contains(t, err.Error(), "file is required")
}
