package contentstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEnvelope() domain.EncryptedEnvelope {
	return domain.EncryptedEnvelope{
		Version:    1,
		Ciphertext: []byte("ciphertext-with-tag"),
		IV:         []byte("0123456789ab"),
		PublicMetadata: domain.PublicMetadata{
			PatientID:     "0xabc",
			HospitalID:    "0xdef",
			Timestamp:     1700000000,
			RecordType:    "medical_record",
			DiagnosisCode: "J20.9",
		},
	}
}

func newTestClient(url string) *Client {
	return NewClient(Options{BaseURL: url, Token: "tok", Timeout: 2 * time.Second, MaxEnvelopeBytes: 4096}, zap.NewNop())
}

func TestUpload_Success(t *testing.T) {
	var got PinRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pin", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contentId":"Qm123","timestamp":"2024-03-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Upload(context.Background(), testEnvelope(), "record-1", map[string]string{"diagnosisCode": "J20.9"})
	require.NoError(t, err)
	assert.Equal(t, "Qm123", res.ContentID)
	assert.Equal(t, "2024-03-01T00:00:00Z", res.RemoteTimestamp)

	assert.Equal(t, "record-1", got.Name)
	assert.Equal(t, "J20.9", got.Tags["diagnosisCode"])
	assert.Equal(t, testEnvelope(), got.Content)
}

func TestUpload_ErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		want      error
		retryable bool
	}{
		{http.StatusRequestEntityTooLarge, ErrStoreRejected, false},
		{http.StatusBadRequest, ErrStoreRejected, false},
		{http.StatusUnauthorized, ErrStoreUnavailable, true},
		{http.StatusServiceUnavailable, ErrStoreUnavailable, true},
		{http.StatusTooManyRequests, ErrStoreUnavailable, true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		_, err := newTestClient(srv.URL).Upload(context.Background(), testEnvelope(), "n", nil)
		srv.Close()

		require.Error(t, err, "status %d", tc.status)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		assert.Equal(t, tc.retryable, IsRetryable(err), "status %d", tc.status)
		assert.Contains(t, err.Error(), "nope")
	}
}

func TestUpload_TooLargeRejectedLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	env := testEnvelope()
	env.Ciphertext = make([]byte, 8192)
	_, err := newTestClient(srv.URL).Upload(context.Background(), env, "big", nil)
	assert.ErrorIs(t, err, ErrStoreRejected)
	assert.False(t, called)
}

func TestUpload_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Upload(context.Background(), testEnvelope(), "n", nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, IsRetryable(err))
}

func TestFetch(t *testing.T) {
	envJSON, _ := json.Marshal(testEnvelope())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/Qm123":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(envJSON)
		case "/ipfs/QmBroken":
			_, _ = w.Write([]byte("not json"))
		case "/ipfs/QmDown":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not pinned"}`))
		}
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)
	ctx := context.Background()

	env, err := c.FetchEnvelope(ctx, "Qm123")
	require.NoError(t, err)
	assert.Equal(t, testEnvelope(), env)

	_, err = c.Fetch(ctx, "QmMissing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsRetryable(err))

	_, err = c.Fetch(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Fetch(ctx, "QmDown")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = c.FetchEnvelope(ctx, "QmBroken")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetch_UsesGatewayURL(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer gw.Close()

	c := NewClient(Options{BaseURL: "http://127.0.0.1:1", GatewayURL: gw.URL}, zap.NewNop())
	b, err := c.Fetch(context.Background(), "Qm1")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}
