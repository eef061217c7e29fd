package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyStrict(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr error
	}{
		{"ok", `{"id":"evt_1"}`, 1024, nil},
		{"empty", "", 1024, ErrEmptyBody},
		{"too large", strings.Repeat("x", 2048), 1024, ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader(tt.body))
			body, err := ReadBodyStrict(httptest.NewRecorder(), req, tt.limit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
		})
	}
}

func TestWriteMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteMessage(rec, http.StatusNotFound, "Could not find the user")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var msg Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "Could not find the user", msg.Message)
}

func TestRateLimiter_Window(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("1.2.3.4"))
	assert.True(t, limiter.Allow("1.2.3.4"))
	assert.False(t, limiter.Allow("1.2.3.4"))
	assert.True(t, limiter.Allow("5.6.7.8"), "limits are per ip")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, limiter.Allow("1.2.3.4"), "bucket refilled")
}

func TestRateLimiter_RefillsGradually(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("1.2.3.4"))
	assert.True(t, limiter.Allow("1.2.3.4"))
	assert.False(t, limiter.Allow("1.2.3.4"))

	// One token every 30 seconds.
	now = now.Add(31 * time.Second)
	assert.True(t, limiter.Allow("1.2.3.4"))
	assert.False(t, limiter.Allow("1.2.3.4"))
}

func TestRateLimiter_CleanupRemovesStale(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(10, time.Minute)
	limiter.now = func() time.Time { return now }

	for _, ip := range []string{"a", "b", "c"} {
		limiter.Allow(ip)
	}
	now = now.Add(30 * time.Second)
	limiter.Allow("c")
	now = now.Add(45 * time.Second)
	limiter.Cleanup()

	assert.Len(t, limiter.limiters, 1)
	assert.Contains(t, limiter.limiters, "c")
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/plant-tree", nil)
		req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var ctxLogged bool
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogged = zerolog.Ctx(r.Context()).GetLevel() != zerolog.Disabled
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stripe-webhook", nil))

	requestID := rec.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, requestID)
	assert.True(t, ctxLogged, "request logger is attached to the context")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, requestID, line["request_id"])
	assert.Equal(t, "/stripe-webhook", line["path"])
	assert.Equal(t, float64(http.StatusInternalServerError), line["status"])
}

func TestRequestLogger_KeepsIncomingID(t *testing.T) {
	handler := RequestLogger(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

