package gin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gongin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/treemeter/pkg/api"
	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

type fakeService struct {
	user      *treemeter.User
	err       error
	ack       string
	payload   []byte
	signature string
	apiKey    string
	trees     string
}

func (f *fakeService) PlantTrees(ctx context.Context, apiKey, trees string) (*treemeter.User, error) {
	f.apiKey, f.trees = apiKey, trees
	return f.user, f.err
}

func (f *fakeService) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	f.payload, f.signature = payload, signature
	return f.ack, f.err
}

func setupRouter(svc api.Service, maxBody int64) *gongin.Engine {
	gongin.SetMode(gongin.TestMode)
	r := gongin.New()
	Register(r, Config{Service: svc, MaxBodyBytes: maxBody})
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func TestRegister_RequiresService(t *testing.T) {
	assert.Panics(t, func() { PlantTree(Config{}) })
	assert.Panics(t, func() { StripeWebhook(Config{}) })
}

func TestPlantTree(t *testing.T) {
	svc := &fakeService{user: &treemeter.User{Trees: 7}}
	r := setupRouter(svc, 0)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/plant-tree?apiKey=key_1&trees=2", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trees":7}`, rec.Body.String())
	assert.Equal(t, "key_1", svc.apiKey)
	assert.Equal(t, "2", svc.trees)
}

func TestPlantTree_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"bad request", treemeter.BadRequest("Missing `apiKey` query parameter"), http.StatusBadRequest, "Missing `apiKey` query parameter"},
		{"not found", treemeter.NotFound("Could not find the user"), http.StatusNotFound, "Could not find the user"},
		{"internal", errors.New("connection refused"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(&fakeService{err: tt.err}, 0)
			rec := serve(r, httptest.NewRequest(http.MethodGet, "/plant-tree", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, message(t, rec))
		})
	}
}

func TestStripeWebhook(t *testing.T) {
	svc := &fakeService{ack: treemeter.AckSubscriptionRemoved}
	r := setupRouter(svc, 0)

	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set(api.SignatureHeader, "t=1,v1=abc")
	rec := serve(r, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, treemeter.AckSubscriptionRemoved, message(t, rec))
	assert.Equal(t, `{"id":"evt_1"}`, string(svc.payload))
	assert.Equal(t, "t=1,v1=abc", svc.signature)
}

func TestStripeWebhook_Errors(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		r := setupRouter(&fakeService{err: treemeter.BadRequest("no signatures found")}, 0)
		rec := serve(r, httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader("{}")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		svc := &fakeService{}
		r := setupRouter(svc, 8)
		rec := serve(r, httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader(strings.Repeat("x", 64))))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Nil(t, svc.payload)
	})

	t.Run("empty", func(t *testing.T) {
		r := setupRouter(&fakeService{}, 0)
		rec := serve(r, httptest.NewRequest(http.MethodPost, "/stripe-webhook", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	r := setupRouter(&fakeService{}, 0)
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
