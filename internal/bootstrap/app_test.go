package bootstrap_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insurance-bot/internal/bootstrap"
	"insurance-bot/internal/flow"
	"insurance-bot/internal/llm"
	"insurance-bot/internal/policy"
	"insurance-bot/internal/registration"
	"insurance-bot/internal/shared/config"
)

type pdfStub struct {
	rendered []policy.Document
}

func (p *pdfStub) Render(_ context.Context, d policy.Document) ([]byte, error) {
	p.rendered = append(p.rendered, d)
	return []byte("%PDF-1.7 " + d.PolicyNumber), nil
}

func buildApp(t *testing.T) *bootstrap.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	app, err := bootstrap.Build(context.Background(), config.Config{
		Env:               "dev",
		ObjectStoreType:   "local",
		LocalStoreDir:     t.TempDir(),
		LLMProvider:       "none",
		NotifierType:      "log",
		MaxUploadAttempts: 5,
		ExtractionMode:    "simulate",
		JWTSecret:         "test-secret",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func send(t *testing.T, app *bootstrap.App, update map[string]any) flow.Response {
	t.Helper()
	raw, err := json.Marshal(update)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/updates", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out flow.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChatFlowEndToEnd(t *testing.T) {
	app := buildApp(t)
	pdf := &pdfStub{}
	app.Flow.Renderer = pdf
	photo := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	out := send(t, app, map[string]any{"update_id": 1, "chat_id": 5, "name": "John", "text": "/start"})
	assert.Equal(t, registration.StageWaitingForPassport, out.Stage)

	out = send(t, app, map[string]any{"update_id": 2, "chat_id": 5, "photo": photo("passport")})
	assert.Equal(t, registration.StageWaitingForVehicle, out.Stage)

	out = send(t, app, map[string]any{"update_id": 3, "chat_id": 5, "photo": photo("vehicle")})
	assert.Equal(t, registration.StageWaitingForReview, out.Stage)

	out = send(t, app, map[string]any{"update_id": 4, "chat_id": 5, "text": "yes"})
	assert.Equal(t, registration.StageWaitingForPayment, out.Stage)

	out = send(t, app, map[string]any{"update_id": 5, "chat_id": 5, "text": "yes"})
	assert.Equal(t, registration.StageFinished, out.Stage)
	assert.Regexp(t, `^policy_[0-9A-F]{10}\.pdf$`, out.Document)
	require.Len(t, pdf.rendered, 1)
	assert.Equal(t, llm.DefaultPolicyNarrative, pdf.rendered[0].Narrative)

	out = send(t, app, map[string]any{"update_id": 6, "chat_id": 5, "text": "what does the policy cover?"})
	assert.Equal(t, []string{llm.GenericReply}, out.Messages)

	stats, err := app.Gateway.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PoliciesIssued)
}

func TestAdminStatsRequiresToken(t *testing.T) {
	app := buildApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	token, err := app.Signer.SignAdmin("ops", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	app := buildApp(t)
	for _, path := range []string{"/health", "/metrics"} {
		resp := httptest.NewRecorder()
		app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestBuildRejectsUnknownExtractionMode(t *testing.T) {
	_, err := bootstrap.Build(context.Background(), config.Config{
		Env:             "dev",
		ObjectStoreType: "memory",
		ExtractionMode:  "ocr",
	})
	assert.Error(t, err)
}
