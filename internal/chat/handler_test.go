package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insurance-bot/internal/dedupe"
	"insurance-bot/internal/flow"
	"insurance-bot/internal/registration"
)

type call struct {
	chatID  int64
	trigger flow.Trigger
}

type fakeFlow struct {
	calls []call
	err   error
}

func (f *fakeFlow) Handle(_ context.Context, chatID int64, t flow.Trigger) (flow.Response, error) {
	f.calls = append(f.calls, call{chatID: chatID, trigger: t})
	return flow.Response{Messages: []string{"ok"}, Stage: registration.StageWaitingForPassport}, f.err
}

func newRouter(f *fakeFlow) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(f, dedupe.NewMemory(dedupe.DefaultTTL)).RegisterRoutes(r.Group(""))
	return r
}

func postJSON(r http.Handler, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/chat/updates", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestTextUpdateIsParsed(t *testing.T) {
	f := &fakeFlow{}
	r := newRouter(f)

	resp := postJSON(r, Update{UpdateID: 1, ChatID: 42, Name: "Ann", Text: "/start"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, f.calls, 1)
	assert.Equal(t, int64(42), f.calls[0].chatID)
	assert.Equal(t, flow.Start{Name: "Ann"}, f.calls[0].trigger)

	var body flow.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"ok"}, body.Messages)
	assert.Equal(t, registration.StageWaitingForPassport, body.Stage)
}

func TestRepeatedUpdateIsNotReprocessed(t *testing.T) {
	f := &fakeFlow{}
	r := newRouter(f)

	postJSON(r, Update{UpdateID: 7, ChatID: 42, Text: "yes"})
	resp := postJSON(r, Update{UpdateID: 7, ChatID: 42, Text: "yes"})

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, f.calls, 1)
	assert.JSONEq(t, `{"duplicate":true}`, resp.Body.String())
}

func TestPhotoUpdateBecomesUpload(t *testing.T) {
	f := &fakeFlow{}
	r := newRouter(f)

	photo := []byte{0xff, 0xd8, 0xff, 0x01}
	resp := postJSON(r, Update{UpdateID: 2, ChatID: 42, Photo: base64.StdEncoding.EncodeToString(photo), FileName: "my passport.jpg"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, f.calls, 1)
	assert.Equal(t, flow.Upload{Data: photo, FileName: "my_passport.jpg"}, f.calls[0].trigger)
}

func TestInvalidUpdates(t *testing.T) {
	f := &fakeFlow{}
	r := newRouter(f)

	tests := []struct {
		name string
		body Update
	}{
		{name: "missing chat", body: Update{UpdateID: 3, Text: "/start"}},
		{name: "empty", body: Update{UpdateID: 4, ChatID: 42}},
		{name: "bad photo", body: Update{UpdateID: 5, ChatID: 42, Photo: "!!not base64"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(r, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
	assert.Empty(t, f.calls)
}

func TestFlowFailureStillAcknowledged(t *testing.T) {
	f := &fakeFlow{err: errors.New("db down")}
	r := newRouter(f)

	resp := postJSON(r, Update{UpdateID: 9, ChatID: 42, Text: "yes"})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestFailedUpdateIsProcessedOnRedelivery(t *testing.T) {
	f := &fakeFlow{err: errors.New("db down")}
	r := newRouter(f)

	postJSON(r, Update{UpdateID: 12, ChatID: 42, Text: "yes"})
	f.err = nil
	resp := postJSON(r, Update{UpdateID: 12, ChatID: 42, Text: "yes"})

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, f.calls, 2)
	assert.NotContains(t, resp.Body.String(), "duplicate")

	again := postJSON(r, Update{UpdateID: 12, ChatID: 42, Text: "yes"})
	assert.JSONEq(t, `{"duplicate":true}`, again.Body.String())
	assert.Len(t, f.calls, 2)
}

func TestMultipartUpload(t *testing.T) {
	f := &fakeFlow{}
	r := newRouter(f)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fw, err := writer.CreateFormFile("file", "vehicle.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 registration"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/chat/42/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, f.calls, 1)
	assert.Equal(t, flow.Upload{Data: []byte("%PDF-1.4 registration"), FileName: "vehicle.pdf"}, f.calls[0].trigger)
}

func TestMultipartUploadRequiresFile(t *testing.T) {
	f := &fakeFlow{}
	r := newRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/chat/abc/documents", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, f.calls)
}
