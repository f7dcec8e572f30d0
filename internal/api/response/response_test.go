package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deneee3444-wq/api/internal/api/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSuccessEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, any)
		status int
	}{
		{"json", response.JSON, http.StatusOK},
		{"created", response.Created, http.StatusCreated},
		{"accepted", response.Accepted, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, map[string]string{"job_id": "j1", "status": "pending"})

			assert.Equal(t, tt.status, w.Code)
			data := decode(t, w)["data"].(map[string]any)
			assert.Equal(t, "j1", data["job_id"])
			assert.Equal(t, "pending", data["status"])
		})
	}
}

func TestCollection_JobPage(t *testing.T) {
	w := httptest.NewRecorder()
	jobs := []map[string]string{{"id": "j2", "status": "running"}, {"id": "j1", "status": "completed"}}

	response.Collection(w, jobs, response.PaginationMeta{Page: 2, Limit: 2, Total: 5, HasNext: true})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["data"], 2)
	m := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), m["page"])
	assert.Equal(t, float64(5), m["total"])
	assert.Equal(t, true, m["has_next"])
}

func TestError_SubmissionRejections(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{response.CodeNoCredentials, http.StatusServiceUnavailable},
		{response.CodeAtCapacity, http.StatusTooManyRequests},
		{response.CodeSpeechUnavailable, http.StatusServiceUnavailable},
		{response.CodeUpstreamUnavailable, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			response.Error(w, tt.status, tt.code, "rejected", nil)

			assert.Equal(t, tt.status, w.Code)
			errObj := decode(t, w)["error"].(map[string]any)
			assert.Equal(t, tt.code, errObj["code"])
			assert.Equal(t, "rejected", errObj["message"])
			_, hasDetails := errObj["details"]
			assert.False(t, hasDetails)
		})
	}
}

func TestError_ValidationDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Request validation failed",
		map[string]string{"Prompt": "required", "Stability": "max"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "INVALID_REQUEST", errObj["code"])
	assert.Equal(t, map[string]any{"Prompt": "required", "Stability": "max"}, errObj["details"])
}

func TestInternal_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	response.Internal(w, r, errors.New("claim credential: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Equal(t, "INTERNAL_ERROR", decode(t, w)["error"].(map[string]any)["code"])
}
