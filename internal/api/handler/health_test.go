package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		db     error
		cache  error
		status int
	}{
		{"all ok", nil, nil, http.StatusOK},
		{"database down", errors.New("dial tcp"), nil, http.StatusServiceUnavailable},
		{"cache down", nil, errors.New("dial tcp"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(pinger{tt.db}, pinger{tt.cache}).ServeHTTP(rec,
				httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHealth_DegradedDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(pinger{}, pinger{errors.New("refused")}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	code, details := decodeError(t, rec)
	require.Equal(t, "DEGRADED", code)
	assert.Equal(t, "ok", details["database"])
	assert.Equal(t, "degraded", details["cache"])
}
