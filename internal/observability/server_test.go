package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServerEndpoints(t *testing.T) {
	var notReady error
	mux := newMux(func() error { return notReady })

	tests := []struct {
		name     string
		path     string
		notReady error
		wantCode int
		wantBody string
	}{
		{"healthz", "/healthz", nil, http.StatusOK, "ok"},
		{"readyz", "/readyz", nil, http.StatusOK, "ready"},
		{"readyz not ready", "/readyz", errors.New("kafka unavailable"), http.StatusServiceUnavailable, "kafka unavailable"},
		{"metrics", "/metrics", nil, http.StatusOK, "go_goroutines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notReady = tt.notReady
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
		})
	}
}

func TestServer_NilReady(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
