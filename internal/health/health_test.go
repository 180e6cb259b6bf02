package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	Healthz(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok\n" {
		t.Errorf("Healthz = %d %q, want 200 \"ok\\n\"", w.Code, w.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	ready := false
	handler := Readyz(func() bool { return ready })

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready: status = %d, want 503", w.Code)
	}

	ready = true
	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ready\n" {
		t.Errorf("ready: got %d %q", w.Code, w.Body.String())
	}
}
