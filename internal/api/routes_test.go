package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func testServer(t *testing.T, adminToken string) *Server {
	t.Helper()
	// nil collaborators are fine for routing and middleware tests: every
	// request below is rejected by validation or auth before a handler
	// touches them.
	return NewServer(nil, nil, nil, ":0", adminToken, 0, 0, nil)
}

func TestRegisteredRoutes(t *testing.T) {
	t.Parallel()

	s := testServer(t, "secret")
	router := s.httpServer.Handler.(*mux.Router)

	cases := []struct {
		method string
		path   string
	}{
		{"POST", "/jobs"},
		{"GET", "/jobs"},
		{"GET", "/jobs/failed"},
		{"DELETE", "/jobs/clear-all"},
		{"GET", "/jobs/queue-status"},
		{"GET", "/jobs/abc-123"},
		{"DELETE", "/jobs/abc-123"},
		{"GET", "/jobs/abc-123/logs"},
		{"GET", "/jobs/abc-123/service-logs"},
		{"GET", "/health"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		var match mux.RouteMatch
		if !router.Match(req, &match) {
			t.Errorf("missing route: %s %s", tc.method, tc.path)
		}
	}
}

func TestSubmitRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	s := testServer(t, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/jobs", strings.NewReader("{not json"))
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	s := testServer(t, "")
	body := `{"action":"mine_gold","type":"retry","intervalMinutes":1}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/jobs", strings.NewReader(body))
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unknown action") {
		t.Fatalf("expected an unknown-action message, got %s", rec.Body.String())
	}
}

func TestSubmitRejectsMissingSchedule(t *testing.T) {
	t.Parallel()

	s := testServer(t, "")
	body := `{"action":"wallet_snapshot","type":"scheduled"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/jobs", strings.NewReader(body))
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scheduledAt") {
		t.Fatalf("expected a scheduledAt message, got %s", rec.Body.String())
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	t.Parallel()

	s := testServer(t, "secret")
	handler := s.httpServer.Handler

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestAdminSurfaceDisabledWithoutToken(t *testing.T) {
	t.Parallel()

	s := testServer(t, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/jobs", nil)
	req.Header.Set("Authorization", "Bearer anything")
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when no admin token is configured, got %d", rec.Code)
	}
}

func TestOptionsPreflightShortCircuits(t *testing.T) {
	t.Parallel()

	s := testServer(t, "secret")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/jobs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS allow-origin header, got %q", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	s := testServer(t, "")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}
