package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chainwatch/internal/models"
)

func TestAdapter_tryFetch_itemsShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"hash":"0x1"},{"hash":"0x2"}]}`))
	}))
	defer srv.Close()

	a := New(time.Second)
	page, ok, _ := a.tryFetch(context.Background(), srv.URL)
	if !ok {
		t.Fatal("expected tryFetch to succeed")
	}
	if len(page.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(page.Items))
	}
}

func TestAdapter_tryFetch_transfersShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transfers":[{"hash":"0xabc"}]}`))
	}))
	defer srv.Close()

	a := New(time.Second)
	page, ok, _ := a.tryFetch(context.Background(), srv.URL)
	if !ok {
		t.Fatal("expected tryFetch to succeed")
	}
	if len(page.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(page.Items))
	}
}

func TestAdapter_tryFetch_unexpectedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"unrelated":true}`))
	}))
	defer srv.Close()

	a := New(time.Second)
	_, ok, _ := a.tryFetch(context.Background(), srv.URL)
	if ok {
		t.Error("expected tryFetch to reject a body with no items/transfers key")
	}
}

func TestAdapter_tryFetch_non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := New(time.Second)
	_, ok, _ := a.tryFetch(context.Background(), srv.URL)
	if ok {
		t.Error("expected tryFetch to fail on non-200")
	}
}

func TestAdapter_fetchCandidates_allNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := New(time.Second)
	_, err := a.fetchCandidates(context.Background(), "0xabc", []string{srv.URL, srv.URL, srv.URL})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdapter_fetchCandidates_mixedFailure(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()
	serverErr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer serverErr.Close()

	a := New(time.Second)
	page, err := a.fetchCandidates(context.Background(), "0xabc", []string{notFound.URL, serverErr.URL})
	if err != nil {
		t.Fatalf("expected no error (degrade to SERVICE_UNAVAILABLE), got %v", err)
	}
	if page.DataQuality != models.QualityServiceUnavailable {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %v", page.DataQuality)
	}
}

func TestAdapter_FetchLatest_unknownNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(time.Second)
	// Force an invalid network so ResolveEndpoint fails fast and we assert
	// the plumbing, not the real (non-existent) upstream.
	_, err := a.FetchLatest(context.Background(), "0xabc", models.KindWallet, models.Network("unknown"), 0)
	if err == nil || !strings.Contains(err.Error(), "unknown network") {
		t.Fatalf("expected unknown network error, got %v", err)
	}
}

func TestAdapter_fetchCandidates_fallsBackToLaterCandidate(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"hash":"0x1"}]}`))
	}))
	defer good.Close()

	a := New(time.Second)
	page, err := a.fetchCandidates(context.Background(), "0xabc", []string{bad.URL, good.URL})
	if err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if len(page.Items) != 1 || page.DataQuality != models.QualityComplete {
		t.Fatalf("expected the second candidate's page, got %+v", page)
	}
}
