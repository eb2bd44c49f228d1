package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/gustavo/lendctl/internal/errors"
)

func TestGetJSONDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	var out struct {
		Value int `json:"value"`
	}
	if err := New(2*time.Second, 0).GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.Value != 42 {
		t.Fatalf("unexpected decoded value: %d", out.Value)
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"value": 1}`))
	}))
	defer srv.Close()

	var out struct {
		Value int `json:"value"`
	}
	if err := New(2*time.Second, 3).GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGetJSONMapsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := New(2*time.Second, 2).GetJSON(context.Background(), srv.URL, nil)
	if clierr.CodeOf(err) != clierr.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestGetJSONExhaustsRetriesOnRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := New(2*time.Second, 1).GetJSON(context.Background(), srv.URL, nil)
	if clierr.CodeOf(err) != clierr.CodeRateLimited {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}
