package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/rs/zerolog"
)

func TestHTTPClient_HeaderInjection(t *testing.T) {
	var capturedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, Credentials{Token: "test-token-123"}, zerolog.Nop())
	client.SetLiveClient("live-7")

	req, _ := http.NewRequest("GET", server.URL+"/test", nil)
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if auth := capturedHeaders.Get("Authorization"); auth != "Bearer test-token-123" {
		t.Errorf("unexpected Authorization header: %s", auth)
	}
	if live := capturedHeaders.Get(LiveClientHeader); live != "live-7" {
		t.Errorf("unexpected %s header: %s", LiveClientHeader, live)
	}
	if corr := capturedHeaders.Get("X-Correlation-ID"); corr == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestHTTPClient_DevMode(t *testing.T) {
	var capturedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, Credentials{DevSub: "dev-user-123"}, zerolog.Nop())

	req, _ := http.NewRequest("GET", server.URL+"/test", nil)
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if debugSub := capturedHeaders.Get("X-Debug-Sub"); debugSub != "dev-user-123" {
		t.Errorf("unexpected X-Debug-Sub header: %s", debugSub)
	}
	if auth := capturedHeaders.Get("Authorization"); auth != "" {
		t.Errorf("unexpected Authorization header in dev mode: %s", auth)
	}
	if live := capturedHeaders.Get(LiveClientHeader); live != "" {
		t.Errorf("live client header sent before welcome: %s", live)
	}
}

func TestHTTPClient_SetCredentials(t *testing.T) {
	var capturedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, Credentials{DevSub: "alice"}, zerolog.Nop())
	client.SetCredentials(Credentials{Token: "bob-token"})

	req, _ := http.NewRequest("GET", server.URL+"/test", nil)
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if auth := capturedHeaders.Get("Authorization"); auth != "Bearer bob-token" {
		t.Errorf("unexpected Authorization header: %s", auth)
	}
	if debugSub := capturedHeaders.Get("X-Debug-Sub"); debugSub != "" {
		t.Errorf("construction credentials leaked: X-Debug-Sub %s", debugSub)
	}
}

func TestHTTPClient_Retry429(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("retry lost request body: %q", body)
		}
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, Credentials{DevSub: "u"}, zerolog.Nop())
	client.backoff = time.Millisecond

	req, _ := http.NewRequest("POST", server.URL+"/test", stringBody("payload"))
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after retries, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_RateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, Credentials{DevSub: "u"}, zerolog.Nop())
	client.backoff = time.Millisecond

	req, _ := http.NewRequest("GET", server.URL+"/test", nil)
	_, err := client.Do(context.Background(), req)
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if !errors.Is(err, catalog.ErrNetwork) {
		t.Errorf("exhausted rate limit should be a network error, got %v", err)
	}
}

func TestHTTPClient_TransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewHTTPClient(url, Credentials{DevSub: "u"}, zerolog.Nop())
	req, _ := http.NewRequest("GET", url+"/product", nil)
	_, err := client.Do(context.Background(), req)
	if !errors.Is(err, catalog.ErrNetwork) {
		t.Errorf("expected NetworkError, got %v", err)
	}
	if !catalog.Retryable(err) {
		t.Error("network errors must be retryable")
	}
}

func TestHTTPClient_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, Credentials{DevSub: "u"}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequest("GET", server.URL+"/test", nil)
	_, err := client.Do(ctx, req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"garbage", 0},
		{"Mon, 01 Jan 2001 00:00:00 GMT", 0}, // past date
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
