package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ct":"abc","iv":"00","s":"11"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	body, err := c.Get(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ct":"abc","iv":"00","s":"11"}` {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestGet_Headers(t *testing.T) {
	var gotUA, gotAccept, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Get(context.Background(), "/", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != DefaultUserAgent {
		t.Fatalf("expected default user agent, got %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Fatalf("expected Accept application/json, got %q", gotAccept)
	}
	if gotAuth != "" {
		t.Fatalf("expected no Authorization header, got %q", gotAuth)
	}

	if _, err := New(srv.URL, WithUserAgent("pulsewatch-test")).Get(context.Background(), "/", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != "pulsewatch-test" {
		t.Fatalf("expected custom user agent, got %q", gotUA)
	}
}

func TestGet_QueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	q := url.Values{}
	q.Set("resource", "incidents")
	q.Set("agencyid", "00291")
	if _, err := New(srv.URL).Get(context.Background(), "", q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// url.Values.Encode sorts keys alphabetically
	if gotQuery != "agencyid=00291&resource=incidents" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
}

func TestGet_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Get(context.Background(), "/bad", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 400 {
		t.Fatalf("expected status 400, got %d", apiErr.StatusCode)
	}
	if apiErr.Body != `{"error":"bad request"}` {
		t.Fatalf("unexpected body: %q", apiErr.Body)
	}
}

func TestGet_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(503)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Get(context.Background(), "/", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Fatalf("expected 503 APIError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestGet_RateLimit_RetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(429)
			w.Write([]byte(`rate limited`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxRetries(3))
	start := time.Now()
	body, err := c.Get(context.Background(), "/", nil)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %q", body)
	}
	if elapsed < 900*time.Millisecond {
		t.Fatalf("expected ~1s retry delay, got %v", elapsed)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestGet_RetryOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(503)
			w.Write([]byte(`service unavailable`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxRetries(3))
	c.baseDelay = time.Millisecond
	if _, err := c.Get(context.Background(), "/", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestGet_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(srv.URL, WithMaxRetries(3)).Get(ctx, "/", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGet_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := New(srv.URL, WithTimeout(50*time.Millisecond)).Get(context.Background(), "/", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not honored: %v", time.Since(start))
	}
}

func TestGet_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(429)
		w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxRetries(3))
	c.baseDelay = time.Millisecond
	_, err := c.Get(context.Background(), "/", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 429 {
		t.Fatalf("expected status 429, got %d", apiErr.StatusCode)
	}
	// 1 initial + 3 retries = 4 total calls
	if calls.Load() != 4 {
		t.Fatalf("expected 4 calls, got %d", calls.Load())
	}
}

func TestBackoffDelay(t *testing.T) {
	c := New("http://unused")
	if d := c.backoffDelay(1, nil); d != time.Second {
		t.Fatalf("attempt 1: got %v", d)
	}
	if d := c.backoffDelay(3, &APIError{StatusCode: 503}); d != 4*time.Second {
		t.Fatalf("attempt 3: got %v", d)
	}
	if d := c.backoffDelay(1, &APIError{StatusCode: 429, retryAfter: "7"}); d != 7*time.Second {
		t.Fatalf("retry-after: got %v", d)
	}
}
