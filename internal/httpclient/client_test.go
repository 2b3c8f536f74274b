package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDryadThrottleSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := New(Options{Provider: ProviderDryad})
	ctx := context.Background()

	first, err := c.Get(ctx, srv.URL, GetOptions{})
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	first.Body.Close()

	start := time.Now()
	second, err := c.Get(ctx, srv.URL, GetOptions{})
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	second.Body.Close()

	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("second request fired after %v, want at least ~500ms", elapsed)
	}
}

func TestGetRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := New(Options{Provider: ProviderFigshare})
	resp, err := c.Get(context.Background(), srv.URL, GetOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestGetReturnsPermanentStatusWithoutRetry(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Options{Provider: ProviderFigshare})
	resp, err := c.Get(context.Background(), srv.URL, GetOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permanent 4xx)", got)
	}
}
