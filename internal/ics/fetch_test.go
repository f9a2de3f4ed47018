package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestFetcher_ConditionalGetAndFallback(t *testing.T) {
	body := calendar("UID:1\nSUMMARY:Remote\nDTSTART:20251230T100000Z")
	var failing atomic.Bool
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "url", URL: srv.URL + "/cal.ics?token=secret"}
	ctx := context.Background()

	res, err := f.FetchOne(ctx, src)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if res.FromCache || string(res.Body) != string(body) {
		t.Fatalf("first fetch: fromCache=%v body=%q", res.FromCache, res.Body)
	}

	res, err = f.FetchOne(ctx, src)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !res.FromCache {
		t.Error("second fetch should be served from cache after 304")
	}

	failing.Store(true)
	res, err = f.FetchOne(ctx, src)
	if err != nil {
		t.Fatalf("fallback fetch: %v", err)
	}
	if !res.FromCache || string(res.Body) != string(body) {
		t.Error("expected cached body on upstream failure")
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	if _, err := f.FetchOne(context.Background(), Source{ID: "url", URL: srv.URL + "/missing.ics"}); err == nil {
		t.Error("expected error for 404 without cache")
	}
	if _, err := f.FetchOne(context.Background(), Source{ID: "url", URL: "file:///etc/passwd"}); err == nil {
		t.Error("expected error for non-http URL")
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://calendar.example.com/private/abc.ics?token=xyz")
	if got != "https://calendar.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if strings.Contains(redactURL("::bad"), "bad") {
		t.Error("unparseable URL leaked into redacted form")
	}
}
