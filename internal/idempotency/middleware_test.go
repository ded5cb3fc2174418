package idempotency

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func orderHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-ID", "req_original")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + strconv.Itoa(int(n)) + `}`))
	})
}

func post(handler http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_WithoutKeyPassesThrough(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	handler := Middleware(store, time.Minute)(orderHandler(&calls, http.StatusCreated))

	post(handler, "/api/create-order", "", `{"amount":100}`)
	post(handler, "/api/create-order", "", `{"amount":100}`)

	if calls != 2 {
		t.Fatalf("expected 2 handler calls without a key, got %d", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("nothing should be cached without a key, len=%d", store.Len())
	}
}

func TestMiddleware_ReplaysSuccessfulResponse(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	handler := Middleware(store, time.Minute)(orderHandler(&calls, http.StatusCreated))

	first := post(handler, "/api/create-order", "abc", `{"amount":100}`)
	second := post(handler, "/api/create-order", "abc", `{"amount":100}`)

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q differs from %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get(ReplayHeader) != "true" {
		t.Error("replay header missing")
	}
	if first.Header().Get(ReplayHeader) != "" {
		t.Error("first response must not be marked as a replay")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Error("content type should be replayed")
	}
	if second.Header().Get("X-Request-ID") != "" {
		t.Error("request id of the original request must not be replayed")
	}
}

func TestMiddleware_KeyScopedByPath(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	handler := Middleware(store, time.Minute)(orderHandler(&calls, http.StatusOK))

	post(handler, "/api/create-order", "same", `{}`)
	post(handler, "/api/other", "same", `{}`)

	if calls != 2 {
		t.Fatalf("same key on different paths should not collide, calls=%d", calls)
	}
}

func TestMiddleware_DifferentBodyConflicts(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	handler := Middleware(store, time.Minute)(orderHandler(&calls, http.StatusCreated))

	post(handler, "/api/create-order", "abc", `{"amount":100}`)
	rec := post(handler, "/api/create-order", "abc", `{"amount":999}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key with a new body, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"idempotency_conflict"`) {
		t.Fatalf("expected idempotency_conflict code, got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler should not run for a conflicting key, calls=%d", calls)
	}
}

func TestMiddleware_FailuresAreNotCached(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	handler := Middleware(store, time.Minute)(orderHandler(&calls, http.StatusBadGateway))

	post(handler, "/api/create-order", "abc", `{}`)
	post(handler, "/api/create-order", "abc", `{}`)

	if calls != 2 {
		t.Fatalf("failed responses must not be replayed, calls=%d", calls)
	}
}

func TestMiddleware_InFlightDuplicateConflicts(t *testing.T) {
	store := newTestStore(t)
	started := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusCreated)
	})
	handler := Middleware(store, time.Minute)(slow)

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- post(handler, "/api/create-order", "abc", `{}`) }()
	<-started

	rec := post(handler, "/api/create-order", "abc", `{}`)
	close(release)
	first := <-done

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while first request is running, got %d", rec.Code)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("first request should complete normally, got %d", first.Code)
	}
}

func TestMiddleware_RejectsOversizedKey(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	handler := Middleware(store, 0)(orderHandler(&calls, http.StatusCreated))

	rec := post(handler, "/api/create-order", strings.Repeat("k", maxKeyLength+1), `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized key, got %d", rec.Code)
	}
	if calls != 0 {
		t.Fatal("handler must not run for an oversized key")
	}
}

func TestMiddleware_HandlerSeesOriginalBody(t *testing.T) {
	store := newTestStore(t)
	var seen string
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		seen = buf.String()
		w.WriteHeader(http.StatusOK)
	}))

	post(handler, "/api/create-order", "abc", `{"amount":100}`)
	if seen != `{"amount":100}` {
		t.Fatalf("handler body = %q", seen)
	}
}

func TestMiddleware_OversizedBodyRejected(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	handler := Middleware(store, time.Minute)(orderHandler(&calls, http.StatusOK))

	body := `{"notes":"` + strings.Repeat("x", maxBodyToHash) + `"}`
	rec := post(handler, "/api/create-order", "big-body", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "request_too_large") {
		t.Errorf("expected request_too_large code, got %s", rec.Body.String())
	}
	if calls != 0 {
		t.Fatal("handler must not run with a truncated body")
	}
	if store.Len() != 0 {
		t.Errorf("nothing should be cached, got %d entries", store.Len())
	}
}
