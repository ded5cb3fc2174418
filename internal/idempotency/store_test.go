package idempotency

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(time.Hour, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	resp := &Response{StatusCode: 201, Body: []byte(`{"id":"order_1"}`)}
	if err := store.Set(ctx, "k1", resp, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := store.Get(ctx, "k1")
	if !ok {
		t.Fatal("expected k1 to be cached")
	}
	if got.StatusCode != 201 || string(got.Body) != `{"id":"order_1"}` {
		t.Fatalf("unexpected response %+v", got)
	}

	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.Get(ctx, "k1"); ok {
		t.Fatal("expected k1 to be gone after Delete")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Set(ctx, "k", &Response{StatusCode: 200}, time.Minute)
	if _, ok := store.Get(ctx, "k"); !ok {
		t.Fatal("expected entry before expiry")
	}

	now = now.Add(time.Minute)
	if _, ok := store.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire at its deadline")
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry should be dropped on read, len=%d", store.Len())
	}
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Set(ctx, "short", &Response{StatusCode: 200}, time.Second)
	_ = store.Set(ctx, "long", &Response{StatusCode: 200}, time.Hour)

	now = now.Add(time.Minute)
	store.purgeExpired()

	if store.Len() != 1 {
		t.Fatalf("expected 1 entry after purge, got %d", store.Len())
	}
	if _, ok := store.Get(ctx, "long"); !ok {
		t.Fatal("long-lived entry should survive purge")
	}
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store := newTestStore(t, WithMaxEntries(3))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_ = store.Set(ctx, fmt.Sprintf("k%d", i), &Response{StatusCode: 200}, time.Hour)
	}
	// Touch k1 so k2 becomes the oldest.
	store.Get(ctx, "k1")
	_ = store.Set(ctx, "k4", &Response{StatusCode: 200}, time.Hour)

	if _, ok := store.Get(ctx, "k2"); ok {
		t.Error("k2 should have been evicted")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if _, ok := store.Get(ctx, key); !ok {
			t.Errorf("%s should still be cached", key)
		}
	}
}

func TestMemoryStore_SetOverwrites(t *testing.T) {
	store := newTestStore(t, WithMaxEntries(2))
	ctx := context.Background()

	_ = store.Set(ctx, "k", &Response{StatusCode: 200}, time.Hour)
	_ = store.Set(ctx, "k", &Response{StatusCode: 201}, time.Hour)

	got, _ := store.Get(ctx, "k")
	if got.StatusCode != 201 {
		t.Fatalf("expected overwritten status 201, got %d", got.StatusCode)
	}
	if store.Len() != 1 {
		t.Fatalf("overwrite should not add entries, len=%d", store.Len())
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := newTestStore(t, WithMaxEntries(50))
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("g%d-%d", g, i%20)
				_ = store.Set(ctx, key, &Response{StatusCode: 200}, time.Minute)
				store.Get(ctx, key)
				if i%7 == 0 {
					_ = store.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	if store.Len() > 50 {
		t.Fatalf("store exceeded max entries: %d", store.Len())
	}
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	if err := store.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
