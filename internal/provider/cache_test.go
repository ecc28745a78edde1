package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestCacheExpiry(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache[string](time.Minute, clk.Now)

	if _, ok := c.Get(); ok {
		t.Fatal("empty cache reported a value")
	}
	c.Set("token-1")
	if v, ok := c.Get(); !ok || v != "token-1" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}

	clk.now = clk.now.Add(59 * time.Second)
	if _, ok := c.Get(); !ok {
		t.Error("value expired early")
	}
	clk.now = clk.now.Add(time.Second)
	if _, ok := c.Get(); ok {
		t.Error("value should expire at ttl")
	}
}

func TestCacheGetOrFetch(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := NewCache[[]string](5*time.Minute, clk.Now)
	calls := 0
	fetch := func(context.Context) ([]string, error) {
		calls++
		return []string{"m1"}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := c.GetOrFetch(context.Background(), fetch); err != nil {
			t.Fatalf("GetOrFetch: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}

	c.Invalidate()
	if _, err := c.GetOrFetch(context.Background(), fetch); err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if calls != 2 {
		t.Errorf("fetch called %d times after invalidate, want 2", calls)
	}
}

func TestCacheFetchErrorNotCached(t *testing.T) {
	c := NewCache[int](time.Minute, nil)
	boom := errors.New("boom")
	if _, err := c.GetOrFetch(context.Background(), func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, ok := c.Get(); ok {
		t.Error("failed fetch was cached")
	}
}
