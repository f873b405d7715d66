package authcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/platform"
	"github.com/crosspost-dev/crosspost/internal/store"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

func newClockedCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New(store.NewMemoryStore())
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_TTLAsymmetry(t *testing.T) {
	ctx := context.Background()
	c, now := newClockedCache(t)

	if err := c.Put(ctx, "authed", Entry{IsAuthenticated: true}); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "anon", Entry{IsAuthenticated: false}); err != nil {
		t.Fatal(err)
	}

	check := func(id string, want bool) {
		t.Helper()
		e, err := c.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.Valid(e); got != want {
			t.Errorf("at %v Valid(%s) = %v, want %v", *now, id, got, want)
		}
	}

	// Fresh: both valid.
	check("authed", true)
	check("anon", true)

	// 29s later the unauthenticated entry is still valid.
	*now = now.Add(29 * time.Second)
	check("anon", true)

	// At 31s it is stale; the authenticated one is not.
	*now = now.Add(2 * time.Second)
	check("anon", false)
	check("authed", true)

	// At 4m59s the authenticated entry is still valid; past 5m it is stale.
	*now = now.Add(4*time.Minute + 28*time.Second) // total 4m59s
	check("authed", true)
	*now = now.Add(2 * time.Second)
	check("authed", false)
}

func TestCache_GetMissing(t *testing.T) {
	c, _ := newClockedCache(t)
	e, err := c.Get(context.Background(), "nope")
	if err != nil || e != nil {
		t.Errorf("Get(missing) = %v, %v", e, err)
	}
	if c.Valid(nil) {
		t.Error("Valid(nil) = true")
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	c, _ := newClockedCache(t)

	c.Put(ctx, "p", Entry{IsAuthenticated: true})
	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatal(err)
	}
	e, err := c.Get(ctx, "p")
	if err != nil || e != nil {
		t.Errorf("entry survived InvalidateAll: %v, %v", e, err)
	}
}

// countingAdapter counts auth probes.
type countingAdapter struct {
	id     string
	probes int32
	status domain.AuthStatus
}

func (a *countingAdapter) Meta() domain.PlatformDescriptor {
	return domain.PlatformDescriptor{ID: a.id, Name: a.id}
}

func (a *countingAdapter) CheckAuth(ctx context.Context) (domain.AuthStatus, error) {
	atomic.AddInt32(&a.probes, 1)
	return a.status, nil
}

func (a *countingAdapter) Publish(ctx context.Context, art *domain.Article, o platform.PublishOptions) (*domain.PublishResult, error) {
	return &domain.PublishResult{Success: true}, nil
}

func newCheckerWith(t *testing.T, adapters ...*countingAdapter) (*Checker, *Cache) {
	t.Helper()
	reg := platform.NewRegistry()
	for _, a := range adapters {
		a := a
		if err := reg.Register(a.id, func(platform.Deps) (platform.Adapter, error) { return a, nil }, platform.Deps{}); err != nil {
			t.Fatal(err)
		}
	}
	cache, _ := newClockedCache(t)
	return NewChecker(cache, reg, nil, logger.Nop()), cache
}

func TestChecker_UsesCacheWithinTTL(t *testing.T) {
	ctx := context.Background()
	a := &countingAdapter{id: "p1", status: domain.AuthStatus{IsAuthenticated: true, Username: "alice"}}
	checker, _ := newCheckerWith(t, a)

	got, err := checker.CheckAll(ctx, []string{"p1"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].IsAuthenticated || got[0].Username != "alice" {
		t.Fatalf("descriptors = %+v", got)
	}
	if a.probes != 1 {
		t.Errorf("probes = %d, want 1", a.probes)
	}

	// Second call inside the TTL answers from cache.
	if _, err := checker.CheckAll(ctx, []string{"p1"}, false); err != nil {
		t.Fatal(err)
	}
	if a.probes != 1 {
		t.Errorf("probes = %d after cached call, want 1", a.probes)
	}
}

func TestChecker_ForceBypassesCache(t *testing.T) {
	ctx := context.Background()
	a := &countingAdapter{id: "p1", status: domain.AuthStatus{IsAuthenticated: true}}
	checker, _ := newCheckerWith(t, a)

	checker.CheckAll(ctx, []string{"p1"}, false)
	checker.CheckAll(ctx, []string{"p1"}, true)
	if a.probes != 2 {
		t.Errorf("probes = %d, want 2 with force", a.probes)
	}
}

func TestChecker_UnknownPlatformSurfacedNotFatal(t *testing.T) {
	ctx := context.Background()
	a := &countingAdapter{id: "p1", status: domain.AuthStatus{IsAuthenticated: true}}
	checker, _ := newCheckerWith(t, a)

	got, err := checker.CheckAll(ctx, []string{"p1", "ghost"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[1].ID != "ghost" || got[1].Error == "" {
		t.Errorf("unknown platform not surfaced: %+v", got[1])
	}
}
