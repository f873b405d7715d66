package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/crosspost-dev/crosspost/internal/domain"
)

type stubAdapter struct {
	id string
}

func (s *stubAdapter) Meta() domain.PlatformDescriptor {
	return domain.PlatformDescriptor{ID: s.id, Name: s.id}
}

func (s *stubAdapter) CheckAuth(ctx context.Context) (domain.AuthStatus, error) {
	return domain.AuthStatus{IsAuthenticated: true}, nil
}

func (s *stubAdapter) Publish(ctx context.Context, a *domain.Article, o PublishOptions) (*domain.PublishResult, error) {
	return &domain.PublishResult{Success: true}, nil
}

func TestRegistry_ResolveLazySingleton(t *testing.T) {
	r := NewRegistry()
	built := 0
	err := r.Register("p1", func(deps Deps) (Adapter, error) {
		built++
		return &stubAdapter{id: "p1"}, nil
	}, Deps{})
	if err != nil {
		t.Fatal(err)
	}

	if built != 0 {
		t.Errorf("factory ran at registration time")
	}

	a1, err := r.Resolve("p1")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := r.Resolve("p1")
	if err != nil {
		t.Fatal(err)
	}
	if built != 1 {
		t.Errorf("factory ran %d times, want 1", built)
	}
	if a1 != a2 {
		t.Error("Resolve returned different instances")
	}
}

func TestRegistry_UnknownPlatform(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("nope"); !errors.Is(err, ErrUnknownPlatform) {
		t.Errorf("err = %v, want ErrUnknownPlatform", err)
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	f := func(deps Deps) (Adapter, error) { return &stubAdapter{}, nil }
	if err := r.Register("p1", f, Deps{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("p1", f, Deps{}); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestRegistry_DescriptorsIncludeBrokenAdapters(t *testing.T) {
	r := NewRegistry()
	r.Register("ok", func(deps Deps) (Adapter, error) { return &stubAdapter{id: "ok"}, nil }, Deps{})
	r.Register("broken", func(deps Deps) (Adapter, error) { return nil, errors.New("missing credentials") }, Deps{})

	descs := r.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("len = %d, want 2", len(descs))
	}
	// IDs are sorted: broken, ok.
	if descs[0].ID != "broken" || descs[0].Error == "" {
		t.Errorf("broken adapter not surfaced: %+v", descs[0])
	}
	if descs[1].ID != "ok" || descs[1].Error != "" {
		t.Errorf("healthy adapter wrong: %+v", descs[1])
	}
}
