// Package platform defines the destination adapter contract and the
// compile-time adapter registry. Each adapter knows one destination's
// protocol; the engine only ever talks to the Adapter interface.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/httputil"
	"github.com/crosspost-dev/crosspost/internal/uploader"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

// ErrUnknownPlatform is returned when no adapter is registered for an id.
var ErrUnknownPlatform = errors.New("unknown platform")

// PublishOptions tunes one publish call.
type PublishOptions struct {
	// DraftOnly publishes without making the post public, on destinations
	// that support drafts.
	DraftOnly bool

	// OnImageProgress receives (current, total) while embedded images are
	// re-hosted.
	OnImageProgress uploader.ProgressFunc
}

// Adapter is the per-destination contract consumed by the orchestrator.
type Adapter interface {
	// Meta returns the static descriptor for this destination.
	Meta() domain.PlatformDescriptor

	// CheckAuth probes whether stored credentials are still valid.
	CheckAuth(ctx context.Context) (domain.AuthStatus, error)

	// Publish pushes the article to the destination.
	Publish(ctx context.Context, article *domain.Article, opts PublishOptions) (*domain.PublishResult, error)
}

// ImageUploader is implemented by adapters that can re-host images.
// Adapters implementing it advertise CapabilityImageUpload.
type ImageUploader = uploader.ImageUploader

// Deps carries the shared collaborators adapters are built with.
type Deps struct {
	HTTP     *httputil.Client
	Pipeline *uploader.Pipeline
	Log      *logger.Logger

	// Settings holds the adapter's destination-specific configuration
	// (endpoint, credentials, blog id).
	Settings map[string]string
}

// Factory builds one adapter instance from its dependencies.
type Factory func(deps Deps) (Adapter, error)

// Registry maps platform ids to factories and hands out lazily-built
// singletons. The mapping is populated by static registration at startup;
// there is no runtime plugin discovery.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	deps      map[string]Deps
	instances map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		deps:      make(map[string]Deps),
		instances: make(map[string]Adapter),
	}
}

// Register binds a platform id to a factory and its dependencies.
// Registering the same id twice is a programming error.
func (r *Registry) Register(id string, factory Factory, deps Deps) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.factories[id]; dup {
		return fmt.Errorf("platform %s already registered", id)
	}
	r.factories[id] = factory
	r.deps[id] = deps
	return nil
}

// Resolve returns the adapter for id, building it on first use.
func (r *Registry) Resolve(id string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.instances[id]; ok {
		return a, nil
	}
	factory, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, id)
	}
	a, err := factory(r.deps[id])
	if err != nil {
		return nil, fmt.Errorf("build adapter %s: %w", id, err)
	}
	r.instances[id] = a
	return a, nil
}

// IDs returns all registered platform ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Descriptors returns the descriptor of every registered platform.
// Platforms whose adapter fails to build carry the error in the descriptor
// instead of failing the listing.
func (r *Registry) Descriptors() []domain.PlatformDescriptor {
	out := make([]domain.PlatformDescriptor, 0, len(r.IDs()))
	for _, id := range r.IDs() {
		a, err := r.Resolve(id)
		if err != nil {
			out = append(out, domain.PlatformDescriptor{ID: id, Error: err.Error()})
			continue
		}
		out = append(out, a.Meta())
	}
	return out
}
