package main

import (
	"context"
	"fmt"

	"github.com/crosspost-dev/crosspost/internal/authcache"
	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/engine"
	"github.com/crosspost-dev/crosspost/internal/extract"
	"github.com/crosspost-dev/crosspost/internal/platform"
	"github.com/crosspost-dev/crosspost/internal/store"
	"github.com/crosspost-dev/crosspost/internal/uploader"
)

// app bridges the control channel to the engine and its collaborators. It
// is the concrete control.Handler the daemon serves.
type app struct {
	engine   *engine.Engine
	registry *platform.Registry
	checker  *authcache.Checker
	state    *store.StateStore
	source   extract.Source
}

func (a *app) ListPlatforms(ctx context.Context) ([]domain.PlatformDescriptor, error) {
	return a.checker.CheckAll(ctx, a.registry.IDs(), false)
}

func (a *app) CheckAuth(ctx context.Context, platformIDs []string, force bool) ([]domain.PlatformDescriptor, error) {
	if len(platformIDs) == 0 {
		platformIDs = a.registry.IDs()
	}
	return a.checker.CheckAll(ctx, platformIDs, force)
}

func (a *app) SyncArticle(ctx context.Context, platformIDs []string, article *domain.Article, draftOnly bool) (*domain.SyncState, error) {
	if article == nil {
		return nil, fmt.Errorf("article is required")
	}
	return a.engine.Dispatch(ctx, platformIDs, article, engine.Options{DraftOnly: draftOnly})
}

func (a *app) CancelSync(ctx context.Context) (bool, error) {
	return a.engine.Cancel(), nil
}

func (a *app) RetryFailed(ctx context.Context, syncID string) (*domain.SyncState, error) {
	return a.engine.RetryFailed(ctx, syncID, engine.Options{})
}

func (a *app) SyncState(ctx context.Context) (*domain.SyncState, error) {
	return a.state.ActiveSyncState(ctx)
}

func (a *app) SyncHistory(ctx context.Context) ([]domain.SyncState, error) {
	return a.state.History(ctx)
}

func (a *app) ExtractArticle(ctx context.Context, url string) (*domain.Article, error) {
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	return a.source.Extract(ctx, url)
}

func (a *app) UploadImage(ctx context.Context, platformID string, blob uploader.Blob) (string, error) {
	adapter, err := a.registry.Resolve(platformID)
	if err != nil {
		return "", err
	}
	up, ok := adapter.(platform.ImageUploader)
	if !ok {
		return "", fmt.Errorf("platform %s does not support image upload", platformID)
	}
	return up.UploadImage(ctx, blob)
}
