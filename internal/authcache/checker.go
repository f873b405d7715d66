package authcache

import (
	"context"
	"sync"
	"time"

	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/events"
	"github.com/crosspost-dev/crosspost/internal/platform"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

const (
	// probeBatchSize bounds concurrent auth probes.
	probeBatchSize = 5

	// probeTimeout bounds one probe, independent of the publish timeout.
	probeTimeout = 10 * time.Second
)

// Checker refreshes authentication status across platforms, reading the
// cache first and probing only what is stale.
type Checker struct {
	cache    *Cache
	registry *platform.Registry
	sink     events.Sink
	log      *logger.Logger
}

// NewChecker creates a checker.
func NewChecker(cache *Cache, registry *platform.Registry, sink events.Sink, log *logger.Logger) *Checker {
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Checker{cache: cache, registry: registry, sink: sink, log: log}
}

// CheckAll returns a descriptor per platform id with authentication fields
// populated. Cache-valid entries are answered without network traffic;
// the rest are probed in batches of probeBatchSize, each probe under its
// own timeout. force treats every entry as stale.
func (c *Checker) CheckAll(ctx context.Context, platformIDs []string, force bool) ([]domain.PlatformDescriptor, error) {
	descriptors := make(map[string]*domain.PlatformDescriptor, len(platformIDs))
	var stale []string

	for _, id := range platformIDs {
		adapter, err := c.registry.Resolve(id)
		if err != nil {
			descriptors[id] = &domain.PlatformDescriptor{ID: id, Error: err.Error()}
			continue
		}
		meta := adapter.Meta()
		descriptors[id] = &meta

		if !force {
			entry, err := c.cache.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if c.cache.Valid(entry) {
				applyEntry(descriptors[id], entry)
				continue
			}
		}
		stale = append(stale, id)
	}

	for start := 0; start < len(stale); start += probeBatchSize {
		end := start + probeBatchSize
		if end > len(stale) {
			end = len(stale)
		}
		c.probeBatch(ctx, stale[start:end], descriptors)
	}

	out := make([]domain.PlatformDescriptor, 0, len(platformIDs))
	for _, id := range platformIDs {
		out = append(out, *descriptors[id])
	}
	return out, nil
}

func (c *Checker) probeBatch(ctx context.Context, ids []string, descriptors map[string]*domain.PlatformDescriptor) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			entry := c.probeOne(ctx, id)

			if err := c.cache.Put(ctx, id, entry); err != nil {
				c.log.WithError(err).WithField("platform", id).Warn("auth cache write failed")
			}
			c.sink.Publish(events.Event{
				Type:     events.AuthChecked,
				Platform: id,
				Message:  entry.Username,
				Error:    entry.Error,
			})

			mu.Lock()
			applyEntry(descriptors[id], &entry)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
}

func (c *Checker) probeOne(ctx context.Context, id string) Entry {
	adapter, err := c.registry.Resolve(id)
	if err != nil {
		return Entry{Error: err.Error()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status, err := adapter.CheckAuth(probeCtx)
	if err != nil {
		return Entry{Error: err.Error()}
	}
	return Entry{
		IsAuthenticated: status.IsAuthenticated,
		Username:        status.Username,
		Avatar:          status.Avatar,
		Error:           status.Error,
	}
}

func applyEntry(d *domain.PlatformDescriptor, e *Entry) {
	d.IsAuthenticated = e.IsAuthenticated
	d.Username = e.Username
	d.Avatar = e.Avatar
	d.Error = e.Error
}
