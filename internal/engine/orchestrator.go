package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/events"
	"github.com/crosspost-dev/crosspost/internal/metrics"
	"github.com/crosspost-dev/crosspost/internal/platform"
	"github.com/crosspost-dev/crosspost/internal/ratelimit"
	"github.com/crosspost-dev/crosspost/internal/store"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

var (
	// ErrSyncInProgress is returned when a dispatch starts while another
	// session is active. Concurrent sessions would race on the durable
	// state, so they are serialized by rejection.
	ErrSyncInProgress = errors.New("a sync is already in progress")

	// ErrNoPlatforms is returned for an empty platform selection.
	ErrNoPlatforms = errors.New("no platforms selected")

	// ErrNothingToRetry is returned by RetryFailed when the referenced sync
	// has no failed platforms.
	ErrNothingToRetry = errors.New("nothing to retry")
)

// cancelledError marks results for platforms skipped by cancellation.
const cancelledError = "cancelled"

const (
	// DefaultWindowSize bounds simultaneous outbound publishes.
	DefaultWindowSize = 3

	// DefaultPublishTimeout is the hard ceiling on one publish call.
	DefaultPublishTimeout = 10 * time.Minute
)

// Options tunes one dispatch.
type Options struct {
	// DraftOnly publishes without making posts public where supported.
	DraftOnly bool
}

// HistoryArchiver receives finished syncs. The Postgres archive implements
// it; a nil archiver is skipped.
type HistoryArchiver interface {
	Append(ctx context.Context, state *domain.SyncState) error
}

// Engine is the dispatch orchestrator.
type Engine struct {
	registry *platform.Registry
	state    *store.StateStore
	sink     events.Sink
	advisor  *ratelimit.Advisor
	metrics  *metrics.Metrics
	archive  HistoryArchiver
	log      *logger.Logger

	windowSize     int
	publishTimeout time.Duration

	mu     sync.Mutex
	active *Session
}

// Config wires an Engine.
type Config struct {
	Registry *platform.Registry
	State    *store.StateStore
	Sink     events.Sink
	Advisor  *ratelimit.Advisor
	Metrics  *metrics.Metrics
	Archive  HistoryArchiver
	Log      *logger.Logger

	WindowSize     int
	PublishTimeout time.Duration
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Sink == nil {
		cfg.Sink = events.NopSink{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Engine{
		registry:       cfg.Registry,
		state:          cfg.State,
		sink:           cfg.Sink,
		advisor:        cfg.Advisor,
		metrics:        cfg.Metrics,
		archive:        cfg.Archive,
		log:            cfg.Log,
		windowSize:     cfg.WindowSize,
		publishTimeout: cfg.PublishTimeout,
	}
}

// Active returns the running session, or nil.
func (e *Engine) Active() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Cancel cancels the running session, if any, and reports whether one was
// cancelled.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return false
	}
	e.active.Cancel()
	return true
}

// Advise returns the rate-limit advisory for a platform selection, or ""
// when there is nothing to warn about. Advisory only; never blocks.
func (e *Engine) Advise(ctx context.Context, platformIDs []string) (string, error) {
	if e.advisor == nil {
		return "", nil
	}
	return e.advisor.Advise(ctx, platformIDs)
}

// Resume returns the persisted sync state when one is still marked as
// syncing; callers then listen for further progress events rather than
// dispatching again.
func (e *Engine) Resume(ctx context.Context) (*domain.SyncState, error) {
	state, err := e.state.ActiveSyncState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Status != domain.SyncStatusSyncing {
		return nil, nil
	}
	return state, nil
}

// Dispatch publishes the article to every platform in platformIDs and
// returns the final state. Results arrive in completion order but are
// keyed by platform id; exactly one result exists per selected platform.
func (e *Engine) Dispatch(ctx context.Context, platformIDs []string, article *domain.Article, opts Options) (*domain.SyncState, error) {
	session, err := e.begin(platformIDs)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, session, platformIDs, article, opts, nil)
}

// Begin reserves the session for an asynchronous dispatch and returns it so
// callers can hand out the sync id before the run finishes. Run must be
// called exactly once afterwards.
func (e *Engine) Begin(platformIDs []string) (*Session, error) {
	return e.begin(platformIDs)
}

// Run executes a dispatch begun with Begin.
func (e *Engine) Run(ctx context.Context, session *Session, platformIDs []string, article *domain.Article, opts Options) (*domain.SyncState, error) {
	return e.run(ctx, session, platformIDs, article, opts, nil)
}

func (e *Engine) begin(platformIDs []string) (*Session, error) {
	if len(platformIDs) == 0 {
		return nil, ErrNoPlatforms
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, ErrSyncInProgress
	}
	e.active = NewSession()
	return e.active, nil
}

func (e *Engine) finish(session *Session) {
	e.mu.Lock()
	if e.active == session {
		e.active = nil
	}
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, session *Session, platformIDs []string, article *domain.Article, opts Options, prior []domain.SyncResult) (*domain.SyncState, error) {
	defer e.finish(session)

	if warning, err := e.Advise(ctx, platformIDs); err == nil && warning != "" {
		e.log.WithField("sync_id", session.ID()).Warn(warning)
	}

	state := &domain.SyncState{
		SyncID:            session.ID(),
		Status:            domain.SyncStatusSyncing,
		Article:           article.Clone(),
		SelectedPlatforms: append(priorIDs(prior), platformIDs...),
		Results:           append([]domain.SyncResult(nil), prior...),
		StartTime:         time.Now().UTC(),
	}
	if err := e.persist(ctx, state); err != nil {
		return nil, err
	}

	e.sink.Publish(events.Event{Type: events.SyncStarted, SyncID: state.SyncID})
	if e.metrics != nil {
		e.metrics.ActiveSyncs.Set(1)
		defer e.metrics.ActiveSyncs.Set(0)
	}

	for start := 0; start < len(platformIDs); start += e.windowSize {
		end := start + e.windowSize
		if end > len(platformIDs) {
			end = len(platformIDs)
		}
		window := platformIDs[start:end]

		// The cancellation flag is honored at window boundaries only:
		// everything not yet started resolves as cancelled without a
		// network call, while the window in flight settles naturally.
		if session.Cancelled() {
			for _, id := range window {
				e.appendResult(ctx, state, e.cancelledResult(id))
			}
			continue
		}

		var wg sync.WaitGroup
		for _, id := range window {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				result := e.publishOne(ctx, state.SyncID, id, state.Article, opts)
				e.appendResult(ctx, state, result)
			}(id)
		}
		wg.Wait()
	}

	e.complete(ctx, state)
	return state, nil
}

func priorIDs(prior []domain.SyncResult) []string {
	ids := make([]string, 0, len(prior))
	for _, r := range prior {
		ids = append(ids, r.PlatformID)
	}
	return ids
}

func (e *Engine) cancelledResult(platformID string) domain.SyncResult {
	name := platformID
	if a, err := e.registry.Resolve(platformID); err == nil {
		name = a.Meta().Name
	}
	e.sink.Publish(events.Event{
		Type:     events.PlatformCancelled,
		SyncID:   e.activeID(),
		Platform: platformID,
	})
	return domain.SyncResult{
		PlatformID:   platformID,
		PlatformName: name,
		Success:      false,
		Error:        cancelledError,
		Timestamp:    time.Now().UTC(),
	}
}

func (e *Engine) activeID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.id
}

// publishOne runs a single platform publish under the hard publish timeout
// and converts every failure mode into a result. Errors never escape: one
// platform's failure cannot abort its siblings.
func (e *Engine) publishOne(ctx context.Context, syncID, platformID string, article *domain.Article, opts Options) domain.SyncResult {
	started := time.Now()
	result := domain.SyncResult{
		PlatformID:   platformID,
		PlatformName: platformID,
		DraftOnly:    opts.DraftOnly,
		Timestamp:    started.UTC(),
	}

	adapter, err := e.registry.Resolve(platformID)
	if err != nil {
		result.Error = err.Error()
		e.emitOutcome(syncID, result)
		return result
	}
	result.PlatformName = adapter.Meta().Name

	e.sink.Publish(events.Event{Type: events.PlatformStarting, SyncID: syncID, Platform: platformID})

	// The progress wrapper lets a UI tell "still moving pictures" apart
	// from "writing the final post".
	onProgress := func(current, total int) {
		e.sink.Publish(events.Event{
			Type:     events.PlatformUploadingImages,
			SyncID:   syncID,
			Platform: platformID,
			Current:  current,
			Total:    total,
		})
		if total > 0 && current == total {
			e.sink.Publish(events.Event{Type: events.PlatformSaving, SyncID: syncID, Platform: platformID})
		}
	}

	pctx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	defer cancel()

	res, err := adapter.Publish(pctx, article, platform.PublishOptions{
		DraftOnly:       opts.DraftOnly,
		OnImageProgress: onProgress,
	})
	if e.metrics != nil {
		e.metrics.PublishDuration.WithLabelValues(platformID).Observe(time.Since(started).Seconds())
	}

	switch {
	case err != nil:
		result.Error = err.Error()
	case res == nil:
		result.Error = "adapter returned no result"
	case !res.Success:
		result.Error = res.Error
	default:
		result.Success = true
		result.PostID = res.PostID
		result.PostURL = res.PostURL
	}

	result.Timestamp = time.Now().UTC()
	e.emitOutcome(syncID, result)
	return result
}

func (e *Engine) emitOutcome(syncID string, result domain.SyncResult) {
	evType := events.PlatformCompleted
	if !result.Success {
		evType = events.PlatformFailed
	}
	e.sink.Publish(events.Event{
		Type:     evType,
		SyncID:   syncID,
		Platform: result.PlatformID,
		Error:    result.Error,
	})
	if e.metrics != nil {
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		e.metrics.PlatformResults.WithLabelValues(result.PlatformID, outcome).Inc()
	}
}

// appendResult appends write-through: the state hits the store before the
// call returns, so a crash mid-sync loses at most the in-flight publish.
func (e *Engine) appendResult(ctx context.Context, state *domain.SyncState, result domain.SyncResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// One result per platform per sync id.
	if _, dup := state.ResultFor(result.PlatformID); dup {
		e.log.WithField("platform", result.PlatformID).Warn("duplicate result dropped")
		return
	}
	state.Results = append(state.Results, result)

	if err := e.state.SaveActiveSyncState(ctx, state); err != nil {
		e.log.WithError(err).Error("persist sync state failed")
	}
}

func (e *Engine) complete(ctx context.Context, state *domain.SyncState) {
	succeeded, _ := state.Counts()
	attempted, cancelledCount := 0, 0
	for _, r := range state.Results {
		if r.Error == cancelledError {
			cancelledCount++
		} else {
			attempted++
		}
	}

	switch {
	case attempted == 0 && cancelledCount > 0:
		state.Status = domain.SyncStatusCancelled
	case attempted > 0 && succeeded == 0:
		state.Status = domain.SyncStatusFailed
	default:
		state.Status = domain.SyncStatusCompleted
	}

	if err := e.persist(ctx, state); err != nil {
		e.log.WithError(err).Error("persist final sync state failed")
	}
	if e.archive != nil {
		if err := e.archive.Append(ctx, state); err != nil {
			e.log.WithError(err).Warn("history archive append failed")
		}
	}
	if e.advisor != nil && succeeded > 0 {
		if err := e.advisor.Note(ctx, state.SelectedPlatforms); err != nil {
			e.log.WithError(err).Warn("rate-limit record failed")
		}
	}
	if e.metrics != nil {
		e.metrics.SyncsTotal.WithLabelValues(state.Status.String()).Inc()
	}

	evType := events.SyncCompleted
	switch state.Status {
	case domain.SyncStatusFailed:
		evType = events.SyncFailed
	case domain.SyncStatusCancelled:
		evType = events.SyncCancelled
	}
	failed := len(state.Results) - succeeded
	e.sink.Publish(events.Event{
		Type:    evType,
		SyncID:  state.SyncID,
		Message: fmt.Sprintf("%d succeeded, %d failed", succeeded, failed),
	})
}

func (e *Engine) persist(ctx context.Context, state *domain.SyncState) error {
	if err := e.state.SaveActiveSyncState(ctx, state); err != nil {
		return err
	}
	return e.state.AppendHistory(ctx, state)
}

// RetryFailed re-dispatches only the failed subset of a finished sync,
// keeping the successful results intact under the same sync id.
func (e *Engine) RetryFailed(ctx context.Context, syncID string, opts Options) (*domain.SyncState, error) {
	prev, err := e.lookup(ctx, syncID)
	if err != nil {
		return nil, err
	}
	if prev.Status == domain.SyncStatusSyncing {
		return nil, ErrSyncInProgress
	}

	failed := prev.FailedPlatforms()
	if len(failed) == 0 {
		return nil, ErrNothingToRetry
	}

	var kept []domain.SyncResult
	for _, r := range prev.Results {
		if r.Success {
			kept = append(kept, r)
		}
	}

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	session := newSessionWithID(syncID)
	e.active = session
	e.mu.Unlock()

	return e.run(ctx, session, failed, prev.Article, opts, kept)
}

func (e *Engine) lookup(ctx context.Context, syncID string) (*domain.SyncState, error) {
	if state, err := e.state.ActiveSyncState(ctx); err == nil && state != nil && state.SyncID == syncID {
		return state, nil
	}
	state, err := e.state.HistoryEntry(ctx, syncID)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", syncID, err)
	}
	return state, nil
}
