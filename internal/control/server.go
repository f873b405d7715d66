package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/events"
	"github.com/crosspost-dev/crosspost/internal/uploader"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

// Handler is the application surface the control channel exposes. The
// daemon wires it to the engine, the auth checker, and the article source.
type Handler interface {
	// ListPlatforms returns every configured destination with cached auth
	// state merged in.
	ListPlatforms(ctx context.Context) ([]domain.PlatformDescriptor, error)

	// CheckAuth probes authentication, optionally bypassing the cache.
	CheckAuth(ctx context.Context, platformIDs []string, force bool) ([]domain.PlatformDescriptor, error)

	// SyncArticle dispatches the article and returns the final state.
	SyncArticle(ctx context.Context, platformIDs []string, article *domain.Article, draftOnly bool) (*domain.SyncState, error)

	// CancelSync cancels the active sync, reporting whether one existed.
	CancelSync(ctx context.Context) (bool, error)

	// RetryFailed re-dispatches the failed subset of a recorded sync.
	RetryFailed(ctx context.Context, syncID string) (*domain.SyncState, error)

	// SyncState returns the current or last recorded sync state.
	SyncState(ctx context.Context) (*domain.SyncState, error)

	// SyncHistory returns recorded syncs, newest first.
	SyncHistory(ctx context.Context) ([]domain.SyncState, error)

	// ExtractArticle fetches and normalizes an article from a source URL.
	ExtractArticle(ctx context.Context, url string) (*domain.Article, error)

	// UploadImage re-hosts one image on a destination and returns its URL.
	UploadImage(ctx context.Context, platformID string, blob uploader.Blob) (string, error)
}

const (
	// Per-connection request budget. Generous for interactive use; stops a
	// runaway client from hammering destination servers through us.
	rateLimit = 20
	rateBurst = 40
)

// Server terminates websocket control connections.
type Server struct {
	handler  Handler
	sessions *SessionManager
	sink     events.Sink
	token    string
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a control server. Auth fails closed: with an empty
// token every request is rejected with CodeNoToken.
func NewServer(handler Handler, sessions *SessionManager, sink events.Sink, token string, log *logger.Logger) *Server {
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		handler:  handler,
		sessions: sessions,
		sink:     sink,
		token:    token,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until it drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.serveConn(r.Context(), conn)
}

type connState struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connState) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	cs := &connState{conn: conn}
	limiter := rate.NewLimiter(rate.Limit(rateLimit), rateBurst)

	// Forward domain events to this connection for as long as it lives.
	unsubscribe := s.sink.Subscribe(func(ev events.Event) {
		if err := cs.writeJSON(Response{Event: ev}); err != nil {
			s.log.WithError(err).Debug("event push failed")
		}
	})
	defer unsubscribe()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("control connection dropped")
			}
			return
		}

		if !limiter.Allow() {
			cs.writeJSON(errorResponse(req.ID, CodeMethodFailed, "rate limited"))
			continue
		}
		if resp, ok := s.authorize(req); !ok {
			cs.writeJSON(resp)
			continue
		}

		// Long-running methods (syncArticle can take minutes) must not
		// block the read loop: cancel and further requests still arrive.
		go func(req Request) {
			cs.writeJSON(s.dispatch(ctx, req))
		}(req)
	}
}

func (s *Server) authorize(req Request) (Response, bool) {
	if s.token == "" {
		return errorResponse(req.ID, CodeNoToken, "no token configured"), false
	}
	if req.Token == "" {
		return errorResponse(req.ID, CodeNoToken, "token required"), false
	}
	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.token)) != 1 {
		return errorResponse(req.ID, CodeBadToken, "token mismatch"), false
	}
	return Response{}, true
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	result, err := s.call(ctx, req)
	if err != nil {
		return errorResponse(req.ID, CodeMethodFailed, err.Error())
	}
	return resultResponse(req.ID, result)
}

func (s *Server) call(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case "listPlatforms":
		return s.handler.ListPlatforms(ctx)

	case "checkAuth":
		var p struct {
			Platforms []string `json:"platforms"`
			Force     bool     `json:"force"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.handler.CheckAuth(ctx, p.Platforms, p.Force)

	case "syncArticle":
		var p struct {
			Platforms []string        `json:"platforms"`
			Article   *domain.Article `json:"article"`
			DraftOnly bool            `json:"draftOnly"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.handler.SyncArticle(ctx, p.Platforms, p.Article, p.DraftOnly)

	case "cancelSync":
		cancelled, err := s.handler.CancelSync(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"cancelled": cancelled}, nil

	case "retryFailed":
		var p struct {
			SyncID string `json:"syncId"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.handler.RetryFailed(ctx, p.SyncID)

	case "syncState":
		return s.handler.SyncState(ctx)

	case "syncHistory":
		return s.handler.SyncHistory(ctx)

	case "extractArticle":
		var p struct {
			URL string `json:"url"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.handler.ExtractArticle(ctx, p.URL)

	case "uploadImage":
		var p struct {
			Platform string `json:"platform"`
			Filename string `json:"filename"`
			MimeType string `json:"mimeType"`
			Data     []byte `json:"data"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		url, err := s.handler.UploadImage(ctx, p.Platform, uploader.Blob{
			Data: p.Data, MIME: p.MimeType, Filename: p.Filename,
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"url": url}, nil

	case "uploadImage:start":
		var p struct {
			UploadID    string `json:"uploadId"`
			Filename    string `json:"filename"`
			MimeType    string `json:"mimeType"`
			TotalChunks int    `json:"totalChunks"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		id, err := s.sessions.Start(p.UploadID, p.Filename, p.MimeType, p.TotalChunks)
		if err != nil {
			return nil, err
		}
		return map[string]string{"uploadId": id}, nil

	case "uploadImage:chunk":
		var p struct {
			UploadID string `json:"uploadId"`
			Index    int    `json:"index"`
			Data     []byte `json:"data"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.sessions.AddChunk(p.UploadID, p.Index, p.Data); err != nil {
			return nil, err
		}
		return map[string]bool{"received": true}, nil

	case "uploadImage:complete":
		var p struct {
			UploadID string `json:"uploadId"`
			Platform string `json:"platform"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		blob, err := s.sessions.Complete(p.UploadID)
		if err != nil {
			return nil, err
		}
		url, err := s.handler.UploadImage(ctx, p.Platform, blob)
		if err != nil {
			return nil, err
		}
		return map[string]string{"url": url}, nil

	default:
		return nil, &unknownMethodError{method: req.Method}
	}
}

type unknownMethodError struct{ method string }

func (e *unknownMethodError) Error() string { return "unknown method: " + e.method }

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
