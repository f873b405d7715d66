package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/crosspost-dev/crosspost/internal/domain"
)

// WriteFreely publishes to WriteFreely / Write.as instances over their JSON
// API. These destinations take Markdown and host no images, so nothing is
// re-uploaded and the image_upload capability is absent.
type WriteFreely struct {
	deps Deps

	id      string
	name    string
	icon    string
	baseURL string
	token   string
	alias   string
}

// NewWriteFreely builds the adapter from settings: base_url, token and
// optionally collection, name, icon.
func NewWriteFreely(deps Deps) (Adapter, error) {
	s := deps.Settings
	if s["base_url"] == "" {
		return nil, errors.New("writefreely: base_url is required")
	}
	if s["token"] == "" {
		return nil, errors.New("writefreely: token is required")
	}

	id := s["id"]
	if id == "" {
		id = "writefreely"
	}
	return &WriteFreely{
		deps:    deps,
		id:      id,
		name:    firstNonEmpty(s["name"], id),
		icon:    s["icon"],
		baseURL: strings.TrimRight(s["base_url"], "/"),
		token:   s["token"],
		alias:   s["collection"],
	}, nil
}

// Meta implements Adapter.
func (w *WriteFreely) Meta() domain.PlatformDescriptor {
	return domain.PlatformDescriptor{
		ID:       w.id,
		Name:     w.name,
		Icon:     w.icon,
		Homepage: w.baseURL,
		Capabilities: domain.NewCapabilitySet(
			domain.CapabilityArticle,
			domain.CapabilityDraft,
		),
	}
}

// CheckAuth implements Adapter.
func (w *WriteFreely) CheckAuth(ctx context.Context) (domain.AuthStatus, error) {
	raw, status, err := w.deps.HTTP.GetJSON(ctx, w.baseURL+"/api/me", w.token)
	if err != nil {
		return domain.AuthStatus{}, fmt.Errorf("auth probe: %w", err)
	}
	if status == 401 || status == 403 {
		return domain.AuthStatus{IsAuthenticated: false, Error: "invalid or expired token"}, nil
	}
	if status >= 400 {
		return domain.AuthStatus{}, fmt.Errorf("auth probe: status %d", status)
	}

	doc := string(raw)
	return domain.AuthStatus{
		IsAuthenticated: true,
		UserID:          gjson.Get(doc, "data.id").String(),
		Username:        gjson.Get(doc, "data.username").String(),
	}, nil
}

// Publish implements Adapter. Markdown is preferred; the pre-rendered
// variant or HTML body is the fallback.
func (w *WriteFreely) Publish(ctx context.Context, article *domain.Article, opts PublishOptions) (*domain.PublishResult, error) {
	body := article.Markdown
	if v, ok := article.Variants[w.id]; ok && v != "" {
		body = v
	}
	if body == "" {
		body = article.HTML
	}

	payload, err := json.Marshal(map[string]any{
		"title": article.Title,
		"body":  body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode post: %w", err)
	}

	endpoint := w.baseURL + "/api/posts"
	if w.alias != "" && !opts.DraftOnly {
		// Draft posts stay anonymous (unattached to the collection), which
		// is how WriteFreely models unpublished work.
		endpoint = w.baseURL + "/api/collections/" + w.alias + "/posts"
	}

	raw, status, err := w.deps.HTTP.PostJSON(ctx, endpoint, w.token, payload)
	if err != nil {
		return nil, err
	}

	doc := string(raw)
	if status >= 400 {
		msg := gjson.Get(doc, "error_msg").String()
		if msg == "" {
			msg = fmt.Sprintf("status %d", status)
		}
		return &domain.PublishResult{Success: false, Error: msg}, nil
	}

	id := gjson.Get(doc, "data.id").String()
	slug := gjson.Get(doc, "data.slug").String()

	postURL := ""
	switch {
	case w.alias != "" && slug != "":
		postURL = w.baseURL + "/" + w.alias + "/" + slug
	case id != "":
		postURL = w.baseURL + "/" + id
	}

	return &domain.PublishResult{
		Success: true,
		PostID:  id,
		PostURL: postURL,
	}, nil
}
