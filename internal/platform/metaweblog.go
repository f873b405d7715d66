package platform

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/uploader"
	"github.com/crosspost-dev/crosspost/internal/xmlrpc"
)

// MetaWeblog talks to destinations exposing the MetaWeblog XML-RPC surface
// (WordPress, Typecho, cnblogs and friends). One instance per configured
// destination.
type MetaWeblog struct {
	deps Deps

	id       string
	name     string
	icon     string
	homepage string

	endpoint string
	username string
	password string
	blogID   string

	// host is the destination hostname; images already there are not
	// re-uploaded.
	host string
}

// NewMetaWeblog builds the adapter from settings: endpoint, username,
// password and optionally blog_id, name, icon, homepage.
func NewMetaWeblog(deps Deps) (Adapter, error) {
	s := deps.Settings
	endpoint := s["endpoint"]
	if endpoint == "" {
		return nil, errors.New("metaweblog: endpoint is required")
	}
	if s["username"] == "" || s["password"] == "" {
		return nil, errors.New("metaweblog: username and password are required")
	}

	id := s["id"]
	if id == "" {
		id = "metaweblog"
	}
	blogID := s["blog_id"]
	if blogID == "" {
		blogID = "1"
	}

	host := ""
	if u, err := url.Parse(endpoint); err == nil {
		host = u.Hostname()
	}
	if h := s["homepage"]; h != "" {
		if u, err := url.Parse(h); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
	}

	return &MetaWeblog{
		deps:     deps,
		id:       id,
		name:     firstNonEmpty(s["name"], id),
		icon:     s["icon"],
		homepage: s["homepage"],
		endpoint: endpoint,
		username: s["username"],
		password: s["password"],
		blogID:   blogID,
		host:     host,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Meta implements Adapter.
func (m *MetaWeblog) Meta() domain.PlatformDescriptor {
	return domain.PlatformDescriptor{
		ID:       m.id,
		Name:     m.name,
		Icon:     m.icon,
		Homepage: m.homepage,
		Capabilities: domain.NewCapabilitySet(
			domain.CapabilityArticle,
			domain.CapabilityDraft,
			domain.CapabilityImageUpload,
		),
	}
}

// CheckAuth implements Adapter. A fault response means the credentials are
// bad, not that the probe failed.
func (m *MetaWeblog) CheckAuth(ctx context.Context) (domain.AuthStatus, error) {
	body := xmlrpc.EncodeRequest("blogger.getUsersBlogs",
		xmlrpc.String("0"), xmlrpc.String(m.username), xmlrpc.String(m.password))

	raw, err := m.deps.HTTP.PostXML(ctx, m.endpoint, body)
	if err != nil {
		return domain.AuthStatus{}, fmt.Errorf("auth probe: %w", err)
	}

	resp := xmlrpc.DecodeResponse(raw)
	if !resp.Success {
		return domain.AuthStatus{IsAuthenticated: false, Error: resp.Err}, nil
	}
	return domain.AuthStatus{IsAuthenticated: true, Username: m.username}, nil
}

// Publish implements Adapter. Embedded images are re-hosted first; the post
// body the destination stores never references foreign image hosts.
func (m *MetaWeblog) Publish(ctx context.Context, article *domain.Article, opts PublishOptions) (*domain.PublishResult, error) {
	rewriter := uploader.NewRewriter(m.deps.Pipeline)
	rewriter.InterUploadDelay = 500 * time.Millisecond

	html, err := rewriter.RewriteImages(ctx, m, article.BodyFor(m.id), m.host, opts.OnImageProgress)
	if err != nil {
		return nil, err
	}

	// The MetaWeblog surface has no portable thumbnail field, so the cover
	// leads the body instead.
	if article.CoverURL != "" {
		cover, err := rewriter.RewriteCover(ctx, m, article.CoverURL, m.host)
		if err != nil {
			return nil, err
		}
		html = `<p><img src="` + cover + `"/></p>` + html
	}

	content := xmlrpc.Struct(
		xmlrpc.Member{Name: "title", Value: xmlrpc.String(article.Title)},
		xmlrpc.Member{Name: "description", Value: xmlrpc.String(html)},
	)
	body := xmlrpc.EncodeRequest("metaWeblog.newPost",
		xmlrpc.String(m.blogID),
		xmlrpc.String(m.username),
		xmlrpc.String(m.password),
		content,
		xmlrpc.Bool(!opts.DraftOnly),
	)

	raw, err := m.deps.HTTP.PostXML(ctx, m.endpoint, body)
	if err != nil {
		return nil, err
	}

	resp := xmlrpc.DecodeResponse(raw)
	if !resp.Success {
		return &domain.PublishResult{Success: false, Error: resp.Err}, nil
	}

	postID := resp.Value
	if resp.Object {
		if v, ok := xmlrpc.ExtractMember(raw, "postid"); ok {
			postID = v
		}
	}
	if postID == "0" {
		// Known server quirk: some destinations acknowledge the post with a
		// literal 0. Recover the real id from the most recent post. Racy if
		// two posts land at once; best effort only.
		if recovered := m.recoverRecentPostID(ctx); recovered != "" {
			postID = recovered
		}
	}

	return &domain.PublishResult{
		Success: true,
		PostID:  postID,
		PostURL: m.postURL(postID),
	}, nil
}

func (m *MetaWeblog) recoverRecentPostID(ctx context.Context) string {
	body := xmlrpc.EncodeRequest("metaWeblog.getRecentPosts",
		xmlrpc.String(m.blogID),
		xmlrpc.String(m.username),
		xmlrpc.String(m.password),
		xmlrpc.Int(1),
	)
	raw, err := m.deps.HTTP.PostXML(ctx, m.endpoint, body)
	if err != nil {
		m.deps.Log.WithError(err).Warn("recent-post id recovery failed")
		return ""
	}
	if id, ok := xmlrpc.ExtractMember(raw, "postid"); ok {
		return id
	}
	return ""
}

func (m *MetaWeblog) postURL(postID string) string {
	if postID == "" || m.homepage == "" {
		return ""
	}
	return strings.TrimRight(m.homepage, "/") + "/?p=" + url.QueryEscape(postID)
}

// UploadImage implements ImageUploader via metaWeblog.newMediaObject. The
// payload is emitted under both the "bits" and "data" member names: server
// implementations diverged on which one they read and accepting both costs
// nothing.
func (m *MetaWeblog) UploadImage(ctx context.Context, blob uploader.Blob) (string, error) {
	media := xmlrpc.Struct(
		xmlrpc.Member{Name: "name", Value: xmlrpc.String(blob.Filename)},
		xmlrpc.Member{Name: "type", Value: xmlrpc.String(blob.MIME)},
		xmlrpc.Member{Name: "bits", Value: xmlrpc.Base64(blob.Data)},
		xmlrpc.Member{Name: "data", Value: xmlrpc.Base64(blob.Data)},
	)
	body := xmlrpc.EncodeRequest("metaWeblog.newMediaObject",
		xmlrpc.String(m.blogID),
		xmlrpc.String(m.username),
		xmlrpc.String(m.password),
		media,
	)

	raw, err := m.deps.HTTP.PostXML(ctx, m.endpoint, body)
	if err != nil {
		return "", err
	}

	resp := xmlrpc.DecodeResponse(raw)
	if !resp.Success {
		return "", fmt.Errorf("media upload fault: %s", resp.Err)
	}
	if u, ok := xmlrpc.ExtractMember(raw, "url"); ok && u != "" {
		return u, nil
	}
	// Some servers return the URL as a bare scalar.
	return resp.Value, nil
}
