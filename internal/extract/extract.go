// Package extract turns a source URL into an Article. The heavy lifting
// (site-specific scraping) lives with the caller; this package covers the
// generic case: fetch the page, take the title and open-graph cover, and
// carry the body HTML through untouched.
package extract

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/crosspost-dev/crosspost/internal/domain"
	"github.com/crosspost-dev/crosspost/internal/httputil"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

// Source produces an article from a URL.
type Source interface {
	Extract(ctx context.Context, url string) (*domain.Article, error)
}

var (
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	ogTitleRe = regexp.MustCompile(`(?is)<meta[^>]+property=["']og:title["'][^>]+content=["']([^"']+)["']`)
	ogImageRe = regexp.MustCompile(`(?is)<meta[^>]+property=["']og:image["'][^>]+content=["']([^"']+)["']`)
	bodyRe    = regexp.MustCompile(`(?is)<body[^>]*>(.*)</body>`)
	articleRe = regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`)
)

const (
	fetchTimeout = 30 * time.Second
	maxPageBytes = 8 << 20
)

// HTTPSource extracts articles from plain web pages.
type HTTPSource struct {
	client *http.Client
	log    *logger.Logger
}

// NewHTTPSource creates a source with its own timeout-bounded client.
func NewHTTPSource(log *logger.Logger) *HTTPSource {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPSource{
		client: &http.Client{Timeout: fetchTimeout},
		log:    log,
	}
}

// Extract implements Source.
func (s *HTTPSource) Extract(ctx context.Context, url string) (*domain.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	page, _, err := httputil.ReadAllWithLimit(resp.Body, maxPageBytes)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	article := Parse(string(page))
	article.SourceURL = url
	if article.Title == "" {
		return nil, fmt.Errorf("no title found at %s", url)
	}
	return article, nil
}

// Parse pulls title, cover and body out of raw page HTML.
func Parse(page string) *domain.Article {
	article := &domain.Article{}

	// og:title wins over <title>: the latter usually carries site suffixes.
	if m := ogTitleRe.FindStringSubmatch(page); m != nil {
		article.Title = cleanText(m[1])
	} else if m := titleRe.FindStringSubmatch(page); m != nil {
		article.Title = cleanText(m[1])
	}

	if m := ogImageRe.FindStringSubmatch(page); m != nil {
		article.CoverURL = html.UnescapeString(m[1])
	}

	if m := articleRe.FindStringSubmatch(page); m != nil {
		article.HTML = strings.TrimSpace(m[1])
	} else if m := bodyRe.FindStringSubmatch(page); m != nil {
		article.HTML = strings.TrimSpace(m[1])
	}

	return article
}

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}
