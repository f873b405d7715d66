package uploader

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// imgSrcRe matches img tags leniently; article HTML from scraped sources is
// rarely well-formed, so this follows the same tolerant-scan strategy as the
// RPC decoder.
var imgSrcRe = regexp.MustCompile(`(?is)<img[^>]+?src=["']([^"']+)["']`)

// ProgressFunc reports image-upload progress as (current, total).
type ProgressFunc func(current, total int)

// Rewriter rewrites the embedded images of one article for one destination.
// It keeps a source→destination map for the duration of one publish so an
// image referenced twice is uploaded once. Not safe for concurrent use; each
// publish call creates its own Rewriter.
type Rewriter struct {
	pipeline *Pipeline
	uploaded map[string]string

	// InterUploadDelay spaces consecutive uploads to avoid destination
	// rate limits. Zero disables the delay.
	InterUploadDelay time.Duration
}

// NewRewriter creates a rewriter on top of the pipeline.
func NewRewriter(p *Pipeline) *Rewriter {
	return &Rewriter{
		pipeline: p,
		uploaded: make(map[string]string),
	}
}

// RewriteImages re-hosts every foreign image referenced by html on the
// destination and returns the html with sources swapped. Images already on
// destHost are left alone. A single image exhausting its retry budget fails
// the whole rewrite: publishing an article with dead image references is
// worse than failing the platform.
func (r *Rewriter) RewriteImages(ctx context.Context, up ImageUploader, html, destHost string, progress ProgressFunc) (string, error) {
	sources := collectSources(html)

	var pending []string
	for _, src := range sources {
		if SameDomain(src, destHost) {
			continue
		}
		if _, done := r.uploaded[src]; done {
			continue
		}
		pending = append(pending, src)
	}

	total := len(pending)
	for i, src := range pending {
		if i > 0 && r.InterUploadDelay > 0 {
			if err := r.pipeline.sleep(ctx, r.InterUploadDelay); err != nil {
				return "", err
			}
		}

		hosted, err := r.pipeline.UploadByReference(ctx, up, src)
		if err != nil {
			return "", fmt.Errorf("rewrite image %s: %w", src, err)
		}
		r.uploaded[src] = hosted

		if progress != nil {
			progress(i+1, total)
		}
	}

	// Longest sources first: a source that is a prefix of another (a.png
	// vs a.png?x=1) must not clobber the longer one's references.
	ordered := make([]string, 0, len(r.uploaded))
	for src := range r.uploaded {
		ordered = append(ordered, src)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})
	for _, src := range ordered {
		html = strings.ReplaceAll(html, src, r.uploaded[src])
	}
	return html, nil
}

// RewriteCover re-hosts the cover image and returns its destination URL.
// An empty source is passed through.
func (r *Rewriter) RewriteCover(ctx context.Context, up ImageUploader, coverURL, destHost string) (string, error) {
	if coverURL == "" || SameDomain(coverURL, destHost) {
		return coverURL, nil
	}
	if hosted, ok := r.uploaded[coverURL]; ok {
		return hosted, nil
	}
	hosted, err := r.pipeline.UploadByReference(ctx, up, coverURL)
	if err != nil {
		return "", fmt.Errorf("rewrite cover %s: %w", coverURL, err)
	}
	r.uploaded[coverURL] = hosted
	return hosted, nil
}

// collectSources returns distinct img sources in first-appearance order.
func collectSources(html string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range imgSrcRe.FindAllStringSubmatch(html, -1) {
		src := m[1]
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}
