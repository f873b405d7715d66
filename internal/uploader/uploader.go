// Package uploader implements the bounded-retry image re-hosting pipeline.
// Every adapter that rewrites embedded images before publishing goes through
// it: fetch the source bytes, derive a filename, hand the blob to the
// destination's upload primitive, and retry with linear backoff when the
// destination misbehaves.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/crosspost-dev/crosspost/internal/httputil"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

// ErrAttemptsExhausted is returned after the final failed attempt. Callers
// can tell "give up" apart from a programming error or cancellation.
var ErrAttemptsExhausted = errors.New("upload attempts exhausted")

// DefaultMaxAttempts is the retry budget per image.
const DefaultMaxAttempts = 10

// Blob is an image payload handed to a destination upload primitive.
type Blob struct {
	Data     []byte
	MIME     string
	Filename string
}

// ImageUploader is the destination-specific upload primitive. Adapters that
// support image re-hosting implement it.
type ImageUploader interface {
	// UploadImage re-hosts the blob and returns its URL on the destination.
	UploadImage(ctx context.Context, blob Blob) (string, error)
}

// Fetcher downloads remote image bytes. *httputil.Client satisfies it.
type Fetcher interface {
	FetchImage(ctx context.Context, url string) (*httputil.Image, error)
}

// Pipeline drives the fetch-then-upload loop with retries.
type Pipeline struct {
	fetch       Fetcher
	log         *logger.Logger
	maxAttempts int
	onRetry     func()

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// SetRetryHook registers fn to run once per scheduled retry. The daemon
// wires it to a metrics counter.
func (p *Pipeline) SetRetryHook(fn func()) {
	p.onRetry = fn
}

// New creates a pipeline with the default retry budget.
func New(fetch Fetcher, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		fetch:       fetch,
		log:         log,
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UploadByReference fetches the bytes behind srcURL and re-hosts them on the
// destination. Cancellation is checked at the top of every attempt and never
// consumes one. Transport failures and empty success results are retried
// with a linear backoff of attempt×1s; ErrAttemptsExhausted comes back only
// after the final attempt.
func (p *Pipeline) UploadByReference(ctx context.Context, up ImageUploader, srcURL string) (string, error) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		hosted, err := p.tryOnce(ctx, up, srcURL)
		if err == nil && hosted != "" {
			return hosted, nil
		}
		if err != nil {
			p.log.WithError(err).
				WithField("source", srcURL).
				WithField("attempt", attempt).
				Warn("image upload attempt failed")
		} else {
			p.log.WithField("source", srcURL).
				WithField("attempt", attempt).
				Warn("destination returned empty upload result")
		}

		if attempt < p.maxAttempts {
			if p.onRetry != nil {
				p.onRetry()
			}
			if err := p.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return "", err
			}
		}
	}
	return "", ErrAttemptsExhausted
}

func (p *Pipeline) tryOnce(ctx context.Context, up ImageUploader, srcURL string) (string, error) {
	img, err := p.fetch.FetchImage(ctx, srcURL)
	if err != nil {
		return "", fmt.Errorf("fetch source: %w", err)
	}

	blob := Blob{
		Data:     img.Data,
		MIME:     img.MIME,
		Filename: FilenameFor(srcURL, img.MIME),
	}
	hosted, err := up.UploadImage(ctx, blob)
	if err != nil {
		return "", fmt.Errorf("destination upload: %w", err)
	}
	return hosted, nil
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".svg": true,
}

// filenameHintParams are query parameters some hosts use to carry the real
// image format when the path has no extension.
var filenameHintParams = []string{"wx_fmt", "format", "ext"}

var mimeDefaults = map[string]string{
	"image/jpeg":    "image.jpg",
	"image/png":     "image.png",
	"image/gif":     "image.gif",
	"image/webp":    "image.webp",
	"image/bmp":     "image.bmp",
	"image/svg+xml": "image.svg",
}

// FilenameFor derives an upload filename: a recognized image extension in
// the URL path wins, then a known query-parameter hint, then a MIME-derived
// default.
func FilenameFor(rawURL, mime string) string {
	if u, err := url.Parse(rawURL); err == nil {
		base := path.Base(u.Path)
		if ext := strings.ToLower(path.Ext(base)); imageExtensions[ext] {
			return base
		}
		q := u.Query()
		for _, param := range filenameHintParams {
			if v := q.Get(param); v != "" {
				return "image." + strings.ToLower(v)
			}
		}
	}

	if name, ok := mimeDefaults[normalizeMIME(mime)]; ok {
		return name
	}
	return "image.jpg"
}

func normalizeMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// SameDomain reports whether src is already hosted on destHost. A URL that
// fails to parse is treated as foreign, failing open to an upload.
func SameDomain(src, destHost string) bool {
	if destHost == "" {
		return false
	}
	u, err := url.Parse(src)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return strings.EqualFold(u.Hostname(), destHost)
}
