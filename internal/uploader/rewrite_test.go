package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// seqUploader hands out a distinct hosted URL per upload.
type seqUploader struct{ calls int }

func (s *seqUploader) UploadImage(ctx context.Context, blob Blob) (string, error) {
	s.calls++
	return fmt.Sprintf("https://dest.example/hosted/%d", s.calls), nil
}

func TestRewriteImages_UploadsAndSwaps(t *testing.T) {
	up := &fakeUploader{}
	p, _ := newTestPipeline(&fakeFetcher{})
	r := NewRewriter(p)

	html := `<p>one</p><img src="https://src.example/a.png"><img src='https://src.example/b.png'>`
	var progress [][2]int
	out, err := r.RewriteImages(context.Background(), up, html, "dest.example", func(cur, total int) {
		progress = append(progress, [2]int{cur, total})
	})
	if err != nil {
		t.Fatalf("RewriteImages failed: %v", err)
	}

	if strings.Contains(out, "src.example") {
		t.Errorf("source URLs survived rewrite: %s", out)
	}
	if !strings.Contains(out, "https://dest.example/hosted/a.png") {
		t.Errorf("hosted URL missing: %s", out)
	}
	if len(progress) != 2 || progress[0] != [2]int{1, 2} || progress[1] != [2]int{2, 2} {
		t.Errorf("progress = %v", progress)
	}
}

func TestRewriteImages_DeduplicatesRepeatedImage(t *testing.T) {
	up := &fakeUploader{}
	p, _ := newTestPipeline(&fakeFetcher{})
	r := NewRewriter(p)

	html := `<img src="https://src.example/a.png"><img src="https://src.example/a.png">`
	out, err := r.RewriteImages(context.Background(), up, html, "dest.example", nil)
	if err != nil {
		t.Fatal(err)
	}
	if up.calls != 1 {
		t.Errorf("upload calls = %d, want 1 for repeated image", up.calls)
	}
	if strings.Count(out, "https://dest.example/hosted/a.png") != 2 {
		t.Errorf("both references should be rewritten: %s", out)
	}
}

func TestRewriteImages_PrefixSourcesDoNotCollide(t *testing.T) {
	up := &seqUploader{}
	p, _ := newTestPipeline(&fakeFetcher{})
	r := NewRewriter(p)

	// The first source is a prefix of the second; each must swap to its own
	// hosted URL.
	html := `<img src="https://src.example/a.png"><img src="https://src.example/a.png?x=1">`
	out, err := r.RewriteImages(context.Background(), up, html, "dest.example", nil)
	if err != nil {
		t.Fatal(err)
	}

	want := `<img src="https://dest.example/hosted/1"><img src="https://dest.example/hosted/2">`
	if out != want {
		t.Errorf("out = %s\nwant %s", out, want)
	}
}

func TestRewriteImages_SkipsSameDomain(t *testing.T) {
	up := &fakeUploader{}
	p, _ := newTestPipeline(&fakeFetcher{})
	r := NewRewriter(p)

	html := `<img src="https://dest.example/already.png">`
	out, err := r.RewriteImages(context.Background(), up, html, "dest.example", nil)
	if err != nil {
		t.Fatal(err)
	}
	if up.calls != 0 {
		t.Errorf("same-domain image uploaded %d times", up.calls)
	}
	if out != html {
		t.Errorf("html changed: %s", out)
	}
}

func TestRewriteImages_ExhaustionFailsRewrite(t *testing.T) {
	up := &fakeUploader{failFirst: 1000}
	p, _ := newTestPipeline(&fakeFetcher{})
	r := NewRewriter(p)

	_, err := r.RewriteImages(context.Background(), up, `<img src="https://src.example/a.png">`, "dest.example", nil)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("err = %v, want wrapped ErrAttemptsExhausted", err)
	}
}

func TestRewriteImages_MapPersistsAcrossCalls(t *testing.T) {
	up := &fakeUploader{}
	p, _ := newTestPipeline(&fakeFetcher{})
	r := NewRewriter(p)

	html := `<img src="https://src.example/a.png">`
	if _, err := r.RewriteImages(context.Background(), up, html, "dest.example", nil); err != nil {
		t.Fatal(err)
	}
	// Cover referencing the same image reuses the mapping.
	hosted, err := r.RewriteCover(context.Background(), up, "https://src.example/a.png", "dest.example")
	if err != nil {
		t.Fatal(err)
	}
	if up.calls != 1 {
		t.Errorf("upload calls = %d, want 1", up.calls)
	}
	if hosted != "https://dest.example/hosted/a.png" {
		t.Errorf("hosted = %q", hosted)
	}
}

func TestCollectSources_Order(t *testing.T) {
	html := `<IMG SRC="u1"><img alt="x" src='u2'><img src="u1">`
	got := collectSources(html)
	if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Errorf("collectSources = %v", got)
	}
}
