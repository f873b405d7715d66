package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!doctype html>
<html>
<head>
  <title>Post Title &#8211; My Site</title>
  <meta property="og:title" content="Post Title" />
  <meta property="og:image" content="https://cdn.example.com/cover.png" />
</head>
<body>
<nav>menu</nav>
<article><h1>Post Title</h1><p>Hello &amp; welcome.</p></article>
</body>
</html>`

func TestParse_PrefersOpenGraphAndArticle(t *testing.T) {
	article := Parse(samplePage)

	if article.Title != "Post Title" {
		t.Errorf("title = %q, want og:title without site suffix", article.Title)
	}
	if article.CoverURL != "https://cdn.example.com/cover.png" {
		t.Errorf("cover = %q", article.CoverURL)
	}
	if !strings.Contains(article.HTML, "<p>Hello &amp; welcome.</p>") {
		t.Errorf("html = %q, want the <article> contents", article.HTML)
	}
	if strings.Contains(article.HTML, "menu") {
		t.Error("html includes chrome outside <article>")
	}
}

func TestParse_FallsBackToTitleAndBody(t *testing.T) {
	article := Parse(`<html><head><title> Bare &amp; Plain </title></head><body><p>x</p></body></html>`)

	if article.Title != "Bare & Plain" {
		t.Errorf("title = %q", article.Title)
	}
	if article.HTML != "<p>x</p>" {
		t.Errorf("html = %q", article.HTML)
	}
}

func TestHTTPSource_Extract(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer ts.Close()

	article, err := NewHTTPSource(nil).Extract(context.Background(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if article.Title != "Post Title" || article.SourceURL != ts.URL {
		t.Errorf("article = %+v", article)
	}
}

func TestHTTPSource_ErrorStatuses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	if _, err := NewHTTPSource(nil).Extract(context.Background(), ts.URL); err == nil {
		t.Error("404 page extracted without error")
	}
}

func TestHTTPSource_RequiresTitle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>untitled</body></html>"))
	}))
	defer ts.Close()

	if _, err := NewHTTPSource(nil).Extract(context.Background(), ts.URL); err == nil {
		t.Error("page without title extracted without error")
	}
}
