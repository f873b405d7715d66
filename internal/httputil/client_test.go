package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("hello"), 3)
	if err != nil {
		t.Fatal(err)
	}
	if !truncated || string(data) != "hel" {
		t.Errorf("got %q truncated=%v", data, truncated)
	}

	data, truncated, err = ReadAllWithLimit(strings.NewReader("hi"), 10)
	if err != nil || truncated || string(data) != "hi" {
		t.Errorf("got %q truncated=%v err=%v", data, truncated, err)
	}
}

func TestReadAllStrict_OverLimit(t *testing.T) {
	if _, err := ReadAllStrict(strings.NewReader("hello"), 3); err == nil {
		t.Error("expected error for oversized body")
	}
}

func TestFetchImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("pngbytes"))
	}))
	defer srv.Close()

	img, err := NewClient(nil).FetchImage(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("FetchImage failed: %v", err)
	}
	if img.MIME != "image/png" || string(img.Data) != "pngbytes" {
		t.Errorf("got %+v", img)
	}
}

func TestFetchImage_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewClient(nil).FetchImage(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404")
	}
}

func TestPostXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "text/xml" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Write([]byte("<methodResponse/>"))
	}))
	defer srv.Close()

	body, err := NewClient(nil).PostXML(context.Background(), srv.URL, []byte("<methodCall/>"))
	if err != nil {
		t.Fatalf("PostXML failed: %v", err)
	}
	if string(body) != "<methodResponse/>" {
		t.Errorf("body = %q", body)
	}
}
