package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"go.uber.org/zap"
)

func testResolver() *ImageResolver {
	return NewImageResolver(2*time.Second, "newsdesk-test/1.0", zap.NewNop())
}

func TestFromFeedItem_MediaContentWinsOverEnclosure(t *testing.T) {
	item := &gofeed.Item{
		Extensions: ext.Extensions{
			"media": {
				"content": []ext.Extension{
					{Attrs: map[string]string{"url": "https://cdn.example.com/media.jpg"}},
				},
			},
		},
		Enclosures: []*gofeed.Enclosure{
			{Type: "image/jpeg", URL: "https://cdn.example.com/enclosure.jpg"},
		},
	}
	got := testResolver().FromFeedItem(item)
	if got != "https://cdn.example.com/media.jpg" {
		t.Errorf("got %q, want media:content URL", got)
	}
}

func TestFromFeedItem_EnclosureRequiresImageType(t *testing.T) {
	item := &gofeed.Item{
		Enclosures: []*gofeed.Enclosure{
			{Type: "audio/mpeg", URL: "https://cdn.example.com/podcast.mp3"},
			{Type: "image/png", URL: "https://cdn.example.com/enclosure.png"},
		},
	}
	got := testResolver().FromFeedItem(item)
	if got != "https://cdn.example.com/enclosure.png" {
		t.Errorf("got %q, want image enclosure URL", got)
	}
}

func TestFromFeedItem_ThumbnailBeforeItemImage(t *testing.T) {
	item := &gofeed.Item{
		Extensions: ext.Extensions{
			"media": {
				"thumbnail": []ext.Extension{
					{Attrs: map[string]string{"url": "https://cdn.example.com/thumb.jpg"}},
				},
			},
		},
		Image: &gofeed.Image{URL: "https://cdn.example.com/item.jpg"},
	}
	got := testResolver().FromFeedItem(item)
	if got != "https://cdn.example.com/thumb.jpg" {
		t.Errorf("got %q, want media:thumbnail URL", got)
	}
}

func TestFromFeedItem_FallsBackToSnippetImg(t *testing.T) {
	item := &gofeed.Item{
		Content: `<p>Text<img src="https://cdn.example.com/inline.jpg"/></p>`,
	}
	got := testResolver().FromFeedItem(item)
	if got != "https://cdn.example.com/inline.jpg" {
		t.Errorf("got %q, want inline img URL", got)
	}
}

func TestFromFeedItem_RejectsNonHTTPSchemes(t *testing.T) {
	item := &gofeed.Item{
		Image:       &gofeed.Image{URL: "data:image/png;base64,AAAA"},
		Description: `<img src="javascript:alert(1)">`,
	}
	got := testResolver().FromFeedItem(item)
	if got != "" {
		t.Errorf("got %q, want empty for non-http schemes", got)
	}
}

func TestFromFeedItem_NoImage(t *testing.T) {
	got := testResolver().FromFeedItem(&gofeed.Item{Title: "no image anywhere"})
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestFromPage_OgImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><meta property="og:image" content="https://cdn.example.com/og.jpg"/></head><body></body></html>`))
	}))
	defer srv.Close()

	got := testResolver().FromPage(context.Background(), srv.URL)
	if got != "https://cdn.example.com/og.jpg" {
		t.Errorf("got %q, want og:image URL", got)
	}
}

func TestFromPage_ResolvesRelativeOgImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><meta property="og:image" content="/img/og.jpg"/></head></html>`))
	}))
	defer srv.Close()

	got := testResolver().FromPage(context.Background(), srv.URL)
	want := srv.URL + "/img/og.jpg"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFromPage_SendsCustomUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	testResolver().FromPage(context.Background(), srv.URL)
	if ua != "newsdesk-test/1.0" {
		t.Errorf("got user agent %q, want newsdesk-test/1.0", ua)
	}
}

func TestFromPage_FailuresYieldEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := testResolver()
	if got := r.FromPage(context.Background(), srv.URL); got != "" {
		t.Errorf("404 page: got %q, want empty", got)
	}
	if got := r.FromPage(context.Background(), ""); got != "" {
		t.Errorf("empty URL: got %q, want empty", got)
	}
	if got := r.FromPage(context.Background(), "http://127.0.0.1:1/unreachable"); got != "" {
		t.Errorf("unreachable host: got %q, want empty", got)
	}
}
