package services

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
	UserAgent string
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.UserAgent)
	return t.Transport.RoundTrip(req)
}

// ImageResolver ermittelt best-effort ein repräsentatives Bild: zuerst aus
// Feed-eigenen Feldern (Discovery), später aus der Quellseite (Generierung).
type ImageResolver struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewImageResolver erstellt einen ImageResolver mit begrenztem Fetch-Timeout
// und beschreibendem User-Agent.
func NewImageResolver(timeout time.Duration, userAgent string, logger *zap.Logger) *ImageResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ImageResolver{
		client: &http.Client{
			Timeout: timeout,
			Transport: &CustomTransport{
				Transport: http.DefaultTransport,
				UserAgent: userAgent,
			},
		},
		timeout: timeout,
		logger:  logger,
	}
}

// FromFeedItem probiert die Feed-eigenen Bildfelder in fester Reihenfolge:
// media:content, Enclosure (image/*), iTunes-Image, media:thumbnail, Item.Image,
// zuletzt das erste <img src> im HTML-Schnipsel. Liefert den ersten Treffer oder "".
func (r *ImageResolver) FromFeedItem(item *gofeed.Item) string {
	if mediaExt, ok := item.Extensions["media"]; ok {
		if contents, ok := mediaExt["content"]; ok {
			for _, content := range contents {
				if u := content.Attrs["url"]; u != "" && isValidImageScheme(u) {
					return u
				}
			}
		}
	}

	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" && isValidImageScheme(enc.URL) {
			return enc.URL
		}
	}

	if item.ITunesExt != nil && item.ITunesExt.Image != "" && isValidImageScheme(item.ITunesExt.Image) {
		return item.ITunesExt.Image
	}

	if mediaExt, ok := item.Extensions["media"]; ok {
		if thumbnails, ok := mediaExt["thumbnail"]; ok {
			for _, thumb := range thumbnails {
				if u := thumb.Attrs["url"]; u != "" && isValidImageScheme(u) {
					return u
				}
			}
		}
	}

	if item.Image != nil && item.Image.URL != "" && isValidImageScheme(item.Image.URL) {
		return item.Image.URL
	}

	if u := firstImgSrc(item.Content); u != "" {
		return u
	}
	return firstImgSrc(item.Description)
}

// FromPage holt die Quellseite mit begrenztem Timeout und liest das
// og:image-Meta-Tag. Fehler brechen die Generierung nie ab: loggen, "" zurück.
func (r *ImageResolver) FromPage(ctx context.Context, pageURL string) string {
	if pageURL == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		r.logger.Warn("Ungültige Seiten-URL für Bild-Extraktion", zap.String("url", pageURL), zap.Error(err))
		return ""
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("Seiten-Fetch für og:image fehlgeschlagen", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("Seiten-Fetch mit unerwartetem Status", zap.String("url", pageURL), zap.Int("status", resp.StatusCode))
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		r.logger.Warn("Seiten-HTML nicht parsbar", zap.String("url", pageURL), zap.Error(err))
		return ""
	}

	img, ok := doc.Find(`meta[property="og:image"]`).Attr("content")
	if !ok || strings.TrimSpace(img) == "" {
		return ""
	}
	return resolveAgainst(pageURL, strings.TrimSpace(img))
}

// firstImgSrc liefert das erste <img src> aus einem HTML-Schnipsel.
func firstImgSrc(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, ok := doc.Find("img[src]").First().Attr("src")
	if !ok || !isValidImageScheme(src) {
		return ""
	}
	return src
}

// resolveAgainst löst relative Bild-URLs gegen die Seiten-URL auf.
func resolveAgainst(pageURL, imageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return imageURL
	}
	ref, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// isValidImageScheme akzeptiert nur http/https-URLs.
func isValidImageScheme(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
