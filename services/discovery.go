package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsdesk/models"
	"newsdesk/sources"
)

// maxCategories begrenzt die übernommenen Feed-Kategorien pro Artikel.
const maxCategories = 3

// ScanOptions steuert einen einzelnen Quellen-Scan.
type ScanOptions struct {
	// Limit überschreibt die Anzahl der betrachteten neuesten Feed-Items.
	Limit int
	// PublishImmediately veröffentlicht Treffer sofort mit trivialem Flash aus
	// dem Feed-Schnipsel und umgeht die Generierung. Nur für Quellen-Tests.
	PublishImmediately bool
}

// ScanOutcome fasst das Ergebnis eines Quellen-Scans zusammen.
type ScanOutcome struct {
	Created    int
	Duplicates int
	Skipped    int
}

// DiscoveryScanner holt und parst Feeds der Quellen-Registry, dedupliziert
// gegen vorhandene Artikel per kanonischer Quell-URL und legt Draft-Artikel an.
type DiscoveryScanner struct {
	DB         *gorm.DB
	Registry   *sources.Registry
	Images     *ImageResolver
	Normalizer TitleNormalizer
	Dispatcher *Dispatcher
	Logger     *zap.Logger

	ItemLimit   int
	FeedTimeout time.Duration
	UserAgent   string

	httpClient *http.Client
}

func (s *DiscoveryScanner) client() *http.Client {
	if s.httpClient == nil {
		timeout := s.FeedTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		s.httpClient = &http.Client{
			Timeout: timeout,
			Transport: &CustomTransport{
				Transport: http.DefaultTransport,
				UserAgent: s.UserAgent,
			},
		}
	}
	return s.httpClient
}

// ScanAll durchläuft alle konfigurierten Quellen. Fehler einer Quelle brechen
// die Geschwister-Quellen nie ab; sie werden pro Quelle geloggt.
func (s *DiscoveryScanner) ScanAll(ctx context.Context) int {
	total := 0
	for _, src := range s.Registry.All() {
		outcome, err := s.ScanSource(ctx, src, ScanOptions{})
		if err != nil {
			s.Logger.Error("Quellen-Scan fehlgeschlagen",
				zap.String("domain", src.Domain), zap.Error(err))
			continue
		}
		total += outcome.Created
	}
	s.Logger.Info("Discovery-Lauf abgeschlossen", zap.Int("new_drafts", total))
	return total
}

// ScanSource holt und verarbeitet eine einzelne Quelle.
func (s *DiscoveryScanner) ScanSource(ctx context.Context, src sources.Source, opts ScanOptions) (ScanOutcome, error) {
	var outcome ScanOutcome

	if src.FeedURL == "" {
		return outcome, nil
	}
	articleType, ok := src.Pillar.ArticleType()
	if !ok {
		// Unbekannte Säule: Einzelfall überspringen, Lauf fortsetzen.
		s.Logger.Warn("Quelle mit unbekannter Säule übersprungen",
			zap.String("domain", src.Domain), zap.String("pillar", string(src.Pillar)))
		outcome.Skipped++
		return outcome, nil
	}

	timeout := s.FeedTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = s.client()
	feed, err := parser.ParseURLWithContext(src.FeedURL, fetchCtx)
	if err != nil {
		return outcome, fmt.Errorf("parsing feed %s: %w", src.FeedURL, err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.ItemLimit
	}
	if limit <= 0 {
		limit = 5
	}

	log := s.Logger.With(zap.String("domain", src.Domain))
	for i, item := range feed.Items {
		if i >= limit {
			break
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			outcome.Skipped++
			continue
		}

		// Dedup über die kanonische Quell-URL; stilles Überspringen.
		var count int64
		if err := s.DB.WithContext(ctx).Model(&models.Article{}).
			Where("source_url = ?", link).Count(&count).Error; err != nil {
			return outcome, fmt.Errorf("duplicate check: %w", err)
		}
		if count > 0 {
			outcome.Duplicates++
			continue
		}

		article := s.buildArticle(item, src, articleType, link, opts)
		if err := s.DB.WithContext(ctx).Create(article).Error; err != nil {
			// Unique-Index auf source_url fängt das Rennen zweier Scans ab.
			log.Warn("Artikel konnte nicht angelegt werden", zap.String("link", link), zap.Error(err))
			outcome.Duplicates++
			continue
		}
		outcome.Created++

		if !opts.PublishImmediately {
			if err := s.Dispatcher.Dispatch(ctx, article.ID); err != nil {
				log.Error("Dispatch nach Discovery fehlgeschlagen",
					zap.Uint("article_id", article.ID), zap.Error(err))
			}
		}
	}

	log.Info("Quelle gescannt",
		zap.Int("created", outcome.Created),
		zap.Int("duplicates", outcome.Duplicates),
		zap.Int("skipped", outcome.Skipped),
	)
	return outcome, nil
}

func (s *DiscoveryScanner) buildArticle(item *gofeed.Item, src sources.Source, articleType models.ArticleType, link string, opts ScanOptions) *models.Article {
	now := time.Now().UTC()
	article := &models.Article{
		ArticleType:      articleType,
		Categories:       intersectCategories(item.Categories),
		Region:           src.Region,
		Title:            s.Normalizer.Normalize(item.Title),
		ShortDescription: strings.TrimSpace(item.Description),
		ImageURL:         s.Images.FromFeedItem(item),
		SourceURL:        link,
		SourceTitle:      src.DisplayName,
		DiscoveryMethod:  models.DiscoveryRSS,
		Status:           models.StatusDraft,
		DiscoveredAt:     &now,
	}

	if opts.PublishImmediately {
		article.DiscoveryMethod = models.DiscoverySourceTest
		article.Status = models.StatusPublished
		article.FlashContent = snippetText(item.Description, 280)
		if article.FlashContent == "" {
			article.FlashContent = article.Title
		}
		article.PublishedAt = &now
	}
	return article
}

// intersectCategories schneidet Feed-Kategorien mit dem festen Vokabular und
// kappt bei maxCategories.
func intersectCategories(feedCategories []string) string {
	supported := make(map[string]bool, len(models.SupportedCategories))
	for _, c := range models.SupportedCategories {
		supported[c] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, c := range feedCategories {
		c = strings.ToLower(strings.TrimSpace(c))
		if !supported[c] || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == maxCategories {
			break
		}
	}
	return strings.Join(out, ",")
}

// snippetText reduziert einen HTML-Schnipsel auf reinen Text und kürzt ihn.
func snippetText(html string, max int) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	text := html
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
