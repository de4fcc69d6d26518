package services

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsdesk/models"
)

// TextModel ist der schmale Vertrag zum generativen Modell: feste
// System-Anweisung, Prompt, strukturierte Antwort als Text.
type TextModel interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ContentGenerator baut typ-spezifische Prompt/Schema-Paare, ruft das Modell,
// validiert die Antwort und persistiert das Ergebnis inklusive Status.
// Klassifizierte (nicht wiederholbare) Fehler schreibt er selbst terminal
// (GenerationFailed mit Diagnose-Notiz); vorübergehende Fehler lassen den
// Artikel im Queued-Status, damit die erneute Zustellung der Queue die
// Generierung wiederholen kann. Der Fehler geht in beiden Fällen zusätzlich
// an den Aufrufer.
type ContentGenerator struct {
	DB     *gorm.DB
	Model  TextModel
	Images *ImageResolver
	Logger *zap.Logger

	Normalizer            TitleNormalizer
	DisplayTitleThreshold int
	AllowedDomains        []string

	// Optionale Zähler; nil-sicher.
	PublishedCounter prometheus.Counter
	FailureCounter   prometheus.Counter
}

// Generate führt die Inhalts-Generierung für einen Artikel aus.
func (g *ContentGenerator) Generate(ctx context.Context, article *models.Article) error {
	log := g.Logger.With(zap.Uint("article_id", article.ID))

	if err := g.run(ctx, article, log); err != nil {
		if IsRetryable(err) {
			// Kein terminaler Write: der Artikel bleibt Queued und der Task
			// kommt nach dem Backoff der Queue erneut.
			log.Warn("Generierung vorübergehend fehlgeschlagen, Retry über die Queue", zap.Error(err))
			return err
		}
		g.failGeneration(ctx, article, err, log)
		return err
	}
	return nil
}

func (g *ContentGenerator) run(ctx context.Context, article *models.Article, log *zap.Logger) error {
	if g.Model == nil {
		return fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrConfiguration)
	}

	title := g.Normalizer.Normalize(article.Title)

	// Bild vor dem Modell-Aufruf auflösen: die Bildqualität hängt damit nie
	// vom Modellverhalten ab. Das Seiten-Bild überschreibt das Feed-Bild.
	imageURL := g.Images.FromPage(ctx, article.SourceURL)

	articleType := article.ArticleType
	if articleType == models.TypePositiveNews {
		articleType = g.reclassifyPositive(ctx, article, title, log)
	}

	threshold := g.DisplayTitleThreshold
	if threshold <= 0 {
		threshold = 70
	}

	input := promptInput{
		Title:            title,
		ShortDescription: article.ShortDescription,
		SourceTitle:      article.SourceTitle,
		SourceURL:        article.SourceURL,
		Categories:       article.Categories,
		WantDisplayTitle: utf8.RuneCountInString(title) > threshold,
	}

	deepDive := articleType == models.TypeMisinformation && !article.HasSource()

	var (
		flash, deepDiveContent, imagePrompt, displayTitle string
	)
	if deepDive {
		input.AllowedDomains = g.AllowedDomains
		raw, err := g.Model.Complete(ctx, systemInstruction, buildDeepDivePrompt(input))
		if err != nil {
			return fmt.Errorf("model call failed: %w", err)
		}
		var res deepDiveResult
		if err := extractJSON(raw, &res); err != nil {
			return err
		}
		if res.FlashContent == "" || res.DeepDiveContent == "" || res.ImagePrompt == "" {
			return &SchemaError{Reason: "deep dive response missing required fields"}
		}
		flash, deepDiveContent, imagePrompt, displayTitle = res.FlashContent, res.DeepDiveContent, res.ImagePrompt, res.DisplayTitle
	} else {
		raw, err := g.Model.Complete(ctx, systemInstruction, buildSummaryPrompt(input))
		if err != nil {
			return fmt.Errorf("model call failed: %w", err)
		}
		var res summaryResult
		if err := extractJSON(raw, &res); err != nil {
			return err
		}
		if res.FlashContent == "" || res.ImagePrompt == "" {
			return &SchemaError{Reason: "summary response missing required fields"}
		}
		flash, imagePrompt, displayTitle = res.FlashContent, res.ImagePrompt, res.DisplayTitle
	}

	if !input.WantDisplayTitle || displayTitle == "" {
		displayTitle = title
	}

	status := models.StatusPublished
	if deepDive {
		status = models.StatusAwaitingExpertReview
	}

	// deep_dive_content wird explizit geleert, wenn dieser Lauf keins erzeugt
	// hat, damit Re-Generierungen keine veralteten Inhalte stehen lassen.
	updates := map[string]interface{}{
		"title":                title,
		"display_title":        displayTitle,
		"article_type":         articleType,
		"flash_content":        flash,
		"image_prompt":         imagePrompt,
		"deep_dive_content":    deepDiveContent,
		"admin_revision_notes": "",
		"status":               status,
	}
	if imageURL != "" {
		updates["image_url"] = imageURL
	}
	if status == models.StatusPublished {
		updates["published_at"] = time.Now().UTC()
	}

	if err := g.DB.WithContext(ctx).Model(article).Updates(updates).Error; err != nil {
		return fmt.Errorf("persisting generation result: %w", err)
	}
	if status == models.StatusPublished && g.PublishedCounter != nil {
		g.PublishedCounter.Inc()
	}

	log.Info("Generierung abgeschlossen",
		zap.String("article_type", string(articleType)),
		zap.String("status", string(status)),
		zap.Bool("deep_dive", deepDive),
	)
	return nil
}

// reclassifyPositive stellt die Ja/Nein-Frage, ob der Artikel wirklich positiv
// ist. Bei "nein" oder einem fehlgeschlagenen Check wird auf den generischen
// Typ heruntergestuft.
func (g *ContentGenerator) reclassifyPositive(ctx context.Context, article *models.Article, title string, log *zap.Logger) models.ArticleType {
	input := promptInput{
		Title:            title,
		ShortDescription: article.ShortDescription,
		SourceTitle:      article.SourceTitle,
	}

	raw, err := g.Model.Complete(ctx, systemInstruction, buildPositiveCheckPrompt(input))
	if err != nil {
		log.Warn("Positiv-Check fehlgeschlagen, stufe auf Trending herunter", zap.Error(err))
		return models.TypeTrendingTopic
	}

	var res struct {
		Positive bool `json:"positive"`
	}
	if err := extractJSON(raw, &res); err != nil {
		log.Warn("Positiv-Check nicht parsbar, stufe auf Trending herunter", zap.Error(err))
		return models.TypeTrendingTopic
	}
	if !res.Positive {
		log.Info("Modell verneint Positiv-Klassifikation, stufe auf Trending herunter")
		return models.TypeTrendingTopic
	}
	return models.TypePositiveNews
}

// failGeneration schreibt den terminalen Fehlzustand mit lesbarer Notiz.
func (g *ContentGenerator) failGeneration(ctx context.Context, article *models.Article, cause error, log *zap.Logger) {
	note := fmt.Sprintf("content generation failed: %v", cause)
	err := g.DB.WithContext(ctx).Model(&models.Article{}).
		Where("id = ?", article.ID).
		Updates(map[string]interface{}{
			"status":               models.StatusGenerationFailed,
			"admin_revision_notes": note,
		}).Error
	if err != nil {
		log.Error("Konnte Fehlzustand nicht persistieren", zap.Error(err))
		return
	}
	if g.FailureCounter != nil {
		g.FailureCounter.Inc()
	}
	log.Warn("Generierung fehlgeschlagen", zap.String("note", note))
}
