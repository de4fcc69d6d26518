package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsdesk/models"
)

// ArticleWorker ist der Queue-Consumer der Generierungs-Domain. Er lädt den
// Artikel, ruft den ContentGenerator und entscheidet über Retry: klassifizierte
// Generierungsfehler sind bereits terminal geschrieben und werden nicht erneut
// geworfen; nur Infrastruktur-Fehler wandern zurück in die Backoff-Policy der
// Queue.
type ArticleWorker struct {
	DB        *gorm.DB
	Generator *ContentGenerator
	Logger    *zap.Logger
}

// HandleArticle verarbeitet einen zugestellten Generierungs-Task.
func (w *ArticleWorker) HandleArticle(ctx context.Context, articleID uint) error {
	var article models.Article
	err := w.DB.WithContext(ctx).First(&article, articleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Der referenzierte Artikel ist weg; Wiederholen kann nicht helfen.
		w.Logger.Warn("Task für nicht existierenden Artikel, wird acknowledged", zap.Uint("article_id", articleID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading article %d: %w", articleID, err)
	}

	if article.Status != models.StatusQueued {
		// At-least-once-Zustellung: der Artikel wurde bereits verarbeitet.
		w.Logger.Info("Task übersprungen, Artikel nicht im Queued-Status",
			zap.Uint("article_id", articleID), zap.String("status", string(article.Status)))
		return nil
	}

	if err := w.Generator.Generate(ctx, &article); err != nil {
		if IsRetryable(err) {
			return err
		}
		// Terminal: GenerationFailed ist bereits geschrieben.
		w.Logger.Warn("Generierung terminal fehlgeschlagen, kein Retry",
			zap.Uint("article_id", articleID), zap.Error(err))
		return nil
	}
	return nil
}

// HandleExhausted schreibt einen Artikel terminal ab, dessen Task alle
// Zustellversuche verbraucht hat.
func (w *ArticleWorker) HandleExhausted(ctx context.Context, articleID uint, attempts int64) {
	note := fmt.Sprintf("generation abandoned after %d delivery attempts", attempts)
	err := w.DB.WithContext(ctx).Model(&models.Article{}).
		Where("id = ? AND status = ?", articleID, models.StatusQueued).
		Updates(map[string]interface{}{
			"status":               models.StatusGenerationFailed,
			"admin_revision_notes": note,
		}).Error
	if err != nil {
		w.Logger.Error("Konnte aufgegebenen Task nicht persistieren",
			zap.Uint("article_id", articleID), zap.Error(err))
	}
}
