package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsdesk/models"
	"newsdesk/queue"
)

// Dispatcher reagiert auf neu angelegte Artikel: Draft wird atomar auf Queued
// gedreht, danach der Generierungs-Task eingestellt. Der Status-Flip passiert
// bewusst VOR dem Enqueue, damit ein schneller Worker nie zweimal Draft sieht;
// das Restrisiko eines Queued-Eintrags ohne Task fängt der Fallback auf
// GenerationFailed ab.
type Dispatcher struct {
	DB     *gorm.DB
	Queue  queue.Enqueuer
	Logger *zap.Logger
}

// Dispatch stellt den Generierungs-Task für einen Artikel ein. No-op, wenn der
// Artikel nicht (mehr) im Draft-Status ist; dadurch ist doppeltes Dispatchen
// idempotent.
func (d *Dispatcher) Dispatch(ctx context.Context, articleID uint) error {
	res := d.DB.WithContext(ctx).Model(&models.Article{}).
		Where("id = ? AND status = ?", articleID, models.StatusDraft).
		Update("status", models.StatusQueued)
	if res.Error != nil {
		return fmt.Errorf("queueing status update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Kein Draft (mehr): bereits dispatched oder anderweitig verarbeitet.
		d.Logger.Debug("Dispatch übersprungen, Artikel nicht im Draft-Status", zap.Uint("article_id", articleID))
		return nil
	}

	if err := d.Queue.Enqueue(ctx, articleID); err != nil {
		note := fmt.Sprintf("task enqueue failed: %v", err)
		if dbErr := d.DB.WithContext(ctx).Model(&models.Article{}).
			Where("id = ?", articleID).
			Updates(map[string]interface{}{
				"status":               models.StatusGenerationFailed,
				"admin_revision_notes": note,
			}).Error; dbErr != nil {
			d.Logger.Error("Konnte Enqueue-Fehlzustand nicht persistieren",
				zap.Uint("article_id", articleID), zap.Error(dbErr))
		}
		d.Logger.Error("Enqueue fehlgeschlagen", zap.Uint("article_id", articleID), zap.Error(err))
		return fmt.Errorf("enqueue: %w", err)
	}

	d.Logger.Info("Artikel für Generierung eingeplant", zap.Uint("article_id", articleID))
	return nil
}
