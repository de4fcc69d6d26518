package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsdesk/models"
	"newsdesk/queue"
	"newsdesk/sources"
)

// TestMode wählt die Quellen-Auswahl eines Source-Test-Laufs.
type TestMode string

const (
	TestFull    TestMode = "full"
	TestSample  TestMode = "sample"
	TestMicro   TestMode = "micro"
	TestBatched TestMode = "batched"
)

// ReportAggregator sammelt Einzel-Ergebnisse eines Batch-Laufs in einem
// Bericht mit atomaren Erfolgs-/Fehler-Zählern.
type ReportAggregator struct {
	DB *gorm.DB
}

// Open legt den Bericht mit bekannter Gesamtzahl an.
func (r *ReportAggregator) Open(ctx context.Context, testType string, total int) (*models.SourceTestReport, error) {
	report := &models.SourceTestReport{
		Status:       models.ReportRunning,
		TestType:     testType,
		TotalSources: total,
	}
	if err := r.DB.WithContext(ctx).Create(report).Error; err != nil {
		return nil, fmt.Errorf("creating source test report: %w", err)
	}
	return report, nil
}

// Record schreibt ein Quellen-Ergebnis und inkrementiert den passenden Zähler
// atomar in einem Commit.
func (r *ReportAggregator) Record(ctx context.Context, reportID uint, result models.SourceTestResult) error {
	result.ReportID = reportID
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}

	counter := "success_count"
	if result.Status == models.SourceResultFailure {
		counter = "failure_count"
	}

	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&result).Error; err != nil {
			return err
		}
		return tx.Model(&models.SourceTestReport{}).
			Where("id = ?", reportID).
			UpdateColumn(counter, gorm.Expr(counter+" + ?", 1)).Error
	})
}

// Close markiert den Bericht als abgeschlossen, nachdem jede Quelle ein
// Ergebnis geliefert hat.
func (r *ReportAggregator) Close(ctx context.Context, reportID uint) error {
	now := time.Now().UTC()
	return r.DB.WithContext(ctx).Model(&models.SourceTestReport{}).
		Where("id = ?", reportID).
		Updates(map[string]interface{}{
			"status":       models.ReportCompleted,
			"completed_at": now,
		}).Error
}

// BatchOrchestrator bündelt die administrativen Bulk-Operationen:
// Re-Queue aller fehlgeschlagenen Artikel und Source-Health-Tests. Beide
// laufen sequenziell mit künstlichen Pausen statt über die Task-Queue, weil
// sie ausgehende Requests gegen viele unabhängige Dritt-Hosts treiben.
type BatchOrchestrator struct {
	DB       *gorm.DB
	Queue    queue.Enqueuer
	Scanner  *DiscoveryScanner
	Registry *sources.Registry
	Reports  *ReportAggregator
	Logger   *zap.Logger

	// EnqueueChunkSize ist das Batch-Limit des Queue-Backends,
	// StoreBatchLimit das atomare Batch-Write-Limit des Stores.
	EnqueueChunkSize int
	StoreBatchLimit  int

	DelayFull   time.Duration
	DelaySample time.Duration
	DelayMicro  time.Duration
}

func (b *BatchOrchestrator) chunkSize() int {
	chunk := b.EnqueueChunkSize
	if chunk <= 0 {
		chunk = 100
	}
	if b.StoreBatchLimit > 0 && b.StoreBatchLimit < chunk {
		chunk = b.StoreBatchLimit
	}
	return chunk
}

// RequeueAllFailed setzt alle GenerationFailed-Artikel zurück auf Queued und
// stellt ihre Tasks chunk-weise ein. Pro Chunk passiert der Status-Flip in
// einem atomaren Commit VOR dem Enqueue: lieber ein Queued-Eintrag ohne Task
// als ein Task für einen still fehlgeschlagen gebliebenen Eintrag.
func (b *BatchOrchestrator) RequeueAllFailed(ctx context.Context) (int, error) {
	var ids []uint
	if err := b.DB.WithContext(ctx).Model(&models.Article{}).
		Where("status = ?", models.StatusGenerationFailed).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("querying failed articles: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	chunk := b.chunkSize()
	requeued := 0
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		var flipped int64
		err := b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Article{}).
				Where("id IN ? AND status = ?", batch, models.StatusGenerationFailed).
				Updates(map[string]interface{}{
					"status":               models.StatusQueued,
					"admin_revision_notes": "",
				})
			flipped = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return requeued, fmt.Errorf("requeue status batch: %w", err)
		}
		// Nur tatsächlich umgestellte Zeilen zählen: ein Artikel kann den
		// Fehlzustand zwischen Abfrage und Update verlassen haben.
		requeued += int(flipped)

		if err := b.Queue.EnqueueBatch(ctx, batch); err != nil {
			// Die Einträge sind bereits Queued; fehlende Tasks holt das
			// nächste administrative Re-Queue nach.
			b.Logger.Error("Batch-Enqueue fehlgeschlagen",
				zap.Int("batch_size", len(batch)), zap.Error(err))
		}
	}

	b.Logger.Info("Re-Queue aller fehlgeschlagenen Artikel abgeschlossen", zap.Int("count", requeued))
	return requeued, nil
}

// RequeueOne setzt einen einzelnen GenerationFailed-Artikel zurück auf Queued.
func (b *BatchOrchestrator) RequeueOne(ctx context.Context, articleID uint) error {
	res := b.DB.WithContext(ctx).Model(&models.Article{}).
		Where("id = ? AND status = ?", articleID, models.StatusGenerationFailed).
		Updates(map[string]interface{}{
			"status":               models.StatusQueued,
			"admin_revision_notes": "",
		})
	if res.Error != nil {
		return fmt.Errorf("requeue status update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("article %d is not in generation_failed status", articleID)
	}
	return b.Queue.Enqueue(ctx, articleID)
}

func (b *BatchOrchestrator) selectSources(mode TestMode, batchSize int) ([]sources.Source, time.Duration, error) {
	switch mode {
	case TestFull:
		return b.Registry.All(), b.delay(b.DelayFull, 1200*time.Millisecond), nil
	case TestSample:
		return b.Registry.Sample(), b.delay(b.DelaySample, 500*time.Millisecond), nil
	case TestMicro:
		return b.Registry.Micro(), b.delay(b.DelayMicro, 200*time.Millisecond), nil
	case TestBatched:
		if batchSize <= 0 {
			return nil, 0, fmt.Errorf("batched source test requires a positive batch size")
		}
		return b.Registry.All(), b.delay(b.DelayFull, 1200*time.Millisecond), nil
	default:
		return nil, 0, fmt.Errorf("unknown source test mode %q", mode)
	}
}

// RunSourceTest führt einen Source-Health-Lauf aus: Bericht vorab anlegen,
// Quellen strikt sequenziell mit fester Pause abarbeiten, je Quelle ein
// Ergebnis schreiben und den Zähler atomar erhöhen. Der Fehler einer Quelle
// bricht den Lauf nie ab.
func (b *BatchOrchestrator) RunSourceTest(ctx context.Context, mode TestMode, batchSize int) (uint, error) {
	srcs, delay, err := b.selectSources(mode, batchSize)
	if err != nil {
		return 0, err
	}

	report, err := b.Reports.Open(ctx, string(mode), len(srcs))
	if err != nil {
		return 0, err
	}
	return report.ID, b.runSourceTest(ctx, report.ID, mode, srcs, delay, batchSize)
}

// StartSourceTest legt den Bericht synchron an, damit Aufrufer die Report-ID
// sofort bekommen, und arbeitet die Quellen im Hintergrund ab.
func (b *BatchOrchestrator) StartSourceTest(ctx context.Context, mode TestMode, batchSize int) (uint, error) {
	srcs, delay, err := b.selectSources(mode, batchSize)
	if err != nil {
		return 0, err
	}

	report, err := b.Reports.Open(ctx, string(mode), len(srcs))
	if err != nil {
		return 0, err
	}

	go func() {
		if err := b.runSourceTest(context.Background(), report.ID, mode, srcs, delay, batchSize); err != nil {
			b.Logger.Error("Source-Test abgebrochen",
				zap.Uint("report_id", report.ID), zap.Error(err))
		}
	}()
	return report.ID, nil
}

func (b *BatchOrchestrator) runSourceTest(ctx context.Context, reportID uint, mode TestMode, srcs []sources.Source, delay time.Duration, batchSize int) error {
	log := b.Logger.With(zap.Uint("report_id", reportID), zap.String("mode", string(mode)))
	log.Info("Source-Test gestartet", zap.Int("total_sources", len(srcs)))

	for i, src := range srcs {
		if i > 0 {
			pause := delay
			if mode == TestBatched && i%batchSize == 0 {
				// Chunk-Grenze: längere Pause, um Dritt-Hosts zu schonen.
				pause = 5 * delay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}

		result := b.testSource(ctx, src)
		if err := b.Reports.Record(ctx, reportID, result); err != nil {
			log.Error("Quellen-Ergebnis konnte nicht geschrieben werden",
				zap.String("domain", src.Domain), zap.Error(err))
		}
	}

	if err := b.Reports.Close(ctx, reportID); err != nil {
		return fmt.Errorf("closing report: %w", err)
	}
	log.Info("Source-Test abgeschlossen")
	return nil
}

// testSource prüft eine Quelle über den vereinfachten Sofort-Publikations-Pfad
// des Scanners und klassifiziert das Ergebnis.
func (b *BatchOrchestrator) testSource(ctx context.Context, src sources.Source) models.SourceTestResult {
	result := models.SourceTestResult{
		Domain:    src.Domain,
		Pillar:    string(src.Pillar),
		Region:    src.Region,
		Timestamp: time.Now().UTC(),
	}

	outcome, err := b.Scanner.ScanSource(ctx, src, ScanOptions{Limit: 1, PublishImmediately: true})
	switch {
	case err != nil:
		result.Status = models.SourceResultFailure
		result.Detail = err.Error()
	case outcome.Created > 0:
		result.Status = models.SourceResultSuccess
	default:
		result.Status = models.SourceResultDuplicate
		result.Detail = "newest item already known"
	}
	return result
}

func (b *BatchOrchestrator) delay(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}
