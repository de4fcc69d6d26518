package queue

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler verarbeitet zugestellte Generierungs-Tasks. Ein nil-Fehler führt zum
// Ack; ein Fehler lässt die Message pending, bis der Backoff sie erneut
// zustellt. Klassifizierte Generierungsfehler schreibt der Handler selbst
// terminal und gibt nil zurück, damit die Queue sie nicht sinnlos wiederholt.
type Handler interface {
	HandleArticle(ctx context.Context, articleID uint) error
	// HandleExhausted wird gerufen, wenn ein Task alle Zustellversuche
	// verbraucht hat und terminal abgeschrieben wird.
	HandleExhausted(ctx context.Context, articleID uint, attempts int64)
}

// Worker konsumiert den Task-Stream mit globaler Konkurrenz 1: genau eine
// Message zur Zeit, systemweit. Das serialisiert alle Modell-Aufrufe gegen das
// Rate-Limit der Upstream-API.
type Worker struct {
	client       *redis.Client
	cfg          Config
	handler      Handler
	logger       *zap.Logger
	shutdownChan chan struct{}
}

// NewWorker erstellt einen Worker auf der Verbindung der Queue.
func NewWorker(q *RedisQueue, handler Handler, logger *zap.Logger) *Worker {
	return &Worker{
		client:       q.client,
		cfg:          q.cfg,
		handler:      handler,
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}
}

// Start legt die Consumer-Group an und startet die Verarbeitung.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.ensureConsumerGroup(ctx); err != nil {
		return err
	}
	w.logger.Info("Worker gestartet",
		zap.String("stream", w.cfg.StreamKey),
		zap.String("group", w.cfg.GroupName),
		zap.String("consumer", w.cfg.ConsumerName),
	)
	go w.consumeLoop(ctx)
	return nil
}

// Stop beendet die Verarbeitung.
func (w *Worker) Stop() {
	close(w.shutdownChan)
}

func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, w.cfg.StreamKey, w.cfg.GroupName, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		// Group existiert bereits
		return nil
	}
	return err
}

func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker-Kontext beendet, stoppe")
			return
		case <-w.shutdownChan:
			w.logger.Info("Worker-Shutdown angefordert, stoppe")
			return
		default:
			if err := w.redeliverPending(ctx); err != nil {
				w.logger.Error("Fehler bei erneuter Zustellung", zap.Error(err))
			}
			if err := w.readAndProcess(ctx); err != nil {
				w.logger.Error("Fehler bei Task-Verarbeitung", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}
}

// readAndProcess liest genau eine neue Message und verarbeitet sie.
func (w *Worker) readAndProcess(ctx context.Context) error {
	streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.cfg.GroupName,
		Consumer: w.cfg.ConsumerName,
		Streams:  []string{w.cfg.StreamKey, ">"},
		Count:    1,
		Block:    w.cfg.BlockTimeout,
	}).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			w.process(ctx, message)
		}
	}
	return nil
}

// redeliverPending holt pending Messages zurück, deren Idle-Zeit den
// Retry-Backoff überschritten hat. Tasks mit verbrauchten Versuchen werden
// terminal abgeschrieben und acknowledged.
func (w *Worker) redeliverPending(ctx context.Context) error {
	pending, err := w.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: w.cfg.StreamKey,
		Group:  w.cfg.GroupName,
		Idle:   w.cfg.RetryBackoff,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	redeliver, exhausted := splitPending(pending, w.cfg.MaxAttempts)
	for _, p := range exhausted {
		w.exhaust(ctx, p)
	}

	for _, p := range redeliver {
		claimed, err := w.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   w.cfg.StreamKey,
			Group:    w.cfg.GroupName,
			Consumer: w.cfg.ConsumerName,
			MinIdle:  w.cfg.RetryBackoff,
			Messages: []string{p.ID},
		}).Result()
		if err != nil && err != redis.Nil {
			w.logger.Error("XClaim fehlgeschlagen", zap.String("message_id", p.ID), zap.Error(err))
			continue
		}
		for _, message := range claimed {
			w.process(ctx, message)
		}
	}
	return nil
}

// splitPending trennt pending Einträge in erneut zustellbare und solche,
// deren Zustellversuche verbraucht sind. RetryCount zählt die bisherigen
// Zustellungen, die Grenze ist damit inklusive: wer MaxAttempts Zustellungen
// hinter sich hat, bekommt keine weitere.
func splitPending(pending []redis.XPendingExt, maxAttempts int) (redeliver, exhausted []redis.XPendingExt) {
	for _, p := range pending {
		if p.RetryCount >= int64(maxAttempts) {
			exhausted = append(exhausted, p)
			continue
		}
		redeliver = append(redeliver, p)
	}
	return redeliver, exhausted
}

// process führt den Handler aus und acknowledged bei Erfolg. Bei Fehler bleibt
// die Message pending und kommt nach dem Backoff erneut.
func (w *Worker) process(ctx context.Context, message redis.XMessage) {
	articleID, ok := parseArticleID(message.Values)
	if !ok {
		// Unlesbare Message: Wiederholen kann nicht helfen.
		w.logger.Error("Task ohne gültige Artikel-ID, wird verworfen", zap.String("message_id", message.ID))
		w.ack(ctx, message.ID)
		return
	}

	if err := w.handler.HandleArticle(ctx, articleID); err != nil {
		w.logger.Warn("Task fehlgeschlagen, bleibt pending für Retry",
			zap.String("message_id", message.ID),
			zap.Uint("article_id", articleID),
			zap.Error(err),
		)
		return
	}
	w.ack(ctx, message.ID)
}

// exhaust schreibt einen Task mit verbrauchten Versuchen terminal ab.
func (w *Worker) exhaust(ctx context.Context, p redis.XPendingExt) {
	msgs, err := w.client.XRangeN(ctx, w.cfg.StreamKey, p.ID, p.ID, 1).Result()
	if err == nil && len(msgs) == 1 {
		if articleID, ok := parseArticleID(msgs[0].Values); ok {
			w.handler.HandleExhausted(ctx, articleID, p.RetryCount)
		}
	}
	w.logger.Error("Task nach maximalen Zustellversuchen aufgegeben",
		zap.String("message_id", p.ID),
		zap.Int64("attempts", p.RetryCount),
	)
	w.ack(ctx, p.ID)
}

func (w *Worker) ack(ctx context.Context, messageID string) {
	if err := w.client.XAck(ctx, w.cfg.StreamKey, w.cfg.GroupName, messageID).Err(); err != nil {
		w.logger.Error("XAck fehlgeschlagen", zap.String("message_id", messageID), zap.Error(err))
	}
}
