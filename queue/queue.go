// Package queue implementiert die Generierungs-Task-Queue auf Redis Streams:
// at-least-once-Zustellung, Consumer-Group mit globaler Konkurrenz 1 und
// begrenzte Wiederholung mit Mindestabstand.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Enqueuer ist die schmale Produzenten-Sicht auf die Queue. Enqueue ist aus
// Sicht des Aufrufers fire-and-forget; die Zustellung übernimmt der Worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, articleID uint) error
	EnqueueBatch(ctx context.Context, articleIDs []uint) error
}

// Config bündelt die Queue-Parameter.
type Config struct {
	RedisURL     string
	StreamKey    string
	GroupName    string
	ConsumerName string
	// MaxAttempts begrenzt die Zustellversuche pro Task.
	MaxAttempts int
	// RetryBackoff ist die Mindest-Idle-Zeit, bevor ein fehlgeschlagener Task
	// erneut zugestellt wird.
	RetryBackoff time.Duration
	// BlockTimeout ist die Blockdauer beim Lesen neuer Tasks.
	BlockTimeout time.Duration
}

// RedisQueue ist die Redis-Streams-Implementierung von Enqueuer.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
}

// NewRedisQueue verbindet sich mit Redis und liefert die Queue.
func NewRedisQueue(cfg Config, logger *zap.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 60 * time.Second
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client: redis.NewClient(opts),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Enqueue stellt einen Generierungs-Task für einen Artikel ein.
func (q *RedisQueue) Enqueue(ctx context.Context, articleID uint) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.StreamKey,
		Values: taskValues(articleID),
	}).Err()
}

// EnqueueBatch stellt mehrere Tasks in einem Roundtrip ein (Pipeline).
func (q *RedisQueue) EnqueueBatch(ctx context.Context, articleIDs []uint) error {
	if len(articleIDs) == 0 {
		return nil
	}
	pipe := q.client.Pipeline()
	for _, id := range articleIDs {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.StreamKey,
			Values: taskValues(id),
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close schließt die Redis-Verbindung.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func taskValues(articleID uint) map[string]interface{} {
	return map[string]interface{}{
		"article_id":  strconv.FormatUint(uint64(articleID), 10),
		"enqueued_at": time.Now().UTC().Format(time.RFC3339),
	}
}

// parseArticleID liest die Artikel-ID aus einer Stream-Message.
func parseArticleID(values map[string]interface{}) (uint, bool) {
	raw, ok := values["article_id"].(string)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
