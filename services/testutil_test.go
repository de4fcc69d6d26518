package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"newsdesk/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Article{}, &models.SourceTestReport{}, &models.SourceTestResult{}))
	return db
}

// recordingQueue zeichnet Enqueue-Aufrufe auf, optional mit erzwungenem Fehler.
// onBatch läuft nach jedem aufgezeichneten Batch, z.B. um nebenläufige
// Status-Änderungen zwischen zwei Chunks zu simulieren.
type recordingQueue struct {
	mu      sync.Mutex
	singles []uint
	batches [][]uint
	fail    error
	onBatch func(batch []uint)
}

func (q *recordingQueue) Enqueue(ctx context.Context, articleID uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	q.singles = append(q.singles, articleID)
	return nil
}

func (q *recordingQueue) EnqueueBatch(ctx context.Context, articleIDs []uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	batch := make([]uint, len(articleIDs))
	copy(batch, articleIDs)
	q.batches = append(q.batches, batch)
	if q.onBatch != nil {
		q.onBatch(batch)
	}
	return nil
}

func (q *recordingQueue) enqueuedTotal() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.singles)
	for _, b := range q.batches {
		n += len(b)
	}
	return n
}

// flakyModel schlägt die ersten failures Aufrufe mit err fehl und delegiert
// danach an das unterliegende Skript.
type flakyModel struct {
	inner    *scriptedModel
	failures int
	err      error
	calls    int
}

func (m *flakyModel) Complete(ctx context.Context, system, prompt string) (string, error) {
	m.calls++
	if m.failures > 0 {
		m.failures--
		return "", m.err
	}
	return m.inner.Complete(ctx, system, prompt)
}

// scriptedModel liefert vorbereitete Antworten in Aufruf-Reihenfolge.
type scriptedModel struct {
	responses []string
	err       error
	prompts   []string
	systems   []string
}

func (m *scriptedModel) Complete(ctx context.Context, system, prompt string) (string, error) {
	m.systems = append(m.systems, system)
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}
