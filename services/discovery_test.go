package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsdesk/models"
	"newsdesk/sources"
)

const testFeedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
<link>%s</link>
<description>test</description>
<item>
  <title>Breaking: Local Council Approves New Park (WATCH)</title>
  <link>%s/articles/park</link>
  <category>Politics</category>
  <category>Gardening</category>
  <category>Climate</category>
  <description>&lt;p&gt;The council approved a new park. &lt;img src="https://cdn.example.com/park.jpg"/&gt;&lt;/p&gt;</description>
</item>
<item>
  <title>Second story</title>
  <link>%s/articles/second</link>
  <description>Another item</description>
</item>
<item>
  <title>Linkless story</title>
  <description>No link here</description>
</item>
<item>
  <title>Third story</title>
  <link>%s/articles/third</link>
</item>
</channel>
</rss>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, testFeedTemplate, srv.URL, srv.URL, srv.URL, srv.URL)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newScanner(t *testing.T, db *gorm.DB, q *recordingQueue) *DiscoveryScanner {
	t.Helper()
	return &DiscoveryScanner{
		DB:          db,
		Registry:    sources.Default(),
		Images:      testResolver(),
		Normalizer:  NewTitleNormalizer(0),
		Dispatcher:  &Dispatcher{DB: db, Queue: q, Logger: zap.NewNop()},
		Logger:      zap.NewNop(),
		ItemLimit:   5,
		FeedTimeout: 2 * time.Second,
		UserAgent:   "newsdesk-test/1.0",
	}
}

func testSourceFor(srv *httptest.Server) sources.Source {
	return sources.Source{
		Domain:      "example.com",
		FeedURL:     srv.URL + "/feed.xml",
		DisplayName: "Example News",
		Pillar:      sources.PillarTrending,
		Region:      "us",
	}
}

func TestScanSourceCreatesDraftsAndDispatches(t *testing.T) {
	db := newTestDB(t)
	q := &recordingQueue{}
	srv := newFeedServer(t)
	s := newScanner(t, db, q)

	outcome, err := s.ScanSource(context.Background(), testSourceFor(srv), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Created)
	assert.Equal(t, 1, outcome.Skipped, "linkless item must be skipped")
	assert.Equal(t, 0, outcome.Duplicates)
	assert.Equal(t, 3, q.enqueuedTotal(), "every created draft is dispatched")

	var got models.Article
	require.NoError(t, db.Where("source_url = ?", srv.URL+"/articles/park").First(&got).Error)
	assert.Equal(t, "Local Council Approves New Park", got.Title)
	assert.Equal(t, models.TypeTrendingTopic, got.ArticleType)
	assert.Equal(t, models.DiscoveryRSS, got.DiscoveryMethod)
	assert.Equal(t, models.StatusQueued, got.Status, "dispatched immediately after creation")
	assert.Equal(t, "politics,climate", got.Categories, "unsupported categories dropped, order kept")
	assert.Equal(t, "https://cdn.example.com/park.jpg", got.ImageURL)
	assert.Equal(t, "Example News", got.SourceTitle)
	assert.Equal(t, "us", got.Region)
	assert.NotNil(t, got.DiscoveredAt)
}

func TestScanSourceDedupsBySourceURL(t *testing.T) {
	db := newTestDB(t)
	q := &recordingQueue{}
	srv := newFeedServer(t)
	s := newScanner(t, db, q)

	first, err := s.ScanSource(context.Background(), testSourceFor(srv), ScanOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, first.Created)

	second, err := s.ScanSource(context.Background(), testSourceFor(srv), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Duplicates)

	var count int64
	require.NoError(t, db.Model(&models.Article{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func TestScanSourceHonorsLimit(t *testing.T) {
	db := newTestDB(t)
	q := &recordingQueue{}
	srv := newFeedServer(t)
	s := newScanner(t, db, q)

	outcome, err := s.ScanSource(context.Background(), testSourceFor(srv), ScanOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Created)
}

func TestScanSourcePublishImmediately(t *testing.T) {
	db := newTestDB(t)
	q := &recordingQueue{}
	srv := newFeedServer(t)
	s := newScanner(t, db, q)

	outcome, err := s.ScanSource(context.Background(), testSourceFor(srv), ScanOptions{Limit: 1, PublishImmediately: true})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Created)
	assert.Zero(t, q.enqueuedTotal(), "publish-immediately bypasses the queue")

	var got models.Article
	require.NoError(t, db.Where("source_url = ?", srv.URL+"/articles/park").First(&got).Error)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.Equal(t, models.DiscoverySourceTest, got.DiscoveryMethod)
	assert.Equal(t, "The council approved a new park.", got.FlashContent)
	assert.NotNil(t, got.PublishedAt)
}

func TestScanSourceUnknownPillarIsSkipped(t *testing.T) {
	db := newTestDB(t)
	q := &recordingQueue{}
	srv := newFeedServer(t)
	s := newScanner(t, db, q)

	src := testSourceFor(srv)
	src.Pillar = sources.Pillar("weather")

	outcome, err := s.ScanSource(context.Background(), src, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Created)
	assert.Equal(t, 1, outcome.Skipped)
}

func TestScanSourceEmptyFeedURLIsNoop(t *testing.T) {
	db := newTestDB(t)
	s := newScanner(t, db, &recordingQueue{})

	outcome, err := s.ScanSource(context.Background(), sources.Source{Domain: "x", Pillar: sources.PillarTrending}, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, ScanOutcome{}, outcome)
}

func TestScanSourceUnreachableFeedFails(t *testing.T) {
	db := newTestDB(t)
	s := newScanner(t, db, &recordingQueue{})

	src := sources.Source{
		Domain:  "down.example.com",
		FeedURL: "http://127.0.0.1:1/feed.xml",
		Pillar:  sources.PillarTrending,
	}
	_, err := s.ScanSource(context.Background(), src, ScanOptions{})
	assert.Error(t, err)
}

func TestIntersectCategories(t *testing.T) {
	got := intersectCategories([]string{"Politics", "politics", "SCIENCE", "gardening", "health", "world"})
	assert.Equal(t, "politics,science,health", got, "dedup, lowercase, cap at three")

	assert.Empty(t, intersectCategories(nil))
	assert.Empty(t, intersectCategories([]string{"gardening"}))
}

func TestSnippetText(t *testing.T) {
	assert.Equal(t, "Hello world", snippetText("<p>Hello   <b>world</b></p>", 280))
	assert.Empty(t, snippetText("   ", 280))

	long := snippetText("<p>abcdefghij klmnopqrst uvwxyz</p>", 10)
	assert.Equal(t, "abcdefghij…", long)
}
