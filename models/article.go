package models

import (
	"time"
)

// ArticleStatus bildet den Workflow-Status eines Artikels ab.
type ArticleStatus string

const (
	StatusDraft                ArticleStatus = "draft"
	StatusQueued               ArticleStatus = "queued"
	StatusGenerationFailed     ArticleStatus = "generation_failed"
	StatusAwaitingExpertReview ArticleStatus = "awaiting_expert_review"
	StatusAwaitingAdminReview  ArticleStatus = "awaiting_admin_review"
	StatusNeedsRevision        ArticleStatus = "needs_revision"
	StatusPublished            ArticleStatus = "published"
)

// ArticleType klassifiziert den Inhaltstyp.
type ArticleType string

const (
	TypeTrendingTopic        ArticleType = "trending_topic"
	TypePositiveNews         ArticleType = "positive_news"
	TypeResearchBreakthrough ArticleType = "research_breakthrough"
	TypeMisinformation       ArticleType = "misinformation"
)

// DiscoveryMethod beschreibt, wie ein Artikel in die Pipeline gelangt ist.
type DiscoveryMethod string

const (
	DiscoveryManual     DiscoveryMethod = "manual"
	DiscoveryRSS        DiscoveryMethod = "rss"
	DiscoverySourceTest DiscoveryMethod = "source_test"
)

// SupportedCategories ist das feste Kategorie-Vokabular; Feed-Kategorien
// werden beim Discovery-Scan gegen diese Liste geschnitten.
var SupportedCategories = []string{
	"politics", "technology", "science", "health", "climate",
	"economy", "culture", "sports", "world", "society",
}

// Article repräsentiert einen Nachrichten-Artikel in der Generierungs-Pipeline.
type Article struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Klassifikation
	ArticleType ArticleType `json:"article_type" gorm:"index;not null"`
	Categories  string      `json:"categories,omitempty"` // Komma-separiert, max. 3
	Region      string      `json:"region,omitempty" gorm:"index"`

	// Inhalt
	Title            string `json:"title" gorm:"not null"`
	DisplayTitle     string `json:"display_title,omitempty"`
	ShortDescription string `json:"short_description,omitempty" gorm:"type:text"` // nie öffentlich sichtbar
	FlashContent     string `json:"flash_content,omitempty" gorm:"type:text"`
	DeepDiveContent  string `json:"deep_dive_content,omitempty" gorm:"type:text"`
	ImagePrompt      string `json:"image_prompt,omitempty"`
	ImageURL         string `json:"image_url,omitempty"`

	// Attribution
	// Partieller Unique-Index: mehrere quellenlose (manuelle) Artikel sind erlaubt.
	SourceURL       string          `json:"source_url,omitempty" gorm:"index:idx_articles_source_url,unique,where:source_url <> ''"`
	SourceTitle     string          `json:"source_title,omitempty"`
	DiscoveryMethod DiscoveryMethod `json:"discovery_method" gorm:"index;default:'manual'"`

	// Workflow
	Status             ArticleStatus `json:"status" gorm:"index;default:'draft'"`
	ExpertID           string        `json:"expert_id,omitempty"`
	ExpertDisplayName  string        `json:"expert_display_name,omitempty"`
	AdminRevisionNotes string        `json:"admin_revision_notes,omitempty" gorm:"type:text"`

	// Zeitstempel
	DiscoveredAt *time.Time `json:"discovered_at,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (Article) TableName() string {
	return "articles"
}

// HasSource meldet, ob der Artikel eine Quell-URL besitzt. Misinformation-Artikel
// ohne Quelle durchlaufen den Deep-Dive-Pfad statt der reinen Zusammenfassung.
func (a *Article) HasSource() bool {
	return a.SourceURL != ""
}
