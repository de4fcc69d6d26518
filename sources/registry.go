package sources

import "newsdesk/models"

// Pillar ist ein Inhalts-Bucket der Quellen-Registry; jede Säule
// entspricht genau einem ArticleType.
type Pillar string

const (
	PillarTrending  Pillar = "trending"
	PillarPositive  Pillar = "positive"
	PillarResearch  Pillar = "research"
	PillarFactCheck Pillar = "fact_check"
)

var pillarTypes = map[Pillar]models.ArticleType{
	PillarTrending:  models.TypeTrendingTopic,
	PillarPositive:  models.TypePositiveNews,
	PillarResearch:  models.TypeResearchBreakthrough,
	PillarFactCheck: models.TypeMisinformation,
}

// ArticleType liefert den ArticleType der Säule. Unbekannte Säulen
// werden beim Scan übersprungen.
func (p Pillar) ArticleType() (models.ArticleType, bool) {
	t, ok := pillarTypes[p]
	return t, ok
}

// Source ist eine erlaubte Quelle innerhalb eines (pillar, region)-Buckets.
// Zur Laufzeit unveränderlich.
type Source struct {
	Domain      string
	FeedURL     string
	DisplayName string
	Pillar      Pillar
	Region      string
}

// Registry hält die statische Quellen-Konfiguration.
type Registry struct {
	sources []Source
}

// NewRegistry erstellt eine Registry aus einer Quellen-Liste.
func NewRegistry(srcs []Source) *Registry {
	return &Registry{sources: srcs}
}

// Default liefert die eingebaute Quellen-Registry.
func Default() *Registry {
	return NewRegistry(defaultSources)
}

// All gibt alle konfigurierten Quellen zurück.
func (r *Registry) All() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Sample gibt je (pillar, region)-Bucket genau eine Quelle zurück,
// in Registry-Reihenfolge.
func (r *Registry) Sample() []Source {
	seen := make(map[string]bool)
	var out []Source
	for _, s := range r.sources {
		key := string(s.Pillar) + "/" + s.Region
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// Micro gibt eine fest verdrahtete Mini-Auswahl für schnelle Diagnose-Läufe zurück.
func (r *Registry) Micro() []Source {
	micro := map[string]bool{
		"bbc.co.uk":        true,
		"positive.news":    true,
		"sciencedaily.com": true,
	}
	var out []Source
	for _, s := range r.sources {
		if micro[s.Domain] {
			out = append(out, s)
		}
	}
	return out
}

var defaultSources = []Source{
	// Trending
	{Domain: "bbc.co.uk", FeedURL: "https://feeds.bbci.co.uk/news/rss.xml", DisplayName: "BBC News", Pillar: PillarTrending, Region: "uk"},
	{Domain: "theguardian.com", FeedURL: "https://www.theguardian.com/uk/rss", DisplayName: "The Guardian", Pillar: PillarTrending, Region: "uk"},
	{Domain: "npr.org", FeedURL: "https://feeds.npr.org/1001/rss.xml", DisplayName: "NPR News", Pillar: PillarTrending, Region: "us"},
	{Domain: "apnews.com", FeedURL: "https://apnews.com/index.rss", DisplayName: "Associated Press", Pillar: PillarTrending, Region: "us"},

	// Positive
	{Domain: "positive.news", FeedURL: "https://www.positive.news/feed/", DisplayName: "Positive News", Pillar: PillarPositive, Region: "uk"},
	{Domain: "goodnewsnetwork.org", FeedURL: "https://www.goodnewsnetwork.org/feed/", DisplayName: "Good News Network", Pillar: PillarPositive, Region: "us"},

	// Research
	{Domain: "sciencedaily.com", FeedURL: "https://www.sciencedaily.com/rss/all.xml", DisplayName: "ScienceDaily", Pillar: PillarResearch, Region: "us"},
	{Domain: "nature.com", FeedURL: "https://www.nature.com/nature.rss", DisplayName: "Nature", Pillar: PillarResearch, Region: "uk"},
	{Domain: "newscientist.com", FeedURL: "https://www.newscientist.com/feed/home/", DisplayName: "New Scientist", Pillar: PillarResearch, Region: "uk"},

	// Fact-Check
	{Domain: "fullfact.org", FeedURL: "https://fullfact.org/feed/all/", DisplayName: "Full Fact", Pillar: PillarFactCheck, Region: "uk"},
	{Domain: "snopes.com", FeedURL: "https://www.snopes.com/feed/", DisplayName: "Snopes", Pillar: PillarFactCheck, Region: "us"},
	{Domain: "politifact.com", FeedURL: "https://www.politifact.com/rss/all/", DisplayName: "PolitiFact", Pillar: PillarFactCheck, Region: "us"},
}

// AllowedDomains liefert die Domain-Allow-List der Registry, z.B. für
// quellen-beschränkte Recherche-Prompts.
func (r *Registry) AllowedDomains() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range r.sources {
		if !seen[s.Domain] {
			seen[s.Domain] = true
			out = append(out, s.Domain)
		}
	}
	return out
}
