package services

import (
	"encoding/json"
	"fmt"
	"strings"
)

// systemInstruction ist die feste globale Anweisung für alle Generierungs-Aufrufe.
const systemInstruction = "You are an editorial assistant for a news briefing app. " +
	"Write clear, neutral, factual copy for a general audience. Never invent facts, " +
	"never editorialize, and attribute claims to their source where one is given. " +
	"Respond with JSON only, exactly in the requested shape, without surrounding text."

// summaryResult ist die Antwortform des reinen Zusammenfassungs-Pfads.
type summaryResult struct {
	FlashContent string `json:"flash_content"`
	ImagePrompt  string `json:"image_prompt"`
	DisplayTitle string `json:"display_title,omitempty"`
}

// deepDiveResult ist die Antwortform des Deep-Dive-Pfads für Misinformation
// ohne Quelle.
type deepDiveResult struct {
	FlashContent    string `json:"flash_content"`
	DeepDiveContent string `json:"deep_dive_content"`
	ImagePrompt     string `json:"image_prompt"`
	DisplayTitle    string `json:"display_title,omitempty"`
}

// promptInput bündelt die Artikel-Daten, die in jeden Prompt einfließen.
type promptInput struct {
	Title            string
	ShortDescription string
	SourceTitle      string
	SourceURL        string
	Categories       string
	WantDisplayTitle bool
	AllowedDomains   []string
}

func writeArticleContext(sb *strings.Builder, in promptInput) {
	fmt.Fprintf(sb, "Title: %s\n", in.Title)
	if in.ShortDescription != "" {
		fmt.Fprintf(sb, "Context from curator/feed (not public): %s\n", in.ShortDescription)
	}
	if in.SourceTitle != "" {
		fmt.Fprintf(sb, "Source: %s\n", in.SourceTitle)
	}
	if in.SourceURL != "" {
		fmt.Fprintf(sb, "Source URL: %s\n", in.SourceURL)
	}
	if in.Categories != "" {
		fmt.Fprintf(sb, "Categories: %s\n", in.Categories)
	}
}

func writeDisplayTitleRule(sb *strings.Builder, in promptInput) {
	if in.WantDisplayTitle {
		sb.WriteString(`- display_title: a shorter alternate headline (under 70 characters)` + "\n")
	}
}

// buildSummaryPrompt erstellt den Prompt für Trending, Positive, Research und
// Misinformation mit Quelle: nur Flash-Zusammenfassung plus Bild-Prompt.
func buildSummaryPrompt(in promptInput) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following news item for a briefing card. Provide:\n")
	sb.WriteString("- flash_content: a plain-text summary of 2-3 sentences, no markup\n")
	sb.WriteString("- image_prompt: a short description for an illustrative image\n")
	writeDisplayTitleRule(&sb, in)
	sb.WriteString("\nRespond with JSON: {\"flash_content\": \"...\", \"image_prompt\": \"...\"")
	if in.WantDisplayTitle {
		sb.WriteString(", \"display_title\": \"...\"")
	}
	sb.WriteString("}\n\n")
	writeArticleContext(&sb, in)
	return sb.String()
}

// buildDeepDivePrompt erstellt den Fact-Check-Prompt für Misinformation ohne
// Quelle: Flash plus ausführlicher Deep-Dive als strukturiertes HTML.
func buildDeepDivePrompt(in promptInput) string {
	var sb strings.Builder
	sb.WriteString("Fact-check the following claim for a briefing app. Provide:\n")
	sb.WriteString("- flash_content: a plain-text summary of the verdict, 2-3 sentences, no markup\n")
	sb.WriteString("- deep_dive_content: structured HTML with exactly these sections:\n")
	sb.WriteString("  <h2> verdict heading, <h3>What was claimed</h3> with the claim,\n")
	sb.WriteString("  <h3>Analysis</h3> with a point-by-point assessment as a list,\n")
	sb.WriteString("  <h3>Context</h3> with relevant background\n")
	sb.WriteString("- image_prompt: a short description for an illustrative image\n")
	writeDisplayTitleRule(&sb, in)
	if len(in.AllowedDomains) > 0 {
		fmt.Fprintf(&sb, "Base your research only on these domains: %s\n", strings.Join(in.AllowedDomains, ", "))
	}
	sb.WriteString("\nRespond with JSON: {\"flash_content\": \"...\", \"deep_dive_content\": \"...\", \"image_prompt\": \"...\"")
	if in.WantDisplayTitle {
		sb.WriteString(", \"display_title\": \"...\"")
	}
	sb.WriteString("}\n\n")
	writeArticleContext(&sb, in)
	return sb.String()
}

// buildPositiveCheckPrompt fragt eine einzelne Ja/Nein-Frage zur
// Positiv-Klassifikation.
func buildPositiveCheckPrompt(in promptInput) string {
	var sb strings.Builder
	sb.WriteString("Is the following news item genuinely positive or uplifting?\n")
	sb.WriteString("Respond with JSON: {\"positive\": true} or {\"positive\": false}\n\n")
	writeArticleContext(&sb, in)
	return sb.String()
}

// extractJSON holt das JSON-Objekt aus einer toleranten Modell-Antwort:
// Code-Fences und umgebender Text werden abgestreift, dann wird geparst.
func extractJSON(raw string, target interface{}) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return &SchemaError{Reason: "empty response"}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return &SchemaError{Reason: "no JSON object in response"}
	}

	if err := json.Unmarshal([]byte(s[start:end+1]), target); err != nil {
		return &SchemaError{Reason: err.Error()}
	}
	return nil
}
