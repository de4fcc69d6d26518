package services

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultColonWindow ist das Zeichenfenster, in dem ein Doppelpunkt als
// Label-Präfix gewertet wird ("Breaking:", "Exclusive:" usw.). Titel, deren
// Hauptsatz erst später einen Doppelpunkt enthält, bleiben unangetastet.
const DefaultColonWindow = 45

// ctaSuffixPattern matcht einen angehängten Call-to-Action-Token in
// Großbuchstaben, z.B. "(WATCH)" oder "[VIDEO]".
var ctaSuffixPattern = regexp.MustCompile(`\s*[(\[][A-Z]{2,}[)\]]\s*$`)

// TitleNormalizer bereinigt Roh-Titel deterministisch. Die Normalisierung muss
// vor jeder Persistierung, Duplikatsprüfung und Prompt-Erstellung laufen; nur
// der normalisierte Wert wird verglichen und dem Modell gezeigt.
type TitleNormalizer struct {
	ColonWindow int
}

// NewTitleNormalizer erstellt einen TitleNormalizer; window <= 0 fällt auf
// DefaultColonWindow zurück.
func NewTitleNormalizer(window int) TitleNormalizer {
	if window <= 0 {
		window = DefaultColonWindow
	}
	return TitleNormalizer{ColonWindow: window}
}

// Normalize wendet die Bereinigungsregeln bis zum Fixpunkt an, damit eine
// erneute Normalisierung das Ergebnis nicht mehr verändert.
func (n TitleNormalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		next := n.stripLabelPrefix(s)
		next = stripCTASuffix(next)
		next = strings.TrimSpace(next)
		if next == s {
			return s
		}
		s = next
	}
}

// stripLabelPrefix entfernt ein kurzes Label vor einem frühen Doppelpunkt.
func (n TitleNormalizer) stripLabelPrefix(s string) string {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return s
	}
	if utf8.RuneCountInString(s[:idx]) >= n.ColonWindow {
		return s
	}
	return strings.TrimSpace(s[idx+1:])
}

// stripCTASuffix entfernt einen angehängten Call-to-Action-Token.
func stripCTASuffix(s string) string {
	return ctaSuffixPattern.ReplaceAllString(s, "")
}

// NormalizeTitle normalisiert mit dem Standard-Fenster.
func NormalizeTitle(raw string) string {
	return NewTitleNormalizer(0).Normalize(raw)
}
