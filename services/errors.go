package services

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrConfiguration kennzeichnet fehlende Pflicht-Zugangsdaten. Terminal,
// mit Operator-Hinweis; kein Retry.
var ErrConfiguration = errors.New("missing required credential")

// SchemaError bedeutet, dass die Modell-Antwort nicht in die geforderte
// Struktur parsbar war. Ein Queue-Retry würde das Ergebnis nur reproduzieren;
// recoverbar bleibt der Artikel über administratives Re-Queue.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("model response violates schema: %s", e.Reason)
}

// HTTPError trägt den Status-Code eines fehlgeschlagenen externen Aufrufs.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable entscheidet, ob ein Fehler transient ist und die Backoff-Policy
// der Queue greifen soll. Alles andere ist pro Artikel terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, ErrConfiguration) {
		return false
	}
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 408, 429:
			return true
		default:
			return httpErr.StatusCode >= 500 && httpErr.StatusCode <= 599
		}
	}

	return false
}
