package models

import "time"

// ReportStatus beschreibt den Zustand eines Source-Test-Laufs.
type ReportStatus string

const (
	ReportRunning   ReportStatus = "running"
	ReportCompleted ReportStatus = "completed"
)

// SourceResultStatus ist das Ergebnis eines einzelnen Quellen-Tests.
type SourceResultStatus string

const (
	SourceResultSuccess   SourceResultStatus = "success"
	SourceResultDuplicate SourceResultStatus = "success_duplicate"
	SourceResultFailure   SourceResultStatus = "failure"
)

// SourceTestReport ist der Bericht eines Batch-Laufs über die Quellen-Registry.
// Die Zähler werden pro Quelle per atomarem Spalten-Inkrement fortgeschrieben.
type SourceTestReport struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Status       ReportStatus `json:"status" gorm:"index;default:'running'"`
	TestType     string       `json:"test_type"`
	TotalSources int          `json:"total_sources"`
	SuccessCount int          `json:"success_count" gorm:"default:0"`
	FailureCount int          `json:"failure_count" gorm:"default:0"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`

	Results []SourceTestResult `json:"results,omitempty" gorm:"foreignKey:ReportID"`
}

// TableName gibt explizit den Tabellennamen an.
func (SourceTestReport) TableName() string {
	return "source_test_reports"
}

// SourceTestResult ist das Einzelergebnis einer Quelle innerhalb eines Berichts.
type SourceTestResult struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	ReportID uint `json:"report_id" gorm:"index;not null"`

	Domain    string             `json:"domain"`
	Pillar    string             `json:"pillar"`
	Region    string             `json:"region"`
	Status    SourceResultStatus `json:"status"`
	Detail    string             `json:"detail,omitempty" gorm:"type:text"`
	Timestamp time.Time          `json:"timestamp"`
}

// TableName gibt explizit den Tabellennamen an.
func (SourceTestResult) TableName() string {
	return "source_test_results"
}
