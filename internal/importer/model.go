// Package importer provides the domain model and pipeline stages for the
// pagesift bulk CSV import pipeline: quota tracking, per-platform row mapping,
// the streaming parse stage and the batched delivery stage.
package importer

import (
	"time"
)

// TimestampFormat is the canonical textual timestamp format used everywhere
// in the pipeline: UTC, second precision.
const TimestampFormat = "2006-01-02 15:04:05"

// MonthFormat is the yyyyMM key format used for monthly quota accounting.
const MonthFormat = "200601"

// DateFormat is the day-granularity format accepted for import date filters.
const DateFormat = "2006-01-02"

type (
	// Platform identifies a supported source analytics platform.
	Platform string

	// ImportStatus is the lifecycle status of an import attempt.
	ImportStatus string

	// RawRecord is one source-platform record as parsed from the uploaded
	// file: CSV header name -> cell value.
	RawRecord map[string]string

	// CanonicalEvent is the platform-native event record every mapper
	// produces - Domain Model.
	//
	// This is a pure domain model; the API layer defines the JSON shape.
	// Every CanonicalEvent belongs to exactly one ImportID, which tags the
	// row for insertion and later bulk deletion.
	CanonicalEvent struct {
		SiteID    string
		ImportID  string
		SessionID string
		UserID    string

		// Timestamp is UTC second-precision text in TimestampFormat.
		Timestamp string

		Hostname      string
		Pathname      string
		Querystring   string
		URLParameters map[string]string // keys lower-cased
		PageTitle     string
		Referrer      string
		Channel       string

		Browser                string
		BrowserVersion         string
		OperatingSystem        string
		OperatingSystemVersion string
		Language               string
		Country                string
		Region                 string
		City                   string
		Lat                    float64
		Lon                    float64
		ScreenWidth            int
		ScreenHeight           int
		DeviceType             string

		// Type is "pageview" or a custom event kind.
		Type      string
		EventName string
		Props     map[string]string
	}

	// ImportRecord is the persisted lifecycle row, one per import attempt.
	ImportRecord struct {
		ImportID       string
		SiteID         string
		OrganizationID string
		Platform       Platform
		FileName       string
		Status         ImportStatus
		ImportedEvents int64
		SkippedEvents  int64
		InvalidEvents  int64
		ErrorMessage   string
		StartedAt      time.Time
		CompletedAt    *time.Time
	}

	// QuotaInfo is the quota snapshot handed from server to client, or
	// consulted server-side at the start of an import run.
	QuotaInfo struct {
		// MonthlyLimit is the per-month event cap; zero or negative means
		// unbounded.
		MonthlyLimit int64

		// HistoricalWindowMonths is how many months back from now
		// importing is allowed.
		HistoricalWindowMonths int

		// MonthlyUsage maps "yyyyMM" to the count already imported.
		MonthlyUsage map[string]int64

		CurrentMonthUsage int64
		OrganizationID    string
	}

	// FailedBatch is a chunk that exhausted its delivery retries. Retained
	// for manual retry or inspection; never auto-resubmitted.
	FailedBatch struct {
		BatchIndex int
		Events     []CanonicalEvent
		Error      string
		RetryCount int
	}

	// RowError is one capped row-level error detail.
	RowError struct {
		Row     int    `json:"row"`
		Message string `json:"message"`
	}

	// ParseJob describes a server-side parse job: a reference to an
	// uploaded file plus the import metadata the parse stage needs.
	ParseJob struct {
		ImportID       string   `json:"importId"`
		SiteID         string   `json:"siteId"`
		OrganizationID string   `json:"organizationId"`
		Platform       Platform `json:"platform"`
		FileKey        string   `json:"fileKey"`
		FileName       string   `json:"fileName"`

		// StartDate and EndDate are optional inclusive day-granularity
		// UTC bounds in DateFormat; empty means unbounded.
		StartDate string `json:"startDate,omitempty"`
		EndDate   string `json:"endDate,omitempty"`

		MonthlyLimit           int64            `json:"monthlyLimit"`
		HistoricalWindowMonths int              `json:"historicalWindowMonths"`
		MonthlyUsage           map[string]int64 `json:"monthlyUsage"`
	}

	// DataInsertJob carries one chunk of raw source rows from the parse
	// stage to an insert worker, or the final sentinel for an import.
	DataInsertJob struct {
		ImportID string      `json:"importId"`
		SiteID   string      `json:"siteId"`
		Platform Platform    `json:"platform"`
		Records  []RawRecord `json:"records,omitempty"`

		// AllChunksSent marks the sentinel job: no further chunks will be
		// produced for this import. Enqueued strictly last.
		AllChunksSent bool `json:"allChunksSent"`

		// SkippedEvents and InvalidEvents ride on the sentinel so the
		// insert worker can persist the parse stage's final counters.
		SkippedEvents int64 `json:"skippedEvents,omitempty"`
		InvalidEvents int64 `json:"invalidEvents,omitempty"`

		// QuotaMessage rides on the sentinel when quota exclusions caused
		// skips, so the completion message can surface them.
		QuotaMessage string `json:"quotaMessage,omitempty"`
	}
)

// Supported source platforms.
const (
	PlatformUmami  Platform = "umami"
	PlatformMatomo Platform = "matomo"
)

// Import lifecycle statuses.
const (
	StatusPending    ImportStatus = "pending"
	StatusProcessing ImportStatus = "processing"
	StatusCompleted  ImportStatus = "completed"
	StatusFailed     ImportStatus = "failed"
)

// IsValid reports whether s is a known lifecycle status.
func (s ImportStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a terminal status. Terminal statuses accept
// no further progress mutation.
func (s ImportStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether p is a supported source platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformUmami, PlatformMatomo:
		return true
	default:
		return false
	}
}

// EventTypePageview is the canonical event type for page visits.
const EventTypePageview = "pageview"

// EventTypeCustom is the canonical event type for named custom events.
const EventTypeCustom = "custom_event"
