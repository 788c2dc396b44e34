package importer

import (
	"fmt"
	"sort"
	"time"
)

// QuotaTracker decides, per event, whether it may be counted against the
// organization's import quota, and maintains the running per-month usage
// counters for the duration of one import run.
//
// A tracker instance is owned by exactly one parse stage invocation; it is
// not safe for concurrent use. Cross-import consistency comes from
// re-deriving the usage snapshot from the store's committed state at the
// start of each run, not from sharing tracker state across runs.
//
// The same implementation serves both the authoritative server-side check and
// the client-side pre-check, so the two can never disagree about which rows
// are acceptable.
type QuotaTracker struct {
	monthlyLimit       int64
	historicalMonths   int
	usage              map[string]int64
	oldestAllowedMonth string
}

// NewQuotaTracker builds a tracker from a monthly limit (zero or negative
// means unbounded), a historical window in months, and an initial usage
// snapshot keyed "yyyyMM". The oldest allowed month is computed once from
// the current UTC time.
func NewQuotaTracker(monthlyLimit int64, historicalWindowMonths int, monthlyUsage map[string]int64) *QuotaTracker {
	return newQuotaTrackerAt(monthlyLimit, historicalWindowMonths, monthlyUsage, time.Now().UTC())
}

// newQuotaTrackerAt is the injectable-clock constructor used by tests.
func newQuotaTrackerAt(monthlyLimit int64, historicalWindowMonths int, monthlyUsage map[string]int64, now time.Time) *QuotaTracker {
	usage := make(map[string]int64, len(monthlyUsage))
	for month, count := range monthlyUsage {
		usage[month] = count
	}

	oldest := now.UTC().AddDate(0, -historicalWindowMonths, 0)
	oldest = time.Date(oldest.Year(), oldest.Month(), 1, 0, 0, 0, 0, time.UTC)

	return &QuotaTracker{
		monthlyLimit:       monthlyLimit,
		historicalMonths:   historicalWindowMonths,
		usage:              usage,
		oldestAllowedMonth: oldest.Format(MonthFormat),
	}
}

// Unbounded reports whether the tracker has no monthly limit.
func (q *QuotaTracker) Unbounded() bool {
	return q.monthlyLimit <= 0
}

// CanImportEvent reports whether an event with the given canonical timestamp
// text may be imported, and if so counts it against the month's usage.
//
// The decision order is fixed:
//  1. unbounded limit: always true, no state change
//  2. unparsable timestamp: false (fail closed)
//  3. month before the historical window: false
//  4. month at capacity: false
//  5. otherwise: increment the month and return true
func (q *QuotaTracker) CanImportEvent(timestampText string) bool {
	if q.Unbounded() {
		return true
	}

	ts, err := time.ParseInLocation(TimestampFormat, timestampText, time.UTC)
	if err != nil {
		// Invalid timestamps are never imported.
		return false
	}

	month := ts.Format(MonthFormat)
	if month < q.oldestAllowedMonth {
		return false
	}

	if q.usage[month] >= q.monthlyLimit {
		return false
	}

	q.usage[month]++

	return true
}

// QuotaSummary reports the tracker's per-month outcome for user-facing
// messaging after a run.
type QuotaSummary struct {
	MonthsAtCapacity []string
	MonthsWithSpace  []string
	MonthlyLimit     int64
	HistoricalMonths int
}

// Summary returns which months are at capacity and which still have space.
// Months are reported in ascending "yyyyMM" order.
func (q *QuotaTracker) Summary() QuotaSummary {
	summary := QuotaSummary{
		MonthlyLimit:     q.monthlyLimit,
		HistoricalMonths: q.historicalMonths,
	}

	if q.Unbounded() {
		return summary
	}

	months := make([]string, 0, len(q.usage))
	for month := range q.usage {
		months = append(months, month)
	}

	sort.Strings(months)

	for _, month := range months {
		if q.usage[month] >= q.monthlyLimit {
			summary.MonthsAtCapacity = append(summary.MonthsAtCapacity, month)
		} else {
			summary.MonthsWithSpace = append(summary.MonthsWithSpace, month)
		}
	}

	return summary
}

// Message renders the summary as a single human-readable line, suitable for
// appending to completion error details when quota exclusions affected a run.
func (s QuotaSummary) Message() string {
	return fmt.Sprintf(
		"monthly import limit of %d reached for %d month(s) %v; imports are limited to the last %d month(s)",
		s.MonthlyLimit, len(s.MonthsAtCapacity), s.MonthsAtCapacity, s.HistoricalMonths,
	)
}
