package importer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quotaNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestQuotaTracker_MonthlyCap(t *testing.T) {
	tracker := newQuotaTrackerAt(3, 12, nil, quotaNow)

	// Exactly N acceptances for the month, starting from usage 0.
	for i := 0; i < 3; i++ {
		assert.True(t, tracker.CanImportEvent("2025-05-01 10:00:00"), "acceptance %d", i+1)
	}

	assert.False(t, tracker.CanImportEvent("2025-05-01 10:00:00"), "month should be at capacity")
	assert.False(t, tracker.CanImportEvent("2025-05-31 23:59:59"), "same month, still at capacity")

	// A different month has its own budget.
	assert.True(t, tracker.CanImportEvent("2025-04-01 00:00:00"))
}

func TestQuotaTracker_InitialUsageCounts(t *testing.T) {
	tracker := newQuotaTrackerAt(5, 12, map[string]int64{"202505": 4}, quotaNow)

	assert.True(t, tracker.CanImportEvent("2025-05-10 00:00:00"))
	assert.False(t, tracker.CanImportEvent("2025-05-10 00:00:00"))
}

func TestQuotaTracker_HistoricalWindow(t *testing.T) {
	tracker := newQuotaTrackerAt(100, 6, nil, quotaNow)

	// Before the oldest allowed month: always rejected.
	assert.False(t, tracker.CanImportEvent("2024-11-30 23:59:59"))
	assert.False(t, tracker.CanImportEvent("2020-01-01 00:00:00"))

	// Exactly the first instant of the oldest allowed month: accepted.
	assert.True(t, tracker.CanImportEvent("2024-12-01 00:00:00"))
}

func TestQuotaTracker_Unbounded(t *testing.T) {
	usage := map[string]int64{"202505": 999}
	tracker := newQuotaTrackerAt(0, 6, usage, quotaNow)

	for i := 0; i < 10; i++ {
		assert.True(t, tracker.CanImportEvent("2025-05-01 10:00:00"))
	}

	// Ancient timestamps are fine too, and no usage is mutated.
	assert.True(t, tracker.CanImportEvent("1999-01-01 00:00:00"))
	assert.Equal(t, int64(999), tracker.usage["202505"])
	assert.Len(t, tracker.usage, 1)
}

func TestQuotaTracker_FailsClosedOnBadTimestamp(t *testing.T) {
	tracker := newQuotaTrackerAt(100, 12, nil, quotaNow)

	assert.False(t, tracker.CanImportEvent("not a timestamp"))
	assert.False(t, tracker.CanImportEvent("2025-05-01"))
	assert.False(t, tracker.CanImportEvent("2025-05-01T10:00:00Z"))
	assert.Empty(t, tracker.usage)
}

func TestQuotaTracker_Summary(t *testing.T) {
	tracker := newQuotaTrackerAt(2, 12, map[string]int64{"202504": 2, "202505": 1}, quotaNow)

	summary := tracker.Summary()

	require.Equal(t, []string{"202504"}, summary.MonthsAtCapacity)
	require.Equal(t, []string{"202505"}, summary.MonthsWithSpace)
	assert.Contains(t, summary.Message(), "monthly import limit of 2")
	assert.Contains(t, summary.Message(), "last 12 month(s)")
}

func TestQuotaTracker_SnapshotIsCopied(t *testing.T) {
	usage := map[string]int64{"202505": 0}
	tracker := newQuotaTrackerAt(10, 12, usage, quotaNow)

	require.True(t, tracker.CanImportEvent("2025-05-01 10:00:00"))
	assert.Equal(t, int64(0), usage["202505"], "caller's snapshot must not be mutated")
}

func ExampleQuotaTracker_CanImportEvent() {
	tracker := NewQuotaTracker(1, 12, nil)

	now := time.Now().UTC().Format(TimestampFormat)
	fmt.Println(tracker.CanImportEvent(now))
	fmt.Println(tracker.CanImportEvent(now))
	// Output:
	// true
	// false
}
