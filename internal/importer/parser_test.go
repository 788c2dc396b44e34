package importer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func umamiParseJob(overrides func(*ParseJob)) ParseJob {
	job := ParseJob{
		ImportID:               "import-1",
		SiteID:                 "site-1",
		OrganizationID:         "org-1",
		Platform:               PlatformUmami,
		FileKey:                "imports/import-1/events.csv",
		FileName:               "events.csv",
		MonthlyLimit:           0, // unbounded unless a test says otherwise
		HistoricalWindowMonths: 1200,
	}

	if overrides != nil {
		overrides(&job)
	}

	return job
}

const umamiCSVHeader = "session_id,hostname,created_at,url_path\n"

func TestParser_Run(t *testing.T) {
	// One good row, one without a date, one outside the date filter.
	file := umamiCSVHeader +
		"s1,example.com,2025-05-01 10:30:00,/a\n" +
		"s2,example.com,,/b\n" +
		"s3,example.com,2024-01-01 00:00:00,/c\n"

	var chunks [][]CanonicalEvent

	parser := NewParser()
	result, err := parser.Run(context.Background(), strings.NewReader(file),
		umamiParseJob(func(job *ParseJob) {
			job.StartDate = "2025-05-01"
			job.EndDate = "2025-05-31"
		}),
		ParseCallbacks{
			OnChunk: func(events []CanonicalEvent, chunkIndex int) error {
				chunks = append(chunks, events)

				return nil
			},
		})

	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalParsed)
	assert.Equal(t, 2, result.TotalSkipped)
	assert.Equal(t, 0, result.TotalInvalid)
	assert.Empty(t, result.ErrorDetails)
	assert.Empty(t, result.QuotaMessage)
	assert.Equal(t, 1, result.Chunks)

	require.Len(t, chunks, 1)
	require.Len(t, chunks[0], 1)
	assert.Equal(t, "/a", chunks[0][0].Pathname)
	assert.Equal(t, "import-1", chunks[0][0].ImportID)
}

func TestParser_ChunkArithmetic(t *testing.T) {
	var file strings.Builder
	file.WriteString(umamiCSVHeader)

	for i := 0; i < 5; i++ {
		fmt.Fprintf(&file, "s%d,example.com,2025-05-01 10:30:0%d,/p%d\n", i, i, i)
	}

	var sizes []int
	var indexes []int

	parser := &Parser{ChunkSize: 2, ProgressInterval: 1000, ErrorDetailCap: 100}
	result, err := parser.Run(context.Background(), strings.NewReader(file.String()),
		umamiParseJob(nil),
		ParseCallbacks{
			OnChunk: func(events []CanonicalEvent, chunkIndex int) error {
				sizes = append(sizes, len(events))
				indexes = append(indexes, chunkIndex)

				return nil
			},
		})

	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalParsed)
	assert.Equal(t, 3, result.Chunks, "ceil(5/2)")
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{0, 1, 2}, indexes)
}

func TestParser_InvalidRowsAreCountedAndCapped(t *testing.T) {
	var file strings.Builder
	file.WriteString(umamiCSVHeader)

	// session_id fails the schema's minLength on every row.
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&file, ",example.com,2025-05-01 10:30:0%d,/p%d\n", i, i)
	}

	parser := &Parser{ChunkSize: 100, ProgressInterval: 1000, ErrorDetailCap: 3}
	result, err := parser.Run(context.Background(), strings.NewReader(file.String()),
		umamiParseJob(nil),
		ParseCallbacks{
			OnChunk: func(events []CanonicalEvent, chunkIndex int) error { return nil },
		})

	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalInvalid)
	assert.Equal(t, 0, result.TotalParsed, "rejected rows are invalid, never parsed")
	assert.Len(t, result.ErrorDetails, 3, "detail retention stops at the cap")
	assert.Equal(t, 0, result.ErrorDetails[0].Row)
	assert.Contains(t, result.ErrorDetails[0].Message, "session_id")
	assert.Equal(t, 0, result.Chunks, "nothing valid, nothing emitted")
}

func TestParser_QuotaSkips(t *testing.T) {
	file := umamiCSVHeader +
		"s1,example.com,2025-05-01 10:00:00,/a\n" +
		"s2,example.com,2025-05-01 11:00:00,/b\n" +
		"s3,example.com,2025-05-01 12:00:00,/c\n"

	parser := NewParser()
	result, err := parser.Run(context.Background(), strings.NewReader(file),
		umamiParseJob(func(job *ParseJob) {
			job.MonthlyLimit = 1
		}),
		ParseCallbacks{
			OnChunk: func(events []CanonicalEvent, chunkIndex int) error { return nil },
		})

	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalParsed)
	assert.Equal(t, 2, result.TotalSkipped)
	assert.Contains(t, result.QuotaMessage, "monthly import limit of 1")
}

func TestParser_RawChunksDeferMapping(t *testing.T) {
	file := umamiCSVHeader +
		"s1,example.com,2025-05-01 10:30:00,/a\n" +
		"s2,example.com,2025-05-01 10:31:00,/b\n"

	var raw []RawRecord

	parser := NewParser()
	result, err := parser.Run(context.Background(), strings.NewReader(file),
		umamiParseJob(nil),
		ParseCallbacks{
			OnRawChunk: func(records []RawRecord, chunkIndex int) error {
				raw = append(raw, records...)

				return nil
			},
		})

	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalParsed)
	assert.Equal(t, 1, result.Chunks)

	require.Len(t, raw, 2)
	assert.Equal(t, "s1", raw[0]["session_id"], "records stay raw for the insert worker")
	assert.Equal(t, "/b", raw[1]["url_path"])
}

func TestParser_Progress(t *testing.T) {
	var file strings.Builder
	file.WriteString(umamiCSVHeader)

	for i := 0; i < 5; i++ {
		fmt.Fprintf(&file, "s%d,example.com,2025-05-01 10:30:0%d,/p%d\n", i, i, i)
	}

	var progress []Progress

	parser := &Parser{ChunkSize: 100, ProgressInterval: 2, ErrorDetailCap: 100}
	_, err := parser.Run(context.Background(), strings.NewReader(file.String()),
		umamiParseJob(nil),
		ParseCallbacks{
			OnChunk:    func(events []CanonicalEvent, chunkIndex int) error { return nil },
			OnProgress: func(p Progress) { progress = append(progress, p) },
		})

	require.NoError(t, err)
	// Two interval signals plus the final one.
	require.Len(t, progress, 3)
	assert.Equal(t, Progress{Parsed: 2}, progress[0])
	assert.Equal(t, Progress{Parsed: 4}, progress[1])
	assert.Equal(t, Progress{Parsed: 5}, progress[2])
}

func TestParser_Cancellation(t *testing.T) {
	var file strings.Builder
	file.WriteString(umamiCSVHeader)

	for i := 0; i < 100; i++ {
		fmt.Fprintf(&file, "s%d,example.com,2025-05-01 10:30:00,/p%d\n", i, i)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var emitted int

	parser := &Parser{ChunkSize: 10, ProgressInterval: 1000, ErrorDetailCap: 100}
	_, err := parser.Run(ctx, strings.NewReader(file.String()),
		umamiParseJob(nil),
		ParseCallbacks{
			OnChunk: func(events []CanonicalEvent, chunkIndex int) error {
				emitted++
				if chunkIndex == 0 {
					cancel()
				}

				return nil
			},
		})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, emitted, "no chunks after cancellation")
}

func TestParser_MissingHeader(t *testing.T) {
	parser := NewParser()
	_, err := parser.Run(context.Background(), strings.NewReader(""), umamiParseJob(nil), ParseCallbacks{
		OnChunk: func(events []CanonicalEvent, chunkIndex int) error { return nil },
	})

	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestParser_UnknownPlatform(t *testing.T) {
	parser := NewParser()
	_, err := parser.Run(context.Background(), strings.NewReader(umamiCSVHeader),
		umamiParseJob(func(job *ParseJob) { job.Platform = "piwik" }),
		ParseCallbacks{OnChunk: func(events []CanonicalEvent, chunkIndex int) error { return nil }})

	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestParseDateBounds(t *testing.T) {
	start, end, err := parseDateBounds("2025-05-01", "2025-05-31")
	require.NoError(t, err)
	assert.Equal(t, "2025-05-01", start.Format(DateFormat))
	assert.Equal(t, "2025-05-31", end.Format(DateFormat))

	_, _, err = parseDateBounds("May 1st", "")
	assert.Error(t, err)
}
