package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"
)

// Parse stage defaults. Chunk size bounds one delivery unit; the error
// detail cap bounds memory on pathological files.
const (
	DefaultChunkSize        = 5000
	DefaultProgressInterval = 1000
	DefaultErrorDetailCap   = 100
)

// Sentinel errors for the parse stage.
var (
	// ErrMissingHeader is returned when the source file has no header row.
	ErrMissingHeader = errors.New("source file has no header row")
)

type (
	// Progress is the periodic signal emitted while parsing.
	Progress struct {
		Parsed  int
		Skipped int
		Errors  int
	}

	// ParseResult is the completion signal emitted once the whole file has
	// been consumed.
	ParseResult struct {
		TotalParsed int
		// TotalSkipped counts policy exclusions: rows with no usable
		// date, rows outside the date filter, rows rejected by quota.
		TotalSkipped int
		// TotalInvalid counts row-level data defects reported by the
		// mapper.
		TotalInvalid int
		// ErrorDetails holds at most the first errorDetailCap row errors;
		// beyond the cap failures still count but detail is dropped.
		ErrorDetails []RowError
		// QuotaMessage is a human-readable summary, set only when quota
		// exclusions caused skips.
		QuotaMessage string
		// Chunks is the number of chunks emitted.
		Chunks int
	}

	// ParseCallbacks receive the stage's output signals. OnChunk is
	// required; OnProgress may be nil.
	ParseCallbacks struct {
		// OnChunk receives each mapped chunk in order with its index.
		// Returning an error aborts the run.
		OnChunk func(events []CanonicalEvent, chunkIndex int) error

		// OnRawChunk, when set, receives the accepted raw records instead
		// of mapped events - the queued-delivery variant defers mapping to
		// the insert worker. Exactly one of OnChunk/OnRawChunk is used.
		OnRawChunk func(records []RawRecord, chunkIndex int) error

		OnProgress func(Progress)
	}

	// Parser streams a source file row by row, applies the date and quota
	// filters, invokes the platform mapper and batches accepted output
	// into fixed-size chunks.
	Parser struct {
		ChunkSize        int
		ProgressInterval int
		ErrorDetailCap   int
	}
)

// NewParser returns a Parser with the default chunking thresholds.
func NewParser() *Parser {
	return &Parser{
		ChunkSize:        DefaultChunkSize,
		ProgressInterval: DefaultProgressInterval,
		ErrorDetailCap:   DefaultErrorDetailCap,
	}
}

// Run consumes the CSV stream for one import and drives the callbacks.
//
// Row handling order is fixed: (1) rows with no usable date are skipped,
// (2) rows outside [StartDate, EndDate] are skipped, (3) rows the quota
// tracker rejects are skipped - all three are policy exclusions counted as
// skips, not errors - then (4) the mapper transforms the row, with failures
// counted as invalid and detailed up to the cap.
//
// Cancellation via ctx stops row processing promptly; no further chunks or
// progress are emitted after cancellation.
func (p *Parser) Run(ctx context.Context, r io.Reader, job ParseJob, cb ParseCallbacks) (*ParseResult, error) {
	mapper, err := MapperFor(job.Platform)
	if err != nil {
		return nil, err
	}

	startDate, endDate, err := parseDateBounds(job.StartDate, job.EndDate)
	if err != nil {
		return nil, err
	}

	quota := NewQuotaTracker(job.MonthlyLimit, job.HistoricalWindowMonths, job.MonthlyUsage)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // ragged rows are a row-level concern, not a file-level one

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingHeader
		}

		return nil, fmt.Errorf("read header: %w", err)
	}

	run := &parseRun{
		parser:    p,
		mapper:    mapper,
		quota:     quota,
		job:       job,
		cb:        cb,
		header:    header,
		startDate: startDate,
		endDate:   endDate,
	}

	for rowIndex := 0; ; rowIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			// A structurally broken row is a data defect; the file goes on.
			run.recordInvalid(rowIndex, "unreadable row: "+err.Error())

			continue
		}

		if err := run.processRow(rowIndex, row); err != nil {
			return nil, err
		}
	}

	return run.finish(ctx, quota)
}

// parseRun holds the mutable state of one Run invocation. It is owned by a
// single goroutine; nothing here is shared.
type parseRun struct {
	parser *Parser
	mapper Mapper
	quota  *QuotaTracker
	job    ParseJob
	cb     ParseCallbacks
	header []string

	startDate time.Time
	endDate   time.Time

	chunk      []CanonicalEvent
	rawChunk   []RawRecord
	chunkIndex int

	parsed       int
	skipped      int
	invalid      int
	quotaSkips   int
	errorDetails []RowError

	sinceProgress int
}

func (r *parseRun) processRow(rowIndex int, row []string) error {
	record := recordFromRow(r.header, row)

	// (1) no usable date field
	timestamp, ok := r.mapper.EventTimestamp(record)
	if !ok {
		r.skipped++

		return nil
	}

	// (2) date filter
	if !r.withinDateBounds(timestamp) {
		r.skipped++

		return nil
	}

	// (3) quota
	if !r.quota.CanImportEvent(timestamp) {
		r.skipped++
		r.quotaSkips++

		return nil
	}

	// (4) transform
	if r.cb.OnRawChunk != nil {
		r.rawChunk = append(r.rawChunk, record)
	} else {
		rowRejected := false

		events := r.mapper.Transform([]RawRecord{record}, r.job.SiteID, r.job.ImportID, func(_ int, message string) {
			rowRejected = true
			r.recordInvalid(rowIndex, message)
		})

		// A rejected row contributed nothing; it is invalid, not parsed.
		if rowRejected {
			return nil
		}

		r.chunk = append(r.chunk, events...)
	}

	r.parsed++
	r.sinceProgress++

	if err := r.flushFullChunks(); err != nil {
		return err
	}

	if r.cb.OnProgress != nil && r.sinceProgress >= r.parser.ProgressInterval {
		r.sinceProgress = 0
		r.cb.OnProgress(r.progress())
	}

	return nil
}

func (r *parseRun) progress() Progress {
	return Progress{Parsed: r.parsed, Skipped: r.skipped, Errors: r.invalid}
}

func (r *parseRun) recordInvalid(rowIndex int, message string) {
	r.invalid++

	if len(r.errorDetails) < r.parser.ErrorDetailCap {
		r.errorDetails = append(r.errorDetails, RowError{Row: rowIndex, Message: message})
	}
}

func (r *parseRun) flushFullChunks() error {
	for len(r.chunk) >= r.parser.ChunkSize {
		emit := r.chunk[:r.parser.ChunkSize]
		r.chunk = r.chunk[r.parser.ChunkSize:]

		if err := r.cb.OnChunk(emit, r.chunkIndex); err != nil {
			return err
		}

		r.chunkIndex++
	}

	for r.cb.OnRawChunk != nil && len(r.rawChunk) >= r.parser.ChunkSize {
		emit := r.rawChunk[:r.parser.ChunkSize]
		r.rawChunk = r.rawChunk[r.parser.ChunkSize:]

		if err := r.cb.OnRawChunk(emit, r.chunkIndex); err != nil {
			return err
		}

		r.chunkIndex++
	}

	return nil
}

func (r *parseRun) finish(ctx context.Context, quota *QuotaTracker) (*ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(r.chunk) > 0 {
		if err := r.cb.OnChunk(r.chunk, r.chunkIndex); err != nil {
			return nil, err
		}

		r.chunkIndex++
	}

	if r.cb.OnRawChunk != nil && len(r.rawChunk) > 0 {
		if err := r.cb.OnRawChunk(r.rawChunk, r.chunkIndex); err != nil {
			return nil, err
		}

		r.chunkIndex++
	}

	if r.cb.OnProgress != nil {
		r.cb.OnProgress(r.progress())
	}

	result := &ParseResult{
		TotalParsed:  r.parsed,
		TotalSkipped: r.skipped,
		TotalInvalid: r.invalid,
		ErrorDetails: r.errorDetails,
		Chunks:       r.chunkIndex,
	}

	if r.quotaSkips > 0 {
		result.QuotaMessage = quota.Summary().Message()
	}

	return result, nil
}

func (r *parseRun) withinDateBounds(timestamp string) bool {
	if r.startDate.IsZero() && r.endDate.IsZero() {
		return true
	}

	ts, err := time.ParseInLocation(TimestampFormat, timestamp, time.UTC)
	if err != nil {
		return false
	}

	if !r.startDate.IsZero() && ts.Before(r.startDate) {
		return false
	}

	if !r.endDate.IsZero() && !ts.Before(r.endDate.AddDate(0, 0, 1)) {
		return false
	}

	return true
}

// parseDateBounds parses the optional inclusive day-granularity filter.
func parseDateBounds(start, end string) (time.Time, time.Time, error) {
	var startDate, endDate time.Time

	if start != "" {
		parsed, err := time.ParseInLocation(DateFormat, start, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
		}

		startDate = parsed
	}

	if end != "" {
		parsed, err := time.ParseInLocation(DateFormat, end, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}

		endDate = parsed
	}

	return startDate, endDate, nil
}

// recordFromRow zips a header row and a data row into a RawRecord. Extra
// cells beyond the header are dropped; missing cells stay absent.
func recordFromRow(header, row []string) RawRecord {
	record := make(RawRecord, len(header))

	for i, name := range header {
		if i < len(row) {
			record[name] = row[i]
		}
	}

	return record
}
