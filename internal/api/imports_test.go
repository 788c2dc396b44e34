package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesift/pagesift/internal/importer"
	"github.com/pagesift/pagesift/internal/objectstore"
	"github.com/pagesift/pagesift/internal/queue"
)

// stubImportStore is an in-memory ImportStore with the same transition rules
// as the PostgreSQL implementation.
type stubImportStore struct {
	mu      sync.Mutex
	records map[string]*importer.ImportRecord
	usage   map[string]map[string]int64
}

var _ importer.ImportStore = (*stubImportStore)(nil)

func newStubImportStore() *stubImportStore {
	return &stubImportStore{
		records: make(map[string]*importer.ImportRecord),
		usage:   make(map[string]map[string]int64),
	}
}

func (s *stubImportStore) CreateImport(_ context.Context, record *importer.ImportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.SiteID == record.SiteID && !existing.Status.IsTerminal() {
			return importer.ErrActiveImportExists
		}
	}

	clone := *record
	s.records[record.ImportID] = &clone
	return nil
}

func (s *stubImportStore) GetImport(_ context.Context, importID string) (*importer.ImportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[importID]
	if !ok {
		return nil, importer.ErrImportNotFound
	}

	clone := *record
	return &clone, nil
}

func (s *stubImportStore) ListImports(_ context.Context, siteID string) ([]importer.ImportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []importer.ImportRecord
	for _, record := range s.records {
		if record.SiteID == siteID {
			out = append(out, *record)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *stubImportStore) MarkProcessing(_ context.Context, importID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[importID]
	if !ok {
		return importer.ErrImportNotFound
	}
	if record.Status == importer.StatusProcessing {
		return nil
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", importer.ErrImportStateConflict, record.Status)
	}

	record.Status = importer.StatusProcessing
	return nil
}

func (s *stubImportStore) MarkCompleted(_ context.Context, importID, message string) error {
	return s.finish(importID, importer.StatusCompleted, message)
}

func (s *stubImportStore) MarkFailed(_ context.Context, importID, message string) error {
	return s.finish(importID, importer.StatusFailed, message)
}

func (s *stubImportStore) finish(importID string, status importer.ImportStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[importID]
	if !ok {
		return importer.ErrImportNotFound
	}
	if record.Status == status {
		return nil
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", importer.ErrImportStateConflict, record.Status)
	}

	now := time.Now().UTC()
	record.Status = status
	record.ErrorMessage = message
	record.CompletedAt = &now
	return nil
}

func (s *stubImportStore) AddImportedEvents(_ context.Context, importID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[importID]
	if !ok {
		return importer.ErrImportNotFound
	}

	record.ImportedEvents += delta
	return nil
}

func (s *stubImportStore) SetSkipCounters(_ context.Context, importID string, skipped, invalid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[importID]
	if !ok {
		return importer.ErrImportNotFound
	}

	record.SkippedEvents = skipped
	record.InvalidEvents = invalid
	return nil
}

func (s *stubImportStore) DeleteImport(_ context.Context, importID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[importID]
	if !ok {
		return importer.ErrImportNotFound
	}
	if !record.Status.IsTerminal() {
		return importer.ErrImportNotTerminal
	}

	delete(s.records, importID)
	return nil
}

func (s *stubImportStore) MonthlyUsage(_ context.Context, organizationID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.usage[organizationID]))
	for month, count := range s.usage[organizationID] {
		out[month] = count
	}
	return out, nil
}

// stubEventStore records inserted events and can be told to fail.
type stubEventStore struct {
	mu        sync.Mutex
	events    []importer.CanonicalEvent
	insertErr error
}

var _ importer.EventStore = (*stubEventStore)(nil)

func (s *stubEventStore) InsertEvents(_ context.Context, events []importer.CanonicalEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return 0, s.insertErr
	}

	s.events = append(s.events, events...)
	return len(events), nil
}

func (s *stubEventStore) DeleteEventsByImport(_ context.Context, importID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []importer.CanonicalEvent
	var removed int64
	for _, event := range s.events {
		if event.ImportID == importID {
			removed++
			continue
		}
		kept = append(kept, event)
	}

	s.events = kept
	return removed, nil
}

func (s *stubEventStore) stored() []importer.CanonicalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]importer.CanonicalEvent(nil), s.events...)
}

// stubQueue records every Send without consuming anything.
type stubQueue struct {
	mu      sync.Mutex
	sent    map[string][][]byte
	sendErr error
}

var _ queue.JobQueue = (*stubQueue)(nil)

func newStubQueue() *stubQueue {
	return &stubQueue{sent: make(map[string][][]byte)}
}

func (q *stubQueue) Start(context.Context) error               { return nil }
func (q *stubQueue) Stop() error                               { return nil }
func (q *stubQueue) CreateQueue(context.Context, string) error { return nil }
func (q *stubQueue) Work(string, queue.Handler) error          { return nil }
func (q *stubQueue) Ready() bool                               { return true }

func (q *stubQueue) Send(_ context.Context, name string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sendErr != nil {
		return q.sendErr
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.sent[name] = append(q.sent[name], data)
	return nil
}

func (q *stubQueue) sentOn(name string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([][]byte(nil), q.sent[name]...)
}

type testEnv struct {
	handler http.Handler
	imports *stubImportStore
	events  *stubEventStore
	jobs    *stubQueue
	files   objectstore.FileStore
	config  *ServerConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	files, err := objectstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	cfg := &ServerConfig{
		MaxRequestSize:         1 << 20,
		MaxUploadSize:          1 << 20,
		ImportMonthlyLimit:     100000,
		ImportHistoricalMonths: 36,
	}

	env := &testEnv{
		imports: newStubImportStore(),
		events:  &stubEventStore{},
		jobs:    newStubQueue(),
		files:   files,
		config:  cfg,
	}

	server := &Server{
		logger:  slog.New(slog.DiscardHandler),
		config:  cfg,
		imports: env.imports,
		events:  env.events,
		jobs:    env.jobs,
		files:   files,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)
	env.handler = mux

	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedRecord(t *testing.T, record importer.ImportRecord) {
	t.Helper()

	// CreateImport refuses non-pending records, so seed the map via the
	// lifecycle methods instead.
	pending := record
	pending.Status = importer.StatusPending
	require.NoError(t, e.imports.CreateImport(context.Background(), &pending))

	switch record.Status {
	case importer.StatusPending:
	case importer.StatusProcessing:
		require.NoError(t, e.imports.MarkProcessing(context.Background(), record.ImportID))
	case importer.StatusCompleted:
		require.NoError(t, e.imports.MarkCompleted(context.Background(), record.ImportID, record.ErrorMessage))
	case importer.StatusFailed:
		require.NoError(t, e.imports.MarkFailed(context.Background(), record.ImportID, record.ErrorMessage))
	}
}

func multipartUpload(t *testing.T, fields map[string]string, filename, contents string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(contents))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &body, writer.FormDataContentType()
}

func batchBody(t *testing.T, req BatchImportRequest) *bytes.Buffer {
	t.Helper()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func TestCreateImportAcceptsUpload(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)

	body, contentType := multipartUpload(t, map[string]string{
		"platform":  "umami",
		"startDate": "2025-01-01",
		"endDate":   "2025-06-30",
	}, "export.csv", "session_id,hostname,created_at,url_path\n")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/imports", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var summary ImportSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.NotEmpty(t, summary.ImportID)
	assert.Equal(t, "umami", summary.Platform)
	assert.Equal(t, "pending", summary.Status)
	assert.Equal(t, "export.csv", summary.FileName)

	jobs := env.jobs.sentOn(queue.QueueCSVParse)
	require.Len(t, jobs, 1)

	var job importer.ParseJob
	require.NoError(t, json.Unmarshal(jobs[0], &job))
	assert.Equal(t, summary.ImportID, job.ImportID)
	assert.Equal(t, "site-1", job.SiteID)
	assert.Equal(t, "site-1", job.OrganizationID)
	assert.Equal(t, objectstore.UploadKey(summary.ImportID, "export.csv"), job.FileKey)
	assert.Equal(t, "2025-01-01", job.StartDate)
	assert.Equal(t, "2025-06-30", job.EndDate)
	assert.Equal(t, int64(100000), job.MonthlyLimit)
	assert.Equal(t, 36, job.HistoricalWindowMonths)

	reader, err := env.files.Open(context.Background(), job.FileKey)
	require.NoError(t, err)
	reader.Close()
}

func TestCreateImportRejectsUnknownPlatform(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)

	body, contentType := multipartUpload(t, map[string]string{"platform": "plausible"}, "x.csv", "a,b\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/imports", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.jobs.sentOn(queue.QueueCSVParse))
}

func TestCreateImportRejectsInvalidDate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)

	body, contentType := multipartUpload(t, map[string]string{
		"platform":  "umami",
		"startDate": "01/02/2025",
	}, "x.csv", "a,b\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/imports", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateImportRequiresFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("platform", "umami"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/imports", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateImportRejectsSecondActiveImport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	env.seedRecord(t, importer.ImportRecord{
		ImportID: "imp-running",
		SiteID:   "site-1",
		Platform: importer.PlatformUmami,
		Status:   importer.StatusProcessing,
	})

	body, contentType := multipartUpload(t, map[string]string{"platform": "umami"}, "x.csv", "a,b\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/imports", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "https://pagesift.io/problems/409", problem.Type)
	assert.Empty(t, env.jobs.sentOn(queue.QueueCSVParse))
}

func TestCreateImportMarksFailedWhenEnqueueFails(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	env.jobs.sendErr = fmt.Errorf("broker unavailable")

	body, contentType := multipartUpload(t, map[string]string{"platform": "umami"}, "x.csv", "a,b\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/imports", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	records, err := env.imports.ListImports(context.Background(), "site-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, importer.StatusFailed, records[0].Status)
	assert.Contains(t, records[0].ErrorMessage, "enqueue parse job")
}

func TestBatchImportInsertsEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	env.seedRecord(t, importer.ImportRecord{
		ImportID: "imp-1",
		SiteID:   "site-1",
		Platform: importer.PlatformUmami,
		Status:   importer.StatusPending,
	})

	body := batchBody(t, BatchImportRequest{
		ImportID:     "imp-1",
		BatchIndex:   0,
		TotalBatches: 1,
		Events: []BatchEvent{
			{SessionID: "s-1", Timestamp: "2025-05-01 10:00:00", Hostname: "example.com", Pathname: "/"},
			{SessionID: "s-2", Timestamp: "2025-05-01 10:05:00", Hostname: "example.com", Pathname: "/pricing"},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/batch-import-events", body)
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.ImportedCount)

	stored := env.events.stored()
	require.Len(t, stored, 2)
	for _, event := range stored {
		assert.Equal(t, "site-1", event.SiteID)
		assert.Equal(t, "imp-1", event.ImportID)
		assert.Equal(t, importer.EventTypePageview, event.Type)
	}

	record, err := env.imports.GetImport(context.Background(), "imp-1")
	require.NoError(t, err)
	assert.Equal(t, importer.StatusProcessing, record.Status)
	assert.Equal(t, int64(2), record.ImportedEvents)
}

func TestBatchImportRejectsTerminalImport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	env.seedRecord(t, importer.ImportRecord{
		ImportID: "imp-done",
		SiteID:   "site-1",
		Platform: importer.PlatformUmami,
		Status:   importer.StatusCompleted,
	})

	body := batchBody(t, BatchImportRequest{
		ImportID: "imp-done",
		Events:   []BatchEvent{{SessionID: "s-1", Timestamp: "2025-05-01 10:00:00", Hostname: "example.com", Pathname: "/"}},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/batch-import-events", body)
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(t, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, env.events.stored())
}

func TestBatchImportHidesForeignImport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	env.seedRecord(t, importer.ImportRecord{
		ImportID: "imp-1",
		SiteID:   "site-other",
		Platform: importer.PlatformUmami,
		Status:   importer.StatusPending,
	})

	body := batchBody(t, BatchImportRequest{
		ImportID: "imp-1",
		Events:   []BatchEvent{{SessionID: "s-1", Timestamp: "2025-05-01 10:00:00", Hostname: "example.com", Pathname: "/"}},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/batch-import-events", body)
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(t, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.events.stored())
}

func TestBatchImportRejectsOversizedBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	// Large enough body needs a bigger request cap than the default test one.
	env.config.MaxRequestSize = 64 << 20

	events := make([]BatchEvent, maxBatchEvents+1)
	for i := range events {
		events[i] = BatchEvent{SessionID: "s", Timestamp: "2025-05-01 10:00:00", Hostname: "example.com", Pathname: "/"}
	}

	body := batchBody(t, BatchImportRequest{ImportID: "imp-1", Events: events})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/batch-import-events", body)
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchImportRequiresImportID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)

	body := batchBody(t, BatchImportRequest{
		Events: []BatchEvent{{SessionID: "s-1", Timestamp: "2025-05-01 10:00:00", Hostname: "example.com", Pathname: "/"}},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/batch-import-events", body)
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListImportsReturnsSiteRecordsOnly(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	env.seedRecord(t, importer.ImportRecord{
		ImportID: "imp-old",
		SiteID:   "site-1",
		Platform: importer.PlatformUmami,
		Status:   importer.StatusCompleted,
	})
	env.seedRecord(t, importer.ImportRecord{
		ImportID: "imp-foreign",
		SiteID:   "site-2",
		Platform: importer.PlatformMatomo,
		Status:   importer.StatusPending,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites/site-1/imports", nil)
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]ImportSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["imports"], 1)
	assert.Equal(t, "imp-old", resp["imports"][0].ImportID)
	assert.Equal(t, "completed", resp["imports"][0].Status)
}

func TestImportQuotaSnapshot(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	currentMonth := time.Now().UTC().Format(importer.MonthFormat)
	env.imports.usage["org-7"] = map[string]int64{
		currentMonth: 1234,
		"202401":     50,
	}

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sites/site-1/imports/quota?organizationId=org-7", nil)
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QuotaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(100000), resp.MonthlyLimit)
	assert.Equal(t, 36, resp.HistoricalWindowMonths)
	assert.Equal(t, int64(1234), resp.CurrentMonthUsage)
	assert.Equal(t, "org-7", resp.OrganizationID)
	assert.Equal(t, int64(50), resp.MonthlyUsage["202401"])
}

func TestImportQuotaDefaultsOrganizationToSite(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites/site-9/imports/quota", nil)
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QuotaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "site-9", resp.OrganizationID)
	assert.Zero(t, resp.CurrentMonthUsage)
	assert.NotNil(t, resp.MonthlyUsage)
}

func TestDeleteImportRemovesTerminalImport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	env.seedRecord(t, importer.ImportRecord{
		ImportID: "imp-del",
		SiteID:   "site-1",
		Platform: importer.PlatformUmami,
		Status:   importer.StatusCompleted,
	})

	key := objectstore.UploadKey("imp-del", "export.csv")
	require.NoError(t, env.files.Save(context.Background(), key, bytes.NewBufferString("a,b\n")))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sites/site-1/imports/imp-del", nil)
	rec := env.do(t, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := env.imports.GetImport(context.Background(), "imp-del")
	assert.ErrorIs(t, err, importer.ErrImportNotFound)

	_, err = env.files.Open(context.Background(), key)
	assert.ErrorIs(t, err, objectstore.ErrFileNotFound)
}

func TestDeleteImportRejectsRunningImport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)
	env.seedRecord(t, importer.ImportRecord{
		ImportID: "imp-run",
		SiteID:   "site-1",
		Platform: importer.PlatformUmami,
		Status:   importer.StatusProcessing,
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sites/site-1/imports/imp-run", nil)
	rec := env.do(t, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	record, err := env.imports.GetImport(context.Background(), "imp-run")
	require.NoError(t, err)
	assert.Equal(t, importer.StatusProcessing, record.Status)
}

func TestDeleteImportUnknownImport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sites/site-1/imports/imp-missing", nil)
	rec := env.do(t, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
