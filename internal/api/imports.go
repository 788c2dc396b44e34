// Package api provides HTTP API server implementation for the pagesift service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pagesift/pagesift/internal/api/middleware"
	"github.com/pagesift/pagesift/internal/importer"
	"github.com/pagesift/pagesift/internal/objectstore"
	"github.com/pagesift/pagesift/internal/queue"
)

const (
	// maxBatchEvents caps one batch-insert call.
	maxBatchEvents = 10000

	// multipartMemoryLimit is how much of an upload may stay in memory
	// before spilling to disk.
	multipartMemoryLimit = 32 << 20
)

type (
	// BatchEvent is the wire shape of one canonical event in a batch-insert
	// request. Kept separate from the domain model to decouple the API
	// contract from internal types.
	BatchEvent struct {
		SessionID              string            `json:"sessionId"`
		UserID                 string            `json:"userId,omitempty"`
		Timestamp              string            `json:"timestamp"`
		Hostname               string            `json:"hostname"`
		Pathname               string            `json:"pathname"`
		Querystring            string            `json:"querystring,omitempty"`
		URLParameters          map[string]string `json:"urlParameters,omitempty"`
		PageTitle              string            `json:"pageTitle,omitempty"`
		Referrer               string            `json:"referrer,omitempty"`
		Channel                string            `json:"channel,omitempty"`
		Browser                string            `json:"browser,omitempty"`
		BrowserVersion         string            `json:"browserVersion,omitempty"`
		OperatingSystem        string            `json:"os,omitempty"`
		OperatingSystemVersion string            `json:"osVersion,omitempty"`
		Language               string            `json:"language,omitempty"`
		Country                string            `json:"country,omitempty"`
		Region                 string            `json:"region,omitempty"`
		City                   string            `json:"city,omitempty"`
		Lat                    float64           `json:"lat,omitempty"`
		Lon                    float64           `json:"lon,omitempty"`
		ScreenWidth            int               `json:"screenWidth,omitempty"`
		ScreenHeight           int               `json:"screenHeight,omitempty"`
		DeviceType             string            `json:"deviceType,omitempty"`
		Type                   string            `json:"type,omitempty"`
		EventName              string            `json:"eventName,omitempty"`
		Props                  map[string]string `json:"props,omitempty"`
	}

	// BatchImportRequest is the body of POST .../batch-import-events.
	BatchImportRequest struct {
		Events       []BatchEvent `json:"events"`
		ImportID     string       `json:"importId"`
		BatchIndex   int          `json:"batchIndex"`
		TotalBatches int          `json:"totalBatches"`
	}

	// BatchImportResponse acknowledges a batch insert.
	BatchImportResponse struct {
		Success       bool `json:"success"`
		ImportedCount int  `json:"importedCount"`
	}

	// ImportSummary is the list/detail wire shape of one import record.
	ImportSummary struct {
		ImportID       string `json:"importId"`
		Platform       string `json:"platform"`
		Status         string `json:"status"`
		FileName       string `json:"fileName,omitempty"`
		ImportedEvents int64  `json:"importedEvents"`
		SkippedEvents  int64  `json:"skippedEvents"`
		InvalidEvents  int64  `json:"invalidEvents"`
		ErrorMessage   string `json:"errorMessage,omitempty"`
		StartedAt      string `json:"startedAt"`
		CompletedAt    string `json:"completedAt,omitempty"`
	}

	// QuotaResponse is the wire shape of the quota snapshot.
	QuotaResponse struct {
		MonthlyLimit           int64            `json:"monthlyLimit"`
		HistoricalWindowMonths int              `json:"historicalWindowMonths"`
		MonthlyUsage           map[string]int64 `json:"monthlyUsage"`
		CurrentMonthUsage      int64            `json:"currentMonthUsage"`
		OrganizationID         string           `json:"organizationId"`
	}
)

// toCanonical converts a wire event into the domain model. SiteID and
// ImportID come from the request scope, never the payload.
func (e BatchEvent) toCanonical(siteID, importID string) importer.CanonicalEvent {
	eventType := e.Type
	if eventType == "" {
		eventType = importer.EventTypePageview
	}

	return importer.CanonicalEvent{
		SiteID:                 siteID,
		ImportID:               importID,
		SessionID:              e.SessionID,
		UserID:                 e.UserID,
		Timestamp:              e.Timestamp,
		Hostname:               e.Hostname,
		Pathname:               e.Pathname,
		Querystring:            e.Querystring,
		URLParameters:          e.URLParameters,
		PageTitle:              e.PageTitle,
		Referrer:               e.Referrer,
		Channel:                e.Channel,
		Browser:                e.Browser,
		BrowserVersion:         e.BrowserVersion,
		OperatingSystem:        e.OperatingSystem,
		OperatingSystemVersion: e.OperatingSystemVersion,
		Language:               e.Language,
		Country:                e.Country,
		Region:                 e.Region,
		City:                   e.City,
		Lat:                    e.Lat,
		Lon:                    e.Lon,
		ScreenWidth:            e.ScreenWidth,
		ScreenHeight:           e.ScreenHeight,
		DeviceType:             e.DeviceType,
		Type:                   eventType,
		EventName:              e.EventName,
		Props:                  e.Props,
	}
}

func toImportSummary(record importer.ImportRecord) ImportSummary {
	summary := ImportSummary{
		ImportID:       record.ImportID,
		Platform:       string(record.Platform),
		Status:         string(record.Status),
		FileName:       record.FileName,
		ImportedEvents: record.ImportedEvents,
		SkippedEvents:  record.SkippedEvents,
		InvalidEvents:  record.InvalidEvents,
		ErrorMessage:   record.ErrorMessage,
		StartedAt:      record.StartedAt.UTC().Format(time.RFC3339),
	}

	if record.CompletedAt != nil {
		summary.CompletedAt = record.CompletedAt.UTC().Format(time.RFC3339)
	}

	return summary
}

// handleBatchImportEvents inserts one delivered chunk for a running import.
// Used by the direct-delivery variant where the producer POSTs chunks instead
// of enqueueing them.
func (s *Server) handleBatchImportEvents(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteId")

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Content-Type must be application/json"))

		return
	}

	var req BatchImportRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		if errors.Is(err, errRequestTooLarge) {
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge("Request body exceeds the configured limit"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON body: "+err.Error()))

		return
	}

	if req.ImportID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("importId is required"))

		return
	}

	if len(req.Events) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("events must not be empty"))

		return
	}

	if len(req.Events) > maxBatchEvents {
		WriteErrorResponse(w, r, s.logger,
			BadRequest(fmt.Sprintf("events exceeds the per-batch cap of %d", maxBatchEvents)))

		return
	}

	record, ok := s.siteImport(w, r, siteID, req.ImportID)
	if !ok {
		return
	}

	if record.Status.IsTerminal() {
		WriteErrorResponse(w, r, s.logger,
			Conflict(fmt.Sprintf("import %s is already %s", record.ImportID, record.Status)))

		return
	}

	// First accepted batch moves the import out of pending. MarkProcessing
	// is idempotent for an import already processing.
	if err := s.imports.MarkProcessing(r.Context(), req.ImportID); err != nil {
		if errors.Is(err, importer.ErrImportStateConflict) {
			WriteErrorResponse(w, r, s.logger,
				Conflict(fmt.Sprintf("import %s no longer accepts batches", req.ImportID)))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to update import status"))

		return
	}

	events := make([]importer.CanonicalEvent, 0, len(req.Events))
	for _, event := range req.Events {
		events = append(events, event.toCanonical(siteID, req.ImportID))
	}

	inserted, err := s.events.InsertEvents(r.Context(), events)
	if err != nil {
		s.logger.Error("Batch insert failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("import_id", req.ImportID),
			slog.Int("batch_index", req.BatchIndex),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to insert events"))

		return
	}

	// Progress accounting must not fail the request.
	if err := s.imports.AddImportedEvents(r.Context(), req.ImportID, int64(inserted)); err != nil {
		s.logger.Warn("Failed to record import progress",
			slog.String("import_id", req.ImportID),
			slog.String("error", err.Error()),
		)
	}

	s.writeJSON(w, r, http.StatusOK, BatchImportResponse{
		Success:       true,
		ImportedCount: inserted,
	})
}

// handleCreateImport accepts a multipart CSV upload and starts the queued
// import pipeline: store the file, create the pending record, enqueue the
// parse job.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteId")
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge("Upload exceeds the configured size limit"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid multipart body: "+err.Error()))

		return
	}

	platform := importer.Platform(r.FormValue("platform"))
	if !platform.IsValid() {
		WriteErrorResponse(w, r, s.logger,
			BadRequest(fmt.Sprintf("unsupported platform %q", string(platform))))

		return
	}

	startDate := r.FormValue("startDate")
	endDate := r.FormValue("endDate")

	for _, date := range []string{startDate, endDate} {
		if date == "" {
			continue
		}

		if _, err := time.ParseInLocation(importer.DateFormat, date, time.UTC); err != nil {
			WriteErrorResponse(w, r, s.logger,
				BadRequest(fmt.Sprintf("invalid date %q, expected %s", date, importer.DateFormat)))

			return
		}
	}

	organizationID := r.FormValue("organizationId")
	if organizationID == "" {
		organizationID = siteID
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("multipart field \"file\" is required"))

		return
	}
	defer file.Close()

	// The quota snapshot is re-derived from committed events at the start
	// of every run; the parse stage trusts it for the whole file.
	usage, err := s.imports.MonthlyUsage(ctx, organizationID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load quota usage"))

		return
	}

	importID := uuid.NewString()
	record := &importer.ImportRecord{
		ImportID:       importID,
		SiteID:         siteID,
		OrganizationID: organizationID,
		Platform:       platform,
		FileName:       header.Filename,
		Status:         importer.StatusPending,
		StartedAt:      time.Now().UTC(),
	}

	if err := s.imports.CreateImport(ctx, record); err != nil {
		if errors.Is(err, importer.ErrActiveImportExists) {
			WriteErrorResponse(w, r, s.logger,
				Conflict("an import is already in progress for this site"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create import record"))

		return
	}

	fileKey := objectstore.UploadKey(importID, header.Filename)
	if err := s.files.Save(ctx, fileKey, file); err != nil {
		s.failImport(ctx, importID, "store upload: "+err.Error())
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to store uploaded file"))

		return
	}

	job := importer.ParseJob{
		ImportID:               importID,
		SiteID:                 siteID,
		OrganizationID:         organizationID,
		Platform:               platform,
		FileKey:                fileKey,
		FileName:               header.Filename,
		StartDate:              startDate,
		EndDate:                endDate,
		MonthlyLimit:           s.config.ImportMonthlyLimit,
		HistoricalWindowMonths: s.config.ImportHistoricalMonths,
		MonthlyUsage:           usage,
	}

	if err := s.jobs.Send(ctx, queue.QueueCSVParse, job); err != nil {
		s.logger.Error("Failed to enqueue parse job",
			slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
			slog.String("import_id", importID),
			slog.String("error", err.Error()),
		)
		s.failImport(ctx, importID, "enqueue parse job: "+err.Error())
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to enqueue import"))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, toImportSummary(*record))
}

// handleListImports returns the site's import records, most recent first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteId")

	records, err := s.imports.ListImports(r.Context(), siteID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list imports"))

		return
	}

	summaries := make([]ImportSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, toImportSummary(record))
	}

	s.writeJSON(w, r, http.StatusOK, map[string][]ImportSummary{"imports": summaries})
}

// handleImportQuota returns the organization's quota snapshot.
func (s *Server) handleImportQuota(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteId")

	organizationID := r.URL.Query().Get("organizationId")
	if organizationID == "" {
		organizationID = siteID
	}

	usage, err := s.imports.MonthlyUsage(r.Context(), organizationID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load quota usage"))

		return
	}

	if usage == nil {
		usage = map[string]int64{}
	}

	currentMonth := time.Now().UTC().Format(importer.MonthFormat)

	s.writeJSON(w, r, http.StatusOK, QuotaResponse{
		MonthlyLimit:           s.config.ImportMonthlyLimit,
		HistoricalWindowMonths: s.config.ImportHistoricalMonths,
		MonthlyUsage:           usage,
		CurrentMonthUsage:      usage[currentMonth],
		OrganizationID:         organizationID,
	})
}

// handleDeleteImport removes a terminal import: its events, its lifecycle
// record, and any uploaded file still in object storage.
func (s *Server) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteId")
	importID := r.PathValue("importId")
	ctx := r.Context()

	if _, ok := s.siteImport(w, r, siteID, importID); !ok {
		return
	}

	if err := s.imports.DeleteImport(ctx, importID); err != nil {
		switch {
		case errors.Is(err, importer.ErrImportNotTerminal):
			WriteErrorResponse(w, r, s.logger,
				Conflict("import is still running; only terminal imports can be deleted"))
		case errors.Is(err, importer.ErrImportNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound("import not found"))
		default:
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to delete import"))
		}

		return
	}

	// Remove any uploaded file left behind; the sweeper is the backstop if
	// this fails.
	prefix := "imports/" + importID + "/"
	if objects, err := s.files.List(ctx, prefix); err == nil {
		for _, obj := range objects {
			if err := s.files.Delete(ctx, obj.Key); err != nil {
				s.logger.Warn("Failed to delete uploaded file",
					slog.String("import_id", importID),
					slog.String("key", obj.Key),
					slog.String("error", err.Error()),
				)
			}
		}
	} else {
		s.logger.Warn("Failed to list uploaded files for deletion",
			slog.String("import_id", importID),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusNoContent)
}

// siteImport loads an import and verifies it belongs to the site. A missing
// record and a foreign record are indistinguishable to the caller.
func (s *Server) siteImport(w http.ResponseWriter, r *http.Request, siteID, importID string) (*importer.ImportRecord, bool) {
	record, err := s.imports.GetImport(r.Context(), importID)
	if err != nil {
		if errors.Is(err, importer.ErrImportNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("import not found"))

			return nil, false
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load import"))

		return nil, false
	}

	if record.SiteID != siteID {
		WriteErrorResponse(w, r, s.logger, NotFound("import not found"))

		return nil, false
	}

	return record, true
}

func (s *Server) failImport(ctx context.Context, importID, message string) {
	if err := s.imports.MarkFailed(ctx, importID, message); err != nil {
		s.logger.Error("Failed to mark import failed",
			slog.String("import_id", importID),
			slog.String("error", err.Error()),
		)
	}
}
