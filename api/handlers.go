package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"DriveDecoder/app"
	"DriveDecoder/core"
	"DriveDecoder/internal/logger"
	"DriveDecoder/internal/processor"
	"DriveDecoder/output"
	"DriveDecoder/timeline"
)

// ScanRequest starts a scan over server-side paths
type ScanRequest struct {
	Inputs  []string `json:"inputs"`
	Workers int      `json:"workers,omitempty"`
	// Wait blocks until the scan finishes and returns its status
	Wait bool `json:"wait,omitempty"`
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Status       string             `json:"status"`
	IsProcessing bool               `json:"is_processing"`
	Progress     ProgressUpdate     `json:"progress"`
	LastScan     *app.ProcessStatus `json:"last_scan,omitempty"`
	FinishedAt   string             `json:"finished_at,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// SessionRecord is one closed connection interval
type SessionRecord struct {
	Vendor          string  `json:"vendor"`
	Model           string  `json:"model"`
	Serial          string  `json:"serial"`
	InsertedAt      string  `json:"inserted_at"`
	RemovedAt       string  `json:"removed_at"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// SessionsResponse groups the paired sessions of the last scan
type SessionsResponse struct {
	Closed  []SessionRecord `json:"closed"`
	Open    []output.Record `json:"open"`
	Orphans []output.Record `json:"orphans"`
}

// DiagnosticRecord is one skipped entry
type DiagnosticRecord struct {
	Index    int    `json:"index"`
	Source   string `json:"source"`
	RecordID int64  `json:"record_id,omitempty"`
	EventID  int    `json:"event_id"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

// handleScan decodes the requested inputs and swaps in the new result
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "At least one input path is required", http.StatusBadRequest)
		return
	}
	for _, input := range req.Inputs {
		if err := validatePath(input); err != nil {
			http.Error(w, fmt.Sprintf("Invalid input path: %v", err), http.StatusBadRequest)
			return
		}
	}

	config := *s.config
	config.Inputs = req.Inputs
	if req.Workers > 0 {
		config.Workers = req.Workers
	}

	s.processMutex.Lock()
	if s.isProcessing {
		s.processMutex.Unlock()
		http.Error(w, "Scan already in progress", http.StatusConflict)
		return
	}

	application := app.NewWithFs(&config, s.fs)
	if err := application.Initialize(); err != nil {
		s.processMutex.Unlock()
		code := http.StatusInternalServerError
		if errors.Is(err, app.ErrInvalidInput) || errors.Is(err, app.ErrInvalidConfig) {
			code = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("Failed to initialize: %v", err), code)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.isProcessing = true
	s.lastErr = ""
	s.progress = ProgressUpdate{Status: "processing"}
	s.processMutex.Unlock()

	done := make(chan *app.ProcessStatus, 1)
	go func() {
		defer cancel()
		done <- s.runScan(ctx, application)
	}()

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}
	status := <-done
	code := http.StatusOK
	if status.Status == app.StatusError || status.Status == app.StatusInterrupted {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, status)
}

// runScan executes one scan and publishes its outcome
func (s *Server) runScan(ctx context.Context, application *app.App) *app.ProcessStatus {
	start := time.Now()
	callback := func(filesProcessed, totalFiles, entriesDecoded int) {
		var percentage float64
		if totalFiles > 0 {
			percentage = float64(filesProcessed) / float64(totalFiles) * 100
		}
		s.publish(ProgressUpdate{
			FilesProcessed: filesProcessed,
			TotalFiles:     totalFiles,
			EntriesDecoded: entriesDecoded,
			Percentage:     percentage,
			Status:         "processing",
		})
	}

	report, err := application.Scan(ctx, callback)
	status := &app.ProcessStatus{DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		status.Status = app.StatusInterrupted
		status.Error = "Scan was interrupted"
	case err != nil && !processor.IsPartial(err):
		status.Status = app.StatusError
		status.Error = err.Error()
	default:
		status.Status = app.StatusSuccess
		if err != nil {
			status.Status = app.StatusPartial
			status.Error = err.Error()
		}
		combined := report.Combined()
		status.ScanID = report.Timeline.ID
		status.Files = len(report.Results)
		status.Entries = combined.Total
		status.Decoded = combined.Decoded()
		status.Skipped = combined.Skipped()
		status.Summary = combined.Summary()
		s.state.Store(&scanState{report: report, status: status, finished: time.Now().UTC()})
	}

	if status.Error != "" {
		logger.Warn("Scan finished with status %s: %s", status.Status, status.Error)
	} else {
		logger.Info("Scan finished: %s", status.Summary)
	}

	final := ProgressUpdate{Status: status.Status, EntriesDecoded: status.Decoded, Percentage: 100}
	s.processMutex.Lock()
	s.isProcessing = false
	s.cancelFunc = nil
	s.lastErr = status.Error
	if last := s.progress; last.TotalFiles > 0 {
		final.FilesProcessed = last.FilesProcessed
		final.TotalFiles = last.TotalFiles
	}
	s.processMutex.Unlock()
	s.publish(final)
	return status
}

// publish records the latest progress and queues it for SSE clients
func (s *Server) publish(update ProgressUpdate) {
	s.processMutex.Lock()
	s.progress = update
	s.processMutex.Unlock()

	select {
	case s.progressChan <- update:
	default:
	}
}

// handleStop cancels a running scan
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.stopProcessing()})
}

// handleStatus reports whether a scan runs and the last scan outcome
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.processMutex.Lock()
	resp := StatusResponse{
		Status:       "ok",
		IsProcessing: s.isProcessing,
		Progress:     s.progress,
		Error:        s.lastErr,
	}
	s.processMutex.Unlock()

	if st := s.state.Load(); st != nil {
		resp.LastScan = st.status
		resp.FinishedAt = st.finished.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// current returns the last scan, or writes 404 when none exists
func (s *Server) current(w http.ResponseWriter, r *http.Request) *scanState {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil
	}
	st := s.state.Load()
	if st == nil {
		http.Error(w, "No scan results available", http.StatusNotFound)
		return nil
	}
	return st
}

// selection applies ?kind= and ?q= to the timeline
func selection(r *http.Request, tl *timeline.Timeline) ([]core.TimelineEntry, error) {
	var kind *core.EventKind
	if v := strings.TrimSpace(r.URL.Query().Get("kind")); v != "" && !strings.EqualFold(v, "all") {
		k, ok := core.ParseEventKind(v)
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", v)
		}
		kind = &k
	}
	return tl.Query(kind, r.URL.Query().Get("q")), nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	st := s.current(w, r)
	if st == nil {
		return
	}
	entries, err := selection(r, st.report.Timeline)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, output.NewRecords(entries))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.current(w, r)
	if st == nil {
		return
	}
	writeJSON(w, http.StatusOK, st.report.Timeline.Stats())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	st := s.current(w, r)
	if st == nil {
		return
	}

	writeJSON(w, http.StatusOK, NewSessionsResponse(st.report.Timeline.Sessions()))
}

// NewSessionsResponse flattens a session set for JSON output
func NewSessionsResponse(set timeline.SessionSet) SessionsResponse {
	resp := SessionsResponse{
		Closed:  make([]SessionRecord, 0, len(set.Closed)),
		Open:    output.NewRecords(set.Open),
		Orphans: output.NewRecords(set.Orphans),
	}
	for _, sess := range set.Closed {
		ins := output.NewRecord(sess.Insertion)
		resp.Closed = append(resp.Closed, SessionRecord{
			Vendor:          ins.Vendor,
			Model:           ins.Model,
			Serial:          ins.Serial,
			InsertedAt:      ins.Timestamp,
			RemovedAt:       output.NewRecord(sess.Removal).Timestamp,
			DurationSeconds: sess.Duration().Seconds(),
		})
	}
	return resp
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	st := s.current(w, r)
	if st == nil {
		return
	}

	diags := st.report.Diagnostics()
	out := make([]DiagnosticRecord, 0, len(diags))
	for _, d := range diags {
		out = append(out, DiagnosticRecord{
			Index:    d.Index,
			Source:   d.Source,
			RecordID: d.RecordID,
			EventID:  d.EventID,
			Reason:   d.Reason(),
			Message:  d.Message(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExportCSV downloads the selected entries as usb-forensics-<day>.csv
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	st := s.current(w, r)
	if st == nil {
		return
	}
	entries, err := selection(r, st.report.Timeline)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := output.DefaultFileName("csv", time.Now())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(timeline.ToCSV(entries)))
}

// handleProgress streams progress updates as Server-Sent Events
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientChan := make(chan ProgressUpdate, 10)
	s.registerClient(clientChan)
	defer s.unregisterClient(clientChan)

	s.processMutex.Lock()
	initial := s.progress
	s.processMutex.Unlock()

	fmt.Fprintf(w, "data: %s\n\n", mustMarshalJSON(initial))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.shutdownSignal:
			return
		case update := <-clientChan:
			fmt.Fprintf(w, "data: %s\n\n", mustMarshalJSON(update))
			flusher.Flush()
		}
	}
}

// registerClient subscribes an SSE stream to progress updates
func (s *Server) registerClient(ch chan ProgressUpdate) {
	s.clientsMutex.Lock()
	s.clients[ch] = struct{}{}
	s.clientsMutex.Unlock()
}

// unregisterClient drops an SSE stream
func (s *Server) unregisterClient(ch chan ProgressUpdate) {
	s.clientsMutex.Lock()
	delete(s.clients, ch)
	s.clientsMutex.Unlock()
}

// broadcastProgress fans progress updates out to SSE clients
func (s *Server) broadcastProgress() {
	for {
		select {
		case <-s.shutdownSignal:
			return
		case update := <-s.progressChan:
			s.clientsMutex.RLock()
			for ch := range s.clients {
				select {
				case ch <- update:
				default:
				}
			}
			s.clientsMutex.RUnlock()
		}
	}
}

// handleShutdown stops the server after answering
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})

	go func() {
		time.Sleep(100 * time.Millisecond)
		if err := s.Stop(); err != nil {
			logger.Warn("Shutdown error: %v", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(mustMarshalJSON(v)))
}

// mustMarshalJSON marshals v, falling back to a fixed error document
func mustMarshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Error marshaling JSON: %v", err)
		return `{"error":"Internal server error during JSON serialization"}`
	}
	return string(data)
}
