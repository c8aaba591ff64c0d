package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"DriveDecoder/app"
	"DriveDecoder/internal/logger"
	"DriveDecoder/internal/processor"
	"DriveDecoder/internal/securestorage"
)

// scanState is the last completed scan. It is replaced as a whole.
type scanState struct {
	report   *processor.Report
	status   *app.ProcessStatus
	finished time.Time
}

// Server represents the API server for DriveDecoder
type Server struct {
	httpServer     *http.Server
	listener       net.Listener
	config         *app.Config
	fs             afero.Fs
	storage        securestorage.Storage
	authToken      string
	processMutex   sync.Mutex
	isProcessing   bool
	cancelFunc     context.CancelFunc
	progress       ProgressUpdate
	lastErr        string
	state          atomic.Pointer[scanState]
	progressChan   chan ProgressUpdate
	shutdownSignal chan struct{}
	stopOnce       sync.Once
	stopErr        error
	// Resource limiting
	requestSemaphore chan struct{}
	maxConcurrent    int
	// SSE subscribers
	clients      map[chan ProgressUpdate]struct{}
	clientsMutex sync.RWMutex
}

// ProgressUpdate represents a progress update from a running scan
type ProgressUpdate struct {
	FilesProcessed int     `json:"files_processed"`
	TotalFiles     int     `json:"total_files"`
	EntriesDecoded int     `json:"entries_decoded"`
	Percentage     float64 `json:"percentage"`
	Status         string  `json:"status"`
}

// Option configures a Server
type Option func(*Server)

// WithFs reads scan inputs through fs
func WithFs(fs afero.Fs) Option {
	return func(s *Server) { s.fs = fs }
}

// WithStorage stores the connection info in storage
func WithStorage(storage securestorage.Storage) Option {
	return func(s *Server) { s.storage = storage }
}

// NewServer creates a new API server. config supplies the scan defaults
// and the listen settings.
func NewServer(config *app.Config, opts ...Option) *Server {
	maxConcurrent := config.Server.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU() * 2
	}
	if maxConcurrent < 4 {
		maxConcurrent = 4
	}

	s := &Server{
		config:           config,
		fs:               afero.NewOsFs(),
		progress:         ProgressUpdate{Status: "idle"},
		progressChan:     make(chan ProgressUpdate, 100),
		shutdownSignal:   make(chan struct{}),
		requestSemaphore: make(chan struct{}, maxConcurrent),
		maxConcurrent:    maxConcurrent,
		clients:          make(map[chan ProgressUpdate]struct{}),
	}
	if config.Server.RequireToken {
		s.authToken = uuid.NewString()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with its middleware applied
func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()

	api := func(h http.HandlerFunc) http.HandlerFunc {
		return s.resourceLimitMiddleware(s.authMiddleware(h))
	}
	router.HandleFunc("/api/scan", api(s.handleScan))
	router.HandleFunc("/api/stop", api(s.handleStop))
	router.HandleFunc("/api/status", api(s.handleStatus))
	router.HandleFunc("/api/progress", api(s.handleProgress))
	router.HandleFunc("/api/events", api(s.handleEvents))
	router.HandleFunc("/api/stats", api(s.handleStats))
	router.HandleFunc("/api/sessions", api(s.handleSessions))
	router.HandleFunc("/api/diagnostics", api(s.handleDiagnostics))
	router.HandleFunc("/api/export.csv", api(s.handleExportCSV))
	router.HandleFunc("/api/shutdown", api(s.handleShutdown))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	return s.loggingMiddleware(router)
}

// Start listens on the configured address and serves in the background.
// Port 0 picks a free port; GetPort reports the one in use.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Server.Addr, fmt.Sprint(s.config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("Starting DriveDecoder API server on http://%s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error: %v", err)
		}
	}()

	go s.broadcastProgress()

	if s.storage != nil {
		info := securestorage.ConnectionInfo{
			Addr:      s.config.Server.Addr,
			Port:      s.GetPort(),
			AuthToken: s.authToken,
			Ready:     true,
			StartedAt: time.Now().UTC(),
		}
		if err := s.storage.Store(info); err != nil {
			logger.Warn("Failed to store connection info: %v", err)
		}
	}
	return nil
}

// Stop stops the API server with an optional timeout. Later calls wait
// for the first one and return its result.
func (s *Server) Stop(timeout ...time.Duration) error {
	s.stopOnce.Do(func() {
		close(s.shutdownSignal)
		s.stopProcessing()

		if s.storage != nil {
			if err := s.storage.Delete(); err != nil && !errors.Is(err, securestorage.ErrNotFound) {
				logger.Warn("Failed to remove connection info: %v", err)
			}
		}
		if s.httpServer == nil {
			return
		}

		shutdownTimeout := 10 * time.Second
		if len(timeout) > 0 && timeout[0] > 0 {
			shutdownTimeout = timeout[0]
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("Shutting down server with %v timeout", shutdownTimeout)
		s.stopErr = s.httpServer.Shutdown(ctx)
	})
	return s.stopErr
}

// Done is closed once shutdown has been requested
func (s *Server) Done() <-chan struct{} {
	return s.shutdownSignal
}

// GetAuthToken returns the bearer token, empty when auth is disabled
func (s *Server) GetAuthToken() string {
	return s.authToken
}

// GetPort returns the port the server listens on
func (s *Server) GetPort() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Server.Port
}

// resourceLimitMiddleware rejects requests beyond MaxConcurrent with 429
func (s *Server) resourceLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.requestSemaphore <- struct{}{}:
			defer func() { <-s.requestSemaphore }()
			next(w, r)
		default:
			w.Header().Set("Retry-After", "5")
			http.Error(w, "Too many requests, please try again later", http.StatusTooManyRequests)
		}
	}
}

// authMiddleware requires "Authorization: Bearer <token>" when a token is set
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" && r.Header.Get("Authorization") != "Bearer "+s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the response code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps Server-Sent Events working through the recorder
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Zap().Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// validatePath rejects empty paths and traversal attempts
func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path cannot be empty")
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return errors.New("path traversal detected")
		}
	}
	return nil
}

// stopProcessing cancels a running scan
func (s *Server) stopProcessing() bool {
	s.processMutex.Lock()
	defer s.processMutex.Unlock()

	if s.isProcessing && s.cancelFunc != nil {
		s.cancelFunc()
		return true
	}
	return false
}

// GetTempDir returns the directory holding the connection info file and
// cleans up stale files in the background
func GetTempDir() string {
	tempBase := os.TempDir()
	dir := filepath.Join(tempBase, "DriveDecoder")

	var dirMode os.FileMode = 0755
	if runtime.GOOS == "windows" {
		dirMode = 0700
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		logger.Warn("Failed to create temp directory: %v", err)
		return tempBase
	}

	go cleanupStaleConnectionFiles(afero.NewOsFs(), dir, time.Hour)
	return dir
}

// cleanupStaleConnectionFiles removes connection files older than maxAge
// left behind by earlier runs
func cleanupStaleConnectionFiles(fs afero.Fs, dirPath string, maxAge time.Duration) int {
	files, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		logger.Warn("Failed to read temp directory for cleanup: %v", err)
		return 0
	}

	removed := 0
	now := time.Now()
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if name != securestorage.FileName && !strings.HasSuffix(name, ".tmp") {
			continue
		}
		if now.Sub(file.ModTime()) > maxAge {
			if err := fs.Remove(filepath.Join(dirPath, name)); err == nil {
				removed++
				logger.Debug("Cleaned up stale connection file: %s", name)
			}
		}
	}
	return removed
}
