// Package server exposes the thumbnail pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/keagan/thumbpick/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// multipartOverhead is allowed on top of the file limit for form boundaries
// and headers
const multipartOverhead = 1 << 20

// Extractor runs one extraction. *pipeline.Pipeline satisfies it.
type Extractor interface {
	Extract(ctx context.Context, videoPath string) *pipeline.Result
}

// Options configures the upload service
type Options struct {
	MaxFileSize       int64
	AllowedExtensions []string
	TempVideoPrefix   string
	TempDir           string
	SniffContent      bool
	RequestTimeout    time.Duration
	TaskHistory       int
	// OutputDir is where the pipeline writes thumbnails; served read-only.
	OutputDir string
}

// Server handles uploads. Extractions run one at a time because every run
// resets the shared output directory.
type Server struct {
	logger    zerolog.Logger
	opts      Options
	extractor Extractor
	tasks     *TaskRegistry
	allowed   map[string]struct{}
	router    chi.Router

	extractMu sync.Mutex
}

// New builds the server. A nil extractor means the detection models failed
// to load: uploads are refused with 503 but health and task lookups work.
func New(logger zerolog.Logger, opts Options, extractor Extractor) (*Server, error) {
	if opts.TaskHistory <= 0 {
		opts.TaskHistory = 1000
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 100 * humanize.MiByte
	}

	tasks, err := NewTaskRegistry(opts.TaskHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to create task registry: %w", err)
	}

	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}

	s := &Server{
		logger:    logger.With().Str("component", "server").Logger(),
		opts:      opts,
		extractor: extractor,
		tasks:     tasks,
		allowed:   allowed,
	}
	s.router = s.routes(logger)
	return s, nil
}

func (s *Server) routes(logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/upload-video/", s.handleUpload)
	r.Get("/tasks/{taskID}", s.handleTask)
	r.Get("/thumbnails/{name}", s.handleThumbnail)
	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type uploadResponse struct {
	TaskID         string     `json:"task_id"`
	Status         TaskStatus `json:"status"`
	Message        string     `json:"message"`
	ThumbnailPaths []string   `json:"thumbnail_paths"`
}

type healthResponse struct {
	Status           string   `json:"status"`
	ModelsLoaded     bool     `json:"models_loaded"`
	SupportedFormats []string `json:"supported_formats"`
}

type errorResponse struct {
	Error          string   `json:"error"`
	TaskID         string   `json:"task_id,omitempty"`
	ThumbnailPaths []string `json:"thumbnail_paths,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ModelsLoaded:     s.extractor != nil,
		SupportedFormats: s.opts.AllowedExtensions,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "Models not loaded yet")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Missing file upload")
		return
	}
	defer file.Close()

	logger := s.logger.With().
		Str("filename", header.Filename).
		Str("size", humanize.IBytes(uint64(header.Size))).
		Logger()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := s.allowed[ext]; !ok {
		logger.Warn().Str("ext", ext).Msg("rejected upload: unsupported extension")
		writeError(w, http.StatusBadRequest, "Unsupported file type: "+ext)
		return
	}
	if header.Size > s.opts.MaxFileSize {
		logger.Warn().Str("limit", humanize.IBytes(uint64(s.opts.MaxFileSize))).Msg("rejected upload: too large")
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	if s.opts.SniffContent {
		if mime, ok := sniffVideo(file); !ok {
			logger.Warn().Str("mime", mime).Msg("rejected upload: not a video")
			writeError(w, http.StatusBadRequest, "Unsupported file content: "+mime)
			return
		}
	}

	tempDir, err := os.MkdirTemp(s.opts.TempDir, "thumbpick-upload-")
	if err != nil {
		logger.Error().Err(err).Msg("failed to create temp dir")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.RemoveAll(tempDir)

	videoPath := filepath.Join(tempDir, s.opts.TempVideoPrefix+uuid.NewString()+ext)
	if err := saveUpload(file, videoPath); err != nil {
		logger.Error().Err(err).Msg("failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	task := s.tasks.Create(header.Filename)
	logger = logger.With().Str("task_id", task.ID).Logger()
	logger.Info().Msg("task processing started")

	res := s.extract(r.Context(), videoPath)
	if !res.OK() {
		s.tasks.Fail(task.ID, res.Message(), res.PartialPaths)
		logger.Error().Err(res.Err).Strs("partial", res.PartialPaths).Msg("task failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:          res.Message(),
			TaskID:         task.ID,
			ThumbnailPaths: res.PartialPaths,
		})
		return
	}

	s.tasks.Complete(task.ID, res.ThumbnailPaths)
	logger.Info().Int("thumbnails", len(res.ThumbnailPaths)).Dur("elapsed", res.Stats.Duration).Msg("task completed")

	writeJSON(w, http.StatusOK, uploadResponse{
		TaskID:         task.ID,
		Status:         TaskCompleted,
		Message:        "Processing completed",
		ThumbnailPaths: res.ThumbnailPaths,
	})
}

func (s *Server) extract(ctx context.Context, videoPath string) *pipeline.Result {
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	s.extractMu.Lock()
	defer s.extractMu.Unlock()
	return s.extractor.Extract(ctx, videoPath)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.Get(chi.URLParam(r, "taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusNotFound, "Frame not found")
		return
	}

	path := filepath.Join(s.opts.OutputDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "Frame not found")
		return
	}
	http.ServeFile(w, r, path)
}

// sniffVideo checks the leading bytes of f and rewinds it
func sniffVideo(f multipart.File) (string, bool) {
	mtype, err := mimetype.DetectReader(f)
	if _, serr := f.Seek(0, io.SeekStart); serr != nil || err != nil {
		return "unknown", false
	}
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return mtype.String(), true
		}
	}
	return mtype.String(), false
}

func saveUpload(src io.Reader, path string) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
