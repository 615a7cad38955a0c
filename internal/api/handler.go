package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	shotclock "github.com/gwlsn/shotclock"
	"github.com/gwlsn/shotclock/internal/analysis"
	"github.com/gwlsn/shotclock/internal/chart"
	"github.com/gwlsn/shotclock/internal/config"
	"github.com/gwlsn/shotclock/internal/ffmpeg/clip"
	"github.com/gwlsn/shotclock/internal/logger"
	"github.com/gwlsn/shotclock/internal/metrics"
	"github.com/gwlsn/shotclock/internal/store"
)

// Analyzer runs the sample -> score -> aggregate pipeline.
type Analyzer interface {
	Run(ctx context.Context, path string, prepare analysis.PrepareFunc, finish analysis.FinishFunc) (*analysis.Analysis, error)
}

// ReadyChecker reports whether the model can serve predictions.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Handler provides HTTP handlers
type Handler struct {
	analyzer Analyzer
	model    ReadyChecker
	store    store.Store // may be nil
	cfg      *config.Config
	pages    *template.Template
}

// NewHandler creates a new handler. Templates are parsed from webFS, which
// must contain web/templates/index.html and content.html.
func NewHandler(analyzer Analyzer, model ReadyChecker, st store.Store, cfg *config.Config, webFS fs.FS) (*Handler, error) {
	pages, err := template.ParseFS(webFS, "web/templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Handler{
		analyzer: analyzer,
		model:    model,
		store:    st,
		cfg:      cfg,
		pages:    pages,
	}, nil
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps pipeline and upload errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingUpload):
		return http.StatusBadRequest
	case errors.Is(err, ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, clip.ErrShortSegment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

type indexPage struct {
	MaxUpload string
	Version   string
}

type scoreRow struct {
	Index  int
	Second int
	Value  float64
	Made   bool
}

type resultPage struct {
	ID          string
	Filename    string
	Size        string
	TotalFrames int64
	Scores      []scoreRow
	Positive    []int
	ChartURL    string
	Elapsed     string
}

// Index handles GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.render(w, "index.html", indexPage{
		MaxUpload: humanize.IBytes(uint64(h.cfg.MaxUploadSize)),
		Version:   shotclock.Version,
	})
}

// Upload handles POST / with a multipart "file" field and renders the result page
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	up, a, err := h.analyzeUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	page := resultPage{
		ID:          a.ID,
		Filename:    up.Filename,
		Size:        humanize.Bytes(uint64(up.Size)),
		TotalFrames: a.TotalFrames,
		Scores:      make([]scoreRow, len(a.Result.Y)),
		Positive:    a.Result.Positive,
		ChartURL:    h.chartURL(a.ID),
		Elapsed:     a.Elapsed.Round(10 * time.Millisecond).String(),
	}
	made := make(map[int]bool, len(a.Result.Positive))
	for _, i := range a.Result.Positive {
		made[i] = true
	}
	for i, y := range a.Result.Y {
		page.Scores[i] = scoreRow{Index: i, Second: a.Result.X[i], Value: y, Made: made[i]}
	}

	h.render(w, "content.html", page)
}

// AnalyzeResponse is the JSON body returned by POST /api/analyze
type AnalyzeResponse struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	UploadSize  int64     `json:"upload_size"`
	TotalFrames int64     `json:"total_frames"`
	FrameSource string    `json:"frame_source"`
	X           []int     `json:"x"`
	Y           []float64 `json:"y"`
	Positive    []int     `json:"positive"`
	Sampled     []int     `json:"sampled"`
	Threshold   float64   `json:"threshold"`
	Policy      string    `json:"policy"`
	ChartURL    string    `json:"chart_url"`
	ElapsedMS   int64     `json:"elapsed_ms"`
}

// Analyze handles POST /api/analyze, the JSON form of Upload
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	up, a, err := h.analyzeUpload(w, r)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		ID:          a.ID,
		Filename:    up.Filename,
		UploadSize:  up.Size,
		TotalFrames: a.TotalFrames,
		FrameSource: a.FrameSource,
		X:           a.Result.X,
		Y:           a.Result.Y,
		Positive:    a.Result.Positive,
		Sampled:     a.Sampled,
		Threshold:   a.Threshold,
		Policy:      a.Policy,
		ChartURL:    h.chartURL(a.ID),
		ElapsedMS:   a.Elapsed.Milliseconds(),
	})
}

// analyzeUpload receives the uploaded video, runs the pipeline on it, moves
// the video into place and renders the chart while the pipeline slot is
// held, then records the analysis.
func (h *Handler) analyzeUpload(w http.ResponseWriter, r *http.Request) (*upload, *analysis.Analysis, error) {
	up, err := receiveUpload(w, r, h.cfg.StaticDir, h.cfg.MaxUploadSize)
	if err != nil {
		logger.Warn("Upload rejected", "error", err)
		return nil, nil, err
	}
	defer up.discard()
	metrics.UploadBytesTotal.Add(float64(up.Size))
	logger.Info("Upload received", "filename", up.Filename, "path", up.Path, "size", humanize.Bytes(uint64(up.Size)))

	// Uploads sharing a name share up.Path, so it is only written while
	// the pipeline slot is held
	a, err := h.analyzer.Run(r.Context(), up.Path, up.commit, func(a *analysis.Analysis) error {
		err := chart.Render(h.cfg.ChartPath(), chart.Series{
			X:         a.Result.X,
			Y:         a.Result.Y,
			Positive:  a.Result.Positive,
			Threshold: a.Threshold,
		})
		if err != nil {
			return fmt.Errorf("render chart: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.Error("Analysis failed", "path", up.Path, "error", err)
		return nil, nil, err
	}

	h.record(r.Context(), up, a)
	return up, a, nil
}

// record saves the analysis to history. Failures are logged, not returned:
// the result has already been computed.
func (h *Handler) record(ctx context.Context, up *upload, a *analysis.Analysis) {
	if h.store == nil {
		return
	}
	rec := &store.Record{
		ID:          a.ID,
		Filename:    up.Filename,
		StoredPath:  up.Path,
		UploadSize:  up.Size,
		TotalFrames: a.TotalFrames,
		Segments:    len(a.Scores),
		Scores:      a.Scores,
		Positive:    a.Result.Positive,
		Sampled:     a.Sampled,
		Threshold:   a.Threshold,
		Policy:      a.Policy,
		DurationMS:  a.Elapsed.Milliseconds(),
		CreatedAt:   a.StartedAt,
	}
	if err := h.store.SaveAnalysis(ctx, rec); err != nil {
		logger.Warn("Failed to record analysis", "id", a.ID, "error", err)
	}
}

// chartURL points at the shared chart image. The query string keeps
// browsers from showing a cached chart from an earlier upload.
func (h *Handler) chartURL(id string) string {
	return "/static/" + h.cfg.ChartFile + "?v=" + id
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.pages.ExecuteTemplate(w, name, data); err != nil {
		logger.Error("Failed to render page", "template", name, "error", err)
	}
}

// ListAnalyses handles GET /api/analyses?limit=N
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.store.ListAnalyses(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": records})
}

// GetAnalysis handles GET /api/analyses/{id}
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "history is disabled")
		return
	}

	rec, err := h.store.GetAnalysis(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SimilarAnalyses handles GET /api/analyses/{id}/similar?limit=N
func (h *Handler) SimilarAnalyses(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "history is disabled")
		return
	}

	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.store.Similar(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": records})
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.model.Ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"model":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"model":  "available",
	})
}
