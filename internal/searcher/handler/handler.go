// Package handler serves the HTTP API of the recognition service: indexing
// images, querying, index statistics and cache control.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/recognition/norm"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/postgres"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	maxBodyBytes     = 32 << 20
	defaultPageSize  = 100
	maxPageSize      = 1000
	catalogOpTimeout = 5 * time.Second
)

// Index is the part of *recognition.Engine the API uses.
type Index interface {
	AddImage(id string, features [][]float32) (int, error)
	Query(features [][]float32, limit int) (*recognition.QueryResult, error)
	Clear()
	NumImages() int
	NumWords() int
	ImageIDs(offset, limit int) []string
	PostingSizes() []int
	Norm() norm.Norm
	Generation() uint64
	Version() recognition.Version
	SkippedFeatures() uint64
}

// Catalog records image status. *postgres.Client implements it.
type Catalog interface {
	SetImageStatus(ctx context.Context, imageID, status, source, detail string) error
	MarkAllCleared(ctx context.Context) (int64, error)
}

type Tracker interface {
	Track(event analytics.Event)
}

// Options wires the optional collaborators. Nil fields are skipped.
type Options struct {
	Cache        *cache.QueryCache
	Tracker      Tracker
	Metrics      *metrics.Metrics
	Catalog      Catalog
	Dimension    int
	MaxFeatures  int
	DefaultLimit int
	MaxResults   int
}

type Handler struct {
	index  Index
	opts   Options
	logger *slog.Logger
}

func New(index Index, opts Options) *Handler {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxResults < opts.DefaultLimit {
		opts.MaxResults = opts.DefaultLimit
	}
	return &Handler{
		index:  index,
		opts:   opts,
		logger: slog.Default().With("component", "recognition-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/images", h.AddImage)
	mux.HandleFunc("GET /api/v1/images", h.ListImages)
	mux.HandleFunc("DELETE /api/v1/images", h.Clear)
	mux.HandleFunc("POST /api/v1/query", h.Query)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) limits() validator.Limits {
	return validator.Limits{
		Dimension:   h.opts.Dimension,
		MaxFeatures: h.opts.MaxFeatures,
		MaxResults:  h.opts.MaxResults,
	}
}

func (h *Handler) AddImage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.AddImageRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeAppError(w, err)
		return
	}
	if err := validator.ValidateAddImage(&req, h.limits()); err != nil {
		h.writeValidationError(w, err)
		return
	}

	idx, err := h.index.AddImage(req.ImageID, req.Features)
	if h.opts.Metrics != nil {
		h.opts.Metrics.ObserveIndex(err, len(req.Features))
	}
	event := analytics.IndexEvent{
		Type:      analytics.EventIndexImage,
		ImageID:   req.ImageID,
		Index:     idx,
		Features:  len(req.Features),
		Source:    "http",
		LatencyMs: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		log.Error("indexing image failed", "image_id", req.ImageID, "error", err)
		h.setStatus(ctx, req.ImageID, postgres.StatusFailed, err.Error())
		event.Type = analytics.EventIndexFailed
		event.Error = err.Error()
		h.track(event)
		h.writeAppError(w, err)
		return
	}
	h.setStatus(ctx, req.ImageID, postgres.StatusIndexed, "")
	h.track(event)

	log.Info("image indexed",
		"image_id", req.ImageID,
		"index", idx,
		"features", len(req.Features),
		"latency_ms", event.LatencyMs,
	)
	h.writeJSON(w, http.StatusCreated, ingestion.AddImageResponse{ImageID: req.ImageID, Index: idx})
}

func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		h.writeAppError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must be a non-negative integer"))
		return
	}
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		h.writeAppError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
		return
	}
	limit = min(limit, maxPageSize)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":  h.index.NumImages(),
		"offset": offset,
		"images": h.index.ImageIDs(offset, limit),
	})
}

// Clear empties the index, the query cache and marks the catalog.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	removed := h.index.NumImages()
	h.index.Clear()
	if h.opts.Cache != nil {
		if err := h.opts.Cache.Invalidate(ctx); err != nil {
			h.logger.Warn("cache invalidation after clear failed", "error", err)
		}
	}
	if h.opts.Catalog != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogOpTimeout)
		if _, err := h.opts.Catalog.MarkAllCleared(cctx); err != nil {
			h.logger.Error("failed to mark catalog cleared", "error", err)
		}
		cancel()
	}
	h.track(analytics.IndexEvent{Type: analytics.EventClear, Index: -1, Timestamp: time.Now().UTC()})
	logger.FromContext(ctx).Info("index cleared", "images_removed", removed)
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "images_removed": removed})
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.QueryRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeAppError(w, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = h.opts.DefaultLimit
	}
	if req.Limit > h.opts.MaxResults {
		req.Limit = h.opts.MaxResults
	}
	if err := validator.ValidateQuery(&req, h.limits()); err != nil {
		h.writeValidationError(w, err)
		return
	}

	compute := func() (*recognition.QueryResult, error) {
		return h.index.Query(req.Features, req.Limit)
	}
	var (
		result   *recognition.QueryResult
		err      error
		cacheHit bool
	)
	cacheStatus := "disabled"
	if h.opts.Cache != nil {
		result, cacheHit, err = h.opts.Cache.GetOrCompute(ctx, h.index.Version(), req.Features, req.Limit, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = compute()
	}
	latency := time.Since(start)

	if err != nil {
		h.observeQuery("error", cacheStatus, latency, nil, cacheHit)
		log.Error("query failed", "error", err)
		h.writeAppError(w, err)
		return
	}

	resultType := "match"
	eventType := analytics.EventQuery
	if len(result.Matches) == 0 {
		resultType = "no_candidates"
		eventType = analytics.EventNoCandidate
	}
	h.observeQuery(resultType, cacheStatus, latency, result, cacheHit)

	event := analytics.QueryEvent{
		Type:            eventType,
		RequestID:       middleware.GetRequestID(ctx),
		Features:        len(req.Features),
		SkippedFeatures: result.SkippedFeatures,
		Words:           result.Words,
		Candidates:      result.Candidates,
		Returned:        len(result.Matches),
		Limit:           req.Limit,
		CacheHit:        cacheHit,
		LatencyMs:       latency.Milliseconds(),
		Timestamp:       time.Now().UTC(),
	}
	if len(result.Matches) > 0 {
		event.TopImageID = result.Matches[0].ImageID
		event.TopScore = result.Matches[0].Score
	}
	h.track(event)

	log.Info("query completed",
		"features", len(req.Features),
		"words", result.Words,
		"candidates", result.Candidates,
		"returned", len(result.Matches),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) observeQuery(resultType, cacheStatus string, latency time.Duration, result *recognition.QueryResult, cacheHit bool) {
	m := h.opts.Metrics
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(resultType).Inc()
	m.QueryLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	switch cacheStatus {
	case "hit":
		m.CacheHitsTotal.Inc()
	case "miss":
		m.CacheMissesTotal.Inc()
	}
	if result == nil {
		return
	}
	m.QueryResultsCount.Observe(float64(len(result.Matches)))
	if !cacheHit {
		m.QueryCandidates.Observe(float64(result.Candidates))
	}
}

// IndexStats summarises the shape of the inverted file.
type IndexStats struct {
	Images          int     `json:"images"`
	Words           int     `json:"words"`
	NonEmptyLists   int     `json:"non_empty_lists"`
	Postings        int     `json:"postings"`
	PostingMean     float64 `json:"posting_mean"`
	PostingStdDev   float64 `json:"posting_stddev"`
	PostingMax      int     `json:"posting_max"`
	Norm            string  `json:"norm"`
	Generation      uint64  `json:"generation"`
	SkippedFeatures uint64  `json:"skipped_features"`
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, ComputeStats(h.index))
}

// ComputeStats reads the index once and derives posting-list statistics.
func ComputeStats(index Index) IndexStats {
	sizes := index.PostingSizes()
	s := IndexStats{
		Images:          index.NumImages(),
		Words:           len(sizes),
		Norm:            index.Norm().String(),
		Generation:      index.Generation(),
		SkippedFeatures: index.SkippedFeatures(),
	}
	if len(sizes) == 0 {
		return s
	}
	lengths := make([]float64, len(sizes))
	for i, n := range sizes {
		lengths[i] = float64(n)
		s.Postings += n
		if n > 0 {
			s.NonEmptyLists++
		}
	}
	s.PostingMean, s.PostingStdDev = stat.PopMeanStdDev(lengths, nil)
	s.PostingMax = int(floats.Max(lengths))
	return s
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	s := h.opts.Cache.Stats()
	total := s.Hits + s.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(s.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":          s.Hits,
		"misses":        s.Misses,
		"total":         total,
		"hit_rate":      fmt.Sprintf("%.1f%%", hitRate),
		"local_hits":    s.LocalHits,
		"remote_hits":   s.RemoteHits,
		"local_entries": s.LocalEntries,
		"remote":        s.Remote,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.opts.Cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeAppError(w, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "cache invalidation failed"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) setStatus(ctx context.Context, imageID, status, detail string) {
	if h.opts.Catalog == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogOpTimeout)
	defer cancel()
	if err := h.opts.Catalog.SetImageStatus(cctx, imageID, status, "http", detail); err != nil {
		h.logger.Error("failed to update image status", "image_id", imageID, "status", status, "error", err)
	}
}

func (h *Handler) track(event analytics.Event) {
	if h.opts.Tracker != nil {
		h.opts.Tracker.Track(event)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
				"request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err)
	}
	return nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	var ve *validator.ValidationError
	if errors.As(err, &ve) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": ve.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}
