// Package api serves the catalog artifacts and the run ledger read-only over
// HTTP for the static map site.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/model"
	"github.com/lampioni/lampioni/internal/monitoring"
	"github.com/lampioni/lampioni/internal/store"
)

// GeoJSONContentType is the media type of the entity collection.
const GeoJSONContentType = "application/geo+json"

// Options configures the router.
type Options struct {
	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string
	// Checker backs /api/health. Nil leaves the route unregistered.
	Checker *monitoring.Checker
}

type handler struct {
	dir     *datadir.Dir
	store   store.Store
	checker *monitoring.Checker
	log     *zap.Logger
}

type healthReport struct {
	Snapshot *monitoring.Snapshot `json:"snapshot"`
	Alerts   []monitoring.Alert   `json:"alerts"`
}

// NewRouter builds the HTTP handler. A nil store serves an empty run list.
func NewRouter(dir *datadir.Dir, st store.Store, opts Options) http.Handler {
	if st == nil {
		st = store.Nop{}
	}
	h := &handler{
		dir:     dir,
		store:   st,
		checker: opts.Checker,
		log:     zap.L().With(zap.String("component", "api")),
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "If-Modified-Since"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Get("/leaderboard", h.leaderboard)
		r.Get("/lamps/new", h.newLamps)
		r.Get("/runs", h.runs)
		r.Get("/runs/{runID}", h.run)
		if h.checker != nil {
			r.Get("/health", h.catalogHealth)
		}
	})
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	s, err := h.dir.LoadSummary()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	s, err := h.dir.LoadSummary()
	if err != nil {
		h.writeError(w, err)
		return
	}
	board := s.Leaderboard
	if limit > 0 && len(board) > limit {
		board = board[:limit]
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *handler) newLamps(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(h.dir.File(datadir.NewEntitiesFile))
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": datadir.NewEntitiesFile + " not found"})
			return
		}
		h.writeError(w, err)
		return
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", GeoJSONContentType)
	http.ServeContent(w, r, datadir.NewEntitiesFile, info.ModTime(), f)
}

func (h *handler) runs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := intParam(w, r, "offset")
	if !ok {
		return
	}
	q := r.URL.Query()
	runs, err := h.store.ListRuns(r.Context(), store.RunFilter{
		Kind:   model.RunKind(q.Get("kind")),
		Status: model.RunStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) run(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// catalogHealth answers 503 while any alert is active so uptime probes can
// watch the endpoint directly.
func (h *handler) catalogHealth(w http.ResponseWriter, r *http.Request) {
	snap, alerts, err := h.checker.Check(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	status := http.StatusOK
	if len(alerts) > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthReport{Snapshot: snap, Alerts: alerts})
}

// writeError maps an unseeded data directory to 404 and anything else to 500.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, datadir.ErrMissingPrerequisite) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	h.log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " must be a non-negative integer"})
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
