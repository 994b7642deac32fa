package collector

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/metorial/beacon/internal/metrics"
	"github.com/metorial/beacon/internal/models"
	"github.com/metorial/beacon/internal/store"
	"go.uber.org/zap"
)

const maxReportBytes = 1 << 20

type API struct {
	store   store.QueryStore
	ingest  *Ingestor
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewAPI(qs store.QueryStore, ingest *Ingestor, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *API {
	if clk == nil {
		clk = clock.New()
	}
	return &API{store: qs, ingest: ingest, clock: clk, logger: logger.Named("api"), metrics: m}
}

func (api *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/report", api.handleReport)
	mux.HandleFunc("GET /api/v1/hosts", api.handleHosts)
	mux.HandleFunc("GET /api/v1/hosts/{id}", api.handleHost)
	mux.HandleFunc("GET /api/v1/outages", api.handleOutages)
	mux.HandleFunc("GET /api/v1/stats", api.handleStats)
	mux.HandleFunc("GET /api/v1/health", api.handleHealth)
	mux.Handle("GET /metrics", api.metrics.Handler())
}

func (api *API) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}

	req, err := decodeReport(body, r.RemoteAddr)
	if err == nil {
		err = api.ingest.Ingest(r.Context(), req)
	}

	var verr *ValidationError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	default:
		// already logged by the ingestor
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (api *API) handleHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := api.store.ListHostViews(r.Context(), api.clock.Now().Unix())
	if err != nil {
		api.internalError(w, "list hosts", err)
		return
	}
	if hosts == nil {
		hosts = []models.HostView{}
	}
	settings, err := api.store.Settings(r.Context())
	if err != nil {
		api.internalError(w, "load settings", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"site_name": settings.Get(models.SettingSiteName, models.DefaultSiteName),
		"hosts":     hosts,
		"count":     len(hosts),
	})
}

func (api *API) handleHost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	host, err := api.store.GetHostView(ctx, id, api.clock.Now().Unix())
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "host not found")
		return
	}
	if err != nil {
		api.internalError(w, "get host", err, zap.String("host_id", id))
		return
	}

	samples, err := api.store.RecentSamples(ctx, id, queryLimit(r, 100, 1000))
	if err != nil {
		api.internalError(w, "recent samples", err, zap.String("host_id", id))
		return
	}
	outages, err := api.store.Outages(ctx, id, 20)
	if err != nil {
		api.internalError(w, "host outages", err, zap.String("host_id", id))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"host":    host,
		"samples": nonNil(samples),
		"outages": nonNil(outages),
	})
}

func (api *API) handleOutages(w http.ResponseWriter, r *http.Request) {
	outages, err := api.store.Outages(r.Context(), r.URL.Query().Get("host_id"), queryLimit(r, 20, 200))
	if err != nil {
		api.internalError(w, "list outages", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"outages": nonNil(outages),
		"count":   len(outages),
	})
}

func (api *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.store.Stats(r.Context(), api.clock.Now().Unix())
	if err != nil {
		api.internalError(w, "cluster stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := api.store.Ping(r.Context()); err != nil {
		api.logger.Warn("health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "connected",
	})
}

func (api *API) internalError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	api.logger.Error(op+" failed", append(fields, zap.Error(err))...)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

// queryLimit reads ?limit=, falling back to def when it is missing or out of range.
func queryLimit(r *http.Request, def, max int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= max {
			return l
		}
	}
	return def
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
