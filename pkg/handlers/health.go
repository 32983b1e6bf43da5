package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// healthCheckTimeout bounds each dependency check of GET /health.
const healthCheckTimeout = 2 * time.Second

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports dependency status and the active snapshot.
type HealthResponse struct {
	Status          string            `json:"status"`
	SnapshotVersion string            `json:"snapshot_version,omitempty"`
	Checks          map[string]string `json:"checks"`
}

// Pinger is a dependency GET /health pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SnapshotLoader exposes the active schema snapshot.
type SnapshotLoader interface {
	Load() *models.SchemaSnapshot
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg       *config.Config
	snapshots SnapshotLoader
	checks    map[string]Pinger
	logger    *zap.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name
// ("database", "redis") to its pinger; nil pingers are skipped.
func NewHealthHandler(cfg *config.Config, snapshots SnapshotLoader, checks map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, snapshots: snapshots, checks: checks, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health. It answers 503 when a dependency fails or no
// snapshot is loaded, since the pipeline cannot answer questions then.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks)+1)}

	for name, check := range h.checks {
		if check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("Health check failed",
				zap.String("dependency", name),
				zap.String("error", logging.SanitizeError(err)))
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if snapshot := h.snapshots.Load(); snapshot != nil {
		resp.SnapshotVersion = snapshot.Version
		resp.Checks["snapshot"] = "ok"
	} else {
		resp.Checks["snapshot"] = "missing"
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-query",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
