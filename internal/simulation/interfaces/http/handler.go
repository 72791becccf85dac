package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hemis-telemetry/internal/audit"
	"hemis-telemetry/internal/auth"
	"hemis-telemetry/internal/simulation/application"
	simulation "hemis-telemetry/internal/simulation/domain"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

const maxBodyBytes = 64 << 10

// Registry is the run registry the handler drives.
type Registry interface {
	Start(ctx context.Context, req application.StartRequest) (simulation.Run, error)
	Stop(ctx context.Context, id string) (simulation.Run, error)
	StopAll(ctx context.Context) int
	Get(id string) (simulation.Run, error)
	List() []simulation.Run
	Sample(ctx context.Context, deviceID int64, state string) (simulation.Vitals, telemetry.Snapshot, error)
}

// Handler serves /api/v1/simulations.
type Handler struct {
	registry Registry
	access   auth.AccessChecker
	audit    audit.Logger
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithAccessChecker requires simulation access for every endpoint.
func WithAccessChecker(access auth.AccessChecker) Option {
	return func(h *Handler) {
		h.access = access
	}
}

// WithAuditLogger records every control action.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithClock overrides the response clock.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(registry Registry, logger *zap.Logger, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("simulation handler: nil registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.Named("simulation_http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes mounts the endpoints. The {name} segment is a run id, or a state
// name for /sample.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1/simulations", func(r chi.Router) {
		r.Use(h.requireAccess)
		r.Get("/", h.handleList)
		r.Post("/", h.handleStart)
		r.Get("/states", h.handleStates)
		r.Post("/stop-all", h.handleStopAll)
		r.Get("/{name}", h.handleGet)
		r.Post("/{name}/stop", h.handleStop)
		r.Post("/{name}/sample", h.handleSample)
	})
}

func (h *Handler) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.access != nil && !h.access.CanAccess(auth.RoleFromContext(r.Context()), auth.ResourceSimulation, "") {
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type startRequest struct {
	RunID           string  `json:"run_id"`
	DeviceID        int64   `json:"device_id"`
	PatientID       *int64  `json:"patient_id"`
	State           string  `json:"state"`
	DurationMinutes float64 `json:"duration_minutes"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

type sampleRequest struct {
	DeviceID  int64  `json:"device_id"`
	PatientID *int64 `json:"patient_id"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	run, err := h.registry.Start(r.Context(), application.StartRequest{
		RunID:     req.RunID,
		DeviceID:  req.DeviceID,
		PatientID: req.PatientID,
		State:     req.State,
		Duration:  time.Duration(req.DurationMinutes * float64(time.Minute)),
		Interval:  time.Duration(req.IntervalSeconds * float64(time.Second)),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logAudit(r, audit.ActionSimulationStart, run.ID, map[string]any{
		"device_id":        run.DeviceID,
		"state":            run.State,
		"interval_seconds": run.IntervalSeconds,
		"duration_minutes": run.DurationMinutes,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":    "Continuous simulation started for " + run.State + " state",
		"simulation": run,
		"timestamp":  h.now(),
	})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "name")
	run, err := h.registry.Stop(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logAudit(r, audit.ActionSimulationStop, id, map[string]any{"data_points": run.DataPoints})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Simulation stopped successfully",
		"simulation": run,
		"timestamp":  h.now(),
	})
}

func (h *Handler) handleStopAll(w http.ResponseWriter, r *http.Request) {
	stopped := h.registry.StopAll(r.Context())
	h.logAudit(r, audit.ActionSimulationStopAll, "", map[string]any{"stopped": stopped})
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped":   stopped,
		"timestamp": h.now(),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	runs := h.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"simulations": runs,
		"count":       len(runs),
		"timestamp":   h.now(),
	})
}

func (h *Handler) handleStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available_states": simulation.StateNames(),
		"states":           simulation.States(),
	})
}

func (h *Handler) handleSample(w http.ResponseWriter, r *http.Request) {
	state := chi.URLParam(r, "name")
	var req sampleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	vitals, snap, err := h.registry.Sample(r.Context(), req.DeviceID, state)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logAudit(r, audit.ActionSimulationSample, state, map[string]any{"device_id": req.DeviceID})
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "Simulation activated for " + vitals.State + " state",
		"device_id":   req.DeviceID,
		"patient_id":  req.PatientID,
		"state":       vitals.State,
		"vital_signs": vitals,
		"timestamp":   snap.Timestamp,
		"simulated":   true,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, simulation.ErrUnknownState), errors.Is(err, simulation.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, simulation.ErrTooManyRuns):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, simulation.ErrRunStopping):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, simulation.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "Simulation not found or already stopped")
	default:
		h.logger.Error("simulation request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) logAudit(r *http.Request, action, resourceID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(r.Context(), audit.FromRequest(r, action, "simulation", resourceID, meta)); err != nil {
		h.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
