package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hemis-telemetry/internal/audit"
	"hemis-telemetry/internal/auth"
	"hemis-telemetry/internal/observability/metrics"
	"hemis-telemetry/internal/telemetry/application"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

const (
	defaultHistoryWindow = 24 * time.Hour
	maxAlertHours        = 24 * 31
)

// ReadService answers telemetry read queries.
type ReadService interface {
	Realtime(ctx context.Context, deviceID int64) (application.DeviceRealtime, error)
	Overview(ctx context.Context) ([]telemetry.Snapshot, error)
	Alerts(ctx context.Context, window time.Duration) (application.AlertReport, error)
	History(ctx context.Context, deviceID int64, from, to time.Time, includeSimulated bool) (telemetry.History, error)
}

// PollerControl starts and stops the poller.
type PollerControl interface {
	Start() bool
	Stop() bool
	Status() application.PollerStatus
}

// Handler serves the telemetry read, export and polling endpoints.
type Handler struct {
	reads  ReadService
	poller PollerControl
	access auth.AccessChecker
	audit  audit.Logger
	now    func() time.Time
	logger *zap.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithAccessChecker enforces per-device access for the caller's role.
func WithAccessChecker(access auth.AccessChecker) Option {
	return func(h *Handler) {
		h.access = access
	}
}

// WithAuditLogger records polling control actions.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithClock overrides the clock used for default windows.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(reads ReadService, poller PollerControl, logger *zap.Logger, opts ...Option) (*Handler, error) {
	if reads == nil {
		return nil, errors.New("telemetry handler: nil read service")
	}
	if poller == nil {
		return nil, errors.New("telemetry handler: nil poller")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		reads:  reads,
		poller: poller,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("telemetry_http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes mounts the endpoints under /api/v1/telemetry.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1/telemetry", func(r chi.Router) {
		r.Get("/overview", h.handleOverview)
		r.Get("/alerts", h.handleAlerts)
		r.Get("/devices/{id}/realtime", h.handleRealtime)
		r.Get("/devices/{id}/history", h.handleHistory)
		r.Get("/devices/{id}/history/export.{format}", h.handleExport)
		r.Post("/polling/start", h.handlePollingStart)
		r.Post("/polling/stop", h.handlePollingStop)
		r.Get("/polling/status", h.handlePollingStatus)
	})
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	// The first viewer turns the poller on.
	if h.poller.Start() {
		h.logger.Info("poller started on demand")
	}
	snapshots, err := h.reads.Overview(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":   snapshots,
		"count":     len(snapshots),
		"timestamp": h.now(),
	})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxAlertHours {
			writeError(w, http.StatusBadRequest, "hours must be between 1 and "+strconv.Itoa(maxAlertHours))
			return
		}
		hours = parsed
	}
	report, err := h.reads.Alerts(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleRealtime(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.deviceParam(w, r)
	if !ok {
		return
	}
	realtime, err := h.reads.Realtime(r.Context(), deviceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, realtime)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, ok := h.loadHistory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	if format != "xlsx" && format != "pdf" {
		writeError(w, http.StatusNotFound, "unsupported export format")
		return
	}
	history, ok := h.loadHistory(w, r)
	if !ok {
		return
	}

	start := time.Now()
	var (
		body        []byte
		err         error
		contentType string
	)
	switch format {
	case "xlsx":
		body, err = BuildHistoryXLSX(history)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		body, err = BuildHistoryPDF(history)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.logger.Error("history export failed", zap.String("format", format), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))

	filename := "device_" + strconv.FormatInt(history.DeviceID, 10) + "_history." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) handlePollingStart(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(r, auth.ResourceSimulation, "") {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	if !h.poller.Start() {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Polling already active", "status": "active"})
		return
	}
	h.logAudit(r, audit.ActionPollingStart)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Telemetry polling started", "status": "started"})
}

func (h *Handler) handlePollingStop(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(r, auth.ResourceSimulation, "") {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	if h.poller.Stop() {
		h.logAudit(r, audit.ActionPollingStop)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Telemetry polling stopped", "status": "stopped"})
}

func (h *Handler) logAudit(r *http.Request, action string) {
	if h.audit == nil {
		return
	}
	entry := audit.FromRequest(r, action, "poller", "", map[string]any{"status": h.poller.Status()})
	if err := h.audit.Log(r.Context(), entry); err != nil {
		h.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (h *Handler) handlePollingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.poller.Status())
}

func (h *Handler) loadHistory(w http.ResponseWriter, r *http.Request) (telemetry.History, bool) {
	deviceID, ok := h.deviceParam(w, r)
	if !ok {
		return telemetry.History{}, false
	}
	query := r.URL.Query()
	to := h.now()
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return telemetry.History{}, false
		}
		to = parsed
	}
	from := to.Add(-defaultHistoryWindow)
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return telemetry.History{}, false
		}
		from = parsed
	}
	includeSimulated, _ := strconv.ParseBool(query.Get("simulated"))

	history, err := h.reads.History(r.Context(), deviceID, from, to, includeSimulated)
	if err != nil {
		h.respondError(w, err)
		return telemetry.History{}, false
	}
	return history, true
}

func (h *Handler) deviceParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	deviceID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || deviceID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return 0, false
	}
	if !h.allowed(r, auth.ResourceDevice, raw) {
		writeError(w, http.StatusForbidden, "Access denied")
		return 0, false
	}
	return deviceID, true
}

func (h *Handler) allowed(r *http.Request, kind auth.ResourceKind, id string) bool {
	if h.access == nil {
		return true
	}
	return h.access.CanAccess(auth.RoleFromContext(r.Context()), kind, id)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, telemetry.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "Device not found")
	case errors.Is(err, application.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid time window: from must precede to and span at most 31 days")
	default:
		h.logger.Error("telemetry query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}
