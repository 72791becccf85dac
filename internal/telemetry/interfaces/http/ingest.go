package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"hemis-telemetry/internal/eventing"
	"hemis-telemetry/internal/observability/metrics"
	telemetry "hemis-telemetry/internal/telemetry/domain"
)

const (
	maxIngestBody   = 1 << 20
	jsonDataField   = "json_data"
	msgNoData       = "No data provided"
	msgInvalidJSON  = "Invalid JSON"
	msgInvalidForm  = "Invalid JSON in form data"
	msgInternal     = "Internal server error"
	msgDataReceived = "Data received successfully"
)

var (
	errInvalidJSON = errors.New("invalid json body")
	errInvalidForm = errors.New("invalid json in form data")
)

// Ingester validates and records one device payload.
type Ingester interface {
	Ingest(ctx context.Context, raw map[string]any) (telemetry.Sample, error)
}

type ingestResponse struct {
	Message        string    `json:"message"`
	DeviceID       int64     `json:"device_id"`
	Timestamp      time.Time `json:"timestamp"`
	FingerDetected bool      `json:"finger_detected"`
	Warnings       []string  `json:"warnings"`
}

// IngestHandler receives device packets. Devices do not authenticate.
type IngestHandler struct {
	ingester Ingester
	logger   *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingester Ingester, logger *zap.Logger) (*IngestHandler, error) {
	if ingester == nil {
		return nil, errors.New("ingest handler: nil ingester")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{ingester: ingester, logger: logger.Named("ingest_http")}, nil
}

// ServeHTTP handles POST /api/v1/telemetry/receive.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	fail := func(status int, reason, message string) {
		metrics.IncIngestError(reason)
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
		writeError(w, status, message)
	}

	raw, err := decodeIngestBody(w, r)
	switch {
	case errors.Is(err, errInvalidForm):
		fail(http.StatusBadRequest, "invalid_json", msgInvalidForm)
		return
	case errors.Is(err, errInvalidJSON):
		fail(http.StatusBadRequest, "invalid_json", msgInvalidJSON)
		return
	case err != nil:
		fail(http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ctx := r.Context()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		ctx = eventing.WithCorrelationID(ctx, reqID)
	}
	sample, err := h.ingester.Ingest(ctx, raw)
	if err != nil {
		var fieldErr *telemetry.FieldError
		switch {
		case errors.Is(err, telemetry.ErrNoData):
			fail(http.StatusBadRequest, telemetry.Reason(err), msgNoData)
		case errors.As(err, &fieldErr):
			fail(http.StatusBadRequest, telemetry.Reason(err), fieldErr.Error())
		default:
			h.logger.Error("ingest failed", zap.Error(err))
			fail(http.StatusInternalServerError, telemetry.Reason(err), msgInternal)
		}
		return
	}

	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(start))
	writeJSON(w, http.StatusCreated, ingestResponse{
		Message:        msgDataReceived,
		DeviceID:       sample.DeviceID,
		Timestamp:      sample.CapturedAt,
		FingerDetected: sample.FingerDetected,
		Warnings:       sample.Warnings,
	})
}

// decodeIngestBody reads a JSON body, or a urlencoded/multipart form whose
// fields are the payload keys or a single json_data field.
func decodeIngestBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return decodeJSONObject(body, errInvalidJSON)
	}

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxIngestBody); err != nil {
			return nil, err
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, err
	}
	raw := make(map[string]any, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			raw[key] = values[0]
		}
	}
	if encoded, ok := raw[jsonDataField].(string); ok {
		return decodeJSONObject([]byte(encoded), errInvalidForm)
	}
	return raw, nil
}

func decodeJSONObject(body []byte, invalid error) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, invalid
	}
	return raw, nil
}
