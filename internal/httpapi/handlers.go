package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/septivank/meter-telemetry-service/internal/logging"
	"github.com/septivank/meter-telemetry-service/internal/service"
	"github.com/septivank/meter-telemetry-service/internal/validator"
	"go.uber.org/zap"
)

// Handler serves the telemetry API
type Handler struct {
	ingest *service.IngestService
	query  *service.QueryService
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(ingest *service.IngestService, query *service.QueryService, logger *zap.Logger) *Handler {
	return &Handler{
		ingest: ingest,
		query:  query,
		logger: logger,
	}
}

// IngestReadings accepts one telemetry sample from a meter
func (h *Handler) IngestReadings(w http.ResponseWriter, r *http.Request) {
	receivedAt := time.Now()
	reqLogger := logging.WithRequestID(h.logger, uuid.NewString())

	var payload validator.SamplePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		reqLogger.Warn("malformed request body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, Fail(validator.ErrInvalidPayload.Error()))
		return
	}

	count, err := h.ingest.IngestSample(r.Context(), &payload, receivedAt)
	if err != nil {
		if errors.Is(err, validator.ErrInvalidPayload) || errors.Is(err, validator.ErrTooManyReadings) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		// Internal detail goes to the log, not the caller.
		reqLogger.Error("ingestion failed", zap.Error(err), zap.String("meter_id", payload.MeterID))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to store readings"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "success",
		"readings_received": count,
	})
}

// ListMeters returns all meters with statistics and liveness status
func (h *Handler) ListMeters(w http.ResponseWriter, r *http.Request) {
	meters, err := h.query.ListMeters(r.Context())
	if err != nil {
		h.logger.Error("failed to list meters", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list meters"))
		return
	}
	if meters == nil {
		meters = []service.MeterStatus{}
	}
	writeJSON(w, http.StatusOK, Ok(meters))
}

// LatestSamples returns the most recent logical samples for a meter. The
// optional limit query parameter is a sample count, default 1. An unknown
// meter yields an empty array.
func (h *Handler) LatestSamples(w http.ResponseWriter, r *http.Request) {
	meterID := mux.Vars(r)["meter_id"]

	limit := 1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	samples, err := h.query.LatestSamples(r.Context(), meterID, limit)
	if err != nil {
		h.logger.Error("failed to query latest samples",
			zap.Error(err),
			zap.String("meter_id", meterID),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query readings"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(samples))
}

// Dashboard returns the combined dashboard view
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.query.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("failed to build dashboard", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to build dashboard"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// Health reports whether the store answers a liveness check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.query.Health(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
