package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/services"
)

// AnalyticsHandler serves anomaly and retention endpoints.
type AnalyticsHandler struct {
	anomalies services.AnomalyService
	retention services.RetentionService
	logger    *zap.Logger
}

func NewAnalyticsHandler(anomalies services.AnomalyService, retention services.RetentionService, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		anomalies: anomalies,
		retention: retention,
		logger:    logger,
	}
}

// RegisterRoutes registers the analytics handler's routes on the given mux.
func (h *AnalyticsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/anomalies", h.ScanAnomalies)
	mux.HandleFunc("GET /api/anomalies/history", h.AnomalyHistory)
	mux.HandleFunc("POST /api/anomalies/scan", h.Scan)
	mux.HandleFunc("GET /api/retention", h.Retention)
	mux.HandleFunc("POST /api/retention/snapshots", h.Snapshot)
}

// anomalyReport is the scan response shape: the classified records plus a
// count per severity tier.
type anomalyReport struct {
	Data       []models.AnomalyRecord `json:"data"`
	BySeverity map[string]int         `json:"by_severity"`
}

func newAnomalyReport(anomalies []models.AnomalyRecord) anomalyReport {
	if anomalies == nil {
		anomalies = []models.AnomalyRecord{}
	}
	bySeverity := make(map[string]int)
	for _, anomaly := range anomalies {
		bySeverity[anomaly.Severity]++
	}
	return anomalyReport{Data: anomalies, BySeverity: bySeverity}
}

// ScanAnomalies handles GET /api/anomalies?period&type: a read-only scan of
// the trailing window, nothing persisted. An unknown type is the caller's
// fault; a storage failure degrades to an empty report like the other read
// surfaces.
func (h *AnalyticsHandler) ScanAnomalies(w http.ResponseWriter, r *http.Request) {
	typeFilter := r.URL.Query().Get("type")
	if typeFilter != "" && !models.ValidAnomalyType(typeFilter) {
		ErrorResponse(w, http.StatusBadRequest, "invalid_type", "unknown anomaly type")
		return
	}

	anomalies, err := h.anomalies.Scan(r.Context(), queryInt(r, "period", 0), typeFilter)
	if err != nil {
		h.logger.Error("Anomaly scan failed, serving empty report", zap.Error(err))
		anomalies = nil
	}
	WriteJSON(w, http.StatusOK, newAnomalyReport(anomalies))
}

// AnomalyHistory handles GET /api/anomalies/history: previously persisted
// anomalies, newest first.
func (h *AnalyticsHandler) AnomalyHistory(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 168)
	if hours <= 0 {
		hours = 168
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	anomalies, err := h.anomalies.Recent(r.Context(), since, queryInt(r, "limit", 100))
	if err != nil {
		h.logger.Error("Anomaly list failed, serving empty list", zap.Error(err))
		anomalies = nil
	}
	if anomalies == nil {
		anomalies = []models.AnomalyRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": anomalies})
}

type scanRequest struct {
	Period int `json:"period"`
}

// Scan handles POST /api/anomalies/scan: run a scan now and persist the
// findings. The body is optional; an empty or absent one scans the default
// window.
func (h *AnalyticsHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.Body != nil {
		// A missing body is fine, garbage is not.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
	}

	anomalies, err := h.anomalies.ScanAndStore(r.Context(), req.Period)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newAnomalyReport(anomalies))
}

// Retention handles GET /api/retention?cohort_date=YYYY-MM-DD.
func (h *AnalyticsHandler) Retention(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("cohort_date")
	if raw == "" {
		ErrorResponse(w, http.StatusBadRequest, "missing_cohort_date", "cohort_date query parameter is required")
		return
	}
	cohortDate, err := time.Parse("2006-01-02", raw)
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_cohort_date", "cohort_date must be YYYY-MM-DD")
		return
	}

	report, err := h.retention.Compute(r.Context(), cohortDate, queryUUID(r, "university_id"))
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// Snapshot handles POST /api/retention/snapshots.
func (h *AnalyticsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("cohort_date")
	if raw == "" {
		// Default to yesterday's cohort, the newest one with a full day of
		// activity behind it.
		raw = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	}
	cohortDate, err := time.Parse("2006-01-02", raw)
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_cohort_date", "cohort_date must be YYYY-MM-DD")
		return
	}

	report, err := h.retention.ComputeAndStore(r.Context(), cohortDate, queryUUID(r, "university_id"))
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, report)
}
