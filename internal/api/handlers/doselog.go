// Package handlers provides HTTP handlers for the dose API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medcycle/go-dose-engine/internal/api/middleware"
	"github.com/medcycle/go-dose-engine/internal/domain/medication"
	"github.com/medcycle/go-dose-engine/internal/observability/metrics"
	"github.com/medcycle/go-dose-engine/pkg/idempotency"
)

// DoseLogHandler handles dose intake endpoints
type DoseLogHandler struct {
	repo      *medication.Repository
	validator *medication.SafetyValidator
	variance  medication.VarianceCalculator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDoseLogHandler creates a new handler
func NewDoseLogHandler(repo *medication.Repository, variance medication.VarianceCalculator, m *metrics.Metrics, logger *zap.Logger) *DoseLogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DoseLogHandler{
		repo:      repo,
		validator: medication.NewSafetyValidator(),
		variance:  variance,
		metrics:   m,
		logger:    logger,
	}
}

// RecordDoseRequest is the request body for recording an intake.
// Status defaults to taken; times travel as RFC 3339 and default to
// now. A skipped dose bypasses the safety gate because nothing was
// ingested.
type RecordDoseRequest struct {
	ActualDose    float64              `json:"actual_dose"`
	ActualTime    string               `json:"actual_time,omitempty"`
	ScheduledTime string               `json:"scheduled_time,omitempty"`
	Status        medication.LogStatus `json:"status,omitempty"`
	Notes         string               `json:"notes,omitempty"`
}

// RecordDoseResponse returns the stored log, how the safety gate
// judged the intake, and the variance against the expected dose.
type RecordDoseResponse struct {
	Log            *medication.DoseLog  `json:"log"`
	Outcome        medication.Outcome   `json:"outcome"`
	Advisories     []string             `json:"advisories,omitempty"`
	Variance       *medication.Variance `json:"variance,omitempty"`
	IdempotencyKey string               `json:"idempotency_key"`
}

// RejectionResponse is the body of a 422 for a refused intake.
type RejectionResponse struct {
	Outcome    medication.Outcome `json:"outcome"`
	Violations []string           `json:"violations"`
	Advisories []string           `json:"advisories,omitempty"`
}

// Record handles POST /medications/{id}/logs
func (h *DoseLogHandler) Record(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("doselog-handler")
	ctx, span := tracer.Start(ctx, "record_dose")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid medication id", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("medication_id", id.String()))

	var req RecordDoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		req.Status = medication.LogTaken
	}
	if !req.Status.Valid() {
		jsonError(w, "unknown status: "+string(req.Status), http.StatusBadRequest)
		return
	}

	actualTime := time.Now().UTC()
	if req.ActualTime != "" {
		t, err := time.Parse(time.RFC3339, req.ActualTime)
		if err != nil {
			jsonError(w, "actual_time must be RFC 3339", http.StatusBadRequest)
			return
		}
		actualTime = t.UTC()
	}
	scheduledTime := actualTime
	if req.ScheduledTime != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledTime)
		if err != nil {
			jsonError(w, "scheduled_time must be RFC 3339", http.StatusBadRequest)
			return
		}
		scheduledTime = t.UTC()
	}

	med, err := h.repo.GetMedication(ctx, id)
	if err != nil {
		respondError(w, h.logger, err, "failed to load medication")
		return
	}

	// Snapshot the expected dose for the scheduled date so later
	// pattern edits never rewrite this log's baseline.
	resolved, err := med.ExpectedDose(scheduledTime)
	if err != nil {
		respondError(w, h.logger, err, "failed to resolve expected dose")
		return
	}
	var expected *float64
	unit := med.Unit
	if resolved != nil {
		expected = &resolved.Amount
		unit = resolved.Unit
	}

	counted := req.Status == medication.LogTaken || req.Status == medication.LogPartiallyTaken
	var result *medication.SafetyResult
	if counted {
		history, err := h.repo.RecentLogs(ctx, id, actualTime.Add(-historyLookback(med)))
		if err != nil {
			h.logger.Error("dose history lookup failed", zap.Error(err))
			jsonError(w, "failed to load dose history", http.StatusInternalServerError)
			return
		}
		result = h.validator.Validate(med, medication.IntakeCheck{Amount: req.ActualDose, At: actualTime}, history)
		if h.metrics != nil {
			h.metrics.DoseValidations.WithLabelValues(string(result.Outcome)).Inc()
		}
		if !result.Allowed() {
			h.reject(ctx, w, med, req.ActualDose, unit, actualTime, result)
			return
		}
	}

	log := &medication.DoseLog{
		MedicationID:  med.ID,
		PatientID:     med.PatientID,
		ScheduledTime: scheduledTime,
		Status:        req.Status,
		ExpectedDose:  expected,
		Unit:          unit,
		Notes:         req.Notes,
	}
	outcome := medication.OutcomeAccepted
	if counted {
		log.ActualTime = &actualTime
		log.ActualDose = &req.ActualDose
		outcome = result.Outcome
		log.Advisory = result.Outcome == medication.OutcomeAdvisory
		log.AdvisoryReasons = result.Advisories
	}

	if err := h.repo.RecordDoseLog(ctx, log, outcome); err != nil {
		h.logger.Error("record dose log failed", zap.Error(err))
		jsonError(w, "failed to record dose", http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.DoseLogsRecorded.Inc()
	}

	resp := RecordDoseResponse{
		Log:     log,
		Outcome: outcome,
		IdempotencyKey: idempotency.GenerateKey(
			med.ID.String(), med.PatientID.String(),
			string(medication.EventDoseRecorded), scheduledTime),
	}
	if counted {
		v := h.variance.Calculate(expected, req.ActualDose)
		resp.Variance = &v
		resp.Advisories = result.Advisories
	}

	h.logger.Info("dose recorded",
		zap.String("medication_id", med.ID.String()),
		zap.String("log_id", log.ID.String()),
		zap.String("status", string(log.Status)),
		zap.String("outcome", string(outcome)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, resp)
}

// reject audits the refused intake and writes the 422. The audit
// event is best effort; the rejection stands even if it fails.
func (h *DoseLogHandler) reject(ctx context.Context, w http.ResponseWriter, med *medication.Medication, amount float64, unit medication.Unit, at time.Time, result *medication.SafetyResult) {
	rejection := &medication.DoseRejectedData{
		MedicationID: med.ID.String(),
		PatientID:    med.PatientID.String(),
		Amount:       amount,
		Unit:         unit,
		At:           at,
		Violations:   result.Violations,
		RejectedAt:   time.Now().UTC(),
	}
	if err := h.repo.RecordDoseRejection(ctx, rejection); err != nil {
		h.logger.Error("rejection audit failed", zap.Error(err))
	}
	if h.metrics != nil {
		h.metrics.DoseRejections.Inc()
	}
	h.logger.Warn("dose rejected",
		zap.String("medication_id", med.ID.String()),
		zap.Strings("violations", result.Violations),
	)
	writeJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
		Outcome:    result.Outcome,
		Violations: result.Violations,
		Advisories: result.Advisories,
	})
}

// List handles GET /medications/{id}/logs
func (h *DoseLogHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid medication id", http.StatusBadRequest)
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	logs, err := h.repo.ListDoseLogs(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("list dose logs failed", zap.Error(err))
		jsonError(w, "failed to list dose logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []medication.DoseLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"medication_id": id,
		"logs":          logs,
		"count":         len(logs),
	})
}

// historyLookback bounds how far back the safety validator reads dose
// history. It always covers at least two minimum intervals.
func historyLookback(med *medication.Medication) time.Duration {
	lookback := 48 * time.Hour
	if need := time.Duration(med.MinHoursBetweenDoses * 2 * float64(time.Hour)); need > lookback {
		lookback = need
	}
	return lookback
}
