// Package handlers provides HTTP handlers for the dose API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medcycle/go-dose-engine/internal/api/middleware"
	"github.com/medcycle/go-dose-engine/internal/domain/adherence"
	"github.com/medcycle/go-dose-engine/internal/domain/medication"
	fhir "github.com/medcycle/go-dose-engine/internal/fhir/r5"
	"github.com/medcycle/go-dose-engine/internal/observability/metrics"
)

// exportLogLimit caps how many dose logs a FHIR export carries.
const exportLogLimit = 100

// MedicationHandler handles medication endpoints
type MedicationHandler struct {
	repo    *medication.Repository
	reports *adherence.Store
	doses   *DoseLogHandler
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewMedicationHandler creates a new handler
func NewMedicationHandler(repo *medication.Repository, reports *adherence.Store, doses *DoseLogHandler, m *metrics.Metrics, logger *zap.Logger) *MedicationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MedicationHandler{
		repo:    repo,
		reports: reports,
		doses:   doses,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *MedicationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/deactivate", h.Deactivate)
	r.Post("/{id}/windows", h.OpenWindow)
	r.Get("/{id}/schedule", h.Schedule)
	r.Get("/{id}/expected", h.Expected)
	r.Get("/{id}/adherence", h.Adherence)
	r.Get("/{id}/export/fhir", h.ExportFHIR)
	r.Post("/{id}/logs", h.doses.Record)
	r.Get("/{id}/logs", h.doses.List)
	return r
}

// PatientRoutes returns the routes mounted under /patients.
func (h *MedicationHandler) PatientRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{patientID}/medications", h.ListByPatient)
	return r
}

// CreateRequest is the request body for creating a medication. Dates
// travel as YYYY-MM-DD; an optional pattern opens the first window.
type CreateRequest struct {
	PatientID             string               `json:"patient_id"`
	Name                  string               `json:"name"`
	Class                 medication.Class     `json:"class"`
	Dose                  float64              `json:"dose"`
	Unit                  medication.Unit      `json:"unit"`
	Frequency             medication.Frequency `json:"frequency"`
	StartDate             string               `json:"start_date"`
	EndDate               string               `json:"end_date,omitempty"`
	MinHoursBetweenDoses  float64              `json:"min_hours_between_doses,omitempty"`
	MaxDailyDose          float64              `json:"max_daily_dose,omitempty"`
	RequiresLabMonitoring bool                 `json:"requires_lab_monitoring,omitempty"`
	LabTargetMin          float64              `json:"lab_target_min,omitempty"`
	LabTargetMax          float64              `json:"lab_target_max,omitempty"`
	Pattern               *PatternRequest      `json:"pattern,omitempty"`
}

// PatternRequest describes a dose pattern on the wire. Unit and start
// default to the medication's own.
type PatternRequest struct {
	Sequence []float64       `json:"sequence"`
	Unit     medication.Unit `json:"unit,omitempty"`
	Start    string          `json:"start,omitempty"`
	End      string          `json:"end,omitempty"`
}

// Create handles POST /medications
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("medication-handler")
	ctx, span := tracer.Start(ctx, "create_medication")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		jsonError(w, "invalid patient_id", http.StatusBadRequest)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		jsonError(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	med := &medication.Medication{
		PatientID:             patientID,
		Name:                  req.Name,
		Class:                 req.Class,
		Dose:                  req.Dose,
		Unit:                  req.Unit,
		Frequency:             req.Frequency,
		StartDate:             start,
		Active:                true,
		MinHoursBetweenDoses:  req.MinHoursBetweenDoses,
		MaxDailyDose:          req.MaxDailyDose,
		RequiresLabMonitoring: req.RequiresLabMonitoring,
		LabTargetMin:          req.LabTargetMin,
		LabTargetMax:          req.LabTargetMax,
	}
	if req.EndDate != "" {
		end, err := parseDate(req.EndDate)
		if err != nil {
			jsonError(w, "end_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		med.EndDate = &end
	}
	if err := med.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Pattern != nil {
		window, err := windowFromRequest(req.Pattern, med)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := med.Windows.Add(*window, false); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := h.repo.CreateMedication(ctx, med); err != nil {
		h.logger.Error("create medication failed", zap.Error(err))
		jsonError(w, "failed to create medication", http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.String("medication_id", med.ID.String()))

	if h.metrics != nil {
		h.metrics.MedicationsCreated.Inc()
		h.metrics.ActiveMedications.Inc()
	}
	h.logger.Info("medication created",
		zap.String("id", med.ID.String()),
		zap.String("name", med.Name),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	writeJSON(w, http.StatusCreated, med)
}

// Get handles GET /medications/{id}
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	med := h.loadMedication(w, r)
	if med == nil {
		return
	}
	writeJSON(w, http.StatusOK, med)
}

// ListByPatient handles GET /patients/{patientID}/medications
func (h *MedicationHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		jsonError(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	meds, err := h.repo.ListMedicationsByPatient(r.Context(), patientID)
	if err != nil {
		h.logger.Error("list medications failed", zap.Error(err))
		jsonError(w, "failed to list medications", http.StatusInternalServerError)
		return
	}
	if meds == nil {
		meds = []*medication.Medication{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient_id":  patientID,
		"medications": meds,
		"count":       len(meds),
	})
}

// Deactivate handles POST /medications/{id}/deactivate
func (h *MedicationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid medication id", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeactivateMedication(r.Context(), id); err != nil {
		if errors.Is(err, medication.ErrNotFound) {
			jsonError(w, "medication not found or already inactive", http.StatusNotFound)
			return
		}
		h.logger.Error("deactivate failed", zap.Error(err))
		jsonError(w, "failed to deactivate medication", http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.ActiveMedications.Dec()
	}
	h.logger.Info("medication deactivated", zap.String("id", id.String()))
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "active": false})
}

// OpenWindowRequest is the request body for opening a pattern window.
// ClosePrevious defaults to true: a currently open window is closed
// the day before the new one starts.
type OpenWindowRequest struct {
	Sequence      []float64       `json:"sequence"`
	Unit          medication.Unit `json:"unit"`
	Start         string          `json:"start"`
	End           string          `json:"end,omitempty"`
	ClosePrevious *bool           `json:"close_previous,omitempty"`
}

// OpenWindow handles POST /medications/{id}/windows
func (h *MedicationHandler) OpenWindow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid medication id", http.StatusBadRequest)
		return
	}

	var req OpenWindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		jsonError(w, "start must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	window := medication.PatternWindow{
		Sequence: req.Sequence,
		Unit:     req.Unit,
		Start:    start,
	}
	if req.End != "" {
		end, err := parseDate(req.End)
		if err != nil {
			jsonError(w, "end must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		window.End = &end
	}
	if err := window.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	closePrevious := req.ClosePrevious == nil || *req.ClosePrevious

	added, err := h.repo.OpenPatternWindow(r.Context(), id, window, closePrevious)
	if err != nil {
		respondError(w, h.logger, err, "failed to open pattern window")
		return
	}
	if h.metrics != nil {
		h.metrics.PatternWindowsOpened.Inc()
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"window":  added,
		"display": added.Display(),
	})
}

// Schedule handles GET /medications/{id}/schedule
func (h *MedicationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	med := h.loadMedication(w, r)
	if med == nil {
		return
	}
	_, span := otel.Tracer("medication-handler").Start(r.Context(), "project_schedule")
	defer span.End()
	span.SetAttributes(attribute.String("medication_id", med.ID.String()))

	start := medication.DateOf(time.Now())
	if s := r.URL.Query().Get("start"); s != "" {
		parsed, err := parseDate(s)
		if err != nil {
			jsonError(w, "start must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start = parsed
	}
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil {
			jsonError(w, "days must be an integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	began := time.Now()
	proj, err := med.ProjectSchedule(medication.ProjectionRequest{
		Start:                start,
		Days:                 days,
		DetectPatternChanges: true,
	})
	if err != nil {
		respondError(w, h.logger, err, "failed to project schedule")
		return
	}
	if h.metrics != nil {
		h.metrics.ProjectionsComputed.Inc()
		h.metrics.ProjectionDuration.Observe(time.Since(began).Seconds())
	}
	writeJSON(w, http.StatusOK, proj)
}

// ExpectedResponse is the resolver's answer for one date. Scheduled
// false means a rest day or a date outside the course, not an error.
type ExpectedResponse struct {
	MedicationID uuid.UUID       `json:"medication_id"`
	Date         string          `json:"date"`
	Scheduled    bool            `json:"scheduled"`
	Amount       float64         `json:"amount,omitempty"`
	Unit         medication.Unit `json:"unit,omitempty"`
	CycleDay     int             `json:"cycle_day,omitempty"`
	CycleLength  int             `json:"cycle_length,omitempty"`
	Pattern      string          `json:"pattern,omitempty"`
}

// Expected handles GET /medications/{id}/expected
func (h *MedicationHandler) Expected(w http.ResponseWriter, r *http.Request) {
	med := h.loadMedication(w, r)
	if med == nil {
		return
	}
	date := medication.DateOf(time.Now())
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := parseDate(s)
		if err != nil {
			jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	resolved, err := med.ExpectedDose(date)
	if err != nil {
		respondError(w, h.logger, err, "failed to resolve expected dose")
		return
	}
	resp := ExpectedResponse{
		MedicationID: med.ID,
		Date:         date.Format("2006-01-02"),
		Scheduled:    resolved != nil,
	}
	if resolved != nil {
		resp.Amount = resolved.Amount
		resp.Unit = resolved.Unit
		resp.CycleDay = resolved.CycleDay
		resp.CycleLength = resolved.CycleLength
		if resolved.Window != nil {
			resp.Pattern = resolved.Window.Display()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Adherence handles GET /medications/{id}/adherence
func (h *MedicationHandler) Adherence(w http.ResponseWriter, r *http.Request) {
	med := h.loadMedication(w, r)
	if med == nil {
		return
	}
	to := medication.DateOf(time.Now())
	from := to.AddDate(0, 0, -29)
	if s := r.URL.Query().Get("from"); s != "" {
		parsed, err := parseDate(s)
		if err != nil {
			jsonError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if s := r.URL.Query().Get("to"); s != "" {
		parsed, err := parseDate(s)
		if err != nil {
			jsonError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = parsed
	}
	if from.After(to) {
		jsonError(w, "from must not be after to", http.StatusBadRequest)
		return
	}

	reports, err := h.reports.Range(r.Context(), med.ID, from, to)
	if err != nil {
		h.logger.Error("adherence lookup failed", zap.Error(err))
		jsonError(w, "failed to load adherence", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []adherence.DailyReport{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"medication_id": med.ID,
		"from":          from.Format("2006-01-02"),
		"to":            to.Format("2006-01-02"),
		"days":          reports,
		"count":         len(reports),
	})
}

// ExportFHIR handles GET /medications/{id}/export/fhir
func (h *MedicationHandler) ExportFHIR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	med := h.loadMedication(w, r)
	if med == nil {
		return
	}
	logs, err := h.repo.ListDoseLogs(ctx, med.ID, exportLogLimit)
	if err != nil {
		h.logger.Error("list dose logs failed", zap.Error(err))
		jsonError(w, "failed to export", http.StatusInternalServerError)
		return
	}
	bundle := fhir.ExportBundle(med, logs, h.recentAdherence(ctx, med.ID))

	w.Header().Set("Content-Type", "application/fhir+json")
	json.NewEncoder(w).Encode(bundle)
}

// recentAdherence averages the last 30 days of daily adherence for
// the FHIR statement, nil when no day had an expected dose.
func (h *MedicationHandler) recentAdherence(ctx context.Context, id uuid.UUID) *float64 {
	to := medication.DateOf(time.Now())
	reports, err := h.reports.Range(ctx, id, to.AddDate(0, 0, -29), to)
	if err != nil {
		h.logger.Warn("adherence lookup failed", zap.Error(err))
		return nil
	}
	var sum float64
	var n int
	for i := range reports {
		if reports[i].ExpectedTotal > 0 {
			sum += reports[i].AdherencePct
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// loadMedication resolves the {id} route parameter and fetches the
// medication, writing the error response itself on failure.
func (h *MedicationHandler) loadMedication(w http.ResponseWriter, r *http.Request) *medication.Medication {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid medication id", http.StatusBadRequest)
		return nil
	}
	med, err := h.repo.GetMedication(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err, "failed to load medication")
		return nil
	}
	return med
}

// respondError maps a domain error onto a response, hiding internals
// behind the fallback message when no client status applies.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	switch status := statusFor(err); status {
	case http.StatusNotFound:
		jsonError(w, "medication not found", status)
	case http.StatusBadRequest:
		jsonError(w, err.Error(), status)
	default:
		logger.Error(fallback, zap.Error(err))
		jsonError(w, fallback, status)
	}
}

// statusFor maps domain errors onto HTTP statuses: missing aggregates
// to 404, contract violations to 400, anything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, medication.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, medication.ErrWindowOverlap),
		errors.Is(err, medication.ErrOpenWindowExists),
		errors.Is(err, medication.ErrEmptyPattern),
		errors.Is(err, medication.ErrCycleDayOutOfRange),
		errors.Is(err, medication.ErrProjectionDays),
		errors.Is(err, medication.ErrProjectionStart):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// windowFromRequest builds the initial pattern window for a new
// medication, defaulting unit and start from the medication itself.
func windowFromRequest(p *PatternRequest, med *medication.Medication) (*medication.PatternWindow, error) {
	w := &medication.PatternWindow{
		Sequence: p.Sequence,
		Unit:     p.Unit,
		Start:    med.StartDate,
	}
	if w.Unit == "" {
		w.Unit = med.Unit
	}
	if p.Start != "" {
		start, err := parseDate(p.Start)
		if err != nil {
			return nil, errors.New("pattern start must be YYYY-MM-DD")
		}
		w.Start = start
	}
	if p.End != "" {
		end, err := parseDate(p.End)
		if err != nil {
			return nil, errors.New("pattern end must be YYYY-MM-DD")
		}
		w.End = &end
	}
	return w, nil
}

// parseDate accepts the wire date format used across the API.
func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
