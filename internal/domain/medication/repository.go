// Package medication provides the medication store.
package medication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medcycle/go-dose-engine/internal/infrastructure/postgres"
	"github.com/medcycle/go-dose-engine/internal/infrastructure/redpanda"
	"github.com/medcycle/go-dose-engine/pkg/idempotency"
)

// ErrNotFound marks a missing medication or window.
var ErrNotFound = errors.New("medication not found")

// Repository persists medications, pattern windows and dose logs.
// Every write that emits a domain event shares its transaction with
// the outbox entry, so events cannot outrun their state.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// CreateMedication validates and inserts the medication, any initial
// windows, and the MedicationCreated event in one transaction.
func (r *Repository) CreateMedication(ctx context.Context, med *Medication) error {
	if err := med.Validate(); err != nil {
		return err
	}
	if med.ID == uuid.Nil {
		med.ID = uuid.New()
	}
	now := time.Now().UTC()
	med.CreatedAt, med.UpdatedAt = now, now
	med.StartDate = DateOf(med.StartDate)
	if med.EndDate != nil {
		end := DateOf(*med.EndDate)
		med.EndDate = &end
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO medications
		(id, patient_id, name, class, dose, unit, frequency, start_date, end_date, active,
		 min_hours_between_doses, max_daily_dose, requires_lab_monitoring,
		 lab_target_min, lab_target_max, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = tx.Exec(ctx, query,
		med.ID, med.PatientID, med.Name, med.Class, med.Dose, med.Unit, med.Frequency,
		med.StartDate, med.EndDate, med.Active,
		med.MinHoursBetweenDoses, med.MaxDailyDose, med.RequiresLabMonitoring,
		med.LabTargetMin, med.LabTargetMax, med.CreatedAt, med.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert medication: %w", err)
	}

	for i := range med.Windows {
		w := &med.Windows[i]
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		w.MedicationID = med.ID
		w.CreatedAt = now
		if err := insertWindow(ctx, tx, w); err != nil {
			return err
		}
	}

	data := &MedicationCreatedData{
		MedicationID:          med.ID.String(),
		PatientID:             med.PatientID.String(),
		Name:                  med.Name,
		Class:                 med.Class,
		Dose:                  med.Dose,
		Unit:                  med.Unit,
		Frequency:             med.Frequency,
		StartDate:             med.StartDate,
		EndDate:               med.EndDate,
		MinHoursBetweenDoses:  med.MinHoursBetweenDoses,
		MaxDailyDose:          med.MaxDailyDose,
		RequiresLabMonitoring: med.RequiresLabMonitoring,
	}
	if err := writeEvent(ctx, tx, med.ID, med.PatientID, EventMedicationCreated, data); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.logger.Info("medication created",
		zap.String("medication_id", med.ID.String()),
		zap.String("name", med.Name))
	return nil
}

// GetMedication retrieves a medication with its pattern windows.
func (r *Repository) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	med, err := scanMedication(r.pool.QueryRow(ctx, medicationSelect+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	med.Windows, err = r.ListWindows(ctx, id)
	if err != nil {
		return nil, err
	}
	return med, nil
}

// ListMedicationsByPatient retrieves a patient's medications, windows
// included, active ones first.
func (r *Repository) ListMedicationsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Medication, error) {
	rows, err := r.pool.Query(ctx, medicationSelect+`
		WHERE patient_id = $1 ORDER BY active DESC, created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meds []*Medication
	for rows.Next() {
		med, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		meds = append(meds, med)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, med := range meds {
		med.Windows, err = r.ListWindows(ctx, med.ID)
		if err != nil {
			return nil, err
		}
	}
	return meds, nil
}

// DeactivateMedication soft-deletes a medication and records the
// MedicationDeactivated event.
func (r *Repository) DeactivateMedication(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var patientID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE medications SET active = FALSE, updated_at = NOW()
		WHERE id = $1 AND active = TRUE
		RETURNING patient_id`, id).Scan(&patientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("deactivate medication: %w", err)
	}

	data := &MedicationDeactivatedData{
		MedicationID:  id.String(),
		PatientID:     patientID.String(),
		DeactivatedAt: time.Now().UTC(),
	}
	if err := writeEvent(ctx, tx, id, patientID, EventMedicationDeactivated, data); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// OpenPatternWindow opens a new pattern window, closing the current
// open one the day before the new start when closePrevious is set.
// The close, the insert and both events commit atomically; the row
// lock on the medication serializes concurrent transitions.
func (r *Repository) OpenPatternWindow(ctx context.Context, medicationID uuid.UUID, w PatternWindow, closePrevious bool) (*PatternWindow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var patientID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT patient_id FROM medications WHERE id = $1 FOR UPDATE`, medicationID).Scan(&patientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, medicationID)
		}
		return nil, fmt.Errorf("lock medication: %w", err)
	}

	windows, err := listWindowsTx(ctx, tx, medicationID)
	if err != nil {
		return nil, err
	}

	prevOpen := windows.Open()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.MedicationID = medicationID
	w.CreatedAt = time.Now().UTC()
	if err := windows.Add(w, closePrevious); err != nil {
		return nil, err
	}
	added := &windows[len(windows)-1]

	var closedID string
	var closedEnd *time.Time
	if prevOpen != nil && prevOpen.End != nil {
		closedID = prevOpen.ID.String()
		closedEnd = prevOpen.End
		_, err = tx.Exec(ctx,
			`UPDATE pattern_windows SET end_date = $1 WHERE id = $2`, *prevOpen.End, prevOpen.ID)
		if err != nil {
			return nil, fmt.Errorf("close previous window: %w", err)
		}
		closeData := map[string]interface{}{
			"medication_id": medicationID.String(),
			"window_id":     closedID,
			"end":           prevOpen.End,
		}
		if err := writeEvent(ctx, tx, medicationID, patientID, EventPatternWindowClosed, closeData); err != nil {
			return nil, err
		}
	}

	if err := insertWindow(ctx, tx, added); err != nil {
		return nil, err
	}

	data := &PatternWindowOpenedData{
		MedicationID:   medicationID.String(),
		WindowID:       added.ID.String(),
		Sequence:       added.Sequence,
		Unit:           added.Unit,
		Start:          added.Start,
		End:            added.End,
		ClosedWindowID: closedID,
		ClosedEnd:      closedEnd,
		Display:        added.Display(),
	}
	if err := writeEvent(ctx, tx, medicationID, patientID, EventPatternWindowOpened, data); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	r.logger.Info("pattern window opened",
		zap.String("medication_id", medicationID.String()),
		zap.String("window_id", added.ID.String()),
		zap.String("pattern", added.Display()))
	out := *added
	return &out, nil
}

// ListWindows retrieves a medication's pattern windows ordered by start.
func (r *Repository) ListWindows(ctx context.Context, medicationID uuid.UUID) (WindowSet, error) {
	rows, err := r.pool.Query(ctx, windowSelect+` WHERE medication_id = $1 ORDER BY start_date ASC`, medicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWindows(rows)
}

// RecordDoseLog inserts an accepted dose log together with its
// DoseRecorded event.
func (r *Repository) RecordDoseLog(ctx context.Context, log *DoseLog, outcome Outcome) error {
	if !log.Status.Valid() {
		return fmt.Errorf("unknown log status: %q", log.Status)
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO dose_logs
		(id, medication_id, patient_id, scheduled_time, actual_time, status,
		 expected_dose, actual_dose, unit, advisory, advisory_reasons, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, query,
		log.ID, log.MedicationID, log.PatientID, log.ScheduledTime, log.ActualTime, log.Status,
		log.ExpectedDose, log.ActualDose, log.Unit, log.Advisory, log.AdvisoryReasons,
		log.Notes, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dose log: %w", err)
	}

	data := &DoseRecordedData{
		LogID:           log.ID.String(),
		MedicationID:    log.MedicationID.String(),
		PatientID:       log.PatientID.String(),
		Status:          log.Status,
		ScheduledTime:   log.ScheduledTime,
		ActualTime:      log.ActualTime,
		ExpectedDose:    log.ExpectedDose,
		ActualDose:      log.ActualDose,
		Unit:            log.Unit,
		Outcome:         outcome,
		Advisory:        log.Advisory,
		AdvisoryReasons: log.AdvisoryReasons,
		IdempotencyKey: idempotency.GenerateKey(
			log.MedicationID.String(), log.PatientID.String(),
			string(EventDoseRecorded), log.ScheduledTime),
		RecordedAt: log.CreatedAt,
	}
	if err := writeEvent(ctx, tx, log.MedicationID, log.PatientID, EventDoseRecorded, data); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordDoseRejection writes the audit event for a refused intake.
// Nothing else is persisted; the rejected dose never becomes a log.
func (r *Repository) RecordDoseRejection(ctx context.Context, data *DoseRejectedData) error {
	medicationID, err := uuid.Parse(data.MedicationID)
	if err != nil {
		return fmt.Errorf("parse medication id: %w", err)
	}
	patientID, err := uuid.Parse(data.PatientID)
	if err != nil {
		return fmt.Errorf("parse patient id: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := writeEvent(ctx, tx, medicationID, patientID, EventDoseRejected, data); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListDoseLogs retrieves a medication's logs, newest first.
func (r *Repository) ListDoseLogs(ctx context.Context, medicationID uuid.UUID, limit int) ([]DoseLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, doseLogSelect+`
		WHERE medication_id = $1 ORDER BY scheduled_time DESC LIMIT $2`, medicationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDoseLogs(rows)
}

// RecentLogs retrieves the logs the safety validator needs: every
// entry whose actual time falls on or after since.
func (r *Repository) RecentLogs(ctx context.Context, medicationID uuid.UUID, since time.Time) ([]DoseLog, error) {
	rows, err := r.pool.Query(ctx, doseLogSelect+`
		WHERE medication_id = $1 AND actual_time >= $2
		ORDER BY actual_time ASC`, medicationID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDoseLogs(rows)
}

const medicationSelect = `
	SELECT id, patient_id, name, class, dose, unit, frequency, start_date, end_date, active,
	       min_hours_between_doses, max_daily_dose, requires_lab_monitoring,
	       lab_target_min, lab_target_max, created_at, updated_at
	FROM medications`

const windowSelect = `
	SELECT id, medication_id, sequence, unit, start_date, end_date, created_at
	FROM pattern_windows`

const doseLogSelect = `
	SELECT id, medication_id, patient_id, scheduled_time, actual_time, status,
	       expected_dose, actual_dose, unit, advisory, advisory_reasons, notes, created_at
	FROM dose_logs`

func scanMedication(row pgx.Row) (*Medication, error) {
	med := &Medication{}
	err := row.Scan(
		&med.ID, &med.PatientID, &med.Name, &med.Class, &med.Dose, &med.Unit, &med.Frequency,
		&med.StartDate, &med.EndDate, &med.Active,
		&med.MinHoursBetweenDoses, &med.MaxDailyDose, &med.RequiresLabMonitoring,
		&med.LabTargetMin, &med.LabTargetMax, &med.CreatedAt, &med.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return med, nil
}

func scanWindows(rows pgx.Rows) (WindowSet, error) {
	var windows WindowSet
	for rows.Next() {
		w := PatternWindow{}
		err := rows.Scan(&w.ID, &w.MedicationID, &w.Sequence, &w.Unit, &w.Start, &w.End, &w.CreatedAt)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func scanDoseLogs(rows pgx.Rows) ([]DoseLog, error) {
	var logs []DoseLog
	for rows.Next() {
		l := DoseLog{}
		err := rows.Scan(
			&l.ID, &l.MedicationID, &l.PatientID, &l.ScheduledTime, &l.ActualTime, &l.Status,
			&l.ExpectedDose, &l.ActualDose, &l.Unit, &l.Advisory, &l.AdvisoryReasons,
			&l.Notes, &l.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func insertWindow(ctx context.Context, tx pgx.Tx, w *PatternWindow) error {
	query := `
		INSERT INTO pattern_windows (id, medication_id, sequence, unit, start_date, end_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query, w.ID, w.MedicationID, w.Sequence, w.Unit, w.Start, w.End, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pattern window: %w", err)
	}
	return nil
}

func listWindowsTx(ctx context.Context, tx pgx.Tx, medicationID uuid.UUID) (WindowSet, error) {
	rows, err := tx.Query(ctx, windowSelect+` WHERE medication_id = $1 ORDER BY start_date ASC`, medicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWindows(rows)
}

// writeEvent wraps the payload in a domain event envelope and stages
// it on the outbox inside the caller's transaction.
func writeEvent(ctx context.Context, tx pgx.Tx, aggregateID, patientID uuid.UUID, eventType EventType, data interface{}) error {
	event, err := NewEvent(aggregateID.String(), eventType, data)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	event.WithPatient(patientID.String())

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	entry := &postgres.OutboxEntry{
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     string(eventType),
		Payload:       payload,
		KafkaTopic:    topicFor(eventType),
		KafkaKey:      event.AggregateID,
	}
	return postgres.WriteEntry(ctx, tx, entry)
}

func topicFor(eventType EventType) string {
	switch eventType {
	case EventDoseRecorded, EventDoseRejected:
		return redpanda.TopicDoseLogs
	}
	return redpanda.TopicMedicationEvents
}
